package store

import (
	"context"
	"database/sql"
	"fmt"

	"marketplace/internal/models"

	"github.com/shopspring/decimal"
)

// CreateWithdrawal files a cash-out request. Available balance is the
// author's income minus the sum of requests still pending or approved,
// evaluated with the author row locked so two concurrent requests cannot
// both pass against the same headroom.
func (s *Store) CreateWithdrawal(ctx context.Context, authorID int64, amount decimal.Decimal) (*models.WithdrawalRequest, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var income decimal.Decimal
	err = tx.GetContext(ctx, &income,
		"SELECT income FROM users WHERE id = $1 FOR UPDATE", authorID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("author %d: %w", authorID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var reserved decimal.Decimal
	err = tx.GetContext(ctx, &reserved, `
		SELECT COALESCE(SUM(amount), 0) FROM withdrawal_requests
		WHERE author_id = $1 AND status IN ($2, $3)`,
		authorID, models.WithdrawalStatusPending, models.WithdrawalStatusApproved)
	if err != nil {
		return nil, err
	}

	available := income.Sub(reserved)
	if amount.GreaterThan(available) {
		return nil, fmt.Errorf("required %s, available %s: %w",
			amount, available, ErrInsufficientBalance)
	}

	req := &models.WithdrawalRequest{
		AuthorID: authorID,
		Amount:   amount,
		Status:   models.WithdrawalStatusPending,
	}
	err = tx.GetContext(ctx, req, `
		INSERT INTO withdrawal_requests (author_id, amount, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`,
		req.AuthorID, req.Amount, req.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to create withdrawal request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return req, nil
}

// ApproveWithdrawal re-checks the author's income at approval time and
// debits it in the same transaction. The conditional UPDATE makes the
// second of two concurrent approvals fail once the balance no longer
// covers its amount.
func (s *Store) ApproveWithdrawal(ctx context.Context, requestID int64) (*models.WithdrawalRequest, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var req models.WithdrawalRequest
	err = tx.GetContext(ctx, &req,
		"SELECT * FROM withdrawal_requests WHERE id = $1 FOR UPDATE", requestID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("withdrawal request %d: %w", requestID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if req.Status != models.WithdrawalStatusPending {
		return nil, fmt.Errorf("withdrawal request %d is %s: %w",
			requestID, req.Status, ErrWithdrawalNotPending)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE users SET income = income - $1 WHERE id = $2 AND income >= $1",
		req.Amount, req.AuthorID)
	if err != nil {
		return nil, fmt.Errorf("failed to debit author: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("withdrawal of %s: %w", req.Amount, ErrInsufficientBalance)
	}

	err = tx.GetContext(ctx, &req, `
		UPDATE withdrawal_requests SET status = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING *`, models.WithdrawalStatusApproved, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to approve withdrawal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &req, nil
}

// RejectWithdrawal moves a pending request to rejected. No balance change.
func (s *Store) RejectWithdrawal(ctx context.Context, requestID int64) (*models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest
	err := s.db.GetContext(ctx, &req, `
		UPDATE withdrawal_requests SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING *`,
		models.WithdrawalStatusRejected, requestID, models.WithdrawalStatusPending)
	if err == sql.ErrNoRows {
		return nil, s.classifyWithdrawalConflict(ctx, requestID, ErrWithdrawalNotPending)
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// CompleteWithdrawal moves an approved request to completed once the
// payout has been executed out of band.
func (s *Store) CompleteWithdrawal(ctx context.Context, requestID int64) (*models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest
	err := s.db.GetContext(ctx, &req, `
		UPDATE withdrawal_requests SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING *`,
		models.WithdrawalStatusCompleted, requestID, models.WithdrawalStatusApproved)
	if err == sql.ErrNoRows {
		return nil, s.classifyWithdrawalConflict(ctx, requestID, ErrWithdrawalNotApproved)
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *Store) classifyWithdrawalConflict(ctx context.Context, requestID int64, statusErr error) error {
	var status string
	err := s.db.GetContext(ctx, &status,
		"SELECT status FROM withdrawal_requests WHERE id = $1", requestID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("withdrawal request %d: %w", requestID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("withdrawal request %d is %s: %w", requestID, status, statusErr)
}

// WithdrawalByID retrieves a withdrawal request by ID
func (s *Store) WithdrawalByID(ctx context.Context, requestID int64) (*models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest
	err := s.db.GetContext(ctx, &req,
		"SELECT * FROM withdrawal_requests WHERE id = $1", requestID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("withdrawal request %d: %w", requestID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// WithdrawalsByAuthor retrieves an author's requests, newest first
func (s *Store) WithdrawalsByAuthor(ctx context.Context, authorID int64) ([]models.WithdrawalRequest, error) {
	var reqs []models.WithdrawalRequest
	err := s.db.SelectContext(ctx, &reqs,
		"SELECT * FROM withdrawal_requests WHERE author_id = $1 ORDER BY created_at DESC", authorID)
	return reqs, err
}
