package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"marketplace/internal/models"
	"marketplace/internal/store"
	"marketplace/internal/util"
)

// WithdrawalService guards author cash-out requests against available
// balance. Creation reserves headroom against income minus in-flight
// requests; approval re-checks income at approval time and debits it
// atomically.
type WithdrawalService struct {
	ledger    Ledger
	publisher EventPublisher
	logger    *zap.Logger
}

// NewWithdrawalService creates a withdrawal service
func NewWithdrawalService(ledger Ledger, publisher EventPublisher) *WithdrawalService {
	return &WithdrawalService{
		ledger:    ledger,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// Create files a request, rejecting amounts above the author's available
// balance (income minus the sum of pending and approved requests).
func (ws *WithdrawalService) Create(ctx context.Context, authorID int64, amount decimal.Decimal) (*models.WithdrawalRequest, error) {
	ctx, span := util.StartSpan(ctx, "WithdrawalService.Create")
	defer span.End()

	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount %s: %w", amount, ErrInvalidAmount)
	}

	req, err := ws.ledger.CreateWithdrawal(ctx, authorID, amount)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			util.WithdrawalRequestsTotal.WithLabelValues("insufficient").Inc()
		}
		return nil, err
	}

	util.WithdrawalRequestsTotal.WithLabelValues("ok").Inc()
	ws.logger.Info("Withdrawal requested",
		zap.Int64("request_id", req.ID),
		zap.Int64("author_id", authorID),
		zap.String("amount", amount.String()))

	if ws.publisher != nil {
		event := &models.WithdrawalRequestedEvent{
			BaseEvent: newBaseEvent(models.EventTypeWithdrawalRequested),
			RequestID: req.ID,
			AuthorID:  authorID,
			Amount:    amount,
		}
		if err := ws.publisher.PublishWithdrawalRequested(ctx, event); err != nil {
			ws.logger.Error("Failed to publish WithdrawalRequested event", zap.Error(err))
		}
	}

	return req, nil
}

// Approve debits the author's income and moves the request to approved.
// The re-check happens inside the debit, so two concurrent approvals can
// never jointly overdraft.
func (ws *WithdrawalService) Approve(ctx context.Context, requestID int64) (*models.WithdrawalRequest, error) {
	ctx, span := util.StartSpan(ctx, "WithdrawalService.Approve")
	defer span.End()

	req, err := ws.ledger.ApproveWithdrawal(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			util.WithdrawalApprovalsTotal.WithLabelValues("insufficient").Inc()
		}
		return nil, err
	}

	util.WithdrawalApprovalsTotal.WithLabelValues("ok").Inc()
	ws.logger.Info("Withdrawal approved",
		zap.Int64("request_id", req.ID),
		zap.Int64("author_id", req.AuthorID),
		zap.String("amount", req.Amount.String()))

	if ws.publisher != nil {
		event := &models.WithdrawalApprovedEvent{
			BaseEvent: newBaseEvent(models.EventTypeWithdrawalApproved),
			RequestID: req.ID,
			AuthorID:  req.AuthorID,
			Amount:    req.Amount,
		}
		if err := ws.publisher.PublishWithdrawalApproved(ctx, event); err != nil {
			ws.logger.Error("Failed to publish WithdrawalApproved event", zap.Error(err))
		}
	}

	return req, nil
}

// Reject moves a pending request to rejected without touching the balance.
func (ws *WithdrawalService) Reject(ctx context.Context, requestID int64) (*models.WithdrawalRequest, error) {
	req, err := ws.ledger.RejectWithdrawal(ctx, requestID)
	if err != nil {
		return nil, err
	}
	ws.logger.Info("Withdrawal rejected", zap.Int64("request_id", req.ID))
	return req, nil
}

// Complete marks an approved request as paid out.
func (ws *WithdrawalService) Complete(ctx context.Context, requestID int64) (*models.WithdrawalRequest, error) {
	req, err := ws.ledger.CompleteWithdrawal(ctx, requestID)
	if err != nil {
		return nil, err
	}
	ws.logger.Info("Withdrawal completed", zap.Int64("request_id", req.ID))
	return req, nil
}

// List returns an author's withdrawal requests.
func (ws *WithdrawalService) List(ctx context.Context, authorID int64) ([]models.WithdrawalRequest, error) {
	return ws.ledger.WithdrawalsByAuthor(ctx, authorID)
}
