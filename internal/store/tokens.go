package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marketplace/internal/models"

	"github.com/jmoiron/sqlx"
)

func insertToken(ctx context.Context, q sqlx.ExtContext, token *models.DownloadToken) error {
	query := `
		INSERT INTO download_tokens (order_id, product_id, buyer_id, token, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	row := q.QueryRowxContext(ctx, query,
		token.OrderID, token.ProductID, token.BuyerID, token.Token, token.ExpiresAt)
	if err := row.Scan(&token.ID, &token.CreatedAt); err != nil {
		return fmt.Errorf("failed to create download token: %w", err)
	}
	return nil
}

// EnsureActiveToken returns the order's active (unused, unexpired) token,
// persisting the given fresh one when none exists. Lookup and insert run
// with the order row locked, so concurrent re-issues for one order
// serialize and at most one active token can exist at a time.
func (s *Store) EnsureActiveToken(ctx context.Context, orderID int64, fresh *models.DownloadToken) (*models.DownloadToken, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var id int64
	err = tx.GetContext(ctx, &id, "SELECT id FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var existing models.DownloadToken
	err = tx.GetContext(ctx, &existing, `
		SELECT * FROM download_tokens
		WHERE order_id = $1 AND is_used = FALSE AND expires_at > NOW()
		ORDER BY created_at DESC LIMIT 1`, orderID)
	if err == nil {
		return &existing, tx.Commit()
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	fresh.OrderID = orderID
	if err := insertToken(ctx, tx, fresh); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return fresh, nil
}

// TokenByValue retrieves a token by its opaque value
func (s *Store) TokenByValue(ctx context.Context, value string) (*models.DownloadToken, error) {
	var token models.DownloadToken
	err := s.db.GetContext(ctx, &token, "SELECT * FROM download_tokens WHERE token = $1", value)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("token: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// RedeemToken claims the single-use flip of a token. The conditional update
// guarantees two simultaneous redemptions cannot both succeed; the loser gets
// classified as used, expired or unknown from a follow-up read.
func (s *Store) RedeemToken(ctx context.Context, value string, now time.Time) (*models.DownloadToken, error) {
	var token models.DownloadToken
	err := s.db.GetContext(ctx, &token, `
		UPDATE download_tokens
		SET is_used = TRUE, used_at = $2
		WHERE token = $1 AND is_used = FALSE AND expires_at > $2
		RETURNING *`, value, now)
	if err == nil {
		return &token, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	existing, lookupErr := s.TokenByValue(ctx, value)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if existing.IsUsed {
		return nil, fmt.Errorf("token for order %d: %w", existing.OrderID, ErrTokenUsed)
	}
	return nil, fmt.Errorf("token for order %d: %w", existing.OrderID, ErrTokenExpired)
}
