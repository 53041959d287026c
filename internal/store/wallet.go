package store

import (
	"context"
	"database/sql"
	"fmt"

	"marketplace/internal/models"

	"github.com/shopspring/decimal"
)

// WalletPurchase performs a direct wallet purchase as one transaction:
// conditional debit of the buyer, completed order insert, token insert,
// product income increment and author commission credit. The debit condition
// lives in the UPDATE itself, so two concurrent purchases can never jointly
// overdraft a stale balance. Returns the created order and the buyer's new
// balance, commission included when the buyer is the product's author.
func (s *Store) WalletPurchase(ctx context.Context, wp models.WalletPurchase) (*models.Order, decimal.Decimal, error) {
	var balance decimal.Decimal

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, balance, err
	}
	defer tx.Rollback()

	err = tx.GetContext(ctx, &balance, `
		UPDATE users SET income = income - $1
		WHERE id = $2 AND income >= $1
		RETURNING income`, wp.Amount, wp.BuyerID)
	if err == sql.ErrNoRows {
		var available decimal.Decimal
		if lookupErr := tx.GetContext(ctx, &available,
			"SELECT income FROM users WHERE id = $1", wp.BuyerID); lookupErr != nil {
			if lookupErr == sql.ErrNoRows {
				return nil, balance, fmt.Errorf("buyer %d: %w", wp.BuyerID, ErrNotFound)
			}
			return nil, balance, lookupErr
		}
		return nil, balance, fmt.Errorf("required %s, available %s: %w",
			wp.Amount, available, ErrInsufficientBalance)
	}
	if err != nil {
		return nil, balance, fmt.Errorf("failed to debit wallet: %w", err)
	}

	order := &models.Order{
		BuyerID:       sql.NullInt64{Int64: wp.BuyerID, Valid: true},
		ProductID:     sql.NullInt64{Int64: wp.ProductID, Valid: true},
		Kind:          models.OrderKindProduct,
		Amount:        wp.Amount,
		PaymentMethod: models.PaymentMethodWallet,
		Status:        models.OrderStatusCompleted,
	}
	err = tx.GetContext(ctx, order, `
		INSERT INTO orders (buyer_id, product_id, kind, amount, payment_method, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		order.BuyerID, order.ProductID, order.Kind, order.Amount,
		order.PaymentMethod, order.Status)
	if err != nil {
		return nil, balance, fmt.Errorf("failed to create wallet order: %w", err)
	}

	wp.Token.OrderID = order.ID
	if err := insertToken(ctx, tx, wp.Token); err != nil {
		return nil, balance, err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE products SET income = income + $1, is_unique = is_unique OR $2 WHERE id = $3",
		wp.Amount, wp.MarkUnique, wp.ProductID)
	if err != nil {
		return nil, balance, fmt.Errorf("failed to record product income: %w", err)
	}

	if wp.BuyerID == wp.AuthorID {
		// Author buying their own product: the commission lands back on
		// the debited balance, so the returned balance must reflect it.
		err = tx.GetContext(ctx, &balance, `
			UPDATE users SET income = income + $1, point = point + $1
			WHERE id = $2
			RETURNING income`, wp.Commission, wp.AuthorID)
	} else {
		_, err = tx.ExecContext(ctx,
			"UPDATE users SET income = income + $1, point = point + $1 WHERE id = $2",
			wp.Commission, wp.AuthorID)
	}
	if err != nil {
		return nil, balance, fmt.Errorf("failed to credit author: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, balance, err
	}
	return order, balance, nil
}
