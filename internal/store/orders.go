package store

import (
	"context"
	"database/sql"
	"fmt"

	"marketplace/internal/models"
)

// CreateOrder creates a new pending order
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (buyer_id, product_id, tier_id, kind, amount, payment_method, status, invoice_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, order, query,
		order.BuyerID, order.ProductID, order.TierID, order.Kind,
		order.Amount, order.PaymentMethod, order.Status, order.InvoiceID)
}

// OrderByID retrieves an order by ID
func (s *Store) OrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// OrderByInvoiceID retrieves a gateway order by its external invoice id
func (s *Store) OrderByInvoiceID(ctx context.Context, invoiceID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE invoice_id = $1", invoiceID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// OrdersByBuyer retrieves orders for a buyer, newest first
func (s *Store) OrdersByBuyer(ctx context.Context, buyerID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC", buyerID)
	return orders, err
}

// SettleOrder claims the pending -> completed transition and applies the
// settlement side effects in the same transaction. Exactly one concurrent
// caller wins the claim; the rest get ErrOrderFinalized and no side effect.
// Any failure rolls the whole unit back, leaving the order pending.
func (s *Store) SettleOrder(ctx context.Context, st models.Settlement) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		models.OrderStatusCompleted, st.OrderID, models.OrderStatusPending)
	if err != nil {
		return fmt.Errorf("failed to claim order %d: %w", st.OrderID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("order %d: %w", st.OrderID, ErrOrderFinalized)
	}

	switch st.Kind {
	case models.OrderKindProduct:
		_, err = tx.ExecContext(ctx,
			"UPDATE users SET income = income + $1, point = point + $1 WHERE id = $2",
			st.Commission, st.AuthorID)
		if err != nil {
			return fmt.Errorf("failed to credit author: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE products SET income = income + $1, is_unique = is_unique OR $2 WHERE id = $3",
			st.Amount, st.MarkUnique, st.ProductID)
		if err != nil {
			return fmt.Errorf("failed to record product income: %w", err)
		}

		if err := insertToken(ctx, tx, st.Token); err != nil {
			return err
		}

	case models.OrderKindRecharge:
		_, err = tx.ExecContext(ctx,
			"UPDATE users SET income = income + $1 WHERE id = $2",
			st.Amount, st.BuyerID)
		if err != nil {
			return fmt.Errorf("failed to credit wallet recharge: %w", err)
		}

	case models.OrderKindMembership:
		_, err = tx.ExecContext(ctx,
			"UPDATE users SET membership_tier_id = $1 WHERE id = $2",
			st.TierID, st.BuyerID)
		if err != nil {
			return fmt.Errorf("failed to assign membership tier: %w", err)
		}

	default:
		return fmt.Errorf("unknown order kind %q", st.Kind)
	}

	return tx.Commit()
}

// CancelOrder claims the pending -> cancelled transition. No side effects.
// Returns ErrOrderFinalized when the order already reached a terminal status.
func (s *Store) CancelOrder(ctx context.Context, orderID int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		models.OrderStatusCancelled, orderID, models.OrderStatusPending)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("order %d: %w", orderID, ErrOrderFinalized)
	}
	return nil
}
