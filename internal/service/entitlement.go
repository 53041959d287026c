package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"marketplace/internal/models"
	"marketplace/internal/store"
	"marketplace/internal/util"
)

// EntitlementIssuer creates and redeems single-use download tokens.
// Gateway purchases get a short expiry window (a human is mid-checkout),
// wallet purchases a long one (the buyer is authenticated and may download
// later).
type EntitlementIssuer struct {
	ledger     Ledger
	publisher  EventPublisher
	gatewayTTL time.Duration
	walletTTL  time.Duration
	logger     *zap.Logger
}

// NewEntitlementIssuer creates an entitlement issuer
func NewEntitlementIssuer(ledger Ledger, publisher EventPublisher, gatewayTTL, walletTTL time.Duration) *EntitlementIssuer {
	return &EntitlementIssuer{
		ledger:     ledger,
		publisher:  publisher,
		gatewayTTL: gatewayTTL,
		walletTTL:  walletTTL,
		logger:     util.GetLogger(),
	}
}

// Mint builds an unpersisted token bound to a product and buyer. OrderID is
// filled in by the transaction that creates the order, or by the caller.
func (e *EntitlementIssuer) Mint(paymentMethod string, productID int64, buyerID sql.NullInt64) (*models.DownloadToken, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	ttl := e.gatewayTTL
	if paymentMethod == models.PaymentMethodWallet {
		ttl = e.walletTTL
	}

	return &models.DownloadToken{
		ProductID: productID,
		BuyerID:   buyerID,
		Token:     hex.EncodeToString(buf),
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

// Issue is the idempotent lookup-or-create for a completed product order:
// an unused, unexpired token is returned unchanged; otherwise a fresh one
// is created. The storage claim serializes concurrent callers, so the
// order never holds more than one active token and calling Issue twice
// yields the same one.
func (e *EntitlementIssuer) Issue(ctx context.Context, order *models.Order) (*models.DownloadToken, error) {
	if order.Status != models.OrderStatusCompleted {
		return nil, fmt.Errorf("order %d is %s: %w", order.ID, order.Status, store.ErrOrderFinalized)
	}
	if !order.ProductID.Valid {
		return nil, fmt.Errorf("order %d has no product: %w", order.ID, store.ErrNotFound)
	}

	fresh, err := e.Mint(order.PaymentMethod, order.ProductID.Int64, order.BuyerID)
	if err != nil {
		return nil, err
	}
	fresh.OrderID = order.ID

	// The store either keeps our fresh token or hands back the existing
	// active one; losers simply discard what they minted.
	token, err := e.ledger.EnsureActiveToken(ctx, order.ID, fresh)
	if err != nil {
		return nil, err
	}

	if token.Token == fresh.Token {
		e.logger.Info("Download token issued",
			zap.Int64("order_id", order.ID),
			zap.Int64("product_id", token.ProductID),
			zap.Time("expires_at", token.ExpiresAt))
		util.TokensIssuedTotal.Inc()
	}
	return token, nil
}

// Redeem consumes a token and returns it along with the product it unlocks.
// The flip of is_used is a claim in storage, so two simultaneous redemptions
// cannot both succeed.
func (e *EntitlementIssuer) Redeem(ctx context.Context, value string) (*models.DownloadToken, *models.Product, error) {
	ctx, span := util.StartSpan(ctx, "EntitlementIssuer.Redeem")
	defer span.End()

	token, err := e.ledger.RedeemToken(ctx, value, time.Now())
	if err != nil {
		util.TokensRedeemedTotal.WithLabelValues(redeemOutcome(err)).Inc()
		return nil, nil, err
	}

	product, err := e.ledger.ProductByID(ctx, token.ProductID)
	if err != nil {
		return nil, nil, err
	}

	e.logger.Info("Download token redeemed",
		zap.Int64("order_id", token.OrderID),
		zap.Int64("product_id", token.ProductID))

	util.TokensRedeemedTotal.WithLabelValues("ok").Inc()

	if e.publisher != nil {
		event := &models.TokenRedeemedEvent{
			BaseEvent: newBaseEvent(models.EventTypeTokenRedeemed),
			OrderID:   token.OrderID,
			ProductID: token.ProductID,
			BuyerID:   token.BuyerID.Int64,
		}
		if err := e.publisher.PublishTokenRedeemed(ctx, event); err != nil {
			e.logger.Error("Failed to publish TokenRedeemed event", zap.Error(err))
		}
	}

	return token, product, nil
}

func redeemOutcome(err error) string {
	switch {
	case errors.Is(err, store.ErrTokenUsed):
		return "used"
	case errors.Is(err, store.ErrTokenExpired):
		return "expired"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
