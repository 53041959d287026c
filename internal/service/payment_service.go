package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"marketplace/internal/gateway"
	"marketplace/internal/models"
	"marketplace/internal/store"
	"marketplace/internal/util"
)

// PaymentService owns the gateway purchase flow: invoice creation and the
// reconciliation of external payment signals into order state. Reconcile is
// idempotent under arbitrary repetition and concurrency; the storage claim
// decides the single winner.
type PaymentService struct {
	ledger          Ledger
	issuer          *EntitlementIssuer
	calc            *CommissionCalculator
	gateway         gateway.Client
	publisher       EventPublisher
	cache           CompletionCache
	uniqueThreshold decimal.Decimal
	logger          *zap.Logger
}

// NewPaymentService creates a payment service
func NewPaymentService(
	ledger Ledger,
	issuer *EntitlementIssuer,
	calc *CommissionCalculator,
	gatewayClient gateway.Client,
	publisher EventPublisher,
	cache CompletionCache,
	uniqueThreshold decimal.Decimal,
) *PaymentService {
	return &PaymentService{
		ledger:          ledger,
		issuer:          issuer,
		calc:            calc,
		gateway:         gatewayClient,
		publisher:       publisher,
		cache:           cache,
		uniqueThreshold: uniqueThreshold,
		logger:          util.GetLogger(),
	}
}

// CreateInvoiceRequest names the purchase target. At most one of ProductID
// and TierID may be set; neither means a wallet recharge, which requires a
// buyer.
type CreateInvoiceRequest struct {
	BuyerID   *int64          `json:"buyer_id,omitempty"`
	ProductID *int64          `json:"product_id,omitempty"`
	TierID    *int64          `json:"tier_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
}

// InvoiceResult is the pending order together with its gateway QR descriptor.
type InvoiceResult struct {
	Order   *models.Order    `json:"order"`
	Invoice *gateway.Invoice `json:"invoice"`
}

// ReconcileResult is the order snapshot plus the download token descriptor,
// nil while the order is not completed or carries no product.
type ReconcileResult struct {
	Order *models.Order         `json:"order"`
	Token *models.DownloadToken `json:"token,omitempty"`
}

// CreateInvoice validates the target, registers a gateway invoice and
// records the pending order referencing it.
func (ps *PaymentService) CreateInvoice(ctx context.Context, req *CreateInvoiceRequest) (*InvoiceResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreateInvoice")
	defer span.End()

	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("amount %s: %w", req.Amount, ErrInvalidAmount)
	}

	order := &models.Order{
		PaymentMethod: models.PaymentMethodGateway,
		Status:        models.OrderStatusPending,
		Amount:        req.Amount,
	}
	if req.BuyerID != nil {
		order.BuyerID = sql.NullInt64{Int64: *req.BuyerID, Valid: true}
	}

	var description string
	switch {
	case req.ProductID != nil && req.TierID != nil:
		return nil, fmt.Errorf("both product and tier given: %w", ErrInvalidTarget)

	case req.ProductID != nil:
		product, err := ps.ledger.ProductByID(ctx, *req.ProductID)
		if err != nil {
			return nil, err
		}
		if !req.Amount.Equal(product.Price) {
			return nil, fmt.Errorf("amount %s, price %s: %w", req.Amount, product.Price, ErrAmountMismatch)
		}
		order.Kind = models.OrderKindProduct
		order.ProductID = sql.NullInt64{Int64: product.ID, Valid: true}
		description = product.Title

	case req.TierID != nil:
		if req.BuyerID == nil {
			return nil, fmt.Errorf("membership purchase without buyer: %w", ErrInvalidTarget)
		}
		tier, err := ps.ledger.TierByID(ctx, *req.TierID)
		if err != nil {
			return nil, err
		}
		if !req.Amount.Equal(tier.Price) {
			return nil, fmt.Errorf("amount %s, price %s: %w", req.Amount, tier.Price, ErrAmountMismatch)
		}
		order.Kind = models.OrderKindMembership
		order.TierID = sql.NullInt64{Int64: tier.ID, Valid: true}
		description = "membership " + tier.Name

	default:
		if req.BuyerID == nil {
			return nil, fmt.Errorf("recharge without buyer: %w", ErrInvalidTarget)
		}
		order.Kind = models.OrderKindRecharge
		description = "wallet recharge " + uuid.NewString()[:8]
	}

	invoice, err := ps.gateway.CreateInvoice(ctx, req.Amount, description)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway invoice: %w", err)
	}
	order.InvoiceID = sql.NullString{String: invoice.InvoiceID, Valid: true}

	if err := ps.ledger.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.InvoicesCreatedTotal.Inc()
	ps.logger.Info("Invoice created",
		zap.Int64("order_id", order.ID),
		zap.String("invoice_id", invoice.InvoiceID),
		zap.String("kind", order.Kind))

	return &InvoiceResult{Order: order, Invoice: invoice}, nil
}

// Reconcile applies the one-time side effects of a paid invoice, however
// many times and from however many concurrent callers it is invoked.
// PENDING changes nothing; CANCELLED claims the terminal cancellation;
// PAID claims completion and settles exactly once.
func (ps *PaymentService) Reconcile(ctx context.Context, invoiceID, externalStatus string) (*ReconcileResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Reconcile")
	defer span.End()

	order, err := ps.ledger.OrderByInvoiceID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	switch externalStatus {
	case gateway.StatusPaid:
		return ps.settle(ctx, order)
	case gateway.StatusCancelled:
		return ps.cancel(ctx, order)
	default:
		return ps.snapshot(ctx, order)
	}
}

// CheckPayment backs the client poll: fetch the gateway status (skipping the
// round-trip when the completion cache already knows the invoice is paid) and
// run it through Reconcile.
func (ps *PaymentService) CheckPayment(ctx context.Context, invoiceID string) (*ReconcileResult, string, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CheckPayment")
	defer span.End()

	if ps.cache != nil {
		done, err := ps.cache.IsCompleted(ctx, invoiceID)
		if err != nil {
			ps.logger.Warn("Completion cache lookup failed", zap.Error(err))
		} else if done {
			res, err := ps.Reconcile(ctx, invoiceID, gateway.StatusPaid)
			return res, gateway.StatusPaid, err
		}
	}

	status, err := ps.gateway.CheckStatus(ctx, invoiceID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to check gateway status: %w", err)
	}

	res, err := ps.Reconcile(ctx, invoiceID, status)
	return res, status, err
}

// Orders lists a buyer's orders.
func (ps *PaymentService) Orders(ctx context.Context, buyerID int64) ([]models.Order, error) {
	return ps.ledger.OrdersByBuyer(ctx, buyerID)
}

func (ps *PaymentService) settle(ctx context.Context, order *models.Order) (*ReconcileResult, error) {
	if order.Final() {
		util.ReconcileClaimsTotal.WithLabelValues("noop").Inc()
		return ps.snapshot(ctx, order)
	}

	start := time.Now()
	st, event, err := ps.buildSettlement(ctx, order)
	if err != nil {
		return nil, err
	}

	err = ps.ledger.SettleOrder(ctx, st)
	if errors.Is(err, store.ErrOrderFinalized) {
		// Lost the claim race. A successful no-op: read back what the
		// winner committed.
		util.ReconcileClaimsTotal.WithLabelValues("lost").Inc()
		ps.logger.Info("Lost completion claim",
			zap.Int64("order_id", order.ID),
			zap.String("invoice_id", order.InvoiceID.String))

		order, err = ps.ledger.OrderByID(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		return ps.snapshot(ctx, order)
	}
	if err != nil {
		// Transaction rolled back, order still pending, safe to retry.
		return nil, fmt.Errorf("failed to settle order %d: %w", order.ID, err)
	}

	util.ReconcileClaimsTotal.WithLabelValues("won").Inc()
	util.SettlementLatency.Observe(time.Since(start).Seconds())
	if st.Token != nil {
		util.TokensIssuedTotal.Inc()
	}

	ps.logger.Info("Order settled",
		zap.Int64("order_id", order.ID),
		zap.String("invoice_id", order.InvoiceID.String),
		zap.String("kind", order.Kind),
		zap.String("amount", order.Amount.String()),
		zap.String("commission", st.Commission.String()))

	if ps.cache != nil && order.InvoiceID.Valid {
		if err := ps.cache.MarkCompleted(ctx, order.InvoiceID.String); err != nil {
			ps.logger.Warn("Failed to mark completion cache", zap.Error(err))
		}
	}
	if ps.publisher != nil {
		if err := ps.publisher.PublishOrderCompleted(ctx, event); err != nil {
			ps.logger.Error("Failed to publish OrderCompleted event", zap.Error(err))
		}
	}

	order, err = ps.ledger.OrderByID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &ReconcileResult{Order: order, Token: st.Token}, nil
}

func (ps *PaymentService) cancel(ctx context.Context, order *models.Order) (*ReconcileResult, error) {
	if order.Final() {
		return ps.snapshot(ctx, order)
	}

	err := ps.ledger.CancelOrder(ctx, order.ID)
	if errors.Is(err, store.ErrOrderFinalized) {
		order, err = ps.ledger.OrderByID(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		return ps.snapshot(ctx, order)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to cancel order %d: %w", order.ID, err)
	}

	util.OrdersCancelledTotal.Inc()
	ps.logger.Info("Order cancelled",
		zap.Int64("order_id", order.ID),
		zap.String("invoice_id", order.InvoiceID.String))

	if ps.publisher != nil {
		event := &models.OrderCancelledEvent{
			BaseEvent: newBaseEvent(models.EventTypeOrderCancelled),
			OrderID:   order.ID,
			InvoiceID: order.InvoiceID.String,
			Reason:    "gateway reported cancelled",
		}
		if err := ps.publisher.PublishOrderCancelled(ctx, event); err != nil {
			ps.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
		}
	}

	order, err = ps.ledger.OrderByID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &ReconcileResult{Order: order}, nil
}

// buildSettlement gathers the side effects of completing the order. The
// token and commission are computed up front; if the claim is lost they are
// simply discarded.
func (ps *PaymentService) buildSettlement(ctx context.Context, order *models.Order) (models.Settlement, *models.OrderCompletedEvent, error) {
	st := models.Settlement{
		OrderID:   order.ID,
		Kind:      order.Kind,
		BuyerID:   order.BuyerID,
		ProductID: order.ProductID,
		TierID:    order.TierID,
		Amount:    order.Amount,
	}
	event := &models.OrderCompletedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderCompleted),
		OrderID:       order.ID,
		InvoiceID:     order.InvoiceID.String,
		Kind:          order.Kind,
		PaymentMethod: order.PaymentMethod,
		Amount:        order.Amount,
		BuyerID:       order.BuyerID.Int64,
	}

	if order.Kind == models.OrderKindProduct {
		product, err := ps.ledger.ProductByID(ctx, order.ProductID.Int64)
		if err != nil {
			return st, nil, err
		}
		tier, err := ps.ledger.TierForUser(ctx, product.AuthorID)
		if err != nil {
			return st, nil, err
		}

		st.AuthorID = sql.NullInt64{Int64: product.AuthorID, Valid: true}
		st.Commission = ps.calc.ForSale(order.Amount, tier)
		st.MarkUnique = order.Amount.Equal(ps.uniqueThreshold)

		token, err := ps.issuer.Mint(order.PaymentMethod, product.ID, order.BuyerID)
		if err != nil {
			return st, nil, err
		}
		token.OrderID = order.ID
		st.Token = token

		event.ProductID = product.ID
		event.Commission = st.Commission
	}

	return st, event, nil
}

// snapshot returns the current order state plus the active token for
// completed product orders, via the issuer's idempotent lookup.
func (ps *PaymentService) snapshot(ctx context.Context, order *models.Order) (*ReconcileResult, error) {
	res := &ReconcileResult{Order: order}
	if order.Status == models.OrderStatusCompleted && order.ProductID.Valid {
		token, err := ps.issuer.Issue(ctx, order)
		if err != nil {
			return nil, err
		}
		res.Token = token
	}
	return res, nil
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
