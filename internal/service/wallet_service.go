package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"marketplace/internal/models"
	"marketplace/internal/store"
	"marketplace/internal/util"
)

// WalletProcessor handles the direct-debit purchase path. Unlike the gateway
// flow there is no pending phase: trust is established synchronously, so the
// debit, the completed order, the token and the author credit commit as one
// transaction.
type WalletProcessor struct {
	ledger          Ledger
	issuer          *EntitlementIssuer
	calc            *CommissionCalculator
	publisher       EventPublisher
	uniqueThreshold decimal.Decimal
	logger          *zap.Logger
}

// NewWalletProcessor creates a wallet transaction processor
func NewWalletProcessor(
	ledger Ledger,
	issuer *EntitlementIssuer,
	calc *CommissionCalculator,
	publisher EventPublisher,
	uniqueThreshold decimal.Decimal,
) *WalletProcessor {
	return &WalletProcessor{
		ledger:          ledger,
		issuer:          issuer,
		calc:            calc,
		publisher:       publisher,
		uniqueThreshold: uniqueThreshold,
		logger:          util.GetLogger(),
	}
}

// WalletPurchaseResult is the completed order, its download token and the
// buyer's post-debit balance.
type WalletPurchaseResult struct {
	Order   *models.Order         `json:"order"`
	Token   *models.DownloadToken `json:"token"`
	Balance decimal.Decimal       `json:"balance"`
}

// PayWithWallet debits the buyer and settles the purchase in one atomic
// unit. The balance precondition is enforced inside the debit itself, so
// concurrent purchases can never jointly overdraft. Nothing commits on
// failure.
func (wp *WalletProcessor) PayWithWallet(ctx context.Context, buyerID, productID int64, amount decimal.Decimal) (*WalletPurchaseResult, error) {
	ctx, span := util.StartSpan(ctx, "WalletProcessor.PayWithWallet")
	defer span.End()

	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount %s: %w", amount, ErrInvalidAmount)
	}

	product, err := wp.ledger.ProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !amount.Equal(product.Price) {
		return nil, fmt.Errorf("amount %s, price %s: %w", amount, product.Price, ErrAmountMismatch)
	}

	tier, err := wp.ledger.TierForUser(ctx, product.AuthorID)
	if err != nil {
		return nil, err
	}
	commission := wp.calc.ForSale(amount, tier)

	token, err := wp.issuer.Mint(models.PaymentMethodWallet, product.ID,
		sql.NullInt64{Int64: buyerID, Valid: true})
	if err != nil {
		return nil, err
	}

	order, balance, err := wp.ledger.WalletPurchase(ctx, models.WalletPurchase{
		BuyerID:    buyerID,
		ProductID:  product.ID,
		AuthorID:   product.AuthorID,
		Amount:     amount,
		Commission: commission,
		MarkUnique: amount.Equal(wp.uniqueThreshold),
		Token:      token,
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			util.WalletPurchasesTotal.WithLabelValues("insufficient").Inc()
		} else {
			util.WalletPurchasesTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	util.WalletPurchasesTotal.WithLabelValues("ok").Inc()
	util.TokensIssuedTotal.Inc()

	wp.logger.Info("Wallet purchase settled",
		zap.Int64("order_id", order.ID),
		zap.Int64("buyer_id", buyerID),
		zap.Int64("product_id", product.ID),
		zap.String("amount", amount.String()),
		zap.String("balance", balance.String()))

	if wp.publisher != nil {
		event := &models.OrderCompletedEvent{
			BaseEvent:     newBaseEvent(models.EventTypeOrderCompleted),
			OrderID:       order.ID,
			Kind:          models.OrderKindProduct,
			PaymentMethod: models.PaymentMethodWallet,
			Amount:        amount,
			Commission:    commission,
			ProductID:     product.ID,
			BuyerID:       buyerID,
		}
		if err := wp.publisher.PublishOrderCompleted(ctx, event); err != nil {
			wp.logger.Error("Failed to publish OrderCompleted event", zap.Error(err))
		}
	}

	return &WalletPurchaseResult{Order: order, Token: token, Balance: balance}, nil
}
