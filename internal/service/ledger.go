package service

import (
	"context"
	"time"

	"marketplace/internal/models"

	"github.com/shopspring/decimal"
)

// Ledger is the transaction-capable storage handle injected into every
// service. *store.Store is the production implementation; tests use an
// in-memory one.
type Ledger interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	OrderByID(ctx context.Context, id int64) (*models.Order, error)
	OrderByInvoiceID(ctx context.Context, invoiceID string) (*models.Order, error)
	OrdersByBuyer(ctx context.Context, buyerID int64) ([]models.Order, error)
	SettleOrder(ctx context.Context, st models.Settlement) error
	CancelOrder(ctx context.Context, orderID int64) error

	UserByID(ctx context.Context, id int64) (*models.User, error)
	ProductByID(ctx context.Context, id int64) (*models.Product, error)
	TierByID(ctx context.Context, id int64) (*models.MembershipTier, error)
	TierForUser(ctx context.Context, userID int64) (*models.MembershipTier, error)

	EnsureActiveToken(ctx context.Context, orderID int64, fresh *models.DownloadToken) (*models.DownloadToken, error)
	RedeemToken(ctx context.Context, value string, now time.Time) (*models.DownloadToken, error)

	WalletPurchase(ctx context.Context, wp models.WalletPurchase) (*models.Order, decimal.Decimal, error)

	CreateWithdrawal(ctx context.Context, authorID int64, amount decimal.Decimal) (*models.WithdrawalRequest, error)
	ApproveWithdrawal(ctx context.Context, requestID int64) (*models.WithdrawalRequest, error)
	RejectWithdrawal(ctx context.Context, requestID int64) (*models.WithdrawalRequest, error)
	CompleteWithdrawal(ctx context.Context, requestID int64) (*models.WithdrawalRequest, error)
	WithdrawalByID(ctx context.Context, requestID int64) (*models.WithdrawalRequest, error)
	WithdrawalsByAuthor(ctx context.Context, authorID int64) ([]models.WithdrawalRequest, error)
}

// EventPublisher emits domain events after a unit of work commits.
// A nil publisher disables publishing.
type EventPublisher interface {
	PublishOrderCompleted(ctx context.Context, event *models.OrderCompletedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishTokenRedeemed(ctx context.Context, event *models.TokenRedeemedEvent) error
	PublishWithdrawalRequested(ctx context.Context, event *models.WithdrawalRequestedEvent) error
	PublishWithdrawalApproved(ctx context.Context, event *models.WithdrawalApprovedEvent) error
}

// CompletionCache is a non-authoritative marker of completed invoices,
// letting the status poll skip a gateway round-trip. Correctness never
// depends on it: the database claim decides every transition.
type CompletionCache interface {
	MarkCompleted(ctx context.Context, invoiceID string) error
	IsCompleted(ctx context.Context, invoiceID string) (bool, error)
}
