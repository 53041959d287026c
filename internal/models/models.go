package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// User represents a marketplace account. Authors and buyers share the
// same table; Income is the spendable wallet balance, Point accumulates
// lifetime commission and is never debited.
type User struct {
	ID               int64           `db:"id" json:"id"`
	Name             string          `db:"name" json:"name"`
	Income           decimal.Decimal `db:"income" json:"income"`
	Point            decimal.Decimal `db:"point" json:"point"`
	MembershipTierID sql.NullInt64   `db:"membership_tier_id" json:"membership_tier_id,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// MembershipTier determines the commission percentage for an author's sales.
type MembershipTier struct {
	ID      int64           `db:"id" json:"id"`
	Name    string          `db:"name" json:"name"`
	Percent decimal.Decimal `db:"percent" json:"percent"`
	Price   decimal.Decimal `db:"price" json:"price"`
}

// Product is a paid digital file uploaded by an author.
type Product struct {
	ID       int64           `db:"id" json:"id"`
	AuthorID int64           `db:"author_id" json:"author_id"`
	Title    string          `db:"title" json:"title"`
	Price    decimal.Decimal `db:"price" json:"price"`
	FileURL  string          `db:"file_url" json:"-"`
	Income   decimal.Decimal `db:"income" json:"income"`
	IsUnique bool            `db:"is_unique" json:"is_unique"`
}

// Order statuses. Completed and cancelled are terminal.
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// Payment methods.
const (
	PaymentMethodGateway = "gateway"
	PaymentMethodWallet  = "wallet"
)

// Order kinds. A product order buys a file, a recharge order tops up the
// buyer's wallet, a membership order buys a commission tier.
const (
	OrderKindProduct    = "product"
	OrderKindRecharge   = "recharge"
	OrderKindMembership = "membership"
)

// Order represents one purchase attempt.
type Order struct {
	ID            int64           `db:"id" json:"id"`
	BuyerID       sql.NullInt64   `db:"buyer_id" json:"buyer_id,omitempty"`
	ProductID     sql.NullInt64   `db:"product_id" json:"product_id,omitempty"`
	TierID        sql.NullInt64   `db:"tier_id" json:"tier_id,omitempty"`
	Kind          string          `db:"kind" json:"kind"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	PaymentMethod string          `db:"payment_method" json:"payment_method"`
	Status        string          `db:"status" json:"status"`
	InvoiceID     sql.NullString  `db:"invoice_id" json:"invoice_id,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Final reports whether the order reached a terminal status.
func (o *Order) Final() bool {
	return o.Status == OrderStatusCompleted || o.Status == OrderStatusCancelled
}

// DownloadToken is a single-use entitlement to fetch a purchased file.
type DownloadToken struct {
	ID        int64         `db:"id" json:"-"`
	OrderID   int64         `db:"order_id" json:"order_id"`
	ProductID int64         `db:"product_id" json:"product_id"`
	BuyerID   sql.NullInt64 `db:"buyer_id" json:"buyer_id,omitempty"`
	Token     string        `db:"token" json:"token"`
	ExpiresAt time.Time     `db:"expires_at" json:"expires_at"`
	IsUsed    bool          `db:"is_used" json:"is_used"`
	UsedAt    sql.NullTime  `db:"used_at" json:"used_at,omitempty"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// Valid reports whether the token can still be redeemed at the given time.
func (t *DownloadToken) Valid(now time.Time) bool {
	return !t.IsUsed && now.Before(t.ExpiresAt)
}

// Withdrawal request statuses.
const (
	WithdrawalStatusPending   = "pending"
	WithdrawalStatusApproved  = "approved"
	WithdrawalStatusRejected  = "rejected"
	WithdrawalStatusCompleted = "completed"
)

// WithdrawalRequest is an author cash-out request against their income.
type WithdrawalRequest struct {
	ID        int64           `db:"id" json:"id"`
	AuthorID  int64           `db:"author_id" json:"author_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Status    string          `db:"status" json:"status"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Settlement carries the precomputed side effects of completing an order.
// The store applies it in one transaction together with the status claim.
type Settlement struct {
	OrderID    int64
	Kind       string
	BuyerID    sql.NullInt64
	ProductID  sql.NullInt64
	AuthorID   sql.NullInt64
	TierID     sql.NullInt64
	Amount     decimal.Decimal
	Commission decimal.Decimal
	MarkUnique bool
	Token      *DownloadToken
}

// WalletPurchase carries the parameters of a direct wallet debit purchase.
type WalletPurchase struct {
	BuyerID    int64
	ProductID  int64
	AuthorID   int64
	Amount     decimal.Decimal
	Commission decimal.Decimal
	MarkUnique bool
	Token      *DownloadToken
}
