package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCompleted      = "ORDER_COMPLETED"
	EventTypeOrderCancelled      = "ORDER_CANCELLED"
	EventTypeTokenRedeemed       = "TOKEN_REDEEMED"
	EventTypeWithdrawalApproved  = "WITHDRAWAL_APPROVED"
	EventTypeWithdrawalRequested = "WITHDRAWAL_REQUESTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCompletedEvent published after an order settles
type OrderCompletedEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	InvoiceID     string          `json:"invoice_id,omitempty"`
	Kind          string          `json:"kind"`
	PaymentMethod string          `json:"payment_method"`
	Amount        decimal.Decimal `json:"amount"`
	Commission    decimal.Decimal `json:"commission"`
	ProductID     int64           `json:"product_id,omitempty"`
	BuyerID       int64           `json:"buyer_id,omitempty"`
}

// OrderCancelledEvent published when a pending order is cancelled
type OrderCancelledEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	InvoiceID string `json:"invoice_id,omitempty"`
	Reason    string `json:"reason"`
}

// TokenRedeemedEvent published when a download token is consumed
type TokenRedeemedEvent struct {
	BaseEvent
	OrderID   int64 `json:"order_id"`
	ProductID int64 `json:"product_id"`
	BuyerID   int64 `json:"buyer_id,omitempty"`
}

// WithdrawalRequestedEvent published when an author files a cash-out request
type WithdrawalRequestedEvent struct {
	BaseEvent
	RequestID int64           `json:"request_id"`
	AuthorID  int64           `json:"author_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// WithdrawalApprovedEvent published after an approval debits the author
type WithdrawalApprovedEvent struct {
	BaseEvent
	RequestID int64           `json:"request_id"`
	AuthorID  int64           `json:"author_id"`
	Amount    decimal.Decimal `json:"amount"`
}
