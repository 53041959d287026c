package service

import "errors"

var (
	// ErrInvalidAmount rejects non-positive or malformed amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrAmountMismatch rejects a purchase whose amount does not match the
	// current product or tier price.
	ErrAmountMismatch = errors.New("amount does not match price")

	// ErrInvalidTarget rejects an invoice request naming neither a product,
	// a tier nor a recharge.
	ErrInvalidTarget = errors.New("invalid purchase target")
)
