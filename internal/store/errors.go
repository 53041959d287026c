package store

import "errors"

var (
	// ErrNotFound is returned when an order, user, product, token or
	// withdrawal request does not exist.
	ErrNotFound = errors.New("not found")

	// ErrOrderFinalized is returned when a status claim loses because the
	// order already reached a terminal status. Callers treat this as a
	// successful no-op and read back the current state.
	ErrOrderFinalized = errors.New("order already finalized")

	// ErrInsufficientBalance is returned when a wallet debit or withdrawal
	// would push a balance below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrTokenExpired is returned when redeeming a token past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenUsed is returned when redeeming an already consumed token.
	ErrTokenUsed = errors.New("token already used")

	// ErrWithdrawalNotPending is returned when approving or rejecting a
	// request that already left the pending status.
	ErrWithdrawalNotPending = errors.New("withdrawal request is not pending")

	// ErrWithdrawalNotApproved is returned when completing a request that
	// was never approved.
	ErrWithdrawalNotApproved = errors.New("withdrawal request is not approved")
)
