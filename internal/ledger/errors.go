package ledger

import "errors"

// Error definitions for zero-tolerance error handling
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotWhitelisted      = errors.New("caller/source pair is not whitelisted")
	ErrInvalidAmount       = errors.New("amount must be a non-negative integer")
)
