package registry

import "errors"

// Error definitions for zero-tolerance error handling
var (
	ErrPoolNotFound           = errors.New("pool not found")
	ErrInvalidPool            = errors.New("invalid pool")
	ErrInvalidRange           = errors.New("invalid block range")
	ErrMismatchedArrayLengths = errors.New("mismatched array lengths")
	ErrInvalidSchedule        = errors.New("invalid emission schedule")
)
