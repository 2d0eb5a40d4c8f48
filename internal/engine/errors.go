package engine

import (
	"errors"

	"github.com/farmworks/pointsfarm/internal/fixedpoint"
	"github.com/farmworks/pointsfarm/internal/ledger"
	"github.com/farmworks/pointsfarm/internal/registry"
)

// Error definitions for zero-tolerance error handling
var (
	ErrFarmingEnded = errors.New("farming has ended: deposits and boosts are closed")

	// Aliases so API callers can match the whole taxonomy against one package.
	ErrPoolNotFound           = registry.ErrPoolNotFound
	ErrInvalidPool            = registry.ErrInvalidPool
	ErrInvalidRange           = registry.ErrInvalidRange
	ErrMismatchedArrayLengths = registry.ErrMismatchedArrayLengths
	ErrInsufficientBalance    = ledger.ErrInsufficientBalance
	ErrNotWhitelisted         = ledger.ErrNotWhitelisted
	ErrArithmeticOverflow     = fixedpoint.ErrArithmeticOverflow
)
