/*
This file contains common utility functions for converting between different types,
particularly for SDK math operations and precision handling.
*/

package utils

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
	ErrAmountMalformed  = errors.New("amount is malformed")
)

// ParseAmount parses a base-10 string into a non-negative SDK Int. Used at
// the API boundary where amounts arrive as strings to avoid float rounding.
func ParseAmount(s string) (sdkmath.Int, error) {
	if s == "" {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: empty string", ErrAmountMalformed)
	}
	value, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %q is not a base-10 integer", ErrAmountMalformed, s)
	}
	if value.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	return value, nil
}

// SDKIntToFloat64 converts an SDK Int to float64 with proper precision handling.
// Display only; never feed the result back into accounting arithmetic.
func SDKIntToFloat64(amount sdkmath.Int, precision int) (float64, error) {
	if precision < 0 || precision > 18 {
		return 0, fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	if amount.IsNil() {
		return 0, ErrAmountNil
	}
	if amount.IsNegative() {
		return 0, ErrAmountNegative
	}

	decAmount := sdkmath.LegacyNewDecFromInt(amount)
	factor := sdkmath.LegacyNewDec(1)
	for i := 0; i < precision; i++ {
		factor = factor.Mul(sdkmath.LegacyNewDec(10))
	}

	result := decAmount.Quo(factor)
	resultFloat, err := result.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}

	if math.IsNaN(resultFloat) || math.IsInf(resultFloat, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, resultFloat)
	}

	return resultFloat, nil
}
