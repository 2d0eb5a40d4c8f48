/*

This file contains the 1e18-scaled fixed-point helpers used for all
reward-per-share arithmetic. Division truncates toward zero; the resulting
dust loss is bounded at one unit per operation and is accepted behavior.

sdkmath.Int panics once a value exceeds 256 bits, so every multiply is
preceded by a bit-length check and reported as ErrArithmeticOverflow instead.
Overflow is a programming-error-class failure, not a recoverable user error:
with pointsPerBlock, blocksElapsed and weight such that
pointsPerBlock * blocksElapsed * weight * 1e18 stays under 2^255 the helpers
never fail. At 1e20 points per block and a weight of 1e6 that leaves room for
roughly 1e33 elapsed blocks, so the practical precondition on callers is only
that pools are accrued at all (any update frequency bounds blocksElapsed far
below that).

*/

package fixedpoint

import (
	"errors"

	sdkmath "cosmossdk.io/math"
)

// ScaleDecimals is the number of decimals in the fixed-point scale.
const ScaleDecimals = 18

// maxBits is the widest intermediate product sdkmath.Int accepts without
// panicking, minus one bit of headroom for the sign.
const maxBits = 255

// Scale is the 1e18 fixed-point scale factor.
var Scale = sdkmath.NewIntWithDecimal(1, ScaleDecimals)

// ErrArithmeticOverflow reports an intermediate product that would exceed
// 256-bit integer width. Treated as a fatal precondition breach by callers.
var ErrArithmeticOverflow = errors.New("fixed-point arithmetic overflow: intermediate product exceeds 256 bits")

// ErrDivisionByZero reports a zero divisor.
var ErrDivisionByZero = errors.New("fixed-point division by zero")

// MulDiv computes floor(a * b / den) with an overflow-checked intermediate
// product. All operands must be non-negative.
func MulDiv(a, b, den sdkmath.Int) (sdkmath.Int, error) {
	if den.IsZero() {
		return sdkmath.ZeroInt(), ErrDivisionByZero
	}
	if a.BigInt().BitLen()+b.BigInt().BitLen() > maxBits {
		return sdkmath.ZeroInt(), ErrArithmeticOverflow
	}
	return a.Mul(b).Quo(den), nil
}

// Mul computes a * b with an overflow check.
func Mul(a, b sdkmath.Int) (sdkmath.Int, error) {
	if a.BigInt().BitLen()+b.BigInt().BitLen() > maxBits {
		return sdkmath.ZeroInt(), ErrArithmeticOverflow
	}
	return a.Mul(b), nil
}

// AccrueDelta converts a pool-level reward into a 1e18-scaled per-share
// accumulator increment: floor(reward * 1e18 / totalStaked).
func AccrueDelta(reward, totalStaked sdkmath.Int) (sdkmath.Int, error) {
	return MulDiv(reward, Scale, totalStaked)
}

// SettleAmount converts a share balance and an accumulator value into whole
// reward units: floor(amount * acc / 1e18). This is the baseline stored as
// rewardDebt and the term added when settling.
func SettleAmount(amount, acc sdkmath.Int) (sdkmath.Int, error) {
	return MulDiv(amount, acc, Scale)
}

// ApplyMultiplier scales a principal amount by a 1e18-scaled multiplier:
// floor(amount * multiplier / 1e18). Used for boost conversions.
func ApplyMultiplier(amount, multiplier sdkmath.Int) (sdkmath.Int, error) {
	return MulDiv(amount, multiplier, Scale)
}

// UnapplyMultiplier inverts ApplyMultiplier up to truncation dust:
// floor(amount * 1e18 / multiplier).
func UnapplyMultiplier(amount, multiplier sdkmath.Int) (sdkmath.Int, error) {
	return MulDiv(amount, Scale, multiplier)
}
