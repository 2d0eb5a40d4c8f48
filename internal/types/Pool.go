/*

This file contains the pool type which holds all per-pool accounting state:
allocation weight, share totals, the reward-per-share accumulator and the
block height it was last advanced to.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// PoolID is the stable sequence index of a pool. IDs are assigned in
// registration order and never reused.
type PoolID uint64

// Pool holds the accounting state of one farming pool.
type Pool struct {
	ID          PoolID `json:"id"`
	Asset       string `json:"asset"`       // Denom of the staked asset (e.g. "sdai", "wsteth")
	Description string `json:"description"` // Opaque label, not used in arithmetic

	Weight uint64 `json:"weight"` // Allocation points relative to the registry's total weight

	TotalDeposited sdkmath.Int `json:"totalDeposited"` // Sum of user.amount; the share basis for reward distribution
	TotalBoosted   sdkmath.Int `json:"totalBoosted"`   // Sum of user.boostAmount
	TotalUnboosted sdkmath.Int `json:"totalUnboosted"` // Sum of user.depositAmount (withdrawable principal)

	AccRewardPerShare sdkmath.Int `json:"accRewardPerShare"` // 1e18-scaled cumulative reward per staked share
	LastRewardBlock   uint64      `json:"lastRewardBlock"`   // Height accRewardPerShare has been advanced to
	TotalRewards      sdkmath.Int `json:"totalRewards"`      // Cumulative points issued to this pool
	HeldProceeds      sdkmath.Int `json:"heldProceeds"`      // Principal retained from boost conversions
}

// NewPool returns a pool with all amount fields set to explicit zero values.
// sdkmath.Int's zero value is nil, so every numeric field must be initialized
// before any arithmetic touches it.
func NewPool(id PoolID, asset, description string, weight uint64, lastRewardBlock uint64) Pool {
	return Pool{
		ID:                id,
		Asset:             asset,
		Description:       description,
		Weight:            weight,
		TotalDeposited:    sdkmath.ZeroInt(),
		TotalBoosted:      sdkmath.ZeroInt(),
		TotalUnboosted:    sdkmath.ZeroInt(),
		AccRewardPerShare: sdkmath.ZeroInt(),
		LastRewardBlock:   lastRewardBlock,
		TotalRewards:      sdkmath.ZeroInt(),
		HeldProceeds:      sdkmath.ZeroInt(),
	}
}

// TotalStaked is the share basis used for reward distribution. Boosted and
// unboosted shares both earn; boosted shares keep earning after the principal
// is withdrawn.
func (p Pool) TotalStaked() sdkmath.Int {
	return p.TotalDeposited
}

// Clone returns a deep copy safe to hand to callers outside the engine's
// write lock.
func (p Pool) Clone() Pool {
	c := p
	c.TotalDeposited = cloneInt(p.TotalDeposited)
	c.TotalBoosted = cloneInt(p.TotalBoosted)
	c.TotalUnboosted = cloneInt(p.TotalUnboosted)
	c.AccRewardPerShare = cloneInt(p.AccRewardPerShare)
	c.TotalRewards = cloneInt(p.TotalRewards)
	c.HeldProceeds = cloneInt(p.HeldProceeds)
	return c
}

func cloneInt(v sdkmath.Int) sdkmath.Int {
	if v.IsNil() {
		return sdkmath.ZeroInt()
	}
	return sdkmath.NewIntFromBigInt(v.BigInt())
}
