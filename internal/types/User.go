/*

This file contains the per-(pool, user) ledger entry. The rewardSettled /
rewardDebt pair is the bookkeeping that attributes rewards only for the
period a balance was actually staked.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// UserInfo is the ledger entry for one user in one pool.
type UserInfo struct {
	Amount        sdkmath.Int `json:"amount"`        // Total shares: boostAmount + depositAmount
	BoostAmount   sdkmath.Int `json:"boostAmount"`   // Locked share portion; keeps accruing after principal withdrawal
	DepositAmount sdkmath.Int `json:"depositAmount"` // Withdrawable principal portion
	RewardSettled sdkmath.Int `json:"rewardSettled"` // Points banked for this user in this pool
	RewardDebt    sdkmath.Int `json:"rewardDebt"`    // amount * accRewardPerShare / 1e18 at the last mutation
}

// NewUserInfo returns a zero-valued entry. Entries are created implicitly on
// first deposit and never deleted; a zero-balance entry persists for history.
func NewUserInfo() UserInfo {
	return UserInfo{
		Amount:        sdkmath.ZeroInt(),
		BoostAmount:   sdkmath.ZeroInt(),
		DepositAmount: sdkmath.ZeroInt(),
		RewardSettled: sdkmath.ZeroInt(),
		RewardDebt:    sdkmath.ZeroInt(),
	}
}

// Clone returns a deep copy of the entry.
func (u UserInfo) Clone() UserInfo {
	return UserInfo{
		Amount:        cloneInt(u.Amount),
		BoostAmount:   cloneInt(u.BoostAmount),
		DepositAmount: cloneInt(u.DepositAmount),
		RewardSettled: cloneInt(u.RewardSettled),
		RewardDebt:    cloneInt(u.RewardDebt),
	}
}

// Additive reports whether amount == boostAmount + depositAmount. Every
// mutation must leave the entry additive.
func (u UserInfo) Additive() bool {
	return u.Amount.Equal(u.BoostAmount.Add(u.DepositAmount))
}

// UserRecord pairs a ledger entry with its owner and pool for export.
type UserRecord struct {
	User     string   `json:"user"`
	Pid      PoolID   `json:"pid"`
	UserInfo UserInfo `json:"userInfo"`
}
