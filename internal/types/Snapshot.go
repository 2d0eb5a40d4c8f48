/*

This file contains the exportable ledger snapshot and the global emission
schedule. The snapshot JSON layout (top-level pools array indexed by pool id,
plus a flat users array) must round-trip exactly: importing an export yields
an observationally identical ledger.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// EmissionSchedule holds the global emission parameters shared by all pools.
type EmissionSchedule struct {
	PointsPerBlock         sdkmath.Int `json:"pointsPerBlock"`         // Points emitted per block across all pools
	StartBlock             uint64      `json:"startBlock"`             // First block eligible for accrual
	EndBlock               uint64      `json:"endBlock"`               // Farming stops here; 0 means no end set
	EndBlockForWithdrawals uint64      `json:"endBlockForWithdrawals"` // Earliest block a migration snapshot may be taken
	BoosterMultiplier      sdkmath.Int `json:"boosterMultiplier"`      // 1e18-scaled multiplier applied on boost conversions
	TotalWeight            uint64      `json:"totalWeight"`            // Sum of all pool weights
}

// Clone returns a deep copy of the schedule.
func (s EmissionSchedule) Clone() EmissionSchedule {
	c := s
	c.PointsPerBlock = cloneInt(s.PointsPerBlock)
	c.BoosterMultiplier = cloneInt(s.BoosterMultiplier)
	return c
}

// Snapshot is a complete, self-contained copy of the ledger state. It is
// produced under the engine's write lock and is safe to serialize, persist,
// and re-hydrate into a fresh engine instance.
type Snapshot struct {
	ID           string           `json:"id"` // UUID assigned at capture time
	TakenAtBlock uint64           `json:"takenAtBlock"`
	Schedule     EmissionSchedule `json:"schedule"`
	Pools        []Pool           `json:"pools"` // Index equals pool id
	Users        []UserRecord     `json:"users"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	c := Snapshot{
		ID:           s.ID,
		TakenAtBlock: s.TakenAtBlock,
		Schedule:     s.Schedule.Clone(),
		Pools:        make([]Pool, len(s.Pools)),
		Users:        make([]UserRecord, len(s.Users)),
	}
	for i, p := range s.Pools {
		c.Pools[i] = p.Clone()
	}
	for i, u := range s.Users {
		c.Users[i] = UserRecord{User: u.User, Pid: u.Pid, UserInfo: u.UserInfo.Clone()}
	}
	return c
}
