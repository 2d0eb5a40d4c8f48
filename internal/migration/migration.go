/*

This file contains the end-of-farming migration: freezing a final ledger
state, backdating the bridge-transit window, applying address remappings and
principal exclusions, and validating closure invariants before the snapshot
is accepted as authoritative.

This is an offline administrative pass, not a hot path. Any invariant
violation aborts the whole run; a half-migrated ledger is worse than no
migration, so there is no partial output on failure.

*/

package migration

import (
	"encoding/json"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/farmworks/pointsfarm/internal/fixedpoint"
	"github.com/farmworks/pointsfarm/internal/logger"
	"github.com/farmworks/pointsfarm/internal/types"
)

// ErrSnapshotInvariant reports a closure-invariant violation. Fatal and
// abort-only: the snapshot that raised it must be discarded.
var ErrSnapshotInvariant = errors.New("snapshot invariant violation")

// defaultParityTolerance bounds the truncation dust allowed between
// totalBoosted and heldProceeds * multiplier. Each boost conversion floors
// once, so the gap grows with conversion count, not with amount.
const defaultParityTolerance = 1000

// Options configures a migration run.
type Options struct {
	// SuccessorStartBlock is the first block of the successor deployment.
	// When it lies beyond the farming endBlock, the transit window
	// [endBlock, SuccessorStartBlock) is backdated: users are credited as if
	// emission had continued at the frozen rates. Zero disables backdating.
	SuccessorStartBlock uint64

	// Remap moves control of an address during migration (compromised-wallet
	// remediation): every ledger entry of a key is re-keyed to its value.
	Remap map[string]string

	// ExcludedAccounts lose their principal and boost in the successor
	// ledger. Historical settled rewards are kept unless
	// ZeroExcludedSettled is set; silently dropping earned points is never
	// the default.
	ExcludedAccounts []string
	ZeroExcludedSettled bool

	// ParityTolerance overrides the boost/heldProceeds dust bound. Zero
	// means the default. Negative disables the check (required if the
	// booster multiplier was changed mid-farm).
	ParityTolerance int64
}

// Finalize turns a frozen end-of-farming snapshot into the seed state for a
// successor ledger. For every user the banked total is
//
//	finalSettled = amount * accRewardPerShare / 1e18 + rewardSettled - rewardDebt
//
// plus the backdated transit credit, and the exported record carries
// rewardDebt = 0 against successor pools whose accumulator restarts at zero.
// The input snapshot is not modified.
func Finalize(snap types.Snapshot, opts Options) (types.Snapshot, error) {
	migLogger := logger.GetForComponent("migration")

	if err := checkFrozen(snap); err != nil {
		return types.Snapshot{}, err
	}
	if err := Validate(snap); err != nil {
		return types.Snapshot{}, fmt.Errorf("input snapshot rejected: %w", err)
	}

	backAcc, err := backdatedAccumulators(snap, opts.SuccessorStartBlock)
	if err != nil {
		return types.Snapshot{}, err
	}

	excluded := make(map[string]bool, len(opts.ExcludedAccounts))
	for _, a := range opts.ExcludedAccounts {
		excluded[a] = true
	}

	startBlock := snap.Schedule.EndBlock
	if opts.SuccessorStartBlock > startBlock {
		startBlock = opts.SuccessorStartBlock
	}

	out := types.Snapshot{
		ID:           uuid.NewString(),
		TakenAtBlock: startBlock,
		Schedule:     snap.Schedule.Clone(),
		Pools:        make([]types.Pool, len(snap.Pools)),
		Users:        make([]types.UserRecord, 0, len(snap.Users)),
	}
	out.Schedule.StartBlock = startBlock
	out.Schedule.EndBlock = 0
	out.Schedule.EndBlockForWithdrawals = 0

	for i, p := range snap.Pools {
		fresh := p.Clone()
		fresh.TotalDeposited = sdkmath.ZeroInt()
		fresh.TotalBoosted = sdkmath.ZeroInt()
		fresh.TotalUnboosted = sdkmath.ZeroInt()
		fresh.AccRewardPerShare = sdkmath.ZeroInt()
		fresh.TotalRewards = sdkmath.ZeroInt()
		fresh.LastRewardBlock = startBlock
		out.Pools[i] = fresh
	}

	seen := make(map[string]bool, len(snap.Users))
	for _, rec := range snap.Users {
		pid := int(rec.Pid)
		if pid >= len(snap.Pools) {
			return types.Snapshot{}, fmt.Errorf("%w: user %s references pool %d of %d", ErrSnapshotInvariant, rec.User, pid, len(snap.Pools))
		}
		pool := snap.Pools[pid]
		info := rec.UserInfo.Clone()

		settled, err := finalSettled(info, pool.AccRewardPerShare, backAcc[pid])
		if err != nil {
			return types.Snapshot{}, err
		}

		if excluded[rec.User] {
			if info.BoostAmount.IsPositive() {
				returned, err := fixedpoint.UnapplyMultiplier(info.BoostAmount, snap.Schedule.BoosterMultiplier)
				if err != nil {
					return types.Snapshot{}, err
				}
				out.Pools[pid].HeldProceeds = out.Pools[pid].HeldProceeds.Sub(returned)
				if out.Pools[pid].HeldProceeds.IsNegative() {
					out.Pools[pid].HeldProceeds = sdkmath.ZeroInt()
				}
			}
			info.Amount = sdkmath.ZeroInt()
			info.BoostAmount = sdkmath.ZeroInt()
			info.DepositAmount = sdkmath.ZeroInt()
			if opts.ZeroExcludedSettled {
				settled = sdkmath.ZeroInt()
			}
		}

		user := rec.User
		if mapped, ok := opts.Remap[user]; ok {
			migLogger.Info().Str("from", user).Str("to", mapped).Uint64("pid", uint64(rec.Pid)).Msg("Remapping account")
			user = mapped
		}
		key := fmt.Sprintf("%d/%s", pid, user)
		if seen[key] {
			return types.Snapshot{}, fmt.Errorf("%w: remap collides on user %s in pool %d", ErrSnapshotInvariant, user, pid)
		}
		seen[key] = true

		info.RewardSettled = settled
		info.RewardDebt = sdkmath.ZeroInt()

		out.Pools[pid].TotalDeposited = out.Pools[pid].TotalDeposited.Add(info.Amount)
		out.Pools[pid].TotalBoosted = out.Pools[pid].TotalBoosted.Add(info.BoostAmount)
		out.Pools[pid].TotalUnboosted = out.Pools[pid].TotalUnboosted.Add(info.DepositAmount)
		out.Pools[pid].TotalRewards = out.Pools[pid].TotalRewards.Add(settled)

		out.Users = append(out.Users, types.UserRecord{User: user, Pid: rec.Pid, UserInfo: info})
	}

	if err := Validate(out); err != nil {
		return types.Snapshot{}, fmt.Errorf("finalized snapshot rejected: %w", err)
	}
	if err := checkBoostParity(out, opts.ParityTolerance); err != nil {
		return types.Snapshot{}, err
	}

	migLogger.Info().
		Str("snapshot", out.ID).
		Uint64("startBlock", startBlock).
		Int("pools", len(out.Pools)).
		Int("users", len(out.Users)).
		Msg("Migration snapshot finalized")
	return out, nil
}

// finalSettled is the canonical migration formula: current pending folded
// into rewardSettled, plus the backdated transit credit computed against the
// synthetic accumulator of the gap window.
func finalSettled(info types.UserInfo, acc, backAcc sdkmath.Int) (sdkmath.Int, error) {
	baseline, err := fixedpoint.SettleAmount(info.Amount, acc)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	settled := baseline.Add(info.RewardSettled).Sub(info.RewardDebt)
	if !backAcc.IsZero() {
		extra, err := fixedpoint.SettleAmount(info.Amount, backAcc)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		settled = settled.Add(extra)
	}
	return settled, nil
}

// backdatedAccumulators computes, per pool, the synthetic accRewardPerShare
// delta for the transit window [endBlock, successorStart). Pools with no
// stake accrue nothing, the same skip the live engine applies.
func backdatedAccumulators(snap types.Snapshot, successorStart uint64) ([]sdkmath.Int, error) {
	out := make([]sdkmath.Int, len(snap.Pools))
	for i := range out {
		out[i] = sdkmath.ZeroInt()
	}
	end := snap.Schedule.EndBlock
	if successorStart <= end || snap.Schedule.TotalWeight == 0 {
		return out, nil
	}
	blocks := sdkmath.NewIntFromUint64(successorStart - end)
	totalWeight := sdkmath.NewIntFromUint64(snap.Schedule.TotalWeight)
	for i, p := range snap.Pools {
		if p.TotalStaked().IsZero() {
			continue
		}
		emitted, err := fixedpoint.Mul(snap.Schedule.PointsPerBlock, blocks)
		if err != nil {
			return nil, err
		}
		reward, err := fixedpoint.MulDiv(emitted, sdkmath.NewIntFromUint64(p.Weight), totalWeight)
		if err != nil {
			return nil, err
		}
		delta, err := fixedpoint.AccrueDelta(reward, p.TotalStaked())
		if err != nil {
			return nil, err
		}
		out[i] = delta
	}
	return out, nil
}

// checkFrozen verifies farming actually ended and every pool was accrued to
// the cutoff before the snapshot was taken.
func checkFrozen(snap types.Snapshot) error {
	end := snap.Schedule.EndBlock
	if end == 0 {
		return fmt.Errorf("%w: no endBlock set, farming has not ended", ErrSnapshotInvariant)
	}
	earliest := snap.Schedule.EndBlockForWithdrawals
	if earliest == 0 {
		earliest = end
	}
	if snap.TakenAtBlock < earliest {
		return fmt.Errorf("%w: snapshot taken at block %d before withdrawal window closes at %d", ErrSnapshotInvariant, snap.TakenAtBlock, earliest)
	}
	for _, p := range snap.Pools {
		if p.LastRewardBlock != end {
			return fmt.Errorf("%w: pool %d accrued to block %d, expected endBlock %d", ErrSnapshotInvariant, p.ID, p.LastRewardBlock, end)
		}
	}
	return nil
}

// Validate checks the closure invariants of a snapshot: per-user additivity,
// per-pool additivity, and pool totals equal to the sum over users.
func Validate(snap types.Snapshot) error {
	type sums struct {
		amount  sdkmath.Int
		boost   sdkmath.Int
		deposit sdkmath.Int
	}
	perPool := make([]sums, len(snap.Pools))
	for i := range perPool {
		perPool[i] = sums{amount: sdkmath.ZeroInt(), boost: sdkmath.ZeroInt(), deposit: sdkmath.ZeroInt()}
	}

	for i, p := range snap.Pools {
		if p.ID != types.PoolID(i) {
			return fmt.Errorf("%w: pool at index %d carries id %d", ErrSnapshotInvariant, i, p.ID)
		}
		if !p.TotalDeposited.Equal(p.TotalBoosted.Add(p.TotalUnboosted)) {
			return fmt.Errorf("%w: pool %d totals are not additive (%s != %s + %s)",
				ErrSnapshotInvariant, p.ID, p.TotalDeposited, p.TotalBoosted, p.TotalUnboosted)
		}
	}

	for _, rec := range snap.Users {
		if int(rec.Pid) >= len(snap.Pools) {
			return fmt.Errorf("%w: user %s references unknown pool %d", ErrSnapshotInvariant, rec.User, rec.Pid)
		}
		if !rec.UserInfo.Additive() {
			return fmt.Errorf("%w: user %s in pool %d is not additive (%s != %s + %s)",
				ErrSnapshotInvariant, rec.User, rec.Pid, rec.UserInfo.Amount, rec.UserInfo.BoostAmount, rec.UserInfo.DepositAmount)
		}
		s := &perPool[rec.Pid]
		s.amount = s.amount.Add(rec.UserInfo.Amount)
		s.boost = s.boost.Add(rec.UserInfo.BoostAmount)
		s.deposit = s.deposit.Add(rec.UserInfo.DepositAmount)
	}

	for i, p := range snap.Pools {
		s := perPool[i]
		if !p.TotalDeposited.Equal(s.amount) || !p.TotalBoosted.Equal(s.boost) || !p.TotalUnboosted.Equal(s.deposit) {
			return fmt.Errorf("%w: pool %d totals diverge from user sums", ErrSnapshotInvariant, p.ID)
		}
	}
	return nil
}

// checkBoostParity verifies totalBoosted against heldProceeds scaled by the
// booster multiplier, within truncation tolerance.
func checkBoostParity(snap types.Snapshot, tolerance int64) error {
	if tolerance < 0 {
		return nil
	}
	if tolerance == 0 {
		tolerance = defaultParityTolerance
	}
	bound := sdkmath.NewInt(tolerance)
	for _, p := range snap.Pools {
		implied, err := fixedpoint.ApplyMultiplier(p.HeldProceeds, snap.Schedule.BoosterMultiplier)
		if err != nil {
			return err
		}
		if implied.Sub(p.TotalBoosted).Abs().GT(bound) {
			return fmt.Errorf("%w: pool %d boost/heldProceeds parity off by %s",
				ErrSnapshotInvariant, p.ID, implied.Sub(p.TotalBoosted))
		}
	}
	return nil
}

// Export serializes a snapshot to its canonical JSON document.
func Export(snap types.Snapshot) ([]byte, error) {
	if err := Validate(snap); err != nil {
		return nil, err
	}
	return json.MarshalIndent(snap, "", "  ")
}

// Import parses and validates a snapshot document produced by Export.
func Import(data []byte) (types.Snapshot, error) {
	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return types.Snapshot{}, fmt.Errorf("parsing snapshot document: %w", err)
	}
	if err := Validate(snap); err != nil {
		return types.Snapshot{}, err
	}
	return snap, nil
}
