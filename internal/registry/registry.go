/*

This file contains the pool registry: an ordered, growable collection of
farming pools plus the global emission schedule. The registry owns the
accumulator-advance algorithm (UpdatePool) and the accrue-before-change rules
for weight and emission-rate mutations.

The registry performs no locking of its own. The reward engine serializes all
access behind a single write lock; see internal/engine.

*/

package registry

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/farmworks/pointsfarm/internal/fixedpoint"
	"github.com/farmworks/pointsfarm/internal/logger"
	"github.com/farmworks/pointsfarm/internal/types"
)

// Registry owns the ordered pool collection and the emission schedule.
type Registry struct {
	logger     zerolog.Logger
	pools      []types.Pool
	assetIndex map[string]types.PoolID
	schedule   types.EmissionSchedule
}

// New creates a registry with no pools and the given emission schedule.
func New(schedule types.EmissionSchedule) (*Registry, error) {
	if schedule.PointsPerBlock.IsNil() || schedule.PointsPerBlock.IsNegative() {
		return nil, fmt.Errorf("%w: pointsPerBlock must be a non-negative integer", ErrInvalidSchedule)
	}
	if schedule.BoosterMultiplier.IsNil() || !schedule.BoosterMultiplier.IsPositive() {
		return nil, fmt.Errorf("%w: boosterMultiplier must be positive", ErrInvalidSchedule)
	}
	if schedule.EndBlock != 0 && schedule.EndBlock <= schedule.StartBlock {
		return nil, fmt.Errorf("%w: endBlock %d is not after startBlock %d", ErrInvalidSchedule, schedule.EndBlock, schedule.StartBlock)
	}
	return &Registry{
		logger:     logger.GetForComponent("pool_registry"),
		pools:      []types.Pool{},
		assetIndex: make(map[string]types.PoolID),
		schedule:   schedule.Clone(),
	}, nil
}

// Restore creates a registry from a previously exported snapshot. Pool ids
// must equal their slice index.
func Restore(schedule types.EmissionSchedule, pools []types.Pool) (*Registry, error) {
	r, err := New(schedule)
	if err != nil {
		return nil, err
	}
	total := uint64(0)
	for i, p := range pools {
		if p.ID != types.PoolID(i) {
			return nil, fmt.Errorf("%w: pool at index %d carries id %d", ErrInvalidPool, i, p.ID)
		}
		if _, dup := r.assetIndex[p.Asset]; dup {
			return nil, fmt.Errorf("%w: asset %s registered twice", ErrInvalidPool, p.Asset)
		}
		r.pools = append(r.pools, p.Clone())
		r.assetIndex[p.Asset] = p.ID
		total += p.Weight
	}
	r.schedule.TotalWeight = total
	return r, nil
}

// AddPool appends a pool with zeroed accumulator state. The pool's
// lastRewardBlock starts at max(currentBlock, startBlock, schedule start).
// When pointsPerBlock is non-nil the global emission rate changes in the same
// observable step, after all existing pools have accrued at the old rate —
// otherwise the old rate would apply to the new total weight for the blocks
// since their last update.
func (r *Registry) AddPool(weight uint64, asset, description string, startBlock, currentBlock uint64, pointsPerBlock *sdkmath.Int) (types.PoolID, error) {
	if asset == "" {
		return 0, fmt.Errorf("%w: asset denom is empty", ErrInvalidPool)
	}
	if existing, dup := r.assetIndex[asset]; dup {
		return 0, fmt.Errorf("%w: asset %s already registered to pool %d", ErrInvalidPool, asset, existing)
	}
	if err := r.MassUpdate(currentBlock); err != nil {
		return 0, err
	}
	if pointsPerBlock != nil {
		r.schedule.PointsPerBlock = *pointsPerBlock
	}

	last := currentBlock
	if startBlock > last {
		last = startBlock
	}
	if r.schedule.StartBlock > last {
		last = r.schedule.StartBlock
	}

	pid := types.PoolID(len(r.pools))
	r.pools = append(r.pools, types.NewPool(pid, asset, description, weight, last))
	r.assetIndex[asset] = pid
	r.schedule.TotalWeight += weight

	r.logger.Info().
		Uint64("pid", uint64(pid)).
		Str("asset", asset).
		Uint64("weight", weight).
		Uint64("totalWeight", r.schedule.TotalWeight).
		Msg("Pool added")
	return pid, nil
}

// SetWeight changes a pool's allocation points. All pools accrue first: a
// weight change shifts every pool's share of emission through totalWeight, so
// a stale accumulator anywhere would misattribute the past.
func (r *Registry) SetWeight(pid types.PoolID, weight uint64, currentBlock uint64) error {
	p, err := r.pool(pid)
	if err != nil {
		return err
	}
	if err := r.MassUpdate(currentBlock); err != nil {
		return err
	}
	r.schedule.TotalWeight = r.schedule.TotalWeight - p.Weight + weight
	p.Weight = weight
	r.logger.Info().
		Uint64("pid", uint64(pid)).
		Uint64("weight", weight).
		Uint64("totalWeight", r.schedule.TotalWeight).
		Msg("Pool weight updated")
	return nil
}

// SetWeights applies a bulk weight change in one accrual step.
func (r *Registry) SetWeights(pids []types.PoolID, weights []uint64, currentBlock uint64) error {
	if len(pids) != len(weights) {
		return fmt.Errorf("%w: %d pids against %d weights", ErrMismatchedArrayLengths, len(pids), len(weights))
	}
	for _, pid := range pids {
		if _, err := r.pool(pid); err != nil {
			return err
		}
	}
	if err := r.MassUpdate(currentBlock); err != nil {
		return err
	}
	for i, pid := range pids {
		p := &r.pools[pid]
		r.schedule.TotalWeight = r.schedule.TotalWeight - p.Weight + weights[i]
		p.Weight = weights[i]
	}
	return nil
}

// SetPointsPerBlock changes the global emission rate after accruing every
// pool at the old rate.
func (r *Registry) SetPointsPerBlock(rate sdkmath.Int, currentBlock uint64) error {
	if rate.IsNil() || rate.IsNegative() {
		return fmt.Errorf("%w: pointsPerBlock must be a non-negative integer", ErrInvalidSchedule)
	}
	if err := r.MassUpdate(currentBlock); err != nil {
		return err
	}
	r.schedule.PointsPerBlock = rate
	r.logger.Info().Str("pointsPerBlock", rate.String()).Msg("Emission rate updated")
	return nil
}

// SetEndBlock sets the farming cutoff and the withdrawal window after it.
// endBlock 0 clears the cutoff.
func (r *Registry) SetEndBlock(endBlock, withdrawalDelay, currentBlock uint64) error {
	if endBlock != 0 && endBlock <= r.schedule.StartBlock {
		return fmt.Errorf("%w: endBlock %d is not after startBlock %d", ErrInvalidSchedule, endBlock, r.schedule.StartBlock)
	}
	if err := r.MassUpdate(currentBlock); err != nil {
		return err
	}
	r.schedule.EndBlock = endBlock
	if endBlock == 0 {
		r.schedule.EndBlockForWithdrawals = 0
	} else {
		r.schedule.EndBlockForWithdrawals = endBlock + withdrawalDelay
	}
	r.logger.Info().
		Uint64("endBlock", endBlock).
		Uint64("endBlockForWithdrawals", r.schedule.EndBlockForWithdrawals).
		Msg("End blocks updated")
	return nil
}

// SetBoosterMultiplier changes the multiplier applied to future boost
// conversions. Existing boost balances are untouched.
func (r *Registry) SetBoosterMultiplier(multiplier sdkmath.Int, currentBlock uint64) error {
	if multiplier.IsNil() || !multiplier.IsPositive() {
		return fmt.Errorf("%w: boosterMultiplier must be positive", ErrInvalidSchedule)
	}
	if err := r.MassUpdate(currentBlock); err != nil {
		return err
	}
	r.schedule.BoosterMultiplier = multiplier
	return nil
}

// UpdatePool advances a pool's accumulator to currentBlock (clamped to the
// schedule's endBlock). A pool with no staked shares advances lastRewardBlock
// without accruing: that window's emission is structurally forfeited rather
// than rolled forward, which keeps totalRewards parity with the accumulator.
func (r *Registry) UpdatePool(pid types.PoolID, currentBlock uint64) error {
	p, err := r.pool(pid)
	if err != nil {
		return err
	}
	return r.update(p, currentBlock)
}

// MassUpdate advances every pool to currentBlock.
func (r *Registry) MassUpdate(currentBlock uint64) error {
	for i := range r.pools {
		if err := r.update(&r.pools[i], currentBlock); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) update(p *types.Pool, currentBlock uint64) error {
	end := r.effectiveEnd(currentBlock)
	if end <= p.LastRewardBlock {
		return nil
	}
	if p.TotalStaked().IsZero() {
		p.LastRewardBlock = end
		return nil
	}
	reward, err := r.poolReward(p.Weight, p.LastRewardBlock, end)
	if err != nil {
		return err
	}
	delta, err := fixedpoint.AccrueDelta(reward, p.TotalStaked())
	if err != nil {
		return fmt.Errorf("accruing pool %d: %w", p.ID, err)
	}
	p.AccRewardPerShare = p.AccRewardPerShare.Add(delta)
	p.TotalRewards = p.TotalRewards.Add(reward)
	p.LastRewardBlock = end
	return nil
}

// AccAt returns the hypothetical accumulator value a pool would hold if
// UpdatePool ran at currentBlock, without mutating anything. The derivation
// matches update exactly, including the empty-pool skip.
func (r *Registry) AccAt(pid types.PoolID, currentBlock uint64) (sdkmath.Int, error) {
	p, err := r.pool(pid)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	end := r.effectiveEnd(currentBlock)
	if end <= p.LastRewardBlock || p.TotalStaked().IsZero() {
		return p.AccRewardPerShare, nil
	}
	reward, err := r.poolReward(p.Weight, p.LastRewardBlock, end)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	delta, err := fixedpoint.AccrueDelta(reward, p.TotalStaked())
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return p.AccRewardPerShare.Add(delta), nil
}

// BlockMultiplier returns the number of emission-eligible blocks in
// [from, to), clamped to the schedule's start and end.
func (r *Registry) BlockMultiplier(from, to uint64) (uint64, error) {
	if from > to {
		return 0, fmt.Errorf("%w: from %d is after to %d", ErrInvalidRange, from, to)
	}
	if from < r.schedule.StartBlock {
		from = r.schedule.StartBlock
	}
	if r.schedule.EndBlock != 0 && to > r.schedule.EndBlock {
		to = r.schedule.EndBlock
	}
	if from >= to {
		return 0, nil
	}
	return to - from, nil
}

// PoolReward returns the points a pool earns over [from, to) at the current
// rate and weights, for off-line accounting queries.
func (r *Registry) PoolReward(pid types.PoolID, from, to uint64) (sdkmath.Int, error) {
	p, err := r.pool(pid)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	blocks, err := r.BlockMultiplier(from, to)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if blocks == 0 {
		return sdkmath.ZeroInt(), nil
	}
	return r.rewardFor(p.Weight, blocks)
}

// PoolInfo returns a read-only snapshot of one pool.
func (r *Registry) PoolInfo(pid types.PoolID) (types.Pool, error) {
	p, err := r.pool(pid)
	if err != nil {
		return types.Pool{}, err
	}
	return p.Clone(), nil
}

// Pools returns read-only snapshots of all pools in id order.
func (r *Registry) Pools() []types.Pool {
	out := make([]types.Pool, len(r.pools))
	for i, p := range r.pools {
		out[i] = p.Clone()
	}
	return out
}

// Len returns the number of registered pools.
func (r *Registry) Len() int {
	return len(r.pools)
}

// Schedule returns a copy of the emission schedule.
func (r *Registry) Schedule() types.EmissionSchedule {
	return r.schedule.Clone()
}

// Mutate exposes a pool pointer to the engine for total adjustments inside
// its write lock.
func (r *Registry) Mutate(pid types.PoolID) (*types.Pool, error) {
	return r.pool(pid)
}

func (r *Registry) pool(pid types.PoolID) (*types.Pool, error) {
	if int(pid) >= len(r.pools) {
		return nil, fmt.Errorf("%w: pid %d (have %d pools)", ErrPoolNotFound, pid, len(r.pools))
	}
	return &r.pools[pid], nil
}

// effectiveEnd clamps currentBlock to the schedule's endBlock when farming
// has ended.
func (r *Registry) effectiveEnd(currentBlock uint64) uint64 {
	if r.schedule.EndBlock != 0 && currentBlock > r.schedule.EndBlock {
		return r.schedule.EndBlock
	}
	return currentBlock
}

// poolReward is the emission for one pool over (from, to]:
// pointsPerBlock * weight * blocksElapsed / totalWeight, floored once.
func (r *Registry) poolReward(weight, from, to uint64) (sdkmath.Int, error) {
	return r.rewardFor(weight, to-from)
}

func (r *Registry) rewardFor(weight, blocks uint64) (sdkmath.Int, error) {
	if r.schedule.TotalWeight == 0 {
		return sdkmath.ZeroInt(), nil
	}
	perBlock, err := fixedpoint.Mul(r.schedule.PointsPerBlock, sdkmath.NewIntFromUint64(blocks))
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return fixedpoint.MulDiv(perBlock, sdkmath.NewIntFromUint64(weight), sdkmath.NewIntFromUint64(r.schedule.TotalWeight))
}
