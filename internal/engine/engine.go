/*

This file contains the reward engine: the single-writer orchestrator that
sequences every state-changing entry point as

	update pool accumulator -> settle user at old amount -> mutate -> rebase debt

under one mutex, so no caller ever observes a half-applied step. That
ordering is the correctness core of the whole system; every public mutation
runs the full sequence even when a given operation would not strictly need
each step.

*/

package engine

import (
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/farmworks/pointsfarm/internal/fixedpoint"
	"github.com/farmworks/pointsfarm/internal/ledger"
	"github.com/farmworks/pointsfarm/internal/logger"
	"github.com/farmworks/pointsfarm/internal/registry"
	"github.com/farmworks/pointsfarm/internal/types"
)

// Engine is the single-writer state machine over the pool registry and user
// ledger. All exported methods are safe for concurrent use; mutations are
// fully serialized.
type Engine struct {
	mu      sync.Mutex
	logger  zerolog.Logger
	pools   *registry.Registry
	users   *ledger.Ledger
	blocks  BlockSource
}

// Config holds the dependencies for creating an Engine.
type Config struct {
	Registry *registry.Registry
	Ledger   *ledger.Ledger
	Blocks   BlockSource
}

// New creates an engine with dependency injection.
func New(cfg Config) (*Engine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("engine configuration validation failed: %w", err)
	}
	e := &Engine{
		logger: logger.GetForComponent("reward_engine"),
		pools:  cfg.Registry,
		users:  cfg.Ledger,
		blocks: cfg.Blocks,
	}
	e.logger.Info().
		Int("pools", cfg.Registry.Len()).
		Uint64("block", cfg.Blocks.CurrentBlock()).
		Msg("Reward engine created")
	return e, nil
}

func validateConfig(cfg Config) error {
	if cfg.Registry == nil {
		return fmt.Errorf("pool registry cannot be nil")
	}
	if cfg.Ledger == nil {
		return fmt.Errorf("user ledger cannot be nil")
	}
	if cfg.Blocks == nil {
		return fmt.Errorf("block source cannot be nil")
	}
	return nil
}

// Restore builds an engine from a previously exported snapshot.
func Restore(snap types.Snapshot, blocks BlockSource) (*Engine, error) {
	reg, err := registry.Restore(snap.Schedule, snap.Pools)
	if err != nil {
		return nil, fmt.Errorf("restoring pool registry: %w", err)
	}
	led, err := ledger.Restore(snap.Users)
	if err != nil {
		return nil, fmt.Errorf("restoring user ledger: %w", err)
	}
	return New(Config{Registry: reg, Ledger: led, Blocks: blocks})
}

// Deposit stakes coin into a pool. The boostAmount slice of the incoming
// amount is converted to boost shares at the current booster multiplier; the
// consumed principal is retained in the pool's heldProceeds. Rejected once
// farming has ended.
func (e *Engine) Deposit(pid types.PoolID, user string, coin sdktypes.Coin, boostAmount sdkmath.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.blocks.CurrentBlock()
	sched := e.pools.Schedule()
	if sched.EndBlock != 0 && cur >= sched.EndBlock {
		return fmt.Errorf("%w: block %d, endBlock %d", ErrFarmingEnded, cur, sched.EndBlock)
	}
	p, err := e.pools.Mutate(pid)
	if err != nil {
		return err
	}
	if coin.Denom != p.Asset {
		return fmt.Errorf("%w: pool %d accepts %s, got %s", ErrInvalidPool, pid, p.Asset, coin.Denom)
	}
	if coin.Amount.IsNil() || coin.Amount.IsNegative() {
		return fmt.Errorf("%w: deposit amount must be a non-negative integer", ErrInsufficientBalance)
	}
	if boostAmount.IsNil() || boostAmount.IsNegative() || boostAmount.GT(coin.Amount) {
		return fmt.Errorf("%w: boost slice exceeds deposited amount", ErrInsufficientBalance)
	}

	principal := coin.Amount.Sub(boostAmount)
	boostCredit, err := fixedpoint.ApplyMultiplier(boostAmount, sched.BoosterMultiplier)
	if err != nil {
		return err
	}

	if err := e.pools.UpdatePool(pid, cur); err != nil {
		return err
	}
	if err := e.users.Settle(pid, user, p.AccRewardPerShare); err != nil {
		return err
	}
	if err := e.users.ApplyDeposit(pid, user, principal, boostCredit); err != nil {
		return err
	}
	p.TotalUnboosted = p.TotalUnboosted.Add(principal)
	p.TotalBoosted = p.TotalBoosted.Add(boostCredit)
	p.TotalDeposited = p.TotalDeposited.Add(principal).Add(boostCredit)
	p.HeldProceeds = p.HeldProceeds.Add(boostAmount)
	if err := e.users.RebaseDebt(pid, user, p.AccRewardPerShare); err != nil {
		return err
	}

	e.logger.Info().
		Uint64("pid", uint64(pid)).
		Str("user", user).
		Str("principal", principal.String()).
		Str("boostCredit", boostCredit.String()).
		Uint64("block", cur).
		Msg("Deposit applied")
	return nil
}

// Withdraw removes withdrawable principal from a pool and returns the coin
// handed back to the caller. Boost shares stay in place and keep accruing.
// Withdrawals remain allowed after farming ends.
func (e *Engine) Withdraw(pid types.PoolID, user string, amount sdkmath.Int) (sdktypes.Coin, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.blocks.CurrentBlock()
	p, err := e.pools.Mutate(pid)
	if err != nil {
		return sdktypes.Coin{}, err
	}
	if amount.IsNil() || amount.IsNegative() {
		return sdktypes.Coin{}, fmt.Errorf("%w: negative withdraw", ErrInsufficientBalance)
	}
	// Validate before any mutation so a failed withdraw leaves no trace.
	if amount.GT(e.users.Get(pid, user).DepositAmount) {
		return sdktypes.Coin{}, fmt.Errorf("%w: withdraw %s exceeds principal for user %s in pool %d",
			ErrInsufficientBalance, amount, user, pid)
	}

	if err := e.pools.UpdatePool(pid, cur); err != nil {
		return sdktypes.Coin{}, err
	}
	if err := e.users.Settle(pid, user, p.AccRewardPerShare); err != nil {
		return sdktypes.Coin{}, err
	}
	if err := e.users.ApplyWithdraw(pid, user, amount); err != nil {
		return sdktypes.Coin{}, err
	}
	p.TotalUnboosted = p.TotalUnboosted.Sub(amount)
	p.TotalDeposited = p.TotalDeposited.Sub(amount)
	if err := e.users.RebaseDebt(pid, user, p.AccRewardPerShare); err != nil {
		return sdktypes.Coin{}, err
	}

	e.logger.Info().
		Uint64("pid", uint64(pid)).
		Str("user", user).
		Str("amount", amount.String()).
		Uint64("block", cur).
		Msg("Withdraw applied")
	return sdktypes.Coin{Denom: p.Asset, Amount: amount}, nil
}

// IncreaseBoost converts existing withdrawable principal into boost shares
// at the current booster multiplier. The consumed principal moves to the
// pool's heldProceeds. Rejected once farming has ended.
func (e *Engine) IncreaseBoost(pid types.PoolID, user string, amount sdkmath.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.blocks.CurrentBlock()
	sched := e.pools.Schedule()
	if sched.EndBlock != 0 && cur >= sched.EndBlock {
		return fmt.Errorf("%w: block %d, endBlock %d", ErrFarmingEnded, cur, sched.EndBlock)
	}
	p, err := e.pools.Mutate(pid)
	if err != nil {
		return err
	}
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: boost amount must be positive", ErrInsufficientBalance)
	}
	if amount.GT(e.users.Get(pid, user).DepositAmount) {
		return fmt.Errorf("%w: boost %s exceeds principal for user %s in pool %d",
			ErrInsufficientBalance, amount, user, pid)
	}
	boostCredit, err := fixedpoint.ApplyMultiplier(amount, sched.BoosterMultiplier)
	if err != nil {
		return err
	}

	if err := e.pools.UpdatePool(pid, cur); err != nil {
		return err
	}
	if err := e.users.Settle(pid, user, p.AccRewardPerShare); err != nil {
		return err
	}
	if err := e.users.ApplyBoost(pid, user, amount, boostCredit); err != nil {
		return err
	}
	p.TotalUnboosted = p.TotalUnboosted.Sub(amount)
	p.TotalBoosted = p.TotalBoosted.Add(boostCredit)
	p.TotalDeposited = p.TotalDeposited.Sub(amount).Add(boostCredit)
	p.HeldProceeds = p.HeldProceeds.Add(amount)
	if err := e.users.RebaseDebt(pid, user, p.AccRewardPerShare); err != nil {
		return err
	}

	e.logger.Info().
		Uint64("pid", uint64(pid)).
		Str("user", user).
		Str("converted", amount.String()).
		Str("boostCredit", boostCredit.String()).
		Msg("Boost increased")
	return nil
}

// TransferPoints moves settled points between users of one pool without
// moving principal. Restricted to whitelisted (caller, source) pairs. Both
// sides are settled first so the cap is the source's full pending balance.
func (e *Engine) TransferPoints(caller string, pid types.PoolID, from, to string, amount sdkmath.Int) (sdkmath.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.users.IsWhitelisted(caller, from) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: caller %s, source %s", ErrNotWhitelisted, caller, from)
	}
	cur := e.blocks.CurrentBlock()
	p, err := e.pools.Mutate(pid)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := e.pools.UpdatePool(pid, cur); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := e.users.Settle(pid, from, p.AccRewardPerShare); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := e.users.Settle(pid, to, p.AccRewardPerShare); err != nil {
		return sdkmath.ZeroInt(), err
	}
	return e.users.TransferPoints(caller, pid, from, to, amount)
}

// UpdatePool advances one pool's accumulator to the current block. Calling
// it twice at the same height is a no-op the second time.
func (e *Engine) UpdatePool(pid types.PoolID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pools.UpdatePool(pid, e.blocks.CurrentBlock())
}

// MassUpdatePools advances every pool to the current block.
func (e *Engine) MassUpdatePools() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pools.MassUpdate(e.blocks.CurrentBlock())
}

// PendingPoints derives a user's claimable points as if UpdatePool ran at
// the current block. Read-only and safe to retry.
func (e *Engine) PendingPoints(pid types.PoolID, user string) (sdkmath.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	acc, err := e.pools.AccAt(pid, e.blocks.CurrentBlock())
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return e.users.PendingPoints(pid, user, acc)
}

// UserInfo returns a copy of the ledger entry for (pid, user).
func (e *Engine) UserInfo(pid types.PoolID, user string) (types.UserInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.pools.Mutate(pid); err != nil {
		return types.UserInfo{}, err
	}
	return e.users.Get(pid, user), nil
}

// PoolUserInfo is one row of an aggregated per-user view across pools.
type PoolUserInfo struct {
	Pid     types.PoolID   `json:"pid"`
	Asset   string         `json:"asset"`
	Info    types.UserInfo `json:"userInfo"`
	Pending sdkmath.Int    `json:"pendingPoints"`
}

// OptimizedUserInfo returns the user's position and pending points in every
// pool in one consistent read.
func (e *Engine) OptimizedUserInfo(user string) ([]PoolUserInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := e.blocks.CurrentBlock()
	out := make([]PoolUserInfo, 0, e.pools.Len())
	for _, p := range e.pools.Pools() {
		acc, err := e.pools.AccAt(p.ID, cur)
		if err != nil {
			return nil, err
		}
		pending, err := e.users.PendingPoints(p.ID, user, acc)
		if err != nil {
			return nil, err
		}
		out = append(out, PoolUserInfo{
			Pid:     p.ID,
			Asset:   p.Asset,
			Info:    e.users.Get(p.ID, user),
			Pending: pending,
		})
	}
	return out, nil
}

// GetPoolInfo returns read-only snapshots of all pools.
func (e *Engine) GetPoolInfo() []types.Pool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pools.Pools()
}

// PoolInfo returns a read-only snapshot of one pool.
func (e *Engine) PoolInfo(pid types.PoolID) (types.Pool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pools.PoolInfo(pid)
}

// Schedule returns a copy of the emission schedule.
func (e *Engine) Schedule() types.EmissionSchedule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pools.Schedule()
}

// CurrentBlock reports the height the engine currently sees.
func (e *Engine) CurrentBlock() uint64 {
	return e.blocks.CurrentBlock()
}

// AddPool registers a new pool; see registry.AddPool for the atomic
// rate-change semantics of pointsPerBlock.
func (e *Engine) AddPool(weight uint64, asset, description string, startBlock uint64, pointsPerBlock *sdkmath.Int) (types.PoolID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pools.AddPool(weight, asset, description, startBlock, e.blocks.CurrentBlock(), pointsPerBlock)
}

// SetWeight changes one pool's allocation points.
func (e *Engine) SetWeight(pid types.PoolID, weight uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pools.SetWeight(pid, weight, e.blocks.CurrentBlock())
}

// SetWeights changes several pools' allocation points in one accrual step.
func (e *Engine) SetWeights(pids []types.PoolID, weights []uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pools.SetWeights(pids, weights, e.blocks.CurrentBlock())
}

// SetPointsPerBlock changes the global emission rate.
func (e *Engine) SetPointsPerBlock(rate sdkmath.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pools.SetPointsPerBlock(rate, e.blocks.CurrentBlock())
}

// SetEndBlock sets the farming cutoff and the withdrawal window after it.
func (e *Engine) SetEndBlock(endBlock, withdrawalDelay uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pools.SetEndBlock(endBlock, withdrawalDelay, e.blocks.CurrentBlock())
}

// SetBoosterMultiplier changes the multiplier for future boost conversions.
func (e *Engine) SetBoosterMultiplier(multiplier sdkmath.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pools.SetBoosterMultiplier(multiplier, e.blocks.CurrentBlock())
}

// SetUsersWhitelisted grants or revokes point-transfer permission.
func (e *Engine) SetUsersWhitelisted(caller string, sources []string, allowed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.users.SetWhitelisted(caller, sources, allowed)
}

// BlockMultiplier returns the emission-eligible blocks in [from, to).
func (e *Engine) BlockMultiplier(from, to uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pools.BlockMultiplier(from, to)
}

// PoolReward returns the points a pool earns over [from, to) at current
// rates.
func (e *Engine) PoolReward(pid types.PoolID, from, to uint64) (sdkmath.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pools.PoolReward(pid, from, to)
}

// ExportSnapshot captures the whole ledger under the write lock. The result
// is a deep copy; serializing and re-importing it yields an observationally
// identical engine.
func (e *Engine) ExportSnapshot() types.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return types.Snapshot{
		ID:           uuid.NewString(),
		TakenAtBlock: e.blocks.CurrentBlock(),
		Schedule:     e.pools.Schedule(),
		Pools:        e.pools.Pools(),
		Users:        e.users.Records(),
	}
}
