/*

This file contains the user ledger: the per-(pool, user) entry map plus the
settle/mutate/rebase primitives the reward engine sequences. The ledger only
mutates user entries; pool totals are adjusted by the engine inside the same
atomic step so the two sides can never be observed out of sync.

Entries default to a zero-valued record on first access and are never
deleted: a fully withdrawn user keeps an entry for audit history.

*/

package ledger

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/farmworks/pointsfarm/internal/fixedpoint"
	"github.com/farmworks/pointsfarm/internal/logger"
	"github.com/farmworks/pointsfarm/internal/types"
)

type entryKey struct {
	Pid  types.PoolID
	User string
}

type whitelistKey struct {
	Caller string
	Source string
}

// Ledger owns all per-(pool, user) entries and the point-transfer whitelist.
type Ledger struct {
	logger    zerolog.Logger
	entries   map[entryKey]*types.UserInfo
	order     []entryKey // insertion order, for deterministic export
	whitelist map[whitelistKey]bool
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		logger:    logger.GetForComponent("user_ledger"),
		entries:   make(map[entryKey]*types.UserInfo),
		order:     []entryKey{},
		whitelist: make(map[whitelistKey]bool),
	}
}

// Restore creates a ledger from exported user records.
func Restore(records []types.UserRecord) (*Ledger, error) {
	l := New()
	for _, rec := range records {
		k := entryKey{Pid: rec.Pid, User: rec.User}
		if _, dup := l.entries[k]; dup {
			return nil, fmt.Errorf("duplicate ledger record for user %s in pool %d", rec.User, rec.Pid)
		}
		info := rec.UserInfo.Clone()
		l.entries[k] = &info
		l.order = append(l.order, k)
	}
	return l, nil
}

// entry returns the mutable record for (pid, user), creating a zero-valued
// one on first access.
func (l *Ledger) entry(pid types.PoolID, user string) *types.UserInfo {
	k := entryKey{Pid: pid, User: user}
	if e, ok := l.entries[k]; ok {
		return e
	}
	e := types.NewUserInfo()
	l.entries[k] = &e
	l.order = append(l.order, k)
	return &e
}

// Get returns a copy of the record for (pid, user); zero-valued if the user
// never interacted with the pool.
func (l *Ledger) Get(pid types.PoolID, user string) types.UserInfo {
	if e, ok := l.entries[entryKey{Pid: pid, User: user}]; ok {
		return e.Clone()
	}
	return types.NewUserInfo()
}

// Settle banks the reward accrued since the user's last mutation:
// pendingDelta = amount * acc / 1e18 - rewardDebt is added to rewardSettled
// and rewardDebt is rebased to the new baseline. Must run after the pool's
// accumulator has been advanced and before any amount mutation; the engine
// enforces that ordering.
func (l *Ledger) Settle(pid types.PoolID, user string, acc sdkmath.Int) error {
	e := l.entry(pid, user)
	baseline, err := fixedpoint.SettleAmount(e.Amount, acc)
	if err != nil {
		return fmt.Errorf("settling user %s in pool %d: %w", user, pid, err)
	}
	e.RewardSettled = e.RewardSettled.Add(baseline).Sub(e.RewardDebt)
	e.RewardDebt = baseline
	return nil
}

// RebaseDebt recomputes rewardDebt from the (possibly mutated) amount. Runs
// as the last step of every state-changing operation.
func (l *Ledger) RebaseDebt(pid types.PoolID, user string, acc sdkmath.Int) error {
	e := l.entry(pid, user)
	baseline, err := fixedpoint.SettleAmount(e.Amount, acc)
	if err != nil {
		return fmt.Errorf("rebasing debt for user %s in pool %d: %w", user, pid, err)
	}
	e.RewardDebt = baseline
	return nil
}

// ApplyDeposit credits principal and an already-converted boost amount to
// the user. Caller must have settled first.
func (l *Ledger) ApplyDeposit(pid types.PoolID, user string, principal, boost sdkmath.Int) error {
	if err := validateAmount(principal); err != nil {
		return err
	}
	if err := validateAmount(boost); err != nil {
		return err
	}
	e := l.entry(pid, user)
	e.DepositAmount = e.DepositAmount.Add(principal)
	e.BoostAmount = e.BoostAmount.Add(boost)
	e.Amount = e.BoostAmount.Add(e.DepositAmount)
	return nil
}

// ApplyWithdraw removes withdrawable principal. Boost is untouched and keeps
// accruing; it models a locked commitment independent of principal presence.
func (l *Ledger) ApplyWithdraw(pid types.PoolID, user string, principal sdkmath.Int) error {
	if err := validateAmount(principal); err != nil {
		return err
	}
	e := l.entry(pid, user)
	if principal.GT(e.DepositAmount) {
		return fmt.Errorf("%w: withdraw %s exceeds principal %s for user %s in pool %d",
			ErrInsufficientBalance, principal, e.DepositAmount, user, pid)
	}
	e.DepositAmount = e.DepositAmount.Sub(principal)
	e.Amount = e.BoostAmount.Add(e.DepositAmount)
	return nil
}

// ApplyBoost converts existing principal into boost shares. The principal
// leaves the user's withdrawable balance; the credited boost is the caller's
// already-multiplied figure.
func (l *Ledger) ApplyBoost(pid types.PoolID, user string, principal, boost sdkmath.Int) error {
	if err := validateAmount(principal); err != nil {
		return err
	}
	e := l.entry(pid, user)
	if principal.GT(e.DepositAmount) {
		return fmt.Errorf("%w: boost %s exceeds principal %s for user %s in pool %d",
			ErrInsufficientBalance, principal, e.DepositAmount, user, pid)
	}
	e.DepositAmount = e.DepositAmount.Sub(principal)
	e.BoostAmount = e.BoostAmount.Add(boost)
	e.Amount = e.BoostAmount.Add(e.DepositAmount)
	return nil
}

// TransferPoints moves settled points from one user to another without
// moving principal. Both entries must be settled before the call, so "total
// pending" is exactly rewardSettled; the moved amount is capped there. Only
// whitelisted (caller, source) pairs may transfer.
func (l *Ledger) TransferPoints(caller string, pid types.PoolID, from, to string, amount sdkmath.Int) (sdkmath.Int, error) {
	if err := validateAmount(amount); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if !l.IsWhitelisted(caller, from) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: caller %s, source %s", ErrNotWhitelisted, caller, from)
	}
	src := l.entry(pid, from)
	dst := l.entry(pid, to)
	moved := amount
	if moved.GT(src.RewardSettled) {
		moved = src.RewardSettled
	}
	src.RewardSettled = src.RewardSettled.Sub(moved)
	dst.RewardSettled = dst.RewardSettled.Add(moved)
	l.logger.Debug().
		Str("caller", caller).
		Str("from", from).
		Str("to", to).
		Str("moved", moved.String()).
		Uint64("pid", uint64(pid)).
		Msg("Points transferred")
	return moved, nil
}

// PendingPoints derives the user's claimable points against a hypothetical
// accumulator value: amount * acc / 1e18 + rewardSettled - rewardDebt.
func (l *Ledger) PendingPoints(pid types.PoolID, user string, acc sdkmath.Int) (sdkmath.Int, error) {
	e := l.Get(pid, user)
	baseline, err := fixedpoint.SettleAmount(e.Amount, acc)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return baseline.Add(e.RewardSettled).Sub(e.RewardDebt), nil
}

// SetWhitelisted grants or revokes point-transfer permission for a caller
// over a set of source accounts.
func (l *Ledger) SetWhitelisted(caller string, sources []string, allowed bool) {
	for _, source := range sources {
		k := whitelistKey{Caller: caller, Source: source}
		if allowed {
			l.whitelist[k] = true
		} else {
			delete(l.whitelist, k)
		}
	}
	l.logger.Info().
		Str("caller", caller).
		Int("sources", len(sources)).
		Bool("allowed", allowed).
		Msg("Whitelist updated")
}

// IsWhitelisted reports whether a (caller, source) pair may transfer points.
func (l *Ledger) IsWhitelisted(caller, source string) bool {
	return l.whitelist[whitelistKey{Caller: caller, Source: source}]
}

// Records returns all entries in insertion order for export.
func (l *Ledger) Records() []types.UserRecord {
	out := make([]types.UserRecord, 0, len(l.order))
	for _, k := range l.order {
		out = append(out, types.UserRecord{
			User:     k.User,
			Pid:      k.Pid,
			UserInfo: l.entries[k].Clone(),
		})
	}
	return out
}

// RecordsFor returns the entries of one pool in insertion order.
func (l *Ledger) RecordsFor(pid types.PoolID) []types.UserRecord {
	out := []types.UserRecord{}
	for _, k := range l.order {
		if k.Pid == pid {
			out = append(out, types.UserRecord{
				User:     k.User,
				Pid:      k.Pid,
				UserInfo: l.entries[k].Clone(),
			})
		}
	}
	return out
}

func validateAmount(v sdkmath.Int) error {
	if v.IsNil() {
		return fmt.Errorf("%w: nil", ErrInvalidAmount)
	}
	if v.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, v)
	}
	return nil
}
