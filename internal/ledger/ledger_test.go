package ledger

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmworks/pointsfarm/internal/fixedpoint"
	"github.com/farmworks/pointsfarm/internal/types"
)

func atto(n int64) sdkmath.Int {
	return sdkmath.NewIntWithDecimal(n, 18)
}

func TestDepositWithdrawAdditivity(t *testing.T) {
	l := New()

	require.NoError(t, l.ApplyDeposit(0, "alice", atto(600), atto(800)))
	e := l.Get(0, "alice")
	assert.Equal(t, atto(600), e.DepositAmount)
	assert.Equal(t, atto(800), e.BoostAmount)
	assert.Equal(t, atto(1400), e.Amount)
	assert.True(t, e.Additive())

	require.NoError(t, l.ApplyWithdraw(0, "alice", atto(600)))
	e = l.Get(0, "alice")
	assert.True(t, e.DepositAmount.IsZero())
	assert.Equal(t, atto(800), e.BoostAmount)
	assert.Equal(t, atto(800), e.Amount)
	assert.True(t, e.Additive())
}

func TestWithdrawOverPrincipal(t *testing.T) {
	l := New()
	require.NoError(t, l.ApplyDeposit(0, "alice", atto(100), sdkmath.ZeroInt()))

	err := l.ApplyWithdraw(0, "alice", atto(101))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// The failed withdraw left the entry untouched.
	assert.Equal(t, atto(100), l.Get(0, "alice").DepositAmount)
}

func TestApplyBoostMovesPrincipal(t *testing.T) {
	l := New()
	require.NoError(t, l.ApplyDeposit(0, "alice", atto(1000), sdkmath.ZeroInt()))

	// 400 principal converted at a 2x multiplier, credit precomputed by the
	// caller.
	require.NoError(t, l.ApplyBoost(0, "alice", atto(400), atto(800)))
	e := l.Get(0, "alice")
	assert.Equal(t, atto(600), e.DepositAmount)
	assert.Equal(t, atto(800), e.BoostAmount)
	assert.Equal(t, atto(1400), e.Amount)
	assert.True(t, e.Additive())

	err := l.ApplyBoost(0, "alice", atto(601), atto(1202))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestInvalidAmounts(t *testing.T) {
	l := New()
	var nilInt sdkmath.Int

	assert.ErrorIs(t, l.ApplyDeposit(0, "alice", nilInt, sdkmath.ZeroInt()), ErrInvalidAmount)
	assert.ErrorIs(t, l.ApplyDeposit(0, "alice", sdkmath.NewInt(-1), sdkmath.ZeroInt()), ErrInvalidAmount)
	assert.ErrorIs(t, l.ApplyWithdraw(0, "alice", sdkmath.NewInt(-1)), ErrInvalidAmount)
	_, err := l.TransferPoints("caller", 0, "alice", "bob", nilInt)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSettleAndRebase(t *testing.T) {
	l := New()
	require.NoError(t, l.ApplyDeposit(0, "alice", atto(1000), sdkmath.ZeroInt()))

	acc := sdkmath.NewIntWithDecimal(5, 17) // 0.5 points per share so far
	require.NoError(t, l.Settle(0, "alice", acc))
	e := l.Get(0, "alice")
	// First settle: debt was zero, so the full baseline banks.
	assert.Equal(t, atto(500), e.RewardSettled)
	assert.Equal(t, atto(500), e.RewardDebt)

	// Settling again at the same accumulator changes nothing.
	require.NoError(t, l.Settle(0, "alice", acc))
	e = l.Get(0, "alice")
	assert.Equal(t, atto(500), e.RewardSettled)

	// A later accumulator banks only the delta since the last settle.
	acc2 := sdkmath.NewIntWithDecimal(8, 17)
	require.NoError(t, l.Settle(0, "alice", acc2))
	e = l.Get(0, "alice")
	assert.Equal(t, atto(800), e.RewardSettled)
	assert.Equal(t, atto(800), e.RewardDebt)

	// RebaseDebt after a mutation resets the baseline to the new amount.
	require.NoError(t, l.ApplyWithdraw(0, "alice", atto(500)))
	require.NoError(t, l.RebaseDebt(0, "alice", acc2))
	e = l.Get(0, "alice")
	assert.Equal(t, atto(400), e.RewardDebt)
	assert.Equal(t, atto(800), e.RewardSettled)
}

func TestPendingPoints(t *testing.T) {
	l := New()
	require.NoError(t, l.ApplyDeposit(0, "alice", atto(1000), sdkmath.ZeroInt()))

	acc := sdkmath.NewIntWithDecimal(5, 17)
	pending, err := l.PendingPoints(0, "alice", acc)
	require.NoError(t, err)
	assert.Equal(t, atto(500), pending)

	// A user with no entry derives zero against any accumulator.
	pending, err = l.PendingPoints(0, "nobody", acc)
	require.NoError(t, err)
	assert.True(t, pending.IsZero())
}

func TestTransferPoints(t *testing.T) {
	l := New()
	require.NoError(t, l.ApplyDeposit(0, "alice", atto(1000), sdkmath.ZeroInt()))
	require.NoError(t, l.Settle(0, "alice", fixedpoint.Scale)) // 1 point per share

	t.Run("rejected without whitelist", func(t *testing.T) {
		_, err := l.TransferPoints("operator", 0, "alice", "bob", atto(10))
		assert.ErrorIs(t, err, ErrNotWhitelisted)
	})

	l.SetWhitelisted("operator", []string{"alice"}, true)

	t.Run("moves requested amount", func(t *testing.T) {
		moved, err := l.TransferPoints("operator", 0, "alice", "bob", atto(10))
		require.NoError(t, err)
		assert.Equal(t, atto(10), moved)
		assert.Equal(t, atto(990), l.Get(0, "alice").RewardSettled)
		assert.Equal(t, atto(10), l.Get(0, "bob").RewardSettled)
	})

	t.Run("caps at the source balance", func(t *testing.T) {
		moved, err := l.TransferPoints("operator", 0, "alice", "bob", atto(100000))
		require.NoError(t, err)
		assert.Equal(t, atto(990), moved)
		assert.True(t, l.Get(0, "alice").RewardSettled.IsZero())
		assert.Equal(t, atto(1000), l.Get(0, "bob").RewardSettled)
	})

	t.Run("revocation takes effect", func(t *testing.T) {
		l.SetWhitelisted("operator", []string{"alice"}, false)
		_, err := l.TransferPoints("operator", 0, "alice", "bob", atto(1))
		assert.ErrorIs(t, err, ErrNotWhitelisted)
	})
}

func TestRestoreRejectsDuplicates(t *testing.T) {
	rec := types.UserRecord{User: "alice", Pid: 0, UserInfo: types.NewUserInfo()}
	_, err := Restore([]types.UserRecord{rec, rec})
	assert.Error(t, err)
}

func TestRecordsPreserveInsertionOrder(t *testing.T) {
	l := New()
	require.NoError(t, l.ApplyDeposit(1, "bob", atto(1), sdkmath.ZeroInt()))
	require.NoError(t, l.ApplyDeposit(0, "alice", atto(2), sdkmath.ZeroInt()))
	require.NoError(t, l.ApplyDeposit(1, "carol", atto(3), sdkmath.ZeroInt()))

	recs := l.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, "bob", recs[0].User)
	assert.Equal(t, "alice", recs[1].User)
	assert.Equal(t, "carol", recs[2].User)

	pool1 := l.RecordsFor(1)
	require.Len(t, pool1, 2)
	assert.Equal(t, "bob", pool1[0].User)
	assert.Equal(t, "carol", pool1[1].User)

	restored, err := Restore(recs)
	require.NoError(t, err)
	assert.Equal(t, recs, restored.Records())
}
