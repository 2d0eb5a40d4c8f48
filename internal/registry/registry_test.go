package registry

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmworks/pointsfarm/internal/types"
)

func atto(n int64) sdkmath.Int {
	return sdkmath.NewIntWithDecimal(n, 18)
}

func testSchedule() types.EmissionSchedule {
	return types.EmissionSchedule{
		PointsPerBlock:    atto(76),
		StartBlock:        0,
		BoosterMultiplier: sdkmath.NewIntWithDecimal(1, 18),
	}
}

// stakedRegistry builds a registry with one pool holding the given stake.
// Tests mutate the pool total directly; the engine does the same through
// Mutate.
func stakedRegistry(t *testing.T, weight uint64, stake sdkmath.Int, currentBlock uint64) *Registry {
	t.Helper()
	r, err := New(testSchedule())
	require.NoError(t, err)
	_, err = r.AddPool(weight, "sdai", "Savings DAI", 0, currentBlock, nil)
	require.NoError(t, err)
	p, err := r.Mutate(0)
	require.NoError(t, err)
	p.TotalDeposited = stake
	p.TotalUnboosted = stake
	return r
}

func TestNewValidation(t *testing.T) {
	t.Run("nil pointsPerBlock", func(t *testing.T) {
		s := testSchedule()
		s.PointsPerBlock = sdkmath.Int{}
		_, err := New(s)
		assert.ErrorIs(t, err, ErrInvalidSchedule)
	})

	t.Run("non-positive boosterMultiplier", func(t *testing.T) {
		s := testSchedule()
		s.BoosterMultiplier = sdkmath.ZeroInt()
		_, err := New(s)
		assert.ErrorIs(t, err, ErrInvalidSchedule)
	})

	t.Run("endBlock before startBlock", func(t *testing.T) {
		s := testSchedule()
		s.StartBlock = 100
		s.EndBlock = 100
		_, err := New(s)
		assert.ErrorIs(t, err, ErrInvalidSchedule)
	})
}

func TestAddPool(t *testing.T) {
	r, err := New(testSchedule())
	require.NoError(t, err)

	pid, err := r.AddPool(100, "sdai", "Savings DAI", 0, 50, nil)
	require.NoError(t, err)
	assert.Equal(t, types.PoolID(0), pid)
	assert.Equal(t, uint64(100), r.Schedule().TotalWeight)

	t.Run("duplicate asset rejected", func(t *testing.T) {
		_, err := r.AddPool(100, "sdai", "again", 0, 50, nil)
		assert.ErrorIs(t, err, ErrInvalidPool)
	})

	t.Run("empty asset rejected", func(t *testing.T) {
		_, err := r.AddPool(100, "", "", 0, 50, nil)
		assert.ErrorIs(t, err, ErrInvalidPool)
	})

	t.Run("lastRewardBlock starts at the later of current and start", func(t *testing.T) {
		pid, err := r.AddPool(50, "wsteth", "Lido wstETH", 200, 50, nil)
		require.NoError(t, err)
		p, err := r.PoolInfo(pid)
		require.NoError(t, err)
		assert.Equal(t, uint64(200), p.LastRewardBlock)
	})

	t.Run("atomic rate change accrues old rate first", func(t *testing.T) {
		r := stakedRegistry(t, 100, atto(1000), 0)
		newRate := atto(152)
		_, err := r.AddPool(100, "weeth", "EtherFi weETH", 0, 10, &newRate)
		require.NoError(t, err)

		// The first 10 blocks were accrued at 76/block before the rate and
		// weight changed: acc = 76e18 * 10 * 1e18 / 1000e18.
		p, err := r.PoolInfo(0)
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewIntWithDecimal(76, 16), p.AccRewardPerShare)
		assert.Equal(t, atto(760), p.TotalRewards)
		assert.Equal(t, newRate, r.Schedule().PointsPerBlock)
	})
}

func TestUpdatePool(t *testing.T) {
	t.Run("accrues proportional to weight share", func(t *testing.T) {
		r := stakedRegistry(t, 20000, atto(1000), 0)
		_, err := r.AddPool(750000, "wsteth", "Lido wstETH", 0, 0, nil)
		require.NoError(t, err)
		require.Equal(t, uint64(770000), r.Schedule().TotalWeight)

		require.NoError(t, r.UpdatePool(0, 100))
		p, err := r.PoolInfo(0)
		require.NoError(t, err)

		// floor(76e18 * 100 * 20000 / 770000) then floor(reward * 1e18 / 1000e18).
		wantReward, ok := sdkmath.NewIntFromString("197402597402597402597")
		require.True(t, ok)
		wantAcc, ok := sdkmath.NewIntFromString("197402597402597402")
		require.True(t, ok)
		assert.Equal(t, wantReward, p.TotalRewards)
		assert.Equal(t, wantAcc, p.AccRewardPerShare)
		assert.Equal(t, uint64(100), p.LastRewardBlock)
	})

	t.Run("second call at the same height is a no-op", func(t *testing.T) {
		r := stakedRegistry(t, 100, atto(1000), 0)
		require.NoError(t, r.UpdatePool(0, 100))
		before, err := r.PoolInfo(0)
		require.NoError(t, err)

		require.NoError(t, r.UpdatePool(0, 100))
		after, err := r.PoolInfo(0)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("empty pool advances without accruing", func(t *testing.T) {
		r := stakedRegistry(t, 100, sdkmath.ZeroInt(), 0)
		require.NoError(t, r.UpdatePool(0, 100))
		p, err := r.PoolInfo(0)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), p.LastRewardBlock)
		assert.True(t, p.AccRewardPerShare.IsZero())
		assert.True(t, p.TotalRewards.IsZero())
	})

	t.Run("clamped to endBlock", func(t *testing.T) {
		r := stakedRegistry(t, 100, atto(1000), 0)
		require.NoError(t, r.SetEndBlock(100, 10, 0))
		require.NoError(t, r.UpdatePool(0, 500))
		p, err := r.PoolInfo(0)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), p.LastRewardBlock)
		// 100 blocks at the full 76/block.
		assert.Equal(t, atto(7600), p.TotalRewards)

		// Repeated updates past the end change nothing.
		require.NoError(t, r.UpdatePool(0, 1000))
		again, err := r.PoolInfo(0)
		require.NoError(t, err)
		assert.Equal(t, p, again)
	})

	t.Run("unknown pool", func(t *testing.T) {
		r, err := New(testSchedule())
		require.NoError(t, err)
		assert.ErrorIs(t, r.UpdatePool(7, 100), ErrPoolNotFound)
	})
}

func TestAccAtMatchesUpdate(t *testing.T) {
	r := stakedRegistry(t, 20000, atto(1000), 0)
	_, err := r.AddPool(750000, "wsteth", "Lido wstETH", 0, 0, nil)
	require.NoError(t, err)

	hypothetical, err := r.AccAt(0, 100)
	require.NoError(t, err)

	require.NoError(t, r.UpdatePool(0, 100))
	p, err := r.PoolInfo(0)
	require.NoError(t, err)
	assert.Equal(t, p.AccRewardPerShare, hypothetical)

	// AccAt never mutates: the accumulator is unchanged by the query.
	later, err := r.AccAt(0, 200)
	require.NoError(t, err)
	assert.True(t, later.GT(p.AccRewardPerShare))
	unchanged, err := r.PoolInfo(0)
	require.NoError(t, err)
	assert.Equal(t, p, unchanged)
}

func TestSetWeight(t *testing.T) {
	r := stakedRegistry(t, 100, atto(1000), 0)
	_, err := r.AddPool(300, "wsteth", "Lido wstETH", 0, 0, nil)
	require.NoError(t, err)

	// Accrue 10 blocks at 100/400 weight share, then double the weight.
	require.NoError(t, r.SetWeight(0, 200, 10))
	assert.Equal(t, uint64(500), r.Schedule().TotalWeight)

	p, err := r.PoolInfo(0)
	require.NoError(t, err)
	// 76e18 * 10 * 100/400 = 190e18 accrued at the old weight.
	assert.Equal(t, atto(190), p.TotalRewards)
	assert.Equal(t, uint64(10), p.LastRewardBlock)
}

func TestSetWeights(t *testing.T) {
	r := stakedRegistry(t, 100, atto(1000), 0)
	_, err := r.AddPool(300, "wsteth", "Lido wstETH", 0, 0, nil)
	require.NoError(t, err)

	t.Run("length mismatch", func(t *testing.T) {
		err := r.SetWeights([]types.PoolID{0}, []uint64{1, 2}, 0)
		assert.ErrorIs(t, err, ErrMismatchedArrayLengths)
	})

	t.Run("unknown pid rejected before any change", func(t *testing.T) {
		err := r.SetWeights([]types.PoolID{0, 9}, []uint64{1, 2}, 0)
		assert.ErrorIs(t, err, ErrPoolNotFound)
		assert.Equal(t, uint64(400), r.Schedule().TotalWeight)
	})

	t.Run("bulk change in one step", func(t *testing.T) {
		require.NoError(t, r.SetWeights([]types.PoolID{0, 1}, []uint64{50, 150}, 0))
		assert.Equal(t, uint64(200), r.Schedule().TotalWeight)
	})
}

func TestSetEndBlock(t *testing.T) {
	r := stakedRegistry(t, 100, atto(1000), 0)

	require.NoError(t, r.SetEndBlock(1000, 100, 0))
	s := r.Schedule()
	assert.Equal(t, uint64(1000), s.EndBlock)
	assert.Equal(t, uint64(1100), s.EndBlockForWithdrawals)

	t.Run("clearing resets both", func(t *testing.T) {
		require.NoError(t, r.SetEndBlock(0, 0, 0))
		s := r.Schedule()
		assert.Zero(t, s.EndBlock)
		assert.Zero(t, s.EndBlockForWithdrawals)
	})

	t.Run("endBlock at or before start rejected", func(t *testing.T) {
		sched := testSchedule()
		sched.StartBlock = 500
		r2, err := New(sched)
		require.NoError(t, err)
		assert.ErrorIs(t, r2.SetEndBlock(500, 0, 0), ErrInvalidSchedule)
	})
}

func TestBlockMultiplier(t *testing.T) {
	sched := testSchedule()
	sched.StartBlock = 100
	r, err := New(sched)
	require.NoError(t, err)
	require.NoError(t, r.SetEndBlock(1000, 0, 0))

	cases := []struct {
		name     string
		from, to uint64
		want     uint64
	}{
		{"inside the schedule", 200, 300, 100},
		{"clamped to startBlock", 0, 300, 200},
		{"clamped to endBlock", 900, 5000, 100},
		{"entirely before start", 0, 50, 0},
		{"entirely after end", 2000, 3000, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.BlockMultiplier(tc.from, tc.to)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("inverted range", func(t *testing.T) {
		_, err := r.BlockMultiplier(300, 200)
		assert.ErrorIs(t, err, ErrInvalidRange)
	})
}

func TestPoolReward(t *testing.T) {
	r := stakedRegistry(t, 100, atto(1000), 0)
	_, err := r.AddPool(300, "wsteth", "Lido wstETH", 0, 0, nil)
	require.NoError(t, err)

	got, err := r.PoolReward(0, 0, 100)
	require.NoError(t, err)
	// 76e18 * 100 * 100/400.
	assert.Equal(t, atto(1900), got)

	_, err = r.PoolReward(9, 0, 100)
	assert.ErrorIs(t, err, ErrPoolNotFound)
}

func TestMonotonicAccumulator(t *testing.T) {
	r := stakedRegistry(t, 100, atto(1000), 0)
	_, err := r.AddPool(300, "wsteth", "Lido wstETH", 0, 0, nil)
	require.NoError(t, err)

	prev := sdkmath.ZeroInt()
	steps := []func(block uint64) error{
		func(b uint64) error { return r.UpdatePool(0, b) },
		func(b uint64) error { return r.SetWeight(0, 42, b) },
		func(b uint64) error { return r.SetPointsPerBlock(atto(10), b) },
		func(b uint64) error { return r.UpdatePool(0, b) },
		func(b uint64) error { return r.SetWeights([]types.PoolID{0, 1}, []uint64{100, 300}, b) },
		func(b uint64) error { return r.UpdatePool(0, b) },
	}
	for i, step := range steps {
		require.NoError(t, step(uint64(i+1)*10))
		p, err := r.PoolInfo(0)
		require.NoError(t, err)
		assert.True(t, p.AccRewardPerShare.GTE(prev), "accumulator decreased at step %d", i)
		prev = p.AccRewardPerShare
	}
}

func TestRestore(t *testing.T) {
	r := stakedRegistry(t, 100, atto(1000), 0)
	_, err := r.AddPool(300, "wsteth", "Lido wstETH", 0, 0, nil)
	require.NoError(t, err)
	require.NoError(t, r.MassUpdate(50))

	restored, err := Restore(r.Schedule(), r.Pools())
	require.NoError(t, err)
	assert.Equal(t, r.Pools(), restored.Pools())
	assert.Equal(t, r.Schedule(), restored.Schedule())

	t.Run("id out of order rejected", func(t *testing.T) {
		pools := r.Pools()
		pools[0].ID = 1
		_, err := Restore(r.Schedule(), pools)
		assert.ErrorIs(t, err, ErrInvalidPool)
	})
}
