package optimizer

import (
	"testing"
	"time"

	"github.com/raykavin/trailflow/core"
	"github.com/raykavin/trailflow/market"
	"github.com/stretchr/testify/require"
)

func minuteHistory(prices ...float64) *market.History {
	hist := market.NewHistory(24 * time.Hour)
	base := time.Now().Truncate(time.Minute).Add(-time.Duration(len(prices)) * time.Minute)
	for i, p := range prices {
		hist.Append(base.Add(time.Duration(i)*time.Minute), p)
	}
	return hist
}

func testConfig() Config {
	return Config{
		Enabled:  true,
		Interval: time.Minute,
		Window:   3,
		Scaler:   1,
		AdjMin:   -10,
		AdjMax:   10,
	}
}

func TestOptimizer_WaitsForMinAge(t *testing.T) {
	cfg := testConfig()
	cfg.MinAge = time.Hour
	opt := New(cfg, 1, 0.5, 0.2, nil)

	tuning := opt.Optimize(minuteHistory(100, 101, 102))
	require.False(t, tuning.Applied)
	require.Equal(t, 1.0, tuning.Profit)
	require.Equal(t, 0.5, tuning.Distance)
	require.False(t, opt.Halted())
}

func TestOptimizer_VolatilitySpikeScalesUp(t *testing.T) {
	opt := New(testConfig(), 1, 0.5, 0.2, nil)

	// Flat prices then a jump: the latest rolling volatility sits far
	// above its mean and the adjustment clamps at the maximum.
	hist := minuteHistory(100, 100, 100, 100, 100, 100, 110)
	tuning := opt.Optimize(hist)

	require.True(t, tuning.Applied)
	require.InDelta(t, 1.1, tuning.Profit, 1e-9)
	require.InDelta(t, 0.55, tuning.Distance, 1e-9)
	// Spread scaling is off by default.
	require.Equal(t, 0.2, tuning.Spread)
}

func TestOptimizer_SpreadScaling(t *testing.T) {
	cfg := testConfig()
	cfg.SpreadEnabled = true
	opt := New(cfg, 1, 0.5, 0.2, nil)

	tuning := opt.Optimize(minuteHistory(100, 100, 100, 100, 100, 100, 110))
	require.True(t, tuning.Applied)
	require.InDelta(t, 0.22, tuning.Spread, 1e-9)
}

func TestOptimizer_SteadyVolatilityLeavesBaselines(t *testing.T) {
	opt := New(testConfig(), 1, 0.5, 0.2, nil)

	// Perfectly alternating prices give the same volatility in every
	// window, so the deviation is exactly zero.
	hist := minuteHistory(100, 101, 100, 101, 100, 101, 100, 101)
	tuning := opt.Optimize(hist)

	require.False(t, tuning.Applied)
	require.Equal(t, 1.0, tuning.Profit)
	require.False(t, opt.Halted())
}

func TestOptimizer_HaltsAfterRepeatedFailures(t *testing.T) {
	opt := New(testConfig(), 1, 0.5, 0.2, nil)

	// Constant prices have zero volatility everywhere: the mean is zero
	// and every run fails.
	hist := minuteHistory(100, 100, 100, 100, 100, 100)
	for i := 0; i < 3; i++ {
		require.False(t, opt.Optimize(hist).Applied)
	}
	require.True(t, opt.Halted())

	// A fresh bucket with real movement makes the next run succeed and
	// resets the error streak.
	hist.Append(time.Now().Truncate(time.Minute), 110)
	require.True(t, opt.Optimize(hist).Applied)
	require.False(t, opt.Halted())
}

func TestOptimizer_WantsSide(t *testing.T) {
	opt := New(testConfig(), 1, 0.5, 0.2, nil)
	require.True(t, opt.WantsSide(core.SideBuy))
	require.True(t, opt.WantsSide(core.SideSell))

	cfg := testConfig()
	cfg.Sides = []core.Side{core.SideSell}
	opt = New(cfg, 1, 0.5, 0.2, nil)
	require.False(t, opt.WantsSide(core.SideBuy))
	require.True(t, opt.WantsSide(core.SideSell))
}
