package signal

import (
	"testing"
	"time"

	"github.com/raykavin/trailflow/core"
	"github.com/stretchr/testify/require"
)

func testInstrument() core.Instrument {
	return core.Instrument{
		Symbol:         "BTCUSDT",
		BaseCoin:       "BTC",
		QuoteCoin:      "USDT",
		TickSize:       0.1,
		BasePrecision:  0.0001,
		QuotePrecision: 0.01,
	}
}

func TestCheckSpread(t *testing.T) {
	lots := []core.Lot{{AvgPrice: 100}}

	// A lot inside the exclusion band blocks the buy.
	ok, near := CheckSpread(lots, 100.5, 1)
	require.False(t, ok)
	require.Greater(t, near, 0.0)

	// Far enough away the buy passes.
	ok, near = CheckSpread(lots, 102, 1)
	require.True(t, ok)
	require.Zero(t, near)

	// No lots, nothing to collide with.
	ok, _ = CheckSpread(nil, 100, 1)
	require.True(t, ok)
}

func TestMatrix_DecideAllGatesDisabled(t *testing.T) {
	matrix := NewMatrix(Config{}, testInstrument(), nil)

	decision := matrix.Decide(100, nil, "1m")
	require.True(t, decision.Buy)
	require.Contains(t, decision.Message, "BUY!")
}

func TestMatrix_DecideSpreadBlocks(t *testing.T) {
	cfg := Config{Spread: SpreadConfig{Enabled: true, Distance: 1}}
	matrix := NewMatrix(cfg, testInstrument(), nil)

	lots := []core.Lot{{AvgPrice: 100}}
	decision := matrix.Decide(100.5, lots, "1m")
	require.False(t, decision.Buy)
	require.Contains(t, decision.Message, "NO BUY")
	require.Contains(t, decision.Message, "Spread")
}

func TestMatrix_DecidePriceCeiling(t *testing.T) {
	cfg := Config{PriceLimit: PriceLimitConfig{Enabled: true, MaxBuy: 100}}
	matrix := NewMatrix(cfg, testInstrument(), nil)

	require.False(t, matrix.Decide(100, nil, "1m").Buy)
	require.True(t, matrix.Decide(99.9, nil, "1m").Buy)
}

func TestMatrix_OrderbookGate(t *testing.T) {
	cfg := Config{Orderbook: OrderbookConfig{
		Enabled:   true,
		Minimum:   55,
		Maximum:   100,
		Timeframe: time.Minute,
		Limit:     3,
	}}
	matrix := NewMatrix(cfg, testInstrument(), nil)

	// The neutral default of 50% blocks until the window fills.
	require.False(t, matrix.Decide(100, nil, "1m").Buy)

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		matrix.OnDepth(core.DepthSnapshot{
			Time:        base.Add(time.Duration(i) * time.Second),
			BuyPercent:  60,
			SellPercent: 40,
		})
	}

	require.True(t, matrix.Decide(100, nil, "1m").Buy)
}

func TestMatrix_TradeFlowGate(t *testing.T) {
	cfg := Config{Trade: TradeConfig{Enabled: true, Minimum: 55, Maximum: 100, Limit: 10}}
	matrix := NewMatrix(cfg, testInstrument(), nil)

	matrix.OnFlow(core.FlowEntry{Price: 100, Size: 3, Side: core.SideBuy})
	matrix.OnFlow(core.FlowEntry{Price: 100, Size: 1, Side: core.SideSell})

	// 75% buy turnover passes the gate.
	require.True(t, matrix.Decide(100, nil, "1m").Buy)

	matrix.OnFlow(core.FlowEntry{Price: 100, Size: 6, Side: core.SideSell})
	require.False(t, matrix.Decide(100, nil, "1m").Buy)
}

func TestMatrix_IndicatorGateWaitsForBars(t *testing.T) {
	cfg := Config{Indicators: IndicatorsConfig{
		Enabled:   true,
		Intervals: [3]string{"1m"},
		Minimum:   -1,
		Maximum:   1,
	}}
	matrix := NewMatrix(cfg, testInstrument(), nil)

	// Without enough bars the interval never reports and the gate
	// stays closed.
	decision := matrix.Decide(100, nil, "1m")
	require.False(t, decision.Buy)
	require.Contains(t, decision.Message, "?")
}

func TestMatrix_IndicatorGateScores(t *testing.T) {
	cfg := Config{Indicators: IndicatorsConfig{
		Enabled:   true,
		Intervals: [3]string{"1m"},
		Minimum:   -1,
		Maximum:   1,
	}}
	matrix := NewMatrix(cfg, testInstrument(), nil)
	matrix.SetScorer(func([]core.Kline, float64) Score {
		return Score{Value: 0.4, Level: LevelBuy}
	})

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < minScoreBars; i++ {
		matrix.OnKline(core.Kline{
			Time:     base.Add(time.Duration(i) * time.Minute),
			Close:    100,
			Interval: "1m",
		})
	}

	decision := matrix.Decide(100, nil, "1m")
	require.True(t, decision.Buy)
	require.Contains(t, decision.Message, "0.40")
}

func TestMatrix_IndicatorAverageNeedsAllIntervals(t *testing.T) {
	cfg := Config{Indicators: IndicatorsConfig{
		Enabled:   true,
		Intervals: [3]string{"1m", "5m"},
		Minimum:   -1,
		Maximum:   1,
		Average:   true,
	}}
	matrix := NewMatrix(cfg, testInstrument(), nil)
	matrix.SetScorer(func([]core.Kline, float64) Score {
		return Score{Value: 0.4, Level: LevelBuy}
	})

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < minScoreBars; i++ {
		matrix.OnKline(core.Kline{Time: base.Add(time.Duration(i) * time.Minute), Close: 100, Interval: "1m"})
	}

	// Only one of two intervals has reported; the average is unknown.
	require.False(t, matrix.Decide(100, nil, "1m").Buy)

	for i := 0; i < minScoreBars; i++ {
		matrix.OnKline(core.Kline{Time: base.Add(time.Duration(i) * 5 * time.Minute), Close: 100, Interval: "5m"})
	}
	require.False(t, matrix.Decide(100, nil, "1m").Buy)

	// The second interval must report through its own update.
	decision := matrix.Decide(100, nil, "5m")
	require.True(t, decision.Buy)
	require.Contains(t, decision.Message, "average: 0.40")
}

func TestAdviceLevel(t *testing.T) {
	require.Equal(t, LevelStrongBuy, adviceLevel(0.6))
	require.Equal(t, LevelBuy, adviceLevel(0.2))
	require.Equal(t, LevelNeutral, adviceLevel(0))
	require.Equal(t, LevelSell, adviceLevel(-0.2))
	require.Equal(t, LevelStrongSell, adviceLevel(-0.7))
}
