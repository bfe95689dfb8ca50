package trailflow

import (
	"context"
	"testing"

	"github.com/raykavin/trailflow/config"
	"github.com/raykavin/trailflow/core"
	"github.com/stretchr/testify/require"
)

type stubGateway struct {
	inst core.Instrument
}

func (g *stubGateway) Instrument(context.Context) (core.Instrument, error) { return g.inst, nil }

func (g *stubGateway) PlaceOrder(context.Context, core.Side, float64, float64) (int64, error) {
	return 1, nil
}

func (g *stubGateway) AmendOrder(_ context.Context, orderID int64, _, _ float64) (int64, error) {
	return orderID, nil
}

func (g *stubGateway) CancelOrder(context.Context, int64) error { return nil }

func (g *stubGateway) GetOrder(context.Context, int64) (core.Order, error) {
	return core.Order{}, nil
}

func (g *stubGateway) GetFills(context.Context, int64) (core.Fill, error) {
	return core.Fill{}, nil
}

func (g *stubGateway) GetBalance(context.Context, string) (core.Balance, error) {
	return core.Balance{Equity: 50, Available: 40}, nil
}

func (g *stubGateway) Klines(context.Context, string, int) ([]core.Kline, error) {
	return []core.Kline{{Close: 100}}, nil
}

type stubFeeder struct {
	ticks  chan core.Tick
	klines chan core.Kline
	depth  chan core.DepthSnapshot
	flow   chan core.FlowEntry
}

func newStubFeeder() *stubFeeder {
	return &stubFeeder{
		ticks:  make(chan core.Tick),
		klines: make(chan core.Kline),
		depth:  make(chan core.DepthSnapshot),
		flow:   make(chan core.FlowEntry),
	}
}

func (f *stubFeeder) Ticks() <-chan core.Tick { return f.ticks }

func (f *stubFeeder) Klines(string) <-chan core.Kline { return f.klines }

func (f *stubFeeder) Depth() <-chan core.DepthSnapshot { return f.depth }

func (f *stubFeeder) Flow() <-chan core.FlowEntry { return f.flow }

func (f *stubFeeder) Start(context.Context) error { return nil }

func (f *stubFeeder) Resubscribe(context.Context) error { return nil }

func (f *stubFeeder) Stop() {}

type stubStorage struct {
	lots []core.Lot
}

func (s *stubStorage) Load(context.Context) ([]core.Lot, error) { return s.lots, nil }

func (s *stubStorage) Save(_ context.Context, lots []core.Lot) error {
	s.lots = lots
	return nil
}

func (s *stubStorage) Close() error { return nil }

type stubRecorder struct{}

func (stubRecorder) Record(context.Context, core.RevenueRecord) error { return nil }

func testBotConfig() *config.Config {
	cfg := &config.Config{Symbol: "BTCUSDT", Multiplier: 1}
	cfg.Profit.Percentage = 1
	cfg.Distance.Method = "Fixed"
	cfg.Distance.Percentage = 0.5
	cfg.Buy.Indicators.Intervals = []string{"1m"}
	return cfg
}

// Status and BalanceReport arrive on the notifier's goroutine; both
// must read session state through the event loop, never directly.
func TestBot_QueriesServedByEventLoop(t *testing.T) {
	gateway := &stubGateway{inst: core.Instrument{
		Symbol:         "BTCUSDT",
		BaseCoin:       "BTC",
		QuoteCoin:      "USDT",
		TickSize:       0.1,
		BasePrecision:  0.0001,
		QuotePrecision: 0.01,
		MinOrderQuote:  5,
	}}

	bot, err := NewBot(context.Background(), testBotConfig(), gateway, newStubFeeder(),
		WithLogger(core.NopLogger{}),
		WithStorage(&stubStorage{}),
		WithRevenueRecorder(stubRecorder{}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Start(ctx) }()

	status := bot.Status()
	require.Contains(t, status, "BTCUSDT")
	require.Contains(t, status, "Active trail: none")

	report, err := bot.BalanceReport()
	require.NoError(t, err)
	require.Contains(t, report, "BTC")
	require.Contains(t, report, "USDT")

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
