// Package trailflow wires the trading session together: one exchange
// gateway, one market data feeder, a lot ledger, a buy decision matrix
// and a single trailing order controller driven by a serialized event
// loop.
package trailflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/raykavin/trailflow/config"
	"github.com/raykavin/trailflow/core"
	"github.com/raykavin/trailflow/distance"
	"github.com/raykavin/trailflow/ledger"
	"github.com/raykavin/trailflow/market"
	"github.com/raykavin/trailflow/notification"
	"github.com/raykavin/trailflow/optimizer"
	"github.com/raykavin/trailflow/signal"
	"github.com/raykavin/trailflow/storage"
	"github.com/raykavin/trailflow/trailing"
)

// DefaultLog is the process-wide logger, configured from the
// environment by init.
var DefaultLog core.Logger = core.NopLogger{}

// Bot is one live trading session for a single symbol.
type Bot struct {
	cfg *config.Config
	log core.Logger

	gateway  core.OrderGateway
	feeder   core.Feeder
	storage  core.LotStorage
	revenue  core.RevenueRecorder
	notifier core.Notifier
	scorer   signal.Scorer

	inst   core.Instrument
	book   *ledger.Ledger
	engine *distance.Engine
	matrix *signal.Matrix
	trail  *trailing.Controller
	opt    *optimizer.Optimizer
	hist   *market.History

	intervals []string
	queries   chan func()
	halted    bool

	compoundStart float64
	compoundNow   float64
}

// NewBot assembles a session from the configuration and the injected
// exchange surfaces. The gateway is queried for instrument data and the
// lot ledger is loaded before the bot is returned.
func NewBot(
	ctx context.Context,
	cfg *config.Config,
	gateway core.OrderGateway,
	feeder core.Feeder,
	options ...Option,
) (*Bot, error) {
	bot := &Bot{
		cfg:     cfg,
		log:     DefaultLog,
		gateway: gateway,
		feeder:  feeder,
		queries: make(chan func()),
	}

	for _, option := range options {
		option(bot)
	}

	if bot.notifier == nil {
		bot.notifier = notification.NewLogNotifier(bot.log)
	}
	if err := bot.initStorage(); err != nil {
		return nil, err
	}

	inst, err := gateway.Instrument(ctx)
	if err != nil {
		return nil, fmt.Errorf("load instrument: %w", err)
	}

	spot, err := lastClose(ctx, gateway)
	if err != nil {
		return nil, err
	}

	if cfg.Compounding.Enabled {
		bot.compoundStart = cfg.Compounding.Start
		bot.compoundNow = cfg.Compounding.Start
	}
	inst.Recalc(spot, cfg.Multiplier, bot.compoundRatio())
	bot.inst = inst

	bot.book = ledger.New(bot.storage, bot.log)
	if err := bot.book.Load(ctx); err != nil {
		return nil, fmt.Errorf("load lot ledger: %w", err)
	}

	bot.engine = distance.NewEngine(distanceConfig(cfg), gateway.Klines, bot.log)
	bot.matrix = signal.NewMatrix(signalConfig(cfg), inst, bot.log)
	if bot.scorer != nil {
		bot.matrix.SetScorer(bot.scorer)
	}
	bot.intervals = indicatorIntervals(cfg)

	bot.trail = trailing.NewController(
		gateway, bot.engine, bot.book, inst, cfg.Distance.Percentage,
		trailing.Config{
			Profit:          cfg.Profit.Percentage,
			SpikeMargin:     cfg.Spike.Margin,
			StuckInterval:   config.Duration(cfg.Timers.StuckCheck, 2*time.Minute),
			Rebalance:       cfg.Rebalance.Enabled,
			RebalanceMargin: cfg.Rebalance.Margin,
		},
		bot.log,
	)
	bot.trail.SetNotifier(bot.notifier)
	bot.trail.SetRevenueRecorder(bot.revenue)
	bot.trail.SetOnClose(bot.onTrailClose)

	if cfg.Optimizer.Enabled {
		bot.opt = optimizer.New(
			optimizerConfig(cfg),
			cfg.Profit.Percentage,
			cfg.Distance.Percentage,
			cfg.Buy.Spread.Distance,
			bot.log,
		)
	}

	histWindow := config.Duration(cfg.Optimizer.MinAge, time.Hour)
	if histWindow < time.Hour {
		histWindow = time.Hour
	}
	bot.hist = market.NewHistory(histWindow)

	return bot, nil
}

// SetNotifier replaces the notifier after construction, used when the
// notifier itself needs bot callbacks.
func (b *Bot) SetNotifier(notifier core.Notifier) {
	b.notifier = notifier
	b.trail.SetNotifier(notifier)
}

// Instrument returns the current instrument data.
func (b *Bot) Instrument() core.Instrument { return b.inst }

// Start reconciles the ledger against the exchange, brings up the data
// feed and runs the event loop until ctx is cancelled or trading halts.
func (b *Bot) Start(ctx context.Context) error {
	defer b.shutdown()

	if b.cfg.Rebalance.Enabled {
		if err := b.reconcile(ctx); err != nil {
			return err
		}
	}

	if starter, ok := b.notifier.(core.NotifierWithStart); ok {
		starter.Start()
	}

	if err := b.feeder.Start(ctx); err != nil {
		return fmt.Errorf("start feed: %w", err)
	}

	b.log.WithFields(map[string]any{
		"symbol": b.inst.Symbol,
		"lots":   b.book.Count(),
	}).Info("Session started")
	b.notifier.Notify(fmt.Sprintf(
		"Session started for %s with %d lot(s) in the ledger",
		b.inst.Symbol, b.book.Count(),
	))

	return b.run(ctx)
}

// reconcile aligns the ledger with the exchange base balance before
// trading starts, dropping lots the exchange can no longer cover.
func (b *Bot) reconcile(ctx context.Context) error {
	balance, err := b.gateway.GetBalance(ctx, b.inst.BaseCoin)
	if err != nil {
		return fmt.Errorf("load %s balance: %w", b.inst.BaseCoin, err)
	}

	removed, err := b.book.Rebalance(ctx, balance.Equity, b.inst.BuyBase, b.cfg.Rebalance.Margin)
	if err != nil {
		return err
	}
	if removed > 0 {
		b.log.WithFields(map[string]any{
			"qty":      b.inst.FormatQty(removed),
			"exchange": b.inst.FormatQty(balance.Equity),
		}).Warn("Ledger exceeded exchange balance, lots dropped")
	}
	return nil
}

func (b *Bot) initStorage() error {
	if b.storage == nil {
		store, err := openLotStorage(b.cfg.Storage)
		if err != nil {
			return fmt.Errorf("open lot storage: %w", err)
		}
		b.storage = store
	}
	if b.revenue == nil {
		path := b.cfg.Storage.RevenuePath
		if path == "" {
			path = config.DefaultRevenuePath
		}
		rec, err := storage.NewRevenueLog(path)
		if err != nil {
			return fmt.Errorf("open revenue log: %w", err)
		}
		b.revenue = rec
	}
	return nil
}

func (b *Bot) shutdown() {
	b.feeder.Stop()
	if err := b.storage.Close(); err != nil {
		b.log.WithError(err).Error("Closing lot storage failed")
	}
	b.log.Info("Session stopped")
}

// queryTimeout bounds how long a notifier command handler waits for the
// event loop to pick up its query.
const queryTimeout = 5 * time.Second

// ask runs fn on the event loop and waits for it to finish. Notifier
// command handlers arrive on the telebot goroutine; running their state
// reads inside the loop keeps all session state single-writer.
func (b *Bot) ask(fn func()) bool {
	done := make(chan struct{})
	select {
	case b.queries <- func() {
		fn()
		close(done)
	}:
		<-done
		return true
	case <-time.After(queryTimeout):
		return false
	}
}

// Status renders a short human-readable session summary, exposed to the
// notifier as a command handler.
func (b *Bot) Status() string {
	var out string
	if !b.ask(func() { out = b.statusReport() }) {
		return "The session is not running"
	}
	return out
}

func (b *Bot) statusReport() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Symbol: %s\n", b.inst.Symbol)
	fmt.Fprintf(&sb, "Lots in ledger: %d (%s %s)\n",
		b.book.Count(), b.inst.FormatQty(b.book.TotalQuantity()), b.inst.BaseCoin)
	fmt.Fprintf(&sb, "Profit target: %.4f%% / distance: %.4f%%\n",
		b.trail.Profit(), b.trail.Distance())

	if tick, ok := b.hist.Last(); ok {
		fmt.Fprintf(&sb, "Last price: %s\n", b.inst.FormatPrice(tick.Price))
	}
	if b.trail.Active() {
		order := b.trail.Order()
		fmt.Fprintf(&sb, "Active trail: %s %s @ trigger %s\n",
			order.Side, b.inst.FormatQty(order.Qty), b.inst.FormatPrice(order.Trigger))
	} else {
		sb.WriteString("Active trail: none\n")
	}
	if b.cfg.Compounding.Enabled {
		fmt.Fprintf(&sb, "Compounding: %s -> %s %s\n",
			b.inst.FormatQuote(b.compoundStart), b.inst.FormatQuote(b.compoundNow), b.inst.QuoteCoin)
	}
	if b.halted {
		sb.WriteString("Trading is HALTED\n")
	}
	return sb.String()
}

// BalanceReport fetches the base and quote balances for the notifier
// balance command. The instrument is snapshotted through the event loop
// and the network calls stay on the caller's goroutine.
func (b *Bot) BalanceReport() (string, error) {
	var inst core.Instrument
	if !b.ask(func() { inst = b.inst }) {
		return "", fmt.Errorf("the session is not running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	base, err := b.gateway.GetBalance(ctx, inst.BaseCoin)
	if err != nil {
		return "", err
	}
	quote, err := b.gateway.GetBalance(ctx, inst.QuoteCoin)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s: %s (free %s)\n%s: %s (free %s)",
		inst.BaseCoin, inst.FormatQty(base.Equity), inst.FormatQty(base.Available),
		inst.QuoteCoin, inst.FormatQuote(quote.Equity), inst.FormatQuote(quote.Available),
	), nil
}

// onTrailClose feeds realized sell revenue into the compounding pot.
func (b *Bot) onTrailClose(_ context.Context, side core.Side, revenue float64) {
	if side != core.SideSell || !b.cfg.Compounding.Enabled {
		return
	}
	b.compoundNow += revenue
	b.log.WithFields(map[string]any{
		"revenue": b.inst.FormatQuote(revenue),
		"pot":     b.inst.FormatQuote(b.compoundNow),
	}).Info("Compounding pot updated")
}

// compoundRatio is the order size multiplier earned by compounding.
// Losses never shrink orders below the configured base size.
func (b *Bot) compoundRatio() float64 {
	if !b.cfg.Compounding.Enabled || b.compoundStart <= 0 {
		return 1
	}
	ratio := b.compoundNow / b.compoundStart
	if ratio < 1 {
		return 1
	}
	return ratio
}

// lastClose fetches the most recent complete 1m close for initial order
// sizing.
func lastClose(ctx context.Context, gateway core.OrderGateway) (float64, error) {
	bars, err := gateway.Klines(ctx, "1m", 1)
	if err != nil {
		return 0, fmt.Errorf("load spot price: %w", err)
	}
	if len(bars) == 0 {
		return 0, fmt.Errorf("load spot price: empty kline response")
	}
	return bars[len(bars)-1].Close, nil
}

func openLotStorage(cfg config.StorageConfig) (core.LotStorage, error) {
	path := cfg.Path
	if path == "" {
		path = config.DefaultStoragePath
	}
	switch strings.ToLower(cfg.Backend) {
	case "", "buntdb":
		return storage.NewBuntLotStorage(path)
	case "sqlite":
		return storage.NewSQLiteLotStorage(path, storage.DefaultSQLConfig())
	case "memory":
		return storage.NewBuntFromMemory()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// indicatorIntervals returns the configured indicator timeframes with
// empties removed.
func indicatorIntervals(cfg *config.Config) []string {
	var intervals []string
	for _, interval := range cfg.Buy.Indicators.Intervals {
		if interval != "" {
			intervals = append(intervals, interval)
		}
	}
	return intervals
}

func distanceConfig(cfg *config.Config) distance.Config {
	return distance.Config{
		Method:         distance.Method(cfg.Distance.Method),
		WaveTimeframe:  config.Duration(cfg.Distance.WaveTimeframe, time.Minute),
		WaveMultiplier: cfg.Distance.WaveMultiplier,
		WaveMinimum:    cfg.Distance.WaveMinimum,
		WavePeaks:      cfg.Distance.WavePeaks,
		ATRInterval:    config.Duration(cfg.Distance.ATRInterval, time.Minute),
		PricesLimit:    cfg.Distance.PricesLimit,
	}
}

func signalConfig(cfg *config.Config) signal.Config {
	var intervals [3]string
	for i, interval := range cfg.Buy.Indicators.Intervals {
		if i >= len(intervals) {
			break
		}
		intervals[i] = interval
	}
	return signal.Config{
		Indicators: signal.IndicatorsConfig{
			Enabled:    cfg.Buy.Indicators.Enabled,
			Intervals:  intervals,
			Minimum:    cfg.Buy.Indicators.Minimum,
			Maximum:    cfg.Buy.Indicators.Maximum,
			Average:    cfg.Buy.Indicators.Average,
			KlineLimit: cfg.Buy.Indicators.Limit,
		},
		Spread: signal.SpreadConfig{
			Enabled:  cfg.Buy.Spread.Enabled,
			Distance: cfg.Buy.Spread.Distance,
		},
		Orderbook: signal.OrderbookConfig{
			Enabled:   cfg.Buy.Orderbook.Enabled,
			Minimum:   cfg.Buy.Orderbook.Minimum,
			Maximum:   cfg.Buy.Orderbook.Maximum,
			Timeframe: config.Duration(cfg.Buy.Orderbook.Timeframe, time.Minute),
			Limit:     cfg.Buy.Orderbook.Limit,
		},
		Trade: signal.TradeConfig{
			Enabled: cfg.Buy.Trade.Enabled,
			Minimum: cfg.Buy.Trade.Minimum,
			Maximum: cfg.Buy.Trade.Maximum,
			Limit:   cfg.Buy.Trade.Limit,
		},
		PriceLimit: signal.PriceLimitConfig{
			Enabled: cfg.Buy.PriceLimit.Enabled,
			MaxBuy:  cfg.Buy.PriceLimit.MaxBuy,
		},
	}
}

func optimizerConfig(cfg *config.Config) optimizer.Config {
	var sides []core.Side
	for _, side := range cfg.Optimizer.Sides {
		sides = append(sides, core.Side(side))
	}
	return optimizer.Config{
		Enabled:       cfg.Optimizer.Enabled,
		Interval:      config.Duration(cfg.Optimizer.Interval, time.Minute),
		MinAge:        config.Duration(cfg.Optimizer.MinAge, time.Hour),
		Scaler:        cfg.Optimizer.Scaler,
		AdjMin:        cfg.Optimizer.AdjMin,
		AdjMax:        cfg.Optimizer.AdjMax,
		SpreadEnabled: cfg.Optimizer.SpreadEnabled,
		Sides:         sides,
	}
}
