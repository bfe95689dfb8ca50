package trailflow

import (
	"context"
	"time"

	"github.com/raykavin/trailflow/config"
	"github.com/raykavin/trailflow/core"
)

// klineQueueSize bounds the merged kline channel. Updates dropped under
// backpressure are superseded by the next push for the same bar.
const klineQueueSize = 100

// run is the single-writer event loop. Every mutation of the trailing
// state, the ledger and the decision matrix happens here, so none of
// those components need their own locking.
func (b *Bot) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	klines := make(chan core.Kline, klineQueueSize)
	for _, interval := range b.intervals {
		go forwardKlines(ctx, b.feeder.Klines(interval), klines)
	}

	stuckEvery := config.Duration(b.cfg.Timers.StuckCheck, 2*time.Minute)
	stallAfter := config.Duration(b.cfg.Timers.FeedStall, time.Minute)
	infoEvery := config.Duration(b.cfg.Timers.InfoRefresh, time.Hour)

	stuck := time.NewTicker(stuckEvery)
	defer stuck.Stop()
	info := time.NewTicker(infoEvery)
	defer info.Stop()
	stall := time.NewTimer(stallAfter)
	defer stall.Stop()
	equity := time.NewTicker(config.Duration(b.cfg.Timers.BalanceCheck, time.Hour))
	defer equity.Stop()

	var optC <-chan time.Time
	if b.opt != nil {
		optTicker := time.NewTicker(config.Duration(b.cfg.Timers.OptimizerRun, 5*time.Minute))
		defer optTicker.Stop()
		optC = optTicker.C
	}

	ticks := b.feeder.Ticks()
	depth := b.feeder.Depth()
	flow := b.feeder.Flow()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case tick := <-ticks:
			resetTimer(stall, stallAfter)
			b.onTick(ctx, latestTick(ticks, tick))

		case kline := <-klines:
			b.onKline(ctx, kline)

		case snapshot := <-depth:
			b.matrix.OnDepth(snapshot)

		case entry := <-flow:
			b.matrix.OnFlow(entry)

		case <-stuck.C:
			if tick, ok := b.hist.Last(); ok && b.trail.Active() {
				b.trail.Check(ctx, tick.Price)
			}

		case <-stall.C:
			b.log.Warnf("No price update for %s, resubscribing the feed", stallAfter)
			if err := b.feeder.Resubscribe(ctx); err != nil {
				b.log.WithError(err).Error("Feed resubscription failed")
			}
			stall.Reset(stallAfter)

		case <-info.C:
			b.refreshInstrument(ctx)

		case <-equity.C:
			b.checkEquity(ctx)

		case <-optC:
			b.runOptimizer()

		case fn := <-b.queries:
			fn()
		}

		if b.halted {
			b.notifier.OnError(core.ErrHalted)
			return core.ErrHalted
		}
	}
}

// onTick trails the active order or looks for a profitable sell.
func (b *Bot) onTick(ctx context.Context, tick core.Tick) {
	b.hist.Append(tick.Time, tick.Price)
	spot := tick.Price

	if b.trail.Active() {
		b.trail.Trail(ctx, spot, b.hist)
		if b.trail.Active() && b.trail.Order().Side == core.SideSell {
			sells, qty, _ := b.book.Sellable(spot, b.trail.Profit(), b.trail.Distance(), b.inst)
			b.trail.UpdateSellQty(ctx, sells, qty)
		}
		return
	}
	if b.halted {
		return
	}

	sells, qty, riseTo := b.book.Sellable(spot, b.trail.Profit(), b.trail.Distance(), b.inst)
	if qty > 0 {
		if err := b.trail.OpenSell(ctx, spot, qty, sells, b.hist); err != nil {
			b.reportError(err)
		}
		return
	}
	if riseTo > 0 && b.book.Count() > 0 {
		b.log.Debugf("Price must rise %s before the nearest lot sells",
			b.inst.FormatPrice(riseTo))
	}
}

// onKline updates the decision matrix and evaluates a buy.
func (b *Bot) onKline(ctx context.Context, kline core.Kline) {
	b.matrix.OnKline(kline)

	if b.halted || b.trail.Active() {
		return
	}
	tick, ok := b.hist.Last()
	if !ok {
		return
	}

	decision := b.matrix.Decide(tick.Price, b.book.Lots(), kline.Interval)
	if !decision.Buy {
		b.log.Debug(decision.Message)
		return
	}
	b.log.Info(decision.Message)

	if !b.hasBuyFunds(ctx) {
		return
	}
	if err := b.trail.OpenBuy(ctx, tick.Price, b.hist); err != nil {
		b.reportError(err)
	}
}

// hasBuyFunds verifies the quote balance covers one buy order.
func (b *Bot) hasBuyFunds(ctx context.Context) bool {
	balance, err := b.gateway.GetBalance(ctx, b.inst.QuoteCoin)
	if err != nil {
		b.reportError(err)
		return false
	}
	if balance.Available < b.inst.BuyQuote {
		b.log.WithFields(map[string]any{
			"available": b.inst.FormatQuote(balance.Available),
			"required":  b.inst.FormatQuote(b.inst.BuyQuote),
		}).Warn("Not enough funds to buy")
		return false
	}
	return true
}

// refreshInstrument reloads exchange filters and fees, then resizes
// orders with the current compounding ratio.
func (b *Bot) refreshInstrument(ctx context.Context) {
	inst, err := b.gateway.Instrument(ctx)
	if err != nil {
		b.log.WithError(err).Error("Instrument refresh failed")
		return
	}
	tick, ok := b.hist.Last()
	if !ok {
		return
	}

	inst.Recalc(tick.Price, b.cfg.Multiplier, b.compoundRatio())
	b.inst = inst
	b.trail.SetInstrument(inst)
	b.matrix.SetInstrument(inst)
	b.log.WithFields(map[string]any{
		"buy_quote": inst.FormatQuote(inst.BuyQuote),
		"fee_taker": inst.FeeTaker,
	}).Debug("Instrument refreshed")
}

// checkEquity values the account in quote terms and halts the session
// when it drops below the configured floor.
func (b *Bot) checkEquity(ctx context.Context) {
	tick, ok := b.hist.Last()
	if !ok {
		return
	}

	base, err := b.gateway.GetBalance(ctx, b.inst.BaseCoin)
	if err != nil {
		b.log.WithError(err).Error("Equity check failed")
		return
	}
	quote, err := b.gateway.GetBalance(ctx, b.inst.QuoteCoin)
	if err != nil {
		b.log.WithError(err).Error("Equity check failed")
		return
	}

	value := quote.Equity + base.Equity*tick.Price
	b.log.WithFields(map[string]any{
		"base":   b.inst.FormatQty(base.Equity),
		"quote":  b.inst.FormatQuote(quote.Equity),
		"equity": b.inst.FormatQuote(value),
	}).Info("Account equity")

	floor := b.cfg.Funds.MinEquity
	if floor > 0 && value < floor {
		b.log.Errorf("Equity %s fell below the %s floor, halting trading",
			b.inst.FormatQuote(value), b.inst.FormatQuote(floor))
		b.halted = true
	}
}

// runOptimizer retunes profit and distance from recent volatility, and
// halts trading after repeated optimizer failures.
func (b *Bot) runOptimizer() {
	if b.trail.Active() && !b.opt.WantsSide(b.trail.Order().Side) {
		return
	}

	tuning := b.opt.Optimize(b.hist)
	if b.opt.Halted() {
		b.log.Error("Optimizer failed repeatedly, halting trading")
		b.halted = true
		return
	}
	if !tuning.Applied {
		return
	}

	if b.trail.ApplyTuning(tuning.Profit, tuning.Distance) {
		if b.cfg.Optimizer.SpreadEnabled {
			b.matrix.SetSpreadDistance(tuning.Spread)
		}
		b.log.WithFields(map[string]any{
			"profit":   tuning.Profit,
			"distance": tuning.Distance,
		}).Info("Optimizer retuned trailing parameters")
	}
}

func (b *Bot) reportError(err error) {
	b.log.WithError(err).Error("Session error")
	b.notifier.OnError(err)
}

// latestTick drains queued ticks and keeps only the newest one, so a
// slow iteration never processes stale prices.
func latestTick(ticks <-chan core.Tick, tick core.Tick) core.Tick {
	for {
		select {
		case next := <-ticks:
			tick = next
		default:
			return tick
		}
	}
}

// forwardKlines merges one interval stream into the shared kline queue,
// dropping updates under backpressure.
func forwardKlines(ctx context.Context, in <-chan core.Kline, out chan<- core.Kline) {
	for {
		select {
		case <-ctx.Done():
			return
		case kline, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- kline:
			default:
			}
		}
	}
}

// resetTimer safely rearms a timer that may have fired.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
