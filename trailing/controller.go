// Package trailing owns the trailing-order state machine: one active
// conditional order per session, amended as the market moves and
// reconciled against the lot ledger when it closes.
package trailing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/raykavin/trailflow/core"
	"github.com/raykavin/trailflow/distance"
	"github.com/raykavin/trailflow/ledger"
	"github.com/raykavin/trailflow/market"
)

// Config holds the trailing policy knobs.
type Config struct {
	// Profit is the minimum gain percentage a lot must reach before it
	// becomes sellable.
	Profit float64
	// SpikeMargin is the tolerated divergence between the live trigger
	// and spot before an order is considered spiked and abandoned.
	SpikeMargin float64
	// StuckInterval is how often a watching order is rechecked even
	// without a trigger cross.
	StuckInterval time.Duration
	// Rebalance enables destructive ledger reconciliation after closes.
	Rebalance       bool
	RebalanceMargin float64
}

// Controller drives one active trailing order at a time. All entry
// points must be called from the session's single-writer loop; the
// mutex only guards the read-only accessors used by other goroutines.
type Controller struct {
	mu       sync.Mutex
	gateway  core.OrderGateway
	engine   *distance.Engine
	book     *ledger.Ledger
	notifier core.Notifier
	revenue  core.RevenueRecorder
	log      core.Logger
	cfg      Config
	inst     core.Instrument

	order   core.ActiveOrder
	sells   []core.Lot
	stuckAt time.Time
	onClose func(ctx context.Context, side core.Side, revenue float64)
}

func NewController(
	gateway core.OrderGateway,
	engine *distance.Engine,
	book *ledger.Ledger,
	inst core.Instrument,
	baseDistance float64,
	cfg Config,
	log core.Logger,
) *Controller {
	if log == nil {
		log = core.NopLogger{}
	}
	if cfg.StuckInterval <= 0 {
		cfg.StuckInterval = 2 * time.Minute
	}
	return &Controller{
		gateway: gateway,
		engine:  engine,
		book:    book,
		inst:    inst,
		cfg:     cfg,
		log:     log,
		order:   core.ActiveOrder{Distance: baseDistance},
		stuckAt: time.Now(),
	}
}

// SetNotifier registers the notifier used for trade announcements.
func (c *Controller) SetNotifier(notifier core.Notifier) { c.notifier = notifier }

// SetRevenueRecorder registers the append-only trade log.
func (c *Controller) SetRevenueRecorder(rec core.RevenueRecorder) { c.revenue = rec }

// SetOnClose registers a callback invoked after a trail closes, with
// the realized revenue for sells.
func (c *Controller) SetOnClose(fn func(ctx context.Context, side core.Side, revenue float64)) {
	c.onClose = fn
}

// SetInstrument swaps the instrument snapshot, e.g. after a periodic
// info refresh or a compounding adjustment.
func (c *Controller) SetInstrument(inst core.Instrument) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inst = inst
}

// Active reports whether a trailing cycle is in progress.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Active
}

// Order returns a snapshot of the active order.
func (c *Controller) Order() core.ActiveOrder {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order
}

// Profit returns the configured minimum profit percentage.
func (c *Controller) Profit() float64 { return c.cfg.Profit }

// Distance returns the session's base trigger distance.
func (c *Controller) Distance() float64 { return c.order.Distance }

// ApplyTuning adjusts profit and base distance, typically from the
// optimizer. Refused while an order is live so a trail is never
// re-based mid-flight.
func (c *Controller) ApplyTuning(profit, baseDistance float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.order.Active {
		return false
	}
	c.cfg.Profit = profit
	c.order.Distance = baseDistance
	return true
}

// OpenBuy starts a trailing buy at the given spot price.
func (c *Controller) OpenBuy(ctx context.Context, spot float64, hist *market.History) error {
	return c.open(ctx, core.SideBuy, spot, c.inst.BuyBase, nil, hist)
}

// OpenSell starts a trailing sell for the given sellable lot set.
func (c *Controller) OpenSell(ctx context.Context, spot, qty float64, sells []core.Lot, hist *market.History) error {
	return c.open(ctx, core.SideSell, spot, qty, sells, hist)
}

func (c *Controller) open(ctx context.Context, side core.Side, spot, qty float64, sells []core.Lot, hist *market.History) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.order.Active {
		return core.ErrOrderActive
	}

	ao := &c.order
	ao.Side = side
	ao.Active = true
	ao.Start = spot
	ao.Previous = spot
	ao.Current = spot
	ao.Created = time.Now()
	ao.OrderID = 0
	ao.LinkedID = 0
	ao.Fluctuation = ao.Distance
	ao.Qty = qty
	c.sells = sells

	c.engine.Calculate(ctx, ao, hist)
	c.setTrigger(spot)

	orderID, err := c.gateway.PlaceOrder(ctx, side, ao.Qty, ao.Trigger)
	if err != nil {
		ao.Active = false
		c.sells = nil
		c.logError(fmt.Errorf("%s order failed when placing, trailing stopped: %w", side, err))
		return err
	}
	ao.OrderID = orderID
	c.stuckAt = time.Now()

	// Fetch the order we just placed. Not found right after placement
	// means propagation delay; the trail continues and the periodic
	// check picks it up.
	order, err := c.gateway.GetOrder(ctx, orderID)
	switch {
	case err == nil:
		if side == core.SideBuy {
			lot := lotFromOrder(order, core.LotStatusOpen)
			if err := c.book.RegisterBuy(ctx, lot); err != nil {
				c.logError(err)
			}
		}
	case core.IsNotFound(err):
	default:
		ao.Active = false
		c.sells = nil
		c.logError(fmt.Errorf("failed to get %s order %d right after placing: %w", side, orderID, err))
		return err
	}

	c.notifyf("%s order %d opened for %s %s at trigger price %s %s",
		side, orderID, c.inst.FormatQty(ao.Qty), c.inst.BaseCoin,
		c.inst.FormatPrice(ao.Trigger), c.inst.QuoteCoin)
	return nil
}

// setTrigger derives the initial trigger from the applied fluctuation,
// rounded on the conservative side: up for Buy, down for Sell.
func (c *Controller) setTrigger(spot float64) {
	ao := &c.order
	if ao.Qty == 0 {
		ao.Qty = c.inst.BuyBase
	}

	switch ao.Side {
	case core.SideBuy:
		ao.Trigger = c.inst.RoundPrice(spot*(1+ao.Fluctuation/100), core.SideBuy)
	case core.SideSell:
		ao.Trigger = c.inst.RoundPrice(spot*(1-ao.Fluctuation/100), core.SideSell)
	}
	ao.TriggerIni = ao.Trigger
	ao.TriggerNew = ao.Trigger
}

// Trail is called on every serialized price tick while an order is
// active: it verifies the order still stands, recomputes the distance
// and amends the trigger when the new one is strictly more favorable.
func (c *Controller) Trail(ctx context.Context, spot float64, hist *market.History) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.order.Active {
		return
	}

	c.order.Previous = c.order.Current
	c.order.Current = spot

	c.checkOrder(ctx, spot)
	if !c.order.Active {
		return
	}

	c.engine.Calculate(ctx, &c.order, hist)

	doAmend := false
	switch c.order.Side {
	case core.SideSell:
		c.order.TriggerNew = c.inst.RoundPrice(spot*(1-c.order.Fluctuation/100), core.SideSell)
		doAmend = c.order.TriggerNew > c.order.Trigger
	case core.SideBuy:
		c.order.TriggerNew = c.inst.RoundPrice(spot*(1+c.order.Fluctuation/100), core.SideBuy)
		doAmend = c.order.TriggerNew < c.order.Trigger
	}

	if doAmend {
		c.amendTrigger(ctx)
	}
}

// Check runs the watchdog path without a fresh price, used by the
// periodic stuck-order timer.
func (c *Controller) Check(ctx context.Context, spot float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.order.Active {
		return
	}
	c.checkOrder(ctx, spot)
}

// checkOrder decides whether the exchange should be consulted: either
// spot crossed the trigger (the order ought to have filled) or the
// stuck timer elapsed (defends against silent exchange-side drops).
func (c *Controller) checkOrder(ctx context.Context, spot float64) {
	kind := ""
	switch c.order.Side {
	case core.SideSell:
		if spot <= c.order.Trigger {
			kind = "a regular"
		}
	case core.SideBuy:
		if spot >= c.order.Trigger {
			kind = "a regular"
		}
	}
	if kind == "" && time.Since(c.stuckAt) > c.cfg.StuckInterval {
		kind = "an additional"
	}
	if kind == "" {
		return
	}
	c.stuckAt = time.Now()

	c.log.Infof("performing %s check on %s order %d", kind, c.order.Side, c.order.OrderID)

	order, err := c.gateway.GetOrder(ctx, c.order.OrderID)
	if err != nil {
		if core.IsNotFound(err) {
			// Propagation delay, the next check will see it.
			return
		}
		c.logError(fmt.Errorf("failed to get trailing order %d: %w", c.order.OrderID, err))
		return
	}

	if order.Status == core.OrderStatusFilled {
		c.log.Infof("trailing %s: order has been filled", c.order.Side)
		c.closeTrail(ctx, spot, order)
		return
	}

	c.checkSpike(ctx, spot, order)
}

// checkSpike detects a stale order whose trigger is inconsistent with
// the market beyond the margin. The buy and sell comparisons are
// deliberately asymmetric around spot.
func (c *Controller) checkSpike(ctx context.Context, spot float64, order core.Order) {
	margin := c.cfg.SpikeMargin / 100

	switch c.order.Side {
	case core.SideSell:
		if order.TriggerPrice > spot*(1+margin) {
			c.log.Warn("sell order spiked, cancelling current order")
			c.remove(ctx)
		}
	case core.SideBuy:
		if order.TriggerPrice < spot*(1-margin) {
			c.log.Warn("buy order spiked, cancelling current order")
			c.remove(ctx)
		}
	}
}

// amendTrigger pushes TriggerNew to the exchange. A price-passed
// rejection means the market outran the stop: the trail is abandoned
// and the ledger reconciled instead of retrying.
func (c *Controller) amendTrigger(ctx context.Context) {
	newID, err := c.gateway.AmendOrder(ctx, c.order.OrderID, c.order.TriggerNew, c.order.Qty)
	switch {
	case err == nil:
		c.log.Infof("adjusted trigger price from %s to %s %s in %s order",
			c.inst.FormatPrice(c.order.Trigger), c.inst.FormatPrice(c.order.TriggerNew),
			c.inst.QuoteCoin, c.order.Side)
		c.order.OrderID = newID
		c.order.Trigger = c.order.TriggerNew

	case core.IsPricePassed(err):
		c.log.WithError(err).Warn("order couldn't keep up, trailing cancelled")
		c.remove(ctx)

	default:
		c.logError(fmt.Errorf("critical failure while trailing: %w", err))
	}
}

// UpdateSellQty shrinks or grows the live sell to match the current
// sellable lot set. The new set is only adopted once the exchange
// accepted the amendment.
func (c *Controller) UpdateSellQty(ctx context.Context, sells []core.Lot, qty float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.order.Active || c.order.Side != core.SideSell {
		return
	}
	if qty <= 0 || qty == c.order.Qty {
		return
	}
	c.order.QtyNew = qty

	newID, err := c.gateway.AmendOrder(ctx, c.order.OrderID, c.order.Trigger, qty)
	if err != nil {
		if core.IsPricePassed(err) {
			c.log.WithError(err).Warn("order couldn't keep up while adjusting quantity, trailing cancelled")
			c.remove(ctx)
			return
		}
		c.logError(fmt.Errorf("failed to amend quantity: %w", err))
		return
	}

	c.log.Infof("adjusted quantity from %s to %s %s in sell order",
		c.inst.FormatQty(c.order.Qty), c.inst.FormatQty(qty), c.inst.BaseCoin)
	c.order.OrderID = newID
	c.order.Qty = qty
	c.sells = sells
}

// closeTrail finishes a filled order: merges the fill record into the
// order, updates the ledger and, for sells, realizes revenue.
func (c *Controller) closeTrail(ctx context.Context, spot float64, order core.Order) {
	c.order.Active = false
	c.order.LinkedID = order.LinkedID

	fills, err := c.gateway.GetFills(ctx, order.LinkedID)
	if err != nil {
		c.logError(fmt.Errorf("failed to get fills when trying to close trail: %w", err))
		return
	}
	order = mergeFills(order, fills, c.inst)
	c.log.Debugf("merged order %d with fills from linked order %d", order.OrderID, order.LinkedID)

	revenue := 0.0
	switch order.Side {
	case core.SideBuy:
		if err := c.book.RegisterBuy(ctx, lotFromOrder(order, core.LotStatusClosed)); err != nil {
			c.logError(err)
		}

	case core.SideSell:
		revenue = Revenue(order, c.sells, spot, c.inst)
		if _, err := c.book.RemoveClosed(ctx, ledger.SellIDs(c.sells)); err != nil {
			c.logError(err)
		}
		c.sells = nil
	}

	if c.cfg.Rebalance {
		c.rebalance(ctx)
	}

	c.record(ctx, order, revenue)
	c.announceClose(order, revenue)

	if c.onClose != nil {
		c.onClose(ctx, order.Side, revenue)
	}
	c.order.Reset()
}

func (c *Controller) announceClose(order core.Order, revenue float64) {
	msg := fmt.Sprintf("%s order closed for %s %s at trigger price %s %s, fill price %s %s",
		order.Side, c.inst.FormatQty(order.CumExecQty), c.inst.BaseCoin,
		c.inst.FormatPrice(c.order.Trigger), c.inst.QuoteCoin,
		c.inst.FormatPrice(order.AvgPrice), c.inst.QuoteCoin)
	if order.Side == core.SideSell {
		msg += fmt.Sprintf(" and profit %s %s", c.inst.FormatQuote(revenue), c.inst.QuoteCoin)
	}
	c.notifyf("%s", msg)
}

// remove abandons the current trail: cancel at the exchange, drop a buy
// from the ledger and optionally rebalance. A cancel rejected because
// the order already filled flips into the close path instead.
func (c *Controller) remove(ctx context.Context) {
	c.order.Active = false

	if err := c.gateway.CancelOrder(ctx, c.order.OrderID); err != nil {
		if core.IsAlreadyClosed(err) {
			order, getErr := c.gateway.GetOrder(ctx, c.order.OrderID)
			if getErr == nil && order.Status == core.OrderStatusFilled {
				c.log.Infof("order %d filled before it could be cancelled, closing trail", c.order.OrderID)
				c.closeTrail(ctx, c.order.Current, order)
				return
			}
		} else {
			c.log.WithError(err).Warnf("failed to cancel order %d", c.order.OrderID)
		}
	}

	if c.order.Side == core.SideBuy {
		if _, err := c.book.RemoveByID(ctx, c.order.OrderID); err != nil {
			c.logError(err)
		}
	}
	if c.cfg.Rebalance {
		c.rebalance(ctx)
	}

	c.sells = nil
	c.order.Reset()
}

func (c *Controller) rebalance(ctx context.Context) {
	balance, err := c.gateway.GetBalance(ctx, c.inst.BaseCoin)
	if err != nil {
		c.logError(fmt.Errorf("failed to get balance for rebalancing: %w", err))
		return
	}
	if _, err := c.book.Rebalance(ctx, balance.Equity, c.inst.BuyBase, c.cfg.RebalanceMargin); err != nil {
		c.logError(err)
	}
}

func (c *Controller) record(ctx context.Context, order core.Order, revenue float64) {
	if c.revenue == nil {
		return
	}
	rec := core.RevenueRecord{
		Time:         time.Now().UTC(),
		CreatedAt:    order.CreatedAt,
		OrderID:      order.OrderID,
		LinkedID:     order.LinkedID,
		Side:         order.Side,
		Symbol:       c.inst.Symbol,
		BaseCoin:     c.inst.BaseCoin,
		QuoteCoin:    c.inst.QuoteCoin,
		OrderType:    order.Type,
		OrderStatus:  order.Status,
		AvgPrice:     order.AvgPrice,
		Qty:          order.Qty,
		TriggerStart: c.order.TriggerIni,
		TriggerEnd:   c.order.Trigger,
		FeeCcy:       order.CumExecFeeCcy,
		Fee:          order.CumExecFee,
		CumExecQty:   order.CumExecQty,
		CumExecValue: order.CumExecValue,
		Revenue:      revenue,
	}
	if err := c.revenue.Record(ctx, rec); err != nil {
		c.log.WithError(err).Warn("failed to append revenue record")
	}
}

func (c *Controller) notifyf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.log.Info(msg)
	if c.notifier != nil {
		c.notifier.Notify(msg)
	}
}

func (c *Controller) logError(err error) {
	c.log.WithError(err).Error("trailing error")
	if c.notifier != nil {
		c.notifier.OnError(err)
	}
}

// mergeFills glues the aggregated fill data onto the order record,
// overriding the placeholder zero fields of the conditional order.
func mergeFills(order core.Order, fills core.Fill, inst core.Instrument) core.Order {
	order.AvgPrice = fills.AvgPrice
	order.CumExecQty = inst.RoundQty(fills.CumExecQty)
	order.CumExecValue = inst.RoundQuote(fills.CumExecValue)
	order.CumExecFee = fills.CumExecFee
	order.CumExecFeeCcy = fills.CumExecFeeCcy
	return order
}

func lotFromOrder(order core.Order, status core.LotStatus) core.Lot {
	createdAt := order.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return core.Lot{
		OrderID:       order.OrderID,
		Side:          order.Side,
		AvgPrice:      order.AvgPrice,
		CumExecQty:    order.CumExecQty,
		CumExecValue:  order.CumExecValue,
		CumExecFee:    order.CumExecFee,
		CumExecFeeCcy: order.CumExecFeeCcy,
		Status:        status,
		CreatedAt:     createdAt,
	}
}
