// Package ledger tracks the executed buy lots a session may later sell,
// mirrored to durable storage on every mutation.
package ledger

import (
	"context"
	"fmt"

	"github.com/StudioSol/set"
	"github.com/raykavin/trailflow/core"
	"github.com/samber/lo"
)

// Ledger owns the in-memory lot set and keeps storage in sync. It is
// not safe for concurrent use; the session's single-writer loop owns it.
type Ledger struct {
	storage core.LotStorage
	log     core.Logger
	lots    []core.Lot
}

func New(storage core.LotStorage, log core.Logger) *Ledger {
	if log == nil {
		log = core.NopLogger{}
	}
	return &Ledger{storage: storage, log: log}
}

// Load replaces the in-memory set with the persisted one.
func (l *Ledger) Load(ctx context.Context) error {
	lots, err := l.storage.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load lots: %w", err)
	}
	l.lots = lots
	l.log.Infof("ledger contains %d buy orders totalling %f", len(l.lots), l.TotalQuantity())
	return nil
}

// Lots returns a copy of the current lot set.
func (l *Ledger) Lots() []core.Lot {
	out := make([]core.Lot, len(l.lots))
	copy(out, l.lots)
	return out
}

func (l *Ledger) Count() int { return len(l.lots) }

// TotalQuantity sums the executed base quantity over all lots.
func (l *Ledger) TotalQuantity() float64 {
	return lo.SumBy(l.lots, func(lot core.Lot) float64 { return lot.CumExecQty })
}

// RegisterBuy upserts a lot by order id and persists. Registering an
// existing id replaces the lot wholesale.
func (l *Ledger) RegisterBuy(ctx context.Context, lot core.Lot) error {
	found := false
	for i := range l.lots {
		if l.lots[i].OrderID == lot.OrderID {
			l.lots[i] = lot
			found = true
			break
		}
	}
	if !found {
		l.lots = append(l.lots, lot)
	}

	if err := l.save(ctx); err != nil {
		return err
	}
	l.log.Info("registered 1 order via trailing buy")
	return nil
}

// RemoveByID removes the lot with the given order id. Removing an
// unknown id is a no-op reported through the returned flag.
func (l *Ledger) RemoveByID(ctx context.Context, orderID int64) (bool, error) {
	kept := lo.Filter(l.lots, func(lot core.Lot, _ int) bool { return lot.OrderID != orderID })
	if len(kept) == len(l.lots) {
		l.log.Infof("order %d was not found in the ledger", orderID)
		return false, nil
	}

	l.lots = kept
	if err := l.save(ctx); err != nil {
		return true, err
	}
	l.log.Infof("order %d was removed from the ledger", orderID)
	return true, nil
}

// RemoveClosed removes every lot consumed by a sell, identified by the
// given order id set. Returns how many ids the set contained.
func (l *Ledger) RemoveClosed(ctx context.Context, ids *set.LinkedHashSetINT64) (int, error) {
	l.lots = lo.Filter(l.lots, func(lot core.Lot, _ int) bool { return !ids.InArray(lot.OrderID) })
	if err := l.save(ctx); err != nil {
		return ids.Length(), err
	}
	l.log.Infof("registered %d orders via trailing sell", ids.Length())
	return ids.Length(), nil
}

// Rebalance evicts lots while the ledger claims more base quantity than
// the exchange reports, within the given margin of one order size.
// Highest average price goes first; equal prices evict the oldest lot.
// This reconciliation is lossy: the evicted quantity is returned and
// logged, not recovered.
func (l *Ledger) Rebalance(ctx context.Context, exchangeQty, buyBase, marginPct float64) (float64, error) {
	before := l.TotalQuantity()
	limit := exchangeQty + buyBase*(marginPct/100)

	changed := false
	for l.TotalQuantity() > limit && len(l.lots) > 0 {
		evict := l.evictionCandidate()
		l.lots = lo.Filter(l.lots, func(lot core.Lot, _ int) bool { return lot.OrderID != evict.OrderID })
		l.log.Debugf("evicted order %d at %f from the ledger", evict.OrderID, evict.AvgPrice)
		changed = true
	}

	if !changed {
		return 0, nil
	}

	lost := before - l.TotalQuantity()
	if err := l.save(ctx); err != nil {
		return lost, err
	}
	l.log.Warnf("rebalanced ledger against exchange and lost %f", lost)
	return lost, nil
}

// evictionCandidate picks the lot with the highest average price,
// breaking ties toward the oldest creation time so eviction order is
// deterministic.
func (l *Ledger) evictionCandidate() core.Lot {
	candidate := l.lots[0]
	for _, lot := range l.lots[1:] {
		if lot.AvgPrice > candidate.AvgPrice {
			candidate = lot
			continue
		}
		if lot.AvgPrice == candidate.AvgPrice && lot.CreatedAt.Before(candidate.CreatedAt) {
			candidate = lot
		}
	}
	return candidate
}

// Sellable collects the closed lots that can be sold with profit at the
// given spot price. The returned rise value is how far the price must
// still climb before the nearest unprofitable lot becomes sellable
// (zero when something is sellable already).
func (l *Ledger) Sellable(spot, profit, distance float64, inst core.Instrument) (sells []core.Lot, qty, riseTo float64) {
	nearest := 0.0
	for _, lot := range l.lots {
		if !lot.IsClosed() {
			continue
		}

		profitablePrice := lot.AvgPrice * (1 + (profit+distance)/100)
		gap := profitablePrice - spot
		if nearest == 0 || gap < nearest {
			nearest = gap
		}
		if spot >= profitablePrice {
			qty += lot.CumExecQty
			sells = append(sells, lot)
		}
	}

	qty = inst.RoundQty(qty)
	if len(sells) == 0 || qty <= 0 {
		return nil, 0, nearest
	}
	return sells, qty, 0
}

// SellIDs returns the order ids of the given lots as a set.
func SellIDs(lots []core.Lot) *set.LinkedHashSetINT64 {
	ids := set.NewLinkedHashSetINT64()
	for _, lot := range lots {
		ids.Add(lot.OrderID)
	}
	return ids
}

func (l *Ledger) save(ctx context.Context) error {
	if err := l.storage.Save(ctx, l.lots); err != nil {
		return fmt.Errorf("failed to persist ledger: %w", err)
	}
	return nil
}
