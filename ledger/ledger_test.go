package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raykavin/trailflow/core"
	"github.com/stretchr/testify/require"
)

type memoryStorage struct {
	lots  []core.Lot
	saves int
	fail  bool
}

func (m *memoryStorage) Load(context.Context) ([]core.Lot, error) {
	return append([]core.Lot(nil), m.lots...), nil
}

func (m *memoryStorage) Save(_ context.Context, lots []core.Lot) error {
	if m.fail {
		return errors.New("disk full")
	}
	m.lots = append([]core.Lot(nil), lots...)
	m.saves++
	return nil
}

func (m *memoryStorage) Close() error { return nil }

func lot(orderID int64, price, qty float64) core.Lot {
	return core.Lot{
		OrderID:    orderID,
		Side:       core.SideBuy,
		AvgPrice:   price,
		CumExecQty: qty,
		Status:     core.LotStatusClosed,
		CreatedAt:  time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestLedger_Load(t *testing.T) {
	store := &memoryStorage{lots: []core.Lot{lot(1, 100, 0.5)}}
	book := New(store, nil)

	require.NoError(t, book.Load(context.Background()))
	require.Equal(t, 1, book.Count())
	require.Equal(t, 0.5, book.TotalQuantity())
}

func TestLedger_RegisterBuyUpserts(t *testing.T) {
	store := &memoryStorage{}
	book := New(store, nil)

	require.NoError(t, book.RegisterBuy(context.Background(), lot(1, 100, 0.5)))
	require.NoError(t, book.RegisterBuy(context.Background(), lot(2, 101, 0.4)))
	require.Equal(t, 2, book.Count())

	// Registering the same id replaces the lot instead of duplicating it.
	updated := lot(1, 100, 0.6)
	require.NoError(t, book.RegisterBuy(context.Background(), updated))
	require.Equal(t, 2, book.Count())
	require.InDelta(t, 1.0, book.TotalQuantity(), 1e-9)
	require.Equal(t, 3, store.saves)
}

func TestLedger_RegisterBuyPersistFailure(t *testing.T) {
	store := &memoryStorage{fail: true}
	book := New(store, nil)

	require.Error(t, book.RegisterBuy(context.Background(), lot(1, 100, 0.5)))
}

func TestLedger_RemoveByID(t *testing.T) {
	store := &memoryStorage{}
	book := New(store, nil)
	require.NoError(t, book.RegisterBuy(context.Background(), lot(1, 100, 0.5)))

	removed, err := book.RemoveByID(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, removed)
	require.Zero(t, book.Count())

	// Removing an unknown id is a reported no-op.
	removed, err = book.RemoveByID(context.Background(), 42)
	require.NoError(t, err)
	require.False(t, removed)
}

func TestLedger_RemoveClosed(t *testing.T) {
	store := &memoryStorage{}
	book := New(store, nil)
	require.NoError(t, book.RegisterBuy(context.Background(), lot(1, 100, 0.5)))
	require.NoError(t, book.RegisterBuy(context.Background(), lot(2, 101, 0.4)))
	require.NoError(t, book.RegisterBuy(context.Background(), lot(3, 102, 0.3)))

	sold := []core.Lot{lot(1, 100, 0.5), lot(3, 102, 0.3)}
	count, err := book.RemoveClosed(context.Background(), SellIDs(sold))
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Equal(t, 1, book.Count())
	require.Equal(t, int64(2), book.Lots()[0].OrderID)
}

func TestLedger_RebalanceEvictsHighestPriceFirst(t *testing.T) {
	store := &memoryStorage{}
	book := New(store, nil)
	require.NoError(t, book.RegisterBuy(context.Background(), lot(1, 100, 0.5)))
	require.NoError(t, book.RegisterBuy(context.Background(), lot(2, 110, 0.5)))
	require.NoError(t, book.RegisterBuy(context.Background(), lot(3, 105, 0.5)))

	// Exchange only covers one lot: the two most expensive go first.
	lost, err := book.Rebalance(context.Background(), 0.5, 0.5, 0)
	require.NoError(t, err)
	require.InDelta(t, 1.0, lost, 1e-9)
	require.Equal(t, 1, book.Count())
	require.Equal(t, int64(1), book.Lots()[0].OrderID)
}

func TestLedger_RebalanceWithinMarginIsNoop(t *testing.T) {
	store := &memoryStorage{}
	book := New(store, nil)
	require.NoError(t, book.RegisterBuy(context.Background(), lot(1, 100, 0.5)))

	lost, err := book.Rebalance(context.Background(), 0.4, 0.5, 25)
	require.NoError(t, err)
	require.Zero(t, lost)
	require.Equal(t, 1, book.Count())
}

func TestLedger_Sellable(t *testing.T) {
	store := &memoryStorage{}
	book := New(store, nil)
	inst := core.Instrument{BasePrecision: 0.001}

	cheap := lot(1, 100, 0.5)
	pricey := lot(2, 120, 0.5)
	open := lot(3, 100, 0.5)
	open.Status = core.LotStatusOpen
	require.NoError(t, book.RegisterBuy(context.Background(), cheap))
	require.NoError(t, book.RegisterBuy(context.Background(), pricey))
	require.NoError(t, book.RegisterBuy(context.Background(), open))

	// At 102 only the cheap closed lot clears profit plus distance.
	sells, qty, riseTo := book.Sellable(102, 1, 0.5, inst)
	require.Len(t, sells, 1)
	require.Equal(t, int64(1), sells[0].OrderID)
	require.Equal(t, 0.5, qty)
	require.Zero(t, riseTo)

	// Below every profitable price nothing sells and the gap is
	// reported.
	sells, qty, riseTo = book.Sellable(100, 1, 0.5, inst)
	require.Empty(t, sells)
	require.Zero(t, qty)
	require.InDelta(t, 1.5, riseTo, 1e-9)
}

func TestSellIDs(t *testing.T) {
	ids := SellIDs([]core.Lot{lot(7, 100, 1), lot(9, 100, 1), lot(7, 100, 1)})
	require.Equal(t, 2, ids.Length())
	require.True(t, ids.InArray(7))
	require.True(t, ids.InArray(9))
}
