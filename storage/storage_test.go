package storage

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raykavin/trailflow/core"
	"github.com/stretchr/testify/require"
)

func sampleLots() []core.Lot {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return []core.Lot{
		{OrderID: 2, Side: core.SideBuy, AvgPrice: 101, CumExecQty: 0.4, Status: core.LotStatusClosed, CreatedAt: base.Add(time.Minute)},
		{OrderID: 1, Side: core.SideBuy, AvgPrice: 100, CumExecQty: 0.5, Status: core.LotStatusClosed, CreatedAt: base},
	}
}

func TestBuntLotStorage_SaveReplacesSet(t *testing.T) {
	store, err := NewBuntFromMemory()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sampleLots()))

	// Load orders by purchase time, not by key.
	lots, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, lots, 2)
	require.Equal(t, int64(1), lots[0].OrderID)
	require.Equal(t, int64(2), lots[1].OrderID)

	// A second save replaces the whole set.
	require.NoError(t, store.Save(ctx, sampleLots()[:1]))
	lots, err = store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	require.Equal(t, int64(2), lots[0].OrderID)
}

func TestBuntLotStorage_LoadEmpty(t *testing.T) {
	store, err := NewBuntFromMemory()
	require.NoError(t, err)
	defer store.Close()

	lots, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, lots)
}

func TestRevenueLog_AppendsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "revenue.csv")
	log, err := NewRevenueLog(path)
	require.NoError(t, err)

	rec := core.RevenueRecord{
		Time:        time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		CreatedAt:   time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC),
		OrderID:     7,
		LinkedID:    7,
		Side:        core.SideSell,
		Symbol:      "BTCUSDT",
		BaseCoin:    "BTC",
		QuoteCoin:   "USDT",
		OrderStatus: core.OrderStatusFilled,
		AvgPrice:    100.5,
		Revenue:     1.25,
	}
	require.NoError(t, log.Record(context.Background(), rec))
	require.NoError(t, log.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, revenueHeader, rows[0])
	require.Equal(t, "7", rows[1][2])
	require.Equal(t, "Sell", rows[1][4])
	require.Equal(t, "1.25", rows[1][18])
}

func TestRevenueLog_HeaderWrittenOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "revenue.csv")

	log, err := NewRevenueLog(path)
	require.NoError(t, err)
	require.NoError(t, log.Record(context.Background(), core.RevenueRecord{Time: time.Now()}))
	require.NoError(t, log.Close())

	// Reopening appends without duplicating the header.
	log, err = NewRevenueLog(path)
	require.NoError(t, err)
	require.NoError(t, log.Record(context.Background(), core.RevenueRecord{Time: time.Now()}))
	require.NoError(t, log.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
}
