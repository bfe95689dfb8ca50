package binance

import (
	"testing"

	"github.com/adshao/go-binance/v2"
	"github.com/raykavin/trailflow/core"
	"github.com/stretchr/testify/require"
)

func TestSendLatest_EvictsOldest(t *testing.T) {
	ch := make(chan int, 2)
	sendLatest(ch, 1)
	sendLatest(ch, 2)
	sendLatest(ch, 3)

	require.Equal(t, 2, <-ch)
	require.Equal(t, 3, <-ch)
}

func TestStream_OnAggTrade(t *testing.T) {
	s := NewStream("BTCUSDT", []string{"1m"}, nil)

	s.onAggTrade(&binance.WsAggTradeEvent{
		Price:        "100.5",
		Quantity:     "0.25",
		TradeTime:    1700000000000,
		IsBuyerMaker: true,
	})

	tick := <-s.Ticks()
	require.Equal(t, 100.5, tick.Price)
	require.Equal(t, int64(1700000000000), tick.Time.UnixMilli())

	// A buyer-maker trade means the taker sold into the book.
	entry := <-s.Flow()
	require.Equal(t, core.SideSell, entry.Side)
	require.Equal(t, 0.25, entry.Size)

	// Unparseable prices are dropped.
	s.onAggTrade(&binance.WsAggTradeEvent{Price: "?", Quantity: "1"})
	require.Empty(t, s.ticks)
}

func TestStream_OnKline(t *testing.T) {
	s := NewStream("BTCUSDT", []string{"5m"}, nil)

	s.onKline("5m")(&binance.WsKlineEvent{Kline: binance.WsKline{
		StartTime: 1700000000000,
		Open:      "100",
		High:      "101",
		Low:       "99",
		Close:     "100.5",
		Volume:    "3",
		IsFinal:   true,
	}})

	k := <-s.Klines("5m")
	require.Equal(t, "5m", k.Interval)
	require.True(t, k.Complete)
	require.Equal(t, 100.5, k.Close)

	require.Nil(t, s.Klines("1h"))
}

func TestStream_OnDepth(t *testing.T) {
	s := NewStream("BTCUSDT", nil, nil)

	s.onDepth(&binance.WsPartialDepthEvent{
		Bids: []binance.Bid{{Quantity: "6"}, {Quantity: "3"}},
		Asks: []binance.Ask{{Quantity: "1"}},
	})

	snap := <-s.Depth()
	require.InDelta(t, 90.0, snap.BuyPercent, 1e-9)
	require.InDelta(t, 10.0, snap.SellPercent, 1e-9)

	// Empty books produce no snapshot.
	s.onDepth(&binance.WsPartialDepthEvent{})
	require.Empty(t, s.depth)
}
