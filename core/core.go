package core

import (
	"context"
	"time"
)

// OrderGateway abstracts the conditional order surface of the exchange.
// Amending an order may replace it on exchanges without native amendment,
// in which case the returned id differs from the one passed in.
type OrderGateway interface {
	Instrument(ctx context.Context) (Instrument, error)
	PlaceOrder(ctx context.Context, side Side, qty, trigger float64) (int64, error)
	AmendOrder(ctx context.Context, orderID int64, trigger, qty float64) (int64, error)
	CancelOrder(ctx context.Context, orderID int64) error
	GetOrder(ctx context.Context, orderID int64) (Order, error)
	GetFills(ctx context.Context, linkedID int64) (Fill, error)
	GetBalance(ctx context.Context, asset string) (Balance, error)
	Klines(ctx context.Context, interval string, limit int) ([]Kline, error)
}

// Feeder delivers live market data. Channels stay open until Stop;
// consumers must tolerate duplicate klines after a resubscription.
type Feeder interface {
	Ticks() <-chan Tick
	Klines(interval string) <-chan Kline
	Depth() <-chan DepthSnapshot
	Flow() <-chan FlowEntry
	Start(ctx context.Context) error
	Resubscribe(ctx context.Context) error
	Stop()
}

// LotStorage persists the set of tracked buy lots. Save replaces the
// whole set atomically.
type LotStorage interface {
	Load(ctx context.Context) ([]Lot, error)
	Save(ctx context.Context, lots []Lot) error
	Close() error
}

// RevenueRecorder appends one record per closed trade.
type RevenueRecorder interface {
	Record(ctx context.Context, rec RevenueRecord) error
}

type Notifier interface {
	Notify(string)
	OnError(err error)
}

type NotifierWithStart interface {
	Notifier
	Start()
}

// Tick is a single last-price update.
type Tick struct {
	Time  time.Time
	Price float64
}

// Kline is one OHLCV bar. Complete is false for intermediate updates of
// the current bar.
type Kline struct {
	Time     time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Interval string
	Complete bool
}

// DepthSnapshot summarizes orderbook pressure at a point in time.
type DepthSnapshot struct {
	Time        time.Time
	BuyPercent  float64
	SellPercent float64
}

// FlowEntry is one executed public trade, used for taker flow ratios.
type FlowEntry struct {
	Time  time.Time
	Price float64
	Size  float64
	Side  Side
}

type Balance struct {
	Equity    float64
	Available float64
}
