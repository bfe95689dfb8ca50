package core

import (
	"fmt"
	"time"
)

type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Opposite returns the other market side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type OrderStatus string

const (
	OrderStatusNew      OrderStatus = "New"
	OrderStatusLive     OrderStatus = "Live"
	OrderStatusFilled   OrderStatus = "Filled"
	OrderStatusCanceled OrderStatus = "Canceled"
	OrderStatusRejected OrderStatus = "Rejected"
)

type LotStatus string

const (
	LotStatusOpen   LotStatus = "Open"
	LotStatusClosed LotStatus = "Closed"
)

// Regime is a coarse market-state classification used by adaptive
// distance methods.
type Regime string

const (
	RegimeTrending Regime = "Trending"
	RegimeRanging  Regime = "Ranging"
	RegimeCalm     Regime = "Calm"
)

// ActiveOrder is the single trailing order a session owns. Trigger is
// the live stop trigger, TriggerNew the proposed amendment and
// TriggerIni the trigger at placement time.
type ActiveOrder struct {
	Side        Side
	Active      bool
	Start       float64
	Previous    float64
	Current     float64
	Distance    float64
	Wave        float64
	Fluctuation float64
	Regime      Regime
	OrderID     int64
	LinkedID    int64
	Trigger     float64
	TriggerNew  float64
	TriggerIni  float64
	Qty         float64
	QtyNew      float64
	Created     time.Time
}

// Reset returns the order to the idle state, keeping the configured
// base distance.
func (a *ActiveOrder) Reset() {
	distance := a.Distance
	*a = ActiveOrder{Distance: distance}
}

func (a *ActiveOrder) String() string {
	return fmt.Sprintf("[%s] %d trigger %f qty %f fluctuation %.4f%%",
		a.Side, a.OrderID, a.Trigger, a.Qty, a.Fluctuation)
}

// Order is the exchange's view of a conditional order. LinkedID points
// at the fill-bearing order on exchanges that split the two.
type Order struct {
	OrderID       int64
	LinkedID      int64
	Symbol        string
	Side          Side
	Type          string
	Status        OrderStatus
	TriggerPrice  float64
	AvgPrice      float64
	Qty           float64
	CumExecQty    float64
	CumExecValue  float64
	CumExecFee    float64
	CumExecFeeCcy string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Fill is the aggregated execution data of a closed order.
type Fill struct {
	AvgPrice      float64
	CumExecQty    float64
	CumExecValue  float64
	CumExecFee    float64
	CumExecFeeCcy string
}

// Lot is one executed buy, tracked until consumed by a sell.
type Lot struct {
	OrderID       int64     `json:"orderid" gorm:"primaryKey"`
	Side          Side      `json:"side"`
	AvgPrice      float64   `json:"avg_price"`
	CumExecQty    float64   `json:"cum_exec_qty"`
	CumExecValue  float64   `json:"cum_exec_value"`
	CumExecFee    float64   `json:"cum_exec_fee"`
	CumExecFeeCcy string    `json:"cum_exec_fee_ccy"`
	Status        LotStatus `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// IsClosed reports whether the lot's buy has fully executed.
func (l Lot) IsClosed() bool { return l.Status == LotStatusClosed }

// RevenueRecord is one row of the revenue log.
type RevenueRecord struct {
	Time         time.Time
	CreatedAt    time.Time
	OrderID      int64
	LinkedID     int64
	Side         Side
	Symbol       string
	BaseCoin     string
	QuoteCoin    string
	OrderType    string
	OrderStatus  OrderStatus
	AvgPrice     float64
	Qty          float64
	TriggerStart float64
	TriggerEnd   float64
	FeeCcy       string
	Fee          float64
	CumExecQty   float64
	CumExecValue float64
	Revenue      float64
}
