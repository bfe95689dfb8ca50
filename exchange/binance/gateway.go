// Package binance implements the order gateway and market data feed on
// the Binance spot API.
package binance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/raykavin/trailflow/core"
	"github.com/raykavin/trailflow/exchange"
)

// ---------------------
// Error Classification
// ---------------------

// Binance API error codes relevant to trailing stops.
const (
	codeTooManyRequests  = -1003
	codeRateLimitReached = -1015
	codeOrderRejected    = -2010
	codeUnknownOrder     = -2011
	codeOrderNotFound    = -2013
)

// classify wraps a Binance API error into a typed gateway error so the
// core can branch on the failure kind instead of exchange codes.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return core.NewGatewayError(core.KindUnknown, 0, err.Error())
	}

	kind := core.KindUnknown
	switch apiErr.Code {
	case codeTooManyRequests, codeRateLimitReached:
		kind = core.KindRateLimit
	case codeOrderRejected:
		// Covers "Order would trigger immediately" among other
		// rejections; both mean the stop price is on the wrong side.
		kind = core.KindPricePassed
	case codeUnknownOrder:
		kind = core.KindAlreadyClosed
	case codeOrderNotFound:
		kind = core.KindNotFound
	}
	return core.NewGatewayError(kind, apiErr.Code, apiErr.Message)
}

// ---------------------
// Gateway
// ---------------------

// Gateway is the core.OrderGateway implementation for Binance spot.
// Conditional orders are stop-loss-limit orders with the limit pinned
// at the trigger. Binance has no native amendment, so AmendOrder does
// cancel-and-replace and reports the replacement's id.
type Gateway struct {
	client    *binance.Client
	symbol    string
	inst      core.Instrument
	log       core.Logger
	rateLimit *exchange.RetryPolicy
	fills     *exchange.RetryPolicy
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCredentials sets the API credentials.
func WithCredentials(key, secret string) Option {
	return func(g *Gateway) {
		g.client = binance.NewClient(key, secret)
	}
}

// WithTestnet switches the client to the Binance testnet.
func WithTestnet() Option {
	return func(_ *Gateway) {
		binance.UseTestnet = true
	}
}

// NewGateway creates a gateway bound to one symbol. The instrument is
// fetched eagerly so sizing errors surface at startup.
func NewGateway(ctx context.Context, symbol string, log core.Logger, options ...Option) (*Gateway, error) {
	if log == nil {
		log = core.NopLogger{}
	}

	g := &Gateway{
		client:    binance.NewClient("", ""),
		symbol:    symbol,
		log:       log,
		rateLimit: exchange.RateLimitPolicy(log),
	}
	g.fills = &exchange.RetryPolicy{
		MaxAttempts: 3,
		Backoff:     exchange.NotFoundPolicy(log).Backoff,
		Retryable: func(err error) bool {
			return core.IsNotFound(err) || errors.Is(err, core.ErrEmptyFills)
		},
		Log: log,
	}

	for _, option := range options {
		option(g)
	}

	if err := g.client.NewPingService().Do(ctx); err != nil {
		return nil, fmt.Errorf("binance ping fail: %w", err)
	}

	inst, err := g.Instrument(ctx)
	if err != nil {
		return nil, err
	}
	g.inst = inst

	log.Infof("using Binance spot exchange for %s", symbol)
	return g, nil
}

// Instrument fetches the tradeable properties of the gateway's symbol.
func (g *Gateway) Instrument(ctx context.Context) (core.Instrument, error) {
	var info *binance.ExchangeInfo
	err := g.rateLimit.Do(ctx, "get exchange info", func() error {
		var doErr error
		info, doErr = g.client.NewExchangeInfoService().Symbols(g.symbol).Do(ctx)
		return classify(doErr)
	})
	if err != nil {
		return core.Instrument{}, fmt.Errorf("failed to get exchange info: %w", err)
	}

	for _, symbol := range info.Symbols {
		if symbol.Symbol != g.symbol {
			continue
		}

		inst := core.Instrument{
			Symbol:         symbol.Symbol,
			BaseCoin:       symbol.BaseAsset,
			QuoteCoin:      symbol.QuoteAsset,
			QuotePrecision: math.Pow(10, -float64(symbol.QuotePrecision)),
		}
		for _, filter := range symbol.Filters {
			switch filter["filterType"] {
			case string(binance.SymbolFilterTypeLotSize):
				inst.BasePrecision = parseFilterFloat(filter, "stepSize")
			case string(binance.SymbolFilterTypePriceFilter):
				inst.TickSize = parseFilterFloat(filter, "tickSize")
			case "NOTIONAL", "MIN_NOTIONAL":
				inst.MinOrderQuote = parseFilterFloat(filter, "minNotional")
			}
		}

		if err := g.fetchTakerFee(ctx, &inst); err != nil {
			g.log.WithError(err).Warn("failed to get taker fee, assuming zero")
		}
		return inst, nil
	}
	return core.Instrument{}, core.ErrNoInstrument
}

func (g *Gateway) fetchTakerFee(ctx context.Context, inst *core.Instrument) error {
	account, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return classify(err)
	}
	// Commission is reported in basis points of 10000.
	inst.FeeTaker = float64(account.TakerCommission) / 10000
	return nil
}

// PlaceOrder opens a stop-loss-limit order at the given trigger.
func (g *Gateway) PlaceOrder(ctx context.Context, side core.Side, qty, trigger float64) (int64, error) {
	var order *binance.CreateOrderResponse
	err := g.rateLimit.Do(ctx, "place order", func() error {
		var doErr error
		order, doErr = g.client.NewCreateOrderService().
			Symbol(g.symbol).
			Type(binance.OrderTypeStopLossLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Side(toBinanceSide(side)).
			Quantity(g.inst.FormatQty(qty)).
			StopPrice(g.inst.FormatPrice(trigger)).
			Price(g.inst.FormatPrice(trigger)).
			Do(ctx)
		return classify(doErr)
	})
	if err != nil {
		return 0, err
	}
	return order.OrderID, nil
}

// AmendOrder moves an order to a new trigger or quantity by cancelling
// it and placing a replacement. The replacement's id is returned; on
// error the original order may already be gone, which callers handle
// through the error kind of their next cancel.
func (g *Gateway) AmendOrder(ctx context.Context, orderID int64, trigger, qty float64) (int64, error) {
	order, err := g.GetOrder(ctx, orderID)
	if err != nil {
		return orderID, err
	}

	if err := g.CancelOrder(ctx, orderID); err != nil {
		return orderID, err
	}

	return g.PlaceOrder(ctx, order.Side, qty, trigger)
}

// CancelOrder cancels an open order.
func (g *Gateway) CancelOrder(ctx context.Context, orderID int64) error {
	return g.rateLimit.Do(ctx, "cancel order", func() error {
		_, err := g.client.NewCancelOrderService().
			Symbol(g.symbol).
			OrderID(orderID).
			Do(ctx)
		return classify(err)
	})
}

// GetOrder fetches one order. LinkedID equals the order id on Binance:
// the stop order itself carries the fills once triggered.
func (g *Gateway) GetOrder(ctx context.Context, orderID int64) (core.Order, error) {
	var order *binance.Order
	err := g.rateLimit.Do(ctx, "get order", func() error {
		var doErr error
		order, doErr = g.client.NewGetOrderService().
			Symbol(g.symbol).
			OrderID(orderID).
			Do(ctx)
		return classify(doErr)
	})
	if err != nil {
		return core.Order{}, err
	}
	return convertOrder(order), nil
}

// GetFills aggregates the trades of an executed order. Empty fills are
// retried to ride out settlement propagation.
func (g *Gateway) GetFills(ctx context.Context, linkedID int64) (core.Fill, error) {
	var fill core.Fill
	err := g.fills.Do(ctx, "get fills", func() error {
		trades, doErr := g.client.NewListTradesService().
			Symbol(g.symbol).
			OrderId(linkedID).
			Do(ctx)
		if doErr != nil {
			return classify(doErr)
		}
		if len(trades) == 0 {
			return core.ErrEmptyFills
		}

		fill = core.Fill{}
		for _, trade := range trades {
			qty, _ := strconv.ParseFloat(trade.Quantity, 64)
			quoteQty, _ := strconv.ParseFloat(trade.QuoteQuantity, 64)
			fee, _ := strconv.ParseFloat(trade.Commission, 64)

			fill.CumExecQty += qty
			fill.CumExecValue += quoteQty
			fill.CumExecFee += fee
			fill.CumExecFeeCcy = trade.CommissionAsset
		}
		if fill.CumExecQty > 0 {
			fill.AvgPrice = fill.CumExecValue / fill.CumExecQty
		}
		return nil
	})
	return fill, err
}

// GetBalance returns the equity and free amount of one asset.
func (g *Gateway) GetBalance(ctx context.Context, asset string) (core.Balance, error) {
	var account *binance.Account
	err := g.rateLimit.Do(ctx, "get balance", func() error {
		var doErr error
		account, doErr = g.client.NewGetAccountService().Do(ctx)
		return classify(doErr)
	})
	if err != nil {
		return core.Balance{}, err
	}

	for _, balance := range account.Balances {
		if balance.Asset != asset {
			continue
		}
		free, _ := strconv.ParseFloat(balance.Free, 64)
		locked, _ := strconv.ParseFloat(balance.Locked, 64)
		return core.Balance{Equity: free + locked, Available: free}, nil
	}
	return core.Balance{}, nil
}

// Klines fetches recent complete bars, discarding the in-progress one.
func (g *Gateway) Klines(ctx context.Context, interval string, limit int) ([]core.Kline, error) {
	var data []*binance.Kline
	err := g.rateLimit.Do(ctx, "get klines", func() error {
		var doErr error
		data, doErr = g.client.NewKlinesService().
			Symbol(g.symbol).
			Interval(interval).
			Limit(limit + 1).
			Do(ctx)
		return classify(doErr)
	})
	if err != nil {
		return nil, err
	}

	klines := make([]core.Kline, 0, len(data))
	for i, k := range data {
		if i == len(data)-1 {
			break
		}
		klines = append(klines, convertKline(k, interval))
	}
	return klines, nil
}

// ---------------------
// Conversion Functions
// ---------------------

func toBinanceSide(side core.Side) binance.SideType {
	if side == core.SideBuy {
		return binance.SideTypeBuy
	}
	return binance.SideTypeSell
}

func convertStatus(status binance.OrderStatusType) core.OrderStatus {
	switch status {
	case binance.OrderStatusTypeNew, binance.OrderStatusTypePartiallyFilled:
		return core.OrderStatusLive
	case binance.OrderStatusTypeFilled:
		return core.OrderStatusFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired:
		return core.OrderStatusCanceled
	case binance.OrderStatusTypeRejected:
		return core.OrderStatusRejected
	default:
		return core.OrderStatusNew
	}
}

func convertOrder(order *binance.Order) core.Order {
	trigger, _ := strconv.ParseFloat(order.StopPrice, 64)
	qty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	execValue, _ := strconv.ParseFloat(order.CummulativeQuoteQuantity, 64)

	avgPrice := 0.0
	if execQty > 0 {
		avgPrice = execValue / execQty
	}

	return core.Order{
		OrderID:      order.OrderID,
		LinkedID:     order.OrderID,
		Symbol:       order.Symbol,
		Side:         core.Side(capitalize(string(order.Side))),
		Type:         string(order.Type),
		Status:       convertStatus(order.Status),
		TriggerPrice: trigger,
		AvgPrice:     avgPrice,
		Qty:          qty,
		CumExecQty:   execQty,
		CumExecValue: execValue,
		CreatedAt:    time.UnixMilli(order.Time),
		UpdatedAt:    time.UnixMilli(order.UpdateTime),
	}
}

func convertKline(k *binance.Kline, interval string) core.Kline {
	kline := core.Kline{
		Time:     time.UnixMilli(k.OpenTime),
		Interval: interval,
		Complete: true,
	}
	kline.Open, _ = strconv.ParseFloat(k.Open, 64)
	kline.High, _ = strconv.ParseFloat(k.High, 64)
	kline.Low, _ = strconv.ParseFloat(k.Low, 64)
	kline.Close, _ = strconv.ParseFloat(k.Close, 64)
	kline.Volume, _ = strconv.ParseFloat(k.Volume, 64)
	return kline
}

func parseFilterFloat(filter map[string]any, key string) float64 {
	value, ok := filter[key].(string)
	if !ok {
		return 0
	}
	parsed, _ := strconv.ParseFloat(value, 64)
	return parsed
}

// capitalize maps BUY/SELL to the core's Buy/Sell spelling.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	switch s {
	case "BUY":
		return "Buy"
	case "SELL":
		return "Sell"
	}
	return s
}
