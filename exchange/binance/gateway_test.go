package binance

import (
	"errors"
	"fmt"
	"testing"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/raykavin/trailflow/core"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	require.NoError(t, classify(nil))

	tests := []struct {
		code  int64
		check func(error) bool
	}{
		{codeTooManyRequests, core.IsRateLimit},
		{codeRateLimitReached, core.IsRateLimit},
		{codeOrderRejected, core.IsPricePassed},
		{codeUnknownOrder, core.IsAlreadyClosed},
		{codeOrderNotFound, core.IsNotFound},
	}
	for _, tt := range tests {
		err := classify(&common.APIError{Code: tt.code, Message: "boom"})
		require.True(t, tt.check(err), "code %d", tt.code)
	}

	// Wrapped API errors still classify.
	wrapped := fmt.Errorf("request failed: %w", &common.APIError{Code: codeOrderNotFound})
	require.True(t, core.IsNotFound(classify(wrapped)))

	// Anything else becomes an unknown gateway error.
	unknown := classify(errors.New("connection reset"))
	require.False(t, core.IsRateLimit(unknown))
	var ge *core.GatewayError
	require.ErrorAs(t, unknown, &ge)
	require.Equal(t, core.KindUnknown, ge.Kind)
}

func TestConvertStatus(t *testing.T) {
	require.Equal(t, core.OrderStatusLive, convertStatus(binance.OrderStatusTypeNew))
	require.Equal(t, core.OrderStatusLive, convertStatus(binance.OrderStatusTypePartiallyFilled))
	require.Equal(t, core.OrderStatusFilled, convertStatus(binance.OrderStatusTypeFilled))
	require.Equal(t, core.OrderStatusCanceled, convertStatus(binance.OrderStatusTypeCanceled))
	require.Equal(t, core.OrderStatusCanceled, convertStatus(binance.OrderStatusTypeExpired))
	require.Equal(t, core.OrderStatusRejected, convertStatus(binance.OrderStatusTypeRejected))
}

func TestConvertOrder(t *testing.T) {
	order := convertOrder(&binance.Order{
		OrderID:                  42,
		Symbol:                   "BTCUSDT",
		Side:                     binance.SideTypeSell,
		Status:                   binance.OrderStatusTypeFilled,
		StopPrice:                "104.40",
		OrigQuantity:             "0.002",
		ExecutedQuantity:         "0.002",
		CummulativeQuoteQuantity: "208.80",
	})

	require.Equal(t, int64(42), order.OrderID)
	require.Equal(t, int64(42), order.LinkedID)
	require.Equal(t, core.SideSell, order.Side)
	require.Equal(t, core.OrderStatusFilled, order.Status)
	require.Equal(t, 104.4, order.TriggerPrice)
	require.InDelta(t, 104400.0, order.AvgPrice, 1e-6)
	require.Equal(t, 0.002, order.CumExecQty)

	// Unfilled orders report a zero average price instead of dividing
	// by zero.
	idle := convertOrder(&binance.Order{ExecutedQuantity: "0", CummulativeQuoteQuantity: "0"})
	require.Zero(t, idle.AvgPrice)
}

func TestConvertKline(t *testing.T) {
	kline := convertKline(&binance.Kline{
		OpenTime: 1700000000000,
		Open:     "100.1",
		High:     "101.5",
		Low:      "99.8",
		Close:    "100.9",
		Volume:   "12.5",
	}, "5m")

	require.Equal(t, int64(1700000000000), kline.Time.UnixMilli())
	require.Equal(t, "5m", kline.Interval)
	require.True(t, kline.Complete)
	require.Equal(t, 100.1, kline.Open)
	require.Equal(t, 101.5, kline.High)
	require.Equal(t, 99.8, kline.Low)
	require.Equal(t, 100.9, kline.Close)
	require.Equal(t, 12.5, kline.Volume)
}

func TestParseFilterFloat(t *testing.T) {
	filter := map[string]any{"stepSize": "0.0001", "bogus": 12}
	require.Equal(t, 0.0001, parseFilterFloat(filter, "stepSize"))
	require.Zero(t, parseFilterFloat(filter, "bogus"))
	require.Zero(t, parseFilterFloat(filter, "missing"))
}

func TestCapitalize(t *testing.T) {
	require.Equal(t, "Buy", capitalize("BUY"))
	require.Equal(t, "Sell", capitalize("SELL"))
	require.Equal(t, "", capitalize(""))
	require.Equal(t, "OTHER", capitalize("OTHER"))
}
