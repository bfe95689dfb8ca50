package distance

import (
	"context"
	"time"

	talib "github.com/markcheno/go-talib"
	"github.com/raykavin/trailflow/core"
	"github.com/raykavin/trailflow/market"
	"gonum.org/v1/gonum/stat"
)

const atrPeriod = 14

// atrState caches the ATR ratio between kline refreshes so the hot
// path does not hit the exchange on every tick.
type atrState struct {
	lastFetch  time.Time
	percentage float64
	average    float64
	multiplier float64
}

// atrScaled multiplies the raw wave by the ratio of the current ATR
// percentage to its mean over the fetched window. The kline window is
// refreshed at most once per configured interval.
func (e *Engine) atrScaled(ctx context.Context, ao *core.ActiveOrder, hist *market.History, priceDistance float64) {
	e.refreshATR(ctx)

	e.wave(ao, hist, priceDistance, false)
	ao.Wave *= e.atr.multiplier
	e.protect(ao, priceDistance)
}

func (e *Engine) refreshATR(ctx context.Context) {
	if e.atr.multiplier == 0 {
		e.atr.multiplier = 1
	}
	if e.klines == nil {
		return
	}
	if !e.atr.lastFetch.IsZero() && time.Since(e.atr.lastFetch) < e.cfg.ATRInterval {
		return
	}

	start := time.Now()
	bars, err := e.klines(ctx, "1m", e.cfg.ATRKlineLimit)
	if err != nil {
		e.log.WithError(err).Warn("failed to refresh klines for ATR, keeping previous multiplier")
		return
	}
	e.atr.lastFetch = time.Now()

	series := market.NewKlineSeries(e.cfg.ATRKlineLimit)
	series.Replace(bars)
	percentage, average, ok := atrPercentage(series)
	if !ok {
		e.log.Warn("not enough klines to compute ATR, keeping previous multiplier")
		return
	}

	e.atr.percentage = percentage
	e.atr.average = average
	if average > 0 {
		e.atr.multiplier = percentage / average
	}

	e.log.Debugf("ATR is %.4f %% against an average of %.4f %%, multiplier %.4f (%s)",
		percentage, average, e.atr.multiplier, time.Since(start).Round(time.Millisecond))
}

// atrPercentage returns the latest ATR as a percentage of close and the
// mean of that percentage over the series.
func atrPercentage(series *market.KlineSeries) (current, average float64, ok bool) {
	if series.Len() <= atrPeriod {
		return 0, 0, false
	}

	closes := series.Closes()
	atr := talib.Atr(series.Highs(), series.Lows(), closes, atrPeriod)

	percs := make([]float64, 0, len(atr)-atrPeriod)
	for i := atrPeriod; i < len(atr); i++ {
		if closes[i] == 0 {
			continue
		}
		percs = append(percs, atr[i]/closes[i]*100)
	}
	if len(percs) == 0 {
		return 0, 0, false
	}

	return percs[len(percs)-1], stat.Mean(percs, nil), true
}
