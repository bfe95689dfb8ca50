// Package distance computes the trailing trigger distance from price
// history. Several strategies are selectable per session; every result
// passes a protection clamp that keeps the stop out of loss territory.
package distance

import (
	"context"
	"math"
	"time"

	"github.com/raykavin/trailflow/core"
	"github.com/raykavin/trailflow/market"
)

// Method selects the distance strategy for the session.
type Method string

const (
	MethodFixed    Method = "Fixed"
	MethodSpot     Method = "Spot"
	MethodWave     Method = "Wave"
	MethodATR      Method = "ATR"
	MethodEMA      Method = "EMA"
	MethodAdaptive Method = "Adaptive"
)

// spotExponent shapes the concave response of the Spot method.
const spotExponent = 1 / 1.2

// Config holds the strategy knobs. Zero values fall back to the
// defaults set by Normalize.
type Config struct {
	Method Method

	// Wave
	WaveTimeframe  time.Duration
	WaveMultiplier float64
	// WaveMinimum enforces the base distance as a floor on the clamp.
	WaveMinimum bool
	// WavePeaks lets a tighter wave through the floor once the price has
	// already moved beyond the base distance favorably.
	WavePeaks bool

	// EMA
	PricesTimeframe time.Duration
	PricesLimit     int

	// ATR
	ATRInterval   time.Duration
	ATRKlineLimit int

	// Adaptive
	VolEWMASpan    int
	VolScale       float64
	TrendEMASpan   int
	TrendScale     float64
	WeightFixed    float64
	WeightWave     float64
	WeightSpot     float64
	MaxMultiplier  float64
	HysteresisPct  float64
	SmoothingAlpha float64
	MaxStepPct     float64
	TrendThreshold float64
	CalmThreshold  float64
}

// Normalize fills unset knobs with workable defaults.
func (c *Config) Normalize() {
	if c.Method == "" {
		c.Method = MethodWave
	}
	if c.WaveTimeframe <= 0 {
		c.WaveTimeframe = time.Minute
	}
	if c.WaveMultiplier == 0 {
		c.WaveMultiplier = 1
	}
	if c.PricesTimeframe <= 0 {
		c.PricesTimeframe = time.Minute
	}
	if c.PricesLimit <= 0 {
		c.PricesLimit = 250
	}
	if c.ATRInterval <= 0 {
		c.ATRInterval = time.Minute
	}
	if c.ATRKlineLimit <= 0 {
		c.ATRKlineLimit = 250
	}
	if c.VolEWMASpan <= 0 {
		c.VolEWMASpan = 20
	}
	if c.VolScale <= 0 {
		c.VolScale = 1
	}
	if c.TrendEMASpan <= 0 {
		c.TrendEMASpan = 14
	}
	if c.TrendScale <= 0 {
		c.TrendScale = 0.05
	}
	if c.WeightFixed == 0 && c.WeightWave == 0 && c.WeightSpot == 0 {
		c.WeightFixed, c.WeightWave, c.WeightSpot = 0.3, 0.4, 0.3
	}
	if c.MaxMultiplier <= 0 {
		c.MaxMultiplier = 4
	}
	if c.HysteresisPct <= 0 {
		c.HysteresisPct = 0.05
	}
	if c.SmoothingAlpha <= 0 {
		c.SmoothingAlpha = 0.4
	}
	if c.MaxStepPct <= 0 {
		c.MaxStepPct = 0.5
	}
	if c.TrendThreshold <= 0 {
		c.TrendThreshold = 0.6
	}
	if c.CalmThreshold <= 0 {
		c.CalmThreshold = 0.2
	}
}

// KlineSource fetches a fresh kline window for the ATR method.
type KlineSource func(ctx context.Context, interval string, limit int) ([]core.Kline, error)

// Engine computes the live trigger distance for an active order.
type Engine struct {
	cfg    Config
	log    core.Logger
	klines KlineSource
	atr    atrState
}

func NewEngine(cfg Config, klines KlineSource, log core.Logger) *Engine {
	cfg.Normalize()
	if log == nil {
		log = core.NopLogger{}
	}
	return &Engine{cfg: cfg, log: log, klines: klines}
}

// Calculate recomputes wave, fluctuation and regime for the active
// order from the current price history. The order's Current and Start
// prices must be up to date.
func (e *Engine) Calculate(ctx context.Context, ao *core.ActiveOrder, hist *market.History) {
	previous := ao.Fluctuation
	ao.Fluctuation = ao.Distance

	priceDistance := 0.0
	if ao.Start != 0 {
		priceDistance = (ao.Current - ao.Start) / ao.Start * 100
	}

	switch e.cfg.Method {
	case MethodFixed:
		e.fixed(ao)
	case MethodSpot:
		e.spot(ao, priceDistance)
	case MethodWave:
		e.wave(ao, hist, priceDistance, true)
	case MethodATR:
		e.atrScaled(ctx, ao, hist, priceDistance)
	case MethodEMA:
		e.ema(ao, hist, priceDistance)
	case MethodAdaptive:
		e.adaptive(ao, hist, priceDistance)
	default:
		e.fixed(ao)
	}

	if previous != ao.Fluctuation {
		e.log.Debugf("trigger price distance is now %.4f %%", ao.Fluctuation)
	}
}

// fixed pins the distance to the configured base. No clamp needed.
func (e *Engine) fixed(ao *core.ActiveOrder) {
	ao.Fluctuation = ao.Distance
	ao.Wave = ao.Distance
}

// spot maps the signed price movement since trailing start through a
// concave power curve. Adverse movement never reduces the distance
// below the base; favorable movement progressively widens it.
func (e *Engine) spot(ao *core.ActiveOrder, priceDistance float64) {
	var flucDistance float64
	if ao.Side == core.SideSell {
		flucDistance = priceDistance
		if priceDistance < 0 {
			flucDistance = 0
		}
	} else {
		flucDistance = -priceDistance
		if priceDistance > 0 {
			flucDistance = 0
		}
	}

	fluctuation := (1/math.Pow(10, spotExponent))*math.Pow(flucDistance, spotExponent) + ao.Distance
	if fluctuation < ao.Distance {
		ao.Fluctuation = ao.Distance
	} else {
		ao.Fluctuation = fluctuation
	}
	ao.Wave = ao.Fluctuation
}

// wave derives the distance from the percentage price change over the
// configured timeframe. With prevent=false the raw wave is left
// unclamped for callers that post-process it.
func (e *Engine) wave(ao *core.ActiveOrder, hist *market.History, priceDistance float64, prevent bool) {
	ao.Wave = hist.ChangePct(e.cfg.WaveTimeframe) * e.cfg.WaveMultiplier
	if prevent {
		e.protect(ao, priceDistance)
	}
}

// ema derives the distance from the exponentially weighted standard
// deviation of returns, normalized against its own maximum.
func (e *Engine) ema(ao *core.ActiveOrder, hist *market.History, priceDistance float64) {
	span := hist.WindowSize(e.cfg.PricesTimeframe, e.cfg.PricesLimit)
	if span < 2 {
		span = 2
	}

	stds := ewmStd(returns(hist.Prices()), span)
	wave := math.NaN()
	if len(stds) > 0 {
		maxStd := 0.0
		for _, s := range stds {
			if s > maxStd {
				maxStd = s
			}
		}
		if maxStd > 0 {
			wave = stds[len(stds)-1] / maxStd
		}
	}

	if math.IsNaN(wave) {
		wave = ao.Distance
	}
	ao.Wave = wave
	e.protect(ao, priceDistance)
}

// returns computes simple period returns from a price series.
func returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, prices[i]/prices[i-1]-1)
	}
	return out
}

// ewmStd computes an exponentially weighted moving standard deviation
// with the given span. Returns one value per input element.
func ewmStd(values []float64, span int) []float64 {
	if len(values) == 0 {
		return nil
	}
	alpha := 2.0 / (float64(span) + 1)

	out := make([]float64, len(values))
	mean := values[0]
	variance := 0.0
	out[0] = 0
	for i := 1; i < len(values); i++ {
		delta := values[i] - mean
		mean += alpha * delta
		variance = (1 - alpha) * (variance + alpha*delta*delta)
		out[i] = math.Sqrt(variance)
	}
	return out
}
