package distance

import (
	"math"

	"github.com/raykavin/trailflow/core"
	"github.com/raykavin/trailflow/market"
	"gonum.org/v1/gonum/stat"
)

// adaptiveMinHistory is the minimal number of price points required
// before the adaptive method trusts its statistics.
const adaptiveMinHistory = 20

// adaptive blends the Fixed, Spot and Wave candidates with weights
// driven by volatility and trend strength, classifies the market regime
// and smooths the result with hysteresis so the distance does not
// whipsaw. The blended value still goes through the protection clamp.
func (e *Engine) adaptive(ao *core.ActiveOrder, hist *market.History, priceDistance float64) {
	prices := hist.Prices()
	if len(prices) < adaptiveMinHistory {
		e.log.Debug("insufficient history for adaptive distance, falling back to fixed")
		e.fixed(ao)
		return
	}

	rets := returns(prices)

	volNorm, volatility := e.volatility(prices, rets)
	trendNorm := e.trendStrength(rets)
	ao.Regime = e.classifyRegime(volNorm, trendNorm)

	fixedMag, spotMag, waveMag := e.candidates(ao, hist, priceDistance)

	wFixed, wWave, wSpot := e.blendWeights(ao.Regime, volNorm, trendNorm)
	adaptiveMag := fixedMag*wFixed + waveMag*wWave + spotMag*wSpot

	// Profit-aware tightening: the further a sell has run into profit,
	// the closer the stop may trail.
	if ao.Side == core.SideSell && priceDistance > 0 {
		factor := 1.0 - math.Min(0.6, priceDistance/10)
		if factor < 0.6 {
			factor = 0.6
		}
		adaptiveMag *= factor
	}

	minAllowed := ao.Distance
	adaptiveMag = math.Max(adaptiveMag, minAllowed)
	adaptiveMag = math.Min(adaptiveMag, minAllowed*e.cfg.MaxMultiplier)

	ao.Wave = e.smooth(ao, adaptiveMag, volNorm)
	e.protect(ao, priceDistance)

	e.log.Debugf("adaptive: regime %s, volatility %.4f %%, trend %.4f, weights %.2f/%.2f/%.2f, wave %.4f %%",
		ao.Regime, volatility, trendNorm, wFixed, wWave, wSpot, ao.Wave)
}

// volatility estimates percent volatility from an EWMA of squared
// returns, cross-checked against the recent high-low range.
func (e *Engine) volatility(prices, rets []float64) (norm, pct float64) {
	if len(rets) >= 2 {
		span := e.cfg.VolEWMASpan
		if span < 10 {
			span = 10
		}
		if span > 60 {
			span = 60
		}
		stds := ewmStd(rets, span)
		ewma := stds[len(stds)-1] * 100
		if math.IsNaN(ewma) || ewma == 0 {
			ewma = stat.StdDev(rets, nil) * 100
		}
		pct = ewma
	}

	window := len(prices)
	if window > 50 {
		window = 50
	}
	recent := prices[len(prices)-window:]
	lo, hi := recent[0], recent[0]
	for _, p := range recent {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	if lo > 0 {
		rangePct := (hi - lo) / lo * 100
		pct = math.Max(pct, rangePct*0.5)
	}
	if pct < 0 || math.IsNaN(pct) {
		pct = 0
	}

	norm = math.Min(pct/math.Max(1, e.cfg.VolScale), 1)
	return norm, pct
}

// trendStrength measures the magnitude of the EMA of returns, backed by
// a linear regression slope over the same window, normalized to 0..1.
func (e *Engine) trendStrength(rets []float64) float64 {
	if len(rets) == 0 {
		return 0
	}

	span := e.cfg.TrendEMASpan
	if span < 5 {
		span = 5
	}
	if span > 40 {
		span = 40
	}
	alpha := 2.0 / (float64(span) + 1)
	ema := rets[0]
	for i := 1; i < len(rets); i++ {
		ema = (1-alpha)*ema + alpha*rets[i]
	}
	strength := math.Abs(ema) * 100

	// Regression slope over the return index confirms persistent drift.
	if len(rets) >= 3 {
		xs := make([]float64, len(rets))
		for i := range xs {
			xs[i] = float64(i)
		}
		_, slope := stat.LinearRegression(xs, rets, nil, false)
		strength = math.Max(strength, math.Abs(slope)*float64(len(rets))*100)
	}

	return math.Min(strength/math.Max(0.01, e.cfg.TrendScale), 1)
}

func (e *Engine) classifyRegime(volNorm, trendNorm float64) core.Regime {
	switch {
	case trendNorm >= e.cfg.TrendThreshold:
		return core.RegimeTrending
	case volNorm <= e.cfg.CalmThreshold:
		return core.RegimeCalm
	default:
		return core.RegimeRanging
	}
}

// candidates computes the Fixed, Spot and Wave distances on a scratch
// copy so the live order is not mutated mid-blend.
func (e *Engine) candidates(ao *core.ActiveOrder, hist *market.History, priceDistance float64) (fixed, spot, wave float64) {
	scratch := *ao

	e.fixed(&scratch)
	fixed = math.Abs(scratch.Fluctuation)

	scratch = *ao
	e.spot(&scratch, priceDistance)
	spot = math.Abs(scratch.Fluctuation)

	scratch = *ao
	e.wave(&scratch, hist, priceDistance, false)
	wave = math.Abs(scratch.Wave)

	return fixed, spot, wave
}

// blendWeights modulates the configured base weights: strong trends
// favor the spot candidate unless volatility is high, high volatility
// favors wave and fixed, and the regime shifts the bias further.
func (e *Engine) blendWeights(regime core.Regime, volNorm, trendNorm float64) (wFixed, wWave, wSpot float64) {
	wSpot = e.cfg.WeightSpot + (trendNorm*0.5)*(1-volNorm)
	wWave = e.cfg.WeightWave + volNorm*0.4
	wFixed = e.cfg.WeightFixed + volNorm*0.2

	switch regime {
	case core.RegimeTrending:
		wSpot += 0.2
	case core.RegimeCalm:
		wFixed += 0.2
	case core.RegimeRanging:
		wWave += 0.2
	}

	total := wFixed + wWave + wSpot
	if total <= 0 {
		return 0.33, 0.33, 0.34
	}
	return wFixed / total, wWave / total, wSpot / total
}

// smooth applies hysteresis and a capped EWMA step so the applied
// distance converges without toggling on every tick.
func (e *Engine) smooth(ao *core.ActiveOrder, target, volNorm float64) float64 {
	start := ao.Fluctuation
	if start <= 0 {
		return target
	}

	alpha := e.cfg.SmoothingAlpha * (1 - volNorm*0.6)
	alpha = math.Min(math.Max(alpha, 0.05), 0.9)

	relChange := math.Abs(target-start) / start
	proposed := start*(1-alpha) + target*alpha
	if relChange < e.cfg.HysteresisPct {
		return proposed
	}

	upper := start * (1 + e.cfg.MaxStepPct)
	lower := start * (1 - e.cfg.MaxStepPct)
	return math.Min(math.Max(proposed, lower), upper)
}
