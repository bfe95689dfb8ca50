// Package optimizer periodically retunes profit, trigger distance and
// spread from realized price volatility. Baselines are immutable: each
// run scales the original configured values, never the previous run's
// output, so tuning cannot drift.
package optimizer

import (
	"math"
	"time"

	"github.com/raykavin/trailflow/core"
	"github.com/raykavin/trailflow/market"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"
)

// maxErrors is the number of consecutive failed runs tolerated before
// the optimizer reports a halt condition.
const maxErrors = 3

type Config struct {
	Enabled bool
	// Interval is the resample bucket width for the volatility series.
	Interval time.Duration
	// MinAge is the minimum price-history span before tuning starts.
	MinAge time.Duration
	// Scaler amplifies the volatility deviation before clamping.
	Scaler float64
	// AdjMin and AdjMax clamp the applied adjustment, in percent.
	AdjMin float64
	AdjMax float64
	// Window is the rolling window of the volatility estimate.
	Window int
	// SpreadEnabled also scales the buy-gate spread distance.
	SpreadEnabled bool
	// Sides limits tuning to trails of the listed sides.
	Sides []core.Side
}

// Tuning is the result of one optimizer run. Applied is false when the
// adjustment clamped to zero and the baselines stand unchanged.
type Tuning struct {
	Profit   float64
	Distance float64
	Spread   float64
	Applied  bool
}

// Optimizer keeps an incrementally maintained resampled price series:
// completed buckets are cached, only the ticks after the last cached
// bucket are folded in on each run.
type Optimizer struct {
	cfg Config
	log core.Logger

	baseProfit   float64
	baseDistance float64
	baseSpread   float64

	bucketTimes  []int64
	bucketPrices []float64
	errors       int
}

func New(cfg Config, profit, distance, spread float64, log core.Logger) *Optimizer {
	if log == nil {
		log = core.NopLogger{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Window <= 0 {
		cfg.Window = 10
	}
	if cfg.Scaler == 0 {
		cfg.Scaler = 1
	}
	return &Optimizer{
		cfg:          cfg,
		log:          log,
		baseProfit:   profit,
		baseDistance: distance,
		baseSpread:   spread,
	}
}

// Halted reports whether too many consecutive runs failed.
func (o *Optimizer) Halted() bool { return o.errors >= maxErrors }

// WantsSide reports whether the given trail side is tuned at all.
func (o *Optimizer) WantsSide(side core.Side) bool {
	return len(o.cfg.Sides) == 0 || lo.Contains(o.cfg.Sides, side)
}

// Optimize runs one tuning pass over the price history. Applied is
// false whenever tuning is not possible or the adjustment is nil.
func (o *Optimizer) Optimize(hist *market.History) Tuning {
	unapplied := Tuning{
		Profit:   o.baseProfit,
		Distance: o.baseDistance,
		Spread:   o.baseSpread,
	}

	times := hist.Times()
	if len(times) == 0 || time.Since(time.UnixMilli(times[0])) < o.cfg.MinAge {
		o.log.Info("optimization not possible yet, still collecting price data")
		return unapplied
	}

	o.fold(hist)

	adjustment, ok := o.volatilityAdjustment()
	if !ok {
		o.errors++
		o.log.Warnf("optimizer run failed (%d consecutive), not enough resampled data", o.errors)
		return unapplied
	}
	o.errors = 0

	if adjustment == 0 {
		o.log.Infof("volatility adjustment clamped to zero, not between %.4f %% and %.4f %%",
			o.cfg.AdjMin, o.cfg.AdjMax)
		return unapplied
	}

	profit := o.baseProfit * (1 + adjustment)
	distance := (o.baseDistance / o.baseProfit) * profit
	spread := o.baseSpread
	if o.cfg.SpreadEnabled {
		spread = o.baseSpread * (1 + adjustment)
	}

	o.log.Infof("volatility %.4f %%, profit %.4f %%, trigger price distance %.4f %%, spread %.4f %%",
		adjustment*100, profit, distance, spread)

	return Tuning{Profit: profit, Distance: distance, Spread: spread, Applied: true}
}

// fold merges the ticks newer than the last cached bucket into the
// resampled series, bucketed by interval start with last price wins.
func (o *Optimizer) fold(hist *market.History) {
	bucketMs := o.cfg.Interval.Milliseconds()
	times := hist.Times()
	prices := hist.Prices()

	var since int64 = math.MinInt64
	if n := len(o.bucketTimes); n > 0 {
		since = o.bucketTimes[n-1]
	}

	for i, t := range times {
		if t <= since {
			continue
		}
		bucket := t - t%bucketMs
		if n := len(o.bucketTimes); n > 0 && o.bucketTimes[n-1] == bucket {
			o.bucketPrices[n-1] = prices[i]
		} else {
			o.bucketTimes = append(o.bucketTimes, bucket)
			o.bucketPrices = append(o.bucketPrices, prices[i])
		}
	}
}

// volatilityAdjustment computes the relative deviation of the latest
// rolling volatility from its historical mean, scaled and clamped.
func (o *Optimizer) volatilityAdjustment() (float64, bool) {
	window := o.cfg.Window
	prices := o.bucketPrices
	if len(prices) < window+2 {
		return 0, false
	}

	logReturns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		logReturns[i-1] = math.Log(prices[i]) - math.Log(prices[i-1])
	}

	// Rolling standard deviation of log returns, scaled to the window
	// length.
	scale := math.Sqrt(float64(window))
	vols := make([]float64, 0, len(logReturns)-window+1)
	for i := window; i <= len(logReturns); i++ {
		vols = append(vols, stat.StdDev(logReturns[i-window:i], nil)*scale)
	}
	if len(vols) == 0 {
		return 0, false
	}

	average := stat.Mean(vols, nil)
	if average == 0 || math.IsNaN(average) {
		return 0, false
	}

	deviation := (vols[len(vols)-1] - average) / average * o.cfg.Scaler
	deviation = math.Min(deviation, o.cfg.AdjMax/100)
	deviation = math.Max(deviation, o.cfg.AdjMin/100)
	if math.IsNaN(deviation) {
		return 0, false
	}
	return deviation, true
}
