package distance

import (
	"math"

	"github.com/raykavin/trailflow/core"
)

// protect clamps the raw wave into an applied fluctuation. This is the
// anti-loss-lock mechanism: for Sell the distance may never exceed the
// profitable zone (price distance since start plus the base distance),
// and invalid values collapse to zero.
//
// Buy-side logic mirrors sell-side by inverting the signs of wave and
// price distance. The fluctuation itself is captured before inversion,
// so the floor comparison sees the raw wave while the peak override
// applies the inverted one.
func (e *Engine) protect(ao *core.ActiveOrder, priceDistance float64) {
	def := ao.Distance
	wave := ao.Wave
	fluctuation := ao.Wave

	if ao.Side == core.SideBuy {
		priceDistance = -priceDistance
		wave = -wave
	}

	// Optional minimum floor.
	if e.cfg.WaveMinimum && fluctuation < def {
		fluctuation = def
	}

	// Optional: when the price has already run beyond the base distance
	// favorably, allow a tighter wave through the floor.
	if e.cfg.WavePeaks && fluctuation < def && priceDistance > def {
		fluctuation = wave
	}

	// Keep the stop inside the profitable zone.
	if ao.Side == core.SideSell {
		profitable := priceDistance + def
		if fluctuation > profitable {
			fluctuation = profitable
		}
	}

	if fluctuation < 0 || math.IsNaN(fluctuation) || math.IsInf(fluctuation, 0) {
		e.log.Warnf("fluctuation distance is %v %%, enforcing 0.0000 %%", fluctuation)
		fluctuation = 0
	}

	ao.Fluctuation = fluctuation
}
