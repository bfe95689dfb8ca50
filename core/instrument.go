package core

import (
	"math"
	"strconv"
)

// Rounding selects the direction of Round.
type Rounding int

const (
	RoundNearest Rounding = iota
	RoundDown
	RoundUp
)

// Instrument carries the tradeable properties of one symbol. Precisions
// are expressed as step sizes (0.01 means two decimals), matching how
// the exchange reports them.
type Instrument struct {
	Symbol         string
	BaseCoin       string
	QuoteCoin      string
	TickSize       float64
	BasePrecision  float64
	QuotePrecision float64
	MinOrderQuote  float64
	FeeTaker       float64

	// Per-order sizes, derived from MinOrderQuote and adjusted by
	// compounding.
	BuyBase  float64
	BuyQuote float64
}

// Round snaps value to the nearest multiple of step in the requested
// direction.
func Round(value, step float64, rounding Rounding) float64 {
	if step <= 0 {
		return value
	}

	var factor float64
	if step < 1 {
		factor = math.Pow(10, float64(stepDecimals(step)))
	} else {
		factor = 1 / step
	}

	switch rounding {
	case RoundDown:
		return math.Floor(value*factor) / factor
	case RoundUp:
		return math.Ceil(value*factor) / factor
	default:
		return math.Round(value*factor) / factor
	}
}

// RoundPrice snaps a trigger price to the tick size on the conservative
// side: up for Buy triggers, down for Sell triggers.
func (i Instrument) RoundPrice(value float64, side Side) float64 {
	if side == SideBuy {
		return Round(value, i.TickSize, RoundUp)
	}
	return Round(value, i.TickSize, RoundDown)
}

// RoundQty rounds a base quantity down to the instrument's precision.
func (i Instrument) RoundQty(value float64) float64 {
	return Round(value, i.BasePrecision, RoundDown)
}

// RoundQuote rounds a quote value down to the instrument's precision.
func (i Instrument) RoundQuote(value float64) float64 {
	return Round(value, i.QuotePrecision, RoundDown)
}

// FormatPrice renders a price with the number of decimals implied by
// the tick size.
func (i Instrument) FormatPrice(value float64) string {
	return strconv.FormatFloat(value, 'f', stepDecimals(i.TickSize), 64)
}

// FormatQty renders a base quantity with the instrument's precision.
func (i Instrument) FormatQty(value float64) string {
	return strconv.FormatFloat(value, 'f', stepDecimals(i.BasePrecision), 64)
}

// FormatQuote renders a quote value with the instrument's precision.
func (i Instrument) FormatQuote(value float64) string {
	return strconv.FormatFloat(value, 'f', stepDecimals(i.QuotePrecision), 64)
}

// Recalc derives the per-order sizes from the current spot price. The
// multiplier widens orders beyond the exchange minimum; ratio applies
// compounding based on equity growth.
func (i *Instrument) Recalc(spot, multiplier, ratio float64) {
	if ratio <= 0 {
		ratio = 1
	}
	i.BuyQuote = Round(i.MinOrderQuote*multiplier*ratio, i.QuotePrecision, RoundUp)
	if spot > 0 {
		i.BuyBase = Round(i.BuyQuote/spot, i.BasePrecision, RoundUp)
	}
}

// stepDecimals counts the decimals implied by a power-of-ten step.
// Log10 of an exact power of ten can land a hair off the integer
// (Log10(0.1) is -0.999...9), so the result must be rounded, never
// truncated.
func stepDecimals(step float64) int {
	if step <= 0 || step >= 1 {
		return 0
	}
	return int(math.Round(-math.Log10(step)))
}
