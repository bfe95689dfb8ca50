package signal

import (
	"github.com/markcheno/go-talib"
	"github.com/raykavin/trailflow/core"
)

// Advice levels rendered in notifications.
const (
	LevelStrongBuy  = "Strong buy"
	LevelBuy        = "Buy"
	LevelNeutral    = "Neutral"
	LevelSell       = "Sell"
	LevelStrongSell = "Strong sell"
)

// minScoreBars is the minimum window the default scorer needs for its
// slowest indicator.
const minScoreBars = 35

// Score is a normalized technical advice: Value in [-1, 1] where
// positive favors buying, with the matching human-readable level.
type Score struct {
	Value float64
	Level string
}

// Scorer turns a kline window plus the live price into an advice.
// Pluggable so callers can supply their own formula set.
type Scorer func(bars []core.Kline, spot float64) Score

// TechnicalScore is the default scorer: an equal-weight vote of
// oscillators (RSI, stochastic %K, momentum), MACD histogram and a
// fast/slow EMA cross, each contributing -1, 0 or +1.
func TechnicalScore(bars []core.Kline, spot float64) Score {
	if len(bars) < minScoreBars {
		return Score{Level: LevelNeutral}
	}

	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
	}
	last := len(closes) - 1

	var votes []float64

	rsi := talib.Rsi(closes, 14)
	switch {
	case rsi[last] < 30:
		votes = append(votes, 1)
	case rsi[last] > 70:
		votes = append(votes, -1)
	default:
		votes = append(votes, 0)
	}

	k, _ := talib.Stoch(highs, lows, closes, 14, 3, talib.SMA, 3, talib.SMA)
	switch {
	case k[last] < 20:
		votes = append(votes, 1)
	case k[last] > 80:
		votes = append(votes, -1)
	default:
		votes = append(votes, 0)
	}

	_, _, hist := talib.Macd(closes, 12, 26, 9)
	if hist[last] > 0 {
		votes = append(votes, 1)
	} else if hist[last] < 0 {
		votes = append(votes, -1)
	} else {
		votes = append(votes, 0)
	}

	mom := talib.Mom(closes, 10)
	if mom[last] > 0 {
		votes = append(votes, 1)
	} else if mom[last] < 0 {
		votes = append(votes, -1)
	} else {
		votes = append(votes, 0)
	}

	fast := talib.Ema(closes, 10)
	slow := talib.Ema(closes, 30)
	switch {
	case fast[last] > slow[last] && spot > fast[last]:
		votes = append(votes, 1)
	case fast[last] < slow[last] && spot < fast[last]:
		votes = append(votes, -1)
	default:
		votes = append(votes, 0)
	}

	total := 0.0
	for _, v := range votes {
		total += v
	}
	value := total / float64(len(votes))

	return Score{Value: value, Level: adviceLevel(value)}
}

// adviceLevel maps a normalized advice value to its label using the
// conventional 0.1/0.5 thresholds.
func adviceLevel(value float64) string {
	switch {
	case value >= 0.5:
		return LevelStrongBuy
	case value >= 0.1:
		return LevelBuy
	case value <= -0.5:
		return LevelStrongSell
	case value <= -0.1:
		return LevelSell
	default:
		return LevelNeutral
	}
}
