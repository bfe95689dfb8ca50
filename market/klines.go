package market

import (
	"github.com/raykavin/trailflow/core"
)

// KlineSeries is a bounded OHLCV ring keyed by bar open time. Updates
// for the current bar replace it in place, so redundant bars delivered
// after a stream resubscription are harmless.
type KlineSeries struct {
	limit int
	bars  []core.Kline
}

func NewKlineSeries(limit int) *KlineSeries {
	return &KlineSeries{limit: limit}
}

// Upsert inserts or replaces the bar with the same open time. Bars
// older than the current head are ignored.
func (s *KlineSeries) Upsert(k core.Kline) {
	n := len(s.bars)
	if n == 0 {
		s.bars = append(s.bars, k)
		return
	}

	last := s.bars[n-1].Time
	switch {
	case k.Time.Equal(last):
		s.bars[n-1] = k
	case k.Time.After(last):
		s.bars = append(s.bars, k)
		if len(s.bars) > s.limit {
			s.bars = s.bars[len(s.bars)-s.limit:]
		}
	default:
		for i := n - 2; i >= 0; i-- {
			if s.bars[i].Time.Equal(k.Time) {
				s.bars[i] = k
				return
			}
		}
	}
}

// Replace swaps the whole series for a freshly fetched window.
func (s *KlineSeries) Replace(bars []core.Kline) {
	if len(bars) > s.limit {
		bars = bars[len(bars)-s.limit:]
	}
	s.bars = append(s.bars[:0], bars...)
}

func (s *KlineSeries) Len() int { return len(s.bars) }

// Bars returns the underlying window, oldest first. Callers must not
// mutate it.
func (s *KlineSeries) Bars() []core.Kline { return s.bars }

// Last returns the newest bar, or false when empty.
func (s *KlineSeries) Last() (core.Kline, bool) {
	if len(s.bars) == 0 {
		return core.Kline{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// Highs returns the high of every bar, oldest first.
func (s *KlineSeries) Highs() []float64 { return s.column(func(k core.Kline) float64 { return k.High }) }

// Lows returns the low of every bar, oldest first.
func (s *KlineSeries) Lows() []float64 { return s.column(func(k core.Kline) float64 { return k.Low }) }

// Closes returns the close of every bar, oldest first.
func (s *KlineSeries) Closes() []float64 {
	return s.column(func(k core.Kline) float64 { return k.Close })
}

func (s *KlineSeries) column(get func(core.Kline) float64) []float64 {
	out := make([]float64, len(s.bars))
	for i, k := range s.bars {
		out[i] = get(k)
	}
	return out
}
