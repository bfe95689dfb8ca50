// Package market holds the in-memory market data buffers the trading
// loop reads from: a rolling last-price history and bounded kline series.
package market

import (
	"time"

	"github.com/raykavin/trailflow/core"
)

// History is a rolling, time-ordered buffer of last prices bounded by a
// maximum age. Appends evict everything older than the window relative
// to the newest entry.
type History struct {
	maxAge time.Duration
	times  []int64 // unix milliseconds
	prices []float64
}

func NewHistory(maxAge time.Duration) *History {
	return &History{maxAge: maxAge}
}

// Append records a price observation and evicts entries that fell out
// of the window. Out-of-order duplicates are accepted as-is; the buffer
// only ever grows at the tail.
func (h *History) Append(t time.Time, price float64) {
	ms := t.UnixMilli()
	h.times = append(h.times, ms)
	h.prices = append(h.prices, price)

	cutoff := ms - h.maxAge.Milliseconds()
	drop := 0
	for drop < len(h.times) && h.times[drop] < cutoff {
		drop++
	}
	if drop > 0 {
		h.times = h.times[drop:]
		h.prices = h.prices[drop:]
	}
}

func (h *History) Len() int { return len(h.prices) }

// Last returns the newest observation, or false when empty.
func (h *History) Last() (core.Tick, bool) {
	if len(h.prices) == 0 {
		return core.Tick{}, false
	}
	n := len(h.prices) - 1
	return core.Tick{Time: time.UnixMilli(h.times[n]), Price: h.prices[n]}, true
}

// Prices returns the underlying price slice, oldest first. Callers must
// not mutate it.
func (h *History) Prices() []float64 { return h.prices }

// Times returns the underlying timestamp slice in unix milliseconds.
func (h *History) Times() []int64 { return h.times }

// ClosestIndex returns the index whose timestamp is nearest to the
// target, or -1 when the buffer is empty.
func (h *History) ClosestIndex(targetMs int64) int {
	closest := -1
	var minDiff int64 = -1
	for i, t := range h.times {
		diff := t - targetMs
		if diff < 0 {
			diff = -diff
		}
		if minDiff < 0 || diff < minDiff {
			minDiff = diff
			closest = i
		}
	}
	return closest
}

// ChangePct returns the percentage price change over the given window,
// measured against the observation closest to now-window. Returns 0
// when there is not enough history.
func (h *History) ChangePct(window time.Duration) float64 {
	n := len(h.prices)
	if n == 0 {
		return 0
	}

	span := h.times[n-1] - window.Milliseconds()
	idx := h.ClosestIndex(span)
	if idx < 0 || h.times[n-1] <= span {
		return 0
	}

	base := h.prices[idx]
	if base == 0 {
		return 0
	}
	return (h.prices[n-1] - base) / base * 100
}

// WindowSize returns how many of the newest entries fall inside the
// given timeframe, assuming the buffer is capped at limit entries.
func (h *History) WindowSize(timeframe time.Duration, limit int) int {
	n := len(h.times)
	if n == 0 {
		return 0
	}

	missing := 0
	if n < limit {
		missing = limit - n
	}

	span := h.times[n-1] - timeframe.Milliseconds()
	idx := h.ClosestIndex(span)
	number := limit - idx - missing
	if number < 0 {
		number = 0
	}
	if number > n {
		number = n
	}
	return number
}
