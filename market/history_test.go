package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHistory_AppendEvictsByAge(t *testing.T) {
	hist := NewHistory(time.Minute)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	hist.Append(base, 100)
	hist.Append(base.Add(30*time.Second), 101)
	hist.Append(base.Add(90*time.Second), 102)

	// The first entry fell out of the one minute window.
	require.Equal(t, 2, hist.Len())
	require.Equal(t, []float64{101, 102}, hist.Prices())
}

func TestHistory_Last(t *testing.T) {
	hist := NewHistory(time.Hour)

	_, ok := hist.Last()
	require.False(t, ok)

	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	hist.Append(at, 100)
	tick, ok := hist.Last()
	require.True(t, ok)
	require.Equal(t, 100.0, tick.Price)
	require.Equal(t, at.UnixMilli(), tick.Time.UnixMilli())
}

func TestHistory_ChangePct(t *testing.T) {
	hist := NewHistory(time.Hour)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	hist.Append(base, 100)
	hist.Append(base.Add(30*time.Second), 105)
	hist.Append(base.Add(60*time.Second), 110)

	require.InDelta(t, 10.0, hist.ChangePct(time.Minute), 1e-9)

	// Not enough history returns zero change.
	empty := NewHistory(time.Hour)
	require.Zero(t, empty.ChangePct(time.Minute))
}

func TestHistory_ClosestIndex(t *testing.T) {
	hist := NewHistory(time.Hour)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	require.Equal(t, -1, hist.ClosestIndex(base.UnixMilli()))

	hist.Append(base, 1)
	hist.Append(base.Add(10*time.Second), 2)
	hist.Append(base.Add(20*time.Second), 3)

	require.Equal(t, 1, hist.ClosestIndex(base.Add(12*time.Second).UnixMilli()))
	require.Equal(t, 2, hist.ClosestIndex(base.Add(time.Hour).UnixMilli()))
}

func TestHistory_WindowSize(t *testing.T) {
	hist := NewHistory(time.Hour)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		hist.Append(base.Add(time.Duration(i)*time.Second), float64(i))
	}

	// Five seconds back from the newest entry lands at index 4.
	require.Equal(t, 10-4-0, hist.WindowSize(5*time.Second, 10))
	require.Zero(t, NewHistory(time.Hour).WindowSize(time.Minute, 10))
}
