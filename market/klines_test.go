package market

import (
	"testing"
	"time"

	"github.com/raykavin/trailflow/core"
	"github.com/stretchr/testify/require"
)

func bar(at time.Time, close float64) core.Kline {
	return core.Kline{Time: at, Close: close}
}

func TestKlineSeries_UpsertReplacesCurrentBar(t *testing.T) {
	series := NewKlineSeries(5)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	series.Upsert(bar(base, 100))
	series.Upsert(bar(base, 101))
	require.Equal(t, 1, series.Len())

	last, ok := series.Last()
	require.True(t, ok)
	require.Equal(t, 101.0, last.Close)
}

func TestKlineSeries_UpsertCapsAtLimit(t *testing.T) {
	series := NewKlineSeries(3)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		series.Upsert(bar(base.Add(time.Duration(i)*time.Minute), float64(i)))
	}

	require.Equal(t, 3, series.Len())
	require.Equal(t, []float64{2, 3, 4}, series.Closes())
}

func TestKlineSeries_UpsertBackfillsKnownBar(t *testing.T) {
	series := NewKlineSeries(5)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	series.Upsert(bar(base, 100))
	series.Upsert(bar(base.Add(time.Minute), 101))
	series.Upsert(bar(base, 99))

	require.Equal(t, []float64{99, 101}, series.Closes())
}

func TestKlineSeries_Replace(t *testing.T) {
	series := NewKlineSeries(2)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	series.Replace([]core.Kline{bar(base, 1), bar(base.Add(time.Minute), 2), bar(base.Add(2*time.Minute), 3)})
	require.Equal(t, []float64{2, 3}, series.Closes())
}

func TestKlineSeries_Columns(t *testing.T) {
	series := NewKlineSeries(5)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	series.Upsert(core.Kline{Time: base, High: 10, Low: 5, Close: 7})
	series.Upsert(core.Kline{Time: base.Add(time.Minute), High: 12, Low: 6, Close: 11})

	require.Equal(t, []float64{10, 12}, series.Highs())
	require.Equal(t, []float64{5, 6}, series.Lows())
	require.Equal(t, []float64{7, 11}, series.Closes())
}
