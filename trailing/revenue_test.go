package trailing

import (
	"testing"

	"github.com/raykavin/trailflow/core"
	"github.com/stretchr/testify/require"
)

func TestRevenue(t *testing.T) {
	inst := core.Instrument{QuotePrecision: 0.01}
	order := core.Order{
		Side:         core.SideSell,
		CumExecValue: 1000,
		CumExecFee:   3,
	}
	sells := []core.Lot{
		{OrderID: 1, CumExecValue: 500, CumExecFee: 0.025},
		{OrderID: 2, CumExecValue: 400, CumExecFee: 0.025},
	}

	// Buy fees were charged in base coin: 0.05 at spot 100 is 5 quote.
	revenue := Revenue(order, sells, 100, inst)
	require.InDelta(t, 1000-900-5-3, revenue, 1e-9)
}

func TestRevenue_NoLots(t *testing.T) {
	inst := core.Instrument{QuotePrecision: 0.01}
	order := core.Order{CumExecValue: 100, CumExecFee: 0.5}

	require.InDelta(t, 99.5, Revenue(order, nil, 100, inst), 1e-9)
}

func TestRevenue_FeesRoundDown(t *testing.T) {
	inst := core.Instrument{QuotePrecision: 0.01}
	order := core.Order{CumExecValue: 100, CumExecFee: 0.119}
	sells := []core.Lot{{CumExecValue: 90, CumExecFee: 0.0010099}}

	// Buy fee 0.10099 rounds down to 0.10, sell fee 0.119 to 0.11.
	require.InDelta(t, 100-90-0.10-0.11, Revenue(order, sells, 100, inst), 1e-9)
}
