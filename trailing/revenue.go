package trailing

import (
	"github.com/raykavin/trailflow/core"
	"github.com/samber/lo"
)

// Revenue computes the realized gain of a filled sell against the lots
// it consumed. Buy fees were charged in base coin and are converted at
// the current spot price; the sell fee is already in quote coin. Both
// are rounded down so fees are never understated.
func Revenue(order core.Order, sells []core.Lot, spot float64, inst core.Instrument) float64 {
	proceeds := order.CumExecValue
	costs := lo.SumBy(sells, func(l core.Lot) float64 { return l.CumExecValue })

	buyFees := lo.SumBy(sells, func(l core.Lot) float64 { return l.CumExecFee }) * spot
	buyFees = inst.RoundQuote(buyFees)
	sellFee := inst.RoundQuote(order.CumExecFee)

	return proceeds - costs - (buyFees + sellFee)
}
