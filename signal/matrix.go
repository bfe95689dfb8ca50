// Package signal implements the buy decision matrix: a set of
// independent gates (technical indicators, spread versus open lots,
// orderbook imbalance, trade flow, price ceiling) that must all agree
// before a trailing buy is opened.
package signal

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/raykavin/trailflow/core"
	"github.com/raykavin/trailflow/market"
)

// maxIntervals is the number of indicator timeframes that can vote.
const maxIntervals = 3

// IndicatorsConfig controls the technical-indicator gate.
type IndicatorsConfig struct {
	Enabled bool
	// Intervals holds up to three kline timeframes, empty slots unused.
	Intervals [maxIntervals]string
	// Minimum and Maximum bound the acceptable advice value.
	Minimum float64
	Maximum float64
	// Average switches from per-interval voting to a single vote on the
	// mean advice, valid only once every configured interval reported.
	Average    bool
	KlineLimit int
}

// SpreadConfig blocks buys too close to an existing lot.
type SpreadConfig struct {
	Enabled bool
	// Distance is the half-width of the exclusion band in percent.
	Distance float64
}

// OrderbookConfig gates on the rolling average buy-side depth share.
type OrderbookConfig struct {
	Enabled   bool
	Minimum   float64
	Maximum   float64
	Timeframe time.Duration
	Limit     int
}

// TradeConfig gates on the buy share of recent trade turnover.
type TradeConfig struct {
	Enabled bool
	Minimum float64
	Maximum float64
	Limit   int
}

// PriceLimitConfig refuses buys at or above a fixed ceiling.
type PriceLimitConfig struct {
	Enabled bool
	MaxBuy  float64
}

type Config struct {
	Indicators IndicatorsConfig
	Spread     SpreadConfig
	Orderbook  OrderbookConfig
	Trade      TradeConfig
	PriceLimit PriceLimitConfig
}

// Decision is the matrix verdict plus the human-readable breakdown
// that goes to the log and notifier.
type Decision struct {
	Buy     bool
	Message string
}

// intervalAdvice is the last score reported for one timeframe. Index 0
// of the advice array holds the cross-interval average.
type intervalAdvice struct {
	filled bool
	value  float64
	level  string
	result bool
}

// Matrix accumulates market data per gate and renders buy decisions.
// Not safe for concurrent use; the session loop serializes access.
type Matrix struct {
	cfg    Config
	inst   core.Instrument
	log    core.Logger
	scorer Scorer

	klines map[string]*market.KlineSeries
	advice [maxIntervals + 1]intervalAdvice
	depth  depthWindow
	flow   flowWindow

	buyPercent float64
	buyRatio   float64
}

func NewMatrix(cfg Config, inst core.Instrument, log core.Logger) *Matrix {
	if log == nil {
		log = core.NopLogger{}
	}
	if cfg.Indicators.KlineLimit <= 0 {
		cfg.Indicators.KlineLimit = 250
	}
	if cfg.Orderbook.Limit <= 0 {
		cfg.Orderbook.Limit = 100
	}
	if cfg.Trade.Limit <= 0 {
		cfg.Trade.Limit = 100
	}

	m := &Matrix{
		cfg:        cfg,
		inst:       inst,
		log:        log,
		scorer:     TechnicalScore,
		klines:     make(map[string]*market.KlineSeries),
		depth:      depthWindow{limit: cfg.Orderbook.Limit},
		flow:       flowWindow{limit: cfg.Trade.Limit},
		buyPercent: 50,
		buyRatio:   50,
	}
	for _, interval := range cfg.Indicators.Intervals {
		if interval != "" {
			m.klines[interval] = market.NewKlineSeries(cfg.Indicators.KlineLimit)
		}
	}
	return m
}

// SetScorer replaces the default technical scoring function.
func (m *Matrix) SetScorer(s Scorer) {
	if s != nil {
		m.scorer = s
	}
}

// SetSpreadDistance updates the spread gate half-width, used when the
// optimizer rescales it.
func (m *Matrix) SetSpreadDistance(distance float64) {
	m.cfg.Spread.Distance = distance
}

// SetInstrument swaps in refreshed instrument data.
func (m *Matrix) SetInstrument(inst core.Instrument) {
	m.inst = inst
}

// OnKline records a kline update for its timeframe.
func (m *Matrix) OnKline(k core.Kline) {
	if series, ok := m.klines[k.Interval]; ok {
		series.Upsert(k)
	}
}

// OnDepth records an orderbook snapshot for the rolling depth average.
func (m *Matrix) OnDepth(d core.DepthSnapshot) {
	m.depth.append(d)
	if buy, sell, ok := m.depth.average(m.cfg.Orderbook.Timeframe); ok {
		m.buyPercent, _ = buy, sell
	}
}

// OnFlow records an executed trade for the buy/sell turnover ratio.
func (m *Matrix) OnFlow(e core.FlowEntry) {
	m.flow.append(e)
	if ratio, ok := m.flow.buyRatio(); ok {
		m.buyRatio = ratio
	}
}

// Decide evaluates all gates for the given timeframe update and
// returns the verdict with its breakdown message.
func (m *Matrix) Decide(spot float64, lots []core.Lot, interval string) Decision {
	m.scoreInterval(spot, interval)

	spreadOK, nearest := true, 0.0
	if m.cfg.Spread.Enabled {
		spreadOK, nearest = CheckSpread(lots, spot, m.cfg.Spread.Distance)
	}

	orderbookOK := !m.cfg.Orderbook.Enabled ||
		(m.buyPercent >= m.cfg.Orderbook.Minimum && m.buyPercent <= m.cfg.Orderbook.Maximum)

	tradeOK := !m.cfg.Trade.Enabled ||
		(m.buyRatio >= m.cfg.Trade.Minimum && m.buyRatio <= m.cfg.Trade.Maximum)

	ceilingOK := !m.cfg.PriceLimit.Enabled || spot < m.cfg.PriceLimit.MaxBuy

	var sb strings.Builder
	indicatorsOK := m.reportIndicators(&sb, interval)

	if m.cfg.Spread.Enabled {
		fmt.Fprintf(&sb, "Spread: %.4f %% %s, ", nearest, reportBuy(spreadOK))
	}
	if m.cfg.Orderbook.Enabled {
		fmt.Fprintf(&sb, "Orderbook: %.2f %% %s, ", m.buyPercent, reportBuy(orderbookOK))
	}
	if m.cfg.Trade.Enabled {
		fmt.Fprintf(&sb, "Trade: %.2f %% %s, ", m.buyRatio, reportBuy(tradeOK))
	}
	if m.cfg.PriceLimit.Enabled {
		fmt.Fprintf(&sb, "Max buy: %s %s %s, ",
			m.inst.FormatPrice(m.cfg.PriceLimit.MaxBuy), m.inst.QuoteCoin, reportBuy(ceilingOK))
	}

	buy := indicatorsOK && spreadOK && orderbookOK && tradeOK && ceilingOK
	if buy {
		sb.WriteString("BUY!")
	} else {
		sb.WriteString("NO BUY")
	}

	return Decision{Buy: buy, Message: sb.String()}
}

// scoreInterval runs the scorer for the timeframe that just updated
// and stores its advice slot.
func (m *Matrix) scoreInterval(spot float64, interval string) {
	if !m.cfg.Indicators.Enabled {
		return
	}
	idx := m.intervalIndex(interval)
	if idx == 0 {
		return
	}
	series, ok := m.klines[interval]
	if !ok || series.Len() < minScoreBars {
		return
	}

	score := m.scorer(series.Bars(), spot)
	m.advice[idx] = intervalAdvice{
		filled: true,
		value:  score.Value,
		level:  score.Level,
		result: score.Value >= m.cfg.Indicators.Minimum && score.Value <= m.cfg.Indicators.Maximum,
	}
}

// reportIndicators appends the indicator part of the breakdown and
// returns the gate verdict.
func (m *Matrix) reportIndicators(sb *strings.Builder, interval string) bool {
	if !m.cfg.Indicators.Enabled {
		return true
	}

	fmt.Fprintf(sb, "Update %s: ", interval)

	if m.cfg.Indicators.Average {
		m.refreshAverage()
		avg := m.advice[0]
		for _, iv := range m.cfg.Indicators.Intervals {
			idx := m.intervalIndex(iv)
			if idx == 0 {
				continue
			}
			fmt.Fprintf(sb, "%s: ", iv)
			if m.advice[idx].filled {
				fmt.Fprintf(sb, "%.2f, ", m.advice[idx].value)
			} else {
				sb.WriteString("?, ")
			}
		}
		if avg.filled {
			fmt.Fprintf(sb, "average: %.2f ", avg.value)
		} else {
			sb.WriteString("average: ? ")
		}
		fmt.Fprintf(sb, "%s, ", reportBuy(avg.result))
		return avg.result
	}

	ok := true
	for _, iv := range m.cfg.Indicators.Intervals {
		idx := m.intervalIndex(iv)
		if idx == 0 {
			continue
		}
		adv := m.advice[idx]
		if !adv.result {
			ok = false
		}
		fmt.Fprintf(sb, "%s: ", iv)
		if adv.filled {
			fmt.Fprintf(sb, "%.2f ", adv.value)
		} else {
			sb.WriteString("? ")
		}
		fmt.Fprintf(sb, "%s, ", reportBuy(adv.result))
	}
	return ok
}

// refreshAverage folds the per-interval advices into slot 0. The
// average is only valid once every configured interval has reported.
func (m *Matrix) refreshAverage() {
	total, count := 0.0, 0
	filled := true
	for _, iv := range m.cfg.Indicators.Intervals {
		idx := m.intervalIndex(iv)
		if idx == 0 {
			continue
		}
		if !m.advice[idx].filled {
			filled = false
			break
		}
		total += m.advice[idx].value
		count++
	}
	if !filled || count == 0 {
		m.advice[0] = intervalAdvice{level: LevelNeutral}
		return
	}

	value := total / float64(count)
	m.advice[0] = intervalAdvice{
		filled: true,
		value:  value,
		level:  adviceLevel(value),
		result: value >= m.cfg.Indicators.Minimum && value <= m.cfg.Indicators.Maximum,
	}
}

// intervalIndex maps a timeframe to its 1-based advice slot, 0 when
// the timeframe is not configured.
func (m *Matrix) intervalIndex(interval string) int {
	if interval == "" {
		return 0
	}
	for i, iv := range m.cfg.Indicators.Intervals {
		if iv == interval {
			return i + 1
		}
	}
	return 0
}

// CheckSpread reports whether spot keeps the minimum distance from all
// given lots. When blocked, near is how far inside the exclusion band
// the offending lot sits, in percent.
func CheckSpread(lots []core.Lot, spot, spread float64) (bool, float64) {
	minPrice := spot * (1 - spread/100)
	maxPrice := spot * (1 + spread/100)

	for _, lot := range lots {
		if lot.AvgPrice >= minPrice && lot.AvgPrice <= maxPrice {
			near := math.Min(
				math.Abs(lot.AvgPrice/minPrice*100-100),
				math.Abs(lot.AvgPrice/maxPrice*100-100),
			)
			return false, near
		}
	}
	return true, 0
}

func reportBuy(ok bool) string {
	if ok {
		return "(Buy)"
	}
	return "(No buy)"
}

// depthWindow is a rolling buffer of orderbook snapshots capped at the
// configured limit.
type depthWindow struct {
	limit int
	times []int64
	buy   []float64
	sell  []float64
}

func (w *depthWindow) append(d core.DepthSnapshot) {
	t := d.Time
	if t.IsZero() {
		t = time.Now()
	}
	w.times = append(w.times, t.UnixMilli())
	w.buy = append(w.buy, d.BuyPercent)
	w.sell = append(w.sell, d.SellPercent)
	if over := len(w.times) - w.limit; over > 0 {
		w.times = w.times[over:]
		w.buy = w.buy[over:]
		w.sell = w.sell[over:]
	}
}

// average returns the mean buy and sell share over the trailing
// timeframe. Until the buffer is full the previous values stand.
func (w *depthWindow) average(timeframe time.Duration) (float64, float64, bool) {
	if len(w.times) < w.limit {
		return 0, 0, false
	}
	span := w.times[len(w.times)-1] - timeframe.Milliseconds()
	closest := 0
	minDiff := int64(math.MaxInt64)
	for i, t := range w.times {
		diff := t - span
		if diff < 0 {
			diff = -diff
		}
		if diff < minDiff {
			minDiff = diff
			closest = i
		}
	}
	number := w.limit - closest
	if number <= 0 || number > len(w.buy) {
		number = len(w.buy)
	}
	return mean(w.buy[len(w.buy)-number:]), mean(w.sell[len(w.sell)-number:]), true
}

// flowWindow is a rolling buffer of executed trades capped at the
// configured limit.
type flowWindow struct {
	limit   int
	entries []core.FlowEntry
}

func (w *flowWindow) append(e core.FlowEntry) {
	w.entries = append(w.entries, e)
	if over := len(w.entries) - w.limit; over > 0 {
		w.entries = w.entries[over:]
	}
}

// buyRatio returns the buy share of total turnover in percent.
func (w *flowWindow) buyRatio() (float64, bool) {
	totalBuy, totalAll := 0.0, 0.0
	for _, e := range w.entries {
		value := e.Price * e.Size
		totalAll += value
		if e.Side == core.SideBuy {
			totalBuy += value
		}
	}
	if totalAll == 0 {
		return 0, false
	}
	return totalBuy / totalAll * 100, true
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}
