package binance

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/jpillora/backoff"
	"github.com/raykavin/trailflow/core"
)

// ---------------------
// Market Data Stream
// ---------------------

// channelBuffer absorbs bursts between session selects. Sends never
// block: when a consumer lags, the oldest pending update is dropped.
const channelBuffer = 100

// depthLevels is the partial book depth subscribed for imbalance.
const depthLevels = "20"

// Stream implements core.Feeder on the Binance spot websockets: one
// aggregated trade stream feeding ticks and flow, a kline stream per
// interval and a partial depth stream. Each subscription reconnects
// with backoff until the stream is stopped.
type Stream struct {
	symbol    string
	intervals []string
	log       core.Logger

	ticks  chan core.Tick
	klines map[string]chan core.Kline
	depth  chan core.DepthSnapshot
	flow   chan core.FlowEntry

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewStream(symbol string, intervals []string, log core.Logger) *Stream {
	if log == nil {
		log = core.NopLogger{}
	}

	s := &Stream{
		symbol:    symbol,
		intervals: intervals,
		log:       log,
		ticks:     make(chan core.Tick, channelBuffer),
		klines:    make(map[string]chan core.Kline, len(intervals)),
		depth:     make(chan core.DepthSnapshot, channelBuffer),
		flow:      make(chan core.FlowEntry, channelBuffer),
	}
	for _, interval := range intervals {
		if _, ok := s.klines[interval]; !ok && interval != "" {
			s.klines[interval] = make(chan core.Kline, channelBuffer)
		}
	}
	return s
}

func (s *Stream) Ticks() <-chan core.Tick { return s.ticks }

func (s *Stream) Depth() <-chan core.DepthSnapshot { return s.depth }

func (s *Stream) Flow() <-chan core.FlowEntry { return s.flow }

// Klines returns the channel of the given interval; a nil channel
// (blocking forever in selects) when the interval is not subscribed.
func (s *Stream) Klines(interval string) <-chan core.Kline {
	return s.klines[interval]
}

// Start opens all websocket subscriptions. Safe to call again after
// Stop; a second Start while running restarts the subscriptions.
func (s *Stream) Start(ctx context.Context) error {
	binance.WebsocketKeepalive = true

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.serve(ctx, "aggtrade", func() (chan struct{}, chan struct{}, error) {
		return binance.WsAggTradeServe(s.symbol, s.onAggTrade, s.onWsError("aggtrade"))
	})

	for interval := range s.klines {
		interval := interval
		s.serve(ctx, "kline "+interval, func() (chan struct{}, chan struct{}, error) {
			return binance.WsKlineServe(s.symbol, interval, s.onKline(interval), s.onWsError("kline"))
		})
	}

	s.serve(ctx, "depth", func() (chan struct{}, chan struct{}, error) {
		return binance.WsPartialDepthServe(s.symbol, depthLevels, s.onDepth, s.onWsError("depth"))
	})

	s.log.Infof("market data streams connected for %s", s.symbol)
	return nil
}

// Resubscribe tears the websockets down and reopens them, used when
// the session detects a stalled feed.
func (s *Stream) Resubscribe(ctx context.Context) error {
	s.log.Warn("resubscribing market data streams")
	return s.Start(ctx)
}

// Stop closes all subscriptions. The data channels stay open so
// in-flight consumers drain without panics.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// serve keeps one websocket subscription alive, reconnecting with
// backoff whenever the library signals it is done.
func (s *Stream) serve(ctx context.Context, name string, connect func() (chan struct{}, chan struct{}, error)) {
	retry := &backoff.Backoff{
		Min:    time.Second,
		Max:    time.Minute,
		Factor: 2,
		Jitter: true,
	}

	go func() {
		for {
			done, stop, err := connect()
			if err != nil {
				wait := retry.Duration()
				s.log.WithError(err).Warnf("%s stream connect failed, retrying in %s", name, wait)
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
					continue
				}
			}
			retry.Reset()

			select {
			case <-ctx.Done():
				close(stop)
				return
			case <-done:
				wait := retry.Duration()
				s.log.Warnf("%s stream dropped, reconnecting in %s", name, wait)
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
			}
		}
	}()
}

func (s *Stream) onAggTrade(event *binance.WsAggTradeEvent) {
	price, err := strconv.ParseFloat(event.Price, 64)
	if err != nil {
		return
	}
	size, _ := strconv.ParseFloat(event.Quantity, 64)
	at := time.UnixMilli(event.TradeTime)

	// The taker side is the opposite of the maker flag.
	side := core.SideBuy
	if event.IsBuyerMaker {
		side = core.SideSell
	}

	sendLatest(s.ticks, core.Tick{Time: at, Price: price})
	sendLatest(s.flow, core.FlowEntry{Time: at, Price: price, Size: size, Side: side})
}

func (s *Stream) onKline(interval string) func(*binance.WsKlineEvent) {
	ch := s.klines[interval]
	return func(event *binance.WsKlineEvent) {
		k := core.Kline{
			Time:     time.UnixMilli(event.Kline.StartTime),
			Interval: interval,
			Complete: event.Kline.IsFinal,
		}
		k.Open, _ = strconv.ParseFloat(event.Kline.Open, 64)
		k.High, _ = strconv.ParseFloat(event.Kline.High, 64)
		k.Low, _ = strconv.ParseFloat(event.Kline.Low, 64)
		k.Close, _ = strconv.ParseFloat(event.Kline.Close, 64)
		k.Volume, _ = strconv.ParseFloat(event.Kline.Volume, 64)

		sendLatest(ch, k)
	}
}

func (s *Stream) onDepth(event *binance.WsPartialDepthEvent) {
	bidQty := sumLevels(event.Bids)
	askQty := sumLevels(event.Asks)
	total := bidQty + askQty
	if total == 0 {
		return
	}

	sendLatest(s.depth, core.DepthSnapshot{
		Time:        time.Now(),
		BuyPercent:  bidQty / total * 100,
		SellPercent: askQty / total * 100,
	})
}

func (s *Stream) onWsError(name string) func(error) {
	return func(err error) {
		s.log.WithError(err).Warnf("%s stream error", name)
	}
}

func sumLevels(levels []binance.Bid) float64 {
	total := 0.0
	for _, level := range levels {
		qty, _ := strconv.ParseFloat(level.Quantity, 64)
		total += qty
	}
	return total
}

// sendLatest delivers without blocking, evicting the oldest queued
// element when the buffer is full.
func sendLatest[T any](ch chan T, value T) {
	for {
		select {
		case ch <- value:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
