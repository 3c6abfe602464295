// Package candle builds fixed-interval OHLC candles from underlying ticks.
package candle

import (
	"math"
	"sync"
	"time"

	"pivot-options-bot/internal/types"
)

// Aggregator owns one active window. It is safe for concurrent use but the
// engine only calls it from the control loop.
type Aggregator struct {
	mu       sync.Mutex
	interval time.Duration
	catchUp  bool
	loc      *time.Location

	started     bool
	windowStart time.Time
	buffer      []float64
	candles     []types.Candle
}

func NewAggregator(intervalMinutes int, catchUp bool, loc *time.Location) *Aggregator {
	if intervalMinutes <= 0 {
		intervalMinutes = 3
	}
	if loc == nil {
		loc = time.Local
	}
	return &Aggregator{
		interval: time.Duration(intervalMinutes) * time.Minute,
		catchUp:  catchUp,
		loc:      loc,
	}
}

// Add feeds one price observation. It returns the candle closed by this
// observation, if any.
func (a *Aggregator) Add(price float64, at time.Time) (types.Candle, bool) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return types.Candle{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		a.windowStart = a.align(at)
		a.buffer = a.buffer[:0]
		a.started = true
		return types.Candle{}, false
	}

	var closed types.Candle
	emitted := false
	if !at.Before(a.windowStart.Add(a.interval)) {
		if len(a.buffer) > 0 {
			closed = build(a.buffer, a.windowStart)
			a.candles = append(a.candles, closed)
			emitted = true
		}
		a.windowStart = a.windowStart.Add(a.interval)
		if a.catchUp {
			for !at.Before(a.windowStart.Add(a.interval)) {
				a.windowStart = a.windowStart.Add(a.interval)
			}
		}
		a.buffer = a.buffer[:0]
	}
	a.buffer = append(a.buffer, price)
	return closed, emitted
}

func build(buf []float64, start time.Time) types.Candle {
	c := types.Candle{Open: buf[0], High: buf[0], Low: buf[0], Close: buf[len(buf)-1], Time: start}
	for _, p := range buf[1:] {
		c.High = math.Max(c.High, p)
		c.Low = math.Min(c.Low, p)
	}
	return c
}

// align truncates the local minute to a multiple of the interval.
func (a *Aggregator) align(at time.Time) time.Time {
	t := at.In(a.loc)
	step := int(a.interval / time.Minute)
	minute := (t.Minute() / step) * step
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, 0, 0, a.loc)
}

// Candles returns a copy of the closed candles in order.
func (a *Aggregator) Candles() []types.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.Candle, len(a.candles))
	copy(out, a.candles)
	return out
}

// Restore seeds the closed-candle history, used when resuming a session.
func (a *Aggregator) Restore(candles []types.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.candles = append(a.candles[:0], candles...)
}

// WindowStart reports the active window start; zero before the first tick.
func (a *Aggregator) WindowStart() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.windowStart
}

// Reset drops the active window and history.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = false
	a.windowStart = time.Time{}
	a.buffer = a.buffer[:0]
	a.candles = nil
}
