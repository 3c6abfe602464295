package ta

import (
	"math"

	"pivot-options-bot/internal/types"
)

func SMA(vals []float64, n int) float64 {
	if len(vals) < n || n <= 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(vals) - n; i < len(vals); i++ {
		sum += vals[i]
	}
	return sum / float64(n)
}

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(c types.Candle, prevClose float64) float64 {
	tr1 := c.High - c.Low
	tr2 := math.Abs(c.High - prevClose)
	tr3 := math.Abs(c.Low - prevClose)
	return math.Max(tr1, math.Max(tr2, tr3))
}

// ATR is the simple moving average of true range over the trailing period
// candles. ok is false with fewer than period+1 candles.
func ATR(candles []types.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}
	trs := make([]float64, 0, period)
	for i := len(candles) - period; i < len(candles); i++ {
		trs = append(trs, TrueRange(candles[i], candles[i-1].Close))
	}
	return SMA(trs, period), true
}

// RangeOf returns the highest high minus the lowest low of candles.
func RangeOf(candles []types.Candle) (float64, bool) {
	if len(candles) == 0 {
		return 0, false
	}
	hi, lo := candles[0].High, candles[0].Low
	for _, c := range candles[1:] {
		hi = math.Max(hi, c.High)
		lo = math.Min(lo, c.Low)
	}
	return hi - lo, true
}

type ATRSource string

const (
	SourceLive      ATRSource = "ATR_LIVE"
	SourceDaily     ATRSource = "ATR_DAILY"
	SourceBootstrap ATRSource = "ATR_BOOTSTRAP"
	SourceNone      ATRSource = ""
)

type ATRResult struct {
	Value  float64   `json:"value"`
	Source ATRSource `json:"source"`
	OK     bool      `json:"ok"`
}

// ResolveATR picks the volatility measure for signal evaluation: the live
// intraday ATR when computable, else the daily ATR, else a bootstrap range
// over whatever intraday candles exist. A zero-candle session with no daily
// ATR yields an undefined result.
func ResolveATR(candles []types.Candle, period int, daily ATRResult) ATRResult {
	if v, ok := ATR(candles, period); ok {
		return ATRResult{Value: v, Source: SourceLive, OK: true}
	}
	if daily.OK {
		return ATRResult{Value: daily.Value, Source: SourceDaily, OK: true}
	}
	if v, ok := RangeOf(candles); ok {
		return ATRResult{Value: v, Source: SourceBootstrap, OK: true}
	}
	return ATRResult{}
}

// DailyATR computes the ATR of daily bars, used once at session start.
func DailyATR(bars []types.Candle, period int) ATRResult {
	v, ok := ATR(bars, period)
	if !ok {
		return ATRResult{}
	}
	return ATRResult{Value: v, Source: SourceDaily, OK: true}
}
