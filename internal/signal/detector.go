// Package signal turns the latest closed candle and the day's pivot levels
// into a directional entry signal.
package signal

import (
	"math"

	"pivot-options-bot/internal/ta"
	"pivot-options-bot/internal/types"
)

type Params struct {
	MinBodyRange       float64 // body/range must exceed this
	MinATR             float64
	MaxATR             float64
	BreakoutBuffer     float64 // multiple of ATR for breakout and rejection rules
	ContinuationBuffer float64 // multiple of ATR for continuation rules
}

func DefaultParams() Params {
	return Params{MinBodyRange: 0.54, MinATR: 15, MaxATR: 120, BreakoutBuffer: 0.1, ContinuationBuffer: 0.05}
}

// Diagnostics describe the last evaluation, for debug logging.
type Diagnostics struct {
	Filter    string  `json:"filter,omitempty"`
	BodyRange float64 `json:"body_range"`
	Momentum  float64 `json:"momentum"`
	CallOK    bool    `json:"call_ok"`
	PutOK     bool    `json:"put_ok"`
}

const (
	FilterFewCandles = "FEW_CANDLES"
	FilterNoATR      = "ATR_UNDEFINED"
	FilterLowATR     = "ATR_TOO_LOW"
	FilterHighATR    = "ATR_TOO_HIGH"
	FilterZeroRange  = "ZERO_RANGE"
)

type rule struct {
	side   types.Side
	reason string
	fires  func() bool
}

// Detect evaluates the rule chain against the last two candles. The first
// matching rule wins.
func Detect(lv ta.Levels, atr ta.ATRResult, candles []types.Candle, p Params) (types.Signal, Diagnostics, bool) {
	var d Diagnostics
	switch {
	case len(candles) < 2:
		d.Filter = FilterFewCandles
	case !atr.OK:
		d.Filter = FilterNoATR
	case atr.Value < p.MinATR:
		d.Filter = FilterLowATR
	case atr.Value > p.MaxATR:
		d.Filter = FilterHighATR
	}
	if d.Filter != "" {
		return types.Signal{}, d, false
	}

	last := candles[len(candles)-1]
	prev := candles[len(candles)-2]
	rng := last.Range()
	if rng == 0 {
		d.Filter = FilterZeroRange
		return types.Signal{}, d, false
	}

	body := math.Abs(last.Close - last.Open)
	momentum := last.Close - prev.Close
	strong := body/rng > p.MinBodyRange
	callOK := strong && momentum > 0
	putOK := strong && momentum < 0

	d.BodyRange = body / rng
	d.Momentum = momentum
	d.CallOK = callOK
	d.PutOK = putOK

	a := atr.Value
	buf := p.BreakoutBuffer * a
	cbuf := p.ContinuationBuffer * a
	half := 0.5 * rng
	cpr, tr, cam := lv.CPR, lv.Traditional, lv.Camarilla
	c := last.Close

	rules := []rule{
		{types.Call, "BREAKOUT_CPR_TC", func() bool { return c > cpr.TC+buf }},
		{types.Put, "BREAKOUT_CPR_BC", func() bool { return c < cpr.BC-buf }},

		{types.Call, "BREAKOUT_R3", func() bool { return c > cam.R3+buf }},
		{types.Call, "BREAKOUT_R4", func() bool { return c > cam.R4+buf }},
		{types.Put, "BREAKOUT_S3", func() bool { return c < cam.S3-buf }},
		{types.Put, "BREAKOUT_S4", func() bool { return c < cam.S4-buf }},

		{types.Call, "REJECTION_S3", func() bool { return last.Low <= cam.S3 && c-last.Low > half }},
		{types.Call, "REJECTION_S4", func() bool { return last.Low <= cam.S4 && c-last.Low > half }},
		{types.Put, "REJECTION_R3", func() bool { return last.High >= cam.R3 && last.High-c > half }},
		{types.Put, "REJECTION_R4", func() bool { return last.High >= cam.R4 && last.High-c > half }},

		{types.Call, "CONTINUATION_R4", func() bool { return last.Low <= cam.R4 && c > cam.R4+cbuf }},
		{types.Put, "CONTINUATION_S4", func() bool { return last.High >= cam.S4 && c < cam.S4-cbuf }},

		{types.Call, "BREAKOUT_R2", func() bool { return c > tr.R2+buf }},
		{types.Put, "BREAKOUT_S2", func() bool { return c < tr.S2-buf }},

		{types.Call, "REJECTION_S1", func() bool { return last.Low <= tr.S1 && c-last.Low > half }},
		{types.Put, "REJECTION_R1", func() bool { return last.High >= tr.R1 && last.High-c > half }},

		{types.Call, "BREAKOUT_PIVOT", func() bool { return prev.Close < tr.Pivot && c > tr.Pivot+buf }},
		{types.Put, "BREAKOUT_PIVOT", func() bool { return prev.Close > tr.Pivot && c < tr.Pivot-buf }},
	}

	for _, r := range rules {
		ok := callOK
		if r.side == types.Put {
			ok = putOK
		}
		if ok && r.fires() {
			return types.Signal{Side: r.side, Reason: r.reason}, d, true
		}
	}
	return types.Signal{}, d, false
}
