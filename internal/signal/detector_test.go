package signal

import (
	"testing"
	"time"

	"pivot-options-bot/internal/ta"
	"pivot-options-bot/internal/types"
)

var (
	baseLevels = ta.ComputeLevels(types.Candle{High: 110, Low: 100, Close: 105})
	atr20      = ta.ATRResult{Value: 20, Source: ta.SourceLive, OK: true}
)

func pair(prevClose float64, o, h, l, c float64) []types.Candle {
	t0 := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
	return []types.Candle{
		{Open: prevClose, High: prevClose, Low: prevClose, Close: prevClose, Time: t0},
		{Open: o, High: h, Low: l, Close: c, Time: t0.Add(3 * time.Minute)},
	}
}

func TestGuards(t *testing.T) {
	p := DefaultParams()
	strongUp := pair(100, 104, 108, 103.5, 107.5)

	cases := []struct {
		name    string
		atr     ta.ATRResult
		candles []types.Candle
		filter  string
	}{
		{"one candle", atr20, strongUp[1:], FilterFewCandles},
		{"no candles", atr20, nil, FilterFewCandles},
		{"undefined atr", ta.ATRResult{}, strongUp, FilterNoATR},
		{"low atr", ta.ATRResult{Value: 10, OK: true}, strongUp, FilterLowATR},
		{"high atr", ta.ATRResult{Value: 130, OK: true}, strongUp, FilterHighATR},
		{"zero range", atr20, pair(100, 107, 107, 107, 107), FilterZeroRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig, d, ok := Detect(baseLevels, tc.atr, tc.candles, p)
			if ok {
				t.Fatalf("expected no signal, got %+v", sig)
			}
			if d.Filter != tc.filter {
				t.Errorf("filter = %q, want %q", d.Filter, tc.filter)
			}
		})
	}
}

func TestCPRBreakouts(t *testing.T) {
	p := DefaultParams()

	sig, _, ok := Detect(baseLevels, atr20, pair(100, 104, 108, 103.5, 107.5), p)
	if !ok || sig.Side != types.Call || sig.Reason != "BREAKOUT_CPR_TC" {
		t.Errorf("expected CALL BREAKOUT_CPR_TC, got %+v ok=%v", sig, ok)
	}

	sig, _, ok = Detect(baseLevels, atr20, pair(106, 105, 105.5, 101, 102), p)
	if !ok || sig.Side != types.Put || sig.Reason != "BREAKOUT_CPR_BC" {
		t.Errorf("expected PUT BREAKOUT_CPR_BC, got %+v ok=%v", sig, ok)
	}
}

func TestTradeabilityGate(t *testing.T) {
	p := DefaultParams()

	// weak body: 1.5 / 5
	if sig, d, ok := Detect(baseLevels, atr20, pair(100, 106, 108, 103, 107.5), p); ok {
		t.Errorf("weak body must not signal, got %+v (%+v)", sig, d)
	}

	// strong body but falling close blocks the CALL side
	sig, d, ok := Detect(baseLevels, atr20, pair(109, 104, 108, 103.5, 107.5), p)
	if ok {
		t.Errorf("momentum against CALL must not signal, got %+v", sig)
	}
	if d.CallOK || !d.PutOK {
		t.Errorf("unexpected gate: %+v", d)
	}
}

func TestPriorityOrder(t *testing.T) {
	p := DefaultParams()
	lv := ta.Levels{
		CPR:         ta.CPR{Pivot: 100, TC: 1000, BC: 0},
		Traditional: ta.Traditional{Pivot: 100, R1: 1000, S1: 0, R2: 90, S2: 0},
		Camarilla:   ta.Camarilla{R3: 95, R4: 1000, S3: 0, S4: 0},
	}
	// both camarilla R3 and traditional R2 breakouts match; camarilla ranks first
	sig, _, ok := Detect(lv, atr20, pair(99, 99.5, 103.5, 99, 103), p)
	if !ok || sig.Reason != "BREAKOUT_R3" {
		t.Errorf("expected BREAKOUT_R3, got %+v ok=%v", sig, ok)
	}

	lv.Camarilla.R3 = 1000
	sig, _, ok = Detect(lv, atr20, pair(99, 99.5, 103.5, 99, 103), p)
	if !ok || sig.Reason != "BREAKOUT_R2" {
		t.Errorf("expected BREAKOUT_R2, got %+v ok=%v", sig, ok)
	}
}

func TestPivotBreakoutNeedsPriorClose(t *testing.T) {
	p := DefaultParams()
	lv := ta.Levels{
		CPR:         ta.CPR{Pivot: 100, TC: 1000, BC: 0},
		Traditional: ta.Traditional{Pivot: 100, R1: 1000, S1: 0, R2: 1000, S2: 0},
		Camarilla:   ta.Camarilla{R3: 1000, R4: 1000, S3: 0, S4: 0},
	}
	sig, _, ok := Detect(lv, atr20, pair(99, 99.5, 103.5, 99, 103), p)
	if !ok || sig.Side != types.Call || sig.Reason != "BREAKOUT_PIVOT" {
		t.Errorf("expected CALL BREAKOUT_PIVOT, got %+v ok=%v", sig, ok)
	}

	// previous close already above pivot
	if sig, _, ok := Detect(lv, atr20, pair(101, 101.5, 105.5, 101, 105), p); ok {
		t.Errorf("expected no pivot breakout, got %+v", sig)
	}
}

func TestCamarillaRejection(t *testing.T) {
	p := DefaultParams()
	// low pierces S3 (102.25) and close recovers more than half the range
	sig, _, ok := Detect(baseLevels, atr20, pair(102, 102.5, 104.6, 102, 104.5), p)
	if !ok {
		t.Fatal("expected a signal")
	}
	// close 104.5 does not clear tc+2 = 107 or r3+2, so rejection fires
	if sig.Side != types.Call || sig.Reason != "REJECTION_S3" {
		t.Errorf("expected CALL REJECTION_S3, got %+v", sig)
	}
}

func TestContinuationUsesItsOwnBuffer(t *testing.T) {
	p := DefaultParams()
	lv := ta.Levels{
		CPR:         ta.CPR{Pivot: 1000, TC: 1000, BC: 0},
		Traditional: ta.Traditional{Pivot: 1000, R1: 1000, S1: 0, R2: 1000, S2: 0},
		Camarilla:   ta.Camarilla{R3: 1000, R4: 102, S3: 0, S4: 0},
	}
	candles := pair(99, 100.5, 103.6, 100, 103.5)

	// close 103.5 is short of r4+2 for the breakout but clears r4+1
	sig, _, ok := Detect(lv, atr20, candles, p)
	if !ok || sig.Side != types.Call || sig.Reason != "CONTINUATION_R4" {
		t.Fatalf("expected CALL CONTINUATION_R4, got %+v ok=%v", sig, ok)
	}

	p.ContinuationBuffer = 0.1
	if sig, _, ok := Detect(lv, atr20, candles, p); ok {
		t.Errorf("wider continuation buffer must not fire, got %+v", sig)
	}
	p = DefaultParams()
	p.BreakoutBuffer = 0.5
	if sig, _, ok := Detect(lv, atr20, candles, p); !ok || sig.Reason != "CONTINUATION_R4" {
		t.Errorf("breakout buffer must not affect continuation, got %+v ok=%v", sig, ok)
	}
}
