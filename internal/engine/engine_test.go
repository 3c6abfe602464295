package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"pivot-options-bot/internal/interfaces"
	"pivot-options-bot/internal/store"
	"pivot-options-bot/internal/types"
)

type harness struct {
	eng     *Engine
	gw      *fakeGateway
	chain   *fakeChain
	store   *fakeStore
	ledger  *fakeLedger
	journal *fakeJournal
}

func newHarness(t *testing.T, mode types.Mode, tweak func(*store.Config)) *harness {
	t.Helper()
	cfg := store.Default()
	cfg.Timezone = "UTC"
	cfg.Mode = string(mode)
	if tweak != nil {
		tweak(cfg)
	}
	h := &harness{
		gw:      newFakeGateway(),
		chain:   niftyChain(25000),
		store:   newFakeStore(),
		ledger:  &fakeLedger{},
		journal: &fakeJournal{},
	}
	h.eng = New(cfg, Deps{
		Gateway: h.gw,
		Chain:   h.chain,
		Store:   h.store,
		Ledgers: []interfaces.Ledger{h.ledger},
		Journal: h.journal,
	})
	prev := types.Candle{Open: 25000, High: 25100, Low: 24900, Close: 25000, Time: time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC)}
	h.eng.Start(context.Background(), at(9, 15, 0), []types.Candle{prev})
	return h
}

func (h *harness) step(t *testing.T, now time.Time) *types.StepResult {
	t.Helper()
	res, err := h.eng.Step(context.Background(), now)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	return res
}

// openCall puts an OPEN call leg at entry with the given ATR.
func (h *harness) openCall(entry, atr float64) *types.Leg {
	leg := h.eng.session.Leg(types.Call)
	leg.Symbol = "NIFTY25000CE"
	leg.Strike = 25000
	leg.Reason = "TEST"
	h.eng.pos.open(leg, 130, entry, atr, "ORD-OPEN", fillContext{now: at(9, 40, 0)})
	return leg
}

func (h *harness) optionTick(symbol string, price float64, ts time.Time) {
	h.eng.Queue().OnTick(types.Tick{Symbol: symbol, LastPrice: price, Time: ts})
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestRiskLevels(t *testing.T) {
	rm := newRiskManager(store.Default().Risk)
	lv := rm.levels(100, 40)
	if !near(lv.stop, 90) || !near(lv.partialTarget, 110) || !near(lv.fullTarget, 120) {
		t.Fatalf("unexpected levels %+v", lv)
	}
	if !near(lv.trailStart, 10) || !near(lv.trailStep, 4) {
		t.Fatalf("unexpected trailing params %+v", lv)
	}

	lv = rm.levels(100, 80)
	if !near(lv.stop, 80) || !near(lv.fullTarget, 140) {
		t.Fatalf("ATR-scaled risk expected, got %+v", lv)
	}
}

func TestTrailingStopRatchets(t *testing.T) {
	sm := newStopManager()
	leg := &types.Leg{EntryPrice: 100, StopPrice: 100, PartialBooked: true, TrailStartPnL: 10, TrailStepPoints: 4}

	stop, moved := sm.trailingStop(leg, 130)
	if !moved || !near(stop, 126) {
		t.Fatalf("expected stop 126, got %v moved=%v", stop, moved)
	}
	leg.StopPrice = stop

	stop, moved = sm.trailingStop(leg, 120)
	if moved || !near(stop, 126) {
		t.Fatalf("stop must not move down, got %v moved=%v", stop, moved)
	}

	stop, moved = sm.trailingStop(&types.Leg{EntryPrice: 100, StopPrice: 100, TrailStartPnL: 10, TrailStepPoints: 4}, 105)
	if moved || stop != 100 {
		t.Fatalf("trailing must not start below trail start, got %v", stop)
	}
}

func TestStopLossClosesLeg(t *testing.T) {
	h := newHarness(t, types.Paper, nil)
	h.openCall(100, 40)

	h.optionTick("NIFTY25000CE", 89, at(10, 0, 0))
	res := h.step(t, at(10, 0, 1))

	leg := h.eng.session.Call
	if leg.State != types.Flat || leg.Quantity != 0 {
		t.Fatalf("expected FLAT leg, got %s qty %d", leg.State, leg.Quantity)
	}
	if !near(leg.RealizedPnL, (89-100)*130) {
		t.Fatalf("expected realized %v, got %v", (89-100)*130, leg.RealizedPnL)
	}
	if len(res.Fills) != 1 || res.Fills[0].Reason != string(types.ExitStopLoss) || res.Fills[0].Action != types.Sell {
		t.Fatalf("expected one STOP_LOSS sell, got %+v", res.Fills)
	}
	if !h.eng.session.LastExitTime.Equal(at(10, 0, 1)) {
		t.Fatalf("last exit time not recorded: %v", h.eng.session.LastExitTime)
	}
	if len(h.ledger.fills) != 1 {
		t.Fatalf("expected fill flushed to ledger, got %d", len(h.ledger.fills))
	}
}

func TestPartialBooksHalfAndMovesStopToEntry(t *testing.T) {
	h := newHarness(t, types.Paper, nil)
	h.openCall(100, 40)

	h.optionTick("NIFTY25000CE", 110, at(10, 0, 0))
	res := h.step(t, at(10, 0, 1))

	leg := h.eng.session.Call
	if leg.State != types.Open || leg.Quantity != 65 || !leg.PartialBooked {
		t.Fatalf("expected OPEN with 65 after partial, got %s %d booked=%v", leg.State, leg.Quantity, leg.PartialBooked)
	}
	if !near(leg.StopPrice, 100) {
		t.Fatalf("expected stop at entry, got %v", leg.StopPrice)
	}
	if len(res.Fills) != 1 || res.Fills[0].Quantity != 65 || res.Fills[0].Reason != string(types.ExitPartial) {
		t.Fatalf("unexpected fills %+v", res.Fills)
	}

	// residual stops out at breakeven
	h.optionTick("NIFTY25000CE", 100, at(10, 1, 0))
	h.step(t, at(10, 1, 1))
	leg = h.eng.session.Call
	if leg.State != types.Flat {
		t.Fatalf("expected breakeven exit, got %s", leg.State)
	}
	if !near(h.eng.session.TotalRealizedPnL, 65*10) {
		t.Fatalf("expected pnl 650, got %v", h.eng.session.TotalRealizedPnL)
	}
}

func TestTrailingAfterPartial(t *testing.T) {
	h := newHarness(t, types.Paper, nil)
	h.openCall(100, 40)

	h.optionTick("NIFTY25000CE", 110, at(10, 0, 0))
	h.step(t, at(10, 0, 1))
	if got := h.eng.session.Call.StopPrice; !near(got, 100) {
		t.Fatalf("trailing must not run on the tick the partial was booked, stop %v", got)
	}

	h.optionTick("NIFTY25000CE", 115, at(10, 0, 5))
	h.step(t, at(10, 0, 6))
	if got := h.eng.session.Call.StopPrice; !near(got, 111) {
		t.Fatalf("expected trailed stop 111, got %v", got)
	}

	h.optionTick("NIFTY25000CE", 112, at(10, 0, 10))
	h.step(t, at(10, 0, 11))
	if got := h.eng.session.Call.StopPrice; !near(got, 111) {
		t.Fatalf("stop must hold at 111, got %v", got)
	}

	h.optionTick("NIFTY25000CE", 111, at(10, 0, 15))
	res := h.step(t, at(10, 0, 16))
	if h.eng.session.Call.State != types.Flat {
		t.Fatal("expected trailed stop to close the leg")
	}
	if len(res.Fills) != 1 || !near(res.Fills[0].Price, 111) {
		t.Fatalf("unexpected exit fill %+v", res.Fills)
	}
}

func TestFullTargetSameTickAsPartial(t *testing.T) {
	h := newHarness(t, types.Paper, nil)
	h.openCall(100, 40)

	h.optionTick("NIFTY25000CE", 125, at(10, 0, 0))
	res := h.step(t, at(10, 0, 1))

	if h.eng.session.Call.State != types.Flat {
		t.Fatal("expected leg closed at full target")
	}
	if len(res.Fills) != 2 {
		t.Fatalf("expected partial and target fills, got %d", len(res.Fills))
	}
	if res.Fills[0].Reason != string(types.ExitPartial) || res.Fills[1].Reason != string(types.ExitTarget) {
		t.Fatalf("unexpected order of exits %s, %s", res.Fills[0].Reason, res.Fills[1].Reason)
	}
	if !near(h.eng.session.TotalRealizedPnL, 130*25) {
		t.Fatalf("expected pnl 3250, got %v", h.eng.session.TotalRealizedPnL)
	}
}

func TestEODForceClose(t *testing.T) {
	h := newHarness(t, types.Live, func(c *store.Config) { c.Risk.LegExclusivity = store.ExclusivityNever })
	h.openCall(100, 40)
	h.optionTick("NIFTY25000CE", 104, at(15, 10, 0))
	h.step(t, at(15, 10, 1))

	h.pendingPut("ORD-PENDING", types.StatusPending)

	res := h.step(t, at(15, 15, 0))
	if !res.EOD {
		t.Fatal("expected EOD step")
	}
	if h.eng.session.Call.State != types.Flat || h.eng.session.Put.State != types.Flat {
		t.Fatalf("expected both legs FLAT, got %s/%s", h.eng.session.Call.State, h.eng.session.Put.State)
	}
	if len(res.Fills) != 1 || res.Fills[0].Reason != string(types.ExitEOD) || !near(res.Fills[0].Price, 104) {
		t.Fatalf("expected EOD exit at last price, got %+v", res.Fills)
	}
	if len(h.gw.cancelled) != 1 || h.gw.cancelled[0] != "ORD-PENDING" {
		t.Fatalf("expected pending entry cancelled, got %v", h.gw.cancelled)
	}
}

// pendingPut leaves the PUT leg waiting on a live entry order with the
// given broker status.
func (h *harness) pendingPut(orderID string, status types.OrderStatus) *types.Leg {
	put := h.eng.session.Leg(types.Put)
	h.eng.pos.markPending(put, types.OptionContract{Symbol: "NIFTY25000PE", Strike: 25000}, 130,
		types.OrderRequest{Type: types.Limit, LimitPrice: 95}, orderID, "TEST", 40, at(15, 12, 0))
	u := types.OrderUpdate{OrderID: orderID, Status: status, Symbol: "NIFTY25000PE"}
	if status == types.StatusTraded {
		u.FilledQty = 130
		u.TradedPrice = 96
	}
	h.gw.setStatus(u)
	return put
}

func TestEODEntryFoundFilledIsClosed(t *testing.T) {
	h := newHarness(t, types.Live, nil)
	h.pendingPut("ORD-P", types.StatusTraded)
	h.gw.failCancel = errors.New("order already complete")

	res := h.step(t, at(15, 15, 0))
	put := h.eng.session.Put
	if put.State != types.Flat || put.Quantity != 0 {
		t.Fatalf("expected filled entry closed at EOD, got %s qty %d", put.State, put.Quantity)
	}
	if len(res.Fills) != 2 || res.Fills[0].Action != types.Buy || !near(res.Fills[0].Price, 96) {
		t.Fatalf("expected BUY at 96 then EOD SELL, got %+v", res.Fills)
	}
	if res.Fills[1].Reason != string(types.ExitEOD) || !near(res.Fills[1].Price, 140) {
		t.Fatalf("expected EOD exit at last price 140, got %+v", res.Fills[1])
	}
	if len(h.gw.sells()) != 1 || h.eng.session.TradeCount != 1 {
		t.Fatalf("expected one exit order and one counted trade, sells=%d trades=%d", len(h.gw.sells()), h.eng.session.TradeCount)
	}
}

func TestEODCancelFailureKeepsEntryManaged(t *testing.T) {
	h := newHarness(t, types.Live, nil)
	h.pendingPut("ORD-P", types.StatusPending)
	h.gw.failCancel = errors.New("order already complete")

	h.step(t, at(15, 15, 0))
	put := h.eng.session.Put
	if put.State != types.PendingEntry || put.Quantity != 130 {
		t.Fatalf("leg must stay pending while the order may be live, got %s qty %d", put.State, put.Quantity)
	}

	// the fill lands after the cancel was refused
	h.eng.Queue().OnOrderUpdate(types.OrderUpdate{OrderID: "ORD-P", Status: types.StatusTraded, FilledQty: 130, TradedPrice: 96})
	res := h.step(t, at(15, 15, 1))
	put = h.eng.session.Put
	if put.State != types.Flat {
		t.Fatalf("expected late fill closed at EOD, got %s qty %d", put.State, put.Quantity)
	}
	sells := h.gw.sells()
	if len(sells) != 1 || sells[0].Qty != 130 || sells[0].Tag != string(types.ExitEOD) {
		t.Fatalf("expected one EOD sell of 130, got %+v", sells)
	}
	if len(res.Fills) != 2 {
		t.Fatalf("expected entry and exit fills, got %+v", res.Fills)
	}
}

func TestEODCancelUnconfirmedRetriesNextStep(t *testing.T) {
	h := newHarness(t, types.Live, nil)
	h.pendingPut("ORD-P", types.StatusPending)
	h.gw.failCancel = errors.New("gateway unavailable")

	h.step(t, at(15, 15, 0))
	if h.eng.session.Put.State != types.PendingEntry {
		t.Fatalf("expected PENDING_ENTRY, got %s", h.eng.session.Put.State)
	}

	h.gw.failCancel = nil
	h.step(t, at(15, 15, 1))
	if h.eng.session.Put.State != types.Flat {
		t.Fatalf("expected FLAT once the broker confirms the cancel, got %s", h.eng.session.Put.State)
	}
	if len(h.gw.cancelled) != 1 || len(h.gw.sells()) != 0 {
		t.Fatalf("unexpected orders: cancelled=%v sells=%d", h.gw.cancelled, len(h.gw.sells()))
	}
}

func TestLiveExitWaitsForBrokerFill(t *testing.T) {
	h := newHarness(t, types.Live, nil)
	h.openCall(100, 40)
	h.gw.exitStatus = types.StatusPending

	h.optionTick("NIFTY25000CE", 89, at(10, 0, 0))
	h.step(t, at(10, 0, 1))
	leg := h.eng.session.Call
	if leg.State != types.Open || !leg.PendingExit.Working() {
		t.Fatalf("expected OPEN leg with a working exit, got %s %+v", leg.State, leg.PendingExit)
	}
	exitID := leg.PendingExit.OrderID

	h.step(t, at(10, 0, 2))
	if n := len(h.gw.sells()); n != 1 {
		t.Fatalf("a working exit must not be sent twice, sells=%d", n)
	}

	// RMS rejects the exit after accepting it
	h.eng.Queue().OnOrderUpdate(types.OrderUpdate{OrderID: exitID, Status: types.StatusRejected})
	h.gw.exitStatus = ""
	res := h.step(t, at(10, 0, 3))
	if h.eng.session.Call.State != types.Flat {
		t.Fatalf("expected the exit re-sent and filled, got %s", h.eng.session.Call.State)
	}
	if n := len(h.gw.sells()); n != 2 {
		t.Fatalf("expected exit re-sent once, sells=%d", n)
	}
	if len(res.Fills) != 1 || res.Fills[0].Reason != string(types.ExitStopLoss) || !near(res.Fills[0].Price, 89) {
		t.Fatalf("unexpected exit fill %+v", res.Fills)
	}
	if !near(h.eng.session.TotalRealizedPnL, (89-100)*130) {
		t.Fatalf("unexpected pnl %v", h.eng.session.TotalRealizedPnL)
	}
}

func TestLiveExitClosesAtTradedPrice(t *testing.T) {
	h := newHarness(t, types.Live, nil)
	h.openCall(100, 40)
	h.gw.exitStatus = types.StatusTransit

	h.optionTick("NIFTY25000CE", 89, at(10, 0, 0))
	h.step(t, at(10, 0, 1))
	exitID := h.eng.session.Call.PendingExit.OrderID

	h.eng.Queue().OnOrderUpdate(types.OrderUpdate{OrderID: exitID, Status: types.StatusTraded, FilledQty: 130, TradedPrice: 88.5})
	res := h.step(t, at(10, 0, 2))
	if h.eng.session.Call.State != types.Flat {
		t.Fatal("expected leg closed by the order feed")
	}
	if len(res.Fills) != 1 || !near(res.Fills[0].Price, 88.5) || res.Fills[0].OrderID != exitID {
		t.Fatalf("expected fill at traded price 88.5, got %+v", res.Fills)
	}
	if !h.eng.session.LastExitTime.Equal(at(10, 0, 2)) {
		t.Fatalf("last exit time not recorded: %v", h.eng.session.LastExitTime)
	}
}

func TestTradeCapCountsPendingEntries(t *testing.T) {
	risk := store.Default().Risk
	risk.LegExclusivity = store.ExclusivityNever
	rm := newRiskManager(risk)
	now := at(11, 0, 0)

	s := types.NewSession("2026-10-14", types.Live, 2)
	s.TradeCount = 1
	s.Call.State = types.PendingEntry
	s.Call.Quantity = 130
	if got := rm.admit(s, types.Put, now); got != blockMaxTrades {
		t.Fatalf("a pending entry must hold the last slot, got %q", got)
	}

	s.TradeCount = 0
	if got := rm.admit(s, types.Put, now); got != "" {
		t.Fatalf("expected a free slot, got %q", got)
	}
}

func TestEntryGates(t *testing.T) {
	rm := newRiskManager(store.Default().Risk)
	now := at(11, 0, 0)

	s := types.NewSession("2026-10-14", types.Paper, 30)
	s.TradeCount = 30
	if got := rm.admit(s, types.Call, now); got != blockMaxTrades {
		t.Fatalf("expected MAX_TRADES, got %q", got)
	}

	s = types.NewSession("2026-10-14", types.Paper, 30)
	s.Put.State = types.Open
	s.Put.Quantity = 130
	if got := rm.admit(s, types.Call, now); got != "" {
		t.Fatalf("paper legs are independent by default, got %q", got)
	}
	s.Mode = types.Live
	if got := rm.admit(s, types.Call, now); got != blockOtherLegActive {
		t.Fatalf("expected OTHER_LEG_ACTIVE in live, got %q", got)
	}
	if got := rm.admit(s, types.Put, now); got != blockLegActive {
		t.Fatalf("expected LEG_ACTIVE, got %q", got)
	}

	always := store.Default().Risk
	always.LegExclusivity = store.ExclusivityAlways
	s.Mode = types.Paper
	if got := newRiskManager(always).admit(s, types.Call, now); got != blockOtherLegActive {
		t.Fatalf("ALWAYS must block paper entries too, got %q", got)
	}

	s = types.NewSession("2026-10-14", types.Live, 30)
	s.LastExitTime = now.Add(-179 * time.Second)
	if got := rm.admit(s, types.Call, now); got != blockCooldown {
		t.Fatalf("expected COOLDOWN, got %q", got)
	}
	s.LastExitTime = now.Add(-180 * time.Second)
	if got := rm.admit(s, types.Call, now); got != "" {
		t.Fatalf("cooldown should have elapsed, got %q", got)
	}
	s.Mode = types.Paper
	s.LastExitTime = now.Add(-time.Second)
	if got := rm.admit(s, types.Call, now); got != "" {
		t.Fatalf("paper has no cooldown, got %q", got)
	}
}

// pushBreakout feeds underlying ticks that close two 3-minute candles, the
// second a strong bullish candle above the CPR.
func pushBreakout(h *harness) {
	q := h.eng.Queue()
	for _, tk := range []struct {
		p  float64
		ts time.Time
	}{
		{25000, at(9, 30, 0)},
		{25000, at(9, 30, 30)},
		{25010, at(9, 32, 0)},
		{25010, at(9, 33, 0)},
		{25060, at(9, 35, 0)},
		{25060, at(9, 36, 0)},
	} {
		q.OnTick(types.Tick{Symbol: "NSE:NIFTY 50", Token: 256265, LastPrice: tk.p, Time: tk.ts})
	}
}

func TestPaperSignalOpensLegOncePerCandle(t *testing.T) {
	h := newHarness(t, types.Paper, nil)
	pushBreakout(h)

	res := h.step(t, at(9, 36, 1))
	if res.Signal == nil || res.Signal.Side != types.Call || res.Signal.Reason != "BREAKOUT_CPR_TC" {
		t.Fatalf("expected CALL BREAKOUT_CPR_TC, got %+v", res.Signal)
	}
	leg := h.eng.session.Call
	if leg.State != types.Open || leg.Symbol != "NIFTY25000CE" || !near(leg.EntryPrice, 150) {
		t.Fatalf("expected ITM call opened at 150, got %s %s %v", leg.State, leg.Symbol, leg.EntryPrice)
	}
	// bootstrap ATR is the 60 point intraday range, so risk is 15
	if !near(leg.StopPrice, 135) || !near(leg.FullTarget, 180) {
		t.Fatalf("unexpected risk levels stop=%v target=%v", leg.StopPrice, leg.FullTarget)
	}
	if h.eng.session.TradeCount != 1 {
		t.Fatalf("expected trade count 1, got %d", h.eng.session.TradeCount)
	}
	if len(h.journal.records) != 1 || h.journal.records[0].ATRSource != "ATR_BOOTSTRAP" {
		t.Fatalf("expected journaled signal, got %+v", h.journal.records)
	}

	res = h.step(t, at(9, 36, 2))
	if res.Signal != nil {
		t.Fatal("the same candle must not signal twice")
	}
	if len(h.gw.placed) != 1 {
		t.Fatalf("expected one order, got %d", len(h.gw.placed))
	}
}

func TestSignalBeforeSessionStartIgnored(t *testing.T) {
	h := newHarness(t, types.Paper, func(c *store.Config) { c.Session.Start = "09:40" })
	pushBreakout(h)
	res := h.step(t, at(9, 36, 1))
	if res.Signal == nil {
		t.Fatal("expected signal to be detected")
	}
	if h.eng.session.Call.State != types.Flat || len(h.gw.placed) != 0 {
		t.Fatal("no entry is allowed before session start")
	}
}

func TestLiveEntryPendingChaseAndFill(t *testing.T) {
	h := newHarness(t, types.Live, nil)
	pushBreakout(h)

	h.step(t, at(9, 36, 1))
	leg := h.eng.session.Call
	if leg.State != types.PendingEntry {
		t.Fatalf("expected PENDING_ENTRY, got %s", leg.State)
	}
	if len(h.gw.placed) != 1 || h.gw.placed[0].Type != types.Limit || !near(h.gw.placed[0].LimitPrice, 145) {
		t.Fatalf("expected LIMIT at ltp-5, got %+v", h.gw.placed)
	}
	if h.eng.session.TradeCount != 0 {
		t.Fatal("trade must count only once filled")
	}
	id := leg.OrderID

	h.step(t, at(9, 36, 6))
	if got := h.gw.modified[id]; !near(got, 145.1) {
		t.Fatalf("expected chase to 145.1, got %v", got)
	}
	if !near(h.eng.session.Call.LimitPrice, 145.1) {
		t.Fatalf("leg limit not updated: %v", h.eng.session.Call.LimitPrice)
	}

	h.eng.Queue().OnOrderUpdate(types.OrderUpdate{OrderID: id, Status: types.StatusTraded, FilledQty: 130, TradedPrice: 145.1})
	res := h.step(t, at(9, 36, 7))
	leg = h.eng.session.Call
	if leg.State != types.Open || !near(leg.EntryPrice, 145.1) {
		t.Fatalf("expected OPEN at 145.1, got %s %v", leg.State, leg.EntryPrice)
	}
	if !near(leg.StopPrice, 145.1-15) {
		t.Fatalf("risk must use the ATR captured at admission, stop %v", leg.StopPrice)
	}
	if h.eng.session.TradeCount != 1 || len(res.Fills) != 1 {
		t.Fatalf("expected counted fill, trades=%d fills=%d", h.eng.session.TradeCount, len(res.Fills))
	}
}

func TestLiveEntryRejectedReturnsFlat(t *testing.T) {
	h := newHarness(t, types.Live, nil)
	pushBreakout(h)
	h.step(t, at(9, 36, 1))
	id := h.eng.session.Call.OrderID

	h.gw.setStatus(types.OrderUpdate{OrderID: id, Status: types.StatusRejected})
	h.step(t, at(9, 36, 6))
	if h.eng.session.Call.State != types.Flat {
		t.Fatalf("expected FLAT after rejection, got %s", h.eng.session.Call.State)
	}
	if h.eng.session.TradeCount != 0 {
		t.Fatal("rejected entry must not count")
	}
}

func TestEntryOrderFailureDropsSignal(t *testing.T) {
	h := newHarness(t, types.Paper, nil)
	h.gw.reject = true
	pushBreakout(h)
	h.step(t, at(9, 36, 1))
	if h.eng.session.Call.State != types.Flat {
		t.Fatal("rejected entry must leave the leg FLAT")
	}
}

func TestFailedExitIsRetried(t *testing.T) {
	h := newHarness(t, types.Paper, nil)
	h.openCall(100, 40)
	h.gw.failPlace = 1

	h.optionTick("NIFTY25000CE", 89, at(10, 0, 0))
	h.step(t, at(10, 0, 1))
	leg := h.eng.session.Call
	if leg.State != types.Open || leg.PendingExit == nil || leg.PendingExit.Reason != types.ExitStopLoss {
		t.Fatalf("expected parked STOP_LOSS exit, got %s %+v", leg.State, leg.PendingExit)
	}

	// price recovered but the stop exit still goes out
	h.optionTick("NIFTY25000CE", 95, at(10, 0, 2))
	res := h.step(t, at(10, 0, 3))
	if h.eng.session.Call.State != types.Flat {
		t.Fatal("expected retry to close the leg")
	}
	if len(res.Fills) != 1 || res.Fills[0].Reason != string(types.ExitStopLoss) {
		t.Fatalf("unexpected retry fill %+v", res.Fills)
	}
}

func TestLedgerFailureRetainsFills(t *testing.T) {
	h := newHarness(t, types.Paper, nil)
	h.ledger.fail = 1
	h.openCall(100, 40)

	h.optionTick("NIFTY25000CE", 89, at(10, 0, 0))
	h.step(t, at(10, 0, 1))
	if len(h.ledger.fills) != 0 || h.eng.Unflushed() != 1 {
		t.Fatalf("expected fill retained, unflushed=%d", h.eng.Unflushed())
	}
	h.step(t, at(10, 0, 2))
	if len(h.ledger.fills) != 1 || h.eng.Unflushed() != 0 {
		t.Fatalf("expected fill flushed on retry, ledger=%d", len(h.ledger.fills))
	}
}

func TestSessionRestoredFromStore(t *testing.T) {
	h := newHarness(t, types.Paper, nil)
	h.openCall(100, 40)
	h.step(t, at(10, 0, 0))

	cfg := store.Default()
	cfg.Timezone = "UTC"
	eng := New(cfg, Deps{Gateway: h.gw, Chain: h.chain, Store: h.store})
	eng.Start(context.Background(), at(10, 5, 0), nil)
	s := eng.Session()
	if s.Call.State != types.Open || s.Call.Quantity != 130 || s.TradeCount != 1 {
		t.Fatalf("expected restored open call, got %s qty %d trades %d", s.Call.State, s.Call.Quantity, s.TradeCount)
	}
}

func TestInvalidSnapshotStartsFresh(t *testing.T) {
	st := newFakeStore()
	bad := types.NewSession("2026-10-14", types.Paper, 30)
	bad.Call.State = types.Open
	bad.Call.Quantity = 0
	st.sessions["2026-10-14/PAPER"] = *bad

	cfg := store.Default()
	cfg.Timezone = "UTC"
	eng := New(cfg, Deps{Gateway: newFakeGateway(), Store: st})
	eng.Start(context.Background(), at(10, 0, 0), nil)
	if eng.Session().Call.State != types.Flat {
		t.Fatal("inconsistent snapshot must be discarded")
	}
}

func TestDayRolloverResetsSession(t *testing.T) {
	h := newHarness(t, types.Paper, nil)
	h.eng.session.TradeCount = 5
	h.eng.session.TotalRealizedPnL = 1200

	next := at(9, 20, 0).Add(24 * time.Hour)
	h.step(t, next)
	s := h.eng.Session()
	if s.Date != "2026-10-15" || s.TradeCount != 0 || s.TotalRealizedPnL != 0 {
		t.Fatalf("expected fresh session for the new day, got %+v", s)
	}
}

func TestDayRolloverReloadsLevels(t *testing.T) {
	hist := &fakeHistory{bars: []types.Candle{
		{Open: 25000, High: 25100, Low: 24900, Close: 25000, Time: time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC)},
		{Open: 25150, High: 25300, Low: 25100, Close: 25200, Time: time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)},
	}}
	cfg := store.Default()
	cfg.Timezone = "UTC"
	eng := New(cfg, Deps{Gateway: newFakeGateway(), History: hist})
	eng.Start(context.Background(), at(9, 15, 0), nil)
	if lv := eng.Levels(); lv == nil || !near(lv.CPR.Pivot, 25000) {
		t.Fatalf("expected pivot 25000 from the prior day, got %+v", lv)
	}

	next := at(9, 15, 0).Add(24 * time.Hour)
	hist.err = errors.New("history unavailable")
	if _, err := eng.Step(context.Background(), next); err != nil {
		t.Fatal(err)
	}
	if eng.Levels() != nil {
		t.Fatal("yesterday's levels must not survive the rollover")
	}

	hist.err = nil
	if _, err := eng.Step(context.Background(), next.Add(30*time.Second)); err != nil {
		t.Fatal(err)
	}
	if eng.Levels() != nil || hist.calls != 2 {
		t.Fatalf("history retried too early, calls=%d", hist.calls)
	}
	if _, err := eng.Step(context.Background(), next.Add(61*time.Second)); err != nil {
		t.Fatal(err)
	}
	if lv := eng.Levels(); lv == nil || !near(lv.CPR.Pivot, 25200) {
		t.Fatalf("expected pivot 25200 from 2026-10-14, got %+v", lv)
	}
}

func TestStepHonoursCancelledContext(t *testing.T) {
	h := newHarness(t, types.Paper, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.eng.Step(ctx, at(10, 0, 0)); err == nil {
		t.Fatal("expected context error")
	}
}
