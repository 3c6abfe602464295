package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pivot-options-bot/internal/candle"
	"pivot-options-bot/internal/interfaces"
	"pivot-options-bot/internal/logger"
	"pivot-options-bot/internal/metrics"
	"pivot-options-bot/internal/persist"
	"pivot-options-bot/internal/signal"
	"pivot-options-bot/internal/store"
	"pivot-options-bot/internal/ta"
	"pivot-options-bot/internal/types"
)

// Deps are the collaborators the engine drives. Queue, Chain, History,
// Store, Ledgers and Journal may be nil or empty.
type Deps struct {
	Queue   *Queue
	Gateway interfaces.Gateway
	Chain   interfaces.ChainSource
	History interfaces.HistorySource
	Store   interfaces.SessionStore
	Ledgers []interfaces.Ledger
	Journal interfaces.SignalJournal
}

// Engine owns the trading session for one day and mode. All state changes
// happen inside Step; feeds talk to it only through Queue.
type Engine struct {
	cfg  *store.Config
	loc  *time.Location
	mode types.Mode

	chain   interfaces.ChainSource
	history interfaces.HistorySource
	store   interfaces.SessionStore
	ledgers []interfaces.Ledger
	journal interfaces.SignalJournal

	queue  *Queue
	agg    *candle.Aggregator
	risk   *riskManager
	stops  *stopManager
	exec   *orderExecutor
	pos    *positionManager
	params signal.Params

	session       *types.Session
	levels        *ta.Levels
	dailyATR      ta.ATRResult
	levelsRetryAt time.Time

	spot      float64
	optionLTP map[string]float64
	unflushed [][]types.Fill
	stepFills []types.Fill
}

var _ interfaces.Engine = (*Engine)(nil)

func newEngine(cfg *store.Config, deps Deps) *Engine {
	mode := cfg.ParsedMode()
	queue := deps.Queue
	if queue == nil {
		queue = NewQueue()
	}
	e := &Engine{
		cfg:       cfg,
		loc:       cfg.Location(),
		mode:      mode,
		chain:     deps.Chain,
		history:   deps.History,
		store:     deps.Store,
		ledgers:   deps.Ledgers,
		journal:   deps.Journal,
		queue:     queue,
		agg:       candle.NewAggregator(cfg.Candle.IntervalMinutes, cfg.CatchUp(), cfg.Location()),
		risk:      newRiskManager(cfg.Risk),
		stops:     newStopManager(),
		exec:      newOrderExecutor(deps.Gateway, mode, cfg.Order),
		optionLTP: map[string]float64{},
		unflushed: make([][]types.Fill, len(deps.Ledgers)),
		params: signal.Params{
			MinBodyRange:       cfg.Signal.MinBodyRange,
			MinATR:             cfg.Signal.MinATR,
			MaxATR:             cfg.Signal.MaxATR,
			BreakoutBuffer:     cfg.Signal.BreakoutBuffer,
			ContinuationBuffer: cfg.Signal.ContinuationBuffer,
		},
	}
	return e
}

// Queue is the sink feed callbacks push into.
func (e *Engine) Queue() *Queue { return e.queue }

// Session returns the live session. Callers outside the control loop must
// treat it as read-only.
func (e *Engine) Session() *types.Session { return e.session }

// Levels returns today's pivot levels, nil before Start found a prior bar.
func (e *Engine) Levels() *ta.Levels { return e.levels }

// Start prepares the day: pivot levels and daily ATR from the bars before
// now's date, and the session restored from the store or created fresh.
// With nil dailyBars the bars are fetched from the history source.
func (e *Engine) Start(ctx context.Context, now time.Time, dailyBars []types.Candle) {
	if dailyBars != nil {
		e.setLevels(ctx, now, dailyBars)
	} else {
		e.refreshLevels(ctx, now)
	}
	e.setSession(e.loadSession(ctx, now))
}

// HistoryWindow is the daily-bar range fetched for levels and ATR.
func HistoryWindow(now time.Time, days int) (from, to time.Time) {
	// calendar days, padded for weekends and holidays
	return now.AddDate(0, 0, -(days*3)/2-5), now
}

// refreshLevels loads daily bars and recomputes the levels for now's date.
// Until it succeeds signals stay disabled; it is retried once a minute.
func (e *Engine) refreshLevels(ctx context.Context, now time.Time) {
	if e.history == nil || now.Before(e.levelsRetryAt) {
		return
	}
	e.levelsRetryAt = now.Add(time.Minute)
	from, to := HistoryWindow(now, e.cfg.Indicators.DailyHistoryDays)
	bars, err := e.history.DailyBars(ctx, from, to)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load daily history", err, "from", from, "to", to)
		return
	}
	logger.Info(ctx, "Daily history loaded", "bars", len(bars))
	e.setLevels(ctx, now, bars)
}

func (e *Engine) setLevels(ctx context.Context, now time.Time, bars []types.Candle) {
	e.levels = nil
	e.dailyATR = ta.ATRResult{}
	today := types.SessionDate(now, e.loc)
	prior := make([]types.Candle, 0, len(bars))
	for _, b := range bars {
		if types.SessionDate(b.Time, e.loc) < today {
			prior = append(prior, b)
		}
	}
	if len(prior) == 0 {
		logger.Warn(ctx, "No prior daily bar, signal evaluation disabled", "bars", len(bars))
		return
	}
	prev := prior[len(prior)-1]
	lv := ta.ComputeLevels(prev)
	e.levels = &lv
	e.dailyATR = ta.DailyATR(prior, e.cfg.Indicators.ATRPeriod)
	logger.Info(ctx, "Daily levels computed",
		"prev_day", types.SessionDate(prev.Time, e.loc),
		"pivot", lv.CPR.Pivot, "bc", lv.CPR.BC, "tc", lv.CPR.TC,
		"r1", lv.Traditional.R1, "s1", lv.Traditional.S1,
		"r2", lv.Traditional.R2, "s2", lv.Traditional.S2,
		"r3", lv.Camarilla.R3, "r4", lv.Camarilla.R4,
		"s3", lv.Camarilla.S3, "s4", lv.Camarilla.S4,
		"daily_atr", e.dailyATR.Value, "daily_atr_ok", e.dailyATR.OK,
	)
}

func (e *Engine) loadSession(ctx context.Context, now time.Time) *types.Session {
	date := types.SessionDate(now, e.loc)
	fresh := types.NewSession(date, e.mode, e.cfg.Risk.MaxTradesPerDay)
	if e.store == nil {
		return fresh
	}
	s, err := e.store.Load(ctx, date, e.mode)
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			logger.Info(ctx, "No session snapshot for today, starting fresh", "date", date, "mode", e.mode)
		} else {
			logger.ErrorWithErr(ctx, "Failed to load session snapshot, starting fresh", err, "date", date, "mode", e.mode)
		}
		return fresh
	}
	if err := validateSession(s, date, e.mode); err != nil {
		logger.ErrorWithErr(ctx, "Discarding invalid session snapshot", err, "date", date, "mode", e.mode)
		return fresh
	}
	s.MaxTradesPerDay = e.cfg.Risk.MaxTradesPerDay
	if s.Orders == nil {
		s.Orders = map[string]types.OrderUpdate{}
	}
	e.agg.Restore(s.Candles)
	logger.Info(ctx, "Session restored",
		"date", date, "mode", e.mode,
		"call", s.Call.State, "put", s.Put.State,
		"trades", s.TradeCount, "pnl", s.TotalRealizedPnL, "candles", len(s.Candles),
	)
	return s
}

// validateSession checks the leg invariants of a restored snapshot.
func validateSession(s *types.Session, date string, mode types.Mode) error {
	if s.Date != date || s.Mode != mode {
		return fmt.Errorf("snapshot key %s/%s does not match %s/%s", s.Date, s.Mode, date, mode)
	}
	for _, side := range []types.Side{types.Call, types.Put} {
		leg := s.Leg(side)
		if leg.Side != side {
			return fmt.Errorf("leg %s stored as %s", side, leg.Side)
		}
		if _, err := types.ParseLegState(string(leg.State)); err != nil {
			return fmt.Errorf("leg %s: %w", side, err)
		}
		if (leg.Quantity > 0) != (leg.State != types.Flat) {
			return fmt.Errorf("leg %s: quantity %d inconsistent with state %s", side, leg.Quantity, leg.State)
		}
	}
	return nil
}

func (e *Engine) setSession(s *types.Session) {
	e.session = s
	e.pos = newPositionManager(s, e.risk)
}

// rollover replaces the session when the calendar day changes.
func (e *Engine) rollover(ctx context.Context, now time.Time) {
	if e.session != nil {
		logger.Info(ctx, "Trading day changed, resetting session",
			"previous", e.session.Date, "trades", e.session.TradeCount, "pnl", e.session.TotalRealizedPnL)
	}
	e.agg.Reset()
	e.spot = 0
	e.optionLTP = map[string]float64{}
	e.levels = nil
	e.dailyATR = ta.ATRResult{}
	e.levelsRetryAt = time.Time{}
	e.refreshLevels(ctx, now)
	e.setSession(e.loadSession(ctx, now))
}

// Step runs one control-loop tick: apply queued feed events, force-close at
// session end or else retry stuck exits, chase pending entries, evaluate a
// newly closed candle, and manage exits. State is persisted at the end.
//
// Per-leg, remote and persistence failures are logged and never returned;
// the only error is a cancelled ctx.
func (e *Engine) Step(ctx context.Context, now time.Time) (*types.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.session == nil || e.session.Date != types.SessionDate(now, e.loc) {
		e.rollover(ctx, now)
	} else if e.levels == nil {
		e.refreshLevels(ctx, now)
	}
	e.stepFills = e.stepFills[:0]
	res := &types.StepResult{Time: now}

	e.drainEvents(ctx, now)

	start, end := e.cfg.SessionBounds(now)
	if !now.Before(end) {
		e.forceClose(ctx, now)
		res.EOD = true
	} else {
		e.retryPendingExits(ctx, now)
		e.chasePendingEntries(ctx, now)
		if sig, atr, ok := e.evaluateSignal(ctx, now, res); ok {
			if now.Before(start) {
				logger.Info(ctx, "Signal before session start ignored", "side", sig.Side, "reason", sig.Reason)
				metrics.EntriesBlocked.WithLabelValues("BEFORE_START").Inc()
			} else {
				e.tryEntry(ctx, now, sig, atr, res)
			}
		}
		e.evaluateExits(ctx, now)
	}

	e.persist(ctx, now)
	e.summarize(res)
	return res, nil
}

func (e *Engine) drainEvents(ctx context.Context, now time.Time) {
	underlying := e.cfg.Underlying
	for _, ev := range e.queue.drain() {
		switch {
		case ev.tick != nil:
			t := *ev.tick
			if t.Token == underlying.Token || t.Symbol == underlying.Symbol {
				metrics.TicksTotal.WithLabelValues("underlying").Inc()
				e.onUnderlying(ctx, t)
				continue
			}
			metrics.TicksTotal.WithLabelValues("option").Inc()
			if t.LastPrice > 0 && t.Symbol != "" {
				e.optionLTP[t.Symbol] = t.LastPrice
			}
		case ev.order != nil:
			e.applyOrderUpdate(ctx, now, *ev.order)
		}
	}
}

func (e *Engine) onUnderlying(ctx context.Context, t types.Tick) {
	if t.LastPrice <= 0 {
		return
	}
	e.spot = t.LastPrice
	c, closed := e.agg.Add(t.LastPrice, t.Time)
	if !closed {
		return
	}
	metrics.CandlesTotal.Inc()
	logger.Debug(ctx, "Candle closed",
		"time", c.Time, "open", c.Open, "high", c.High, "low", c.Low, "close", c.Close)
}

// spotPrice is the last underlying tick, else the chain snapshot's spot.
func (e *Engine) spotPrice() float64 {
	if e.spot > 0 {
		return e.spot
	}
	if e.chain != nil {
		if snap, ok := e.chain.Snapshot(); ok {
			return snap.Spot
		}
	}
	return 0
}

// optionPrice is the last tick for symbol, else its chain snapshot LTP.
func (e *Engine) optionPrice(symbol string) (float64, bool) {
	if p, ok := e.optionLTP[symbol]; ok && p > 0 {
		return p, true
	}
	if e.chain == nil {
		return 0, false
	}
	snap, ok := e.chain.Snapshot()
	if !ok {
		return 0, false
	}
	for _, c := range snap.Contracts {
		if c.Symbol == symbol && c.LTP > 0 {
			return c.LTP, true
		}
	}
	return 0, false
}

func (e *Engine) fillCtx(now time.Time) fillContext {
	return fillContext{now: now, spot: e.spotPrice()}
}

func (e *Engine) record(f types.Fill) {
	e.stepFills = append(e.stepFills, f)
	for i := range e.unflushed {
		e.unflushed[i] = append(e.unflushed[i], f)
	}
}

// evaluateSignal runs the detector once per newly closed candle.
func (e *Engine) evaluateSignal(ctx context.Context, now time.Time, res *types.StepResult) (types.Signal, float64, bool) {
	candles := e.agg.Candles()
	if len(candles) == 0 {
		return types.Signal{}, 0, false
	}
	last := candles[len(candles)-1]
	if last.Time.Equal(e.session.LastSignalCandle) {
		return types.Signal{}, 0, false
	}
	e.session.LastSignalCandle = last.Time

	if e.levels == nil {
		logger.Debug(ctx, "Skipping signal evaluation, no daily levels", "candle", last.Time)
		return types.Signal{}, 0, false
	}

	atr := ta.ResolveATR(candles, e.cfg.Indicators.ATRPeriod, e.dailyATR)
	res.ATR = atr.Value
	if atr.OK {
		metrics.ATR.Set(atr.Value)
	}
	sig, diag, ok := signal.Detect(*e.levels, atr, candles, e.params)
	logger.Debug(ctx, "Signal evaluated",
		"candle", last.Time, "candles", len(candles),
		"atr", atr.Value, "atr_source", atr.Source,
		"filter", diag.Filter, "body_range", diag.BodyRange, "momentum", diag.Momentum,
		"call_ok", diag.CallOK, "put_ok", diag.PutOK,
	)
	if !ok {
		if diag.Filter != "" {
			metrics.SignalFilters.WithLabelValues(diag.Filter).Inc()
		}
		return types.Signal{}, 0, false
	}

	res.Signal = &sig
	metrics.SignalsTotal.WithLabelValues(string(sig.Side), sig.Reason).Inc()
	logger.Signal(ctx, string(sig.Side), sig.Reason, last.Close, atr.Value,
		"candle", last.Time, "atr_source", atr.Source, "spot", e.spotPrice())
	if e.journal != nil {
		rec := types.SignalRecord{
			Time:       now,
			CandleTime: last.Time,
			Side:       sig.Side,
			Reason:     sig.Reason,
			Close:      last.Close,
			ATR:        atr.Value,
			ATRSource:  string(atr.Source),
			Levels:     levelMap(*e.levels),
		}
		if err := e.journal.RecordSignal(ctx, rec); err != nil {
			logger.Warn(ctx, "Failed to journal signal", "error", err)
		}
	}
	return sig, atr.Value, true
}

func levelMap(lv ta.Levels) map[string]float64 {
	return map[string]float64{
		"pivot": lv.CPR.Pivot, "bc": lv.CPR.BC, "tc": lv.CPR.TC,
		"r1": lv.Traditional.R1, "s1": lv.Traditional.S1,
		"r2": lv.Traditional.R2, "s2": lv.Traditional.S2,
		"r3": lv.Camarilla.R3, "r4": lv.Camarilla.R4,
		"s3": lv.Camarilla.S3, "s4": lv.Camarilla.S4,
	}
}

// tryEntry admits sig if the risk gates allow it, picks the contract and
// places the entry. Failures drop the signal for this cycle.
func (e *Engine) tryEntry(ctx context.Context, now time.Time, sig types.Signal, atr float64, res *types.StepResult) {
	if reason := e.risk.admit(e.session, sig.Side, now); reason != "" {
		logger.Risk(ctx, string(sig.Side), "ENTRY_BLOCKED", "block", reason, "signal", sig.Reason,
			"trades", e.session.TradeCount, "max_trades", e.session.MaxTradesPerDay)
		metrics.EntriesBlocked.WithLabelValues(reason).Inc()
		res.Messages = append(res.Messages, "entry blocked: "+reason)
		return
	}

	if e.chain == nil {
		logger.Warn(ctx, "Signal dropped, no option chain source", "side", sig.Side)
		metrics.EntriesBlocked.WithLabelValues("NO_CHAIN").Inc()
		return
	}
	snap, ok := e.chain.Snapshot()
	if !ok {
		logger.Warn(ctx, "Signal dropped, option chain not loaded yet", "side", sig.Side)
		metrics.EntriesBlocked.WithLabelValues("NO_CHAIN").Inc()
		return
	}
	spot := e.spotPrice()
	policy := e.cfg.Moneyness.Call
	if sig.Side == types.Put {
		policy = e.cfg.Moneyness.Put
	}
	contract, target, degraded, err := selectContract(snap, spot, e.cfg.Underlying.StrikeStep, sig.Side, policy, e.cfg.Moneyness.OffsetPoints)
	if err != nil {
		logger.Warn(ctx, "Signal dropped, no contract for side", "side", sig.Side, "spot", spot, "error", err)
		metrics.EntriesBlocked.WithLabelValues("NO_CONTRACT").Inc()
		res.Messages = append(res.Messages, "entry dropped: "+err.Error())
		return
	}
	if degraded {
		logger.Warn(ctx, "Target strike missing, using nearest contract",
			"side", sig.Side, "target_strike", target, "strike", contract.Strike, "symbol", contract.Symbol)
	}

	ltp, ok := e.optionPrice(contract.Symbol)
	if !ok {
		logger.Warn(ctx, "Signal dropped, no option price", "symbol", contract.Symbol)
		metrics.EntriesBlocked.WithLabelValues("NO_PRICE").Inc()
		return
	}

	leg := e.session.Leg(sig.Side)
	qty := e.cfg.Risk.LotQty
	req := e.exec.entryRequest(contract.Symbol, qty, ltp)
	orderID, err := e.exec.place(ctx, req)
	if err != nil {
		logger.ErrorWithErr(ctx, "Entry order failed, skipping this cycle", err,
			"side", sig.Side, "symbol", contract.Symbol, "qty", qty)
		metrics.EntriesBlocked.WithLabelValues("ORDER_FAILED").Inc()
		return
	}

	e.pos.markPending(leg, contract, qty, req, orderID, sig.Reason, atr, now)
	if e.mode == types.Paper {
		e.confirmEntry(ctx, now, leg, qty, ltp)
		return
	}
	logger.Info(ctx, "Entry order pending",
		"side", sig.Side, "symbol", contract.Symbol, "order_id", orderID,
		"type", req.Type, "limit", req.LimitPrice, "qty", qty)

	u, err := e.exec.query(ctx, orderID)
	if err != nil {
		logger.Warn(ctx, "Entry status query failed, waiting for order feed", "order_id", orderID, "error", err)
		return
	}
	e.applyOrderUpdate(ctx, now, u)
}

// confirmEntry opens a leg at the traded price.
func (e *Engine) confirmEntry(ctx context.Context, now time.Time, leg *types.Leg, qty int, price float64) {
	f := e.pos.open(leg, qty, price, leg.EntryATR, leg.OrderID, e.fillCtx(now))
	e.record(f)
	metrics.EntriesTotal.WithLabelValues(string(leg.Side), string(e.mode)).Inc()
	logger.Trade(ctx, leg.Symbol, string(types.Buy), qty, price, leg.OrderID,
		"leg", leg.Side, "reason", leg.Reason, "mode", e.mode,
		"stop", leg.StopPrice, "partial_target", leg.PartialTarget, "target", leg.FullTarget,
		"trail_start", leg.TrailStartPnL, "trail_step", leg.TrailStepPoints)
}

// applyOrderUpdate records an order status and settles the pending entry or
// working exit it belongs to.
func (e *Engine) applyOrderUpdate(ctx context.Context, now time.Time, u types.OrderUpdate) {
	if u.OrderID == "" {
		return
	}
	e.session.Orders[u.OrderID] = u
	for _, leg := range e.session.Legs() {
		switch {
		case leg.State == types.PendingEntry && leg.OrderID == u.OrderID:
			e.settleEntry(ctx, now, leg, u)
			return
		case leg.State == types.Open && leg.PendingExit.Working() && leg.PendingExit.OrderID == u.OrderID:
			e.settleExit(ctx, now, leg, u)
			return
		}
	}
}

func (e *Engine) settleEntry(ctx context.Context, now time.Time, leg *types.Leg, u types.OrderUpdate) {
	price := u.TradedPrice
	if price <= 0 {
		price = leg.LimitPrice
	}
	switch {
	case u.Status == types.StatusTraded:
		qty := u.FilledQty
		if qty <= 0 {
			qty = leg.Quantity
		}
		e.confirmEntry(ctx, now, leg, qty, price)
	case u.Status.Failed() && u.FilledQty > 0:
		// cancelled after a partial fill: manage what was bought
		logger.Risk(ctx, leg.Symbol, "ENTRY_PART_FILLED", "order_id", u.OrderID, "status", u.Status, "filled", u.FilledQty)
		e.confirmEntry(ctx, now, leg, u.FilledQty, price)
	case u.Status.Failed():
		logger.Risk(ctx, leg.Symbol, "ENTRY_NOT_FILLED", "order_id", u.OrderID, "status", u.Status)
		e.pos.cancelPending(leg)
	default:
		logger.Debug(ctx, "Entry still pending", "order_id", u.OrderID, "status", u.Status)
	}
}

// settleExit closes the leg once its working exit has traded. A dead exit
// order is cleared so the exit is sent again on the next step.
func (e *Engine) settleExit(ctx context.Context, now time.Time, leg *types.Leg, u types.OrderUpdate) {
	pe := leg.PendingExit
	price := u.TradedPrice
	if price <= 0 {
		price = pe.Price
	}
	switch {
	case u.Status == types.StatusTraded:
		e.closeLeg(ctx, now, leg, price, pe.Reason, u.OrderID)
	case u.Status.Failed():
		if u.FilledQty > 0 && u.FilledQty < leg.Quantity {
			e.record(e.pos.reduce(leg, u.FilledQty, price, pe.Reason, u.OrderID, e.fillCtx(now)))
		}
		logger.Risk(ctx, leg.Symbol, "EXIT_NOT_FILLED", "order_id", u.OrderID, "status", u.Status,
			"reason", pe.Reason, "remaining", leg.Quantity)
		metrics.OrderErrors.WithLabelValues("exit_" + string(u.Status)).Inc()
		pe.OrderID = ""
		pe.Qty = leg.Quantity
	default:
		logger.Debug(ctx, "Exit still working", "order_id", u.OrderID, "status", u.Status)
	}
}

// chasePendingEntries polls unfilled live LIMIT entries and walks their
// limit one step toward the option's LTP every chase interval.
func (e *Engine) chasePendingEntries(ctx context.Context, now time.Time) {
	every := time.Duration(e.cfg.Order.ChaseSeconds) * time.Second
	for _, leg := range e.session.Legs() {
		if leg.State != types.PendingEntry || now.Sub(leg.LastChase) < every {
			continue
		}
		leg.LastChase = now
		u, err := e.exec.query(ctx, leg.OrderID)
		if err != nil {
			logger.Warn(ctx, "Pending entry status query failed", "order_id", leg.OrderID, "error", err)
		} else {
			e.applyOrderUpdate(ctx, now, u)
		}
		if leg.State != types.PendingEntry || leg.OrderType != types.Limit {
			continue
		}
		ltp, ok := e.optionPrice(leg.Symbol)
		if !ok {
			logger.Warn(ctx, "No LTP for pending entry, skipping chase", "symbol", leg.Symbol)
			continue
		}
		limit := e.exec.chasePrice(leg.LimitPrice, ltp)
		if limit == leg.LimitPrice {
			continue
		}
		if err := e.exec.modify(ctx, leg.OrderID, limit, leg.Quantity); err != nil {
			logger.ErrorWithErr(ctx, "Failed to modify pending entry", err, "order_id", leg.OrderID, "limit", limit)
			continue
		}
		logger.Info(ctx, "Pending entry chased", "order_id", leg.OrderID, "from", leg.LimitPrice, "to", limit, "ltp", ltp)
		leg.LimitPrice = limit
	}
}

// evaluateExits applies the exit rules to every OPEN leg with a known
// price: stop-loss, partial target, full target, then trailing.
func (e *Engine) evaluateExits(ctx context.Context, now time.Time) {
	for _, leg := range e.session.Legs() {
		if leg.State != types.Open || leg.PendingExit != nil {
			continue
		}
		price, ok := e.optionPrice(leg.Symbol)
		if !ok {
			logger.Debug(ctx, "No price for open leg, skipping exits", "leg", leg.Side, "symbol", leg.Symbol)
			continue
		}
		leg.LastPrice = price
		e.evaluateLeg(ctx, now, leg, price)
	}
}

func (e *Engine) evaluateLeg(ctx context.Context, now time.Time, leg *types.Leg, price float64) {
	if e.stops.stopHit(leg, price) {
		logger.Risk(ctx, leg.Symbol, "STOP_LOSS_TRIGGERED", "price", price, "stop", leg.StopPrice, "qty", leg.Quantity)
		e.exitFull(ctx, now, leg, price, types.ExitStopLoss)
		return
	}

	booked := false
	if e.stops.partialHit(leg, price) {
		booked = e.exitPartial(ctx, now, leg, price)
	}

	if e.stops.targetHit(leg, price) {
		e.exitFull(ctx, now, leg, price, types.ExitTarget)
		return
	}

	if leg.PartialBooked && !booked {
		if stop, moved := e.stops.trailingStop(leg, price); moved {
			logger.Info(ctx, "Trailing stop raised", "leg", leg.Side, "symbol", leg.Symbol,
				"from", leg.StopPrice, "to", stop, "price", price)
			leg.StopPrice = stop
		}
	}
}

// exitPartial sells half the position. A one-lot remainder that cannot be
// halved only moves the stop to breakeven.
func (e *Engine) exitPartial(ctx context.Context, now time.Time, leg *types.Leg, price float64) bool {
	half := leg.Quantity / 2
	if half == 0 {
		leg.PartialBooked = true
		leg.StopPrice = leg.EntryPrice
		return true
	}
	orderID, err := e.exec.exit(ctx, leg.Symbol, half, price, types.ExitPartial)
	if err != nil {
		logger.ErrorWithErr(ctx, "Partial exit order failed, will retry", err, "leg", leg.Side, "symbol", leg.Symbol, "qty", half)
		return false
	}
	f := e.pos.bookPartial(leg, half, price, orderID, e.fillCtx(now))
	e.record(f)
	metrics.ExitsTotal.WithLabelValues(string(leg.Side), string(types.ExitPartial)).Inc()
	logger.Trade(ctx, leg.Symbol, string(types.Sell), half, price, orderID,
		"leg", leg.Side, "reason", types.ExitPartial, "remaining", leg.Quantity, "stop", leg.StopPrice)
	return true
}

// exitFull sends the exit for the whole position. Paper exits close the leg
// at once. A live exit keeps the leg OPEN until the broker reports the
// order traded; an order that cannot be placed is parked and re-sent every
// step. Returns true once the leg is FLAT.
func (e *Engine) exitFull(ctx context.Context, now time.Time, leg *types.Leg, price float64, reason types.ExitReason) bool {
	if leg.PendingExit.Working() {
		return e.pollExit(ctx, now, leg)
	}
	qty := leg.Quantity
	orderID, err := e.exec.exit(ctx, leg.Symbol, qty, price, reason)
	if err != nil {
		if leg.PendingExit == nil {
			leg.PendingExit = &types.PendingExit{Reason: reason, Qty: qty, Since: now}
		}
		leg.PendingExit.Attempts++
		logger.ErrorWithErr(ctx, "Exit order failed, will retry next step", err,
			"leg", leg.Side, "symbol", leg.Symbol, "reason", reason, "qty", qty, "attempts", leg.PendingExit.Attempts)
		return false
	}
	if e.mode == types.Paper {
		e.closeLeg(ctx, now, leg, price, reason, orderID)
		return true
	}

	if leg.PendingExit == nil {
		leg.PendingExit = &types.PendingExit{Reason: reason, Since: now}
	}
	leg.PendingExit.Attempts++
	leg.PendingExit.Reason = reason
	leg.PendingExit.Qty = qty
	leg.PendingExit.OrderID = orderID
	leg.PendingExit.Price = price
	logger.Info(ctx, "Exit order working", "leg", leg.Side, "symbol", leg.Symbol,
		"order_id", orderID, "reason", reason, "qty", qty, "price", price)
	return e.pollExit(ctx, now, leg)
}

// pollExit queries the working exit order and applies its status.
func (e *Engine) pollExit(ctx context.Context, now time.Time, leg *types.Leg) bool {
	orderID := leg.PendingExit.OrderID
	u, err := e.exec.query(ctx, orderID)
	if err != nil {
		logger.Warn(ctx, "Exit status query failed, waiting for order feed", "order_id", orderID, "error", err)
		return false
	}
	e.applyOrderUpdate(ctx, now, u)
	return leg.State == types.Flat
}

// closeLeg books the final SELL and returns the leg to FLAT.
func (e *Engine) closeLeg(ctx context.Context, now time.Time, leg *types.Leg, price float64, reason types.ExitReason, orderID string) {
	qty := leg.Quantity
	side := leg.Side
	symbol := leg.Symbol
	f := e.pos.close(leg, price, reason, orderID, e.fillCtx(now))
	e.record(f)
	metrics.ExitsTotal.WithLabelValues(string(side), string(reason)).Inc()
	logger.Trade(ctx, symbol, string(types.Sell), qty, price, orderID,
		"leg", side, "reason", reason, "leg_pnl", leg.RealizedPnL,
		"session_pnl", e.session.TotalRealizedPnL)
}

// retryPendingExits re-sends parked exits regardless of the current price
// and polls the ones already working.
func (e *Engine) retryPendingExits(ctx context.Context, now time.Time) {
	for _, leg := range e.session.Legs() {
		if leg.State != types.Open || leg.PendingExit == nil {
			continue
		}
		price := e.lastKnownPrice(leg)
		reason := leg.PendingExit.Reason
		if e.exitFull(ctx, now, leg, price, reason) {
			logger.Info(ctx, "Pending exit completed", "leg", leg.Side, "reason", reason)
		}
	}
}

func (e *Engine) lastKnownPrice(leg *types.Leg) float64 {
	if p, ok := e.optionPrice(leg.Symbol); ok {
		leg.LastPrice = p
		return p
	}
	if leg.LastPrice > 0 {
		return leg.LastPrice
	}
	return leg.EntryPrice
}

// forceClose flattens everything at session end. Unfilled entries are
// settled first so an entry found filled is closed in the same step; OPEN
// legs are then sold at the last known price.
func (e *Engine) forceClose(ctx context.Context, now time.Time) {
	for _, leg := range e.session.Legs() {
		if leg.State == types.PendingEntry {
			e.settleEntryAtClose(ctx, now, leg)
		}
		if leg.State == types.Open {
			price := e.lastKnownPrice(leg)
			if !leg.PendingExit.Working() {
				logger.Risk(ctx, leg.Symbol, "EOD_FORCE_EXIT", "price", price, "qty", leg.Quantity)
			}
			e.exitFull(ctx, now, leg, price, types.ExitEOD)
		}
	}
}

// settleEntryAtClose cancels a pending entry at session end. The leg goes
// FLAT only when the broker reports the order dead; anything else keeps it
// PENDING_ENTRY and the next step tries again.
func (e *Engine) settleEntryAtClose(ctx context.Context, now time.Time, leg *types.Leg) {
	orderID := leg.OrderID
	if u, err := e.exec.query(ctx, orderID); err == nil {
		e.applyOrderUpdate(ctx, now, u)
		if leg.State != types.PendingEntry {
			return
		}
	}
	if err := e.exec.cancel(ctx, orderID); err != nil {
		logger.Error(ctx, "Pending entry still working after session end, retrying cancel",
			"order_id", orderID, "symbol", leg.Symbol, "error", err)
		return
	}
	u, err := e.exec.query(ctx, orderID)
	if err != nil {
		logger.Warn(ctx, "Cancelled entry status unknown, checking next step", "order_id", orderID, "error", err)
		return
	}
	e.applyOrderUpdate(ctx, now, u)
	if leg.State == types.Flat {
		logger.Risk(ctx, leg.Symbol, "EOD_PENDING_CANCELLED", "order_id", orderID)
	}
}

// persist writes the session snapshot and flushes fills to every ledger.
// Failures leave the in-memory state as is; the next step retries.
func (e *Engine) persist(ctx context.Context, now time.Time) {
	e.session.UpdatedAt = now
	e.session.Candles = e.agg.Candles()
	if e.store != nil {
		if err := e.store.Save(ctx, e.session); err != nil {
			metrics.PersistErrors.WithLabelValues("snapshot").Inc()
			logger.ErrorWithErr(ctx, "Failed to save session snapshot", err, "date", e.session.Date)
		}
	}
	for i, l := range e.ledgers {
		if len(e.unflushed[i]) == 0 {
			continue
		}
		if err := l.Append(ctx, e.unflushed[i]); err != nil {
			metrics.PersistErrors.WithLabelValues("ledger").Inc()
			logger.ErrorWithErr(ctx, "Failed to append fills to ledger", err, "pending", len(e.unflushed[i]))
			continue
		}
		e.unflushed[i] = nil
	}
}

// Unflushed reports fills not yet accepted by each ledger.
func (e *Engine) Unflushed() int {
	n := 0
	for _, u := range e.unflushed {
		n += len(u)
	}
	return n
}

func (e *Engine) summarize(res *types.StepResult) {
	s := e.session
	res.Spot = e.spotPrice()
	res.Candles = len(s.Candles)
	res.Call = s.Call.State
	res.Put = s.Put.State
	res.PnL = s.TotalRealizedPnL
	res.Trades = s.TradeCount
	if len(e.stepFills) > 0 {
		res.Fills = append([]types.Fill(nil), e.stepFills...)
	}
	metrics.RealizedPnL.Set(s.TotalRealizedPnL)
	metrics.TradesToday.Set(float64(s.TradeCount))
	metrics.LegState.WithLabelValues(string(types.Call)).Set(stateValue(s.Call.State))
	metrics.LegState.WithLabelValues(string(types.Put)).Set(stateValue(s.Put.State))
}

func stateValue(s types.LegState) float64 {
	switch s {
	case types.PendingEntry:
		return 1
	case types.Open:
		return 2
	}
	return 0
}
