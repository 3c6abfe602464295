package engine

import (
	"time"

	"github.com/google/uuid"

	"pivot-options-bot/internal/types"
)

// positionManager applies leg transitions to the session and produces the
// fill record for each of them.
type positionManager struct {
	session *types.Session
	risk    *riskManager
}

func newPositionManager(s *types.Session, risk *riskManager) *positionManager {
	return &positionManager{session: s, risk: risk}
}

// fillContext carries the per-step values stamped on every fill.
type fillContext struct {
	now  time.Time
	spot float64
}

// markPending records an accepted live entry order that has not filled yet.
func (pm *positionManager) markPending(leg *types.Leg, c types.OptionContract, qty int, req types.OrderRequest, orderID, reason string, atr float64, now time.Time) {
	realized := leg.RealizedPnL
	*leg = types.Leg{
		Side:        leg.Side,
		Symbol:      c.Symbol,
		Strike:      c.Strike,
		State:       types.PendingEntry,
		Quantity:    qty,
		OrderID:     orderID,
		OrderType:   req.Type,
		LimitPrice:  req.LimitPrice,
		EntryATR:    atr,
		Reason:      reason,
		EntryTime:   now,
		LastChase:   now,
		RealizedPnL: realized,
	}
}

// open moves the leg to OPEN at price with freshly computed risk levels and
// counts the trade.
//
// Parameters:
//   - leg: Leg being opened; Symbol and Strike must already be set
//   - qty: Filled quantity
//   - price: Fill price of the option
//   - atr: Volatility captured when the signal was admitted
//   - orderID: Broker or paper order id
//
// Returns:
//   - fill: BUY fill record for the ledger
func (pm *positionManager) open(leg *types.Leg, qty int, price, atr float64, orderID string, fc fillContext) types.Fill {
	lv := pm.risk.levels(price, atr)
	leg.State = types.Open
	leg.Quantity = qty
	leg.EntryPrice = price
	leg.StopPrice = lv.stop
	leg.PartialTarget = lv.partialTarget
	leg.FullTarget = lv.fullTarget
	leg.TrailStartPnL = lv.trailStart
	leg.TrailStepPoints = lv.trailStep
	leg.PartialBooked = false
	leg.EntryATR = atr
	leg.OrderID = orderID
	leg.LastPrice = price
	leg.PendingExit = nil
	if leg.EntryTime.IsZero() {
		leg.EntryTime = fc.now
	}
	pm.session.TradeCount++
	return pm.fill(leg, types.Buy, price, qty, leg.Reason, orderID, fc)
}

// bookPartial sells qty at price, moves the stop to breakeven and keeps the
// leg OPEN with the residual quantity.
func (pm *positionManager) bookPartial(leg *types.Leg, qty int, price float64, orderID string, fc fillContext) types.Fill {
	pm.realize(leg, qty, price)
	leg.Quantity -= qty
	leg.PartialBooked = true
	leg.StopPrice = leg.EntryPrice
	return pm.fill(leg, types.Sell, price, qty, string(types.ExitPartial), orderID, fc)
}

// reduce books qty sold by an exit order that died part-filled. The rest
// of the position stays OPEN.
func (pm *positionManager) reduce(leg *types.Leg, qty int, price float64, reason types.ExitReason, orderID string, fc fillContext) types.Fill {
	pm.realize(leg, qty, price)
	leg.Quantity -= qty
	return pm.fill(leg, types.Sell, price, qty, string(reason), orderID, fc)
}

// close sells the full remaining quantity at price and returns the leg to
// FLAT. The fill carries the stop and target in force at exit.
//
// Returns:
//   - fill: SELL fill record for the ledger
func (pm *positionManager) close(leg *types.Leg, price float64, reason types.ExitReason, orderID string, fc fillContext) types.Fill {
	qty := leg.Quantity
	pm.realize(leg, qty, price)
	f := pm.fill(leg, types.Sell, price, qty, string(reason), orderID, fc)
	leg.Flatten()
	pm.session.LastExitTime = fc.now
	return f
}

// cancelPending drops an entry order that will never fill.
func (pm *positionManager) cancelPending(leg *types.Leg) {
	leg.Flatten()
}

func (pm *positionManager) realize(leg *types.Leg, qty int, price float64) {
	p := pnl(leg.EntryPrice, price, qty)
	leg.RealizedPnL += p
	pm.session.TotalRealizedPnL += p
}

func (pm *positionManager) fill(leg *types.Leg, action types.Action, price float64, qty int, reason, orderID string, fc fillContext) types.Fill {
	return types.Fill{
		ID:              uuid.NewString(),
		Time:            fc.now,
		Symbol:          leg.Symbol,
		Price:           price,
		Action:          action,
		StopPrice:       leg.StopPrice,
		TargetPrice:     leg.FullTarget,
		UnderlyingPrice: fc.spot,
		Quantity:        qty,
		Leg:             leg.Side,
		Reason:          reason,
		Mode:            pm.session.Mode,
		OrderID:         orderID,
	}
}
