package engine

import (
	"pivot-options-bot/internal/types"
)

// stopManager holds the exit rules for an OPEN leg. The engine applies them
// in order: stop-loss, partial target, full target, trailing update.
type stopManager struct{}

func newStopManager() *stopManager {
	return &stopManager{}
}

func (sm *stopManager) stopHit(leg *types.Leg, price float64) bool {
	return price <= leg.StopPrice
}

func (sm *stopManager) partialHit(leg *types.Leg, price float64) bool {
	return !leg.PartialBooked && price >= leg.PartialTarget
}

func (sm *stopManager) targetHit(leg *types.Leg, price float64) bool {
	return price >= leg.FullTarget
}

// trailingStop returns the ratcheted stop for price. Trailing starts once
// the unrealized gain reaches TrailStartPnL, and the stop only moves up.
func (sm *stopManager) trailingStop(leg *types.Leg, price float64) (float64, bool) {
	if price-leg.EntryPrice < leg.TrailStartPnL {
		return leg.StopPrice, false
	}
	candidate := price - leg.TrailStepPoints
	if candidate > leg.StopPrice {
		return candidate, true
	}
	return leg.StopPrice, false
}
