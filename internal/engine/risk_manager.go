package engine

import (
	"math"
	"time"

	"pivot-options-bot/internal/store"
	"pivot-options-bot/internal/types"
)

// Entry block reasons reported by riskManager.admit.
const (
	blockLegActive      = "LEG_ACTIVE"
	blockOtherLegActive = "OTHER_LEG_ACTIVE"
	blockMaxTrades      = "MAX_TRADES"
	blockCooldown       = "COOLDOWN"
)

// riskLevels are the stop, targets and trailing parameters of one entry.
type riskLevels struct {
	stop          float64
	partialTarget float64
	fullTarget    float64
	trailStart    float64
	trailStep     float64
}

// riskManager sizes stops and targets and gates new entries.
type riskManager struct {
	fixedRiskPoints float64
	riskATRMult     float64
	rewardRatio     float64
	trailStepATR    float64
	cooldown        time.Duration
	exclusivity     string
}

func newRiskManager(cfg store.RiskConfig) *riskManager {
	return &riskManager{
		fixedRiskPoints: cfg.FixedRiskPoints,
		riskATRMult:     cfg.RiskATRMult,
		rewardRatio:     cfg.RewardRiskRatio,
		trailStepATR:    cfg.TrailStepATR,
		cooldown:        time.Duration(cfg.CooldownSeconds) * time.Second,
		exclusivity:     cfg.LegExclusivity,
	}
}

// levels builds the risk parameters for a long option bought at entry.
//
// risk is the larger of the fixed point risk and a fraction of ATR; the
// reward is risk times the reward ratio. Half the reward is the partial
// target and the PnL at which trailing starts.
func (rm *riskManager) levels(entry, atr float64) riskLevels {
	risk := math.Max(rm.fixedRiskPoints, rm.riskATRMult*atr)
	reward := risk * rm.rewardRatio
	return riskLevels{
		stop:          entry - risk,
		partialTarget: entry + reward/2,
		fullTarget:    entry + reward,
		trailStart:    reward / 2,
		trailStep:     rm.trailStepATR * atr,
	}
}

// exclusive reports whether an active leg blocks entries on the other leg.
func (rm *riskManager) exclusive(mode types.Mode) bool {
	switch rm.exclusivity {
	case store.ExclusivityAlways:
		return true
	case store.ExclusivityNever:
		return false
	default:
		return mode == types.Live
	}
}

// admit returns an empty string when side may open a new position now, or
// the reason the entry is blocked.
func (rm *riskManager) admit(s *types.Session, side types.Side, now time.Time) string {
	if s.Leg(side).State != types.Flat {
		return blockLegActive
	}
	if rm.exclusive(s.Mode) {
		other := types.Put
		if side == types.Put {
			other = types.Call
		}
		if s.Leg(other).Active() {
			return blockOtherLegActive
		}
	}
	// entries still working count against the cap, they may yet fill
	inFlight := 0
	for _, leg := range s.Legs() {
		if leg.State == types.PendingEntry {
			inFlight++
		}
	}
	if s.TradeCount+inFlight >= s.MaxTradesPerDay {
		return blockMaxTrades
	}
	if s.Mode == types.Live && !s.LastExitTime.IsZero() && now.Sub(s.LastExitTime) < rm.cooldown {
		return blockCooldown
	}
	return ""
}
