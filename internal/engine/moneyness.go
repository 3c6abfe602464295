package engine

import (
	"errors"
	"fmt"
	"math"

	"pivot-options-bot/internal/types"
)

// ErrNoContract is returned when the chain holds no contract of the
// requested option type.
var ErrNoContract = errors.New("no contract available")

const (
	MoneynessITM = "ITM"
	MoneynessATM = "ATM"
	MoneynessOTM = "OTM"
)

// targetStrike returns the strike for side under policy. ATM is spot rounded
// to the strike step; ITM sits one step inside the money and OTM one step
// outside. offset is added last.
func targetStrike(spot, step float64, side types.Side, policy string, offset float64) float64 {
	atm := math.Round(spot/step) * step
	shift := 0.0
	switch policy {
	case MoneynessITM:
		shift = -step
	case MoneynessOTM:
		shift = step
	}
	if side == types.Put {
		shift = -shift
	}
	return atm + shift + offset
}

// selectContract finds the contract for the target strike. When that strike
// is missing it falls back to the nearest strike of the same type and
// reports degraded=true.
func selectContract(chain types.ChainSnapshot, spot, step float64, side types.Side, policy string, offset float64) (c types.OptionContract, target float64, degraded bool, err error) {
	target = targetStrike(spot, step, side, policy, offset)
	want := side.OptionType()
	best := -1
	bestDist := math.Inf(1)
	for i, oc := range chain.Contracts {
		if oc.Type != want {
			continue
		}
		d := math.Abs(oc.Strike - target)
		if d == 0 {
			return oc, target, false, nil
		}
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return types.OptionContract{}, target, false, fmt.Errorf("%w: %s strike %.2f", ErrNoContract, want, target)
	}
	return chain.Contracts[best], target, true, nil
}
