package engine

import (
	"github.com/shopspring/decimal"
)

// roundToTick snaps price to the nearest multiple of tick.
func roundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	t := decimal.NewFromFloat(tick)
	return decimal.NewFromFloat(price).Div(t).Round(0).Mul(t).InexactFloat64()
}

// pnl is the realized profit of closing qty of a long option position.
func pnl(entry, exit float64, qty int) float64 {
	return decimal.NewFromFloat(exit).
		Sub(decimal.NewFromFloat(entry)).
		Mul(decimal.NewFromInt(int64(qty))).
		InexactFloat64()
}
