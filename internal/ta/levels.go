package ta

import (
	"github.com/shopspring/decimal"

	"pivot-options-bot/internal/types"
)

type CPR struct {
	Pivot float64 `json:"pivot"`
	BC    float64 `json:"bc"`
	TC    float64 `json:"tc"`
}

type Traditional struct {
	Pivot float64 `json:"pivot"`
	R1    float64 `json:"r1"`
	S1    float64 `json:"s1"`
	R2    float64 `json:"r2"`
	S2    float64 `json:"s2"`
}

type Camarilla struct {
	R3 float64 `json:"r3"`
	R4 float64 `json:"r4"`
	S3 float64 `json:"s3"`
	S4 float64 `json:"s4"`
}

// Levels bundles every pivot family derived from one prior-day bar.
type Levels struct {
	CPR         CPR         `json:"cpr"`
	Traditional Traditional `json:"traditional"`
	Camarilla   Camarilla   `json:"camarilla"`
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func ComputeCPR(h, l, c float64) CPR {
	pivot := (h + l + c) / 3
	bc := (h + l) / 2
	tc := pivot + (pivot - bc)
	return CPR{Pivot: Round2(pivot), BC: Round2(bc), TC: Round2(tc)}
}

func ComputeTraditional(h, l, c float64) Traditional {
	pivot := (h + l + c) / 3
	return Traditional{
		Pivot: Round2(pivot),
		R1:    Round2(2*pivot - l),
		S1:    Round2(2*pivot - h),
		R2:    Round2(pivot + (h - l)),
		S2:    Round2(pivot - (h - l)),
	}
}

func ComputeCamarilla(h, l, c float64) Camarilla {
	rng := h - l
	return Camarilla{
		R3: Round2(c + rng*1.1/4),
		R4: Round2(c + rng*1.1/2),
		S3: Round2(c - rng*1.1/4),
		S4: Round2(c - rng*1.1/2),
	}
}

// ComputeLevels derives all levels from the previous session's bar.
func ComputeLevels(prev types.Candle) Levels {
	return Levels{
		CPR:         ComputeCPR(prev.High, prev.Low, prev.Close),
		Traditional: ComputeTraditional(prev.High, prev.Low, prev.Close),
		Camarilla:   ComputeCamarilla(prev.High, prev.Low, prev.Close),
	}
}
