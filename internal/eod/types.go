package eod

// aggRow is the per-contract aggregate of one day's fills.
type aggRow struct {
	Symbol      string
	Leg         string
	BuyQty      int
	BuyValue    float64
	SellQty     int
	SellValue   float64
	RealizedPnL float64
	Exits       map[string]int // exit reason -> count
}
