package eod

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pivot-options-bot/internal/interfaces"
	"pivot-options-bot/internal/tradelog"
	"pivot-options-bot/internal/types"
)

type eodSummarizer struct {
	dir    string
	loc    *time.Location
	cutoff string
	now    func() time.Time
}

var _ interfaces.EodSummarizer = (*eodSummarizer)(nil)

// SummarizeDay writes the per-contract summary and the raw trades export
// for the day of t. It returns "" with no error when there were no fills.
func (s *eodSummarizer) SummarizeDay(ctx context.Context, t time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t = t.In(s.loc)
	fills, err := tradelog.ReadFills(s.dir, t, s.loc)
	if err != nil {
		return "", err
	}
	if len(fills) == 0 {
		return "", nil
	}

	if err := writeTrades(tradesCSVPath(s.dir, t), fills); err != nil {
		return "", err
	}

	aggs := aggregate(fills)
	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	outPath := eodCSVPath(s.dir, t)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()
	w := csv.NewWriter(out)
	headers := []string{"symbol", "leg", "buy_qty", "buy_avg", "sell_qty", "sell_avg", "realized_pnl", "gross_buy_value", "gross_sell_value", "exits"}
	if err := w.Write(headers); err != nil {
		return "", err
	}
	totalBuy, totalSell, totalPnL := decimal.Zero, decimal.Zero, decimal.Zero
	for _, k := range keys {
		r := aggs[k]
		var buyAvg, sellAvg float64
		if r.BuyQty > 0 {
			buyAvg = r.BuyValue / float64(r.BuyQty)
		}
		if r.SellQty > 0 {
			sellAvg = r.SellValue / float64(r.SellQty)
		}
		rec := []string{
			r.Symbol, r.Leg,
			strconv.Itoa(r.BuyQty), fmt.Sprintf("%.4f", buyAvg),
			strconv.Itoa(r.SellQty), fmt.Sprintf("%.4f", sellAvg),
			fmt.Sprintf("%.2f", r.RealizedPnL), fmt.Sprintf("%.2f", r.BuyValue), fmt.Sprintf("%.2f", r.SellValue),
			exitSummary(r.Exits),
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
		totalBuy = totalBuy.Add(decimal.NewFromFloat(r.BuyValue))
		totalSell = totalSell.Add(decimal.NewFromFloat(r.SellValue))
		totalPnL = totalPnL.Add(decimal.NewFromFloat(r.RealizedPnL))
	}
	_ = w.Write([]string{"TOTAL", "", "", "", "", "", totalPnL.StringFixed(2), totalBuy.StringFixed(2), totalSell.StringFixed(2), ""})
	w.Flush()
	return outPath, w.Error()
}

// aggregate folds fills per contract. Realized PnL is booked per sell
// against the running average buy price of that contract.
func aggregate(fills []types.Fill) map[string]*aggRow {
	aggs := map[string]*aggRow{}
	for _, f := range fills {
		row := aggs[f.Symbol]
		if row == nil {
			row = &aggRow{Symbol: f.Symbol, Leg: string(f.Leg), Exits: map[string]int{}}
			aggs[f.Symbol] = row
		}
		price := decimal.NewFromFloat(f.Price)
		qty := decimal.NewFromInt(int64(f.Quantity))
		switch f.Action {
		case types.Buy:
			row.BuyQty += f.Quantity
			row.BuyValue = decimal.NewFromFloat(row.BuyValue).Add(price.Mul(qty)).InexactFloat64()
		case types.Sell:
			row.SellQty += f.Quantity
			row.SellValue = decimal.NewFromFloat(row.SellValue).Add(price.Mul(qty)).InexactFloat64()
			if row.BuyQty > 0 {
				avg := decimal.NewFromFloat(row.BuyValue).Div(decimal.NewFromInt(int64(row.BuyQty)))
				row.RealizedPnL = decimal.NewFromFloat(row.RealizedPnL).Add(price.Sub(avg).Mul(qty)).InexactFloat64()
			}
			if f.Reason != "" {
				row.Exits[f.Reason]++
			}
		}
	}
	return aggs
}

func exitSummary(exits map[string]int) string {
	keys := make([]string, 0, len(exits))
	for k := range exits {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, exits[k]))
	}
	return strings.Join(parts, " ")
}

// writeTrades exports every fill of the day in ledger order.
func writeTrades(p string, fills []types.Fill) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	out, err := os.Create(p)
	if err != nil {
		return err
	}
	defer out.Close()
	w := csv.NewWriter(out)
	_ = w.Write([]string{"time", "symbol", "leg", "action", "qty", "price", "stop", "target", "spot", "reason", "mode", "order_id"})
	for _, f := range fills {
		_ = w.Write([]string{
			f.Time.Format("2006-01-02 15:04:05"), f.Symbol, string(f.Leg), string(f.Action),
			strconv.Itoa(f.Quantity), fmt.Sprintf("%.2f", f.Price),
			fmt.Sprintf("%.2f", f.StopPrice), fmt.Sprintf("%.2f", f.TargetPrice), fmt.Sprintf("%.2f", f.UnderlyingPrice),
			f.Reason, string(f.Mode), f.OrderID,
		})
	}
	w.Flush()
	return w.Error()
}

func (s *eodSummarizer) SummarizeToday(ctx context.Context) (string, error) {
	return s.SummarizeDay(ctx, s.now().In(s.loc))
}

// ShouldRunNow reports whether the cutoff has passed and today's summary
// has not been written yet.
func (s *eodSummarizer) ShouldRunNow() (bool, string) {
	now := s.now().In(s.loc)
	outPath := eodCSVPath(s.dir, now)
	if now.After(cutoffOn(now, s.cutoff)) {
		if _, err := os.Stat(outPath); errors.Is(err, os.ErrNotExist) {
			return true, outPath
		}
	}
	return false, outPath
}
