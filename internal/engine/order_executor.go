package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"pivot-options-bot/internal/interfaces"
	"pivot-options-bot/internal/metrics"
	"pivot-options-bot/internal/store"
	"pivot-options-bot/internal/types"
)

// ErrOrderRejected is returned when the gateway answers but refuses an order.
var ErrOrderRejected = errors.New("order rejected")

// orderExecutor turns entry and exit intents into gateway calls.
type orderExecutor struct {
	gw          interfaces.Gateway
	mode        types.Mode
	entryType   types.OrderType
	entryOffset float64
	minPrice    float64
	tickSize    float64
	chaseStep   float64
}

func newOrderExecutor(gw interfaces.Gateway, mode types.Mode, cfg store.OrderConfig) *orderExecutor {
	return &orderExecutor{
		gw:          gw,
		mode:        mode,
		entryType:   types.OrderType(cfg.EntryType),
		entryOffset: cfg.EntryOffset,
		minPrice:    cfg.MinPrice,
		tickSize:    cfg.TickSize,
		chaseStep:   cfg.ChaseStep,
	}
}

// entryRequest builds the BUY order for symbol. Paper entries are market
// orders filled at ltp; live LIMIT entries bid entryOffset below ltp.
func (oe *orderExecutor) entryRequest(symbol string, qty int, ltp float64) types.OrderRequest {
	req := types.OrderRequest{Symbol: symbol, Qty: qty, Side: types.Buy, Type: types.Market, Tag: "ENTRY"}
	if oe.mode == types.Paper {
		req.LimitPrice = ltp
		return req
	}
	if oe.entryType == types.Limit {
		req.Type = types.Limit
		req.LimitPrice = roundToTick(math.Max(ltp-oe.entryOffset, oe.minPrice), oe.tickSize)
	}
	return req
}

// place submits req and folds a refused acknowledgement into an error.
func (oe *orderExecutor) place(ctx context.Context, req types.OrderRequest) (string, error) {
	ack, err := oe.gw.PlaceOrder(ctx, req)
	if err != nil {
		metrics.OrderErrors.WithLabelValues("place").Inc()
		return "", err
	}
	if !ack.Accepted {
		metrics.OrderErrors.WithLabelValues("place").Inc()
		return "", fmt.Errorf("%w: %s %s: %s", ErrOrderRejected, req.Side, req.Symbol, ack.Message)
	}
	metrics.OrdersPlaced.WithLabelValues(string(oe.mode), string(req.Side)).Inc()
	return ack.OrderID, nil
}

// exit sells qty of symbol at market. price is the observed trigger price,
// used as the paper fill.
func (oe *orderExecutor) exit(ctx context.Context, symbol string, qty int, price float64, reason types.ExitReason) (string, error) {
	return oe.place(ctx, types.OrderRequest{
		Symbol:     symbol,
		Qty:        qty,
		Side:       types.Sell,
		Type:       types.Market,
		LimitPrice: price,
		Tag:        string(reason),
	})
}

func (oe *orderExecutor) query(ctx context.Context, orderID string) (types.OrderUpdate, error) {
	u, err := oe.gw.QueryOrderStatus(ctx, orderID)
	if err != nil {
		metrics.OrderErrors.WithLabelValues("query").Inc()
	}
	return u, err
}

// chasePrice moves limit one step toward ltp.
func (oe *orderExecutor) chasePrice(limit, ltp float64) float64 {
	switch {
	case ltp > limit:
		return roundToTick(limit+oe.chaseStep, 0.01)
	case ltp < limit:
		return roundToTick(math.Max(limit-oe.chaseStep, oe.minPrice), 0.01)
	}
	return limit
}

func (oe *orderExecutor) modify(ctx context.Context, orderID string, limit float64, qty int) error {
	if err := oe.gw.ModifyOrder(ctx, orderID, limit, qty); err != nil {
		metrics.OrderErrors.WithLabelValues("modify").Inc()
		return err
	}
	return nil
}

func (oe *orderExecutor) cancel(ctx context.Context, orderID string) error {
	if err := oe.gw.CancelOrder(ctx, orderID); err != nil {
		metrics.OrderErrors.WithLabelValues("cancel").Inc()
		return err
	}
	return nil
}
