package zerodha

import (
	"context"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"github.com/zerodha/gokiteconnect/v4/models"

	"pivot-options-bot/internal/logger"
	"pivot-options-bot/internal/types"
)

func (tm *tickerManager) setupEventHandlers() {
	tm.ticker.OnConnect(tm.onConnect)
	tm.ticker.OnError(tm.onError)
	tm.ticker.OnClose(tm.onClose)
	tm.ticker.OnReconnect(tm.onReconnect)
	tm.ticker.OnNoReconnect(tm.onNoReconnect)
	tm.ticker.OnTick(tm.onTick)
	tm.ticker.OnOrderUpdate(tm.onOrderUpdate)
}

func (tm *tickerManager) onConnect() {
	logger.Info(context.Background(), "WebSocket connected successfully")
}

func (tm *tickerManager) onError(err error) {
	logger.ErrorWithErr(context.Background(), "WebSocket error occurred", err)
}

func (tm *tickerManager) onClose(code int, reason string) {
	logger.Warn(context.Background(), "WebSocket connection closed",
		"code", code,
		"reason", reason,
	)
}

func (tm *tickerManager) onReconnect(attempt int, delay time.Duration) {
	logger.Info(context.Background(), "WebSocket reconnecting",
		"attempt", attempt,
		"delay", delay,
	)
}

func (tm *tickerManager) onNoReconnect(attempt int) {
	logger.Warn(context.Background(), "WebSocket reconnection failed - giving up",
		"attempts", attempt,
	)
}

func (tm *tickerManager) onTick(tick models.Tick) {
	symbol := tm.underlyingSym
	if tick.InstrumentToken != tm.underlyingToken {
		symbol = tm.mapper.getSymbol(tick.InstrumentToken)
		if symbol == "" {
			return
		}
	}
	tm.sink.OnTick(toTick(tick, symbol))
}

func (tm *tickerManager) onOrderUpdate(order kiteconnect.Order) {
	logger.Debug(context.Background(), "Order update received",
		"order_id", order.OrderID,
		"status", order.Status,
		"symbol", order.TradingSymbol,
	)
	tm.sink.OnOrderUpdate(toOrderUpdate(order))
}

// toTick stamps LTP-mode ticks, which carry no exchange time, with the
// local receive time.
func toTick(tick models.Tick, symbol string) types.Tick {
	ts := tick.Timestamp.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return types.Tick{
		Symbol:    symbol,
		Token:     tick.InstrumentToken,
		LastPrice: tick.LastPrice,
		Time:      ts,
	}
}
