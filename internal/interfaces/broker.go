package interfaces

import (
	"context"
	"time"

	"pivot-options-bot/internal/types"
)

// Gateway places and tracks orders. Every call reports failure through its
// error; implementations must never panic across this boundary.
type Gateway interface {
	PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderAck, error)
	ModifyOrder(ctx context.Context, orderID string, limitPrice float64, qty int) error
	QueryOrderStatus(ctx context.Context, orderID string) (types.OrderUpdate, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// ChainSource serves the latest option-chain snapshot.
type ChainSource interface {
	Snapshot() (types.ChainSnapshot, bool)
	Refresh(ctx context.Context) error
}

// HistorySource returns daily bars for level and ATR bootstrap.
type HistorySource interface {
	DailyBars(ctx context.Context, from, to time.Time) ([]types.Candle, error)
}
