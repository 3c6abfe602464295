// Package paper is the simulated order gateway used in PAPER mode. Every
// order is accepted and filled immediately at its reference price.
package paper

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"pivot-options-bot/internal/interfaces"
	"pivot-options-bot/internal/types"
)

type Gateway struct {
	mu     sync.Mutex
	orders map[string]types.OrderUpdate
}

var _ interfaces.Gateway = (*Gateway)(nil)

func New() *Gateway {
	return &Gateway{orders: make(map[string]types.OrderUpdate)}
}

func (g *Gateway) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return types.OrderAck{}, err
	}
	if req.Qty <= 0 {
		return types.OrderAck{Accepted: false, Message: "quantity must be positive"}, nil
	}
	id := "PAPER-" + uuid.NewString()
	g.mu.Lock()
	g.orders[id] = types.OrderUpdate{
		OrderID:     id,
		Status:      types.StatusTraded,
		FilledQty:   req.Qty,
		TradedPrice: req.LimitPrice,
		Symbol:      req.Symbol,
	}
	g.mu.Unlock()
	return types.OrderAck{Accepted: true, OrderID: id}, nil
}

func (g *Gateway) ModifyOrder(ctx context.Context, orderID string, limit float64, qty int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	u, ok := g.orders[orderID]
	if !ok {
		return fmt.Errorf("paper order %s not found", orderID)
	}
	u.TradedPrice = limit
	u.FilledQty = qty
	g.orders[orderID] = u
	return nil
}

func (g *Gateway) QueryOrderStatus(ctx context.Context, orderID string) (types.OrderUpdate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	u, ok := g.orders[orderID]
	if !ok {
		return types.OrderUpdate{}, fmt.Errorf("paper order %s not found", orderID)
	}
	return u, nil
}

// CancelOrder is a no-op for filled orders and marks unknown ids cancelled.
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if u, ok := g.orders[orderID]; ok && u.Status == types.StatusTraded {
		return nil
	}
	g.orders[orderID] = types.OrderUpdate{OrderID: orderID, Status: types.StatusCancelled}
	return nil
}

// Orders returns a snapshot of every order placed so far.
func (g *Gateway) Orders() []types.OrderUpdate {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]types.OrderUpdate, 0, len(g.orders))
	for _, u := range g.orders {
		out = append(out, u)
	}
	return out
}
