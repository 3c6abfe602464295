package brokerobs

import (
	"context"
	"fmt"

	"pivot-options-bot/internal/interfaces"
	"pivot-options-bot/internal/logger"
	"pivot-options-bot/internal/trace"
	"pivot-options-bot/internal/types"
)

// observableGateway wraps a Gateway with logging and tracing. A panic in
// the wrapped gateway is returned as an error.
type observableGateway struct {
	gw interfaces.Gateway
}

var _ interfaces.Gateway = (*observableGateway)(nil)

func Wrap(gw interfaces.Gateway) interfaces.Gateway {
	return &observableGateway{gw: gw}
}

func recovered(op string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("gateway %s panicked: %v", op, r)
	}
}

func (og *observableGateway) PlaceOrder(ctx context.Context, req types.OrderRequest) (ack types.OrderAck, err error) {
	ctx, span := trace.StartSpan(ctx, "gateway.PlaceOrder")
	defer span.End()
	defer recovered("PlaceOrder", &err)

	logger.InfoSkip(ctx, 1, "Placing order",
		"symbol", req.Symbol,
		"side", req.Side,
		"type", req.Type,
		"qty", req.Qty,
		"limit", req.LimitPrice,
		"tag", req.Tag,
	)

	ack, err = og.gw.PlaceOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to place order", err,
			"symbol", req.Symbol,
			"side", req.Side,
			"qty", req.Qty,
		)
		return types.OrderAck{}, err
	}
	if !ack.Accepted {
		logger.Warn(ctx, "Order refused", "symbol", req.Symbol, "side", req.Side, "message", ack.Message)
		return ack, nil
	}

	logger.InfoSkip(ctx, 1, "Order placed successfully",
		"symbol", req.Symbol,
		"order_id", ack.OrderID,
	)
	return ack, nil
}

func (og *observableGateway) ModifyOrder(ctx context.Context, orderID string, limit float64, qty int) (err error) {
	ctx, span := trace.StartSpan(ctx, "gateway.ModifyOrder")
	defer span.End()
	defer recovered("ModifyOrder", &err)

	if err = og.gw.ModifyOrder(ctx, orderID, limit, qty); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to modify order", err, "order_id", orderID, "limit", limit)
		return err
	}
	logger.DebugSkip(ctx, 1, "Order modified", "order_id", orderID, "limit", limit, "qty", qty)
	return nil
}

func (og *observableGateway) QueryOrderStatus(ctx context.Context, orderID string) (u types.OrderUpdate, err error) {
	ctx, span := trace.StartSpan(ctx, "gateway.QueryOrderStatus")
	defer span.End()
	defer recovered("QueryOrderStatus", &err)

	u, err = og.gw.QueryOrderStatus(ctx, orderID)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to query order", err, "order_id", orderID)
		return types.OrderUpdate{}, err
	}
	logger.DebugSkip(ctx, 1, "Order status fetched", "order_id", orderID, "status", u.Status)
	return u, nil
}

func (og *observableGateway) CancelOrder(ctx context.Context, orderID string) (err error) {
	ctx, span := trace.StartSpan(ctx, "gateway.CancelOrder")
	defer span.End()
	defer recovered("CancelOrder", &err)

	logger.InfoSkip(ctx, 1, "Cancelling order", "order_id", orderID)
	if err = og.gw.CancelOrder(ctx, orderID); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to cancel order", err, "order_id", orderID)
		return err
	}
	return nil
}
