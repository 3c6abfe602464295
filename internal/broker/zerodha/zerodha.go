package zerodha

import (
	"context"
	"errors"
	"fmt"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"pivot-options-bot/internal/interfaces"
	"pivot-options-bot/internal/types"
)

// ErrNoHistory is returned when Kite answers a history request with no bars.
var ErrNoHistory = errors.New("no historical data")

type Params struct {
	APIKey          string
	AccessToken     string
	OptionsExchange string
	Product         string
	UnderlyingToken uint32
}

// Zerodha is the live order gateway and daily history source backed by
// Kite Connect.
type Zerodha struct {
	p  Params
	kc kiteAPI
}

var (
	_ interfaces.Gateway       = (*Zerodha)(nil)
	_ interfaces.HistorySource = (*Zerodha)(nil)
)

func newZerodha(p Params, kc kiteAPI) *Zerodha {
	if p.OptionsExchange == "" {
		p.OptionsExchange = kiteconnect.ExchangeNFO
	}
	if p.Product == "" {
		p.Product = kiteconnect.ProductMIS
	}
	return &Zerodha{p: p, kc: kc}
}

func (z *Zerodha) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return types.OrderAck{}, err
	}
	params := kiteconnect.OrderParams{
		Exchange:        z.p.OptionsExchange,
		Tradingsymbol:   req.Symbol,
		Validity:        kiteconnect.ValidityDay,
		Product:         z.p.Product,
		OrderType:       kiteconnect.OrderTypeMarket,
		TransactionType: kiteconnect.TransactionTypeBuy,
		Quantity:        req.Qty,
		Tag:             req.Tag,
	}
	if req.Side == types.Sell {
		params.TransactionType = kiteconnect.TransactionTypeSell
	}
	if req.Type == types.Limit {
		params.OrderType = kiteconnect.OrderTypeLimit
		params.Price = req.LimitPrice
	}

	// Order and input exceptions are refusals; anything else is a transport failure.
	resp, err := z.kc.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		var kerr kiteconnect.Error
		if errors.As(err, &kerr) && (kerr.ErrorType == kiteconnect.OrderError || kerr.ErrorType == kiteconnect.InputError) {
			return types.OrderAck{Accepted: false, Message: kerr.Message}, nil
		}
		return types.OrderAck{}, fmt.Errorf("place order %s: %w", req.Symbol, err)
	}
	return types.OrderAck{Accepted: true, OrderID: resp.OrderID}, nil
}

func (z *Zerodha) ModifyOrder(ctx context.Context, orderID string, limit float64, qty int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := z.kc.ModifyOrder(kiteconnect.VarietyRegular, orderID, kiteconnect.OrderParams{
		OrderType: kiteconnect.OrderTypeLimit,
		Price:     limit,
		Quantity:  qty,
	})
	if err != nil {
		return fmt.Errorf("modify order %s: %w", orderID, err)
	}
	return nil
}

// QueryOrderStatus returns the latest entry of the order's history.
func (z *Zerodha) QueryOrderStatus(ctx context.Context, orderID string) (types.OrderUpdate, error) {
	if err := ctx.Err(); err != nil {
		return types.OrderUpdate{}, err
	}
	hist, err := z.kc.GetOrderHistory(orderID)
	if err != nil {
		return types.OrderUpdate{}, fmt.Errorf("order history %s: %w", orderID, err)
	}
	if len(hist) == 0 {
		return types.OrderUpdate{}, fmt.Errorf("order history %s: empty", orderID)
	}
	return toOrderUpdate(hist[len(hist)-1]), nil
}

func (z *Zerodha) CancelOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := z.kc.CancelOrder(kiteconnect.VarietyRegular, orderID, nil); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}

// DailyBars fetches daily candles of the underlying between from and to.
func (z *Zerodha) DailyBars(ctx context.Context, from, to time.Time) ([]types.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := z.kc.GetHistoricalData(int(z.p.UnderlyingToken), "day", from, to, false, false)
	if err != nil {
		return nil, fmt.Errorf("daily history: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoHistory
	}
	bars := make([]types.Candle, 0, len(data))
	for _, d := range data {
		bars = append(bars, types.Candle{
			Open:  d.Open,
			High:  d.High,
			Low:   d.Low,
			Close: d.Close,
			Time:  d.Date.Time,
		})
	}
	return bars, nil
}

func toOrderUpdate(o kiteconnect.Order) types.OrderUpdate {
	return types.OrderUpdate{
		OrderID:     o.OrderID,
		Status:      types.MapKiteStatus(o.Status),
		FilledQty:   int(o.FilledQuantity),
		TradedPrice: o.AveragePrice,
		Symbol:      o.TradingSymbol,
	}
}
