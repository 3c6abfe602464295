package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pivot-options-bot/internal/persist"
	"pivot-options-bot/internal/types"
)

type fakeGateway struct {
	mu         sync.Mutex
	placed     []types.OrderRequest
	modified   map[string]float64
	cancelled  []string
	statuses   map[string]types.OrderUpdate
	failPlace  int
	reject     bool
	failCancel error
	exitStatus types.OrderStatus // status given to SELL orders, TRADED when empty
	seq        int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{modified: map[string]float64{}, statuses: map[string]types.OrderUpdate{}}
}

func (g *fakeGateway) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderAck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failPlace > 0 {
		g.failPlace--
		return types.OrderAck{}, errors.New("gateway unavailable")
	}
	if g.reject {
		return types.OrderAck{Accepted: false, Message: "margin"}, nil
	}
	g.seq++
	id := fmt.Sprintf("ORD%d", g.seq)
	g.placed = append(g.placed, req)
	u := types.OrderUpdate{OrderID: id, Status: types.StatusPending, Symbol: req.Symbol}
	if req.Side == types.Sell {
		// market exits fill at the trigger price unless told otherwise
		u.Status = types.StatusTraded
		u.FilledQty = req.Qty
		u.TradedPrice = req.LimitPrice
		if g.exitStatus != "" {
			u.Status = g.exitStatus
			u.FilledQty = 0
			u.TradedPrice = 0
		}
	}
	if _, ok := g.statuses[id]; !ok {
		g.statuses[id] = u
	}
	return types.OrderAck{Accepted: true, OrderID: id}, nil
}

func (g *fakeGateway) ModifyOrder(ctx context.Context, orderID string, limit float64, qty int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.modified[orderID] = limit
	return nil
}

func (g *fakeGateway) QueryOrderStatus(ctx context.Context, orderID string) (types.OrderUpdate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	u, ok := g.statuses[orderID]
	if !ok {
		return types.OrderUpdate{}, errors.New("unknown order")
	}
	return u, nil
}

func (g *fakeGateway) CancelOrder(ctx context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failCancel != nil {
		return g.failCancel
	}
	g.cancelled = append(g.cancelled, orderID)
	if u, ok := g.statuses[orderID]; ok && !u.Status.Terminal() {
		u.Status = types.StatusCancelled
		g.statuses[orderID] = u
	}
	return nil
}

func (g *fakeGateway) sells() []types.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []types.OrderRequest
	for _, r := range g.placed {
		if r.Side == types.Sell {
			out = append(out, r)
		}
	}
	return out
}

func (g *fakeGateway) setStatus(u types.OrderUpdate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[u.OrderID] = u
}

type fakeChain struct {
	snap types.ChainSnapshot
	ok   bool
}

func (c *fakeChain) Snapshot() (types.ChainSnapshot, bool) { return c.snap, c.ok }
func (c *fakeChain) Refresh(ctx context.Context) error     { return nil }

func niftyChain(spot float64) *fakeChain {
	var contracts []types.OptionContract
	for strike := 24800.0; strike <= 25300; strike += 100 {
		contracts = append(contracts,
			types.OptionContract{Symbol: fmt.Sprintf("NIFTY%.0fCE", strike), Strike: strike, Type: types.CE, LTP: 150},
			types.OptionContract{Symbol: fmt.Sprintf("NIFTY%.0fPE", strike), Strike: strike, Type: types.PE, LTP: 140},
		)
	}
	return &fakeChain{ok: true, snap: types.ChainSnapshot{Underlying: "NIFTY", Spot: spot, Contracts: contracts}}
}

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]types.Session
	failSave bool
	saves    int
}

func newFakeStore() *fakeStore { return &fakeStore{sessions: map[string]types.Session{}} }

func (s *fakeStore) Load(ctx context.Context, date string, mode types.Mode) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[date+"/"+string(mode)]
	if !ok {
		return nil, persist.ErrNotFound
	}
	return &sess, nil
}

func (s *fakeStore) Save(ctx context.Context, sess *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return errors.New("disk full")
	}
	s.saves++
	s.sessions[sess.Date+"/"+string(sess.Mode)] = *sess
	return nil
}

type fakeLedger struct {
	fills []types.Fill
	fail  int
}

func (l *fakeLedger) Append(ctx context.Context, fills []types.Fill) error {
	if l.fail > 0 {
		l.fail--
		return errors.New("ledger unavailable")
	}
	l.fills = append(l.fills, fills...)
	return nil
}

type fakeJournal struct {
	records []types.SignalRecord
}

func (j *fakeJournal) RecordSignal(ctx context.Context, rec types.SignalRecord) error {
	j.records = append(j.records, rec)
	return nil
}

// at returns a UTC time on the test trading day.
func at(hour, min, sec int) time.Time {
	return time.Date(2026, 10, 14, hour, min, sec, 0, time.UTC)
}

type fakeHistory struct {
	bars  []types.Candle
	err   error
	calls int
}

func (h *fakeHistory) DailyBars(ctx context.Context, from, to time.Time) ([]types.Candle, error) {
	h.calls++
	if h.err != nil {
		return nil, h.err
	}
	var out []types.Candle
	for _, b := range h.bars {
		if !b.Time.Before(from) && !b.Time.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}
