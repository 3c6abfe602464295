package types

import "time"

// PendingExit marks a full exit that has not been confirmed. With no
// OrderID the order could not be placed and is re-sent every step; with an
// OrderID a live order is working and the leg waits for its final status.
type PendingExit struct {
	Reason   ExitReason `json:"reason"`
	Qty      int        `json:"qty"`
	Attempts int        `json:"attempts"`
	Since    time.Time  `json:"since"`
	OrderID  string     `json:"order_id,omitempty"`
	Price    float64    `json:"price,omitempty"` // trigger price, used when the broker reports none
}

// Working reports whether an exit order is live at the broker.
func (p *PendingExit) Working() bool { return p != nil && p.OrderID != "" }

// Leg is one side of the paired strategy. Quantity is positive exactly when
// State is not FLAT.
type Leg struct {
	Side            Side         `json:"side"`
	Symbol          string       `json:"symbol,omitempty"`
	Strike          float64      `json:"strike,omitempty"`
	State           LegState     `json:"state"`
	PartialBooked   bool         `json:"partial_booked"`
	Quantity        int          `json:"quantity"`
	EntryPrice      float64      `json:"entry_price"`
	StopPrice       float64      `json:"stop_price"`
	PartialTarget   float64      `json:"partial_target"`
	FullTarget      float64      `json:"full_target"`
	TrailStartPnL   float64      `json:"trail_start_pnl"`
	TrailStepPoints float64      `json:"trail_step_points"`
	RealizedPnL     float64      `json:"realized_pnl"`
	OrderID         string       `json:"order_id,omitempty"`
	OrderType       OrderType    `json:"order_type,omitempty"`
	LimitPrice      float64      `json:"limit_price,omitempty"`
	EntryATR        float64      `json:"entry_atr,omitempty"`
	Reason          string       `json:"reason,omitempty"`
	EntryTime       time.Time    `json:"entry_time,omitempty"`
	LastPrice       float64      `json:"last_price,omitempty"`
	LastChase       time.Time    `json:"last_chase,omitempty"`
	PendingExit     *PendingExit `json:"pending_exit,omitempty"`
}

// Active reports whether the leg holds or is acquiring a position.
func (l *Leg) Active() bool { return l.State == Open || l.State == PendingEntry }

// Flatten returns the leg to FLAT, keeping only its side and the realized
// PnL accumulated today.
func (l *Leg) Flatten() {
	*l = Leg{Side: l.Side, State: Flat, RealizedPnL: l.RealizedPnL}
}

// Session is the full trading state for one day and mode. It has exactly one
// owner, the engine driving the control loop.
type Session struct {
	Date             string                 `json:"date"`
	Mode             Mode                   `json:"mode"`
	Call             Leg                    `json:"call"`
	Put              Leg                    `json:"put"`
	TotalRealizedPnL float64                `json:"total_realized_pnl"`
	TradeCount       int                    `json:"trade_count"`
	MaxTradesPerDay  int                    `json:"max_trades_per_day"`
	LastExitTime     time.Time              `json:"last_exit_time,omitempty"`
	LastSignalCandle time.Time              `json:"last_signal_candle,omitempty"`
	Orders           map[string]OrderUpdate `json:"orders,omitempty"`
	Candles          []Candle               `json:"candles,omitempty"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// NewSession returns a fresh session with both legs FLAT.
func NewSession(date string, mode Mode, maxTrades int) *Session {
	return &Session{
		Date:            date,
		Mode:            mode,
		Call:            Leg{Side: Call, State: Flat},
		Put:             Leg{Side: Put, State: Flat},
		MaxTradesPerDay: maxTrades,
		Orders:          map[string]OrderUpdate{},
	}
}

// Leg returns the leg for side.
func (s *Session) Leg(side Side) *Leg {
	if side == Put {
		return &s.Put
	}
	return &s.Call
}

// Legs returns both legs, CALL first.
func (s *Session) Legs() []*Leg { return []*Leg{&s.Call, &s.Put} }

// SessionDate formats t as the session key in loc.
func SessionDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
