package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Candle is a closed OHLC bar. Time is the start of its window.
type Candle struct {
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
	Time  time.Time `json:"time"`
}

// Range returns high minus low.
func (c Candle) Range() float64 { return c.High - c.Low }

// Side identifies a leg of the paired strategy.
type Side string

const (
	Call Side = "CALL"
	Put  Side = "PUT"
)

// OptionType returns the exchange option type for the side (CE/PE).
func (s Side) OptionType() OptionType {
	if s == Put {
		return PE
	}
	return CE
}

type OptionType string

const (
	CE OptionType = "CE"
	PE OptionType = "PE"
)

// Mode selects paper or live execution.
type Mode string

const (
	Paper Mode = "PAPER"
	Live  Mode = "LIVE"
)

// ParseMode accepts PAPER, LIVE and the legacy DRY_RUN alias.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PAPER", "DRY_RUN":
		return Paper, nil
	case "LIVE":
		return Live, nil
	}
	return "", fmt.Errorf("invalid mode %q: must be PAPER or LIVE", s)
}

// LegState is the position state of a single leg.
type LegState string

const (
	Flat         LegState = "FLAT"
	PendingEntry LegState = "PENDING_ENTRY"
	Open         LegState = "OPEN"
)

var ErrUnknownLegState = errors.New("unknown leg state")

// ParseLegState rejects anything outside FLAT, PENDING_ENTRY and OPEN.
func ParseLegState(s string) (LegState, error) {
	switch LegState(s) {
	case Flat, PendingEntry, Open:
		return LegState(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLegState, s)
}

func (s *LegState) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v, err := ParseLegState(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

type OrderType string

const (
	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"
)

// ExitReason tags why a leg was (partially) closed.
type ExitReason string

const (
	ExitStopLoss ExitReason = "STOPLOSS"
	ExitPartial  ExitReason = "PARTIAL"
	ExitTarget   ExitReason = "TARGET"
	ExitEOD      ExitReason = "EOD"
)

// Tick is a single price observation from the market-data feed.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Token     uint32    `json:"token,omitempty"`
	LastPrice float64   `json:"ltp"`
	Time      time.Time `json:"time"`
}

// OrderUpdate is an order-status observation, pushed by the order feed or
// returned from a status query.
type OrderUpdate struct {
	OrderID     string      `json:"order_id"`
	Status      OrderStatus `json:"status"`
	FilledQty   int         `json:"filled_qty"`
	TradedPrice float64     `json:"traded_price"`
	Symbol      string      `json:"symbol"`
}

// OrderRequest is what the engine asks a gateway to place.
type OrderRequest struct {
	Symbol     string
	Qty        int
	Side       Action
	Type       OrderType
	LimitPrice float64
	Tag        string
}

// OrderAck is the gateway's answer to a placement.
type OrderAck struct {
	Accepted bool   `json:"accepted"`
	OrderID  string `json:"order_id"`
	Message  string `json:"message,omitempty"`
}

// OptionContract is one row of an option-chain snapshot.
type OptionContract struct {
	Symbol  string     `json:"symbol"`
	Token   uint32     `json:"token"`
	Strike  float64    `json:"strike"`
	Type    OptionType `json:"type"`
	LTP     float64    `json:"ltp"`
	LotSize int        `json:"lot_size"`
}

// ChainSnapshot is the latest option chain for the configured underlying.
type ChainSnapshot struct {
	Underlying string           `json:"underlying"`
	Spot       float64          `json:"spot"`
	Expiry     time.Time        `json:"expiry"`
	Contracts  []OptionContract `json:"contracts"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Fill is an immutable ledger record, one per leg-affecting transition.
type Fill struct {
	ID              string    `json:"id"`
	Time            time.Time `json:"time"`
	Symbol          string    `json:"symbol"`
	Price           float64   `json:"price"`
	Action          Action    `json:"action"`
	StopPrice       float64   `json:"stop_price"`
	TargetPrice     float64   `json:"target_price"`
	UnderlyingPrice float64   `json:"spot_price"`
	Quantity        int       `json:"quantity"`
	Leg             Side      `json:"leg"`
	Reason          string    `json:"reason"`
	Mode            Mode      `json:"mode"`
	OrderID         string    `json:"order_id"`
}

// Signal is a directional entry signal produced from a closed candle.
type Signal struct {
	Side   Side   `json:"side"`
	Reason string `json:"reason"`
}

// StepResult summarises one control-loop tick.
type StepResult struct {
	Time     time.Time `json:"time"`
	Spot     float64   `json:"spot"`
	Candles  int       `json:"candles"`
	ATR      float64   `json:"atr,omitempty"`
	Signal   *Signal   `json:"signal,omitempty"`
	Fills    []Fill    `json:"fills,omitempty"`
	Call     LegState  `json:"call"`
	Put      LegState  `json:"put"`
	PnL      float64   `json:"pnl"`
	Trades   int       `json:"trades"`
	EOD      bool      `json:"eod,omitempty"`
	Messages []string  `json:"messages,omitempty"`
}

// SignalRecord is the journal entry written for every detected signal.
type SignalRecord struct {
	Time       time.Time          `json:"time"`
	CandleTime time.Time          `json:"candle_time"`
	Side       Side               `json:"side"`
	Reason     string             `json:"reason"`
	Close      float64            `json:"close"`
	ATR        float64            `json:"atr"`
	ATRSource  string             `json:"atr_source"`
	Levels     map[string]float64 `json:"levels"`
	Outcome    string             `json:"outcome,omitempty"`
}
