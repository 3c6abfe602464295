// Package metrics exposes Prometheus counters and gauges for the control
// loop, served at /metrics when metrics.addr is configured.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_ticks_total", Help: "Feed ticks consumed by the control loop"},
		[]string{"kind"}, // underlying|option
	)
	CandlesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "bot_candles_total", Help: "Closed intraday candles"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_signals_total", Help: "Detected entry signals"},
		[]string{"side", "reason"},
	)
	SignalFilters = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_signal_filters_total", Help: "Candle evaluations suppressed by a guard"},
		[]string{"filter"},
	)
	EntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_entries_total", Help: "Confirmed entries"},
		[]string{"side", "mode"},
	)
	EntriesBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_entries_blocked_total", Help: "Signals not acted on"},
		[]string{"reason"},
	)
	ExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_exits_total", Help: "Exits split by reason and leg"},
		[]string{"side", "reason"},
	)
	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_orders_total", Help: "Orders accepted by the gateway"},
		[]string{"mode", "side"},
	)
	OrderErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_order_errors_total", Help: "Failed gateway operations"},
		[]string{"op"},
	)
	PersistErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_persist_errors_total", Help: "Failed snapshot or ledger writes"},
		[]string{"kind"},
	)
	RealizedPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "bot_realized_pnl", Help: "Realized PnL for the session"},
	)
	TradesToday = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "bot_trades_today", Help: "Entries counted against the daily cap"},
	)
	LegState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "bot_leg_state", Help: "Leg state: 0 flat, 1 pending entry, 2 open"},
		[]string{"leg"},
	)
	ATR = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "bot_atr", Help: "Last resolved ATR"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal, CandlesTotal, SignalsTotal, SignalFilters,
		EntriesTotal, EntriesBlocked, ExitsTotal,
		OrdersPlaced, OrderErrors, PersistErrors,
		RealizedPnL, TradesToday, LegState, ATR,
	)
}

// Serve starts the /metrics endpoint in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
