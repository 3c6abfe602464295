package zerodha

import (
	"context"
	"fmt"
	"sync"

	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"pivot-options-bot/internal/interfaces"
	"pivot-options-bot/internal/logger"
)

// tickerManager streams underlying and option ticks plus order updates from
// the Kite websocket into an EventSink. Callbacks run on the ticker's
// goroutine and only push into the sink.
type tickerManager struct {
	apiKey      string
	accessToken string

	underlyingToken uint32
	underlyingSym   string

	sink   interfaces.EventSink
	mapper *instrumentMapper
	dial   func(apiKey, accessToken string) kiteTicker

	mu         sync.Mutex
	ticker     kiteTicker
	subscribed map[uint32]bool
}

var _ interfaces.TickerManager = (*tickerManager)(nil)

func (tm *tickerManager) Start(ctx context.Context) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.ticker != nil {
		return nil
	}

	tm.ticker = tm.dial(tm.apiKey, tm.accessToken)
	tm.setupEventHandlers()

	go tm.ticker.Serve()

	logger.Info(ctx, "Ticker started", "underlying", tm.underlyingSym, "token", tm.underlyingToken)
	return nil
}

func (tm *tickerManager) Stop(ctx context.Context) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.ticker != nil {
		tm.ticker.Stop()
		tm.ticker = nil
	}
}

// Subscribe adds tokens not yet streamed. The underlying streams in full
// mode for exchange timestamps; options only need LTP.
func (tm *tickerManager) Subscribe(ctx context.Context, tokens []uint32) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.ticker == nil {
		return fmt.Errorf("ticker not started")
	}

	var full, ltp []uint32
	for _, tok := range tokens {
		if tm.subscribed[tok] {
			continue
		}
		if tok == tm.underlyingToken {
			full = append(full, tok)
		} else {
			ltp = append(ltp, tok)
		}
	}
	all := append(append([]uint32(nil), full...), ltp...)
	if len(all) == 0 {
		return nil
	}

	if err := tm.ticker.Subscribe(all); err != nil {
		return fmt.Errorf("failed to subscribe to tokens: %w", err)
	}
	if len(full) > 0 {
		if err := tm.ticker.SetMode(kiteticker.ModeFull, full); err != nil {
			return fmt.Errorf("failed to set ticker mode: %w", err)
		}
	}
	if len(ltp) > 0 {
		if err := tm.ticker.SetMode(kiteticker.ModeLTP, ltp); err != nil {
			return fmt.Errorf("failed to set ticker mode: %w", err)
		}
	}
	for _, tok := range all {
		tm.subscribed[tok] = true
	}
	logger.Debug(ctx, "Ticker subscribed", "full", len(full), "ltp", len(ltp))
	return nil
}
