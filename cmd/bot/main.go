package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pivot-options-bot/internal/broker/zerodha"
	"pivot-options-bot/internal/engine"
	"pivot-options-bot/internal/engine/engineobs"
	"pivot-options-bot/internal/logger"
	"pivot-options-bot/internal/metrics"
	"pivot-options-bot/internal/scheduler"
)

func main() {
	if err := initializeSystem(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer logger.Shutdown(context.Background())

	cfg, err := loadConfig(ctx)
	if err != nil {
		os.Exit(1)
	}
	compressOldLogs(ctx)

	if cfg.Metrics.Addr != "" {
		srv := metrics.Serve(cfg.Metrics.Addr)
		defer srv.Close()
		logger.Info(ctx, "Metrics endpoint listening", "addr", cfg.Metrics.Addr)
	}

	apiKey, accessToken, err := kiteCredentials()
	if err != nil {
		logger.ErrorWithErr(ctx, "Missing broker credentials", err)
		os.Exit(1)
	}

	loc := cfg.Location()
	queue := engine.NewQueue()
	kite := zerodha.New(apiKey, accessToken, cfg, queue)
	gw := initializeGateway(ctx, cfg, kite)

	p, err := initializePersistence(ctx, cfg)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to open persistence", err)
		os.Exit(1)
	}
	if p.close != nil {
		defer p.close()
	}

	if err := kite.Chain.Refresh(ctx); err != nil {
		logger.Warn(ctx, "Initial option chain refresh failed, retrying on schedule", "error", err)
	}

	now := time.Now().In(loc)
	eng := initializeEngine(cfg, queue, gw, kite.Chain, kite.Gateway, p)
	eng.Start(ctx, now, nil)
	stepper := engineobs.Wrap(eng)

	if err := kite.Ticker.Start(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Failed to start ticker", err)
		os.Exit(1)
	}
	defer kite.Ticker.Stop(context.Background())
	subscribe := func(ctx context.Context) error { return kite.Ticker.Subscribe(ctx, kite.Tokens()) }
	if err := subscribe(ctx); err != nil {
		logger.Warn(ctx, "Initial ticker subscription failed", "error", err)
	}

	summarizer := initializeEOD(cfg)
	sched := scheduler.New(ctx, loc, kite.Chain, summarizer, subscribe)
	if err := sched.RegisterAll(cfg.Schedule.ChainRefresh, cfg.Schedule.EODSummary); err != nil {
		logger.ErrorWithErr(ctx, "Failed to register scheduled jobs", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	_, end := cfg.SessionBounds(now)
	shutdownAt := end.Add(time.Duration(cfg.Session.ShutdownGraceSeconds) * time.Second)

	tick := time.NewTicker(time.Duration(cfg.PollSeconds) * time.Second)
	defer tick.Stop()

	logger.Info(ctx, "Bot started", "mode", cfg.Mode, "shutdown_at", shutdownAt)
	for {
		select {
		case t := <-tick.C:
			t = t.In(loc)
			if _, err := stepper.Step(ctx, t); err != nil {
				logger.ErrorWithErr(ctx, "Step failed", err)
			}
			if !t.Before(shutdownAt) {
				logger.Info(ctx, "Session over, shutting down")
				finish(ctx, summarizer)
				return
			}
		case <-sigc:
			logger.Info(ctx, "Shutting down...")
			finish(ctx, summarizer)
			return
		case <-ctx.Done():
			return
		}
	}
}

type todaySummarizer interface {
	SummarizeToday(ctx context.Context) (string, error)
}

// finish writes the day's summary before exit.
func finish(ctx context.Context, s todaySummarizer) {
	if _, err := s.SummarizeToday(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Final EOD summary failed", err)
	}
}
