package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"pivot-options-bot/internal/broker/brokerobs"
	"pivot-options-bot/internal/broker/paper"
	"pivot-options-bot/internal/broker/zerodha"
	"pivot-options-bot/internal/engine"
	"pivot-options-bot/internal/eod"
	"pivot-options-bot/internal/eod/eodobs"
	"pivot-options-bot/internal/interfaces"
	"pivot-options-bot/internal/logger"
	"pivot-options-bot/internal/persist"
	"pivot-options-bot/internal/store"
	"pivot-options-bot/internal/tradelog"
	"pivot-options-bot/internal/types"
)

// initializeSystem loads .env and sets up logging and tracing.
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

func loadConfig(ctx context.Context) (*store.Config, error) {
	path := store.ConfigPath()
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	logger.Info(ctx, "Config loaded",
		"path", path,
		"mode", cfg.Mode,
		"underlying", cfg.Underlying.Symbol,
		"session", cfg.Session.Start+"-"+cfg.Session.End,
		"interval_min", cfg.Candle.IntervalMinutes,
		"persistence", cfg.Persistence.Backend,
	)
	return cfg, nil
}

// compressOldLogs gzips trade logs older than TRADER_LOG_RETENTION_DAYS.
func compressOldLogs(ctx context.Context) {
	v := os.Getenv("TRADER_LOG_RETENTION_DAYS")
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn(ctx, "Invalid TRADER_LOG_RETENTION_DAYS", "value", v)
		return
	}
	if err := tradelog.CompressOlder(tradelog.LogDir(), n); err != nil {
		logger.Warn(ctx, "Failed to compress old logs", "error", err)
	}
}

func kiteCredentials() (apiKey, accessToken string, err error) {
	apiKey = os.Getenv("KITE_API_KEY")
	accessToken = os.Getenv("KITE_ACCESS_TOKEN")
	if apiKey == "" || accessToken == "" {
		return "", "", errors.New("KITE_API_KEY and KITE_ACCESS_TOKEN must be set")
	}
	return apiKey, accessToken, nil
}

// initializeGateway picks the paper simulator or the live Kite gateway.
func initializeGateway(ctx context.Context, cfg *store.Config, kite *zerodha.Client) interfaces.Gateway {
	var gw interfaces.Gateway = kite.Gateway
	if cfg.ParsedMode() == types.Paper {
		logger.Warn(ctx, "Running in PAPER mode - orders will be simulated")
		gw = paper.New()
	} else {
		logger.Warn(ctx, "Running in LIVE mode - orders go to the exchange")
	}
	return brokerobs.Wrap(gw)
}

// persistence bundles the session store, the ledgers and a close hook.
type persistence struct {
	store   interfaces.SessionStore
	ledgers []interfaces.Ledger
	journal interfaces.SignalJournal
	close   func() error
}

func initializePersistence(ctx context.Context, cfg *store.Config) (*persistence, error) {
	st, closer, err := persist.Open(cfg.Persistence)
	if err != nil {
		return nil, err
	}
	tl := tradelog.New(tradelog.LogDir(), cfg.Location())
	p := &persistence{store: st, ledgers: []interfaces.Ledger{tl}, journal: tl, close: closer}
	if l, ok := st.(interfaces.Ledger); ok {
		p.ledgers = append(p.ledgers, l)
	}
	logger.Info(ctx, "Persistence ready", "backend", cfg.Persistence.Backend, "ledgers", len(p.ledgers))
	return p, nil
}

func initializeEngine(cfg *store.Config, q *engine.Queue, gw interfaces.Gateway, chain interfaces.ChainSource, hist interfaces.HistorySource, p *persistence) *engine.Engine {
	return engine.New(cfg, engine.Deps{
		Queue:   q,
		Gateway: gw,
		Chain:   chain,
		History: hist,
		Store:   p.store,
		Ledgers: p.ledgers,
		Journal: p.journal,
	})
}

func initializeEOD(cfg *store.Config) interfaces.EodSummarizer {
	return eodobs.Wrap(eod.NewSummarizer(tradelog.LogDir(), cfg.Location(), "15:40"))
}
