// Package scheduler runs the bot's periodic housekeeping on cron specs:
// option chain refreshes and the end-of-day summary.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"pivot-options-bot/internal/interfaces"
	"pivot-options-bot/internal/logger"
)

// Scheduler owns the cron runner and the jobs registered on it.
type Scheduler struct {
	Cron      *cron.Cron
	Chain     interfaces.ChainSource
	Eod       interfaces.EodSummarizer
	Subscribe func(ctx context.Context) error
	Ctx       context.Context
}

// cronLogger routes cron's own messages through the structured logger.
type cronLogger struct{ ctx context.Context }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	logger.Debug(l.ctx, "cron: "+msg, kv...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	logger.ErrorWithErr(l.ctx, "cron: "+msg, err, kv...)
}

// New builds a seconds-resolution scheduler evaluated in loc. Overlapping
// runs of a job are skipped and panics are recovered.
func New(ctx context.Context, loc *time.Location, chain interfaces.ChainSource, eod interfaces.EodSummarizer, subscribe func(ctx context.Context) error) *Scheduler {
	cl := cronLogger{ctx: ctx}
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		Chain:     chain,
		Eod:       eod,
		Subscribe: subscribe,
		Ctx:       ctx,
	}
}

// RegisterAll adds the chain refresh and EOD summary jobs. An empty spec
// disables that job.
func (s *Scheduler) RegisterAll(chainSpec, eodSpec string) error {
	if chainSpec != "" && s.Chain != nil {
		if _, err := s.Cron.AddFunc(chainSpec, s.RefreshChain); err != nil {
			return fmt.Errorf("register chain refresh: %w", err)
		}
	}
	if eodSpec != "" && s.Eod != nil {
		if _, err := s.Cron.AddFunc(eodSpec, s.Summarize); err != nil {
			return fmt.Errorf("register eod summary: %w", err)
		}
	}
	return nil
}

func (s *Scheduler) Start() {
	s.Cron.Start()
	logger.Info(s.Ctx, "Scheduler started", "jobs", len(s.Cron.Entries()))
}

// Stop halts the runner and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	logger.Info(s.Ctx, "Scheduler stopped")
}

// RefreshChain reloads the option chain and subscribes any new contracts.
func (s *Scheduler) RefreshChain() {
	if err := s.Chain.Refresh(s.Ctx); err != nil {
		logger.Warn(s.Ctx, "Option chain refresh failed", "error", err)
		return
	}
	if s.Subscribe == nil {
		return
	}
	if err := s.Subscribe(s.Ctx); err != nil {
		logger.Warn(s.Ctx, "Ticker subscription failed", "error", err)
	}
}

// Summarize writes today's EOD summary once it is due.
func (s *Scheduler) Summarize() {
	run, path := s.Eod.ShouldRunNow()
	if !run {
		logger.Debug(s.Ctx, "EOD summary not due", "csv_path", path)
		return
	}
	if _, err := s.Eod.SummarizeToday(s.Ctx); err != nil {
		logger.ErrorWithErr(s.Ctx, "EOD summary failed", err)
	}
}
