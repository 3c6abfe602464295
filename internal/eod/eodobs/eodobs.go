package eodobs

import (
	"context"
	"time"

	"pivot-options-bot/internal/interfaces"
	"pivot-options-bot/internal/logger"
	"pivot-options-bot/internal/trace"
)

type observableEodSummarizer struct {
	summarizer interfaces.EodSummarizer
}

var _ interfaces.EodSummarizer = (*observableEodSummarizer)(nil)

func Wrap(summarizer interfaces.EodSummarizer) interfaces.EodSummarizer {
	return &observableEodSummarizer{
		summarizer: summarizer,
	}
}

func (oes *observableEodSummarizer) SummarizeDay(ctx context.Context, t time.Time) (string, error) {
	ctx, span := trace.StartSpan(ctx, "eod.SummarizeDay")
	defer span.End()
	return oes.observe(ctx, t.Format("2006-01-02"), func(ctx context.Context) (string, error) {
		return oes.summarizer.SummarizeDay(ctx, t)
	})
}

func (oes *observableEodSummarizer) SummarizeToday(ctx context.Context) (string, error) {
	ctx, span := trace.StartSpan(ctx, "eod.SummarizeToday")
	defer span.End()
	return oes.observe(ctx, "today", oes.summarizer.SummarizeToday)
}

func (oes *observableEodSummarizer) observe(ctx context.Context, date string, run func(context.Context) (string, error)) (string, error) {
	timer := logger.StartOperation(ctx, "eod_summary", "date", date)

	csvPath, err := run(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 2, "EOD summary generation failed", err, "date", date)
		timer.EndWithError(err)
		return "", err
	}
	if csvPath == "" {
		logger.InfoSkip(ctx, 2, "No fills found for EOD summary", "date", date)
		timer.End()
		return "", nil
	}

	logger.InfoSkip(ctx, 2, "EOD summary generated", "date", date, "csv_path", csvPath)
	timer.End()
	return csvPath, nil
}

func (oes *observableEodSummarizer) ShouldRunNow() (bool, string) {
	shouldRun, csvPath := oes.summarizer.ShouldRunNow()
	logger.Debug(context.Background(), "EOD check completed",
		"should_run", shouldRun,
		"csv_path", csvPath,
	)
	return shouldRun, csvPath
}
