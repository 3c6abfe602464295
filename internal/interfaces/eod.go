package interfaces

import (
	"context"
	"time"
)

// EodSummarizer turns a day's fill ledger into CSV reports.
type EodSummarizer interface {
	SummarizeDay(ctx context.Context, t time.Time) (csvPath string, err error)
	SummarizeToday(ctx context.Context) (csvPath string, err error)
	ShouldRunNow() (shouldRun bool, csvPath string)
}
