package eod

import (
	"time"

	"pivot-options-bot/internal/interfaces"
)

// NewSummarizer summarizes the daily fill ledgers under dir. Dates are
// taken in loc and the summary becomes due after cutoff ("15:04").
func NewSummarizer(dir string, loc *time.Location, cutoff string) interfaces.EodSummarizer {
	if loc == nil {
		loc = time.Local
	}
	if cutoff == "" {
		cutoff = "15:40"
	}
	return &eodSummarizer{dir: dir, loc: loc, cutoff: cutoff, now: time.Now}
}
