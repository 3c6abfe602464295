package eod

import (
	"path/filepath"
	"time"
)

func eodCSVPath(dir string, t time.Time) string {
	return filepath.Join(dir, "eod", t.Format("2006-01-02")+".csv")
}

func tradesCSVPath(dir string, t time.Time) string {
	return filepath.Join(dir, "eod", "trades_"+t.Format("2006-01-02")+".csv")
}

// cutoffOn returns hh:mm on the calendar day of t, or 15:40 if hhmm does
// not parse.
func cutoffOn(t time.Time, hhmm string) time.Time {
	c, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Date(t.Year(), t.Month(), t.Day(), 15, 40, 0, 0, t.Location())
	}
	return time.Date(t.Year(), t.Month(), t.Day(), c.Hour(), c.Minute(), 0, 0, t.Location())
}
