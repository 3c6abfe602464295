// Package tradelog appends fills and signal decisions as JSON lines, one
// file per trading day.
package tradelog

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pivot-options-bot/internal/interfaces"
	"pivot-options-bot/internal/types"
)

// LogDir is the root for trade and decision logs, TRADER_LOG_DIR or "logs".
func LogDir() string {
	if v := os.Getenv("TRADER_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}

// TradesPath is the fill ledger file for the day of t in loc.
func TradesPath(dir string, t time.Time, loc *time.Location) string {
	return filepath.Join(dir, t.In(loc).Format("2006-01-02")+".txt")
}

func decisionsPath(dir string, t time.Time, loc *time.Location) string {
	return filepath.Join(dir, "decisions", t.In(loc).Format("2006-01-02")+".txt")
}

// Log is a fill ledger and signal journal backed by daily JSONL files.
type Log struct {
	dir string
	loc *time.Location
	mu  sync.Mutex
}

var (
	_ interfaces.Ledger        = (*Log)(nil)
	_ interfaces.SignalJournal = (*Log)(nil)
)

func New(dir string, loc *time.Location) *Log {
	if dir == "" {
		dir = LogDir()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Log{dir: dir, loc: loc}
}

func (l *Log) Dir() string { return l.dir }

// Append writes each fill to the file of its own trading day.
func (l *Log) Append(ctx context.Context, fills []types.Fill) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range fills {
		if err := appendLine(TradesPath(l.dir, f.Time, l.loc), f); err != nil {
			return err
		}
	}
	return nil
}

func (l *Log) RecordSignal(ctx context.Context, rec types.SignalRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return appendLine(decisionsPath(l.dir, rec.Time, l.loc), rec)
}

func appendLine(p string, v any) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// ReadFills loads the fill ledger of the day of t. A missing file yields no
// fills; malformed lines are skipped.
func ReadFills(dir string, t time.Time, loc *time.Location) ([]types.Fill, error) {
	b, err := os.ReadFile(TradesPath(dir, t, loc))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []types.Fill
	dec := json.NewDecoder(bytes.NewReader(b))
	for dec.More() {
		var f types.Fill
		if err := dec.Decode(&f); err != nil {
			break
		}
		out = append(out, f)
	}
	return out, nil
}

// CompressOlder gzips .txt logs under dir not modified in retentionDays.
func CompressOlder(dir string, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != ".txt" {
			return nil
		}
		info, er := d.Info()
		if er != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		gz := p + ".gz"
		// an earlier run already compressed it
		if _, e2 := os.Stat(gz); e2 == nil {
			_ = os.Remove(p)
			return nil
		}
		if err := gzipFile(p, gz); err == nil {
			_ = os.Remove(p)
		}
		return nil
	})
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		_ = gw.Close()
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := gw.Close(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
