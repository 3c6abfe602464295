package persist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pivot-options-bot/internal/store"
	"pivot-options-bot/internal/types"
)

func sampleSession() *types.Session {
	s := types.NewSession("2026-10-14", types.Paper, 30)
	s.Call = types.Leg{
		Side:          types.Call,
		Symbol:        "NIFTY26O2025100CE",
		Strike:        25100,
		State:         types.Open,
		Quantity:      130,
		EntryPrice:    100,
		StopPrice:     90,
		PartialTarget: 110,
		FullTarget:    120,
	}
	s.TradeCount = 1
	s.Candles = []types.Candle{{Open: 1, High: 2, Low: 0.5, Close: 1.5, Time: time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)}}
	return s
}

func TestFileStoreMissingIsNotFound(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, err = fs.Load(context.Background(), "2026-10-14", types.Paper)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := fs.Save(ctx, sampleSession()); err != nil {
		t.Fatal(err)
	}
	got, err := fs.Load(ctx, "2026-10-14", types.Paper)
	if err != nil {
		t.Fatal(err)
	}
	if got.Call.State != types.Open || got.Call.Quantity != 130 || got.TradeCount != 1 {
		t.Fatalf("unexpected session: %+v", got.Call)
	}
	if len(got.Candles) != 1 {
		t.Fatalf("expected candles restored, got %d", len(got.Candles))
	}

	// a live snapshot for the same day is a different key
	if _, err := fs.Load(ctx, "2026-10-14", types.Live); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected live snapshot missing, got %v", err)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestFileStoreCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	fs, _ := NewFileStore(dir)
	if err := os.WriteFile(fs.path("2026-10-14", types.Paper), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := fs.Load(context.Background(), "2026-10-14", types.Paper)
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestFileStoreRejectsUnknownLegState(t *testing.T) {
	dir := t.TempDir()
	fs, _ := NewFileStore(dir)
	raw := `{"date":"2026-10-14","mode":"PAPER","call":{"side":"CALL","state":"HALF_OPEN"},"put":{"side":"PUT","state":"FLAT"}}`
	if err := os.WriteFile(fs.path("2026-10-14", types.Paper), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Load(context.Background(), "2026-10-14", types.Paper); err == nil {
		t.Fatal("expected unknown leg state to fail decoding")
	}
}

func TestSQLiteStoreSessionsAndFills(t *testing.T) {
	ss, err := NewSQLiteStore(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer ss.Close()
	ctx := context.Background()

	if _, err := ss.Load(ctx, "2026-10-14", types.Paper); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	s := sampleSession()
	if err := ss.Save(ctx, s); err != nil {
		t.Fatal(err)
	}
	s.TradeCount = 2
	if err := ss.Save(ctx, s); err != nil {
		t.Fatal(err)
	}
	got, err := ss.Load(ctx, "2026-10-14", types.Paper)
	if err != nil {
		t.Fatal(err)
	}
	if got.TradeCount != 2 {
		t.Fatalf("expected upserted trade count 2, got %d", got.TradeCount)
	}

	at := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	fills := []types.Fill{
		{ID: "a", Time: at, Symbol: "X", Price: 100, Action: types.Buy, Quantity: 130, Leg: types.Call, Mode: types.Paper},
		{ID: "b", Time: at.Add(time.Minute), Symbol: "X", Price: 110, Action: types.Sell, Quantity: 65, Leg: types.Call, Mode: types.Paper, Reason: "PARTIAL"},
	}
	if err := ss.Append(ctx, fills); err != nil {
		t.Fatal(err)
	}
	// retrying the same batch must not duplicate rows
	if err := ss.Append(ctx, fills); err != nil {
		t.Fatal(err)
	}
	out, err := ss.Fills(ctx, "2026-10-14", types.Paper)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(out))
	}
	if out[1].Reason != "PARTIAL" || out[1].Quantity != 65 || !out[1].Time.Equal(at.Add(time.Minute)) {
		t.Errorf("unexpected second fill: %+v", out[1])
	}
}

func TestOpenBackends(t *testing.T) {
	dir := t.TempDir()
	st, closer, err := Open(store.PersistenceConfig{Backend: BackendFile, Dir: dir})
	if err != nil || closer != nil {
		t.Fatalf("file backend: %v", err)
	}
	if _, ok := st.(*FileStore); !ok {
		t.Fatalf("expected *FileStore, got %T", st)
	}

	st, closer, err = Open(store.PersistenceConfig{Backend: BackendSQLite, SQLitePath: filepath.Join(dir, "x.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer closer()
	if _, ok := st.(*SQLiteStore); !ok {
		t.Fatalf("expected *SQLiteStore, got %T", st)
	}

	if _, _, err := Open(store.PersistenceConfig{Backend: "redis"}); err == nil {
		t.Fatal("expected unknown backend error")
	}
}
