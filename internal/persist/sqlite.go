package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"pivot-options-bot/internal/interfaces"
	"pivot-options-bot/internal/logger"
	"pivot-options-bot/internal/types"
)

// SQLiteStore keeps session snapshots and the fill ledger in one database.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

var (
	_ interfaces.SessionStore = (*SQLiteStore)(nil)
	_ interfaces.Ledger       = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info(context.Background(), "SQLite store opened", "path", dbPath)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			date       TEXT NOT NULL,
			mode       TEXT NOT NULL,
			snapshot   TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (date, mode)
		)`,
		`CREATE TABLE IF NOT EXISTS fills (
			id               TEXT PRIMARY KEY,
			ts               INTEGER NOT NULL,
			date             TEXT NOT NULL,
			mode             TEXT NOT NULL,
			symbol           TEXT NOT NULL,
			leg              TEXT NOT NULL,
			action           TEXT NOT NULL,
			quantity         INTEGER NOT NULL,
			price            REAL NOT NULL,
			stop_price       REAL,
			target_price     REAL,
			underlying_price REAL,
			reason           TEXT,
			order_id         TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fills_date ON fills(date, mode)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, date string, mode types.Mode) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM sessions WHERE date = ? AND mode = ?`, date, string(mode)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess types.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("decode snapshot %s/%s: %w", date, mode, err)
	}
	return &sess, nil
}

func (s *SQLiteStore) Save(ctx context.Context, sess *types.Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (date, mode, snapshot, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(date, mode) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		sess.Date, string(sess.Mode), string(b), time.Now().Unix())
	return err
}

// Append writes fills in one transaction. Fills already stored under the
// same id are skipped, so a retried batch is not duplicated.
func (s *SQLiteStore) Append(ctx context.Context, fills []types.Fill) error {
	if len(fills) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO fills (id, ts, date, mode, symbol, leg, action, quantity, price,
			stop_price, target_price, underlying_price, reason, order_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, f := range fills {
		_, err := stmt.ExecContext(ctx,
			f.ID, f.Time.UnixMilli(), f.Time.Format("2006-01-02"), string(f.Mode), f.Symbol, string(f.Leg),
			string(f.Action), f.Quantity, f.Price, f.StopPrice, f.TargetPrice, f.UnderlyingPrice,
			f.Reason, f.OrderID)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert fill %s: %w", f.ID, err)
		}
	}
	return tx.Commit()
}

// Fills returns the ledger for date and mode in time order.
func (s *SQLiteStore) Fills(ctx context.Context, date string, mode types.Mode) ([]types.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, symbol, leg, action, quantity, price, stop_price, target_price,
			underlying_price, reason, order_id
		 FROM fills WHERE date = ? AND mode = ? ORDER BY ts, rowid`, date, string(mode))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Fill
	for rows.Next() {
		var (
			f                  types.Fill
			ts                 int64
			leg, action        string
			stop, target, spot sql.NullFloat64
			reason, orderID    sql.NullString
		)
		if err := rows.Scan(&f.ID, &ts, &f.Symbol, &leg, &action, &f.Quantity, &f.Price,
			&stop, &target, &spot, &reason, &orderID); err != nil {
			return nil, err
		}
		f.Time = time.UnixMilli(ts)
		f.Leg = types.Side(leg)
		f.Action = types.Action(action)
		f.Mode = mode
		f.StopPrice = stop.Float64
		f.TargetPrice = target.Float64
		f.UnderlyingPrice = spot.Float64
		f.Reason = reason.String
		f.OrderID = orderID.String
		out = append(out, f)
	}
	return out, rows.Err()
}
