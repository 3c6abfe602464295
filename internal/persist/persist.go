// Package persist stores session snapshots keyed by (date, mode), either as
// JSON files or in SQLite. The SQLite store also keeps the fill ledger.
package persist

import (
	"errors"
	"fmt"

	"pivot-options-bot/internal/interfaces"
	"pivot-options-bot/internal/store"
)

// ErrNotFound is returned by Load when no snapshot exists for the key.
var ErrNotFound = errors.New("session snapshot not found")

// Backend names accepted in persistence.backend.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open builds the session store for cfg. The returned closer is nil for the
// file backend. When the backend is SQLite the store is also a fill ledger.
func Open(cfg store.PersistenceConfig) (interfaces.SessionStore, func() error, error) {
	switch cfg.Backend {
	case "", BackendFile:
		fs, err := NewFileStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return fs, nil, nil
	case BackendSQLite:
		ss, err := NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return ss, ss.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown persistence backend %q", cfg.Backend)
}
