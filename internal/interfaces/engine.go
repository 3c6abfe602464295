package interfaces

import (
	"context"
	"time"

	"pivot-options-bot/internal/types"
)

type Engine interface {
	Step(ctx context.Context, now time.Time) (*types.StepResult, error)
}

// EventSink receives feed events. Implementations only enqueue; trading
// state is mutated by the control loop alone.
type EventSink interface {
	OnTick(tick types.Tick)
	OnOrderUpdate(update types.OrderUpdate)
}

// SessionStore persists full session snapshots keyed by (date, mode).
type SessionStore interface {
	Load(ctx context.Context, date string, mode types.Mode) (*types.Session, error)
	Save(ctx context.Context, s *types.Session) error
}

// Ledger is an append-only sink for fills.
type Ledger interface {
	Append(ctx context.Context, fills []types.Fill) error
}

// SignalJournal records every evaluated signal with its inputs.
type SignalJournal interface {
	RecordSignal(ctx context.Context, e types.SignalRecord) error
}
