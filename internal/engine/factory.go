package engine

import (
	"pivot-options-bot/internal/store"
)

// New builds an engine for cfg. Call Start before the first Step.
func New(cfg *store.Config, deps Deps) *Engine {
	return newEngine(cfg, deps)
}
