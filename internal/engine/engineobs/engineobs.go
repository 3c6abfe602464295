package engineobs

import (
	"context"
	"time"

	"pivot-options-bot/internal/interfaces"
	"pivot-options-bot/internal/logger"
	"pivot-options-bot/internal/trace"
	"pivot-options-bot/internal/types"
)

type observableEngine struct {
	engine interfaces.Engine
}

var _ interfaces.Engine = (*observableEngine)(nil)

func Wrap(eng interfaces.Engine) interfaces.Engine {
	return &observableEngine{
		engine: eng,
	}
}

// Step runs once a second, so quiet cycles log at debug and only cycles
// that signalled or filled are reported at info.
func (oe *observableEngine) Step(ctx context.Context, now time.Time) (*types.StepResult, error) {
	ctx, span := trace.StartSpan(ctx, "engine.Step")
	defer span.End()

	start := time.Now()

	result, err := oe.engine.Step(ctx, now)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Trading cycle failed", err,
			"at", now,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	quiet := result.Signal == nil && len(result.Fills) == 0
	if quiet && !logger.IsDebugEnabled() {
		return result, nil
	}
	fields := []any{
		"spot", result.Spot,
		"candles", result.Candles,
		"call", result.Call,
		"put", result.Put,
		"trades", result.Trades,
		"pnl", result.PnL,
		"eod", result.EOD,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if quiet {
		logger.DebugSkip(ctx, 1, "Trading cycle completed", fields...)
		return result, nil
	}
	if result.Signal != nil {
		fields = append(fields, "signal", result.Signal.Side, "reason", result.Signal.Reason, "atr", result.ATR)
	}
	fields = append(fields, "fills", len(result.Fills))
	logger.InfoSkip(ctx, 1, "Trading cycle completed", fields...)

	return result, nil
}
