package engineobs

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"pivot-options-bot/internal/logger"
	"pivot-options-bot/internal/types"
)

type stubEngine struct {
	res *types.StepResult
}

func (s *stubEngine) Step(ctx context.Context, now time.Time) (*types.StepResult, error) {
	return s.res, nil
}

func TestQuietCyclesStayOutOfInfoLog(t *testing.T) {
	var buf bytes.Buffer
	if err := logger.InitWithConfig(logger.LogConfig{Level: "INFO", Output: &buf}); err != nil {
		t.Fatal(err)
	}
	stub := &stubEngine{res: &types.StepResult{Call: types.Flat, Put: types.Flat}}
	eng := Wrap(stub)

	if _, err := eng.Step(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Fatalf("quiet cycle logged at INFO: %s", buf.String())
	}

	stub.res = &types.StepResult{Fills: []types.Fill{{Symbol: "NIFTY25000CE"}}}
	if _, err := eng.Step(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Trading cycle completed") || !strings.Contains(buf.String(), `"fills":1`) {
		t.Fatalf("expected cycle summary, got %s", buf.String())
	}
}
