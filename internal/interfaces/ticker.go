package interfaces

import "context"

type TickerManager interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	Subscribe(ctx context.Context, tokens []uint32) error
}
