package zerodha

import (
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"
)

// kiteTicker is the subset of the Kite websocket ticker the manager drives.
type kiteTicker interface {
	OnConnect(f func())
	OnError(f func(err error))
	OnClose(f func(code int, reason string))
	OnReconnect(f func(attempt int, delay time.Duration))
	OnNoReconnect(f func(attempt int))
	OnTick(f func(tick models.Tick))
	OnOrderUpdate(f func(order kiteconnect.Order))
	Subscribe(tokens []uint32) error
	SetMode(mode kiteticker.Mode, tokens []uint32) error
	Serve()
	Stop()
}

var _ kiteTicker = (*kiteticker.Ticker)(nil)
