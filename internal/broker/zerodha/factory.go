package zerodha

import (
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"pivot-options-bot/internal/interfaces"
	"pivot-options-bot/internal/store"
)

// Client bundles the Kite-backed collaborators. They share one REST client
// and one token map so that chain refreshes register the contracts the
// ticker later resolves.
type Client struct {
	Gateway *Zerodha
	Chain   interfaces.ChainSource
	Ticker  interfaces.TickerManager

	chain  *chainStore
	mapper *instrumentMapper
}

// New wires a Kite REST client, chain store and ticker for cfg. Ticks and
// order updates are delivered to sink.
func New(apiKey, accessToken string, cfg *store.Config, sink interfaces.EventSink) *Client {
	kc := kiteconnect.New(apiKey)
	kc.SetAccessToken(accessToken)
	return newClient(kc, func(key, token string) kiteTicker { return kiteticker.New(key, token) },
		apiKey, accessToken, cfg, sink)
}

func newClient(kc kiteAPI, dial func(apiKey, accessToken string) kiteTicker, apiKey, accessToken string, cfg *store.Config, sink interfaces.EventSink) *Client {
	mapper := newInstrumentMapper()
	mapper.addMapping(cfg.Underlying.Symbol, cfg.Underlying.Token)

	chain := newChainStore(kc, cfg.Underlying, cfg.Location(), mapper)
	gw := newZerodha(Params{
		APIKey:          apiKey,
		AccessToken:     accessToken,
		OptionsExchange: cfg.Underlying.OptionsExchange,
		Product:         cfg.Order.Product,
		UnderlyingToken: cfg.Underlying.Token,
	}, kc)

	tm := &tickerManager{
		apiKey:          apiKey,
		accessToken:     accessToken,
		underlyingToken: cfg.Underlying.Token,
		underlyingSym:   cfg.Underlying.Symbol,
		sink:            sink,
		mapper:          mapper,
		dial:            dial,
		subscribed:      map[uint32]bool{},
	}
	return &Client{Gateway: gw, Chain: chain, Ticker: tm, chain: chain, mapper: mapper}
}

// Tokens lists the underlying plus every contract the chain has seen.
func (c *Client) Tokens() []uint32 {
	return c.mapper.tokens()
}
