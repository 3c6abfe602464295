package zerodha

import (
	"sort"
	"sync"
)

// instrumentMapper maps ticker tokens to trading symbols.
// The chain refresh registers option contracts; the ticker reads it on every
// tick.
type instrumentMapper struct {
	tokenToSymbol map[uint32]string
	mu            sync.RWMutex
}

func newInstrumentMapper() *instrumentMapper {
	return &instrumentMapper{
		tokenToSymbol: make(map[uint32]string),
	}
}

func (im *instrumentMapper) addMapping(symbol string, token uint32) {
	im.mu.Lock()
	defer im.mu.Unlock()

	im.tokenToSymbol[token] = symbol
}

// getSymbol returns "" for tokens never registered.
func (im *instrumentMapper) getSymbol(token uint32) string {
	im.mu.RLock()
	defer im.mu.RUnlock()

	return im.tokenToSymbol[token]
}

// tokens returns every registered token in ascending order.
func (im *instrumentMapper) tokens() []uint32 {
	im.mu.RLock()
	defer im.mu.RUnlock()

	out := make([]uint32, 0, len(im.tokenToSymbol))
	for token := range im.tokenToSymbol {
		out = append(out, token)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
