package zerodha

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"pivot-options-bot/internal/interfaces"
	"pivot-options-bot/internal/logger"
	"pivot-options-bot/internal/store"
	"pivot-options-bot/internal/types"
)

// chainStore keeps the current option chain of the underlying's nearest
// expiry: strikes within StrikeCount steps of spot and their LTPs.
type chainStore struct {
	kc     kiteAPI
	cfg    store.UnderlyingConfig
	loc    *time.Location
	mapper *instrumentMapper

	mu          sync.RWMutex
	snap        types.ChainSnapshot
	loaded      bool
	instruments []kiteconnect.Instrument
	listedOn    string
}

var _ interfaces.ChainSource = (*chainStore)(nil)

func newChainStore(kc kiteAPI, cfg store.UnderlyingConfig, loc *time.Location, mapper *instrumentMapper) *chainStore {
	if loc == nil {
		loc = time.Local
	}
	return &chainStore{kc: kc, cfg: cfg, loc: loc, mapper: mapper}
}

// Snapshot returns a copy of the last refreshed chain.
func (cs *chainStore) Snapshot() (types.ChainSnapshot, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if !cs.loaded {
		return types.ChainSnapshot{}, false
	}
	snap := cs.snap
	snap.Contracts = append([]types.OptionContract(nil), cs.snap.Contracts...)
	return snap, true
}

// Refresh reloads spot and option LTPs. The instrument dump is fetched once
// per calendar day.
func (cs *chainStore) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now().In(cs.loc)
	if err := cs.loadInstruments(now); err != nil {
		return err
	}

	spotQuote, err := cs.kc.GetLTP(cs.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("spot ltp: %w", err)
	}
	spot := spotQuote[cs.cfg.Symbol].LastPrice
	if spot <= 0 {
		return fmt.Errorf("spot ltp for %s unavailable", cs.cfg.Symbol)
	}

	cs.mu.RLock()
	insts := cs.instruments
	cs.mu.RUnlock()

	expiry, window := strikeWindow(insts, spot, cs.cfg.StrikeStep, cs.cfg.StrikeCount, now)
	if len(window) == 0 {
		return fmt.Errorf("no %s option contracts near %.2f", cs.cfg.Name, spot)
	}

	keys := make([]string, 0, len(window))
	for _, in := range window {
		keys = append(keys, cs.cfg.OptionsExchange+":"+in.Tradingsymbol)
	}
	quotes, err := cs.kc.GetLTP(keys...)
	if err != nil {
		return fmt.Errorf("option ltp: %w", err)
	}

	contracts := make([]types.OptionContract, 0, len(window))
	for i, in := range window {
		oc := types.OptionContract{
			Symbol:  in.Tradingsymbol,
			Token:   uint32(in.InstrumentToken),
			Strike:  in.StrikePrice,
			Type:    types.OptionType(in.InstrumentType),
			LTP:     quotes[keys[i]].LastPrice,
			LotSize: int(in.LotSize),
		}
		contracts = append(contracts, oc)
		cs.mapper.addMapping(oc.Symbol, oc.Token)
	}

	cs.mu.Lock()
	cs.snap = types.ChainSnapshot{
		Underlying: cs.cfg.Name,
		Spot:       spot,
		Expiry:     expiry,
		Contracts:  contracts,
		UpdatedAt:  now,
	}
	cs.loaded = true
	cs.mu.Unlock()

	logger.Debug(ctx, "Option chain refreshed",
		"underlying", cs.cfg.Name, "spot", spot, "expiry", expiry.Format("2006-01-02"), "contracts", len(contracts))
	return nil
}

func (cs *chainStore) loadInstruments(now time.Time) error {
	day := now.Format("2006-01-02")
	cs.mu.RLock()
	fresh := cs.listedOn == day && len(cs.instruments) > 0
	cs.mu.RUnlock()
	if fresh {
		return nil
	}

	all, err := cs.kc.GetInstrumentsByExchange(cs.cfg.OptionsExchange)
	if err != nil {
		return fmt.Errorf("instruments %s: %w", cs.cfg.OptionsExchange, err)
	}
	opts := make([]kiteconnect.Instrument, 0, 256)
	for _, in := range all {
		if !strings.EqualFold(in.Name, cs.cfg.Name) {
			continue
		}
		if in.InstrumentType != string(types.CE) && in.InstrumentType != string(types.PE) {
			continue
		}
		opts = append(opts, in)
	}

	cs.mu.Lock()
	cs.instruments = opts
	cs.listedOn = day
	cs.mu.Unlock()
	return nil
}

// strikeWindow picks the nearest expiry on or after today and returns its
// contracts whose strike lies within count steps of the ATM strike, sorted
// by strike then type.
func strikeWindow(insts []kiteconnect.Instrument, spot, step float64, count int, now time.Time) (time.Time, []kiteconnect.Instrument) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var expiry time.Time
	for _, in := range insts {
		exp := in.Expiry.Time
		if exp.IsZero() || dayOf(exp, now.Location()).Before(today) {
			continue
		}
		if expiry.IsZero() || exp.Before(expiry) {
			expiry = exp
		}
	}
	if expiry.IsZero() {
		return expiry, nil
	}

	atm := math.Round(spot/step) * step
	lo, hi := atm-float64(count)*step, atm+float64(count)*step
	var out []kiteconnect.Instrument
	for _, in := range insts {
		if !in.Expiry.Time.Equal(expiry) || in.StrikePrice < lo || in.StrikePrice > hi {
			continue
		}
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StrikePrice != out[j].StrikePrice {
			return out[i].StrikePrice < out[j].StrikePrice
		}
		return out[i].InstrumentType < out[j].InstrumentType
	})
	return expiry, out
}

func dayOf(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
