package store

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pivot-options-bot/internal/types"
)

type Config struct {
	Mode        string            `yaml:"mode"`
	Timezone    string            `yaml:"timezone"`
	PollSeconds int               `yaml:"poll_seconds"`
	Underlying  UnderlyingConfig  `yaml:"underlying"`
	Session     SessionConfig     `yaml:"session"`
	Candle      CandleConfig      `yaml:"candle"`
	Indicators  IndicatorsConfig  `yaml:"indicators"`
	Signal      SignalConfig      `yaml:"signal"`
	Risk        RiskConfig        `yaml:"risk"`
	Moneyness   MoneynessConfig   `yaml:"moneyness"`
	Order       OrderConfig       `yaml:"order"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Metrics     struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
	Schedule struct {
		ChainRefresh string `yaml:"chain_refresh"`
		EODSummary   string `yaml:"eod_summary"`
	} `yaml:"schedule"`
}

type UnderlyingConfig struct {
	Symbol          string  `yaml:"symbol"` // quote key, e.g. "NSE:NIFTY 50"
	Name            string  `yaml:"name"`   // instrument name in the option master, e.g. NIFTY
	Token           uint32  `yaml:"token"`
	Exchange        string  `yaml:"exchange"`
	OptionsExchange string  `yaml:"options_exchange"`
	StrikeStep      float64 `yaml:"strike_step"`
	StrikeCount     int     `yaml:"strike_count"`
}

type SessionConfig struct {
	Start                string `yaml:"start"`
	End                  string `yaml:"end"`
	ShutdownGraceSeconds int    `yaml:"shutdown_grace_seconds"`
}

type CandleConfig struct {
	IntervalMinutes int   `yaml:"interval_minutes"`
	CatchUp         *bool `yaml:"catch_up"`
}

type IndicatorsConfig struct {
	ATRPeriod        int `yaml:"atr_period"`
	DailyHistoryDays int `yaml:"daily_history_days"`
}

type SignalConfig struct {
	MinBodyRange       float64 `yaml:"min_body_range"`
	MinATR             float64 `yaml:"min_atr"`
	MaxATR             float64 `yaml:"max_atr"`
	BreakoutBuffer     float64 `yaml:"breakout_buffer"`
	ContinuationBuffer float64 `yaml:"continuation_buffer"`
}

type RiskConfig struct {
	LotQty          int     `yaml:"lot_qty"`
	FixedRiskPoints float64 `yaml:"fixed_risk_points"`
	RiskATRMult     float64 `yaml:"risk_atr_mult"`
	RewardRiskRatio float64 `yaml:"reward_risk_ratio"`
	TrailStepATR    float64 `yaml:"trail_step_atr"`
	MaxTradesPerDay int     `yaml:"max_trades_per_day"`
	CooldownSeconds int     `yaml:"cooldown_seconds"`
	LegExclusivity  string  `yaml:"leg_exclusivity"`
}

type MoneynessConfig struct {
	Call         string  `yaml:"call"`
	Put          string  `yaml:"put"`
	OffsetPoints float64 `yaml:"offset_points"`
}

type OrderConfig struct {
	EntryType    string  `yaml:"entry_type"`
	EntryOffset  float64 `yaml:"entry_offset"`
	MinPrice     float64 `yaml:"min_price"`
	TickSize     float64 `yaml:"tick_size"`
	ChaseSeconds int     `yaml:"chase_seconds"`
	ChaseStep    float64 `yaml:"chase_step"`
	Product      string  `yaml:"product"`
}

type PersistenceConfig struct {
	Backend    string `yaml:"backend"`
	Dir        string `yaml:"dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

const (
	ExclusivityLiveOnly = "LIVE_ONLY"
	ExclusivityAlways   = "ALWAYS"
	ExclusivityNever    = "NEVER"
)

// ParsedMode returns the validated run mode.
func (c *Config) ParsedMode() types.Mode {
	m, _ := types.ParseMode(c.Mode)
	return m
}

// Location returns the configured session time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.FixedZone("IST", 5*3600+1800)
	}
	return loc
}

// CatchUp reports whether the candle window skips empty intervals.
func (c *Config) CatchUp() bool {
	return c.Candle.CatchUp == nil || *c.Candle.CatchUp
}

// SessionBounds returns session start and end on the calendar day of now.
func (c *Config) SessionBounds(now time.Time) (start, end time.Time) {
	loc := c.Location()
	local := now.In(loc)
	start = clockOn(local, c.Session.Start, loc)
	end = clockOn(local, c.Session.End, loc)
	return start, end
}

func clockOn(day time.Time, hhmm string, loc *time.Location) time.Time {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc)
}

func (c *Config) Validate() error {
	if _, err := types.ParseMode(c.Mode); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
	}
	if c.Underlying.Symbol == "" || c.Underlying.Name == "" {
		return errors.New("underlying.symbol and underlying.name are required")
	}
	if c.Underlying.StrikeStep <= 0 {
		return fmt.Errorf("underlying.strike_step must be positive, got %.2f", c.Underlying.StrikeStep)
	}
	start, errS := time.Parse("15:04", c.Session.Start)
	end, errE := time.Parse("15:04", c.Session.End)
	if errS != nil || errE != nil {
		return fmt.Errorf("session.start/end must be HH:MM, got '%s'/'%s'", c.Session.Start, c.Session.End)
	}
	if !end.After(start) {
		return fmt.Errorf("session.end %s must be after session.start %s", c.Session.End, c.Session.Start)
	}
	if n := c.Candle.IntervalMinutes; n <= 0 || 60%n != 0 {
		return fmt.Errorf("candle.interval_minutes must divide 60, got %d", n)
	}
	if c.Indicators.ATRPeriod <= 0 {
		return fmt.Errorf("indicators.atr_period must be positive, got %d", c.Indicators.ATRPeriod)
	}
	if c.Signal.MinATR > c.Signal.MaxATR {
		return fmt.Errorf("signal.min_atr %.2f exceeds signal.max_atr %.2f", c.Signal.MinATR, c.Signal.MaxATR)
	}
	if c.Risk.LotQty <= 0 {
		return fmt.Errorf("risk.lot_qty must be positive, got %d", c.Risk.LotQty)
	}
	if c.Risk.RewardRiskRatio <= 0 {
		return fmt.Errorf("risk.reward_risk_ratio must be positive, got %.2f", c.Risk.RewardRiskRatio)
	}
	switch c.Risk.LegExclusivity {
	case ExclusivityLiveOnly, ExclusivityAlways, ExclusivityNever:
	default:
		return fmt.Errorf("risk.leg_exclusivity must be 'LIVE_ONLY', 'ALWAYS', or 'NEVER', got '%s'", c.Risk.LegExclusivity)
	}
	for _, m := range []string{c.Moneyness.Call, c.Moneyness.Put} {
		if m != "ITM" && m != "ATM" && m != "OTM" {
			return fmt.Errorf("moneyness must be 'ITM', 'ATM', or 'OTM', got '%s'", m)
		}
	}
	if c.Order.EntryType != string(types.Limit) && c.Order.EntryType != string(types.Market) {
		return fmt.Errorf("order.entry_type must be 'LIMIT' or 'MARKET', got '%s'", c.Order.EntryType)
	}
	if c.Persistence.Backend != "file" && c.Persistence.Backend != "sqlite" {
		return fmt.Errorf("persistence.backend must be 'file' or 'sqlite', got '%s'", c.Persistence.Backend)
	}
	return nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	applyDefaults(c)
	return c
}

func applyDefaults(c *Config) {
	if c.Mode == "" {
		c.Mode = string(types.Paper)
	}
	c.Mode = strings.ToUpper(c.Mode)
	if c.Timezone == "" {
		c.Timezone = "Asia/Kolkata"
	}
	if c.PollSeconds == 0 {
		c.PollSeconds = 1
	}
	u := &c.Underlying
	if u.Symbol == "" {
		u.Symbol = "NSE:NIFTY 50"
	}
	if u.Name == "" {
		u.Name = "NIFTY"
	}
	if u.Token == 0 {
		u.Token = 256265
	}
	if u.Exchange == "" {
		u.Exchange = "NSE"
	}
	if u.OptionsExchange == "" {
		u.OptionsExchange = "NFO"
	}
	if u.StrikeStep == 0 {
		u.StrikeStep = 100
	}
	if u.StrikeCount == 0 {
		u.StrikeCount = 10
	}
	if c.Session.Start == "" {
		c.Session.Start = "09:30"
	}
	if c.Session.End == "" {
		c.Session.End = "15:15"
	}
	if c.Session.ShutdownGraceSeconds == 0 {
		c.Session.ShutdownGraceSeconds = 120
	}
	if c.Candle.IntervalMinutes == 0 {
		c.Candle.IntervalMinutes = 3
	}
	if c.Indicators.ATRPeriod == 0 {
		c.Indicators.ATRPeriod = 14
	}
	if c.Indicators.DailyHistoryDays == 0 {
		c.Indicators.DailyHistoryDays = 30
	}
	s := &c.Signal
	if s.MinBodyRange == 0 {
		s.MinBodyRange = 0.54
	}
	if s.MinATR == 0 {
		s.MinATR = 15
	}
	if s.MaxATR == 0 {
		s.MaxATR = 120
	}
	if s.BreakoutBuffer == 0 {
		s.BreakoutBuffer = 0.1
	}
	if s.ContinuationBuffer == 0 {
		s.ContinuationBuffer = 0.05
	}
	r := &c.Risk
	if r.LotQty == 0 {
		r.LotQty = 130
	}
	if r.FixedRiskPoints == 0 {
		r.FixedRiskPoints = 10
	}
	if r.RiskATRMult == 0 {
		r.RiskATRMult = 0.25
	}
	if r.RewardRiskRatio == 0 {
		r.RewardRiskRatio = 2
	}
	if r.TrailStepATR == 0 {
		r.TrailStepATR = 0.1
	}
	if r.MaxTradesPerDay == 0 {
		r.MaxTradesPerDay = 30
	}
	if r.CooldownSeconds == 0 {
		r.CooldownSeconds = 180
	}
	if r.LegExclusivity == "" {
		r.LegExclusivity = ExclusivityLiveOnly
	}
	r.LegExclusivity = strings.ToUpper(r.LegExclusivity)
	if c.Moneyness.Call == "" {
		c.Moneyness.Call = "ITM"
	}
	if c.Moneyness.Put == "" {
		c.Moneyness.Put = "ITM"
	}
	o := &c.Order
	if o.EntryType == "" {
		o.EntryType = string(types.Limit)
	}
	if o.EntryOffset == 0 {
		o.EntryOffset = 5
	}
	if o.MinPrice == 0 {
		o.MinPrice = 0.05
	}
	if o.TickSize == 0 {
		o.TickSize = 0.05
	}
	if o.ChaseSeconds == 0 {
		o.ChaseSeconds = 5
	}
	if o.ChaseStep == 0 {
		o.ChaseStep = 0.1
	}
	if o.Product == "" {
		o.Product = "MIS"
	}
	p := &c.Persistence
	if p.Backend == "" {
		p.Backend = "file"
	}
	if p.Dir == "" {
		p.Dir = "data"
	}
	if p.SQLitePath == "" {
		p.SQLitePath = "data/bot.db"
	}
	if c.Schedule.ChainRefresh == "" {
		c.Schedule.ChainRefresh = "@every 10s"
	}
	if c.Schedule.EODSummary == "" {
		c.Schedule.EODSummary = "0 40 15 * * 1-5"
	}
}

// applyEnv lets the environment override the run mode.
func applyEnv(c *Config) {
	if v := os.Getenv("BOT_MODE"); v != "" {
		c.Mode = strings.ToUpper(v)
	}
}

// ConfigPath returns BOT_CONFIG or config.yaml.
func ConfigPath() string {
	if v := os.Getenv("BOT_CONFIG"); v != "" {
		return v
	}
	return "config.yaml"
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	applyEnv(&c)
	applyDefaults(&c)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}
