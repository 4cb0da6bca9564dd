package config

import "strings"

// Mode selects which pipeline the app runs and which stores it opens.
type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModePaper    Mode = "paper"
	ModeLive     Mode = "live"
	ModeTest     Mode = "test"
)

// Config is the top-level configuration carrier.
type Config struct {
	App        AppConfig       `toml:"app"`
	Risk       RiskConfig      `toml:"risk"`
	Guardrails GuardrailConfig `toml:"guardrails"`
	Outage     OutageConfig    `toml:"broker_outage"`
	Broker     BrokerConfig    `toml:"broker"`
	Market     MarketConfig    `toml:"market"`
	Backtest   BacktestConfig  `toml:"backtest"`
	Live       LiveConfig      `toml:"live"`
	Audit      AuditConfig     `toml:"audit"`
	Safety     SafetyConfig    `toml:"safety"`
	Lookups    LookupConfig    `toml:"lookups"`
	Strategy   StrategyConfig  `toml:"strategy"`

	path string
}

type AppConfig struct {
	Env      string `toml:"env"`
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

func (a AppConfig) RunMode() Mode {
	return Mode(strings.ToLower(strings.TrimSpace(a.Mode)))
}

// RiskConfig carries every limit the approval state machine consults.
// Percentages are fractions (0.02 = 2%).
type RiskConfig struct {
	MaxPositionPct            float64 `toml:"max_position_pct"`
	MaxPortfolioRiskPct       float64 `toml:"max_portfolio_risk_pct"`
	StopLossPct               float64 `toml:"stop_loss_pct"`
	TakeProfitPct             float64 `toml:"take_profit_pct"`
	MaxOpenPositions          int     `toml:"max_open_positions"`
	MaxDrawdownPct            float64 `toml:"max_drawdown_pct"`
	MaxIntradayLossPct        float64 `toml:"max_intraday_loss_pct"`
	ConsecutiveLossLimit      int     `toml:"consecutive_loss_limit"`
	MaxVarPct                 float64 `toml:"max_var_pct"`
	VarWindow                 int     `toml:"var_window"`
	UseATRStops               bool    `toml:"use_atr_stops"`
	ATRMultiplier             float64 `toml:"atr_multiplier"`
	ATRTPMultiplier           float64 `toml:"atr_tp_multiplier"`
	SectorGateEnabled         bool    `toml:"sector_gate_enabled"`
	MaxSectorConcentrationPct float64 `toml:"max_sector_concentration_pct"`
	MaxCryptoExposurePct      float64 `toml:"max_crypto_exposure_pct"`

	Crypto      CryptoRiskConfig  `toml:"crypto"`
	Correlation CorrelationConfig `toml:"correlation"`
}

// CryptoRiskConfig overrides the equity defaults with the wider crypto ones.
type CryptoRiskConfig struct {
	MaxPositionPct  float64 `toml:"max_position_pct"`
	StopLossPct     float64 `toml:"stop_loss_pct"`
	TakeProfitPct   float64 `toml:"take_profit_pct"`
	ATRMultiplier   float64 `toml:"atr_multiplier"`
	ATRTPMultiplier float64 `toml:"atr_tp_multiplier"`
}

type CorrelationConfig struct {
	Threshold float64 `toml:"threshold"`
	Mode      string  `toml:"mode"` // "reject" | "scale"
}

// GuardrailConfig drives the paper-trading rate-limit state machine. Each
// check can be disabled independently.
type GuardrailConfig struct {
	DailyLimitEnabled  bool `toml:"daily_limit_enabled"`
	RejectRateEnabled  bool `toml:"reject_rate_enabled"`
	CooldownEnabled    bool `toml:"cooldown_enabled"`
	SessionEnabled     bool `toml:"session_enabled"`
	AutoStopEnabled    bool `toml:"auto_stop_enabled"`
	CryptoBypassHours  bool `toml:"crypto_bypass_session"`

	MaxOrdersPerDay               int    `toml:"max_orders_per_day"`
	MaxRejectsPerHour             int    `toml:"max_rejects_per_hour"`
	RejectCooldownSeconds         int    `toml:"reject_cooldown_seconds"`
	SessionStartHour              int    `toml:"session_start_hour"`
	SessionEndHour                int    `toml:"session_end_hour"`
	SessionTimezone               string `toml:"session_timezone"`
	MaxConsecutiveRejects         int    `toml:"max_consecutive_rejects"`
	ConsecutiveRejectResetMinutes int    `toml:"consecutive_reject_reset_minutes"`
}

// OutageConfig tunes the broker resilience wrapper.
type OutageConfig struct {
	RetryAttempts           int     `toml:"retry_attempts"`
	BackoffBaseSeconds      float64 `toml:"backoff_base_seconds"`
	BackoffMaxSeconds       float64 `toml:"backoff_max_seconds"`
	BackoffJitterSeconds    float64 `toml:"backoff_jitter_seconds"`
	ConsecutiveFailureLimit int     `toml:"consecutive_failure_limit"`
}

type BrokerConfig struct {
	Venue   string        `toml:"venue"` // "paper" | "alpaca" | "binance"
	Alpaca  AlpacaConfig  `toml:"alpaca"`
	Binance BinanceConfig `toml:"binance"`
	Paper   PaperConfig   `toml:"paper"`
}

type AlpacaConfig struct {
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	BaseURL   string `toml:"base_url"`
}

type BinanceConfig struct {
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	BaseURL   string `toml:"base_url"`
}

type PaperConfig struct {
	InitialCash float64 `toml:"initial_cash"`
}

type MarketConfig struct {
	Source          string   `toml:"source"` // "binance" | "csv"
	Symbols         []string `toml:"symbols"`
	Interval        string   `toml:"interval"`
	RESTBaseURL     string   `toml:"rest_base_url"`
	RequestsPerSec  float64  `toml:"requests_per_sec"`
	StaleBarSeconds int      `toml:"stale_bar_seconds"`
	MaxGapBars      int      `toml:"max_gap_bars"`
}

type BacktestConfig struct {
	StartDate          string  `toml:"start_date"`
	EndDate            string  `toml:"end_date"`
	InitialBalance     float64 `toml:"initial_balance"`
	SlippagePct        float64 `toml:"slippage_pct"`
	CommissionPerShare float64 `toml:"commission_per_share"`
}

type LiveConfig struct {
	SessionMinutes   int                `toml:"session_minutes"` // 0 = unbounded
	BaseCurrency     string             `toml:"base_currency"`
	FxRates          map[string]float64 `toml:"fx_rates"`
	FxStaleSeconds   int                `toml:"fx_stale_seconds"`
	MarketOpenHour   int                `toml:"market_open_hour"`
	MarketCloseHour  int                `toml:"market_close_hour"`
	MarketTimezone   string             `toml:"market_timezone"`
	FeeRate          float64            `toml:"fee_rate"`
}

type AuditConfig struct {
	DBPath    string `toml:"db_path"`
	QueueSize int    `toml:"queue_size"`
}

// SafetyConfig points the kill switch at one store per runtime mode. The
// three paths must be distinct so a paper halt can never bleed into live.
type SafetyConfig struct {
	PaperPath string `toml:"paper_path"`
	LivePath  string `toml:"live_path"`
	TestPath  string `toml:"test_path"`
}

// StorePath resolves the kill-switch store for a mode. Backtest runs share
// the test store: a simulated halt must never touch the live flag.
func (s SafetyConfig) StorePath(mode Mode) string {
	switch mode {
	case ModeLive:
		return s.LivePath
	case ModePaper:
		return s.PaperPath
	default:
		return s.TestPath
	}
}

type LookupConfig struct {
	CorrelationPath string `toml:"correlation_path"`
	SectorPath      string `toml:"sector_path"`
	WatchRiskFile   string `toml:"watch_risk_file"`
}

type StrategyConfig struct {
	Name   string             `toml:"name"` // "sma_cross" | "rsi_revert"
	Params map[string]float64 `toml:"params"`
}
