package config

const (
	defaultAppEnv      = "dev"
	defaultAppMode     = "backtest"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9980"

	defaultMaxPositionPct      = 0.10
	defaultMaxPortfolioRisk    = 0.02
	defaultStopLossPct         = 0.05
	defaultTakeProfitPct       = 0.10
	defaultMaxOpenPositions    = 5
	defaultMaxDrawdownPct      = 0.20
	defaultMaxIntradayLossPct  = 0.05
	defaultConsecutiveLosses   = 5
	defaultMaxVarPct           = 0.05
	defaultVarWindow           = 30
	defaultATRMultiplier       = 2.0
	defaultATRTPMultiplier     = 3.0
	defaultSectorCapPct        = 0.30
	defaultCryptoExposurePct   = 0.30
	defaultCorrThreshold       = 0.80
	defaultCorrMode            = "reject"
	defaultCryptoPositionPct   = 0.05
	defaultCryptoStopLossPct   = 0.08
	defaultCryptoTakeProfitPct = 0.15
	defaultCryptoATRMult       = 2.5
	defaultCryptoATRTPMult     = 4.0

	defaultMaxOrdersPerDay   = 20
	defaultMaxRejectsPerHour = 10
	defaultRejectCooldownSec = 300
	defaultSessionStartHour  = 9
	defaultSessionEndHour    = 16
	defaultSessionTimezone   = "America/New_York"
	defaultMaxConsecRejects  = 5
	defaultRejectResetMins   = 30

	defaultRetryAttempts     = 3
	defaultBackoffBase       = 1.0
	defaultBackoffMax        = 30.0
	defaultBackoffJitter     = 0.5
	defaultFailureLimit      = 5

	defaultMarketSource     = "binance"
	defaultMarketInterval   = "1d"
	defaultMarketREST       = "https://api.binance.com"
	defaultRequestsPerSec   = 5.0
	defaultStaleBarSeconds  = 120
	defaultMaxGapBars       = 3

	defaultInitialBalance  = 100000
	defaultSlippagePct     = 0.001
	defaultCommission      = 0.005
	defaultPaperCash       = 100000

	defaultBaseCurrency   = "USD"
	defaultFxStaleSeconds = 3600
	defaultFeeRate        = 0.001
	defaultMarketOpen     = 9
	defaultMarketClose    = 16
	defaultMarketTZ       = "America/New_York"

	defaultAuditDBPath   = "data/audit.db"
	defaultAuditQueue    = 1024
	defaultKSPaperPath   = "data/killswitch_paper.db"
	defaultKSLivePath    = "data/killswitch_live.db"
	defaultKSTestPath    = "data/killswitch_test.db"

	defaultStrategyName = "sma_cross"
)

func (c *Config) applyDefaults() {
	c.App.applyDefaults()
	c.Risk.applyDefaults()
	c.Guardrails.applyDefaults()
	c.Outage.applyDefaults()
	c.Broker.applyDefaults()
	c.Market.applyDefaults()
	c.Backtest.applyDefaults()
	c.Live.applyDefaults()
	c.Audit.applyDefaults()
	c.Safety.applyDefaults()
	c.Strategy.applyDefaults()
}

func (a *AppConfig) applyDefaults() {
	if a.Env == "" {
		a.Env = defaultAppEnv
	}
	if a.Mode == "" {
		a.Mode = defaultAppMode
	}
	if a.LogLevel == "" {
		a.LogLevel = defaultAppLogLevel
	}
	if a.HTTPAddr == "" {
		a.HTTPAddr = defaultAppHTTPAddr
	}
}

func (r *RiskConfig) applyDefaults() {
	if r.MaxPositionPct <= 0 {
		r.MaxPositionPct = defaultMaxPositionPct
	}
	if r.MaxPortfolioRiskPct <= 0 {
		r.MaxPortfolioRiskPct = defaultMaxPortfolioRisk
	}
	if r.StopLossPct <= 0 {
		r.StopLossPct = defaultStopLossPct
	}
	if r.TakeProfitPct <= 0 {
		r.TakeProfitPct = defaultTakeProfitPct
	}
	if r.MaxOpenPositions <= 0 {
		r.MaxOpenPositions = defaultMaxOpenPositions
	}
	if r.MaxDrawdownPct <= 0 {
		r.MaxDrawdownPct = defaultMaxDrawdownPct
	}
	if r.MaxIntradayLossPct <= 0 {
		r.MaxIntradayLossPct = defaultMaxIntradayLossPct
	}
	if r.ConsecutiveLossLimit <= 0 {
		r.ConsecutiveLossLimit = defaultConsecutiveLosses
	}
	if r.MaxVarPct <= 0 {
		r.MaxVarPct = defaultMaxVarPct
	}
	if r.VarWindow <= 0 {
		r.VarWindow = defaultVarWindow
	}
	if r.ATRMultiplier <= 0 {
		r.ATRMultiplier = defaultATRMultiplier
	}
	if r.ATRTPMultiplier <= 0 {
		r.ATRTPMultiplier = defaultATRTPMultiplier
	}
	if r.MaxSectorConcentrationPct <= 0 {
		r.MaxSectorConcentrationPct = defaultSectorCapPct
	}
	if r.MaxCryptoExposurePct <= 0 {
		r.MaxCryptoExposurePct = defaultCryptoExposurePct
	}
	if r.Correlation.Threshold <= 0 {
		r.Correlation.Threshold = defaultCorrThreshold
	}
	if r.Correlation.Mode == "" {
		r.Correlation.Mode = defaultCorrMode
	}
	if r.Crypto.MaxPositionPct <= 0 {
		r.Crypto.MaxPositionPct = defaultCryptoPositionPct
	}
	if r.Crypto.StopLossPct <= 0 {
		r.Crypto.StopLossPct = defaultCryptoStopLossPct
	}
	if r.Crypto.TakeProfitPct <= 0 {
		r.Crypto.TakeProfitPct = defaultCryptoTakeProfitPct
	}
	if r.Crypto.ATRMultiplier <= 0 {
		r.Crypto.ATRMultiplier = defaultCryptoATRMult
	}
	if r.Crypto.ATRTPMultiplier <= 0 {
		r.Crypto.ATRTPMultiplier = defaultCryptoATRTPMult
	}
}

func (g *GuardrailConfig) applyDefaults() {
	if g.MaxOrdersPerDay <= 0 {
		g.MaxOrdersPerDay = defaultMaxOrdersPerDay
	}
	if g.MaxRejectsPerHour <= 0 {
		g.MaxRejectsPerHour = defaultMaxRejectsPerHour
	}
	if g.RejectCooldownSeconds <= 0 {
		g.RejectCooldownSeconds = defaultRejectCooldownSec
	}
	if g.SessionEndHour <= 0 {
		g.SessionStartHour = defaultSessionStartHour
		g.SessionEndHour = defaultSessionEndHour
	}
	if g.SessionTimezone == "" {
		g.SessionTimezone = defaultSessionTimezone
	}
	if g.MaxConsecutiveRejects <= 0 {
		g.MaxConsecutiveRejects = defaultMaxConsecRejects
	}
	if g.ConsecutiveRejectResetMinutes <= 0 {
		g.ConsecutiveRejectResetMinutes = defaultRejectResetMins
	}
}

func (o *OutageConfig) applyDefaults() {
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = defaultRetryAttempts
	}
	if o.BackoffBaseSeconds <= 0 {
		o.BackoffBaseSeconds = defaultBackoffBase
	}
	if o.BackoffMaxSeconds <= 0 {
		o.BackoffMaxSeconds = defaultBackoffMax
	}
	if o.BackoffJitterSeconds < 0 {
		o.BackoffJitterSeconds = defaultBackoffJitter
	}
	if o.ConsecutiveFailureLimit <= 0 {
		o.ConsecutiveFailureLimit = defaultFailureLimit
	}
}

func (b *BrokerConfig) applyDefaults() {
	if b.Venue == "" {
		b.Venue = "paper"
	}
	if b.Paper.InitialCash <= 0 {
		b.Paper.InitialCash = defaultPaperCash
	}
}

func (m *MarketConfig) applyDefaults() {
	if m.Source == "" {
		m.Source = defaultMarketSource
	}
	if m.Interval == "" {
		m.Interval = defaultMarketInterval
	}
	if m.RESTBaseURL == "" {
		m.RESTBaseURL = defaultMarketREST
	}
	if m.RequestsPerSec <= 0 {
		m.RequestsPerSec = defaultRequestsPerSec
	}
	if m.StaleBarSeconds <= 0 {
		m.StaleBarSeconds = defaultStaleBarSeconds
	}
	if m.MaxGapBars <= 0 {
		m.MaxGapBars = defaultMaxGapBars
	}
}

func (b *BacktestConfig) applyDefaults() {
	if b.InitialBalance <= 0 {
		b.InitialBalance = defaultInitialBalance
	}
	if b.SlippagePct < 0 {
		b.SlippagePct = 0
	}
	if b.SlippagePct == 0 {
		b.SlippagePct = defaultSlippagePct
	}
	if b.CommissionPerShare < 0 {
		b.CommissionPerShare = 0
	}
	if b.CommissionPerShare == 0 {
		b.CommissionPerShare = defaultCommission
	}
}

func (l *LiveConfig) applyDefaults() {
	if l.BaseCurrency == "" {
		l.BaseCurrency = defaultBaseCurrency
	}
	if l.FxStaleSeconds <= 0 {
		l.FxStaleSeconds = defaultFxStaleSeconds
	}
	if l.MarketCloseHour <= 0 {
		l.MarketOpenHour = defaultMarketOpen
		l.MarketCloseHour = defaultMarketClose
	}
	if l.MarketTimezone == "" {
		l.MarketTimezone = defaultMarketTZ
	}
	if l.FeeRate <= 0 {
		l.FeeRate = defaultFeeRate
	}
}

func (a *AuditConfig) applyDefaults() {
	if a.DBPath == "" {
		a.DBPath = defaultAuditDBPath
	}
	if a.QueueSize <= 0 {
		a.QueueSize = defaultAuditQueue
	}
}

func (s *SafetyConfig) applyDefaults() {
	if s.PaperPath == "" {
		s.PaperPath = defaultKSPaperPath
	}
	if s.LivePath == "" {
		s.LivePath = defaultKSLivePath
	}
	if s.TestPath == "" {
		s.TestPath = defaultKSTestPath
	}
}

func (s *StrategyConfig) applyDefaults() {
	if s.Name == "" {
		s.Name = defaultStrategyName
	}
}
