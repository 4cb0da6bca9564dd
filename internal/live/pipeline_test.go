package live

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"riskpilot/internal/audit"
	"riskpilot/internal/broker"
	"riskpilot/internal/config"
	"riskpilot/internal/market"
	"riskpilot/internal/portfolio"
	"riskpilot/internal/risk"
	"riskpilot/internal/safety"
	"riskpilot/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGen replays one signal kind per symbol whenever the last bar's
// close matches a trigger price; otherwise it holds.
type scriptedGen struct {
	triggers map[float64]types.SignalKind
}

func (s *scriptedGen) Name() string { return "scripted" }

func (s *scriptedGen) OnBar(history []types.Bar) (*types.Signal, error) {
	last := history[len(history)-1]
	kind, ok := s.triggers[last.Close]
	if !ok {
		return nil, nil
	}
	strength := 1.0
	if kind == types.SignalClose {
		strength = 0
	}
	sig, err := types.NewSignal(last.Symbol, kind, strength, last.Timestamp, "scripted")
	if err != nil {
		return nil, err
	}
	return &sig, nil
}

type fixture struct {
	pipeline *Pipeline
	ks       *safety.KillSwitch
	auditLog *audit.Logger
	paper    *broker.Paper
	riskMgr  *risk.Manager
	now      time.Time
}

func liveRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionPct:       0.5,
		MaxPortfolioRiskPct:  0.02,
		StopLossPct:          0.05,
		TakeProfitPct:        0.10,
		MaxOpenPositions:     10,
		MaxDrawdownPct:       0.9,
		MaxIntradayLossPct:   0.9,
		ConsecutiveLossLimit: 100,
		MaxVarPct:            0.9,
		VarWindow:            30,
		MaxCryptoExposurePct: 1.0,
		Correlation:          config.CorrelationConfig{Threshold: 0.99, Mode: "reject"},
		Crypto: config.CryptoRiskConfig{
			MaxPositionPct: 0.5,
			StopLossPct:    0.05,
			TakeProfitPct:  0.10,
		},
	}
}

func newFixture(t *testing.T, gen *scriptedGen, riskCfg config.RiskConfig) *fixture {
	t.Helper()
	dir := t.TempDir()

	ks, err := safety.Open(filepath.Join(dir, "killswitch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ks.Close() })

	store, err := audit.NewStore(filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	auditLog := audit.NewLogger(store)
	auditLog.Start()
	t.Cleanup(auditLog.Stop)

	now := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	riskMgr := risk.NewManager(riskCfg)
	paper := broker.NewPaper(10000)
	res := broker.NewResilience(config.OutageConfig{
		RetryAttempts:           2,
		ConsecutiveFailureLimit: 5,
	}, ks, auditLog)
	res.SetSleep(func(time.Duration) {})

	quality := market.NewQualityGate(config.MarketConfig{StaleBarSeconds: 300, MaxGapBars: 10}, time.Minute, ks)
	quality.SetClock(func() time.Time { return now })

	liveCfg := config.LiveConfig{
		BaseCurrency:    "USD",
		MarketOpenHour:  9,
		MarketCloseHour: 16,
		MarketTimezone:  "UTC",
		FeeRate:         0.001,
	}
	tracker := portfolio.NewTracker("USD", nil, time.Hour)
	p := NewPipeline(liveCfg, quality, ks, gen, riskMgr, res, paper, auditLog, tracker)
	p.SetClock(func() time.Time { return now })

	return &fixture{pipeline: p, ks: ks, auditLog: auditLog, paper: paper, riskMgr: riskMgr, now: now}
}

func (f *fixture) bar(sym string, close float64) types.Bar {
	return types.Bar{
		Symbol: sym, Timestamp: f.now.Add(-time.Minute),
		Open: close, High: close, Low: close, Close: close, Volume: 100,
	}
}

func (f *fixture) events(t *testing.T, eventType string) []audit.Event {
	t.Helper()
	f.auditLog.Flush()
	events, err := f.auditLog.QueryEvents(context.Background(), audit.Filter{Type: eventType}, 100)
	require.NoError(t, err)
	return events
}

func TestBarToFillFlow(t *testing.T) {
	gen := &scriptedGen{triggers: map[float64]types.SignalKind{150: types.SignalLong}}
	f := newFixture(t, gen, liveRiskConfig())

	require.NoError(t, f.pipeline.ProcessBar(context.Background(), f.bar("AAPL", 150)))

	fills := f.events(t, audit.EventOrderFilled)
	require.Len(t, fills, 1)
	assert.Equal(t, "AAPL", fills[0].Symbol)

	positions, _ := f.paper.GetPositions(context.Background())
	require.Contains(t, positions, "AAPL")
	// 10000*0.02/(150*0.05) = 26.6667 from the risk leg.
	assert.InDelta(t, 26.6667, positions["AAPL"].Quantity, 1e-3)

	marks := f.events(t, audit.EventEquityMark)
	require.Len(t, marks, 1, "snapshot must run even after trading activity")
}

func TestSnapshotRunsWithoutSignal(t *testing.T) {
	gen := &scriptedGen{triggers: map[float64]types.SignalKind{}}
	f := newFixture(t, gen, liveRiskConfig())

	require.NoError(t, f.pipeline.ProcessBar(context.Background(), f.bar("AAPL", 100)))
	marks := f.events(t, audit.EventEquityMark)
	assert.Len(t, marks, 1)
}

func TestStaleBarIsSkipped(t *testing.T) {
	gen := &scriptedGen{triggers: map[float64]types.SignalKind{150: types.SignalLong}}
	f := newFixture(t, gen, liveRiskConfig())

	stale := f.bar("AAPL", 150)
	stale.Timestamp = f.now.Add(-time.Hour)
	require.NoError(t, f.pipeline.ProcessBar(context.Background(), stale))

	assert.Len(t, f.events(t, audit.EventDataQuality), 1)
	assert.Empty(t, f.events(t, audit.EventOrderApproved))
	assert.Empty(t, f.events(t, audit.EventEquityMark), "skipped bars take no snapshot")
}

func TestActiveKillSwitchUnwindsSession(t *testing.T) {
	gen := &scriptedGen{triggers: map[float64]types.SignalKind{}}
	f := newFixture(t, gen, liveRiskConfig())
	f.ks.Trigger(context.Background(), "manual halt")

	err := f.pipeline.ProcessBar(context.Background(), f.bar("AAPL", 100))
	require.ErrorIs(t, err, safety.ErrHalted)
}

func TestMarketHoursFilterBypassedForCrypto(t *testing.T) {
	gen := &scriptedGen{triggers: map[float64]types.SignalKind{50000: types.SignalLong, 150: types.SignalLong}}
	f := newFixture(t, gen, liveRiskConfig())

	// 03:00 UTC: equities are outside the window, crypto trades through.
	night := time.Date(2024, 3, 4, 3, 0, 0, 0, time.UTC)
	f.now = night
	f.pipeline.SetClock(func() time.Time { return night })
	f.pipeline.quality.SetClock(func() time.Time { return night })

	require.NoError(t, f.pipeline.ProcessBar(context.Background(), f.bar("AAPL", 150)))
	assert.Len(t, f.events(t, audit.EventBarSkipped), 1)
	assert.Empty(t, f.events(t, audit.EventOrderApproved))

	require.NoError(t, f.pipeline.ProcessBar(context.Background(), f.bar("BTCUSDT", 50000)))
	assert.Len(t, f.events(t, audit.EventOrderApproved), 1)
}

func TestLosingCloseFeedsLossBreaker(t *testing.T) {
	gen := &scriptedGen{triggers: map[float64]types.SignalKind{
		100: types.SignalLong,
		90:  types.SignalClose,
	}}
	cfg := liveRiskConfig()
	cfg.ConsecutiveLossLimit = 1
	f := newFixture(t, gen, cfg)
	ctx := context.Background()

	require.NoError(t, f.pipeline.ProcessBar(ctx, f.bar("AAPL", 100)))
	require.NoError(t, f.pipeline.ProcessBar(ctx, f.bar("AAPL", 90)))

	fills := f.events(t, audit.EventOrderFilled)
	require.Len(t, fills, 2)

	// The losing close tripped the consecutive-loss breaker at limit 1.
	sig, err := types.NewSignal("MSFT", types.SignalLong, 1.0, f.now, "scripted")
	require.NoError(t, err)
	_, rej := f.riskMgr.Approve(sig, 10000, 100, nil)
	require.NotNil(t, rej)
	assert.Equal(t, risk.CodeConsecutiveLossHalt, rej.Code)
}

func TestRejectionFeedsGuardrails(t *testing.T) {
	gen := &scriptedGen{triggers: map[float64]types.SignalKind{150: types.SignalLong}}
	cfg := liveRiskConfig()
	cfg.MaxOpenPositions = 0
	f := newFixture(t, gen, cfg)

	guardrails := risk.NewPaperGuardrails(config.GuardrailConfig{
		AutoStopEnabled:               true,
		MaxConsecutiveRejects:         1,
		ConsecutiveRejectResetMinutes: 30,
	})
	f.pipeline.riskMgr = risk.NewManager(cfg, risk.WithGuardrails(guardrails))

	// Force a rejection path: positions can never be opened with limit 0...
	// the long gets MAX_POSITIONS and the guardrail counter advances.
	require.NoError(t, f.pipeline.ProcessBar(context.Background(), f.bar("AAPL", 150)))
	rejects := f.events(t, audit.EventOrderRejected)
	require.Len(t, rejects, 1)
	assert.Equal(t, map[string]any{
		"orders_today":        0,
		"rejects_last_hour":   1,
		"cooldowns":           0,
		"consecutive_rejects": 1,
	}, guardrails.Status())
}
