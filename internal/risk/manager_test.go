package risk

import (
	"testing"
	"time"

	"riskpilot/internal/config"
	"riskpilot/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRiskConfig() config.RiskConfig {
	cfg := config.RiskConfig{
		MaxPositionPct:       0.10,
		MaxPortfolioRiskPct:  0.02,
		StopLossPct:          0.05,
		TakeProfitPct:        0.10,
		MaxOpenPositions:     5,
		MaxDrawdownPct:       0.20,
		MaxIntradayLossPct:   0.05,
		ConsecutiveLossLimit: 3,
		MaxVarPct:            0.05,
		VarWindow:            30,
		MaxCryptoExposurePct: 0.30,
		Correlation:          config.CorrelationConfig{Threshold: 0.8, Mode: "reject"},
	}
	cfg.Crypto = config.CryptoRiskConfig{
		MaxPositionPct:  0.05,
		StopLossPct:     0.08,
		TakeProfitPct:   0.15,
		ATRMultiplier:   2.5,
		ATRTPMultiplier: 4.0,
	}
	return cfg
}

func longSignal(sym string, strength float64) types.Signal {
	sig, err := types.NewSignal(sym, types.SignalLong, strength, time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC), "sma_cross")
	if err != nil {
		panic(err)
	}
	return sig
}

func TestFixedFractionalSizing(t *testing.T) {
	m := NewManager(testRiskConfig())

	// qtyFromRisk = 100000*0.02*1.0/(150*0.05) = 266.667
	// qtyFromCap  = 100000*0.10/150           = 66.667
	order, rej := m.Approve(longSignal("AAPL", 1.0), 100000, 150, nil)
	require.Nil(t, rej)
	require.NotNil(t, order)
	assert.Equal(t, types.OrderBuy, order.Side)
	assert.InDelta(t, 66.6667, order.Quantity, 1e-4)
	assert.InDelta(t, 150*0.95, order.StopLoss, 1e-9)
	assert.InDelta(t, 150*1.10, order.TakeProfit, 1e-9)
}

func TestSizingScalesWithStrength(t *testing.T) {
	m := NewManager(testRiskConfig())

	// strength 0.2: qtyFromRisk = 53.333 < qtyFromCap, so the risk leg wins.
	weak, rej := m.Approve(longSignal("AAPL", 0.2), 100000, 150, nil)
	require.Nil(t, rej)
	require.NotNil(t, weak)
	assert.InDelta(t, 53.3333, weak.Quantity, 1e-4)

	m2 := NewManager(testRiskConfig())
	strong, rej := m2.Approve(longSignal("AAPL", 1.0), 100000, 150, nil)
	require.Nil(t, rej)
	assert.Greater(t, strong.Quantity, weak.Quantity)
}

func TestQuantityMonotoneInStrength(t *testing.T) {
	prev := 0.0
	for _, strength := range []float64{0.1, 0.25, 0.5, 0.75, 1.0} {
		m := NewManager(testRiskConfig())
		order, rej := m.Approve(longSignal("AAPL", strength), 100000, 150, nil)
		require.Nil(t, rej, "strength %v", strength)
		require.NotNil(t, order)
		assert.GreaterOrEqual(t, order.Quantity, prev)
		prev = order.Quantity
	}
}

func TestDrawdownBreaker(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxIntradayLossPct = 0.95 // isolate the drawdown gate
	m := NewManager(cfg)

	// Establish peak at 100000.
	_, rej := m.Approve(longSignal("AAPL", 1.0), 100000, 150, nil)
	require.Nil(t, rej)

	// Exactly 20% drawdown is the boundary: still approved.
	order, rej := m.Approve(longSignal("MSFT", 1.0), 80000, 150, nil)
	require.Nil(t, rej)
	require.NotNil(t, order)

	// Strictly beyond the limit halts.
	_, rej = m.Approve(longSignal("MSFT", 1.0), 79999, 150, nil)
	require.NotNil(t, rej)
	assert.Equal(t, CodeDrawdownHalt, rej.Code)

	// Recovery back to the boundary reopens approvals.
	order, rej = m.Approve(longSignal("MSFT", 1.0), 80000, 150, nil)
	require.Nil(t, rej)
	require.NotNil(t, order)
}

func TestPeakEquityNeverDecreases(t *testing.T) {
	m := NewManager(testRiskConfig())
	_, _ = m.Approve(longSignal("AAPL", 1.0), 120000, 150, nil)
	// A lower value must be judged against the 120000 peak.
	_, rej := m.Approve(longSignal("AAPL", 1.0), 95000, 150, nil)
	require.NotNil(t, rej)
	assert.Equal(t, CodeDrawdownHalt, rej.Code)
}

func TestIntradayLossBreaker(t *testing.T) {
	m := NewManager(testRiskConfig())

	day1 := time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)
	sig := func(at time.Time) types.Signal {
		s, err := types.NewSignal("AAPL", types.SignalLong, 1.0, at, "sma_cross")
		require.NoError(t, err)
		return s
	}

	// First signal of the day sets the baseline.
	_, rej := m.Approve(sig(day1), 100000, 150, nil)
	require.Nil(t, rej)

	// 6% intraday loss breaches the 5% limit.
	_, rej = m.Approve(sig(day1.Add(2*time.Hour)), 94000, 150, nil)
	require.NotNil(t, rej)
	assert.Equal(t, CodeIntradayLossHalt, rej.Code)

	// A new UTC day resets the baseline.
	day2 := day1.Add(24 * time.Hour)
	order, rej := m.Approve(sig(day2), 94000, 150, nil)
	require.Nil(t, rej)
	require.NotNil(t, order)
}

func TestConsecutiveLossBreaker(t *testing.T) {
	m := NewManager(testRiskConfig())
	m.RecordTradeResult(false)
	m.RecordTradeResult(false)
	m.RecordTradeResult(false)

	_, rej := m.Approve(longSignal("AAPL", 1.0), 100000, 150, nil)
	require.NotNil(t, rej)
	assert.Equal(t, CodeConsecutiveLossHalt, rej.Code)

	// A single profitable close resets the run.
	m.RecordTradeResult(true)
	order, rej := m.Approve(longSignal("AAPL", 1.0), 100000, 150, nil)
	require.Nil(t, rej)
	require.NotNil(t, order)
}

func TestVarGateFailsAtEquality(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxVarPct = 0.03
	m := NewManager(cfg)

	// Ten returns whose 5th percentile is exactly -3%.
	for i := 0; i < 9; i++ {
		m.UpdatePortfolioReturn(0.01)
	}
	m.UpdatePortfolioReturn(-0.03)
	require.GreaterOrEqual(t, m.VaR95(), 0.03)

	_, rej := m.Approve(longSignal("AAPL", 1.0), 100000, 150, nil)
	require.NotNil(t, rej)
	assert.Equal(t, CodeVarGate, rej.Code)
}

func TestCloseEmitsFullSizeSell(t *testing.T) {
	m := NewManager(testRiskConfig())
	sig, err := types.NewSignal("AAPL", types.SignalClose, 0, time.Now(), "sma_cross")
	require.NoError(t, err)

	open := map[string]types.Position{
		"AAPL": {Symbol: "AAPL", Quantity: 42, AvgEntryPrice: 100, CurrentPrice: 150},
	}
	order, rej := m.Approve(sig, 100000, 150, open)
	require.Nil(t, rej)
	require.NotNil(t, order)
	assert.Equal(t, types.OrderSell, order.Side)
	assert.Equal(t, 42.0, order.Quantity)

	// Close with no position is a silent no-op.
	order, rej = m.Approve(sig, 100000, 150, nil)
	assert.Nil(t, order)
	assert.Nil(t, rej)
}

func TestDuplicateAndMaxPositions(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxOpenPositions = 2
	m := NewManager(cfg)

	open := map[string]types.Position{
		"AAPL": {Symbol: "AAPL", Quantity: 10, CurrentPrice: 150},
	}
	_, rej := m.Approve(longSignal("AAPL", 1.0), 100000, 150, open)
	require.NotNil(t, rej)
	assert.Equal(t, CodeDuplicatePosition, rej.Code)

	open["MSFT"] = types.Position{Symbol: "MSFT", Quantity: 5, CurrentPrice: 400}
	_, rej = m.Approve(longSignal("GOOG", 1.0), 100000, 150, open)
	require.NotNil(t, rej)
	assert.Equal(t, CodeMaxPositions, rej.Code)
}

func TestCorrelationRejectMode(t *testing.T) {
	corr := NewStaticCorrelation()
	corr.Set("AAPL", "MSFT", 0.92)
	m := NewManager(testRiskConfig(), WithCorrelation(corr))

	open := map[string]types.Position{
		"MSFT": {Symbol: "MSFT", Quantity: 5, CurrentPrice: 400},
	}
	_, rej := m.Approve(longSignal("AAPL", 1.0), 100000, 150, open)
	require.NotNil(t, rej)
	assert.Equal(t, CodeCorrelationLimit, rej.Code)
}

func TestCorrelationScaleMode(t *testing.T) {
	cfg := testRiskConfig()
	cfg.Correlation.Mode = "scale"
	corr := NewStaticCorrelation()
	corr.Set("AAPL", "MSFT", 0.9)
	m := NewManager(cfg, WithCorrelation(corr))

	open := map[string]types.Position{
		"MSFT": {Symbol: "MSFT", Quantity: 5, CurrentPrice: 400},
	}
	// scale = 1 - (0.9-0.8)/(1-0.8) = 0.5, so effective strength 0.5:
	// qtyFromRisk = 100000*0.02*0.5/(150*0.05) = 133.333, cap still 66.667.
	order, rej := m.Approve(longSignal("AAPL", 1.0), 100000, 150, open)
	require.Nil(t, rej)
	require.NotNil(t, order)
	assert.InDelta(t, 66.6667, order.Quantity, 1e-4)

	// Perfect correlation scales strength to zero and rejects.
	corr.Set("AAPL", "MSFT", 1.0)
	_, rej = m.Approve(longSignal("AAPL", 1.0), 100000, 150, open)
	require.NotNil(t, rej)
	assert.Equal(t, CodeCorrelationLimit, rej.Code)
}

func TestATRStops(t *testing.T) {
	cfg := testRiskConfig()
	cfg.UseATRStops = true
	cfg.ATRMultiplier = 2.0
	cfg.ATRTPMultiplier = 3.0
	m := NewManager(cfg)

	sig := longSignal("AAPL", 1.0)
	sig.Metadata = map[string]float64{"atr": 3.0}
	order, rej := m.Approve(sig, 100000, 150, nil)
	require.Nil(t, rej)
	require.NotNil(t, order)
	assert.InDelta(t, 144.0, order.StopLoss, 1e-9)
	assert.InDelta(t, 159.0, order.TakeProfit, 1e-9)
}

func TestCryptoExposureGate(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxCryptoExposurePct = 0.10
	cfg.Crypto.MaxPositionPct = 0.20
	m := NewManager(cfg)

	open := map[string]types.Position{
		"ETHUSDT": {Symbol: "ETHUSDT", Quantity: 3, AvgEntryPrice: 3000, CurrentPrice: 3000},
	}
	// Existing crypto 9000 plus a sized BTC position pushes past 10% of 100000.
	_, rej := m.Approve(longSignal("BTCUSDT", 1.0), 100000, 50000, open)
	require.NotNil(t, rej)
	assert.Equal(t, CodeCryptoExposure, rej.Code)
}

func TestSectorConcentrationGate(t *testing.T) {
	cfg := testRiskConfig()
	cfg.SectorGateEnabled = true
	cfg.MaxSectorConcentrationPct = 0.15
	sectors := StaticSectors{"AAPL": "tech", "MSFT": "tech"}
	m := NewManager(cfg, WithSectors(sectors))

	open := map[string]types.Position{
		"MSFT": {Symbol: "MSFT", Quantity: 30, AvgEntryPrice: 400, CurrentPrice: 400},
	}
	// Existing tech 12000 + new ~10000 > 15% of 100000.
	_, rej := m.Approve(longSignal("AAPL", 1.0), 100000, 150, open)
	require.NotNil(t, rej)
	assert.Equal(t, CodeSectorConcentration, rej.Code)

	// Disabled gate skips the check entirely.
	cfg.SectorGateEnabled = false
	m2 := NewManager(cfg, WithSectors(sectors))
	order, rej := m2.Approve(longSignal("AAPL", 1.0), 100000, 150, open)
	require.Nil(t, rej)
	require.NotNil(t, order)
}

func TestRejectsUnusableSizingInputs(t *testing.T) {
	m := NewManager(testRiskConfig())
	_, rej := m.Approve(longSignal("AAPL", 1.0), 100000, 0, nil)
	require.NotNil(t, rej)
	assert.Equal(t, CodePositionSize, rej.Code)
}

func TestHotReloadedLimitsApply(t *testing.T) {
	m := NewManager(testRiskConfig())
	_, rej := m.Approve(longSignal("AAPL", 1.0), 100000, 150, nil)
	require.Nil(t, rej)

	tight := testRiskConfig()
	tight.MaxDrawdownPct = 0.01
	m.SetLimits(tight)

	_, rej = m.Approve(longSignal("AAPL", 1.0), 95000, 150, nil)
	require.NotNil(t, rej)
	assert.Equal(t, CodeDrawdownHalt, rej.Code)
}
