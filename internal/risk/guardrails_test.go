package risk

import (
	"testing"
	"time"

	"riskpilot/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGuardrailConfig() config.GuardrailConfig {
	return config.GuardrailConfig{
		DailyLimitEnabled:             true,
		MaxOrdersPerDay:               10,
		RejectRateEnabled:             true,
		MaxRejectsPerHour:             20,
		CooldownEnabled:               true,
		RejectCooldownSeconds:         300,
		SessionEnabled:                true,
		SessionStartHour:              9,
		SessionEndHour:                16,
		SessionTimezone:               "UTC",
		CryptoBypassHours:             true,
		AutoStopEnabled:               true,
		MaxConsecutiveRejects:         3,
		ConsecutiveRejectResetMinutes: 30,
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestDailyLimitPassesAtExactLimit(t *testing.T) {
	g := NewPaperGuardrails(testGuardrailConfig())
	noon := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	g.SetClock(fixedClock(noon))

	for i := 0; i < 10; i++ {
		g.RecordOrder()
	}
	assert.Empty(t, g.AllChecks("AAPL", false))

	g.RecordOrder()
	reasons := g.AllChecks("AAPL", false)
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "daily order limit")
}

func TestDailyLimitResetsAtUTCMidnight(t *testing.T) {
	g := NewPaperGuardrails(testGuardrailConfig())
	lateDay1 := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	g.SetClock(fixedClock(lateDay1))
	for i := 0; i < 11; i++ {
		g.RecordOrder()
	}
	require.NotEmpty(t, g.AllChecks("AAPL", false))

	g.SetClock(fixedClock(lateDay1.Add(20 * time.Hour))) // 11:00 next day
	assert.Empty(t, g.AllChecks("AAPL", false))
}

func TestRejectRateWindow(t *testing.T) {
	g := NewPaperGuardrails(testGuardrailConfig())
	noon := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	g.SetClock(fixedClock(noon))

	for i := 0; i < 21; i++ {
		g.rejectsHour = append(g.rejectsHour, noon.Add(-30*time.Minute))
	}
	reasons := g.AllChecks("AAPL", false)
	require.NotEmpty(t, reasons)
	assert.Contains(t, reasons[0], "reject rate")

	// The whole burst ages out of the trailing hour.
	g.SetClock(fixedClock(noon.Add(31 * time.Minute)))
	assert.Empty(t, g.AllChecks("AAPL", false))
}

func TestCooldownIsPerSymbol(t *testing.T) {
	g := NewPaperGuardrails(testGuardrailConfig())
	noon := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	g.SetClock(fixedClock(noon))

	g.RecordReject("AAPL")
	reasons := g.AllChecks("AAPL", false)
	require.NotEmpty(t, reasons)
	assert.Contains(t, reasons[0], "cooldown")
	assert.Empty(t, g.AllChecks("MSFT", false))

	g.SetClock(fixedClock(noon.Add(301 * time.Second)))
	assert.Empty(t, g.AllChecks("AAPL", false))
}

func TestSessionWindow(t *testing.T) {
	g := NewPaperGuardrails(testGuardrailConfig())

	g.SetClock(fixedClock(time.Date(2024, 3, 4, 8, 59, 0, 0, time.UTC)))
	reasons := g.AllChecks("AAPL", false)
	require.NotEmpty(t, reasons)
	assert.Contains(t, reasons[0], "session window")

	// Start hour is inclusive, end hour exclusive.
	g.SetClock(fixedClock(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)))
	assert.Empty(t, g.AllChecks("AAPL", false))

	g.SetClock(fixedClock(time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)))
	assert.NotEmpty(t, g.AllChecks("AAPL", false))

	// Crypto bypasses the window when configured to.
	assert.Empty(t, g.AllChecks("BTCUSDT", true))
}

func TestAutoStopTripsPastLimitAndFillResets(t *testing.T) {
	g := NewPaperGuardrails(testGuardrailConfig())
	cfg := g.cfg
	cfg.CooldownEnabled = false // keep the cooldown check out of the way
	g.cfg = cfg
	noon := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

	// Limit rejects within the reset window: still trading.
	for i := 0; i < 3; i++ {
		g.SetClock(fixedClock(noon.Add(time.Duration(i) * time.Minute)))
		g.RecordReject("AAPL")
	}
	g.SetClock(fixedClock(noon.Add(4 * time.Minute)))
	assert.Empty(t, g.AllChecks("AAPL", false))

	// One more inside the window trips the stop.
	g.RecordReject("AAPL")
	reasons := g.AllChecks("AAPL", false)
	require.NotEmpty(t, reasons)
	assert.Contains(t, reasons[0], "auto-stop")

	// A single fill resets the counter.
	g.RecordFill()
	assert.Empty(t, g.AllChecks("AAPL", false))
}

func TestAutoStopRunRestartsOutsideResetWindow(t *testing.T) {
	g := NewPaperGuardrails(testGuardrailConfig())
	cfg := g.cfg
	cfg.CooldownEnabled = false
	g.cfg = cfg
	noon := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		g.SetClock(fixedClock(noon.Add(time.Duration(i) * time.Hour)))
		g.RecordReject("AAPL")
	}
	// Each reject landed more than 30 minutes after the previous one, so the
	// run keeps restarting at 1.
	assert.Empty(t, g.AllChecks("AAPL", false))
	assert.Equal(t, 1, g.consecutiveRejects)
}

func TestDisabledChecksAlwaysPass(t *testing.T) {
	cfg := testGuardrailConfig()
	cfg.DailyLimitEnabled = false
	cfg.RejectRateEnabled = false
	cfg.CooldownEnabled = false
	cfg.SessionEnabled = false
	cfg.AutoStopEnabled = false
	g := NewPaperGuardrails(cfg)
	g.SetClock(fixedClock(time.Date(2024, 3, 4, 3, 0, 0, 0, time.UTC)))

	for i := 0; i < 50; i++ {
		g.RecordOrder()
		g.RecordReject("AAPL")
	}
	assert.Empty(t, g.AllChecks("AAPL", false))
}
