package market

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"riskpilot/internal/config"
	"riskpilot/internal/safety"
	"riskpilot/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T) (*QualityGate, *safety.KillSwitch) {
	t.Helper()
	ks, err := safety.Open(filepath.Join(t.TempDir(), "killswitch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ks.Close() })

	cfg := config.MarketConfig{StaleBarSeconds: 120, MaxGapBars: 3}
	return NewQualityGate(cfg, time.Minute, ks), ks
}

func bar(sym string, at time.Time) types.Bar {
	return types.Bar{Symbol: sym, Timestamp: at, Open: 100, High: 101, Low: 99, Close: 100, Volume: 10}
}

func TestFreshBarsPass(t *testing.T) {
	g, _ := newTestGate(t)
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })

	assert.Nil(t, g.Check(context.Background(), bar("BTCUSDT", now.Add(-time.Minute))))
}

func TestThreeConsecutiveStaleBarsTripKillSwitch(t *testing.T) {
	g, ks := newTestGate(t)
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })
	ctx := context.Background()

	old := bar("BTCUSDT", now.Add(-10*time.Minute))
	for i := 0; i < 2; i++ {
		issue := g.Check(ctx, old)
		require.NotNil(t, issue)
		assert.Equal(t, "stale", issue.Kind)
		active, _ := ks.Active()
		assert.False(t, active, "switch must not trip before the third stale bar")
	}

	issue := g.Check(ctx, old)
	require.NotNil(t, issue)
	active, reason := ks.Active()
	assert.True(t, active)
	assert.Contains(t, reason, "stale")
}

func TestFreshBarResetsStaleRun(t *testing.T) {
	g, ks := newTestGate(t)
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })
	ctx := context.Background()

	old := bar("BTCUSDT", now.Add(-10*time.Minute))
	require.NotNil(t, g.Check(ctx, old))
	require.NotNil(t, g.Check(ctx, old))
	require.Nil(t, g.Check(ctx, bar("BTCUSDT", now.Add(-time.Minute))))
	require.NotNil(t, g.Check(ctx, old))

	active, _ := ks.Active()
	assert.False(t, active)
}

func TestStaleRunIsPerSymbol(t *testing.T) {
	g, ks := newTestGate(t)
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })
	ctx := context.Background()

	for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
		require.NotNil(t, g.Check(ctx, bar(sym, now.Add(-10*time.Minute))))
		require.NotNil(t, g.Check(ctx, bar(sym, now.Add(-10*time.Minute))))
	}
	active, _ := ks.Active()
	assert.False(t, active, "two stale bars each on two symbols must not trip")
}

func TestGapDetection(t *testing.T) {
	g, _ := newTestGate(t)
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })
	ctx := context.Background()

	require.Nil(t, g.Check(ctx, bar("BTCUSDT", now.Add(-time.Minute))))
	g.SetClock(func() time.Time { return now.Add(10 * time.Minute) })
	issue := g.Check(ctx, bar("BTCUSDT", now.Add(9*time.Minute)))
	require.NotNil(t, issue)
	assert.Equal(t, "gap", issue.Kind)
}

func TestInvalidBarRejected(t *testing.T) {
	g, _ := newTestGate(t)
	issue := g.Check(context.Background(), types.Bar{Symbol: "BTCUSDT"})
	require.NotNil(t, issue)
	assert.Equal(t, "invalid", issue.Kind)
}

func TestParseInterval(t *testing.T) {
	for in, want := range map[string]time.Duration{
		"1m": time.Minute,
		"4h": 4 * time.Hour,
		"1d": 24 * time.Hour,
	} {
		got, err := ParseInterval(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseInterval("abc")
	assert.Error(t, err)
}
