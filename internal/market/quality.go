package market

import (
	"context"
	"fmt"
	"time"

	"riskpilot/internal/config"
	"riskpilot/internal/safety"
	"riskpilot/internal/types"
)

const staleEscalationLimit = 3

// Issue is a per-bar quality finding. The pipeline skips the bar and audits
// the reason; the gate itself escalates repeated staleness to the kill
// switch.
type Issue struct {
	Kind   string // "invalid" | "stale" | "gap"
	Reason string
}

type symbolState struct {
	lastBarTime      time.Time
	consecutiveStale int
}

// QualityGate screens incoming live bars for staleness and gaps. State is
// per symbol and touched only from the bar loop; three stale bars in a row
// for one symbol trip the kill switch.
type QualityGate struct {
	staleAfter time.Duration
	maxGapBars int
	interval   time.Duration
	ks         *safety.KillSwitch
	now        func() time.Time

	symbols map[string]*symbolState
}

func NewQualityGate(cfg config.MarketConfig, interval time.Duration, ks *safety.KillSwitch) *QualityGate {
	return &QualityGate{
		staleAfter: time.Duration(cfg.StaleBarSeconds) * time.Second,
		maxGapBars: cfg.MaxGapBars,
		interval:   interval,
		ks:         ks,
		now:        func() time.Time { return time.Now().UTC() },
		symbols:    make(map[string]*symbolState),
	}
}

// SetClock replaces the time source. Tests only.
func (g *QualityGate) SetClock(now func() time.Time) { g.now = now }

// Check screens one bar. A nil return means the bar is clean. Stale and gap
// findings advance per-symbol state; a clean bar resets the stale run.
func (g *QualityGate) Check(ctx context.Context, bar types.Bar) *Issue {
	if err := bar.Validate(); err != nil {
		return &Issue{Kind: "invalid", Reason: err.Error()}
	}

	st, ok := g.symbols[bar.Symbol]
	if !ok {
		st = &symbolState{}
		g.symbols[bar.Symbol] = st
	}

	if g.staleAfter > 0 {
		if age := g.now().Sub(bar.Timestamp.UTC()); age > g.staleAfter {
			st.consecutiveStale++
			if st.consecutiveStale >= staleEscalationLimit {
				g.ks.Trigger(ctx, fmt.Sprintf(
					"data quality: %d consecutive stale bars for %s (last age %s)",
					st.consecutiveStale, bar.Symbol, age.Round(time.Second)))
			}
			return &Issue{
				Kind:   "stale",
				Reason: fmt.Sprintf("bar age %s exceeds limit %s", age.Round(time.Second), g.staleAfter),
			}
		}
	}
	st.consecutiveStale = 0

	if g.maxGapBars > 0 && !st.lastBarTime.IsZero() && g.interval > 0 {
		gap := bar.Timestamp.UTC().Sub(st.lastBarTime)
		if gap > time.Duration(g.maxGapBars)*g.interval {
			st.lastBarTime = bar.Timestamp.UTC()
			return &Issue{
				Kind:   "gap",
				Reason: fmt.Sprintf("gap of %s since previous bar exceeds %d intervals", gap, g.maxGapBars),
			}
		}
	}
	st.lastBarTime = bar.Timestamp.UTC()
	return nil
}
