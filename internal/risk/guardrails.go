package risk

import (
	"fmt"
	"time"

	"riskpilot/internal/config"
	"riskpilot/internal/logger"
)

// PaperGuardrails is the paper-trading-only rate-limit state machine. Five
// independent checks, each individually disable-able. All time-windowed
// lists are pruned lazily on each check; state is touched only from the bar
// processing call path, so no lock.
type PaperGuardrails struct {
	cfg config.GuardrailConfig
	now func() time.Time

	ordersToday   []time.Time
	rejectsHour   []time.Time
	cooldownUntil map[string]time.Time

	consecutiveRejects int
	lastRejectAt       time.Time
}

func NewPaperGuardrails(cfg config.GuardrailConfig) *PaperGuardrails {
	return &PaperGuardrails{
		cfg:           cfg,
		now:           func() time.Time { return time.Now().UTC() },
		cooldownUntil: make(map[string]time.Time),
	}
}

// SetClock replaces the time source. Tests only.
func (g *PaperGuardrails) SetClock(now func() time.Time) {
	g.now = now
}

// AllChecks returns the union of all failing reasons; empty means pass.
func (g *PaperGuardrails) AllChecks(symbol string, isCrypto bool) []string {
	var reasons []string
	if r := g.checkDailyLimit(); r != "" {
		reasons = append(reasons, r)
	}
	if r := g.checkRejectRate(); r != "" {
		reasons = append(reasons, r)
	}
	if r := g.checkCooldown(symbol); r != "" {
		reasons = append(reasons, r)
	}
	if r := g.checkSession(isCrypto); r != "" {
		reasons = append(reasons, r)
	}
	if r := g.checkAutoStop(); r != "" {
		reasons = append(reasons, r)
	}
	return reasons
}

// checkDailyLimit counts orders since UTC midnight. Exactly at the limit
// still passes; only exceeding it fails.
func (g *PaperGuardrails) checkDailyLimit() string {
	if !g.cfg.DailyLimitEnabled {
		return ""
	}
	midnight := g.now().Truncate(24 * time.Hour)
	g.ordersToday = pruneBefore(g.ordersToday, midnight)
	if len(g.ordersToday) > g.cfg.MaxOrdersPerDay {
		return fmt.Sprintf("daily order limit exceeded: %d orders today (limit %d)",
			len(g.ordersToday), g.cfg.MaxOrdersPerDay)
	}
	return ""
}

func (g *PaperGuardrails) checkRejectRate() string {
	if !g.cfg.RejectRateEnabled {
		return ""
	}
	cutoff := g.now().Add(-time.Hour)
	g.rejectsHour = pruneBefore(g.rejectsHour, cutoff)
	if len(g.rejectsHour) > g.cfg.MaxRejectsPerHour {
		return fmt.Sprintf("reject rate exceeded: %d rejects in the last hour (limit %d)",
			len(g.rejectsHour), g.cfg.MaxRejectsPerHour)
	}
	return ""
}

func (g *PaperGuardrails) checkCooldown(symbol string) string {
	if !g.cfg.CooldownEnabled {
		return ""
	}
	until, ok := g.cooldownUntil[symbol]
	if !ok {
		return ""
	}
	now := g.now()
	if now.Before(until) {
		return fmt.Sprintf("%s in cooldown until %s", symbol, until.Format(time.RFC3339))
	}
	delete(g.cooldownUntil, symbol)
	return ""
}

// checkSession enforces [startHour, endHour) in the configured timezone.
// Crypto symbols may bypass the window; unresolvable zones fall back to UTC.
func (g *PaperGuardrails) checkSession(isCrypto bool) string {
	if !g.cfg.SessionEnabled {
		return ""
	}
	if isCrypto && g.cfg.CryptoBypassHours {
		return ""
	}
	loc, err := time.LoadLocation(g.cfg.SessionTimezone)
	if err != nil {
		logger.Warnf("session timezone %q unresolvable, falling back to UTC", g.cfg.SessionTimezone)
		loc = time.UTC
	}
	hour := g.now().In(loc).Hour()
	if hour < g.cfg.SessionStartHour || hour >= g.cfg.SessionEndHour {
		return fmt.Sprintf("outside session window [%d,%d) %s (hour %d)",
			g.cfg.SessionStartHour, g.cfg.SessionEndHour, g.cfg.SessionTimezone, hour)
	}
	return ""
}

func (g *PaperGuardrails) checkAutoStop() string {
	if !g.cfg.AutoStopEnabled {
		return ""
	}
	if g.consecutiveRejects > g.cfg.MaxConsecutiveRejects {
		return fmt.Sprintf("auto-stop: %d consecutive rejects (limit %d)",
			g.consecutiveRejects, g.cfg.MaxConsecutiveRejects)
	}
	return ""
}

// RecordOrder counts a submitted order against the daily limit.
func (g *PaperGuardrails) RecordOrder() {
	g.ordersToday = append(g.ordersToday, g.now())
}

// RecordReject updates the hourly window, arms the per-symbol cooldown and
// advances the consecutive-reject counter. A reject within the reset window
// of the previous one increments; otherwise the run restarts at 1.
func (g *PaperGuardrails) RecordReject(symbol string) {
	now := g.now()
	g.rejectsHour = append(g.rejectsHour, now)
	if g.cfg.CooldownEnabled && symbol != "" {
		g.cooldownUntil[symbol] = now.Add(time.Duration(g.cfg.RejectCooldownSeconds) * time.Second)
	}
	window := time.Duration(g.cfg.ConsecutiveRejectResetMinutes) * time.Minute
	if !g.lastRejectAt.IsZero() && now.Sub(g.lastRejectAt) <= window {
		g.consecutiveRejects++
	} else {
		g.consecutiveRejects = 1
	}
	g.lastRejectAt = now
}

// RecordFill resets the auto-stop counter.
func (g *PaperGuardrails) RecordFill() {
	g.consecutiveRejects = 0
}

// Status summarizes the state for the ops endpoint.
func (g *PaperGuardrails) Status() map[string]any {
	return map[string]any{
		"orders_today":        len(g.ordersToday),
		"rejects_last_hour":   len(g.rejectsHour),
		"cooldowns":           len(g.cooldownUntil),
		"consecutive_rejects": g.consecutiveRejects,
	}
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(ts); i++ {
		if !ts[i].Before(cutoff) {
			break
		}
	}
	return ts[i:]
}
