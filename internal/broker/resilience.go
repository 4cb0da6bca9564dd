package broker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"riskpilot/internal/audit"
	"riskpilot/internal/config"
	"riskpilot/internal/logger"
	"riskpilot/internal/safety"
)

// Resilience wraps every broker call in retry-with-backoff and escalates a
// run of failures to the kill switch. The consecutive-failure counter is
// shared across all calls going through the same wrapper, so a flapping
// venue trips the switch no matter which call sees the errors.
type Resilience struct {
	cfg   config.OutageConfig
	ks    *safety.KillSwitch
	audit *audit.Logger

	consecutiveFailures int

	sleep func(time.Duration)
	rng   *rand.Rand
}

func NewResilience(cfg config.OutageConfig, ks *safety.KillSwitch, auditLog *audit.Logger) *Resilience {
	return &Resilience{
		cfg:   cfg,
		ks:    ks,
		audit: auditLog,
		sleep: time.Sleep,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetSleep replaces the backoff sleeper. Tests only.
func (r *Resilience) SetSleep(fn func(time.Duration)) { r.sleep = fn }

// Do runs one wrapped broker operation. The kill switch is checked before
// the first attempt: once tripped, calls fail immediately without touching
// the broker. On success the failure counter resets; each failure increments
// it, and reaching the limit triggers the switch and aborts without further
// retries.
func Do[T any](ctx context.Context, r *Resilience, name string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := r.ks.CheckAndRaise(); err != nil {
		return zero, fmt.Errorf("%s: %w", name, err)
	}

	var lastErr error
	for attempt := 0; attempt < r.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			default:
			}
			r.sleep(r.backoff(attempt - 1))
		}

		result, err := op(ctx)
		if err == nil {
			r.consecutiveFailures = 0
			return result, nil
		}
		lastErr = err
		r.consecutiveFailures++
		logger.Warnf("broker call %s failed (attempt %d/%d, consecutive %d): %v",
			name, attempt+1, r.cfg.RetryAttempts, r.consecutiveFailures, err)
		r.logEvent(audit.EventBrokerRetry, audit.SeverityWarning, map[string]any{
			"call":                 name,
			"attempt":              attempt + 1,
			"max_attempts":         r.cfg.RetryAttempts,
			"consecutive_failures": r.consecutiveFailures,
			"error":                err.Error(),
		})

		if r.consecutiveFailures >= r.cfg.ConsecutiveFailureLimit {
			reason := fmt.Sprintf("broker failure limit reached: %d consecutive failures, last on %s: %v",
				r.consecutiveFailures, name, err)
			r.ks.Trigger(ctx, reason)
			r.logEvent(audit.EventBrokerFailure, audit.SeverityCritical, map[string]any{
				"call":                 name,
				"consecutive_failures": r.consecutiveFailures,
				"error":                err.Error(),
				"kill_switch":          true,
			})
			return zero, fmt.Errorf("%s: %w: %s", name, safety.ErrHalted, reason)
		}
	}

	r.logEvent(audit.EventBrokerFailure, audit.SeverityError, map[string]any{
		"call":     name,
		"attempts": r.cfg.RetryAttempts,
		"error":    lastErr.Error(),
	})
	return zero, fmt.Errorf("%s failed after %d attempts: %w", name, r.cfg.RetryAttempts, lastErr)
}

// backoff is min(backoffMax, base*2^attempt) plus uniform jitter.
func (r *Resilience) backoff(attempt int) time.Duration {
	seconds := math.Min(r.cfg.BackoffMaxSeconds, r.cfg.BackoffBaseSeconds*math.Pow(2, float64(attempt)))
	if r.cfg.BackoffJitterSeconds > 0 {
		seconds += r.rng.Float64() * r.cfg.BackoffJitterSeconds
	}
	return time.Duration(seconds * float64(time.Second))
}

func (r *Resilience) logEvent(eventType string, severity audit.Severity, payload map[string]any) {
	if r.audit == nil {
		return
	}
	r.audit.LogEvent(eventType, severity, "", "", payload)
}
