package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

func validate(c *Config) error {
	switch c.App.RunMode() {
	case ModeBacktest, ModePaper, ModeLive, ModeTest:
	default:
		return fmt.Errorf("app.mode must be one of backtest|paper|live|test, got %q", c.App.Mode)
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Guardrails.validate(); err != nil {
		return err
	}
	if err := c.Safety.validate(); err != nil {
		return err
	}
	if err := c.Broker.validate(c.App.RunMode()); err != nil {
		return err
	}
	return nil
}

func (r *RiskConfig) validate() error {
	for name, v := range map[string]float64{
		"risk.max_position_pct":       r.MaxPositionPct,
		"risk.max_portfolio_risk_pct": r.MaxPortfolioRiskPct,
		"risk.stop_loss_pct":          r.StopLossPct,
		"risk.max_drawdown_pct":       r.MaxDrawdownPct,
		"risk.max_intraday_loss_pct":  r.MaxIntradayLossPct,
		"risk.max_var_pct":            r.MaxVarPct,
	} {
		if v <= 0 || v >= 1 {
			return fmt.Errorf("%s must be in (0,1), got %v", name, v)
		}
	}
	switch strings.ToLower(r.Correlation.Mode) {
	case "reject", "scale":
	default:
		return fmt.Errorf("risk.correlation.mode must be reject or scale, got %q", r.Correlation.Mode)
	}
	if r.Correlation.Threshold <= 0 || r.Correlation.Threshold >= 1 {
		return fmt.Errorf("risk.correlation.threshold must be in (0,1), got %v", r.Correlation.Threshold)
	}
	return nil
}

func (g *GuardrailConfig) validate() error {
	if g.SessionStartHour < 0 || g.SessionStartHour > 23 {
		return fmt.Errorf("guardrails.session_start_hour must be in [0,23], got %d", g.SessionStartHour)
	}
	if g.SessionEndHour < 1 || g.SessionEndHour > 24 {
		return fmt.Errorf("guardrails.session_end_hour must be in [1,24], got %d", g.SessionEndHour)
	}
	if g.SessionEndHour <= g.SessionStartHour {
		return fmt.Errorf("guardrails session window [%d,%d) is empty", g.SessionStartHour, g.SessionEndHour)
	}
	return nil
}

// validate enforces the isolation rule: paper, live and test kill-switch
// stores must never resolve to the same file.
func (s *SafetyConfig) validate() error {
	paths := map[string]string{}
	for mode, p := range map[string]string{
		"paper": s.PaperPath,
		"live":  s.LivePath,
		"test":  s.TestPath,
	} {
		clean := filepath.Clean(strings.TrimSpace(p))
		if clean == "" || clean == "." {
			return fmt.Errorf("safety.%s_path cannot be empty", mode)
		}
		if prev, dup := paths[clean]; dup {
			return fmt.Errorf("safety: %s and %s kill-switch stores share path %s", prev, mode, clean)
		}
		paths[clean] = mode
	}
	return nil
}

func (b *BrokerConfig) validate(mode Mode) error {
	switch b.Venue {
	case "paper", "alpaca", "binance":
	default:
		return fmt.Errorf("broker.venue must be paper|alpaca|binance, got %q", b.Venue)
	}
	if mode == ModeLive && b.Venue == "paper" {
		return fmt.Errorf("broker.venue=paper cannot be used with app.mode=live")
	}
	if b.Venue == "alpaca" && (b.Alpaca.APIKey == "" || b.Alpaca.APISecret == "") {
		return fmt.Errorf("broker.alpaca requires api_key and api_secret")
	}
	if b.Venue == "binance" && (b.Binance.APIKey == "" || b.Binance.APISecret == "") {
		return fmt.Errorf("broker.binance requires api_key and api_secret")
	}
	return nil
}
