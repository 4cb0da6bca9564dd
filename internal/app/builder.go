package app

import (
	"context"
	"fmt"
	"time"

	"riskpilot/internal/audit"
	"riskpilot/internal/broker"
	"riskpilot/internal/config"
	"riskpilot/internal/live"
	"riskpilot/internal/logger"
	"riskpilot/internal/market"
	"riskpilot/internal/portfolio"
	"riskpilot/internal/risk"
	"riskpilot/internal/safety"
	"riskpilot/internal/strategy"
	opshttp "riskpilot/internal/transport/http"
)

// build wires the full dependency graph for the configured mode. Shared
// pieces (kill switch, audit, risk manager) come first; the mode decides
// which pipeline and broker get attached.
func build(cfg *config.Config) (*App, error) {
	mode := cfg.App.RunMode()

	ks, err := safety.Open(cfg.Safety.StorePath(mode))
	if err != nil {
		return nil, fmt.Errorf("open kill switch: %w", err)
	}

	store, err := audit.NewStore(cfg.Audit.DBPath)
	if err != nil {
		ks.Close()
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	auditLog := audit.NewLogger(store)

	riskMgr, err := buildRiskManager(cfg, mode)
	if err != nil {
		ks.Close()
		store.Close()
		return nil, err
	}

	gen, err := buildStrategy(cfg.Strategy)
	if err != nil {
		ks.Close()
		store.Close()
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		mode:     mode,
		ks:       ks,
		store:    store,
		auditLog: auditLog,
		riskMgr:  riskMgr,
		gen:      gen,
	}

	if cfg.App.HTTPAddr != "" {
		a.ops, err = opshttp.NewServer(cfg.App.HTTPAddr, auditLog, ks, riskMgr)
		if err != nil {
			a.closeResources()
			return nil, fmt.Errorf("build ops server: %w", err)
		}
	}

	if mode == config.ModeBacktest {
		return a, nil
	}
	if err := a.buildLivePipeline(cfg, mode); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func buildRiskManager(cfg *config.Config, mode config.Mode) (*risk.Manager, error) {
	opts := []risk.ManagerOption{}

	if mode == config.ModePaper {
		opts = append(opts, risk.WithGuardrails(risk.NewPaperGuardrails(cfg.Guardrails)))
	}

	if cfg.Lookups.CorrelationPath != "" {
		corr, err := risk.LoadCorrelationFile(cfg.Lookups.CorrelationPath)
		if err != nil {
			return nil, fmt.Errorf("load correlation table: %w", err)
		}
		opts = append(opts, risk.WithCorrelation(corr))
	}
	if cfg.Lookups.SectorPath != "" {
		sectors, err := risk.LoadSectorFile(cfg.Lookups.SectorPath)
		if err != nil {
			return nil, fmt.Errorf("load sector table: %w", err)
		}
		opts = append(opts, risk.WithSectors(sectors))
	}
	return risk.NewManager(cfg.Risk, opts...), nil
}

func buildStrategy(cfg config.StrategyConfig) (strategy.SignalGenerator, error) {
	param := func(key string, def float64) float64 {
		if v, ok := cfg.Params[key]; ok {
			return v
		}
		return def
	}
	switch cfg.Name {
	case "", "sma_cross":
		return strategy.NewSMACross(
			int(param("fast_period", 10)),
			int(param("slow_period", 30)),
			int(param("atr_period", 14)),
		)
	case "rsi_revert":
		return strategy.NewRSIReversion(
			int(param("period", 14)),
			param("oversold", 30),
			param("exit_level", 55),
		)
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Name)
	}
}

func buildBroker(cfg *config.Config, mode config.Mode) (broker.Broker, error) {
	venue := cfg.Broker.Venue
	if mode == config.ModePaper {
		venue = "paper"
	}
	switch venue {
	case "paper":
		return broker.NewPaper(cfg.Broker.Paper.InitialCash), nil
	case "alpaca":
		return broker.NewAlpaca(cfg.Broker.Alpaca), nil
	case "binance":
		return broker.NewBinance(cfg.Broker.Binance, cfg.Live.BaseCurrency), nil
	default:
		return nil, fmt.Errorf("unknown broker venue %q", venue)
	}
}

func (a *App) buildLivePipeline(cfg *config.Config, mode config.Mode) error {
	brk, err := buildBroker(cfg, mode)
	if err != nil {
		return err
	}
	a.brk = brk

	interval, err := market.ParseInterval(cfg.Market.Interval)
	if err != nil {
		return err
	}
	quality := market.NewQualityGate(cfg.Market, interval, a.ks)
	res := broker.NewResilience(cfg.Outage, a.ks, a.auditLog)

	var currencyOpts []portfolio.TrackerOption
	if ci, ok := brk.(broker.CurrencyInfo); ok {
		currencyOpts = append(currencyOpts, portfolio.WithCurrencySource(currencyAdapter{ci: ci}))
	}
	tracker := portfolio.NewTracker(
		cfg.Live.BaseCurrency,
		cfg.Live.FxRates,
		time.Duration(cfg.Live.FxStaleSeconds)*time.Second,
		currencyOpts...,
	)

	a.source = market.NewBinanceSource(cfg.Market)
	a.pipeline = live.NewPipeline(cfg.Live, quality, a.ks, a.gen, a.riskMgr, res, brk, a.auditLog, tracker)

	// Risk limits hot-reload from the config file while the session runs.
	if path := cfg.Path(); path != "" {
		watcher, err := config.WatchRisk(path)
		if err != nil {
			logger.Warnf("risk hot reload unavailable: %v", err)
		} else {
			a.riskWatcher = watcher
			watcher.Subscribe(func(limits config.RiskConfig) {
				a.riskMgr.SetLimits(limits)
			})
		}
	}
	return nil
}

// currencyAdapter narrows the broker currency surface to what the tracker
// needs.
type currencyAdapter struct {
	ci broker.CurrencyInfo
}

func (c currencyAdapter) SymbolCurrency(sym string) (string, bool) {
	ccy, err := c.ci.GetSymbolCurrency(context.Background(), sym)
	if err != nil || ccy == "" {
		return "", false
	}
	return ccy, true
}
