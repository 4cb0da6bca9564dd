package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"riskpilot/internal/audit"
	"riskpilot/internal/backtest"
	"riskpilot/internal/broker"
	"riskpilot/internal/config"
	"riskpilot/internal/live"
	"riskpilot/internal/logger"
	"riskpilot/internal/market"
	"riskpilot/internal/risk"
	"riskpilot/internal/safety"
	"riskpilot/internal/strategy"
	opshttp "riskpilot/internal/transport/http"
	"riskpilot/internal/types"
)

const warmupBars = 200

// App owns the wired dependency graph for one run: shared safety/audit
// plumbing plus either the backtest engine or the live pipeline.
type App struct {
	cfg  *config.Config
	mode config.Mode

	ks       *safety.KillSwitch
	store    *audit.Store
	auditLog *audit.Logger
	riskMgr  *risk.Manager
	gen      strategy.SignalGenerator
	ops      *opshttp.Server

	// live/paper only
	brk         broker.Broker
	source      market.Source
	pipeline    *live.Pipeline
	riskWatcher *config.RiskWatcher
}

// New builds the application for the configured mode without starting it.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return build(cfg)
}

// Run starts the audit consumer, the ops server and the mode's pipeline,
// then blocks until they finish. Shutdown drains the audit queue.
func (a *App) Run(ctx context.Context) error {
	a.auditLog.Start()
	defer a.closeResources()

	group, ctx := errgroup.WithContext(ctx)

	if a.ops != nil {
		group.Go(func() error {
			return a.ops.Start()
		})
	}

	group.Go(func() error {
		// The pipeline goroutine owns ops shutdown: it returns on ctx
		// cancellation, session end or fatal error, and the shutdown lets
		// group.Wait unblock.
		defer func() {
			if a.ops != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = a.ops.Shutdown(shutdownCtx)
			}
		}()
		if a.mode == config.ModeBacktest {
			return a.runBacktest(ctx)
		}
		return a.runLive(ctx)
	})

	return group.Wait()
}

func (a *App) runBacktest(ctx context.Context) error {
	src := market.NewBinanceSource(a.cfg.Market)
	series := make(map[string][]types.Bar)
	for _, sym := range a.cfg.Market.Symbols {
		bars, err := src.FetchHistory(ctx, sym, a.cfg.Market.Interval, market.MaxHistoryLimit)
		if err != nil {
			return fmt.Errorf("fetch history %s: %w", sym, err)
		}
		series[sym] = bars
	}

	engine := backtest.NewEngine(a.cfg.Backtest, a.riskMgr, a.gen, a.auditLog)
	result, err := engine.Run(ctx, series)
	if err != nil {
		return fmt.Errorf("backtest run: %w", err)
	}
	logger.Infof("backtest finished: return %.2f%%, max drawdown %.2f%%, %d trades, win rate %.1f%%",
		result.TotalReturnPct*100, result.MaxDrawdownPct*100, len(result.Trades), result.WinRate*100)
	a.auditLog.Flush()
	return nil
}

func (a *App) runLive(ctx context.Context) error {
	// Warm up strategy history before subscribing so the first live bar has
	// indicator context.
	for _, sym := range a.cfg.Market.Symbols {
		bars, err := a.source.FetchHistory(ctx, sym, a.cfg.Market.Interval, warmupBars)
		if err != nil {
			logger.Warnf("warmup history for %s unavailable: %v", sym, err)
			continue
		}
		a.pipeline.SeedHistory(bars)
	}

	bars, err := a.source.Subscribe(ctx, a.cfg.Market.Symbols, a.cfg.Market.Interval)
	if err != nil {
		return fmt.Errorf("subscribe bars: %w", err)
	}
	logger.Infof("%s session started for %v", a.mode, a.cfg.Market.Symbols)
	return a.pipeline.Run(ctx, bars)
}

func (a *App) closeResources() {
	if a.auditLog != nil {
		a.auditLog.Stop()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.ks != nil {
		_ = a.ks.Close()
	}
}
