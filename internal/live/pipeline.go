package live

import (
	"context"
	"fmt"
	"math"
	"time"

	"riskpilot/internal/audit"
	"riskpilot/internal/broker"
	"riskpilot/internal/config"
	"riskpilot/internal/logger"
	"riskpilot/internal/market"
	"riskpilot/internal/portfolio"
	"riskpilot/internal/risk"
	"riskpilot/internal/safety"
	"riskpilot/internal/strategy"
	symbolpkg "riskpilot/internal/pkg/symbol"
	"riskpilot/internal/types"
)

const maxHistoryBars = 500

// priceMarker is implemented by the paper broker so live bars keep its
// valuations current.
type priceMarker interface {
	MarkPrice(sym string, price float64)
}

// Pipeline processes live/paper bars one at a time: quality gate, market
// hours, kill switch, signal, risk approval, wrapped broker submission,
// then the unconditional end-of-bar valuation snapshot. All state is
// touched from the single bar loop.
type Pipeline struct {
	cfg      config.LiveConfig
	quality  *market.QualityGate
	ks       *safety.KillSwitch
	gen      strategy.SignalGenerator
	riskMgr  *risk.Manager
	res      *broker.Resilience
	brk      broker.Broker
	auditLog *audit.Logger
	tracker  *portfolio.Tracker
	lots     *portfolio.LotBook

	history   map[string][]types.Bar
	prevValue float64
	now       func() time.Time
}

func NewPipeline(
	cfg config.LiveConfig,
	quality *market.QualityGate,
	ks *safety.KillSwitch,
	gen strategy.SignalGenerator,
	riskMgr *risk.Manager,
	res *broker.Resilience,
	brk broker.Broker,
	auditLog *audit.Logger,
	tracker *portfolio.Tracker,
) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		quality:  quality,
		ks:       ks,
		gen:      gen,
		riskMgr:  riskMgr,
		res:      res,
		brk:      brk,
		auditLog: auditLog,
		tracker:  tracker,
		lots:     portfolio.NewLotBook(),
		history:  make(map[string][]types.Bar),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run consumes the bar stream until it closes, the context is cancelled, or
// the configured session duration elapses. A session timeout stops pulling
// new bars but never interrupts the bar being processed. Fatal errors
// (broker fatal, kill switch) unwind the session.
func (p *Pipeline) Run(ctx context.Context, bars <-chan types.Bar) error {
	var sessionEnd <-chan time.Time
	if p.cfg.SessionMinutes > 0 {
		timer := time.NewTimer(time.Duration(p.cfg.SessionMinutes) * time.Minute)
		defer timer.Stop()
		sessionEnd = timer.C
	}

	p.auditLog.LogEvent(audit.EventSessionStart, audit.SeverityInfo, "", p.gen.Name(), map[string]any{
		"session_minutes": p.cfg.SessionMinutes,
		"base_currency":   p.cfg.BaseCurrency,
	})
	defer func() {
		p.auditLog.LogEvent(audit.EventSessionEnd, audit.SeverityInfo, "", p.gen.Name(), nil)
		p.auditLog.Flush()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sessionEnd:
			logger.Infof("session duration reached, ending live pipeline")
			return nil
		case bar, ok := <-bars:
			if !ok {
				return nil
			}
			if err := p.ProcessBar(ctx, bar); err != nil {
				return err
			}
		}
	}
}

// ProcessBar runs one bar through the full gate chain. Data-quality skips
// and risk rejections stay local; a returned error means the session must
// unwind.
func (p *Pipeline) ProcessBar(ctx context.Context, bar types.Bar) error {
	bar = bar.UTC()
	isCrypto := symbolpkg.IsCrypto(bar.Symbol)

	if issue := p.quality.Check(ctx, bar); issue != nil {
		p.auditLog.LogEvent(audit.EventDataQuality, audit.SeverityWarning, bar.Symbol, "", map[string]any{
			"kind":   issue.Kind,
			"reason": issue.Reason,
		})
		return nil
	}
	p.appendHistory(bar)
	if marker, ok := p.brk.(priceMarker); ok {
		marker.MarkPrice(bar.Symbol, bar.Close)
	}

	if !isCrypto && !p.withinMarketHours() {
		p.auditLog.LogEvent(audit.EventBarSkipped, audit.SeverityInfo, bar.Symbol, "", map[string]any{
			"reason": "outside market hours",
		})
		return nil
	}

	if err := p.ks.CheckAndRaise(); err != nil {
		p.auditLog.LogEvent(audit.EventKillSwitch, audit.SeverityCritical, bar.Symbol, "", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	if err := p.handleSignal(ctx, bar); err != nil {
		return err
	}
	return p.endOfBar(ctx, bar)
}

func (p *Pipeline) handleSignal(ctx context.Context, bar types.Bar) error {
	sig, err := p.gen.OnBar(p.history[bar.Symbol])
	if err != nil {
		logger.Warnf("strategy error for %s: %v", bar.Symbol, err)
		return nil
	}
	if sig == nil || sig.Kind == types.SignalHold {
		return nil
	}

	positions, err := broker.Do(ctx, p.res, "get_positions", p.brk.GetPositions)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}
	value, err := broker.Do(ctx, p.res, "get_portfolio_value", p.brk.GetPortfolioValue)
	if err != nil {
		return fmt.Errorf("fetch portfolio value: %w", err)
	}

	order, rej := p.riskMgr.Approve(*sig, value, bar.Close, positions)
	if rej != nil {
		if g := p.riskMgr.Guardrails(); g != nil {
			g.RecordReject(sig.Symbol)
		}
		p.auditLog.LogEvent(audit.EventOrderRejected, audit.SeverityWarning, sig.Symbol, sig.Strategy, map[string]any{
			"code":   string(rej.Code),
			"reason": rej.Reason,
		})
		return nil
	}
	if order == nil {
		return nil
	}

	p.auditLog.LogEvent(audit.EventOrderApproved, audit.SeverityInfo, order.Symbol, order.Strategy, map[string]any{
		"order_id": order.ID,
		"side":     string(order.Side),
		"quantity": order.Quantity,
	})
	if g := p.riskMgr.Guardrails(); g != nil {
		g.RecordOrder()
	}

	filled, err := broker.Do(ctx, p.res, "submit_order", func(ctx context.Context) (types.Order, error) {
		return p.brk.SubmitOrder(ctx, *order)
	})
	if err != nil {
		return fmt.Errorf("submit order %s: %w", order.ID, err)
	}
	if filled.Status == types.OrderFilled {
		p.recordFill(filled, positions)
	}
	return nil
}

// recordFill audits the fill with slippage against the signal price and the
// estimated venue fee, updates the lot book, and feeds the loss breaker on a
// non-profitable close.
func (p *Pipeline) recordFill(order types.Order, positions map[string]types.Position) {
	slippage := 0.0
	if order.SignalPrice > 0 {
		slippage = (order.FilledPrice - order.SignalPrice) / order.SignalPrice
		if order.Side == types.OrderSell {
			slippage = -slippage
		}
	}
	estFee := order.Quantity * order.FilledPrice * p.cfg.FeeRate

	if g := p.riskMgr.Guardrails(); g != nil {
		g.RecordFill()
	}

	var realized float64
	hasRealized := false
	switch order.Side {
	case types.OrderBuy:
		p.lots.Buy(order.Symbol, order.Quantity, order.FilledPrice, order.FilledAt)
	case types.OrderSell:
		pnl, err := p.lots.Sell(order.Symbol, order.Quantity, order.FilledPrice)
		if err != nil {
			// Position opened before this session; fall back to the broker's
			// entry basis.
			if pos, ok := positions[order.Symbol]; ok && pos.AvgEntryPrice > 0 {
				pnl = (order.FilledPrice - pos.AvgEntryPrice) * order.Quantity
			} else {
				logger.Warnf("no entry basis for %s sell, treating close as flat", order.Symbol)
			}
		}
		realized = pnl - estFee
		hasRealized = true
		p.riskMgr.RecordTradeResult(realized > 0)
	}

	payload := map[string]any{
		"order_id":     order.ID,
		"side":         string(order.Side),
		"quantity":     order.Quantity,
		"fill_price":   order.FilledPrice,
		"signal_price": order.SignalPrice,
		"slippage_pct": round6(slippage),
		"est_fee":      round6(estFee),
	}
	if hasRealized {
		payload["realized_pnl"] = round6(realized)
	}
	p.auditLog.LogEvent(audit.EventOrderFilled, audit.SeverityInfo, order.Symbol, order.Strategy, payload)
}

// endOfBar feeds the VaR window from consecutive broker-reported values and
// takes the unconditional valuation snapshot.
func (p *Pipeline) endOfBar(ctx context.Context, bar types.Bar) error {
	value, err := broker.Do(ctx, p.res, "get_portfolio_value", p.brk.GetPortfolioValue)
	if err != nil {
		return fmt.Errorf("end-of-bar valuation: %w", err)
	}
	if p.prevValue > 0 {
		p.riskMgr.UpdatePortfolioReturn(value/p.prevValue - 1)
	}
	p.prevValue = value

	positions, err := broker.Do(ctx, p.res, "get_positions", p.brk.GetPositions)
	if err != nil {
		return fmt.Errorf("end-of-bar positions: %w", err)
	}
	cash, err := broker.Do(ctx, p.res, "get_cash", p.brk.GetCash)
	if err != nil {
		return fmt.Errorf("end-of-bar cash: %w", err)
	}

	snap := p.tracker.Snapshot(positions, cash)
	p.auditLog.LogEvent(audit.EventEquityMark, audit.SeverityInfo, bar.Symbol, "", map[string]any{
		"total_value":   round6(snap.TotalValue),
		"cash":          round6(snap.Cash),
		"positions":     len(snap.Positions),
		"stale_fx":      snap.StaleFx,
		"var_95":        round6(p.riskMgr.VaR95()),
		"base_currency": snap.BaseCurrency,
	})
	return nil
}

func (p *Pipeline) appendHistory(bar types.Bar) {
	h := append(p.history[bar.Symbol], bar)
	if len(h) > maxHistoryBars {
		h = h[len(h)-maxHistoryBars:]
	}
	p.history[bar.Symbol] = h
}

// SeedHistory preloads warmup bars so strategies have context from the
// first live bar.
func (p *Pipeline) SeedHistory(bars []types.Bar) {
	for _, b := range bars {
		p.appendHistory(b.UTC())
	}
}

// SetClock replaces the time source for the market-hours filter. Tests only.
func (p *Pipeline) SetClock(now func() time.Time) { p.now = now }

func (p *Pipeline) withinMarketHours() bool {
	loc, err := time.LoadLocation(p.cfg.MarketTimezone)
	if err != nil {
		logger.Warnf("market timezone %q unresolvable, falling back to UTC", p.cfg.MarketTimezone)
		loc = time.UTC
	}
	hour := p.now().In(loc).Hour()
	return hour >= p.cfg.MarketOpenHour && hour < p.cfg.MarketCloseHour
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
