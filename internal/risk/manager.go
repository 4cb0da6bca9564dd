package risk

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"riskpilot/internal/config"
	"riskpilot/internal/pkg/symbol"
	"riskpilot/internal/types"
)

// Manager is the approval state machine standing between signals and orders.
// Each check short-circuits the rest on failure. Peak equity is the only
// field guarded by a mutex: Approve and UpdatePortfolioReturn can be reached
// from different call sites in the live pipeline; everything else is touched
// only from the single bar-processing path.
type Manager struct {
	cfgMu sync.RWMutex
	cfg   config.RiskConfig

	peakMu     sync.Mutex
	peakEquity float64

	intradayBaseline float64
	intradayDate     string

	consecutiveLosses int

	varWindow *returnWindow

	guardrails *PaperGuardrails // nil outside paper mode
	corr       CorrelationSource
	sectors    SectorSource
}

type ManagerOption func(*Manager)

// WithGuardrails attaches the paper-trading guardrails. Only the paper mode
// builder uses this.
func WithGuardrails(g *PaperGuardrails) ManagerOption {
	return func(m *Manager) { m.guardrails = g }
}

func WithCorrelation(c CorrelationSource) ManagerOption {
	return func(m *Manager) { m.corr = c }
}

func WithSectors(s SectorSource) ManagerOption {
	return func(m *Manager) { m.sectors = s }
}

func NewManager(cfg config.RiskConfig, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:       cfg,
		varWindow: newReturnWindow(cfg.VarWindow),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetLimits swaps the limit set atomically; used by the hot-reload watcher.
func (m *Manager) SetLimits(cfg config.RiskConfig) {
	m.cfgMu.Lock()
	m.cfg = cfg
	m.cfgMu.Unlock()
}

func (m *Manager) limits() config.RiskConfig {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

// Guardrails exposes the attached guardrails (nil outside paper mode).
func (m *Manager) Guardrails() *PaperGuardrails { return m.guardrails }

// Approve runs the ordered checks against a signal and either returns an
// order or a coded rejection. A Hold signal, or a Close with nothing open,
// returns (nil, nil).
func (m *Manager) Approve(sig types.Signal, portfolioValue, currentPrice float64, open map[string]types.Position) (*types.Order, *Rejection) {
	cfg := m.limits()

	if rej := m.checkDrawdown(cfg, portfolioValue); rej != nil {
		return nil, rej
	}
	if rej := m.checkIntradayLoss(cfg, sig, portfolioValue); rej != nil {
		return nil, rej
	}
	if m.consecutiveLosses >= cfg.ConsecutiveLossLimit {
		return nil, reject(CodeConsecutiveLossHalt,
			fmt.Sprintf("%d consecutive losses (limit %d)", m.consecutiveLosses, cfg.ConsecutiveLossLimit))
	}
	if v := m.varWindow.VaR95(); v >= cfg.MaxVarPct {
		return nil, reject(CodeVarGate,
			fmt.Sprintf("95%% VaR %.4f at or above limit %.4f", v, cfg.MaxVarPct))
	}

	isCrypto := symbol.IsCrypto(sig.Symbol)
	if m.guardrails != nil {
		if reasons := m.guardrails.AllChecks(sig.Symbol, isCrypto); len(reasons) > 0 {
			return nil, reject(CodePaperGuardrail, strings.Join(reasons, "; "))
		}
	}

	switch sig.Kind {
	case types.SignalClose:
		return m.closeOrder(sig, open), nil
	case types.SignalLong:
		return m.longOrder(cfg, sig, portfolioValue, currentPrice, open, isCrypto)
	default:
		return nil, nil
	}
}

// checkDrawdown updates peak equity under lock and vetoes once the drawdown
// from peak strictly exceeds the limit. Exactly-at-limit still passes.
func (m *Manager) checkDrawdown(cfg config.RiskConfig, portfolioValue float64) *Rejection {
	if portfolioValue <= 0 {
		return reject(CodeDrawdownHalt, fmt.Sprintf("portfolio value %.2f not positive", portfolioValue))
	}
	m.peakMu.Lock()
	if portfolioValue > m.peakEquity {
		m.peakEquity = portfolioValue
	}
	peak := m.peakEquity
	m.peakMu.Unlock()

	drawdown := (peak - portfolioValue) / peak
	if drawdown > cfg.MaxDrawdownPct {
		return reject(CodeDrawdownHalt,
			fmt.Sprintf("drawdown %.4f exceeds limit %.4f (peak %.2f)", drawdown, cfg.MaxDrawdownPct, peak))
	}
	return nil
}

func (m *Manager) checkIntradayLoss(cfg config.RiskConfig, sig types.Signal, portfolioValue float64) *Rejection {
	day := sig.Timestamp.UTC().Format("2006-01-02")
	if day != m.intradayDate {
		m.intradayDate = day
		m.intradayBaseline = portfolioValue
		return nil
	}
	if m.intradayBaseline <= 0 {
		return nil
	}
	loss := (m.intradayBaseline - portfolioValue) / m.intradayBaseline
	if loss > cfg.MaxIntradayLossPct {
		return reject(CodeIntradayLossHalt,
			fmt.Sprintf("intraday loss %.4f exceeds limit %.4f (baseline %.2f)", loss, cfg.MaxIntradayLossPct, m.intradayBaseline))
	}
	return nil
}

func (m *Manager) closeOrder(sig types.Signal, open map[string]types.Position) *types.Order {
	pos, ok := open[sig.Symbol]
	if !ok || pos.Quantity <= 0 {
		return nil
	}
	order := types.NewOrder(sig.Symbol, types.OrderSell, pos.Quantity)
	order.Strategy = sig.Strategy
	order.SignalPrice = pos.CurrentPrice
	return &order
}

func (m *Manager) longOrder(cfg config.RiskConfig, sig types.Signal, portfolioValue, price float64, open map[string]types.Position, isCrypto bool) (*types.Order, *Rejection) {
	if _, held := open[sig.Symbol]; held {
		return nil, reject(CodeDuplicatePosition, fmt.Sprintf("already holding %s", sig.Symbol))
	}
	if len(open) >= cfg.MaxOpenPositions {
		return nil, reject(CodeMaxPositions,
			fmt.Sprintf("%d open positions (limit %d)", len(open), cfg.MaxOpenPositions))
	}

	strength := sig.Strength
	if m.corr != nil && len(open) > 0 {
		maxCorr := 0.0
		against := ""
		for held := range open {
			if c, ok := m.corr.Correlation(sig.Symbol, held); ok {
				if a := math.Abs(c); a > maxCorr {
					maxCorr = a
					against = held
				}
			}
		}
		if maxCorr > cfg.Correlation.Threshold {
			if strings.EqualFold(cfg.Correlation.Mode, "scale") {
				scale := math.Max(0, 1-(maxCorr-cfg.Correlation.Threshold)/(1-cfg.Correlation.Threshold))
				strength *= scale
				if strength == 0 {
					return nil, reject(CodeCorrelationLimit,
						fmt.Sprintf("correlation %.2f with %s scaled strength to zero", maxCorr, against))
				}
			} else {
				return nil, reject(CodeCorrelationLimit,
					fmt.Sprintf("correlation %.2f with %s exceeds threshold %.2f", maxCorr, against, cfg.Correlation.Threshold))
			}
		}
	}

	stop, take, effStopPct := stopsFor(cfg, sig, price, isCrypto)

	qty, rej := sizePosition(cfg, portfolioValue, price, strength, effStopPct, isCrypto)
	if rej != nil {
		return nil, rej
	}

	newValue := qty * price
	if isCrypto {
		cryptoValue := 0.0
		for held, pos := range open {
			if symbol.IsCrypto(held) {
				cryptoValue += pos.MarketValue()
			}
		}
		exposure := (cryptoValue + newValue) / portfolioValue
		if exposure > cfg.MaxCryptoExposurePct {
			return nil, reject(CodeCryptoExposure,
				fmt.Sprintf("projected crypto exposure %.4f exceeds cap %.4f", exposure, cfg.MaxCryptoExposurePct))
		}
	}

	if cfg.SectorGateEnabled && m.sectors != nil {
		if sector, ok := m.sectors.Sector(sig.Symbol); ok {
			sectorValue := 0.0
			for held, pos := range open {
				if s, ok := m.sectors.Sector(held); ok && s == sector {
					sectorValue += pos.MarketValue()
				}
			}
			concentration := (sectorValue + newValue) / portfolioValue
			if concentration > cfg.MaxSectorConcentrationPct {
				return nil, reject(CodeSectorConcentration,
					fmt.Sprintf("projected %s concentration %.4f exceeds cap %.4f", sector, concentration, cfg.MaxSectorConcentrationPct))
			}
		}
	}

	order := types.NewOrder(sig.Symbol, types.OrderBuy, qty)
	order.StopLoss = stop
	order.TakeProfit = take
	order.Strategy = sig.Strategy
	order.SignalPrice = price
	return &order, nil
}

// stopsFor prefers ATR-derived stops from the signal metadata and falls back
// to fixed percentages. Crypto uses the wider override config.
func stopsFor(cfg config.RiskConfig, sig types.Signal, price float64, isCrypto bool) (stop, take, effStopPct float64) {
	stopPct := cfg.StopLossPct
	takePct := cfg.TakeProfitPct
	atrMult := cfg.ATRMultiplier
	atrTPMult := cfg.ATRTPMultiplier
	if isCrypto {
		stopPct = cfg.Crypto.StopLossPct
		takePct = cfg.Crypto.TakeProfitPct
		atrMult = cfg.Crypto.ATRMultiplier
		atrTPMult = cfg.Crypto.ATRTPMultiplier
	}
	if atr, ok := sig.Meta("atr"); cfg.UseATRStops && ok && atr > 0 {
		stop = price - atrMult*atr
		if stop < 0.0001 {
			stop = 0.0001
		}
		take = price + atrTPMult*atr
		effStopPct = (price - stop) / price
		return stop, take, effStopPct
	}
	stop = price * (1 - stopPct)
	take = price * (1 + takePct)
	return stop, take, stopPct
}

// sizePosition applies fixed-fractional sizing: risk a fixed fraction of
// portfolio value scaled by strength, capped by the per-position limit.
func sizePosition(cfg config.RiskConfig, portfolioValue, price, strength, stopPct float64, isCrypto bool) (float64, *Rejection) {
	if !finitePositive(price) || !finitePositive(portfolioValue) || !finitePositive(stopPct) {
		return 0, reject(CodePositionSize,
			fmt.Sprintf("unusable sizing inputs: price=%v value=%v stopPct=%v", price, portfolioValue, stopPct))
	}
	maxPosPct := cfg.MaxPositionPct
	if isCrypto {
		maxPosPct = cfg.Crypto.MaxPositionPct
	}
	riskDollars := portfolioValue * cfg.MaxPortfolioRiskPct * strength
	qtyFromRisk := riskDollars / (price * stopPct)
	qtyFromCap := portfolioValue * maxPosPct / price
	qty := round4(math.Min(qtyFromRisk, qtyFromCap))
	if qty <= 0 {
		return 0, reject(CodePositionSize, "sized quantity is zero")
	}
	return qty, nil
}

// RecordTradeResult resets the consecutive-loss counter on a profitable
// close and increments it otherwise. Pipelines call this on every closed sell.
func (m *Manager) RecordTradeResult(profitable bool) {
	if profitable {
		m.consecutiveLosses = 0
		return
	}
	m.consecutiveLosses++
}

// UpdatePortfolioReturn feeds the VaR window; called once per bar.
func (m *Manager) UpdatePortfolioReturn(dailyReturn float64) {
	m.varWindow.Add(dailyReturn)
}

// VaR95 exposes the current estimate for audit payloads.
func (m *Manager) VaR95() float64 { return m.varWindow.VaR95() }

func finitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
