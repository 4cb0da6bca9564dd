package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"riskpilot/internal/audit"
	"riskpilot/internal/config"
	"riskpilot/internal/logger"
	"riskpilot/internal/portfolio"
	"riskpilot/internal/risk"
	"riskpilot/internal/strategy"
	"riskpilot/internal/types"
)

// Engine replays bar history deterministically with zero lookahead. Orders
// approved on date T are buffered and filled at date T+1's open, never at
// the signal date's close; everything downstream of a date sees only that
// date's and earlier data.
type Engine struct {
	cfg      config.BacktestConfig
	riskMgr  *risk.Manager
	gen      strategy.SignalGenerator
	auditLog *audit.Logger

	cash      float64
	positions map[string]types.Position
	pending   []types.Order
	lots      *portfolio.LotBook
}

func NewEngine(cfg config.BacktestConfig, riskMgr *risk.Manager, gen strategy.SignalGenerator, auditLog *audit.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		riskMgr:   riskMgr,
		gen:       gen,
		auditLog:  auditLog,
		cash:      cfg.InitialBalance,
		positions: make(map[string]types.Position),
		lots:      portfolio.NewLotBook(),
	}
}

// Run replays the sorted union of all symbols' dates. Series must be sorted
// oldest first per symbol; a symbol missing a bar on a date is skipped that
// date with no synthetic fill-in.
func (e *Engine) Run(ctx context.Context, series map[string][]types.Bar) (*Result, error) {
	if e.cfg.InitialBalance <= 0 {
		return nil, fmt.Errorf("backtest: initial balance %.2f not positive", e.cfg.InitialBalance)
	}
	dates := unionDates(series)
	if len(dates) == 0 {
		return nil, fmt.Errorf("backtest: no bars to replay")
	}

	byDate := indexByDate(series)
	result := NewResult(e.cfg.InitialBalance)
	prevValue := e.cfg.InitialBalance

	for _, date := range dates {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		todays := byDate[date]

		e.fillPending(date, todays, result)
		e.generateAndApprove(date, series, todays)

		value := e.markToClose(todays)
		result.AddEquityPoint(date, value)
		if prevValue > 0 {
			e.riskMgr.UpdatePortfolioReturn(value/prevValue - 1)
		}
		prevValue = value
	}

	result.Finalize(prevValue, e.cash, e.positions)
	return result, nil
}

// fillPending executes orders buffered from an earlier date at today's open,
// slipped against the trade and net of commission. Orders whose symbol has
// no bar today stay buffered for the symbol's next session.
func (e *Engine) fillPending(date time.Time, todays map[string]types.Bar, result *Result) {
	var carry []types.Order
	for _, order := range e.pending {
		bar, ok := todays[order.Symbol]
		if !ok {
			carry = append(carry, order)
			continue
		}
		price := bar.Open
		if order.Side == types.OrderBuy {
			price *= 1 + e.cfg.SlippagePct
		} else {
			price *= 1 - e.cfg.SlippagePct
		}
		commission := order.Quantity * e.cfg.CommissionPerShare

		switch order.Side {
		case types.OrderBuy:
			cost := order.Quantity*price + commission
			if cost > e.cash {
				logger.Warnf("backtest: dropping buy %s qty %.4f, cost %.2f exceeds cash %.2f",
					order.Symbol, order.Quantity, cost, e.cash)
				continue
			}
			e.cash -= cost
			pos := e.positions[order.Symbol]
			totalQty := pos.Quantity + order.Quantity
			pos.Symbol = order.Symbol
			pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Quantity + price*order.Quantity) / totalQty
			pos.Quantity = totalQty
			pos.CurrentPrice = price
			e.positions[order.Symbol] = pos
			e.lots.Buy(order.Symbol, order.Quantity, price, date)

		case types.OrderSell:
			pos, held := e.positions[order.Symbol]
			if !held || pos.Quantity < order.Quantity {
				logger.Warnf("backtest: dropping sell %s qty %.4f, held %.4f",
					order.Symbol, order.Quantity, pos.Quantity)
				continue
			}
			e.cash += order.Quantity*price - commission
			realized, err := e.lots.Sell(order.Symbol, order.Quantity, price)
			if err != nil {
				realized = (price - pos.AvgEntryPrice) * order.Quantity
			}
			realized -= commission
			e.riskMgr.RecordTradeResult(realized > 0)
			result.AddTrade(Trade{
				Symbol:     order.Symbol,
				Quantity:   order.Quantity,
				EntryPrice: pos.AvgEntryPrice,
				ExitPrice:  price,
				ExitDate:   date,
				PnL:        realized,
			})
			pos.Quantity -= order.Quantity
			if pos.Quantity <= 0 {
				delete(e.positions, order.Symbol)
			} else {
				e.positions[order.Symbol] = pos
			}
		}

		order.Fill(price, date)
		e.logEvent(audit.EventOrderFilled, audit.SeverityInfo, order.Symbol, order.Strategy, map[string]any{
			"order_id":   order.ID,
			"side":       string(order.Side),
			"quantity":   order.Quantity,
			"fill_price": price,
			"commission": commission,
			"date":       date.Format("2006-01-02"),
		})
	}
	e.pending = carry
}

// generateAndApprove runs the strategy on each symbol that has a bar today
// and buffers approved orders for the next session's open.
func (e *Engine) generateAndApprove(date time.Time, series map[string][]types.Bar, todays map[string]types.Bar) {
	symbols := make([]string, 0, len(todays))
	for sym := range todays {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		history := historyThrough(series[sym], date)
		if len(history) == 0 {
			continue
		}
		sig, err := e.gen.OnBar(history)
		if err != nil {
			logger.Warnf("backtest: strategy error for %s at %s: %v", sym, date.Format("2006-01-02"), err)
			continue
		}
		if sig == nil {
			continue
		}

		value := e.markToClose(todays)
		order, rej := e.riskMgr.Approve(*sig, value, todays[sym].Close, e.positions)
		if rej != nil {
			e.logEvent(audit.EventOrderRejected, audit.SeverityWarning, sym, sig.Strategy, map[string]any{
				"code":   string(rej.Code),
				"reason": rej.Reason,
				"date":   date.Format("2006-01-02"),
			})
			continue
		}
		if order == nil {
			continue
		}
		e.pending = append(e.pending, *order)
		e.logEvent(audit.EventOrderApproved, audit.SeverityInfo, sym, sig.Strategy, map[string]any{
			"order_id": order.ID,
			"side":     string(order.Side),
			"quantity": order.Quantity,
			"date":     date.Format("2006-01-02"),
		})
	}
}

// markToClose values open positions at today's close; symbols without a bar
// today keep their last mark.
func (e *Engine) markToClose(todays map[string]types.Bar) float64 {
	total := e.cash
	for sym, pos := range e.positions {
		if bar, ok := todays[sym]; ok {
			pos.CurrentPrice = bar.Close
			e.positions[sym] = pos
		}
		total += pos.MarketValue()
	}
	return total
}

func (e *Engine) logEvent(eventType string, severity audit.Severity, sym, strat string, payload map[string]any) {
	if e.auditLog == nil {
		return
	}
	e.auditLog.LogEvent(eventType, severity, sym, strat, payload)
}

func dateKey(ts time.Time) time.Time {
	t := ts.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func unionDates(series map[string][]types.Bar) []time.Time {
	seen := make(map[time.Time]struct{})
	for _, bars := range series {
		for _, b := range bars {
			seen[dateKey(b.Timestamp)] = struct{}{}
		}
	}
	out := make([]time.Time, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func indexByDate(series map[string][]types.Bar) map[time.Time]map[string]types.Bar {
	out := make(map[time.Time]map[string]types.Bar)
	for sym, bars := range series {
		for _, b := range bars {
			d := dateKey(b.Timestamp)
			if out[d] == nil {
				out[d] = make(map[string]types.Bar)
			}
			out[d][sym] = b
		}
	}
	return out
}

// historyThrough slices the series at the replay cursor so strategies can
// never see past the current date.
func historyThrough(bars []types.Bar, date time.Time) []types.Bar {
	n := sort.Search(len(bars), func(i int) bool {
		return dateKey(bars[i].Timestamp).After(date)
	})
	return bars[:n]
}
