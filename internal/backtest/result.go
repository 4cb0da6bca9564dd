package backtest

import (
	"time"

	"riskpilot/internal/types"
)

// Trade is one realized round-trip exit.
type Trade struct {
	Symbol     string    `json:"symbol"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	ExitDate   time.Time `json:"exit_date"`
	PnL        float64   `json:"pnl"`
}

// EquityPoint is the marked-to-close portfolio value at the end of one
// replay date.
type EquityPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Result accumulates the equity curve and trade log during a replay and the
// summary statistics once it finishes.
type Result struct {
	InitialBalance float64       `json:"initial_balance"`
	FinalValue     float64       `json:"final_value"`
	FinalCash      float64       `json:"final_cash"`
	TotalReturnPct float64       `json:"total_return_pct"`
	MaxDrawdownPct float64       `json:"max_drawdown_pct"`
	WinRate        float64       `json:"win_rate"`
	EquityCurve    []EquityPoint `json:"equity_curve"`
	Trades         []Trade       `json:"trades"`
	OpenPositions  []types.Position `json:"open_positions,omitempty"`
}

func NewResult(initialBalance float64) *Result {
	return &Result{InitialBalance: initialBalance}
}

func (r *Result) AddEquityPoint(date time.Time, value float64) {
	r.EquityCurve = append(r.EquityCurve, EquityPoint{Date: date, Value: value})
}

func (r *Result) AddTrade(t Trade) {
	r.Trades = append(r.Trades, t)
}

// Finalize computes the summary statistics from the accumulated curve.
func (r *Result) Finalize(finalValue, finalCash float64, open map[string]types.Position) {
	r.FinalValue = finalValue
	r.FinalCash = finalCash
	if r.InitialBalance > 0 {
		r.TotalReturnPct = finalValue/r.InitialBalance - 1
	}

	peak := r.InitialBalance
	for _, p := range r.EquityCurve {
		if p.Value > peak {
			peak = p.Value
		}
		if peak > 0 {
			if dd := (peak - p.Value) / peak; dd > r.MaxDrawdownPct {
				r.MaxDrawdownPct = dd
			}
		}
	}

	if len(r.Trades) > 0 {
		wins := 0
		for _, t := range r.Trades {
			if t.PnL > 0 {
				wins++
			}
		}
		r.WinRate = float64(wins) / float64(len(r.Trades))
	}

	for _, pos := range open {
		r.OpenPositions = append(r.OpenPositions, pos)
	}
}
