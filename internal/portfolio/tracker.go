package portfolio

import (
	"time"

	"riskpilot/internal/logger"
	"riskpilot/internal/pkg/symbol"
	"riskpilot/internal/types"
)

// CurrencySource resolves the quote currency of a symbol. Broker adapters
// that know account currencies implement this; others fall back to the
// symbol suffix.
type CurrencySource interface {
	SymbolCurrency(sym string) (string, bool)
}

// fxRate is a rate into the base currency with its observation time. A zero
// AsOf marks a configured (pinned) rate that never goes stale.
type fxRate struct {
	rate float64
	asOf time.Time
}

// PositionValue is one position normalized into the base currency.
type PositionValue struct {
	Symbol     string  `json:"symbol"`
	Currency   string  `json:"currency"`
	Quantity   float64 `json:"quantity"`
	Price      float64 `json:"price"`
	LocalValue float64 `json:"local_value"`
	BaseValue  float64 `json:"base_value"`
	FxRate     float64 `json:"fx_rate"`
	FxStale    bool    `json:"fx_stale"`
}

// Snapshot is a point-in-time valuation of the whole account in the base
// currency.
type Snapshot struct {
	At           time.Time       `json:"at"`
	BaseCurrency string          `json:"base_currency"`
	Cash         float64         `json:"cash"`
	TotalValue   float64         `json:"total_value"`
	Positions    []PositionValue `json:"positions"`
	StaleFx      []string        `json:"stale_fx,omitempty"`
}

// Tracker converts broker positions into base-currency snapshots. Rates come
// either from config (pinned) or from SetRate calls during the session; a
// live rate older than maxAge is flagged stale but still used.
type Tracker struct {
	base     string
	rates    map[string]fxRate
	maxAge   time.Duration
	currency CurrencySource
	now      func() time.Time
}

type TrackerOption func(*Tracker)

func WithCurrencySource(src CurrencySource) TrackerOption {
	return func(t *Tracker) { t.currency = src }
}

func NewTracker(baseCurrency string, configured map[string]float64, maxAge time.Duration, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		base:   baseCurrency,
		rates:  make(map[string]fxRate),
		maxAge: maxAge,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for ccy, rate := range configured {
		t.rates[ccy] = fxRate{rate: rate}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetClock replaces the time source. Tests only.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// SetRate records a live rate observation for converting ccy into base.
func (t *Tracker) SetRate(ccy string, rate float64) {
	t.rates[ccy] = fxRate{rate: rate, asOf: t.now()}
}

// Snapshot values every position in the base currency. A missing rate falls
// back to 1.0 and flags the currency stale rather than dropping the position.
func (t *Tracker) Snapshot(positions map[string]types.Position, cash float64) Snapshot {
	snap := Snapshot{
		At:           t.now(),
		BaseCurrency: t.base,
		Cash:         cash,
		TotalValue:   cash,
	}
	staleSeen := make(map[string]bool)
	for sym, pos := range positions {
		ccy := t.currencyOf(sym)
		rate, stale := t.rateFor(ccy)
		local := pos.MarketValue()
		pv := PositionValue{
			Symbol:     sym,
			Currency:   ccy,
			Quantity:   pos.Quantity,
			Price:      pos.CurrentPrice,
			LocalValue: local,
			BaseValue:  local * rate,
			FxRate:     rate,
			FxStale:    stale,
		}
		if stale && !staleSeen[ccy] {
			staleSeen[ccy] = true
			snap.StaleFx = append(snap.StaleFx, ccy)
		}
		snap.TotalValue += pv.BaseValue
		snap.Positions = append(snap.Positions, pv)
	}
	if len(snap.StaleFx) > 0 {
		logger.Warnf("portfolio snapshot used stale fx rates for %v", snap.StaleFx)
	}
	return snap
}

func (t *Tracker) currencyOf(sym string) string {
	if t.currency != nil {
		if ccy, ok := t.currency.SymbolCurrency(sym); ok && ccy != "" {
			return ccy
		}
	}
	if parsed := symbol.Parse(sym); parsed.Quote != "" {
		return parsed.Quote
	}
	return t.base
}

func (t *Tracker) rateFor(ccy string) (rate float64, stale bool) {
	if ccy == t.base {
		return 1, false
	}
	fx, ok := t.rates[ccy]
	if !ok {
		return 1, true
	}
	if !fx.asOf.IsZero() && t.maxAge > 0 && t.now().Sub(fx.asOf) > t.maxAge {
		return fx.rate, true
	}
	return fx.rate, false
}
