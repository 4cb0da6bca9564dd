package broker

import (
	"context"

	"riskpilot/internal/types"
)

// Broker is the venue capability surface the pipelines trade against. Every
// call takes a context; adapters translate venue errors into plain Go errors
// and leave retry policy to the resilience wrapper.
type Broker interface {
	SubmitOrder(ctx context.Context, order types.Order) (types.Order, error)
	CancelOrder(ctx context.Context, id string) (bool, error)
	GetPositions(ctx context.Context) (map[string]types.Position, error)
	GetPortfolioValue(ctx context.Context) (float64, error)
	GetCash(ctx context.Context) (float64, error)
}

// CurrencyInfo is implemented by adapters that know per-symbol and account
// currencies; the portfolio tracker falls back to symbol parsing otherwise.
type CurrencyInfo interface {
	GetSymbolCurrency(ctx context.Context, sym string) (string, error)
	GetAccountBaseCurrency(ctx context.Context) (string, error)
}
