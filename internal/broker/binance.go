package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"

	"riskpilot/internal/config"
	"riskpilot/internal/pkg/symbol"
	"riskpilot/internal/types"
)

// Binance adapts spot trading to the Broker interface. Spot has no position
// objects, only asset balances: every non-quote balance above dust is
// reported as a position valued at the current pair price. Entry basis is
// not available from the exchange; callers track it with the lot book.
type Binance struct {
	client     *binance.Client
	quoteAsset string
}

const dustThreshold = 1e-8

func NewBinance(cfg config.BinanceConfig, quoteAsset string) *Binance {
	client := binance.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}
	return &Binance{client: client, quoteAsset: strings.ToUpper(quoteAsset)}
}

func (b *Binance) SubmitOrder(ctx context.Context, order types.Order) (types.Order, error) {
	side := binance.SideTypeBuy
	if order.Side == types.OrderSell {
		side = binance.SideTypeSell
	}
	res, err := b.client.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(strconv.FormatFloat(order.Quantity, 'f', -1, 64)).
		Do(ctx)
	if err != nil {
		order.Status = types.OrderRejected
		return order, fmt.Errorf("binance create order: %w", err)
	}
	order.VenueID = fmt.Sprintf("%s:%d", order.Symbol, res.OrderID)
	if px := avgFillPrice(res.Fills); px > 0 {
		order.Fill(px, time.UnixMilli(res.TransactTime))
	}
	return order, nil
}

func avgFillPrice(fills []*binance.Fill) float64 {
	totalQty, totalCost := 0.0, 0.0
	for _, f := range fills {
		px, _ := strconv.ParseFloat(f.Price, 64)
		qty, _ := strconv.ParseFloat(f.Quantity, 64)
		totalQty += qty
		totalCost += px * qty
	}
	if totalQty == 0 {
		return 0
	}
	return totalCost / totalQty
}

// CancelOrder expects the composite venue id written by SubmitOrder
// ("SYMBOL:orderID"); market orders fill immediately, so this mostly
// matters for venue-side rejects left resting.
func (b *Binance) CancelOrder(ctx context.Context, id string) (bool, error) {
	sym, rawID, ok := strings.Cut(id, ":")
	if !ok {
		return false, fmt.Errorf("malformed binance order id %q", id)
	}
	orderID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return false, fmt.Errorf("malformed binance order id %q: %w", id, err)
	}
	if _, err := b.client.NewCancelOrderService().Symbol(sym).OrderID(orderID).Do(ctx); err != nil {
		return false, fmt.Errorf("binance cancel order %s: %w", id, err)
	}
	return true, nil
}

func (b *Binance) GetPositions(ctx context.Context) (map[string]types.Position, error) {
	acct, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance get account: %w", err)
	}
	prices, err := b.pairPrices(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]types.Position)
	for _, bal := range acct.Balances {
		if bal.Asset == b.quoteAsset {
			continue
		}
		free, _ := strconv.ParseFloat(bal.Free, 64)
		locked, _ := strconv.ParseFloat(bal.Locked, 64)
		qty := free + locked
		if qty <= dustThreshold {
			continue
		}
		pair := bal.Asset + b.quoteAsset
		price, ok := prices[pair]
		if !ok {
			continue
		}
		out[pair] = types.Position{
			Symbol:       pair,
			Quantity:     qty,
			CurrentPrice: price,
		}
	}
	return out, nil
}

func (b *Binance) GetPortfolioValue(ctx context.Context) (float64, error) {
	cash, err := b.GetCash(ctx)
	if err != nil {
		return 0, err
	}
	positions, err := b.GetPositions(ctx)
	if err != nil {
		return 0, err
	}
	total := cash
	for _, pos := range positions {
		total += pos.MarketValue()
	}
	return total, nil
}

func (b *Binance) GetCash(ctx context.Context) (float64, error) {
	acct, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance get account: %w", err)
	}
	for _, bal := range acct.Balances {
		if bal.Asset == b.quoteAsset {
			free, _ := strconv.ParseFloat(bal.Free, 64)
			return free, nil
		}
	}
	return 0, nil
}

func (b *Binance) GetSymbolCurrency(_ context.Context, sym string) (string, error) {
	if parsed := symbol.Parse(sym); parsed.Quote != "" {
		return parsed.Quote, nil
	}
	return b.quoteAsset, nil
}

func (b *Binance) GetAccountBaseCurrency(_ context.Context) (string, error) {
	return b.quoteAsset, nil
}

func (b *Binance) pairPrices(ctx context.Context) (map[string]float64, error) {
	list, err := b.client.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance list prices: %w", err)
	}
	out := make(map[string]float64, len(list))
	for _, p := range list {
		px, _ := strconv.ParseFloat(p.Price, 64)
		out[p.Symbol] = px
	}
	return out, nil
}
