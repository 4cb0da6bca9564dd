package market

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"

	"riskpilot/internal/config"
	"riskpilot/internal/logger"
	"riskpilot/internal/pkg/symbol"
	"riskpilot/internal/types"
)

// MaxHistoryLimit is the largest kline batch one REST request can return.
const MaxHistoryLimit = 1000

// BinanceSource serves spot klines over REST for history and websocket
// streams for live bars. REST calls share one rate limiter so multi-symbol
// warmup does not trip exchange weight limits.
type BinanceSource struct {
	client  *binance.Client
	limiter *rate.Limiter
}

func NewBinanceSource(cfg config.MarketConfig) *BinanceSource {
	client := binance.NewClient("", "")
	if cfg.RESTBaseURL != "" {
		client.BaseURL = strings.TrimSpace(cfg.RESTBaseURL)
	}
	perSec := cfg.RequestsPerSec
	if perSec <= 0 {
		perSec = 5
	}
	return &BinanceSource{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(perSec), 1),
	}
}

func (s *BinanceSource) FetchHistory(ctx context.Context, sym, interval string, limit int) ([]types.Bar, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	clean := symbol.Normalize(sym)
	if clean == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	kls, err := s.client.NewKlinesService().
		Symbol(clean).
		Interval(strings.ToLower(strings.TrimSpace(interval))).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", clean, interval, err)
	}

	dur, err := ParseInterval(interval)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make([]types.Bar, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		open := time.UnixMilli(kl.OpenTime).UTC()
		// Binance returns the forming kline last; drop anything not yet closed.
		if open.Add(dur).After(now) {
			continue
		}
		out = append(out, types.Bar{
			Symbol:    clean,
			Timestamp: open,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	return out, nil
}

// Subscribe streams closed klines for each symbol. The channel closes once
// every underlying websocket ends, which happens when ctx is cancelled.
func (s *BinanceSource) Subscribe(ctx context.Context, symbols []string, interval string) (<-chan types.Bar, error) {
	clean := symbol.NormalizeList(symbols)
	if len(clean) == 0 {
		return nil, fmt.Errorf("no valid symbols to subscribe")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	out := make(chan types.Bar, 256)

	remaining := len(clean)
	done := make(chan struct{}, len(clean))

	for _, sym := range clean {
		handler := func(event *binance.WsKlineEvent) {
			if event == nil || !event.Kline.IsFinal {
				return
			}
			bar := types.Bar{
				Symbol:    event.Symbol,
				Timestamp: time.UnixMilli(event.Kline.StartTime).UTC(),
				Open:      parseFloat(event.Kline.Open),
				High:      parseFloat(event.Kline.High),
				Low:       parseFloat(event.Kline.Low),
				Close:     parseFloat(event.Kline.Close),
				Volume:    parseFloat(event.Kline.Volume),
			}
			select {
			case out <- bar:
			default:
				logger.Warnf("bar stream buffer full, dropping %s bar at %s", bar.Symbol, bar.Timestamp)
			}
		}
		errHandler := func(err error) {
			logger.Errorf("binance kline stream %s: %v", sym, err)
		}
		doneC, stopC, err := binance.WsKlineServe(sym, interval, handler, errHandler)
		if err != nil {
			return nil, fmt.Errorf("subscribe %s %s: %w", sym, interval, err)
		}
		go func() {
			select {
			case <-ctx.Done():
				close(stopC)
				<-doneC
			case <-doneC:
			}
			done <- struct{}{}
		}()
	}

	go func() {
		for range done {
			remaining--
			if remaining == 0 {
				close(out)
				return
			}
		}
	}()
	return out, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}
