package symbol

import "strings"

// Symbol splits a trading pair into base and quote. Equity tickers have no
// quote and classify as non-crypto.
type Symbol struct {
	Base  string
	Quote string
}

var quoteCurrencies = []string{"USDT", "BUSD", "USDC", "TUSD", "USD", "BTC", "ETH", "BNB"}

func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{Base: s}
}

// IsCrypto reports whether a symbol looks like a crypto pair. Equity tickers
// ("AAPL") parse with an empty quote and are treated as equities.
func IsCrypto(s string) bool {
	return Parse(s).Quote != ""
}

// Normalize upper-cases and strips exchange suffixes ("ETH/USDT:USDT" -> "ETHUSDT").
func Normalize(s string) string {
	sym := Parse(s)
	if sym.Base == "" {
		return ""
	}
	return sym.Base + sym.Quote
}

func NormalizeList(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		norm := Normalize(s)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}
