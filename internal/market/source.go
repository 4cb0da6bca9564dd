package market

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"riskpilot/internal/types"
)

// Source produces bars: bounded history for backtests and warmup, a
// subscription stream for live/paper sessions. Implementations must emit
// only closed bars with UTC timestamps.
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]types.Bar, error)
	Subscribe(ctx context.Context, symbols []string, interval string) (<-chan types.Bar, error)
}

// ParseInterval converts exchange interval notation ("1m", "4h", "1d") into
// a duration.
func ParseInterval(interval string) (time.Duration, error) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if len(interval) < 2 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	switch interval[len(interval)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
}
