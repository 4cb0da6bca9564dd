package config

import (
	"fmt"
	"sync"

	"riskpilot/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RiskListener receives the validated risk section after each file change.
type RiskListener func(RiskConfig)

// RiskWatcher hot-reloads the risk section of a config file so limits can be
// tightened on a running paper/live session without a restart.
type RiskWatcher struct {
	path string

	mu        sync.RWMutex
	current   RiskConfig
	listeners []RiskListener
}

// WatchRisk starts watching path. The initial load must succeed; later
// reload failures keep the previous limits and log the error.
func WatchRisk(path string) (*RiskWatcher, error) {
	rc, err := LoadRiskSection(path)
	if err != nil {
		return nil, fmt.Errorf("loading risk limits failed (%s): %w", path, err)
	}
	w := &RiskWatcher{path: path, current: *rc}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := w.reload(); err != nil {
			logger.Errorf("risk limit reload failed (%s): %v", evt.Name, err)
		}
	})
	v.WatchConfig()
	return w, nil
}

func (w *RiskWatcher) reload() error {
	rc, err := LoadRiskSection(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.current = *rc
	listeners := append([]RiskListener(nil), w.listeners...)
	w.mu.Unlock()
	logger.Infof("risk limits reloaded from %s", w.path)
	for _, fn := range listeners {
		fn(*rc)
	}
	return nil
}

// Current returns the latest validated limits.
func (w *RiskWatcher) Current() RiskConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe registers a listener and immediately delivers the current limits.
func (w *RiskWatcher) Subscribe(fn RiskListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	cur := w.current
	w.mu.Unlock()
	fn(cur)
}
