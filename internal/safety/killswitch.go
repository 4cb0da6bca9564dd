package safety

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"riskpilot/internal/logger"

	_ "modernc.org/sqlite"
)

// ErrHalted is returned by CheckAndRaise while the switch is active. The bar
// loop consumes it exactly once per bar; it never unwinds past the pipeline.
var ErrHalted = errors.New("kill switch active")

// KillSwitch is a restart-durable halt flag. Each runtime mode (paper, live,
// test) opens its own store file so a simulated halt can never stop live
// trading. Once triggered it stays active until explicitly cleared.
type KillSwitch struct {
	db   *sql.DB
	path string

	mu     sync.Mutex
	active bool
	reason string
}

// Open loads (or creates) the store at path and reads any persisted flag, so
// a crashed-and-restarted process cannot silently resume after a halt.
func Open(path string) (*KillSwitch, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("kill switch store path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kill_switch (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			active INTEGER NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			triggered_at TEXT NOT NULL DEFAULT ''
		)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("kill switch schema: %w", err)
	}
	ks := &KillSwitch{db: db, path: path}
	if err := ks.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if ks.active {
		logger.Warnf("kill switch already active in %s: %s", path, ks.reason)
	}
	return ks, nil
}

func (k *KillSwitch) load() error {
	row := k.db.QueryRow(`SELECT active, reason FROM kill_switch WHERE id = 1`)
	var active int
	var reason string
	switch err := row.Scan(&active, &reason); {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("kill switch load: %w", err)
	}
	k.active = active != 0
	k.reason = reason
	return nil
}

// Trigger persists the halt. Persistence failures are logged but the
// in-memory flag is raised regardless: halting beats durability here.
func (k *KillSwitch) Trigger(ctx context.Context, reason string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.active {
		return
	}
	k.active = true
	k.reason = reason
	logger.Errorf("kill switch triggered: %s", reason)
	_, err := k.db.ExecContext(ctx, `
		INSERT INTO kill_switch (id, active, reason, triggered_at) VALUES (1, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET active=1, reason=excluded.reason, triggered_at=excluded.triggered_at`,
		reason, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		logger.Errorf("kill switch persist failed (%s): %v", k.path, err)
	}
}

// Active reports the flag and its reason.
func (k *KillSwitch) Active() (bool, string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.active, k.reason
}

// CheckAndRaise is called at the top of every bar iteration. It returns
// ErrHalted (wrapped with the reason) while the switch is active.
func (k *KillSwitch) CheckAndRaise() error {
	active, reason := k.Active()
	if !active {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrHalted, reason)
}

// Clear resets the flag. Only the admin surface calls this; pipelines never do.
func (k *KillSwitch) Clear(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, err := k.db.ExecContext(ctx, `
		INSERT INTO kill_switch (id, active, reason, triggered_at) VALUES (1, 0, '', '')
		ON CONFLICT(id) DO UPDATE SET active=0, reason='', triggered_at=''`); err != nil {
		return fmt.Errorf("kill switch clear: %w", err)
	}
	k.active = false
	k.reason = ""
	logger.Infof("kill switch cleared in %s", k.path)
	return nil
}

func (k *KillSwitch) Close() error {
	if k.db == nil {
		return nil
	}
	return k.db.Close()
}
