package audit

import (
	"context"
	"sync"
	"time"

	"riskpilot/internal/logger"
)

// Logger is a many-producer, single-consumer durable event sink. LogEvent
// never blocks the decision path: events land in an in-memory queue and one
// background goroutine writes them out in strict enqueue order. Write
// failures are logged and swallowed (best-effort durability).
type Logger struct {
	store *Store

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Event
	writing bool
	started bool
	closing bool

	wg sync.WaitGroup
}

func NewLogger(store *Store) *Logger {
	l := &Logger{store: store}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Start launches the consumer. Idempotent.
func (l *Logger) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true
	l.closing = false
	l.wg.Add(1)
	go l.consume()
}

// LogEvent enqueues and returns immediately. Events logged after Stop are
// dropped with a local warning.
func (l *Logger) LogEvent(eventType string, severity Severity, symbol, strategy string, payload map[string]any) {
	e := Event{
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Symbol:    symbol,
		Strategy:  strategy,
		Severity:  severity,
		Payload:   payload,
	}
	l.mu.Lock()
	if l.closing || !l.started {
		l.mu.Unlock()
		logger.Warnf("audit event %s dropped: logger not running", eventType)
		return
	}
	l.queue = append(l.queue, e)
	l.cond.Broadcast()
	l.mu.Unlock()
}

func (l *Logger) consume() {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closing {
			l.cond.Wait()
		}
		if len(l.queue) == 0 && l.closing {
			l.mu.Unlock()
			return
		}
		e := l.queue[0]
		l.queue = l.queue[1:]
		l.writing = true
		l.mu.Unlock()

		if err := l.store.insert(context.Background(), e); err != nil {
			logger.Errorf("audit write failed (%s): %v", e.Type, err)
		}

		l.mu.Lock()
		l.writing = false
		l.cond.Broadcast()
		l.mu.Unlock()
	}
}

// Flush blocks until every event enqueued before the call has been written
// (drain-and-join, not a fixed wait).
func (l *Logger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.queue) > 0 || l.writing {
		l.cond.Wait()
	}
}

// Stop rejects new events, flushes the queue and joins the consumer. Idempotent.
func (l *Logger) Stop() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	l.started = false
	l.closing = true
	l.cond.Broadcast()
	l.mu.Unlock()
	l.wg.Wait()
}

// QueryEvents is a synchronous read of the persisted table. Call Flush first
// when read-after-write consistency matters.
func (l *Logger) QueryEvents(ctx context.Context, f Filter, limit int) ([]Event, error) {
	return l.store.QueryEvents(ctx, f, limit)
}
