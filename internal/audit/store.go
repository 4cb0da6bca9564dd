package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Severity grades an audit event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Event is one append-only audit record. Never mutated after write.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"event_type"`
	Symbol    string         `json:"symbol,omitempty"`
	Strategy  string         `json:"strategy,omitempty"`
	Severity  Severity       `json:"severity"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Common event types emitted by the pipelines.
const (
	EventOrderApproved = "order_approved"
	EventOrderRejected = "order_rejected"
	EventOrderFilled   = "order_filled"
	EventBarSkipped    = "bar_skipped"
	EventDataQuality   = "data_quality"
	EventKillSwitch    = "kill_switch"
	EventBrokerRetry   = "broker_retry"
	EventBrokerFailure = "broker_failure"
	EventSessionStart  = "session_start"
	EventSessionEnd    = "session_end"
	EventEquityMark    = "equity_mark"
)

type eventModel struct {
	ID        int64          `gorm:"column:id;primaryKey;autoIncrement"`
	Timestamp time.Time      `gorm:"column:timestamp;index"`
	EventType string         `gorm:"column:event_type;index"`
	Symbol    string         `gorm:"column:symbol;index"`
	Strategy  string         `gorm:"column:strategy;index"`
	Severity  string         `gorm:"column:severity"`
	Payload   datatypes.JSON `gorm:"column:payload;type:TEXT"`
}

func (eventModel) TableName() string { return "audit_events" }

// Store persists audit events to a sqlite table, one row per event.
type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit db path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&eventModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}
	return &Store{db: db}, nil
}

func (s *Store) insert(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	rec := eventModel{
		Timestamp: e.Timestamp.UTC(),
		EventType: e.Type,
		Symbol:    e.Symbol,
		Strategy:  e.Strategy,
		Severity:  string(e.Severity),
		Payload:   payload,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// Filter narrows QueryEvents. Zero values match everything. PayloadPath is a
// gjson path evaluated against the stored payload after the SQL filters.
type Filter struct {
	Since        time.Time
	Until        time.Time
	Type         string
	Symbol       string
	Strategy     string
	Severity     Severity
	PayloadPath  string
	PayloadValue string
}

// QueryEvents returns matching events in insertion order. Call Flush on the
// logger first for read-after-write consistency.
func (s *Store) QueryEvents(ctx context.Context, f Filter, limit int) ([]Event, error) {
	q := s.db.WithContext(ctx).Model(&eventModel{}).Order("id ASC")
	if !f.Since.IsZero() {
		q = q.Where("timestamp >= ?", f.Since.UTC())
	}
	if !f.Until.IsZero() {
		q = q.Where("timestamp < ?", f.Until.UTC())
	}
	if f.Type != "" {
		q = q.Where("event_type = ?", f.Type)
	}
	if f.Symbol != "" {
		q = q.Where("symbol = ?", f.Symbol)
	}
	if f.Strategy != "" {
		q = q.Where("strategy = ?", f.Strategy)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", string(f.Severity))
	}
	if limit > 0 && f.PayloadPath == "" {
		q = q.Limit(limit)
	}
	var rows []eventModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(rows))
	for _, r := range rows {
		if f.PayloadPath != "" {
			got := gjson.GetBytes(r.Payload, f.PayloadPath)
			if !got.Exists() || (f.PayloadValue != "" && got.String() != f.PayloadValue) {
				continue
			}
		}
		e := Event{
			Timestamp: r.Timestamp.UTC(),
			Type:      r.EventType,
			Symbol:    r.Symbol,
			Strategy:  r.Strategy,
			Severity:  Severity(r.Severity),
		}
		if len(r.Payload) > 0 {
			if err := json.Unmarshal(r.Payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload: %w", err)
			}
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
