// Package storage provides the gorm-backed SQLite index over journaled
// events and outcomes, so the HTTP query surface can answer
// GET /api/events?type=&from=&to= without scanning every JSONL file
// (spec §4.1, §6). Adapted from the teacher's gorm+sqlite database
// layer, with the domain-specific market/opportunity models replaced
// by the event-index models this system actually needs.
package storage

import (
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// EventRecord indexes one journaled event for fast time/type-ranged
// lookup, mirroring the JSONL record without duplicating its payload.
type EventRecord struct {
	ID            uint   `gorm:"primaryKey"`
	EventID       string `gorm:"uniqueIndex"`
	EventType     string `gorm:"index"`
	CorrelationID string `gorm:"index"`
	TS            time.Time `gorm:"index"`
}

// OutcomeRecord indexes closed-trade outcomes for analytics queries
// (win rate, average PnL) without re-reading the outcome journal.
type OutcomeRecord struct {
	ID         uint   `gorm:"primaryKey"`
	PositionID string `gorm:"uniqueIndex"`
	Symbol     string `gorm:"index"`
	Label      string `gorm:"index"`
	PnLUSD     float64
	ClosedAt   time.Time `gorm:"index"`
}

// ReconcileMismatchRecord indexes reconciliation drift events for the
// operator-facing audit trail.
type ReconcileMismatchRecord struct {
	ID            uint `gorm:"primaryKey"`
	CorrelationID string
	Detail        string
	DetectedAt    time.Time `gorm:"index"`
}

// Store wraps the gorm DB handle.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if absent) a SQLite-backed Store at path and
// migrates its schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&EventRecord{}, &OutcomeRecord{}, &ReconcileMismatchRecord{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// IndexEvent inserts an index row for one journaled event. Duplicate
// event_ids are ignored (the journal itself is the source of truth;
// the index is rebuildable from a Replay).
func (s *Store) IndexEvent(eventID, eventType, correlationID string, ts time.Time) error {
	rec := EventRecord{EventID: eventID, EventType: eventType, CorrelationID: correlationID, TS: ts}
	return s.db.Where(EventRecord{EventID: eventID}).FirstOrCreate(&rec).Error
}

// QueryEvents returns index rows matching the optional type filter and
// [from, to) time window, for GET /api/events.
func (s *Store) QueryEvents(eventType string, from, to time.Time) ([]EventRecord, error) {
	q := s.db.Model(&EventRecord{}).Where("ts >= ? AND ts < ?", from, to)
	if eventType != "" {
		q = q.Where("event_type = ?", eventType)
	}
	var out []EventRecord
	err := q.Order("ts asc").Find(&out).Error
	return out, err
}

// IndexOutcome inserts an outcome analytics row.
func (s *Store) IndexOutcome(o OutcomeRecord) error {
	return s.db.Where(OutcomeRecord{PositionID: o.PositionID}).FirstOrCreate(&o).Error
}

// WinRate returns the fraction of WIN-labeled outcomes over all
// non-FLAT outcomes for symbol (empty symbol means all).
func (s *Store) WinRate(symbol string) (float64, error) {
	q := s.db.Model(&OutcomeRecord{}).Where("label != ?", "FLAT")
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	var total, wins int64
	if err := q.Count(&total).Error; err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	if err := q.Where("label = ?", "WIN").Count(&wins).Error; err != nil {
		return 0, err
	}
	return float64(wins) / float64(total), nil
}

// IndexReconcileMismatch inserts an audit row for a reconciliation
// drift event.
func (s *Store) IndexReconcileMismatch(correlationID, detail string, detectedAt time.Time) error {
	return s.db.Create(&ReconcileMismatchRecord{CorrelationID: correlationID, Detail: detail, DetectedAt: detectedAt}).Error
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
