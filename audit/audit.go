// Package audit persists a best-effort record of pattern executions and
// consensus decisions for post-hoc inspection. It is explicitly not the
// system of record for session state — sessions remain in-memory and
// non-durable — this is an optional side channel for operators who want a
// queryable history after the fact.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rhema-dev/coordination/model"
)

// PatternExecutionRecord is the persisted row for one pattern execution.
type PatternExecutionRecord struct {
	ID            string `gorm:"primaryKey;size:64"`
	Kind          string `gorm:"size:100;index"`
	SessionID     string `gorm:"size:64;index"`
	Status        string `gorm:"size:32"`
	FailureReason string `gorm:"type:text"`
	Progress      float64
	StartedAt     time.Time
	EndedAt       time.Time
	CreatedAt     time.Time
}

func (PatternExecutionRecord) TableName() string { return "rhema_pattern_executions" }

// DecisionRecord is the persisted row for one committed or rejected
// consensus decision.
type DecisionRecord struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"size:64;index"`
	Term      uint64
	Index     uint64
	Proposer  string `gorm:"size:64"`
	Outcome   string `gorm:"size:32"`
	DecidedAt time.Time
	CreatedAt time.Time
}

func (DecisionRecord) TableName() string { return "rhema_decisions" }

// Store persists audit records via GORM. Writes are best-effort: a failed
// write is logged, never propagated to the caller driving pattern execution
// or consensus, since audit is an observability side channel and must never
// be allowed to fail the operation it is recording.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open runs AutoMigrate against db and returns a Store backed by it.
func Open(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&PatternExecutionRecord{}, &DecisionRecord{}); err != nil {
		return nil, err
	}
	return &Store{db: db, logger: logger.With(zap.String("component", "audit"))}, nil
}

// RecordPatternExecution upserts exec's current state.
func (s *Store) RecordPatternExecution(ctx context.Context, exec *model.PatternExecution) {
	record := PatternExecutionRecord{
		ID:            exec.ID,
		Kind:          string(exec.Kind),
		SessionID:     exec.SessionID,
		Status:        string(exec.Status),
		FailureReason: exec.FailureReason,
		Progress:      exec.Progress,
		StartedAt:     exec.StartedAt,
		EndedAt:       exec.EndedAt,
	}
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		s.logger.Warn("failed to persist pattern execution", zap.String("id", exec.ID), zap.Error(err))
	}
}

// RecordDecision appends one decision log entry for sessionID.
func (s *Store) RecordDecision(ctx context.Context, sessionID string, entry model.DecisionLogEntry, outcome model.OutcomeKind) {
	record := DecisionRecord{
		SessionID: sessionID,
		Term:      entry.Term,
		Index:     entry.Index,
		Proposer:  entry.Proposer,
		Outcome:   string(outcome),
		DecidedAt: entry.DecidedAt,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logger.Warn("failed to persist decision", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// PatternHistory returns every recorded execution for kind, most recent
// first, limited to limit rows.
func (s *Store) PatternHistory(ctx context.Context, kind model.PatternKind, limit int) ([]PatternExecutionRecord, error) {
	var records []PatternExecutionRecord
	q := s.db.WithContext(ctx).Order("started_at desc")
	if kind != "" {
		q = q.Where("kind = ?", string(kind))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&records).Error
	return records, err
}

// DecisionHistory returns every recorded decision for sessionID, ordered by
// term then index.
func (s *Store) DecisionHistory(ctx context.Context, sessionID string) ([]DecisionRecord, error) {
	var records []DecisionRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order(`term asc, "index" asc`).
		Find(&records).Error
	return records, err
}
