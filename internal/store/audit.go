package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"ambient-email-agent/internal/model"
)

// appendAudit writes an immutable audit entry inside the caller's
// transaction. Entries are only ever inserted, never updated.
func appendAudit(tx *gorm.DB, runID, userID string, stage model.Stage, actor, note string) error {
	entry := model.AuditEntry{
		RunID:  runID,
		UserID: userID,
		Stage:  stage,
		Actor:  actor,
		Note:   note,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// AppendAudit records an audit entry outside any stage transition, e.g. a
// collaborator fallback or an execution failure reason.
func (s *Store) AppendAudit(runID, userID string, stage model.Stage, actor, note string) error {
	return appendAudit(s.db, runID, userID, stage, actor, note)
}

// AuditTrail returns the ordered audit history for a run, oldest first.
func (s *Store) AuditTrail(runID string) ([]model.AuditEntry, error) {
	var entries []model.AuditEntry
	err := s.db.Where("run_id = ?", runID).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load audit trail: %w", err)
	}
	return entries, nil
}

// AuditSince returns a user's audit entries since the given time, newest
// first, capped at limit.
func (s *Store) AuditSince(userID string, since time.Time, limit int) ([]model.AuditEntry, error) {
	var entries []model.AuditEntry
	err := s.db.Where("user_id = ? AND created_at >= ?", userID, since).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load audit entries: %w", err)
	}
	return entries, nil
}
