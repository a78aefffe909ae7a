package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"ambient-email-agent/internal/model"
)

// ListPending returns all approval requests awaiting a decision, ordered by
// priority descending with creation time ascending as the tie-break. When
// vipOnly is non-nil the list is filtered by the VIP flag.
func (s *Store) ListPending(vipOnly *bool) ([]model.ApprovalRequest, error) {
	query := s.db.Order("priority DESC, created_at ASC")
	if vipOnly != nil {
		query = query.Where("vip = ?", *vipOnly)
	}
	var requests []model.ApprovalRequest
	if err := query.Find(&requests).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	return requests, nil
}

// GetPending fetches the approval request for a run, if still unresolved.
func (s *Store) GetPending(runID string) (*model.ApprovalRequest, error) {
	var request model.ApprovalRequest
	if err := s.db.Where("run_id = ?", runID).First(&request).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get approval request: %w", err)
	}
	return &request, nil
}

// CountPending returns the number of unresolved approval requests.
func (s *Store) CountPending() (int64, error) {
	var count int64
	if err := s.db.Model(&model.ApprovalRequest{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count pending approvals: %w", err)
	}
	return count, nil
}

// ExpiredPending returns run IDs of approval requests created before the
// cutoff. The caller resolves each through the dispatcher so expiry goes
// through the same single-writer gate as an explicit decision.
func (s *Store) ExpiredPending(cutoff time.Time) ([]string, error) {
	var runIDs []string
	err := s.db.Model(&model.ApprovalRequest{}).
		Where("created_at < ?", cutoff).
		Pluck("run_id", &runIDs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired approvals: %w", err)
	}
	return runIDs, nil
}

// appendHistory appends an action version to a serialized edit history,
// newest last.
func appendHistory(historyJSON string, prior model.ProposedAction) (string, error) {
	var history []model.ProposedAction
	if historyJSON != "" {
		if err := json.Unmarshal([]byte(historyJSON), &history); err != nil {
			return "", err
		}
	}
	history = append(history, prior)
	data, err := json.Marshal(history)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
