package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"ambient-email-agent/internal/model"
)

// CreateRun inserts a new pipeline run in the pending stage and writes the
// opening audit entry.
func (s *Store) CreateRun(run *model.PipelineRun) error {
	run.Stage = model.StagePending
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("failed to create run: %w", err)
		}
		return appendAudit(tx, run.RunID, run.UserID, model.StagePending, "pipeline", "run created")
	})
}

// GetRun fetches a run by its run identifier.
func (s *Store) GetRun(runID string) (*model.PipelineRun, error) {
	var run model.PipelineRun
	if err := s.db.Where("run_id = ?", runID).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// Advance moves a run from one stage to the next, applying the given column
// updates and appending an audit entry, all in one transaction. The update
// is conditional on the run still being in the from stage, so a run can
// never skip, repeat, or rewind a stage. Returns ErrStaleRequest when
// another writer moved the run first, ErrNotFound for unknown run IDs.
func (s *Store) Advance(runID string, from, to model.Stage, updates map[string]interface{}, actor, note string) error {
	if !from.CanAdvanceTo(to) {
		return fmt.Errorf("illegal stage transition %s -> %s", from, to)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if updates == nil {
			updates = map[string]interface{}{}
		}
		updates["stage"] = to

		res := tx.Model(&model.PipelineRun{}).
			Where("run_id = ? AND stage = ?", runID, from).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to advance run: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&model.PipelineRun{}).Where("run_id = ?", runID).Count(&count).Error; err != nil {
				return fmt.Errorf("failed to check run existence: %w", err)
			}
			if count == 0 {
				return model.ErrNotFound
			}
			return model.ErrStaleRequest
		}

		var userID string
		tx.Model(&model.PipelineRun{}).Where("run_id = ?", runID).Select("user_id").Scan(&userID)
		return appendAudit(tx, runID, userID, to, actor, note)
	})
}

// Suspend parks a drafted run in the gated stage and creates its approval
// request, atomically. The approval request is the queue entry a human
// decision later resolves.
func (s *Store) Suspend(run *model.PipelineRun, actor string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.PipelineRun{}).
			Where("run_id = ? AND stage = ?", run.RunID, model.StageDrafted).
			Updates(map[string]interface{}{"stage": model.StageGated, "sensitive": true})
		if res.Error != nil {
			return fmt.Errorf("failed to gate run: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return model.ErrStaleRequest
		}

		request := model.ApprovalRequest{
			RunID:      run.RunID,
			ActionJSON: run.ActionJSON,
			Priority:   run.Priority,
			VIP:        run.VIP,
		}
		if err := tx.Create(&request).Error; err != nil {
			return fmt.Errorf("failed to create approval request: %w", err)
		}

		return appendAudit(tx, run.RunID, run.UserID, model.StageGated, actor, "awaiting approval")
	})
}

// Resolution describes how a gated run leaves the approval queue.
type Resolution struct {
	To          model.Stage
	Outcome     string
	Replacement *model.ProposedAction
	Actor       string
	Note        string
}

// Resolve applies a resolution to a gated run: the conditional stage update
// is the single authoritative state change, so of two concurrent resolves
// exactly one commits and the other observes ErrStaleRequest. When the
// resolution carries a replacement action, the prior version is appended to
// the approval request's edit history before the request is retired.
// Returns the run and the action payload that won, ready for execution.
func (s *Store) Resolve(runID string, res Resolution) (*model.PipelineRun, model.ProposedAction, error) {
	if !res.To.Terminal() {
		return nil, model.ProposedAction{}, fmt.Errorf("resolution must target a terminal stage, got %s", res.To)
	}

	var run model.PipelineRun
	var action model.ProposedAction

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", runID).First(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return model.ErrNotFound
			}
			return fmt.Errorf("failed to load run: %w", err)
		}

		var request model.ApprovalRequest
		if err := tx.Where("run_id = ?", runID).First(&request).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return model.ErrStaleRequest
			}
			return fmt.Errorf("failed to load approval request: %w", err)
		}

		actionJSON := request.ActionJSON
		if res.Replacement != nil {
			prior, err := request.Action()
			if err != nil {
				return fmt.Errorf("failed to decode stored action: %w", err)
			}
			historyJSON, err := appendHistory(request.HistoryJSON, prior)
			if err != nil {
				return fmt.Errorf("failed to append edit history: %w", err)
			}
			newJSON, err := model.EncodeAction(*res.Replacement)
			if err != nil {
				return fmt.Errorf("failed to encode replacement action: %w", err)
			}
			if err := tx.Model(&request).Updates(map[string]interface{}{
				"action_json":  newJSON,
				"history_json": historyJSON,
			}).Error; err != nil {
				return fmt.Errorf("failed to store edited action: %w", err)
			}
			actionJSON = newJSON
		}

		upd := tx.Model(&model.PipelineRun{}).
			Where("run_id = ? AND stage = ?", runID, model.StageGated).
			Updates(map[string]interface{}{
				"stage":       res.To,
				"outcome":     res.Outcome,
				"action_json": actionJSON,
			})
		if upd.Error != nil {
			return fmt.Errorf("failed to resolve run: %w", upd.Error)
		}
		if upd.RowsAffected == 0 {
			return model.ErrStaleRequest
		}

		// Soft delete retires the queue entry while keeping the edit
		// history for audit.
		if err := tx.Delete(&request).Error; err != nil {
			return fmt.Errorf("failed to retire approval request: %w", err)
		}

		decoded, err := model.DecodeAction(actionJSON)
		if err != nil {
			return fmt.Errorf("failed to decode resolved action: %w", err)
		}
		action = decoded
		run.Stage = res.To
		run.Outcome = res.Outcome
		run.ActionJSON = actionJSON

		return appendAudit(tx, runID, run.UserID, res.To, res.Actor, res.Note)
	})
	if err != nil {
		return nil, model.ProposedAction{}, err
	}
	return &run, action, nil
}

// RecordOutcome overwrites the outcome of a terminal run, used when action
// execution fails after a resolution commits.
func (s *Store) RecordOutcome(runID, outcome, actor, note string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.PipelineRun{}).
			Where("run_id = ?", runID).
			Update("outcome", outcome)
		if res.Error != nil {
			return fmt.Errorf("failed to record outcome: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return model.ErrNotFound
		}
		var run model.PipelineRun
		if err := tx.Where("run_id = ?", runID).First(&run).Error; err != nil {
			return fmt.Errorf("failed to load run: %w", err)
		}
		return appendAudit(tx, runID, run.UserID, run.Stage, actor, note)
	})
}

// GatedRuns lists all runs currently suspended in the gated stage, used to
// report recovered state after a restart.
func (s *Store) GatedRuns() ([]model.PipelineRun, error) {
	var runs []model.PipelineRun
	if err := s.db.Where("stage = ?", model.StageGated).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list gated runs: %w", err)
	}
	return runs, nil
}

// RunsSince returns all runs for a user created after the given time,
// newest first.
func (s *Store) RunsSince(userID string, since time.Time) ([]model.PipelineRun, error) {
	var runs []model.PipelineRun
	err := s.db.Where("user_id = ? AND created_at >= ?", userID, since).
		Order("created_at DESC").
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// LabelCounts aggregates runs per triage label for a user since the given
// time.
func (s *Store) LabelCounts(userID string, since time.Time) (map[string]int64, error) {
	return s.countBy("label", userID, since)
}

// OutcomeCounts aggregates terminal runs per outcome for a user since the
// given time.
func (s *Store) OutcomeCounts(userID string, since time.Time) (map[string]int64, error) {
	return s.countBy("outcome", userID, since)
}

func (s *Store) countBy(column, userID string, since time.Time) (map[string]int64, error) {
	type row struct {
		Key   string
		Count int64
	}
	var rows []row
	err := s.db.Model(&model.PipelineRun{}).
		Select(column+" AS key, COUNT(*) AS count").
		Where("user_id = ? AND created_at >= ? AND "+column+" <> ''", userID, since).
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate runs: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Key] = r.Count
	}
	return counts, nil
}
