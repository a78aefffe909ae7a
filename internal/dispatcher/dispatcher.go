// Package dispatcher applies human decisions to suspended runs. It is the
// only component allowed to move a run out of the gated stage.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"ambient-email-agent/internal/metrics"
	"ambient-email-agent/internal/model"
	"ambient-email-agent/internal/pipeline"
	"ambient-email-agent/internal/store"
)

// Dispatcher resumes suspended runs with a decision.
type Dispatcher struct {
	store    *store.Store
	executor pipeline.ActionExecutor
	metrics  *metrics.Metrics
	timeout  time.Duration
}

// New creates a dispatcher.
func New(st *store.Store, executor pipeline.ActionExecutor, m *metrics.Metrics, timeout time.Duration) *Dispatcher {
	return &Dispatcher{store: st, executor: executor, metrics: m, timeout: timeout}
}

// Resume applies a decision to a gated run and drives it to its terminal
// stage. The store's conditional stage update is the single authoritative
// state change: of two concurrent resumes for the same run exactly one
// wins, the other gets ErrStaleRequest, and the external action executes at
// most once. An execution failure after the winning transition is recorded
// as outcome failed with the reason in the audit trail; it is not retried,
// because the mailbox is not assumed idempotent.
func (d *Dispatcher) Resume(ctx context.Context, runID string, decision model.Decision) (model.RunOutcome, error) {
	resolution, execute, err := plan(decision)
	if err != nil {
		return model.RunOutcome{}, err
	}

	run, action, err := d.store.Resolve(runID, resolution)
	if err != nil {
		if err == model.ErrStaleRequest {
			d.metrics.StaleDecisions.Inc()
		}
		return model.RunOutcome{}, err
	}

	d.metrics.DecisionsApplied.WithLabelValues(string(decision.Verdict)).Inc()
	if count, countErr := d.store.CountPending(); countErr == nil {
		d.metrics.PendingApprovals.Set(float64(count))
	}

	outcome := run.Outcome
	if execute {
		if execErr := d.execute(ctx, action); execErr != nil {
			outcome = model.OutcomeFailed
			note := "action execution failed: " + execErr.Error()
			if recErr := d.store.RecordOutcome(runID, outcome, actorOf(decision), note); recErr != nil {
				logrus.Errorf("Failed to record failed outcome for run %s: %v", runID, recErr)
			}
			logrus.Errorf("Run %s approved but action failed: %v", runID, execErr)
			return model.RunOutcome{RunID: runID, Stage: run.Stage, Outcome: outcome}, nil
		}
		logrus.Infof("Run %s resumed with %s, action %s executed", runID, decision.Verdict, action.Kind)
	} else {
		logrus.Infof("Run %s resumed with %s", runID, decision.Verdict)
	}

	if run.Stage == model.StageCompleted {
		d.metrics.RunsCompleted.Inc()
	} else {
		d.metrics.RunsCancelled.Inc()
	}

	return model.RunOutcome{RunID: runID, Stage: run.Stage, Outcome: outcome}, nil
}

// ExpireOlderThan denies every approval request created before the cutoff.
// Each expiry goes through Resume's single-writer gate, so an explicit
// decision racing the sweep still resolves the run exactly once.
func (d *Dispatcher) ExpireOlderThan(ctx context.Context, cutoff time.Time) int {
	runIDs, err := d.store.ExpiredPending(cutoff)
	if err != nil {
		logrus.Errorf("Failed to list expired approvals: %v", err)
		return 0
	}

	expired := 0
	for _, runID := range runIDs {
		_, err := d.Resume(ctx, runID, model.Decision{Verdict: model.VerdictDeny, Actor: "expiry"})
		switch err {
		case nil:
			expired++
		case model.ErrStaleRequest, model.ErrNotFound:
			// Lost the race to an explicit decision.
		default:
			logrus.Errorf("Failed to expire run %s: %v", runID, err)
		}
	}
	if expired > 0 {
		logrus.Infof("Expired %d stale approval requests", expired)
	}
	return expired
}

// plan maps a decision onto a store resolution and whether the resolved
// action should be executed.
func plan(decision model.Decision) (store.Resolution, bool, error) {
	actor := actorOf(decision)
	switch decision.Verdict {
	case model.VerdictApprove:
		return store.Resolution{
			To:      model.StageCompleted,
			Outcome: model.OutcomeSent,
			Actor:   actor,
			Note:    "approved",
		}, true, nil
	case model.VerdictEdit:
		if decision.Replacement == nil {
			return store.Resolution{}, false, fmt.Errorf("edit decision requires a replacement action")
		}
		return store.Resolution{
			To:          model.StageCompleted,
			Outcome:     model.OutcomeSent,
			Replacement: decision.Replacement,
			Actor:       actor,
			Note:        "edited and approved",
		}, true, nil
	case model.VerdictDeny:
		outcome := model.OutcomeDenied
		note := "denied"
		if decision.Actor == "expiry" {
			outcome = model.OutcomeExpired
			note = "expired without decision"
		}
		return store.Resolution{
			To:      model.StageCancelled,
			Outcome: outcome,
			Actor:   actor,
			Note:    note,
		}, false, nil
	default:
		return store.Resolution{}, false, fmt.Errorf("unknown verdict %q", decision.Verdict)
	}
}

func actorOf(decision model.Decision) string {
	if decision.Actor != "" {
		return decision.Actor
	}
	return "human"
}

// execute invokes the action collaborator with a bounded deadline.
func (d *Dispatcher) execute(ctx context.Context, action model.ProposedAction) error {
	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ch := make(chan error, 1)
	go func() {
		ch <- d.executor.Execute(cctx, action)
	}()

	select {
	case err := <-ch:
		return err
	case <-cctx.Done():
		return model.ErrCollaboratorTimeout
	}
}
