// Package pipeline implements the three-stage state machine that turns an
// inbound item into either an auto-completed run or a suspended approval
// request: triage classifies, draft proposes an action, gate decides
// whether a human must approve it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ambient-email-agent/internal/dedup"
	"ambient-email-agent/internal/genai"
	"ambient-email-agent/internal/metrics"
	"ambient-email-agent/internal/model"
	"ambient-email-agent/internal/prefs"
	"ambient-email-agent/internal/store"
)

// ActionExecutor executes an approved or auto-approved proposed action
// against the outside world.
type ActionExecutor interface {
	Execute(ctx context.Context, action model.ProposedAction) error
}

// Pipeline drives a run through triage, draft, and gate. It exclusively
// owns stage transitions up to and including suspension; only the
// dispatcher moves a run out of gated.
type Pipeline struct {
	store      *store.Store
	prefs      prefs.PreferenceStore
	classifier genai.Classifier
	drafter    genai.Drafter
	fallback   genai.HeuristicClassifier
	executor   ActionExecutor
	metrics    *metrics.Metrics
	timeout    time.Duration
}

// New creates a pipeline with the given collaborators.
func New(st *store.Store, ps prefs.PreferenceStore, classifier genai.Classifier, drafter genai.Drafter, executor ActionExecutor, m *metrics.Metrics, timeout time.Duration) *Pipeline {
	return &Pipeline{
		store:      st,
		prefs:      ps,
		classifier: classifier,
		drafter:    drafter,
		executor:   executor,
		metrics:    m,
		timeout:    timeout,
	}
}

// Run processes one accepted inbound item to completion or suspension and
// returns the run's resulting state.
func (p *Pipeline) Run(ctx context.Context, userID string, item model.InboundItem, acc dedup.Acceptance) (model.RunOutcome, error) {
	run := &model.PipelineRun{
		RunID:      newRunID(item.ExternalID),
		UserID:     userID,
		ExternalID: item.ExternalID,
		Sender:     item.Sender,
		Subject:    item.Subject,
		Body:       item.Body,
		Recipient:  item.Recipient,
		ReceivedAt: item.ReceivedAt,
		Priority:   acc.Priority,
		VIP:        acc.VIP,
	}
	if err := p.store.CreateRun(run); err != nil {
		return model.RunOutcome{}, fmt.Errorf("failed to create run: %w", err)
	}

	label, err := p.triage(ctx, run)
	if err != nil {
		return model.RunOutcome{}, err
	}

	if !label.NeedsDraft() {
		outcome := model.OutcomeNoAction
		note := "no action needed for label " + string(label)
		if err := p.complete(run, model.StageTriaged, outcome, note); err != nil {
			return model.RunOutcome{}, err
		}
		return model.RunOutcome{RunID: run.RunID, Stage: model.StageCompleted, Outcome: outcome}, nil
	}

	action, err := p.draft(ctx, run, label)
	if err != nil {
		return model.RunOutcome{}, err
	}

	return p.gate(ctx, run, action)
}

// triage classifies the run's item, falling back to the heuristic
// classifier on collaborator failure, and advances pending -> triaged.
func (p *Pipeline) triage(ctx context.Context, run *model.PipelineRun) (model.Label, error) {
	started := time.Now()

	classification, err := p.classify(ctx, run.Item())
	if err != nil {
		logrus.Warnf("Classifier failed for run %s, using heuristic fallback: %v", run.RunID, err)
		if auditErr := p.store.AppendAudit(run.RunID, run.UserID, model.StagePending, "pipeline", "classifier fallback: "+err.Error()); auditErr != nil {
			logrus.Errorf("Failed to audit classifier fallback: %v", auditErr)
		}
		classification, _ = p.fallback.Classify(ctx, run.Subject, run.Body, run.Sender)
	}

	label := classification.Label
	if err := p.store.Advance(run.RunID, model.StagePending, model.StageTriaged,
		map[string]interface{}{"label": label}, "pipeline", "classified as "+string(label)); err != nil {
		return "", fmt.Errorf("failed to advance to triaged: %w", err)
	}
	run.Stage = model.StageTriaged
	run.Label = label
	p.metrics.StageDuration.WithLabelValues(string(model.StageTriaged)).Observe(time.Since(started).Seconds())

	logrus.Infof("Run %s triaged as %s (VIP: %t, priority: %d)", run.RunID, label, run.VIP, run.Priority)
	return label, nil
}

// draft asks the draft collaborator for a proposed action, substituting the
// flag-for-manual-reply default on failure, and advances triaged -> drafted.
func (p *Pipeline) draft(ctx context.Context, run *model.PipelineRun, label model.Label) (model.ProposedAction, error) {
	started := time.Now()

	profile, err := p.prefs.GetProfile(run.UserID)
	if err != nil {
		logrus.Warnf("Profile lookup failed for run %s: %v", run.RunID, err)
		profile = model.UserProfile{UserID: run.UserID, Tone: model.DefaultTone, MeetingHours: model.DefaultMeetingHours}
	}

	action, err := p.propose(ctx, genai.DraftRequest{
		Item:    run.Item(),
		Label:   label,
		Profile: profile,
		VIP:     run.VIP,
	})
	if err != nil {
		logrus.Warnf("Drafter failed for run %s, flagging for manual reply: %v", run.RunID, err)
		if auditErr := p.store.AppendAudit(run.RunID, run.UserID, model.StageTriaged, "pipeline", "drafter fallback: "+err.Error()); auditErr != nil {
			logrus.Errorf("Failed to audit drafter fallback: %v", auditErr)
		}
		action = model.ProposedAction{
			Kind:            model.ActionFlagManual,
			To:              genai.ExtractAddress(run.Sender),
			Subject:         "Re: " + run.Subject,
			Body:            "Flag for manual reply.",
			OriginalSender:  run.Sender,
			OriginalSubject: run.Subject,
		}
	}

	actionJSON, err := model.EncodeAction(action)
	if err != nil {
		return model.ProposedAction{}, fmt.Errorf("failed to encode action: %w", err)
	}
	if err := p.store.Advance(run.RunID, model.StageTriaged, model.StageDrafted,
		map[string]interface{}{"action_json": actionJSON}, "pipeline", "drafted "+string(action.Kind)); err != nil {
		return model.ProposedAction{}, fmt.Errorf("failed to advance to drafted: %w", err)
	}
	run.Stage = model.StageDrafted
	run.ActionJSON = actionJSON
	p.metrics.StageDuration.WithLabelValues(string(model.StageDrafted)).Observe(time.Since(started).Seconds())

	return action, nil
}

// gate evaluates the sensitivity policy. Sensitive actions suspend the run
// with an approval request; everything else auto-completes, executing the
// action when there is one.
func (p *Pipeline) gate(ctx context.Context, run *model.PipelineRun, action model.ProposedAction) (model.RunOutcome, error) {
	if action.Kind.Sensitive() {
		if err := p.store.Suspend(run, "pipeline"); err != nil {
			return model.RunOutcome{}, fmt.Errorf("failed to suspend run: %w", err)
		}
		p.metrics.RunsSuspended.Inc()
		if count, err := p.store.CountPending(); err == nil {
			p.metrics.PendingApprovals.Set(float64(count))
		}
		logrus.Infof("Run %s suspended awaiting approval (%s)", run.RunID, action.Kind)
		return model.RunOutcome{RunID: run.RunID, Stage: model.StageGated}, nil
	}

	if err := p.store.Advance(run.RunID, model.StageDrafted, model.StageGated,
		map[string]interface{}{"sensitive": false}, "pipeline", "not sensitive"); err != nil {
		return model.RunOutcome{}, fmt.Errorf("failed to advance to gated: %w", err)
	}

	outcome := model.OutcomeNoAction
	note := "auto-completed without external action"
	if action.Kind != model.ActionNone {
		if err := p.execute(ctx, action); err != nil {
			outcome = model.OutcomeFailed
			note = "action execution failed: " + err.Error()
			logrus.Errorf("Run %s action failed: %v", run.RunID, err)
		} else {
			outcome = model.OutcomeSent
			note = "action executed automatically"
		}
	}

	if err := p.store.Advance(run.RunID, model.StageGated, model.StageCompleted,
		map[string]interface{}{"outcome": outcome}, "pipeline", note); err != nil {
		return model.RunOutcome{}, fmt.Errorf("failed to complete run: %w", err)
	}
	p.metrics.RunsCompleted.Inc()
	return model.RunOutcome{RunID: run.RunID, Stage: model.StageCompleted, Outcome: outcome}, nil
}

// complete finishes a run straight from the given stage with the no-action
// payload, used by the spam and fyi short-circuits.
func (p *Pipeline) complete(run *model.PipelineRun, from model.Stage, outcome, note string) error {
	actionJSON, err := model.EncodeAction(model.NoAction())
	if err != nil {
		return fmt.Errorf("failed to encode action: %w", err)
	}
	if err := p.store.Advance(run.RunID, from, model.StageCompleted, map[string]interface{}{
		"action_json": actionJSON,
		"sensitive":   false,
		"outcome":     outcome,
	}, "pipeline", note); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	p.metrics.RunsCompleted.Inc()
	logrus.Infof("Run %s completed: %s", run.RunID, note)
	return nil
}

// classify invokes the classification collaborator with a bounded deadline.
// A collaborator that ignores its context still cannot stall the run.
func (p *Pipeline) classify(ctx context.Context, item model.InboundItem) (genai.Classification, error) {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type result struct {
		c   genai.Classification
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := p.classifier.Classify(cctx, item.Subject, item.Body, item.Sender)
		ch <- result{c, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return genai.Classification{}, fmt.Errorf("%w: %v", model.ErrCollaboratorFailure, res.err)
		}
		if !model.ValidLabel(res.c.Label) {
			return genai.Classification{}, fmt.Errorf("%w: invalid label %q", model.ErrCollaboratorFailure, res.c.Label)
		}
		return res.c, nil
	case <-cctx.Done():
		return genai.Classification{}, model.ErrCollaboratorTimeout
	}
}

// propose invokes the draft collaborator with a bounded deadline.
func (p *Pipeline) propose(ctx context.Context, req genai.DraftRequest) (model.ProposedAction, error) {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type result struct {
		a   model.ProposedAction
		err error
	}
	ch := make(chan result, 1)
	go func() {
		a, err := p.drafter.Draft(cctx, req)
		ch <- result{a, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return model.ProposedAction{}, fmt.Errorf("%w: %v", model.ErrCollaboratorFailure, res.err)
		}
		return res.a, nil
	case <-cctx.Done():
		return model.ProposedAction{}, model.ErrCollaboratorTimeout
	}
}

// execute invokes the action collaborator with a bounded deadline.
func (p *Pipeline) execute(ctx context.Context, action model.ProposedAction) error {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ch := make(chan error, 1)
	go func() {
		ch <- p.executor.Execute(cctx, action)
	}()

	select {
	case err := <-ch:
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrCollaboratorFailure, err)
		}
		return nil
	case <-cctx.Done():
		return model.ErrCollaboratorTimeout
	}
}

// newRunID derives a run identifier from the item's external identifier
// plus a short random suffix.
func newRunID(externalID string) string {
	suffix := uuid.New().String()
	suffix = suffix[:8]
	return externalID + "-" + suffix
}

// IsRecoverable reports whether an error is a contained per-item failure
// rather than a structural one.
func IsRecoverable(err error) bool {
	return errors.Is(err, model.ErrCollaboratorTimeout) || errors.Is(err, model.ErrCollaboratorFailure)
}
