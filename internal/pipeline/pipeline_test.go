package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambient-email-agent/internal/dedup"
	"ambient-email-agent/internal/genai"
	"ambient-email-agent/internal/metrics"
	"ambient-email-agent/internal/model"
	"ambient-email-agent/internal/prefs"
	"ambient-email-agent/internal/store"
)

// promauto registers against the default registry, so all tests in this
// package share one instance.
var testMetrics = metrics.NewMetrics()

type stubClassifier struct {
	classification genai.Classification
	err            error
	block          bool
}

func (c stubClassifier) Classify(ctx context.Context, _, _, _ string) (genai.Classification, error) {
	if c.block {
		<-ctx.Done()
		return genai.Classification{}, ctx.Err()
	}
	return c.classification, c.err
}

type stubDrafter struct {
	action model.ProposedAction
	err    error
}

func (d stubDrafter) Draft(_ context.Context, _ genai.DraftRequest) (model.ProposedAction, error) {
	return d.action, d.err
}

type countingExecutor struct {
	calls int32
	err   error
	last  model.ProposedAction
}

func (e *countingExecutor) Execute(_ context.Context, action model.ProposedAction) error {
	atomic.AddInt32(&e.calls, 1)
	e.last = action
	return e.err
}

func (e *countingExecutor) count() int32 {
	return atomic.LoadInt32(&e.calls)
}

type testEnv struct {
	store    *store.Store
	executor *countingExecutor
}

func newTestPipeline(t *testing.T, classifier genai.Classifier, drafter genai.Drafter) (*Pipeline, *testEnv) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	executor := &countingExecutor{}
	p := New(st, prefs.New(st.DB()), classifier, drafter, executor, testMetrics, 200*time.Millisecond)
	return p, &testEnv{store: st, executor: executor}
}

func meetingItem() model.InboundItem {
	return model.InboundItem{
		ExternalID: "msg-1",
		Sender:     "Jordan Lee <jordan@x.com>",
		Subject:    "Quick sync",
		Body:       "Can we meet Thursday to go over the plan?",
		ReceivedAt: time.Now(),
	}
}

func TestRunSuspendsSensitiveAction(t *testing.T) {
	classifier := stubClassifier{classification: genai.Classification{Label: model.LabelSchedule, Confidence: 0.9}}
	p, env := newTestPipeline(t, classifier, genai.TemplateDrafter{})

	outcome, err := p.Run(context.Background(), "u1", meetingItem(), dedup.Acceptance{Priority: 2, VIP: true})
	require.NoError(t, err)
	assert.Equal(t, model.StageGated, outcome.Stage)

	// The run is parked and the action is queued, not executed.
	assert.Equal(t, int32(0), env.executor.count())

	request, err := env.store.GetPending(outcome.RunID)
	require.NoError(t, err)
	assert.True(t, request.VIP)
	assert.Equal(t, 2, request.Priority)

	action, err := request.Action()
	require.NoError(t, err)
	assert.Equal(t, model.ActionCreateEvent, action.Kind)

	run, err := env.store.GetRun(outcome.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.StageGated, run.Stage)
	assert.True(t, run.Sensitive)
}

func TestRunCompletesSpamDirectly(t *testing.T) {
	classifier := stubClassifier{classification: genai.Classification{Label: model.LabelSpam, Confidence: 0.9}}
	p, env := newTestPipeline(t, classifier, genai.TemplateDrafter{})

	outcome, err := p.Run(context.Background(), "u1", meetingItem(), dedup.Acceptance{Priority: 1})
	require.NoError(t, err)
	assert.Equal(t, model.StageCompleted, outcome.Stage)
	assert.Equal(t, model.OutcomeNoAction, outcome.Outcome)
	assert.Equal(t, int32(0), env.executor.count())

	_, err = env.store.GetPending(outcome.RunID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	run, err := env.store.GetRun(outcome.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.LabelSpam, run.Label)
}

func TestRunCompletesFYIDirectly(t *testing.T) {
	classifier := stubClassifier{classification: genai.Classification{Label: model.LabelFYI, Confidence: 0.9}}
	p, _ := newTestPipeline(t, classifier, genai.TemplateDrafter{})

	outcome, err := p.Run(context.Background(), "u1", meetingItem(), dedup.Acceptance{Priority: 1})
	require.NoError(t, err)
	assert.Equal(t, model.StageCompleted, outcome.Stage)
	assert.Equal(t, model.OutcomeNoAction, outcome.Outcome)
}

func TestRunClassifierFailureFallsBack(t *testing.T) {
	classifier := stubClassifier{err: errors.New("model unavailable")}
	p, env := newTestPipeline(t, classifier, genai.TemplateDrafter{})

	// The heuristic fallback labels the meeting request as schedule.
	outcome, err := p.Run(context.Background(), "u1", meetingItem(), dedup.Acceptance{Priority: 1})
	require.NoError(t, err)
	assert.Equal(t, model.StageGated, outcome.Stage)

	run, err := env.store.GetRun(outcome.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.LabelSchedule, run.Label)

	trail, err := env.store.AuditTrail(outcome.RunID)
	require.NoError(t, err)
	var noted bool
	for _, entry := range trail {
		if strings.Contains(entry.Note, "classifier fallback") {
			noted = true
		}
	}
	assert.True(t, noted, "fallback should leave an audit note")
}

func TestRunClassifierTimeoutFallsBack(t *testing.T) {
	classifier := stubClassifier{block: true}
	p, env := newTestPipeline(t, classifier, genai.TemplateDrafter{})

	outcome, err := p.Run(context.Background(), "u1", meetingItem(), dedup.Acceptance{Priority: 1})
	require.NoError(t, err)
	assert.Equal(t, model.StageGated, outcome.Stage)

	run, err := env.store.GetRun(outcome.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.LabelSchedule, run.Label)
}

func TestRunInvalidLabelFallsBack(t *testing.T) {
	classifier := stubClassifier{classification: genai.Classification{Label: "urgent", Confidence: 0.9}}
	p, env := newTestPipeline(t, classifier, genai.TemplateDrafter{})

	outcome, err := p.Run(context.Background(), "u1", meetingItem(), dedup.Acceptance{Priority: 1})
	require.NoError(t, err)

	run, err := env.store.GetRun(outcome.RunID)
	require.NoError(t, err)
	assert.True(t, model.ValidLabel(run.Label))
}

func TestRunDrafterFailureFlagsManual(t *testing.T) {
	classifier := stubClassifier{classification: genai.Classification{Label: model.LabelNeedsReply, Confidence: 0.9}}
	drafter := stubDrafter{err: errors.New("model unavailable")}
	p, env := newTestPipeline(t, classifier, drafter)

	outcome, err := p.Run(context.Background(), "u1", meetingItem(), dedup.Acceptance{Priority: 1})
	require.NoError(t, err)

	// Flagging for manual reply is sensitive, so the run still suspends.
	assert.Equal(t, model.StageGated, outcome.Stage)

	request, err := env.store.GetPending(outcome.RunID)
	require.NoError(t, err)
	action, err := request.Action()
	require.NoError(t, err)
	assert.Equal(t, model.ActionFlagManual, action.Kind)
	assert.Equal(t, "jordan@x.com", action.To)
}

func TestRunNonSensitiveAutoCompletes(t *testing.T) {
	classifier := stubClassifier{classification: genai.Classification{Label: model.LabelNeedsReply, Confidence: 0.9}}
	drafter := stubDrafter{action: model.NoAction()}
	p, env := newTestPipeline(t, classifier, drafter)

	outcome, err := p.Run(context.Background(), "u1", meetingItem(), dedup.Acceptance{Priority: 1})
	require.NoError(t, err)
	assert.Equal(t, model.StageCompleted, outcome.Stage)
	assert.Equal(t, model.OutcomeNoAction, outcome.Outcome)
	assert.Equal(t, int32(0), env.executor.count())

	// The run still passed through every stage on its audit trail.
	trail, err := env.store.AuditTrail(outcome.RunID)
	require.NoError(t, err)
	stages := make([]model.Stage, 0, len(trail))
	for _, entry := range trail {
		stages = append(stages, entry.Stage)
	}
	assert.Equal(t, []model.Stage{
		model.StagePending, model.StageTriaged, model.StageDrafted,
		model.StageGated, model.StageCompleted,
	}, stages)
}

func TestRunIDIncludesExternalID(t *testing.T) {
	classifier := stubClassifier{classification: genai.Classification{Label: model.LabelFYI, Confidence: 0.9}}
	p, _ := newTestPipeline(t, classifier, genai.TemplateDrafter{})

	outcome, err := p.Run(context.Background(), "u1", meetingItem(), dedup.Acceptance{Priority: 1})
	require.NoError(t, err)
	assert.Contains(t, outcome.RunID, "msg-1-")
	assert.Len(t, outcome.RunID, len("msg-1-")+8)
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(model.ErrCollaboratorTimeout))
	assert.True(t, IsRecoverable(model.ErrCollaboratorFailure))
	assert.False(t, IsRecoverable(errors.New("disk full")))
}
