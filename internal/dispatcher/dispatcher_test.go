package dispatcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambient-email-agent/internal/metrics"
	"ambient-email-agent/internal/model"
	"ambient-email-agent/internal/store"
)

// promauto registers against the default registry, so all tests in this
// package share one instance.
var testMetrics = metrics.NewMetrics()

type countingExecutor struct {
	calls int32
	err   error
	mu    sync.Mutex
	last  model.ProposedAction
}

func (e *countingExecutor) Execute(_ context.Context, action model.ProposedAction) error {
	atomic.AddInt32(&e.calls, 1)
	e.mu.Lock()
	e.last = action
	e.mu.Unlock()
	return e.err
}

func (e *countingExecutor) count() int32 {
	return atomic.LoadInt32(&e.calls)
}

func (e *countingExecutor) lastAction() model.ProposedAction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *store.Store, *countingExecutor) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	executor := &countingExecutor{}
	return New(st, executor, testMetrics, 200*time.Millisecond), st, executor
}

func gateRun(t *testing.T, st *store.Store, runID string) {
	t.Helper()
	run := &model.PipelineRun{
		RunID:      runID,
		UserID:     "u1",
		ExternalID: "msg-" + runID,
		Sender:     "jordan@x.com",
		Subject:    "Quick sync",
		Body:       "Can we meet Thursday?",
		ReceivedAt: time.Now(),
		Priority:   1,
	}
	require.NoError(t, st.CreateRun(run))
	require.NoError(t, st.Advance(runID, model.StagePending, model.StageTriaged,
		map[string]interface{}{"label": model.LabelNeedsReply}, "pipeline", "classified"))

	actionJSON, err := model.EncodeAction(model.ProposedAction{
		Kind:    model.ActionSendEmail,
		To:      "jordan@x.com",
		Subject: "Re: Quick sync",
		Body:    "Original draft",
	})
	require.NoError(t, err)
	require.NoError(t, st.Advance(runID, model.StageTriaged, model.StageDrafted,
		map[string]interface{}{"action_json": actionJSON}, "pipeline", "drafted"))
	run.ActionJSON = actionJSON
	require.NoError(t, st.Suspend(run, "pipeline"))
}

func TestResumeApprove(t *testing.T) {
	d, st, executor := newTestDispatcher(t)
	gateRun(t, st, "r1")

	outcome, err := d.Resume(context.Background(), "r1", model.Decision{Verdict: model.VerdictApprove})
	require.NoError(t, err)
	assert.Equal(t, model.StageCompleted, outcome.Stage)
	assert.Equal(t, model.OutcomeSent, outcome.Outcome)
	assert.Equal(t, int32(1), executor.count())
	assert.Equal(t, "Original draft", executor.lastAction().Body)

	run, err := st.GetRun("r1")
	require.NoError(t, err)
	assert.Equal(t, model.StageCompleted, run.Stage)
	assert.Equal(t, model.OutcomeSent, run.Outcome)
}

func TestResumeDeny(t *testing.T) {
	d, st, executor := newTestDispatcher(t)
	gateRun(t, st, "r1")

	outcome, err := d.Resume(context.Background(), "r1", model.Decision{Verdict: model.VerdictDeny, Actor: "alex"})
	require.NoError(t, err)
	assert.Equal(t, model.StageCancelled, outcome.Stage)
	assert.Equal(t, model.OutcomeDenied, outcome.Outcome)
	assert.Equal(t, int32(0), executor.count())
}

func TestResumeEdit(t *testing.T) {
	d, st, executor := newTestDispatcher(t)
	gateRun(t, st, "r1")

	replacement := model.ProposedAction{
		Kind:    model.ActionSendEmail,
		To:      "jordan@x.com",
		Subject: "Re: Quick sync",
		Body:    "Edited draft",
	}
	outcome, err := d.Resume(context.Background(), "r1", model.Decision{
		Verdict:     model.VerdictEdit,
		Replacement: &replacement,
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSent, outcome.Outcome)

	// The edited payload is what went out.
	assert.Equal(t, int32(1), executor.count())
	assert.Equal(t, "Edited draft", executor.lastAction().Body)
}

func TestResumeEditRequiresReplacement(t *testing.T) {
	d, st, executor := newTestDispatcher(t)
	gateRun(t, st, "r1")

	_, err := d.Resume(context.Background(), "r1", model.Decision{Verdict: model.VerdictEdit})
	assert.Error(t, err)
	assert.Equal(t, int32(0), executor.count())

	// An invalid decision leaves the run gated for a valid one.
	run, getErr := st.GetRun("r1")
	require.NoError(t, getErr)
	assert.Equal(t, model.StageGated, run.Stage)
}

func TestResumeIdempotent(t *testing.T) {
	d, st, executor := newTestDispatcher(t)
	gateRun(t, st, "r1")

	_, err := d.Resume(context.Background(), "r1", model.Decision{Verdict: model.VerdictApprove})
	require.NoError(t, err)

	_, err = d.Resume(context.Background(), "r1", model.Decision{Verdict: model.VerdictApprove})
	assert.ErrorIs(t, err, model.ErrStaleRequest)

	// Repeating a decision never repeats the external action.
	assert.Equal(t, int32(1), executor.count())
}

func TestResumeUnknownRun(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	_, err := d.Resume(context.Background(), "missing", model.Decision{Verdict: model.VerdictApprove})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestResumeUnknownVerdict(t *testing.T) {
	d, st, _ := newTestDispatcher(t)
	gateRun(t, st, "r1")

	_, err := d.Resume(context.Background(), "r1", model.Decision{Verdict: "escalate"})
	assert.Error(t, err)
}

func TestConcurrentDecisionsSingleWinner(t *testing.T) {
	d, st, executor := newTestDispatcher(t)
	gateRun(t, st, "r1")

	decisions := []model.Decision{
		{Verdict: model.VerdictApprove, Actor: "a"},
		{Verdict: model.VerdictDeny, Actor: "b"},
	}

	var wg sync.WaitGroup
	errs := make([]error, len(decisions))
	for i, decision := range decisions {
		wg.Add(1)
		go func(i int, decision model.Decision) {
			defer wg.Done()
			_, errs[i] = d.Resume(context.Background(), "r1", decision)
		}(i, decision)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, model.ErrStaleRequest)
		}
	}
	assert.Equal(t, 1, winners)
	assert.LessOrEqual(t, executor.count(), int32(1))

	run, err := st.GetRun("r1")
	require.NoError(t, err)
	assert.True(t, run.Stage.Terminal())
}

func TestResumeExecutionFailureRecorded(t *testing.T) {
	d, st, executor := newTestDispatcher(t)
	executor.err = errors.New("smtp unavailable")
	gateRun(t, st, "r1")

	outcome, err := d.Resume(context.Background(), "r1", model.Decision{Verdict: model.VerdictApprove})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeFailed, outcome.Outcome)

	// The stage transition already committed; only the outcome reflects
	// the failure, and the action is not retried.
	run, err := st.GetRun("r1")
	require.NoError(t, err)
	assert.Equal(t, model.StageCompleted, run.Stage)
	assert.Equal(t, model.OutcomeFailed, run.Outcome)
	assert.Equal(t, int32(1), executor.count())

	_, err = d.Resume(context.Background(), "r1", model.Decision{Verdict: model.VerdictApprove})
	assert.ErrorIs(t, err, model.ErrStaleRequest)
	assert.Equal(t, int32(1), executor.count())
}

func TestExpireOlderThan(t *testing.T) {
	d, st, executor := newTestDispatcher(t)
	gateRun(t, st, "r1")
	gateRun(t, st, "r2")

	// Nothing is old enough yet.
	assert.Equal(t, 0, d.ExpireOlderThan(context.Background(), time.Now().Add(-time.Hour)))

	expired := d.ExpireOlderThan(context.Background(), time.Now().Add(time.Hour))
	assert.Equal(t, 2, expired)
	assert.Equal(t, int32(0), executor.count())

	for _, runID := range []string{"r1", "r2"} {
		run, err := st.GetRun(runID)
		require.NoError(t, err)
		assert.Equal(t, model.StageCancelled, run.Stage)
		assert.Equal(t, model.OutcomeExpired, run.Outcome)
	}

	count, err := st.CountPending()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
