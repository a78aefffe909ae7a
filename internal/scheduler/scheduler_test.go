package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambient-email-agent/internal/config"
	"ambient-email-agent/internal/dedup"
	"ambient-email-agent/internal/dispatcher"
	"ambient-email-agent/internal/genai"
	"ambient-email-agent/internal/metrics"
	"ambient-email-agent/internal/model"
	"ambient-email-agent/internal/pipeline"
	"ambient-email-agent/internal/prefs"
	"ambient-email-agent/internal/store"
)

// promauto registers against the default registry, so all tests in this
// package share one instance.
var testMetrics = metrics.NewMetrics()

type fakeFetcher struct {
	mu    sync.Mutex
	items []model.InboundItem
	err   error
	calls int
	since []time.Time
}

func (f *fakeFetcher) ListNewItems(_ context.Context, since time.Time) ([]model.InboundItem, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.since = append(f.since, since)
	if f.err != nil {
		return nil, time.Time{}, f.err
	}
	items := f.items
	f.items = nil
	return items, time.Now(), nil
}

func (f *fakeFetcher) Close() error { return nil }

type noopExecutor struct{}

func (noopExecutor) Execute(_ context.Context, _ model.ProposedAction) error { return nil }

func newTestScheduler(t *testing.T, fetcher *fakeFetcher) (*Scheduler, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ps := prefs.New(st.DB())
	filter := dedup.New(st, ps, time.Hour)
	pl := pipeline.New(st, ps, genai.HeuristicClassifier{}, genai.TemplateDrafter{}, noopExecutor{}, testMetrics, 200*time.Millisecond)
	d := dispatcher.New(st, noopExecutor{}, testMetrics, 200*time.Millisecond)

	cfg := &config.SchedulerConfig{IntervalSeconds: 60, Workers: 2}
	return NewScheduler(cfg, "u1", 72*time.Hour, fetcher, filter, pl, d, testMetrics), st
}

func TestSchedulerRestart(t *testing.T) {
	sched, _ := newTestScheduler(t, &fakeFetcher{})

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	assert.Error(t, sched.Start())

	require.NoError(t, sched.Stop())
	assert.False(t, sched.IsRunning())
	require.NoError(t, sched.Stop())

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	assert.False(t, sched.GetNextRun().IsZero())

	if sched.ctx == nil || sched.ctx.Err() != nil {
		t.Fatalf("scheduler context should be active after restart")
	}
	sched.Stop()
}

func TestRunOnceProcessesItems(t *testing.T) {
	fetcher := &fakeFetcher{items: []model.InboundItem{
		{
			ExternalID: "msg-1",
			Sender:     "jordan@x.com",
			Subject:    "Quick sync",
			Body:       "Can we schedule a meeting to go over the quarterly plan together?",
			ReceivedAt: time.Now(),
		},
		{
			ExternalID: "msg-2",
			Sender:     "no-reply@notifications.example.com",
			Subject:    "Your statement is ready",
			Body:       "This is an automated notification about your monthly account statement.",
			ReceivedAt: time.Now(),
		},
	}}
	sched, st := newTestScheduler(t, fetcher)

	require.NoError(t, sched.RunOnce())

	// The meeting request was gated; the automated notice never entered
	// the pipeline.
	requests, err := st.ListPending(nil)
	require.NoError(t, err)
	require.Len(t, requests, 1)

	runs, err := st.RunsSince("u1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Equal(t, "msg-1", runs[0].ExternalID)
}

func TestRunOnceSkipsDuplicates(t *testing.T) {
	item := model.InboundItem{
		ExternalID: "msg-1",
		Sender:     "jordan@x.com",
		Subject:    "Quick sync",
		Body:       "Can we schedule a meeting to go over the quarterly plan together?",
		ReceivedAt: time.Now(),
	}
	fetcher := &fakeFetcher{items: []model.InboundItem{item}}
	sched, st := newTestScheduler(t, fetcher)

	require.NoError(t, sched.RunOnce())

	// Redelivery of the same item in a later cycle creates no second run.
	fetcher.mu.Lock()
	fetcher.items = []model.InboundItem{item}
	fetcher.mu.Unlock()
	require.NoError(t, sched.RunOnce())

	runs, err := st.RunsSince("u1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestWatermarkAdvancesOnlyOnSuccess(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("mailbox unavailable")}
	sched, _ := newTestScheduler(t, fetcher)

	before := sched.Watermark()
	require.NoError(t, sched.RunOnce())
	assert.Equal(t, before, sched.Watermark())

	fetcher.mu.Lock()
	fetcher.err = nil
	fetcher.mu.Unlock()
	require.NoError(t, sched.RunOnce())
	assert.True(t, sched.Watermark().After(before))

	// The retry fetched from the same watermark the failed cycle used.
	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	require.Len(t, fetcher.since, 2)
	assert.Equal(t, fetcher.since[0], fetcher.since[1])
}

func TestRunOnceExpiresStaleApprovals(t *testing.T) {
	fetcher := &fakeFetcher{items: []model.InboundItem{{
		ExternalID: "msg-1",
		Sender:     "jordan@x.com",
		Subject:    "Quick sync",
		Body:       "Can we schedule a meeting to go over the quarterly plan together?",
		ReceivedAt: time.Now(),
	}}}
	sched, st := newTestScheduler(t, fetcher)
	sched.maxAge = -time.Minute

	// With a negative max age every gated request is immediately stale,
	// so the end-of-cycle sweep denies it.
	require.NoError(t, sched.RunOnce())

	count, err := st.CountPending()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	runs, err := st.GatedRuns()
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestStoppedSchedulerSkipsCycles(t *testing.T) {
	fetcher := &fakeFetcher{}
	sched, _ := newTestScheduler(t, fetcher)

	require.NoError(t, sched.Start())
	require.NoError(t, sched.Stop())

	// The cancelled context keeps late cron firings from fetching.
	sched.runCycle()
	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	assert.Equal(t, 0, fetcher.calls)
}
