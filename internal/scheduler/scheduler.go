// Package scheduler runs the ingestion loop: a periodic cycle that fetches
// new inbound items since the last successful watermark, filters them, and
// feeds survivors into the pipeline.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"ambient-email-agent/internal/config"
	"ambient-email-agent/internal/dedup"
	"ambient-email-agent/internal/dispatcher"
	"ambient-email-agent/internal/mailbox"
	"ambient-email-agent/internal/metrics"
	"ambient-email-agent/internal/model"
	"ambient-email-agent/internal/pipeline"
)

// Scheduler manages the periodic ingestion cycle.
type Scheduler struct {
	cron       *cron.Cron
	entryID    cron.EntryID
	config     *config.SchedulerConfig
	userID     string
	maxAge     time.Duration
	fetcher    mailbox.Fetcher
	filter     *dedup.Filter
	pipeline   *pipeline.Pipeline
	dispatcher *dispatcher.Dispatcher
	metrics    *metrics.Metrics
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	isRunning  bool
	watermark  time.Time
	mu         sync.RWMutex
}

// NewScheduler creates an ingestion scheduler. The watermark starts a day
// in the past so the first cycle picks up recent mail.
func NewScheduler(cfg *config.SchedulerConfig, userID string, maxAge time.Duration, fetcher mailbox.Fetcher, filter *dedup.Filter, pl *pipeline.Pipeline, d *dispatcher.Dispatcher, m *metrics.Metrics) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		config:     cfg,
		userID:     userID,
		maxAge:     maxAge,
		fetcher:    fetcher,
		filter:     filter,
		pipeline:   pl,
		dispatcher: d,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		watermark:  time.Now().Add(-24 * time.Hour),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}
	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}

	schedule := fmt.Sprintf("*/%d * * * * *", s.config.IntervalSeconds)

	entryID, err := s.cron.AddFunc(schedule, s.runCycle)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Ingestion loop started with interval: %d seconds", s.config.IntervalSeconds)
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cancel()
	s.cron.Remove(s.entryID)
	ctx := s.cron.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Ingestion loop stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Ingestion loop stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// runCycle is one ingestion cycle. A fetch failure leaves the watermark
// untouched so the next cycle retries the same window; per-item failures
// are contained and never abort the cycle.
func (s *Scheduler) runCycle() {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.RLock()
	cancelled := s.ctx.Err() != nil
	watermark := s.watermark
	s.mu.RUnlock()
	if cancelled {
		return
	}

	startTime := time.Now()
	s.metrics.IngestCycles.Inc()

	items, next, err := s.fetcher.ListNewItems(s.ctx, watermark)
	if err != nil {
		logrus.Errorf("Failed to fetch items, keeping watermark at %s: %v", watermark.Format(time.RFC3339), err)
		return
	}

	s.mu.Lock()
	s.watermark = next
	s.mu.Unlock()

	if len(items) > 0 {
		logrus.Infof("Fetched %d new items", len(items))
		s.processItems(items)
	}

	s.dispatcher.ExpireOlderThan(s.ctx, time.Now().Add(-s.maxAge))

	if pruned, err := s.filter.PruneExpired(); err != nil {
		logrus.Errorf("Failed to prune fingerprints: %v", err)
	} else if pruned > 0 {
		logrus.Debugf("Pruned %d expired fingerprints", pruned)
	}

	logrus.Infof("Ingestion cycle completed in %v", time.Since(startTime))
}

// processItems runs each item through the filter and pipeline using a
// bounded worker pool. Items are independent; one item's failure never
// blocks another's progress.
func (s *Scheduler) processItems(items []model.InboundItem) {
	sem := make(chan struct{}, s.config.Workers)
	var wg sync.WaitGroup

	for _, item := range items {
		select {
		case <-s.ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(item model.InboundItem) {
			defer wg.Done()
			defer func() { <-sem }()
			s.processItem(item)
		}(item)
	}

	wg.Wait()
}

// processItem filters one item and, if accepted, runs the pipeline.
func (s *Scheduler) processItem(item model.InboundItem) {
	acc, err := s.filter.Check(s.userID, item)
	switch {
	case errors.Is(err, model.ErrDuplicateItem):
		s.metrics.ItemsDuplicate.Inc()
		logrus.Debugf("Item %s rejected as duplicate", item.ExternalID)
		return
	case errors.Is(err, model.ErrSuppressed):
		s.metrics.ItemsSuppressed.Inc()
		logrus.Debugf("Item %s suppressed", item.ExternalID)
		return
	case err != nil:
		s.metrics.ItemsFailed.Inc()
		logrus.Errorf("Filter failed for item %s: %v", item.ExternalID, err)
		return
	}

	s.metrics.ItemsAccepted.Inc()

	outcome, err := s.pipeline.Run(s.ctx, s.userID, item, acc)
	if err != nil {
		s.metrics.ItemsFailed.Inc()
		logrus.Errorf("Pipeline failed for item %s: %v", item.ExternalID, err)
		return
	}

	logrus.Infof("Item %s processed: run %s is %s", item.ExternalID, outcome.RunID, outcome.Stage)
}

// RunOnce runs one ingestion cycle immediately (for manual triggering).
func (s *Scheduler) RunOnce() error {
	logrus.Info("Running ingestion cycle once")
	s.runCycle()
	return nil
}

// GetNextRun returns the time of the next scheduled cycle.
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// GetLastRun returns the time of the last cycle.
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Prev
}

// Watermark returns the current fetch watermark.
func (s *Scheduler) Watermark() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermark
}

// Wait waits for in-flight cycles to finish.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
