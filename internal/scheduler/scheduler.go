// Package scheduler fires the crawl and rollup jobs on their tier
// cadence.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/hyeonbin/stayscan/internal/constants"
)

// Jobs bundles the entry points the scheduler fires. Each job owns its
// own crawl log row; the scheduler only decides when to call it.
type Jobs struct {
	Search      func(ctx context.Context) error
	Calendar    func(ctx context.Context) error
	Detail      func(ctx context.Context) error
	Aggregation func(ctx context.Context) error
}

type entry struct {
	name string
	spec string
	run  func(ctx context.Context) error
}

// tierEntries lays out the cron table for a budget. Disabled jobs are
// left out entirely rather than registered as no-ops.
func tierEntries(budget constants.TierBudget, jobs Jobs) []entry {
	entries := []entry{
		{"search", fmt.Sprintf("@every %dm", budget.SearchIntervalMinutes), jobs.Search},
	}
	if budget.CalendarEnabled {
		entries = append(entries, entry{"calendar", fmt.Sprintf("0 %d * * *", budget.CalendarHour), jobs.Calendar})
	}
	if budget.DetailEnabled {
		entries = append(entries, entry{"detail", "0 5 * * 1", jobs.Detail})
	}
	entries = append(entries, entry{"aggregation", "0 6 * * *", jobs.Aggregation})
	return entries
}

// Scheduler runs crawl jobs on the tier cadence: search every interval,
// calendar daily at the tier hour, detail weekly on Monday mornings,
// aggregation daily after the calendar window.
type Scheduler struct {
	cron   *cron.Cron
	budget constants.TierBudget
	jobs   Jobs
	logger *slog.Logger
}

// New creates a scheduler for the given tier budget.
func New(budget constants.TierBudget, jobs Jobs, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(),
		budget: budget,
		jobs:   jobs,
		logger: logger.With("component", "scheduler"),
	}
}

// Start registers the tier's entries and launches the cron loop. One
// search fires immediately so a fresh process does not sit idle until
// the first interval lapses.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("starting", "tier", s.budget.Name)

	var fireSearch func()
	for _, e := range tierEntries(s.budget, s.jobs) {
		if e.run == nil {
			continue
		}
		fire := s.guarded(ctx, e.name, e.run)
		if _, err := s.cron.AddFunc(e.spec, fire); err != nil {
			return fmt.Errorf("failed to schedule %s job: %w", e.name, err)
		}
		if e.name == "search" {
			fireSearch = fire
		}
		s.logger.Info("job scheduled", "job", e.name, "spec", e.spec)
	}

	s.cron.Start()

	if fireSearch != nil {
		go fireSearch()
	}
	return nil
}

// Stop halts the cron loop without waiting for in-flight runs; those
// finish on the Start context and record their own crawl logs.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping")
	s.cron.Stop()
	s.logger.Info("stopped")
}

// guarded wraps a job with an in-flight flag so a run that outlasts its
// interval is skipped rather than stacked.
func (s *Scheduler) guarded(ctx context.Context, name string, run func(ctx context.Context) error) func() {
	busy := new(atomic.Bool)
	return func() {
		if !busy.CompareAndSwap(false, true) {
			s.logger.Warn("previous run still in flight, skipping", "job", name)
			return
		}
		defer busy.Store(false)

		if err := run(ctx); err != nil {
			s.logger.Error("job run failed", "job", name, "error", err)
		}
	}
}
