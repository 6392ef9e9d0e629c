// Package retention prunes run history and finished outbox jobs on a cron
// schedule.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule = "@daily"
	DefaultRunDays  = 90
)

// Pruner deletes rows older than a cutoff. Implemented by storage.Store.
type Pruner interface {
	PruneRuns(ctx context.Context, cutoff time.Time) (int64, error)
	PruneJobs(cutoff time.Time) (int64, error)
}

// Result reports one sweep.
type Result struct {
	Cutoff time.Time
	Runs   int64
	Jobs   int64
}

// Sweeper runs Sweep on a schedule.
type Sweeper struct {
	store    Pruner
	keep     time.Duration
	schedule string
	now      func() time.Time
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a Sweeper that keeps runDays of history. An empty schedule
// defaults to @daily; runDays <= 0 defaults to 90.
func New(store Pruner, schedule string, runDays int) *Sweeper {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if runDays <= 0 {
		runDays = DefaultRunDays
	}
	return &Sweeper{
		store:    store,
		keep:     time.Duration(runDays) * 24 * time.Hour,
		schedule: schedule,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
}

func (s *Sweeper) WithLogger(l *slog.Logger) *Sweeper {
	if l != nil {
		s.logger = l
	}
	return s
}

// Sweep prunes everything older than the retention window.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	res := Result{Cutoff: s.now().Add(-s.keep)}
	var err error
	if res.Runs, err = s.store.PruneRuns(ctx, res.Cutoff); err != nil {
		return res, fmt.Errorf("pruning runs: %w", err)
	}
	if res.Jobs, err = s.store.PruneJobs(res.Cutoff); err != nil {
		return res, fmt.Errorf("pruning jobs: %w", err)
	}
	return res, nil
}

// Run schedules Sweep and blocks until ctx is cancelled. An invalid
// schedule is returned immediately.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.schedule, func() { s.sweepAndLog(ctx) }); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.schedule, err)
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	c.Start()
	s.logger.Info("retention sweeper started", "schedule", s.schedule, "keep", s.keep)
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	res, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return
	}
	s.logger.Info("retention sweep complete", "runs", res.Runs, "jobs", res.Jobs, "cutoff", res.Cutoff)
}

// Next returns the next scheduled sweep, or the zero time if Run has not
// started.
func (s *Sweeper) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
