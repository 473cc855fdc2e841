// Package scheduler runs periodic housekeeping jobs on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule prunes idle sessions every ten minutes.
const DefaultSweepSchedule = "*/10 * * * *"

// DefaultSessionTTL is how long a session may sit untouched before it is pruned.
const DefaultSessionTTL = 24 * time.Hour

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates a scheduler using the standard 5-field parser with panic recovery.
// Jobs do not run until Start is called.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
func (s *Scheduler) AddJob(expr string, task func()) error {
	if _, err := s.cron.AddFunc(expr, task); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and returns a context that is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Run starts the scheduler and blocks until ctx is cancelled and running jobs finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	<-s.Stop().Done()
	return nil
}

// Pruner drops sessions that have not been touched since cutoff.
type Pruner interface {
	PruneIdle(cutoff time.Time) int
}

// SessionSweep returns a job that prunes sessions idle for longer than ttl.
func SessionSweep(p Pruner, ttl time.Duration, now func() time.Time) func() {
	if now == nil {
		now = time.Now
	}
	return func() {
		n := p.PruneIdle(now().Add(-ttl))
		if n > 0 {
			slog.Info("Scheduler SessionSweep pruned idle sessions", "count", n, "ttl", ttl)
			return
		}
		slog.Debug("Scheduler SessionSweep found no idle sessions", "ttl", ttl)
	}
}
