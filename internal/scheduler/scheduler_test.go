package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob(DefaultSweepSchedule, func() {}); err != nil {
		t.Errorf("Expected default sweep schedule to parse, got %v", err)
	}
}

func TestSchedulerRejectsInvalidExpression(t *testing.T) {
	s := NewScheduler()
	if err := s.AddJob("not a schedule", func() {}); err == nil {
		t.Error("Expected error for invalid expression")
	}
	if err := s.AddJob("*/5 * * * * *", func() {}); err == nil {
		t.Error("Expected error for six-field expression")
	}
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	s := NewScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type fakePruner struct {
	cutoff time.Time
	calls  int
	n      int
}

func (f *fakePruner) PruneIdle(cutoff time.Time) int {
	f.cutoff = cutoff
	f.calls++
	return f.n
}

func TestSessionSweepUsesTTL(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	p := &fakePruner{n: 2}
	job := SessionSweep(p, 3*time.Hour, func() time.Time { return now })

	job()
	job()

	if p.calls != 2 {
		t.Fatalf("Expected 2 prune calls, got %d", p.calls)
	}
	if want := now.Add(-3 * time.Hour); !p.cutoff.Equal(want) {
		t.Errorf("Expected cutoff %v, got %v", want, p.cutoff)
	}
}
