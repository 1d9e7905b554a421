package monitor

import (
	"context"
	"log"
	"sync"
	"time"
)

// Scheduler runs monitor cycles on a timer. At most one cycle is in
// flight at a time; a tick that arrives while a cycle is still running is
// dropped.
type Scheduler struct {
	Monitor      Monitor
	Interval     time.Duration
	InitialDelay time.Duration

	mu sync.Mutex
}

// TryRun runs a cycle unless one is already in flight. The second return
// value reports whether the cycle actually ran.
func (s *Scheduler) TryRun(ctx context.Context) (CycleReport, bool, error) {
	if !s.mu.TryLock() {
		return CycleReport{}, false, nil
	}
	defer s.mu.Unlock()
	rep, err := s.Monitor.RunCycle(ctx)
	return rep, true, err
}

// Run blocks until ctx is cancelled, firing a cycle after the initial
// delay and then every interval. An interval of zero or less means a
// single cycle, matching one-shot invocations.
func (s *Scheduler) Run(ctx context.Context) error {
	delay := s.InitialDelay
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.tick(ctx)
	if s.Interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	rep, ran, err := s.TryRun(ctx)
	if err != nil {
		log.Printf("monitor cycle failed: %v", err)
		return
	}
	if !ran {
		log.Println("monitor cycle still in flight, skipping tick")
		return
	}
	log.Printf("monitor cycle: %d group(s), %d published, %d skipped, %d failed",
		rep.Groups, rep.Published, rep.Skipped, rep.Failed)
}
