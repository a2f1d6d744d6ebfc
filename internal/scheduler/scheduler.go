package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "@every 24h"

// SweepFunc removes expired records and reports how many were removed.
type SweepFunc func(ctx context.Context, retention time.Duration) (int, error)

// Scheduler owns the periodic retention sweep. The sweep runs independently of
// request handling and holds no locks against it.
type Scheduler struct {
	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	schedule  string
	retention time.Duration
	sweep     SweepFunc
	timeout   time.Duration

	mu      sync.Mutex
	running bool
}

// New creates a scheduler running sweep on schedule (cron spec or "@every" form, UTC).
func New(schedule string, retention time.Duration, sweep SweepFunc) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:      cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		ctx:       ctx,
		cancel:    cancel,
		schedule:  schedule,
		retention: retention,
		sweep:     sweep,
		timeout:   5 * time.Minute,
	}
}

// Start registers the sweep job and starts the cron loop.
func (s *Scheduler) Start() error {
	if s.sweep == nil {
		return errors.New("sweep function not set")
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { _, _ = s.RunNow() }); err != nil {
		return err
	}
	s.cron.Start()
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	log.Printf("Scheduler started - retention sweep %q, keeping %s", s.schedule, s.retention)
	return nil
}

// RunNow performs one sweep immediately.
func (s *Scheduler) RunNow() (int, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	n, err := s.sweep(ctx, s.retention)
	if err != nil {
		log.Printf("retention sweep failed: %v", err)
		return 0, err
	}
	return n, nil
}

// Stop waits for a running sweep to finish and cancels the scheduler context.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	log.Println("Scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && len(s.cron.Entries()) > 0
}
