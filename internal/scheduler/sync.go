package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// scheduleParser accepts standard five-field cron expressions.
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// SyncScheduler runs a synchronization function on a cron schedule. Runs
// never overlap: a tick that fires while the previous run is still in
// flight is skipped, since a sync already in progress covers it.
type SyncScheduler struct {
	schedule string
	run      func() error

	cron       *cron.Cron
	entryID    cron.EntryID
	mu         sync.RWMutex
	isRunning  bool
	inFlight   bool
	cancelFunc context.CancelFunc
}

// NewSyncScheduler creates a scheduler for the given five-field cron
// schedule.
func NewSyncScheduler(schedule string, run func() error) *SyncScheduler {
	return &SyncScheduler{
		schedule: schedule,
		run:      run,
		cron:     cron.New(cron.WithParser(scheduleParser)),
	}
}

// ValidateSchedule reports whether a five-field cron expression parses.
func ValidateSchedule(schedule string) error {
	_, err := scheduleParser.Parse(schedule)
	return err
}

// NextRunTime computes when the schedule fires next.
func NextRunTime(schedule string) (time.Time, error) {
	sched, err := scheduleParser.Parse(schedule)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(time.Now()), nil
}

// Start begins the scheduler. Stopping the context stops the scheduler.
func (s *SyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	if err := ValidateSchedule(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", s.schedule, err)
	}

	entryID, err := s.cron.AddFunc(s.schedule, func() {
		s.runOnce()
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sync job: %w", err)
	}
	s.entryID = entryID

	var cancelCtx context.Context
	cancelCtx, s.cancelFunc = context.WithCancel(ctx)

	s.cron.Start()
	s.isRunning = true

	nextRun, _ := NextRunTime(s.schedule)
	log.Printf("Sync scheduler: started with schedule '%s'. Next run: %v", s.schedule, nextRun)

	// Monitor for context cancellation
	go func() {
		<-cancelCtx.Done()
		s.Stop()
	}()

	return nil
}

// Stop gracefully stops the scheduler, waiting for a run in progress. The
// lock is released before the wait: a finishing run needs it to clear its
// in-flight flag.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	cancel := s.cancelFunc
	s.cancelFunc = nil
	s.mu.Unlock()

	// Stop accepting new jobs and wait for running jobs to complete
	ctx := s.cron.Stop()
	<-ctx.Done()

	if cancel != nil {
		cancel()
	}

	log.Printf("Sync scheduler: stopped")
}

// RunNow triggers an immediate run without waiting for the schedule.
func (s *SyncScheduler) RunNow() {
	go s.runOnce()
}

// IsRunning returns whether the scheduler is active
func (s *SyncScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetNextRunTime returns when the next scheduled run will occur
func (s *SyncScheduler) GetNextRunTime() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return nil
	}

	entries := s.cron.Entries()
	for _, entry := range entries {
		if entry.ID == s.entryID {
			t := entry.Next
			return &t
		}
	}
	return nil
}

// runOnce executes one run, skipping the tick when the previous run is
// still in flight.
func (s *SyncScheduler) runOnce() {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		log.Printf("Sync scheduler: previous run still in progress, skipping this tick")
		return
	}
	s.inFlight = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	start := time.Now()
	if err := s.run(); err != nil {
		log.Printf("Sync scheduler: run failed: %v", err)
		return
	}
	log.Printf("Sync scheduler: run finished in %v", time.Since(start).Round(time.Millisecond))
}
