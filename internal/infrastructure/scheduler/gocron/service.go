package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/crossfusion/swapd/internal/core/ports"
)

type service struct {
	scheduler *gocron.Scheduler
	mu        *sync.Mutex
	sweepJob  *gocron.Job
}

func NewScheduler() ports.SchedulerService {
	svc := gocron.NewScheduler(time.UTC)
	return &service{svc, &sync.Mutex{}, nil}
}

func (s *service) Start() {
	s.scheduler.StartAsync()
}

func (s *service) Stop() {
	s.scheduler.Stop()
}

// ScheduleExpirySweep runs the sweep on a fixed interval. Rescheduling
// replaces the previous sweep job.
func (s *service) ScheduleExpirySweep(interval time.Duration, sweep func()) error {
	if interval <= 0 {
		return fmt.Errorf("invalid sweep interval: %s", interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sweepJob != nil {
		s.scheduler.Remove(s.sweepJob)
		s.sweepJob = nil
	}

	job, err := s.scheduler.Every(interval).Do(sweep)
	if err != nil {
		return err
	}
	s.sweepJob = job
	return nil
}

// ScheduleAtTime runs the task once at the given instant, typically a swap's
// timelock. A task due now or in the past runs immediately.
func (s *service) ScheduleAtTime(at time.Time, task func()) error {
	if at.IsZero() {
		return fmt.Errorf("invalid schedule time")
	}

	delay := time.Until(at)
	if delay <= 0 {
		go task()
		return nil
	}

	_, err := s.scheduler.Every(delay).WaitForSchedule().LimitRunsTo(1).Do(task)
	return err
}

// WhenNextSweep returns the next run of the expiry sweep job.
func (s *service) WhenNextSweep() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sweepJob == nil {
		return time.Time{}
	}
	return s.sweepJob.NextRun()
}
