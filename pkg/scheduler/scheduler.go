// Package scheduler fires recurring agent jobs. Job definitions are
// persisted in storage and re-registered before the scheduler starts
// accepting live fires; each due job publishes a ScheduledEvent on the
// bus, nothing more — the agent bridge does the rest.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/grvsrs/codexbot/pkg/events"
	"github.com/grvsrs/codexbot/pkg/logger"
	"github.com/grvsrs/codexbot/pkg/storage"
)

// Scheduler checks active cron jobs once per minute and publishes a
// ScheduledEvent for each due job.
type Scheduler struct {
	bus                     *events.Bus
	store                   *storage.Store
	defaultWorkingDirectory string
	gron                    *gronx.Gronx

	mu      sync.Mutex
	jobs    map[string]storage.Job
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a scheduler.
func New(bus *events.Bus, store *storage.Store, defaultWorkingDirectory string) *Scheduler {
	return &Scheduler{
		bus:                     bus,
		store:                   store,
		defaultWorkingDirectory: defaultWorkingDirectory,
		gron:                    gronx.New(),
		jobs:                    make(map[string]storage.Job),
	}
}

// Start loads persisted jobs and begins the tick loop. Idempotent.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	jobs, err := s.store.ActiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("load scheduled jobs: %w", err)
	}
	for _, job := range jobs {
		s.jobs[job.ID] = job
	}

	s.running = true
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(loopCtx, s.done)

	logger.InfoCF("scheduler", "Scheduler started", map[string]interface{}{
		"jobs": len(jobs),
	})
	return nil
}

// Stop cancels the tick loop and returns after it has exited.
// Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	logger.InfoC("scheduler", "Scheduler stopped")
}

// AddJob validates, persists, and registers a new job. Returns the job
// id.
func (s *Scheduler) AddJob(ctx context.Context, name, cronExpression, prompt, skillName string, targetChatIDs []int64, workingDirectory string, createdBy int64) (string, error) {
	if !s.gron.IsValid(cronExpression) {
		return "", fmt.Errorf("invalid cron expression %q", cronExpression)
	}

	job := storage.Job{
		ID:               uuid.NewString(),
		Name:             name,
		CronExpression:   cronExpression,
		Prompt:           prompt,
		SkillName:        skillName,
		TargetChatIDs:    targetChatIDs,
		WorkingDirectory: workingDirectory,
		CreatedBy:        createdBy,
	}
	if err := s.store.SaveJob(ctx, job); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	logger.InfoCF("scheduler", "Scheduled job added", map[string]interface{}{
		"job_id":   job.ID,
		"job_name": name,
		"cron":     cronExpression,
	})
	return job.ID, nil
}

// RemoveJob soft-deletes a job and unregisters it.
func (s *Scheduler) RemoveJob(ctx context.Context, jobID string) error {
	removed, err := s.store.DeactivateJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !removed {
		logger.WarnCF("scheduler", "Job not found", map[string]interface{}{"job_id": jobID})
	}

	s.mu.Lock()
	delete(s.jobs, jobID)
	s.mu.Unlock()

	logger.InfoCF("scheduler", "Scheduled job removed", map[string]interface{}{"job_id": jobID})
	return nil
}

// ListJobs returns the registered jobs.
func (s *Scheduler) ListJobs() []storage.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]storage.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// run ticks at every minute boundary. Cron granularity is one minute,
// so firing once per boundary is exact.
func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		next := time.Now().Truncate(time.Minute).Add(time.Minute)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.fireDue(next)
		}
	}
}

// fireDue publishes a ScheduledEvent for every job due at ref.
func (s *Scheduler) fireDue(ref time.Time) {
	s.mu.Lock()
	jobs := make([]storage.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.mu.Unlock()

	for _, job := range jobs {
		due, err := s.gron.IsDue(job.CronExpression, ref)
		if err != nil {
			logger.ErrorCF("scheduler", "Cron check failed", map[string]interface{}{
				"job_id": job.ID,
				"cron":   job.CronExpression,
				"error":  err.Error(),
			})
			continue
		}
		if !due {
			continue
		}

		workingDir := job.WorkingDirectory
		if workingDir == "" {
			workingDir = s.defaultWorkingDirectory
		}

		event := events.NewScheduledEvent(job.ID, job.Name, job.Prompt, job.SkillName, job.TargetChatIDs, workingDir)
		logger.InfoCF("scheduler", "Scheduled job fired", map[string]interface{}{
			"job_id":   job.ID,
			"job_name": job.Name,
			"event_id": event.EventID(),
		})
		s.bus.Publish(event)
	}
}
