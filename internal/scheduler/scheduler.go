package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flockmind/flockmind/internal/config"
)

// Scheduler owns the job set and one runner per enabled job.
type Scheduler struct {
	executor Executor
	logger   *slog.Logger

	mu      sync.RWMutex
	jobs    map[string]*Job
	runners map[string]*JobRunner
	running bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. Jobs are added with AddJob or
// LoadJobs; nothing runs until Start.
func NewScheduler(executor Executor, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		executor: executor,
		logger:   log.With("component", "scheduler"),
		jobs:     make(map[string]*Job),
		runners:  make(map[string]*JobRunner),
	}
}

// Start launches runners for all enabled jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	for id, job := range s.jobs {
		if !job.Enabled {
			continue
		}
		s.startRunnerLocked(id, job)
	}

	s.logger.Info("scheduler started", "jobs", len(s.jobs), "active", len(s.runners))
	return nil
}

// Stop halts all runners and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	runners := s.runners
	s.runners = make(map[string]*JobRunner)
	s.mu.Unlock()

	for _, r := range runners {
		r.Stop()
	}
	s.logger.Info("scheduler stopped")
}

// AddJob validates and registers a job. If the scheduler is running
// and the job is enabled, a runner starts immediately.
func (s *Scheduler) AddJob(job *Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job

	if s.running && job.Enabled {
		s.startRunnerLocked(job.ID, job)
	}

	s.logger.Info("job added", "job", job.ID, "schedule", job.Schedule.Kind, "action", job.Action.Kind)
	return nil
}

// RemoveJob stops the job's runner, if any, and forgets the job.
func (s *Scheduler) RemoveJob(id string) error {
	s.mu.Lock()
	_, exists := s.jobs[id]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("job %s not found", id)
	}
	delete(s.jobs, id)
	runner := s.runners[id]
	delete(s.runners, id)
	s.mu.Unlock()

	if runner != nil {
		runner.Stop()
	}
	s.logger.Info("job removed", "job", id)
	return nil
}

// UpdateJob replaces an existing job, restarting its runner when the
// scheduler is live.
func (s *Scheduler) UpdateJob(job *Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	s.mu.Lock()
	old, exists := s.jobs[job.ID]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("job %s not found", job.ID)
	}
	job.State = old.State
	s.jobs[job.ID] = job
	runner := s.runners[job.ID]
	delete(s.runners, job.ID)
	s.mu.Unlock()

	if runner != nil {
		runner.Stop()
	}

	s.mu.Lock()
	if s.running && job.Enabled {
		s.startRunnerLocked(job.ID, job)
	}
	s.mu.Unlock()

	s.logger.Info("job updated", "job", job.ID)
	return nil
}

// GetJob returns a copy of the named job.
func (s *Scheduler) GetJob(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return job.Clone(), nil
}

// ListJobs returns copies of all registered jobs.
func (s *Scheduler) ListJobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.Clone())
	}
	return jobs
}

// RunJobNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunJobNow(ctx context.Context, id string) error {
	s.mu.RLock()
	job, exists := s.jobs[id]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job %s not found", id)
	}

	runner := NewJobRunner(job, s.executor, &s.mu, s.logger)
	runner.executeJob(ctx)

	s.mu.RLock()
	lastError := job.State.LastError
	s.mu.RUnlock()
	if lastError != "" {
		return fmt.Errorf("job %s failed: %s", id, lastError)
	}
	return nil
}

// LoadJobs adds jobs from config entries, skipping invalid ones with
// a warning so one bad entry cannot block the rest.
func (s *Scheduler) LoadJobs(entries []config.SchedulerJobConfig) {
	for _, jc := range entries {
		job := FromConfig(jc)
		if err := s.AddJob(job); err != nil {
			s.logger.Warn("skipping job", "job", jc.ID, "error", err)
		}
	}
}

// ReloadJobs reconciles the job table against a new config entry list.
// New ids are added and changed ids updated; ids missing from the list
// are removed. Unchanged jobs keep their runners and timing. Invalid
// entries are skipped with a warning, leaving any running job as it was.
func (s *Scheduler) ReloadJobs(entries []config.SchedulerJobConfig) {
	seen := make(map[string]bool, len(entries))
	for _, jc := range entries {
		seen[jc.ID] = true
		job := FromConfig(jc)

		current, err := s.GetJob(jc.ID)
		if err != nil {
			if err := s.AddJob(job); err != nil {
				s.logger.Warn("skipping job", "job", jc.ID, "error", err)
			}
			continue
		}
		if current.Name == job.Name && current.Schedule == job.Schedule &&
			current.Action == job.Action && current.Enabled == job.Enabled {
			continue
		}
		if err := s.UpdateJob(job); err != nil {
			s.logger.Warn("skipping job update", "job", jc.ID, "error", err)
		}
	}

	for _, job := range s.ListJobs() {
		if !seen[job.ID] {
			_ = s.RemoveJob(job.ID)
		}
	}
}

// GetStats reports aggregate scheduler counters.
func (s *Scheduler) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var totalRuns, totalErrors int64
	active := 0
	for _, job := range s.jobs {
		totalRuns += job.State.RunCount
		totalErrors += job.State.ErrorCount
		if job.Enabled {
			active++
		}
	}

	return map[string]any{
		"total_jobs":   len(s.jobs),
		"active_jobs":  active,
		"running_jobs": len(s.runners),
		"total_runs":   totalRuns,
		"total_errors": totalErrors,
	}
}

// startRunnerLocked launches a runner for job. Callers hold s.mu.
func (s *Scheduler) startRunnerLocked(id string, job *Job) {
	runner := NewJobRunner(job, s.executor, &s.mu, s.logger)
	s.runners[id] = runner
	go runner.Start(s.ctx)
}
