package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Executor performs scheduled maintenance actions against the
// orchestrator. The daemon supplies the real implementation.
type Executor interface {
	Evolve(ctx context.Context) error
	Adapt(ctx context.Context) error
	Report(ctx context.Context) error
}

// JobRunner drives a single job's schedule.
type JobRunner struct {
	job      *Job
	executor Executor
	logger   *slog.Logger

	// mu is the owning scheduler's lock. All job state reads and
	// writes happen under it.
	mu *sync.RWMutex

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewJobRunner creates a runner for the given job. The mutex is the
// scheduler's own lock so that state updates and ListJobs snapshots
// never race; standalone callers may pass nil to get a private lock.
func NewJobRunner(job *Job, executor Executor, mu *sync.RWMutex, log *slog.Logger) *JobRunner {
	if log == nil {
		log = slog.Default()
	}
	if mu == nil {
		mu = &sync.RWMutex{}
	}
	return &JobRunner{
		job:      job,
		executor: executor,
		logger:   log.With("job", job.ID),
		mu:       mu,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the schedule loop. It blocks until Stop is called or
// the context is cancelled, so callers run it in a goroutine.
func (r *JobRunner) Start(ctx context.Context) {
	defer close(r.doneCh)

	if !r.job.Enabled {
		r.logger.Debug("job disabled, not starting")
		return
	}

	next, err := r.job.NextRun(time.Now())
	if err != nil {
		r.logger.Error("cannot compute next run", "error", err)
		return
	}
	r.setNextRun(next)

	r.logger.Info("job runner started", "next_run", next.Format(time.RFC3339))

	// Interval jobs tick at their own period; cron and at jobs poll
	// once a minute and compare against the stored next run time.
	var tick time.Duration
	if r.job.Schedule.Kind == ScheduleInterval {
		tick = time.Duration(r.job.Schedule.IntervalMs) * time.Millisecond
	} else {
		tick = time.Minute
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopped (context cancelled)")
			return
		case <-r.stopCh:
			r.logger.Info("job runner stopped")
			return
		case now := <-ticker.C:
			// Interval jobs run on every tick; cron and at jobs run
			// when the stored next run time has passed.
			shouldRun := r.job.Schedule.Kind == ScheduleInterval
			if !shouldRun {
				due := r.nextRun()
				shouldRun = now.After(due) || now.Equal(due)
			}
			if !shouldRun {
				continue
			}

			r.executeJob(ctx)

			next, err := r.job.NextRun(time.Now())
			if err != nil {
				r.logger.Error("cannot compute next run", "error", err)
				continue
			}
			r.setNextRun(next)
			r.logger.Debug("next run scheduled", "next_run", next.Format(time.RFC3339))
		}
	}
}

// Stop halts the runner and waits for the loop to exit.
func (r *JobRunner) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *JobRunner) nextRun() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.job.State.NextRunAt
}

func (r *JobRunner) setNextRun(t time.Time) {
	r.mu.Lock()
	r.job.State.NextRunAt = t
	r.mu.Unlock()
}

func (r *JobRunner) executeJob(ctx context.Context) {
	started := time.Now()
	r.logger.Debug("running job", "action", r.job.Action.Kind)

	var err error
	switch r.job.Action.Kind {
	case ActionEvolve:
		err = r.executor.Evolve(ctx)
	case ActionAdapt:
		err = r.executor.Adapt(ctx)
	case ActionReport:
		err = r.executor.Report(ctx)
	default:
		err = fmt.Errorf("unknown action kind: %s", r.job.Action.Kind)
	}

	elapsed := time.Since(started)

	r.mu.Lock()
	r.job.State.LastRunAt = started
	r.job.State.LastDuration = elapsed
	r.job.State.RunCount++
	if err != nil {
		r.job.State.ErrorCount++
		r.job.State.LastError = err.Error()
	} else {
		r.job.State.LastError = ""
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("job failed", "action", r.job.Action.Kind, "error", err, "elapsed", elapsed)
		return
	}
	r.logger.Info("job completed", "action", r.job.Action.Kind, "elapsed", elapsed)
}
