// Package scheduler runs evolution maintenance jobs on interval, cron
// or daily schedules.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flockmind/flockmind/internal/config"
)

// Schedule kinds.
const (
	ScheduleInterval = "interval"
	ScheduleCron     = "cron"
	ScheduleAt       = "at"
)

// Action kinds.
const (
	ActionEvolve = "evolve"
	ActionAdapt  = "adapt"
	ActionReport = "report"
)

// Job is one scheduled maintenance task.
type Job struct {
	ID       string                `json:"id"`
	Name     string                `json:"name"`
	Schedule config.ScheduleConfig `json:"schedule"`
	Action   config.ActionConfig   `json:"action"`
	Enabled  bool                  `json:"enabled"`
	State    JobState              `json:"state"`
}

// JobState tracks job execution state.
type JobState struct {
	LastRunAt    time.Time     `json:"lastRunAt,omitempty"`
	NextRunAt    time.Time     `json:"nextRunAt,omitempty"`
	RunCount     int64         `json:"runCount"`
	ErrorCount   int64         `json:"errorCount"`
	LastError    string        `json:"lastError,omitempty"`
	LastDuration time.Duration `json:"lastDuration,omitempty"`
}

// FromConfig builds a Job from its config entry.
func FromConfig(jc config.SchedulerJobConfig) *Job {
	return &Job{
		ID:       jc.ID,
		Name:     jc.Name,
		Schedule: jc.Schedule,
		Action:   jc.Action,
		Enabled:  jc.Enabled,
	}
}

// Validate checks if the job configuration is valid.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID required")
	}
	if j.Name == "" {
		return fmt.Errorf("job name required")
	}

	switch j.Schedule.Kind {
	case ScheduleInterval:
		if j.Schedule.IntervalMs <= 0 {
			return fmt.Errorf("intervalMs must be positive")
		}
	case ScheduleCron:
		if j.Schedule.Expr == "" {
			return fmt.Errorf("cron expression required")
		}
		if _, err := cron.ParseStandard(j.Schedule.Expr); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
	case ScheduleAt:
		if j.Schedule.Time == "" {
			return fmt.Errorf("time required for 'at' schedule")
		}
		if _, err := time.Parse("15:04", j.Schedule.Time); err != nil {
			return fmt.Errorf("invalid time format (use HH:MM): %w", err)
		}
	default:
		return fmt.Errorf("unknown schedule kind: %s (use interval, cron, or at)", j.Schedule.Kind)
	}

	switch j.Action.Kind {
	case ActionEvolve, ActionAdapt, ActionReport:
	default:
		return fmt.Errorf("unknown action kind: %s (use evolve, adapt, or report)", j.Action.Kind)
	}

	return nil
}

// NextRun calculates the next run time based on the schedule.
func (j *Job) NextRun(from time.Time) (time.Time, error) {
	switch j.Schedule.Kind {
	case ScheduleInterval:
		interval := time.Duration(j.Schedule.IntervalMs) * time.Millisecond
		return from.Add(interval), nil

	case ScheduleCron:
		schedule, err := cron.ParseStandard(j.Schedule.Expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron: %w", err)
		}
		return schedule.Next(from), nil

	case ScheduleAt:
		t, err := time.Parse("15:04", j.Schedule.Time)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse time: %w", err)
		}

		loc := time.Local
		if j.Schedule.Timezone != "" {
			loc, err = time.LoadLocation(j.Schedule.Timezone)
			if err != nil {
				return time.Time{}, fmt.Errorf("load timezone: %w", err)
			}
		}

		next := time.Date(from.Year(), from.Month(), from.Day(),
			t.Hour(), t.Minute(), 0, 0, loc)
		if next.Before(from) || next.Equal(from) {
			next = next.Add(24 * time.Hour)
		}
		return next, nil

	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %s", j.Schedule.Kind)
	}
}

// Clone returns a copy of the job safe to hand outside the scheduler.
func (j *Job) Clone() *Job {
	clone := *j
	return &clone
}
