// Package scheduler ticks periodically, finds due scheduled tasks, dispatches
// them through the worker pool, and computes each task's next run (spec.md
// §4.G).
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/nanoclaw/supervisor/internal/store"
)

// DefaultPollInterval is the tick period absent configuration.
const DefaultPollInterval = 60 * time.Second

// Dispatcher runs a due task's job and reports the result.
type Dispatcher interface {
	RunScheduledTask(ctx context.Context, task store.ScheduledTask) (result string, ok bool)
}

// Store is the subset of store.Store the scheduler depends on.
type Store interface {
	DueTasks(ctx context.Context, now time.Time) ([]store.ScheduledTask, error)
	GetTask(ctx context.Context, id string) (*store.ScheduledTask, error)
	UpdateAfterRun(ctx context.Context, taskID string, runAt time.Time, nextRun *time.Time, result string) error
	LogRun(ctx context.Context, logEntry store.TaskRunLog) error
}

// Scheduler ticks on a fixed interval, executing due tasks sequentially so a
// workspace never receives two concurrent scheduled runs.
type Scheduler struct {
	store        Store
	dispatch     Dispatcher
	pollInterval time.Duration
	location     *time.Location
	log          *logrus.Logger

	stop chan struct{}
	done chan struct{}
}

// New creates a Scheduler. loc is the IANA timezone used to compute cron
// next-run occurrences.
func New(s Store, dispatch Dispatcher, pollInterval time.Duration, loc *time.Location, log *logrus.Logger) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Scheduler{
		store:        s,
		dispatch:     dispatch,
		pollInterval: pollInterval,
		location:     loc,
		log:          log,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Run blocks, ticking until ctx is canceled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop halts the ticking loop and waits for the current tick to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	due, err := s.store.DueTasks(ctx, now)
	if err != nil {
		s.log.WithError(err).Error("scheduler: fetch due tasks failed")
		return
	}

	for _, task := range due {
		s.runOne(ctx, task.ID)
	}
}

// runOne re-reads the task row to close the pause/cancel race before
// dispatching it.
func (s *Scheduler) runOne(ctx context.Context, taskID string) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		s.log.WithError(err).WithField("task_id", taskID).Error("scheduler: re-read task failed")
		return
	}
	if task == nil || task.Status != store.TaskActive {
		return
	}

	start := time.Now()
	result, ok := s.dispatch.RunScheduledTask(ctx, *task)
	duration := time.Since(start)

	runStatus := store.RunError
	if ok {
		runStatus = store.RunSuccess
	}

	nextRun, err := NextRun(task.ScheduleType, task.ScheduleValue, time.Now(), s.location)
	if err != nil {
		s.log.WithError(err).WithField("task_id", taskID).Warn("scheduler: compute next run failed, completing task")
		nextRun = nil
	}

	if err := s.store.LogRun(ctx, store.TaskRunLog{
		TaskID:     taskID,
		RunAt:      start,
		DurationMS: duration.Milliseconds(),
		Status:     runStatus,
		Result:     result,
	}); err != nil {
		s.log.WithError(err).WithField("task_id", taskID).Error("scheduler: append run log failed")
	}

	if err := s.store.UpdateAfterRun(ctx, taskID, start, nextRun, result); err != nil {
		s.log.WithError(err).WithField("task_id", taskID).Error("scheduler: update after run failed")
	}

	s.log.WithField("task_id", taskID).WithField("status", runStatus).
		WithField("duration", duration.String()).
		WithField("ran", humanize.Time(start)).
		Debug("scheduler: task run completed")
}

// NextRun computes a task's next fire time per its schedule type.
// cron: the next expression occurrence in loc. interval: now plus an integer
// millisecond duration. once: always nil (the task completes after firing).
func NextRun(scheduleType store.ScheduleType, scheduleValue string, now time.Time, loc *time.Location) (*time.Time, error) {
	switch scheduleType {
	case store.ScheduleOnce:
		return nil, nil
	case store.ScheduleInterval:
		ms, err := strconv.ParseInt(scheduleValue, 10, 64)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid interval schedule value %q: %w", scheduleValue, err)
		}
		next := now.Add(time.Duration(ms) * time.Millisecond)
		return &next, nil
	case store.ScheduleCron:
		schedule, err := cron.ParseStandard(scheduleValue)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", scheduleValue, err)
		}
		localNow := now
		if loc != nil {
			localNow = now.In(loc)
		}
		next := schedule.Next(localNow)
		return &next, nil
	default:
		return nil, fmt.Errorf("unknown schedule type %q", scheduleType)
	}
}

// ValidateScheduleValue validates schedule_value per schedule_type at
// mailbox ingest time, per spec.md §4.H.
func ValidateScheduleValue(scheduleType store.ScheduleType, scheduleValue string) error {
	switch scheduleType {
	case store.ScheduleCron:
		if _, err := cron.ParseStandard(scheduleValue); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
	case store.ScheduleInterval:
		ms, err := strconv.ParseInt(scheduleValue, 10, 64)
		if err != nil || ms <= 0 {
			return fmt.Errorf("interval schedule_value must be a positive integer of milliseconds")
		}
	case store.ScheduleOnce:
		if _, err := time.ParseInLocation("2006-01-02T15:04:05", scheduleValue, time.Local); err != nil {
			return fmt.Errorf("once schedule_value must be a parseable local timestamp: %w", err)
		}
	default:
		return fmt.Errorf("unknown schedule type %q", scheduleType)
	}
	return nil
}
