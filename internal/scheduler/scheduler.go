// Package scheduler runs background jobs such as the daily price movement.
package scheduler

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/atmx/bean-exchange/internal/metrics"
)

type TaskFn func(ctx context.Context) error

type Scheduler struct {
	scheduler gocron.Scheduler
}

// New creates a scheduler whose cron expressions are evaluated in UTC, the
// same calendar the price history is kept in.
func New() (*Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}
	return &Scheduler{scheduler: s}, nil
}

func (s *Scheduler) Start() {
	s.scheduler.Start()
}

func (s *Scheduler) Stop() {
	if err := s.scheduler.Shutdown(); err != nil {
		slog.Error("scheduler shutdown failed", "err", err)
	}
}

func (s *Scheduler) createJob(def gocron.JobDefinition, name string, fn TaskFn, startImmediately bool) error {
	opts := []gocron.JobOption{
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if startImmediately {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	if _, err := s.scheduler.NewJob(def, gocron.NewTask(taskWithRecover(fn, name)), opts...); err != nil {
		slog.Error("scheduler creating job error", slog.String("jobName", name), slog.Any("error", err))
		return err
	}
	return nil
}

// NewIntervalJob schedules fn every interval, measured from the end of the
// previous run.
func (s *Scheduler) NewIntervalJob(name string, fn TaskFn, interval time.Duration, startImmediately bool) error {
	return s.createJob(gocron.DurationJob(interval), name, fn, startImmediately)
}

// NewCrontabJob schedules fn on a standard five-field crontab.
func (s *Scheduler) NewCrontabJob(name string, fn TaskFn, crontab string, startImmediately bool) error {
	return s.createJob(gocron.CronJob(crontab, false), name, fn, startImmediately)
}

// Job results as recorded in bean_job_runs_total.
const (
	resultOK    = "ok"
	resultError = "error"
	resultPanic = "panic"
)

// taskWithRecover adapts fn to a gocron task. A run that panics is logged
// with its stack and counted, and never takes the scheduler down.
func taskWithRecover(fn TaskFn, jobName string) func(ctx context.Context) {
	return func(ctx context.Context) {
		start := time.Now()
		result := runJob(ctx, fn, jobName)
		took := time.Since(start)

		metrics.JobRuns.WithLabelValues(jobName, result).Inc()
		metrics.JobDuration.WithLabelValues(jobName).Observe(took.Seconds())
		if result == resultOK {
			slog.Debug("job completed", "job", jobName, "took", took)
		}
	}
}

func runJob(ctx context.Context, fn TaskFn, jobName string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job panicked", "job", jobName, "panic", r, "stack", string(debug.Stack()))
			result = resultPanic
		}
	}()
	if err := fn(ctx); err != nil {
		slog.Error("job failed", "job", jobName, "err", err)
		return resultError
	}
	return resultOK
}
