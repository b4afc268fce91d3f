package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"

	"github.com/shaiso/longrest/internal/runtime"
	"github.com/shaiso/longrest/internal/scheduler"
)

const (
	// JobName — имя задачи в scheduler'е.
	JobName = "heartbeat-monitor"

	// IntervalKey — ключ JobContext с интервалом (ISO-8601).
	IntervalKey = "interval"

	// DefaultInterval — интервал по умолчанию (PT5S).
	DefaultInterval = 5 * time.Second
)

// TargetSource возвращает цели для очередного скана.
type TargetSource func() []Target

// RegistryTargets строит цели из реестра деплойментов:
// каждый Manager сканирует свой процесс и сам доставляет died.
func RegistryTargets(r *runtime.Registry) TargetSource {
	return func() []Target {
		managers := r.All()
		targets := make([]Target, 0, len(managers))
		for _, m := range managers {
			if m.ProcessName() == "" {
				continue
			}
			targets = append(targets, Target{
				DeploymentID: m.DeploymentID(),
				ProcessName:  m.ProcessName(),
				Signaler:     m,
			})
		}
		return targets
	}
}

// JobConfig — конфигурация Job.
type JobConfig struct {
	Monitor *Monitor
	Targets TargetSource

	// Interval — интервал по умолчанию (default: DefaultInterval).
	// Ключ IntervalKey в JobContext переопределяет его при каждом планировании.
	Interval time.Duration

	// Cron — cron-выражение вместо фиксированного интервала (опционально).
	Cron string

	Logger *slog.Logger
}

// Job — повторяющаяся задача heartbeat monitor'а.
type Job struct {
	monitor  *Monitor
	targets  TargetSource
	interval time.Duration
	schedule cron.Schedule
	logger   *slog.Logger
}

var _ scheduler.Job = (*Job)(nil)

// NewJob создаёт Job. Возвращает ошибку для невалидного cron-выражения.
func NewJob(cfg JobConfig) (*Job, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	j := &Job{
		monitor:  cfg.Monitor,
		targets:  cfg.Targets,
		interval: cfg.Interval,
		logger:   cfg.Logger,
	}

	if cfg.Cron != "" {
		schedule, err := scheduler.ParseCron(cfg.Cron)
		if err != nil {
			return nil, err
		}
		j.schedule = schedule
	}
	return j, nil
}

// Name реализует scheduler.Job.
func (j *Job) Name() string {
	return JobName
}

// Run сканирует все цели. Ошибка одной цели не мешает остальным.
func (j *Job) Run(ctx context.Context, _ *scheduler.JobContext) error {
	var errs error
	for _, t := range j.targets() {
		report, err := j.monitor.Scan(ctx, t)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("deployment %s: %w", t.DeploymentID, err))
			continue
		}
		if report.Died > 0 || report.Errors > 0 {
			j.logger.Info("heartbeat scan",
				"deployment_id", t.DeploymentID,
				"process_name", t.ProcessName,
				"supervised", report.Supervised,
				"died", report.Died,
				"errors", report.Errors,
			)
		}
	}
	return errs
}

// Next реализует scheduler.Job: cron, если задан, иначе интервал
// из JobContext или интервал по умолчанию.
func (j *Job) Next(jc *scheduler.JobContext, from time.Time) (time.Time, error) {
	if j.schedule != nil {
		return j.schedule.Next(from), nil
	}

	interval := j.interval
	if iso := jc.Get(IntervalKey); iso != "" {
		d, err := scheduler.ParseInterval(iso)
		if err != nil {
			return time.Time{}, err
		}
		interval = d
	}
	return from.Add(interval), nil
}
