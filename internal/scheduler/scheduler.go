package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"cf-ips-to-hcloud-fw/internal/logging"
	"cf-ips-to-hcloud-fw/pkg/models"
)

// Observer is told about every finished run.
type Observer interface {
	Observe(report *models.SyncReport, err error)
}

// Scheduler runs the Syncer once or on a cron schedule.
type Scheduler struct {
	syncer   *Syncer
	observer Observer
	logger   *slog.Logger
}

// New creates a Scheduler. observer may be nil.
func New(syncer *Syncer, observer Observer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scheduler{
		syncer:   syncer,
		observer: observer,
		logger:   logger,
	}
}

// ParseSchedule validates a cron expression. Five fields, an optional
// leading seconds field and descriptors such as "@hourly" or "@every 1h"
// are accepted.
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := parser().Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return sched, nil
}

func parser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// RunOnce performs a single run and logs its failure, if any, as one line.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	report, err := s.syncer.RunOnce(ctx)
	if s.observer != nil {
		s.observer.Observe(report, err)
	}
	if err != nil {
		s.logger.Error(err.Error())
		return err
	}
	s.logger.Debug("Run finished", "run_id", report.RunID, "duration", report.Duration())
	return nil
}

// Start runs once immediately and then on every tick of spec until ctx is
// cancelled. Failed runs are logged and do not stop the scheduler. A tick
// that fires while the previous run is still busy is skipped.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return err
	}

	cl := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(sched, cron.FuncJob(func() {
		_ = s.RunOnce(ctx)
	}))

	s.logger.Info("Starting scheduler", "schedule", spec)
	_ = s.RunOnce(ctx)

	c.Start()
	<-ctx.Done()
	s.logger.Info("Stopping scheduler")
	<-c.Stop().Done()
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
