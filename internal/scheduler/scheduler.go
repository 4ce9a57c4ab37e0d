// Package scheduler runs configured scripts on cron schedules through the
// script runtime. Scheduled runs go through the same validation, budgets
// and containment as interactive ones.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/kazi/internal/config"
	"github.com/jkaninda/kazi/internal/script"
	"github.com/jkaninda/kazi/internal/workspace"
)

// Executor runs one script and returns its result envelope.
type Executor interface {
	Execute(ctx context.Context, source string) *script.Result
}

// Scheduler fires configured jobs on their cron schedules. Executions on a
// shared runtime serialize on the runtime's own lock, so overlapping
// schedules queue instead of racing the session store.
type Scheduler struct {
	exec    Executor
	jobs    []config.ScheduledJob
	ws      *workspace.Workspace
	metrics *Metrics
	logger  *slog.Logger
	cron    *cron.Cron
}

// New creates a Scheduler for the jobs in cfg. Script file paths resolve
// against the workspace root.
func New(exec Executor, cfg *config.SchedulerConfig, ws *workspace.Workspace, metrics *Metrics, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		exec:    exec,
		jobs:    cfg.Jobs,
		ws:      ws,
		metrics: metrics,
		logger:  logger,
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
	}
}

// Start registers every job and begins the cron loop. It fails fast on an
// unparsable schedule. The returned function stops the loop and waits for
// in-flight jobs.
func (s *Scheduler) Start(ctx context.Context) (func(), error) {
	for i := range s.jobs {
		job := s.jobs[i]
		if _, err := s.cron.AddFunc(job.Schedule, func() {
			s.runJob(ctx, job)
		}); err != nil {
			return nil, fmt.Errorf("job %q: invalid schedule %q: %w", job.Name, job.Schedule, err)
		}
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "scheduler started",
		slog.Int("jobs", len(s.jobs)),
	)

	return func() {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		s.logger.Info("scheduler stopped")
	}, nil
}

// runJob loads the job's script and executes it once.
func (s *Scheduler) runJob(ctx context.Context, job config.ScheduledJob) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.JobsFired.Inc()
	}

	source, err := s.loadScript(job)
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduled job failed to load",
			slog.String("job", job.Name),
			slog.String("error", err.Error()),
		)
		if s.metrics != nil {
			s.metrics.JobsFailed.Inc()
		}
		return
	}

	res := s.exec.Execute(ctx, source)

	if s.metrics != nil {
		s.metrics.RunDuration.Observe(time.Since(start).Seconds())
	}
	if res.Status == script.StatusSuccess {
		if s.metrics != nil {
			s.metrics.JobsSucceeded.Inc()
		}
		s.logger.InfoContext(ctx, "scheduled job finished",
			slog.String("job", job.Name),
			slog.String("execution_id", res.ID),
			slog.Duration("duration", res.Duration),
		)
		return
	}

	if s.metrics != nil {
		s.metrics.JobsFailed.Inc()
	}
	s.logger.ErrorContext(ctx, "scheduled job failed",
		slog.String("job", job.Name),
		slog.String("execution_id", res.ID),
		slog.String("error", res.Error),
	)
}

func (s *Scheduler) loadScript(job config.ScheduledJob) (string, error) {
	if job.Script != "" {
		return job.Script, nil
	}
	data, err := os.ReadFile(s.ws.ResolveScript(job.ScriptFile))
	if err != nil {
		return "", fmt.Errorf("reading script file: %w", err)
	}
	return string(data), nil
}
