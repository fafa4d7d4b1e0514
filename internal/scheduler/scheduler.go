// Package scheduler triggers the batch jobs (ingest, backfill, match) on cron
// specs. Each job runs to completion; a tick that arrives while the previous
// run is still busy is skipped.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

type entry struct {
	name string
	spec string
	job  Job
}

// Scheduler wraps robfig/cron.
type Scheduler struct {
	cron    *cron.Cron
	logger  zerolog.Logger
	entries []entry
	now     func() time.Time
}

func New(logger zerolog.Logger) *Scheduler {
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		now:    time.Now,
	}
}

// Add registers job under name. Specs use the standard five cron fields or
// descriptors such as "@every 6h".
func (s *Scheduler) Add(name, spec string, job Job) error {
	name = strings.TrimSpace(name)
	spec = strings.TrimSpace(spec)
	if name == "" {
		return fmt.Errorf("job name is required")
	}
	if job == nil {
		return fmt.Errorf("job %s: func is nil", name)
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("job %s: parse spec %q: %w", name, spec, err)
	}
	s.entries = append(s.entries, entry{name: name, spec: spec, job: job})
	return nil
}

// Start schedules every registered job and, when runNow is set, runs each one
// once immediately in registration order. Jobs stop being scheduled when ctx
// ends.
func (s *Scheduler) Start(ctx context.Context, runNow bool) error {
	if len(s.entries) == 0 {
		return fmt.Errorf("no jobs registered")
	}
	for _, e := range s.entries {
		e := e
		if _, err := s.cron.AddFunc(e.spec, func() { s.run(ctx, e) }); err != nil {
			return fmt.Errorf("cron.AddFunc %s: %w", e.name, err)
		}
	}

	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.entries)).Msg("scheduler started")

	if runNow {
		go func() {
			for _, e := range s.entries {
				if ctx.Err() != nil {
					return
				}
				s.run(ctx, e)
			}
		}()
	}
	return nil
}

// Stop halts scheduling and waits for running jobs to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, e entry) {
	if ctx.Err() != nil {
		return
	}
	started := s.now()
	s.logger.Info().Str("job", e.name).Msg("scheduled job started")
	if err := e.job(ctx); err != nil {
		s.logger.Error().Err(err).Str("job", e.name).Dur("elapsed", s.now().Sub(started)).Msg("scheduled job failed")
		return
	}
	s.logger.Info().Str("job", e.name).Dur("elapsed", s.now().Sub(started)).Msg("scheduled job finished")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
