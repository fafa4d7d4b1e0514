package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/cli"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/enrich"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/scheduler"
)

func runSchedule(args []string) int {
	fs := flag.NewFlagSet("schedule", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	sourceFlag := fs.String("source", "all", "Sources to ingest on each tick")
	runNow := fs.Bool("run-now", false, "Run every job once at startup")
	jobTimeout := fs.Duration("job-timeout", 2*time.Hour, "Upper bound for one job run")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	sources, err := parseSources(*sourceFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --source: %v\n", err)
		return 2
	}
	if *jobTimeout <= 0 {
		fmt.Fprintln(os.Stderr, "--job-timeout must be > 0")
		return 2
	}

	cfg, logger, code := loadRuntime(envLoader)
	if code != 0 {
		return code
	}

	ctx, stop := signalContext(context.Background())
	defer stop()

	pool, err := connectPool(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer pool.Close()

	svc, cleanup, err := buildMatcher(ctx, cfg, pool, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Matcher setup failed: %v\n", err)
		return 1
	}
	defer cleanup()

	sched := scheduler.New(logger)
	ingestJobFn := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, *jobTimeout)
		defer cancel()
		_, ingestErr := ingestSources(ctx, cfg, pool, logger, ingestJob{Sources: sources})
		// New notices are enriched even when one source failed.
		res, backfillErr := backfill(ctx, cfg, pool, logger, enrich.Criteria{})
		logger.Info().Int("enriched", res.Enriched).Int("failed", res.Failed).Msg("scheduled backfill finished")
		return errors.Join(ingestErr, backfillErr)
	}
	matchJobFn := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, *jobTimeout)
		defer cancel()
		// A fresh crosswalk is picked up on every tick.
		svc.Crosswalk().Invalidate()
		_, err := svc.Run(ctx, nil)
		return err
	}
	if err := sched.Add("ingest", cfg.ScheduleIngestCron, ingestJobFn); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid SCHEDULE_INGEST_CRON: %v\n", err)
		return 2
	}
	if err := sched.Add("match", cfg.ScheduleMatchCron, matchJobFn); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid SCHEDULE_MATCH_CRON: %v\n", err)
		return 2
	}

	if err := sched.Start(ctx, *runNow); err != nil {
		fmt.Fprintf(os.Stderr, "Scheduler failed to start: %v\n", err)
		return 1
	}
	logger.Info().Strs("sources", sourceNames(sources)).Msg("scheduler running")

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sched.Stop(stopCtx)
	return 0
}

func sourceNames(sources []model.Source) []string {
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		out = append(out, string(s))
	}
	return out
}
