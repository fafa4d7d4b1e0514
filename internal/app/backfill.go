package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/cli"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/config"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/db"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/enrich"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
)

func runBackfill(args []string) int {
	fs := flag.NewFlagSet("backfill", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	sourceFlag := fs.String("source", "", "Restrict to one source")
	force := fs.Bool("force", false, "Re-derive notices that are already current")
	limit := fs.Int("limit", 0, "Stop after this many notices (0 = no limit)")
	timeout := fs.Duration("timeout", time.Hour, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	src := strings.TrimSpace(*sourceFlag)
	if src != "" {
		parsed, err := model.ParseSource(src)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --source: %v\n", err)
			return 2
		}
		src = string(parsed)
	}
	if *limit < 0 {
		fmt.Fprintln(os.Stderr, "--limit must be >= 0")
		return 2
	}

	cfg, logger, code := loadRuntime(envLoader)
	if code != 0 {
		return code
	}

	ctx, stop := signalContext(context.Background())
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	pool, err := connectPool(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer pool.Close()

	res, err := backfill(ctx, cfg, pool, logger, enrich.Criteria{Source: src, Force: *force, Limit: *limit})
	fmt.Printf("enriched=%d unchanged=%d batches=%d failed=%d index_refreshed=%t\n", res.Enriched, res.Unchanged, res.Batches, res.Failed, res.IndexRefreshed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Backfill failed: %v\n", err)
		return 1
	}
	return 0
}

func backfill(ctx context.Context, cfg *config.Config, pool *db.Pool, logger zerolog.Logger, criteria enrich.Criteria) (enrich.Result, error) {
	svc := enrich.NewService(pool, pool, logger, cfg.BackfillBatchSize)
	return svc.Backfill(ctx, criteria)
}
