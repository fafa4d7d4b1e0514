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
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/ingest"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
)

type ingestJob struct {
	Sources   []model.Source
	Query     string
	PageSize  int
	MaxPages  int
	ReplayDir string
}

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	sourceFlag := fs.String("source", "", "Source to ingest: ted, anac, boamp, a comma list or all")
	query := fs.String("query", "", "Source-specific search query")
	pageSize := fs.Int("page-size", 0, "Items per page (defaults to INGEST_PAGE_SIZE)")
	maxPages := fs.Int("max-pages", 0, "Stop after this many pages (capped by INGEST_PAGE_CEILING)")
	replayDir := fs.String("replay-dir", "", "Read saved pages from <dir>/<source>/page-0001.json instead of the API")
	timeout := fs.Duration("timeout", 2*time.Hour, "Command timeout")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if strings.TrimSpace(*sourceFlag) == "" {
		fmt.Fprintln(os.Stderr, "--source is required")
		return 2
	}
	sources, err := parseSources(*sourceFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --source: %v\n", err)
		return 2
	}
	if *pageSize < 0 || *maxPages < 0 {
		fmt.Fprintln(os.Stderr, "--page-size and --max-pages must be >= 0")
		return 2
	}
	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
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

	results, err := ingestSources(ctx, cfg, pool, logger, ingestJob{
		Sources:   sources,
		Query:     strings.TrimSpace(*query),
		PageSize:  *pageSize,
		MaxPages:  *maxPages,
		ReplayDir: *replayDir,
	})

	if outputFormat == outputFormatJSON {
		if encErr := printJSON(results); encErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", encErr)
			return 1
		}
	} else {
		for _, r := range results {
			fmt.Printf("run_id=%d source=%s status=%s created=%d updated=%d errors=%d pages_fetched=%d target_pages=%d stop_reason=%s\n",
				r.RunID, r.Source, r.Status, r.Created, r.Updated, r.ErrorCount, r.PagesFetched, r.TargetPages, r.StopReason)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		return 1
	}
	return 0
}

// ingestSources runs one ingestion per source in order. Sources own disjoint
// id namespaces, but running them one by one keeps the upstream rate limits
// simple. A failing source does not stop the next one.
func ingestSources(ctx context.Context, cfg *config.Config, pool *db.Pool, logger zerolog.Logger, job ingestJob) ([]ingest.RunStats, error) {
	pageSize := job.PageSize
	if pageSize <= 0 {
		pageSize = cfg.IngestPageSize
	}

	reg, err := buildRegistry(cfg, job.Sources, job.ReplayDir)
	if err != nil {
		return nil, err
	}
	svc := ingest.NewService(pool, logger, ingest.Options{
		PageCeiling: cfg.IngestPageCeiling,
		PageTimeout: cfg.IngestPageTimeout,
	})

	var (
		results []ingest.RunStats
		errs    []error
	)
	for _, src := range reg.Sources() {
		fetcher, err := reg.Fetcher(src)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		stats, err := svc.Ingest(ctx, fetcher, ingest.Request{
			Source:   src,
			Query:    job.Query,
			PageSize: pageSize,
			MaxPages: job.MaxPages,
		})
		if stats.RunID != 0 {
			results = append(results, stats)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if stats.Err() != nil {
			logger.Warn().Str("source", string(src)).Str("stop_reason", stats.StopReason).Msg("ingest run aborted after repeated failures")
		}
	}
	return results, errors.Join(errs...)
}
