package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/cli"
)

func runMatch(args []string) int {
	fs := flag.NewFlagSet("match", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	watchlistID := fs.Int64("watchlist-id", 0, "Recompute one watchlist, even when disabled (0 = every enabled watchlist)")
	timeout := fs.Duration("timeout", time.Hour, "Command timeout")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *watchlistID < 0 {
		fmt.Fprintln(os.Stderr, "--watchlist-id must be >= 0")
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

	svc, cleanup, err := buildMatcher(ctx, cfg, pool, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Matcher setup failed: %v\n", err)
		return 1
	}
	defer cleanup()

	var target *int64
	if *watchlistID > 0 {
		target = watchlistID
	}
	summaries, err := svc.Run(ctx, target)

	if outputFormat == outputFormatJSON {
		if encErr := printJSON(summaries); encErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", encErr)
			return 1
		}
	} else {
		for _, s := range summaries {
			fmt.Printf("watchlist_id=%d new_matches=%d redelivered=%d total_matches=%d scanned=%d inserted=%d updated=%d deleted=%d scoring_errors=%d notified=%t\n",
				s.WatchlistID, s.NewMatches, s.Redelivered, s.TotalMatches, s.Scanned, s.Inserted, s.Updated, s.Deleted, s.ScoringErrors, s.Notified)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Match failed: %v\n", err)
		return 1
	}
	return 0
}
