package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/cli"
)

func runScore(args []string) int {
	fs := flag.NewFlagSet("score", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	noticeID := fs.Int64("notice-id", 0, "Notice to score")
	watchlistID := fs.Int64("watchlist-id", 0, "Watchlist to score against")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *noticeID <= 0 || *watchlistID <= 0 {
		fmt.Fprintln(os.Stderr, "--notice-id and --watchlist-id are required")
		return 2
	}

	cfg, logger, code := loadRuntime(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
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

	res, err := svc.Explain(ctx, *noticeID, *watchlistID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Score failed: %v\n", err)
		return 1
	}

	b := res.Breakdown
	fmt.Printf("score=%d min_score=%d matches=%t\n", res.Score, cfg.MatchMinScore, res.Score >= cfg.MatchMinScore)
	fmt.Printf("fit=%d keyword=%d category=%d geography=%d recency=%d\n", b.Fit, b.Keyword, b.Category, b.Geography, b.Recency)
	fmt.Printf("boost=%d proximity=%d activity=%d\n", b.Boost, b.Proximity, b.Activity)
	for _, part := range strings.Split(res.Explanation, " | ") {
		fmt.Printf("  %s\n", part)
	}
	return 0
}
