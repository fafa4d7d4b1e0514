package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/cli"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/enrich"
)

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "stats does not accept positional arguments")
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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := connectPool(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer pool.Close()

	dayStart := defaultUTCDay()
	stats, err := pool.QueryCorpusStats(ctx, dayStart, dayStart.Add(24*time.Hour), enrich.Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query corpus stats: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(stats); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Printf("day=%s total_notices=%d\n", stats.Day, stats.Total)
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tNOTICES\tENRICHED\tOPEN\tLAST IMPORT\tLAST STATUS")
	for _, s := range stats.Sources {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\n", s.Source, s.Notices, s.Enriched, s.OpenTenders, formatTimestamp(s.LastImport), s.LastStatus)
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write table: %v\n", err)
		return 1
	}

	t := stats.Throughput
	fmt.Printf("first_seen_today=%d updated_today=%d pending_enrichment=%d watchlists=%d enabled_watchlists=%d matches=%d\n",
		t.NoticesFirstSeenToday, t.NoticesUpdatedToday, t.PendingEnrichment, t.Watchlists, t.EnabledWatchlists, t.Matches)
	return 0
}
