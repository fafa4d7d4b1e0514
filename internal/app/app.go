package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "backfill", "enrich":
		return runBackfill(args[1:])
	case "match":
		return runMatch(args[1:])
	case "score":
		return runScore(args[1:])
	case "runs":
		return runRuns(args[1:])
	case "stats":
		return runStats(args[1:])
	case "schedule":
		return runSchedule(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "procurewatch CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  procurewatch <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health    Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  ingest    Page through a source and upsert its notices")
	fmt.Fprintln(os.Stderr, "  validate  Check saved source pages against the page schemas")
	fmt.Fprintln(os.Stderr, "  backfill  Derive enrichment fields for stale notices")
	fmt.Fprintln(os.Stderr, "  enrich    Alias for backfill")
	fmt.Fprintln(os.Stderr, "  match     Recompute watchlist matches")
	fmt.Fprintln(os.Stderr, "  score     Explain the score of one notice for one watchlist")
	fmt.Fprintln(os.Stderr, "  runs      List recent import runs")
	fmt.Fprintln(os.Stderr, "  stats     Show corpus and throughput counters")
	fmt.Fprintln(os.Stderr, "  schedule  Run ingest, backfill and match on cron specs")
	fmt.Fprintln(os.Stderr, "  serve     Start Echo API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"procurewatch <command> -h\" for command-specific flags.")
}
