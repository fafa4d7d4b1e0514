package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/cli"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
)

func runRuns(args []string) int {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	sourceFlag := fs.String("source", "", "Restrict to one source")
	limit := fs.Int("limit", 20, "Number of runs to list")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *limit < 1 || *limit > 500 {
		fmt.Fprintln(os.Stderr, "--limit must be between 1 and 500")
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

	runs, err := pool.ListImportRuns(ctx, src, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list import runs: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(runs); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSOURCE\tSTATUS\tSTARTED\tCOMPLETED\tCREATED\tUPDATED\tERRORS\tPAGES\tSTOP\tLAST ERROR")
	for _, r := range runs {
		lastErr := ""
		if n := len(r.Errors); n > 0 {
			lastErr = truncateForTable(r.Errors[n-1].Message, 60)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.Source, r.Status, formatTimestamp(&r.StartedAt), formatTimestamp(r.CompletedAt),
			r.Created, r.Updated, r.ErrorCount, r.PagesFetched, r.StopReason, lastErr)
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write table: %v\n", err)
		return 1
	}
	return 0
}
