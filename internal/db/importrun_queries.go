package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
)

const maxRunErrorMessage = 500

// InsertImportRun opens a run ledger row in the running state.
func (p *Pool) InsertImportRun(ctx context.Context, source model.Source, query string, startedAt time.Time) (int64, error) {
	const q = `
INSERT INTO procurewatch.import_runs (source, query, status, started_at)
VALUES ($1, $2, $3, $4)
RETURNING run_id
`
	var runID int64
	if err := p.QueryRow(ctx, q, string(source), strings.TrimSpace(query), model.RunStatusRunning, startedAt.UTC()).Scan(&runID); err != nil {
		return 0, fmt.Errorf("insert import run: %w", err)
	}
	return runID, nil
}

// FinishImportRun writes the final counters and status of a run.
func (p *Pool) FinishImportRun(ctx context.Context, run model.ImportRun) error {
	if run.ID <= 0 {
		return fmt.Errorf("import run id is required")
	}

	errs := make([]model.RunError, 0, len(run.Errors))
	for _, e := range run.Errors {
		errs = append(errs, model.RunError{Page: e.Page, Message: truncate(e.Message, maxRunErrorMessage)})
	}
	rawErrors, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("encode import run errors: %w", err)
	}

	completedAt := time.Now().UTC()
	if run.CompletedAt != nil {
		completedAt = run.CompletedAt.UTC()
	}

	const q = `
UPDATE procurewatch.import_runs
SET
	status = $2,
	completed_at = $3,
	created_count = $4,
	updated_count = $5,
	error_count = $6,
	pages_fetched = $7,
	stop_reason = $8,
	errors = $9::jsonb
WHERE run_id = $1
`
	if _, err := p.Exec(ctx, q,
		run.ID,
		run.Status,
		completedAt,
		run.Created,
		run.Updated,
		run.ErrorCount,
		run.PagesFetched,
		truncate(run.StopReason, maxRunErrorMessage),
		string(rawErrors),
	); err != nil {
		return fmt.Errorf("finish import run %d: %w", run.ID, err)
	}
	return nil
}

// ListImportRuns returns the newest runs, optionally for one source.
func (p *Pool) ListImportRuns(ctx context.Context, source string, limit int) ([]model.ImportRun, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	const q = `
SELECT
	run_id,
	source,
	query,
	status,
	started_at,
	completed_at,
	created_count,
	updated_count,
	error_count,
	pages_fetched,
	stop_reason,
	errors
FROM procurewatch.import_runs
WHERE ($1 = '' OR source = $1)
ORDER BY started_at DESC, run_id DESC
LIMIT $2
`
	rows, err := p.Query(ctx, q, strings.ToLower(strings.TrimSpace(source)), limit)
	if err != nil {
		return nil, fmt.Errorf("query import runs: %w", err)
	}
	defer rows.Close()

	items := make([]model.ImportRun, 0, limit)
	for rows.Next() {
		var (
			run     model.ImportRun
			src     string
			rawErrs []byte
		)
		if err := rows.Scan(
			&run.ID,
			&src,
			&run.Query,
			&run.Status,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Created,
			&run.Updated,
			&run.ErrorCount,
			&run.PagesFetched,
			&run.StopReason,
			&rawErrs,
		); err != nil {
			return nil, fmt.Errorf("scan import run row: %w", err)
		}
		run.Source = model.Source(src)
		if len(rawErrs) > 0 {
			if err := json.Unmarshal(rawErrs, &run.Errors); err != nil {
				return nil, fmt.Errorf("decode import run %d errors: %w", run.ID, err)
			}
		}
		items = append(items, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate import run rows: %w", err)
	}
	return items, nil
}
