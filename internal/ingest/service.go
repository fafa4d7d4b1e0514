// Package ingest paginates one upstream source into the canonical notice
// store and records one import run per invocation.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/db"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/globaltime"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/source"
)

const (
	// maxConsecutiveBadPages aborts a run that keeps failing before any
	// notice was written.
	maxConsecutiveBadPages = 3

	defaultPageCeiling = 200
	defaultPageTimeout = 30 * time.Second
	defaultMaxErrors   = 50
)

// Stop reasons recorded on the run.
const (
	StopCeiling   = "page_ceiling"
	StopTarget    = "total_count_reached"
	StopEmptyPage = "empty_page"
	StopShortPage = "short_page"
	StopExhausted = "exhausted"
	StopCancelled = "cancelled"
)

// Store is the persistence the pipeline needs. *db.Pool satisfies it.
type Store interface {
	InsertImportRun(ctx context.Context, src model.Source, query string, startedAt time.Time) (int64, error)
	FinishImportRun(ctx context.Context, run model.ImportRun) error
	UpsertNotice(ctx context.Context, fields model.NoticeFields, now time.Time) (db.UpsertResult, error)
}

// Options bounds a run.
type Options struct {
	PageCeiling int
	PageTimeout time.Duration
	MaxErrors   int
}

type Service struct {
	store  Store
	logger zerolog.Logger
	opts   Options
	now    func() time.Time
}

func NewService(store Store, logger zerolog.Logger, opts Options) *Service {
	if opts.PageCeiling <= 0 {
		opts.PageCeiling = defaultPageCeiling
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = defaultPageTimeout
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = defaultMaxErrors
	}
	return &Service{
		store:  store,
		logger: logger,
		opts:   opts,
		now:    globaltime.UTC,
	}
}

// Request describes one ingestion invocation.
type Request struct {
	Source   model.Source
	Query    string
	PageSize int
	MaxPages int
}

// PageStat is the per-page breakdown of a run.
type PageStat struct {
	Page       int    `json:"page"`
	Items      int    `json:"items"`
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`
	Errors     int    `json:"errors"`
	FetchError string `json:"fetch_error,omitempty"`
}

// RunStats is the outcome of one ingestion invocation.
type RunStats struct {
	RunID        int64            `json:"run_id"`
	Source       model.Source     `json:"source"`
	Created      int              `json:"created"`
	Updated      int              `json:"updated"`
	ErrorCount   int              `json:"error_count"`
	Errors       []model.RunError `json:"errors"`
	PagesFetched int              `json:"pages_fetched"`
	TargetPages  int              `json:"target_pages"`
	Pages        []PageStat       `json:"pages"`
	Status       string           `json:"status"`
	StopReason   string           `json:"stop_reason"`
}

// Err returns ErrExhausted for aborted runs and nil otherwise.
func (s RunStats) Err() error {
	if s.Status == model.RunStatusAborted {
		return ErrExhausted
	}
	return nil
}

// Ingest pages through one source. Every fetched page is committed as it is
// processed, so an abort or cancellation keeps earlier progress. The returned
// error is non-nil only when the run could not be opened or the context was
// cancelled; page and item failures land in RunStats.
func (s *Service) Ingest(ctx context.Context, fetcher source.Fetcher, req Request) (stats RunStats, err error) {
	if s == nil || s.store == nil {
		return RunStats{}, fmt.Errorf("ingest service is not initialized")
	}
	if fetcher == nil {
		return RunStats{}, fmt.Errorf("fetcher is required")
	}
	if _, err := model.ParseSource(string(req.Source)); err != nil {
		return RunStats{}, err
	}
	if req.PageSize < 1 {
		return RunStats{}, fmt.Errorf("page size must be >= 1")
	}

	startedAt := s.now()
	runID, err := s.store.InsertImportRun(ctx, req.Source, req.Query, startedAt)
	if err != nil {
		return RunStats{}, fmt.Errorf("open import run: %w", err)
	}

	stats = RunStats{
		RunID:  runID,
		Source: req.Source,
		Status: model.RunStatusRunning,
		Errors: make([]model.RunError, 0, 4),
		Pages:  make([]PageStat, 0, 8),
	}

	defer func() {
		if r := recover(); r != nil {
			stats.Status = model.RunStatusFailed
			stats.StopReason = fmt.Sprintf("panic: %v", r)
			err = fmt.Errorf("ingest %s panicked: %v", req.Source, r)
		}
		// The ledger row is written even when the caller's context is gone.
		finishCtx := context.WithoutCancel(ctx)
		completedAt := s.now()
		finishErr := s.store.FinishImportRun(finishCtx, model.ImportRun{
			ID:           runID,
			Source:       req.Source,
			Query:        req.Query,
			Status:       stats.Status,
			StartedAt:    startedAt,
			CompletedAt:  &completedAt,
			Created:      stats.Created,
			Updated:      stats.Updated,
			ErrorCount:   stats.ErrorCount,
			PagesFetched: stats.PagesFetched,
			StopReason:   stats.StopReason,
			Errors:       stats.Errors,
		})
		if finishErr != nil {
			s.logger.Error().Err(finishErr).Int64("run_id", runID).Msg("failed to finish import run")
			if err == nil {
				err = fmt.Errorf("finish import run: %w", finishErr)
			}
		}
	}()

	err = s.run(ctx, fetcher, req, &stats)

	switch {
	case err != nil:
		stats.Status = model.RunStatusFailed
	case stats.StopReason == StopExhausted:
		stats.Status = model.RunStatusAborted
	default:
		stats.Status = model.RunStatusCompleted
	}

	event := s.logger.Info()
	if stats.Status != model.RunStatusCompleted {
		event = s.logger.Warn()
	}
	event.
		Int64("run_id", runID).
		Str("source", string(req.Source)).
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("errors", stats.ErrorCount).
		Int("pages_fetched", stats.PagesFetched).
		Str("status", stats.Status).
		Str("stop_reason", stats.StopReason).
		Msg("ingest run finished")

	return stats, err
}

func (s *Service) run(ctx context.Context, fetcher source.Fetcher, req Request, stats *RunStats) error {
	ceiling := s.opts.PageCeiling
	if req.MaxPages > 0 && req.MaxPages < ceiling {
		ceiling = req.MaxPages
	}
	target := ceiling
	stats.TargetPages = target
	stats.StopReason = StopCeiling
	consecutiveBad := 0

	for page := 1; page <= target; page++ {
		if err := ctx.Err(); err != nil {
			stats.StopReason = StopCancelled
			return err
		}

		result, fetchErr := s.fetch(ctx, fetcher, req, page)
		if fetchErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				stats.StopReason = StopCancelled
				return ctxErr
			}
			terr := &TransportError{Page: page, Err: fetchErr}
			s.addError(stats, page, terr.Error())
			stats.Pages = append(stats.Pages, PageStat{Page: page, FetchError: terr.Error()})
			s.logger.Warn().Err(terr).Str("source", string(req.Source)).Msg("page fetch failed")

			consecutiveBad++
			if consecutiveBad >= maxConsecutiveBadPages && stats.Created+stats.Updated == 0 {
				stats.StopReason = StopExhausted
				return nil
			}
			continue
		}

		stats.PagesFetched++
		if page == 1 && result.TotalCount != nil {
			hinted := ceilDiv(*result.TotalCount, req.PageSize)
			if hinted < target {
				target = hinted
				stats.TargetPages = target
				stats.StopReason = StopTarget
			}
		}

		pageStat := PageStat{Page: page, Items: len(result.Items)}
		if len(result.Items) == 0 {
			stats.Pages = append(stats.Pages, pageStat)
			stats.StopReason = StopEmptyPage
			return nil
		}
		consecutiveBad = 0

		if err := s.storePage(ctx, req, page, result.Items, stats, &pageStat); err != nil {
			stats.Pages = append(stats.Pages, pageStat)
			stats.StopReason = StopCancelled
			return err
		}
		stats.Pages = append(stats.Pages, pageStat)

		if len(result.Items) < req.PageSize {
			stats.StopReason = StopShortPage
			return nil
		}
	}
	return nil
}

func (s *Service) fetch(ctx context.Context, fetcher source.Fetcher, req Request, page int) (source.Page, error) {
	pageCtx, cancel := context.WithTimeout(ctx, s.opts.PageTimeout)
	defer cancel()
	return fetcher.FetchPage(pageCtx, req.Query, page, req.PageSize)
}

// storePage maps and upserts one page. Only context cancellation is returned;
// per-item failures are counted.
func (s *Service) storePage(ctx context.Context, req Request, page int, items []source.RawItem, stats *RunStats, pageStat *PageStat) error {
	for _, item := range items {
		fields, err := source.Map(item)
		if err != nil {
			pageStat.Errors++
			s.addError(stats, page, err.Error())
			s.logger.Warn().Err(err).Int("page", page).Msg("skipping unmappable item")
			continue
		}
		if fields.Source != req.Source {
			pageStat.Errors++
			s.addError(stats, page, fmt.Sprintf("item from %s in a %s run", fields.Source, req.Source))
			continue
		}

		res, err := s.store.UpsertNotice(ctx, fields, s.now())
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.Canceled) {
				if ctxErr == nil {
					ctxErr = err
				}
				return ctxErr
			}
			pageStat.Errors++
			s.addError(stats, page, err.Error())
			s.logger.Warn().Err(err).Int("page", page).Str("source_id", fields.SourceID).Msg("notice upsert failed")
			continue
		}
		if res.Inserted {
			pageStat.Created++
			stats.Created++
		} else {
			pageStat.Updated++
			stats.Updated++
		}
	}
	return nil
}

func (s *Service) addError(stats *RunStats, page int, message string) {
	stats.ErrorCount++
	if len(stats.Errors) >= s.opts.MaxErrors {
		return
	}
	stats.Errors = append(stats.Errors, model.RunError{Page: page, Message: strings.TrimSpace(message)})
}

func ceilDiv(total, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return (total + size - 1) / size
}
