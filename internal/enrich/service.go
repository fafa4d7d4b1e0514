// Package enrich derives secondary notice fields after ingestion.
package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/db"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/globaltime"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
)

const defaultBatchSize = 200

// Store reads stale notices and writes derived fields. *db.Pool satisfies it.
type Store interface {
	ListStaleNotices(ctx context.Context, opts db.StaleNoticeOptions) ([]model.Notice, error)
	UpdateDerivedBatch(ctx context.Context, updates []db.DerivedUpdate, now time.Time) (int, error)
}

// IndexRefresher rebuilds the downstream search index.
type IndexRefresher interface {
	RefreshNoticeSearch(ctx context.Context) error
}

// Criteria narrows a backfill. The zero value enriches every stale notice.
type Criteria struct {
	Source string
	Force  bool
	Limit  int
}

// Result summarizes a backfill.
type Result struct {
	Enriched       int  `json:"enriched"`
	Unchanged      int  `json:"unchanged"`
	Batches        int  `json:"batches"`
	Failed         int  `json:"failed"`
	IndexRefreshed bool `json:"index_refreshed"`
}

type Service struct {
	store     Store
	refresher IndexRefresher
	logger    zerolog.Logger
	batchSize int
	detect    Detector
	now       func() time.Time
}

func NewService(store Store, refresher IndexRefresher, logger zerolog.Logger, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Service{
		store:     store,
		refresher: refresher,
		logger:    logger,
		batchSize: batchSize,
		detect:    DetectLanguage,
		now:       globaltime.UTC,
	}
}

// Backfill enriches stale notices in bounded batches, each committed on its
// own. A failing batch stops the run but earlier batches stay written. The
// search index is refreshed only when something was enriched.
func (s *Service) Backfill(ctx context.Context, criteria Criteria) (Result, error) {
	if s == nil || s.store == nil {
		return Result{}, fmt.Errorf("enrich service is not initialized")
	}

	var (
		result    Result
		afterID   int64
		processed int
		runErr    error
	)
	for {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		limit := s.batchSize
		if criteria.Limit > 0 {
			remaining := criteria.Limit - processed
			if remaining <= 0 {
				break
			}
			limit = min(limit, remaining)
		}

		notices, err := s.store.ListStaleNotices(ctx, db.StaleNoticeOptions{
			AfterID: afterID,
			Version: Version,
			Source:  criteria.Source,
			Force:   criteria.Force,
			Limit:   limit,
		})
		if err != nil {
			runErr = fmt.Errorf("list stale notices after %d: %w", afterID, err)
			break
		}
		if len(notices) == 0 {
			break
		}
		afterID = notices[len(notices)-1].ID
		processed += len(notices)

		updates := make([]db.DerivedUpdate, 0, len(notices))
		for _, n := range notices {
			if !criteria.Force && payloadUnchanged(n) {
				updates = append(updates, db.DerivedUpdate{NoticeID: n.ID, Derived: n.Derived})
				continue
			}
			derived, err := s.derive(n)
			if err != nil {
				result.Failed++
				s.logger.Warn().Err(err).Int64("notice_id", n.ID).Msg("enrichment skipped notice")
				continue
			}
			updates = append(updates, db.DerivedUpdate{NoticeID: n.ID, Derived: derived})
		}

		written, err := s.store.UpdateDerivedBatch(ctx, updates, s.now())
		if err != nil {
			runErr = fmt.Errorf("write enrichment batch after %d: %w", afterID, err)
			break
		}
		result.Enriched += written
		result.Unchanged += len(updates) - written
		result.Batches++

		if len(notices) < limit {
			break
		}
	}

	if result.Enriched > 0 && s.refresher != nil {
		if err := s.refresher.RefreshNoticeSearch(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error().Err(err).Msg("search index refresh failed")
			if runErr == nil {
				runErr = fmt.Errorf("refresh search index: %w", err)
			}
		} else {
			result.IndexRefreshed = true
		}
	}

	s.logger.Info().
		Int("enriched", result.Enriched).
		Int("unchanged", result.Unchanged).
		Int("batches", result.Batches).
		Int("failed", result.Failed).
		Bool("index_refreshed", result.IndexRefreshed).
		Msg("backfill finished")

	return result, runErr
}

// payloadUnchanged reports whether the stored derivation was computed by this
// enrichment version from the same raw payload. Core fields are mapped from
// that payload, so deriving again would produce the same values.
func payloadUnchanged(n model.Notice) bool {
	d := n.Derived
	if d.EnrichedAt == nil || d.Version != Version || d.PayloadFingerprint == "" {
		return false
	}
	return d.PayloadFingerprint == Fingerprint(n.RawPayload)
}

func (s *Service) derive(n model.Notice) (derived model.Derived, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("derive notice %d: %v", n.ID, r)
		}
	}()
	return Derive(n, s.detect), nil
}
