// Package matcher evaluates watchlists against the notice corpus and keeps the
// stored matches in step with the current scores.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/db"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/geo"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/globaltime"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/notify"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/scoring"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/taxonomy"
)

const (
	DefaultMinScore     = 25
	defaultScanPageSize = 500
	defaultDigestLimit  = 50
)

// Store is the persistence the matcher needs. *db.Pool satisfies it.
type Store interface {
	ListWatchlists(ctx context.Context, enabledOnly bool) ([]model.Watchlist, error)
	GetWatchlist(ctx context.Context, watchlistID int64) (*model.Watchlist, error)
	GetProfile(ctx context.Context, profileID int64) (*model.Profile, error)
	GetNotice(ctx context.Context, noticeID int64) (*model.Notice, error)
	ScanNotices(ctx context.Context, afterID int64, since time.Time, limit int) ([]model.Notice, error)
	ListWatchlistMatches(ctx context.Context, watchlistID int64) (map[int64]model.Match, error)
	ApplyMatchPlan(ctx context.Context, watchlistID int64, plan model.MatchPlan, now time.Time) error
	MarkWatchlistRun(ctx context.Context, watchlistID int64, upd db.WatchlistRunUpdate) error
}

// Notifier delivers digests. *notify.Router satisfies it.
type Notifier interface {
	Publish(ctx context.Context, target string, digest notify.Digest) error
}

type Options struct {
	MinScore     int
	ScanPageSize int
	// LookbackDays bounds the scan to notices published (or first seen) in the
	// window. Zero scans the whole corpus.
	LookbackDays int
	DigestLimit  int
}

type scoreFunc func(model.Notice, model.Watchlist, *model.Profile, scoring.Env) (scoring.Result, error)

type Service struct {
	store     Store
	notifier  Notifier
	geo       *geo.Reference
	crosswalk *taxonomy.Cache
	logger    zerolog.Logger
	opts      Options
	now       func() time.Time
	score     scoreFunc
}

func NewService(store Store, notifier Notifier, geoRef *geo.Reference, crosswalk *taxonomy.Cache, logger zerolog.Logger, opts Options) *Service {
	if opts.MinScore <= 0 {
		opts.MinScore = DefaultMinScore
	}
	if opts.ScanPageSize <= 0 {
		opts.ScanPageSize = defaultScanPageSize
	}
	if opts.DigestLimit <= 0 {
		opts.DigestLimit = defaultDigestLimit
	}
	return &Service{
		store:     store,
		notifier:  notifier,
		geo:       geoRef,
		crosswalk: crosswalk,
		logger:    logger,
		opts:      opts,
		now:       globaltime.UTC,
		score:     scoring.Score,
	}
}

// Crosswalk exposes the cache so callers can invalidate it after editing the
// reference data.
func (s *Service) Crosswalk() *taxonomy.Cache {
	return s.crosswalk
}

// MatchSummary is the outcome of one watchlist recompute.
type MatchSummary struct {
	WatchlistID   int64                 `json:"watchlist_id"`
	WatchlistName string                `json:"watchlist_name"`
	NewMatches    int                   `json:"new_matches"`
	Redelivered   int                   `json:"redelivered"`
	TotalMatches  int                   `json:"total_matches"`
	Scanned       int                   `json:"scanned"`
	Inserted      int                   `json:"inserted"`
	Updated       int                   `json:"updated"`
	Deleted       int                   `json:"deleted"`
	Unchanged     int                   `json:"unchanged"`
	ScoringErrors int                   `json:"scoring_errors"`
	FirstRun      bool                  `json:"first_run"`
	Notified      bool                  `json:"notified"`
	Notices       []model.NoticeSummary `json:"notices"`
	Status        string                `json:"status"`
	Error         string                `json:"error,omitempty"`
}

// Run recomputes one watchlist when watchlistID is set, even a disabled one,
// and every enabled watchlist otherwise. A failing watchlist does not stop the
// others; their errors are joined into the returned error.
func (s *Service) Run(ctx context.Context, watchlistID *int64) ([]MatchSummary, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("matcher service is not initialized")
	}

	var watchlists []model.Watchlist
	if watchlistID != nil {
		w, err := s.store.GetWatchlist(ctx, *watchlistID)
		if err != nil {
			return nil, fmt.Errorf("load watchlist %d: %w", *watchlistID, err)
		}
		watchlists = []model.Watchlist{*w}
	} else {
		list, err := s.store.ListWatchlists(ctx, true)
		if err != nil {
			return nil, fmt.Errorf("list watchlists: %w", err)
		}
		watchlists = list
	}

	summaries := make([]MatchSummary, 0, len(watchlists))
	var errs []error
	for _, w := range watchlists {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		summary, err := s.RunWatchlist(ctx, w)
		if err != nil {
			summary.Error = err.Error()
			errs = append(errs, fmt.Errorf("watchlist %d: %w", w.ID, err))
			s.logger.Error().Err(err).Int64("watchlist_id", w.ID).Msg("watchlist match run failed")
		}
		summaries = append(summaries, summary)
	}
	return summaries, errors.Join(errs...)
}

type newHit struct {
	summary model.NoticeSummary
	score   int
	newness time.Time
}

// RunWatchlist scans the corpus for one watchlist and applies the resulting
// inserts, updates and prunes in a single transaction. A failed run leaves the
// watchlist timestamps untouched.
func (s *Service) RunWatchlist(ctx context.Context, w model.Watchlist) (MatchSummary, error) {
	summary := MatchSummary{WatchlistID: w.ID, WatchlistName: w.Name}
	now := s.now()

	env, err := s.env(now)
	if err != nil {
		return summary, err
	}
	profile, err := s.profileFor(ctx, w)
	if err != nil {
		return summary, err
	}
	existing, err := s.store.ListWatchlistMatches(ctx, w.ID)
	if err != nil {
		return summary, fmt.Errorf("list matches: %w", err)
	}

	cutoff, hasCutoff := w.NotifyCutoff()
	summary.FirstRun = !hasCutoff

	var (
		plan    model.MatchPlan
		hits    []newHit
		carried []newHit
	)
	drop := func(noticeID int64) {
		if _, ok := existing[noticeID]; ok {
			plan.Delete = append(plan.Delete, noticeID)
		}
	}

	since := s.scanWindowStart(now)
	afterID := int64(0)
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		page, err := s.store.ScanNotices(ctx, afterID, since, s.opts.ScanPageSize)
		if err != nil {
			return summary, fmt.Errorf("scan notices after %d: %w", afterID, err)
		}

		for _, n := range page {
			afterID = n.ID
			summary.Scanned++

			if !w.AcceptsValue(n.EstimatedValue) {
				drop(n.ID)
				continue
			}

			res, err := s.scoreSafely(n, w, profile, env)
			if err != nil {
				summary.ScoringErrors++
				s.logger.Warn().Err(err).Int64("watchlist_id", w.ID).Int64("notice_id", n.ID).Msg("scoring failed; skipping notice")
				continue
			}
			if res.Score < s.opts.MinScore {
				drop(n.ID)
				continue
			}

			match := model.Match{
				WatchlistID: w.ID,
				NoticeID:    n.ID,
				MatchedOn:   res.Explanation,
				Score:       res.Score,
				MatchedAt:   now,
			}
			prev, ok := existing[n.ID]
			switch {
			case !ok:
				plan.Insert = append(plan.Insert, match)
			case prev.MatchedOn != res.Explanation:
				plan.Update = append(plan.Update, match)
			default:
				summary.Unchanged++
			}

			// A stored match newer than the cutoff was never delivered: the
			// cutoff only advances on a successful digest.
			if hasCutoff && n.NewnessTime().After(cutoff) {
				hit := newHit{summary: n.Summary(), score: res.Score, newness: n.NewnessTime()}
				switch {
				case !ok:
					hits = append(hits, hit)
				case w.NotifyTarget != "":
					carried = append(carried, hit)
				}
			}
		}

		if len(page) < s.opts.ScanPageSize {
			break
		}
	}

	if !plan.Empty() {
		if err := s.store.ApplyMatchPlan(ctx, w.ID, plan, now); err != nil {
			return summary, fmt.Errorf("apply match plan: %w", err)
		}
	}

	summary.Inserted = len(plan.Insert)
	summary.Updated = len(plan.Update)
	summary.Deleted = len(plan.Delete)
	summary.TotalMatches = len(existing) + summary.Inserted - summary.Deleted
	summary.NewMatches = len(hits)
	summary.Redelivered = len(carried)
	undelivered := append(hits, carried...)
	summary.Notices = digestNotices(undelivered, s.opts.DigestLimit)

	upd := db.WatchlistRunUpdate{RefreshedAt: now}
	if summary.FirstRun {
		// The first run only establishes the cutoff.
		upd.NotifiedAt = &now
	}
	notifyState := ""
	if len(undelivered) > 0 && w.NotifyTarget != "" {
		if err := s.publish(ctx, w, summary, now); err != nil {
			notifyState = " notify=failed"
			s.logger.Warn().Err(err).Int64("watchlist_id", w.ID).Int("undelivered", len(undelivered)).Msg("digest delivery failed")
		} else {
			summary.Notified = true
			notifiedAt := deliveredCutoff(now, undelivered)
			upd.NotifiedAt = &notifiedAt
			notifyState = " notify=sent"
		}
	}

	summary.Status = fmt.Sprintf("ok scanned=%d inserted=%d updated=%d deleted=%d new=%d redelivered=%d scoring_errors=%d%s",
		summary.Scanned, summary.Inserted, summary.Updated, summary.Deleted, summary.NewMatches, summary.Redelivered, summary.ScoringErrors, notifyState)
	upd.Status = summary.Status
	if err := s.store.MarkWatchlistRun(context.WithoutCancel(ctx), w.ID, upd); err != nil {
		return summary, fmt.Errorf("mark watchlist run: %w", err)
	}

	s.logger.Info().
		Int64("watchlist_id", w.ID).
		Int("scanned", summary.Scanned).
		Int("inserted", summary.Inserted).
		Int("updated", summary.Updated).
		Int("deleted", summary.Deleted).
		Int("new_matches", summary.NewMatches).
		Int("redelivered", summary.Redelivered).
		Int("total_matches", summary.TotalMatches).
		Int("scoring_errors", summary.ScoringErrors).
		Bool("first_run", summary.FirstRun).
		Bool("notified", summary.Notified).
		Msg("watchlist matched")

	return summary, nil
}

// Explain scores one notice against one watchlist without writing anything.
func (s *Service) Explain(ctx context.Context, noticeID, watchlistID int64) (scoring.Result, error) {
	w, err := s.store.GetWatchlist(ctx, watchlistID)
	if err != nil {
		return scoring.Result{}, fmt.Errorf("load watchlist %d: %w", watchlistID, err)
	}
	n, err := s.store.GetNotice(ctx, noticeID)
	if err != nil {
		return scoring.Result{}, fmt.Errorf("load notice %d: %w", noticeID, err)
	}
	env, err := s.env(s.now())
	if err != nil {
		return scoring.Result{}, err
	}
	profile, err := s.profileFor(ctx, *w)
	if err != nil {
		return scoring.Result{}, err
	}
	return s.scoreSafely(*n, *w, profile, env)
}

func (s *Service) env(now time.Time) (scoring.Env, error) {
	env := scoring.Env{Now: now, Geo: s.geo}
	if s.crosswalk != nil {
		cw, err := s.crosswalk.Get()
		if err != nil {
			return env, err
		}
		env.Crosswalk = cw
	}
	return env, nil
}

func (s *Service) profileFor(ctx context.Context, w model.Watchlist) (*model.Profile, error) {
	if w.ProfileID == nil {
		return nil, nil
	}
	p, err := s.store.GetProfile(ctx, *w.ProfileID)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			s.logger.Warn().Int64("watchlist_id", w.ID).Int64("profile_id", *w.ProfileID).Msg("watchlist profile not found; scoring without boosts")
			return nil, nil
		}
		return nil, fmt.Errorf("load profile %d: %w", *w.ProfileID, err)
	}
	return p, nil
}

func (s *Service) scanWindowStart(now time.Time) time.Time {
	if s.opts.LookbackDays <= 0 {
		return time.Time{}
	}
	return now.AddDate(0, 0, -s.opts.LookbackDays)
}

func (s *Service) scoreSafely(n model.Notice, w model.Watchlist, p *model.Profile, env scoring.Env) (res scoring.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &scoring.Error{NoticeID: n.ID, WatchlistID: w.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return s.score(n, w, p, env)
}

func (s *Service) publish(ctx context.Context, w model.Watchlist, summary MatchSummary, now time.Time) error {
	if s.notifier == nil {
		return fmt.Errorf("no notifier configured")
	}
	return s.notifier.Publish(ctx, w.NotifyTarget, notify.Digest{
		WatchlistID:   w.ID,
		WatchlistName: w.Name,
		NewMatches:    summary.NewMatches + summary.Redelivered,
		TotalMatches:  summary.TotalMatches,
		Notices:       summary.Notices,
		GeneratedAt:   now,
	})
}

// deliveredCutoff is the new last_notified_at after a digest went out. It
// covers notices first seen while the scan was running so they are not sent
// twice.
func deliveredCutoff(now time.Time, delivered []newHit) time.Time {
	cutoff := now
	for _, h := range delivered {
		if h.newness.After(cutoff) {
			cutoff = h.newness
		}
	}
	return cutoff
}

// digestNotices orders new matches by score, best first, and keeps at most
// limit of them.
func digestNotices(hits []newHit, limit int) []model.NoticeSummary {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].summary.NoticeID < hits[j].summary.NoticeID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]model.NoticeSummary, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.summary)
	}
	return out
}
