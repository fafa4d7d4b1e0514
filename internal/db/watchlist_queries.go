package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
)

// WatchlistInput carries the user-editable watchlist fields.
type WatchlistInput struct {
	Name             string
	Keywords         []string
	CategoryPrefixes []string
	RegionPrefixes   []string
	ValueMin         *float64
	ValueMax         *float64
	NotifyTarget     string
	ProfileID        *int64
	Enabled          bool
}

const watchlistColumns = `
	w.watchlist_id,
	w.watchlist_uuid::text,
	w.name,
	w.keywords,
	w.category_prefixes,
	w.region_prefixes,
	w.value_min,
	w.value_max,
	w.notify_target,
	w.profile_id,
	w.enabled,
	w.last_refresh_at,
	w.last_notified_at,
	w.last_run_status,
	w.created_at,
	w.updated_at`

func scanWatchlist(row scanner) (model.Watchlist, error) {
	var (
		w                          model.Watchlist
		keywords, cats, regionsRaw []byte
	)
	if err := row.Scan(
		&w.ID,
		&w.UUID,
		&w.Name,
		&keywords,
		&cats,
		&regionsRaw,
		&w.ValueMin,
		&w.ValueMax,
		&w.NotifyTarget,
		&w.ProfileID,
		&w.Enabled,
		&w.LastRefreshAt,
		&w.LastNotifiedAt,
		&w.LastRunStatus,
		&w.CreatedAt,
		&w.UpdatedAt,
	); err != nil {
		return model.Watchlist{}, err
	}

	var err error
	if w.Keywords, err = decodeStrings(keywords); err != nil {
		return model.Watchlist{}, fmt.Errorf("watchlist %d keywords: %w", w.ID, err)
	}
	if w.CategoryPrefixes, err = decodeStrings(cats); err != nil {
		return model.Watchlist{}, fmt.Errorf("watchlist %d category_prefixes: %w", w.ID, err)
	}
	if w.RegionPrefixes, err = decodeStrings(regionsRaw); err != nil {
		return model.Watchlist{}, fmt.Errorf("watchlist %d region_prefixes: %w", w.ID, err)
	}
	return w, nil
}

// ListWatchlists returns watchlists ordered by id.
func (p *Pool) ListWatchlists(ctx context.Context, enabledOnly bool) ([]model.Watchlist, error) {
	q := `
SELECT` + watchlistColumns + `
FROM procurewatch.watchlists w
WHERE (NOT $1 OR w.enabled)
ORDER BY w.watchlist_id
`
	rows, err := p.Query(ctx, q, enabledOnly)
	if err != nil {
		return nil, fmt.Errorf("query watchlists: %w", err)
	}
	defer rows.Close()

	items := make([]model.Watchlist, 0, 16)
	for rows.Next() {
		w, err := scanWatchlist(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watchlist row: %w", err)
		}
		items = append(items, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watchlist rows: %w", err)
	}
	return items, nil
}

// GetWatchlist loads one watchlist; ErrNoRows when absent.
func (p *Pool) GetWatchlist(ctx context.Context, watchlistID int64) (*model.Watchlist, error) {
	q := `
SELECT` + watchlistColumns + `
FROM procurewatch.watchlists w
WHERE w.watchlist_id = $1
`
	w, err := scanWatchlist(p.QueryRow(ctx, q, watchlistID))
	if err != nil {
		if IsNoRows(err) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("query watchlist %d: %w", watchlistID, err)
	}
	return &w, nil
}

// CreateWatchlist inserts a watchlist. A duplicate name returns ErrConflict.
func (p *Pool) CreateWatchlist(ctx context.Context, in WatchlistInput) (*model.Watchlist, error) {
	args, err := watchlistArgs(in)
	if err != nil {
		return nil, err
	}

	q := `
INSERT INTO procurewatch.watchlists AS w (
	name,
	keywords,
	category_prefixes,
	region_prefixes,
	value_min,
	value_max,
	notify_target,
	profile_id,
	enabled
)
VALUES ($1, $2::jsonb, $3::jsonb, $4::jsonb, $5, $6, $7, $8, $9)
RETURNING` + watchlistColumns

	w, err := scanWatchlist(p.QueryRow(ctx, q, args...))
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert watchlist: %w", err)
	}
	return &w, nil
}

// UpdateWatchlist replaces the user-editable fields. Run bookkeeping columns
// are left alone.
func (p *Pool) UpdateWatchlist(ctx context.Context, watchlistID int64, in WatchlistInput) (*model.Watchlist, error) {
	args, err := watchlistArgs(in)
	if err != nil {
		return nil, err
	}

	q := `
UPDATE procurewatch.watchlists AS w
SET
	name = $2,
	keywords = $3::jsonb,
	category_prefixes = $4::jsonb,
	region_prefixes = $5::jsonb,
	value_min = $6,
	value_max = $7,
	notify_target = $8,
	profile_id = $9,
	enabled = $10,
	updated_at = now()
WHERE w.watchlist_id = $1
RETURNING` + watchlistColumns

	w, err := scanWatchlist(p.QueryRow(ctx, q, append([]any{watchlistID}, args...)...))
	if err != nil {
		switch {
		case IsNoRows(err):
			return nil, ErrNoRows
		case IsUniqueViolation(err):
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("update watchlist %d: %w", watchlistID, err)
	}
	return &w, nil
}

// WatchlistRunUpdate is the bookkeeping written after a matcher run.
type WatchlistRunUpdate struct {
	RefreshedAt time.Time
	NotifiedAt  *time.Time
	Status      string
}

// MarkWatchlistRun records a matcher run. last_notified_at only moves when
// NotifiedAt is set.
func (p *Pool) MarkWatchlistRun(ctx context.Context, watchlistID int64, upd WatchlistRunUpdate) error {
	const q = `
UPDATE procurewatch.watchlists
SET
	last_refresh_at = $2,
	last_notified_at = COALESCE($3, last_notified_at),
	last_run_status = $4
WHERE watchlist_id = $1
`
	tag, err := p.Exec(ctx, q, watchlistID, upd.RefreshedAt.UTC(), utcPtr(upd.NotifiedAt), truncate(upd.Status, 240))
	if err != nil {
		return fmt.Errorf("mark watchlist %d run: %w", watchlistID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

func watchlistArgs(in WatchlistInput) ([]any, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("watchlist name is required")
	}
	keywords, err := encodeStrings(in.Keywords)
	if err != nil {
		return nil, err
	}
	cats, err := encodeStrings(in.CategoryPrefixes)
	if err != nil {
		return nil, err
	}
	regions, err := encodeStrings(in.RegionPrefixes)
	if err != nil {
		return nil, err
	}
	return []any{
		name,
		keywords,
		cats,
		regions,
		in.ValueMin,
		in.ValueMax,
		strings.TrimSpace(in.NotifyTarget),
		in.ProfileID,
		in.Enabled,
	}, nil
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
