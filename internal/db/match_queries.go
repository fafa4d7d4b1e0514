package db

import (
	"context"
	"fmt"
	"time"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
)

// MatchView is a stored match joined with its notice summary.
type MatchView struct {
	Match  model.Match         `json:"match"`
	Notice model.NoticeSummary `json:"notice"`
}

// ListWatchlistMatches returns every stored match for a watchlist keyed by
// notice id.
func (p *Pool) ListWatchlistMatches(ctx context.Context, watchlistID int64) (map[int64]model.Match, error) {
	const q = `
SELECT watchlist_id, notice_id, matched_on, score, matched_at
FROM procurewatch.matches
WHERE watchlist_id = $1
`
	rows, err := p.Query(ctx, q, watchlistID)
	if err != nil {
		return nil, fmt.Errorf("query matches for watchlist %d: %w", watchlistID, err)
	}
	defer rows.Close()

	out := make(map[int64]model.Match, 64)
	for rows.Next() {
		var m model.Match
		if err := rows.Scan(&m.WatchlistID, &m.NoticeID, &m.MatchedOn, &m.Score, &m.MatchedAt); err != nil {
			return nil, fmt.Errorf("scan match row: %w", err)
		}
		out[m.NoticeID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate match rows: %w", err)
	}
	return out, nil
}

// ApplyMatchPlan writes one watchlist's recompute inside a single transaction.
// Inserts that race an existing row fall back to the update path.
func (p *Pool) ApplyMatchPlan(ctx context.Context, watchlistID int64, plan model.MatchPlan, now time.Time) error {
	if plan.Empty() {
		return nil
	}

	const insertQuery = `
INSERT INTO procurewatch.matches (watchlist_id, notice_id, matched_on, score, matched_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (watchlist_id, notice_id) DO UPDATE SET
	matched_on = EXCLUDED.matched_on,
	score = EXCLUDED.score,
	matched_at = EXCLUDED.matched_at
WHERE procurewatch.matches.matched_on IS DISTINCT FROM EXCLUDED.matched_on
`
	const updateQuery = `
UPDATE procurewatch.matches
SET matched_on = $3, score = $4, matched_at = $5
WHERE watchlist_id = $1
  AND notice_id = $2
  AND matched_on IS DISTINCT FROM $3
`
	const deleteQuery = `
DELETE FROM procurewatch.matches
WHERE watchlist_id = $1 AND notice_id = $2
`

	stamp := now.UTC()
	return p.WithTx(ctx, func(tx Tx) error {
		for _, m := range plan.Insert {
			if _, err := tx.Exec(ctx, insertQuery, watchlistID, m.NoticeID, m.MatchedOn, m.Score, stamp); err != nil {
				return fmt.Errorf("insert match %d/%d: %w", watchlistID, m.NoticeID, err)
			}
		}
		for _, m := range plan.Update {
			if _, err := tx.Exec(ctx, updateQuery, watchlistID, m.NoticeID, m.MatchedOn, m.Score, stamp); err != nil {
				return fmt.Errorf("update match %d/%d: %w", watchlistID, m.NoticeID, err)
			}
		}
		for _, noticeID := range plan.Delete {
			if _, err := tx.Exec(ctx, deleteQuery, watchlistID, noticeID); err != nil {
				return fmt.Errorf("delete match %d/%d: %w", watchlistID, noticeID, err)
			}
		}
		return nil
	})
}

// ListMatchViews lists a watchlist's matches, best score first.
func (p *Pool) ListMatchViews(ctx context.Context, watchlistID int64, limit int) ([]MatchView, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	const q = `
SELECT
	m.watchlist_id,
	m.notice_id,
	m.matched_on,
	m.score,
	m.matched_at,
	n.source,
	n.source_id,
	n.title,
	n.category_code,
	n.deadline,
	n.url
FROM procurewatch.matches m
JOIN procurewatch.notices n
	ON n.notice_id = m.notice_id
WHERE m.watchlist_id = $1
ORDER BY m.score DESC, m.notice_id DESC
LIMIT $2
`
	rows, err := p.Query(ctx, q, watchlistID, limit)
	if err != nil {
		return nil, fmt.Errorf("query match views: %w", err)
	}
	defer rows.Close()

	items := make([]MatchView, 0, limit)
	for rows.Next() {
		var (
			row    MatchView
			source string
		)
		if err := rows.Scan(
			&row.Match.WatchlistID,
			&row.Match.NoticeID,
			&row.Match.MatchedOn,
			&row.Match.Score,
			&row.Match.MatchedAt,
			&source,
			&row.Notice.SourceID,
			&row.Notice.Title,
			&row.Notice.CategoryCode,
			&row.Notice.Deadline,
			&row.Notice.URL,
		); err != nil {
			return nil, fmt.Errorf("scan match view row: %w", err)
		}
		row.Notice.NoticeID = row.Match.NoticeID
		row.Notice.Source = model.Source(source)
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate match view rows: %w", err)
	}
	return items, nil
}
