package db

import (
	"context"
	"fmt"
	"time"
)

// SourceCount stores per-source notice counts.
type SourceCount struct {
	Source      string     `json:"source"`
	Notices     int64      `json:"notices"`
	Enriched    int64      `json:"enriched"`
	LastImport  *time.Time `json:"last_import,omitempty"`
	LastStatus  string     `json:"last_status,omitempty"`
	OpenTenders int64      `json:"open_tenders"`
}

// CorpusThroughput stores daily and pending counters.
type CorpusThroughput struct {
	NoticesFirstSeenToday int64 `json:"notices_first_seen_today"`
	NoticesUpdatedToday   int64 `json:"notices_updated_today"`
	PendingEnrichment     int64 `json:"pending_enrichment"`
	Watchlists            int64 `json:"watchlists"`
	EnabledWatchlists     int64 `json:"enabled_watchlists"`
	Matches               int64 `json:"matches"`
}

// CorpusStats is the read model returned by the stats command and endpoint.
type CorpusStats struct {
	Day        string           `json:"day"`
	Sources    []SourceCount    `json:"sources"`
	Total      int64            `json:"total_notices"`
	Throughput CorpusThroughput `json:"throughput"`
}

// QueryCorpusStats returns per-source counts plus daily throughput.
func (p *Pool) QueryCorpusStats(ctx context.Context, dayStart, dayEnd time.Time, enrichmentVersion int) (*CorpusStats, error) {
	startUTC := dayStart.UTC()
	endUTC := dayEnd.UTC()
	if !startUTC.Before(endUTC) {
		return nil, fmt.Errorf("dayStart must be before dayEnd")
	}

	stats := &CorpusStats{
		Day:     startUTC.Format("2006-01-02"),
		Sources: make([]SourceCount, 0, 4),
	}

	const countsQuery = `
WITH notice_counts AS (
	SELECT
		n.source,
		COUNT(*)::BIGINT AS notices,
		COUNT(*) FILTER (WHERE n.enriched_at IS NOT NULL AND n.enrichment_version >= $2)::BIGINT AS enriched,
		COUNT(*) FILTER (WHERE n.deadline >= $1)::BIGINT AS open_tenders
	FROM procurewatch.notices n
	GROUP BY n.source
),
last_runs AS (
	SELECT DISTINCT ON (r.source)
		r.source,
		r.started_at,
		r.status
	FROM procurewatch.import_runs r
	ORDER BY r.source, r.started_at DESC, r.run_id DESC
)
SELECT
	COALESCE(c.source, r.source) AS source,
	COALESCE(c.notices, 0),
	COALESCE(c.enriched, 0),
	r.started_at,
	COALESCE(r.status, ''),
	COALESCE(c.open_tenders, 0)
FROM notice_counts c
FULL OUTER JOIN last_runs r
	ON r.source = c.source
ORDER BY 1
`
	rows, err := p.Query(ctx, countsQuery, startUTC, enrichmentVersion)
	if err != nil {
		return nil, fmt.Errorf("query stats source counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row SourceCount
		if err := rows.Scan(&row.Source, &row.Notices, &row.Enriched, &row.LastImport, &row.LastStatus, &row.OpenTenders); err != nil {
			return nil, fmt.Errorf("scan stats source row: %w", err)
		}
		stats.Sources = append(stats.Sources, row)
		stats.Total += row.Notices
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats source rows: %w", err)
	}

	const throughputQuery = `
SELECT
	(SELECT COUNT(*) FROM procurewatch.notices n WHERE n.first_seen_at >= $1 AND n.first_seen_at < $2) AS first_seen_today,
	(SELECT COUNT(*) FROM procurewatch.notices n WHERE n.updated_at >= $1 AND n.updated_at < $2 AND n.first_seen_at < $1) AS updated_today,
	(SELECT COUNT(*) FROM procurewatch.notices n WHERE n.enriched_at IS NULL OR n.updated_at > n.enriched_at OR n.enrichment_version < $3) AS pending_enrichment,
	(SELECT COUNT(*) FROM procurewatch.watchlists) AS watchlists,
	(SELECT COUNT(*) FROM procurewatch.watchlists w WHERE w.enabled) AS enabled_watchlists,
	(SELECT COUNT(*) FROM procurewatch.matches) AS matches
`
	if err := p.QueryRow(ctx, throughputQuery, startUTC, endUTC, enrichmentVersion).Scan(
		&stats.Throughput.NoticesFirstSeenToday,
		&stats.Throughput.NoticesUpdatedToday,
		&stats.Throughput.PendingEnrichment,
		&stats.Throughput.Watchlists,
		&stats.Throughput.EnabledWatchlists,
		&stats.Throughput.Matches,
	); err != nil {
		return nil, fmt.Errorf("query stats throughput: %w", err)
	}

	return stats, nil
}
