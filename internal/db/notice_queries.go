package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
)

const noticeColumns = `
	n.notice_id,
	n.notice_uuid::text,
	n.source,
	n.source_id,
	n.title,
	n.description,
	n.category_code,
	n.region_codes,
	n.org_names,
	n.url,
	n.publication_date,
	n.deadline,
	n.estimated_value,
	n.currency,
	n.award_winner,
	n.award_value,
	n.award_date,
	n.tenders_received,
	n.raw_payload,
	n.language,
	n.description_text,
	n.country,
	n.category_division,
	n.payload_fingerprint,
	n.enrichment_version,
	n.enriched_at,
	n.first_seen_at,
	n.last_seen_at,
	n.created_at,
	n.updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanNotice(row scanner) (model.Notice, error) {
	var (
		n          model.Notice
		source     string
		regions    []byte
		orgs       []byte
		rawPayload []byte
	)
	if err := row.Scan(
		&n.ID,
		&n.UUID,
		&source,
		&n.SourceID,
		&n.Title,
		&n.Description,
		&n.CategoryCode,
		&regions,
		&orgs,
		&n.URL,
		&n.PublicationDate,
		&n.Deadline,
		&n.EstimatedValue,
		&n.Currency,
		&n.AwardWinner,
		&n.AwardValue,
		&n.AwardDate,
		&n.TendersReceived,
		&rawPayload,
		&n.Derived.Language,
		&n.Derived.DescriptionText,
		&n.Derived.Country,
		&n.Derived.CategoryDivision,
		&n.Derived.PayloadFingerprint,
		&n.Derived.Version,
		&n.Derived.EnrichedAt,
		&n.FirstSeenAt,
		&n.LastSeenAt,
		&n.CreatedAt,
		&n.UpdatedAt,
	); err != nil {
		return model.Notice{}, err
	}
	n.Source = model.Source(source)

	var err error
	if n.RegionCodes, err = decodeStrings(regions); err != nil {
		return model.Notice{}, fmt.Errorf("notice %d region_codes: %w", n.ID, err)
	}
	if n.OrgNames, err = decodeStringMap(orgs); err != nil {
		return model.Notice{}, fmt.Errorf("notice %d org_names: %w", n.ID, err)
	}
	if len(rawPayload) > 0 {
		n.RawPayload = append([]byte(nil), rawPayload...)
	}
	return n, nil
}

// UpsertResult reports what UpsertNotice did to one row.
type UpsertResult struct {
	NoticeID int64
	Inserted bool
}

// UpsertNotice inserts or refreshes one notice keyed by (source, source_id).
// notice_id, first_seen_at, created_at and every derived column survive the
// update; last_seen_at and updated_at move to now.
func (p *Pool) UpsertNotice(ctx context.Context, fields model.NoticeFields, now time.Time) (UpsertResult, error) {
	source := strings.TrimSpace(string(fields.Source))
	sourceID := strings.TrimSpace(fields.SourceID)
	if source == "" || sourceID == "" {
		return UpsertResult{}, fmt.Errorf("source and source_id are required")
	}

	regions, err := encodeStrings(fields.RegionCodes)
	if err != nil {
		return UpsertResult{}, err
	}
	orgs, err := encodeStringMap(fields.OrgNames)
	if err != nil {
		return UpsertResult{}, err
	}

	const q = `
INSERT INTO procurewatch.notices (
	source,
	source_id,
	title,
	description,
	category_code,
	region_codes,
	org_names,
	url,
	publication_date,
	deadline,
	estimated_value,
	currency,
	award_winner,
	award_value,
	award_date,
	tenders_received,
	raw_payload,
	first_seen_at,
	last_seen_at,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17::jsonb, $18, $18, $18, $18)
ON CONFLICT (source, source_id) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	category_code = EXCLUDED.category_code,
	region_codes = EXCLUDED.region_codes,
	org_names = EXCLUDED.org_names,
	url = EXCLUDED.url,
	publication_date = EXCLUDED.publication_date,
	deadline = EXCLUDED.deadline,
	estimated_value = EXCLUDED.estimated_value,
	currency = EXCLUDED.currency,
	award_winner = EXCLUDED.award_winner,
	award_value = EXCLUDED.award_value,
	award_date = EXCLUDED.award_date,
	tenders_received = EXCLUDED.tenders_received,
	raw_payload = EXCLUDED.raw_payload,
	last_seen_at = EXCLUDED.last_seen_at,
	updated_at = EXCLUDED.updated_at
RETURNING notice_id, (xmax = 0) AS inserted
`

	var out UpsertResult
	if err := p.QueryRow(ctx, q,
		source,
		sourceID,
		strings.TrimSpace(fields.Title),
		fields.Description,
		fields.CategoryCode,
		regions,
		orgs,
		strings.TrimSpace(fields.URL),
		utcPtr(fields.PublicationDate),
		utcPtr(fields.Deadline),
		fields.EstimatedValue,
		strings.ToUpper(strings.TrimSpace(fields.Currency)),
		strings.TrimSpace(fields.AwardWinner),
		fields.AwardValue,
		utcPtr(fields.AwardDate),
		fields.TendersReceived,
		nullableJSON(fields.RawPayload),
		now.UTC(),
	).Scan(&out.NoticeID, &out.Inserted); err != nil {
		return UpsertResult{}, fmt.Errorf("upsert notice %s/%s: %w", source, sourceID, err)
	}
	return out, nil
}

// ScanNotices returns up to limit notices with notice_id > afterID, ordered by
// id, published (or first seen) on or after since. A zero since disables the
// window.
func (p *Pool) ScanNotices(ctx context.Context, afterID int64, since time.Time, limit int) ([]model.Notice, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	q := `
SELECT` + noticeColumns + `
FROM procurewatch.notices n
WHERE n.notice_id > $1
  AND ($2::timestamptz IS NULL OR COALESCE(n.publication_date, n.first_seen_at) >= $2::timestamptz)
ORDER BY n.notice_id
LIMIT $3
`
	var sinceArg *time.Time
	if !since.IsZero() {
		s := since.UTC()
		sinceArg = &s
	}
	return p.queryNotices(ctx, q, afterID, sinceArg, limit)
}

// NoticeListOptions filters the notice listing.
type NoticeListOptions struct {
	Source   string
	Country  string
	Division string
	Search   string
	Limit    int
	Offset   int
}

// ListNotices lists notices newest first.
func (p *Pool) ListNotices(ctx context.Context, opts NoticeListOptions) ([]model.Notice, error) {
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	if opts.Offset < 0 {
		return nil, fmt.Errorf("offset must be >= 0")
	}

	q := `
SELECT` + noticeColumns + `
FROM procurewatch.notices n
WHERE ($1 = '' OR n.source = $1)
  AND ($2 = '' OR n.country = $2)
  AND ($3 = '' OR n.category_division = $3)
  AND ($4 = '' OR n.title ILIKE '%' || $4 || '%' OR n.description_text ILIKE '%' || $4 || '%')
ORDER BY COALESCE(n.publication_date, n.first_seen_at) DESC, n.notice_id DESC
LIMIT $5 OFFSET $6
`
	return p.queryNotices(ctx, q,
		strings.ToLower(strings.TrimSpace(opts.Source)),
		strings.ToUpper(strings.TrimSpace(opts.Country)),
		strings.TrimSpace(opts.Division),
		strings.TrimSpace(opts.Search),
		opts.Limit,
		opts.Offset,
	)
}

// GetNotice loads one notice by id.
func (p *Pool) GetNotice(ctx context.Context, noticeID int64) (*model.Notice, error) {
	q := `
SELECT` + noticeColumns + `
FROM procurewatch.notices n
WHERE n.notice_id = $1
`
	n, err := scanNotice(p.QueryRow(ctx, q, noticeID))
	if err != nil {
		if IsNoRows(err) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("query notice %d: %w", noticeID, err)
	}
	return &n, nil
}

// StaleNoticeOptions selects notices needing enrichment.
type StaleNoticeOptions struct {
	AfterID int64
	Version int
	Source  string
	Force   bool
	Limit   int
}

// ListStaleNotices returns notices whose derived fields are missing, older
// than the core row, or produced by an older enrichment version. A re-seen
// notice is listed even when its payload is unchanged; the caller compares
// payload_fingerprint to skip the derivation.
func (p *Pool) ListStaleNotices(ctx context.Context, opts StaleNoticeOptions) ([]model.Notice, error) {
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	q := `
SELECT` + noticeColumns + `
FROM procurewatch.notices n
WHERE n.notice_id > $1
  AND ($2 = '' OR n.source = $2)
  AND (
	$3
	OR n.enriched_at IS NULL
	OR n.updated_at > n.enriched_at
	OR n.enrichment_version < $4
  )
ORDER BY n.notice_id
LIMIT $5
`
	return p.queryNotices(ctx, q, opts.AfterID, strings.TrimSpace(opts.Source), opts.Force, opts.Version, opts.Limit)
}

// DerivedUpdate is one enrichment write.
type DerivedUpdate struct {
	NoticeID int64
	Derived  model.Derived
}

// UpdateDerivedBatch writes one batch of derived fields in a single
// transaction and returns the number of rows whose derived values changed.
// Rows written with identical values only have enriched_at moved forward.
func (p *Pool) UpdateDerivedBatch(ctx context.Context, updates []DerivedUpdate, now time.Time) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	const q = `
UPDATE procurewatch.notices
SET
	language = $2,
	description_text = $3,
	country = $4,
	category_division = $5,
	payload_fingerprint = $6,
	enrichment_version = $7,
	enriched_at = $8
WHERE notice_id = $1
  AND (language, description_text, country, category_division, payload_fingerprint, enrichment_version)
	IS DISTINCT FROM ($2::text, $3::text, $4::text, $5::text, $6::text, $7::integer)
`
	const touch = `
UPDATE procurewatch.notices
SET enriched_at = $2
WHERE notice_id = $1
`

	changed := 0
	err := p.WithTx(ctx, func(tx Tx) error {
		for _, u := range updates {
			tag, err := tx.Exec(ctx, q,
				u.NoticeID,
				u.Derived.Language,
				u.Derived.DescriptionText,
				u.Derived.Country,
				u.Derived.CategoryDivision,
				u.Derived.PayloadFingerprint,
				u.Derived.Version,
				now.UTC(),
			)
			if err != nil {
				return fmt.Errorf("update derived fields for notice %d: %w", u.NoticeID, err)
			}
			if tag.RowsAffected() > 0 {
				changed++
				continue
			}
			if _, err := tx.Exec(ctx, touch, u.NoticeID, now.UTC()); err != nil {
				return fmt.Errorf("touch enriched_at for notice %d: %w", u.NoticeID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// RefreshNoticeSearch refreshes the notice_search materialized view. The first
// refresh cannot run concurrently because the view starts unpopulated.
func (p *Pool) RefreshNoticeSearch(ctx context.Context) error {
	const populatedQuery = `
SELECT c.relispopulated
FROM pg_class c
JOIN pg_namespace ns ON ns.oid = c.relnamespace
WHERE ns.nspname = 'procurewatch' AND c.relname = 'notice_search'
`
	var populated bool
	if err := p.QueryRow(ctx, populatedQuery).Scan(&populated); err != nil {
		return fmt.Errorf("inspect notice_search: %w", err)
	}

	stmt := `REFRESH MATERIALIZED VIEW CONCURRENTLY procurewatch.notice_search`
	if !populated {
		stmt = `REFRESH MATERIALIZED VIEW procurewatch.notice_search`
	}
	if _, err := p.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("refresh notice_search: %w", err)
	}
	return nil
}

func (p *Pool) queryNotices(ctx context.Context, q string, args ...any) ([]model.Notice, error) {
	rows, err := p.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query notices: %w", err)
	}
	defer rows.Close()

	items := make([]model.Notice, 0, 64)
	for rows.Next() {
		n, err := scanNotice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notice row: %w", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notice rows: %w", err)
	}
	return items, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
