// Package model holds the domain records shared by ingestion, enrichment,
// scoring and matching.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Source identifies one upstream procurement system.
type Source string

const (
	SourceTED   Source = "ted"
	SourceANAC  Source = "anac"
	SourceBOAMP Source = "boamp"
)

// Sources lists every supported upstream system in a stable order.
func Sources() []Source {
	return []Source{SourceTED, SourceANAC, SourceBOAMP}
}

// ParseSource validates a source name.
func ParseSource(raw string) (Source, error) {
	candidate := Source(strings.ToLower(strings.TrimSpace(raw)))
	for _, s := range Sources() {
		if s == candidate {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown source %q", raw)
}

// NoticeFields is the normalized output of a per-source mapping function. The
// ingestion pipeline is its only consumer.
type NoticeFields struct {
	Source          Source
	SourceID        string
	Title           string
	Description     string
	CategoryCode    string
	RegionCodes     []string
	OrgNames        map[string]string
	URL             string
	PublicationDate *time.Time
	Deadline        *time.Time
	EstimatedValue  *float64
	Currency        string
	AwardWinner     string
	AwardValue      *float64
	AwardDate       *time.Time
	TendersReceived *int
	RawPayload      json.RawMessage
}

// Derived holds the fields written only by enrichment.
type Derived struct {
	Language           string
	DescriptionText    string
	Country            string
	CategoryDivision   string
	PayloadFingerprint string
	Version            int
	EnrichedAt         *time.Time
}

// Notice is one canonical procurement notice keyed by (Source, SourceID).
type Notice struct {
	ID   int64
	UUID string
	NoticeFields
	Derived     Derived
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Country returns the two-letter country prefix of the first region code, or
// the enrichment value when it has already been derived.
func (n Notice) Country() string {
	if n.Derived.Country != "" {
		return n.Derived.Country
	}
	for _, code := range n.RegionCodes {
		if len(code) >= 2 {
			return strings.ToUpper(code[:2])
		}
	}
	return ""
}

// NewnessTime is the timestamp compared against a watchlist cutoff when deciding
// whether a match is new. first_seen_at is canonical; created_at is the fallback
// for rows that predate it.
func (n Notice) NewnessTime() time.Time {
	if !n.FirstSeenAt.IsZero() {
		return n.FirstSeenAt
	}
	return n.CreatedAt
}

// Watchlist is a saved set of match criteria.
type Watchlist struct {
	ID               int64
	UUID             string
	Name             string
	Keywords         []string
	CategoryPrefixes []string
	RegionPrefixes   []string
	ValueMin         *float64
	ValueMax         *float64
	NotifyTarget     string
	ProfileID        *int64
	Enabled          bool
	LastRefreshAt    *time.Time
	LastNotifiedAt   *time.Time
	LastRunStatus    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NotifyCutoff returns the instant after which a notice counts as new for this
// watchlist, and false when the watchlist has never run.
func (w Watchlist) NotifyCutoff() (time.Time, bool) {
	if w.LastNotifiedAt != nil {
		return *w.LastNotifiedAt, true
	}
	if w.LastRefreshAt != nil {
		return *w.LastRefreshAt, true
	}
	return time.Time{}, false
}

// AcceptsValue reports whether an estimated value fits the configured range.
// Unknown values always pass.
func (w Watchlist) AcceptsValue(value *float64) bool {
	if value == nil {
		return true
	}
	if w.ValueMin != nil && *value < *w.ValueMin {
		return false
	}
	if w.ValueMax != nil && *value > *w.ValueMax {
		return false
	}
	return true
}

// Profile describes the company a watchlist is evaluated for.
type Profile struct {
	ID            int64
	Name          string
	RegionCode    string
	Latitude      *float64
	Longitude     *float64
	ActivityCodes []string
}

// Match is a stored (watchlist, notice) pair.
type Match struct {
	WatchlistID int64
	NoticeID    int64
	MatchedOn   string
	Score       int
	MatchedAt   time.Time
}

// ImportRun statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusAborted   = "aborted"
	RunStatusFailed    = "failed"
)

// RunError is one recorded failure inside an import run.
type RunError struct {
	Page    int    `json:"page,omitempty"`
	Message string `json:"message"`
}

// ImportRun is the append-only audit record for one ingestion invocation.
type ImportRun struct {
	ID           int64
	Source       Source
	Query        string
	Status       string
	StartedAt    time.Time
	CompletedAt  *time.Time
	Created      int
	Updated      int
	ErrorCount   int
	PagesFetched int
	StopReason   string
	Errors       []RunError
}

// MatchPlan is the full set of writes for one watchlist recompute. It is
// applied atomically so readers never observe a partial state.
type MatchPlan struct {
	Insert []Match
	Update []Match
	Delete []int64
}

// Empty reports whether the plan carries no writes.
func (p MatchPlan) Empty() bool {
	return len(p.Insert) == 0 && len(p.Update) == 0 && len(p.Delete) == 0
}

// NoticeSummary is the compact notice projection handed to notification
// collaborators and listed next to matches.
type NoticeSummary struct {
	NoticeID     int64      `json:"notice_id"`
	Source       Source     `json:"source"`
	SourceID     string     `json:"source_id"`
	Title        string     `json:"title"`
	CategoryCode string     `json:"category_code,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	URL          string     `json:"url,omitempty"`
}

// Summary projects a notice onto its compact form.
func (n Notice) Summary() NoticeSummary {
	return NoticeSummary{
		NoticeID:     n.ID,
		Source:       n.Source,
		SourceID:     n.SourceID,
		Title:        n.Title,
		CategoryCode: n.CategoryCode,
		Deadline:     n.Deadline,
		URL:          n.URL,
	}
}
