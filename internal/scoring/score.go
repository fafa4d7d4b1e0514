// Package scoring computes the relevance of a notice for a watchlist and an
// optional company profile. It performs no I/O.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/geo"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/taxonomy"
)

// Caps and weights.
const (
	MaxScore = 100

	WatchlistFitCap = 70
	ProfileBoostCap = 30

	KeywordTitlePoints       = 12
	KeywordDescriptionPoints = 6
	KeywordCap               = 30

	RegionPoints  = 10
	CountryPoints = 7

	RecencyNoDeadline = 5
	RecencyFar        = 10
	RecencyWeeks      = 7
	RecencyDays       = 4
	RecencyImminent   = 1

	ActivityPoints = 15

	explanationSeparator = " | "
)

type proximityBand struct {
	maxKm  float64
	points int
}

// proximityBands are checked in order; distances at or beyond the last band
// score nothing.
var proximityBands = []proximityBand{
	{maxKm: 30, points: 15},
	{maxKm: 75, points: 12},
	{maxKm: 150, points: 8},
	{maxKm: 300, points: 4},
}

// Env carries the reference data and clock a score depends on. Nil references
// make the dimensions that need them score zero.
type Env struct {
	Now       time.Time
	Geo       *geo.Reference
	Crosswalk *taxonomy.Crosswalk
}

// Breakdown holds every sub-score.
type Breakdown struct {
	Keyword   int `json:"keyword"`
	Category  int `json:"category"`
	Geography int `json:"geography"`
	Recency   int `json:"recency"`
	Proximity int `json:"proximity"`
	Activity  int `json:"activity"`
	Fit       int `json:"fit"`
	Boost     int `json:"boost"`
}

// Result is a score with its explanation.
type Result struct {
	Score       int       `json:"score"`
	Explanation string    `json:"explanation"`
	Breakdown   Breakdown `json:"breakdown"`
}

// Error reports a pair that could not be scored.
type Error struct {
	NoticeID    int64
	WatchlistID int64
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("score notice %d for watchlist %d: %v", e.NoticeID, e.WatchlistID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	errMissingClock = errors.New("scoring clock is not set")
	errBadProfile   = errors.New("profile coordinates are invalid")
)

// Score rates notice n against watchlist w and, when p is non-nil, the
// profile boosts. Identical inputs always produce the identical Result.
func Score(n model.Notice, w model.Watchlist, p *model.Profile, env Env) (Result, error) {
	if env.Now.IsZero() {
		return Result{}, &Error{NoticeID: n.ID, WatchlistID: w.ID, Err: errMissingClock}
	}

	var (
		b     Breakdown
		parts []string
	)

	var part string
	b.Keyword, part = keywordScore(n, w.Keywords)
	parts = appendPart(parts, part)

	b.Category, part = categoryScore(n.CategoryCode, w.CategoryPrefixes)
	parts = appendPart(parts, part)

	b.Geography, part = geographyScore(n, w.RegionPrefixes)
	parts = appendPart(parts, part)

	b.Recency, part = recencyScore(n.Deadline, env.Now)
	parts = appendPart(parts, part)

	b.Fit = min(b.Keyword+b.Category+b.Geography+b.Recency, WatchlistFitCap)

	if p != nil {
		origin, ok, err := profileOrigin(*p, env.Geo)
		if err != nil {
			return Result{}, &Error{NoticeID: n.ID, WatchlistID: w.ID, Err: err}
		}
		if ok {
			b.Proximity, part = proximityScore(origin, n.RegionCodes, env.Geo)
			parts = appendPart(parts, part)
		}

		b.Activity, part = activityScore(n, p.ActivityCodes, env.Crosswalk)
		parts = appendPart(parts, part)

		b.Boost = min(b.Proximity+b.Activity, ProfileBoostCap)
	}

	return Result{
		Score:       clampScore(b.Fit + b.Boost),
		Explanation: strings.Join(parts, explanationSeparator),
		Breakdown:   b,
	}, nil
}

func clampScore(total int) int {
	if total < 0 {
		return 0
	}
	if total > MaxScore {
		return MaxScore
	}
	return total
}

func appendPart(parts []string, part string) []string {
	if part == "" {
		return parts
	}
	return append(parts, part)
}

func keywordScore(n model.Notice, keywords []string) (int, string) {
	normalized := normalizeKeywords(keywords)
	if len(normalized) == 0 {
		return 0, ""
	}

	title := newFoldedText(n.Title)
	description := n.Derived.DescriptionText
	if description == "" {
		description = n.Description
	}
	body := newFoldedText(description)

	total := 0
	hits := make([]string, 0, len(normalized))
	for _, kw := range normalized {
		switch {
		case title.contains(kw):
			total += KeywordTitlePoints
			hits = append(hits, kw+":title")
		case body.contains(kw):
			total += KeywordDescriptionPoints
			hits = append(hits, kw+":description")
		}
	}
	if total == 0 {
		return 0, ""
	}
	total = min(total, KeywordCap)
	return total, fmt.Sprintf("keywords=%d[%s]", total, strings.Join(hits, ","))
}

func categoryScore(code string, prefixes []string) (int, string) {
	match := taxonomy.BestCategoryMatch(code, prefixes)
	if match.Points == 0 {
		return 0, ""
	}
	return match.Points, fmt.Sprintf("category=%d[%s:%s]", match.Points, match.Prefix, match.Level)
}

// geographyScore checks region prefixes first. The country fallback only
// applies to two-letter entries, so a watchlist scoped to a region never earns
// points for the rest of its country.
func geographyScore(n model.Notice, prefixes []string) (int, string) {
	normalized := make([]string, 0, len(prefixes))
	for _, raw := range prefixes {
		if code := geo.NormalizeCode(raw); code != "" {
			normalized = append(normalized, code)
		}
	}
	if len(normalized) == 0 {
		return 0, ""
	}

	for _, raw := range n.RegionCodes {
		region := geo.NormalizeCode(raw)
		if region == "" {
			continue
		}
		for _, prefix := range normalized {
			if strings.HasPrefix(region, prefix) {
				return RegionPoints, fmt.Sprintf("region=%d[%s]", RegionPoints, prefix)
			}
		}
	}

	country := geo.NormalizeCode(n.Country())
	if len(country) != 2 {
		return 0, ""
	}
	for _, prefix := range normalized {
		if prefix == country {
			return CountryPoints, fmt.Sprintf("country=%d[%s]", CountryPoints, country)
		}
	}
	return 0, ""
}

// recencyScore buckets the time left before the deadline. Explanations carry
// the bucket, not the day count, so they only change when the bucket does.
func recencyScore(deadline *time.Time, now time.Time) (int, string) {
	if deadline == nil || deadline.IsZero() {
		return RecencyNoDeadline, fmt.Sprintf("recency=%d[no-deadline]", RecencyNoDeadline)
	}
	days := deadline.Sub(now).Hours() / 24
	switch {
	case days > 14:
		return RecencyFar, fmt.Sprintf("recency=%d[>14d]", RecencyFar)
	case days >= 7:
		return RecencyWeeks, fmt.Sprintf("recency=%d[7-14d]", RecencyWeeks)
	case days >= 3:
		return RecencyDays, fmt.Sprintf("recency=%d[3-6d]", RecencyDays)
	case days >= 0:
		return RecencyImminent, fmt.Sprintf("recency=%d[<3d]", RecencyImminent)
	default:
		return RecencyImminent, fmt.Sprintf("recency=%d[past]", RecencyImminent)
	}
}

// profileOrigin prefers explicit coordinates over the home region centroid.
func profileOrigin(p model.Profile, ref *geo.Reference) (geo.Point, bool, error) {
	switch {
	case p.Latitude != nil && p.Longitude != nil:
		lat, lon := *p.Latitude, *p.Longitude
		if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return geo.Point{}, false, errBadProfile
		}
		return geo.Point{Lat: lat, Lon: lon}, true, nil
	case p.Latitude != nil || p.Longitude != nil:
		return geo.Point{}, false, errBadProfile
	}
	if ref == nil || strings.TrimSpace(p.RegionCode) == "" {
		return geo.Point{}, false, nil
	}
	point, _, ok := ref.Resolve(p.RegionCode)
	return point, ok, nil
}

func proximityScore(origin geo.Point, regions []string, ref *geo.Reference) (int, string) {
	if ref == nil || len(regions) == 0 {
		return 0, ""
	}
	km, code, ok := ref.Nearest(origin, regions)
	if !ok {
		return 0, ""
	}
	for _, band := range proximityBands {
		if km < band.maxKm {
			return band.points, fmt.Sprintf("proximity=%d[%s:%dkm]", band.points, code, int(math.Round(km)))
		}
	}
	return 0, ""
}

func activityScore(n model.Notice, activities []string, cw *taxonomy.Crosswalk) (int, string) {
	if cw == nil || len(activities) == 0 {
		return 0, ""
	}
	division := n.Derived.CategoryDivision
	if division == "" {
		division = taxonomy.Division(n.CategoryCode)
	}
	if division == "" {
		return 0, ""
	}

	sorted := append([]string(nil), activities...)
	sort.Strings(sorted)
	for _, activity := range sorted {
		if cw.MapsTo(activity, division) {
			return ActivityPoints, fmt.Sprintf("activity=%d[%s->%s]", ActivityPoints, taxonomy.NormalizeActivityCode(activity), division)
		}
	}
	return 0, ""
}
