package scoring

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/geo"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/taxonomy"
)

var scoringNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testEnv(t *testing.T) Env {
	t.Helper()
	ref, err := geo.Load(strings.NewReader(`
centroids:
  - {code: IT, name: Italia, lat: 42.5, lon: 12.5}
  - {code: ITC4, name: Lombardia, lat: 45.6, lon: 9.8}
  - {code: ITC4C, name: Milano, lat: 45.46, lon: 9.19}
  - {code: ITC4B, name: Bergamo, lat: 45.69, lon: 9.67}
  - {code: ITI43, name: Roma, lat: 41.9, lon: 12.5}
`))
	if err != nil {
		t.Fatalf("load geo: %v", err)
	}
	cw, err := taxonomy.Load(strings.NewReader(`
divisions:
  "45": Construction work
  "72": IT services
activities:
  "4120": ["45"]
  "62": ["72"]
`))
	if err != nil {
		t.Fatalf("load crosswalk: %v", err)
	}
	return Env{Now: scoringNow, Geo: ref, Crosswalk: cw}
}

func daysFromNow(days float64) *time.Time {
	ts := scoringNow.Add(time.Duration(days * float64(24*time.Hour)))
	return &ts
}

func baseNotice() model.Notice {
	return model.Notice{
		ID: 7,
		NoticeFields: model.NoticeFields{
			Source:       model.SourceANAC,
			SourceID:     "ZA1",
			Title:        "Manutenzione straordinaria ponte sul fiume",
			Description:  "Lavori di consolidamento strutturale e rifacimento impalcato",
			CategoryCode: "45221111",
			RegionCodes:  []string{"ITC4C"},
			Deadline:     daysFromNow(20),
		},
	}
}

func TestScore_Deterministic(t *testing.T) {
	t.Parallel()

	env := testEnv(t)
	lat, lon := 45.47, 9.2
	profile := &model.Profile{ID: 1, Latitude: &lat, Longitude: &lon, ActivityCodes: []string{"F41.20"}}
	w := model.Watchlist{
		ID:               3,
		Keywords:         []string{"ponte", "Impalcato", "PONTE"},
		CategoryPrefixes: []string{"4522"},
		RegionPrefixes:   []string{"ITC4"},
	}

	first, err := Score(baseNotice(), w, profile, env)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := Score(baseNotice(), w, profile, env)
		if err != nil {
			t.Fatalf("score #%d: %v", i, err)
		}
		if again.Score != first.Score || again.Explanation != first.Explanation {
			t.Fatalf("score #%d = (%d, %q), want (%d, %q)", i, again.Score, again.Explanation, first.Score, first.Explanation)
		}
	}

	want := "keywords=18[impalcato:description,ponte:title] | category=15[4522:class] | region=10[ITC4] | recency=10[>14d] | proximity=15[ITC4C:1km] | activity=15[4120->45]"
	if first.Explanation != want {
		t.Fatalf("explanation = %q, want %q", first.Explanation, want)
	}
	if first.Score != 18+15+10+10+15+15 {
		t.Fatalf("score = %d, want 83", first.Score)
	}
}

func TestScore_CategoryBoundaries(t *testing.T) {
	t.Parallel()

	env := testEnv(t)
	cases := []struct {
		name   string
		prefix string
		want   int
	}{
		{name: "full code", prefix: "45221111", want: 20},
		{name: "class", prefix: "4522", want: 15},
		{name: "group only", prefix: "452", want: 12},
		{name: "division only", prefix: "45", want: 8},
		{name: "one digit", prefix: "4", want: 8},
		{name: "no overlap", prefix: "72", want: 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res, err := Score(baseNotice(), model.Watchlist{CategoryPrefixes: []string{tc.prefix}}, nil, env)
			if err != nil {
				t.Fatalf("score: %v", err)
			}
			if res.Breakdown.Category != tc.want {
				t.Fatalf("category = %d, want %d", res.Breakdown.Category, tc.want)
			}
		})
	}
}

func TestScore_CategoryUsesBestPrefix(t *testing.T) {
	t.Parallel()

	res, err := Score(baseNotice(), model.Watchlist{CategoryPrefixes: []string{"45", "72", "45221111", "452"}}, nil, testEnv(t))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.Breakdown.Category != 20 {
		t.Fatalf("category = %d, want 20 (max, not sum)", res.Breakdown.Category)
	}
}

func TestScore_KeywordCap(t *testing.T) {
	t.Parallel()

	n := baseNotice()
	n.Title = "Ponte strada galleria viadotto svincolo"
	w := model.Watchlist{Keywords: []string{"ponte", "strada", "galleria", "viadotto", "svincolo"}}

	res, err := Score(n, w, nil, testEnv(t))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.Breakdown.Keyword != KeywordCap {
		t.Fatalf("keyword = %d, want %d", res.Breakdown.Keyword, KeywordCap)
	}
}

func TestScore_KeywordTokenBoundaryAndFolding(t *testing.T) {
	t.Parallel()

	n := baseNotice()
	n.Title = "Riqualificazione della Città Metropolitana"
	n.Description = "Noleggio di ponteggi e trabattelli"

	res, err := Score(n, model.Watchlist{Keywords: []string{"citta metropolitana", "ponte"}}, nil, testEnv(t))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.Breakdown.Keyword != KeywordTitlePoints {
		t.Fatalf("keyword = %d, want %d", res.Breakdown.Keyword, KeywordTitlePoints)
	}
	if !strings.Contains(res.Explanation, "citta metropolitana:title") {
		t.Fatalf("explanation %q missing folded keyword", res.Explanation)
	}
}

func TestScore_PrefersDerivedDescription(t *testing.T) {
	t.Parallel()

	n := baseNotice()
	n.Title = "Lavori"
	n.Description = "<p>ignored</p>"
	n.Derived.DescriptionText = "Rifacimento della pavimentazione"

	res, err := Score(n, model.Watchlist{Keywords: []string{"pavimentazione"}}, nil, testEnv(t))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.Breakdown.Keyword != KeywordDescriptionPoints {
		t.Fatalf("keyword = %d, want %d", res.Breakdown.Keyword, KeywordDescriptionPoints)
	}
}

func TestScore_RecencyBuckets(t *testing.T) {
	t.Parallel()

	env := testEnv(t)
	cases := []struct {
		name     string
		deadline *time.Time
		want     int
	}{
		{name: "no deadline", deadline: nil, want: RecencyNoDeadline},
		{name: "just over 14 days", deadline: daysFromNow(14 + 1.0/1440), want: RecencyFar},
		{name: "exactly 14 days", deadline: daysFromNow(14), want: RecencyWeeks},
		{name: "7 days", deadline: daysFromNow(7), want: RecencyWeeks},
		{name: "6 days", deadline: daysFromNow(6), want: RecencyDays},
		{name: "3 days", deadline: daysFromNow(3), want: RecencyDays},
		{name: "2 days", deadline: daysFromNow(2), want: RecencyImminent},
		{name: "past", deadline: daysFromNow(-4), want: RecencyImminent},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			n := baseNotice()
			n.Deadline = tc.deadline
			res, err := Score(n, model.Watchlist{}, nil, env)
			if err != nil {
				t.Fatalf("score: %v", err)
			}
			if res.Breakdown.Recency != tc.want {
				t.Fatalf("recency = %d, want %d", res.Breakdown.Recency, tc.want)
			}
		})
	}
}

func TestScore_EmptyWatchlistScoresOnlyRecency(t *testing.T) {
	t.Parallel()

	res, err := Score(baseNotice(), model.Watchlist{ID: 9}, nil, testEnv(t))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.Score != RecencyFar {
		t.Fatalf("score = %d, want %d", res.Score, RecencyFar)
	}
	if res.Explanation != "recency=10[>14d]" {
		t.Fatalf("explanation = %q", res.Explanation)
	}
}

func TestScore_Geography(t *testing.T) {
	t.Parallel()

	env := testEnv(t)
	cases := []struct {
		name     string
		regions  []string
		country  string
		prefixes []string
		want     int
	}{
		{name: "region prefix", regions: []string{"ITC4C"}, prefixes: []string{"itc4"}, want: RegionPoints},
		{name: "country entry as prefix", regions: []string{"ITI43"}, prefixes: []string{"it"}, want: RegionPoints},
		{name: "country fallback", regions: nil, country: "IT", prefixes: []string{"ITC4", "IT"}, want: CountryPoints},
		{name: "region entry is not a country", regions: []string{"ITI43"}, prefixes: []string{"ITC4"}, want: 0},
		{name: "region entry without notice regions", regions: nil, country: "IT", prefixes: []string{"ITC4"}, want: 0},
		{name: "other country", regions: []string{"FR101"}, prefixes: []string{"ITC4"}, want: 0},
		{name: "no regions on notice", regions: nil, prefixes: []string{"ITC4"}, want: 0},
		{name: "malformed region", regions: []string{"?"}, prefixes: []string{"ITC4"}, want: 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			n := baseNotice()
			n.RegionCodes = tc.regions
			n.Derived.Country = tc.country
			res, err := Score(n, model.Watchlist{RegionPrefixes: tc.prefixes}, nil, env)
			if err != nil {
				t.Fatalf("score: %v", err)
			}
			if res.Breakdown.Geography != tc.want {
				t.Fatalf("geography = %d, want %d", res.Breakdown.Geography, tc.want)
			}
		})
	}
}

func TestScore_MalformedCategoryContributesZero(t *testing.T) {
	t.Parallel()

	n := baseNotice()
	n.CategoryCode = "n/a"

	res, err := Score(n, model.Watchlist{CategoryPrefixes: []string{"45"}}, &model.Profile{ActivityCodes: []string{"4120"}}, testEnv(t))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.Breakdown.Category != 0 || res.Breakdown.Activity != 0 {
		t.Fatalf("breakdown = %+v, want zero category and activity", res.Breakdown)
	}
}

func TestScore_ProximityBands(t *testing.T) {
	t.Parallel()

	env := testEnv(t)
	cases := []struct {
		name   string
		region string
		want   int
	}{
		{name: "same city", region: "ITC4C", want: 15},
		{name: "nearby province", region: "ITC4B", want: 12},
		{name: "far away", region: "ITI43", want: 0},
		{name: "parent fallback", region: "ITC4C99", want: 15},
		{name: "unresolvable", region: "ZZ1", want: 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			n := baseNotice()
			n.RegionCodes = []string{tc.region}
			res, err := Score(n, model.Watchlist{}, &model.Profile{RegionCode: "ITC4C"}, env)
			if err != nil {
				t.Fatalf("score: %v", err)
			}
			if res.Breakdown.Proximity != tc.want {
				t.Fatalf("proximity = %d, want %d", res.Breakdown.Proximity, tc.want)
			}
		})
	}
}

func TestScore_ProfileBoostRequiresProfile(t *testing.T) {
	t.Parallel()

	res, err := Score(baseNotice(), model.Watchlist{}, nil, testEnv(t))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.Breakdown.Boost != 0 {
		t.Fatalf("boost = %d without profile", res.Breakdown.Boost)
	}
}

func TestScore_InvalidProfileIsScoringError(t *testing.T) {
	t.Parallel()

	lat := math.NaN()
	lon := 9.0
	_, err := Score(baseNotice(), model.Watchlist{ID: 4}, &model.Profile{Latitude: &lat, Longitude: &lon}, testEnv(t))

	var scoreErr *Error
	if !errors.As(err, &scoreErr) {
		t.Fatalf("error = %v, want *scoring.Error", err)
	}
	if scoreErr.NoticeID != 7 || scoreErr.WatchlistID != 4 {
		t.Fatalf("error ids = %d/%d", scoreErr.NoticeID, scoreErr.WatchlistID)
	}
	if !errors.Is(err, errBadProfile) {
		t.Fatalf("error = %v, want errBadProfile", err)
	}
}

func TestScore_MissingClock(t *testing.T) {
	t.Parallel()

	if _, err := Score(baseNotice(), model.Watchlist{}, nil, Env{}); !errors.Is(err, errMissingClock) {
		t.Fatalf("error = %v, want errMissingClock", err)
	}
}

func TestClampScore(t *testing.T) {
	t.Parallel()

	cases := map[int]int{-5: 0, 0: 0, 55: 55, 100: 100, 101: 100, 160: 100}
	for in, want := range cases {
		if got := clampScore(in); got != want {
			t.Fatalf("clampScore(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestScore_NeverExceedsMax(t *testing.T) {
	t.Parallel()

	n := baseNotice()
	n.Title = "ponte strada galleria"
	lat, lon := 45.46, 9.19
	w := model.Watchlist{
		Keywords:         []string{"ponte", "strada", "galleria"},
		CategoryPrefixes: []string{"45221111"},
		RegionPrefixes:   []string{"ITC4C"},
	}
	res, err := Score(n, w, &model.Profile{Latitude: &lat, Longitude: &lon, ActivityCodes: []string{"4120"}}, testEnv(t))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.Score != MaxScore {
		t.Fatalf("score = %d, want %d", res.Score, MaxScore)
	}
}

func TestFold(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Città-Metropolitana":  "citta metropolitana",
		"  ÉCOLE   publique ": "ecole publique",
		"Straße":               "straße",
		"":                     "",
		"--":                   "",
	}
	for in, want := range cases {
		if got := Fold(in); got != want {
			t.Fatalf("Fold(%q) = %q, want %q", in, got, want)
		}
	}
}
