package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/db"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/matcher"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/scoring"
)

type stubStore struct {
	notices    map[int64]model.Notice
	watchlists map[int64]model.Watchlist
	created    []db.WatchlistInput
	listOpts   db.NoticeListOptions
	pingErr    error
}

func newStubStore() *stubStore {
	return &stubStore{
		notices: map[int64]model.Notice{
			1: {ID: 1, NoticeFields: model.NoticeFields{Source: model.SourceTED, SourceID: "100-2026", Title: "Bridge works", RegionCodes: []string{"DE212"}}},
		},
		watchlists: map[int64]model.Watchlist{
			5: {ID: 5, Name: "bridges", Keywords: []string{"bridge"}, Enabled: true},
		},
	}
}

func (s *stubStore) Ping(context.Context) error { return s.pingErr }

func (s *stubStore) ListNotices(_ context.Context, opts db.NoticeListOptions) ([]model.Notice, error) {
	s.listOpts = opts
	return []model.Notice{s.notices[1]}, nil
}

func (s *stubStore) GetNotice(_ context.Context, id int64) (*model.Notice, error) {
	n, ok := s.notices[id]
	if !ok {
		return nil, db.ErrNoRows
	}
	return &n, nil
}

func (s *stubStore) ListWatchlists(context.Context, bool) ([]model.Watchlist, error) {
	return []model.Watchlist{s.watchlists[5]}, nil
}

func (s *stubStore) GetWatchlist(_ context.Context, id int64) (*model.Watchlist, error) {
	w, ok := s.watchlists[id]
	if !ok {
		return nil, db.ErrNoRows
	}
	return &w, nil
}

func (s *stubStore) CreateWatchlist(_ context.Context, in db.WatchlistInput) (*model.Watchlist, error) {
	for _, w := range s.watchlists {
		if strings.EqualFold(w.Name, in.Name) {
			return nil, db.ErrConflict
		}
	}
	s.created = append(s.created, in)
	return &model.Watchlist{ID: 6, Name: in.Name, Keywords: in.Keywords, Enabled: in.Enabled}, nil
}

func (s *stubStore) UpdateWatchlist(_ context.Context, id int64, in db.WatchlistInput) (*model.Watchlist, error) {
	if _, ok := s.watchlists[id]; !ok {
		return nil, db.ErrNoRows
	}
	return &model.Watchlist{ID: id, Name: in.Name, Enabled: in.Enabled}, nil
}

func (s *stubStore) ListMatchViews(context.Context, int64, int) ([]db.MatchView, error) {
	return []db.MatchView{{
		Match:  model.Match{WatchlistID: 5, NoticeID: 1, MatchedOn: "keywords=12[bridge:title]", Score: 42},
		Notice: model.NoticeSummary{NoticeID: 1, Title: "Bridge works"},
	}}, nil
}

func (s *stubStore) GetProfile(context.Context, int64) (*model.Profile, error) {
	return nil, db.ErrNoRows
}

func (s *stubStore) CreateProfile(_ context.Context, in db.ProfileInput) (*model.Profile, error) {
	return &model.Profile{ID: 3, Name: in.Name, RegionCode: in.RegionCode}, nil
}

func (s *stubStore) ListImportRuns(context.Context, string, int) ([]model.ImportRun, error) {
	return []model.ImportRun{{ID: 9, Source: model.SourceANAC, Status: model.RunStatusCompleted}}, nil
}

func (s *stubStore) QueryCorpusStats(context.Context, time.Time, time.Time, int) (*db.CorpusStats, error) {
	return &db.CorpusStats{Day: "2026-03-01", Total: 1}, nil
}

type stubMatcher struct {
	runs []*int64
}

func (m *stubMatcher) Run(_ context.Context, id *int64) ([]matcher.MatchSummary, error) {
	m.runs = append(m.runs, id)
	if id != nil && *id != 5 {
		return nil, db.ErrNoRows
	}
	return []matcher.MatchSummary{{WatchlistID: 5, TotalMatches: 1}}, nil
}

func (m *stubMatcher) Explain(_ context.Context, noticeID, watchlistID int64) (scoring.Result, error) {
	return scoring.Result{Score: 42, Explanation: "keywords=12[bridge:title]"}, nil
}

func newTestServer(store *stubStore, m *stubMatcher) http.Handler {
	return NewServer(store, m, zerolog.Nop(), Options{}).Handler()
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, jsendResponse) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp jsendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, resp
}

func TestHealth(t *testing.T) {
	t.Parallel()

	rec, resp := doRequest(t, newTestServer(newStubStore(), &stubMatcher{}), http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK || resp.Status != "success" {
		t.Fatalf("health = %d %+v", rec.Code, resp)
	}
}

func TestNoticeList_ValidatesAndPaginates(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	h := newTestServer(store, &stubMatcher{})

	rec, resp := doRequest(t, h, http.MethodGet, "/api/v1/notices?source=nope", "")
	if rec.Code != http.StatusBadRequest || resp.Status != "fail" {
		t.Fatalf("bad source = %d %+v", rec.Code, resp)
	}

	rec, _ = doRequest(t, h, http.MethodGet, "/api/v1/notices?source=TED&country=de&page=3&page_size=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	if store.listOpts.Source != "ted" || store.listOpts.Country != "DE" || store.listOpts.Offset != 20 || store.listOpts.Limit != 10 {
		t.Fatalf("list opts = %+v", store.listOpts)
	}
}

func TestNoticeDetail_NotFound(t *testing.T) {
	t.Parallel()

	rec, resp := doRequest(t, newTestServer(newStubStore(), &stubMatcher{}), http.MethodGet, "/api/v1/notices/99", "")
	if rec.Code != http.StatusNotFound || resp.Status != "fail" {
		t.Fatalf("detail = %d %+v", rec.Code, resp)
	}
}

func TestCreateWatchlist(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		body   string
		status int
		field  string
	}{
		{name: "ok", body: `{"name":"roads","keywords":["asfalto"],"category_prefixes":["4523"],"region_prefixes":["ITC4"],"notify_target":"redis:digests"}`, status: http.StatusCreated},
		{name: "missing name", body: `{"keywords":["x"]}`, status: http.StatusBadRequest, field: "name"},
		{name: "non numeric prefix", body: `{"name":"x","category_prefixes":["45a"]}`, status: http.StatusBadRequest, field: "category_prefixes[0]"},
		{name: "inverted range", body: `{"name":"x","value_min":10,"value_max":5}`, status: http.StatusBadRequest, field: "value_max"},
		{name: "bad target", body: `{"name":"x","notify_target":":nowhere"}`, status: http.StatusBadRequest, field: "notify_target"},
		{name: "duplicate", body: `{"name":"Bridges"}`, status: http.StatusConflict},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec, resp := doRequest(t, newTestServer(newStubStore(), &stubMatcher{}), http.MethodPost, "/api/v1/watchlists", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.status, rec.Body.String())
			}
			if tc.field == "" {
				return
			}
			data, _ := resp.Data.(map[string]any)
			fields, _ := data["validation_errors"].(map[string]any)
			if _, ok := fields[tc.field]; !ok {
				t.Fatalf("validation errors = %v, want field %q", fields, tc.field)
			}
		})
	}
}

func TestCreateWatchlistDefaultsToEnabled(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	rec, _ := doRequest(t, newTestServer(store, &stubMatcher{}), http.MethodPost, "/api/v1/watchlists", `{"name":"roads"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(store.created) != 1 || !store.created[0].Enabled {
		t.Fatalf("created = %+v", store.created)
	}
}

func TestRunWatchlist(t *testing.T) {
	t.Parallel()

	m := &stubMatcher{}
	h := newTestServer(newStubStore(), m)

	rec, _ := doRequest(t, h, http.MethodPost, "/api/v1/watchlists/5/run", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("run = %d", rec.Code)
	}
	rec, _ = doRequest(t, h, http.MethodPost, "/api/v1/watchlists/7/run", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("run missing = %d", rec.Code)
	}
	if len(m.runs) != 2 || *m.runs[0] != 5 {
		t.Fatalf("runs = %v", m.runs)
	}
}

func TestWatchlistMatches(t *testing.T) {
	t.Parallel()

	rec, resp := doRequest(t, newTestServer(newStubStore(), &stubMatcher{}), http.MethodGet, "/api/v1/watchlists/5/matches", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("matches = %d", rec.Code)
	}
	data, _ := resp.Data.(map[string]any)
	items, _ := data["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %v", data["items"])
	}
}

func TestCreateProfileRequiresCoordinatePairs(t *testing.T) {
	t.Parallel()

	h := newTestServer(newStubStore(), &stubMatcher{})
	rec, _ := doRequest(t, h, http.MethodPost, "/api/v1/profiles", `{"name":"Edil Srl","latitude":45.1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	rec, _ = doRequest(t, h, http.MethodPost, "/api/v1/profiles", `{"name":"Edil Srl","region_code":"itc4c","activity_codes":["F41.20"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestNoticeScoreRequiresWatchlist(t *testing.T) {
	t.Parallel()

	h := newTestServer(newStubStore(), &stubMatcher{})
	rec, _ := doRequest(t, h, http.MethodGet, "/api/v1/notices/1/score", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	rec, resp := doRequest(t, h, http.MethodGet, "/api/v1/notices/1/score?watchlist_id=5", "")
	if rec.Code != http.StatusOK || resp.Status != "success" {
		t.Fatalf("score = %d %+v", rec.Code, resp)
	}
}
