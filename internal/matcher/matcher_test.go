package matcher

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/db"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/notify"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/scoring"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/taxonomy"
)

type stubStore struct {
	mu         sync.Mutex
	notices    []model.Notice
	watchlists map[int64]*model.Watchlist
	profiles   map[int64]*model.Profile
	matches    map[int64]map[int64]model.Match
	plans      int
	applyErr   error
}

func newStubStore(notices ...model.Notice) *stubStore {
	sort.Slice(notices, func(i, j int) bool { return notices[i].ID < notices[j].ID })
	return &stubStore{
		notices:    notices,
		watchlists: map[int64]*model.Watchlist{},
		profiles:   map[int64]*model.Profile{},
		matches:    map[int64]map[int64]model.Match{},
	}
}

func (s *stubStore) ListWatchlists(_ context.Context, enabledOnly bool) ([]model.Watchlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Watchlist
	for _, w := range s.watchlists {
		if enabledOnly && !w.Enabled {
			continue
		}
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubStore) GetWatchlist(_ context.Context, id int64) (*model.Watchlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watchlists[id]
	if !ok {
		return nil, db.ErrNoRows
	}
	cp := *w
	return &cp, nil
}

func (s *stubStore) GetProfile(_ context.Context, id int64) (*model.Profile, error) {
	p, ok := s.profiles[id]
	if !ok {
		return nil, db.ErrNoRows
	}
	return p, nil
}

func (s *stubStore) GetNotice(_ context.Context, id int64) (*model.Notice, error) {
	for _, n := range s.notices {
		if n.ID == id {
			cp := n
			return &cp, nil
		}
	}
	return nil, db.ErrNoRows
}

func (s *stubStore) ScanNotices(_ context.Context, afterID int64, _ time.Time, limit int) ([]model.Notice, error) {
	var out []model.Notice
	for _, n := range s.notices {
		if n.ID > afterID {
			out = append(out, n)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *stubStore) ListWatchlistMatches(_ context.Context, wid int64) (map[int64]model.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]model.Match, len(s.matches[wid]))
	for id, m := range s.matches[wid] {
		out[id] = m
	}
	return out, nil
}

func (s *stubStore) ApplyMatchPlan(_ context.Context, wid int64, plan model.MatchPlan, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return s.applyErr
	}
	s.plans++
	if s.matches[wid] == nil {
		s.matches[wid] = map[int64]model.Match{}
	}
	for _, m := range plan.Insert {
		s.matches[wid][m.NoticeID] = m
	}
	for _, m := range plan.Update {
		s.matches[wid][m.NoticeID] = m
	}
	for _, id := range plan.Delete {
		delete(s.matches[wid], id)
	}
	return nil
}

func (s *stubStore) MarkWatchlistRun(_ context.Context, wid int64, upd db.WatchlistRunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watchlists[wid]
	if !ok {
		return db.ErrNoRows
	}
	refreshed := upd.RefreshedAt
	w.LastRefreshAt = &refreshed
	if upd.NotifiedAt != nil {
		notified := *upd.NotifiedAt
		w.LastNotifiedAt = &notified
	}
	w.LastRunStatus = upd.Status
	return nil
}

type recordingNotifier struct {
	digests  []notify.Digest
	targets  []string
	failNext int
}

func (r *recordingNotifier) Publish(_ context.Context, target string, d notify.Digest) error {
	if r.failNext > 0 {
		r.failNext--
		return errors.New("broker unavailable")
	}
	r.targets = append(r.targets, target)
	r.digests = append(r.digests, d)
	return nil
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func bridgeNotice(id int64, firstSeen time.Time) model.Notice {
	deadline := t0.AddDate(0, 1, 0)
	return model.Notice{
		ID: id,
		NoticeFields: model.NoticeFields{
			Source:       model.SourceANAC,
			SourceID:     "CIG" + string(rune('A'+id)),
			Title:        "Manutenzione ponte comunale",
			CategoryCode: "45221111",
			RegionCodes:  []string{"ITC4C"},
			Deadline:     &deadline,
		},
		FirstSeenAt: firstSeen,
		CreatedAt:   firstSeen,
	}
}

func unrelatedNotice(id int64, firstSeen time.Time) model.Notice {
	n := bridgeNotice(id, firstSeen)
	n.Title = "Fornitura di cancelleria"
	n.CategoryCode = "30192000"
	n.RegionCodes = []string{"FR101"}
	return n
}

func newTestService(t *testing.T, store *stubStore, notifier Notifier, clock *time.Time) *Service {
	t.Helper()
	cache := taxonomy.NewCache(taxonomy.LoadDefault, time.Hour)
	svc := NewService(store, notifier, nil, cache, zerolog.Nop(), Options{MinScore: 25, ScanPageSize: 2})
	svc.now = func() time.Time { return *clock }
	return svc
}

func bridgeWatchlist(id int64) *model.Watchlist {
	return &model.Watchlist{
		ID:               id,
		Name:             "bridges",
		Keywords:         []string{"ponte"},
		CategoryPrefixes: []string{"4522"},
		RegionPrefixes:   []string{"ITC4"},
		NotifyTarget:     "log:ops",
		Enabled:          true,
	}
}

func TestRun_IdempotentOverUnchangedCorpus(t *testing.T) {
	t.Parallel()

	store := newStubStore(
		bridgeNotice(1, t0.Add(-48*time.Hour)),
		bridgeNotice(2, t0.Add(-24*time.Hour)),
		unrelatedNotice(3, t0.Add(-24*time.Hour)),
		bridgeNotice(4, t0.Add(-1*time.Hour)),
	)
	store.watchlists[10] = bridgeWatchlist(10)
	clock := t0
	svc := newTestService(t, store, &recordingNotifier{}, &clock)

	first, err := svc.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if len(first) != 1 || first[0].Inserted != 3 || first[0].TotalMatches != 3 {
		t.Fatalf("first run summary = %+v", first)
	}
	if first[0].Scanned != 4 {
		t.Fatalf("scanned = %d, want 4", first[0].Scanned)
	}

	clock = t0.Add(time.Hour)
	second, err := svc.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	s := second[0]
	if s.Inserted != 0 || s.Updated != 0 || s.Deleted != 0 || s.NewMatches != 0 {
		t.Fatalf("second run summary = %+v", s)
	}
	if s.Unchanged != 3 || s.TotalMatches != 3 {
		t.Fatalf("second run unchanged=%d total=%d", s.Unchanged, s.TotalMatches)
	}
	if store.plans != 1 {
		t.Fatalf("plans applied = %d, want 1", store.plans)
	}
	if got := store.matches[10][1].MatchedAt; !got.Equal(t0) {
		t.Fatalf("matched_at churned to %v", got)
	}
}

func TestRun_FirstRunSuppressesNotificationThenNewNoticeTriggers(t *testing.T) {
	t.Parallel()

	store := newStubStore(bridgeNotice(1, t0.Add(-time.Hour)), bridgeNotice(2, t0.Add(-time.Minute)))
	store.watchlists[10] = bridgeWatchlist(10)
	notifier := &recordingNotifier{}
	clock := t0
	svc := newTestService(t, store, notifier, &clock)

	first, err := svc.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !first[0].FirstRun || first[0].NewMatches != 0 || first[0].Inserted != 2 {
		t.Fatalf("first run summary = %+v", first[0])
	}
	if len(notifier.digests) != 0 {
		t.Fatalf("first run sent %d digests", len(notifier.digests))
	}
	w := store.watchlists[10]
	if w.LastNotifiedAt == nil || !w.LastNotifiedAt.Equal(t0) {
		t.Fatalf("last_notified_at = %v, want %v", w.LastNotifiedAt, t0)
	}

	clock = t0.Add(2 * time.Hour)
	store.notices = append(store.notices, bridgeNotice(5, t0.Add(time.Hour)))

	second, err := svc.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second[0].NewMatches != 1 || !second[0].Notified {
		t.Fatalf("second run summary = %+v", second[0])
	}
	if len(notifier.digests) != 1 || notifier.targets[0] != "log:ops" {
		t.Fatalf("digests = %+v", notifier.digests)
	}
	d := notifier.digests[0]
	if len(d.Notices) != 1 || d.Notices[0].NoticeID != 5 || d.TotalMatches != 3 {
		t.Fatalf("digest = %+v", d)
	}
	if !store.watchlists[10].LastNotifiedAt.Equal(clock) {
		t.Fatalf("last_notified_at not advanced")
	}
}

func TestRun_InsertOfOldNoticeIsNotNew(t *testing.T) {
	t.Parallel()

	store := newStubStore(bridgeNotice(1, t0.Add(-72*time.Hour)))
	w := bridgeWatchlist(10)
	notified := t0.Add(-24 * time.Hour)
	w.LastNotifiedAt = &notified
	store.watchlists[10] = w
	notifier := &recordingNotifier{}
	clock := t0
	svc := newTestService(t, store, notifier, &clock)

	summaries, err := svc.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summaries[0].Inserted != 1 || summaries[0].NewMatches != 0 {
		t.Fatalf("summary = %+v", summaries[0])
	}
	if len(notifier.digests) != 0 {
		t.Fatal("digest sent for a notice older than the cutoff")
	}
}

func TestRun_ScoringErrorIsCountedAndSkipped(t *testing.T) {
	t.Parallel()

	store := newStubStore(bridgeNotice(1, t0), bridgeNotice(2, t0), bridgeNotice(3, t0))
	store.watchlists[10] = bridgeWatchlist(10)
	clock := t0
	svc := newTestService(t, store, nil, &clock)
	svc.score = func(n model.Notice, w model.Watchlist, p *model.Profile, env scoring.Env) (scoring.Result, error) {
		switch n.ID {
		case 2:
			return scoring.Result{}, &scoring.Error{NoticeID: n.ID, WatchlistID: w.ID, Err: errors.New("bad shape")}
		case 3:
			panic("unexpected nil")
		}
		return scoring.Score(n, w, p, env)
	}

	summaries, err := svc.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	s := summaries[0]
	if s.ScoringErrors != 2 || s.Inserted != 1 || s.Scanned != 3 {
		t.Fatalf("summary = %+v", s)
	}
	if !strings.Contains(s.Status, "scoring_errors=2") {
		t.Fatalf("status = %q", s.Status)
	}
}

func TestRun_PrunesMatchesThatFellBelowThreshold(t *testing.T) {
	t.Parallel()

	store := newStubStore(bridgeNotice(1, t0), bridgeNotice(2, t0))
	store.watchlists[10] = bridgeWatchlist(10)
	clock := t0
	svc := newTestService(t, store, nil, &clock)

	if _, err := svc.Run(context.Background(), nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	store.notices[1].Title = "Fornitura arredi"
	store.notices[1].CategoryCode = "39100000"
	store.notices[1].RegionCodes = []string{"FR101"}

	summaries, err := svc.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summaries[0].Deleted != 1 || summaries[0].TotalMatches != 1 {
		t.Fatalf("summary = %+v", summaries[0])
	}
	if _, ok := store.matches[10][2]; ok {
		t.Fatal("stale match was not pruned")
	}
}

func TestRun_ValueRangeFiltersKnownValuesOnly(t *testing.T) {
	t.Parallel()

	cheap, pricey := 10_000.0, 5_000_000.0
	a := bridgeNotice(1, t0)
	a.EstimatedValue = &cheap
	b := bridgeNotice(2, t0)
	b.EstimatedValue = &pricey
	c := bridgeNotice(3, t0)

	store := newStubStore(a, b, c)
	w := bridgeWatchlist(10)
	limit := 1_000_000.0
	w.ValueMax = &limit
	store.watchlists[10] = w
	clock := t0
	svc := newTestService(t, store, nil, &clock)

	if _, err := svc.Run(context.Background(), nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, ok := store.matches[10][2]; ok {
		t.Fatal("notice above value_max matched")
	}
	if len(store.matches[10]) != 2 {
		t.Fatalf("matches = %d, want 2", len(store.matches[10]))
	}
}

func TestRun_ExplicitIDRunsDisabledWatchlist(t *testing.T) {
	t.Parallel()

	store := newStubStore(bridgeNotice(1, t0))
	w := bridgeWatchlist(10)
	w.Enabled = false
	store.watchlists[10] = w
	clock := t0
	svc := newTestService(t, store, nil, &clock)

	all, err := svc.Run(context.Background(), nil)
	if err != nil || len(all) != 0 {
		t.Fatalf("run all = %+v, %v", all, err)
	}

	id := int64(10)
	one, err := svc.Run(context.Background(), &id)
	if err != nil {
		t.Fatalf("run one: %v", err)
	}
	if len(one) != 1 || one[0].Inserted != 1 {
		t.Fatalf("run one = %+v", one)
	}
}

func TestRun_ApplyFailureLeavesTimestampsUntouched(t *testing.T) {
	t.Parallel()

	store := newStubStore(bridgeNotice(1, t0))
	store.watchlists[10] = bridgeWatchlist(10)
	store.applyErr = errors.New("deadlock detected")
	clock := t0
	svc := newTestService(t, store, nil, &clock)

	summaries, err := svc.Run(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(summaries) != 1 || summaries[0].Error == "" {
		t.Fatalf("summaries = %+v", summaries)
	}
	if store.watchlists[10].LastRefreshAt != nil {
		t.Fatal("last_refresh_at moved on a failed run")
	}
}

func TestExplain(t *testing.T) {
	t.Parallel()

	store := newStubStore(bridgeNotice(1, t0))
	store.watchlists[10] = bridgeWatchlist(10)
	clock := t0
	svc := newTestService(t, store, nil, &clock)

	res, err := svc.Explain(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if res.Score < 25 || !strings.HasPrefix(res.Explanation, "keywords=12[ponte:title]") {
		t.Fatalf("result = %+v", res)
	}
	if len(store.matches) != 0 {
		t.Fatal("explain wrote matches")
	}
}

func TestDigestNoticesOrderedAndBounded(t *testing.T) {
	t.Parallel()

	hits := []newHit{
		{summary: model.NoticeSummary{NoticeID: 3}, score: 40},
		{summary: model.NoticeSummary{NoticeID: 1}, score: 80},
		{summary: model.NoticeSummary{NoticeID: 2}, score: 40},
	}
	got := digestNotices(hits, 2)
	if len(got) != 2 || got[0].NoticeID != 1 || got[1].NoticeID != 2 {
		t.Fatalf("digest notices = %+v", got)
	}
}

func TestRun_FailedDigestIsRedeliveredNextRun(t *testing.T) {
	t.Parallel()

	store := newStubStore(bridgeNotice(1, t0.Add(-time.Hour)))
	store.watchlists[10] = bridgeWatchlist(10)
	notifier := &recordingNotifier{}
	clock := t0
	svc := newTestService(t, store, notifier, &clock)

	if _, err := svc.Run(context.Background(), nil); err != nil {
		t.Fatalf("first run: %v", err)
	}

	clock = t0.Add(2 * time.Hour)
	store.notices = append(store.notices, bridgeNotice(5, t0.Add(time.Hour)))
	notifier.failNext = 1
	second, err := svc.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second[0].NewMatches != 1 || second[0].Notified || !strings.Contains(second[0].Status, "notify=failed") {
		t.Fatalf("second run summary = %+v", second[0])
	}
	if !store.watchlists[10].LastNotifiedAt.Equal(t0) {
		t.Fatalf("last_notified_at moved after a failed delivery: %v", store.watchlists[10].LastNotifiedAt)
	}

	clock = t0.Add(3 * time.Hour)
	third, err := svc.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if third[0].NewMatches != 0 || third[0].Redelivered != 1 || !third[0].Notified {
		t.Fatalf("third run summary = %+v", third[0])
	}
	if len(notifier.digests) != 1 || notifier.digests[0].Notices[0].NoticeID != 5 || notifier.digests[0].NewMatches != 1 {
		t.Fatalf("digests = %+v", notifier.digests)
	}

	clock = t0.Add(4 * time.Hour)
	fourth, err := svc.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("fourth run: %v", err)
	}
	if fourth[0].Redelivered != 0 || fourth[0].Notified || len(notifier.digests) != 1 {
		t.Fatalf("delivered notice sent again: %+v", fourth[0])
	}
}

func TestRun_StoredMatchesWithoutTargetAreNotRedelivered(t *testing.T) {
	t.Parallel()

	store := newStubStore(bridgeNotice(1, t0.Add(time.Hour)))
	w := bridgeWatchlist(10)
	w.NotifyTarget = ""
	notified := t0
	w.LastNotifiedAt = &notified
	store.watchlists[10] = w
	clock := t0.Add(2 * time.Hour)
	svc := newTestService(t, store, &recordingNotifier{}, &clock)

	first, err := svc.Run(context.Background(), nil)
	if err != nil || first[0].NewMatches != 1 {
		t.Fatalf("first run = %+v, err=%v", first, err)
	}
	clock = t0.Add(3 * time.Hour)
	second, err := svc.Run(context.Background(), nil)
	if err != nil || second[0].NewMatches != 0 || second[0].Redelivered != 0 {
		t.Fatalf("second run = %+v, err=%v", second, err)
	}
}

func TestDeliveredCutoffCoversNoticesSeenDuringScan(t *testing.T) {
	t.Parallel()

	late := t0.Add(time.Minute)
	got := deliveredCutoff(t0, []newHit{{newness: t0.Add(-time.Hour)}, {newness: late}})
	if !got.Equal(late) {
		t.Fatalf("cutoff = %v, want %v", got, late)
	}
	if got := deliveredCutoff(t0, nil); !got.Equal(t0) {
		t.Fatalf("cutoff = %v, want %v", got, t0)
	}
}
