package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/db"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
)

type noticeItem struct {
	NoticeID        int64             `json:"notice_id"`
	NoticeUUID      string            `json:"notice_uuid"`
	Source          model.Source      `json:"source"`
	SourceID        string            `json:"source_id"`
	Title           string            `json:"title"`
	CategoryCode    string            `json:"category_code,omitempty"`
	RegionCodes     []string          `json:"region_codes"`
	OrgNames        map[string]string `json:"org_names,omitempty"`
	URL             string            `json:"url,omitempty"`
	PublicationDate *time.Time        `json:"publication_date,omitempty"`
	Deadline        *time.Time        `json:"deadline,omitempty"`
	EstimatedValue  *float64          `json:"estimated_value,omitempty"`
	Currency        string            `json:"currency,omitempty"`
	Language        string            `json:"language,omitempty"`
	Country         string            `json:"country,omitempty"`
	FirstSeenAt     time.Time         `json:"first_seen_at"`
	LastSeenAt      time.Time         `json:"last_seen_at"`
}

type noticeDetail struct {
	noticeItem
	Description     string     `json:"description,omitempty"`
	DescriptionText string     `json:"description_text,omitempty"`
	AwardWinner     string     `json:"award_winner,omitempty"`
	AwardValue      *float64   `json:"award_value,omitempty"`
	AwardDate       *time.Time `json:"award_date,omitempty"`
	TendersReceived *int       `json:"tenders_received,omitempty"`
	EnrichedAt      *time.Time `json:"enriched_at,omitempty"`
}

func toNoticeItem(n model.Notice) noticeItem {
	regions := n.RegionCodes
	if regions == nil {
		regions = []string{}
	}
	return noticeItem{
		NoticeID:        n.ID,
		NoticeUUID:      n.UUID,
		Source:          n.Source,
		SourceID:        n.SourceID,
		Title:           n.Title,
		CategoryCode:    n.CategoryCode,
		RegionCodes:     regions,
		OrgNames:        n.OrgNames,
		URL:             n.URL,
		PublicationDate: n.PublicationDate,
		Deadline:        n.Deadline,
		EstimatedValue:  n.EstimatedValue,
		Currency:        n.Currency,
		Language:        n.Derived.Language,
		Country:         n.Country(),
		FirstSeenAt:     n.FirstSeenAt,
		LastSeenAt:      n.LastSeenAt,
	}
}

type watchlistItem struct {
	WatchlistID      int64      `json:"watchlist_id"`
	WatchlistUUID    string     `json:"watchlist_uuid"`
	Name             string     `json:"name"`
	Keywords         []string   `json:"keywords"`
	CategoryPrefixes []string   `json:"category_prefixes"`
	RegionPrefixes   []string   `json:"region_prefixes"`
	ValueMin         *float64   `json:"value_min,omitempty"`
	ValueMax         *float64   `json:"value_max,omitempty"`
	NotifyTarget     string     `json:"notify_target,omitempty"`
	ProfileID        *int64     `json:"profile_id,omitempty"`
	Enabled          bool       `json:"enabled"`
	LastRefreshAt    *time.Time `json:"last_refresh_at,omitempty"`
	LastNotifiedAt   *time.Time `json:"last_notified_at,omitempty"`
	LastRunStatus    string     `json:"last_run_status,omitempty"`
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func toWatchlistItem(w model.Watchlist) watchlistItem {
	return watchlistItem{
		WatchlistID:      w.ID,
		WatchlistUUID:    w.UUID,
		Name:             w.Name,
		Keywords:         nonNil(w.Keywords),
		CategoryPrefixes: nonNil(w.CategoryPrefixes),
		RegionPrefixes:   nonNil(w.RegionPrefixes),
		ValueMin:         w.ValueMin,
		ValueMax:         w.ValueMax,
		NotifyTarget:     w.NotifyTarget,
		ProfileID:        w.ProfileID,
		Enabled:          w.Enabled,
		LastRefreshAt:    w.LastRefreshAt,
		LastNotifiedAt:   w.LastNotifiedAt,
		LastRunStatus:    w.LastRunStatus,
	}
}

type watchlistRequest struct {
	Name             string   `json:"name" validate:"required,max=200"`
	Keywords         []string `json:"keywords" validate:"max=50,dive,required,max=80"`
	CategoryPrefixes []string `json:"category_prefixes" validate:"max=50,dive,required,numeric,max=8"`
	RegionPrefixes   []string `json:"region_prefixes" validate:"max=50,dive,required,alphanum,min=2,max=10"`
	ValueMin         *float64 `json:"value_min" validate:"omitempty,gte=0"`
	ValueMax         *float64 `json:"value_max" validate:"omitempty,gte=0"`
	NotifyTarget     string   `json:"notify_target" validate:"omitempty,max=500,notify_target"`
	ProfileID        *int64   `json:"profile_id" validate:"omitempty,gt=0"`
	Enabled          *bool    `json:"enabled"`
}

func (r watchlistRequest) input() db.WatchlistInput {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return db.WatchlistInput{
		Name:             strings.TrimSpace(r.Name),
		Keywords:         r.Keywords,
		CategoryPrefixes: r.CategoryPrefixes,
		RegionPrefixes:   r.RegionPrefixes,
		ValueMin:         r.ValueMin,
		ValueMax:         r.ValueMax,
		NotifyTarget:     strings.TrimSpace(r.NotifyTarget),
		ProfileID:        r.ProfileID,
		Enabled:          enabled,
	}
}

func (r watchlistRequest) validate() map[string]string {
	errs := validationErrors(r)
	if r.ValueMin != nil && r.ValueMax != nil && *r.ValueMin > *r.ValueMax {
		if errs == nil {
			errs = map[string]string{}
		}
		errs["value_max"] = "must be >= value_min"
	}
	return errs
}

type profileRequest struct {
	Name          string   `json:"name" validate:"required,max=200"`
	RegionCode    string   `json:"region_code" validate:"omitempty,alphanum,min=2,max=10"`
	Latitude      *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude     *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	ActivityCodes []string `json:"activity_codes" validate:"max=50,dive,required,max=12"`
}

func (r profileRequest) validate() map[string]string {
	errs := validationErrors(r)
	if (r.Latitude == nil) != (r.Longitude == nil) {
		if errs == nil {
			errs = map[string]string{}
		}
		errs["longitude"] = "latitude and longitude must be set together"
	}
	return errs
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.store.Ping(c.Request().Context()); err != nil {
		s.logger.Error().Err(err).Msg("health check failed")
		return internalError(c, "Database unavailable")
	}
	return success(c, map[string]any{
		"service": "procurewatch",
		"time":    s.opts.Now().UTC(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	now := s.opts.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	stats, err := s.store.QueryCorpusStats(c.Request().Context(), dayStart, dayStart.AddDate(0, 0, 1), s.opts.EnrichmentVersion)
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func (s *Server) handleNotices(c echo.Context) error {
	page, err := parsePositiveInt(c.QueryParam("page"), 1, 1, 1_000_000)
	if err != nil {
		return failField(c, "page", err.Error())
	}
	pageSize, err := parsePositiveInt(c.QueryParam("page_size"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failField(c, "page_size", err.Error())
	}
	src := strings.TrimSpace(c.QueryParam("source"))
	if src != "" {
		if _, err := model.ParseSource(src); err != nil {
			return failField(c, "source", err.Error())
		}
	}

	opts := db.NoticeListOptions{
		Source:   strings.ToLower(src),
		Country:  strings.ToUpper(strings.TrimSpace(c.QueryParam("country"))),
		Division: strings.TrimSpace(c.QueryParam("division")),
		Search:   strings.TrimSpace(c.QueryParam("q")),
		Limit:    pageSize,
		Offset:   (page - 1) * pageSize,
	}
	notices, err := s.store.ListNotices(c.Request().Context(), opts)
	if err != nil {
		s.logger.Error().Err(err).Msg("list notices failed")
		return internalError(c, "Failed to load notices")
	}

	items := make([]noticeItem, 0, len(notices))
	for _, n := range notices {
		items = append(items, toNoticeItem(n))
	}
	return success(c, map[string]any{
		"items": items,
		"pagination": map[string]any{
			"page":      page,
			"page_size": pageSize,
		},
	})
}

func (s *Server) handleNoticeDetail(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return failField(c, "id", "must be a positive integer")
	}
	n, err := s.store.GetNotice(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Notice not found")
		}
		s.logger.Error().Err(err).Int64("notice_id", id).Msg("get notice failed")
		return internalError(c, "Failed to load notice")
	}
	return success(c, noticeDetail{
		noticeItem:      toNoticeItem(*n),
		Description:     n.Description,
		DescriptionText: n.Derived.DescriptionText,
		AwardWinner:     n.AwardWinner,
		AwardValue:      n.AwardValue,
		AwardDate:       n.AwardDate,
		TendersReceived: n.TendersReceived,
		EnrichedAt:      n.Derived.EnrichedAt,
	})
}

func (s *Server) handleNoticeScore(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return failField(c, "id", "must be a positive integer")
	}
	wid, err := parsePositiveInt(c.QueryParam("watchlist_id"), 0, 1, 1<<31-1)
	if err != nil || wid == 0 {
		return failField(c, "watchlist_id", "is required")
	}
	res, err := s.matcher.Explain(c.Request().Context(), id, int64(wid))
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Notice or watchlist not found")
		}
		s.logger.Error().Err(err).Int64("notice_id", id).Int("watchlist_id", wid).Msg("explain score failed")
		return internalError(c, "Failed to score notice")
	}
	return success(c, res)
}

func (s *Server) handleWatchlists(c echo.Context) error {
	enabledOnly := strings.EqualFold(strings.TrimSpace(c.QueryParam("enabled")), "true")
	list, err := s.store.ListWatchlists(c.Request().Context(), enabledOnly)
	if err != nil {
		s.logger.Error().Err(err).Msg("list watchlists failed")
		return internalError(c, "Failed to load watchlists")
	}
	items := make([]watchlistItem, 0, len(list))
	for _, w := range list {
		items = append(items, toWatchlistItem(w))
	}
	return success(c, map[string]any{"items": items})
}

func (s *Server) handleWatchlistDetail(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return failField(c, "id", "must be a positive integer")
	}
	w, err := s.store.GetWatchlist(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Watchlist not found")
		}
		s.logger.Error().Err(err).Int64("watchlist_id", id).Msg("get watchlist failed")
		return internalError(c, "Failed to load watchlist")
	}
	return success(c, toWatchlistItem(*w))
}

func (s *Server) bindWatchlist(c echo.Context) (watchlistRequest, map[string]string) {
	var req watchlistRequest
	if err := c.Bind(&req); err != nil {
		return req, map[string]string{"body": "must be a JSON object"}
	}
	return req, req.validate()
}

func (s *Server) handleCreateWatchlist(c echo.Context) error {
	req, errs := s.bindWatchlist(c)
	if len(errs) > 0 {
		return failValidation(c, errs)
	}
	w, err := s.store.CreateWatchlist(c.Request().Context(), req.input())
	if err != nil {
		return s.watchlistWriteError(c, err)
	}
	return successWithStatus(c, http.StatusCreated, toWatchlistItem(*w))
}

func (s *Server) handleUpdateWatchlist(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return failField(c, "id", "must be a positive integer")
	}
	req, errs := s.bindWatchlist(c)
	if len(errs) > 0 {
		return failValidation(c, errs)
	}
	w, err := s.store.UpdateWatchlist(c.Request().Context(), id, req.input())
	if err != nil {
		return s.watchlistWriteError(c, err)
	}
	return success(c, toWatchlistItem(*w))
}

func (s *Server) watchlistWriteError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, db.ErrConflict):
		return failConflict(c, "A watchlist with this name already exists")
	case errors.Is(err, db.ErrNoRows):
		return failNotFound(c, "Watchlist not found")
	}
	s.logger.Error().Err(err).Msg("write watchlist failed")
	return internalError(c, "Failed to save watchlist")
}

func (s *Server) handleWatchlistMatches(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return failField(c, "id", "must be a positive integer")
	}
	limit, err := parsePositiveInt(c.QueryParam("limit"), 50, 1, 500)
	if err != nil {
		return failField(c, "limit", err.Error())
	}
	if _, err := s.store.GetWatchlist(c.Request().Context(), id); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Watchlist not found")
		}
		s.logger.Error().Err(err).Int64("watchlist_id", id).Msg("get watchlist failed")
		return internalError(c, "Failed to load watchlist")
	}
	views, err := s.store.ListMatchViews(c.Request().Context(), id, limit)
	if err != nil {
		s.logger.Error().Err(err).Int64("watchlist_id", id).Msg("list matches failed")
		return internalError(c, "Failed to load matches")
	}

	items := make([]map[string]any, 0, len(views))
	for _, v := range views {
		items = append(items, map[string]any{
			"notice":     v.Notice,
			"score":      v.Match.Score,
			"matched_on": v.Match.MatchedOn,
			"matched_at": v.Match.MatchedAt,
		})
	}
	return success(c, map[string]any{"items": items, "watchlist_id": id})
}

func (s *Server) handleRunWatchlist(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return failField(c, "id", "must be a positive integer")
	}
	summaries, err := s.matcher.Run(c.Request().Context(), &id)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Watchlist not found")
		}
		s.logger.Error().Err(err).Int64("watchlist_id", id).Msg("matcher run failed")
		return internalError(c, "Matcher run failed")
	}
	if len(summaries) == 0 {
		return failNotFound(c, "Watchlist not found")
	}
	return success(c, summaries[0])
}

func (s *Server) handleRunAll(c echo.Context) error {
	summaries, err := s.matcher.Run(c.Request().Context(), nil)
	if err != nil && len(summaries) == 0 {
		s.logger.Error().Err(err).Msg("matcher run failed")
		return internalError(c, "Matcher run failed")
	}
	failed := 0
	for _, sum := range summaries {
		if sum.Error != "" {
			failed++
		}
	}
	return success(c, map[string]any{"items": summaries, "failed": failed})
}

func (s *Server) handleCreateProfile(c echo.Context) error {
	var req profileRequest
	if err := c.Bind(&req); err != nil {
		return failField(c, "body", "must be a JSON object")
	}
	if errs := req.validate(); len(errs) > 0 {
		return failValidation(c, errs)
	}
	p, err := s.store.CreateProfile(c.Request().Context(), db.ProfileInput{
		Name:          strings.TrimSpace(req.Name),
		RegionCode:    strings.ToUpper(strings.TrimSpace(req.RegionCode)),
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		ActivityCodes: req.ActivityCodes,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("create profile failed")
		return internalError(c, "Failed to save profile")
	}
	return successWithStatus(c, http.StatusCreated, profileItem(*p))
}

func (s *Server) handleProfileDetail(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return failField(c, "id", "must be a positive integer")
	}
	p, err := s.store.GetProfile(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Profile not found")
		}
		s.logger.Error().Err(err).Int64("profile_id", id).Msg("get profile failed")
		return internalError(c, "Failed to load profile")
	}
	return success(c, profileItem(*p))
}

func profileItem(p model.Profile) map[string]any {
	return map[string]any{
		"profile_id":     p.ID,
		"name":           p.Name,
		"region_code":    p.RegionCode,
		"latitude":       p.Latitude,
		"longitude":      p.Longitude,
		"activity_codes": nonNil(p.ActivityCodes),
	}
}

func (s *Server) handleImportRuns(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), 20, 1, 200)
	if err != nil {
		return failField(c, "limit", err.Error())
	}
	src := strings.TrimSpace(c.QueryParam("source"))
	if src != "" {
		if _, err := model.ParseSource(src); err != nil {
			return failField(c, "source", err.Error())
		}
	}
	runs, err := s.store.ListImportRuns(c.Request().Context(), strings.ToLower(src), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list import runs failed")
		return internalError(c, "Failed to load import runs")
	}

	items := make([]map[string]any, 0, len(runs))
	for _, r := range runs {
		errs := r.Errors
		if errs == nil {
			errs = []model.RunError{}
		}
		items = append(items, map[string]any{
			"run_id":        r.ID,
			"source":        r.Source,
			"query":         r.Query,
			"status":        r.Status,
			"started_at":    r.StartedAt,
			"completed_at":  r.CompletedAt,
			"created":       r.Created,
			"updated":       r.Updated,
			"error_count":   r.ErrorCount,
			"pages_fetched": r.PagesFetched,
			"stop_reason":   r.StopReason,
			"errors":        errs,
		})
	}
	return success(c, map[string]any{"items": items})
}
