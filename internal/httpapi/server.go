package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/db"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/matcher"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/scoring"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

// Store is the read/write surface the API needs. *db.Pool satisfies it.
type Store interface {
	Ping(ctx context.Context) error
	ListNotices(ctx context.Context, opts db.NoticeListOptions) ([]model.Notice, error)
	GetNotice(ctx context.Context, noticeID int64) (*model.Notice, error)
	ListWatchlists(ctx context.Context, enabledOnly bool) ([]model.Watchlist, error)
	GetWatchlist(ctx context.Context, watchlistID int64) (*model.Watchlist, error)
	CreateWatchlist(ctx context.Context, in db.WatchlistInput) (*model.Watchlist, error)
	UpdateWatchlist(ctx context.Context, watchlistID int64, in db.WatchlistInput) (*model.Watchlist, error)
	ListMatchViews(ctx context.Context, watchlistID int64, limit int) ([]db.MatchView, error)
	GetProfile(ctx context.Context, profileID int64) (*model.Profile, error)
	CreateProfile(ctx context.Context, in db.ProfileInput) (*model.Profile, error)
	ListImportRuns(ctx context.Context, source string, limit int) ([]model.ImportRun, error)
	QueryCorpusStats(ctx context.Context, dayStart, dayEnd time.Time, enrichmentVersion int) (*db.CorpusStats, error)
}

// Matcher runs and explains watchlist matching. *matcher.Service satisfies it.
type Matcher interface {
	Run(ctx context.Context, watchlistID *int64) ([]matcher.MatchSummary, error)
	Explain(ctx context.Context, noticeID, watchlistID int64) (scoring.Result, error)
}

type Options struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
	AllowedOrigins    []string
	EnrichmentVersion int
	Now               func() time.Time
}

type Server struct {
	store   Store
	matcher Matcher
	logger  zerolog.Logger
	opts    Options
}

func NewServer(store Store, m Matcher, logger zerolog.Logger, opts Options) *Server {
	if strings.TrimSpace(opts.Host) == "" {
		opts.Host = "0.0.0.0"
	}
	if opts.Port <= 0 {
		opts.Port = 8090
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Minute
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{store: store, matcher: m, logger: logger, opts: opts}
}

// Handler builds the echo instance with every route registered.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.opts.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			evt := s.logger.Info()
			if v.Error != nil {
				evt = s.logger.Error().Err(v.Error)
			}
			evt.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/notices", s.handleNotices)
	api.GET("/notices/:id", s.handleNoticeDetail)
	api.GET("/notices/:id/score", s.handleNoticeScore)
	api.GET("/watchlists", s.handleWatchlists)
	api.POST("/watchlists", s.handleCreateWatchlist)
	api.GET("/watchlists/:id", s.handleWatchlistDetail)
	api.PUT("/watchlists/:id", s.handleUpdateWatchlist)
	api.GET("/watchlists/:id/matches", s.handleWatchlistMatches)
	api.POST("/watchlists/:id/run", s.handleRunWatchlist)
	api.POST("/matcher/run", s.handleRunAll)
	api.POST("/profiles", s.handleCreateProfile)
	api.GET("/profiles/:id", s.handleProfileDetail)
	api.GET("/import-runs", s.handleImportRuns)
	return e
}

// Start serves until ctx ends, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.Handler()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("procurewatch api started")
	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("procurewatch api stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if v, ok := he.Message.(string); ok && strings.TrimSpace(v) != "" {
			message = v
		} else if text := http.StatusText(status); text != "" {
			message = text
		}
	}

	if status >= 500 {
		s.logger.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("unhandled api error")
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func parseID(c echo.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param(name)), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
