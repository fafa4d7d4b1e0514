package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/cli"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/config"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/db"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/geo"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/globaltime"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/logging"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/matcher"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/notify"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/source"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/taxonomy"
)

const (
	outputFormatTable = "table"
	outputFormatJSON  = "json"
)

// loadRuntime loads the env file, configuration and logger shared by every
// command that touches the database. A non-zero code means the command should
// exit with it.
func loadRuntime(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, int) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, zerolog.Nop(), 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Nop(), 1
	}
	return cfg, logger, 0
}

func connectPool(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*db.Pool, error) {
	dbCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	pool, err := db.NewPool(dbCtx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// buildFetcher returns the replay fetcher for replayDir/<source> when
// replayDir is set and the HTTP fetcher otherwise.
func buildFetcher(cfg *config.Config, src model.Source, replayDir string) (source.Fetcher, error) {
	if dir := strings.TrimSpace(replayDir); dir != "" {
		return source.NewDirFetcher(src, filepath.Join(dir, string(src)))
	}
	opts := []source.Option{source.WithRateLimit(cfg.IngestRequestsPerSecond)}
	if token := strings.TrimSpace(cfg.SourceAPIToken); token != "" {
		opts = append(opts, source.WithToken(token))
	}
	return source.NewHTTPFetcher(src, cfg.SourceEndpoint(string(src)), opts...)
}

func buildRegistry(cfg *config.Config, sources []model.Source, replayDir string) (*source.Registry, error) {
	reg := source.NewRegistry()
	for _, src := range sources {
		f, err := buildFetcher(cfg, src, replayDir)
		if err != nil {
			return nil, err
		}
		reg.Register(src, f)
	}
	return reg, nil
}

// buildRouter registers the redis and sns publishers when configured. An
// unreachable redis is logged and left unregistered.
func buildRouter(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*notify.Router, func()) {
	router := notify.NewRouter(logger)
	cleanup := func() {}

	if url := strings.TrimSpace(cfg.RedisURL); url != "" {
		client, err := notify.NewRedisClient(ctx, url)
		if err != nil {
			logger.Warn().Err(err).Msg("redis digest publisher disabled")
		} else {
			router.Register(notify.SchemeRedis, notify.NewRedisPublisher(client))
			cleanup = func() { _ = client.Close() }
		}
	}
	if region := strings.TrimSpace(cfg.SNSRegion); region != "" {
		p, err := notify.NewSNSPublisher(ctx, region)
		if err != nil {
			logger.Warn().Err(err).Msg("sns digest publisher disabled")
		} else {
			router.Register(notify.SchemeSNS, p)
		}
	}
	return router, cleanup
}

func buildMatcher(ctx context.Context, cfg *config.Config, pool *db.Pool, logger zerolog.Logger) (*matcher.Service, func(), error) {
	geoRef, err := geo.LoadDir(cfg.ReferenceDataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load geo reference: %w", err)
	}
	dir := cfg.ReferenceDataDir
	cache := taxonomy.NewCache(func() (*taxonomy.Crosswalk, error) {
		return taxonomy.LoadDir(dir)
	}, cfg.TaxonomyCacheTTL)
	if _, err := cache.Get(); err != nil {
		return nil, nil, err
	}

	router, cleanup := buildRouter(ctx, cfg, logger)
	svc := matcher.NewService(pool, router, geoRef, cache, logger, matcher.Options{
		MinScore:     cfg.MatchMinScore,
		ScanPageSize: cfg.MatchScanPageSize,
		LookbackDays: cfg.MatchLookbackDays,
	})
	return svc, cleanup, nil
}

func parseOutputFormat(raw, defaultFormat string) (string, error) {
	format := strings.TrimSpace(strings.ToLower(raw))
	if format == "" {
		format = defaultFormat
	}
	switch format {
	case outputFormatTable, outputFormatJSON:
		return format, nil
	default:
		return "", fmt.Errorf("--format must be table or json")
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func defaultUTCDay() time.Time {
	now := globaltime.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func formatTimestamp(value *time.Time) string {
	if value == nil || value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}

func truncateForTable(value string, maxLen int) string {
	runes := []rune(strings.TrimSpace(value))
	if maxLen <= 3 || len(runes) <= maxLen {
		return string(runes)
	}
	return string(runes[:maxLen-3]) + "..."
}

// parseSources resolves a --source flag; "all" or empty means every source.
func parseSources(raw string) ([]model.Source, error) {
	trimmed := strings.TrimSpace(strings.ToLower(raw))
	if trimmed == "" || trimmed == "all" {
		return model.Sources(), nil
	}
	var out []model.Source
	seen := map[model.Source]struct{}{}
	for _, part := range strings.Split(trimmed, ",") {
		src, err := model.ParseSource(part)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, src)
	}
	return out, nil
}
