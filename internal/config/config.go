package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"PW_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"PW_DB_MAX_CONNS" default:"8"`

	RedisURL  string `envconfig:"REDIS_URL" default:""`
	SNSRegion string `envconfig:"SNS_REGION" default:""`

	TEDAPIURL      string `envconfig:"TED_API_URL" default:"https://api.ted.europa.eu/v3/notices/search"`
	ANACAPIURL     string `envconfig:"ANAC_API_URL" default:"https://dati.anticorruzione.it/opendata/api/bandi"`
	BOAMPAPIURL    string `envconfig:"BOAMP_API_URL" default:"https://www.boamp.fr/api/explore/v2.1/catalog/datasets/boamp/records"`
	SourceAPIToken string `envconfig:"SOURCE_API_TOKEN" default:""`

	IngestPageSize          int           `envconfig:"INGEST_PAGE_SIZE" default:"100"`
	IngestPageCeiling       int           `envconfig:"INGEST_PAGE_CEILING" default:"200"`
	IngestPageTimeout       time.Duration `envconfig:"INGEST_PAGE_TIMEOUT" default:"30s"`
	IngestRequestsPerSecond float64       `envconfig:"INGEST_REQUESTS_PER_SECOND" default:"2"`

	BackfillBatchSize int `envconfig:"BACKFILL_BATCH_SIZE" default:"200"`

	MatchMinScore     int `envconfig:"MATCH_MIN_SCORE" default:"25"`
	MatchScanPageSize int `envconfig:"MATCH_SCAN_PAGE_SIZE" default:"500"`
	MatchLookbackDays int `envconfig:"MATCH_LOOKBACK_DAYS" default:"365"`

	TaxonomyCacheTTL time.Duration `envconfig:"TAXONOMY_CACHE_TTL" default:"1h"`
	ReferenceDataDir string        `envconfig:"REFERENCE_DATA_DIR" default:""`

	ScheduleIngestCron string `envconfig:"SCHEDULE_INGEST_CRON" default:"@every 6h"`
	ScheduleMatchCron  string `envconfig:"SCHEDULE_MATCH_CRON" default:"@every 1h"`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("PW_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("PW_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("PW_DB_MIN_CONNS (%d) cannot exceed PW_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.IngestPageSize < 1 {
		return fmt.Errorf("INGEST_PAGE_SIZE must be >= 1")
	}
	if c.IngestPageCeiling < 1 {
		return fmt.Errorf("INGEST_PAGE_CEILING must be >= 1")
	}
	if c.IngestPageTimeout <= 0 {
		return fmt.Errorf("INGEST_PAGE_TIMEOUT must be > 0")
	}
	if c.IngestRequestsPerSecond <= 0 {
		return fmt.Errorf("INGEST_REQUESTS_PER_SECOND must be > 0")
	}
	if c.BackfillBatchSize < 1 {
		return fmt.Errorf("BACKFILL_BATCH_SIZE must be >= 1")
	}
	if c.MatchMinScore < 0 || c.MatchMinScore > 100 {
		return fmt.Errorf("MATCH_MIN_SCORE must be between 0 and 100")
	}
	if c.MatchScanPageSize < 1 {
		return fmt.Errorf("MATCH_SCAN_PAGE_SIZE must be >= 1")
	}
	if c.MatchLookbackDays < 0 {
		return fmt.Errorf("MATCH_LOOKBACK_DAYS must be >= 0")
	}
	if c.TaxonomyCacheTTL <= 0 {
		return fmt.Errorf("TAXONOMY_CACHE_TTL must be > 0")
	}
	return nil
}

// SourceEndpoint returns the configured base URL for a source name.
func (c *Config) SourceEndpoint(source string) string {
	if c == nil {
		return ""
	}
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "ted":
		return c.TEDAPIURL
	case "anac":
		return c.ANACAPIURL
	case "boamp":
		return c.BOAMPAPIURL
	default:
		return ""
	}
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
