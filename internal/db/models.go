package db

import (
	"encoding/json"
	"time"
)

// NoticeRecord maps procurewatch.notices.
type NoticeRecord struct {
	NoticeID           int64           `gorm:"column:notice_id;primaryKey;autoIncrement"`
	NoticeUUID         string          `gorm:"column:notice_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Source             string          `gorm:"column:source;type:text;not null"`
	SourceID           string          `gorm:"column:source_id;type:text;not null"`
	Title              string          `gorm:"column:title;type:text;not null;default:''"`
	Description        string          `gorm:"column:description;type:text;not null;default:''"`
	CategoryCode       string          `gorm:"column:category_code;type:text;not null;default:''"`
	RegionCodes        json.RawMessage `gorm:"column:region_codes;type:jsonb;not null;default:'[]'"`
	OrgNames           json.RawMessage `gorm:"column:org_names;type:jsonb;not null;default:'{}'"`
	URL                string          `gorm:"column:url;type:text;not null;default:''"`
	PublicationDate    *time.Time      `gorm:"column:publication_date;type:timestamptz"`
	Deadline           *time.Time      `gorm:"column:deadline;type:timestamptz"`
	EstimatedValue     *float64        `gorm:"column:estimated_value;type:double precision"`
	Currency           string          `gorm:"column:currency;type:text;not null;default:''"`
	AwardWinner        string          `gorm:"column:award_winner;type:text;not null;default:''"`
	AwardValue         *float64        `gorm:"column:award_value;type:double precision"`
	AwardDate          *time.Time      `gorm:"column:award_date;type:timestamptz"`
	TendersReceived    *int            `gorm:"column:tenders_received;type:integer"`
	RawPayload         json.RawMessage `gorm:"column:raw_payload;type:jsonb"`
	Language           string          `gorm:"column:language;type:text;not null;default:''"`
	DescriptionText    string          `gorm:"column:description_text;type:text;not null;default:''"`
	Country            string          `gorm:"column:country;type:text;not null;default:''"`
	CategoryDivision   string          `gorm:"column:category_division;type:text;not null;default:''"`
	PayloadFingerprint string          `gorm:"column:payload_fingerprint;type:text;not null;default:''"`
	EnrichmentVersion  int             `gorm:"column:enrichment_version;type:integer;not null;default:0"`
	EnrichedAt         *time.Time      `gorm:"column:enriched_at;type:timestamptz"`
	FirstSeenAt        time.Time       `gorm:"column:first_seen_at;type:timestamptz;not null;default:now()"`
	LastSeenAt         time.Time       `gorm:"column:last_seen_at;type:timestamptz;not null;default:now()"`
	CreatedAt          time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (NoticeRecord) TableName() string { return "procurewatch.notices" }

// ProfileRecord maps procurewatch.profiles.
type ProfileRecord struct {
	ProfileID     int64           `gorm:"column:profile_id;primaryKey;autoIncrement"`
	Name          string          `gorm:"column:name;type:text;not null"`
	RegionCode    string          `gorm:"column:region_code;type:text;not null;default:''"`
	Latitude      *float64        `gorm:"column:latitude;type:double precision"`
	Longitude     *float64        `gorm:"column:longitude;type:double precision"`
	ActivityCodes json.RawMessage `gorm:"column:activity_codes;type:jsonb;not null;default:'[]'"`
	CreatedAt     time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (ProfileRecord) TableName() string { return "procurewatch.profiles" }

// WatchlistRecord maps procurewatch.watchlists.
type WatchlistRecord struct {
	WatchlistID      int64           `gorm:"column:watchlist_id;primaryKey;autoIncrement"`
	WatchlistUUID    string          `gorm:"column:watchlist_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Name             string          `gorm:"column:name;type:text;not null"`
	Keywords         json.RawMessage `gorm:"column:keywords;type:jsonb;not null;default:'[]'"`
	CategoryPrefixes json.RawMessage `gorm:"column:category_prefixes;type:jsonb;not null;default:'[]'"`
	RegionPrefixes   json.RawMessage `gorm:"column:region_prefixes;type:jsonb;not null;default:'[]'"`
	ValueMin         *float64        `gorm:"column:value_min;type:double precision"`
	ValueMax         *float64        `gorm:"column:value_max;type:double precision"`
	NotifyTarget     string          `gorm:"column:notify_target;type:text;not null;default:''"`
	ProfileID        *int64          `gorm:"column:profile_id;type:bigint"`
	Enabled          bool            `gorm:"column:enabled;type:boolean;not null;default:true"`
	LastRefreshAt    *time.Time      `gorm:"column:last_refresh_at;type:timestamptz"`
	LastNotifiedAt   *time.Time      `gorm:"column:last_notified_at;type:timestamptz"`
	LastRunStatus    string          `gorm:"column:last_run_status;type:text;not null;default:''"`
	CreatedAt        time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (WatchlistRecord) TableName() string { return "procurewatch.watchlists" }

// MatchRecord maps procurewatch.matches.
type MatchRecord struct {
	WatchlistID int64     `gorm:"column:watchlist_id;primaryKey;autoIncrement:false"`
	NoticeID    int64     `gorm:"column:notice_id;primaryKey;autoIncrement:false"`
	MatchedOn   string    `gorm:"column:matched_on;type:text;not null;default:''"`
	Score       int       `gorm:"column:score;type:smallint;not null;default:0"`
	MatchedAt   time.Time `gorm:"column:matched_at;type:timestamptz;not null;default:now()"`
}

func (MatchRecord) TableName() string { return "procurewatch.matches" }

// ImportRunRecord maps procurewatch.import_runs.
type ImportRunRecord struct {
	RunID        int64           `gorm:"column:run_id;primaryKey;autoIncrement"`
	Source       string          `gorm:"column:source;type:text;not null"`
	Query        string          `gorm:"column:query;type:text;not null;default:''"`
	Status       string          `gorm:"column:status;type:text;not null;default:running"`
	StartedAt    time.Time       `gorm:"column:started_at;type:timestamptz;not null;default:now()"`
	CompletedAt  *time.Time      `gorm:"column:completed_at;type:timestamptz"`
	Created      int             `gorm:"column:created_count;type:integer;not null;default:0"`
	Updated      int             `gorm:"column:updated_count;type:integer;not null;default:0"`
	ErrorCount   int             `gorm:"column:error_count;type:integer;not null;default:0"`
	PagesFetched int             `gorm:"column:pages_fetched;type:integer;not null;default:0"`
	StopReason   string          `gorm:"column:stop_reason;type:text;not null;default:''"`
	Errors       json.RawMessage `gorm:"column:errors;type:jsonb;not null;default:'[]'"`
}

func (ImportRunRecord) TableName() string { return "procurewatch.import_runs" }

func autoMigrateModels() []any {
	return []any{
		&NoticeRecord{},
		&ProfileRecord{},
		&WatchlistRecord{},
		&MatchRecord{},
		&ImportRunRecord{},
	}
}
