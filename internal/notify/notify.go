// Package notify delivers match digests to the target configured on a
// watchlist. Targets are "<scheme>:<address>", for example "redis:digests" or
// "sns:arn:aws:sns:eu-west-1:123456789012:procurewatch".
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
)

// Schemes understood by the default router.
const (
	SchemeLog   = "log"
	SchemeRedis = "redis"
	SchemeSNS   = "sns"
)

// ErrUnknownScheme is returned for targets no publisher is registered for.
var ErrUnknownScheme = errors.New("unknown notification scheme")

// Digest is the payload handed to a delivery channel after a matcher run with
// new matches.
type Digest struct {
	WatchlistID   int64                 `json:"watchlist_id"`
	WatchlistName string                `json:"watchlist_name"`
	NewMatches    int                   `json:"new_matches"`
	TotalMatches  int                   `json:"total_matches"`
	Notices       []model.NoticeSummary `json:"notices"`
	GeneratedAt   time.Time             `json:"generated_at"`
}

// Subject is a short human readable title for channels that carry one.
func (d Digest) Subject() string {
	subject := fmt.Sprintf("%d new procurement notices for %s", d.NewMatches, d.WatchlistName)
	if d.NewMatches == 1 {
		subject = fmt.Sprintf("1 new procurement notice for %s", d.WatchlistName)
	}
	return truncateSubject(subject)
}

func (d Digest) encode() ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode digest for watchlist %d: %w", d.WatchlistID, err)
	}
	return raw, nil
}

// Publisher delivers a digest to one address of its scheme.
type Publisher interface {
	Publish(ctx context.Context, address string, digest Digest) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, address string, digest Digest) error

func (f PublisherFunc) Publish(ctx context.Context, address string, digest Digest) error {
	return f(ctx, address, digest)
}

// ParseTarget splits "scheme:address". A bare word is a log target.
func ParseTarget(target string) (scheme, address string, err error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", "", fmt.Errorf("notification target is empty")
	}
	scheme, address, found := strings.Cut(target, ":")
	if !found {
		return SchemeLog, target, nil
	}
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme == "" {
		return "", "", fmt.Errorf("notification target %q has no scheme", target)
	}
	return scheme, strings.TrimSpace(address), nil
}

// Router dispatches digests by target scheme.
type Router struct {
	publishers map[string]Publisher
	logger     zerolog.Logger
}

// NewRouter returns a router with the log publisher registered.
func NewRouter(logger zerolog.Logger) *Router {
	r := &Router{
		publishers: make(map[string]Publisher),
		logger:     logger,
	}
	r.Register(SchemeLog, NewLogPublisher(logger))
	return r
}

// Register binds a publisher to a scheme, replacing any previous one.
func (r *Router) Register(scheme string, p Publisher) {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme == "" || p == nil {
		return
	}
	r.publishers[scheme] = p
}

// Schemes lists the registered schemes.
func (r *Router) Schemes() []string {
	out := make([]string, 0, len(r.publishers))
	for scheme := range r.publishers {
		out = append(out, scheme)
	}
	sort.Strings(out)
	return out
}

// Publish delivers digest to target.
func (r *Router) Publish(ctx context.Context, target string, digest Digest) error {
	scheme, address, err := ParseTarget(target)
	if err != nil {
		return err
	}
	p, ok := r.publishers[scheme]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownScheme, scheme)
	}
	if err := p.Publish(ctx, address, digest); err != nil {
		return fmt.Errorf("publish digest to %s: %w", scheme, err)
	}
	r.logger.Info().
		Int64("watchlist_id", digest.WatchlistID).
		Str("scheme", scheme).
		Int("new_matches", digest.NewMatches).
		Msg("digest published")
	return nil
}

// LogPublisher writes digests to the structured log. It is the fallback
// channel for local runs.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, address string, digest Digest) error {
	ids := make([]int64, 0, len(digest.Notices))
	for _, n := range digest.Notices {
		ids = append(ids, n.NoticeID)
	}
	p.logger.Info().
		Str("address", address).
		Int64("watchlist_id", digest.WatchlistID).
		Str("watchlist", digest.WatchlistName).
		Int("new_matches", digest.NewMatches).
		Int("total_matches", digest.TotalMatches).
		Ints64("notice_ids", ids).
		Msg(digest.Subject())
	return nil
}

// SNS subjects must be printable ASCII and at most 100 characters.
const maxSubjectLength = 100

func truncateSubject(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 0x20 && r < 0x7f {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) <= maxSubjectLength {
		return out
	}
	return out[:maxSubjectLength-3] + "..."
}
