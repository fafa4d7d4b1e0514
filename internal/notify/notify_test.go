package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
)

func sampleDigest() Digest {
	return Digest{
		WatchlistID:   12,
		WatchlistName: "Ponti e viadotti",
		NewMatches:    2,
		TotalMatches:  9,
		Notices: []model.NoticeSummary{
			{NoticeID: 1, Source: model.SourceANAC, SourceID: "ZA1", Title: "Ponte"},
			{NoticeID: 2, Source: model.SourceTED, SourceID: "123-2026", Title: "Viadotto"},
		},
		GeneratedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestParseTarget(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		scheme  string
		address string
		wantErr bool
	}{
		{in: "redis:digests", scheme: "redis", address: "digests"},
		{in: "SNS:arn:aws:sns:eu-west-1:1:topic", scheme: "sns", address: "arn:aws:sns:eu-west-1:1:topic"},
		{in: "ops-team", scheme: "log", address: "ops-team"},
		{in: "  ", wantErr: true},
		{in: ":x", wantErr: true},
	}
	for _, tc := range cases {
		scheme, address, err := ParseTarget(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseTarget(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseTarget(%q): %v", tc.in, err)
		}
		if scheme != tc.scheme || address != tc.address {
			t.Fatalf("ParseTarget(%q) = (%q, %q), want (%q, %q)", tc.in, scheme, address, tc.scheme, tc.address)
		}
	}
}

func TestRouterDispatchesByScheme(t *testing.T) {
	t.Parallel()

	var got []string
	router := NewRouter(zerolog.Nop())
	router.Register("webhook", PublisherFunc(func(_ context.Context, address string, d Digest) error {
		got = append(got, address)
		return nil
	}))

	if err := router.Publish(context.Background(), "webhook:https://hooks.invalid/x", sampleDigest()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(got) != 1 || got[0] != "https://hooks.invalid/x" {
		t.Fatalf("published to %v", got)
	}

	err := router.Publish(context.Background(), "smtp:ops@example.com", sampleDigest())
	if !errors.Is(err, ErrUnknownScheme) {
		t.Fatalf("error = %v, want ErrUnknownScheme", err)
	}
}

func TestLogPublisherWritesSummary(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	router := NewRouter(zerolog.New(&buf))
	if err := router.Publish(context.Background(), "log:ops", sampleDigest()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"notice_ids":[1,2]`) || !strings.Contains(out, "2 new procurement notices") {
		t.Fatalf("log output = %s", out)
	}
}

type fakeRedis struct {
	redis.Cmdable
	key     string
	payload []byte
	err     error
}

func (f *fakeRedis) RPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.key = key
	if len(values) == 1 {
		f.payload, _ = values[0].([]byte)
	}
	return redis.NewIntResult(1, f.err)
}

func TestRedisPublisherPushesJSON(t *testing.T) {
	t.Parallel()

	client := &fakeRedis{}
	if err := NewRedisPublisher(client).Publish(context.Background(), "", sampleDigest()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if client.key != DefaultRedisKey {
		t.Fatalf("key = %q, want %q", client.key, DefaultRedisKey)
	}
	var decoded Digest
	if err := json.Unmarshal(client.payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.WatchlistID != 12 || len(decoded.Notices) != 2 {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestRedisPublisherSurfacesErrors(t *testing.T) {
	t.Parallel()

	client := &fakeRedis{err: errors.New("connection refused")}
	if err := NewRedisPublisher(client).Publish(context.Background(), "queue", sampleDigest()); err == nil {
		t.Fatal("expected error")
	}
}

type fakeSNS struct {
	input *sns.PublishInput
}

func (f *fakeSNS) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = params
	return &sns.PublishOutput{}, nil
}

func TestSNSPublisher(t *testing.T) {
	t.Parallel()

	client := &fakeSNS{}
	p := NewSNSPublisherWithClient(client)

	if err := p.Publish(context.Background(), "not-an-arn", sampleDigest()); err == nil {
		t.Fatal("expected error for non-arn target")
	}

	const arn = "arn:aws:sns:eu-west-1:123456789012:procurewatch"
	if err := p.Publish(context.Background(), arn, sampleDigest()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if client.input == nil || *client.input.TopicArn != arn {
		t.Fatalf("input = %+v", client.input)
	}
	if !strings.Contains(*client.input.Message, `"watchlist_id":12`) {
		t.Fatalf("message = %s", *client.input.Message)
	}
}

func TestSubjectIsASCIIAndBounded(t *testing.T) {
	t.Parallel()

	d := sampleDigest()
	d.WatchlistName = "Città " + strings.Repeat("x", 200)
	subject := d.Subject()
	if len(subject) != maxSubjectLength {
		t.Fatalf("subject length = %d", len(subject))
	}
	for _, r := range subject {
		if r > 0x7e {
			t.Fatalf("subject has non-ascii rune %q", r)
		}
	}
}
