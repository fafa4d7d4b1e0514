package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
)

// Fetcher returns one page of upstream results. An empty result set is a
// valid page, not an error; errors mean the page could not be fetched.
type Fetcher interface {
	FetchPage(ctx context.Context, query string, page, pageSize int) (Page, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, query string, page, pageSize int) (Page, error)

func (f FetcherFunc) FetchPage(ctx context.Context, query string, page, pageSize int) (Page, error) {
	return f(ctx, query, page, pageSize)
}

// APIError represents a non-2xx upstream response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

const maxErrorBody = 512

// HTTPFetcher pulls JSON pages from one source API.
type HTTPFetcher struct {
	source     model.Source
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *HTTPFetcher) {
		if client != nil {
			f.httpClient = client
		}
	}
}

// WithRateLimit bounds outgoing requests per second. Zero disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(f *HTTPFetcher) {
		if perSecond <= 0 {
			f.limiter = nil
			return
		}
		f.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithToken sets a bearer token.
func WithToken(token string) Option {
	return func(f *HTTPFetcher) {
		f.token = strings.TrimSpace(token)
	}
}

// NewHTTPFetcher builds a fetcher for src rooted at baseURL.
func NewHTTPFetcher(src model.Source, baseURL string, opts ...Option) (*HTTPFetcher, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("%s: base URL is required", src)
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("%s: invalid base URL: %w", src, err)
	}

	f := &HTTPFetcher{
		source:  src,
		baseURL: trimmed,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(2), 1),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// FetchPage issues one GET for page (1-based). The caller bounds it with ctx.
func (f *HTTPFetcher) FetchPage(ctx context.Context, query string, page, pageSize int) (Page, error) {
	if page < 1 || pageSize < 1 {
		return Page{}, fmt.Errorf("page and page size must be >= 1")
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return Page{}, fmt.Errorf("wait for rate limiter: %w", err)
		}
	}

	fullURL := f.baseURL + "?" + pageQuery(f.source, query, page, pageSize).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return Page{}, fmt.Errorf("build %s request: %w", f.source, err)
	}
	req.Header.Set("Accept", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("send %s request: %w", f.source, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Page{}, fmt.Errorf("read %s response: %w", f.source, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return Page{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return Page{}, &APIError{StatusCode: resp.StatusCode, Body: snippet}
	}

	return DecodePage(f.source, body)
}

// pageQuery builds the per-source paging parameters.
func pageQuery(src model.Source, query string, page, pageSize int) url.Values {
	values := url.Values{}
	query = strings.TrimSpace(query)
	switch src {
	case model.SourceTED:
		if query != "" {
			values.Set("q", query)
		}
		values.Set("page", strconv.Itoa(page))
		values.Set("limit", strconv.Itoa(pageSize))
	case model.SourceANAC:
		if query != "" {
			values.Set("q", query)
		}
		values.Set("page", strconv.Itoa(page))
		values.Set("size", strconv.Itoa(pageSize))
	case model.SourceBOAMP:
		if query != "" {
			values.Set("where", query)
		}
		values.Set("limit", strconv.Itoa(pageSize))
		values.Set("offset", strconv.Itoa((page-1)*pageSize))
		values.Set("order_by", "dateparution desc")
	}
	return values
}
