package search

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"ifgsweep/internal/logging"
	"ifgsweep/internal/services"
)

const (
	defaultPageSize       = 1000
	defaultTimeout        = 60 * time.Second
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
	defaultMaxPages       = 100000
	maxErrorBody          = 4096
	tracerName            = "ifgsweep/internal/search"
)

// Config captures the runtime settings for one index cluster.
type Config struct {
	BaseURL            string
	PageSize           int
	Timeout            time.Duration
	MaxRetries         int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	Concurrency        int
	MaxPages           int
	InsecureSkipVerify bool
}

// Client pages through _search results on a single index cluster.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger sets the logger used for page and retry events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New constructs a client. BaseURL must be an absolute http or https URL.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, services.Wrap(services.ErrConfiguration, "search", "new client",
			fmt.Sprintf("invalid base url %q", cfg.BaseURL), err)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}

	client := &Client{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg),
		logger:     logging.NewNop(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(client)
	}
	client.logger = logging.NewComponentLogger(client.logger, "search")
	return client, nil
}

func newHTTPClient(cfg Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // matches deployments with self-signed index certs
	}
	return &http.Client{Timeout: cfg.Timeout, Transport: transport}
}

// BaseURL returns the normalized cluster URL.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// Search returns every hit matching q in the collection pattern, following
// pagination until the reported total is reached. Without a total it keeps
// paging until a short page. Results are deduplicated on (_index, _id) and
// returned in page order. Any failure is marked services.ErrQueryFailure;
// partial results are never returned.
func (c *Client) Search(ctx context.Context, pattern string, q Query) ([]Record, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, services.Wrap(services.ErrQueryFailure, "search", "", "collection pattern is empty", nil)
	}
	ctx = services.WithCollection(ctx, pattern)
	ctx, span := c.tracer.Start(ctx, "search.Search", trace.WithAttributes(
		attribute.String("search.pattern", pattern),
		attribute.String("search.base_url", c.cfg.BaseURL),
	))
	defer span.End()

	records, err := c.search(ctx, pattern, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, services.Wrap(services.ErrQueryFailure, "search", pattern, "", err)
	}
	span.SetAttributes(attribute.Int("search.records", len(records)))
	return records, nil
}

// Count issues a single size-zero request and returns the reported total, or
// -1 when the response carries none or only a lower bound. It does not retry
// and is meant for readiness checks.
func (c *Client) Count(ctx context.Context, pattern string, q Query) (int, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return 0, services.Wrap(services.ErrQueryFailure, "search", "count", "collection pattern is empty", nil)
	}
	p, err := c.doPage(ctx, pattern, q.Filter, 0, 0)
	if err != nil {
		return 0, services.Wrap(services.ErrQueryFailure, "search", pattern, "count", err)
	}
	if !p.hasTotal {
		return -1, nil
	}
	return p.total, nil
}

func (c *Client) search(ctx context.Context, pattern string, q Query) ([]Record, error) {
	logger := logging.WithContext(ctx, c.logger)
	size := q.Size
	if size <= 0 {
		size = c.cfg.PageSize
	}
	start := q.From
	if start < 0 {
		start = 0
	}

	first, err := c.fetchPage(ctx, pattern, q.Filter, start, size)
	if err != nil {
		return nil, err
	}

	var pages [][]Record
	expected := -1
	if first.hasTotal {
		pages, expected, err = c.fetchKnownTotal(ctx, pattern, q.Filter, start, size, first)
	} else {
		logger.Debug("response carries no exact total; paging until a short page")
		pages, err = c.fetchUntilShort(ctx, pattern, q.Filter, start, size, first)
	}
	if err != nil {
		return nil, err
	}

	count := 0
	for _, p := range pages {
		count += len(p)
	}
	merged := make([]Record, 0, count)
	for _, p := range pages {
		merged = append(merged, p...)
	}
	records, dropped := dedupe(merged)
	if expected >= 0 && len(records) < expected {
		return nil, fmt.Errorf("received %d distinct hits of a stable total %d", len(records), expected)
	}
	if dropped > 0 {
		logging.WarnWithContext(logger, "duplicate hits dropped", "search_duplicates",
			logging.Int("dropped", dropped),
			logging.String(logging.FieldImpact, "index changed between page requests"),
			logging.String(logging.FieldErrorHint, "re-run the sweep when the index is quiet"),
		)
	}
	logger.Info("collection fetched",
		logging.Int("record_count", len(records)),
		logging.Int("page_count", len(pages)),
	)
	return records, nil
}

// fetchKnownTotal pages through an exact total. When the total is the same on
// every page it also returns the number of hits the caller must end up with;
// otherwise expected is -1 and the drift is only logged.
func (c *Client) fetchKnownTotal(ctx context.Context, pattern string, filter any, start, size int, first page) ([][]Record, int, error) {
	offsets := make([]int, 0)
	for from := start + size; from < first.total; from += size {
		offsets = append(offsets, from)
	}
	if len(offsets)+1 > c.cfg.MaxPages {
		return nil, -1, fmt.Errorf("total %d needs %d pages, above max_pages %d", first.total, len(offsets)+1, c.cfg.MaxPages)
	}

	pages := make([][]Record, len(offsets)+1)
	pages[0] = first.hits
	totals := make([]int, len(offsets)+1)
	totals[0] = first.total

	if c.cfg.Concurrency <= 1 || len(offsets) < 2 {
		for i, from := range offsets {
			p, err := c.fetchPage(ctx, pattern, filter, from, size)
			if err != nil {
				return nil, -1, err
			}
			pages[i+1] = p.hits
			totals[i+1] = pageTotal(p)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.cfg.Concurrency)
		for i, from := range offsets {
			g.Go(func() error {
				p, err := c.fetchPage(gctx, pattern, filter, from, size)
				if err != nil {
					return err
				}
				pages[i+1] = p.hits
				totals[i+1] = pageTotal(p)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, -1, err
		}
	}

	for i, total := range totals {
		if total != first.total {
			logging.WarnWithContext(logging.WithContext(ctx, c.logger), "total changed between page requests", "search_total_drift",
				logging.Int("initial_total", first.total),
				logging.Int("page_total", total),
				logging.Int("page_index", i),
				logging.String(logging.FieldImpact, "results may miss or repeat records"),
				logging.String(logging.FieldErrorHint, "re-run the sweep when the index is quiet"),
			)
			return pages, -1, nil
		}
	}

	// Stable total: a short page before the last one, or fewer hits than the
	// total, means the server skipped records.
	received := 0
	for i, hits := range pages {
		if i < len(pages)-1 && len(hits) < size {
			return nil, -1, fmt.Errorf("page at from=%d returned %d hits, want %d", start+i*size, len(hits), size)
		}
		received += len(hits)
	}
	expected := max(first.total-start, 0)
	if received < expected {
		return nil, -1, fmt.Errorf("received %d hits of a stable total %d", received, expected)
	}
	return pages, expected, nil
}

// pageTotal reports -1 for a page without an exact total so it counts as drift.
func pageTotal(p page) int {
	if !p.hasTotal {
		return -1
	}
	return p.total
}

func (c *Client) fetchUntilShort(ctx context.Context, pattern string, filter any, start, size int, first page) ([][]Record, error) {
	pages := [][]Record{first.hits}
	last := first.hits
	from := start
	for len(last) >= size {
		if len(pages) >= c.cfg.MaxPages {
			return nil, fmt.Errorf("exceeded max_pages %d without a short page", c.cfg.MaxPages)
		}
		from += size
		p, err := c.fetchPage(ctx, pattern, filter, from, size)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p.hits)
		last = p.hits
	}
	return pages, nil
}

// fetchPage issues one page request, retrying transient failures.
func (c *Client) fetchPage(ctx context.Context, pattern string, filter any, from, size int) (page, error) {
	ctx, span := c.tracer.Start(ctx, "search.page", trace.WithAttributes(
		attribute.Int("search.from", from),
		attribute.Int("search.size", size),
	))
	defer span.End()

	attempts := c.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		p, err := c.doPage(ctx, pattern, filter, from, size)
		if err == nil {
			span.SetAttributes(attribute.Int("search.hits", len(p.hits)))
			return p, nil
		}
		lastErr = err
		if ctx.Err() != nil || !IsRetriable(err) || attempt == attempts {
			break
		}
		delay := backoffDelay(attempt, c.cfg.InitialBackoff, c.cfg.MaxBackoff)
		c.logger.Debug("retrying page request",
			logging.String(logging.FieldCollection, pattern),
			logging.Int("from", from),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
		if err := SleepWithContext(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	if attempts > 1 && IsRetriable(lastErr) {
		return page{}, fmt.Errorf("page from=%d: failed after %d attempts: %w", from, attempts, lastErr)
	}
	return page{}, fmt.Errorf("page from=%d: %w", from, lastErr)
}

func (c *Client) doPage(ctx context.Context, pattern string, filter any, from, size int) (page, error) {
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "es", pattern, "_search")
	if err != nil {
		return page{}, fmt.Errorf("build url: %w", err)
	}
	encoded, err := json.Marshal(requestBody{Query: filter, From: from, Size: size})
	if err != nil {
		return page{}, fmt.Errorf("encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return page{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return page{}, fmt.Errorf("http error (timeout=%s): %w", c.cfg.Timeout, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return page{}, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return page{}, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	p, err := decodePage(body)
	if err != nil {
		return page{}, err
	}
	if len(p.hits) > size {
		return page{}, errors.New("decode response: page larger than requested size")
	}
	return p, nil
}
