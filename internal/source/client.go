// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/census/internal/logging"
	"github.com/tomtom215/census/internal/metrics"
)

const (
	// maxErrorBodySize limits how much of an error response body is read
	// for diagnostics, preventing unbounded allocation on large responses.
	maxErrorBodySize = 64 * 1024 // 64KB

	// maxRateLimitRetries bounds the HTTP 429 backoff loop.
	maxRateLimitRetries = 5

	// maxPageSize is the upstream's hard cap on records per page.
	maxPageSize = 999

	// The aggregation endpoint takes an inclusive time range. The window
	// start is sent at the whole second and the end padded to .999 so the
	// final second is fully covered; the normalizer enforces the half-open
	// [start, end) boundary on the entries themselves.
	timeFromLayout = "2006-01-02T15:04:05.000Z"
	timeToLayout   = "2006-01-02T15:04:05.999Z"
)

// readBodyForError reads a response body for error reporting (max 64KB).
// Returns the body content or a placeholder if reading fails.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

// Client fetches windowed occupancy data from the sensor cloud.
//
// Resilience layers, innermost first:
//   - HTTP 429: exponential backoff honoring Retry-After, up to 5 retries
//   - transient failures (5xx, network, timeout): bounded exponential
//     backoff, 3 attempts by default
//   - client-side rate limiting against the upstream's per-client budget
//
// Permanent failures (401/403, 404) are never retried within a run.
//
// Thread safety: safe for concurrent use. Each request builds its own
// http.Request; the token cache serializes logins internally.
type Client struct {
	baseURL      string
	aggregateURL string
	tokens       *TokenCache
	client       *http.Client
	limiter      *rate.Limiter

	maxRetries     int
	retryBaseDelay time.Duration
	pageSize       int
}

// NewClient creates a sensor-cloud API client. The token cache is injected
// so concurrent fetchers and the discovery client share one login session.
func NewClient(cfg *Config, tokens *TokenCache) *Client {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		baseURL:      cfg.BaseURL,
		aggregateURL: fmt.Sprintf("%s/share/%s/", cfg.BaseURL, cfg.AggregateView),
		tokens:       tokens,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		limiter:        limiter,
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
		pageSize:       cfg.PageSize,
	}
}

// FetchWindow retrieves one location's aggregation data for the given time
// range, following upstream pagination and preserving arrival order.
//
// Entries at or after the window end may be included because the upstream
// range is inclusive; the normalizer drops them. The returned record is
// never nil on success, even when the window holds no data.
func (c *Client) FetchWindow(ctx context.Context, q Query, location string, start, end time.Time) (*RawRecord, error) {
	params := url.Values{}
	params.Set("id", q.ViewID)
	params.Set("recType", q.RecType)
	params.Set("from", start.UTC().Format(timeFromLayout))
	params.Set("to", end.UTC().Format(timeToLayout))
	params.Set("dataContext", encodeDataContext(q.DataContext))
	params.Set("loc1", location)
	params.Set("pageSize", strconv.Itoa(c.pageSize))
	setFieldParams(params, q.Fields)
	for k, v := range q.Extra {
		params.Set(k, v)
	}

	record := &RawRecord{Location: location}
	page := 1
	for {
		params.Set("page", strconv.Itoa(page))

		var env recordEnvelope
		if err := c.getJSON(ctx, "aggregation", c.aggregateURL+"?"+params.Encode(), &env); err != nil {
			return nil, fmt.Errorf("fetch window for %q page %d: %w", location, page, err)
		}
		metrics.RecordPageFetched()

		if len(env.Objs) == 0 {
			break
		}
		for _, obj := range env.Objs {
			record.Groups = append(record.Groups, RecordGroup{
				Tags: obj.Data.ID.Tags,
				Line: obj.Data.Line,
			})
		}

		totalPages := env.Meta.TotalPages
		if totalPages < 1 {
			totalPages = 1
		}
		currentPage := env.Meta.CurrentPage
		if currentPage < 1 {
			currentPage = page
		}
		if currentPage >= totalPages {
			break
		}
		if page == 1 {
			logging.Warn().
				Str("stream", q.StreamID).
				Str("location", location).
				Int("total_pages", totalPages).
				Int("total_count", env.Meta.TotalCount).
				Msg("Window spans multiple pages, consider a shorter sync interval")
		}
		page++
	}

	metrics.RecordRecordsFetched(q.StreamID, record.EntryCount())
	logging.Debug().
		Str("stream", q.StreamID).
		Str("location", location).
		Int("groups", len(record.Groups)).
		Int("entries", record.EntryCount()).
		Int("pages", page).
		Msg("Window fetched")
	return record, nil
}

// Ping verifies connectivity and credentials against the device endpoint.
// Used by the readiness probe; does not retry.
func (c *Client) Ping(ctx context.Context, devRecType, clusterID string) error {
	if err := c.waitLimiter(ctx); err != nil {
		return err
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping sensor cloud: %w", err)
	}

	reqURL := fmt.Sprintf("%s/device/%s/%s?details=false", c.baseURL, devRecType, clusterID)
	start := time.Now()
	resp, err := c.doRequestWithRateLimit(ctx, reqURL, token)
	if err != nil {
		metrics.RecordSourceRequest("discovery", "error", time.Since(start))
		return fmt.Errorf("failed to ping sensor cloud: %w", err)
	}
	defer resp.Body.Close()
	metrics.RecordSourceRequest("discovery", statusLabel(resp.StatusCode), time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, readBodyForError(resp.Body))
	}
	return nil
}

// getJSON performs an upstream GET with the full resilience stack and
// decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, endpoint, reqURL string, out any) error {
	return c.retryTransient(ctx, func() error {
		return c.getJSONOnce(ctx, endpoint, reqURL, out)
	})
}

func (c *Client) getJSONOnce(ctx context.Context, endpoint, reqURL string, out any) error {
	if err := c.waitLimiter(ctx); err != nil {
		return err
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("acquire token: %w", err)
	}

	start := time.Now()
	resp, err := c.doRequestWithRateLimit(ctx, reqURL, token)
	if err != nil {
		metrics.RecordSourceRequest(endpoint, "error", time.Since(start))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrUnavailable) {
			return err
		}
		// Network errors and client timeouts count as upstream unavailable.
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	metrics.RecordSourceRequest(endpoint, statusLabel(resp.StatusCode), time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, readBodyForError(resp.Body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

// doRequestWithRateLimit performs an HTTP GET with automatic 429 handling.
// Implements exponential backoff honoring Retry-After (RFC 6585). The
// context is used for cancellation during backoff waits.
func (c *Client) doRequestWithRateLimit(ctx context.Context, reqURL, token string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRateLimitRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		// Rate limited - close body and retry with backoff
		_ = resp.Body.Close()

		if attempt == maxRateLimitRetries {
			lastErr = fmt.Errorf("%w: rate limit exceeded after %d retries (HTTP 429)", ErrUnavailable, maxRateLimitRetries)
			break
		}

		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
				delay = seconds
			}
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// retryTransient executes fn with exponential backoff on transient upstream
// failures. Permanent failures surface immediately without retry.
func (c *Client) retryTransient(ctx context.Context, fn func() error) error {
	var err error
	delay := c.retryBaseDelay

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return err
		}

		if attempt < c.maxRetries-1 {
			logging.Warn().Err(err).Int("attempt", attempt+1).Int("max_attempts", c.maxRetries).Dur("delay", delay).Msg("Transient upstream failure, retrying")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}

	return fmt.Errorf("max retry attempts reached: %w", err)
}

// waitLimiter blocks until the client-side rate limiter admits a request.
func (c *Client) waitLimiter(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	r := c.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate limiter cannot satisfy request")
	}
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	metrics.RecordRateLimitWait()
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

// encodeDataContext renders the structured filter as a single JSON-encoded
// string. Sending the values as repeated scalar parameters makes the
// upstream return 5xx.
func encodeDataContext(ctx []string) string {
	if len(ctx) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ctx)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// setFieldParams fills the six projection parameters. Slots without a
// configured field carry their own name as a placeholder; the upstream
// returns 503 when any of field1..field6 is missing.
func setFieldParams(params url.Values, fields []string) {
	for i := 0; i < 6; i++ {
		name := "field" + strconv.Itoa(i+1)
		value := name
		if i < len(fields) && fields[i] != "" {
			value = fields[i]
		}
		params.Set(name, value)
	}
}

// statusLabel renders an HTTP status code as a metrics label value.
func statusLabel(status int) string {
	return strconv.Itoa(status)
}
