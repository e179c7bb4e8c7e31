// Package platform implements the rate-limited client for the external
// hosting platform. It speaks both the paginated REST API and the
// cursor-based graph API, and normalizes the two heterogeneous payload
// shapes into one canonical form before anything reaches the sync layer.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/avoronov/gitpulse/internal/apperrors"
	"github.com/avoronov/gitpulse/internal/config"
)

// assumedQuota is the full quota assumed before the first response reports
// actual numbers.
const assumedQuota = 5000

// courtesyRate is the proactive throttle applied to every request,
// independent of the reactive quota tracking.
const courtesyRate = 2.0

// Page is one page of a paginated REST listing.
type Page struct {
	Items    []json.RawMessage
	HasMore  bool
	NextPage int
}

// Client talks to the platform API. It issues a single outstanding request
// at a time per invocation path; it never fans out internally.
type Client struct {
	httpc        *http.Client
	baseURL      string
	graphURL     string
	org          string
	pageSize     int
	graphTimeout time.Duration

	maxRetries  int
	backoffBase time.Duration
	backoffCap  time.Duration

	quota  *quotaTracker
	bucket *rate.Limiter
	log    *slog.Logger
}

// NewClient builds an authenticated client from configuration. The token is
// carried by an oauth2 static token source.
func NewClient(cfg config.Platform, rl config.RateLimit, log *slog.Logger) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	return &Client{
		httpc:        oauth2.NewClient(context.Background(), ts),
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		graphURL:     cfg.GraphURL,
		org:          cfg.Organization,
		pageSize:     pageSize,
		graphTimeout: cfg.GraphTimeout,
		maxRetries:   rl.MaxRetries,
		backoffBase:  rl.BackoffBase,
		backoffCap:   rl.BackoffCap,
		quota:        newQuotaTracker(assumedQuota, rl.LowWaterMark),
		bucket:       rate.NewLimiter(rate.Limit(courtesyRate), 1),
		log:          log,
	}
}

// PageSize returns the configured REST page size.
func (c *Client) PageSize() int { return c.pageSize }

// RateLimitState returns a snapshot of the tracked quota.
func (c *Client) RateLimitState() RateLimitState { return c.quota.state() }

// restEnvelope is the REST listing response shape. HasMore is a pointer so
// that an omitted field can fall back to the full-page heuristic.
type restEnvelope struct {
	Data     []json.RawMessage `json:"data"`
	HasMore  *bool             `json:"hasMore"`
	NextPage int               `json:"nextPage"`
}

// FetchPage retrieves one page of a REST listing. Pagination continues while
// the server reports more data, or, when it does not say, while the returned
// page is exactly full-size.
func (c *Client) FetchPage(ctx context.Context, resource string, params url.Values) (*Page, error) {
	const op = "internal.platform.FetchPage"

	if params == nil {
		params = url.Values{}
	}
	if params.Get("page") == "" {
		params.Set("page", "1")
	}
	params.Set("per_page", strconv.Itoa(c.pageSize))

	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, strings.TrimLeft(resource, "/"), params.Encode())

	body, err := c.doWithRetry(ctx, op, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	})
	if err != nil {
		return nil, err
	}

	var env restEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%s: failed to decode response: %w", op, err)
	}

	hasMore := len(env.Data) == c.pageSize
	if env.HasMore != nil {
		hasMore = *env.HasMore
	}

	nextPage := env.NextPage
	if hasMore && nextPage == 0 {
		page, _ := strconv.Atoi(params.Get("page"))
		nextPage = page + 1
	}

	return &Page{Items: env.Data, HasMore: hasMore, NextPage: nextPage}, nil
}

// graphEnvelope is the graph-query response shape. A non-empty errors array
// is a hard failure regardless of HTTP status.
type graphEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// ExecuteQuery runs a graph-style query with a bounded request timeout,
// distinct from transport-level retryable timeouts.
func (c *Client) ExecuteQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	const op = "internal.platform.ExecuteQuery"

	payload, err := json.Marshal(map[string]any{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to encode query: %w", op, err)
	}

	queryCtx, cancel := context.WithTimeout(ctx, c.graphTimeout)
	defer cancel()

	body, err := c.doWithRetry(queryCtx, op, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var env graphEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%s: failed to decode response: %w", op, err)
	}

	if len(env.Errors) > 0 {
		msgs := make([]string, len(env.Errors))
		for i, e := range env.Errors {
			msgs[i] = e.Message
		}
		return nil, fmt.Errorf("%s: graph query failed: %s", op, strings.Join(msgs, "; "))
	}

	return env.Data, nil
}

// doWithRetry issues a request, retrying transient failures with exponential
// backoff. Quota exhaustion fails fast as a distinct, non-retryable
// condition; other client-request errors fail fast without retry.
func (c *Client) doWithRetry(ctx context.Context, op string, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoffDelay(attempt)
			c.log.Warn("retrying request",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.String("delay", delay.String()),
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.doOnce(ctx, build)
		if err == nil {
			return body, nil
		}
		if !isTransient(err) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		lastErr = err
	}

	return nil, &apperrors.TransientError{Op: op, Err: lastErr}
}

func (c *Client) doOnce(ctx context.Context, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	if err := c.bucket.Wait(ctx); err != nil {
		return nil, err
	}
	if err := c.quota.wait(ctx); err != nil {
		return nil, err
	}

	req, err := build(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	c.quota.updateFromResponse(resp)

	if c.quota.exhausted(resp) {
		st := c.quota.state()
		return nil, &apperrors.RateLimitError{ResetAt: st.ResetAt, Remaining: st.Remaining}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, &httpError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.backoffBase << (attempt - 1)
	if delay > c.backoffCap {
		delay = c.backoffCap
	}
	return delay
}

// httpError is a non-2xx response that was not a quota rejection.
type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// isTransient classifies gateway/timeout/connection-reset class failures.
func isTransient(err error) bool {
	var httpErr *httpError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}

	var rlErr *apperrors.RateLimitError
	if errors.As(err, &rlErr) {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused")
}
