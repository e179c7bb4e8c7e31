package platform

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	headerRateRemaining = "X-RateLimit-Remaining"
	headerRateLimit     = "X-RateLimit-Limit"
	headerRateReset     = "X-RateLimit-Reset"
	headerRetryAfter    = "Retry-After"
)

// RateLimitState is a read-only snapshot of the tracked quota, exposed to
// the admin surface.
type RateLimitState struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// quotaTracker keeps the remaining-quota and reset-time reported by the
// platform. When the remaining quota falls to the low-water mark, the next
// request waits until the tracked reset time instead of burning the reserve.
type quotaTracker struct {
	mu           sync.Mutex
	limit        int
	remaining    int
	resetAt      time.Time
	lowWaterMark int
}

func newQuotaTracker(assumedLimit, lowWaterMark int) *quotaTracker {
	return &quotaTracker{
		limit:        assumedLimit,
		remaining:    assumedLimit,
		lowWaterMark: lowWaterMark,
	}
}

// wait blocks until it is safe to issue the next request.
func (q *quotaTracker) wait(ctx context.Context) error {
	q.mu.Lock()
	remaining := q.remaining
	resetAt := q.resetAt
	q.mu.Unlock()

	if remaining > q.lowWaterMark || !time.Now().Before(resetAt) {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Until(resetAt)):
		return nil
	}
}

// updateFromResponse refreshes the tracked state from response metadata.
func (q *quotaTracker) updateFromResponse(resp *http.Response) {
	if resp == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if v := resp.Header.Get(headerRateRemaining); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.remaining = n
		}
	}

	if v := resp.Header.Get(headerRateLimit); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.limit = n
		}
	}

	if v := resp.Header.Get(headerRateReset); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			q.resetAt = time.Unix(unix, 0)
		}
	}

	// A Retry-After header overrides the reset timestamp.
	if v := resp.Header.Get(headerRetryAfter); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			q.resetAt = time.Now().Add(time.Duration(seconds) * time.Second)
		}
	}
}

// exhausted reports whether the response means the quota is spent.
func (q *quotaTracker) exhausted(resp *http.Response) bool {
	if resp == nil {
		return false
	}

	q.mu.Lock()
	remaining := q.remaining
	q.mu.Unlock()

	return resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode == http.StatusForbidden && remaining == 0)
}

func (q *quotaTracker) state() RateLimitState {
	q.mu.Lock()
	defer q.mu.Unlock()

	return RateLimitState{
		Limit:     q.limit,
		Remaining: q.remaining,
		ResetAt:   q.resetAt,
	}
}
