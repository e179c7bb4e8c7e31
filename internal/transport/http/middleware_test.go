package http

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newMiddlewareServer(log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return NewServer(log, new(SyncServiceMock), new(MetricsServiceMock), new(SchedulerServiceMock), new(RateLimitReaderMock))
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Run("generates a new request id", func(t *testing.T) {
		srv := newMiddlewareServer(nil)

		var capturedID string
		handler := srv.requestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedID = getRequestID(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.NotEmpty(t, capturedID)
		assert.Equal(t, capturedID, rr.Header().Get(requestIDHeader))
	})

	t.Run("uses the incoming request id", func(t *testing.T) {
		srv := newMiddlewareServer(nil)

		var capturedID string
		handler := srv.requestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedID = getRequestID(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(requestIDHeader, "existing-id")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, "existing-id", capturedID)
		assert.Equal(t, "existing-id", rr.Header().Get(requestIDHeader))
	})
}

func TestLogRequestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	srv := newMiddlewareServer(log)

	handler := srv.requestID(srv.logRequest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/test-path", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	output := buf.String()
	assert.Contains(t, output, "request started")
	assert.Contains(t, output, "request completed")
	assert.Contains(t, output, "method=GET")
	assert.Contains(t, output, "path=/test-path")
	assert.Contains(t, output, "duration=")
	assert.Contains(t, output, "request_id=")
}

func TestGetRequestID(t *testing.T) {
	t.Run("returns the stored id", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), requestIDKey, "some-id")
		assert.Equal(t, "some-id", getRequestID(ctx))
	})

	t.Run("empty without one", func(t *testing.T) {
		assert.Empty(t, getRequestID(context.Background()))
	})
}
