package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"ctchen222/otaku-list/internal/apperror"
	"ctchen222/otaku-list/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	return NewClient(config.CatalogConfig{
		BaseURL:           srv.URL + "/v4/",
		Timeout:           time.Second,
		RequestsPerSecond: 1000,
		Burst:             100,
	}), &hits
}

func TestClient_Get(t *testing.T) {
	var gotPath, gotQuery string
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"mal_id":21}]}`))
	})

	body, err := c.Get(context.Background(), "top/anime", url.Values{"page": {"1"}, "limit": {"10"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[{"mal_id":21}]}`, string(body))
	assert.Equal(t, "/v4/top/anime", gotPath)
	assert.Equal(t, "limit=10&page=1", gotQuery)
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, apperror.ErrRateLimited},
		{"not found", http.StatusNotFound, `{}`, apperror.ErrNotFound},
		{"server error", http.StatusInternalServerError, `{}`, apperror.ErrUpstreamUnavailable},
		{"bad gateway", http.StatusBadGateway, `<html>`, apperror.ErrUpstreamUnavailable},
		{"malformed json", http.StatusOK, `{"data":`, apperror.ErrUpstreamUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.Get(context.Background(), "anime/1/full", nil)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	c, hits := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 5; i++ {
		_, err := c.Get(context.Background(), "genres/anime", nil)
		require.ErrorIs(t, err, apperror.ErrUpstreamUnavailable)
	}
	require.Equal(t, int32(5), hits.Load())

	_, err := c.Get(context.Background(), "genres/anime", nil)
	assert.ErrorIs(t, err, apperror.ErrUpstreamUnavailable)
	assert.Equal(t, int32(5), hits.Load(), "open breaker must not reach the upstream")
}

func TestClient_RateLimitDoesNotTripBreaker(t *testing.T) {
	c, hits := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	for i := 0; i < 8; i++ {
		_, err := c.Get(context.Background(), "top/anime", nil)
		require.ErrorIs(t, err, apperror.ErrRateLimited)
	}
	assert.Equal(t, int32(8), hits.Load())
}

func TestClient_RespectsContextWhilePaced(t *testing.T) {
	c := NewClient(config.CatalogConfig{
		BaseURL:           "http://127.0.0.1:1",
		Timeout:           time.Second,
		RequestsPerSecond: 0.001,
		Burst:             1,
	})
	// Drain the only token.
	require.True(t, c.limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, "top/anime", nil)
	assert.ErrorIs(t, err, apperror.ErrUpstreamUnavailable)
}
