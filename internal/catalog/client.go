// Package catalog proxies the public Jikan anime catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ctchen222/otaku-list/internal/apperror"
	"ctchen222/otaku-list/internal/config"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("catalog")

const maxBodyBytes = 8 << 20

// Client fetches raw JSON documents from the upstream catalog. Outbound calls
// are paced to the upstream's published rate and short-circuited while the
// upstream keeps failing.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a Client for cfg.BaseURL.
func NewClient(cfg config.CatalogConfig, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "jikan",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Answers the upstream gave on purpose say nothing about its health.
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			switch apperror.KindOf(err) {
			case apperror.KindRateLimited, apperror.KindNotFound, apperror.KindInvalidInput:
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Get fetches endpoint (relative to the base URL) with query and returns the
// response body, which is guaranteed to be valid JSON.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Client.Get", trace.WithAttributes(
		attribute.String("catalog.endpoint", endpoint),
	))
	defer span.End()

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, endpoint, query)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = apperror.UpstreamUnavailable("catalog temporarily unavailable", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "catalog request failed")
		return nil, err
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperror.UpstreamUnavailable("timed out waiting for catalog rate limit", err)
	}

	target := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperror.Internal("failed to build catalog request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperror.UpstreamUnavailable("catalog request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperror.UpstreamUnavailable("failed to read catalog response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperror.RateLimited("Rate limit reached. Please try again later.")
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperror.NotFound("catalog resource not found")
	case resp.StatusCode == http.StatusBadRequest:
		return nil, apperror.InvalidInput("catalog rejected the request")
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, apperror.UpstreamUnavailable(
			fmt.Sprintf("catalog returned status %d", resp.StatusCode), nil)
	}

	if !json.Valid(body) {
		return nil, apperror.UpstreamUnavailable("catalog returned malformed JSON", nil)
	}
	return body, nil
}
