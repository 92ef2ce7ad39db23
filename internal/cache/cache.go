package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ctchen222/otaku-list/internal/apperror"
	"ctchen222/otaku-list/internal/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

var (
	tracer = otel.Tracer("cache")
	meter  = otel.Meter("cache")
)

// ComputeFunc produces the value for a missing key. It receives a context that
// is detached from the caller that triggered it and bounded by the cache's
// compute timeout.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Options tunes a Cache. Zero durations fall back to the defaults below.
type Options struct {
	// WaitTimeout bounds how long a caller waits for an in-flight computation.
	WaitTimeout time.Duration
	// ComputeTimeout bounds a single computation.
	ComputeTimeout time.Duration
}

const (
	defaultWaitTimeout    = 10 * time.Second
	defaultComputeTimeout = 10 * time.Second
)

// Cache is a read-through cache with single-flight population: for a given
// key at most one ComputeFunc runs at a time and every concurrent caller gets
// its result. Failed computations are not stored.
type Cache struct {
	store          Store
	group          singleflight.Group
	waitTimeout    time.Duration
	computeTimeout time.Duration

	hits         metric.Int64Counter
	misses       metric.Int64Counter
	computations metric.Int64Counter
	failures     metric.Int64Counter
}

// New wraps store with single-flight population.
func New(store Store, opts Options) *Cache {
	c := &Cache{
		store:          store,
		waitTimeout:    opts.WaitTimeout,
		computeTimeout: opts.ComputeTimeout,
	}
	if c.waitTimeout <= 0 {
		c.waitTimeout = defaultWaitTimeout
	}
	if c.computeTimeout <= 0 {
		c.computeTimeout = defaultComputeTimeout
	}

	c.hits = counter("cache.hits", "Lookups served from the store")
	c.misses = counter("cache.misses", "Lookups that found no live entry")
	c.computations = counter("cache.computations", "Compute functions started")
	c.failures = counter("cache.compute_failures", "Compute functions that returned an error")
	return c
}

func counter(name, desc string) metric.Int64Counter {
	ctr, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		otel.Handle(err)
		return noop.Int64Counter{}
	}
	return ctr
}

// GetOrCompute returns the live value for key, computing and storing it with
// the given ttl on a miss. The returned slice is shared between callers and
// must not be modified.
//
// Cancelling ctx, or waiting longer than the wait timeout, only abandons the
// wait: the computation keeps running and still populates the store.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Cache.GetOrCompute", trace.WithAttributes(
		attribute.String("cache.key", key),
	))
	defer span.End()

	if val, ok := c.lookup(ctx, key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return val, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	// The flight runs on its own goroutine with a context that outlives ctx.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.fill(flightCtx, key, ttl, compute)
	})

	timer := time.NewTimer(c.waitTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, "compute failed")
			return nil, res.Err
		}
		span.SetAttributes(attribute.Bool("cache.shared", res.Shared))
		return res.Val.([]byte), nil
	case <-ctx.Done():
		err := apperror.UpstreamUnavailable("request cancelled while waiting for upstream", ctx.Err())
		span.RecordError(err)
		span.SetStatus(codes.Error, "wait cancelled")
		return nil, err
	case <-timer.C:
		err := apperror.UpstreamUnavailable("timed out waiting for upstream", context.DeadlineExceeded)
		span.RecordError(err)
		span.SetStatus(codes.Error, "wait timed out")
		return nil, err
	}
}

// lookup reads the store. A failing store is logged and treated as a miss so
// the request is served from the source instead.
func (c *Cache) lookup(ctx context.Context, key string) ([]byte, bool) {
	val, ok, err := c.store.Get(ctx, key)
	if err != nil {
		logger.FromContext(ctx).WarnContext(ctx, "cache store read failed, treating as miss", "key", key, "error", err)
		ok = false
	}
	if ok {
		c.hits.Add(ctx, 1)
		return val, true
	}
	c.misses.Add(ctx, 1)
	return nil, false
}

func (c *Cache) fill(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (val []byte, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.computeTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "Cache.fill", trace.WithAttributes(
		attribute.String("cache.key", key),
		attribute.String("cache.ttl", ttl.String()),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			val = nil
			err = apperror.Internal("cache computation panicked", fmt.Errorf("%v", r))
		}
		if err != nil {
			c.failures.Add(ctx, 1)
			span.RecordError(err)
			span.SetStatus(codes.Error, "compute failed")
		}
	}()

	// A previous flight may have stored the value after our lookup missed.
	if v, ok, getErr := c.store.Get(ctx, key); getErr == nil && ok {
		return v, nil
	}

	c.computations.Add(ctx, 1)
	val, err = compute(ctx)
	if err != nil {
		if _, ok := apperror.As(err); !ok && errors.Is(err, context.DeadlineExceeded) {
			err = apperror.UpstreamUnavailable("upstream computation timed out", err)
		}
		return nil, err
	}

	if setErr := c.store.Set(ctx, key, val, ttl); setErr != nil {
		logger.FromContext(ctx).WarnContext(ctx, "cache store write failed", "key", key, "error", setErr)
	}
	return val, nil
}
