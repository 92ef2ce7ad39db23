package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"ctchen222/otaku-list/internal/api/response"
	"ctchen222/otaku-list/internal/logger"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const limiterCleanupInterval = 5 * time.Minute

// RateLimiter hands out one token bucket per client key.
type RateLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	requests int
	window   time.Duration

	mu          sync.Mutex
	lastCleanup time.Time
}

// NewRateLimiter allows requests per window for each key, all of them
// available as a burst.
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		rate:        rate.Limit(float64(requests) / window.Seconds()),
		burst:       requests,
		requests:    requests,
		window:      window,
		lastCleanup: time.Now(),
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	if l, ok := rl.limiters.Load(key); ok {
		return l.(*rate.Limiter)
	}
	l, _ := rl.limiters.LoadOrStore(key, rate.NewLimiter(rl.rate, rl.burst))
	rl.maybeCleanup()
	return l.(*rate.Limiter)
}

// maybeCleanup drops limiters whose bucket has refilled, which means the key
// has been idle.
func (rl *RateLimiter) maybeCleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) < limiterCleanupInterval {
		return
	}
	rl.lastCleanup = time.Now()

	rl.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(rl.burst) {
			rl.limiters.Delete(key)
		}
		return true
	})
}

// Middleware limits requests by client IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		l := rl.limiter(key)
		if l.Allow() {
			c.Next()
			return
		}

		r := l.Reserve()
		delay := r.Delay()
		r.Cancel()
		retryAfter := max(int(delay.Seconds()), 1)

		ctx := c.Request.Context()
		logger.FromContext(ctx).WarnContext(ctx, "rate limit exceeded",
			"key", key, "path", c.Request.URL.Path, "retry_after", retryAfter)

		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Window", rl.window.String())
		response.ErrorResponse(c, http.StatusTooManyRequests, "Too many requests. Please try again later.")
	}
}
