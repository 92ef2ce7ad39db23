package cache

import (
	"context"
	"time"
)

// Store is the key/value backend behind a Cache. Implementations must never
// return an entry whose TTL has elapsed.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
