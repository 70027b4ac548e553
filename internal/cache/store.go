package cache

import (
	"context"
	"time"
)

// Store is the shared ephemeral key/value abstraction. The status tracker
// keeps its per-message acknowledgment records here so deployments can point
// it at Redis; everything else falls back to the primary database.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}
