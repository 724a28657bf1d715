// Package kvstore provides the cache-grade key-value store backing
// conversation history, upload staging, catalogs, quotes, and dedup markers.
// Every entry carries its own TTL; expired entries read as absent.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a generic TTL key-value store. Values are opaque bytes; callers
// JSON-encode what they need. Same-key concurrent writers are last-write-wins.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	ScanPrefix(ctx context.Context, prefix string) (map[string][]byte, error)
	Close() error
}
