// Package cache stores resolved display names so the poll loop does not
// look up the same user on every batch.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-valued key/value store with per-entry TTL. A miss is
// (nil, false, nil); errors are reserved for a broken store.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Nop never stores anything. Used when the cache provider is "none".
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Delete(context.Context, string) error                     { return nil }
func (Nop) Close() error                                             { return nil }

// Stats holds cache statistics
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Items     int
	HitRate   float64
}
