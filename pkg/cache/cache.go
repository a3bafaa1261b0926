// Package cache provides the byte stores (in-memory LRU, Redis) behind
// the similarity matrix cache, so repeated runs over unchanged pools skip
// the O(n²·D) matrix build.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrValueTooLarge = errors.New("value exceeds maximum size")
	ErrCorrupt       = errors.New("cached value is corrupt")
)

// Cache is a byte store with per-entry expiry.
type Cache interface {
	// Get returns ErrNotFound for absent or expired keys.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value. A zero ttl falls back to the store default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error
	Stats() Stats
	Close() error
}

// Stats counts lookups against a store. Entries and Bytes are only
// tracked by stores that hold their data locally.
type Stats struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Evictions int64
	Entries   int64
	Bytes     int64
}

// HitRate is the share of lookups served from the store, in [0, 1].
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Config bounds an in-memory store.
type Config struct {
	// MaxEntries caps the number of matrices held (0 = unlimited).
	MaxEntries int64

	// MaxBytes caps the encoded size of all matrices (0 = unlimited).
	MaxBytes int64

	// TTL applies to entries stored without one (0 = never expire).
	TTL time.Duration
}

// DefaultConfig returns sensible defaults. A 300-member pool matrix is
// about 350KB encoded, so 256MB holds several hundred pools.
func DefaultConfig() Config {
	return Config{
		MaxEntries: 1000,
		MaxBytes:   256 * 1024 * 1024,
		TTL:        24 * time.Hour,
	}
}
