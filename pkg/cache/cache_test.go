package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_GetSet(t *testing.T) {
	c := NewMemoryCache(DefaultConfig())
	ctx := context.Background()

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Set(ctx, "k", []byte("value"), 0))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	require.NoError(t, c.Set(ctx, "k", []byte("v2"), 0))
	got, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	s := c.Stats()
	assert.Equal(t, int64(1), s.Entries, "overwrite keeps one entry")
	assert.Equal(t, int64(len("k")+len("v2")), s.Bytes)
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
}

func TestMemoryCache_ValueTooLarge(t *testing.T) {
	c := NewMemoryCache(Config{MaxBytes: 8})
	err := c.Set(context.Background(), "k", []byte("much too large"), 0)
	assert.ErrorIs(t, err, ErrValueTooLarge)
	assert.Zero(t, c.Stats().Entries)
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache(DefaultConfig())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, c.Delete(ctx, "k"))
	assert.ErrorIs(t, c.Delete(ctx, "k"), ErrNotFound)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, c.Stats().Bytes)
}

func TestMemoryCache_TTL(t *testing.T) {
	c := NewMemoryCache(Config{TTL: time.Hour})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), 20*time.Millisecond))
	require.NoError(t, c.Set(ctx, "long", []byte("v"), 0))

	time.Sleep(40 * time.Millisecond)

	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Get(ctx, "long")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), c.Stats().Entries)
}

func TestMemoryCache_Eviction(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		evicted []string
		kept    []string
	}{
		{
			name:    "entry limit",
			cfg:     Config{MaxEntries: 2},
			evicted: []string{"b"},
			kept:    []string{"a", "c"},
		},
		{
			// Each entry is 1+4 bytes.
			name:    "byte limit",
			cfg:     Config{MaxBytes: 10},
			evicted: []string{"b"},
			kept:    []string{"a", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewMemoryCache(tt.cfg)
			ctx := context.Background()

			require.NoError(t, c.Set(ctx, "a", []byte("aaaa"), 0))
			require.NoError(t, c.Set(ctx, "b", []byte("bbbb"), 0))
			_, err := c.Get(ctx, "a") // a becomes most recent
			require.NoError(t, err)
			require.NoError(t, c.Set(ctx, "c", []byte("cccc"), 0))

			for _, k := range tt.evicted {
				_, err := c.Get(ctx, k)
				assert.ErrorIs(t, err, ErrNotFound, k)
			}
			for _, k := range tt.kept {
				_, err := c.Get(ctx, k)
				assert.NoError(t, err, k)
			}
			assert.Equal(t, int64(1), c.Stats().Evictions)
		})
	}
}

func TestMemoryCache_Concurrent(t *testing.T) {
	c := NewMemoryCache(Config{MaxEntries: 16})
	ctx := context.Background()

	done := make(chan struct{})
	for w := 0; w < 4; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("%d-%d", w, i%20)
				_ = c.Set(ctx, key, []byte(key), 0)
				_, _ = c.Get(ctx, key)
			}
		}(w)
	}
	for w := 0; w < 4; w++ {
		<-done
	}
	assert.LessOrEqual(t, c.Stats().Entries, int64(16))
}

func TestStats_HitRate(t *testing.T) {
	assert.Zero(t, Stats{}.HitRate())
	assert.InDelta(t, 0.75, Stats{Hits: 3, Misses: 1}.HitRate(), 1e-12)
}
