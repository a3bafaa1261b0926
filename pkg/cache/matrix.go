package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Siddhant-K-code/diffsets/pkg/similarity"
)

// matrixVersion is bumped whenever the encoding changes.
const matrixVersion = 1

// MatrixCache stores similarity matrices keyed by a hash of the pool's
// ordered ids and their embeddings. A changed embedding or member order
// yields a different key, so stale matrices are never served.
type MatrixCache struct {
	backend Cache
	ttl     time.Duration
}

// NewMatrixCache wraps a byte cache.
func NewMatrixCache(backend Cache, ttl time.Duration) *MatrixCache {
	return &MatrixCache{backend: backend, ttl: ttl}
}

// Stats reports the backend's counters.
func (c *MatrixCache) Stats() Stats { return c.backend.Stats() }

// Key hashes ids and rows. Rows must be aligned with ids.
func Key(ids []string, rows [][]float32) string {
	h := sha256.New()
	var buf [4]byte
	for i, id := range ids {
		binary.LittleEndian.PutUint32(buf[:], uint32(len(id)))
		h.Write(buf[:])
		h.Write([]byte(id))
		for _, x := range rows[i] {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(x))
			h.Write(buf[:])
		}
	}
	return fmt.Sprintf("matrix:v%d:%s", matrixVersion, hex.EncodeToString(h.Sum(nil))[:32])
}

// Get returns the cached matrix for key. A miss or a corrupt entry returns
// ErrNotFound or ErrCorrupt respectively.
func (c *MatrixCache) Get(ctx context.Context, key string, ids []string) (*similarity.Matrix, error) {
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	values, err := decodeMatrix(data, len(ids))
	if err != nil {
		_ = c.backend.Delete(ctx, key)
		return nil, err
	}
	return similarity.FromData(ids, values)
}

// Put stores m under key.
func (c *MatrixCache) Put(ctx context.Context, key string, m *similarity.Matrix) error {
	return c.backend.Set(ctx, key, encodeMatrix(m), c.ttl)
}

// GetOrBuild returns the cached matrix or builds it from rows and stores
// it. Cache failures are not fatal; hit reports whether the cache served
// the matrix.
func (c *MatrixCache) GetOrBuild(ctx context.Context, ids []string, rows [][]float32) (m *similarity.Matrix, hit bool, err error) {
	key := Key(ids, rows)
	m, err = c.Get(ctx, key, ids)
	if err == nil {
		return m, true, nil
	}

	m = similarity.FromRows(ids, rows)
	if perr := c.Put(ctx, key, m); perr != nil && !errors.Is(perr, ErrValueTooLarge) {
		return m, false, fmt.Errorf("store matrix: %w", perr)
	}
	return m, false, nil
}

// encodeMatrix writes n followed by the upper triangle as float64 values.
func encodeMatrix(m *similarity.Matrix) []byte {
	n := m.Len()
	tri := n * (n - 1) / 2
	buf := make([]byte, 4+8*tri)
	binary.LittleEndian.PutUint32(buf, uint32(n))
	off := 4
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(m.At(i, j)))
			off += 8
		}
	}
	return buf
}

func decodeMatrix(data []byte, n int) ([]float64, error) {
	if len(data) < 4 || int(binary.LittleEndian.Uint32(data)) != n {
		return nil, ErrCorrupt
	}
	tri := n * (n - 1) / 2
	if len(data) != 4+8*tri {
		return nil, ErrCorrupt
	}

	values := make([]float64, n*n)
	off := 4
	for i := 0; i < n; i++ {
		values[i*n+i] = 1
		for j := i + 1; j < n; j++ {
			v := math.Float64frombits(binary.LittleEndian.Uint64(data[off:]))
			values[i*n+j] = v
			values[j*n+i] = v
			off += 8
		}
	}
	return values, nil
}
