// Package embedding provides read-only access to per-object image
// embeddings and the sources they are loaded from.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/Siddhant-K-code/diffsets/pkg/logging"
	dmath "github.com/Siddhant-K-code/diffsets/pkg/math"
	"github.com/Siddhant-K-code/diffsets/pkg/types"
)

// Common errors returned by embedding stores and sources.
var (
	ErrNotFound          = errors.New("embedding not found")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrUnknownFormat     = errors.New("unknown embedding source format")
)

// Store is a read-only mapping from object id to unit-length embedding.
type Store interface {
	// Get returns the embedding for id. The returned slice must not be mutated.
	Get(id string) ([]float32, bool)

	// Len returns the number of embedded objects.
	Len() int

	// Dimension returns the shared dimensionality, or 0 for an empty store.
	Dimension() int
}

// Source fetches raw (not yet normalised) embeddings. Ids that the source
// does not know are simply absent from the result.
type Source interface {
	Fetch(ctx context.Context, ids []string) (map[string][]float32, error)
	Close() error
}

// MapStore is an in-memory Store. Vectors are normalised on insert;
// zero-norm and non-finite vectors are rejected.
type MapStore struct {
	vectors map[string][]float32
	dim     int
}

// NewMapStore creates an empty store.
func NewMapStore() *MapStore {
	return &MapStore{vectors: make(map[string][]float32)}
}

// Put normalises and stores v under id, replacing any previous value.
func (s *MapStore) Put(id string, v []float32) error {
	if s.dim != 0 && len(v) != s.dim {
		return fmt.Errorf("%w: %q has %d dimensions, store has %d", ErrDimensionMismatch, id, len(v), s.dim)
	}
	unit, ok := dmath.Normalize(v)
	if !ok {
		return fmt.Errorf("embedding for %q is empty, zero or non-finite", id)
	}
	if s.dim == 0 {
		s.dim = len(unit)
	}
	s.vectors[id] = unit
	return nil
}

// Get implements Store.
func (s *MapStore) Get(id string) ([]float32, bool) {
	v, ok := s.vectors[id]
	return v, ok
}

// MustGet returns the embedding for id or ErrNotFound.
func (s *MapStore) MustGet(id string) ([]float32, error) {
	v, ok := s.vectors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return v, nil
}

// Len implements Store.
func (s *MapStore) Len() int { return len(s.vectors) }

// Dimension implements Store.
func (s *MapStore) Dimension() int { return s.dim }

// IDs returns the stored ids in lexical order.
func (s *MapStore) IDs() []string {
	ids := make([]string, 0, len(s.vectors))
	for id := range s.vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Vectors returns the stored embeddings as types.Vector values, in id order.
func (s *MapStore) Vectors() []types.Vector {
	ids := s.IDs()
	out := make([]types.Vector, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.Vector{ID: id, Values: s.vectors[id]})
	}
	return out
}

// Filter returns the subset of ids that have an embedding, in input order.
func Filter(store Store, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := store.Get(id); ok {
			out = append(out, id)
		}
	}
	return out
}

// Rows returns the embeddings of ids in order. Every id must be present.
func Rows(store Store, ids []string) ([][]float32, error) {
	rows := make([][]float32, len(ids))
	for i, id := range ids {
		v, ok := store.Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		rows[i] = v
	}
	return rows, nil
}

// Load fetches ids from src into a new MapStore. Invalid vectors are
// skipped and logged; ids the source does not return count as missing.
// The first valid vector, in lexical id order, fixes the dimensionality.
func Load(ctx context.Context, src Source, ids []string) (*MapStore, types.LoadStats, error) {
	var stats types.LoadStats

	raw, err := src.Fetch(ctx, ids)
	if err != nil {
		return nil, stats, fmt.Errorf("fetch embeddings: %w", err)
	}

	store := FromMap(raw, &stats)

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := raw[id]; !ok {
			stats.Missing++
		}
	}

	return store, stats, nil
}

// FromMap builds a store from raw vectors, counting loaded and skipped
// entries into stats when it is non-nil.
func FromMap(raw map[string][]float32, stats *types.LoadStats) *MapStore {
	log := logging.Logger()
	store := NewMapStore()

	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := store.Put(id, raw[id]); err != nil {
			log.WithFields(logrus.Fields{"object_id": id}).WithError(err).Warn("skipping embedding")
			if stats != nil {
				stats.Skipped++
			}
			continue
		}
		if stats != nil {
			stats.Loaded++
		}
	}
	return store
}
