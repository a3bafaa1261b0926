package generator

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Siddhant-K-code/diffsets/pkg/cache"
	"github.com/Siddhant-K-code/diffsets/pkg/document"
	"github.com/Siddhant-K-code/diffsets/pkg/embedding"
	"github.com/Siddhant-K-code/diffsets/pkg/logging"
	"github.com/Siddhant-K-code/diffsets/pkg/similarity"
	"github.com/Siddhant-K-code/diffsets/pkg/types"
)

func init() {
	logging.SetOutput(io.Discard)
}

var blobVectors = map[string][]float32{
	"a1": {1, 0.1, 0},
	"a2": {1, -0.1, 0},
	"a3": {1, 0, 0.1},
	"a4": {1, 0, -0.12},
	"b1": {0.1, 1, 0},
	"b2": {-0.1, 1, 0},
	"b3": {0, 1, 0.1},
	"b4": {0, 1, -0.12},
}

var blobIDs = []string{"a1", "b1", "a2", "b2", "a3", "b3", "a4", "b4"}

func testStore(t *testing.T) *embedding.MapStore {
	t.Helper()
	store := embedding.NewMapStore()
	for id, v := range blobVectors {
		require.NoError(t, store.Put(id, v))
	}
	return store
}

func testPools() []types.Pool {
	return []types.Pool{
		{Category: "Shapes", ID: "p1", Members: blobIDs},
		{Category: "Shapes", ID: "tiny", Members: []string{"a1", "ghost"}},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Sizes = []int{2, 4}
	cfg.Seed = 7
	return cfg
}

func generate(t *testing.T, cfg Config, existing *document.Document, opts ...Option) *Result {
	t.Helper()
	g, err := New(cfg, opts...)
	require.NoError(t, err)
	res, err := g.Generate(context.Background(), testPools(), testStore(t), existing)
	require.NoError(t, err)
	return res
}

func setsByKey(p *document.Pool) map[types.Key][]types.Set {
	out := make(map[types.Key][]types.Set)
	for _, s := range p.Sets {
		out[s.Key()] = append(out[s.Key()], s)
	}
	return out
}

func TestGenerate_Invariants(t *testing.T) {
	for _, strategy := range []Strategy{StrategyClustered, StrategyGreedy} {
		for _, disjoint := range []bool{true, false} {
			cfg := testConfig()
			cfg.Strategy = strategy
			cfg.Disjoint = disjoint

			res := generate(t, cfg, nil)
			p := res.Document.Pool(types.PoolKey{Category: "Shapes", ID: "p1"})
			require.NotNil(t, p, "strategy=%s disjoint=%v", strategy, disjoint)

			members := make(map[string]bool)
			for _, id := range blobIDs {
				members[id] = true
			}

			for key, group := range setsByKey(p) {
				assert.LessOrEqual(t, len(group), 2, "quota for %+v", key)
			}

			usedBySize := make(map[int]map[string]bool)
			for _, s := range p.Sets {
				require.Len(t, s.Group, s.Size)
				seen := make(map[string]bool)
				for _, id := range s.Group {
					assert.True(t, members[id], "foreign id %s", id)
					assert.False(t, seen[id], "duplicate id %s", id)
					seen[id] = true
				}
				assert.GreaterOrEqual(t, s.HardnessPct, 0.0)
				assert.LessOrEqual(t, s.HardnessPct, 100.0)
				assert.InDelta(t, 100, s.HardnessPct+s.EasinessPct, 1e-9)

				if disjoint {
					if usedBySize[s.Size] == nil {
						usedBySize[s.Size] = make(map[string]bool)
					}
					for _, id := range s.Group {
						assert.False(t, usedBySize[s.Size][id], "strategy=%s: %s reused within size %d", strategy, id, s.Size)
						usedBySize[s.Size][id] = true
					}
				}
			}
		}
	}
}

func TestGenerate_HardIsMoreSimilarThanEasy(t *testing.T) {
	cfg := testConfig()
	cfg.Sizes = []int{2}
	cfg.Disjoint = false

	res := generate(t, cfg, nil)
	p := res.Document.Pool(types.PoolKey{Category: "Shapes", ID: "p1"})
	require.NotNil(t, p)

	byKey := setsByKey(p)
	hard := byKey[types.Key{Size: 2, Difficulty: types.Hard}]
	easy := byKey[types.Key{Size: 2, Difficulty: types.Easy}]
	require.NotEmpty(t, hard)
	require.NotEmpty(t, easy)

	for _, h := range hard {
		for _, e := range easy {
			assert.Greater(t, h.IntraMean, e.IntraMean)
		}
	}
}

func TestGenerate_SkipsSmallPools(t *testing.T) {
	res := generate(t, testConfig(), nil)

	assert.Nil(t, res.Document.Pool(types.PoolKey{Category: "Shapes", ID: "tiny"}))
	assert.Equal(t, 1, res.Stats.Pools)
	assert.Equal(t, 1, res.Stats.Skipped)
}

func TestGenerate_Reproducible(t *testing.T) {
	a := generate(t, testConfig(), nil)
	b := generate(t, testConfig(), nil)

	assert.NotEqual(t, a.Document.RunID, b.Document.RunID)
	assert.Equal(t, a.Document.Categories, b.Document.Categories)
	assert.Equal(t, int64(7), a.Document.Seed)
	assert.Equal(t, "clustered", a.Document.Strategy)

	_, err := time.Parse(time.RFC3339, a.Document.GeneratedAt)
	assert.NoError(t, err)
}

func TestGenerate_GreedyHardStartsFromTopPair(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy = StrategyGreedy
	cfg.Sizes = []int{2}

	res := generate(t, cfg, nil)
	p := res.Document.Pool(types.PoolKey{Category: "Shapes", ID: "p1"})
	require.NotNil(t, p)

	store := testStore(t)
	rows, err := embedding.Rows(store, blobIDs)
	require.NoError(t, err)
	m := similarity.FromRows(blobIDs, rows)
	top := m.Pairs(types.Maximize)[0]

	hard := setsByKey(p)[types.Key{Size: 2, Difficulty: types.Hard}]
	require.NotEmpty(t, hard)
	assert.Equal(t, []string{blobIDs[top.I], blobIDs[top.J]}, hard[0].Group)
}

func TestGenerate_ReusesStoredSets(t *testing.T) {
	stored := types.Set{
		Size:        2,
		Difficulty:  types.Hard,
		Group:       []string{"a1", "a2"},
		IntraMean:   0.123,
		HardnessPct: 42,
		EasinessPct: 58,
	}
	existing := document.New()
	existing.AddPool("Shapes", document.Pool{ID: "p1", Sets: []types.Set{
		stored,
		{Size: 2, Difficulty: types.Easy, Group: []string{}},
	}})

	cfg := testConfig()
	cfg.Sizes = []int{2}
	res := generate(t, cfg, existing)

	p := res.Document.Pool(types.PoolKey{Category: "Shapes", ID: "p1"})
	require.NotNil(t, p)
	byKey := setsByKey(p)

	hard := byKey[types.Key{Size: 2, Difficulty: types.Hard}]
	require.Len(t, hard, 1)
	assert.Equal(t, stored, hard[0])

	// The empty stored easy set is not reusable, so easy sets are rebuilt
	// around the reused members.
	easy := byKey[types.Key{Size: 2, Difficulty: types.Easy}]
	require.NotEmpty(t, easy)
	for _, s := range easy {
		assert.NotContains(t, s.Group, "a1")
		assert.NotContains(t, s.Group, "a2")
	}
	assert.Equal(t, 1, res.Stats.ReusedSets)
}

func TestGenerate_CarriesExistingPools(t *testing.T) {
	existing := document.New()
	old := document.Pool{ID: "retired", Sets: []types.Set{{Size: 2, Difficulty: types.Hard, Group: []string{"x", "y"}}}}
	existing.AddPool("Legacy", old)
	tiny := document.Pool{ID: "tiny", Sets: []types.Set{{Size: 2, Difficulty: types.Easy, Group: []string{"a1", "ghost"}}}}
	existing.AddPool("Shapes", tiny)

	res := generate(t, testConfig(), existing)

	carried := res.Document.Pool(types.PoolKey{Category: "Legacy", ID: "retired"})
	require.NotNil(t, carried)
	assert.Equal(t, old, *carried)

	kept := res.Document.Pool(types.PoolKey{Category: "Shapes", ID: "tiny"})
	require.NotNil(t, kept, "a skipped pool keeps its stored sets")
	assert.Equal(t, tiny, *kept)
	assert.Equal(t, 2, res.Stats.Carried)
	assert.Equal(t, 0, res.Stats.Skipped)
}

func TestGenerate_ScoreScope(t *testing.T) {
	check := func(sets []types.Set) {
		var hi float64
		for i, s := range sets {
			if i == 0 || s.IntraMean > hi {
				hi = s.IntraMean
			}
		}
		for _, s := range sets {
			if s.HardnessPct == 100 {
				assert.Equal(t, hi, s.IntraMean)
			}
		}
	}

	cfg := testConfig()
	cfg.Disjoint = false

	cfg.ScoreScope = ScopePool
	p := generate(t, cfg, nil).Document.Pool(types.PoolKey{Category: "Shapes", ID: "p1"})
	require.NotNil(t, p)
	check(p.Sets)

	cfg.ScoreScope = ScopeSize
	p = generate(t, cfg, nil).Document.Pool(types.PoolKey{Category: "Shapes", ID: "p1"})
	require.NotNil(t, p)
	bySize := make(map[int][]types.Set)
	for _, s := range p.Sets {
		bySize[s.Size] = append(bySize[s.Size], s)
	}
	for _, group := range bySize {
		check(group)
	}
}

func TestGenerate_WithoutClustering(t *testing.T) {
	res := generate(t, testConfig(), nil, WithCapabilities(Capabilities{Clustering: false}))
	p := res.Document.Pool(types.PoolKey{Category: "Shapes", ID: "p1"})
	require.NotNil(t, p)
	assert.NotEmpty(t, p.Sets)
}

func TestGenerate_MatrixCache(t *testing.T) {
	backend := cache.NewMemoryCache(cache.DefaultConfig())
	defer func() { _ = backend.Close() }()
	mc := cache.NewMatrixCache(backend, time.Hour)

	first := generate(t, testConfig(), nil, WithMatrixCache(mc))
	assert.Equal(t, 0, first.Stats.CacheHits)

	second := generate(t, testConfig(), nil, WithMatrixCache(mc))
	assert.Equal(t, 1, second.Stats.CacheHits)
	assert.Equal(t, first.Document.Categories, second.Document.Categories)
}

func TestGenerate_Progress(t *testing.T) {
	var events []Progress
	generate(t, testConfig(), nil, WithProgress(func(p Progress) { events = append(events, p) }))

	require.Len(t, events, 3)
	assert.Equal(t, StagePool, events[0].Stage)
	assert.Equal(t, "p1", events[0].Pool)
	assert.Equal(t, "generated", events[0].Outcome)
	assert.Equal(t, 1, events[0].Done)
	assert.Equal(t, 2, events[0].Total)
	assert.Equal(t, "skipped", events[1].Outcome)
	assert.Equal(t, StageDone, events[2].Stage)
}

func TestGenerate_Cancelled(t *testing.T) {
	g, err := New(testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Run(ctx, testPools(), testStore(t), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_DefaultsToNoopTracer(t *testing.T) {
	for _, opts := range [][]Option{nil, {WithTelemetry(nil)}} {
		g, err := New(testConfig(), opts...)
		require.NoError(t, err)
		require.NotNil(t, g.tracer)
		require.NotNil(t, g.tracer.Tracer())

		res, err := g.Generate(context.Background(), testPools(), testStore(t), nil)
		require.NoError(t, err)
		assert.NotNil(t, res.Document)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"strategy", func(c *Config) { c.Strategy = "random" }},
		{"scope", func(c *Config) { c.ScoreScope = "global" }},
		{"linkage", func(c *Config) { c.Linkage = "ward" }},
		{"no sizes", func(c *Config) { c.Sizes = nil }},
		{"size one", func(c *Config) { c.Sizes = []int{1} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}
