// Package generator orchestrates difficulty set generation: for every pool
// it builds the similarity matrix, constructs and selects hard and easy
// sets for each size, reuses sets from a previous run and scores the
// result.
package generator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Siddhant-K-code/diffsets/pkg/cache"
	"github.com/Siddhant-K-code/diffsets/pkg/cluster"
	"github.com/Siddhant-K-code/diffsets/pkg/document"
	"github.com/Siddhant-K-code/diffsets/pkg/embedding"
	"github.com/Siddhant-K-code/diffsets/pkg/logging"
	"github.com/Siddhant-K-code/diffsets/pkg/metrics"
	"github.com/Siddhant-K-code/diffsets/pkg/sets"
	"github.com/Siddhant-K-code/diffsets/pkg/similarity"
	"github.com/Siddhant-K-code/diffsets/pkg/telemetry"
	"github.com/Siddhant-K-code/diffsets/pkg/types"
)

// Progress stages.
const (
	StagePool = "pool"
	StageDone = "done"
)

// Progress reports the outcome of one pool.
type Progress struct {
	Stage    string `json:"stage"`
	Category string `json:"category,omitempty"`
	Pool     string `json:"pool,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	Sets     int    `json:"sets"`
	Done     int    `json:"done"`
	Total    int    `json:"total"`
}

// ProgressFunc receives progress updates. It is called synchronously.
type ProgressFunc func(Progress)

// Stats summarises a run.
type Stats struct {
	Pools      int           `json:"pools"`
	Skipped    int           `json:"skipped"`
	Carried    int           `json:"carried"`
	NewSets    int           `json:"new_sets"`
	ReusedSets int           `json:"reused_sets"`
	Fallbacks  int           `json:"easy_fallbacks"`
	CacheHits  int           `json:"matrix_cache_hits"`
	Duration   time.Duration `json:"duration"`
}

// Result is the output of a run.
type Result struct {
	Document *document.Document
	Stats    Stats
}

// Generator produces difficulty set documents. A Generator holds no
// per-run state and may be shared; each run draws from its own PRNG.
type Generator struct {
	cfg  Config
	caps Capabilities

	agg *cluster.Agglomerative
	km  *cluster.KMeans

	matrices *cache.MatrixCache
	metrics  *metrics.Metrics
	tracer   *telemetry.Provider
	progress ProgressFunc
	log      *logrus.Entry
}

// Option configures a Generator.
type Option func(*Generator)

// WithCapabilities sets the resolved optional features.
func WithCapabilities(c Capabilities) Option {
	return func(g *Generator) { g.caps = c }
}

// WithMatrixCache reuses similarity matrices across runs.
func WithMatrixCache(mc *cache.MatrixCache) Option {
	return func(g *Generator) { g.matrices = mc }
}

// WithMetrics records engine metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// WithTelemetry records spans for runs, pools and sizes.
func WithTelemetry(p *telemetry.Provider) Option {
	return func(g *Generator) { g.tracer = p }
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(g *Generator) { g.progress = fn }
}

// New creates a generator. Clustering is enabled unless overridden with
// WithCapabilities.
func New(cfg Config, opts ...Option) (*Generator, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	g := &Generator{
		cfg:  cfg,
		caps: Capabilities{Clustering: true},
		log:  logging.Logger().WithField("component", "generator"),
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.caps.Clustering && cfg.Strategy == StrategyClustered {
		agg, err := cluster.NewAgglomerative(cfg.Linkage)
		if err != nil {
			return nil, err
		}
		g.agg = agg
		g.km = cluster.NewKMeans(cfg.MaxIterations)
	}

	if g.tracer == nil {
		g.tracer = telemetry.Noop()
	}
	return g, nil
}

// Config returns the generator's effective configuration.
func (g *Generator) Config() Config {
	return g.cfg
}

// Run generates sets for pools and returns the document.
func (g *Generator) Run(ctx context.Context, pools []types.Pool, store embedding.Store, existing *document.Document) (*document.Document, error) {
	res, err := g.Generate(ctx, pools, store, existing)
	if err != nil {
		return nil, err
	}
	return res.Document, nil
}

// Generate processes pools in order. Sets stored in existing for a
// (pool, size, difficulty) are reused verbatim, and pools found only in
// existing are carried through unchanged. Cancellation is checked between
// pools.
func (g *Generator) Generate(ctx context.Context, pools []types.Pool, store embedding.Store, existing *document.Document) (*Result, error) {
	start := time.Now()
	if existing == nil {
		existing = document.New()
	}

	ctx, span := g.tracer.StartRun(ctx, len(pools), string(g.cfg.Strategy))
	defer span.End()

	doc := document.New()
	doc.RunID = uuid.NewString()
	doc.GeneratedAt = start.UTC().Format(time.RFC3339)
	doc.Strategy = string(g.cfg.Strategy)
	doc.Seed = g.cfg.Seed

	rng := rand.New(rand.NewSource(g.cfg.Seed))
	var stats Stats
	processed := make(map[types.PoolKey]bool, len(pools))

	for i, pool := range pools {
		if err := ctx.Err(); err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("generation cancelled: %w", err)
		}

		key := pool.Key()
		processed[key] = true

		out, outcome := g.pool(ctx, pool, store, existing, rng, &stats)
		switch outcome {
		case metrics.PoolGenerated:
			stats.Pools++
			doc.AddPool(pool.Category, *out)
		case metrics.PoolSkipped:
			if prev := existing.Pool(key); prev != nil {
				outcome = metrics.PoolCarried
				stats.Carried++
				doc.AddPool(pool.Category, *prev)
			} else {
				stats.Skipped++
			}
		}
		g.metrics.RecordPool(outcome)

		produced := 0
		if p := doc.Pool(key); p != nil {
			produced = len(p.Sets)
		}
		g.report(Progress{
			Stage:    StagePool,
			Category: pool.Category,
			Pool:     pool.ID,
			Outcome:  outcome,
			Sets:     produced,
			Done:     i + 1,
			Total:    len(pools),
		})
	}

	for _, e := range existing.Entries() {
		if processed[e.Key()] {
			continue
		}
		doc.AddPool(e.Category, *e.Pool)
		stats.Carried++
		g.metrics.RecordPool(metrics.PoolCarried)
	}

	stats.Duration = time.Since(start)
	g.metrics.RecordRun(stats.Duration)
	telemetry.RecordResult(span, stats.Pools, stats.NewSets+stats.ReusedSets, stats.ReusedSets, stats.Duration)

	g.report(Progress{Stage: StageDone, Sets: stats.NewSets + stats.ReusedSets, Done: len(pools), Total: len(pools)})
	g.log.WithFields(logrus.Fields{
		"pools":    stats.Pools,
		"skipped":  stats.Skipped,
		"carried":  stats.Carried,
		"new":      stats.NewSets,
		"reused":   stats.ReusedSets,
		"duration": stats.Duration,
	}).Info("generation complete")

	return &Result{Document: doc, Stats: stats}, nil
}

func (g *Generator) report(p Progress) {
	if g.progress != nil {
		g.progress(p)
	}
}

// pool generates one pool. The outcome is PoolGenerated or PoolSkipped.
func (g *Generator) pool(ctx context.Context, pool types.Pool, store embedding.Store, existing *document.Document, rng *rand.Rand, stats *Stats) (*document.Pool, string) {
	log := g.log.WithFields(logrus.Fields{"category": pool.Category, "pool": pool.ID})

	ids := embedding.Filter(store, pool.Members)
	ctx, span := g.tracer.StartPool(ctx, pool.Category, pool.ID, len(ids))
	defer span.End()

	if len(ids) < 2 {
		log.WithFields(logrus.Fields{"members": len(pool.Members), "embedded": len(ids)}).
			Warn("skipping pool with fewer than 2 embedded members")
		return nil, metrics.PoolSkipped
	}
	if missing := len(pool.Members) - len(ids); missing > 0 {
		log.WithField("missing", missing).Debug("pool members without embeddings")
	}

	rows, err := embedding.Rows(store, ids)
	if err != nil {
		// Filter guarantees presence; a failure here means the store changed.
		log.WithError(err).Warn("skipping pool")
		return nil, metrics.PoolSkipped
	}
	m := g.matrix(ctx, ids, rows, stats, log)

	out := &document.Pool{ID: pool.ID, Sets: []types.Set{}}
	key := pool.Key()
	n := m.Len()
	var poolNew []int

	for _, k := range g.cfg.Sizes {
		if k > n {
			// Stored sets for the size are still carried; nothing new is built.
			log.WithFields(logrus.Fields{"size": k, "members": n}).Debug("size exceeds pool")
		}
		quota := sets.Quota(n, k, g.cfg.NumSets)
		_, sizeSpan := g.tracer.StartSize(ctx, k, quota)

		newIdx := g.size(out, m, rows, key, k, quota, existing, rng, stats, log)
		if g.cfg.ScoreScope == ScopeSize {
			score(out, newIdx)
		}
		poolNew = append(poolNew, newIdx...)
		sizeSpan.End()
	}

	if g.cfg.ScoreScope == ScopePool {
		score(out, poolNew)
	}
	for _, i := range poolNew {
		s := out.Sets[i]
		g.metrics.RecordSet(string(s.Difficulty), metrics.SourceNew, s.IntraMean)
	}
	return out, metrics.PoolGenerated
}

// size runs one (pool, size) pass, appending to out, and returns the
// indices in out.Sets of the newly generated sets. Disjoint bookkeeping is
// local to the pass and starts from the members of reused sets.
func (g *Generator) size(out *document.Pool, m *similarity.Matrix, rows [][]float32, key types.PoolKey, k, quota int, existing *document.Document, rng *rand.Rand, stats *Stats, log *logrus.Entry) []int {
	used := make(sets.Used)
	reused := make(map[types.Difficulty][]types.Set, len(types.Difficulties))
	for _, d := range types.Difficulties {
		stored := existing.Reusable(key, types.Key{Size: k, Difficulty: d})
		if len(stored) == 0 {
			continue
		}
		reused[d] = stored
		for _, s := range stored {
			for _, id := range s.Group {
				if i, ok := m.Index(id); ok {
					used[i] = true
				}
			}
		}
	}

	var newIdx []int
	for _, d := range types.Difficulties {
		if stored, ok := reused[d]; ok {
			for _, s := range stored {
				out.Sets = append(out.Sets, s)
				g.metrics.RecordSet(string(d), metrics.SourceReused, s.IntraMean)
			}
			stats.ReusedSets += len(stored)
			log.WithFields(logrus.Fields{"size": k, "difficulty": d, "sets": len(stored)}).Debug("reusing stored sets")
			continue
		}

		groups := g.construct(m, rows, k, d, quota, used, rng, stats, log)
		if len(groups) == 0 {
			log.WithFields(logrus.Fields{"size": k, "difficulty": d}).Debug("no sets produced")
		}
		for _, grp := range groups {
			newIdx = append(newIdx, len(out.Sets))
			out.Sets = append(out.Sets, sets.NewSet(m, grp, d))
		}
		stats.NewSets += len(groups)
	}
	return newIdx
}

// construct builds candidates with the configured strategy and selects up
// to quota of them.
func (g *Generator) construct(m *similarity.Matrix, rows [][]float32, k int, d types.Difficulty, quota int, used sets.Used, rng *rand.Rand, stats *Stats, log *logrus.Entry) [][]int {
	disjoint := g.cfg.Disjoint
	sel := sets.SelectOptions{Quota: quota, Disjoint: disjoint, Used: used, Rank: d == types.Hard}

	var exclude func(int) bool
	if disjoint {
		exclude = used.Has
	}

	if g.cfg.Strategy == StrategyGreedy {
		cands := sets.Greedy(m, k, d.Direction(), sets.GreedyOptions{
			Limit:    quota,
			Exclude:  exclude,
			Disjoint: disjoint,
		})
		return sets.Select(m, cands, sel)
	}

	seeded := &sets.Seeded{
		Matrix:        m,
		Rows:          rows,
		Agglomerative: g.agg,
		KMeans:        g.km,
		Rand:          rng,
		Log:           log,
	}
	if d == types.Hard {
		return sets.Select(m, seeded.Hard(k, quota), sel)
	}

	cands, fellBack := seeded.Easy(k, quota, disjoint, used)
	if fellBack {
		stats.Fallbacks++
		g.metrics.RecordFallback()
	}
	return sets.Select(m, cands, sel)
}

// matrix builds the pool's similarity matrix, through the cache when one
// is configured. Cache failures only cost the rebuild.
func (g *Generator) matrix(ctx context.Context, ids []string, rows [][]float32, stats *Stats, log *logrus.Entry) *similarity.Matrix {
	ctx, span := g.tracer.StartMatrix(ctx, len(ids))
	defer span.End()

	if g.matrices == nil {
		return similarity.FromRows(ids, rows)
	}

	m, hit, err := g.matrices.GetOrBuild(ctx, ids, rows)
	if err != nil {
		log.WithError(err).Warn("matrix cache unavailable")
	}
	if hit {
		stats.CacheHits++
	}
	g.metrics.RecordCache(hit)
	return m
}

// score normalises the sets at idxs against each other.
func score(p *document.Pool, idxs []int) {
	ptrs := make([]*types.Set, len(idxs))
	for i, idx := range idxs {
		ptrs[i] = &p.Sets[idx]
	}
	sets.Score(ptrs)
}
