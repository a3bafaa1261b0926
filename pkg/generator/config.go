package generator

import (
	"fmt"

	"github.com/Siddhant-K-code/diffsets/pkg/cluster"
)

// Strategy selects how candidate sets are constructed.
type Strategy string

const (
	// StrategyClustered seeds hard sets inside agglomerative clusters and
	// builds easy sets from k-means medoids.
	StrategyClustered Strategy = "clustered"
	// StrategyGreedy grows every set from globally ordered seed pairs.
	StrategyGreedy Strategy = "greedy"
)

// ScoreScope selects which sets are normalised together when computing
// hardness and easiness percentages.
type ScoreScope string

const (
	// ScopeSize normalises the new sets of one (pool, size) pass.
	ScopeSize ScoreScope = "size"
	// ScopePool normalises every new set of a pool in the run.
	ScopePool ScoreScope = "pool"
)

// Config holds the generation parameters.
type Config struct {
	// Sizes are the set sizes to generate, in order.
	Sizes []int

	// NumSets is the number of sets requested per (pool, size,
	// difficulty). It is clamped per pool to what the pool can support.
	NumSets int

	// Disjoint forbids sets of the same (pool, size) from sharing members.
	Disjoint bool

	// Seed initialises the run's pseudo-random generator.
	Seed int64

	Strategy   Strategy
	ScoreScope ScoreScope

	// Linkage is the agglomerative linkage: single, complete or average.
	Linkage string

	// MaxIterations bounds k-means refinement.
	MaxIterations int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Sizes:         []int{2, 4, 6, 8, 10, 12},
		NumSets:       2,
		Disjoint:      true,
		Seed:          0,
		Strategy:      StrategyClustered,
		ScoreScope:    ScopeSize,
		Linkage:       cluster.LinkageAverage,
		MaxIterations: 10,
	}
}

func (c *Config) normalize() error {
	if len(c.Sizes) == 0 {
		return fmt.Errorf("no set sizes configured")
	}
	for _, k := range c.Sizes {
		if k < 2 {
			return fmt.Errorf("set size must be at least 2, got %d", k)
		}
	}
	if c.NumSets < 1 {
		c.NumSets = 1
	}
	switch c.Strategy {
	case "":
		c.Strategy = StrategyClustered
	case StrategyClustered, StrategyGreedy:
	default:
		return fmt.Errorf("unknown strategy %q (supported: clustered, greedy)", c.Strategy)
	}
	switch c.ScoreScope {
	case "":
		c.ScoreScope = ScopeSize
	case ScopeSize, ScopePool:
	default:
		return fmt.Errorf("unknown score scope %q (supported: size, pool)", c.ScoreScope)
	}
	return nil
}

// Capabilities records optional features resolved once at startup.
type Capabilities struct {
	// Clustering enables agglomerative and k-means clustering. Without it
	// the clustered strategy treats each pool as a single cluster.
	Clustering bool
}
