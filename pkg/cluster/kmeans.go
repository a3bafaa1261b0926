package cluster

import (
	stdmath "math"
	"math/rand"

	"github.com/Siddhant-K-code/diffsets/pkg/math"
)

// KMeans clusters rows by cosine distance to centroids. Initial centroids
// are drawn from the caller's PRNG (k-means++), so results are reproducible for a given
// seed.
type KMeans struct {
	// MaxIterations limits K-Means iterations. Default: 10
	MaxIterations int
}

// NewKMeans creates a k-means clusterer.
func NewKMeans(maxIterations int) *KMeans {
	if maxIterations <= 0 {
		maxIterations = 10
	}
	return &KMeans{MaxIterations: maxIterations}
}

// Cluster assigns each row to one of k clusters. Empty clusters are
// possible; labels are renumbered densely in order of first appearance.
func (km *KMeans) Cluster(rows [][]float32, k int, rng *rand.Rand) ([]int, error) {
	n := len(rows)
	if err := checkFeasible(n, k); err != nil {
		return nil, err
	}
	dim := len(rows[0])
	iterations := km.MaxIterations
	if iterations <= 0 {
		iterations = 10
	}

	centroids := initCentroids(rows, k, dim, rng)

	// Start unassigned so the first pass always counts as a change.
	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = -1
	}

	for iter := 0; iter < iterations; iter++ {
		changed := false
		for i, row := range rows {
			nearest := nearestCentroid(row, centroids)
			if assignments[i] != nearest {
				assignments[i] = nearest
				changed = true
			}
		}
		if !changed {
			break
		}
		updateCentroids(rows, assignments, centroids)
	}

	return relabel(assignments), nil
}

// initCentroids seeds centroids with k-means++: the first uniformly, each
// next one with probability proportional to its squared distance from the
// nearest centroid chosen so far.
func initCentroids(rows [][]float32, k, dim int, rng *rand.Rand) [][]float32 {
	n := len(rows)
	centroids := make([][]float32, 0, k)
	chosen := make([]bool, n)

	pick := func(i int) {
		c := make([]float32, dim)
		copy(c, rows[i])
		centroids = append(centroids, c)
		chosen[i] = true
	}
	pick(rng.Intn(n))

	weights := make([]float64, n)
	for len(centroids) < k {
		var total float64
		for i, row := range rows {
			weights[i] = 0
			if chosen[i] {
				continue
			}
			d := math.CosineDistance(row, centroids[nearestCentroid(row, centroids)])
			weights[i] = d * d
			total += weights[i]
		}

		next := -1
		if total > 0 {
			r := rng.Float64() * total
			for i, w := range weights {
				if w == 0 {
					continue
				}
				next = i
				r -= w
				if r <= 0 {
					break
				}
			}
		} else {
			// All remaining rows coincide with a centroid; take the first unchosen.
			for i := range rows {
				if !chosen[i] {
					next = i
					break
				}
			}
		}
		pick(next)
	}
	return centroids
}

// nearestCentroid returns the index of the closest centroid; ties keep the
// lower index.
func nearestCentroid(vec []float32, centroids [][]float32) int {
	minDist := stdmath.MaxFloat64
	minIdx := 0
	for i, c := range centroids {
		dist := math.CosineDistance(vec, c)
		if dist < minDist {
			minDist = dist
			minIdx = i
		}
	}
	return minIdx
}

// updateCentroids recalculates centroids as the mean of assigned rows.
// Centroids of empty clusters are left in place.
func updateCentroids(rows [][]float32, assignments []int, centroids [][]float32) {
	members := make([][]int, len(centroids))
	for idx, c := range assignments {
		members[c] = append(members[c], idx)
	}
	for c, idxs := range members {
		if len(idxs) == 0 {
			continue
		}
		math.Mean(centroids[c], rows, idxs)
	}
}
