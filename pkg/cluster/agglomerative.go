package cluster

import (
	"fmt"

	"github.com/Siddhant-K-code/diffsets/pkg/math"
)

// Linkage options.
const (
	LinkageSingle   = "single"
	LinkageComplete = "complete"
	LinkageAverage  = "average"
)

// Agglomerative performs bottom-up hierarchical clustering over cosine
// distance, merging the closest pair of clusters until the target count
// is reached.
type Agglomerative struct {
	// Linkage determines how inter-cluster distance is computed.
	// Options: "single", "complete", "average" (default: "average")
	Linkage string
}

// NewAgglomerative creates a clusterer, defaulting to average linkage.
func NewAgglomerative(linkage string) (*Agglomerative, error) {
	switch linkage {
	case "":
		linkage = LinkageAverage
	case LinkageSingle, LinkageComplete, LinkageAverage:
	default:
		return nil, fmt.Errorf("unknown linkage %q (supported: single, complete, average)", linkage)
	}
	return &Agglomerative{Linkage: linkage}, nil
}

// Cluster assigns each row to one of k clusters. Labels are numbered in
// order of each cluster's smallest member index.
func (a *Agglomerative) Cluster(rows [][]float32, k int) ([]int, error) {
	n := len(rows)
	if err := checkFeasible(n, k); err != nil {
		return nil, err
	}

	// Pairwise cosine distances; dist[i][j] holds the current linkage
	// distance between the clusters rooted at i and j.
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := math.CosineDistance(rows[i], rows[j])
			dist[i][j] = d
			dist[j][i] = d
		}
	}

	root := make([]int, n)
	size := make([]int, n)
	active := make([]bool, n)
	for i := range root {
		root[i] = i
		size[i] = 1
		active[i] = true
	}

	for count := n; count > k; count-- {
		minDist := 3.0
		minI, minJ := -1, -1
		for i := 0; i < n; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if !active[j] {
					continue
				}
				if dist[i][j] < minDist {
					minDist = dist[i][j]
					minI, minJ = i, j
				}
			}
		}

		// Merge j into i and update distances (Lance-Williams).
		for m := 0; m < n; m++ {
			if !active[m] || m == minI || m == minJ {
				continue
			}
			di, dj := dist[minI][m], dist[minJ][m]
			var d float64
			switch a.Linkage {
			case LinkageSingle:
				d = min(di, dj)
			case LinkageComplete:
				d = max(di, dj)
			default:
				si, sj := float64(size[minI]), float64(size[minJ])
				d = (si*di + sj*dj) / (si + sj)
			}
			dist[minI][m] = d
			dist[m][minI] = d
		}
		size[minI] += size[minJ]
		active[minJ] = false
		for x := range root {
			if root[x] == minJ {
				root[x] = minI
			}
		}
	}

	return relabel(root), nil
}

// relabel maps arbitrary cluster keys to 0..k-1 in order of first appearance.
func relabel(keys []int) []int {
	next := 0
	ids := make(map[int]int)
	labels := make([]int, len(keys))
	for i, key := range keys {
		id, ok := ids[key]
		if !ok {
			id = next
			ids[key] = id
			next++
		}
		labels[i] = id
	}
	return labels
}
