// Package cluster partitions embedding rows into a target number of
// clusters. Results are label slices aligned with the input rows.
package cluster

import (
	"errors"
	"fmt"
)

// ErrInfeasible is returned when the requested cluster count cannot be
// produced from the input.
var ErrInfeasible = errors.New("infeasible cluster count")

func checkFeasible(n, k int) error {
	if n == 0 {
		return fmt.Errorf("%w: no rows", ErrInfeasible)
	}
	if k < 1 || k > n {
		return fmt.Errorf("%w: %d clusters for %d rows", ErrInfeasible, k, n)
	}
	return nil
}

// Single returns the degraded assignment: every row in cluster 0.
func Single(n int) []int {
	return make([]int, n)
}

// Groups converts labels into member lists. Groups are ordered by the
// smallest member index they contain, and members are ascending, so the
// result does not depend on label numbering.
func Groups(labels []int) [][]int {
	pos := make(map[int]int)
	var groups [][]int
	for idx, lab := range labels {
		g, ok := pos[lab]
		if !ok {
			g = len(groups)
			pos[lab] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], idx)
	}
	return groups
}
