// Package sets constructs, selects and scores difficulty sets over a
// pool's similarity matrix. Groups are handled as index slices aligned
// with the matrix until they are emitted as ids.
package sets

import (
	"sort"
	"strconv"
	"strings"

	"github.com/Siddhant-K-code/diffsets/pkg/similarity"
	"github.com/Siddhant-K-code/diffsets/pkg/types"
)

// GreedyOptions bounds and filters greedy construction.
type GreedyOptions struct {
	// Limit stops after this many distinct sets. 0 means no limit.
	Limit int

	// Exclude reports indices that may be neither seeds nor candidates.
	Exclude func(i int) bool

	// Disjoint makes each accepted set's members unavailable to later
	// seeds and candidates.
	Disjoint bool
}

// Greedy builds sets of size k by seeding with each pair in similarity
// order (descending for Maximize, ascending for Minimize) and repeatedly
// adding the candidate whose mean similarity to the current members is
// best. Ties go to the lowest index. Sets that cannot reach k are dropped,
// and sets with the same membership as an earlier one are skipped.
// Returns nil when k > n or k < 2.
func Greedy(m *similarity.Matrix, k int, dir types.Direction, opts GreedyOptions) [][]int {
	n := m.Len()
	if k > n || k < 2 {
		return nil
	}

	taken := make([]bool, n)
	blocked := func(i int) bool {
		return taken[i] || (opts.Exclude != nil && opts.Exclude(i))
	}

	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	var out [][]int
	seen := make(map[string]bool)
	for _, p := range m.Pairs(dir) {
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
		if blocked(p.I) || blocked(p.J) {
			continue
		}

		cur := grow(m, []int{p.I, p.J}, k, dir, all, blocked)
		if len(cur) < k {
			continue
		}

		key := groupKey(cur)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, cur)

		if opts.Disjoint {
			for _, i := range cur {
				taken[i] = true
			}
		}
	}
	return out
}

// grow extends seed to size k by repeatedly appending the best candidate
// from candidates (in their given order; first best wins). It returns the
// partial set when no admissible candidate remains.
func grow(m *similarity.Matrix, seed []int, k int, dir types.Direction, candidates []int, blocked func(int) bool) []int {
	cur := make([]int, 0, k)
	cur = append(cur, seed...)

	in := make(map[int]bool, k)
	for _, i := range seed {
		in[i] = true
	}

	// Running sum of similarities from each candidate to the current members.
	sums := make(map[int]float64, len(candidates))
	for _, c := range candidates {
		for _, s := range cur {
			sums[c] += m.At(c, s)
		}
	}

	for len(cur) < k {
		best := -1
		var bestMean float64
		for _, c := range candidates {
			if in[c] || (blocked != nil && blocked(c)) {
				continue
			}
			mean := sums[c] / float64(len(cur))
			if best < 0 || better(mean, bestMean, dir) {
				best, bestMean = c, mean
			}
		}
		if best < 0 {
			break
		}

		cur = append(cur, best)
		in[best] = true
		for _, c := range candidates {
			sums[c] += m.At(c, best)
		}
	}
	return cur
}

func better(x, y float64, dir types.Direction) bool {
	if dir == types.Minimize {
		return x < y
	}
	return x > y
}

// groupKey identifies a group by its unordered membership.
func groupKey(idxs []int) string {
	sorted := make([]int, len(idxs))
	copy(sorted, idxs)
	sort.Ints(sorted)

	var b strings.Builder
	for i, x := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(x))
	}
	return b.String()
}
