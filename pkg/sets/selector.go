package sets

import (
	"sort"

	"github.com/Siddhant-K-code/diffsets/pkg/similarity"
)

// Used tracks member indices consumed by already selected sets.
type Used map[int]bool

// Has reports whether i is used.
func (u Used) Has(i int) bool { return u[i] }

// Any reports whether any of idxs is used.
func (u Used) Any(idxs []int) bool {
	for _, i := range idxs {
		if u[i] {
			return true
		}
	}
	return false
}

// Add marks idxs as used.
func (u Used) Add(idxs []int) {
	for _, i := range idxs {
		u[i] = true
	}
}

// SelectOptions controls selection.
type SelectOptions struct {
	// Quota is the maximum number of sets kept.
	Quota int

	// Disjoint skips candidates sharing a member with Used and records
	// the members of every selected set in Used.
	Disjoint bool
	Used     Used

	// Rank orders candidates by descending intra-group mean (stable).
	// When false, candidates keep their input order.
	Rank bool
}

// Select deduplicates candidates by unordered membership, optionally ranks
// them, and keeps up to Quota of them.
func Select(m *similarity.Matrix, cands [][]int, opts SelectOptions) [][]int {
	type scored struct {
		idxs []int
		mean float64
	}

	seen := make(map[string]bool, len(cands))
	unique := make([]scored, 0, len(cands))
	for _, c := range cands {
		key := groupKey(c)
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, scored{idxs: c, mean: m.IntraMean(c)})
	}

	if opts.Rank {
		sort.SliceStable(unique, func(i, j int) bool { return unique[i].mean > unique[j].mean })
	}

	used := opts.Used
	if used == nil {
		used = make(Used)
	}

	var out [][]int
	for _, c := range unique {
		if len(out) >= opts.Quota {
			break
		}
		if opts.Disjoint && used.Any(c.idxs) {
			continue
		}
		out = append(out, c.idxs)
		if opts.Disjoint {
			used.Add(c.idxs)
		}
	}
	return out
}

// Quota clamps the requested number of sets per key to what a pool of n
// members can support for size k: max(1, min(requested, n/k)).
func Quota(n, k, requested int) int {
	q := requested
	if k > 0 && n/k < q {
		q = n / k
	}
	if q < 1 {
		q = 1
	}
	return q
}
