package sets

import (
	"github.com/Siddhant-K-code/diffsets/pkg/similarity"
	"github.com/Siddhant-K-code/diffsets/pkg/types"
)

// degenerateRange is the score spread below which every set is given a
// hardness of 0.
const degenerateRange = 1e-6

// IntraMean returns the mean off-diagonal similarity of a group, 0 for
// groups of fewer than two members.
func IntraMean(m *similarity.Matrix, idxs []int) float64 {
	return m.IntraMean(idxs)
}

// Score normalises the IntraMean of each set against the min and max of
// the given collection: hardness = 100*(mean-min)/(max-min) and
// easiness = 100-hardness. A near-constant collection scores 0 hardness.
func Score(sets []*types.Set) {
	if len(sets) == 0 {
		return
	}

	lo, hi := sets[0].IntraMean, sets[0].IntraMean
	for _, s := range sets[1:] {
		if s.IntraMean < lo {
			lo = s.IntraMean
		}
		if s.IntraMean > hi {
			hi = s.IntraMean
		}
	}

	span := hi - lo
	for _, s := range sets {
		var norm float64
		if span > degenerateRange {
			norm = (s.IntraMean - lo) / span
		}
		s.HardnessPct = norm * 100
		s.EasinessPct = 100 - s.HardnessPct
	}
}

// NewSet builds an unscored set for the group.
func NewSet(m *similarity.Matrix, idxs []int, d types.Difficulty) types.Set {
	return types.Set{
		Size:       len(idxs),
		Difficulty: d,
		Group:      m.Group(idxs),
		IntraMean:  m.IntraMean(idxs),
	}
}
