package sets

import (
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/Siddhant-K-code/diffsets/pkg/cluster"
	"github.com/Siddhant-K-code/diffsets/pkg/logging"
	"github.com/Siddhant-K-code/diffsets/pkg/similarity"
	"github.com/Siddhant-K-code/diffsets/pkg/types"
)

// Per-quota budgets for cluster-seeded construction.
const (
	hardCandidatesPerQuota = 4
	easyAttemptsPerQuota   = 12
)

// Seeded builds candidates by clustering the pool first. Hard sets grow
// inside agglomerative clusters; easy sets combine k-means medoids. A nil
// clusterer, or a clustering error, puts every member in one cluster.
type Seeded struct {
	Matrix *similarity.Matrix
	// Rows are the embeddings aligned with Matrix.
	Rows [][]float32

	Agglomerative *cluster.Agglomerative
	KMeans        *cluster.KMeans

	// Rand drives pair shuffling, k-means initialisation and cluster
	// sampling. It is shared across calls so a run is reproducible from
	// one seed.
	Rand *rand.Rand

	Log *logrus.Entry
}

func (s *Seeded) log() *logrus.Entry {
	if s.Log != nil {
		return s.Log
	}
	return logrus.NewEntry(logging.Logger())
}

// Hard returns up to quota*4 candidates per cluster, each grown inside its
// cluster toward maximum mean similarity.
func (s *Seeded) Hard(k, quota int) [][]int {
	n := s.Matrix.Len()
	if k > n || k < 2 {
		return nil
	}

	target := n / k
	if target < 1 {
		target = 1
	}

	labels := cluster.Single(n)
	if s.Agglomerative != nil {
		l, err := s.Agglomerative.Cluster(s.Rows, target)
		if err != nil {
			s.log().WithError(err).WithField("size", k).Warn("agglomerative clustering failed, using a single cluster")
		} else {
			labels = l
		}
	}

	limit := quota * hardCandidatesPerQuota
	var out [][]int
	for _, members := range cluster.Groups(labels) {
		if len(members) < 2 {
			continue
		}

		pairs := s.Matrix.PairsOf(members, types.Maximize)
		s.Rand.Shuffle(len(pairs), func(i, j int) { pairs[i], pairs[j] = pairs[j], pairs[i] })

		produced := 0
		for _, p := range pairs {
			if produced >= limit {
				break
			}
			cur := grow(s.Matrix, []int{p.I, p.J}, k, types.Maximize, members, nil)
			if len(cur) == k {
				out = append(out, cur)
				produced++
			}
		}
	}
	return out
}

// Easy samples groups of cluster medoids from a k-means partition into
// min(n, k) clusters, for at most quota*12 attempts. In disjoint mode a
// medoid that is already used, by the caller or by an earlier group, is
// replaced with the first unused member of its cluster. When no group can
// be formed it falls back to ascending greedy over unused members; the
// second result reports that fallback.
func (s *Seeded) Easy(k, quota int, disjoint bool, used Used) ([][]int, bool) {
	n := s.Matrix.Len()
	if k > n || k < 2 {
		return nil, false
	}

	count := k
	if n < count {
		count = n
	}

	labels := cluster.Single(n)
	if s.KMeans != nil {
		l, err := s.KMeans.Cluster(s.Rows, count, s.Rand)
		if err != nil {
			s.log().WithError(err).WithField("size", k).Warn("k-means clustering failed, using a single cluster")
		} else {
			labels = l
		}
	}

	groups := cluster.Groups(labels)
	medoids := make([]int, len(groups))
	for g, members := range groups {
		medoids[g] = medoid(s.Matrix, members)
	}

	unavailable := func(i int) bool {
		return disjoint && used.Has(i)
	}

	var out [][]int
	local := make(Used)
	seen := make(map[string]bool)
	for attempts := 0; len(out) < quota && attempts < quota*easyAttemptsPerQuota; attempts++ {
		order := s.Rand.Perm(len(groups))
		if len(order) > k {
			order = order[:k]
		}

		group := make([]int, 0, k)
		ok := true
		for _, g := range order {
			pick := medoids[g]
			if unavailable(pick) || (disjoint && local.Has(pick)) {
				pick = -1
				for _, m := range groups[g] {
					if !unavailable(m) && !local.Has(m) {
						pick = m
						break
					}
				}
			}
			if pick < 0 {
				ok = false
				break
			}
			group = append(group, pick)
		}

		if !ok || len(group) != k || !distinct(group) {
			continue
		}
		key := groupKey(group)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, group)
		if disjoint {
			local.Add(group)
		}
	}

	if len(out) > 0 {
		return out, false
	}

	s.log().WithField("size", k).Debug("no medoid group formed, falling back to ascending greedy")
	return Greedy(s.Matrix, k, types.Minimize, GreedyOptions{
		Limit:    quota,
		Exclude:  unavailable,
		Disjoint: disjoint,
	}), true
}

// medoid returns the member with the highest summed similarity to the
// rest of members; ties go to the earliest member.
func medoid(m *similarity.Matrix, members []int) int {
	best := members[0]
	bestSum := m.RowSum(best, members)
	for _, i := range members[1:] {
		if s := m.RowSum(i, members); s > bestSum {
			best, bestSum = i, s
		}
	}
	return best
}

func distinct(idxs []int) bool {
	seen := make(map[int]bool, len(idxs))
	for _, i := range idxs {
		if seen[i] {
			return false
		}
		seen[i] = true
	}
	return true
}
