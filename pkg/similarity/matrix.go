// Package similarity builds the pairwise cosine similarity matrix of a pool.
package similarity

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/Siddhant-K-code/diffsets/pkg/embedding"
	"github.com/Siddhant-K-code/diffsets/pkg/types"
)

// Matrix is an immutable n×n symmetric similarity matrix over an ordered
// list of object ids. The diagonal is fixed at 1.
type Matrix struct {
	ids   []string
	index map[string]int
	n     int
	sym   *mat.SymDense // nil when n == 0
}

// Pair is an unordered index pair with its similarity. I < J always.
type Pair struct {
	I, J int
	Sim  float64
}

// Build computes M[i,j] = dot(e_i, e_j) for the given ids. The store must
// hold unit vectors; they are not re-normalised. Every id must be present.
func Build(ids []string, store embedding.Store) (*Matrix, error) {
	rows, err := embedding.Rows(store, ids)
	if err != nil {
		return nil, fmt.Errorf("build similarity matrix: %w", err)
	}
	return FromRows(ids, rows), nil
}

// FromRows computes the Gram matrix X·Xᵀ of unit vectors aligned with ids.
// Rows must share one dimension.
func FromRows(ids []string, rows [][]float32) *Matrix {
	n := len(ids)
	if n == 0 {
		return newMatrix(ids, nil)
	}

	sym := mat.NewSymDense(n, nil)
	if d := len(rows[0]); d > 0 {
		x := mat.NewDense(n, d, nil)
		for i, row := range rows {
			for j, v := range row {
				x.Set(i, j, float64(v))
			}
		}
		sym.SymOuterK(1, x)
	}
	for i := 0; i < n; i++ {
		sym.SetSym(i, i, 1)
	}
	return newMatrix(ids, sym)
}

// FromData wraps precomputed row-major values, e.g. from a cache. Only the
// upper triangle is read; the diagonal is forced to 1.
func FromData(ids []string, data []float64) (*Matrix, error) {
	n := len(ids)
	if len(data) != n*n {
		return nil, fmt.Errorf("matrix data has %d values, want %d", len(data), n*n)
	}
	if n == 0 {
		return newMatrix(ids, nil), nil
	}

	cp := make([]float64, len(data))
	copy(cp, data)
	sym := mat.NewSymDense(n, cp)
	for i := 0; i < n; i++ {
		sym.SetSym(i, i, 1)
	}
	return newMatrix(ids, sym), nil
}

func newMatrix(ids []string, sym *mat.SymDense) *Matrix {
	idsCopy := make([]string, len(ids))
	copy(idsCopy, ids)

	index := make(map[string]int, len(ids))
	for i, id := range idsCopy {
		if _, dup := index[id]; !dup {
			index[id] = i
		}
	}

	return &Matrix{ids: idsCopy, index: index, n: len(ids), sym: sym}
}

// Len returns n.
func (m *Matrix) Len() int { return m.n }

// At returns M[i,j].
func (m *Matrix) At(i, j int) float64 { return m.sym.At(i, j) }

// ID returns the object id at position i.
func (m *Matrix) ID(i int) string { return m.ids[i] }

// IDs returns a copy of the ordered id list.
func (m *Matrix) IDs() []string {
	out := make([]string, len(m.ids))
	copy(out, m.ids)
	return out
}

// Index returns the position of id.
func (m *Matrix) Index(id string) (int, bool) {
	i, ok := m.index[id]
	return i, ok
}

// Data returns the full matrix as row-major values.
func (m *Matrix) Data() []float64 {
	out := make([]float64, m.n*m.n)
	for i := 0; i < m.n; i++ {
		for j := 0; j < m.n; j++ {
			out[i*m.n+j] = m.sym.At(i, j)
		}
	}
	return out
}

// Group maps indices to ids.
func (m *Matrix) Group(idxs []int) []string {
	out := make([]string, len(idxs))
	for i, idx := range idxs {
		out[i] = m.ids[idx]
	}
	return out
}

// Indices maps ids to positions. Unknown ids produce an error.
func (m *Matrix) Indices(ids []string) ([]int, error) {
	out := make([]int, len(ids))
	for i, id := range ids {
		idx, ok := m.index[id]
		if !ok {
			return nil, fmt.Errorf("object %q is not in the matrix", id)
		}
		out[i] = idx
	}
	return out, nil
}

// IntraMean returns the mean off-diagonal similarity among idxs, or 0 when
// fewer than two indices are given.
func (m *Matrix) IntraMean(idxs []int) float64 {
	k := len(idxs)
	if k <= 1 {
		return 0
	}
	var sum float64
	for a := 0; a < k; a++ {
		for b := a + 1; b < k; b++ {
			sum += m.At(idxs[a], idxs[b])
		}
	}
	return sum / float64(k*(k-1)/2)
}

// MeanTo returns the mean similarity of candidate to every index in set.
func (m *Matrix) MeanTo(candidate int, set []int) float64 {
	if len(set) == 0 {
		return 0
	}
	var sum float64
	for _, s := range set {
		sum += m.At(candidate, s)
	}
	return sum / float64(len(set))
}

// RowSum returns the sum of similarities from i to every index in members,
// excluding i itself.
func (m *Matrix) RowSum(i int, members []int) float64 {
	var sum float64
	for _, j := range members {
		if j != i {
			sum += m.At(i, j)
		}
	}
	return sum
}

// Pairs enumerates all pairs i<j in row-major order and stable-sorts them
// by similarity: descending for Maximize, ascending for Minimize. Equal
// similarities keep enumeration order.
func (m *Matrix) Pairs(dir types.Direction) []Pair {
	return m.PairsOf(nil, dir)
}

// PairsOf is Pairs restricted to the given indices (nil means all). Pair
// indices refer to the full matrix.
func (m *Matrix) PairsOf(idxs []int, dir types.Direction) []Pair {
	if idxs == nil {
		idxs = make([]int, m.n)
		for i := range idxs {
			idxs[i] = i
		}
	}

	pairs := make([]Pair, 0, len(idxs)*(len(idxs)-1)/2)
	for a := 0; a < len(idxs); a++ {
		for b := a + 1; b < len(idxs); b++ {
			i, j := idxs[a], idxs[b]
			if i > j {
				i, j = j, i
			}
			pairs = append(pairs, Pair{I: i, J: j, Sim: m.At(i, j)})
		}
	}

	if dir == types.Minimize {
		sort.SliceStable(pairs, func(a, b int) bool { return pairs[a].Sim < pairs[b].Sim })
	} else {
		sort.SliceStable(pairs, func(a, b int) bool { return pairs[a].Sim > pairs[b].Sim })
	}
	return pairs
}
