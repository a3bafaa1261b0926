package similarity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Siddhant-K-code/diffsets/pkg/embedding"
	dmath "github.com/Siddhant-K-code/diffsets/pkg/math"
	"github.com/Siddhant-K-code/diffsets/pkg/types"
)

// examplePool is the four-object pool with AB=0.9, AC=0.2, AD=0.3,
// BC=0.25, BD=0.4, CD=0.85.
func examplePool(t *testing.T) *Matrix {
	t.Helper()
	ids := []string{"A", "B", "C", "D"}
	vals := [][]float64{
		{1, 0.9, 0.2, 0.3},
		{0.9, 1, 0.25, 0.4},
		{0.2, 0.25, 1, 0.85},
		{0.3, 0.4, 0.85, 1},
	}
	data := make([]float64, 0, 16)
	for _, row := range vals {
		data = append(data, row...)
	}
	m, err := FromData(ids, data)
	require.NoError(t, err)
	return m
}

func TestBuild(t *testing.T) {
	store := embedding.FromMap(map[string][]float32{
		"a": {1, 0},
		"b": {1, 1},
		"c": {0, 3},
	}, nil)

	m, err := Build([]string{"a", "b", "c"}, store)
	require.NoError(t, err)

	assert.Equal(t, 3, m.Len())
	for i := 0; i < 3; i++ {
		assert.Equal(t, 1.0, m.At(i, i))
	}
	assert.InDelta(t, 1/math.Sqrt2, m.At(0, 1), 1e-6)
	assert.InDelta(t, 0.0, m.At(0, 2), 1e-6)
	assert.Equal(t, m.At(1, 2), m.At(2, 1))
}

func TestBuild_MissingID(t *testing.T) {
	store := embedding.FromMap(map[string][]float32{"a": {1, 0}}, nil)
	_, err := Build([]string{"a", "b"}, store)
	assert.Error(t, err)
}

func TestPairs_ExampleSeeds(t *testing.T) {
	m := examplePool(t)

	hard := m.Pairs(types.Maximize)
	require.Len(t, hard, 6)
	assert.Equal(t, []string{"A", "B"}, m.Group([]int{hard[0].I, hard[0].J}))
	assert.InDelta(t, 0.9, hard[0].Sim, 1e-12)

	easy := m.Pairs(types.Minimize)
	assert.Equal(t, []string{"A", "C"}, m.Group([]int{easy[0].I, easy[0].J}))
	assert.InDelta(t, 0.2, easy[0].Sim, 1e-12)
}

func TestPairs_StableTies(t *testing.T) {
	m, err := FromData([]string{"a", "b", "c"}, []float64{
		1, 0.5, 0.5,
		0.5, 1, 0.5,
		0.5, 0.5, 1,
	})
	require.NoError(t, err)

	pairs := m.Pairs(types.Maximize)
	assert.Equal(t, Pair{0, 1, 0.5}, pairs[0])
	assert.Equal(t, Pair{0, 2, 0.5}, pairs[1])
	assert.Equal(t, Pair{1, 2, 0.5}, pairs[2])
}

func TestIntraMean(t *testing.T) {
	m := examplePool(t)
	assert.Equal(t, 0.0, m.IntraMean([]int{0}))
	assert.InDelta(t, 0.9, m.IntraMean([]int{0, 1}), 1e-12)
	assert.InDelta(t, (0.9+0.3+0.4)/3, m.IntraMean([]int{0, 1, 3}), 1e-12)
	assert.InDelta(t, 0.35, m.MeanTo(3, []int{0, 1}), 1e-12)
	assert.InDelta(t, 0.225, m.MeanTo(2, []int{0, 1}), 1e-12)
}

func TestIndex(t *testing.T) {
	m := examplePool(t)

	i, ok := m.Index("C")
	assert.True(t, ok)
	assert.Equal(t, 2, i)

	_, err := m.Indices([]string{"A", "Z"})
	assert.Error(t, err)
}

func TestFromRows_MatchesDot(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}
	rows := [][]float32{
		{0.6, 0.8, 0},
		{0, 0.6, 0.8},
		{0.8, 0, 0.6},
		{1, 0, 0},
	}
	m := FromRows(ids, rows)

	for i := range rows {
		for j := range rows {
			want := 1.0
			if i != j {
				want = dmath.Dot(rows[i], rows[j])
			}
			assert.InDelta(t, want, m.At(i, j), 1e-6, "M[%d,%d]", i, j)
			assert.Equal(t, m.At(i, j), m.At(j, i))
		}
	}

	data := m.Data()
	require.Len(t, data, 16)
	assert.InDelta(t, 0.48, data[0*4+1], 1e-6)
}

func TestEmpty(t *testing.T) {
	m := FromRows(nil, nil)
	assert.Zero(t, m.Len())
	assert.Empty(t, m.Data())
	assert.Empty(t, m.Pairs(types.Maximize))

	m, err := FromData(nil, nil)
	require.NoError(t, err)
	assert.Zero(t, m.Len())
}

func TestFromData_SizeMismatch(t *testing.T) {
	_, err := FromData([]string{"a", "b"}, []float64{1, 0, 0})
	assert.Error(t, err)
}
