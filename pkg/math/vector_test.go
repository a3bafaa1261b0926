package math

import (
	"math"
	"testing"
)

func TestDot(t *testing.T) {
	tests := []struct {
		a, b []float32
		want float64
	}{
		{[]float32{1, 2, 3}, []float32{4, 5, 6}, 32},
		{[]float32{1, 0, 0, 0, 1}, []float32{1, 0, 0, 0, 1}, 2},
		{[]float32{1}, []float32{1, 2}, 0},
		{nil, nil, 0},
	}

	for _, tt := range tests {
		if got := Dot(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Dot(%v, %v) = %f, want %f", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	v, ok := Normalize([]float32{3, 4})
	if !ok {
		t.Fatal("expected ok for non-zero vector")
	}
	if math.Abs(Norm(v)-1) > 1e-6 {
		t.Errorf("expected unit norm, got %f", Norm(v))
	}
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("unexpected components %v", v)
	}
}

func TestNormalize_Rejects(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	cases := map[string][]float32{
		"empty": {},
		"zero":  {0, 0, 0},
		"nan":   {1, nan},
		"inf":   {inf, 1},
	}
	for name, v := range cases {
		if _, ok := Normalize(v); ok {
			t.Errorf("%s: expected Normalize to reject %v", name, v)
		}
	}
}

func TestNormalize_DoesNotMutate(t *testing.T) {
	in := []float32{2, 0}
	_, _ = Normalize(in)
	if in[0] != 2 {
		t.Errorf("input mutated: %v", in)
	}
}

func TestCosineDistance(t *testing.T) {
	if d := CosineDistance([]float32{1, 0}, []float32{2, 0}); math.Abs(d) > 1e-9 {
		t.Errorf("parallel vectors: expected 0, got %f", d)
	}
	if d := CosineDistance([]float32{1, 0}, []float32{-1, 0}); math.Abs(d-2) > 1e-9 {
		t.Errorf("opposite vectors: expected 2, got %f", d)
	}
	if d := CosineDistance([]float32{1, 0}, []float32{0, 0}); d != 2 {
		t.Errorf("zero vector: expected 2, got %f", d)
	}
}

func TestMean(t *testing.T) {
	rows := [][]float32{{1, 1}, {3, 5}, {100, 100}}
	dst := make([]float32, 2)
	Mean(dst, rows, []int{0, 1})
	if dst[0] != 2 || dst[1] != 3 {
		t.Errorf("Mean = %v, want [2 3]", dst)
	}
}
