package math

import (
	"math"
)

// Dot computes the inner product of two float32 vectors in float64.
// Vectors of different lengths yield 0.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var sum float64
	n := len(a)

	// Process 4 elements at a time
	i := 0
	for ; i <= n-4; i += 4 {
		sum += float64(a[i])*float64(b[i]) +
			float64(a[i+1])*float64(b[i+1]) +
			float64(a[i+2])*float64(b[i+2]) +
			float64(a[i+3])*float64(b[i+3])
	}

	for ; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}

	return sum
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	return math.Sqrt(Dot(v, v))
}

// Finite reports whether every component of v is a finite number.
func Finite(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Normalize returns a unit-length copy of v. The second result is false
// when v is empty, non-finite or has zero norm; such vectors carry no
// direction and must be treated as missing.
func Normalize(v []float32) ([]float32, bool) {
	if len(v) == 0 || !Finite(v) {
		return nil, false
	}

	mag := Norm(v)
	if mag == 0 || math.IsNaN(mag) || math.IsInf(mag, 0) {
		return nil, false
	}

	out := make([]float32, len(v))
	inv := 1.0 / mag
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out, true
}

// CosineDistance computes 1 - cos(a, b) for arbitrary (not necessarily
// unit) vectors. Returns a value in [0, 2]; empty or zero vectors are at
// the maximum distance.
func CosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 2.0
	}

	denom := Norm(a) * Norm(b)
	if denom == 0 {
		return 2.0
	}

	similarity := Dot(a, b) / denom
	// Clamp to [-1, 1] to absorb rounding error
	if similarity > 1.0 {
		similarity = 1.0
	} else if similarity < -1.0 {
		similarity = -1.0
	}

	return 1.0 - similarity
}

// Mean writes the element-wise mean of the selected rows into dst.
// dst must have the rows' dimensionality.
func Mean(dst []float32, rows [][]float32, idxs []int) {
	for d := range dst {
		dst[d] = 0
	}
	if len(idxs) == 0 {
		return
	}

	sums := make([]float64, len(dst))
	for _, idx := range idxs {
		row := rows[idx]
		for d := 0; d < len(dst) && d < len(row); d++ {
			sums[d] += float64(row[d])
		}
	}

	inv := 1.0 / float64(len(idxs))
	for d := range dst {
		dst[d] = float32(sums[d] * inv)
	}
}
