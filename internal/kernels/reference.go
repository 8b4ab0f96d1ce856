package kernels

import "math"

// JacobiStep computes one sweep of the 5-point stencil on an n x n grid,
// copying the boundary.
func JacobiStep(in []float32, n int) []float32 {
	out := make([]float32, n*n)
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			idx := row*n + col
			if row == 0 || col == 0 || row == n-1 || col == n-1 {
				out[idx] = in[idx]
				continue
			}
			out[idx] = 0.25 * (in[idx-n] + in[idx+n] + in[idx-1] + in[idx+1])
		}
	}
	return out
}

// Jacobi runs iterations sweeps starting from in.
func Jacobi(in []float32, n, iterations int) []float32 {
	cur := in
	for i := 0; i < iterations; i++ {
		cur = JacobiStep(cur, n)
	}
	return cur
}

// JacobiInput is the grid value[i] = i % n.
func JacobiInput(n int) []float32 {
	grid := make([]float32, n*n)
	for i := range grid {
		grid[i] = float32(i % n)
	}
	return grid
}

// ScalarProduct returns the dot product of each of vectorN vector pairs.
func ScalarProduct(a, b []float32, vectorN, elementN int) []float32 {
	out := make([]float32, vectorN)
	for v := 0; v < vectorN; v++ {
		var sum float64
		base := v * elementN
		for e := 0; e < elementN; e++ {
			sum += float64(a[base+e]) * float64(b[base+e])
		}
		out[v] = float32(sum)
	}
	return out
}

// ScalarProductInputs fills the two operand arrays with i % 10 and i % 5.
func ScalarProductInputs(vectorN, elementN int) (a, b []float32) {
	n := vectorN * elementN
	a = make([]float32, n)
	b = make([]float32, n)
	for i := 0; i < n; i++ {
		a[i] = float32(i % 10)
		b[i] = float32(i % 5)
	}
	return a, b
}

// Ramp returns 0, 1, ..., n-1.
func Ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)
	}
	return out
}

// MaxAbsError is the largest element-wise difference. Arrays of different
// length compare as +Inf.
func MaxAbsError(got, want []float32) float64 {
	if len(got) != len(want) {
		return math.Inf(1)
	}
	var worst float64
	for i := range got {
		d := math.Abs(float64(got[i]) - float64(want[i]))
		if math.IsNaN(d) {
			return math.NaN()
		}
		worst = max(worst, d)
	}
	return worst
}
