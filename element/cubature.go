package element

import (
	"fmt"
	"math"
)

// simplexCubature returns nodes (in unit coordinates) and weights of a
// positive-degree cubature rule on the reference simplex of the given
// dimension, exact for polynomials up to exactToDegree. Weights sum to the
// reference element measure 2^dim/dim!.
//
// Dimension 1 uses Gauss quadrature; dimensions 2 and 3 use the
// Grundmann-Moeller combinatorial rules. A zero-dimensional "rule" is the
// single point of weight 1 used for interval faces.
func simplexCubature(exactToDegree, dim int) (points [][]float64, weights []float64, err error) {
	if exactToDegree < 0 {
		return nil, nil, fmt.Errorf("cubature degree must be non-negative, got %d", exactToDegree)
	}
	switch dim {
	case 0:
		return [][]float64{{}}, []float64{1}, nil
	case 1:
		// k+1 Gauss points are exact to degree 2k+1.
		k := exactToDegree / 2
		x, w := JacobiGQ(0, 0, k)
		points = make([][]float64, len(x))
		for i := range x {
			points[i] = []float64{x[i]}
		}
		return points, w, nil
	case 2, 3:
		return grundmannMoeller(exactToDegree, dim)
	}
	return nil, nil, fmt.Errorf("no simplex cubature in dimension %d", dim)
}

// grundmannMoeller constructs the Grundmann-Moeller rule of index
// s = exactToDegree/2, exact to degree 2s+1.
//
// A. Grundmann and H.M. Moeller, "Invariant integration formulas for the
// n-simplex by combinatorial methods", SIAM J. Numer. Anal. 15 (1978).
func grundmannMoeller(exactToDegree, dim int) (points [][]float64, weights []float64, err error) {
	s := exactToDegree / 2
	d := 2*s + 1
	n := dim
	verts := make([][]float64, 0, n+1)
	switch dim {
	case 2:
		verts = unitVertices(Triangle)
	case 3:
		verts = unitVertices(Tetrahedron)
	default:
		return nil, nil, fmt.Errorf("Grundmann-Moeller rules need dimension 2 or 3, got %d", dim)
	}

	// The rule is stated on the unit-measure simplex; rescale to the
	// biunit reference simplex.
	measureScale := math.Pow(2, float64(n))

	for i := 0; i <= s; i++ {
		w := math.Pow(-1, float64(i)) * math.Pow(2, -2*float64(s)) *
			math.Pow(float64(d+n-2*i), float64(d)) /
			(factorial(i) * factorial(d+n-i))
		w *= measureScale

		denom := float64(d + n - 2*i)
		for _, beta := range compositionsSummingTo(s-i, n+1) {
			pt := make([]float64, n)
			for k, bk := range beta {
				lambda := (2*float64(bk) + 1) / denom
				for c := 0; c < n; c++ {
					pt[c] += lambda * verts[k][c]
				}
			}
			points = append(points, pt)
			weights = append(weights, w)
		}
	}
	return points, weights, nil
}

// compositionsSummingTo enumerates non-negative integer tuples of the given
// length summing to exactly n.
func compositionsSummingTo(n, length int) [][]int {
	if length == 1 {
		return [][]int{{n}}
	}
	var out [][]int
	for i := 0; i <= n; i++ {
		for _, rest := range compositionsSummingTo(n-i, length-1) {
			out = append(out, append([]int{i}, rest...))
		}
	}
	return out
}

func factorial(n int) float64 {
	f := 1.0
	for i := 2; i <= n; i++ {
		f *= float64(i)
	}
	return f
}
