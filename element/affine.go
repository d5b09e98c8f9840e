package element

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// AffineMap is the map x -> A*x + B between coordinate systems of possibly
// different dimension.
type AffineMap struct {
	A *mat.Dense
	B []float64
}

// NewAffineMap builds an AffineMap from a row-major matrix and offset.
func NewAffineMap(rows, cols int, a []float64, b []float64) AffineMap {
	return AffineMap{A: mat.NewDense(rows, cols, a), B: append([]float64(nil), b...)}
}

// Apply evaluates the map at x.
func (am AffineMap) Apply(x []float64) []float64 {
	rows, cols := am.A.Dims()
	if len(x) != cols {
		panic(fmt.Sprintf("affine map expects %d coordinates, got %d", cols, len(x)))
	}
	y := make([]float64, rows)
	for i := 0; i < rows; i++ {
		v := am.B[i]
		for j := 0; j < cols; j++ {
			v += am.A.At(i, j) * x[j]
		}
		y[i] = v
	}
	return y
}

// Compose returns the map x -> outer(inner(x)).
func (am AffineMap) Compose(inner AffineMap) AffineMap {
	var a mat.Dense
	a.Mul(am.A, inner.A)
	b := am.Apply(inner.B)
	return AffineMap{A: mat.DenseCopyOf(&a), B: b}
}

// IdentifyAffineMap solves for the affine map taking each from-point to the
// corresponding to-point. The point count must be dim+1 so the system is
// square and the map unique.
func IdentifyAffineMap(from, to [][]float64) (AffineMap, error) {
	if len(from) == 0 || len(from) != len(to) {
		return AffineMap{}, fmt.Errorf("affine identification needs matching point sets")
	}
	dim := len(from[0])
	if len(from) != dim+1 {
		return AffineMap{}, fmt.Errorf(
			"affine identification in %d dimensions needs %d points, got %d",
			dim, dim+1, len(from))
	}
	if dim == 0 {
		return AffineMap{}, fmt.Errorf("affine identification needs at least one dimension")
	}

	// Unknowns: dim*dim matrix entries then dim offsets, one block of
	// equations per point.
	n := dim * (dim + 1)
	lhs := mat.NewDense(n, n, nil)
	rhs := mat.NewVecDense(n, nil)
	for p, fp := range from {
		for r := 0; r < dim; r++ {
			row := p*dim + r
			for c := 0; c < dim; c++ {
				lhs.Set(row, r*dim+c, fp[c])
			}
			lhs.Set(row, dim*dim+r, 1)
			rhs.SetVec(row, to[p][r])
		}
	}

	var sol mat.VecDense
	if err := sol.SolveVec(lhs, rhs); err != nil {
		return AffineMap{}, fmt.Errorf("affine identification is singular: %w", err)
	}

	a := make([]float64, dim*dim)
	b := make([]float64, dim)
	for i := range a {
		a[i] = sol.AtVec(i)
	}
	for i := range b {
		b[i] = sol.AtVec(dim*dim + i)
	}
	return NewAffineMap(dim, dim, a, b), nil
}
