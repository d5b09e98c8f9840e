package element

import "math"

// equilateralVertices returns the vertices of the equilateral (or, for the
// interval, the biunit) reference simplex, in vertex order.
func equilateralVertices(kind Kind) [][]float64 {
	switch kind {
	case Interval:
		return [][]float64{{-1}, {1}}
	case Triangle:
		s3 := math.Sqrt(3)
		return [][]float64{
			{-1, -1 / s3},
			{1, -1 / s3},
			{0, 2 / s3},
		}
	case Tetrahedron:
		s3, s6 := math.Sqrt(3), math.Sqrt(6)
		return [][]float64{
			{-1, -1 / s3, -1 / s6},
			{1, -1 / s3, -1 / s6},
			{0, 2 / s3, -1 / s6},
			{0, 0, 3 / s6},
		}
	}
	return nil
}

// barycentricToEquilateral maps barycentric coordinates (lambda sums to one)
// to equilateral coordinates as the convex combination of the equilateral
// vertices.
func barycentricToEquilateral(kind Kind, lambda []float64) []float64 {
	verts := equilateralVertices(kind)
	d := kind.Dimensions()
	out := make([]float64, d)
	for v, vert := range verts {
		for i := 0; i < d; i++ {
			out[i] += lambda[v] * vert[i]
		}
	}
	return out
}

// equilateralToUnit returns the affine map from equilateral to unit
// coordinates. The unit simplex has vertices at -1 along every axis and +1
// on one axis per remaining vertex.
func equilateralToUnit(kind Kind) AffineMap {
	switch kind {
	case Interval:
		return NewAffineMap(1, 1, []float64{1}, []float64{0})
	case Triangle:
		s3 := math.Sqrt(3)
		return NewAffineMap(2, 2,
			[]float64{
				1, -1 / s3,
				0, 2 / s3,
			},
			[]float64{-1.0 / 3, -1.0 / 3})
	case Tetrahedron:
		s3, s6 := math.Sqrt(3), math.Sqrt(6)
		return NewAffineMap(3, 3,
			[]float64{
				1, -1 / s3, -1 / s6,
				0, 2 / s3, -1 / s6,
				0, 0, s6 / 2,
			},
			[]float64{-0.5, -0.5, -0.5})
	}
	panic("element: no equilateral-to-unit map for " + kind.String())
}

// unitToBarycentric maps unit coordinates to barycentric coordinates, with
// the vertex-A weight first.
func unitToBarycentric(kind Kind, x []float64) []float64 {
	switch kind {
	case Interval:
		return []float64{(1 - x[0]) / 2, (1 + x[0]) / 2}
	case Triangle:
		return []float64{-(x[0] + x[1]) / 2, (1 + x[0]) / 2, (1 + x[1]) / 2}
	case Tetrahedron:
		return []float64{
			-(1 + x[0] + x[1] + x[2]) / 2,
			(1 + x[0]) / 2,
			(1 + x[1]) / 2,
			(1 + x[2]) / 2,
		}
	}
	panic("element: no barycentric map for " + kind.String())
}
