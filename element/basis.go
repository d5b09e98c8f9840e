package element

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// RStoAB transfers (r, s) on the unit triangle to collapsed coordinates
// (a, b) on the tensor-product square.
func RStoAB(r, s []float64) (a, b []float64) {
	np := len(r)
	a = make([]float64, np)
	b = make([]float64, np)
	for n := range r {
		if s[n] != 1 {
			a[n] = 2*(1+r[n])/(1-s[n]) - 1
		} else {
			a[n] = -1
		}
		b[n] = s[n]
	}
	return a, b
}

// RSTtoABC transfers (r, s, t) on the unit tetrahedron to collapsed
// coordinates (a, b, c) on the tensor-product cube.
func RSTtoABC(r, s, t []float64) (a, b, c []float64) {
	np := len(r)
	a = make([]float64, np)
	b = make([]float64, np)
	c = make([]float64, np)
	for n := range r {
		if s[n]+t[n] != 0 {
			a[n] = 2*(1+r[n])/(-s[n]-t[n]) - 1
		} else {
			a[n] = -1
		}
		if t[n] != 1 {
			b[n] = 2*(1+s[n])/(1-t[n]) - 1
		} else {
			b[n] = -1
		}
		c[n] = t[n]
	}
	return a, b, c
}

// Simplex2DP evaluates the orthonormal 2D simplex polynomial of mode (i, j)
// at the collapsed coordinates (a, b).
func Simplex2DP(a, b []float64, i, j int) []float64 {
	h1 := JacobiP(a, 0, 0, i)
	h2 := JacobiP(b, float64(2*i+1), 0, j)
	p := make([]float64, len(a))
	sq2 := math.Sqrt(2)
	for n := range p {
		p[n] = sq2 * h1[n] * h2[n] * powInt(1-b[n], i)
	}
	return p
}

// GradSimplex2DP evaluates the unit-coordinate gradient of the orthonormal
// 2D simplex polynomial of mode (i, j) at the points (r, s).
func GradSimplex2DP(r, s []float64, id, jd int) (ddr, dds []float64) {
	a, b := RStoAB(r, s)
	fa := JacobiP(a, 0, 0, id)
	dfa := GradJacobiP(a, 0, 0, id)
	gb := JacobiP(b, float64(2*id+1), 0, jd)
	dgb := GradJacobiP(b, float64(2*id+1), 0, jd)

	norm := math.Pow(2, float64(id)+0.5)
	ddr = make([]float64, len(r))
	dds = make([]float64, len(r))
	for n := range r {
		// d/dr = (2/(1-b)) d/da
		dr := dfa[n] * gb[n]
		if id > 0 {
			dr *= powInt(0.5*(1-b[n]), id-1)
		}
		ddr[n] = dr * norm

		// d/ds = ((1+a)/2)(2/(1-b)) d/da + d/db
		ds := 0.5 * dfa[n] * gb[n] * (1 + a[n])
		if id > 0 {
			ds *= powInt(0.5*(1-b[n]), id-1)
		}
		tmp := dgb[n] * powInt(0.5*(1-b[n]), id)
		if id > 0 {
			tmp -= 0.5 * float64(id) * gb[n] * powInt(0.5*(1-b[n]), id-1)
		}
		ds += fa[n] * tmp
		dds[n] = ds * norm
	}
	return ddr, dds
}

// Simplex3DP evaluates the orthonormal 3D simplex polynomial of mode
// (i, j, k) at the collapsed coordinates (a, b, c).
func Simplex3DP(a, b, c []float64, i, j, k int) []float64 {
	h1 := JacobiP(a, 0, 0, i)
	h2 := JacobiP(b, float64(2*i+1), 0, j)
	h3 := JacobiP(c, float64(2*(i+j)+2), 0, k)
	p := make([]float64, len(a))
	norm := 2 * math.Sqrt(2)
	for n := range p {
		p[n] = norm * h1[n] * h2[n] * h3[n] *
			powInt(1-b[n], i) * powInt(1-c[n], i+j)
	}
	return p
}

// GradSimplex3DP evaluates the unit-coordinate gradient of the orthonormal
// 3D simplex polynomial of mode (i, j, k) at the points (r, s, t).
func GradSimplex3DP(r, s, t []float64, id, jd, kd int) (ddr, dds, ddt []float64) {
	a, b, c := RSTtoABC(r, s, t)

	fa := JacobiP(a, 0, 0, id)
	gb := JacobiP(b, float64(2*id+1), 0, jd)
	hc := JacobiP(c, float64(2*(id+jd)+2), 0, kd)
	dfa := GradJacobiP(a, 0, 0, id)
	dgb := GradJacobiP(b, float64(2*id+1), 0, jd)
	dhc := GradJacobiP(c, float64(2*(id+jd)+2), 0, kd)

	norm := math.Pow(2, float64(2*id+jd)+1.5)
	np := len(r)
	ddr = make([]float64, np)
	dds = make([]float64, np)
	ddt = make([]float64, np)
	for n := 0; n < np; n++ {
		ai, bi, ci := a[n], b[n], c[n]

		dr := dfa[n] * gb[n] * hc[n]
		if id > 0 {
			dr *= powInt(0.5*(1-bi), id-1)
		}
		if id+jd > 0 {
			dr *= powInt(0.5*(1-ci), id+jd-1)
		}

		ds := 0.5 * (1 + ai) * dr
		tmp := dgb[n] * powInt(0.5*(1-bi), id)
		if id > 0 {
			tmp -= 0.5 * float64(id) * gb[n] * powInt(0.5*(1-bi), id-1)
		}
		if id+jd > 0 {
			tmp *= powInt(0.5*(1-ci), id+jd-1)
		}
		tmp *= fa[n] * hc[n]
		ds += tmp

		dt := 0.5*(1+ai)*dr + 0.5*(1+bi)*tmp
		tmp2 := dhc[n] * powInt(0.5*(1-ci), id+jd)
		if id+jd > 0 {
			tmp2 -= 0.5 * float64(id+jd) * hc[n] * powInt(0.5*(1-ci), id+jd-1)
		}
		tmp2 *= fa[n] * gb[n] * powInt(0.5*(1-bi), id)
		dt += tmp2

		ddr[n] = dr * norm
		dds[n] = ds * norm
		ddt[n] = dt * norm
	}
	return ddr, dds, ddt
}

// VandermondeAt evaluates every basis mode of the element at the given unit
// points, one point per row and one mode per column. Modes run in node-tuple
// order, so the square Vandermonde at the element's own nodes maps modal to
// nodal coefficients.
func (re *ReferenceElement) VandermondeAt(points [][]float64) *mat.Dense {
	np := len(points)
	modes := re.nodeTuples
	v := mat.NewDense(np, len(modes), nil)

	switch re.Kind {
	case Interval:
		r := column(points, 0)
		for m, mt := range modes {
			setColumn(v, m, JacobiP(r, 0, 0, mt[0]))
		}
	case Triangle:
		a, b := RStoAB(column(points, 0), column(points, 1))
		for m, mt := range modes {
			setColumn(v, m, Simplex2DP(a, b, mt[0], mt[1]))
		}
	case Tetrahedron:
		a, b, c := RSTtoABC(column(points, 0), column(points, 1), column(points, 2))
		for m, mt := range modes {
			setColumn(v, m, Simplex3DP(a, b, c, mt[0], mt[1], mt[2]))
		}
	}
	return v
}

// GradVandermondeAt evaluates the unit-coordinate gradient of every basis
// mode at the given points, one matrix per coordinate direction.
func (re *ReferenceElement) GradVandermondeAt(points [][]float64) []*mat.Dense {
	np := len(points)
	modes := re.nodeTuples
	d := re.Kind.Dimensions()
	grads := make([]*mat.Dense, d)
	for i := range grads {
		grads[i] = mat.NewDense(np, len(modes), nil)
	}

	switch re.Kind {
	case Interval:
		r := column(points, 0)
		for m, mt := range modes {
			setColumn(grads[0], m, GradJacobiP(r, 0, 0, mt[0]))
		}
	case Triangle:
		r, s := column(points, 0), column(points, 1)
		for m, mt := range modes {
			dr, ds := GradSimplex2DP(r, s, mt[0], mt[1])
			setColumn(grads[0], m, dr)
			setColumn(grads[1], m, ds)
		}
	case Tetrahedron:
		r, s, t := column(points, 0), column(points, 1), column(points, 2)
		for m, mt := range modes {
			dr, ds, dt := GradSimplex3DP(r, s, t, mt[0], mt[1], mt[2])
			setColumn(grads[0], m, dr)
			setColumn(grads[1], m, ds)
			setColumn(grads[2], m, dt)
		}
	}
	return grads
}

func column(points [][]float64, j int) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p[j]
	}
	return out
}

func setColumn(m *mat.Dense, j int, vals []float64) {
	for i, v := range vals {
		m.Set(i, j, v)
	}
}

// powInt is x^n for small non-negative integer n; n == 0 yields 1 even at
// x == 0, matching the limit taken in the collapsed-coordinate formulas.
func powInt(x float64, n int) float64 {
	p := 1.0
	for i := 0; i < n; i++ {
		p *= x
	}
	return p
}
