package element

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// JacobiP evaluates the orthonormal Jacobi polynomial of type (alpha, beta)
// and order n at the points x.
func JacobiP(x []float64, alpha, beta float64, n int) []float64 {
	np := len(x)

	// P_0 and P_1 seed the recurrence.
	gamma0 := math.Pow(2, alpha+beta+1) / (alpha + beta + 1) *
		math.Gamma(alpha+1) * math.Gamma(beta+1) / math.Gamma(alpha+beta+1)

	pPrev := make([]float64, np)
	for i := range pPrev {
		pPrev[i] = 1.0 / math.Sqrt(gamma0)
	}
	if n == 0 {
		return pPrev
	}

	gamma1 := (alpha + 1) * (beta + 1) / (alpha + beta + 3) * gamma0
	p := make([]float64, np)
	for i := range p {
		p[i] = ((alpha+beta+2)*x[i]/2 + (alpha-beta)/2) / math.Sqrt(gamma1)
	}
	if n == 1 {
		return p
	}

	aold := 2.0 / (2.0 + alpha + beta) *
		math.Sqrt((alpha+1)*(beta+1)/(alpha+beta+3))

	for i := 1; i < n; i++ {
		h1 := 2*float64(i) + alpha + beta
		fi := float64(i)
		anew := 2.0 / (h1 + 2) * math.Sqrt((fi+1)*(fi+1+alpha+beta)*
			(fi+1+alpha)*(fi+1+beta)/(h1+1)/(h1+3))
		bnew := -(alpha*alpha - beta*beta) / h1 / (h1 + 2)

		for j := range p {
			pNext := (-aold*pPrev[j] + (x[j]-bnew)*p[j]) / anew
			pPrev[j] = p[j]
			p[j] = pNext
		}
		aold = anew
	}
	return p
}

// GradJacobiP evaluates d/dx of the orthonormal Jacobi polynomial,
// sqrt(n(n+alpha+beta+1)) * P_{n-1}^{alpha+1,beta+1}.
func GradJacobiP(x []float64, alpha, beta float64, n int) []float64 {
	dp := make([]float64, len(x))
	if n == 0 {
		return dp
	}
	shifted := JacobiP(x, alpha+1, beta+1, n-1)
	fac := math.Sqrt(float64(n) * (float64(n) + alpha + beta + 1))
	for i := range dp {
		dp[i] = fac * shifted[i]
	}
	return dp
}

// JacobiGQ computes the n+1 Gauss quadrature points and weights for the
// Jacobi weight (alpha, beta) via the eigen-decomposition of the symmetric
// tridiagonal Jacobi matrix.
func JacobiGQ(alpha, beta float64, n int) (x, w []float64) {
	if n == 0 {
		return []float64{-(alpha - beta) / (alpha + beta + 2)},
			[]float64{2}
	}

	h1 := make([]float64, n+1)
	for i := range h1 {
		h1[i] = 2*float64(i) + alpha + beta
	}

	d0 := make([]float64, n+1)
	fac := beta*beta - alpha*alpha
	for i := range d0 {
		d0[i] = fac / (h1[i] * (h1[i] + 2))
	}
	if alpha+beta < 10*1e-16 {
		d0[0] = 0
	}

	d1 := make([]float64, n)
	for i := 0; i < n; i++ {
		ip1 := float64(i + 1)
		d1[i] = 2.0 / (h1[i] + 2) * math.Sqrt(
			ip1*(ip1+alpha+beta)*(ip1+alpha)*(ip1+beta)/(h1[i]+1)/(h1[i]+3))
	}

	jm := symTriDiagonal(d0, d1)
	var eig mat.EigenSym
	if ok := eig.Factorize(jm, true); !ok {
		panic("element: Jacobi matrix eigen-decomposition failed")
	}
	x = eig.Values(nil)

	vecs := mat.NewDense(len(x), len(x), nil)
	eig.VectorsTo(vecs)
	w = make([]float64, len(x))
	g0 := math.Gamma(alpha+1) * math.Gamma(beta+1) *
		math.Pow(2, alpha+beta+1) / (alpha + beta + 1) / math.Gamma(alpha+beta+1)
	for i := range w {
		v := vecs.At(0, i)
		w[i] = v * v * g0
	}
	return x, w
}

// JacobiGL computes the n+1 Gauss-Lobatto points, the zeros of
// (1-x^2) * d/dx P_n^{alpha,beta}.
func JacobiGL(alpha, beta float64, n int) []float64 {
	switch n {
	case 0:
		return []float64{0}
	case 1:
		return []float64{-1, 1}
	}
	xint, _ := JacobiGQ(alpha+1, beta+1, n-2)
	x := make([]float64, n+1)
	x[0] = -1
	copy(x[1:n], xint)
	x[n] = 1
	return x
}

func symTriDiagonal(d0, d1 []float64) *mat.SymDense {
	n := len(d0)
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		s.SetSym(i, i, d0[i])
		if i < n-1 {
			s.SetSym(i, i+1, d1[i])
		}
	}
	return s
}
