package element

import "math"

// warpFactor evaluates Warburton's warp factor: the Newton interpolant of
// the Gauss-Lobatto minus equidistant node offsets, divided by (1 - x^2).
//
// See T. Warburton, "An explicit construction of interpolation nodes on the
// simplex", Journal of Engineering Mathematics Vol 56, No 3, p. 247-262, 2006.
type warpFactor struct {
	centers []float64
	coeffs  []float64
}

func newWarpFactor(order int) *warpFactor {
	lgl := JacobiGL(0, 0, order)
	eq := make([]float64, order+1)
	diff := make([]float64, order+1)
	for i := range eq {
		eq[i] = -1 + 2*float64(i)/float64(order)
		diff[i] = lgl[i] - eq[i]
	}
	return &warpFactor{centers: eq, coeffs: dividedDifferences(eq, diff)}
}

func (wf *warpFactor) at(x float64) float64 {
	if math.Abs(x) > 1-1e-10 {
		return 0
	}
	// Horner evaluation of the Newton form.
	n := len(wf.coeffs)
	v := wf.coeffs[n-1]
	for i := n - 2; i >= 0; i-- {
		v = v*(x-wf.centers[i]) + wf.coeffs[i]
	}
	return v / (1 - x*x)
}

// dividedDifferences computes the Newton interpolation coefficients for the
// values y at the points x.
func dividedDifferences(x, y []float64) []float64 {
	n := len(x)
	c := append([]float64(nil), y...)
	for level := 1; level < n; level++ {
		for i := n - 1; i >= level; i-- {
			c[i] = (c[i] - c[i-1]) / (x[i] - x[i-level])
		}
	}
	return c
}

// triangleWarper shifts equilateral triangle nodes toward the edges, one
// blended warp per edge.
type triangleWarper struct {
	alpha float64
	warp  *warpFactor

	// Per face: the two spanning vertex indices, the normalized edge
	// direction in equilateral coordinates, and the opposite vertex index.
	faceVerts [][]int
	edgeDirs  [][]float64
	oppVerts  []int
}

func newTriangleWarper(alpha float64, order int) *triangleWarper {
	verts := equilateralVertices(Triangle)
	faceVerts := Triangle.FaceVertices()

	tw := &triangleWarper{
		alpha:     alpha,
		warp:      newWarpFactor(order),
		faceVerts: faceVerts,
	}
	for _, fv := range faceVerts {
		dir := normalize(sub(verts[fv[1]], verts[fv[0]]))
		tw.edgeDirs = append(tw.edgeDirs, dir)
		tw.oppVerts = append(tw.oppVerts, oppositeVertex(3, fv))
	}
	return tw
}

// shift returns the warp displacement for one barycentric point.
func (tw *triangleWarper) shift(bp []float64) []float64 {
	out := make([]float64, 2)
	for f, fv := range tw.faceVerts {
		blend := 4 * bp[fv[0]] * bp[fv[1]]
		opp := tw.alpha * bp[tw.oppVerts[f]]
		amount := blend * tw.warp.at(bp[fv[1]]-bp[fv[0]]) * (1 + opp*opp)
		for i := range out {
			out[i] += amount * tw.edgeDirs[f][i]
		}
	}
	return out
}

// Optimized blend parameters per order, from Warburton's Nodes2D/Nodes3D.
var (
	triangleAlphaOpt = []float64{0.0000, 0.0000, 1.4152, 0.1001, 0.2751,
		0.9800, 1.0999, 1.2832, 1.3648, 1.4773, 1.4959, 1.5743, 1.5770,
		1.6223, 1.6258}
	tetAlphaOpt = []float64{0, 0, 0, 0.1002, 1.1332, 1.5608, 1.3413,
		1.2577, 1.1603, 1.10153, 0.6080, 0.4523, 0.8856, 0.8717, 0.9655}
)

func blendAlpha(kind Kind, order int) float64 {
	var opt []float64
	var fallback float64
	switch kind {
	case Triangle:
		opt, fallback = triangleAlphaOpt, 5.0/3.0
	case Tetrahedron:
		opt, fallback = tetAlphaOpt, 1
	}
	if order-1 < len(opt) {
		return opt[order-1]
	}
	return fallback
}

// buildNodes computes the warped interpolation nodes in equilateral and unit
// coordinates.
func (re *ReferenceElement) buildNodes() {
	if re.Order == 0 {
		// A single unwarped node at the centroid.
		lambda := make([]float64, re.Kind.VertexCount())
		for i := range lambda {
			lambda[i] = 1 / float64(len(lambda))
		}
		eq := barycentricToEquilateral(re.Kind, lambda)
		re.equilateral = [][]float64{eq}
		re.unit = [][]float64{equilateralToUnit(re.Kind).Apply(eq)}
		return
	}

	switch re.Kind {
	case Interval:
		lgl := JacobiGL(0, 0, re.Order)
		re.equilateral = make([][]float64, len(lgl))
		for i, x := range lgl {
			re.equilateral[i] = []float64{x}
		}
	case Triangle:
		re.equilateral = re.warpedTriangleNodes()
	case Tetrahedron:
		re.equilateral = re.warpedTetNodes()
	}

	e2u := equilateralToUnit(re.Kind)
	re.unit = make([][]float64, len(re.equilateral))
	for i, eq := range re.equilateral {
		re.unit[i] = e2u.Apply(eq)
	}
}

// equidistantBarycentricNodes places one node per node tuple on the regular
// lattice, vertex-A weight first.
func (re *ReferenceElement) equidistantBarycentricNodes() [][]float64 {
	out := make([][]float64, len(re.nodeTuples))
	for n, t := range re.nodeTuples {
		lambda := make([]float64, len(t)+1)
		sum := 0.0
		for i, ti := range t {
			lambda[i+1] = float64(ti) / float64(re.Order)
			sum += lambda[i+1]
		}
		lambda[0] = 1 - sum
		out[n] = lambda
	}
	return out
}

// warpedTriangleNodes is a port of Warburton's Nodes2D routine, expressed
// through barycentric blending.
func (re *ReferenceElement) warpedTriangleNodes() [][]float64 {
	warper := newTriangleWarper(blendAlpha(Triangle, re.Order), re.Order)
	bary := re.equidistantBarycentricNodes()
	out := make([][]float64, len(bary))
	for n, bp := range bary {
		eq := barycentricToEquilateral(Triangle, bp)
		shift := warper.shift(bp)
		out[n] = []float64{eq[0] + shift[0], eq[1] + shift[1]}
	}
	return out
}

// warpedTetNodes is a port of Hesthaven/Warburton's Nodes3D routine: each
// face of the tetrahedron contributes a triangle warp, blended into the
// interior and scattered along two orthogonal in-face directions.
func (re *ReferenceElement) warpedTetNodes() [][]float64 {
	alpha := blendAlpha(Tetrahedron, re.Order)
	verts := equilateralVertices(Tetrahedron)
	faceVerts := Tetrahedron.FaceVertices()
	triWarp := newTriangleWarper(alpha, re.Order)

	bary := re.equidistantBarycentricNodes()
	points := make([][]float64, len(bary))
	for n, bp := range bary {
		points[n] = barycentricToEquilateral(Tetrahedron, bp)
	}

	for _, fv := range faceVerts {
		v1, v2, v3 := verts[fv[0]], verts[fv[1]], verts[fv[2]]

		// Directions spanning the face: base and altitude.
		base := normalize(sub(v2, v1))
		alt := normalize(sub(v3, scale(add(v1, v2), 0.5)))
		opp := oppositeVertex(4, fv)

		for n, bp := range bary {
			faceBp := []float64{bp[fv[0]], bp[fv[1]], bp[fv[2]]}

			blend := faceBp[0] * faceBp[1] * faceBp[2]
			oa := 1 + alpha*bp[opp]
			blend *= oa * oa
			for _, i := range fv {
				denom := bp[i] + 0.5*bp[opp]
				if math.Abs(denom) > 1e-12 {
					blend /= denom
				} else {
					// Edge nodes are shifted once per adjacent face.
					blend = 0.5
					break
				}
			}

			tw := triWarp.shift(faceBp)
			for i := range points[n] {
				points[n][i] += blend * (tw[0]*base[i] + tw[1]*alt[i])
			}
		}
	}
	return points
}

func oppositeVertex(vertexCount int, face []int) int {
	for v := 0; v < vertexCount; v++ {
		onFace := false
		for _, fv := range face {
			if fv == v {
				onFace = true
				break
			}
		}
		if !onFace {
			return v
		}
	}
	panic("element: face spans every vertex")
}

func sub(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range out {
		out[i] = a[i] - b[i]
	}
	return out
}

func add(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range out {
		out[i] = a[i] + b[i]
	}
	return out
}

func scale(a []float64, f float64) []float64 {
	out := make([]float64, len(a))
	for i := range out {
		out[i] = f * a[i]
	}
	return out
}

func normalize(a []float64) []float64 {
	n := 0.0
	for _, v := range a {
		n += v * v
	}
	return scale(a, 1/math.Sqrt(n))
}
