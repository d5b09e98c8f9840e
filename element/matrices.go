package element

import (
	"fmt"
	"math"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
)

// MatrixBundle holds the operator matrices of one reference element. All of
// them act on nodal coefficient vectors in local node order.
type MatrixBundle struct {
	// Vandermonde and its gradient, one matrix per unit direction.
	Vandermonde     *mat.Dense
	GradVandermonde []*mat.Dense

	// InverseMass = V Vt for the orthonormal basis; Mass is its inverse.
	// Scale by the element Jacobian to obtain global operators.
	InverseMass *mat.Dense
	Mass        *mat.Dense

	// Diff maps nodal values to nodal derivative values, per unit direction.
	Diff []*mat.Dense

	// Face operators on face-0 unit coordinates. FaceMass acts on one
	// face's dofs; MultiFaceMass scatters all faces' dofs into a volume
	// contribution; Lifting = InverseMass * MultiFaceMass.
	FaceVandermonde *mat.Dense
	FaceMass        *mat.Dense
	MultiFaceMass   *mat.Dense
	Lifting         *mat.Dense

	// UnitFaceNodes are the face-0 nodes in facial unit coordinates; they
	// are identical across faces.
	UnitFaceNodes [][]float64

	// FaceMaps take facial unit coordinates into volume unit coordinates,
	// one per face. Empty for intervals, whose faces are points.
	FaceMaps []AffineMap
}

// Vandermonde returns the square Vandermonde matrix at the element nodes.
func (re *ReferenceElement) Vandermonde() *mat.Dense { return re.matrices.Vandermonde }

// GradVandermonde returns the gradient Vandermonde matrices, one per unit
// direction.
func (re *ReferenceElement) GradVandermonde() []*mat.Dense {
	return re.matrices.GradVandermonde
}

// InverseMass returns V Vt, the inverse of the unit-element mass matrix.
func (re *ReferenceElement) InverseMass() *mat.Dense { return re.matrices.InverseMass }

// Mass returns the unit-element mass matrix.
func (re *ReferenceElement) Mass() *mat.Dense { return re.matrices.Mass }

// DiffMatrices returns the nodal differentiation matrices, one per unit
// direction.
func (re *ReferenceElement) DiffMatrices() []*mat.Dense { return re.matrices.Diff }

// FaceVandermonde returns the face-basis Vandermonde at the face-0 nodes.
func (re *ReferenceElement) FaceVandermonde() *mat.Dense {
	return re.matrices.FaceVandermonde
}

// FaceMass returns the mass matrix of one face with respect to the facial
// nodal coefficients.
func (re *ReferenceElement) FaceMass() *mat.Dense { return re.matrices.FaceMass }

// MultiFaceMass applies the face mass matrix of every face to a concatenated
// [face_0_dofs | face_1_dofs | ...] vector, scattering into volume dofs.
func (re *ReferenceElement) MultiFaceMass() *mat.Dense { return re.matrices.MultiFaceMass }

// Lifting returns InverseMass * MultiFaceMass.
func (re *ReferenceElement) Lifting() *mat.Dense { return re.matrices.Lifting }

// UnitFaceNodes returns the face-0 node locations in facial unit
// coordinates.
func (re *ReferenceElement) UnitFaceNodes() [][]float64 { return re.matrices.UnitFaceNodes }

// FaceAffineMaps returns, per face, the affine map from facial unit
// coordinates to volume unit coordinates. Nil for intervals.
func (re *ReferenceElement) FaceAffineMaps() []AffineMap { return re.matrices.FaceMaps }

func (re *ReferenceElement) buildMatrices() error {
	mb := &MatrixBundle{}
	re.matrices = mb

	mb.Vandermonde = re.VandermondeAt(re.unit)
	mb.GradVandermonde = re.GradVandermondeAt(re.unit)

	var minv mat.Dense
	minv.Mul(mb.Vandermonde, mb.Vandermonde.T())
	mb.InverseMass = &minv

	var mass mat.Dense
	if err := mass.Inverse(&minv); err != nil {
		return fmt.Errorf("inverting V*Vt: %w", err)
	}
	mb.Mass = &mass

	mb.Diff = make([]*mat.Dense, len(mb.GradVandermonde))
	for i, gv := range mb.GradVandermonde {
		d, err := leftSolve(mb.Vandermonde, gv)
		if err != nil {
			return fmt.Errorf("differentiation matrix %d: %w", i, err)
		}
		mb.Diff[i] = d
	}
	// The node and mode numbering treat the unit axes symmetrically;
	// verify by permuting D_0 onto every other axis.
	for k := 1; k < len(mb.Diff); k++ {
		if _, err := re.DiffMatPermutation(k); err != nil {
			return err
		}
	}

	mb.UnitFaceNodes = re.chopFaceNodes()
	mb.FaceVandermonde = re.faceVandermonde(mb.UnitFaceNodes)

	var fmm mat.Dense
	var fvv mat.Dense
	fvv.Mul(mb.FaceVandermonde, mb.FaceVandermonde.T())
	if err := fmm.Inverse(&fvv); err != nil {
		return fmt.Errorf("inverting face V*Vt: %w", err)
	}
	mb.FaceMass = &fmm

	mb.MultiFaceMass = re.assembleMultiFaceMass(mb.FaceMass)

	var lift mat.Dense
	lift.Mul(mb.InverseMass, mb.MultiFaceMass)
	mb.Lifting = &lift

	if re.Kind != Interval {
		maps, err := faceAffineMaps(re.Kind)
		if err != nil {
			return err
		}
		mb.FaceMaps = maps
	}
	return nil
}

// chopFaceNodes projects the face-0 nodes to facial unit coordinates by
// dropping the last unit coordinate, which is -1 on face 0.
func (re *ReferenceElement) chopFaceNodes() [][]float64 {
	d := re.Kind.Dimensions()
	out := make([][]float64, 0, len(re.faceIndices[0]))
	for _, i := range re.faceIndices[0] {
		out = append(out, append([]float64(nil), re.unit[i][:d-1]...))
	}
	return out
}

// faceVandermonde evaluates the orthonormal basis of the (d-1)-dimensional
// face simplex at the given facial points.
func (re *ReferenceElement) faceVandermonde(points [][]float64) *mat.Dense {
	np := len(points)
	switch re.Kind.Dimensions() - 1 {
	case 0:
		// The face of an interval is a point; its only basis function
		// is the constant 1.
		return mat.NewDense(np, 1, []float64{1})
	case 1:
		v := mat.NewDense(np, re.Order+1, nil)
		x := column(points, 0)
		for m := 0; m <= re.Order; m++ {
			setColumn(v, m, JacobiP(x, 0, 0, m))
		}
		return v
	case 2:
		modes := tuplesSummingAtMost(re.Order, 2)
		v := mat.NewDense(np, len(modes), nil)
		a, b := RStoAB(column(points, 0), column(points, 1))
		for m, mt := range modes {
			setColumn(v, m, Simplex2DP(a, b, mt[0], mt[1]))
		}
		return v
	}
	panic("element: no face basis for " + re.Kind.String())
}

// assembleMultiFaceMass scatters one face mass matrix per face into a
// node_count x (face_count*face_node_count) block matrix.
func (re *ReferenceElement) assembleMultiFaceMass(faceMass *mat.Dense) *mat.Dense {
	fnc, width := faceMass.Dims()
	if fnc != re.FaceNodeCount() {
		panic("element: face mass matrix height does not match face node count")
	}
	dok := sparse.NewDOK(re.NodeCount(), re.Kind.FaceCount()*width)
	for f, indices := range re.faceIndices {
		for r, node := range indices {
			for c := 0; c < width; c++ {
				dok.Set(node, f*width+c, faceMass.At(r, c))
			}
		}
	}
	return dok.ToDense()
}

// DiffMatPermutation returns the node permutation p with
// Diff[0][p][:, p] == Diff[target], obtained by transposing slots 0 and
// target of each node tuple. The identity is checked to 1e-12 and a
// violation reported as an error since it would mean the node and mode
// numbering disagree.
func (re *ReferenceElement) DiffMatPermutation(target int) ([]int, error) {
	tupIdx := make(map[string]int, len(re.nodeTuples))
	for i, t := range re.nodeTuples {
		tupIdx[tupleKey(t)] = i
	}

	p := make([]int, len(re.nodeTuples))
	for i, t := range re.nodeTuples {
		tt := append([]int(nil), t...)
		tt[0], tt[target] = tt[target], tt[0]
		p[i] = tupIdx[tupleKey(tt)]
	}

	d0 := re.matrices.Diff[0]
	dt := re.matrices.Diff[target]
	var maxDiff float64
	for i := range p {
		for j := range p {
			diff := math.Abs(d0.At(p[i], p[j]) - dt.At(i, j))
			if diff > maxDiff {
				maxDiff = diff
			}
		}
	}
	if maxDiff > 1e-12 {
		return nil, fmt.Errorf(
			"differentiation matrices 0 and %d disagree under node transposition (max %g)",
			target, maxDiff)
	}
	return p, nil
}

// unitVertices returns the reference simplex vertices in unit coordinates.
func unitVertices(kind Kind) [][]float64 {
	d := kind.Dimensions()
	verts := make([][]float64, d+1)
	for v := range verts {
		x := make([]float64, d)
		for i := range x {
			x[i] = -1
		}
		if v > 0 {
			x[v-1] = 1
		}
		verts[v] = x
	}
	return verts
}

// faceAffineMaps builds, per face, the map from facial unit coordinates into
// volume unit coordinates: identify the affine volume map taking face 0 onto
// the face, then compose with the (u -> (u, -1)) embedding onto face 0.
func faceAffineMaps(kind Kind) ([]AffineMap, error) {
	d := kind.Dimensions()
	verts := unitVertices(kind)
	faceVerts := kind.FaceVertices()

	pointSets := make([][][]float64, len(faceVerts))
	for f, fv := range faceVerts {
		pts := make([][]float64, 0, d+1)
		for _, v := range fv {
			pts = append(pts, verts[v])
		}
		pts = append(pts, verts[oppositeVertex(d+1, fv)])
		pointSets[f] = pts
	}

	// u -> (u, -1) lands facial unit coordinates on face 0.
	embed := make([]float64, d*(d-1))
	for i := 0; i < d-1; i++ {
		embed[i*(d-1)+i] = 1
	}
	offset := make([]float64, d)
	offset[d-1] = -1
	toFace0 := AffineMap{A: mat.NewDense(d, d-1, embed), B: offset}

	maps := make([]AffineMap, len(faceVerts))
	for f, toPoints := range pointSets {
		am, err := IdentifyAffineMap(pointSets[0], toPoints)
		if err != nil {
			return nil, fmt.Errorf("face %d affine map: %w", f, err)
		}
		maps[f] = am.Compose(toFace0)
	}
	return maps, nil
}

// DtNonGeometricFactor returns the order-dependent part of the maximum
// stable time step: 2/3 of the minimum distance between a face node and a
// vertex, with the interval's tighter classical value.
func (re *ReferenceElement) DtNonGeometricFactor() float64 {
	if re.Kind == Interval {
		if re.Order == 0 {
			return 1
		}
		return 0.85 * dist(re.unit[0], re.unit[1])
	}

	min := math.Inf(1)
	for _, faceIdx := range re.faceIndices {
		for _, fn := range faceIdx {
			for _, v := range re.vertexIndices {
				if v == fn {
					continue
				}
				if d := dist(re.unit[fn], re.unit[v]); d < min {
					min = d
				}
			}
		}
	}
	return 2.0 / 3.0 * min
}

// DtGeometricFactor returns the geometry-dependent part of the maximum
// stable time step for one element, given its vertices, the Jacobian of its
// affine map and its face Jacobians.
func (re *ReferenceElement) DtGeometricFactor(vertices [][]float64, jacobian float64, faceJacobians []float64) float64 {
	switch re.Kind {
	case Interval:
		return math.Abs(jacobian)
	case Triangle:
		area := math.Abs(2 * jacobian)
		semi := 0.0
		for _, e := range [][2]int{{0, 1}, {1, 2}, {2, 0}} {
			semi += dist(vertices[e[0]], vertices[e[1]])
		}
		semi /= 2
		return area / semi
	case Tetrahedron:
		maxFj := 0.0
		for _, fj := range faceJacobians {
			if a := math.Abs(fj); a > maxFj {
				maxFj = a
			}
		}
		result := math.Abs(jacobian) / maxFj
		if re.Order == 1 || re.Order == 2 {
			// Low-order tets run into CFL trouble at the nominal
			// step; halve it.
			result /= 2
		}
		return result
	}
	panic("element: no geometric dt factor for " + re.Kind.String())
}

func dist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return math.Sqrt(s)
}

// leftSolve solves X * A = B.
func leftSolve(a, b mat.Matrix) (*mat.Dense, error) {
	var xt mat.Dense
	if err := xt.Solve(a.T(), b.T()); err != nil {
		return nil, fmt.Errorf("left solve: %w", err)
	}
	var x mat.Dense
	x.CloneFrom(xt.T())
	return &x, nil
}
