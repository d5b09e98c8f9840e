package element

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Quadrature carries the cubature-grid variant of one reference element's
// operators, exact for integrands up to ExactToDegree. Volume matrices act
// between the element's nodal grid and the cubature grid; face matrices act
// on the concatenated per-face cubature dofs.
type Quadrature struct {
	re            *ReferenceElement
	ExactToDegree int

	VolumeNodes   [][]float64
	VolumeWeights []float64
	FaceNodes     [][]float64
	FaceWeights   []float64

	// Basis evaluations on the cubature grids.
	Vandermonde     *mat.Dense
	FaceVandermonde *mat.Dense

	// Interpolation from nodal dofs up to the cubature grids.
	VolumeUpInterpolation       *mat.Dense
	FaceUpInterpolation         *mat.Dense
	VolumeToFaceUpInterpolation *mat.Dense

	// Weighted-sum operators, pulled back to nodal coefficients.
	Mass          *mat.Dense
	StiffnessT    []*mat.Dense
	FaceMass      *mat.Dense
	MultiFaceMass *mat.Dense

	shuffles map[permKey]*FaceIndexShuffle
}

// Quadrature returns the memoized cubature variant exact to the given
// degree.
func (re *ReferenceElement) Quadrature(exactToDegree int) (*Quadrature, error) {
	re.quadMu.Lock()
	defer re.quadMu.Unlock()
	if q, ok := re.quads[exactToDegree]; ok {
		return q, nil
	}
	q, err := newQuadrature(re, exactToDegree)
	if err != nil {
		return nil, fmt.Errorf("element: %s order %d quadrature degree %d: %w",
			re.Kind, re.Order, exactToDegree, err)
	}
	re.quads[exactToDegree] = q
	return q, nil
}

func newQuadrature(re *ReferenceElement, exactToDegree int) (*Quadrature, error) {
	d := re.Kind.Dimensions()
	q := &Quadrature{re: re, ExactToDegree: exactToDegree}

	var err error
	q.VolumeNodes, q.VolumeWeights, err = simplexCubature(exactToDegree, d)
	if err != nil {
		return nil, err
	}
	q.FaceNodes, q.FaceWeights, err = simplexCubature(exactToDegree, d-1)
	if err != nil {
		return nil, err
	}

	q.Vandermonde = re.VandermondeAt(q.VolumeNodes)
	q.FaceVandermonde = re.faceVandermonde(q.FaceNodes)

	v := re.matrices.Vandermonde
	if q.VolumeUpInterpolation, err = leftSolve(v, q.Vandermonde); err != nil {
		return nil, err
	}
	if q.FaceUpInterpolation, err = leftSolve(re.matrices.FaceVandermonde, q.FaceVandermonde); err != nil {
		return nil, err
	}

	faceNodesInVolume := q.faceNodesInVolume()
	allFaceVdm := re.VandermondeAt(faceNodesInVolume)
	if q.VolumeToFaceUpInterpolation, err = leftSolve(v, allFaceVdm); err != nil {
		return nil, err
	}

	if q.Mass, err = weightedPullback(v, q.Vandermonde, q.VolumeWeights); err != nil {
		return nil, err
	}

	diffVdm := re.GradVandermondeAt(q.VolumeNodes)
	q.StiffnessT = make([]*mat.Dense, len(diffVdm))
	for i, dv := range diffVdm {
		if q.StiffnessT[i], err = weightedPullback(v, dv, q.VolumeWeights); err != nil {
			return nil, err
		}
	}

	if q.FaceMass, err = weightedPullback(re.matrices.FaceVandermonde, q.FaceVandermonde, q.FaceWeights); err != nil {
		return nil, err
	}
	q.MultiFaceMass = re.assembleMultiFaceMass(q.FaceMass)

	if q.shuffles, err = re.shuffleLookupForNodes(q.FaceNodes); err != nil {
		return nil, err
	}
	return q, nil
}

// weightedPullback solves Vt X = Bt diag(w), turning a cubature-grid
// evaluation matrix B into an operator on nodal coefficients.
func weightedPullback(v, b *mat.Dense, w []float64) (*mat.Dense, error) {
	rows, cols := b.Dims()
	weighted := mat.NewDense(cols, rows, nil)
	for i := 0; i < cols; i++ {
		for j := 0; j < rows; j++ {
			weighted.Set(i, j, b.At(j, i)*w[j])
		}
	}
	var x mat.Dense
	if err := x.Solve(v.T(), weighted); err != nil {
		return nil, fmt.Errorf("weighted quadrature pullback: %w", err)
	}
	return &x, nil
}

// faceNodesInVolume maps the face cubature nodes onto every face in volume
// unit coordinates, faces concatenated in order.
func (q *Quadrature) faceNodesInVolume() [][]float64 {
	re := q.re
	if re.Kind == Interval {
		// Point faces: the vertices themselves.
		return [][]float64{{-1}, {1}}
	}
	var out [][]float64
	for _, fm := range re.matrices.FaceMaps {
		for _, fn := range q.FaceNodes {
			out = append(out, fm.Apply(fn))
		}
	}
	return out
}

// NodeCount returns the number of volume cubature nodes.
func (q *Quadrature) NodeCount() int { return len(q.VolumeNodes) }

// FaceNodeCount returns the number of cubature nodes per face.
func (q *Quadrature) FaceNodeCount() int { return len(q.FaceNodes) }

// FaceIndices returns, per face, the index ranges into the concatenated
// facial cubature dof vector.
func (q *Quadrature) FaceIndices() [][]int {
	fnc := q.FaceNodeCount()
	out := make([][]int, q.re.Kind.FaceCount())
	for f := range out {
		idx := make([]int, fnc)
		for i := range idx {
			idx[i] = f*fnc + i
		}
		out[f] = idx
	}
	return out
}

// FaceIndexShuffleToMatch is the cubature-grid analogue of the element's
// face matcher.
func (q *Quadrature) FaceIndexShuffleToMatch(face1Verts, face2Verts []int) (*FaceIndexShuffle, error) {
	normalize := make(map[int]int, len(face1Verts))
	for i, v := range face1Verts {
		normalize[v] = i
	}
	perm := make([]int, len(face2Verts))
	for i, v := range face2Verts {
		n, ok := normalize[v]
		if !ok {
			return nil, &FaceVertexMismatchError{Face1: face1Verts, Face2: face2Verts}
		}
		perm[i] = n
	}
	s, ok := q.shuffles[permKeyOf(perm)]
	if !ok {
		return nil, &FaceVertexMismatchError{Face1: face1Verts, Face2: face2Verts}
	}
	return s, nil
}
