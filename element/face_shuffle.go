package element

import (
	"fmt"
	"math"
)

// FaceVertexMismatchError reports that two vertex lists handed to the face
// matcher do not describe the same face.
type FaceVertexMismatchError struct {
	Face1, Face2 []int
}

func (e *FaceVertexMismatchError) Error() string {
	return fmt.Sprintf("face vertices %v and %v do not match", e.Face1, e.Face2)
}

// FaceIndexShuffle reorders one face's node indices so they line up with the
// node order of an adjacent face seen through a vertex permutation.
type FaceIndexShuffle struct {
	VertPerm []int
	idxMap   []int
}

// Apply returns the reordered index list.
func (s *FaceIndexShuffle) Apply(indices []int) []int {
	out := make([]int, len(s.idxMap))
	for j, i := range s.idxMap {
		out[j] = indices[i]
	}
	return out
}

type permKey string

func permKeyOf(perm []int) permKey {
	b := make([]byte, len(perm))
	for i, p := range perm {
		b[i] = byte(p)
	}
	return permKey(b)
}

// buildShuffleLookup precomputes one FaceIndexShuffle per vertex permutation
// of a face, keyed by the permutation.
func (re *ReferenceElement) buildShuffleLookup() error {
	shuffles, err := re.shuffleLookupForNodes(re.matrices.UnitFaceNodes)
	if err != nil {
		return err
	}
	re.shuffles = shuffles
	return nil
}

// shuffleLookupForNodes builds the per-permutation shuffle table for an
// arbitrary set of facial nodes, such as face quadrature nodes. For each
// vertex permutation it identifies the affine self-map of face 0 realizing
// the permutation, applies it to the nodes, and records which original node
// each mapped node lands on.
func (re *ReferenceElement) shuffleLookupForNodes(faceNodes [][]float64) (map[permKey]*FaceIndexShuffle, error) {
	d := re.Kind.Dimensions()
	result := make(map[permKey]*FaceIndexShuffle)

	identityIdx := make([]int, len(faceNodes))
	for i := range identityIdx {
		identityIdx[i] = i
	}

	for _, perm := range permutations(d) {
		if d == 1 || len(faceNodes) <= 1 {
			// A point face, or a single centroid node: every
			// orientation is the identity.
			result[permKeyOf(perm)] = &FaceIndexShuffle{
				VertPerm: perm,
				idxMap:   identityIdx,
			}
			continue
		}

		faceVerts := re.faceUnitVertices()
		permuted := make([][]float64, len(perm))
		for i, p := range perm {
			permuted[i] = faceVerts[p]
		}
		am, err := IdentifyAffineMap(faceVerts, permuted)
		if err != nil {
			return nil, fmt.Errorf("face shuffle for permutation %v: %w", perm, err)
		}

		idxMap := make([]int, len(faceNodes))
		for j, node := range faceNodes {
			i, err := nearestNode(faceNodes, am.Apply(node))
			if err != nil {
				return nil, fmt.Errorf("face shuffle for permutation %v: %w", perm, err)
			}
			idxMap[j] = i
		}
		result[permKeyOf(perm)] = &FaceIndexShuffle{VertPerm: perm, idxMap: idxMap}
	}
	return result, nil
}

// faceUnitVertices returns face 0's vertices in facial unit coordinates.
func (re *ReferenceElement) faceUnitVertices() [][]float64 {
	d := re.Kind.Dimensions()
	verts := unitVertices(re.Kind)
	out := make([][]float64, 0, d)
	for _, v := range re.Kind.FaceVertices()[0] {
		pt := verts[v]
		if math.Abs(pt[d-1]+1) > 1e-13 {
			panic("element: face-0 vertex is not on the last-coordinate = -1 plane")
		}
		out = append(out, pt[:d-1])
	}
	return out
}

// FaceIndexShuffleToMatch returns the shuffle aligning a neighbor face's
// node indices with this element's, given both faces' global vertex numbers
// in local face order. The vertex sets must agree as sets.
func (re *ReferenceElement) FaceIndexShuffleToMatch(face1Verts, face2Verts []int) (*FaceIndexShuffle, error) {
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
	s, ok := re.shuffles[permKeyOf(perm)]
	if !ok {
		return nil, &FaceVertexMismatchError{Face1: face1Verts, Face2: face2Verts}
	}
	return s, nil
}

const nodeMatchTol = 1e-10

// nearestNode finds the node matching pt within nodeMatchTol.
func nearestNode(nodes [][]float64, pt []float64) (int, error) {
	for i, n := range nodes {
		if dist(n, pt) < nodeMatchTol {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no facial node within %g of %v", nodeMatchTol, pt)
}

// permutations enumerates all permutations of 0..n-1.
func permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}
	var out [][]int
	var rec func(prefix []int, rest []int)
	rec = func(prefix []int, rest []int) {
		if len(rest) == 0 {
			out = append(out, append([]int(nil), prefix...))
			return
		}
		for i, v := range rest {
			next := make([]int, 0, len(rest)-1)
			next = append(next, rest[:i]...)
			next = append(next, rest[i+1:]...)
			rec(append(prefix, v), next)
		}
	}
	base := make([]int, n)
	for i := range base {
		base[i] = i
	}
	rec(nil, base)
	return out
}
