// Package element builds the reference-element machinery shared by every
// element of a nodal DG discretization: warp-and-blend interpolation nodes,
// an orthonormal simplex basis, and the mass/differentiation/face-mass/
// lifting operators derived from them.
//
// All host-side construction is single-threaded and purely functional over
// (Kind, Order); a ReferenceElement is immutable once New returns, so it can
// be shared read-only without locking.
package element

import (
	"fmt"
	"sync"
)

// Kind identifies the reference element shape.
type Kind uint8

const (
	Interval Kind = iota
	Triangle
	Tetrahedron
)

func (k Kind) String() string {
	switch k {
	case Interval:
		return "Interval"
	case Triangle:
		return "Triangle"
	case Tetrahedron:
		return "Tetrahedron"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Dimensions returns the spatial dimension of the element kind.
func (k Kind) Dimensions() int {
	switch k {
	case Interval:
		return 1
	case Triangle:
		return 2
	case Tetrahedron:
		return 3
	}
	return 0
}

// VertexCount returns the number of vertices, always Dimensions+1 for
// simplices.
func (k Kind) VertexCount() int { return k.Dimensions() + 1 }

// FaceCount returns the number of faces, always Dimensions+1 for simplices.
func (k Kind) FaceCount() int { return k.Dimensions() + 1 }

// FaceVertices returns, per face, the vertex numbers spanning that face.
// Faces are ordered AB, BC, AC for triangles and ABC, ABD, ACD, BCD for
// tetrahedra; interval faces are the two endpoints.
func (k Kind) FaceVertices() [][]int {
	switch k {
	case Interval:
		return [][]int{{0}, {1}}
	case Triangle:
		return [][]int{{0, 1}, {1, 2}, {0, 2}}
	case Tetrahedron:
		return [][]int{{0, 1, 2}, {0, 1, 3}, {0, 2, 3}, {1, 2, 3}}
	}
	return nil
}

// ReferenceElement carries the nodes, basis and derived operators for one
// (Kind, Order) pair. Obtain instances through New, which memoizes them for
// the process lifetime.
type ReferenceElement struct {
	Kind  Kind
	Order int

	nodeTuples    [][]int
	vertexIndices []int
	faceIndices   [][]int

	equilateral [][]float64
	unit        [][]float64

	matrices *MatrixBundle
	shuffles map[permKey]*FaceIndexShuffle

	quadMu sync.Mutex
	quads  map[int]*Quadrature
}

type cacheKey struct {
	kind  Kind
	order int
}

var (
	cacheMu sync.Mutex
	cache   = make(map[cacheKey]*ReferenceElement)
)

// New returns the memoized reference element for (kind, order), building it
// on first use. Unsupported kinds and negative orders fail immediately.
func New(kind Kind, order int) (*ReferenceElement, error) {
	if kind != Interval && kind != Triangle && kind != Tetrahedron {
		return nil, fmt.Errorf("element: unsupported kind %s", kind)
	}
	if order < 0 {
		return nil, fmt.Errorf("element: %s order must be non-negative, got %d",
			kind, order)
	}

	key := cacheKey{kind, order}
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if re, ok := cache[key]; ok {
		return re, nil
	}

	re := &ReferenceElement{
		Kind:  kind,
		Order: order,
		quads: make(map[int]*Quadrature),
	}
	re.buildTopology()
	re.buildNodes()
	if err := re.buildMatrices(); err != nil {
		return nil, fmt.Errorf("element: %s order %d: %w", kind, order, err)
	}
	if err := re.buildShuffleLookup(); err != nil {
		return nil, fmt.Errorf("element: %s order %d: %w", kind, order, err)
	}
	cache[key] = re
	return re, nil
}

// MustNew is New for known-good arguments, panicking on error.
func MustNew(kind Kind, order int) *ReferenceElement {
	re, err := New(kind, order)
	if err != nil {
		panic(err)
	}
	return re
}

// NodeCount returns the number of interpolation nodes,
// prod(order+1+i, i<dim) / dim!.
func NodeCount(kind Kind, order int) int {
	d := kind.Dimensions()
	n := 1
	for i := 0; i < d; i++ {
		n *= order + 1 + i
	}
	for i := 2; i <= d; i++ {
		n /= i
	}
	return n
}

// NodeCount returns the number of interpolation nodes in this element.
func (re *ReferenceElement) NodeCount() int { return NodeCount(re.Kind, re.Order) }

// FaceNodeCount returns the number of nodes on one face; it is identical
// across faces of one element kind.
func (re *ReferenceElement) FaceNodeCount() int { return len(re.faceIndices[0]) }

// NodeTuples enumerates the node multi-indices in local node order. Each
// tuple has Dimensions entries summing to at most Order.
func (re *ReferenceElement) NodeTuples() [][]int { return re.nodeTuples }

// VertexIndices returns the local node indices sitting at the vertices, in
// vertex order A, B, ....
func (re *ReferenceElement) VertexIndices() []int { return re.vertexIndices }

// FaceIndices returns, per face, the local node indices lying on that face.
func (re *ReferenceElement) FaceIndices() [][]int { return re.faceIndices }

// UnitNodes returns the warped nodes in unit coordinates (r, s, t...).
func (re *ReferenceElement) UnitNodes() [][]float64 { return re.unit }

// EquilateralNodes returns the warped nodes in equilateral coordinates.
func (re *ReferenceElement) EquilateralNodes() [][]float64 { return re.equilateral }

// buildTopology derives node tuples, vertex node indices and per-face node
// index lists from the (kind, order) pair.
func (re *ReferenceElement) buildTopology() {
	d := re.Kind.Dimensions()
	re.nodeTuples = tuplesSummingAtMost(re.Order, d)

	tupIdx := make(map[string]int, len(re.nodeTuples))
	for i, t := range re.nodeTuples {
		tupIdx[tupleKey(t)] = i
	}

	// Vertex A is the all-zero tuple; vertex j+1 has Order in slot j.
	re.vertexIndices = make([]int, d+1)
	re.vertexIndices[0] = tupIdx[tupleKey(make([]int, d))]
	for j := 0; j < d; j++ {
		vt := make([]int, d)
		vt[j] = re.Order
		re.vertexIndices[j+1] = tupIdx[tupleKey(vt)]
	}

	re.faceIndices = make([][]int, re.Kind.FaceCount())
	for i, t := range re.nodeTuples {
		for _, f := range re.facesForNodeTuple(t) {
			re.faceIndices[f] = append(re.faceIndices[f], i)
		}
	}
}

// facesForNodeTuple lists the faces on which the node with the given
// multi-index lies.
func (re *ReferenceElement) facesForNodeTuple(t []int) []int {
	var faces []int
	switch re.Kind {
	case Interval:
		if t[0] == 0 {
			faces = append(faces, 0)
			if re.Order == 0 {
				faces = append(faces, 1)
			}
		}
		if re.Order > 0 && t[0] == re.Order {
			faces = append(faces, 1)
		}
	case Triangle:
		m, n := t[0], t[1]
		if n == 0 {
			faces = append(faces, 0)
		}
		if m+n == re.Order {
			faces = append(faces, 1)
		}
		if m == 0 {
			faces = append(faces, 2)
		}
	case Tetrahedron:
		m, n, o := t[0], t[1], t[2]
		if o == 0 {
			faces = append(faces, 0)
		}
		if n == 0 {
			faces = append(faces, 1)
		}
		if m == 0 {
			faces = append(faces, 2)
		}
		if m+n+o == re.Order {
			faces = append(faces, 3)
		}
	}
	return faces
}

// tuplesSummingAtMost enumerates non-negative integer tuples of the given
// length whose entries sum to at most n, first index outermost. This single
// ordering is shared by node numbering and basis mode numbering.
func tuplesSummingAtMost(n, length int) [][]int {
	if length == 0 {
		return [][]int{{}}
	}
	var out [][]int
	var rec func(prefix []int, remaining, slots int)
	rec = func(prefix []int, remaining, slots int) {
		if slots == 0 {
			t := make([]int, len(prefix))
			copy(t, prefix)
			out = append(out, t)
			return
		}
		for i := 0; i <= remaining; i++ {
			rec(append(prefix, i), remaining-i, slots-1)
		}
	}
	rec(make([]int, 0, length), n, length)
	return out
}

func tupleKey(t []int) string {
	b := make([]byte, 0, 3*len(t))
	for _, v := range t {
		b = append(b, byte('0'+v/10), byte('0'+v%10), ',')
	}
	return string(b)
}
