package element

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFaceIndexShuffleTriangle(t *testing.T) {
	re := MustNew(Triangle, 2)

	t.Run("Identity", func(t *testing.T) {
		s, err := re.FaceIndexShuffleToMatch([]int{10, 20}, []int{10, 20})
		require.NoError(t, err)
		assert.Equal(t, []int{0, 3, 5}, s.Apply([]int{0, 3, 5}))
	})

	t.Run("Reversal", func(t *testing.T) {
		s, err := re.FaceIndexShuffleToMatch([]int{10, 20}, []int{20, 10})
		require.NoError(t, err)
		// Edge nodes seen from the flipped side run backwards.
		assert.Equal(t, []int{5, 3, 0}, s.Apply([]int{0, 3, 5}))
		// A vertex swap is its own inverse.
		assert.Equal(t, []int{0, 3, 5}, s.Apply(s.Apply([]int{0, 3, 5})))
	})

	t.Run("Mismatch", func(t *testing.T) {
		_, err := re.FaceIndexShuffleToMatch([]int{10, 20}, []int{10, 30})
		require.Error(t, err)
		var mismatch *FaceVertexMismatchError
		assert.ErrorAs(t, err, &mismatch)
	})
}

func TestFaceIndexShuffleTetrahedron(t *testing.T) {
	re := MustNew(Tetrahedron, 3)

	face1 := []int{7, 8, 9}
	perms := [][]int{
		{7, 8, 9}, {7, 9, 8}, {8, 7, 9}, {8, 9, 7}, {9, 7, 8}, {9, 8, 7},
	}
	indices := re.FaceIndices()[0]

	seen := make(map[string]bool)
	for _, face2 := range perms {
		s, err := re.FaceIndexShuffleToMatch(face1, face2)
		require.NoError(t, err)
		out := s.Apply(indices)

		// Every shuffle is a permutation of the face indices.
		counts := make(map[int]int)
		for _, i := range out {
			counts[i]++
		}
		for _, i := range indices {
			assert.Equal(t, 1, counts[i])
		}

		key := ""
		for _, i := range out {
			key += string(rune('a' + i))
		}
		seen[key] = true
	}
	// The six orientations give six distinct orderings.
	assert.Len(t, seen, 6)
}

func TestFaceIndexShuffleIsGeometric(t *testing.T) {
	// Shuffled node positions must coincide with the affinely remapped
	// originals: swapping the two vertices of a triangle edge mirrors the
	// chopped coordinate.
	re := MustNew(Triangle, 3)
	nodes := re.UnitFaceNodes()
	s, err := re.FaceIndexShuffleToMatch([]int{0, 1}, []int{1, 0})
	require.NoError(t, err)

	local := make([]int, len(nodes))
	for i := range local {
		local[i] = i
	}
	out := s.Apply(local)
	for j := range nodes {
		assert.InDelta(t, -nodes[j][0], nodes[out[j]][0], 1e-12)
	}
}

func TestQuadratureFaceShuffle(t *testing.T) {
	re := MustNew(Tetrahedron, 2)
	q, err := re.Quadrature(4)
	require.NoError(t, err)

	s, err := q.FaceIndexShuffleToMatch([]int{1, 2, 3}, []int{2, 1, 3})
	require.NoError(t, err)
	out := s.Apply(q.FaceIndices()[0])
	assert.Len(t, out, q.FaceNodeCount())

	_, err = q.FaceIndexShuffleToMatch([]int{1, 2, 3}, []int{1, 2, 4})
	var mismatch *FaceVertexMismatchError
	assert.ErrorAs(t, err, &mismatch)
}
