package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dglocal/dglocal/element"
)

func TestAlignedFloats(t *testing.T) {
	dd := DefaultDeviceData()
	assert.Equal(t, 16, dd.AlignedFloats(1, Float64))
	assert.Equal(t, 16, dd.AlignedFloats(16, Float64))
	assert.Equal(t, 32, dd.AlignedFloats(17, Float64))
	assert.Equal(t, 32, dd.AlignedFloats(1, Float32))
}

func TestMakeMicroblock(t *testing.T) {
	dd := DefaultDeviceData()

	// float64 alignment granularity is 16 floats.
	mb := MakeMicroblock(10, dd, Float64) // order-3 triangle
	assert.Equal(t, 8, mb.Elements)
	assert.Equal(t, 80, mb.AlignedFloats)
	assert.Zero(t, mb.AlignedFloats%16, "zero padding between elements")

	mb = MakeMicroblock(16, dd, Float64)
	assert.Equal(t, 1, mb.Elements)
	assert.Equal(t, 16, mb.AlignedFloats)

	mb = MakeMicroblock(20, dd, Float64) // order-3 tet
	assert.Equal(t, 4, mb.Elements)
	assert.Equal(t, 80, mb.AlignedFloats)
}

func TestNewGiven(t *testing.T) {
	re := element.MustNew(element.Tetrahedron, 3)
	g := NewGiven(re, Float32, DefaultDeviceData())
	assert.Equal(t, 20, g.DofsPerEl)
	assert.Equal(t, 10, g.DofsPerFace)
	assert.Equal(t, 4, g.FacesPerEl)
	assert.Equal(t, 40, g.FaceDofsPerEl())
	assert.Equal(t, g.Microblock.Elements*40, g.FaceDofsPerMicroblock())
	assert.GreaterOrEqual(t, g.AlignedFaceDofsPerMicroblock(),
		g.FaceDofsPerMicroblock())
}

func TestMakeLiftPlan(t *testing.T) {
	re := element.MustNew(element.Tetrahedron, 3)
	g := NewGiven(re, Float32, DefaultDeviceData())
	lp, err := MakeLiftPlan(g)
	require.NoError(t, err)

	assert.LessOrEqual(t, lp.SharedMemUse, g.Device.SharedMemBytes)
	assert.LessOrEqual(t, lp.Registers, g.Device.MaxRegisters)
	x, y := lp.ThreadsPerBlock()
	assert.LessOrEqual(t, x*y, g.Device.MaxThreadsPerBlock)

	if lp.Strategy == StrategyChunked {
		assert.Equal(t, 1, lp.MatrixColumns%2, "columns must be odd")
		assert.GreaterOrEqual(t,
			lp.ChunksPerMicroblock()*lp.ChunkSize, g.DofsPerMicroblock())
	}
}

func TestChunkElementTables(t *testing.T) {
	re := element.MustNew(element.Triangle, 3)
	g := NewGiven(re, Float64, DefaultDeviceData())
	lp, err := MakeLiftPlan(g)
	require.NoError(t, err)
	if lp.Strategy != StrategyChunked {
		// Force the chunked shape so the tables are exercised.
		lp = &LiftPlan{
			Given:         g,
			Strategy:      StrategyChunked,
			ChunkSize:     16,
			Parallelism:   Parallelism{P: 2, S: DefaultSequentialMicroblocks},
			MatrixColumns: paddedMatrixColumns(g),
		}
	}

	starts, stops := lp.ChunkStartElements(), lp.ChunkStopElements()
	require.Len(t, starts, lp.ChunksPerMicroblock())
	require.Len(t, stops, lp.ChunksPerMicroblock())

	for c := range starts {
		first := c * lp.ChunkSize
		last := first + lp.ChunkSize - 1
		assert.Equal(t, first/g.DofsPerEl, starts[c])
		assert.LessOrEqual(t, stops[c], g.Microblock.Elements)
		if last < g.DofsPerMicroblock() {
			assert.Greater(t, stops[c], last/g.DofsPerEl,
				"chunk %d must cover its own last dof", c)
		}
	}
	assert.GreaterOrEqual(t, lp.MaxElementsTouchedByChunk(), 1)
}

func TestMakeLiftPlanFailsOnTinyBudget(t *testing.T) {
	re := element.MustNew(element.Tetrahedron, 5)
	dd := DefaultDeviceData()
	dd.SharedMemBytes = 256 // smaller than any matrix tile
	dd.MaxThreadsPerBlock = 64
	g := NewGiven(re, Float64, dd)

	_, err := MakeLiftPlan(g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Tetrahedron")
	assert.Contains(t, err.Error(), "order 5")
}

func TestPlanHashDistinguishesConfigs(t *testing.T) {
	re := element.MustNew(element.Triangle, 2)
	g32 := NewGiven(re, Float32, DefaultDeviceData())
	g64 := NewGiven(re, Float64, DefaultDeviceData())
	p32, err := MakeLiftPlan(g32)
	require.NoError(t, err)
	p64, err := MakeLiftPlan(g64)
	require.NoError(t, err)
	assert.NotEqual(t, p32.Hash(), p64.Hash())
}
