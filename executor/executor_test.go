package executor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/dglocal/dglocal/element"
	"github.com/dglocal/dglocal/plan"
	"github.com/dglocal/dglocal/utils"
)

// denseApply is the host-side reference: per element, the operator matrix
// applied to that element's face-dof slice.
func denseApply(g plan.Given, m *mat.Dense, fof, ij []float64, isLift bool, microblocks int) []float64 {
	out := make([]float64, microblocks*g.Microblock.AlignedFloats)
	for mb := 0; mb < microblocks; mb++ {
		for el := 0; el < g.Microblock.Elements; el++ {
			for i := 0; i < g.DofsPerEl; i++ {
				sum := 0.0
				for j := 0; j < g.FaceDofsPerEl(); j++ {
					sum += m.At(i, j) *
						fof[mb*g.AlignedFaceDofsPerMicroblock()+el*g.FaceDofsPerEl()+j]
				}
				if isLift {
					sum *= ij[mb*g.Microblock.Elements+el]
				}
				out[mb*g.Microblock.AlignedFloats+el*g.DofsPerEl+i] = sum
			}
		}
	}
	return out
}

func testFaceDofs(g plan.Given, microblocks int) []float64 {
	fof := make([]float64, microblocks*g.AlignedFaceDofsPerMicroblock())
	for mb := 0; mb < microblocks; mb++ {
		for el := 0; el < g.Microblock.Elements; el++ {
			for j := 0; j < g.FaceDofsPerEl(); j++ {
				idx := mb*g.AlignedFaceDofsPerMicroblock() + el*g.FaceDofsPerEl() + j
				fof[idx] = math.Sin(float64(idx) + 0.5)
			}
		}
	}
	return fof
}

func testInverseJacobians(g plan.Given, microblocks int) []float64 {
	ij := make([]float64, microblocks*g.Microblock.Elements)
	for i := range ij {
		ij[i] = 1.0 + 0.01*float64(i)
	}
	return ij
}

// assertMatchesDense compares only the meaningful dof positions; alignment
// padding between elements is unspecified.
func assertMatchesDense(t *testing.T, g plan.Given, got, want []float64, microblocks int, tol float64) {
	t.Helper()
	require.Len(t, got, microblocks*g.Microblock.AlignedFloats)
	for mb := 0; mb < microblocks; mb++ {
		for d := 0; d < g.DofsPerMicroblock(); d++ {
			idx := mb*g.Microblock.AlignedFloats + d
			assert.InDelta(t, want[idx], got[idx], tol,
				"microblock %d dof %d", mb, d)
		}
	}
}

func forcedChunked(re *element.ReferenceElement, ft plan.DataType) *plan.LiftPlan {
	g := plan.NewGiven(re, ft, plan.DefaultDeviceData())
	columns := g.FaceDofsPerEl()
	if columns%2 == 0 {
		columns++
	}
	chunkSize := g.Device.WarpSize / 2
	return &plan.LiftPlan{
		Given:             g,
		Strategy:          plan.StrategyChunked,
		ChunkSize:         chunkSize,
		Parallelism:       plan.Parallelism{P: 2, S: plan.DefaultSequentialMicroblocks},
		MatrixColumns:     columns,
		MatrixChunkFloats: g.Device.AlignedFloats(columns*chunkSize, ft),
	}
}

func forcedSharedStage(re *element.ReferenceElement) *plan.LiftPlan {
	g := plan.NewGiven(re, plan.Float64, plan.DefaultDeviceData())
	return &plan.LiftPlan{
		Given:         g,
		Strategy:      plan.StrategySharedStage,
		ChunkSize:     g.Microblock.AlignedFloats,
		Parallelism:   plan.Parallelism{P: 2, S: plan.DefaultSequentialMicroblocks},
		MatrixColumns: g.FaceDofsPerEl(),
	}
}

func TestExecutorLiftMatchesDense(t *testing.T) {
	device := utils.CreateTestDevice()
	defer device.Free()

	re := element.MustNew(element.Triangle, 2)

	for _, tc := range []struct {
		name string
		lp   *plan.LiftPlan
	}{
		{"Chunked", forcedChunked(re, plan.Float64)},
		{"SharedStage", forcedSharedStage(re)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ex, err := New(device, re, tc.lp, Options{})
			require.NoError(t, err)
			defer ex.Free()

			g := tc.lp.Given
			microblocks := tc.lp.Parallelism.Total()
			fof := testFaceDofs(g, microblocks)
			ij := testInverseJacobians(g, microblocks)
			require.NoError(t, ex.SetInverseJacobians(ij))

			got, err := ex.Apply(fof, true)
			require.NoError(t, err)
			want := denseApply(g, re.Lifting(), fof, ij, true, microblocks)
			assertMatchesDense(t, g, got, want, microblocks, 1e-10)
		})
	}
}

// Tetrahedron order 3 has 20 dofs per element, more than the 16-dof chunk,
// so some chunks sit entirely inside one element and the staged single-element
// path runs alongside the direct path.
func TestExecutorLiftHighOrderTetrahedron(t *testing.T) {
	device := utils.CreateTestDevice()
	defer device.Free()

	re := element.MustNew(element.Tetrahedron, 3)
	lp := forcedChunked(re, plan.Float64)
	require.Greater(t, lp.Given.DofsPerEl, lp.ChunkSize)
	starts, stops := lp.ChunkStartElements(), lp.ChunkStopElements()
	single, straddling := false, false
	for c := range starts {
		if stops[c]-starts[c] == 1 {
			single = true
		} else {
			straddling = true
		}
	}
	require.True(t, single && straddling, "chunk tables: starts %v stops %v", starts, stops)

	ex, err := New(device, re, lp, Options{})
	require.NoError(t, err)
	defer ex.Free()

	g := lp.Given
	microblocks := lp.Parallelism.Total()
	fof := testFaceDofs(g, microblocks)
	ij := testInverseJacobians(g, microblocks)
	require.NoError(t, ex.SetInverseJacobians(ij))

	got, err := ex.Apply(fof, true)
	require.NoError(t, err)
	want := denseApply(g, re.Lifting(), fof, ij, true, microblocks)
	assertMatchesDense(t, g, got, want, microblocks, 1e-10)
}

// Binding Jacobians for more microblocks than a launch pads to must not
// disturb the upload, in single precision included.
func TestExecutorFloat32ExtraJacobians(t *testing.T) {
	device := utils.CreateTestDevice()
	defer device.Free()

	re := element.MustNew(element.Triangle, 1)
	lp := forcedChunked(re, plan.Float32)
	ex, err := New(device, re, lp, Options{})
	require.NoError(t, err)
	defer ex.Free()

	g := lp.Given
	boundMb := 2 * lp.Parallelism.Total()
	ij := testInverseJacobians(g, boundMb)
	require.NoError(t, ex.SetInverseJacobians(ij))

	microblocks := 1
	fof := testFaceDofs(g, microblocks)
	got, err := ex.Apply(fof, true)
	require.NoError(t, err)
	want := denseApply(g, re.Lifting(), fof, ij, true, microblocks)
	assertMatchesDense(t, g, got, want, microblocks, 1e-4)
}

func TestExecutorMultiFaceMass(t *testing.T) {
	device := utils.CreateTestDevice()
	defer device.Free()

	re := element.MustNew(element.Tetrahedron, 1)
	lp := forcedChunked(re, plan.Float64)
	ex, err := New(device, re, lp, Options{})
	require.NoError(t, err)
	defer ex.Free()

	g := lp.Given
	microblocks := 2 // partial macroblock exercises launch padding
	fof := testFaceDofs(g, microblocks)

	// No inverse Jacobians needed without the lift scaling.
	got, err := ex.Apply(fof, false)
	require.NoError(t, err)
	want := denseApply(g, re.MultiFaceMass(), fof, nil, false, microblocks)
	assertMatchesDense(t, g, got, want, microblocks, 1e-10)
}

func TestExecutorKernelCache(t *testing.T) {
	device := utils.CreateTestDevice()
	defer device.Free()

	re := element.MustNew(element.Triangle, 1)
	ex, err := New(device, re, forcedChunked(re, plan.Float64), Options{Instrumented: true})
	require.NoError(t, err)
	defer ex.Free()

	g := ex.Plan().Given
	microblocks := 1
	fof := testFaceDofs(g, microblocks)
	require.NoError(t, ex.SetInverseJacobians(testInverseJacobians(g, microblocks)))

	_, err = ex.Apply(fof, true)
	require.NoError(t, err)
	assert.Equal(t, 1, ex.CachedKernels())

	_, err = ex.Apply(fof, true)
	require.NoError(t, err)
	assert.Equal(t, 1, ex.CachedKernels(), "second apply reuses the kernel")

	_, err = ex.Apply(fof, false)
	require.NoError(t, err)
	assert.Equal(t, 2, ex.CachedKernels(), "each variant compiles once")

	assert.Equal(t, 3, ex.LiftTimer.Count())
}

func TestExecutorDebugBufferDoesNotChangeResults(t *testing.T) {
	device := utils.CreateTestDevice()
	defer device.Free()

	re := element.MustNew(element.Triangle, 2)
	lp := forcedChunked(re, plan.Float64)
	g := lp.Given
	microblocks := 1
	fof := testFaceDofs(g, microblocks)
	ij := testInverseJacobians(g, microblocks)

	plain, err := New(device, re, lp, Options{})
	require.NoError(t, err)
	defer plain.Free()
	require.NoError(t, plain.SetInverseJacobians(ij))
	want, err := plain.Apply(fof, true)
	require.NoError(t, err)

	dbg, err := New(device, re, lp, Options{Debug: []string{DebugFlagLiftBuf}})
	require.NoError(t, err)
	defer dbg.Free()
	require.NoError(t, dbg.SetInverseJacobians(ij))
	got, err := dbg.Apply(fof, true)
	require.NoError(t, err)

	assert.Len(t, dbg.DebugDump, 1024)
	assertMatchesDense(t, g, got, want, microblocks, 1e-10)
}

func TestExecutorErrors(t *testing.T) {
	device := utils.CreateTestDevice()
	defer device.Free()

	re := element.MustNew(element.Triangle, 2)
	ex, err := New(device, re, forcedChunked(re, plan.Float64), Options{})
	require.NoError(t, err)
	defer ex.Free()
	g := ex.Plan().Given

	t.Run("LiftWithoutJacobians", func(t *testing.T) {
		_, err := ex.Apply(testFaceDofs(g, 1), true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "inverse Jacobians")
	})

	t.Run("BadBufferSize", func(t *testing.T) {
		_, err := ex.Apply(make([]float64, g.AlignedFaceDofsPerMicroblock()+1), false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "microblock stride")
	})

	t.Run("BadJacobianCount", func(t *testing.T) {
		err := ex.SetInverseJacobians(make([]float64, g.Microblock.Elements+1))
		require.Error(t, err)
	})

	t.Run("JacobianCoverage", func(t *testing.T) {
		require.NoError(t, ex.SetInverseJacobians(
			testInverseJacobians(g, 1)))
		_, err := ex.Apply(testFaceDofs(g, 2), true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cover")
	})

	t.Run("PlanElementMismatch", func(t *testing.T) {
		other := element.MustNew(element.Triangle, 3)
		_, err := New(device, other, forcedChunked(re, plan.Float64), Options{})
		require.Error(t, err)
	})
}

func TestTimer(t *testing.T) {
	var tm Timer
	assert.Zero(t, tm.Average())
	tm.Add(10)
	tm.Add(30)
	assert.Equal(t, 2, tm.Count())
	assert.EqualValues(t, 40, tm.Total())
	assert.EqualValues(t, 20, tm.Average())
	assert.Contains(t, tm.String(), "2 calls")
}
