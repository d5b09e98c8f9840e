package kernel

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dglocal/dglocal/element"
	"github.com/dglocal/dglocal/plan"
)

// forcedChunkedPlan builds a chunked plan by hand so the tests do not depend
// on which strategy the planner happens to prefer.
func forcedChunkedPlan(re *element.ReferenceElement, ft plan.DataType) *plan.LiftPlan {
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

func TestLiftKernelName(t *testing.T) {
	assert.Equal(t, "apply_lift_mat",
		LiftKernelName(plan.StrategyChunked, true))
	assert.Equal(t, "apply_multi_face_mass",
		LiftKernelName(plan.StrategyChunked, false))
	assert.Equal(t, "apply_lift_mat_smem",
		LiftKernelName(plan.StrategySharedStage, true))
}

func TestGenerateChunkedLift(t *testing.T) {
	re := element.MustNew(element.Tetrahedron, 3)
	lp := forcedChunkedPlan(re, plan.Float32)

	src := GenerateChunkedLift(lp, true)

	assert.Contains(t, src, "typedef float real_t;")
	assert.Contains(t, src, "@kernel void apply_lift_mat(")
	assert.Contains(t, src, fmt.Sprintf("#define DOFS_PER_EL %d", 20))
	assert.Contains(t, src, fmt.Sprintf("#define CHUNK_DOF_COUNT %d", lp.ChunkSize))
	assert.Contains(t, src, fmt.Sprintf("#define MB_CHUNK_COUNT %d", lp.ChunksPerMicroblock()))
	assert.Contains(t, src, fmt.Sprintf("#define LIFTMAT_COLUMNS %d", lp.MatrixColumns))
	assert.Contains(t, src, fmt.Sprintf("#define LIFTMAT_CHUNK_FLOATS %d", lp.MatrixChunkFloats))
	assert.Contains(t, src, "@outer(1)")
	assert.Contains(t, src, "@outer(0)")
	assert.Contains(t, src, "@inner(1)")
	assert.Contains(t, src, "@inner(0)")
	assert.Contains(t, src, "@shared real_t liftMatTile[LIFTMAT_CHUNK_FLOATS];")
	assert.Contains(t, src, "@exclusive real_t result;")
	assert.Contains(t, src,
		fmt.Sprintf("const int chunkStartElLookup[%d]", lp.ChunksPerMicroblock()))
	assert.Contains(t, src, "inverseJacobians")

	// The multi-face-mass variant skips the Jacobian scaling.
	src = GenerateChunkedLift(lp, false)
	assert.Contains(t, src, "@kernel void apply_multi_face_mass(")
	assert.NotContains(t, src, "inverseJacobians")
}

func TestGenerateChunkedLiftCoversAllColumns(t *testing.T) {
	re := element.MustNew(element.Triangle, 4)
	lp := forcedChunkedPlan(re, plan.Float64)
	src := GenerateChunkedLift(lp, true)

	// Both matrix-product paths must touch every face-dof column.
	lastCol := lp.Given.FaceDofsPerEl() - 1
	assert.Contains(t, src,
		fmt.Sprintf("liftMatTile[chunkDof*LIFTMAT_COLUMNS + %d]", lastCol))
	assert.Contains(t, src, "dofBuffer[parMb][0]")
	assert.Contains(t, src,
		fmt.Sprintf("dofEl*FACE_DOFS_PER_EL + %d]", lastCol))
}

func TestGenerateSharedStageLift(t *testing.T) {
	re := element.MustNew(element.Tetrahedron, 2)
	g := plan.NewGiven(re, plan.Float64, plan.DefaultDeviceData())
	lp := &plan.LiftPlan{
		Given:         g,
		Strategy:      plan.StrategySharedStage,
		ChunkSize:     g.Microblock.AlignedFloats,
		Parallelism:   plan.Parallelism{P: 2, S: plan.DefaultSequentialMicroblocks},
		MatrixColumns: g.FaceDofsPerEl(),
	}

	lift := re.Lifting()
	src := GenerateSharedStageLift(lp, lift, true)

	assert.Contains(t, src, "typedef double real_t;")
	assert.Contains(t, src, "@kernel void apply_lift_mat_smem(")
	assert.Contains(t, src,
		fmt.Sprintf("const double liftMat[%d][%d] = {", g.DofsPerEl, g.FaceDofsPerEl()))
	// Embedded entries carry full double precision.
	assert.Contains(t, src, fmt.Sprintf("%.15e", lift.At(0, 0)))
	assert.Contains(t, src,
		"@shared real_t smemFluxes[PAR_MB_COUNT][ALIGNED_FACE_DOFS_PER_MB];")
	assert.Contains(t, src, "inverseJacobians[globalMbNr*MB_EL_COUNT + mbEl]")

	// Single-precision embedding switches the literal format.
	lp32 := *lp
	lp32.Given = plan.NewGiven(re, plan.Float32, plan.DefaultDeviceData())
	lp32.ChunkSize = lp32.Given.Microblock.AlignedFloats
	src32 := GenerateSharedStageLift(&lp32, lift, false)
	assert.Contains(t, src32, "typedef float real_t;")
	assert.Contains(t, src32, fmt.Sprintf("%.7ef", lift.At(0, 0)))
	assert.NotContains(t, src32, "inverseJacobians")
}

func TestGenerateSharedStageLiftRejectsWrongShape(t *testing.T) {
	re := element.MustNew(element.Triangle, 2)
	g := plan.NewGiven(re, plan.Float64, plan.DefaultDeviceData())
	lp := &plan.LiftPlan{
		Given:       g,
		Strategy:    plan.StrategySharedStage,
		ChunkSize:   g.Microblock.AlignedFloats,
		Parallelism: plan.Parallelism{P: 1, S: plan.DefaultSequentialMicroblocks},
	}
	wrong := element.MustNew(element.Triangle, 3).Lifting()
	assert.Panics(t, func() { GenerateSharedStageLift(lp, wrong, true) })
}

func TestPackLiftMatrix(t *testing.T) {
	re := element.MustNew(element.Tetrahedron, 3)
	lp := forcedChunkedPlan(re, plan.Float64)
	g := lp.Given

	lift := re.Lifting()
	packed := PackLiftMatrix(lift, lp)
	require.Len(t, packed, lp.ChunksPerMicroblock()*lp.MatrixChunkFloats)

	_, cols := lift.Dims()
	for row := 0; row < g.DofsPerMicroblock(); row++ {
		c := row / lp.ChunkSize
		r := row % lp.ChunkSize
		base := c*lp.MatrixChunkFloats + r*lp.MatrixColumns
		for j := 0; j < cols; j++ {
			assert.Equal(t, lift.At(row%g.DofsPerEl, j), packed[base+j],
				"row %d col %d", row, j)
		}
		// Column padding keeps the stride odd and stays zero.
		for j := cols; j < lp.MatrixColumns; j++ {
			assert.Zero(t, packed[base+j])
		}
	}
}

func TestPackLiftMatrixRejectsSharedStagePlan(t *testing.T) {
	re := element.MustNew(element.Triangle, 2)
	g := plan.NewGiven(re, plan.Float64, plan.DefaultDeviceData())
	lp := &plan.LiftPlan{
		Given:       g,
		Strategy:    plan.StrategySharedStage,
		ChunkSize:   g.Microblock.AlignedFloats,
		Parallelism: plan.Parallelism{P: 1, S: plan.DefaultSequentialMicroblocks},
	}
	assert.Panics(t, func() { PackLiftMatrix(re.Lifting(), lp) })
}

func TestModuleRender(t *testing.T) {
	m := Module{
		Typedef{From: "double", To: "real_t"},
		Define{"N", 4},
		Kernel{
			Name: "copy",
			Params: []Param{
				{Type: "real_t", Name: "dst", Pointer: true, Restrict: true},
				{Type: "real_t", Name: "src", Pointer: true, Const: true, Restrict: true},
			},
			Body: Block{
				For{
					Init: "int i = 0", Cond: "i < N", Post: "++i", Attr: "@outer(0)",
					Body: Block{
						For{
							Init: "int j = 0", Cond: "j < N", Post: "++j", Attr: "@inner(0)",
							Body: Block{Assign{"dst[i*N + j]", "src[i*N + j]"}},
						},
					},
				},
			},
		},
	}
	src := m.Render()
	assert.Contains(t, src, "typedef double real_t;")
	assert.Contains(t, src, "#define N 4")
	assert.Contains(t, src, "for (int j = 0; j < N; ++j; @inner(0)) {")
	assert.Contains(t, src, "@restrict const real_t *src")
	assert.Equal(t, 1, strings.Count(src, "@kernel void copy("))
}
