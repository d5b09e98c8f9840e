package kernel

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/dglocal/dglocal/plan"
)

// GenerateSharedStageLift renders the shared-staging lift kernel: the whole
// matrix is embedded in the source as a constant and each parallel lane
// stages a full microblock's face dofs in shared memory before the
// matrix-vector product.
//
// Launch shape: @outer(0) walks macroblocks, @inner(1) is the parallel
// microblock lane, @inner(0) the dof within the aligned microblock.
func GenerateSharedStageLift(lp *plan.LiftPlan, matrix mat.Matrix, isLift bool) string {
	g := lp.Given

	rows, cols := matrix.Dims()
	if rows != g.DofsPerEl || cols != g.FaceDofsPerEl() {
		panic(fmt.Sprintf(
			"kernel: matrix is %dx%d, want %dx%d for %s order %d",
			rows, cols, g.DofsPerEl, g.FaceDofsPerEl(), g.Kind, g.Order))
	}

	m := Module{
		Typedef{From: g.FloatType.DeviceName(), To: "real_t"},
		Blank{},
		Define{"DIMENSIONS", g.Kind.Dimensions()},
		Define{"DOFS_PER_EL", g.DofsPerEl},
		Define{"FACES_PER_EL", g.FacesPerEl},
		Define{"DOFS_PER_FACE", g.DofsPerFace},
		DefineExpr{"FACE_DOFS_PER_EL", "DOFS_PER_FACE*FACES_PER_EL"},
		Define{"MB_EL_COUNT", g.Microblock.Elements},
		Blank{},
		DefineExpr{"DOFS_PER_MB", "DOFS_PER_EL*MB_EL_COUNT"},
		Define{"ALIGNED_DOFS_PER_MB", g.Microblock.AlignedFloats},
		Define{"ALIGNED_FACE_DOFS_PER_MB", g.AlignedFaceDofsPerMicroblock()},
		Define{"PAR_MB_COUNT", lp.Parallelism.P},
		Define{"SEQ_MB_COUNT", lp.Parallelism.S},
		Blank{},
		StaticMatrix{Type: g.FloatType.DeviceName(), Name: "liftMat", M: matrix},
		Blank{},
	}

	params := []Param{
		{Type: "real_t", Name: "flux", Pointer: true, Restrict: true},
		{Type: "real_t", Name: "fluxesOnFaces", Pointer: true, Const: true, Restrict: true},
	}
	if isLift {
		params = append(params, Param{
			Type: "real_t", Name: "inverseJacobians",
			Pointer: true, Const: true, Restrict: true,
		})
	}
	params = append(params,
		Param{Type: "real_t", Name: "debugbuf", Pointer: true, Restrict: true},
		Param{Type: "int", Name: "macroblockCount", Const: true},
	)

	stage := smemNest(
		smemGlobalMbNrDecl,
		For{
			Init: "int i = mbDof",
			Cond: "i < ALIGNED_FACE_DOFS_PER_MB",
			Post: "i += ALIGNED_DOFS_PER_MB",
			Body: Block{
				Assign{"smemFluxes[parMb][i]",
					"fluxesOnFaces[globalMbNr*ALIGNED_FACE_DOFS_PER_MB + i]"},
			},
		},
	)

	store := "result"
	if isLift {
		store = "result * inverseJacobians[globalMbNr*MB_EL_COUNT + mbEl]"
	}
	computeBody := Block{
		VarDecl{Type: "int", Name: "mbEl", Const: true, Init: "mbDof / DOFS_PER_EL"},
		VarDecl{Type: "int", Name: "elDof", Const: true,
			Init: "mbDof - mbEl*DOFS_PER_EL"},
		VarDecl{Type: "real_t", Name: "result", Init: "0"},
	}
	for j := 0; j < g.FaceDofsPerEl(); j++ {
		computeBody = append(computeBody, AddAssign{"result",
			fmt.Sprintf("liftMat[elDof][%d]"+
				" * smemFluxes[parMb][mbEl*FACE_DOFS_PER_EL + %d]", j, j)})
	}
	computeBody = append(computeBody,
		Assign{"flux[globalMbNr*ALIGNED_DOFS_PER_MB + mbDof]", store})

	compute := smemNest(
		smemGlobalMbNrDecl,
		If{Cond: "mbDof < DOFS_PER_MB", Then: computeBody},
	)

	m = append(m, Kernel{
		Name:   LiftKernelName(plan.StrategySharedStage, isLift),
		Params: params,
		Body: Block{
			For{
				Init: "int macroblockNr = 0",
				Cond: "macroblockNr < macroblockCount",
				Post: "++macroblockNr",
				Attr: "@outer(0)",
				Body: Block{
					SharedDecl{Type: "real_t", Name: "smemFluxes",
						Dims: []string{"PAR_MB_COUNT", "ALIGNED_FACE_DOFS_PER_MB"}},
					Blank{},
					For{
						Init: "int seqMb = 0",
						Cond: "seqMb < SEQ_MB_COUNT",
						Post: "++seqMb",
						Body: Block{stage, compute},
					},
				},
			},
		},
	})

	return m.Render()
}

var smemGlobalMbNrDecl = VarDecl{
	Type: "int", Name: "globalMbNr", Const: true,
	Init: "macroblockNr*PAR_MB_COUNT*SEQ_MB_COUNT + seqMb*PAR_MB_COUNT + parMb",
}

// smemNest wraps a body in the @inner(1) x @inner(0) nest of the
// shared-staging kernel. Nest boundaries are block-wide barriers.
func smemNest(body ...Node) Node {
	return For{
		Init: "int parMb = 0",
		Cond: "parMb < PAR_MB_COUNT",
		Post: "++parMb",
		Attr: "@inner(1)",
		Body: Block{
			For{
				Init: "int mbDof = 0",
				Cond: "mbDof < ALIGNED_DOFS_PER_MB",
				Post: "++mbDof",
				Attr: "@inner(0)",
				Body: Block(body),
			},
		},
	}
}
