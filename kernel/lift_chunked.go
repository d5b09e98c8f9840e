package kernel

import (
	"fmt"

	"github.com/dglocal/dglocal/plan"
)

// LiftKernelName returns the device function name a generated variant
// compiles to.
func LiftKernelName(strategy plan.Strategy, isLift bool) string {
	name := "apply_multi_face_mass"
	if isLift {
		name = "apply_lift_mat"
	}
	if strategy == plan.StrategySharedStage {
		name += "_smem"
	}
	return name
}

// GenerateChunkedLift renders the chunked lift kernel: the matrix lives in
// global memory as padded tiles, one tile per shared-memory chunk, and face
// dofs are staged through a per-lane dof buffer when a chunk's rows all
// belong to one element.
//
// Launch shape: @outer(1) walks macroblocks, @outer(0) walks the chunks of
// one microblock. @inner(1) is the parallel microblock lane, @inner(0) the
// dof within the chunk.
func GenerateChunkedLift(lp *plan.LiftPlan, isLift bool) string {
	g := lp.Given

	m := Module{
		Typedef{From: g.FloatType.DeviceName(), To: "real_t"},
		Blank{},
		Define{"DIMENSIONS", g.Kind.Dimensions()},
		Define{"DOFS_PER_EL", g.DofsPerEl},
		Define{"FACES_PER_EL", g.FacesPerEl},
		Define{"DOFS_PER_FACE", g.DofsPerFace},
		DefineExpr{"FACE_DOFS_PER_EL", "DOFS_PER_FACE*FACES_PER_EL"},
		Blank{},
		Define{"CHUNK_DOF_COUNT", lp.ChunkSize},
		Define{"MB_CHUNK_COUNT", lp.ChunksPerMicroblock()},
		Define{"MB_DOF_COUNT", g.Microblock.AlignedFloats},
		Define{"MB_FACEDOF_COUNT", g.AlignedFaceDofsPerMicroblock()},
		Define{"MB_EL_COUNT", g.Microblock.Elements},
		Define{"PAR_MB_COUNT", lp.Parallelism.P},
		Define{"SEQ_MB_COUNT", lp.Parallelism.S},
		Blank{},
		Define{"LIFTMAT_COLUMNS", lp.MatrixColumns},
		Define{"LIFTMAT_CHUNK_FLOATS", lp.MatrixChunkFloats},
		Blank{},
	}

	params := []Param{
		{Type: "real_t", Name: "flux", Pointer: true, Restrict: true},
		{Type: "real_t", Name: "liftMat", Pointer: true, Const: true, Restrict: true},
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

	outerBody := Block{
		SharedDecl{Type: "real_t", Name: "liftMatTile",
			Dims: []string{"LIFTMAT_CHUNK_FLOATS"}},
		SharedDecl{Type: "real_t", Name: "dofBuffer",
			Dims: []string{"PAR_MB_COUNT", "CHUNK_DOF_COUNT"}},
		ExclusiveDecl{Type: "real_t", Name: "result"},
		Blank{},
		ConstIntArray{Name: "chunkStartElLookup", Values: lp.ChunkStartElements()},
		ConstIntArray{Name: "chunkStopElLookup", Values: lp.ChunkStopElements()},
		VarDecl{Type: "int", Name: "chunkStartEl", Const: true,
			Init: "chunkStartElLookup[mbChunk]"},
		VarDecl{Type: "int", Name: "chunkElCount", Const: true,
			Init: "chunkStopElLookup[mbChunk] - chunkStartEl"},
		Blank{},
		Comment("cooperatively pull this chunk's matrix tile into shared memory"),
		innerNest(
			For{
				Init: "int i = chunkDof + parMb*CHUNK_DOF_COUNT",
				Cond: "i < LIFTMAT_CHUNK_FLOATS",
				Post: "i += PAR_MB_COUNT*CHUNK_DOF_COUNT",
				Body: Block{
					Assign{"liftMatTile[i]",
						"liftMat[mbChunk*LIFTMAT_CHUNK_FLOATS + i]"},
				},
			},
		),
		Blank{},
		If{
			Cond: "chunkElCount == 1",
			Then: Block{chunkedBatchedLoop(lp, isLift)},
			Else: Block{chunkedDirectLoop(lp, isLift)},
		},
	}

	m = append(m, Kernel{
		Name:   LiftKernelName(plan.StrategyChunked, isLift),
		Params: params,
		Body: Block{
			For{
				Init: "int macroblockNr = 0",
				Cond: "macroblockNr < macroblockCount",
				Post: "++macroblockNr",
				Attr: "@outer(1)",
				Body: Block{
					For{
						Init: "int mbChunk = 0",
						Cond: "mbChunk < MB_CHUNK_COUNT",
						Post: "++mbChunk",
						Attr: "@outer(0)",
						Body: outerBody,
					},
				},
			},
		},
	})

	return m.Render()
}

// innerNest wraps a loop body in the standard @inner(1) x @inner(0) nest.
// Every nest boundary is a block-wide barrier.
func innerNest(body ...Node) Node {
	return For{
		Init: "int parMb = 0",
		Cond: "parMb < PAR_MB_COUNT",
		Post: "++parMb",
		Attr: "@inner(1)",
		Body: Block{
			For{
				Init: "int chunkDof = 0",
				Cond: "chunkDof < CHUNK_DOF_COUNT",
				Post: "++chunkDof",
				Attr: "@inner(0)",
				Body: Block(body),
			},
		},
	}
}

var globalMbNrDecl = VarDecl{
	Type: "int", Name: "globalMbNr", Const: true,
	Init: "macroblockNr*PAR_MB_COUNT*SEQ_MB_COUNT + seqMb*PAR_MB_COUNT + parMb",
}

func resultStore(isLift bool) Node {
	store := "result"
	if isLift {
		store = "result * inverseJacobians[globalMbNr*MB_EL_COUNT + mbDof/DOFS_PER_EL]"
	}
	return If{
		Cond: "mbDof < DOFS_PER_EL*MB_EL_COUNT",
		Then: Block{
			Assign{"flux[globalMbNr*MB_DOF_COUNT + mbDof]", store},
		},
	}
}

// chunkedBatchedLoop handles chunks whose rows all belong to one element:
// the element's face dofs are staged through the shared dof buffer one
// chunk-sized batch at a time, so every global read is coalesced.
func chunkedBatchedLoop(lp *plan.LiftPlan, isLift bool) Node {
	g := lp.Given
	faceDofs := g.FaceDofsPerEl()

	var nests Block
	for loadBase := 0; loadBase < faceDofs; loadBase += lp.ChunkSize {
		stage := Block{
			globalMbNrDecl,
			Assign{"dofBuffer[parMb][chunkDof]",
				fmt.Sprintf("fluxesOnFaces[globalMbNr*MB_FACEDOF_COUNT"+
					" + chunkStartEl*FACE_DOFS_PER_EL + %d + chunkDof]", loadBase)},
		}
		if loadBase == 0 {
			stage = append(Block{Assign{"result", "0"}}, stage...)
		}
		nests = append(nests, innerNest(stage...))

		var acc Block
		end := loadBase + lp.ChunkSize
		if end > faceDofs {
			end = faceDofs
		}
		for j := loadBase; j < end; j++ {
			acc = append(acc, AddAssign{"result",
				fmt.Sprintf("liftMatTile[chunkDof*LIFTMAT_COLUMNS + %d]"+
					" * dofBuffer[parMb][%d]", j, j-loadBase)})
		}
		nests = append(nests, innerNest(acc...))
	}

	nests = append(nests, innerNest(
		globalMbNrDecl,
		VarDecl{Type: "int", Name: "mbDof", Const: true,
			Init: "mbChunk*CHUNK_DOF_COUNT + chunkDof"},
		resultStore(isLift),
	))

	return For{
		Init: "int seqMb = 0",
		Cond: "seqMb < SEQ_MB_COUNT",
		Post: "++seqMb",
		Body: nests,
	}
}

// chunkedDirectLoop handles chunks that straddle elements: each thread reads
// its own element's face dofs straight from global memory.
func chunkedDirectLoop(lp *plan.LiftPlan, isLift bool) Node {
	g := lp.Given

	body := Block{
		globalMbNrDecl,
		VarDecl{Type: "int", Name: "mbDof", Const: true,
			Init: "mbChunk*CHUNK_DOF_COUNT + chunkDof"},
		VarDecl{Type: "int", Name: "dofEl", Const: true,
			Init: "mbDof / DOFS_PER_EL"},
		Assign{"result", "0"},
	}
	for j := 0; j < g.FaceDofsPerEl(); j++ {
		body = append(body, AddAssign{"result",
			fmt.Sprintf("fluxesOnFaces[globalMbNr*MB_FACEDOF_COUNT"+
				" + dofEl*FACE_DOFS_PER_EL + %d]"+
				" * liftMatTile[chunkDof*LIFTMAT_COLUMNS + %d]", j, j)})
	}
	body = append(body, resultStore(isLift))

	return For{
		Init: "int seqMb = 0",
		Cond: "seqMb < SEQ_MB_COUNT",
		Post: "++seqMb",
		Body: Block{innerNest(body...)},
	}
}
