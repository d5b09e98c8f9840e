package kernel

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/dglocal/dglocal/plan"
)

// PackLiftMatrix lays a per-element matrix out the way the chunked kernel
// reads it: the matrix is stacked once per microblock element, columns are
// zero-padded to the plan's odd column stride, and the stacked rows are
// sliced into chunk-sized tiles, each padded to the aligned tile size.
//
// The result has ChunksPerMicroblock x MatrixChunkFloats entries; tile c
// starts at offset c*MatrixChunkFloats and stores its rows contiguously with
// stride MatrixColumns.
func PackLiftMatrix(matrix mat.Matrix, lp *plan.LiftPlan) []float64 {
	g := lp.Given
	rows, cols := matrix.Dims()
	if rows != g.DofsPerEl || cols != g.FaceDofsPerEl() {
		panic(fmt.Sprintf(
			"kernel: matrix is %dx%d, want %dx%d for %s order %d",
			rows, cols, g.DofsPerEl, g.FaceDofsPerEl(), g.Kind, g.Order))
	}
	if lp.Strategy != plan.StrategyChunked {
		panic("kernel: packed matrices are only used by the chunked strategy")
	}

	stackedRows := g.DofsPerMicroblock()
	chunks := lp.ChunksPerMicroblock()
	out := make([]float64, chunks*lp.MatrixChunkFloats)

	for c := 0; c < chunks; c++ {
		tile := out[c*lp.MatrixChunkFloats : (c+1)*lp.MatrixChunkFloats]
		for r := 0; r < lp.ChunkSize; r++ {
			row := c*lp.ChunkSize + r
			if row >= stackedRows {
				break
			}
			dst := tile[r*lp.MatrixColumns:]
			for j := 0; j < cols; j++ {
				dst[j] = matrix.At(row%g.DofsPerEl, j)
			}
		}
	}
	return out
}
