package plan

import (
	"fmt"
)

// DefaultSequentialMicroblocks is the sequential depth used for every
// candidate. The reference implementation tuned this per device by
// benchmarking; a fixed small depth keeps planning deterministic while
// amortizing the shared-memory matrix load over several microblocks.
const DefaultSequentialMicroblocks = 4

// Register estimates per strategy, from compiler reports on the reference
// kernels.
const (
	chunkedRegisters     = 12
	sharedStageRegisters = 16
)

// fixedSharedOverheadBytes covers kernel parameters, the block header and
// the chunk-responsibility scalars.
const fixedSharedOverheadBytes = 64

// LiftPlan is a fully-sized execution plan for the lift/multi-face-mass
// kernel.
type LiftPlan struct {
	Given       Given
	Strategy    Strategy
	ChunkSize   int
	Parallelism Parallelism

	// MatrixColumns is the padded column count of the applied matrix,
	// kept odd to dodge shared-memory bank conflicts.
	MatrixColumns int
	// MatrixChunkFloats is the aligned float count of one shared-memory
	// matrix tile. Zero for the shared-staging strategy, which embeds
	// the matrix in the kernel source.
	MatrixChunkFloats int

	Registers    int
	SharedMemUse int
}

// ChunksPerMicroblock returns how many shared-memory tiles cover one
// microblock's volume dofs.
func (lp *LiftPlan) ChunksPerMicroblock() int {
	if lp.Strategy == StrategySharedStage {
		return 1
	}
	return ceilDiv(lp.Given.DofsPerMicroblock(), lp.ChunkSize)
}

// ChunkStartElements returns, per chunk, the first microblock element whose
// dofs the chunk touches. The tables are emitted as compile-time constants
// into the kernel.
func (lp *LiftPlan) ChunkStartElements() []int {
	n := lp.ChunksPerMicroblock()
	out := make([]int, n)
	for c := 0; c < n; c++ {
		out[c] = (c * lp.ChunkSize) / lp.Given.DofsPerEl
	}
	return out
}

// ChunkStopElements returns, per chunk, one past the last microblock
// element whose dofs the chunk touches.
func (lp *LiftPlan) ChunkStopElements() []int {
	n := lp.ChunksPerMicroblock()
	out := make([]int, n)
	for c := 0; c < n; c++ {
		stop := (c*lp.ChunkSize+lp.ChunkSize-1)/lp.Given.DofsPerEl + 1
		if stop > lp.Given.Microblock.Elements {
			stop = lp.Given.Microblock.Elements
		}
		out[c] = stop
	}
	return out
}

// MaxElementsTouchedByChunk returns the largest chunk_el_count, which
// bounds the per-chunk dispatch the kernel generator emits.
func (lp *LiftPlan) MaxElementsTouchedByChunk() int {
	starts, stops := lp.ChunkStartElements(), lp.ChunkStopElements()
	max := 0
	for c := range starts {
		if n := stops[c] - starts[c]; n > max {
			max = n
		}
	}
	return max
}

// DofsPerMacroblock returns the aligned volume dofs one block consumes per
// launch.
func (lp *LiftPlan) DofsPerMacroblock() int {
	return lp.Parallelism.Total() * lp.Given.Microblock.AlignedFloats
}

// ThreadsPerBlock returns the (x, y) block shape.
func (lp *LiftPlan) ThreadsPerBlock() (int, int) {
	if lp.Strategy == StrategySharedStage {
		return lp.Given.Microblock.AlignedFloats, lp.Parallelism.P
	}
	return lp.ChunkSize, lp.Parallelism.P
}

// MacroblockCount returns how many blocks a launch over the given number of
// microblocks needs.
func (lp *LiftPlan) MacroblockCount(microblocks int) int {
	return ceilDiv(microblocks, lp.Parallelism.Total())
}

// Hash identifies the plan for kernel-cache keying.
func (lp *LiftPlan) Hash() string {
	return fmt.Sprintf("%s-c%d-p%d-s%d-mb%d-%s",
		lp.Strategy, lp.ChunkSize, lp.Parallelism.P, lp.Parallelism.S,
		lp.Given.Microblock.Elements, lp.Given.FloatType)
}

func (lp *LiftPlan) String() string {
	return fmt.Sprintf(
		"lift plan: strategy=%s chunk_size=%d chunks/mb=%d par=(p%d s%d) "+
			"matrix_cols=%d smem=%dB regs=%d",
		lp.Strategy, lp.ChunkSize, lp.ChunksPerMicroblock(),
		lp.Parallelism.P, lp.Parallelism.S,
		lp.MatrixColumns, lp.SharedMemUse, lp.Registers)
}

// paddedMatrixColumns keeps the shared-memory matrix stride odd.
func paddedMatrixColumns(g Given) int {
	columns := g.FaceDofsPerEl()
	if columns%2 == 0 {
		columns++
	}
	return columns
}

// MakeLiftPlan searches chunk sizes and parallel widths for both kernel
// strategies and returns the best plan that fits the device budget. A
// configuration whose matrices cannot fit is a fatal error; there is no
// runtime fallback.
func MakeLiftPlan(g Given) (*LiftPlan, error) {
	var best *LiftPlan
	bestScore := 0.0

	consider := func(lp *LiftPlan, score float64) {
		if score > bestScore {
			best, bestScore = lp, score
		}
	}

	dd := g.Device
	floatSize := g.FloatType.Size()
	columns := paddedMatrixColumns(g)

	// Chunked strategy: one shared tile of chunk_size x columns plus a
	// chunk-sized staging buffer per parallel lane.
	halfWarp := dd.WarpSize / 2
	for chunkSize := halfWarp; chunkSize <= g.DofsPerMicroblock(); chunkSize += halfWarp {
		matrixChunkFloats := dd.AlignedFloats(columns*chunkSize, g.FloatType)
		for p := 1; chunkSize*p <= dd.MaxThreadsPerBlock; p++ {
			sharedUse := fixedSharedOverheadBytes +
				matrixChunkFloats*floatSize +
				p*chunkSize*floatSize
			if sharedUse > dd.SharedMemBytes || chunkedRegisters > dd.MaxRegisters {
				continue
			}
			lp := &LiftPlan{
				Given:             g,
				Strategy:          StrategyChunked,
				ChunkSize:         chunkSize,
				Parallelism:       Parallelism{P: p, S: DefaultSequentialMicroblocks},
				MatrixColumns:     columns,
				MatrixChunkFloats: matrixChunkFloats,
				Registers:         chunkedRegisters,
				SharedMemUse:      sharedUse,
			}
			consider(lp, planScore(lp))
		}
	}

	// Shared-staging strategy: the whole microblock's face dofs live in
	// shared memory per parallel lane; the matrix is a source constant.
	for p := 1; g.Microblock.AlignedFloats*p <= dd.MaxThreadsPerBlock; p++ {
		sharedUse := fixedSharedOverheadBytes +
			p*g.AlignedFaceDofsPerMicroblock()*floatSize
		if sharedUse > dd.SharedMemBytes || sharedStageRegisters > dd.MaxRegisters {
			continue
		}
		lp := &LiftPlan{
			Given:         g,
			Strategy:      StrategySharedStage,
			ChunkSize:     g.Microblock.AlignedFloats,
			Parallelism:   Parallelism{P: p, S: DefaultSequentialMicroblocks},
			MatrixColumns: g.FaceDofsPerEl(),
			Registers:     sharedStageRegisters,
			SharedMemUse:  sharedUse,
		}
		consider(lp, planScore(lp))
	}

	if best == nil {
		return nil, fmt.Errorf(
			"plan: no lift plan fits device budget for %s order %d "+
				"(%d dofs/el, %d face dofs/el, %s): shared mem %dB, %d regs",
			g.Kind, g.Order, g.DofsPerEl, g.FaceDofsPerEl(), g.FloatType,
			dd.SharedMemBytes, dd.MaxRegisters)
	}
	return best, nil
}

// planScore ranks feasible candidates: more concurrently useful threads are
// better, padding and dispatch-heavy chunking are worse.
func planScore(lp *LiftPlan) float64 {
	g := lp.Given
	threadsX, threadsY := lp.ThreadsPerBlock()
	threads := threadsX * threadsY

	var useful float64
	switch lp.Strategy {
	case StrategyChunked:
		covered := lp.ChunksPerMicroblock() * lp.ChunkSize
		useful = float64(g.DofsPerMicroblock()) / float64(covered)
	case StrategySharedStage:
		useful = float64(g.DofsPerMicroblock()) /
			float64(g.Microblock.AlignedFloats)
	}
	return useful * float64(threads)
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }
