// Package executor compiles, caches and launches the generated lift kernels
// on a gocca device. Host buffers are float64; conversion to the plan's
// device float type happens at the copy boundary.
package executor

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/notargets/gocca"
	"gonum.org/v1/gonum/mat"

	"github.com/dglocal/dglocal/element"
	"github.com/dglocal/dglocal/kernel"
	"github.com/dglocal/dglocal/plan"
)

// DebugFlagLiftBuf makes Apply allocate the device scratch buffer and copy
// it back after every launch. Diagnostics only; results are unaffected.
const DebugFlagLiftBuf = "lift_debugbuf"

const debugBufFloats = 1024

type cacheKey struct {
	isLift   bool
	kind     element.Kind
	order    int
	planHash string
}

// Options configures an Executor.
type Options struct {
	// Instrumented records launch wall times into LiftTimer.
	Instrumented bool
	// Debug is the set of enabled debug flags.
	Debug []string
}

// Executor owns the device-side state of the local lift operator: compiled
// kernels keyed by variant, packed matrix buffers, and the bound inverse
// Jacobians.
type Executor struct {
	device *gocca.OCCADevice
	re     *element.ReferenceElement
	plan   *plan.LiftPlan

	kernels  map[cacheKey]*gocca.OCCAKernel
	matrices map[bool]*gocca.OCCAMemory

	hostInvJac  []float64
	invJacMem   *gocca.OCCAMemory
	invJacMbPad int

	debugMem *gocca.OCCAMemory
	// DebugDump holds the scratch buffer contents of the latest launch when
	// DebugFlagLiftBuf is enabled.
	DebugDump []float64

	instrumented bool
	debug        map[string]bool

	// LiftTimer accumulates instrumented launch times across both variants.
	LiftTimer Timer
}

// New binds an executor to a device, a reference element and a plan. The
// plan must have been built for the same element.
func New(device *gocca.OCCADevice, re *element.ReferenceElement, lp *plan.LiftPlan, opts Options) (*Executor, error) {
	if lp.Given.Kind != re.Kind || lp.Given.Order != re.Order {
		return nil, fmt.Errorf(
			"executor: plan is for %s order %d, element is %s order %d",
			lp.Given.Kind, lp.Given.Order, re.Kind, re.Order)
	}
	debug := make(map[string]bool, len(opts.Debug))
	for _, f := range opts.Debug {
		debug[f] = true
	}
	return &Executor{
		device:       device,
		re:           re,
		plan:         lp,
		kernels:      make(map[cacheKey]*gocca.OCCAKernel),
		matrices:     make(map[bool]*gocca.OCCAMemory),
		instrumented: opts.Instrumented,
		debug:        debug,
	}, nil
}

// Plan returns the execution plan the executor was built with.
func (ex *Executor) Plan() *plan.LiftPlan { return ex.plan }

// CachedKernels returns how many kernel variants have been compiled so far.
func (ex *Executor) CachedKernels() int { return len(ex.kernels) }

// SetInverseJacobians binds the per-element inverse Jacobian scalars, laid
// out microblock by microblock. The length must be a whole number of
// microblocks.
func (ex *Executor) SetInverseJacobians(ij []float64) error {
	mbEl := ex.plan.Given.Microblock.Elements
	if len(ij) == 0 || len(ij)%mbEl != 0 {
		return fmt.Errorf(
			"executor: %d inverse Jacobians is not a whole number of "+
				"%d-element microblocks", len(ij), mbEl)
	}
	ex.hostInvJac = append([]float64(nil), ij...)
	if ex.invJacMem != nil {
		ex.invJacMem.Free()
		ex.invJacMem = nil
	}
	ex.invJacMbPad = 0
	return nil
}

// Apply runs the lift (isLift) or multi-face mass (otherwise) operator over
// the concatenated per-microblock face-dof buffer and returns the volume
// contribution, one aligned microblock stride per microblock. The input
// length must be a whole number of aligned face-dof microblock strides.
func (ex *Executor) Apply(fluxesOnFaces []float64, isLift bool) ([]float64, error) {
	g := ex.plan.Given
	faceStride := g.AlignedFaceDofsPerMicroblock()
	if len(fluxesOnFaces) == 0 || len(fluxesOnFaces)%faceStride != 0 {
		return nil, fmt.Errorf(
			"executor: face-dof buffer has %d floats, want a multiple of "+
				"the %d-float microblock stride", len(fluxesOnFaces), faceStride)
	}
	microblocks := len(fluxesOnFaces) / faceStride
	macroblocks := ex.plan.MacroblockCount(microblocks)
	paddedMb := macroblocks * ex.plan.Parallelism.Total()

	if isLift {
		if ex.hostInvJac == nil {
			return nil, fmt.Errorf(
				"executor: lift apply without inverse Jacobians bound")
		}
		if got := len(ex.hostInvJac) / g.Microblock.Elements; got < microblocks {
			return nil, fmt.Errorf(
				"executor: inverse Jacobians cover %d microblocks, "+
					"face-dof buffer has %d", got, microblocks)
		}
	}

	krn, err := ex.kernelFor(isLift)
	if err != nil {
		return nil, err
	}

	// Launch-padded staging: trailing microblocks read zeros and their
	// output is dropped on copy-back. The extra chunk covers the batched
	// staging path, which reads up to a chunk past the last element's
	// face dofs.
	fofMem := ex.upload(fluxesOnFaces, paddedMb*faceStride+ex.plan.ChunkSize)
	defer fofMem.Free()
	fluxMem := ex.upload(nil, paddedMb*g.Microblock.AlignedFloats)
	defer fluxMem.Free()

	args := []interface{}{fluxMem}
	if ex.plan.Strategy == plan.StrategyChunked {
		matMem, err := ex.matrixFor(isLift)
		if err != nil {
			return nil, err
		}
		args = append(args, matMem)
	}
	args = append(args, fofMem)
	if isLift {
		ijMem, err := ex.inverseJacobiansFor(paddedMb)
		if err != nil {
			return nil, err
		}
		args = append(args, ijMem)
	}
	args = append(args, ex.debugBuffer(), int32(macroblocks))

	start := time.Now()
	if err := krn.RunWithArgs(args...); err != nil {
		return nil, fmt.Errorf("executor: %s launch failed: %w",
			kernel.LiftKernelName(ex.plan.Strategy, isLift), err)
	}
	ex.device.Finish()
	if ex.instrumented {
		ex.LiftTimer.Add(time.Since(start))
	}

	if ex.debug[DebugFlagLiftBuf] {
		ex.DebugDump = ex.download(ex.debugMem, debugBufFloats)
	}

	return ex.download(fluxMem, microblocks*g.Microblock.AlignedFloats), nil
}

// Free releases all device resources the executor owns.
func (ex *Executor) Free() {
	for _, k := range ex.kernels {
		k.Free()
	}
	for _, m := range ex.matrices {
		m.Free()
	}
	if ex.invJacMem != nil {
		ex.invJacMem.Free()
	}
	if ex.debugMem != nil {
		ex.debugMem.Free()
	}
}

func (ex *Executor) kernelFor(isLift bool) (*gocca.OCCAKernel, error) {
	key := cacheKey{
		isLift:   isLift,
		kind:     ex.re.Kind,
		order:    ex.re.Order,
		planHash: ex.plan.Hash(),
	}
	if krn, ok := ex.kernels[key]; ok {
		return krn, nil
	}

	var source string
	switch ex.plan.Strategy {
	case plan.StrategyChunked:
		source = kernel.GenerateChunkedLift(ex.plan, isLift)
	case plan.StrategySharedStage:
		source = kernel.GenerateSharedStageLift(ex.plan, ex.liftOrMassMatrix(isLift), isLift)
	}
	name := kernel.LiftKernelName(ex.plan.Strategy, isLift)

	krn, err := ex.buildKernel(source, name)
	if err != nil {
		return nil, err
	}
	ex.kernels[key] = krn
	return krn, nil
}

// buildKernel compiles OKL source, working around the OCCA bug that leaves
// OpenMP builds without the default -O3 flag.
func (ex *Executor) buildKernel(source, name string) (*gocca.OCCAKernel, error) {
	var krn *gocca.OCCAKernel
	var err error
	if ex.device.Mode() == "OpenMP" {
		props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
		defer props.Free()
		krn, err = ex.device.BuildKernelFromString(source, name, props)
	} else {
		krn, err = ex.device.BuildKernelFromString(source, name, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("executor: building kernel %s: %w", name, err)
	}
	if krn == nil {
		return nil, fmt.Errorf("executor: kernel build returned nil for %s", name)
	}
	return krn, nil
}

// liftOrMassMatrix selects the per-element operator the kernel applies.
func (ex *Executor) liftOrMassMatrix(isLift bool) *mat.Dense {
	if isLift {
		return ex.re.Lifting()
	}
	return ex.re.MultiFaceMass()
}

func (ex *Executor) matrixFor(isLift bool) (*gocca.OCCAMemory, error) {
	if mem, ok := ex.matrices[isLift]; ok {
		return mem, nil
	}
	packed := kernel.PackLiftMatrix(ex.liftOrMassMatrix(isLift), ex.plan)
	mem := ex.upload(packed, len(packed))
	ex.matrices[isLift] = mem
	return mem, nil
}

func (ex *Executor) inverseJacobiansFor(paddedMb int) (*gocca.OCCAMemory, error) {
	if ex.invJacMem != nil && ex.invJacMbPad >= paddedMb {
		return ex.invJacMem, nil
	}
	if ex.invJacMem != nil {
		ex.invJacMem.Free()
	}
	mbEl := ex.plan.Given.Microblock.Elements
	ex.invJacMem = ex.upload(ex.hostInvJac, paddedMb*mbEl)
	ex.invJacMbPad = paddedMb
	return ex.invJacMem, nil
}

func (ex *Executor) debugBuffer() *gocca.OCCAMemory {
	if ex.debugMem == nil {
		ex.debugMem = ex.upload(nil, debugBufFloats)
	}
	return ex.debugMem
}

// upload allocates a device buffer of paddedFloats entries in the plan's
// float type, fills it with data and zero-pads the rest. A nil data slice
// gives an all-zero buffer.
func (ex *Executor) upload(data []float64, paddedFloats int) *gocca.OCCAMemory {
	t := ex.plan.Given.FloatType
	if t == plan.Float32 {
		buf := make([]float32, paddedFloats)
		n := len(data)
		if n > paddedFloats {
			n = paddedFloats
		}
		for i := 0; i < n; i++ {
			buf[i] = float32(data[i])
		}
		return ex.device.Malloc(int64(paddedFloats*4), unsafe.Pointer(&buf[0]), nil)
	}
	buf := make([]float64, paddedFloats)
	copy(buf, data)
	return ex.device.Malloc(int64(paddedFloats*8), unsafe.Pointer(&buf[0]), nil)
}

// download copies the first n floats of a device buffer back to the host,
// widening to float64 when the device runs single precision.
func (ex *Executor) download(mem *gocca.OCCAMemory, n int) []float64 {
	if ex.plan.Given.FloatType == plan.Float32 {
		buf := make([]float32, n)
		mem.CopyTo(unsafe.Pointer(&buf[0]), int64(n*4))
		out := make([]float64, n)
		for i, v := range buf {
			out[i] = float64(v)
		}
		return out
	}
	out := make([]float64, n)
	mem.CopyTo(unsafe.Pointer(&out[0]), int64(n*8))
	return out
}
