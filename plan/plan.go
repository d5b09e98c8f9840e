// Package plan sizes the device-side execution of the local lift operator:
// how many elements share a microblock, how a microblock's dofs are tiled
// into shared-memory chunks, and how many microblocks run in parallel per
// block versus sequentially per thread.
package plan

import (
	"github.com/dglocal/dglocal/element"
)

// DataType is the floating point width of device buffers.
type DataType int

const (
	Float32 DataType = iota + 1
	Float64
)

// Size returns the byte width.
func (t DataType) Size() int {
	if t == Float32 {
		return 4
	}
	return 8
}

// DeviceName returns the device-source scalar type.
func (t DataType) DeviceName() string {
	if t == Float32 {
		return "float"
	}
	return "double"
}

func (t DataType) String() string {
	if t == Float32 {
		return "float32"
	}
	return "float64"
}

// DeviceData carries the per-device resource limits the planner plans
// against.
type DeviceData struct {
	SharedMemBytes     int
	MaxRegisters       int
	WarpSize           int
	AlignBytes         int
	MaxThreadsPerBlock int
}

// DefaultDeviceData returns conservative limits that hold for every CUDA
// device of compute capability 2.0 and up, and that serial/OpenMP OCCA
// modes satisfy trivially.
func DefaultDeviceData() DeviceData {
	return DeviceData{
		SharedMemBytes:     48 * 1024,
		MaxRegisters:       63,
		WarpSize:           32,
		AlignBytes:         128,
		MaxThreadsPerBlock: 1024,
	}
}

// AlignedFloats rounds a float count up so the byte size is a multiple of
// the device alignment granularity.
func (dd DeviceData) AlignedFloats(floats int, t DataType) int {
	bytes := floats * t.Size()
	if rem := bytes % dd.AlignBytes; rem != 0 {
		bytes += dd.AlignBytes - rem
	}
	return bytes / t.Size()
}

// Microblock is the batch of elements laid out contiguously at one aligned
// stride.
type Microblock struct {
	Elements      int
	AlignedFloats int
}

// MakeMicroblock picks the smallest element count whose dof total is a
// multiple of the alignment granularity, so microblocks pack with zero
// padding between elements.
func MakeMicroblock(dofsPerEl int, dd DeviceData, t DataType) Microblock {
	granularity := dd.AlignBytes / t.Size()
	elements := granularity / gcd(dofsPerEl, granularity)
	return Microblock{
		Elements:      elements,
		AlignedFloats: elements * dofsPerEl,
	}
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Given bundles the discretization facts the planner and kernel generator
// share.
type Given struct {
	Kind        element.Kind
	Order       int
	DofsPerEl   int
	DofsPerFace int
	FacesPerEl  int
	FloatType   DataType
	Device      DeviceData
	Microblock  Microblock
}

// NewGiven derives the planner inputs from a reference element.
func NewGiven(re *element.ReferenceElement, t DataType, dd DeviceData) Given {
	return Given{
		Kind:        re.Kind,
		Order:       re.Order,
		DofsPerEl:   re.NodeCount(),
		DofsPerFace: re.FaceNodeCount(),
		FacesPerEl:  re.Kind.FaceCount(),
		FloatType:   t,
		Device:      dd,
		Microblock:  MakeMicroblock(re.NodeCount(), dd, t),
	}
}

// FaceDofsPerEl returns the length of one element's concatenated face-dof
// vector.
func (g Given) FaceDofsPerEl() int { return g.DofsPerFace * g.FacesPerEl }

// FaceDofsPerMicroblock returns the unpadded face-dof count of a microblock.
func (g Given) FaceDofsPerMicroblock() int {
	return g.Microblock.Elements * g.FaceDofsPerEl()
}

// AlignedFaceDofsPerMicroblock returns the aligned stride of one
// microblock's face dofs.
func (g Given) AlignedFaceDofsPerMicroblock() int {
	return g.Device.AlignedFloats(g.FaceDofsPerMicroblock(), g.FloatType)
}

// DofsPerMicroblock returns the unpadded volume-dof count of a microblock.
func (g Given) DofsPerMicroblock() int {
	return g.Microblock.Elements * g.DofsPerEl
}

// Parallelism is the split between microblocks processed concurrently by
// one block (P) and iterated sequentially per thread (S).
type Parallelism struct {
	P int
	S int
}

// Total returns the number of microblocks one block consumes per launch.
func (p Parallelism) Total() int { return p.P * p.S }

// Strategy selects between the two generated kernel shapes.
type Strategy int

const (
	// StrategyChunked tiles the lift matrix into shared-memory chunks and
	// stages face dofs chunk by chunk.
	StrategyChunked Strategy = iota
	// StrategySharedStage stages an entire microblock's face dofs in
	// shared memory and embeds the matrix as a constant.
	StrategySharedStage
)

func (s Strategy) String() string {
	if s == StrategySharedStage {
		return "sharedstage"
	}
	return "chunked"
}
