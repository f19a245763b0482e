// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package device

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
)

// Params describes device capabilities. The engine passes it unmodified to
// plan construction.
type Params struct {
	// Name identifies the adapter, for diagnostics only.
	Name string

	// MaxWorkgroupSize is the maximum workgroup size in each dimension.
	MaxWorkgroupSize [3]uint32

	// MaxWorkgroupInvocations is the maximum product of the workgroup
	// dimensions. Zero means unlimited.
	MaxWorkgroupInvocations uint32

	// MaxBufferSize is the largest buffer the device can allocate, in bytes.
	// Zero means unlimited.
	MaxBufferSize uint64
}

// Geometry is the launch geometry of a kernel: the total number of
// invocations per dimension and the workgroup size.
type Geometry struct {
	Global [3]uint32
	Local  [3]uint32
}

// Linear returns a one-dimensional geometry of n invocations with the given
// workgroup size.
func Linear(n int, local uint32) Geometry {
	return Geometry{
		Global: [3]uint32{uint32(n), 1, 1}, //nolint:gosec // element counts fit uint32
		Local:  [3]uint32{local, 1, 1},
	}
}

// WorkgroupSize returns Local with zero dimensions replaced by 1.
func (g Geometry) WorkgroupSize() [3]uint32 {
	ws := g.Local
	for i := range ws {
		if ws[i] == 0 {
			ws[i] = 1
		}
	}
	return ws
}

// Workgroups returns the number of workgroups to dispatch in each dimension.
func (g Geometry) Workgroups() [3]uint32 {
	ws := g.WorkgroupSize()
	var n [3]uint32
	for i := range n {
		global := g.Global[i]
		if global == 0 {
			global = 1
		}
		n[i] = (global + ws[i] - 1) / ws[i]
	}
	return n
}

// Validate checks the workgroup size against device limits.
func (g Geometry) Validate(p Params) error {
	ws := g.WorkgroupSize()
	total := uint64(1)
	for i, s := range ws {
		if p.MaxWorkgroupSize[i] != 0 && s > p.MaxWorkgroupSize[i] {
			return fmt.Errorf("%w: workgroup size %d in dimension %d exceeds %d",
				ErrInvalidGeometry, s, i, p.MaxWorkgroupSize[i])
		}
		total *= uint64(s)
	}
	if p.MaxWorkgroupInvocations != 0 && total > uint64(p.MaxWorkgroupInvocations) {
		return fmt.Errorf("%w: %d invocations per workgroup exceeds %d",
			ErrInvalidGeometry, total, p.MaxWorkgroupInvocations)
	}
	return nil
}

// Source is a rendered kernel ready for compilation.
type Source struct {
	// Label names the kernel in diagnostics and device debug labels.
	Label string

	// Code is the WGSL module.
	Code string

	// EntryPoint is the compute entry point, "main" if empty.
	EntryPoint string

	// Scalars lists the element types of the scalar arguments packed into
	// the uniform buffer at binding 0.
	Scalars []dtypes.DType

	// Arrays is the number of storage buffer bindings following the
	// uniform buffer.
	Arrays int
}

// Entry returns the entry point name.
func (s Source) Entry() string {
	if s.EntryPoint == "" {
		return "main"
	}
	return s.EntryPoint
}

// NumArgs returns the number of launch arguments the kernel expects.
func (s Source) NumArgs() int {
	return len(s.Scalars) + s.Arrays
}

// Buffer is a device allocation holding a dense array.
type Buffer interface {
	// Shape returns the array dimensions the buffer was allocated for.
	Shape() []int

	// DType returns the element type.
	DType() dtypes.DType

	// SizeBytes returns the allocation size in bytes.
	SizeBytes() uint64

	// Release frees the allocation. Releasing twice is a no-op.
	Release()
}

// Program is a compiled kernel.
type Program interface {
	Label() string
}

// Device allocates buffers, compiles kernels and launches them.
//
// Compile must be safe for concurrent use. All other methods are called
// from a single goroutine at a time.
type Device interface {
	// Params returns the device capabilities.
	Params() Params

	// Allocate creates a buffer for an array of the given shape and type.
	Allocate(shape []int, dt dtypes.DType) (Buffer, error)

	// Compile turns a rendered kernel into a launchable program.
	Compile(src Source) (Program, error)

	// Launch enqueues a kernel. It does not wait for completion.
	Launch(p Program, g Geometry, args []any) error

	// Upload copies host bytes into a buffer.
	Upload(b Buffer, data []byte) error

	// Download waits for pending work and copies a buffer to host memory.
	Download(b Buffer, dst []byte) error

	// Synchronize blocks until all launched work has completed.
	Synchronize() error

	// Close releases device resources.
	Close()
}
