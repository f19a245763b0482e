// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package trace

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/fusion/device"
	"github.com/gomlx/gopjrt/dtypes"
)

func init() {
	device.Register("trace", func() (device.Device, error) {
		return New(), nil
	})
}

// DefaultParams are the capabilities reported by a Device created without
// WithParams.
var DefaultParams = device.Params{
	Name:                    "trace",
	MaxWorkgroupSize:        [3]uint32{256, 256, 64},
	MaxWorkgroupInvocations: 256,
	MaxBufferSize:           1 << 30,
}

// Option configures a Device.
type Option func(*Device)

// WithParams overrides the reported device capabilities.
func WithParams(p device.Params) Option {
	return func(d *Device) {
		d.params = p
	}
}

// Device records commands instead of executing them.
//
// Device is safe for concurrent use.
type Device struct {
	mu       sync.Mutex
	params   device.Params
	commands []Command
	buffers  []*Buffer
	programs []*Program
	launches int
	closed   bool
}

var _ device.Device = (*Device)(nil)

// New creates a trace device.
func New(opts ...Option) *Device {
	d := &Device{
		params:   DefaultParams,
		commands: make([]Command, 0, 64),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Buffer is a host-memory buffer owned by a trace Device.
type Buffer struct {
	dev      *Device
	ref      BufferRef
	shape    []int
	dtype    dtypes.DType
	data     []byte
	released bool
}

// Ref returns the handle used for this buffer in recorded commands.
func (b *Buffer) Ref() BufferRef { return b.ref }

// Shape implements device.Buffer.
func (b *Buffer) Shape() []int { return b.shape }

// DType implements device.Buffer.
func (b *Buffer) DType() dtypes.DType { return b.dtype }

// SizeBytes implements device.Buffer.
func (b *Buffer) SizeBytes() uint64 { return uint64(len(b.data)) }

// Released reports whether Release has been called.
func (b *Buffer) Released() bool {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	return b.released
}

// Release implements device.Buffer.
func (b *Buffer) Release() {
	d := b.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if b.released {
		return
	}
	b.released = true
	b.data = nil
	d.commands = append(d.commands, ReleaseCommand{Buffer: b.ref})
}

// Program is a recorded kernel.
type Program struct {
	ref    ProgramRef
	source device.Source
}

// Ref returns the handle used for this program in recorded commands.
func (p *Program) Ref() ProgramRef { return p.ref }

// Label implements device.Program.
func (p *Program) Label() string { return p.source.Label }

// Source returns the source the program was compiled from.
func (p *Program) Source() device.Source { return p.source }

// Params implements device.Device.
func (d *Device) Params() device.Params { return d.params }

// Allocate implements device.Device.
func (d *Device) Allocate(shape []int, dt dtypes.DType) (device.Buffer, error) {
	size, err := device.ByteSize(shape, dt)
	if err != nil {
		return nil, err
	}
	if d.params.MaxBufferSize != 0 && size > d.params.MaxBufferSize {
		return nil, fmt.Errorf("trace: buffer of %d bytes exceeds limit %d", size, d.params.MaxBufferSize)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, device.ErrClosed
	}
	b := &Buffer{
		dev:   d,
		ref:   BufferRef(len(d.buffers)), //nolint:gosec // handle count fits uint32
		shape: slices.Clone(shape),
		dtype: dt,
		data:  make([]byte, size),
	}
	d.buffers = append(d.buffers, b)
	d.commands = append(d.commands, AllocateCommand{Buffer: b.ref, Shape: b.shape, DType: dt})
	return b, nil
}

// Compile implements device.Device.
func (d *Device) Compile(src device.Source) (device.Program, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, device.ErrClosed
	}
	p := &Program{
		ref:    ProgramRef(len(d.programs)), //nolint:gosec // handle count fits uint32
		source: src,
	}
	d.programs = append(d.programs, p)
	d.commands = append(d.commands, CompileCommand{Program: p.ref, Source: src})
	return p, nil
}

// Launch implements device.Device.
func (d *Device) Launch(p device.Program, g device.Geometry, args []any) error {
	prog, ok := p.(*Program)
	if !ok {
		return fmt.Errorf("%w: program %T", device.ErrArgumentMismatch, p)
	}
	if err := g.Validate(d.params); err != nil {
		return err
	}
	src := prog.source
	if len(args) != src.NumArgs() {
		return fmt.Errorf("%w: %s takes %d arguments, got %d",
			device.ErrArgumentMismatch, src.Label, src.NumArgs(), len(args))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return device.ErrClosed
	}
	if int(prog.ref) >= len(d.programs) || d.programs[prog.ref] != prog {
		return fmt.Errorf("%w: program %q", device.ErrArgumentMismatch, prog.Label())
	}

	recorded := make([]any, len(args))
	nScalars := len(src.Scalars)
	for i, a := range args {
		if i < nScalars {
			if _, isBuf := a.(device.Buffer); isBuf {
				return fmt.Errorf("%w: argument %d of %s is a buffer, want scalar",
					device.ErrArgumentMismatch, i, src.Label)
			}
			recorded[i] = a
			continue
		}
		b, err := d.ownBuffer(a)
		if err != nil {
			return fmt.Errorf("argument %d of %s: %w", i, src.Label, err)
		}
		recorded[i] = b.ref
	}
	d.launches++
	d.commands = append(d.commands, LaunchCommand{Program: prog.ref, Geometry: g, Args: recorded})
	return nil
}

// ownBuffer checks that a is a live buffer of this device.
// Caller must hold d.mu.
func (d *Device) ownBuffer(a any) (*Buffer, error) {
	b, ok := a.(*Buffer)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a trace buffer", device.ErrForeignBuffer, a)
	}
	if b.dev != d {
		return nil, device.ErrForeignBuffer
	}
	if b.released {
		return nil, device.ErrReleased
	}
	return b, nil
}

// Upload implements device.Device.
func (d *Device) Upload(buf device.Buffer, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return device.ErrClosed
	}
	b, err := d.ownBuffer(buf)
	if err != nil {
		return err
	}
	if len(data) > len(b.data) {
		return fmt.Errorf("trace: upload of %d bytes into %d-byte buffer", len(data), len(b.data))
	}
	copy(b.data, data)
	d.commands = append(d.commands, UploadCommand{Buffer: b.ref, Data: slices.Clone(data)})
	return nil
}

// Download implements device.Device.
func (d *Device) Download(buf device.Buffer, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return device.ErrClosed
	}
	b, err := d.ownBuffer(buf)
	if err != nil {
		return err
	}
	n := copy(dst, b.data)
	d.commands = append(d.commands, DownloadCommand{Buffer: b.ref, Size: n})
	return nil
}

// Synchronize implements device.Device.
func (d *Device) Synchronize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return device.ErrClosed
	}
	d.commands = append(d.commands, SynchronizeCommand{})
	return nil
}

// Close implements device.Device. Recorded commands stay available.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

// Launches returns the number of kernels launched so far.
func (d *Device) Launches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launches
}

// Commands returns a snapshot of the commands recorded so far.
func (d *Device) Commands() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.commands)
}

// Program returns the recorded program with the given handle, or nil.
func (d *Device) Program(ref ProgramRef) *Program {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(ref) >= len(d.programs) {
		return nil
	}
	return d.programs[ref]
}

// Finish returns an immutable Recording of all commands so far.
// The device keeps recording afterwards.
func (d *Device) Finish() *Recording {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &Recording{
		params:   d.params,
		commands: slices.Clone(d.commands),
	}
}
