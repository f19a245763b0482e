// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package wgpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gogpu/fusion/device"
	"github.com/gogpu/fusion/internal/cache"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

func init() {
	device.Register("wgpu", func() (device.Device, error) {
		return Open(DefaultConfig())
	})
}

var (
	// ErrNoAdapter is returned by Open when the backend exposes no adapter.
	ErrNoAdapter = errors.New("wgpu: no GPU adapter found")

	// ErrBackendUnavailable is returned by Open when the configured HAL
	// backend is not compiled in.
	ErrBackendUnavailable = errors.New("wgpu: backend not available")

	// ErrProvider is returned by NewFromProvider when the provider does not
	// expose HAL objects.
	ErrProvider = errors.New("wgpu: provider does not expose HAL device")

	// ErrTimeout is returned when the GPU does not finish within
	// Config.WaitTimeout.
	ErrTimeout = errors.New("wgpu: timed out waiting for GPU")
)

// Device runs fusion kernels on a wgpu HAL device.
//
// Launch only submits work. Per-launch resources are kept until the next
// Synchronize, Download or Close.
type Device struct {
	mu     sync.Mutex
	logger atomic.Pointer[slog.Logger]

	cfg    Config
	params device.Params

	instance hal.Instance // nil unless opened by Open
	dev      hal.Device
	queue    hal.Queue
	external bool

	fence      hal.Fence
	fenceValue uint64

	// spirv caches compiled shader code by WGSL source.
	spirv    *cache.Cache[string, []uint32]
	programs []*Program

	pending []launchResources
	closed  bool
}

var _ device.Device = (*Device)(nil)

// launchResources are the transient objects of one submitted launch.
type launchResources struct {
	uniform hal.Buffer
	group   hal.BindGroup
	cmd     hal.CommandBuffer
}

// Open creates an instance of the configured backend and opens the first
// discrete or integrated GPU, falling back to the first adapter.
func Open(cfg Config) (*Device, error) {
	cfg = cfg.withDefaults()
	backend, ok := hal.GetBackend(cfg.Backend)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, cfg.Backend)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	limits := gputypes.DefaultLimits()
	open, err := selected.Adapter.Open(gputypes.Features(0), limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open device: %w", err)
	}
	d, err := newDevice(open.Device, open.Queue, limits, cfg, false)
	if err != nil {
		open.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	d.instance = instance
	d.params.Name = selected.Info.Name
	d.log().Info("wgpu: device opened", "adapter", selected.Info.Name, "backend", cfg.Backend)
	return d, nil
}

// NewFromHAL wraps an existing HAL device and queue. The caller keeps
// ownership: Close does not destroy them.
func NewFromHAL(dev hal.Device, queue hal.Queue, limits gputypes.Limits, cfg Config) (*Device, error) {
	if dev == nil || queue == nil {
		return nil, fmt.Errorf("%w: nil device or queue", ErrProvider)
	}
	return newDevice(dev, queue, limits, cfg.withDefaults(), true)
}

// NewFromProvider shares the GPU device of a gpucontext.DeviceProvider,
// such as a gogpu window. The provider must expose HalDevice() and
// HalQueue() returning hal.Device and hal.Queue.
func NewFromProvider(provider gpucontext.DeviceProvider, cfg Config) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrProvider
	}
	dev, ok := hp.HalDevice().(hal.Device)
	if !ok || dev == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrProvider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrProvider)
	}
	return newDevice(dev, queue, gputypes.DefaultLimits(), cfg.withDefaults(), true)
}

func newDevice(dev hal.Device, queue hal.Queue, limits gputypes.Limits, cfg Config, external bool) (*Device, error) {
	fence, err := dev.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("wgpu: create fence: %w", err)
	}
	return &Device{
		cfg: cfg,
		params: device.Params{
			Name: cfg.Label,
			MaxWorkgroupSize: [3]uint32{
				limits.MaxComputeWorkgroupSizeX,
				limits.MaxComputeWorkgroupSizeY,
				limits.MaxComputeWorkgroupSizeZ,
			},
			MaxWorkgroupInvocations: limits.MaxComputeInvocationsPerWorkgroup,
			MaxBufferSize:           limits.MaxBufferSize,
		},
		dev:      dev,
		queue:    queue,
		external: external,
		fence:    fence,
		spirv:    cache.New[string, []uint32](cfg.MaxCachedPrograms),
	}, nil
}

// Params implements device.Device.
func (d *Device) Params() device.Params { return d.params }

// CacheStats returns statistics of the shader code cache.
func (d *Device) CacheStats() cache.Stats { return d.spirv.Stats() }

// Allocate implements device.Device.
func (d *Device) Allocate(shape []int, dt dtypes.DType) (device.Buffer, error) {
	size, err := device.ByteSize(shape, dt)
	if err != nil {
		return nil, err
	}
	if d.params.MaxBufferSize > 0 && size > d.params.MaxBufferSize {
		return nil, fmt.Errorf("wgpu: buffer of %d bytes exceeds device limit %d", size, d.params.MaxBufferSize)
	}
	// Storage bindings must be non-empty and 4-byte aligned.
	alloc := max((size+3)&^3, 4)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, device.ErrClosed
	}
	buf, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: d.cfg.Label + "_array",
		Size:  alloc,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create buffer: %w", err)
	}
	return &Buffer{
		dev:   d,
		buf:   buf,
		shape: append([]int(nil), shape...),
		dtype: dt,
		size:  size,
		alloc: alloc,
	}, nil
}

// bufferLocked checks that a is a live buffer of this device.
// Caller must hold d.mu.
func (d *Device) bufferLocked(a any) (*Buffer, error) {
	b, ok := a.(*Buffer)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a wgpu buffer", device.ErrForeignBuffer, a)
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
	b, err := d.bufferLocked(buf)
	if err != nil {
		return err
	}
	if uint64(len(data)) != b.size {
		return fmt.Errorf("wgpu: upload of %d bytes to buffer of %d bytes", len(data), b.size)
	}
	if len(data)%4 != 0 {
		padded := make([]byte, b.alloc)
		copy(padded, data)
		data = padded
	}
	d.queue.WriteBuffer(b.buf, 0, data)
	return nil
}

// Download implements device.Device. It waits for all submitted launches.
func (d *Device) Download(buf device.Buffer, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return device.ErrClosed
	}
	b, err := d.bufferLocked(buf)
	if err != nil {
		return err
	}
	if uint64(len(dst)) != b.size {
		return fmt.Errorf("wgpu: download of %d bytes from buffer of %d bytes", len(dst), b.size)
	}

	staging, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: d.cfg.Label + "_staging",
		Size:  b.alloc,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create staging buffer: %w", err)
	}
	defer d.dev.DestroyBuffer(staging)

	encoder, err := d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: d.cfg.Label + "_download"})
	if err != nil {
		return fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("download"); err != nil {
		encoder.DiscardEncoding()
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(b.buf, staging, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: b.alloc},
	})
	cmd, err := encoder.EndEncoding()
	if err != nil {
		encoder.DiscardEncoding()
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	defer d.dev.FreeCommandBuffer(cmd)

	if err := d.submitLocked(cmd); err != nil {
		return err
	}
	if err := d.waitLocked(); err != nil {
		return err
	}

	readback := make([]byte, b.alloc)
	if err := d.queue.ReadBuffer(staging, 0, readback); err != nil {
		return fmt.Errorf("wgpu: readback: %w", err)
	}
	copy(dst, readback)
	return nil
}

// submitLocked submits cmd and signals the next fence value.
// Caller must hold d.mu.
func (d *Device) submitLocked(cmd hal.CommandBuffer) error {
	d.fenceValue++
	if err := d.queue.Submit([]hal.CommandBuffer{cmd}, d.fence, d.fenceValue); err != nil {
		return fmt.Errorf("wgpu: submit: %w", err)
	}
	return nil
}

// waitLocked waits for the last submission and frees finished launches.
// Caller must hold d.mu.
func (d *Device) waitLocked() error {
	if d.fenceValue > 0 {
		ok, err := d.dev.Wait(d.fence, d.fenceValue, d.cfg.WaitTimeout)
		if err != nil {
			return fmt.Errorf("wgpu: wait: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w after %v", ErrTimeout, d.cfg.WaitTimeout)
		}
	}
	d.freePendingLocked()
	return nil
}

func (d *Device) freePendingLocked() {
	for _, r := range d.pending {
		d.dev.FreeCommandBuffer(r.cmd)
		d.dev.DestroyBindGroup(r.group)
		d.dev.DestroyBuffer(r.uniform)
	}
	d.pending = d.pending[:0]
}

// Synchronize implements device.Device.
func (d *Device) Synchronize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return device.ErrClosed
	}
	return d.waitLocked()
}

// Close waits for pending work and releases programs and, when the device
// was created by Open, the HAL device and instance. Buffers still held by
// callers must be released before Close.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if err := d.waitLocked(); err != nil {
		d.log().Warn("wgpu: close: pending work not finished", "err", err)
		d.freePendingLocked()
	}
	for _, p := range d.programs {
		p.destroy(d.dev)
	}
	d.programs = nil
	d.spirv.Clear()
	d.dev.DestroyFence(d.fence)
	if !d.external {
		d.dev.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.dev = nil
	d.queue = nil
	d.instance = nil
	d.closed = true
}
