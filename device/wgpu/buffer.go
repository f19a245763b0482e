// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package wgpu

import (
	"github.com/gogpu/wgpu/hal"
	"github.com/gomlx/gopjrt/dtypes"
)

// Buffer is a storage buffer on a Device.
type Buffer struct {
	dev   *Device
	buf   hal.Buffer
	shape []int
	dtype dtypes.DType
	size  uint64 // array bytes
	alloc uint64 // allocated bytes, 4-byte aligned

	released bool
}

// Shape implements device.Buffer.
func (b *Buffer) Shape() []int { return b.shape }

// DType implements device.Buffer.
func (b *Buffer) DType() dtypes.DType { return b.dtype }

// SizeBytes implements device.Buffer.
func (b *Buffer) SizeBytes() uint64 { return b.size }

// Released reports whether Release was called.
func (b *Buffer) Released() bool {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	return b.released
}

// Release implements device.Buffer. Work already launched on the buffer
// completes before it is destroyed.
func (b *Buffer) Release() {
	d := b.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if b.released {
		return
	}
	b.released = true
	if d.closed {
		return
	}
	if len(d.pending) > 0 {
		if err := d.waitLocked(); err != nil {
			d.log().Warn("wgpu: release: pending work not finished", "err", err)
		}
	}
	d.dev.DestroyBuffer(b.buf)
	b.buf = nil
}
