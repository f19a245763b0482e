// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package trace provides a device that records every command it receives
// instead of running kernels.
//
// Buffers live in host memory, so Upload followed by Download round-trips
// data, but launches do not modify buffer contents. The recorded command
// stream is useful for inspecting what a prepared computation sends to the
// hardware and for replaying that stream onto another device.
//
// # Architecture
//
// Commands are typed structs (Allocate, Compile, Launch, ...) referring to
// buffers and programs by handles (BufferRef, ProgramRef). Finish returns an
// immutable Recording; Playback replays it onto any device.Device:
//
//	dev := trace.New()
//	comp, _ := fusion.New(dev, algo)
//	...
//	rec := dev.Finish()
//	replay, err := rec.Playback(gpuDevice)
//
// The package registers itself as the "trace" backend.
package trace
