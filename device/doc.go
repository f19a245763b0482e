// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package device defines the contract between the fusion computation engine
// and the hardware that runs its kernels.
//
// A Device allocates typed buffers, compiles rendered WGSL kernels into
// programs and launches them in submission order. The engine never inspects
// device internals: it only reads the capability record returned by
// Params and threads it through to plan construction.
//
// # Launch Argument Contract
//
// Every compiled kernel uses a single bind group:
//
//   - binding 0: a uniform buffer holding the scalar arguments, packed in
//     declaration order (see PackScalars)
//   - bindings 1..n: read-write storage buffers, one per array argument
//
// Launch receives the scalar values first, then the buffers, in the order
// described by the Source the program was compiled from.
//
// # Backends
//
// Implementations register themselves with Register from an init function,
// following the database/sql driver pattern:
//
//	import _ "github.com/gogpu/fusion/device/wgpu" // registers "wgpu"
//
//	dev, err := device.Open("wgpu")
package device
