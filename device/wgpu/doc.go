// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package wgpu runs fusion kernels on GPUs through the gogpu/wgpu HAL.
//
// Kernels arrive as WGSL, are translated to SPIR-V with gogpu/naga and
// built into compute pipelines. Translated code is cached by source, so
// computations producing identical kernels share one translation.
//
// Importing the package registers the "wgpu" backend with the device
// registry, opening the Vulkan backend with DefaultConfig:
//
//	import _ "github.com/gogpu/fusion/device/wgpu"
//
//	dev, err := device.Open("wgpu")
//
// To share a device with a gogpu application, use NewFromProvider; the
// shared HAL device is not destroyed by Close.
package wgpu
