// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package wgpu

import (
	"time"

	"github.com/gogpu/gputypes"
)

// Config configures a Device.
type Config struct {
	// Label prefixes the debug labels of GPU objects.
	Label string

	// Backend selects the HAL backend used by Open. Defaults to Vulkan.
	Backend gputypes.Backend

	// MaxCachedPrograms bounds the number of compiled shader modules kept
	// for reuse, keyed by kernel source. Zero means unlimited.
	MaxCachedPrograms int

	// WaitTimeout bounds how long Synchronize and Download wait for the GPU.
	WaitTimeout time.Duration
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Label:             "fusion",
		Backend:           gputypes.BackendVulkan,
		MaxCachedPrograms: 128,
		WaitTimeout:       5 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Label == "" {
		c.Label = d.Label
	}
	if c.Backend == 0 {
		c.Backend = d.Backend
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = d.WaitTimeout
	}
	return c
}
