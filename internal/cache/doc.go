// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package cache provides a generic thread-safe LRU cache.
//
// Devices use it to keep compiled shader code keyed by kernel source, so
// computations rendering identical kernels share one compilation:
//
//	c := cache.New[string, []uint32](64)
//	code, ok := c.Get(src)
//	if !ok {
//	    code = compile(src)
//	    c.Set(src, code)
//	}
//
// A capacity of 0 disables eviction.
package cache
