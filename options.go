// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package fusion

import "runtime"

// Option configures a Computation during creation.
//
// Example:
//
//	comp, err := fusion.New(dev, algo, fusion.WithDebug(true))
type Option func(*options)

type options struct {
	debug              bool
	bufferReuse        bool
	compileConcurrency int
}

func defaultOptions() options {
	return options{
		compileConcurrency: runtime.GOMAXPROCS(0),
	}
}

// WithDebug makes every call re-derive the basis from its arguments and
// fail with ErrBasisMismatch if it differs from the prepared one.
// Nested computations inherit the flag.
func WithDebug(debug bool) Option {
	return func(o *options) {
		o.debug = debug
	}
}

// WithBufferReuse lets temporary arrays with disjoint lifetimes share
// storage. Temporaries that declare each other as dependencies never share.
func WithBufferReuse(reuse bool) Option {
	return func(o *options) {
		o.bufferReuse = reuse
	}
}

// WithCompileConcurrency limits how many kernels are rendered and compiled
// at once during preparation. Values below 1 mean GOMAXPROCS.
func WithCompileConcurrency(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = runtime.GOMAXPROCS(0)
		}
		o.compileConcurrency = n
	}
}

// Options are algorithm-specific settings forwarded to the basis function.
type Options map[string]any
