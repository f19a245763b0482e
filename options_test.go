// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package fusion

import (
	"runtime"
	"testing"
)

func TestDefaultOptions(t *testing.T) {
	o := defaultOptions()
	if o.debug || o.bufferReuse {
		t.Errorf("defaults = %+v, want debug and reuse off", o)
	}
	if o.compileConcurrency != runtime.GOMAXPROCS(0) {
		t.Errorf("compileConcurrency = %d, want GOMAXPROCS", o.compileConcurrency)
	}
}

func TestOptions(t *testing.T) {
	tests := []struct {
		name  string
		opts  []Option
		check func(options) bool
	}{
		{"debug", []Option{WithDebug(true)}, func(o options) bool { return o.debug }},
		{"reuse", []Option{WithBufferReuse(true)}, func(o options) bool { return o.bufferReuse }},
		{"concurrency", []Option{WithCompileConcurrency(3)}, func(o options) bool { return o.compileConcurrency == 3 }},
		{"concurrency floor", []Option{WithCompileConcurrency(0)}, func(o options) bool {
			return o.compileConcurrency == runtime.GOMAXPROCS(0)
		}},
		{"last wins", []Option{WithDebug(true), WithDebug(false)}, func(o options) bool { return !o.debug }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := defaultOptions()
			for _, opt := range tt.opts {
				opt(&o)
			}
			if !tt.check(o) {
				t.Errorf("options = %+v", o)
			}
		})
	}
}

func TestNestedInheritsOptions(t *testing.T) {
	comp, err := New(newTrace(), &dummy{}, WithDebug(true), WithBufferReuse(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	nested, err := comp.Nested(adder{})
	if err != nil {
		t.Fatalf("Nested: %v", err)
	}
	if !nested.opts.debug || !nested.opts.bufferReuse {
		t.Errorf("nested options = %+v", nested.opts)
	}
	if nested.Device() != comp.Device() {
		t.Error("nested computation runs on a different device")
	}
}
