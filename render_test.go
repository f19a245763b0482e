// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package fusion

import (
	"testing"

	"github.com/gogpu/naga"
	"github.com/gomlx/gopjrt/dtypes"
)

// connectToBase feeds input A from input B and scales output C by the
// existing coeff scalar.
func connectToBase(t *testing.T, comp *Computation) {
	t.Helper()
	if err := comp.Connect(trIdentity, "A", []string{"B"}); err != nil {
		t.Fatalf("Connect(identity, A): %v", err)
	}
	if err := comp.Connect(trScale, "C", []string{"C_prime"}, "coeff"); err != nil {
		t.Fatalf("Connect(scale, C): %v", err)
	}
}

func TestConnectionToBaseSignature(t *testing.T) {
	comp := newDummy(t, newTrace())
	connectToBase(t, comp)
	if got, want := comp.SignatureString(), "(array) C_prime, (array) D, (array) B, (scalar) coeff"; got != want {
		t.Errorf("SignatureString() = %q, want %q", got, want)
	}
}

// TestRenderedKernelsCompile runs every rendered kernel through the WGSL
// compiler used by the wgpu device.
func TestRenderedKernelsCompile(t *testing.T) {
	arr := Array(Shape{1024}, dtypes.Float32)
	tests := []struct {
		name    string
		newComp func(t *testing.T) *Computation
		args    []any
		kernels int
	}{
		{
			name: "fused scenario",
			newComp: func(t *testing.T) *Computation {
				comp := newDummy(t, newTrace())
				connectScenario(t, comp)
				return comp
			},
			args:    scenarioArgs(1024),
			kernels: 2,
		},
		{
			// The nested adder receives alpha as a constant.
			name:    "nested constant",
			newComp: func(t *testing.T) *Computation { return newDummy(t, newTrace()) },
			args:    []any{arr, arr, arr, arr, float32(0)},
			kernels: 2,
		},
		{
			name: "connection to base",
			newComp: func(t *testing.T) *Computation {
				comp := newDummy(t, newTrace())
				connectToBase(t, comp)
				return comp
			},
			args:    []any{arr, arr, arr, float32(0)},
			kernels: 2,
		},
		{
			name: "temporaries",
			newComp: func(t *testing.T) *Computation {
				comp, err := New(newTrace(), chain{steps: 3})
				if err != nil {
					t.Fatal(err)
				}
				return comp
			},
			args:    []any{arr, arr},
			kernels: 4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comp := tt.newComp(t)
			if err := comp.PrepareFor(tt.args...); err != nil {
				t.Fatalf("PrepareFor: %v", err)
			}
			defer comp.Release()
			kernels := comp.Plan().Kernels()
			if len(kernels) != tt.kernels {
				t.Fatalf("got %d kernels, want %d", len(kernels), tt.kernels)
			}
			for _, k := range kernels {
				spirv, err := naga.Compile(k.Source.Code)
				if err != nil {
					t.Errorf("kernel %s does not compile: %v\n%s", k.Name, err, k.Source.Code)
					continue
				}
				if len(spirv) == 0 || len(spirv)%4 != 0 {
					t.Errorf("kernel %s: SPIR-V of %d bytes", k.Name, len(spirv))
				}
			}
		})
	}
}
