// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package transformations_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gogpu/fusion"
	"github.com/gogpu/fusion/device"
	"github.com/gogpu/fusion/device/trace"
	"github.com/gogpu/fusion/transformations"
)

var copySchema = fusion.NewBasisSchema("copy", "size", "dtype")

// copyAlgo copies in to out with one kernel.
type copyAlgo struct{}

func (copyAlgo) ArgNames() fusion.ArgNames {
	return fusion.ArgNames{Outputs: []string{"out"}, Inputs: []string{"in"}}
}

func (copyAlgo) Basis(values map[string]fusion.Value, _ fusion.Options) (fusion.Basis, error) {
	for _, name := range []string{"in", "out"} {
		if a, ok := values[name].(fusion.ArrayValue); ok && a.Resolved() {
			return copySchema.Make(map[string]any{"size": a.Size(), "dtype": a.Type})
		}
	}
	return fusion.Basis{}, fusion.ErrInvalidArgument
}

func (copyAlgo) ArgValues(b fusion.Basis) (map[string]fusion.Value, error) {
	arr := fusion.Array(fusion.Shape{b.Int("size")}, b.DType("dtype"))
	return map[string]fusion.Value{"out": arr, "in": arr}, nil
}

var copyTmpl = fusion.MustKernelTemplate("copy", `
{{.KernelDefinition}} {
    {{.SkipThreads}}
    let idx = {{.GlobalID 0}};
    {{.Store "out"}}(idx, {{.Load "in"}}(idx));
}
`)

func (copyAlgo) Plan(b fusion.Basis, _ device.Params, rec *fusion.Recorder) error {
	return rec.KernelCall(copyTmpl, []any{"out", "in"}, device.Linear(b.Int("size"), 64), nil)
}

func newCopy(t *testing.T) *fusion.Computation {
	t.Helper()
	comp, err := fusion.New(trace.New(), copyAlgo{})
	if err != nil {
		t.Fatal(err)
	}
	return comp
}

func kernelSource(t *testing.T, comp *fusion.Computation) string {
	t.Helper()
	ks := comp.Plan().Kernels()
	if len(ks) != 1 {
		t.Fatalf("got %d kernels, want 1", len(ks))
	}
	return ks[0].Source.Code
}

func names(ps []fusion.Parameter) string {
	s := make([]string, len(ps))
	for i, p := range ps {
		s[i] = p.Name
	}
	return strings.Join(s, ",")
}

// --------------------------------------------------------------------------
// Arity
// --------------------------------------------------------------------------

func TestArity(t *testing.T) {
	tests := []struct {
		tr                    *fusion.Transformation
		inputs, outputs, scal int
	}{
		{transformations.Identity, 1, 1, 0},
		{transformations.Scale, 1, 1, 1},
		{transformations.Combine, 2, 1, 1},
		{transformations.Split, 1, 2, 0},
		{transformations.ScaleConst(2), 1, 1, 0},
		{transformations.Cast(dtypes.Float32), 1, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.tr.Name(), func(t *testing.T) {
			in, out, sc := tt.tr.Arity()
			if in != tt.inputs || out != tt.outputs || sc != tt.scal {
				t.Errorf("Arity() = %d, %d, %d, want %d, %d, %d",
					in, out, sc, tt.inputs, tt.outputs, tt.scal)
			}
		})
	}
}

// --------------------------------------------------------------------------
// Rendering
// --------------------------------------------------------------------------

func TestScaleInput(t *testing.T) {
	comp := newCopy(t)
	if err := comp.Connect(transformations.Scale, "in", []string{"src"}, "k"); err != nil {
		t.Fatal(err)
	}
	if got := names(comp.LeafSignature()); got != "out,src,k" {
		t.Fatalf("signature = %s", got)
	}
	arr := fusion.Array(fusion.Shape{256}, dtypes.Float32)
	if err := comp.PrepareFor(arr, arr, float32(2)); err != nil {
		t.Fatal(err)
	}
	src := kernelSource(t, comp)
	for _, want := range []string{
		"s_k: f32,",
		"fn tr_load_in(idx: u32) -> f32 {\n    var o1: f32;\n    o1 = tr_load_src(idx) * f32(params.s_k);\n    return o1;\n}",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("kernel source lacks %q:\n%s", want, src)
		}
	}
}

func TestSplitOutput(t *testing.T) {
	comp := newCopy(t)
	if err := comp.Connect(transformations.Split, "out", []string{"lo", "hi"}); err != nil {
		t.Fatal(err)
	}
	arr := fusion.Array(fusion.Shape{64}, dtypes.Float32)
	if err := comp.PrepareFor(arr, arr, arr); err != nil {
		t.Fatal(err)
	}
	want := "fn tr_store_out(idx: u32, val: f32) {\n" +
		"    var o1: f32;\n    var o2: f32;\n" +
		"    o1 = val / f32(2);\n    o2 = val - o1;\n" +
		"    tr_store_lo(idx, o1);\n    tr_store_hi(idx, o2);\n}"
	if src := kernelSource(t, comp); !strings.Contains(src, want) {
		t.Errorf("kernel source lacks split store:\n%s", src)
	}
}

func TestCombineInput(t *testing.T) {
	comp := newCopy(t)
	if err := comp.Connect(transformations.Combine, "in", []string{"a", "b"}, "s"); err != nil {
		t.Fatal(err)
	}
	arr := fusion.Array(fusion.Shape{64}, dtypes.Int32)
	if err := comp.PrepareFor(arr, arr, arr, int32(3)); err != nil {
		t.Fatal(err)
	}
	want := "o1 = tr_load_a(idx) * i32(params.s_s) + tr_load_b(idx);"
	if src := kernelSource(t, comp); !strings.Contains(src, want) {
		t.Errorf("kernel source lacks %q:\n%s", want, src)
	}
}

func TestScaleConst(t *testing.T) {
	comp := newCopy(t)
	if err := comp.Connect(transformations.ScaleConst(0.5), "in", []string{"src"}); err != nil {
		t.Fatal(err)
	}
	arr := fusion.Array(fusion.Shape{64}, dtypes.Float32)
	if err := comp.PrepareFor(arr, arr); err != nil {
		t.Fatal(err)
	}
	want := "o1 = tr_load_src(idx) * f32(f32(0.5));"
	if src := kernelSource(t, comp); !strings.Contains(src, want) {
		t.Errorf("kernel source lacks %q:\n%s", want, src)
	}
}

func TestCastInput(t *testing.T) {
	comp := newCopy(t)
	if err := comp.Connect(transformations.Cast(dtypes.Float32), "in", []string{"raw"}); err != nil {
		t.Fatal(err)
	}
	out := fusion.Array(fusion.Shape{64}, dtypes.Float32)
	raw := fusion.Array(fusion.Shape{64}, dtypes.Int32)
	if err := comp.PrepareFor(out, raw); err != nil {
		t.Fatal(err)
	}
	sig := comp.LeafSignature()
	if got := sig[1].Value.DType(); got != dtypes.Int32 {
		t.Errorf("raw element type = %s, want int32", got)
	}
	if got := comp.Basis().DType("dtype"); got != dtypes.Float32 {
		t.Errorf("basis dtype = %s, want float32", got)
	}
	src := kernelSource(t, comp)
	for _, want := range []string{
		"array<i32>",
		"o1 = f32(tr_load_raw(idx));",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("kernel source lacks %q:\n%s", want, src)
		}
	}
}

func TestCastFromUnsupportedType(t *testing.T) {
	comp := newCopy(t)
	if err := comp.Connect(transformations.Cast(dtypes.Float32), "in", []string{"raw"}); err != nil {
		t.Fatal(err)
	}
	out := fusion.Array(fusion.Shape{64}, dtypes.Float32)
	raw := fusion.Array(fusion.Shape{64}, dtypes.Float64)
	if err := comp.PrepareFor(out, raw); !errors.Is(err, fusion.ErrUnsupportedType) {
		t.Fatalf("PrepareFor error = %v, want ErrUnsupportedType", err)
	}
	if comp.Prepared() {
		t.Error("computation prepared with a float64 source")
	}
}

func TestCallWithTransformations(t *testing.T) {
	dev := trace.New()
	comp, err := fusion.New(dev, copyAlgo{})
	if err != nil {
		t.Fatal(err)
	}
	if err := comp.Connect(transformations.Scale, "in", []string{"src"}, "k"); err != nil {
		t.Fatal(err)
	}
	if err := comp.Connect(transformations.Identity, "out", []string{"dst"}); err != nil {
		t.Fatal(err)
	}
	arr := fusion.Array(fusion.Shape{128}, dtypes.Float32)
	if err := comp.PrepareFor(arr, arr, float32(1.5)); err != nil {
		t.Fatal(err)
	}

	dst, _ := dev.Allocate([]int{128}, dtypes.Float32)
	src, _ := dev.Allocate([]int{128}, dtypes.Float32)
	if err := comp.Call(dst, src, 3); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if dev.Launches() != 1 {
		t.Fatalf("launches = %d, want 1", dev.Launches())
	}
	var launch trace.LaunchCommand
	for _, c := range dev.Commands() {
		if l, ok := c.(trace.LaunchCommand); ok {
			launch = l
		}
	}
	if launch.Args[0] != float32(3) {
		t.Errorf("scalar argument = %v (%T), want float32(3)", launch.Args[0], launch.Args[0])
	}
}
