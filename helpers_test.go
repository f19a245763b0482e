// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package fusion

import (
	"errors"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gogpu/fusion/device"
	"github.com/gogpu/fusion/device/trace"
)

// --------------------------------------------------------------------------
// Test transformations
// --------------------------------------------------------------------------

var (
	trIdentity = MustTransformation(TransformationConfig{
		Name:    "identity",
		Snippet: `{{.o1}} = {{.i1}};`,
	})

	// trCombine computes a*s + b.
	trCombine = MustTransformation(TransformationConfig{
		Name:    "combine",
		Inputs:  2,
		Scalars: 1,
		Snippet: `{{.o1}} = {{.i1}} * {{.s1}} + {{.i2}};`,
	})

	// trSplit writes two halves of the value.
	trSplit = MustTransformation(TransformationConfig{
		Name:    "split",
		Outputs: 2,
		Snippet: `
{{.o1}} = {{.i1}} / {{.o1_type}}(2);
{{.o2}} = {{.i1}} - {{.o1}};`,
	})

	trScale = MustTransformation(TransformationConfig{
		Name:    "scale",
		Scalars: 1,
		Snippet: `{{.o1}} = {{.i1}} * {{.s1}};`,
	})
)

// --------------------------------------------------------------------------
// Test algorithms
// --------------------------------------------------------------------------

var dummySchema = NewBasisSchema("dummy", "size", "dtype")

// dummy computes C = A*coeff + B and D = B*coeff. The sum is done by a
// nested adder.
type dummy struct {
	adder *Computation
}

func (*dummy) ArgNames() ArgNames {
	return ArgNames{
		Outputs: []string{"C", "D"},
		Inputs:  []string{"A", "B"},
		Scalars: []string{"coeff"},
	}
}

// firstResolved returns the first resolved array among names.
func firstResolved(values map[string]Value, names ...string) (ArrayValue, error) {
	for _, name := range names {
		if a, ok := values[name].(ArrayValue); ok && a.Resolved() {
			return a, nil
		}
	}
	return ArrayValue{}, errors.New("array shape is unknown")
}

func (*dummy) Basis(values map[string]Value, _ Options) (Basis, error) {
	arr, err := firstResolved(values, "A", "B", "C", "D")
	if err != nil {
		return Basis{}, err
	}
	return dummySchema.Make(map[string]any{"size": arr.Size(), "dtype": arr.Type})
}

func (*dummy) ArgValues(b Basis) (map[string]Value, error) {
	arr := Array(Shape{b.Int("size")}, b.DType("dtype"))
	return map[string]Value{
		"C": arr, "D": arr, "A": arr, "B": arr,
		"coeff": Scalar(b.DType("dtype")),
	}, nil
}

var dummyTmpl = MustKernelTemplate("dummy", `
{{.KernelDefinition}} {
    {{.SkipThreads}}
    let idx = {{.GlobalID 0}};
    let coeff = {{.Scalar "coeff"}};
    {{.Store "tmp"}}(idx, {{.Load "A"}}(idx) * coeff);
    {{.Store "D"}}(idx, {{.Load "B"}}(idx) * coeff);
}
`)

func (d *dummy) Plan(b Basis, _ device.Params, rec *Recorder) error {
	c, _ := rec.Value("C")
	tmp, err := rec.AddAllocation("tmp", c.(ArrayValue).Shape, b.DType("dtype"))
	if err != nil {
		return err
	}
	geom := device.Linear(b.Int("size"), 64)
	if err := rec.KernelCall(dummyTmpl, []any{tmp, "D", "A", "B", "coeff"}, geom, nil,
		WithKernelName("dummy")); err != nil {
		return err
	}
	if d.adder == nil {
		return nil
	}
	return rec.ComputationCall(d.adder, "C", tmp, "B", Const(1.0))
}

var adderSchema = NewBasisSchema("adder", "size", "dtype")

// adder computes out = x*alpha + y.
type adder struct{}

func (adder) ArgNames() ArgNames {
	return ArgNames{
		Outputs: []string{"out"},
		Inputs:  []string{"x", "y"},
		Scalars: []string{"alpha"},
	}
}

func (adder) Basis(values map[string]Value, _ Options) (Basis, error) {
	arr, err := firstResolved(values, "x", "y", "out")
	if err != nil {
		return Basis{}, err
	}
	return adderSchema.Make(map[string]any{"size": arr.Size(), "dtype": arr.Type})
}

func (adder) ArgValues(b Basis) (map[string]Value, error) {
	arr := Array(Shape{b.Int("size")}, b.DType("dtype"))
	return map[string]Value{"out": arr, "x": arr, "y": arr, "alpha": Scalar(b.DType("dtype"))}, nil
}

var adderTmpl = MustKernelTemplate("adder", `
{{.KernelDefinition}} {
    {{.SkipThreads}}
    let idx = {{.GlobalID 0}};
    {{.Store "out"}}(idx, {{.Load "x"}}(idx) * {{.Scalar "alpha"}} + {{.Load "y"}}(idx));
}
`)

func (adder) Plan(b Basis, _ device.Params, rec *Recorder) error {
	return rec.KernelCall(adderTmpl, []any{"out", "x", "y", "alpha"},
		device.Linear(b.Int("size"), 64), nil, WithKernelName("add"))
}

var chainSchema = NewBasisSchema("chain", "size", "dtype", "steps")

// chain copies in to out through a chain of temporaries, one kernel per
// step. With dependent set, every temporary depends on the one two steps
// before it.
type chain struct {
	steps     int
	dependent bool
}

func (chain) ArgNames() ArgNames {
	return ArgNames{Outputs: []string{"out"}, Inputs: []string{"in"}}
}

func (c chain) Basis(values map[string]Value, _ Options) (Basis, error) {
	arr, err := firstResolved(values, "in", "out")
	if err != nil {
		return Basis{}, err
	}
	return chainSchema.Make(map[string]any{"size": arr.Size(), "dtype": arr.Type, "steps": c.steps})
}

func (chain) ArgValues(b Basis) (map[string]Value, error) {
	arr := Array(Shape{b.Int("size")}, b.DType("dtype"))
	return map[string]Value{"out": arr, "in": arr}, nil
}

var copyTmpl = MustKernelTemplate("copy", `
{{.KernelDefinition}} {
    {{.SkipThreads}}
    let idx = {{.GlobalID 0}};
    {{.Store .Kw.dst}}(idx, {{.Load .Kw.src}}(idx));
}
`)

func (c chain) Plan(b Basis, _ device.Params, rec *Recorder) error {
	in, _ := rec.Value("in")
	geom := device.Linear(b.Int("size"), 64)
	var temps []TempArray
	src := any("in")
	srcName := "in"
	for i := 0; i < c.steps; i++ {
		var deps []TempArray
		if c.dependent && i >= 2 {
			deps = append(deps, temps[i-2])
		}
		t, err := rec.TempArrayLike(in, deps...)
		if err != nil {
			return err
		}
		temps = append(temps, t)
		err = rec.KernelCall(copyTmpl, []any{src, t}, geom, map[string]any{"src": srcName, "dst": t.Name()})
		if err != nil {
			return err
		}
		src, srcName = t, t.Name()
	}
	return rec.KernelCall(copyTmpl, []any{src, "out"}, geom, map[string]any{"src": srcName, "dst": "out"})
}

// --------------------------------------------------------------------------
// Fixtures
// --------------------------------------------------------------------------

func newDummy(t *testing.T, dev device.Device, opts ...Option) *Computation {
	t.Helper()
	algo := &dummy{}
	comp, err := New(dev, algo, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	algo.adder, err = comp.Nested(adder{})
	if err != nil {
		t.Fatalf("Nested: %v", err)
	}
	return comp
}

// connectScenario attaches the transformations of the reference scenario:
//
//	A <- identity(A_prime)
//	B <- combine(A_prime, B_new_prime, B_param)
//	C -> split(C_half1, C_half2)
//	D -> scale(D_prime, D_param)
func connectScenario(t *testing.T, comp *Computation) {
	t.Helper()
	steps := []struct {
		tr      *Transformation
		target  string
		arrays  []string
		scalars []string
	}{
		{trIdentity, "A", []string{"A_prime"}, nil},
		{trCombine, "B", []string{"A_prime", "B_new_prime"}, []string{"B_param"}},
		{trSplit, "C", []string{"C_half1", "C_half2"}, nil},
		{trScale, "D", []string{"D_prime"}, []string{"D_param"}},
	}
	for _, s := range steps {
		if err := comp.Connect(s.tr, s.target, s.arrays, s.scalars...); err != nil {
			t.Fatalf("Connect(%s, %s): %v", s.tr.Name(), s.target, err)
		}
	}
}

func scenarioArgs(size int) []any {
	arr := Array(Shape{size}, dtypes.Float32)
	return []any{arr, arr, arr, arr, arr, float32(0), float32(0), float32(0)}
}

func mustBuffer(t *testing.T, dev device.Device, size int) device.Buffer {
	t.Helper()
	b, err := dev.Allocate([]int{size}, dtypes.Float32)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	return b
}

func newTrace() *trace.Device {
	return trace.New()
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}
