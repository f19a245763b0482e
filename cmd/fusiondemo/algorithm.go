// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"

	"github.com/gogpu/fusion"
	"github.com/gogpu/fusion/device"
)

var twoPassSchema = fusion.NewBasisSchema("twopass", "size", "dtype")

// twoPass computes out = 2*in in two kernels through a temporary:
// the first copies in to the temporary, the second doubles it into out.
type twoPass struct{}

func (twoPass) ArgNames() fusion.ArgNames {
	return fusion.ArgNames{Outputs: []string{"out"}, Inputs: []string{"in"}}
}

func (twoPass) Basis(values map[string]fusion.Value, _ fusion.Options) (fusion.Basis, error) {
	for _, name := range []string{"in", "out"} {
		if a, ok := values[name].(fusion.ArrayValue); ok && a.Resolved() {
			return twoPassSchema.Make(map[string]any{"size": a.Size(), "dtype": a.Type})
		}
	}
	return fusion.Basis{}, fmt.Errorf("%w: no array shape given", fusion.ErrInvalidArgument)
}

func (twoPass) ArgValues(b fusion.Basis) (map[string]fusion.Value, error) {
	arr := fusion.Array(fusion.Shape{b.Int("size")}, b.DType("dtype"))
	return map[string]fusion.Value{"out": arr, "in": arr}, nil
}

var copyKernel = fusion.MustKernelTemplate("copy", `
{{.KernelDefinition}} {
    {{.SkipThreads}}
    let idx = {{.GlobalID 0}};
    {{.Store .Kw.dst}}(idx, {{.Load .Kw.src}}(idx));
}
`)

var doubleKernel = fusion.MustKernelTemplate("double", `
{{.KernelDefinition}} {
    {{.SkipThreads}}
    let idx = {{.GlobalID 0}};
    {{.Store .Kw.dst}}(idx, {{.Load .Kw.src}}(idx) * {{.Type .Kw.dst}}(2));
}
`)

func (twoPass) Plan(b fusion.Basis, p device.Params, rec *fusion.Recorder) error {
	in, _ := rec.Value("in")
	tmp, err := rec.TempArrayLike(in)
	if err != nil {
		return err
	}
	local := min(uint32(256), p.MaxWorkgroupSize[0])
	geom := device.Linear(b.Int("size"), local)
	if err := rec.KernelCall(copyKernel, []any{tmp, "in"}, geom,
		map[string]any{"src": "in", "dst": tmp.Name()}, fusion.WithKernelName("copy")); err != nil {
		return err
	}
	return rec.KernelCall(doubleKernel, []any{"out", tmp}, geom,
		map[string]any{"src": tmp.Name(), "dst": "out"}, fusion.WithKernelName("double"))
}
