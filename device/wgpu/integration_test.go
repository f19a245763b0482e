// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package wgpu_test

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gogpu/fusion"
	"github.com/gogpu/fusion/device"
	"github.com/gogpu/fusion/device/wgpu"
	"github.com/gogpu/fusion/transformations"
)

var copySchema = fusion.NewBasisSchema("copy", "size", "dtype")

type copyAlgo struct{}

func (copyAlgo) ArgNames() fusion.ArgNames {
	return fusion.ArgNames{Outputs: []string{"out"}, Inputs: []string{"in"}}
}

func (copyAlgo) Basis(values map[string]fusion.Value, _ fusion.Options) (fusion.Basis, error) {
	a, _ := values["out"].(fusion.ArrayValue)
	return copySchema.Make(map[string]any{"size": a.Size(), "dtype": a.Type})
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

// openGPU opens a real GPU or skips the test.
func openGPU(t *testing.T) *wgpu.Device {
	t.Helper()
	if testing.Short() {
		t.Skip("GPU test skipped in short mode")
	}
	d, err := wgpu.Open(wgpu.DefaultConfig())
	if err != nil {
		t.Skipf("no GPU available: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func TestGPUScaleAndSplit(t *testing.T) {
	dev := openGPU(t)
	const n = 1000

	comp, err := fusion.New(dev, copyAlgo{})
	if err != nil {
		t.Fatal(err)
	}
	if err := comp.Connect(transformations.Scale, "in", []string{"src"}, "k"); err != nil {
		t.Fatal(err)
	}
	if err := comp.Connect(transformations.Split, "out", []string{"lo", "hi"}); err != nil {
		t.Fatal(err)
	}
	arr := fusion.Array(fusion.Shape{n}, dtypes.Float32)
	if err := comp.PrepareFor(arr, arr, arr, float32(0)); err != nil {
		t.Fatalf("PrepareFor: %v", err)
	}
	defer comp.Release()

	host := make([]float32, n)
	for i := range host {
		host[i] = float32(i)
	}
	buffers := make([]device.Buffer, 3)
	for i := range buffers {
		b, err := dev.Allocate([]int{n}, dtypes.Float32)
		if err != nil {
			t.Fatal(err)
		}
		defer b.Release()
		buffers[i] = b
	}
	data, err := device.Encode(host)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.Upload(buffers[2], data); err != nil {
		t.Fatal(err)
	}

	// lo, hi, src, k
	if err := comp.Call(buffers[0], buffers[1], buffers[2], 4); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if err := dev.Synchronize(); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}

	lo := make([]float32, n)
	hi := make([]float32, n)
	raw := make([]byte, 4*n)
	for _, out := range []struct {
		buf device.Buffer
		dst []float32
	}{{buffers[0], lo}, {buffers[1], hi}} {
		if err := dev.Download(out.buf, raw); err != nil {
			t.Fatalf("Download: %v", err)
		}
		if err := device.Decode(raw, out.dst); err != nil {
			t.Fatal(err)
		}
	}
	for i := range n {
		want := float32(i) * 4
		if lo[i] != want/2 || lo[i]+hi[i] != want {
			t.Fatalf("element %d: lo %v hi %v, want halves of %v", i, lo[i], hi[i], want)
		}
	}
}

func TestGPURegistered(t *testing.T) {
	if !device.IsRegistered("wgpu") {
		t.Fatal(`"wgpu" backend not registered`)
	}
}
