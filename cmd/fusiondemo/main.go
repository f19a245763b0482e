// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Command fusiondemo prepares an elementwise computation with fused
// transformations, prints its plan and runs it on the selected backend.
//
//	fusiondemo -backend trace -n 4096 -source
//	fusiondemo -backend wgpu -scale 3
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gogpu/fusion"
	"github.com/gogpu/fusion/device"
	"github.com/gogpu/fusion/device/trace"
	_ "github.com/gogpu/fusion/device/wgpu"
	"github.com/gogpu/fusion/transformations"
)

func main() {
	var (
		backend = flag.String("backend", "trace", "device backend (trace, wgpu)")
		n       = flag.Int("n", 1024, "number of elements")
		scale   = flag.Float64("scale", 2, "scale applied to the input")
		source  = flag.Bool("source", false, "print rendered kernel sources")
		reuse   = flag.Bool("reuse", true, "share storage between temporaries")
		verbose = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *verbose {
		fusion.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	dev, err := device.Open(*backend)
	if err != nil {
		log.Fatalf("open %s: %v (available: %v)", *backend, err, device.Backends())
	}
	defer dev.Close()

	comp, err := fusion.New(dev, twoPass{}, fusion.WithBufferReuse(*reuse))
	if err != nil {
		log.Fatal(err)
	}
	if err := comp.Connect(transformations.Scale, "in", []string{"src"}, "k"); err != nil {
		log.Fatal(err)
	}
	if err := comp.Connect(transformations.Split, "out", []string{"lo", "hi"}); err != nil {
		log.Fatal(err)
	}
	fmt.Println("signature:", comp.SignatureString())

	arr := fusion.Array(fusion.Shape{*n}, dtypes.Float32)
	if err := comp.PrepareFor(arr, arr, arr, float32(*scale)); err != nil {
		log.Fatalf("prepare: %v", err)
	}
	defer comp.Release()
	fmt.Println("prepared:", comp.SignatureString())
	fmt.Print(comp.Plan())
	if *source {
		for _, k := range comp.Plan().Kernels() {
			fmt.Printf("\n// ---- %s ----\n%s", k.Name, k.Source.Code)
		}
	}

	if err := run(dev, comp, *n, float32(*scale)); err != nil {
		log.Fatalf("run: %v", err)
	}
}

// run uploads 0..n-1, calls the computation and checks the result.
// The trace device does not execute kernels, so only launches are reported.
func run(dev device.Device, comp *fusion.Computation, n int, scale float32) error {
	bufs := make([]device.Buffer, 3)
	for i := range bufs {
		b, err := dev.Allocate([]int{n}, dtypes.Float32)
		if err != nil {
			return err
		}
		defer b.Release()
		bufs[i] = b
	}
	host := make([]float32, n)
	for i := range host {
		host[i] = float32(i)
	}
	data, err := device.Encode(host)
	if err != nil {
		return err
	}
	if err := dev.Upload(bufs[2], data); err != nil {
		return err
	}
	if err := comp.Call(bufs[0], bufs[1], bufs[2], scale); err != nil {
		return err
	}
	if err := dev.Synchronize(); err != nil {
		return err
	}

	if td, ok := dev.(*trace.Device); ok {
		fmt.Printf("\nrecorded %d launches\n", td.Launches())
		return nil
	}

	lo := make([]float32, n)
	hi := make([]float32, n)
	raw := make([]byte, 4*n)
	if err := dev.Download(bufs[0], raw); err != nil {
		return err
	}
	if err := device.Decode(raw, lo); err != nil {
		return err
	}
	if err := dev.Download(bufs[1], raw); err != nil {
		return err
	}
	if err := device.Decode(raw, hi); err != nil {
		return err
	}
	for i := range n {
		// twoPass doubles the value once more.
		want := 2 * scale * float32(i)
		if got := lo[i] + hi[i]; got != want {
			return fmt.Errorf("element %d: got %v, want %v", i, got, want)
		}
	}
	fmt.Printf("\nverified %d elements\n", n)
	return nil
}
