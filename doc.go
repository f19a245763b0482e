// Package fusion builds GPU computations out of reusable algorithms and
// elementwise transformations fused into the generated kernels.
//
// # Overview
//
// A Computation wraps an Algorithm, which declares its parameters, derives
// a Basis (the shape and type facts its kernels depend on) and records the
// kernels that implement it. Callers attach Transformations to the
// algorithm's array parameters; each transformation is rendered into the
// load or store path of every kernel that touches the parameter, so the
// glue costs neither an extra launch nor a round trip through memory.
//
// # Quick Start
//
//	import (
//		"github.com/gogpu/fusion"
//		"github.com/gogpu/fusion/device"
//		_ "github.com/gogpu/fusion/device/wgpu"
//		"github.com/gogpu/fusion/transformations"
//	)
//
//	dev := device.MustOpen("wgpu")
//	defer dev.Close()
//
//	comp, err := fusion.New(dev, myAlgorithm)
//	// Scale the input on load: callers now pass "x" and "k".
//	err = comp.Connect(transformations.Scale, "input", []string{"x"}, "k")
//	arr := fusion.Array(fusion.Shape{1024}, dtypes.Float32)
//	err = comp.PrepareFor(arr, arr, float32(2))
//	err = comp.Call(outBuf, xBuf, float32(2))
//
// # Lifecycle
//
// A Computation moves from uninitialized (no parameter names) to
// initialized, where transformations may be connected, to prepared, where
// the basis is fixed and the plan is compiled. PrepareFor negotiates the
// basis in two passes: leaf values are propagated to the base parameters,
// the algorithm derives the basis, and its authoritative scalar types are
// pushed back to the scalar leaves before the final pass.
//
// # Plans
//
// Algorithm.Plan records kernel launches and temporary arrays on a
// Recorder and may inline nested computations created with
// Computation.Nested. The outermost computation finalizes the plan: every
// kernel is rendered to WGSL and compiled concurrently, temporaries are
// allocated (optionally sharing storage, see WithBufferReuse), and every
// kernel argument is resolved to a position in the global buffer list.
//
// # Kernel templates
//
// Kernels are text/template sources executed with a context offering
// KernelDefinition, SkipThreads, GlobalID, FlatID, Load, Store, Scalar,
// Type, Size and the render bindings as .Kw:
//
//	{{.KernelDefinition}} {
//	    {{.SkipThreads}}
//	    let idx = {{.GlobalID 0}};
//	    {{.Store "output"}}(idx, {{.Load "input"}}(idx) * {{.Scalar "k"}});
//	}
//
// # Logging
//
// fusion logs through log/slog and is silent by default. See SetLogger.
package fusion
