// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package transformations provides common elementwise transformations for
// fusion computations.
//
// Scalars taken by these transformations are converted to the element type
// of the transformed array before use, so a float32 array may be scaled by
// an int32 parameter.
package transformations

import (
	"strconv"

	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gogpu/fusion"
)

// Identity passes values through unchanged. Attached to an input it renames
// the parameter; attached to an output it does the same on the write path.
var Identity = fusion.MustTransformation(fusion.TransformationConfig{
	Name:    "identity",
	Snippet: `{{.o1}} = {{.i1}};`,
})

// Scale multiplies by a scalar parameter.
var Scale = fusion.MustTransformation(fusion.TransformationConfig{
	Name:    "scale",
	Scalars: 1,
	Snippet: `{{.o1}} = {{.i1}} * {{.o1_type}}({{.s1}});`,
})

// Combine computes a*s + b from two arrays and a scalar parameter.
// It can only be attached to an input.
var Combine = fusion.MustTransformation(fusion.TransformationConfig{
	Name:    "combine",
	Inputs:  2,
	Scalars: 1,
	Snippet: `{{.o1}} = {{.i1}} * {{.o1_type}}({{.s1}}) + {{.i2}};`,
})

// Split writes a value to two arrays as two halves whose sum is the value.
// It can only be attached to an output.
var Split = fusion.MustTransformation(fusion.TransformationConfig{
	Name:    "split",
	Outputs: 2,
	Snippet: `
{{.o1}} = {{.i1}} / {{.o1_type}}(2);
{{.o2}} = {{.i1}} - {{.o1}};`,
})

// ScaleConst multiplies by a constant inlined into the kernel.
func ScaleConst(c float64) *fusion.Transformation {
	lit := strconv.FormatFloat(c, 'g', -1, 32)
	return fusion.MustTransformation(fusion.TransformationConfig{
		Name:    "scale_const",
		Snippet: `{{.o1}} = {{.i1}} * {{.o1_type}}(f32({{.c}}));`,
		RenderBindings: func(_, _, _ []fusion.Value) map[string]any {
			return map[string]any{"c": lit}
		},
	})
}

// Cast converts between element types. The computation side of the
// transformation has element type dt: attached to an input, the kernel
// reads dt values converted from the leaf array; attached to an output, the
// kernel writes dt values converted to the leaf array's type.
func Cast(dt dtypes.DType) *fusion.Transformation {
	retype := func(vs []fusion.Value) fusion.Value {
		a, _ := vs[0].(fusion.ArrayValue)
		return fusion.Array(a.Shape, dt)
	}
	return fusion.MustTransformation(fusion.TransformationConfig{
		Name:         "cast",
		Snippet:      `{{.o1}} = {{.o1_type}}({{.i1}});`,
		DeriveOutput: func(inputs, _ []fusion.Value) fusion.Value { return retype(inputs) },
		DeriveInput:  func(outputs, _ []fusion.Value) fusion.Value { return retype(outputs) },
	})
}
