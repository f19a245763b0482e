// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package fusion

import (
	"fmt"
	"text/template"
)

// TransformationConfig describes an elementwise transformation.
type TransformationConfig struct {
	// Name is used in diagnostics and as the snippet template name.
	Name string

	// Inputs, Outputs and Scalars are the arities. Inputs and Outputs
	// default to 1.
	Inputs, Outputs, Scalars int

	// Snippet is a text/template body assigning every output. Template
	// data holds the expressions i1..iN (inputs), the assignable names
	// o1..oN (outputs), the scalar expressions s1..sN and the WGSL types
	// i1_type, o1_type, s1_type..., merged with RenderBindings.
	//
	//	{{.o1}} = {{.i1}} * {{.s1}} + {{.i2}};
	Snippet string

	// DeriveOutput computes the output value from the input values.
	// The default returns the first input.
	DeriveOutput func(inputs, scalars []Value) Value

	// DeriveInput computes the input value from the output values when the
	// transformation is attached to an output parameter. The default
	// returns the first output.
	DeriveInput func(outputs, scalars []Value) Value

	// RenderBindings returns extra snippet template data.
	RenderBindings func(outputs, inputs, scalars []Value) map[string]any
}

// Transformation is a pure elementwise mapping fused into the load or store
// path of a kernel argument. It is immutable and may be shared between
// computations.
type Transformation struct {
	name                     string
	inputs, outputs, scalars int
	snippet                  *template.Template
	deriveOutput             func(inputs, scalars []Value) Value
	deriveInput              func(outputs, scalars []Value) Value
	renderBindings           func(outputs, inputs, scalars []Value) map[string]any
}

// NewTransformation validates cfg and parses its snippet.
func NewTransformation(cfg TransformationConfig) (*Transformation, error) {
	if cfg.Inputs == 0 {
		cfg.Inputs = 1
	}
	if cfg.Outputs == 0 {
		cfg.Outputs = 1
	}
	if cfg.Inputs < 0 || cfg.Outputs < 0 || cfg.Scalars < 0 {
		return nil, fmt.Errorf("%w: transformation %q: negative arity", ErrInvalidArgument, cfg.Name)
	}
	if cfg.Inputs > 1 && cfg.Outputs > 1 {
		return nil, fmt.Errorf("%w: transformation %q: %d inputs and %d outputs; one side must have a single argument",
			ErrInvalidArgument, cfg.Name, cfg.Inputs, cfg.Outputs)
	}
	name := cfg.Name
	if name == "" {
		name = "transformation"
	}
	snippet, err := template.New(name).Option("missingkey=error").Parse(cfg.Snippet)
	if err != nil {
		return nil, fmt.Errorf("%w: transformation %q: %v", ErrInvalidArgument, name, err)
	}
	tr := &Transformation{
		name:           name,
		inputs:         cfg.Inputs,
		outputs:        cfg.Outputs,
		scalars:        cfg.Scalars,
		snippet:        snippet,
		deriveOutput:   cfg.DeriveOutput,
		deriveInput:    cfg.DeriveInput,
		renderBindings: cfg.RenderBindings,
	}
	if tr.deriveOutput == nil {
		tr.deriveOutput = func(inputs, _ []Value) Value { return inputs[0] }
	}
	if tr.deriveInput == nil {
		tr.deriveInput = func(outputs, _ []Value) Value { return outputs[0] }
	}
	return tr, nil
}

// MustTransformation is like NewTransformation but panics on error.
// It simplifies package-level transformation variables.
func MustTransformation(cfg TransformationConfig) *Transformation {
	tr, err := NewTransformation(cfg)
	if err != nil {
		panic(err)
	}
	return tr
}

// Name returns the transformation name.
func (t *Transformation) Name() string { return t.name }

// Arity returns the number of inputs, outputs and scalars.
func (t *Transformation) Arity() (inputs, outputs, scalars int) {
	return t.inputs, t.outputs, t.scalars
}

func (t *Transformation) String() string {
	return fmt.Sprintf("%s(%d->%d, %d scalars)", t.name, t.inputs, t.outputs, t.scalars)
}
