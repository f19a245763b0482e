// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package fusion

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gogpu/fusion/device"
)

// ArgNames lists the base parameters of an algorithm. Signature order is
// Outputs, InOuts, Inputs, then Scalars.
type ArgNames struct {
	Outputs []string
	InOuts  []string
	Inputs  []string
	Scalars []string
}

// Algorithm is a concrete computation: it derives a basis from argument
// values and records the kernels that implement it.
type Algorithm interface {
	// Basis derives the basis from the values of the base parameters,
	// which may be partially unresolved, and the options passed to
	// PrepareWithOptions.
	Basis(values map[string]Value, opts Options) (Basis, error)

	// ArgValues returns the authoritative value of every base parameter
	// for a basis.
	ArgValues(b Basis) (map[string]Value, error)

	// Plan records the kernel launches and temporary arrays for a basis.
	Plan(b Basis, params device.Params, rec *Recorder) error
}

// ArgNamer is implemented by algorithms with a fixed parameter list.
// Algorithms whose parameters depend on construction arguments call
// Computation.SetArgNames instead.
type ArgNamer interface {
	ArgNames() ArgNames
}

type state uint8

const (
	stateUninitialized state = iota
	stateInitialized
	statePrepared
)

var stateNames = [...]string{
	stateUninitialized: "uninitialized",
	stateInitialized:   "initialized",
	statePrepared:      "prepared",
}

func (s state) String() string { return stateNames[s] }

// Computation wraps an Algorithm with a transformation tree and, once
// prepared, a finalized plan.
//
// A Computation is not safe for concurrent use.
type Computation struct {
	dev    device.Device
	algo   Algorithm
	opts   options
	ns     *Namespace
	parent *Computation
	state  state
	tree   *Tree

	// Set by PrepareFor.
	basisOpts Options
	basis     Basis
	argValues map[string]Value
	signature []Parameter
	plan      *Plan
}

// New creates a root computation running on dev.
func New(dev device.Device, algo Algorithm, opts ...Option) (*Computation, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: nil device", ErrInvalidArgument)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	propagateLogger(dev)
	return newComputation(dev, algo, o, &Namespace{}, nil)
}

func newComputation(dev device.Device, algo Algorithm, o options, ns *Namespace, parent *Computation) (*Computation, error) {
	if algo == nil {
		return nil, fmt.Errorf("%w: nil algorithm", ErrInvalidArgument)
	}
	c := &Computation{
		dev:    dev,
		algo:   algo,
		opts:   o,
		ns:     ns,
		parent: parent,
	}
	if an, ok := algo.(ArgNamer); ok {
		if err := c.SetArgNames(an.ArgNames()); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Nested creates a computation whose kernels are inlined into c's plan
// through Recorder.ComputationCall. It shares c's device and debug flag and
// lives in a fresh child namespace.
func (c *Computation) Nested(algo Algorithm) (*Computation, error) {
	return newComputation(c.dev, algo, c.opts, c.ns.Child(algorithmTag(algo)), c)
}

// algorithmTag returns the upper-cased initial of the algorithm type name.
func algorithmTag(algo Algorithm) string {
	t := reflect.TypeOf(algo)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "N"
	}
	name := t.Name()
	if name == "" || name[0] >= utf8.RuneSelf || !unicode.IsLetter(rune(name[0])) {
		return "N"
	}
	return string(unicode.ToUpper(rune(name[0])))
}

// SetArgNames fixes the base parameters and moves the computation to the
// initialized state. It fails once names are set.
func (c *Computation) SetArgNames(names ArgNames) error {
	if c.state != stateUninitialized {
		return fmt.Errorf("%w: argument names already set (%s)", ErrInvalidState, c.state)
	}
	tree, err := NewTree(names)
	if err != nil {
		return err
	}
	c.tree = tree
	c.state = stateInitialized
	return nil
}

// Connect attaches a transformation to the leaf array target, replacing it
// in the signature with arrays and adding scalars. See Tree.Connect for the
// rules.
func (c *Computation) Connect(tr *Transformation, target string, arrays []string, scalars ...string) error {
	if c.state != stateInitialized {
		return fmt.Errorf("%w: cannot connect in %s state", ErrInvalidState, c.state)
	}
	if tr == nil {
		return fmt.Errorf("%w: nil transformation", ErrInvalidArgument)
	}
	if err := c.tree.Connect(tr, target, arrays, scalars); err != nil {
		return err
	}
	Logger().Debug("fusion: connected transformation",
		"transformation", tr.Name(), "target", c.ns.Qualify(target), "arrays", arrays, "scalars", scalars)
	return nil
}

// LeafSignature returns the parameters Call expects, in order. It is nil
// before argument names are set.
func (c *Computation) LeafSignature() []Parameter {
	if c.tree == nil {
		return nil
	}
	return c.tree.LeafSignature()
}

// SignatureString renders the leaf signature for diagnostics, for example
// "(array, float32, [1024]) C, (scalar, float32) coeff".
func (c *Computation) SignatureString() string {
	sig := c.LeafSignature()
	parts := make([]string, len(sig))
	for i, p := range sig {
		parts[i] = p.String()
	}
	return strings.Join(parts, ", ")
}

// Device returns the device the computation runs on.
func (c *Computation) Device() device.Device { return c.dev }

// Namespace returns the namespace of the computation.
func (c *Computation) Namespace() *Namespace { return c.ns }

// Prepared reports whether PrepareFor has succeeded.
func (c *Computation) Prepared() bool { return c.state == statePrepared }

// Basis returns the basis fixed by PrepareFor, or the zero Basis.
func (c *Computation) Basis() Basis { return c.basis }

// Plan returns the finalized plan, or nil before preparation.
func (c *Computation) Plan() *Plan { return c.plan }

// Release frees the temporary buffers of the plan. The computation cannot
// be called or prepared again afterwards.
func (c *Computation) Release() {
	if c.plan != nil {
		c.plan.release()
		c.plan = nil
	}
}
