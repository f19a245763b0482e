// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package fusion

import (
	"fmt"
	"strconv"
	"text/template"

	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gogpu/fusion/device"
)

// refKind tells what a kernel argument refers to.
type refKind uint8

const (
	refParam refKind = iota // node of the root tree
	refTemp                 // temporary array request
	refConst                // literal scalar
)

// argRef is a name resolved against the root computation. value and role
// describe the argument as the referring computation sees it.
type argRef struct {
	kind  refKind
	node  string
	temp  int
	cnst  any
	value Value
	role  Role
}

// TempArray is a handle to a temporary array requested from a Recorder.
// It can be passed as a kernel or nested computation argument anywhere in
// the same plan.
type TempArray struct {
	id    int
	name  string
	value ArrayValue
	owner *planBuilder
}

// Name returns the name kernel templates use for the array.
func (t TempArray) Name() string { return t.name }

// Value returns the shape and element type of the array.
func (t TempArray) Value() ArrayValue { return t.value }

// Constant is a scalar literal passed to a nested computation in place of
// a scalar parameter. It is rendered into the kernel source.
type Constant struct {
	v any
}

// Const wraps v as a scalar constant.
func Const(v any) Constant { return Constant{v: v} }

// Value returns the wrapped value.
func (c Constant) Value() any { return c.v }

// Kernel is a kernel launch request. Args name the kernel's parameters:
// parameter names of the recording computation or TempArray handles.
// Templates refer to an argument by its parameter name or TempArray.Name.
type Kernel struct {
	Name     string
	Template *template.Template
	Args     []any
	Geometry device.Geometry
	Bindings map[string]any
}

// KernelOption configures a kernel recorded with KernelCall.
type KernelOption func(*Kernel)

// WithKernelName sets the kernel name used for labels and diagnostics.
func WithKernelName(name string) KernelOption {
	return func(k *Kernel) {
		k.Name = name
	}
}

// planBuilder collects the actions of a root computation and of every
// computation nested in it.
type planBuilder struct {
	dev     device.Device
	params  device.Params
	kernels []*kernelAction
	temps   []*tempRequest
}

type kernelAction struct {
	name     string
	tmpl     *template.Template
	args     []kernelArg
	geometry device.Geometry
	bindings map[string]any
}

// kernelArg binds a kernel-local name to a root reference.
type kernelArg struct {
	local string
	ref   argRef
}

type tempRequest struct {
	name  string
	value ArrayValue
	deps  []int
}

// Recorder records the kernel launches, temporary arrays and nested calls
// of one computation. Nested computations get their own Recorder sharing
// the root's plan.
type Recorder struct {
	b     *planBuilder
	comp  *Computation
	basis Basis
	names map[string]argRef
	temps int
	kerns int
}

// Basis returns the basis the plan is built for.
func (r *Recorder) Basis() Basis { return r.basis }

// Params returns the device capabilities.
func (r *Recorder) Params() device.Params { return r.b.params }

// Namespace returns the namespace of the recording computation.
func (r *Recorder) Namespace() *Namespace { return r.comp.ns }

// Value returns the value of a parameter or temporary array as seen by the
// recording computation.
func (r *Recorder) Value(name string) (Value, bool) {
	ref, ok := r.names[name]
	if !ok {
		return nil, false
	}
	return ref.value, true
}

// TempArray requests a temporary array. Arrays listed in deps never share
// storage with it when buffer reuse is enabled.
func (r *Recorder) TempArray(shape Shape, dt dtypes.DType, deps ...TempArray) (TempArray, error) {
	var name string
	for {
		name = "temp" + strconv.Itoa(r.temps)
		r.temps++
		if _, taken := r.names[name]; !taken {
			break
		}
	}
	return r.AddAllocation(name, shape, dt, deps...)
}

// TempArrayLike requests a temporary array with the shape and element type
// of v, which must be a resolved array value.
func (r *Recorder) TempArrayLike(v Value, deps ...TempArray) (TempArray, error) {
	a, ok := v.(ArrayValue)
	if !ok {
		return TempArray{}, fmt.Errorf("%w: temporary array like %v", ErrInvalidArgument, v)
	}
	return r.TempArray(a.Shape, a.Type, deps...)
}

// AddAllocation requests a temporary array under an explicit name, which
// must not clash with the computation's parameters or other temporaries.
func (r *Recorder) AddAllocation(name string, shape Shape, dt dtypes.DType, deps ...TempArray) (TempArray, error) {
	if err := validateName(name); err != nil {
		return TempArray{}, err
	}
	if _, taken := r.names[name]; taken {
		return TempArray{}, fmt.Errorf("%w: name %q is already in use", ErrInvalidArgument, name)
	}
	if !shape.Resolved() {
		return TempArray{}, fmt.Errorf("%w: temporary %q has unresolved shape %v", ErrInvalidArgument, name, shape)
	}
	if _, err := device.ElementSize(dt); err != nil {
		return TempArray{}, fmt.Errorf("%w: temporary %q: %v", ErrUnsupportedType, name, err)
	}
	req := &tempRequest{
		name:  r.comp.ns.Qualify(name),
		value: Array(append(Shape(nil), shape...), dt),
	}
	for _, d := range deps {
		if d.owner != r.b {
			return TempArray{}, fmt.Errorf("%w: dependency %q belongs to another plan", ErrInvalidArgument, d.name)
		}
		req.deps = append(req.deps, d.id)
	}
	t := TempArray{id: len(r.b.temps), name: name, value: req.value, owner: r.b}
	r.b.temps = append(r.b.temps, req)
	r.names[name] = argRef{kind: refTemp, temp: t.id, value: t.value, role: RoleInOut}
	Logger().Debug("fusion: temporary array", "name", req.name, "value", req.value.String())
	return t, nil
}

// KernelCall records a kernel launch. See Kernel for the meaning of args.
func (r *Recorder) KernelCall(tmpl *template.Template, args []any, geom device.Geometry,
	bindings map[string]any, opts ...KernelOption) error {
	k := Kernel{Template: tmpl, Args: args, Geometry: geom, Bindings: bindings}
	for _, opt := range opts {
		opt(&k)
	}
	return r.AddKernel(k)
}

// AddKernel records a kernel launch described by k.
func (r *Recorder) AddKernel(k Kernel) error {
	if k.Template == nil {
		return fmt.Errorf("%w: kernel without template", ErrInvalidArgument)
	}
	if err := k.Geometry.Validate(r.b.params); err != nil {
		return err
	}
	name := k.Name
	if name == "" {
		name = "kernel" + strconv.Itoa(r.kerns)
	}
	r.kerns++
	action := &kernelAction{
		name:     r.comp.ns.Qualify(name),
		tmpl:     k.Template,
		geometry: k.Geometry,
		bindings: k.Bindings,
	}
	seen := make(map[string]bool, len(k.Args))
	for i, arg := range k.Args {
		if _, ok := arg.(Constant); ok {
			return fmt.Errorf("%w: kernel %s argument %d: constants are only passed to nested computations",
				ErrInvalidArgument, action.name, i)
		}
		local, ref, err := r.resolve(arg)
		if err != nil {
			return fmt.Errorf("kernel %s argument %d: %w", action.name, i, err)
		}
		if seen[local] {
			return fmt.Errorf("%w: kernel %s: %q passed twice", ErrInvalidArgument, action.name, local)
		}
		seen[local] = true
		action.args = append(action.args, kernelArg{local: local, ref: ref})
	}
	r.b.kernels = append(r.b.kernels, action)
	Logger().Debug("fusion: kernel call", "kernel", action.name, "args", len(action.args))
	return nil
}

// resolve maps a parameter name, TempArray or Constant to a root reference.
func (r *Recorder) resolve(arg any) (string, argRef, error) {
	switch a := arg.(type) {
	case string:
		ref, ok := r.names[a]
		if !ok {
			return "", argRef{}, fmt.Errorf("%w: unknown name %q", ErrInvalidArgument, a)
		}
		return a, ref, nil
	case TempArray:
		if a.owner != r.b {
			return "", argRef{}, fmt.Errorf("%w: temporary %q belongs to another plan", ErrInvalidArgument, a.name)
		}
		return a.name, argRef{kind: refTemp, temp: a.id, value: a.value, role: RoleInOut}, nil
	case Constant:
		v, err := ValueOf(a.v)
		if err != nil {
			return "", argRef{}, err
		}
		if v.Kind() != KindScalar {
			return "", argRef{}, fmt.Errorf("%w: constant %v is not a scalar", ErrInvalidArgument, a.v)
		}
		return "", argRef{kind: refConst, cnst: a.v, value: v, role: RoleInput}, nil
	}
	return "", argRef{}, fmt.Errorf("%w: unsupported argument %T", ErrInvalidArgument, arg)
}

// ComputationCall inlines the actions of a nested computation. args follow
// the nested leaf signature and are parameter names of the recording
// computation, TempArray handles or Const values.
func (r *Recorder) ComputationCall(nested *Computation, args ...any) error {
	return r.AddComputation(nested, args, nil)
}

// AddComputation is like ComputationCall and forwards opts to the nested
// basis function.
func (r *Recorder) AddComputation(nested *Computation, args []any, opts Options) error {
	switch {
	case nested == nil:
		return fmt.Errorf("%w: nil computation", ErrInvalidArgument)
	case nested.parent != r.comp:
		return fmt.Errorf("%w: %s is not nested in this computation", ErrInvalidArgument, nested.ns)
	case nested.state == stateUninitialized:
		return fmt.Errorf("%w: nested computation %s has no argument names", ErrInvalidState, nested.ns)
	case nested.tree.Connected():
		return fmt.Errorf("%w: nested computation %s has transformations", ErrInvalidArgument, nested.ns)
	}

	sig := nested.tree.LeafSignature()
	if len(args) != len(sig) {
		return fmt.Errorf("%w: nested computation %s takes %d arguments (%d given)",
			ErrArgumentCount, nested.ns, len(sig), len(args))
	}
	refs := make([]argRef, len(sig))
	vals := make([]any, len(sig))
	for i, p := range sig {
		_, ref, err := r.resolve(args[i])
		if err != nil {
			return fmt.Errorf("nested %s argument %d (%s): %w", nested.ns, i, p.Name, err)
		}
		if ref.value.Kind() != p.Value.Kind() {
			return fmt.Errorf("%w: nested %s argument %d (%s) must be %s, got %s",
				ErrTypeMismatch, nested.ns, i, p.Name, p.Value.Kind(), ref.value.Kind())
		}
		refs[i] = ref
		vals[i] = ref.value
	}

	neg, err := nested.negotiate(nested.tree.Clone(), vals, opts)
	if err != nil {
		return fmt.Errorf("nested %s: %w", nested.ns, err)
	}

	child := &Recorder{
		b:     r.b,
		comp:  nested,
		basis: neg.basis,
		names: make(map[string]argRef, len(sig)),
	}
	for i, p := range sig {
		ref := refs[i]
		ref.value = neg.argValues[p.Name]
		ref.role = p.Role
		child.names[p.Name] = ref
	}
	Logger().Debug("fusion: nested computation call", "namespace", nested.ns.String(), "basis", neg.basis.String())
	if err := nested.algo.Plan(neg.basis, r.b.params, child); err != nil {
		return fmt.Errorf("nested %s: plan: %w", nested.ns, err)
	}
	return nil
}
