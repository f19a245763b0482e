// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package fusion

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"text/template"

	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gogpu/fusion/device"
)

// KernelTemplate parses a kernel template. Missing keys in render
// bindings are errors.
func KernelTemplate(name, src string) (*template.Template, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%w: kernel template %q: %v", ErrInvalidArgument, name, err)
	}
	return t, nil
}

// MustKernelTemplate is like KernelTemplate but panics on error.
func MustKernelTemplate(name, src string) *template.Template {
	t, err := KernelTemplate(name, src)
	if err != nil {
		panic(err)
	}
	return t
}

// wgslType returns the WGSL element type for dt.
func wgslType(dt dtypes.DType) (string, error) {
	switch dt {
	case dtypes.Float32:
		return "f32", nil
	case dtypes.Int32:
		return "i32", nil
	case dtypes.Uint32:
		return "u32", nil
	case dtypes.InvalidDType:
		return "", fmt.Errorf("%w: element type is unresolved", ErrUnsupportedType)
	}
	return "", fmt.Errorf("%w: %s has no WGSL storage type", ErrUnsupportedType, dtypeName(dt))
}

// wgslLiteral renders a scalar constant of type dt.
func wgslLiteral(v any, dt dtypes.DType) (string, error) {
	c, err := castScalar(v, dt)
	if err != nil {
		return "", err
	}
	switch x := c.(type) {
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return "", fmt.Errorf("%w: %v has no WGSL literal", ErrInvalidArgument, x)
		}
		return "f32(" + strconv.FormatFloat(float64(x), 'g', -1, 32) + ")", nil
	case int32:
		return "i32(" + strconv.FormatInt(int64(x), 10) + ")", nil
	case uint32:
		return "u32(" + strconv.FormatUint(uint64(x), 10) + "u)", nil
	}
	_, err = wgslType(dt)
	return "", err
}

// storageBinding is a storage buffer of the kernel, bound at index+1.
type storageBinding struct {
	pos int
	dt  dtypes.DType
}

type scalarField struct {
	pos  int
	name string
	dt   dtypes.DType
}

// kernelRenderer generates the WGSL module of one kernel: the uniform and
// storage declarations, the fused load and store functions of every
// argument, and the kernel body rendered from its template.
type kernelRenderer struct {
	k       *kernelAction
	tree    *Tree
	leafPos map[string]int
	plan    *Plan

	funcs     strings.Builder
	loads     map[nodeID]bool
	stores    map[nodeID]bool
	storage   []storageBinding
	storageOf map[int]int
	scalars   []scalarField
	scalarOf  map[int]int
	locals    map[string]kernelArg
}

func newKernelRenderer(k *kernelAction, tree *Tree, leafPos map[string]int, p *Plan) *kernelRenderer {
	return &kernelRenderer{
		k:         k,
		tree:      tree,
		leafPos:   leafPos,
		plan:      p,
		loads:     make(map[nodeID]bool),
		stores:    make(map[nodeID]bool),
		storageOf: make(map[int]int),
		scalarOf:  make(map[int]int),
		locals:    make(map[string]kernelArg, len(k.args)),
	}
}

// render returns the kernel source and its launch argument positions:
// scalar fields in declaration order, then storage bindings.
func (kr *kernelRenderer) render() (device.Source, []int, error) {
	for _, a := range kr.k.args {
		kr.locals[a.local] = a
		if err := kr.bindArg(a); err != nil {
			return device.Source{}, nil, fmt.Errorf("argument %q: %w", a.local, err)
		}
	}

	var body strings.Builder
	ctx := kernelContext{kr: kr, Kw: kr.k.bindings}
	if err := kr.k.tmpl.Execute(&body, ctx); err != nil {
		return device.Source{}, nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "// %s\n\nstruct Params {\n", kr.k.name)
	if len(kr.scalars) == 0 {
		sb.WriteString("    unused: u32,\n")
	}
	src := device.Source{Label: kr.k.name, Arrays: len(kr.storage)}
	args := make([]int, 0, len(kr.scalars)+len(kr.storage))
	for _, s := range kr.scalars {
		ty, err := wgslType(s.dt)
		if err != nil {
			return device.Source{}, nil, fmt.Errorf("scalar %q: %w", s.name, err)
		}
		fmt.Fprintf(&sb, "    s_%s: %s,\n", s.name, ty)
		src.Scalars = append(src.Scalars, s.dt)
		args = append(args, s.pos)
	}
	sb.WriteString("}\n\n@group(0) @binding(0) var<uniform> params: Params;\n")
	for i, b := range kr.storage {
		ty, err := wgslType(b.dt)
		if err != nil {
			return device.Source{}, nil, err
		}
		fmt.Fprintf(&sb, "@group(0) @binding(%d) var<storage, read_write> buf_%d: array<%s>;\n", i+1, i+1, ty)
		args = append(args, b.pos)
	}
	sb.WriteString("\n")
	sb.WriteString(kr.funcs.String())
	sb.WriteString(body.String())
	src.Code = sb.String()
	return src, args, nil
}

// bindArg emits the kernel-local load and store functions of an argument.
func (kr *kernelRenderer) bindArg(a kernelArg) error {
	switch a.ref.kind {
	case refConst:
		return nil
	case refTemp:
		t := kr.plan.temps[a.ref.temp]
		if a.ref.value.DType() != t.value.Type {
			return fmt.Errorf("%w: seen as %s, allocated as %s",
				ErrTypeMismatch, dtypeName(a.ref.value.DType()), dtypeName(t.value.Type))
		}
		buf, err := kr.bind(len(kr.plan.leaves)+t.buffer, t.value.Type)
		if err != nil {
			return err
		}
		ty, err := wgslType(t.value.Type)
		if err != nil {
			return err
		}
		if a.ref.role.reads() {
			fmt.Fprintf(&kr.funcs, "fn load_%s(idx: u32) -> %s {\n    return %s[idx];\n}\n\n", a.local, ty, buf)
		}
		if a.ref.role.writes() {
			fmt.Fprintf(&kr.funcs, "fn store_%s(idx: u32, val: %s) {\n    %s[idx] = val;\n}\n\n", a.local, ty, buf)
		}
		return nil
	}

	id, ok := kr.tree.byName[a.ref.node]
	if !ok {
		return fmt.Errorf("%w: no parameter %q", ErrInvalidArgument, a.ref.node)
	}
	n := &kr.tree.nodes[id]
	if a.ref.value.DType() != n.value.DType() {
		return fmt.Errorf("%w: seen as %s, %s is %s",
			ErrTypeMismatch, dtypeName(a.ref.value.DType()), n.name, dtypeName(n.value.DType()))
	}
	if n.kind == KindScalar {
		_, err := kr.scalar(id)
		return err
	}
	ty, err := wgslType(n.value.DType())
	if err != nil {
		return err
	}
	if a.ref.role.reads() {
		if err := kr.treeLoad(id); err != nil {
			return err
		}
		fmt.Fprintf(&kr.funcs, "fn load_%s(idx: u32) -> %s {\n    return tr_load_%s(idx);\n}\n\n", a.local, ty, n.name)
	}
	if a.ref.role.writes() {
		if err := kr.treeStore(id); err != nil {
			return err
		}
		fmt.Fprintf(&kr.funcs, "fn store_%s(idx: u32, val: %s) {\n    tr_store_%s(idx, val);\n}\n\n", a.local, ty, n.name)
	}
	return nil
}

// bind returns the storage variable of the global buffer at pos.
func (kr *kernelRenderer) bind(pos int, dt dtypes.DType) (string, error) {
	if _, err := wgslType(dt); err != nil {
		return "", err
	}
	i, ok := kr.storageOf[pos]
	if !ok {
		i = len(kr.storage)
		kr.storage = append(kr.storage, storageBinding{pos: pos, dt: dt})
		kr.storageOf[pos] = i
	}
	return "buf_" + strconv.Itoa(i+1), nil
}

// scalar returns the uniform field expression of a leaf scalar.
func (kr *kernelRenderer) scalar(id nodeID) (string, error) {
	n := &kr.tree.nodes[id]
	pos, ok := kr.leafPos[n.name]
	if !ok {
		return "", fmt.Errorf("%w: scalar %q is not a leaf", ErrInvalidArgument, n.name)
	}
	if _, err := wgslType(n.value.DType()); err != nil {
		return "", fmt.Errorf("scalar %q: %w", n.name, err)
	}
	if _, seen := kr.scalarOf[pos]; !seen {
		kr.scalarOf[pos] = len(kr.scalars)
		kr.scalars = append(kr.scalars, scalarField{pos: pos, name: n.name, dt: n.value.DType()})
	}
	return "params.s_" + n.name, nil
}

// treeLoad emits tr_load_<name> for a node and everything it reads from.
func (kr *kernelRenderer) treeLoad(id nodeID) error {
	if kr.loads[id] {
		return nil
	}
	kr.loads[id] = true
	n := &kr.tree.nodes[id]
	ty, err := wgslType(n.value.DType())
	if err != nil {
		return fmt.Errorf("%s: %w", n.name, err)
	}
	if n.leaf() {
		pos, ok := kr.leafPos[n.name]
		if !ok {
			return fmt.Errorf("%w: %q is not a leaf", ErrInvalidArgument, n.name)
		}
		buf, err := kr.bind(pos, n.value.DType())
		if err != nil {
			return err
		}
		fmt.Fprintf(&kr.funcs, "fn tr_load_%s(idx: u32) -> %s {\n    return %s[idx];\n}\n\n", n.name, ty, buf)
		return nil
	}
	e := &kr.tree.edges[n.edge]
	if e.output {
		return fmt.Errorf("%w: cannot read %q through output transformation %s", ErrInvalidArgument, n.name, e.tr.Name())
	}

	data, err := kr.snippetData(e, []nodeID{id}, e.arrays)
	if err != nil {
		return err
	}
	for k, c := range e.arrays {
		if err := kr.treeLoad(c); err != nil {
			return err
		}
		data["i"+strconv.Itoa(k+1)] = "tr_load_" + kr.tree.nodes[c].name + "(idx)"
	}
	data["o1"] = "o1"
	if err := kr.snippetScalars(e, data); err != nil {
		return err
	}
	snippet, err := kr.execSnippet(e, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(&kr.funcs, "fn tr_load_%s(idx: u32) -> %s {\n    var o1: %s;\n%s    return o1;\n}\n\n",
		n.name, ty, ty, snippet)
	return nil
}

// treeStore emits tr_store_<name> for a node and everything it writes to.
func (kr *kernelRenderer) treeStore(id nodeID) error {
	if kr.stores[id] {
		return nil
	}
	kr.stores[id] = true
	n := &kr.tree.nodes[id]
	ty, err := wgslType(n.value.DType())
	if err != nil {
		return fmt.Errorf("%s: %w", n.name, err)
	}
	if n.leaf() {
		pos, ok := kr.leafPos[n.name]
		if !ok {
			return fmt.Errorf("%w: %q is not a leaf", ErrInvalidArgument, n.name)
		}
		buf, err := kr.bind(pos, n.value.DType())
		if err != nil {
			return err
		}
		fmt.Fprintf(&kr.funcs, "fn tr_store_%s(idx: u32, val: %s) {\n    %s[idx] = val;\n}\n\n", n.name, ty, buf)
		return nil
	}
	e := &kr.tree.edges[n.edge]
	if !e.output {
		return fmt.Errorf("%w: cannot write %q through input transformation %s", ErrInvalidArgument, n.name, e.tr.Name())
	}

	data, err := kr.snippetData(e, e.arrays, []nodeID{id})
	if err != nil {
		return err
	}
	data["i1"] = "val"
	var decls, stores strings.Builder
	for k, c := range e.arrays {
		if err := kr.treeStore(c); err != nil {
			return err
		}
		o := "o" + strconv.Itoa(k+1)
		data[o] = o
		cty, err := wgslType(kr.tree.nodes[c].value.DType())
		if err != nil {
			return err
		}
		fmt.Fprintf(&decls, "    var %s: %s;\n", o, cty)
		fmt.Fprintf(&stores, "    tr_store_%s(idx, %s);\n", kr.tree.nodes[c].name, o)
	}
	if err := kr.snippetScalars(e, data); err != nil {
		return err
	}
	snippet, err := kr.execSnippet(e, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(&kr.funcs, "fn tr_store_%s(idx: u32, val: %s) {\n%s%s%s}\n\n",
		n.name, ty, decls.String(), snippet, stores.String())
	return nil
}

// snippetData starts the template data of an edge with the render bindings
// and the WGSL types of its outputs and inputs.
func (kr *kernelRenderer) snippetData(e *edge, outputs, inputs []nodeID) (map[string]any, error) {
	data := make(map[string]any)
	if e.tr.renderBindings != nil {
		vals := func(ids []nodeID) []Value {
			vs := make([]Value, len(ids))
			for i, id := range ids {
				vs[i] = kr.tree.nodes[id].value
			}
			return vs
		}
		for k, v := range e.tr.renderBindings(vals(outputs), vals(inputs), vals(e.scalars)) {
			data[k] = v
		}
	}
	for prefix, ids := range map[string][]nodeID{"o": outputs, "i": inputs} {
		for k, id := range ids {
			ty, err := wgslType(kr.tree.nodes[id].value.DType())
			if err != nil {
				return nil, fmt.Errorf("%s: %w", kr.tree.nodes[id].name, err)
			}
			data[prefix+strconv.Itoa(k+1)+"_type"] = ty
		}
	}
	return data, nil
}

func (kr *kernelRenderer) snippetScalars(e *edge, data map[string]any) error {
	for k, s := range e.scalars {
		expr, err := kr.scalar(s)
		if err != nil {
			return err
		}
		ty, err := wgslType(kr.tree.nodes[s].value.DType())
		if err != nil {
			return err
		}
		data["s"+strconv.Itoa(k+1)] = expr
		data["s"+strconv.Itoa(k+1)+"_type"] = ty
	}
	return nil
}

func (kr *kernelRenderer) execSnippet(e *edge, data map[string]any) (string, error) {
	var sb strings.Builder
	if err := e.tr.snippet.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("%w: transformation %s: %v", ErrInvalidArgument, e.tr.Name(), err)
	}
	var out strings.Builder
	for line := range strings.Lines(sb.String()) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out.WriteString("    " + line + "\n")
	}
	return out.String(), nil
}

// kernelContext is the data of a kernel template.
type kernelContext struct {
	kr *kernelRenderer

	// Kw holds the render bindings of the kernel call.
	Kw map[string]any
}

func (c kernelContext) global() [3]uint32 {
	g := c.kr.k.geometry.Global
	for i := range g {
		if g[i] == 0 {
			g[i] = 1
		}
	}
	return g
}

// KernelDefinition returns the entry point signature.
func (c kernelContext) KernelDefinition() string {
	wg := c.kr.k.geometry.WorkgroupSize()
	return fmt.Sprintf("@compute @workgroup_size(%d, %d, %d)\nfn main(@builtin(global_invocation_id) gid: vec3<u32>)",
		wg[0], wg[1], wg[2])
}

// SkipThreads returns a statement ending invocations outside the global size.
func (c kernelContext) SkipThreads() string {
	g := c.global()
	return fmt.Sprintf("if (gid.x >= %du || gid.y >= %du || gid.z >= %du) {\n        return;\n    }", g[0], g[1], g[2])
}

// GlobalID returns the invocation index along dim.
func (c kernelContext) GlobalID(dim int) (string, error) {
	switch dim {
	case 0:
		return "gid.x", nil
	case 1:
		return "gid.y", nil
	case 2:
		return "gid.z", nil
	}
	return "", fmt.Errorf("%w: dimension %d", ErrInvalidArgument, dim)
}

// GlobalSize returns the global size along dim.
func (c kernelContext) GlobalSize(dim int) (uint32, error) {
	if dim < 0 || dim > 2 {
		return 0, fmt.Errorf("%w: dimension %d", ErrInvalidArgument, dim)
	}
	return c.global()[dim], nil
}

// FlatID returns the row-major linear invocation index.
func (c kernelContext) FlatID() string {
	g := c.global()
	if g[1] == 1 && g[2] == 1 {
		return "gid.x"
	}
	return fmt.Sprintf("(gid.x + gid.y * %du + gid.z * %du)", g[0], g[0]*g[1])
}

func (c kernelContext) arg(name string) (kernelArg, error) {
	a, ok := c.kr.locals[name]
	if !ok {
		return kernelArg{}, fmt.Errorf("%w: %q is not an argument of %s", ErrInvalidArgument, name, c.kr.k.name)
	}
	return a, nil
}

func (c kernelContext) array(name string) (kernelArg, error) {
	a, err := c.arg(name)
	if err != nil {
		return a, err
	}
	if a.ref.value.Kind() != KindArray {
		return a, fmt.Errorf("%w: %q is a scalar", ErrInvalidArgument, name)
	}
	return a, nil
}

// Load returns the name of the load function of an array argument.
func (c kernelContext) Load(name string) (string, error) {
	a, err := c.array(name)
	if err != nil {
		return "", err
	}
	if !a.ref.role.reads() {
		return "", fmt.Errorf("%w: cannot load from output %q", ErrInvalidArgument, name)
	}
	return "load_" + name, nil
}

// Store returns the name of the store function of an array argument.
func (c kernelContext) Store(name string) (string, error) {
	a, err := c.array(name)
	if err != nil {
		return "", err
	}
	if !a.ref.role.writes() {
		return "", fmt.Errorf("%w: cannot store to input %q", ErrInvalidArgument, name)
	}
	return "store_" + name, nil
}

// Scalar returns the expression of a scalar argument.
func (c kernelContext) Scalar(name string) (string, error) {
	a, err := c.arg(name)
	if err != nil {
		return "", err
	}
	if a.ref.value.Kind() != KindScalar {
		return "", fmt.Errorf("%w: %q is an array", ErrInvalidArgument, name)
	}
	if a.ref.kind == refConst {
		return wgslLiteral(a.ref.cnst, a.ref.value.DType())
	}
	return c.kr.scalar(c.kr.tree.byName[a.ref.node])
}

// Type returns the WGSL element type of an argument.
func (c kernelContext) Type(name string) (string, error) {
	a, err := c.arg(name)
	if err != nil {
		return "", err
	}
	return wgslType(a.ref.value.DType())
}

// Size returns the element count of an array argument.
func (c kernelContext) Size(name string) (int, error) {
	a, err := c.array(name)
	if err != nil {
		return 0, err
	}
	return a.ref.value.(ArrayValue).Size(), nil
}
