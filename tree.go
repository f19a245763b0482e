// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package fusion

import (
	"fmt"
	"regexp"
	"slices"
)

// nodeID indexes Tree.nodes.
type nodeID int

// node is a named parameter in a transformation tree.
type node struct {
	name  string
	kind  Kind
	role  Role
	base  bool
	value Value
	edge  int // index into Tree.edges, -1 while the node is a leaf
}

func (n *node) leaf() bool { return n.edge < 0 }

// edge attaches a transformation to its target node. For input-side edges
// the target is the transformation output and arrays are its inputs; for
// output-side edges the target is the input and arrays are its outputs.
type edge struct {
	tr      *Transformation
	target  nodeID
	output  bool
	arrays  []nodeID
	scalars []nodeID
}

// Tree connects a computation's base parameters to the leaf parameters
// visible to callers through transformations.
//
// Nodes live in an arena indexed by integer handle; names are kept for
// lookup and diagnostics. Tree is not safe for concurrent mutation.
type Tree struct {
	nodes  []node
	byName map[string]nodeID
	edges  []edge
	base   []nodeID
}

var identifierRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

func validateName(name string) error {
	if !identifierRe.MatchString(name) {
		return fmt.Errorf("%w: %q is not a valid parameter name", ErrInvalidArgument, name)
	}
	return nil
}

// NewTree creates a tree whose base parameters are the given names.
// Every base parameter starts as its own leaf.
func NewTree(names ArgNames) (*Tree, error) {
	t := &Tree{byName: make(map[string]nodeID)}
	groups := []struct {
		names []string
		kind  Kind
		role  Role
	}{
		{names.Outputs, KindArray, RoleOutput},
		{names.InOuts, KindArray, RoleInOut},
		{names.Inputs, KindArray, RoleInput},
		{names.Scalars, KindScalar, RoleInput},
	}
	for _, g := range groups {
		for _, name := range g.names {
			if err := validateName(name); err != nil {
				return nil, err
			}
			if _, dup := t.byName[name]; dup {
				return nil, fmt.Errorf("%w: duplicate parameter %q", ErrInvalidArgument, name)
			}
			id := t.addNode(name, g.kind, g.role)
			t.nodes[id].base = true
			t.base = append(t.base, id)
		}
	}
	return t, nil
}

func (t *Tree) addNode(name string, k Kind, r Role) nodeID {
	id := nodeID(len(t.nodes))
	t.nodes = append(t.nodes, node{name: name, kind: k, role: r, value: unresolved(k), edge: -1})
	t.byName[name] = id
	return id
}

func (t *Tree) lookup(name string) (*node, bool) {
	id, ok := t.byName[name]
	if !ok {
		return nil, false
	}
	return &t.nodes[id], true
}

// Has reports whether a node with the given name exists.
func (t *Tree) Has(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// Connected reports whether any transformation has been attached.
func (t *Tree) Connected() bool { return len(t.edges) > 0 }

// Connect attaches tr to the leaf array target. arrays name the
// transformation's inputs when target is an input, or its outputs when
// target is an output; scalars name its scalar parameters.
//
// Existing input arrays and existing scalars may be reused, which aliases
// them. Output-side names must be new.
func (t *Tree) Connect(tr *Transformation, target string, arrays, scalars []string) error {
	tid, ok := t.byName[target]
	if !ok {
		return fmt.Errorf("%w: no parameter %q", ErrInvalidArgument, target)
	}
	tn := &t.nodes[tid]
	switch {
	case tn.kind == KindScalar:
		return fmt.Errorf("%w: cannot connect to scalar %q", ErrInvalidArgument, target)
	case !tn.leaf():
		return fmt.Errorf("%w: %q is not a leaf", ErrInvalidArgument, target)
	case tn.role == RoleInOut:
		return fmt.Errorf("%w: cannot connect to in-out parameter %q", ErrInvalidArgument, target)
	}
	output := tn.role == RoleOutput

	wantArrays := tr.inputs
	if output {
		if tr.inputs != 1 {
			return fmt.Errorf("%w: %s must take one input to attach to output %q", ErrInvalidArgument, tr, target)
		}
		wantArrays = tr.outputs
	} else if tr.outputs != 1 {
		return fmt.Errorf("%w: %s must produce one output to attach to input %q", ErrInvalidArgument, tr, target)
	}
	if len(arrays) != wantArrays {
		return fmt.Errorf("%w: %s expects %d arrays, got %d", ErrInvalidArgument, tr, wantArrays, len(arrays))
	}
	if len(scalars) != tr.scalars {
		return fmt.Errorf("%w: %s expects %d scalars, got %d", ErrInvalidArgument, tr, tr.scalars, len(scalars))
	}

	seen := make(map[string]bool, len(arrays)+len(scalars))
	for _, name := range append(slices.Clone(arrays), scalars...) {
		if err := validateName(name); err != nil {
			return err
		}
		if seen[name] {
			return fmt.Errorf("%w: %q given twice", ErrInvalidArgument, name)
		}
		seen[name] = true
	}

	for _, name := range arrays {
		n, exists := t.lookup(name)
		if !exists {
			continue
		}
		switch {
		case n.kind == KindScalar:
			return fmt.Errorf("%w: scalar %q used as an array", ErrInvalidArgument, name)
		case output:
			return fmt.Errorf("%w: output %q already exists", ErrInvalidArgument, name)
		case n.role != RoleInput:
			return fmt.Errorf("%w: cannot read from %s %q", ErrInvalidArgument, n.role, name)
		case t.reaches(t.byName[name], tid):
			return fmt.Errorf("%w: connecting %q to %q creates a cycle", ErrInvalidArgument, name, target)
		}
	}
	for _, name := range scalars {
		if n, exists := t.lookup(name); exists && n.kind != KindScalar {
			return fmt.Errorf("%w: array %q used as a scalar", ErrInvalidArgument, name)
		}
	}

	role := RoleInput
	if output {
		role = RoleOutput
	}
	e := edge{tr: tr, target: tid, output: output}
	for _, name := range arrays {
		id, exists := t.byName[name]
		if !exists {
			id = t.addNode(name, KindArray, role)
		}
		e.arrays = append(e.arrays, id)
	}
	for _, name := range scalars {
		id, exists := t.byName[name]
		if !exists {
			id = t.addNode(name, KindScalar, RoleInput)
		}
		e.scalars = append(e.scalars, id)
	}
	t.nodes[tid].edge = len(t.edges)
	t.edges = append(t.edges, e)
	return nil
}

// reaches reports whether to is from or one of its descendants.
func (t *Tree) reaches(from, to nodeID) bool {
	if from == to {
		return true
	}
	n := &t.nodes[from]
	if n.leaf() {
		return false
	}
	for _, c := range t.edges[n.edge].arrays {
		if t.reaches(c, to) {
			return true
		}
	}
	return false
}

// leaves returns the leaf arrays depth-first in base order, followed by the
// leaf scalars: base scalars first, then scalars met during the walk.
func (t *Tree) leaves() []nodeID {
	var arrays, met []nodeID
	visited := make(map[nodeID]bool)
	var walk func(id nodeID)
	walk = func(id nodeID) {
		if visited[id] {
			return
		}
		visited[id] = true
		n := &t.nodes[id]
		if n.leaf() {
			if n.kind == KindArray {
				arrays = append(arrays, id)
			} else {
				met = append(met, id)
			}
			return
		}
		e := &t.edges[n.edge]
		for _, c := range e.arrays {
			walk(c)
		}
		for _, s := range e.scalars {
			walk(s)
		}
	}
	for _, id := range t.base {
		if t.nodes[id].kind == KindArray {
			walk(id)
		}
	}

	ids := arrays
	for _, id := range t.base {
		if t.nodes[id].kind == KindScalar {
			ids = append(ids, id)
		}
	}
	for _, id := range met {
		if !t.nodes[id].base {
			ids = append(ids, id)
		}
	}
	return ids
}

// LeafSignature returns the parameters callers pass positionally: leaf
// arrays depth-first from the base arrays in declared order, then base
// scalars, then scalars introduced by transformations.
func (t *Tree) LeafSignature() []Parameter {
	ids := t.leaves()
	params := make([]Parameter, len(ids))
	for i, id := range ids {
		params[i] = t.parameter(id)
	}
	return params
}

func (t *Tree) parameter(id nodeID) Parameter {
	n := &t.nodes[id]
	return Parameter{Name: n.name, Annotation: Annotation{Value: n.value, Role: n.role}}
}

// PropagateToBase assigns leafValues to the leaves and derives the values
// of every internal node through the attached transformations. A nil value
// stands for an unresolved placeholder.
func (t *Tree) PropagateToBase(leafValues map[string]Value) error {
	for _, id := range t.leaves() {
		n := &t.nodes[id]
		v, ok := leafValues[n.name]
		if !ok {
			return fmt.Errorf("%w: no value for %q", ErrTypeMismatch, n.name)
		}
		if v == nil {
			v = unresolved(n.kind)
		}
		if v.Kind() != n.kind {
			return fmt.Errorf("%w: %q is %s, got %s", ErrTypeMismatch, n.name, n.kind, v.Kind())
		}
		n.value = v
	}
	done := make(map[nodeID]bool)
	for _, id := range t.base {
		if _, err := t.derive(id, done); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) derive(id nodeID, done map[nodeID]bool) (Value, error) {
	n := &t.nodes[id]
	if n.leaf() || done[id] {
		return n.value, nil
	}
	e := &t.edges[n.edge]
	arrays := make([]Value, len(e.arrays))
	for i, c := range e.arrays {
		v, err := t.derive(c, done)
		if err != nil {
			return nil, err
		}
		arrays[i] = v
	}
	scalars := make([]Value, len(e.scalars))
	for i, s := range e.scalars {
		scalars[i] = t.nodes[s].value
	}
	var v Value
	if e.output {
		v = e.tr.deriveInput(arrays, scalars)
	} else {
		v = e.tr.deriveOutput(arrays, scalars)
	}
	if v == nil || v.Kind() != n.kind {
		return nil, fmt.Errorf("%w: %s derived %v for %s %q", ErrTypeMismatch, e.tr, v, n.kind, n.name)
	}
	n.value = v
	done[id] = true
	return v, nil
}

// BaseParameters returns the base parameters with their current values in
// declared order: outputs, in-outs, inputs, scalars.
func (t *Tree) BaseParameters() []Parameter {
	params := make([]Parameter, len(t.base))
	for i, id := range t.base {
		params[i] = t.parameter(id)
	}
	return params
}

// BaseValues returns the current values of the base parameters by name.
func (t *Tree) BaseValues() map[string]Value {
	vals := make(map[string]Value, len(t.base))
	for _, id := range t.base {
		vals[t.nodes[id].name] = t.nodes[id].value
	}
	return vals
}

// Value returns the current value of the named node.
func (t *Tree) Value(name string) (Value, bool) {
	n, ok := t.lookup(name)
	if !ok {
		return nil, false
	}
	return n.value, true
}

func (t *Tree) setValue(name string, v Value) {
	if n, ok := t.lookup(name); ok {
		n.value = v
	}
}

// Clone returns an independent deep copy of the tree. Transformations are
// immutable and shared.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		nodes:  make([]node, len(t.nodes)),
		byName: make(map[string]nodeID, len(t.byName)),
		edges:  make([]edge, len(t.edges)),
		base:   slices.Clone(t.base),
	}
	copy(c.nodes, t.nodes)
	for i := range c.nodes {
		if a, ok := c.nodes[i].value.(ArrayValue); ok {
			a.Shape = slices.Clone(a.Shape)
			c.nodes[i].value = a
		}
	}
	for k, v := range t.byName {
		c.byName[k] = v
	}
	for i, e := range t.edges {
		e.arrays = slices.Clone(e.arrays)
		e.scalars = slices.Clone(e.scalars)
		c.edges[i] = e
	}
	return c
}
