// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package fusion

import (
	"fmt"
)

// negotiation is the outcome of basis resolution.
type negotiation struct {
	basis     Basis
	argValues map[string]Value
}

// PrepareFor resolves the basis from example arguments, builds the plan,
// and allocates its temporary arrays. Arguments follow the leaf signature;
// nil stands for an unknown value of the expected kind.
func (c *Computation) PrepareFor(args ...any) error {
	return c.PrepareWithOptions(nil, args...)
}

// PrepareWithOptions is like PrepareFor and forwards opts to the
// algorithm's basis function.
func (c *Computation) PrepareWithOptions(opts Options, args ...any) error {
	switch {
	case c.state == stateUninitialized:
		return fmt.Errorf("%w: argument names are not set", ErrInvalidState)
	case c.state == statePrepared:
		return fmt.Errorf("%w: computation is already prepared", ErrInvalidState)
	case !c.ns.Root():
		return fmt.Errorf("%w: nested computation %s is prepared by its parent", ErrInvalidState, c.ns)
	}

	// Work on a copy so a failed preparation leaves the tree untouched.
	tree := c.tree.Clone()
	neg, err := c.negotiate(tree, args, opts)
	if err != nil {
		return err
	}
	Logger().Debug("fusion: basis resolved", "basis", neg.basis.String())

	plan, err := c.buildPlan(tree, neg)
	if err != nil {
		return err
	}

	c.tree = tree
	c.basisOpts = opts
	c.basis = neg.basis
	c.argValues = neg.argValues
	c.signature = c.tree.LeafSignature()
	c.plan = plan
	c.state = statePrepared
	Logger().Debug("fusion: computation prepared",
		"signature", c.SignatureString(), "kernels", len(plan.kernels), "temporaries", len(plan.temps))
	return nil
}

// negotiate resolves the basis in two passes. The first pass derives base
// values from the leaves; the algorithm's authoritative scalar types then
// replace the leaf scalars and the second pass yields the final basis.
// Array values are never pushed back to the leaves.
func (c *Computation) negotiate(tree *Tree, args []any, opts Options) (negotiation, error) {
	sig := tree.LeafSignature()
	if len(args) != len(sig) {
		return negotiation{}, fmt.Errorf("%w: computation takes %d arguments (%d given)",
			ErrArgumentCount, len(sig), len(args))
	}

	leafValues := make(map[string]Value, len(sig))
	for i, p := range sig {
		kind := p.Value.Kind()
		if args[i] == nil {
			leafValues[p.Name] = unresolved(kind)
			continue
		}
		v, err := ValueOf(args[i])
		if err != nil {
			return negotiation{}, fmt.Errorf("argument %d (%s): %w", i, p.Name, err)
		}
		if v.Kind() != kind {
			return negotiation{}, fmt.Errorf("%w: argument %d (%s) must be %s, got %s",
				ErrTypeMismatch, i, p.Name, kind, v.Kind())
		}
		leafValues[p.Name] = v
	}

	neg, err := c.resolvePass(tree, leafValues, opts)
	if err != nil {
		return negotiation{}, err
	}

	for _, p := range tree.BaseParameters() {
		if p.Value.Kind() == KindScalar {
			leafValues[p.Name] = neg.argValues[p.Name]
		}
	}
	neg, err = c.resolvePass(tree, leafValues, opts)
	if err != nil {
		return negotiation{}, err
	}

	// Base parameters without transformations take the authoritative values
	// and must agree with what the caller gave for them.
	for _, id := range tree.base {
		n := &tree.nodes[id]
		if !n.leaf() {
			continue
		}
		auth := neg.argValues[n.name]
		if !n.value.Equal(auth) {
			return negotiation{}, fmt.Errorf("%w: %s is %v, algorithm requires %v",
				ErrTypeMismatch, n.name, n.value, auth)
		}
		n.value = auth
	}
	return neg, nil
}

// resolvePass propagates leaf values, then asks the algorithm for the
// basis and the values it implies.
func (c *Computation) resolvePass(tree *Tree, leafValues map[string]Value, opts Options) (negotiation, error) {
	if err := tree.PropagateToBase(leafValues); err != nil {
		return negotiation{}, err
	}
	basis, err := c.algo.Basis(tree.BaseValues(), opts)
	if err != nil {
		return negotiation{}, fmt.Errorf("fusion: basis: %w", err)
	}
	argValues, err := c.algo.ArgValues(basis)
	if err != nil {
		return negotiation{}, fmt.Errorf("fusion: argument values: %w", err)
	}
	for _, p := range tree.BaseParameters() {
		v, ok := argValues[p.Name]
		if !ok || v == nil {
			return negotiation{}, fmt.Errorf("%w: algorithm gave no value for %q", ErrInvalidArgument, p.Name)
		}
		if v.Kind() != p.Value.Kind() {
			return negotiation{}, fmt.Errorf("%w: algorithm gave %s value for %s %q",
				ErrTypeMismatch, v.Kind(), p.Value.Kind(), p.Name)
		}
	}
	return negotiation{basis: basis, argValues: argValues}, nil
}
