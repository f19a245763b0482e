// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package fusion

import (
	"fmt"

	"github.com/gogpu/fusion/device"
)

// Call launches the prepared plan. Arguments follow the leaf signature:
// device.Buffer values for arrays and Go numbers for scalars, which are
// cast to the scalar's element type.
//
// Call validates every argument before the first launch. Without WithDebug,
// arrays whose shape differs from the prepared one are not detected.
func (c *Computation) Call(args ...any) error {
	if c.state != statePrepared || c.plan == nil {
		return fmt.Errorf("%w: computation is not prepared", ErrInvalidState)
	}
	if c.opts.debug {
		if err := c.checkBasis(args); err != nil {
			return err
		}
	}
	if len(args) != len(c.signature) {
		return fmt.Errorf("%w: computation takes %d arguments (%d given)",
			ErrArgumentCount, len(c.signature), len(args))
	}

	global := make([]any, len(c.signature)+len(c.plan.buffers))
	for i, p := range c.signature {
		switch v := p.Value.(type) {
		case ScalarValue:
			s, err := castScalar(args[i], v.Type)
			if err != nil {
				return fmt.Errorf("argument %d (%s): %w", i, p.Name, err)
			}
			global[i] = s
		case ArrayValue:
			buf, ok := args[i].(device.Buffer)
			if !ok || buf == nil {
				return fmt.Errorf("%w: argument %d (%s) must be a device buffer, got %T",
					ErrTypeMismatch, i, p.Name, args[i])
			}
			if buf.DType() != v.Type {
				return fmt.Errorf("%w: argument %d (%s) has element type %s, want %s",
					ErrTypeMismatch, i, p.Name, dtypeName(buf.DType()), dtypeName(v.Type))
			}
			global[i] = buf
		}
	}
	for i, b := range c.plan.buffers {
		global[len(c.signature)+i] = b.buf
	}

	for _, k := range c.plan.kernels {
		kargs := make([]any, len(k.args))
		for j, pos := range k.args {
			kargs[j] = global[pos]
		}
		if err := c.dev.Launch(k.program, k.geometry, kargs); err != nil {
			return fmt.Errorf("fusion: launch %s: %w", k.name, err)
		}
	}
	return nil
}

// checkBasis re-derives the basis from call arguments and compares it with
// the prepared one.
func (c *Computation) checkBasis(args []any) error {
	neg, err := c.negotiate(c.tree.Clone(), args, c.basisOpts)
	if err != nil {
		return err
	}
	if !neg.basis.Equal(c.basis) {
		return fmt.Errorf("%w: prepared for %v, called with %v", ErrBasisMismatch, c.basis, neg.basis)
	}
	return nil
}
