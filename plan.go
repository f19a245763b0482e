// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package fusion

import (
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/fusion/device"
)

// Plan is the finalized, immutable sequence of kernel launches for one
// basis. Launch arguments are positions in a global buffer list made of the
// leaf signature followed by the physical temporary buffers.
type Plan struct {
	leaves  []Parameter
	temps   []planTemp
	buffers []planBuffer
	kernels []*planKernel
}

// planTemp is a temporary array request with its assigned buffer.
type planTemp struct {
	name   string
	value  ArrayValue
	buffer int
}

type planBuffer struct {
	name  string
	value ArrayValue
	buf   device.Buffer
}

type planKernel struct {
	name     string
	source   device.Source
	geometry device.Geometry
	args     []int
	program  device.Program
}

// KernelInfo describes a finalized kernel launch.
type KernelInfo struct {
	Name     string
	Source   device.Source
	Geometry device.Geometry

	// Args names the global buffers passed to the kernel: scalars first,
	// then storage buffers in binding order.
	Args []string
}

// Kernels returns the kernel launches in execution order.
func (p *Plan) Kernels() []KernelInfo {
	infos := make([]KernelInfo, len(p.kernels))
	for i, k := range p.kernels {
		args := make([]string, len(k.args))
		for j, pos := range k.args {
			args[j] = p.bufferName(pos)
		}
		infos[i] = KernelInfo{Name: k.name, Source: k.source, Geometry: k.geometry, Args: args}
	}
	return infos
}

// Buffers returns the names in the global buffer list: leaf parameters
// followed by temporary buffers. A temporary buffer shared through reuse
// is named after its first user.
func (p *Plan) Buffers() []string {
	names := make([]string, 0, len(p.leaves)+len(p.buffers))
	for _, l := range p.leaves {
		names = append(names, l.Name)
	}
	for _, b := range p.buffers {
		names = append(names, b.name)
	}
	return names
}

// Temporaries returns the number of temporary array requests and the number
// of buffers allocated for them.
func (p *Plan) Temporaries() (requests, buffers int) {
	return len(p.temps), len(p.buffers)
}

func (p *Plan) bufferName(pos int) string {
	if pos < len(p.leaves) {
		return p.leaves[pos].Name
	}
	return p.buffers[pos-len(p.leaves)].name
}

func (p *Plan) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "plan: %d kernels, %d temporaries in %d buffers\n", len(p.kernels), len(p.temps), len(p.buffers))
	for _, k := range p.kernels {
		args := make([]string, len(k.args))
		for j, pos := range k.args {
			args[j] = p.bufferName(pos)
		}
		wg := k.geometry.Workgroups()
		fmt.Fprintf(&sb, "  %s(%s) workgroups=%v\n", k.name, strings.Join(args, ", "), wg)
	}
	return sb.String()
}

func (p *Plan) release() {
	for i := range p.buffers {
		if p.buffers[i].buf != nil {
			p.buffers[i].buf.Release()
			p.buffers[i].buf = nil
		}
	}
}

// buildPlan records the root algorithm's actions for a negotiated basis and
// finalizes them.
func (c *Computation) buildPlan(tree *Tree, neg negotiation) (*Plan, error) {
	b := &planBuilder{dev: c.dev, params: c.dev.Params()}
	root := &Recorder{
		b:     b,
		comp:  c,
		basis: neg.basis,
		names: make(map[string]argRef, len(tree.base)),
	}
	for _, p := range tree.BaseParameters() {
		root.names[p.Name] = argRef{kind: refParam, node: p.Name, value: neg.argValues[p.Name], role: p.Role}
	}
	if err := c.algo.Plan(neg.basis, b.params, root); err != nil {
		return nil, fmt.Errorf("fusion: plan: %w", err)
	}
	return b.finalize(tree, c.opts)
}

// finalize assigns temporary buffers, renders and compiles every kernel,
// then allocates the buffers. On failure nothing stays allocated.
func (b *planBuilder) finalize(tree *Tree, o options) (*Plan, error) {
	p := &Plan{leaves: tree.LeafSignature()}
	leafPos := make(map[string]int, len(p.leaves))
	for i, l := range p.leaves {
		leafPos[l.Name] = i
	}

	b.assignBuffers(p, o.bufferReuse)

	p.kernels = make([]*planKernel, len(b.kernels))
	var g errgroup.Group
	g.SetLimit(o.compileConcurrency)
	for i, k := range b.kernels {
		g.Go(func() error {
			kr := newKernelRenderer(k, tree, leafPos, p)
			src, args, err := kr.render()
			if err != nil {
				return fmt.Errorf("fusion: render %s: %w", k.name, err)
			}
			Logger().Debug("fusion: kernel rendered", "kernel", k.name, "source", src.Code)
			prog, err := b.dev.Compile(src)
			if err != nil {
				return fmt.Errorf("fusion: compile %s: %w", k.name, err)
			}
			p.kernels[i] = &planKernel{name: k.name, source: src, geometry: k.geometry, args: args, program: prog}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range p.buffers {
		pb := &p.buffers[i]
		buf, err := b.dev.Allocate(pb.value.Shape, pb.value.Type)
		if err != nil {
			p.release()
			return nil, fmt.Errorf("fusion: allocate %s: %w", pb.name, err)
		}
		pb.buf = buf
	}
	return p, nil
}

// assignBuffers maps temporary requests to physical buffers. Without reuse
// every request gets its own buffer. With reuse, a request takes over a
// buffer of the same type and size whose users are all dead before its
// first use, unless one of them is a declared dependency.
func (b *planBuilder) assignBuffers(p *Plan, reuse bool) {
	first := make([]int, len(b.temps))
	last := make([]int, len(b.temps))
	for i := range first {
		first[i], last[i] = -1, -1
	}
	for ki, k := range b.kernels {
		for _, a := range k.args {
			if a.ref.kind != refTemp {
				continue
			}
			if first[a.ref.temp] < 0 {
				first[a.ref.temp] = ki
			}
			last[a.ref.temp] = ki
		}
	}

	conflicts := func(x, y int) bool {
		for _, d := range b.temps[x].deps {
			if d == y {
				return true
			}
		}
		for _, d := range b.temps[y].deps {
			if d == x {
				return true
			}
		}
		return false
	}

	type slot struct {
		last    int
		members []int
	}
	var slots []slot
	p.temps = make([]planTemp, len(b.temps))
	for ti, req := range b.temps {
		p.temps[ti] = planTemp{name: req.name, value: req.value, buffer: -1}
		if reuse && first[ti] >= 0 {
			for si := range slots {
				s := &slots[si]
				pb := p.buffers[si].value
				if s.last < 0 || s.last >= first[ti] || pb.Type != req.value.Type || pb.Size() != req.value.Size() {
					continue
				}
				shared := false
				for _, m := range s.members {
					if conflicts(m, ti) {
						shared = true
						break
					}
				}
				if shared {
					continue
				}
				s.last = last[ti]
				s.members = append(s.members, ti)
				p.temps[ti].buffer = si
				break
			}
			if p.temps[ti].buffer >= 0 {
				continue
			}
		}
		p.temps[ti].buffer = len(p.buffers)
		slots = append(slots, slot{last: last[ti], members: []int{ti}})
		p.buffers = append(p.buffers, planBuffer{name: req.name, value: req.value})
	}
}
