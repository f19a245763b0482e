// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/fusion/device"
)

// Program is a compute pipeline built from a rendered kernel. Binding 0 is
// the uniform buffer of scalar arguments; storage buffers follow.
type Program struct {
	source device.Source

	module     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
}

// Label implements device.Program.
func (p *Program) Label() string { return p.source.Label }

// Source returns the kernel the program was compiled from.
func (p *Program) Source() device.Source { return p.source }

func (p *Program) destroy(dev hal.Device) {
	if p.pipeline != nil {
		dev.DestroyComputePipeline(p.pipeline)
	}
	if p.pipeLayout != nil {
		dev.DestroyPipelineLayout(p.pipeLayout)
	}
	if p.bindLayout != nil {
		dev.DestroyBindGroupLayout(p.bindLayout)
	}
	if p.module != nil {
		dev.DestroyShaderModule(p.module)
	}
}

// compileSPIRV compiles WGSL to SPIR-V words.
func compileSPIRV(wgsl string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(wgsl)
	if err != nil {
		return nil, fmt.Errorf("wgpu: compile shader: %w", err)
	}
	// SPIR-V is little-endian 32-bit words
	code := make([]uint32, len(spirvBytes)/4)
	for i := range code {
		code[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return code, nil
}

// Compile implements device.Device. Shader code is cached by source, so
// identical kernels are translated once.
func (d *Device) Compile(src device.Source) (device.Program, error) {
	code, ok := d.spirv.Get(src.Code)
	if !ok {
		var err error
		if code, err = compileSPIRV(src.Code); err != nil {
			return nil, fmt.Errorf("%s: %w", src.Label, err)
		}
		d.spirv.Set(src.Code, code)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, device.ErrClosed
	}
	p := &Program{source: src}
	if err := d.createPipelineLocked(p, code); err != nil {
		p.destroy(d.dev)
		return nil, fmt.Errorf("wgpu: %s: %w", src.Label, err)
	}
	d.programs = append(d.programs, p)
	d.log().Debug("wgpu: program compiled", "kernel", src.Label, "spirv_words", len(code))
	return p, nil
}

// createPipelineLocked creates the shader module, layouts and pipeline.
// Caller must hold d.mu.
func (d *Device) createPipelineLocked(p *Program, code []uint32) error {
	label := d.cfg.Label + "_" + p.source.Label
	module, err := d.dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: code},
	})
	if err != nil {
		return fmt.Errorf("create shader module: %w", err)
	}
	p.module = module

	entries := make([]gputypes.BindGroupLayoutEntry, 0, 1+p.source.Arrays)
	entries = append(entries, gputypes.BindGroupLayoutEntry{
		Binding: 0, Visibility: gputypes.ShaderStageCompute,
		Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
	})
	for i := range p.source.Arrays {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding: uint32(i + 1), Visibility: gputypes.ShaderStageCompute, //nolint:gosec // binding count fits uint32
			Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		})
	}
	bindLayout, err := d.dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: label + "_bind_layout", Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}
	p.bindLayout = bindLayout

	pipeLayout, err := d.dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: label + "_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	p.pipeLayout = pipeLayout

	pipeline, err := d.dev.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: label + "_pipeline", Layout: pipeLayout,
		Compute: hal.ComputeState{Module: module, EntryPoint: p.source.Entry()},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline: %w", err)
	}
	p.pipeline = pipeline
	return nil
}

// Launch implements device.Device. Scalars are packed into a fresh uniform
// buffer; the launch is submitted as its own command buffer, so launches
// execute in call order.
func (d *Device) Launch(prog device.Program, g device.Geometry, args []any) error {
	p, ok := prog.(*Program)
	if !ok {
		return fmt.Errorf("%w: program %T", device.ErrArgumentMismatch, prog)
	}
	if err := g.Validate(d.params); err != nil {
		return err
	}
	src := p.source
	if len(args) != src.NumArgs() {
		return fmt.Errorf("%w: %s takes %d arguments, got %d",
			device.ErrArgumentMismatch, src.Label, src.NumArgs(), len(args))
	}
	nScalars := len(src.Scalars)
	uniformData, err := device.PackScalars(src.Scalars, args[:nScalars])
	if err != nil {
		return fmt.Errorf("%s: %w", src.Label, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return device.ErrClosed
	}
	bufs := make([]*Buffer, src.Arrays)
	for i, a := range args[nScalars:] {
		b, err := d.bufferLocked(a)
		if err != nil {
			return fmt.Errorf("argument %d of %s: %w", nScalars+i, src.Label, err)
		}
		bufs[i] = b
	}

	res, err := d.encodeLaunchLocked(p, g, uniformData, bufs)
	if err != nil {
		d.destroyLaunch(res)
		return fmt.Errorf("wgpu: launch %s: %w", src.Label, err)
	}
	if err := d.submitLocked(res.cmd); err != nil {
		d.destroyLaunch(res)
		return err
	}
	d.pending = append(d.pending, res)
	return nil
}

// encodeLaunchLocked records one compute pass. On error the partially
// created resources are returned for cleanup. Caller must hold d.mu.
func (d *Device) encodeLaunchLocked(p *Program, g device.Geometry, uniformData []byte, bufs []*Buffer) (launchResources, error) {
	var res launchResources
	ub, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: d.cfg.Label + "_params", Size: uint64(len(uniformData)),
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return res, fmt.Errorf("create uniform buffer: %w", err)
	}
	res.uniform = ub
	d.queue.WriteBuffer(ub, 0, uniformData)

	entries := make([]gputypes.BindGroupEntry, 0, 1+len(bufs))
	entries = append(entries, gputypes.BindGroupEntry{
		Binding: 0, Resource: gputypes.BufferBinding{Buffer: ub.NativeHandle(), Offset: 0, Size: uint64(len(uniformData))},
	})
	for i, b := range bufs {
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  uint32(i + 1), //nolint:gosec // binding count fits uint32
			Resource: gputypes.BufferBinding{Buffer: b.buf.NativeHandle(), Offset: 0, Size: b.alloc},
		})
	}
	group, err := d.dev.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: d.cfg.Label + "_bind", Layout: p.bindLayout, Entries: entries,
	})
	if err != nil {
		return res, fmt.Errorf("create bind group: %w", err)
	}
	res.group = group

	encoder, err := d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: d.cfg.Label + "_launch"})
	if err != nil {
		return res, fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(p.source.Label); err != nil {
		encoder.DiscardEncoding()
		return res, fmt.Errorf("begin encoding: %w", err)
	}
	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: p.source.Label})
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, group, nil)
	wg := g.Workgroups()
	pass.Dispatch(wg[0], wg[1], wg[2])
	pass.End()
	cmd, err := encoder.EndEncoding()
	if err != nil {
		encoder.DiscardEncoding()
		return res, fmt.Errorf("end encoding: %w", err)
	}
	res.cmd = cmd
	return res, nil
}

func (d *Device) destroyLaunch(res launchResources) {
	if res.cmd != nil {
		d.dev.FreeCommandBuffer(res.cmd)
	}
	if res.group != nil {
		d.dev.DestroyBindGroup(res.group)
	}
	if res.uniform != nil {
		d.dev.DestroyBuffer(res.uniform)
	}
}
