// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package trace

import (
	"fmt"

	"github.com/gogpu/fusion/device"
)

// Recording is an immutable list of device commands.
// It can be replayed onto any device.
type Recording struct {
	params   device.Params
	commands []Command
}

// Params returns the capabilities of the device that recorded the commands.
func (r *Recording) Params() device.Params { return r.params }

// Commands returns the recorded commands.
func (r *Recording) Commands() []Command { return r.commands }

// Len returns the number of recorded commands.
func (r *Recording) Len() int { return len(r.commands) }

// Count returns the number of commands of the given type.
func (r *Recording) Count(t CommandType) int {
	n := 0
	for _, c := range r.commands {
		if c.Type() == t {
			n++
		}
	}
	return n
}

// Replay maps recorded handles to resources created on the target device.
type Replay struct {
	buffers  map[BufferRef]device.Buffer
	programs map[ProgramRef]device.Program
}

// Buffer returns the target buffer created for ref, or nil.
func (r *Replay) Buffer(ref BufferRef) device.Buffer { return r.buffers[ref] }

// Program returns the target program created for ref, or nil.
func (r *Replay) Program(ref ProgramRef) device.Program { return r.programs[ref] }

// Release frees every target buffer that the recording did not release.
func (r *Replay) Release() {
	for ref, b := range r.buffers {
		b.Release()
		delete(r.buffers, ref)
	}
}

// Playback replays the recording onto dst. Downloads are skipped since
// their results were observed at recording time.
func (r *Recording) Playback(dst device.Device) (*Replay, error) {
	rp := &Replay{
		buffers:  make(map[BufferRef]device.Buffer),
		programs: make(map[ProgramRef]device.Program),
	}
	for i, cmd := range r.commands {
		if err := rp.apply(dst, cmd); err != nil {
			return rp, fmt.Errorf("trace: playback command %d (%s): %w", i, cmd.Type(), err)
		}
	}
	return rp, nil
}

func (rp *Replay) apply(dst device.Device, cmd Command) error {
	switch c := cmd.(type) {
	case AllocateCommand:
		b, err := dst.Allocate(c.Shape, c.DType)
		if err != nil {
			return err
		}
		rp.buffers[c.Buffer] = b

	case ReleaseCommand:
		b, err := rp.buffer(c.Buffer)
		if err != nil {
			return err
		}
		b.Release()
		delete(rp.buffers, c.Buffer)

	case CompileCommand:
		p, err := dst.Compile(c.Source)
		if err != nil {
			return err
		}
		rp.programs[c.Program] = p

	case UploadCommand:
		b, err := rp.buffer(c.Buffer)
		if err != nil {
			return err
		}
		return dst.Upload(b, c.Data)

	case DownloadCommand:
		// Observation only.

	case LaunchCommand:
		p, ok := rp.programs[c.Program]
		if !ok {
			return fmt.Errorf("unknown program %d", c.Program)
		}
		args := make([]any, len(c.Args))
		for i, a := range c.Args {
			ref, isBuf := a.(BufferRef)
			if !isBuf {
				args[i] = a
				continue
			}
			b, err := rp.buffer(ref)
			if err != nil {
				return err
			}
			args[i] = b
		}
		return dst.Launch(p, c.Geometry, args)

	case SynchronizeCommand:
		return dst.Synchronize()

	default:
		return fmt.Errorf("unknown command %T", cmd)
	}
	return nil
}

func (rp *Replay) buffer(ref BufferRef) (device.Buffer, error) {
	b, ok := rp.buffers[ref]
	if !ok {
		return nil, fmt.Errorf("unknown buffer %d", ref)
	}
	return b, nil
}
