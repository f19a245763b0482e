// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package trace

import (
	"github.com/gogpu/fusion/device"
	"github.com/gomlx/gopjrt/dtypes"
)

// CommandType identifies the type of a command.
type CommandType uint8

const (
	// Resource commands
	CmdAllocate CommandType = iota // Allocate a buffer
	CmdRelease                     // Release a buffer
	CmdCompile                     // Compile a kernel

	// Transfer commands
	CmdUpload   // Copy host data into a buffer
	CmdDownload // Copy a buffer to the host

	// Execution commands
	CmdLaunch      // Launch a kernel
	CmdSynchronize // Wait for launched work
)

// commandTypeNames maps CommandType values to their string representation.
var commandTypeNames = [...]string{
	CmdAllocate:    "Allocate",
	CmdRelease:     "Release",
	CmdCompile:     "Compile",
	CmdUpload:      "Upload",
	CmdDownload:    "Download",
	CmdLaunch:      "Launch",
	CmdSynchronize: "Synchronize",
}

// String returns the string representation of a CommandType.
func (c CommandType) String() string {
	if int(c) < len(commandTypeNames) {
		return commandTypeNames[c]
	}
	return "Unknown"
}

// Command is the interface implemented by all command types.
type Command interface {
	Type() CommandType
}

// BufferRef identifies a buffer within one recording.
type BufferRef uint32

// ProgramRef identifies a compiled program within one recording.
type ProgramRef uint32

// AllocateCommand creates a buffer.
type AllocateCommand struct {
	Buffer BufferRef
	Shape  []int
	DType  dtypes.DType
}

// Type implements Command.
func (AllocateCommand) Type() CommandType { return CmdAllocate }

// ReleaseCommand frees a buffer.
type ReleaseCommand struct {
	Buffer BufferRef
}

// Type implements Command.
func (ReleaseCommand) Type() CommandType { return CmdRelease }

// CompileCommand compiles a kernel source.
type CompileCommand struct {
	Program ProgramRef
	Source  device.Source
}

// Type implements Command.
func (CompileCommand) Type() CommandType { return CmdCompile }

// UploadCommand copies host bytes into a buffer.
type UploadCommand struct {
	Buffer BufferRef
	Data   []byte
}

// Type implements Command.
func (UploadCommand) Type() CommandType { return CmdUpload }

// DownloadCommand copies a buffer to host memory.
type DownloadCommand struct {
	Buffer BufferRef
	Size   int
}

// Type implements Command.
func (DownloadCommand) Type() CommandType { return CmdDownload }

// LaunchCommand launches a kernel. Args holds scalar values as passed to
// Launch and BufferRef values for array arguments.
type LaunchCommand struct {
	Program  ProgramRef
	Geometry device.Geometry
	Args     []any
}

// Type implements Command.
func (LaunchCommand) Type() CommandType { return CmdLaunch }

// Buffers returns the buffer arguments of the launch.
func (c LaunchCommand) Buffers() []BufferRef {
	var refs []BufferRef
	for _, a := range c.Args {
		if ref, ok := a.(BufferRef); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

// SynchronizeCommand waits for all launched work.
type SynchronizeCommand struct{}

// Type implements Command.
func (SynchronizeCommand) Type() CommandType { return CmdSynchronize }
