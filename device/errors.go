// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package device

import "errors"

var (
	// ErrUnknownBackend is returned by Open for names nobody registered.
	ErrUnknownBackend = errors.New("device: unknown backend")

	// ErrReleased is returned when a released buffer is used.
	ErrReleased = errors.New("device: buffer released")

	// ErrClosed is returned by methods of a closed device.
	ErrClosed = errors.New("device: device closed")

	// ErrArgumentMismatch is returned by Launch when the arguments do not
	// match the program's declared scalars and arrays.
	ErrArgumentMismatch = errors.New("device: launch arguments do not match program")

	// ErrUnsupportedType is returned for element types a device cannot store.
	ErrUnsupportedType = errors.New("device: unsupported element type")

	// ErrInvalidGeometry is returned for launch geometries exceeding device limits.
	ErrInvalidGeometry = errors.New("device: invalid launch geometry")

	// ErrForeignBuffer is returned when a buffer from another device is used.
	ErrForeignBuffer = errors.New("device: buffer belongs to another device")
)
