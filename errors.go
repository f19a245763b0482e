// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package fusion

import "errors"

var (
	// ErrInvalidState is returned when an operation violates the
	// computation lifecycle: connecting after preparation, preparing twice,
	// calling before preparation.
	ErrInvalidState = errors.New("fusion: invalid state")

	// ErrInvalidArgument is returned for malformed names and illegal
	// connections.
	ErrInvalidArgument = errors.New("fusion: invalid argument")

	// ErrTypeMismatch is returned when an argument has the wrong kind or a
	// value cannot be derived.
	ErrTypeMismatch = errors.New("fusion: type mismatch")

	// ErrArgumentCount is returned when the number of arguments differs
	// from the leaf signature.
	ErrArgumentCount = errors.New("fusion: wrong number of arguments")

	// ErrBasisMismatch is returned in debug mode when call arguments imply
	// a different basis than the one fixed at preparation.
	ErrBasisMismatch = errors.New("fusion: arguments require a different basis")

	// ErrUnsupportedType is returned for element types that kernels cannot
	// use.
	ErrUnsupportedType = errors.New("fusion: unsupported element type")
)
