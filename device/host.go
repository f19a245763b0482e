// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package device

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gomlx/gopjrt/dtypes"
)

// ElementSize returns the size in bytes of one element of type dt.
func ElementSize(dt dtypes.DType) (int, error) {
	// IsSupported leaves out Uint64, which buffers can still hold.
	if !dt.IsSupported() && dt != dtypes.Uint64 {
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedType, dt)
	}
	return dt.Size(), nil
}

// ByteSize returns the number of bytes needed for a dense array.
func ByteSize(shape []int, dt dtypes.DType) (uint64, error) {
	es, err := ElementSize(dt)
	if err != nil {
		return 0, err
	}
	n := uint64(es)
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("device: negative dimension in shape %v", shape)
		}
		n *= uint64(d)
	}
	return n, nil
}

// uniformAlign is the size granularity of uniform buffers.
const uniformAlign = 16

// PackScalars serializes scalar launch arguments into the uniform buffer
// layout: one little-endian 32-bit word per scalar, in order, padded to a
// multiple of 16 bytes. Each value must have the Go type of its element
// type (float32, int32 or uint32). An empty list packs to 16 zero bytes.
func PackScalars(types []dtypes.DType, values []any) ([]byte, error) {
	if len(types) != len(values) {
		return nil, fmt.Errorf("%w: %d scalar types, %d values", ErrArgumentMismatch, len(types), len(values))
	}
	size := (4*len(types) + uniformAlign - 1) / uniformAlign * uniformAlign
	if size == 0 {
		size = uniformAlign
	}
	out := make([]byte, size)
	for i, dt := range types {
		var word uint32
		switch dt {
		case dtypes.Float32:
			v, ok := values[i].(float32)
			if !ok {
				return nil, scalarTypeError(i, dt, values[i])
			}
			word = math.Float32bits(v)
		case dtypes.Int32:
			v, ok := values[i].(int32)
			if !ok {
				return nil, scalarTypeError(i, dt, values[i])
			}
			word = uint32(v) //nolint:gosec // bit reinterpretation
		case dtypes.Uint32:
			v, ok := values[i].(uint32)
			if !ok {
				return nil, scalarTypeError(i, dt, values[i])
			}
			word = v
		default:
			return nil, fmt.Errorf("%w: scalar %d has type %v", ErrUnsupportedType, i, dt)
		}
		binary.LittleEndian.PutUint32(out[4*i:], word)
	}
	return out, nil
}

func scalarTypeError(i int, dt dtypes.DType, v any) error {
	return fmt.Errorf("%w: scalar %d is %T, want %v", ErrArgumentMismatch, i, v, dt)
}

// Encode converts a slice of fixed-size numbers to little-endian bytes,
// ready for Upload.
func Encode(data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("device: encode %T: %w", data, err)
	}
	return buf.Bytes(), nil
}

// Decode fills dst, a slice of fixed-size numbers, from little-endian bytes
// produced by Download.
func Decode(src []byte, dst any) error {
	if err := binary.Read(bytes.NewReader(src), binary.LittleEndian, dst); err != nil {
		return fmt.Errorf("device: decode into %T: %w", dst, err)
	}
	return nil
}
