// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package fusion

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gogpu/fusion/device"
)

// AnyDim marks a dimension that is not known yet.
const AnyDim = -1

// Shape is the list of array dimensions. A nil Shape is fully unresolved.
type Shape []int

// Resolved reports whether every dimension is known.
func (s Shape) Resolved() bool {
	if s == nil {
		return false
	}
	for _, d := range s {
		if d < 0 {
			return false
		}
	}
	return true
}

// Size returns the number of elements, or 0 if the shape is unresolved.
func (s Shape) Size() int {
	if !s.Resolved() {
		return 0
	}
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// compatible reports whether two shapes can describe the same array.
func (s Shape) compatible(o Shape) bool {
	if s == nil || o == nil {
		return true
	}
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] >= 0 && o[i] >= 0 && s[i] != o[i] {
			return false
		}
	}
	return true
}

// String formats the shape as "[4, 8]", with "?" for unknown dimensions.
func (s Shape) String() string {
	if s == nil {
		return "[?]"
	}
	var sb strings.Builder
	sb.WriteByte('[')
	for i, d := range s {
		if i > 0 {
			sb.WriteString(", ")
		}
		if d < 0 {
			sb.WriteByte('?')
		} else {
			sb.WriteString(strconv.Itoa(d))
		}
	}
	sb.WriteByte(']')
	return sb.String()
}

// Kind distinguishes arrays from scalars.
type Kind uint8

const (
	KindArray Kind = iota
	KindScalar
)

func (k Kind) String() string {
	if k == KindScalar {
		return "scalar"
	}
	return "array"
}

// Value describes a computation parameter: either an ArrayValue or a
// ScalarValue. The set of implementations is closed.
type Value interface {
	// Kind returns KindArray or KindScalar. It never changes for a node.
	Kind() Kind

	// DType returns the element type, dtypes.InvalidDType if unresolved.
	DType() dtypes.DType

	// Resolved reports whether all fields are known.
	Resolved() bool

	// Equal reports structural compatibility: known fields must match,
	// unknown fields unify with anything.
	Equal(other Value) bool

	String() string

	isValue()
}

// ArrayValue describes a dense array parameter.
type ArrayValue struct {
	Shape Shape
	Type  dtypes.DType
}

// Array returns an ArrayValue with the given shape and element type.
func Array(shape Shape, dt dtypes.DType) ArrayValue {
	return ArrayValue{Shape: slices.Clone(shape), Type: dt}
}

// Kind implements Value.
func (ArrayValue) Kind() Kind { return KindArray }

// DType implements Value.
func (a ArrayValue) DType() dtypes.DType { return a.Type }

// Resolved implements Value.
func (a ArrayValue) Resolved() bool { return a.Type != dtypes.InvalidDType && a.Shape.Resolved() }

// Size returns the number of elements.
func (a ArrayValue) Size() int { return a.Shape.Size() }

// Equal implements Value.
func (a ArrayValue) Equal(other Value) bool {
	o, ok := other.(ArrayValue)
	if !ok {
		return false
	}
	return dtypesCompatible(a.Type, o.Type) && a.Shape.compatible(o.Shape)
}

// String implements Value.
func (a ArrayValue) String() string {
	if a.Type == dtypes.InvalidDType && a.Shape == nil {
		return "array"
	}
	return "array, " + dtypeName(a.Type) + ", " + a.Shape.String()
}

func (ArrayValue) isValue() {}

// ScalarValue describes a scalar parameter.
type ScalarValue struct {
	Type dtypes.DType
}

// Scalar returns a ScalarValue of the given element type.
func Scalar(dt dtypes.DType) ScalarValue { return ScalarValue{Type: dt} }

// Kind implements Value.
func (ScalarValue) Kind() Kind { return KindScalar }

// DType implements Value.
func (s ScalarValue) DType() dtypes.DType { return s.Type }

// Resolved implements Value.
func (s ScalarValue) Resolved() bool { return s.Type != dtypes.InvalidDType }

// Equal implements Value.
func (s ScalarValue) Equal(other Value) bool {
	o, ok := other.(ScalarValue)
	return ok && dtypesCompatible(s.Type, o.Type)
}

// String implements Value.
func (s ScalarValue) String() string {
	if s.Type == dtypes.InvalidDType {
		return "scalar"
	}
	return "scalar, " + dtypeName(s.Type)
}

func (ScalarValue) isValue() {}

func dtypesCompatible(a, b dtypes.DType) bool {
	return a == dtypes.InvalidDType || b == dtypes.InvalidDType || a == b
}

// unresolved returns a placeholder of the given kind.
func unresolved(k Kind) Value {
	if k == KindScalar {
		return ScalarValue{}
	}
	return ArrayValue{}
}

// Shaped is implemented by runtime arrays, such as device buffers, that
// can describe themselves.
type Shaped interface {
	Shape() []int
	DType() dtypes.DType
}

// ValueOf describes a runtime argument. It accepts a Value, a Shaped array
// (for example a device.Buffer), a Go numeric slice (a 1-D array) or a Go
// numeric scalar.
func ValueOf(arg any) (Value, error) {
	switch v := arg.(type) {
	case nil:
		return nil, fmt.Errorf("%w: cannot describe nil", ErrTypeMismatch)
	case Value:
		return v, nil
	case Shaped:
		return Array(v.Shape(), v.DType()), nil
	}

	rv := reflect.ValueOf(arg)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		dt := dtypes.FromGoType(rv.Type().Elem())
		if dt == dtypes.InvalidDType {
			return nil, fmt.Errorf("%w: unsupported element type %s", ErrTypeMismatch, rv.Type().Elem())
		}
		return Array(Shape{rv.Len()}, dt), nil
	}
	dt := dtypes.FromAny(arg)
	if dt == dtypes.InvalidDType {
		return nil, fmt.Errorf("%w: cannot describe %T", ErrTypeMismatch, arg)
	}
	return Scalar(dt), nil
}

func dtypeName(dt dtypes.DType) string { return strings.ToLower(dt.String()) }

// Role is the direction in which a computation uses a parameter.
type Role uint8

const (
	RoleInput Role = iota
	RoleOutput
	RoleInOut
)

func (r Role) String() string {
	switch r {
	case RoleOutput:
		return "output"
	case RoleInOut:
		return "inout"
	}
	return "input"
}

func (r Role) reads() bool  { return r != RoleOutput }
func (r Role) writes() bool { return r != RoleInput }

// Annotation pairs a Value with its role.
type Annotation struct {
	Value Value
	Role  Role
}

// Parameter is a named, annotated value in a computation signature.
type Parameter struct {
	Name string
	Annotation
}

func (p Parameter) String() string {
	return "(" + p.Value.String() + ") " + p.Name
}

// castScalar converts a Go number to the Go type of dt with Go conversion
// rules: floats truncate toward zero, integers wrap.
func castScalar(arg any, dt dtypes.DType) (any, error) {
	rv := reflect.ValueOf(arg)
	if !rv.IsValid() {
		return nil, fmt.Errorf("%w: nil scalar", ErrTypeMismatch)
	}
	if _, err := device.ElementSize(dt); err != nil || dt.IsFloat16() {
		return nil, fmt.Errorf("%w: cannot cast to %s", ErrUnsupportedType, dtypeName(dt))
	}
	if rv.Kind() == reflect.Bool {
		if dt == dtypes.Bool {
			return rv.Bool(), nil
		}
		var one int64
		if rv.Bool() {
			one = 1
		}
		rv = reflect.ValueOf(one)
	}
	if !rv.CanInt() && !rv.CanUint() && !rv.CanFloat() && !rv.CanComplex() {
		return nil, fmt.Errorf("%w: cannot cast %T to %s", ErrTypeMismatch, arg, dtypeName(dt))
	}
	if dt == dtypes.Bool {
		return !rv.IsZero(), nil
	}
	if !rv.CanConvert(dt.GoType()) {
		return nil, fmt.Errorf("%w: cannot cast %T to %s", ErrTypeMismatch, arg, dtypeName(dt))
	}
	return rv.Convert(dt.GoType()).Interface(), nil
}
