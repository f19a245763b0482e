// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package fusion

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
)

// BasisSchema declares the keys of an algorithm's basis.
// Schemas are usually package-level variables:
//
//	var sumSchema = fusion.NewBasisSchema("sum", "dtype", "size")
type BasisSchema struct {
	name  string
	keys  []string
	index map[string]int
}

// NewBasisSchema creates a schema with the given keys, in display order.
// It panics on empty or duplicate keys.
func NewBasisSchema(name string, keys ...string) *BasisSchema {
	s := &BasisSchema{
		name:  name,
		keys:  append([]string(nil), keys...),
		index: make(map[string]int, len(keys)),
	}
	for i, k := range keys {
		if k == "" {
			panic("fusion: NewBasisSchema " + name + ": empty key")
		}
		if _, dup := s.index[k]; dup {
			panic("fusion: NewBasisSchema " + name + ": duplicate key " + k)
		}
		s.index[k] = i
	}
	return s
}

// Name returns the schema name.
func (s *BasisSchema) Name() string { return s.name }

// Keys returns the declared keys.
func (s *BasisSchema) Keys() []string { return append([]string(nil), s.keys...) }

// Make builds a Basis. Every declared key must be present and no other key
// is allowed.
func (s *BasisSchema) Make(values map[string]any) (Basis, error) {
	var unknown []string
	for k := range values {
		if _, ok := s.index[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Basis{}, fmt.Errorf("%w: basis %s: unknown keys %v", ErrInvalidArgument, s.name, unknown)
	}
	b := Basis{schema: s, values: make([]any, len(s.keys))}
	for i, k := range s.keys {
		v, ok := values[k]
		if !ok {
			return Basis{}, fmt.Errorf("%w: basis %s: missing key %q", ErrInvalidArgument, s.name, k)
		}
		b.values[i] = v
	}
	return b, nil
}

// MustMake is like Make but panics on error.
func (s *BasisSchema) MustMake(values map[string]any) Basis {
	b, err := s.Make(values)
	if err != nil {
		panic(err)
	}
	return b
}

// Basis is the immutable set of derived quantities that fixes the kernels
// and buffers of one prepared computation. The zero Basis is empty.
type Basis struct {
	schema *BasisSchema
	values []any
}

// Schema returns the schema the basis was built from.
func (b Basis) Schema() *BasisSchema { return b.schema }

// IsZero reports whether the basis is empty.
func (b Basis) IsZero() bool { return b.schema == nil }

// Get returns the value stored under key.
func (b Basis) Get(key string) (any, bool) {
	if b.schema == nil {
		return nil, false
	}
	i, ok := b.schema.index[key]
	if !ok {
		return nil, false
	}
	return b.values[i], true
}

// Int returns the int stored under key, or 0.
func (b Basis) Int(key string) int {
	v, _ := b.Get(key)
	n, _ := v.(int)
	return n
}

// Bool returns the bool stored under key, or false.
func (b Basis) Bool(key string) bool {
	v, _ := b.Get(key)
	f, _ := v.(bool)
	return f
}

// DType returns the element type stored under key, or InvalidDType.
func (b Basis) DType(key string) dtypes.DType {
	v, _ := b.Get(key)
	dt, ok := v.(dtypes.DType)
	if !ok {
		return dtypes.InvalidDType
	}
	return dt
}

// Shape returns the shape stored under key, or nil.
func (b Basis) Shape(key string) Shape {
	v, _ := b.Get(key)
	switch s := v.(type) {
	case Shape:
		return s
	case []int:
		return Shape(s)
	}
	return nil
}

// Value returns the Value stored under key, or nil.
func (b Basis) Value(key string) Value {
	v, _ := b.Get(key)
	val, _ := v.(Value)
	return val
}

// Equal reports whether two bases come from the same schema and hold
// identical values. Unlike Value.Equal, unresolved fields do not unify.
func (b Basis) Equal(o Basis) bool {
	return b.schema == o.schema && reflect.DeepEqual(b.values, o.values)
}

func (b Basis) String() string {
	if b.schema == nil {
		return "{}"
	}
	var sb strings.Builder
	sb.WriteString(b.schema.name)
	sb.WriteByte('{')
	for i, k := range b.schema.keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k)
		sb.WriteString(": ")
		switch v := b.values[i].(type) {
		case dtypes.DType:
			sb.WriteString(dtypeName(v))
		default:
			fmt.Fprint(&sb, v)
		}
	}
	sb.WriteByte('}')
	return sb.String()
}
