// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// Literal is a constant array value: a shape and its elements stored flat, in row-major order, as a Go slice
// of the type corresponding to the shape's dtype (e.g.: []int32 for dtypes.Int32, []float16.Float16 for
// dtypes.Float16).
type Literal struct {
	shape Shape
	flat  any
}

// NewLiteral creates a literal from a flat slice of values and the dimensions of the array.
// If no dimensions are given, it's assumed to be a rank-1 array with len(values) elements, except if
// there is exactly one value and dims is empty, in which case see ScalarLiteral.
//
// It panics if the number of values doesn't match the dimensions.
func NewLiteral[T dtypes.Supported](values []T, dims ...int) *Literal {
	if len(dims) == 0 {
		dims = []int{len(values)}
	}
	shape := MakeShape(dtypes.FromGenericsType[T](), dims...)
	if shape.Size() != len(values) {
		exceptions.Panicf("hlo.NewLiteral: %d values given for shape %s", len(values), shape)
	}
	return &Literal{shape: shape, flat: slices.Clone(values)}
}

// ScalarLiteral creates a scalar literal holding value.
func ScalarLiteral[T dtypes.Supported](value T) *Literal {
	return &Literal{shape: ScalarShape(dtypes.FromGenericsType[T]()), flat: []T{value}}
}

// NewLiteralFromFlat creates a literal of the given shape from a flat Go slice, which must be of the Go type
// that corresponds to the shape's dtype. It's used when the type is only known at runtime (e.g.: when decoding).
func NewLiteralFromFlat(shape Shape, flat any) (*Literal, error) {
	if !shape.IsArray() {
		return nil, errors.Errorf("literal shape must be an array, got %s", shape)
	}
	v := reflect.ValueOf(flat)
	if v.Kind() != reflect.Slice {
		return nil, errors.Errorf("literal values must be a slice, got %T", flat)
	}
	if v.Type().Elem() != shape.DType.GoType() {
		return nil, errors.Errorf("literal of shape %s requires []%s, got %T", shape, shape.DType.GoType(), flat)
	}
	if v.Len() != shape.Size() {
		return nil, errors.Errorf("literal of shape %s requires %d values, got %d", shape, shape.Size(), v.Len())
	}
	return &Literal{shape: shape.Clone(), flat: flat}, nil
}

// Shape of the literal.
func (l *Literal) Shape() Shape { return l.shape }

// Flat returns the underlying flat slice of values. It should not be modified.
func (l *Literal) Flat() any { return l.flat }

// Size is the number of elements of the literal.
func (l *Literal) Size() int { return l.shape.Size() }

func intAt[T constraints.Integer](flat []T, idx int) int64 { return int64(flat[idx]) }

// Int64At returns the element at the flat index idx, if the literal is of an integer dtype.
// It returns false if the dtype is not an integer, or if idx is out of range.
func (l *Literal) Int64At(idx int) (int64, bool) {
	if idx < 0 || idx >= l.Size() {
		return 0, false
	}
	switch flat := l.flat.(type) {
	case []int8:
		return intAt(flat, idx), true
	case []int16:
		return intAt(flat, idx), true
	case []int32:
		return intAt(flat, idx), true
	case []int64:
		return intAt(flat, idx), true
	case []int:
		return intAt(flat, idx), true
	case []uint8:
		return intAt(flat, idx), true
	case []uint16:
		return intAt(flat, idx), true
	case []uint32:
		return intAt(flat, idx), true
	case []uint64:
		return intAt(flat, idx), true
	}
	return 0, false
}

// Float64At returns the element at the flat index idx converted to float64.
// Booleans are converted to 0 or 1. It returns false for unsupported dtypes or an out-of-range index.
func (l *Literal) Float64At(idx int) (float64, bool) {
	if idx < 0 || idx >= l.Size() {
		return 0, false
	}
	if v, ok := l.Int64At(idx); ok {
		return float64(v), true
	}
	switch flat := l.flat.(type) {
	case []float32:
		return float64(flat[idx]), true
	case []float64:
		return flat[idx], true
	case []float16.Float16:
		return float64(flat[idx].Float32()), true
	case []bool:
		if flat[idx] {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// ScalarInt64 returns the value of an effective scalar (one element) integer literal.
func (l *Literal) ScalarInt64() (int64, bool) {
	if l.Size() != 1 {
		return 0, false
	}
	return l.Int64At(0)
}

// Equal returns whether both literals have the same shape (including dtype) and values.
func (l *Literal) Equal(other *Literal) bool {
	if l == nil || other == nil {
		return l == other
	}
	return l.shape.Equal(other.shape) && reflect.DeepEqual(l.flat, other.flat)
}

// Clone returns a deep copy of the literal.
func (l *Literal) Clone() *Literal {
	v := reflect.ValueOf(l.flat)
	flat := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
	reflect.Copy(flat, v)
	return &Literal{shape: l.shape.Clone(), flat: flat.Interface()}
}

// String prints the literal values in the HLO style, e.g.: `{0,1,2,3}` or `4` for scalars.
func (l *Literal) String() string {
	v := reflect.ValueOf(l.flat)
	parts := make([]string, v.Len())
	for ii := range parts {
		parts[ii] = fmt.Sprintf("%v", v.Index(ii).Interface())
	}
	if l.shape.IsScalar() {
		return parts[0]
	}
	return "{" + strings.Join(parts, ",") + "}"
}
