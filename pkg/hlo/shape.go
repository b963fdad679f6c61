// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Shape of the output of an Instruction: either an array (DType + Dimensions, and an optional Layout)
// or a tuple of shapes.
//
// Use MakeShape to create a new array shape, and MakeTuple for tuples.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int

	// Layout is the minor-to-major ordering of the axes, as in XLA. It's nil if the layout is not set,
	// in which case the default (row-major) layout is assumed.
	Layout []int

	TupleShapes []Shape
}

// MakeShape returns an array Shape with the given dtype and dimensions.
// It panics if any dimension is negative.
func MakeShape(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("hlo.MakeShape(%s): cannot create a shape with a negative dimension", s)
		}
	}
	return s
}

// ScalarShape returns the shape of a scalar of the given dtype.
func ScalarShape(dtype dtypes.DType) Shape {
	return Shape{DType: dtype}
}

// MakeTuple returns a shape representing a tuple of elements with the given shapes.
func MakeTuple(elements ...Shape) Shape {
	return Shape{DType: dtypes.InvalidDType, TupleShapes: elements}
}

// WithLayout returns a copy of the shape with the given minor-to-major layout.
// It panics if layout is not a permutation of the axes.
func (s Shape) WithLayout(minorToMajor ...int) Shape {
	if len(minorToMajor) != s.Rank() {
		exceptions.Panicf("layout %v has %d axes, but shape %s has rank %d", minorToMajor, len(minorToMajor), s, s.Rank())
	}
	seen := make([]bool, s.Rank())
	for _, axis := range minorToMajor {
		if axis < 0 || axis >= s.Rank() || seen[axis] {
			exceptions.Panicf("layout %v is not a permutation of the axes of %s", minorToMajor, s)
		}
		seen[axis] = true
	}
	s2 := s.Clone()
	s2.Layout = slices.Clone(minorToMajor)
	return s2
}

// Ok returns whether this is a valid Shape. A "zero" shape, that is just instantiating it with Shape{} will be invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType || len(s.TupleShapes) > 0 }

// IsTuple returns whether the shape represents a tuple.
func (s Shape) IsTuple() bool { return s.DType == dtypes.InvalidDType && len(s.TupleShapes) > 0 }

// IsArray returns whether the shape is a (possibly scalar) array.
func (s Shape) IsArray() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar, that is there are no dimensions (rank==0).
func (s Shape) IsScalar() bool { return s.IsArray() && s.Rank() == 0 }

// IsEffectiveScalar returns whether the shape is an array with exactly one element, e.g.: `s32[1]` or `f32[1,1]`.
func (s Shape) IsEffectiveScalar() bool { return s.IsArray() && s.Size() == 1 }

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts as starting from the end -- so axis=-1 refers to the last axis.
// Like with a slice indexing, it panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// Size returns the number of elements of DType are needed for this shape. It's the product of all dimensions.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Memory returns the number of bytes used by an array of the given shape.
// For tuples, it's the sum of the memory of its elements.
func (s Shape) Memory() uintptr {
	if s.IsTuple() {
		var total uintptr
		for _, element := range s.TupleShapes {
			total += element.Memory()
		}
		return total
	}
	return s.DType.Memory() * uintptr(s.Size())
}

// Equal compares two shapes for equality: dtype and dimensions are compared, the layout is not.
func (s Shape) Equal(s2 Shape) bool {
	if s.IsTuple() != s2.IsTuple() {
		return false
	}
	if s.IsTuple() {
		if len(s.TupleShapes) != len(s2.TupleShapes) {
			return false
		}
		for ii, element := range s.TupleShapes {
			if !element.Equal(s2.TupleShapes[ii]) {
				return false
			}
		}
		return true
	}
	return s.DType == s2.DType && slices.Equal(s.Dimensions, s2.Dimensions)
}

// EqualWithLayout is like Equal, but also requires the layouts to match.
func (s Shape) EqualWithLayout(s2 Shape) bool {
	return s.Equal(s2) && slices.Equal(s.Layout, s2.Layout)
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() (s2 Shape) {
	s2.DType = s.DType
	s2.Dimensions = slices.Clone(s.Dimensions)
	s2.Layout = slices.Clone(s.Layout)
	if len(s.TupleShapes) > 0 {
		s2.TupleShapes = make([]Shape, 0, len(s.TupleShapes))
		for _, subShape := range s.TupleShapes {
			s2.TupleShapes = append(s2.TupleShapes, subShape.Clone())
		}
	}
	return
}

// WithDim returns a copy of the shape with the dimension of the given axis replaced.
// The layout is preserved.
func (s Shape) WithDim(axis, dim int) Shape {
	s2 := s.Clone()
	s2.Dimensions[axis] = dim
	return s2
}

// String pretty-prints the shape in the HLO style, e.g.: `f32[32,8,128]{2,1,0}` or `s32[]`.
func (s Shape) String() string {
	if s.IsTuple() {
		parts := make([]string, 0, len(s.TupleShapes))
		for _, element := range s.TupleShapes {
			parts = append(parts, element.String())
		}
		return fmt.Sprintf("(%s)", strings.Join(parts, ", "))
	}
	if !s.Ok() {
		return "invalid"
	}
	var sb strings.Builder
	sb.WriteString(DTypeName(s.DType))
	sb.WriteString("[")
	sb.WriteString(joinInts(s.Dimensions))
	sb.WriteString("]")
	if s.Layout != nil {
		_, _ = fmt.Fprintf(&sb, "{%s}", joinInts(s.Layout))
	}
	return sb.String()
}

// IntRange returns the minimum and maximum values representable by the integer dtype.
func IntRange(dtype dtypes.DType) (minValue, maxValue int64) {
	bits := 8 * int(dtype.Memory())
	switch {
	case dtype.IsUnsigned() && bits >= 64:
		return 0, math.MaxInt64
	case dtype.IsUnsigned():
		return 0, int64(1)<<bits - 1
	case bits >= 64:
		return math.MinInt64, math.MaxInt64
	}
	return -(int64(1) << (bits - 1)), int64(1)<<(bits-1) - 1
}

// WrapInt returns the value v takes when stored in the integer dtype: the two's complement wraparound
// of its lower bits.
func WrapInt(v int64, dtype dtypes.DType) int64 {
	bits := 8 * int(dtype.Memory())
	if bits >= 64 {
		return v
	}
	v &= int64(1)<<bits - 1
	if !dtype.IsUnsigned() && v >= int64(1)<<(bits-1) {
		v -= int64(1) << bits
	}
	return v
}

// DTypeName returns the HLO short name of the dtype (s32, u32, f32, pred, etc.).
func DTypeName(dtype dtypes.DType) string {
	switch dtype {
	case dtypes.Bool:
		return "pred"
	case dtypes.Int8:
		return "s8"
	case dtypes.Int16:
		return "s16"
	case dtypes.Int32:
		return "s32"
	case dtypes.Int64:
		return "s64"
	case dtypes.Uint8:
		return "u8"
	case dtypes.Uint16:
		return "u16"
	case dtypes.Uint32:
		return "u32"
	case dtypes.Uint64:
		return "u64"
	case dtypes.Float16:
		return "f16"
	case dtypes.BFloat16:
		return "bf16"
	case dtypes.Float32:
		return "f32"
	case dtypes.Float64:
		return "f64"
	default:
		return strings.ToLower(dtype.String())
	}
}

// DTypeFromName is the inverse of DTypeName.
func DTypeFromName(name string) (dtypes.DType, error) {
	for _, dtype := range []dtypes.DType{dtypes.Bool, dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
		dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64, dtypes.Float16, dtypes.BFloat16, dtypes.Float32,
		dtypes.Float64} {
		if DTypeName(dtype) == name {
			return dtype, nil
		}
	}
	return dtypes.InvalidDType, errors.Errorf("unknown dtype %q", name)
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for ii, v := range values {
		parts[ii] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ",")
}

// DimensionsUnmodifiedByReshape returns the pairs of axes `{fromAxis, toAxis}` whose dimension is carried over
// unchanged by a (row-major) reshape from shape `from` to shape `to`.
//
// An axis is unmodified if it forms, alone, a group of the common factorization of both shapes:
// that is, the product of the dimensions before it is the same in both shapes, and so is the product
// including it. Axes of dimension 1 are ignored, except when they are matched by another axis of
// dimension 1 at the same boundary.
func DimensionsUnmodifiedByReshape(from, to Shape) (pairs [][2]int) {
	fromDims, toDims := from.Dimensions, to.Dimensions
	var fromIdx, toIdx int
	fromPrefix, toPrefix := 1, 1
	for fromIdx < len(fromDims) && toIdx < len(toDims) {
		if fromPrefix == toPrefix && fromDims[fromIdx] == toDims[toIdx] {
			// Both sides start a group at the same boundary with the same dimension.
			pairs = append(pairs, [2]int{fromIdx, toIdx})
			fromPrefix *= fromDims[fromIdx]
			toPrefix *= toDims[toIdx]
			fromIdx++
			toIdx++
			continue
		}
		// Advance the side with the smaller prefix product (or a size-1 axis) until boundaries align again.
		if fromPrefix*fromDims[fromIdx] <= toPrefix*toDims[toIdx] {
			fromPrefix *= fromDims[fromIdx]
			fromIdx++
		} else {
			toPrefix *= toDims[toIdx]
			toIdx++
		}
		for fromIdx < len(fromDims) && toIdx < len(toDims) && fromPrefix != toPrefix {
			if fromPrefix < toPrefix {
				fromPrefix *= fromDims[fromIdx]
				fromIdx++
			} else {
				toPrefix *= toDims[toIdx]
				toIdx++
			}
		}
	}
	return
}
