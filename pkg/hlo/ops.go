// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// This file holds the typed constructors of instructions. They validate their inputs and panic (with
// exceptions.Panicf) on invalid ones, since those are bugs in the code building the computation.

// Parameter adds the parameter number `number` to the computation.
func (c *Computation) Parameter(number int, shape Shape, name string) *Instruction {
	if number != len(c.parameters) {
		exceptions.Panicf("Parameter(%d): parameters must be created in order, computation %q has %d parameters",
			number, c.name, len(c.parameters))
	}
	inst := c.AddInstruction(name, OpCodeParameter, shape, nil, &ParameterAttrs{Number: number})
	c.parameters = append(c.parameters, inst)
	return inst
}

// Constant adds a constant instruction holding the given literal.
func (c *Computation) Constant(value *Literal) *Instruction {
	if value == nil {
		exceptions.Panicf("Constant: literal is nil, in computation %q", c.name)
	}
	return c.AddInstruction("constant", OpCodeConstant, value.Shape(), nil, &ConstantAttrs{Value: value})
}

// Iota adds an instruction generating the sequence 0, 1, 2, ... along dimension, broadcast on the other axes.
func (c *Computation) Iota(shape Shape, dimension int) *Instruction {
	if dimension < 0 || dimension >= shape.Rank() {
		exceptions.Panicf("Iota(%s, %d): invalid iota dimension", shape, dimension)
	}
	return c.AddInstruction("iota", OpCodeIota, shape, nil, &IotaAttrs{Dimension: dimension})
}

// ReplicaID adds an instruction returning the replica id of the device running it, as an u32 scalar.
func (c *Computation) ReplicaID() *Instruction {
	return c.AddInstruction("replica-id", OpCodeReplicaID, ScalarShape(dtypes.Uint32), nil, nil)
}

// PartitionID adds an instruction returning the partition id of the device running it, as an u32 scalar.
func (c *Computation) PartitionID() *Instruction {
	return c.AddInstruction("partition-id", OpCodePartitionID, ScalarShape(dtypes.Uint32), nil, nil)
}

// Convert adds a conversion of x to the given dtype.
func (c *Computation) Convert(x *Instruction, dtype dtypes.DType) *Instruction {
	shape := x.Shape().Clone()
	shape.DType = dtype
	return c.AddInstruction("convert", OpCodeConvert, shape, []*Instruction{x}, nil)
}

// Reshape adds a reshape of x to the given shape. The number of elements must be the same.
func (c *Computation) Reshape(shape Shape, x *Instruction) *Instruction {
	return c.addReshapeLike(OpCodeReshape, shape, x)
}

// Bitcast adds a reinterpretation of x with the given shape, with the same number of elements and dtype.
func (c *Computation) Bitcast(shape Shape, x *Instruction) *Instruction {
	return c.addReshapeLike(OpCodeBitcast, shape, x)
}

func (c *Computation) addReshapeLike(opCode OpCode, shape Shape, x *Instruction) *Instruction {
	if !x.Shape().IsArray() || !shape.IsArray() || x.Shape().Size() != shape.Size() || x.Shape().DType != shape.DType {
		exceptions.Panicf("%s(%s, %%%s): cannot reshape operand of shape %s", opCode, shape, x.Name(), x.Shape())
	}
	return c.AddInstruction(opCode.String(), opCode, shape, []*Instruction{x}, nil)
}

// Copy adds a copy of x.
func (c *Computation) Copy(x *Instruction) *Instruction {
	return c.AddInstruction("copy", OpCodeCopy, x.Shape(), []*Instruction{x}, nil)
}

// Binary adds an elementwise binary operation. Both operands must have the same shape.
func (c *Computation) Binary(opCode OpCode, lhs, rhs *Instruction) *Instruction {
	if !opCode.IsElementwiseBinary() {
		exceptions.Panicf("Binary(%s): op code is not an elementwise binary operation", opCode)
	}
	if !lhs.Shape().Equal(rhs.Shape()) {
		exceptions.Panicf("%s(%%%s, %%%s): operands have different shapes %s and %s",
			opCode, lhs.Name(), rhs.Name(), lhs.Shape(), rhs.Shape())
	}
	return c.AddInstruction(opCode.String(), opCode, lhs.Shape(), []*Instruction{lhs, rhs}, nil)
}

// Add adds lhs+rhs.
func (c *Computation) Add(lhs, rhs *Instruction) *Instruction { return c.Binary(OpCodeAdd, lhs, rhs) }

// Subtract adds lhs-rhs.
func (c *Computation) Subtract(lhs, rhs *Instruction) *Instruction {
	return c.Binary(OpCodeSubtract, lhs, rhs)
}

// Multiply adds lhs*rhs.
func (c *Computation) Multiply(lhs, rhs *Instruction) *Instruction {
	return c.Binary(OpCodeMultiply, lhs, rhs)
}

// Clamp adds min(max(x, lower), upper). The bounds must be scalars or have the same shape as x.
func (c *Computation) Clamp(lower, x, upper *Instruction) *Instruction {
	for _, bound := range []*Instruction{lower, upper} {
		if bound.Shape().DType != x.Shape().DType || (!bound.Shape().IsScalar() && !bound.Shape().Equal(x.Shape())) {
			exceptions.Panicf("Clamp(%%%s, %%%s, %%%s): bound of shape %s is incompatible with operand %s",
				lower.Name(), x.Name(), upper.Name(), bound.Shape(), x.Shape())
		}
	}
	return c.AddInstruction("clamp", OpCodeClamp, x.Shape(), []*Instruction{lower, x, upper}, nil)
}

// DynamicSlice adds the extraction of a sub-array of operand of the given sizes, starting at the runtime
// computed startIndices, one integer scalar per axis of operand.
func (c *Computation) DynamicSlice(operand *Instruction, startIndices []*Instruction, sliceSizes []int) *Instruction {
	shape := operand.Shape()
	if len(startIndices) != shape.Rank() || len(sliceSizes) != shape.Rank() {
		exceptions.Panicf("DynamicSlice(%%%s): operand has rank %d, but %d start indices and %d slice sizes were given",
			operand.Name(), shape.Rank(), len(startIndices), len(sliceSizes))
	}
	for axis, size := range sliceSizes {
		if size < 0 || size > shape.Dimensions[axis] {
			exceptions.Panicf("DynamicSlice(%%%s): slice size %d for axis %d out of bounds for shape %s",
				operand.Name(), size, axis, shape)
		}
		if idx := startIndices[axis]; !idx.Shape().IsScalar() || !idx.Shape().DType.IsInt() {
			exceptions.Panicf("DynamicSlice(%%%s): start index %%%s for axis %d must be an integer scalar, got %s",
				operand.Name(), idx.Name(), axis, idx.Shape())
		}
	}
	outputShape := MakeShape(shape.DType, sliceSizes...)
	operands := append([]*Instruction{operand}, startIndices...)
	return c.AddInstruction("dynamic-slice", OpCodeDynamicSlice, outputShape, operands,
		&DynamicSliceAttrs{SliceSizes: slices.Clone(sliceSizes)})
}

// checkCollective validates the attributes shared by all-reduce and reduce-scatter.
func (c *Computation) checkCollective(opCode OpCode, operands []*Instruction, attrs *CollectiveAttrs) {
	if len(operands) == 0 {
		exceptions.Panicf("%s: requires at least one operand, in computation %q", opCode, c.name)
	}
	if attrs.ToApply == nil {
		exceptions.Panicf("%s: requires a reduction computation (ToApply)", opCode)
	}
	if attrs.UseGlobalDeviceIDs && !attrs.HasChannelID() {
		exceptions.Panicf("%s: use_global_device_ids requires a channel id", opCode)
	}
	if attrs.ChannelID < 0 {
		exceptions.Panicf("%s: invalid channel id %d", opCode, attrs.ChannelID)
	}
}

// collectiveOutputShape returns the output shape for a collective with the given operands: the operand shape if
// there is only one, or a tuple of shapes otherwise.
func collectiveOutputShape(operands []*Instruction, transform func(Shape) Shape) Shape {
	if len(operands) == 1 {
		return transform(operands[0].Shape())
	}
	elements := make([]Shape, len(operands))
	for ii, operand := range operands {
		elements[ii] = transform(operand.Shape())
	}
	return MakeTuple(elements...)
}

// AllReduce adds a reduction of operands across the participants of each replica group, using the
// commutative and associative attrs.ToApply computation. The output has the shape of the operand (or a tuple,
// if there is more than one operand).
func (c *Computation) AllReduce(operands []*Instruction, attrs CollectiveAttrs) *Instruction {
	c.checkCollective(OpCodeAllReduce, operands, &attrs)
	shape := collectiveOutputShape(operands, func(s Shape) Shape { return s })
	return c.AddInstruction("all-reduce", OpCodeAllReduce, shape, operands, &AllReduceAttrs{CollectiveAttrs: attrs})
}

// ReduceScatter adds a reduction of operands across the participants of each replica group, where each
// participant receives only its shard of the result along scatterDimension. The output shape is given
// explicitly: the operand shape with scatterDimension divided by the number of participants in a group.
func (c *Computation) ReduceScatter(shape Shape, operands []*Instruction, attrs CollectiveAttrs, scatterDimension int) *Instruction {
	c.checkCollective(OpCodeReduceScatter, operands, &attrs)
	for _, operand := range operands {
		if scatterDimension < 0 || scatterDimension >= operand.Shape().Rank() {
			exceptions.Panicf("ReduceScatter: scatter dimension %d out of range for operand %%%s of shape %s",
				scatterDimension, operand.Name(), operand.Shape())
		}
	}
	return c.AddInstruction("reduce-scatter", OpCodeReduceScatter, shape, operands,
		&ReduceScatterAttrs{CollectiveAttrs: attrs, ScatterDimension: scatterDimension})
}

// Fusion adds a fusion instruction calling the fused computation `called` with the given operands.
func (c *Computation) Fusion(shape Shape, operands []*Instruction, called *Computation) *Instruction {
	if called == nil || !called.isFusion {
		exceptions.Panicf("Fusion: called computation must be a fusion computation, in computation %q", c.name)
	}
	return c.AddInstruction("fusion", OpCodeFusion, shape, operands, &FusionAttrs{Called: called})
}
