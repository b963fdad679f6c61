// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hlosim is a reference interpreter of hlo modules, simulating the execution of the entry computation
// on every device of the module's configuration at once, including the collective operations among them.
//
// It's meant for testing transformations (e.g. checking a pass preserves the results on every device), not for
// speed: values are stored as float64, with no attention to overflow of narrower types.
package hlosim

import (
	"fmt"
	"math"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/spmdopt/pkg/collectives"
	"github.com/gomlx/spmdopt/pkg/hlo"
	"github.com/pkg/errors"
)

// Value of an instruction on one device: an array (Shape and Flat values in row-major order) or a tuple.
type Value struct {
	Shape hlo.Shape
	Flat  []float64
	Tuple []*Value
}

// NewValue creates an array value. It panics if the number of values doesn't match the shape.
func NewValue(shape hlo.Shape, flat []float64) *Value {
	if !shape.IsArray() || shape.Size() != len(flat) {
		exceptions.Panicf("hlosim.NewValue: %d values given for shape %s", len(flat), shape)
	}
	return &Value{Shape: shape.Clone(), Flat: flat}
}

// Iota returns a value of the given shape with the values 0, 1, 2, ... in row-major order.
// It's a convenient way to create distinct inputs.
func Iota(shape hlo.Shape, start float64) *Value {
	flat := make([]float64, shape.Size())
	for ii := range flat {
		flat[ii] = start + float64(ii)
	}
	return NewValue(shape, flat)
}

// String implements fmt.Stringer.
func (v *Value) String() string {
	if v.Tuple != nil {
		return fmt.Sprintf("tuple%v", v.Tuple)
	}
	return fmt.Sprintf("%s%v", v.Shape, v.Flat)
}

// Equal returns whether both values have the same shape and values.
func (v *Value) Equal(other *Value) bool {
	if v.Tuple != nil || other.Tuple != nil {
		if len(v.Tuple) != len(other.Tuple) {
			return false
		}
		for ii := range v.Tuple {
			if !v.Tuple[ii].Equal(other.Tuple[ii]) {
				return false
			}
		}
		return true
	}
	return v.Shape.Equal(other.Shape) && slices.Equal(v.Flat, other.Flat)
}

// Run evaluates the entry computation of the module on every device of its configuration.
//
// params[globalID] holds the parameters of the device with the given global id (see collectives.Device.GlobalID),
// and the results are returned in the same order.
func Run(module *hlo.Module, params [][]*Value) (results []*Value, err error) {
	entry := module.Entry()
	if entry == nil || entry.Root() == nil {
		return nil, errors.Errorf("module %q has no entry computation or it has no root", module.Name())
	}
	config := module.Config()
	devices := collectives.AllDevices(config.ReplicaCount, config.NumPartitions)
	if len(params) != len(devices) {
		return nil, errors.Errorf("module %q runs on %d devices, but parameters for %d devices were given",
			module.Name(), len(devices), len(params))
	}
	err = exceptions.TryCatch[error](func() {
		s := &simulator{config: config, devices: devices}
		results = s.evalComputation(entry, params)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "simulating module %q", module.Name())
	}
	return results, nil
}

// simulator evaluates computations on all devices in lockstep, so collectives can read the values of the other
// devices.
type simulator struct {
	config  hlo.Config
	devices []collectives.Device
}

// evalComputation evaluates c with args[device][parameter], and returns the root value for each device.
func (s *simulator) evalComputation(c *hlo.Computation, args [][]*Value) []*Value {
	numParams := len(c.Parameters())
	for deviceIdx, deviceArgs := range args {
		if len(deviceArgs) != numParams {
			exceptions.Panicf("computation %q takes %d parameters, %d given for device %s", c.Name(), numParams,
				len(deviceArgs), s.devices[deviceIdx])
		}
		for ii, arg := range deviceArgs {
			if want := c.Parameters()[ii].Shape(); !arg.Shape.Equal(want) || (arg.Tuple == nil && !want.IsArray()) {
				exceptions.Panicf("parameter #%d of computation %q has shape %s, got %s for device %s", ii, c.Name(),
					want, arg.Shape, s.devices[deviceIdx])
			}
		}
	}
	values := make(map[*hlo.Instruction][]*Value, c.NumInstructions())
	for _, inst := range c.MakeInstructionPostOrder() {
		values[inst] = s.evalInstruction(inst, values, args)
	}
	return values[c.Root()]
}

// evalInstruction returns the value of inst for every device.
func (s *simulator) evalInstruction(inst *hlo.Instruction, values map[*hlo.Instruction][]*Value, args [][]*Value) []*Value {
	results := make([]*Value, len(s.devices))
	operandsOf := func(deviceIdx int) []*Value {
		operands := make([]*Value, inst.NumOperands())
		for ii, operand := range inst.Operands() {
			operands[ii] = values[operand][deviceIdx]
		}
		return operands
	}
	shape := inst.Shape()
	switch inst.OpCode() {
	case hlo.OpCodeParameter:
		number := inst.Attrs().(*hlo.ParameterAttrs).Number
		for deviceIdx := range s.devices {
			results[deviceIdx] = args[deviceIdx][number]
		}
	case hlo.OpCodeAllReduce, hlo.OpCodeReduceScatter:
		return s.evalCollective(inst, values)
	case hlo.OpCodeFusion:
		called := inst.Attrs().(*hlo.FusionAttrs).Called
		fusionArgs := make([][]*Value, len(s.devices))
		for deviceIdx := range s.devices {
			fusionArgs[deviceIdx] = operandsOf(deviceIdx)
		}
		return s.evalComputation(called, fusionArgs)
	default:
		for deviceIdx, device := range s.devices {
			results[deviceIdx] = evalLocal(inst, device, operandsOf(deviceIdx))
		}
	}
	for deviceIdx, result := range results {
		if result.Tuple == nil && !result.Shape.Equal(shape) {
			exceptions.Panicf("%s evaluated to shape %s on device %s", inst, result.Shape, s.devices[deviceIdx])
		}
	}
	return results
}

// evalLocal evaluates the instructions that don't communicate across devices.
func evalLocal(inst *hlo.Instruction, device collectives.Device, operands []*Value) *Value {
	shape := inst.Shape()
	switch inst.OpCode() {
	case hlo.OpCodeConstant:
		literal := inst.Literal()
		flat := make([]float64, literal.Size())
		for ii := range flat {
			v, ok := literal.Float64At(ii)
			if !ok {
				exceptions.Panicf("unsupported constant %s", inst)
			}
			flat[ii] = v
		}
		return NewValue(shape, flat)
	case hlo.OpCodeIota:
		dim := inst.Attrs().(*hlo.IotaAttrs).Dimension
		strides := stridesOf(shape)
		flat := make([]float64, shape.Size())
		for ii := range flat {
			flat[ii] = float64((ii / strides[dim]) % shape.Dimensions[dim])
		}
		return NewValue(shape, flat)
	case hlo.OpCodeReplicaID:
		return NewValue(shape, []float64{float64(device.Replica)})
	case hlo.OpCodePartitionID:
		return NewValue(shape, []float64{float64(device.Partition)})
	case hlo.OpCodeConvert:
		flat := make([]float64, len(operands[0].Flat))
		for ii, v := range operands[0].Flat {
			flat[ii] = convertValue(v, shape.DType)
		}
		return NewValue(shape, flat)
	case hlo.OpCodeReshape, hlo.OpCodeBitcast, hlo.OpCodeCopy:
		return NewValue(shape, slices.Clone(operands[0].Flat))
	case hlo.OpCodeAdd, hlo.OpCodeSubtract, hlo.OpCodeMultiply, hlo.OpCodeMaximum, hlo.OpCodeMinimum:
		flat := make([]float64, len(operands[0].Flat))
		for ii := range flat {
			flat[ii] = convertValue(binaryOp(inst.OpCode(), operands[0].Flat[ii], operands[1].Flat[ii]), shape.DType)
		}
		return NewValue(shape, flat)
	case hlo.OpCodeClamp:
		lower, x, upper := operands[0], operands[1], operands[2]
		flat := make([]float64, len(x.Flat))
		for ii, v := range x.Flat {
			flat[ii] = math.Min(math.Max(v, broadcastAt(lower, ii)), broadcastAt(upper, ii))
		}
		return NewValue(shape, flat)
	case hlo.OpCodeDynamicSlice:
		starts := make([]int, len(operands)-1)
		for ii, start := range operands[1:] {
			starts[ii] = int(start.Flat[0])
		}
		return dynamicSlice(operands[0], starts, shape)
	default:
		exceptions.Panicf("hlosim: op code %s not supported", inst.OpCode())
	}
	return nil
}

// convertValue converts v to the value it would have in the given dtype. Integers wrap around.
func convertValue(v float64, dtype dtypes.DType) float64 {
	switch {
	case dtype == dtypes.Bool:
		if v != 0 {
			return 1
		}
		return 0
	case dtype.IsInt():
		return float64(hlo.WrapInt(int64(math.Trunc(v)), dtype))
	}
	return v
}

func binaryOp(opCode hlo.OpCode, lhs, rhs float64) float64 {
	switch opCode {
	case hlo.OpCodeAdd:
		return lhs + rhs
	case hlo.OpCodeSubtract:
		return lhs - rhs
	case hlo.OpCodeMultiply:
		return lhs * rhs
	case hlo.OpCodeMaximum:
		return math.Max(lhs, rhs)
	case hlo.OpCodeMinimum:
		return math.Min(lhs, rhs)
	}
	exceptions.Panicf("hlosim: %s is not a binary operation", opCode)
	return 0
}

// broadcastAt returns the element idx of v, or its only element if v is a scalar.
func broadcastAt(v *Value, idx int) float64 {
	if len(v.Flat) == 1 {
		return v.Flat[0]
	}
	return v.Flat[idx]
}

// stridesOf returns the row-major strides of each axis.
func stridesOf(shape hlo.Shape) []int {
	strides := make([]int, shape.Rank())
	stride := 1
	for axis := shape.Rank() - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= shape.Dimensions[axis]
	}
	return strides
}

// dynamicSlice extracts the sub-array of the given shape starting at starts. As in XLA, the start indices are
// clamped so the slice fits in the operand.
func dynamicSlice(operand *Value, starts []int, shape hlo.Shape) *Value {
	opDims := operand.Shape.Dimensions
	for axis, start := range starts {
		starts[axis] = min(max(start, 0), opDims[axis]-shape.Dimensions[axis])
	}
	opStrides := stridesOf(operand.Shape)
	strides := stridesOf(shape)
	flat := make([]float64, shape.Size())
	for ii := range flat {
		opIdx := 0
		for axis := range shape.Rank() {
			coord := (ii/strides[axis])%shape.Dimensions[axis] + starts[axis]
			opIdx += coord * opStrides[axis]
		}
		flat[ii] = operand.Flat[opIdx]
	}
	return NewValue(shape, flat)
}

// evalCollective evaluates an all-reduce or a reduce-scatter on every device.
func (s *simulator) evalCollective(inst *hlo.Instruction, values map[*hlo.Instruction][]*Value) []*Value {
	attrs, _ := inst.Collective()
	mode, err := collectives.ModeOf(attrs.HasChannelID(), attrs.UseGlobalDeviceIDs)
	if err != nil {
		exceptions.Panicf("%s: %v", inst, err)
	}
	participants, err := collectives.ParticipantGroups(mode, attrs.ReplicaGroups, s.config.ReplicaCount,
		s.config.NumPartitions)
	if err != nil {
		exceptions.Panicf("%s: %+v", inst, err)
	}
	scatterDim := -1
	if rsAttrs, ok := inst.ReduceScatter(); ok {
		scatterDim = rsAttrs.ScatterDimension
	}

	numOperands := inst.NumOperands()
	results := make([]*Value, len(s.devices))
	for _, group := range participants {
		reduced := make([]*Value, numOperands)
		for ii, operand := range inst.Operands() {
			inputs := make([]*Value, len(group))
			for rank, device := range group {
				inputs[rank] = values[operand][device.GlobalID(s.config.NumPartitions)]
			}
			reduced[ii] = reduceValues(attrs.ToApply, inputs)
		}
		for rank, device := range group {
			outputs := make([]*Value, numOperands)
			for ii, value := range reduced {
				if scatterDim >= 0 {
					value = shardOf(value, scatterDim, rank, len(group))
				}
				outputs[ii] = value
			}
			var result *Value
			if numOperands == 1 {
				result = outputs[0]
			} else {
				result = &Value{Shape: inst.Shape(), Tuple: outputs}
			}
			results[device.GlobalID(s.config.NumPartitions)] = result
		}
	}
	return results
}

// reduceValues combines the inputs elementwise with the scalar reduction computation, in order.
func reduceValues(reduction *hlo.Computation, inputs []*Value) *Value {
	flat := slices.Clone(inputs[0].Flat)
	for _, input := range inputs[1:] {
		for ii, v := range input.Flat {
			flat[ii] = evalScalar(reduction, flat[ii], v)
		}
	}
	return NewValue(inputs[0].Shape, flat)
}

// shardOf returns the rank-th of numShards equal parts of value along axis.
func shardOf(value *Value, axis, rank, numShards int) *Value {
	dims := value.Shape.Dimensions
	if dims[axis]%numShards != 0 {
		exceptions.Panicf("hlosim: dimension %d of %s cannot be split in %d shards", axis, value.Shape, numShards)
	}
	shardDim := dims[axis] / numShards
	starts := make([]int, len(dims))
	starts[axis] = rank * shardDim
	return dynamicSlice(value, starts, value.Shape.WithDim(axis, shardDim))
}

// evalScalar evaluates a computation of two scalar parameters, like the reduction computations of collectives.
func evalScalar(c *hlo.Computation, lhs, rhs float64) float64 {
	values := make(map[*hlo.Instruction]float64, c.NumInstructions())
	for _, inst := range c.MakeInstructionPostOrder() {
		var v float64
		switch inst.OpCode() {
		case hlo.OpCodeParameter:
			v = lhs
			if inst.Attrs().(*hlo.ParameterAttrs).Number == 1 {
				v = rhs
			}
		case hlo.OpCodeConstant:
			v, _ = inst.Literal().Float64At(0)
		case hlo.OpCodeConvert:
			v = convertValue(values[inst.Operand(0)], inst.Shape().DType)
		case hlo.OpCodeCopy, hlo.OpCodeReshape, hlo.OpCodeBitcast:
			v = values[inst.Operand(0)]
		default:
			v = binaryOp(inst.OpCode(), values[inst.Operand(0)], values[inst.Operand(1)])
		}
		values[inst] = v
	}
	return values[c.Root()]
}
