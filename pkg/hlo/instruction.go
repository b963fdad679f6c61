// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
)

// InstructionID is the stable handle of an Instruction within its Computation.
// Ids are never reused: removed instructions leave their slot empty.
type InstructionID int

// Instruction is one operation in a Computation: an op code, an output shape, the operands it reads from and the
// static attributes of its op code.
//
// Instructions are created with the Computation methods (Computation.Parameter, Computation.AllReduce, etc.) and
// are owned by it. Operands are references to other instructions of the same computation, and each instruction
// keeps track of its users, so def-use edges are maintained in both directions.
type Instruction struct {
	id          InstructionID
	name        string
	opCode      OpCode
	shape       Shape
	computation *Computation

	// operands are the edges of the computation graph. users are the back-references, one entry per user
	// instruction, even if the user reads the value more than once.
	operands []*Instruction
	users    []*Instruction

	attrs Attrs
}

// ID of the instruction within its computation.
func (inst *Instruction) ID() InstructionID { return inst.id }

// Name of the instruction, unique within its module.
func (inst *Instruction) Name() string { return inst.name }

// OpCode of the instruction.
func (inst *Instruction) OpCode() OpCode { return inst.opCode }

// Shape of the instruction's output.
func (inst *Instruction) Shape() Shape { return inst.shape }

// Computation owning the instruction. It returns nil if the instruction has been removed.
func (inst *Instruction) Computation() *Computation { return inst.computation }

// IsRemoved returns whether the instruction has been removed from its computation.
func (inst *Instruction) IsRemoved() bool { return inst.computation == nil }

// Attrs returns the attributes variant of the instruction, or nil for op codes without attributes.
func (inst *Instruction) Attrs() Attrs { return inst.attrs }

// Operands returns the instructions read by this one. The returned slice should not be modified.
func (inst *Instruction) Operands() []*Instruction { return inst.operands }

// Operand returns the i-th operand.
func (inst *Instruction) Operand(i int) *Instruction { return inst.operands[i] }

// NumOperands returns the number of operands.
func (inst *Instruction) NumOperands() int { return len(inst.operands) }

// Users returns the instructions that read from this one. The returned slice should not be modified.
func (inst *Instruction) Users() []*Instruction { return inst.users }

// UserCount returns the number of distinct users of the instruction.
func (inst *Instruction) UserCount() int { return len(inst.users) }

// IsConstant returns whether the instruction is a constant.
func (inst *Instruction) IsConstant() bool { return inst.opCode == OpCodeConstant }

// Literal returns the value of a constant instruction, or nil for any other op code.
func (inst *Instruction) Literal() *Literal {
	if attrs, ok := inst.attrs.(*ConstantAttrs); ok {
		return attrs.Value
	}
	return nil
}

// AllReduce returns the attributes of an all-reduce instruction, or false if the instruction is not an all-reduce.
func (inst *Instruction) AllReduce() (*AllReduceAttrs, bool) {
	attrs, ok := inst.attrs.(*AllReduceAttrs)
	return attrs, ok
}

// ReduceScatter returns the attributes of a reduce-scatter instruction, or false if the instruction is not one.
func (inst *Instruction) ReduceScatter() (*ReduceScatterAttrs, bool) {
	attrs, ok := inst.attrs.(*ReduceScatterAttrs)
	return attrs, ok
}

// Collective returns the collective attributes of an all-reduce or reduce-scatter instruction.
func (inst *Instruction) Collective() (*CollectiveAttrs, bool) {
	switch attrs := inst.attrs.(type) {
	case *AllReduceAttrs:
		return &attrs.CollectiveAttrs, true
	case *ReduceScatterAttrs:
		return &attrs.CollectiveAttrs, true
	}
	return nil, false
}

// DynamicSlice returns the attributes of a dynamic-slice instruction, or false if the instruction is not one.
func (inst *Instruction) DynamicSlice() (*DynamicSliceAttrs, bool) {
	attrs, ok := inst.attrs.(*DynamicSliceAttrs)
	return attrs, ok
}

// AssertValid panics if the instruction is nil or has been removed from its computation.
func (inst *Instruction) AssertValid() {
	if inst == nil {
		exceptions.Panicf("hlo.Instruction is nil")
	}
	if inst.computation == nil {
		exceptions.Panicf("hlo.Instruction %%%s has been removed from its computation", inst.name)
	}
}

// addUser registers user, once, as a user of inst.
func (inst *Instruction) addUser(user *Instruction) {
	for _, u := range inst.users {
		if u == user {
			return
		}
	}
	inst.users = append(inst.users, user)
}

// removeUser drops user from the list of users of inst.
func (inst *Instruction) removeUser(user *Instruction) {
	for ii, u := range inst.users {
		if u == user {
			inst.users = append(inst.users[:ii], inst.users[ii+1:]...)
			return
		}
	}
}

// replaceOperand replaces every occurrence of oldOperand by newOperand, and updates the users' lists.
func (inst *Instruction) replaceOperand(oldOperand, newOperand *Instruction) {
	replaced := false
	for ii, operand := range inst.operands {
		if operand == oldOperand {
			inst.operands[ii] = newOperand
			replaced = true
		}
	}
	if replaced {
		oldOperand.removeUser(inst)
		newOperand.addUser(inst)
	}
}

// String implements fmt.Stringer, printing the instruction in the HLO text style, e.g.:
//
//	%dynamic-slice = f32[4,8,128] dynamic-slice(%all-reduce, %offset, %zero, %zero), dynamic_slice_sizes={4,8,128}
func (inst *Instruction) String() string {
	if inst == nil {
		return "Instruction(nil)"
	}
	var args []string
	attrs := inst.attrs
	switch a := inst.attrs.(type) {
	case *ParameterAttrs:
		args = []string{fmt.Sprintf("%d", a.Number)}
		attrs = nil
	case *ConstantAttrs:
		args = []string{a.Value.String()}
		attrs = nil
	default:
		for _, operand := range inst.operands {
			args = append(args, "%"+operand.name)
		}
	}
	str := fmt.Sprintf("%%%s = %s %s(%s)", inst.name, inst.shape, inst.opCode, strings.Join(args, ", "))
	if attrs != nil {
		str += ", " + attrs.String()
	}
	return str
}
