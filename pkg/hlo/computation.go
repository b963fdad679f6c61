// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Computation is an ordered collection of instructions, with a designated root, owned by a Module.
//
// The computation is an arena of instructions: each instruction's ID is its index in the arena, and removed
// instructions leave an empty slot, so ids are stable for the lifetime of the computation.
type Computation struct {
	name   string
	module *Module

	// instructions are only created when their operands have already been created, so the arena order is
	// a valid topological order of the graph.
	instructions []*Instruction
	numRemoved   int

	root       *Instruction
	parameters []*Instruction
	isFusion   bool
}

// Name of the computation.
func (c *Computation) Name() string { return c.name }

// Module owning the computation.
func (c *Computation) Module() *Module { return c.module }

// IsFusion returns whether the computation is the body of a fusion instruction.
func (c *Computation) IsFusion() bool { return c.isFusion }

// Root instruction of the computation, the one whose value is the result of the computation.
// It is nil until SetRoot is called.
func (c *Computation) Root() *Instruction { return c.root }

// SetRoot sets the root instruction of the computation.
func (c *Computation) SetRoot(root *Instruction) {
	c.checkInstruction("SetRoot", root)
	c.root = root
}

// Parameters of the computation, indexed by parameter number.
func (c *Computation) Parameters() []*Instruction { return c.parameters }

// NumInstructions returns the number of live (not removed) instructions.
func (c *Computation) NumInstructions() int { return len(c.instructions) - c.numRemoved }

// Instructions returns the live instructions in creation order.
func (c *Computation) Instructions() []*Instruction {
	instructions := make([]*Instruction, 0, c.NumInstructions())
	for _, inst := range c.instructions {
		if inst != nil {
			instructions = append(instructions, inst)
		}
	}
	return instructions
}

// InstructionByID returns the instruction with the given id, or nil if it doesn't exist or has been removed.
func (c *Computation) InstructionByID(id InstructionID) *Instruction {
	if id < 0 || int(id) >= len(c.instructions) {
		return nil
	}
	return c.instructions[id]
}

// InstructionByName returns the live instruction with the given name, or nil if not found.
func (c *Computation) InstructionByName(name string) *Instruction {
	for _, inst := range c.instructions {
		if inst != nil && inst.name == name {
			return inst
		}
	}
	return nil
}

// checkInstruction panics if inst is not a live instruction of c.
func (c *Computation) checkInstruction(op string, inst *Instruction) {
	if inst == nil {
		exceptions.Panicf("%s: instruction is nil, in computation %q", op, c.name)
	}
	if inst.computation != c {
		exceptions.Panicf("%s: instruction %%%s doesn't belong to computation %q (or it has been removed)",
			op, inst.name, c.name)
	}
}

// AddInstruction creates a new instruction in the computation, with the given op code, output shape, operands and
// attributes. The name is made unique within the module; if empty, the op code name is used.
//
// This is the low-level constructor used by the typed ones (Computation.Add, Computation.AllReduce, etc.):
// it only checks that operands belong to the computation.
func (c *Computation) AddInstruction(name string, opCode OpCode, shape Shape, operands []*Instruction, attrs Attrs) *Instruction {
	for ii, operand := range operands {
		if operand == nil {
			exceptions.Panicf("%s: operand #%d is nil, in computation %q", opCode, ii, c.name)
		}
		c.checkInstruction(opCode.String(), operand)
	}
	if name == "" {
		name = opCode.String()
	}
	inst := &Instruction{
		id:          InstructionID(len(c.instructions)),
		name:        c.module.uniqueName(name),
		opCode:      opCode,
		shape:       shape.Clone(),
		computation: c,
		operands:    slices.Clone(operands),
		attrs:       attrs,
	}
	for _, operand := range operands {
		operand.addUser(inst)
	}
	c.instructions = append(c.instructions, inst)
	return inst
}

// ReplaceAllUsesWith makes every user of oldInst read from newInst instead. If oldInst is the root, newInst becomes
// the root. Shapes must be equal (layouts may differ).
func (c *Computation) ReplaceAllUsesWith(oldInst, newInst *Instruction) error {
	if oldInst == nil || newInst == nil || oldInst.computation != c || newInst.computation != c {
		return errors.Errorf("ReplaceAllUsesWith: both instructions must be live instructions of computation %q", c.name)
	}
	if !oldInst.shape.Equal(newInst.shape) {
		return errors.Errorf("ReplaceAllUsesWith(%%%s, %%%s): incompatible shapes %s and %s",
			oldInst.name, newInst.name, oldInst.shape, newInst.shape)
	}
	if oldInst == newInst {
		return nil
	}
	for _, user := range slices.Clone(oldInst.users) {
		if user == newInst {
			// Don't create a cycle: newInst may read from oldInst.
			continue
		}
		user.replaceOperand(oldInst, newInst)
	}
	if c.root == oldInst {
		c.root = newInst
	}
	return nil
}

// RemoveInstruction removes an instruction that has no users and is not the root.
// Its operands' users lists are updated, and the instruction becomes invalid (Instruction.IsRemoved).
func (c *Computation) RemoveInstruction(inst *Instruction) error {
	if inst == nil || inst.computation != c {
		return errors.Errorf("RemoveInstruction: instruction is not a live instruction of computation %q", c.name)
	}
	if len(inst.users) > 0 {
		return errors.Errorf("RemoveInstruction(%%%s): instruction still has %d users", inst.name, len(inst.users))
	}
	if c.root == inst {
		return errors.Errorf("RemoveInstruction(%%%s): cannot remove the root of computation %q", inst.name, c.name)
	}
	if inst.opCode == OpCodeParameter {
		return errors.Errorf("RemoveInstruction(%%%s): cannot remove parameters", inst.name)
	}
	for _, operand := range inst.operands {
		operand.removeUser(inst)
	}
	c.instructions[inst.id] = nil
	c.numRemoved++
	inst.computation = nil
	return nil
}

// isSafelyRemovable returns whether inst can be removed once it has no users.
func (c *Computation) isSafelyRemovable(inst *Instruction) bool {
	return inst.computation == c && inst != c.root && inst.opCode != OpCodeParameter && len(inst.users) == 0
}

// RemoveInstructionAndUnusedOperands removes inst and, transitively, every operand left without users
// (parameters and the root are never removed).
func (c *Computation) RemoveInstructionAndUnusedOperands(inst *Instruction) error {
	if inst == nil || !c.isSafelyRemovable(inst) {
		return errors.Errorf("RemoveInstructionAndUnusedOperands: instruction %s cannot be removed from computation %q",
			inst, c.name)
	}
	toRemove := []*Instruction{inst}
	for len(toRemove) > 0 {
		current := toRemove[len(toRemove)-1]
		toRemove = toRemove[:len(toRemove)-1]
		if current.computation == nil {
			continue
		}
		operands := slices.Clone(current.operands)
		if err := c.RemoveInstruction(current); err != nil {
			return errors.WithMessagef(err, "while removing unused operands of %%%s", inst.name)
		}
		for _, operand := range operands {
			if c.isSafelyRemovable(operand) && !slices.Contains(toRemove, operand) {
				toRemove = append(toRemove, operand)
			}
		}
	}
	return nil
}

// MakeInstructionPostOrder returns the live instructions of the computation in post-order: every instruction
// comes after all of its operands. Instructions not reachable from the root (dead code) are included too.
func (c *Computation) MakeInstructionPostOrder() []*Instruction {
	visited := make([]bool, len(c.instructions))
	postOrder := make([]*Instruction, 0, c.NumInstructions())
	type frame struct {
		inst        *Instruction
		nextOperand int
	}
	var stack []frame
	visit := func(start *Instruction) {
		if visited[start.id] {
			return
		}
		visited[start.id] = true
		stack = append(stack, frame{inst: start})
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.nextOperand < len(top.inst.operands) {
				operand := top.inst.operands[top.nextOperand]
				top.nextOperand++
				if !visited[operand.id] {
					visited[operand.id] = true
					stack = append(stack, frame{inst: operand})
				}
				continue
			}
			postOrder = append(postOrder, top.inst)
			stack = stack[:len(stack)-1]
		}
	}
	if c.root != nil {
		visit(c.root)
	}
	for _, inst := range c.instructions {
		if inst != nil {
			visit(inst)
		}
	}
	return postOrder
}

// String prints the computation in the HLO text style, instructions in post-order.
func (c *Computation) String() string {
	var sb strings.Builder
	prefix := "%"
	if c.module != nil && c.module.entry == c {
		prefix = "ENTRY %"
	}
	_, _ = fmt.Fprintf(&sb, "%s%s {\n", prefix, c.name)
	for _, inst := range c.MakeInstructionPostOrder() {
		sb.WriteString("  ")
		if inst == c.root {
			sb.WriteString("ROOT ")
		}
		sb.WriteString(inst.String())
		sb.WriteString("\n")
	}
	sb.WriteString("}\n")
	return sb.String()
}
