// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

// OpCode is an enum of the operations an Instruction can perform.
//
// It's a closed set: passes switch over it exhaustively, and instructions carry the matching
// attributes variant (see Attrs).
type OpCode int

//go:generate go tool enumer -type=OpCode -trimprefix=OpCode -transform=kebab -output=gen_opcode_enumer.go opcode.go

const (
	OpCodeInvalid OpCode = iota
	OpCodeParameter
	OpCodeConstant
	OpCodeIota
	OpCodeReplicaID
	OpCodePartitionID

	OpCodeConvert
	OpCodeReshape
	OpCodeBitcast
	OpCodeCopy

	OpCodeAdd
	OpCodeSubtract
	OpCodeMultiply
	OpCodeMaximum
	OpCodeMinimum
	OpCodeClamp

	OpCodeDynamicSlice

	// Collective (distributed across devices) operations

	OpCodeAllReduce
	OpCodeReduceScatter

	OpCodeFusion

	// OpCodeLast should always be kept the last, it is used as a counter/marker for OpCode.
	OpCodeLast
)

// IsElementwiseBinary returns whether the op code is one of the elementwise binary arithmetic operations.
func (op OpCode) IsElementwiseBinary() bool {
	switch op {
	case OpCodeAdd, OpCodeSubtract, OpCodeMultiply, OpCodeMaximum, OpCodeMinimum:
		return true
	default:
		return false
	}
}

// IsCollective returns whether the op code communicates across devices.
func (op OpCode) IsCollective() bool {
	return op == OpCodeAllReduce || op == OpCodeReduceScatter
}
