// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reducescatter

import (
	"fmt"

	"github.com/gomlx/spmdopt/pkg/collectives"
	"github.com/gomlx/spmdopt/pkg/hlo"
	"k8s.io/klog/v2"
)

// This file holds the shard-offset analyzer: it proves that the start offset of a dynamic-slice, computed at
// runtime from the device ids, is rank(device)*shardSize for every legal device.
//
// The recognized offsets are described by two small grammars, evaluated by structural recursion:
//
//   - offsetGrammar: the forms of an offset for a given shard size. The productions are tried in order, and
//     the first one that applies decides.
//   - device index values (see offsetAnalyzer.deviceIndex): integer scalars computed from the device ids,
//     which can be evaluated for any device.
//
// Proofs are done by evaluating the device index values on every legal device and comparing them
// to the device's rank.

// deviceValue is the value of an integer scalar subgraph as a function of the device executing it.
// It returns false if the value is not defined for the device, e.g.: if a table index is out of range.
type deviceValue func(device collectives.Device) (int64, bool)

// deviceSources is the set of device ids a device index value reads.
type deviceSources uint8

const (
	readsReplica deviceSources = 1 << iota
	readsPartition
)

// offsetQuery is the input of analyzeShardOffset.
type offsetQuery struct {
	model              *groupModel
	useGlobalDeviceIDs bool

	// offset is the instruction computing the start index of the dynamic-slice along splitDim.
	offset *hlo.Instruction

	// splitDim is the dimension being split, operandDim its size in the dynamic-slice operand and
	// sliceDim the size of the slice.
	splitDim, operandDim, sliceDim int
}

// analyzeShardOffset returns the split dimension and the group size of a query, if the offset is proven to be
// rank(device)*sliceDim for every legal device and the operand dimension is split evenly among the
// participants of each group. Not matching is a normal outcome, logged with klog.V(2).
func analyzeShardOffset(q offsetQuery) (splitDim, groupSize int, ok bool) {
	if q.sliceDim <= 0 || q.operandDim%q.sliceDim != 0 {
		klog.V(2).Infof("reduce-scatter: slice size %d doesn't divide dimension %d of size %d",
			q.sliceDim, q.splitDim, q.operandDim)
		return 0, 0, false
	}
	groupSize = q.operandDim / q.sliceDim
	if groupSize != q.model.groupSize {
		klog.V(2).Infof("reduce-scatter: dimension %d split in %d shards, but replica groups have %d participants",
			q.splitDim, groupSize, q.model.groupSize)
		return 0, 0, false
	}
	a := &offsetAnalyzer{model: q.model, useGlobalDeviceIDs: q.useGlobalDeviceIDs}
	if !a.isShardOffset(q.offset, int64(q.sliceDim)) {
		klog.V(2).Infof("reduce-scatter: cannot prove offset %%%s is rank*%d: %s", q.offset.Name(), q.sliceDim, a.reason)
		return 0, 0, false
	}
	if q.model.mode == collectives.FlattenedID && a.sources == readsPartition &&
		!collectives.IsOrthogonal(q.model.groups, q.model.replicaCount, q.model.numPartitions) {
		klog.V(2).Infof("reduce-scatter: offset %%%s only depends on the partition id, but replica groups %s are "+
			"not orthogonal across replicas", q.offset.Name(), hlo.FormatReplicaGroups(q.model.groups))
		return 0, 0, false
	}
	return q.splitDim, groupSize, true
}

// offsetAnalyzer holds the state of one analysis.
type offsetAnalyzer struct {
	model              *groupModel
	useGlobalDeviceIDs bool

	// sources are the device ids read by the proven offset.
	sources deviceSources

	// reason is the first reason the proof failed, for logging.
	reason string
}

// fail records the reason of a failure, and returns false.
func (a *offsetAnalyzer) fail(format string, args ...any) bool {
	if a.reason == "" {
		a.reason = fmt.Sprintf(format, args...)
	}
	return false
}

// offsetProduction is one recognized form of a shard offset.
// apply returns applies=false if x doesn't have the production's form. Otherwise, proven tells whether x
// evaluates to rank*shardSize on every legal device.
type offsetProduction struct {
	name  string
	apply func(a *offsetAnalyzer, x *hlo.Instruction, shardSize int64) (applies, proven bool)
}

// offsetGrammar is set in init, since its productions recurse into it.
var offsetGrammar []offsetProduction

func init() {
	offsetGrammar = []offsetProduction{
		{"scale", (*offsetAnalyzer).scale},
		{"device-rank", (*offsetAnalyzer).deviceRank},
		{"passthrough", (*offsetAnalyzer).passthrough},
		{"widening-convert", (*offsetAnalyzer).wideningConvert},
		{"clamp", (*offsetAnalyzer).clamp},
		{"table-lookup", (*offsetAnalyzer).tableLookup},
	}
}

// isShardOffset returns whether x evaluates to rank*shardSize on every legal device.
func (a *offsetAnalyzer) isShardOffset(x *hlo.Instruction, shardSize int64) bool {
	if !x.Shape().IsEffectiveScalar() || !x.Shape().DType.IsInt() {
		return a.fail("%%%s is not an integer scalar", x.Name())
	}
	maxOffset := int64(a.model.groupSize-1) * shardSize
	if _, maxValue := hlo.IntRange(x.Shape().DType); maxOffset > maxValue {
		return a.fail("%%%s of type %s cannot hold the offset %d of the last shard", x.Name(),
			hlo.DTypeName(x.Shape().DType), maxOffset)
	}
	for _, production := range offsetGrammar {
		applies, proven := production.apply(a, x, shardSize)
		if applies {
			if klog.V(3).Enabled() {
				klog.Infof("reduce-scatter: %%%s matched %q with shard size %d: proven=%v",
					x.Name(), production.name, shardSize, proven)
			}
			return proven
		}
	}
	return a.fail("%s is not a recognized offset for shard size %d", x, shardSize)
}

// scale: multiply(x, constant c), in either order, with c dividing the shard size.
func (a *offsetAnalyzer) scale(x *hlo.Instruction, shardSize int64) (applies, proven bool) {
	if x.OpCode() != hlo.OpCodeMultiply {
		return false, false
	}
	for ii := range 2 {
		c, ok := integerConstant(x.Operand(ii))
		if !ok {
			continue
		}
		if c <= 0 || shardSize%c != 0 {
			return true, a.fail("%%%s multiplies by %d, which doesn't divide the shard size %d", x.Name(), c, shardSize)
		}
		return true, a.isShardOffset(x.Operand(1-ii), shardSize/c)
	}
	return false, false
}

// deviceRank: for a shard of size 1, a device index value equal to the rank of every device.
func (a *offsetAnalyzer) deviceRank(x *hlo.Instruction, shardSize int64) (applies, proven bool) {
	if shardSize != 1 {
		return false, false
	}
	value, sources, ok := a.deviceIndex(x)
	if !ok {
		return false, false
	}
	if !a.equalsRankTimes(x, value, 1) {
		return true, false
	}
	a.sources |= sources
	return true, true
}

// passthrough: reshape, bitcast or copy of an effective scalar.
func (a *offsetAnalyzer) passthrough(x *hlo.Instruction, shardSize int64) (applies, proven bool) {
	if !isPassthrough(x) {
		return false, false
	}
	return true, a.isShardOffset(x.Operand(0), shardSize)
}

// wideningConvert: conversion between integer types that doesn't reduce the number of bits.
func (a *offsetAnalyzer) wideningConvert(x *hlo.Instruction, shardSize int64) (applies, proven bool) {
	if !isWideningConvert(x) {
		return false, false
	}
	return true, a.isShardOffset(x.Operand(0), shardSize)
}

// clamp: clamp(constant lo, x, constant hi) with bounds that never affect a valid shard offset.
func (a *offsetAnalyzer) clamp(x *hlo.Instruction, shardSize int64) (applies, proven bool) {
	if x.OpCode() != hlo.OpCodeClamp {
		return false, false
	}
	lo, okLo := integerConstant(x.Operand(0))
	hi, okHi := integerConstant(x.Operand(2))
	if !okLo || !okHi {
		return false, false
	}
	maxOffset := int64(a.model.groupSize-1) * shardSize
	if lo > 0 || hi < maxOffset {
		return true, a.fail("%%%s clamps to [%d, %d], which cuts valid offsets in [0, %d]", x.Name(), lo, hi, maxOffset)
	}
	return true, a.isShardOffset(x.Operand(1), shardSize)
}

// tableLookup: table[index], with a rank-1 constant (or iota) table and index a device index value, where
// every device reads rank*shardSize.
func (a *offsetAnalyzer) tableLookup(x *hlo.Instruction, shardSize int64) (applies, proven bool) {
	value, sources, ok := a.lookup(x)
	if !ok {
		return false, false
	}
	if !a.equalsRankTimes(x, value, shardSize) {
		return true, false
	}
	a.sources |= sources
	return true, true
}

// equalsRankTimes checks that value is rank*shardSize for every legal device.
func (a *offsetAnalyzer) equalsRankTimes(x *hlo.Instruction, value deviceValue, shardSize int64) bool {
	for _, device := range a.model.devices {
		got, ok := value(device)
		if !ok {
			return a.fail("%%%s is undefined on device %s", x.Name(), device)
		}
		if want := a.model.rank(device) * shardSize; got != want {
			return a.fail("%%%s is %d on device %s, but rank*%d is %d", x.Name(), got, device, shardSize, want)
		}
	}
	return true
}

// deviceIndex returns how to evaluate x for any device, if x is a device index value:
//
//   - replica-id or partition-id;
//   - a widening convert, reshape, bitcast or copy of a device index value;
//   - the global device id, add(multiply(replica, constant numPartitions), partition), only for collectives using
//     global device ids;
//   - a table lookup keyed by a device index value.
func (a *offsetAnalyzer) deviceIndex(x *hlo.Instruction) (value deviceValue, sources deviceSources, ok bool) {
	switch {
	case x.OpCode() == hlo.OpCodeReplicaID:
		return func(d collectives.Device) (int64, bool) { return int64(d.Replica), true }, readsReplica, true
	case x.OpCode() == hlo.OpCodePartitionID:
		return func(d collectives.Device) (int64, bool) { return int64(d.Partition), true }, readsPartition, true
	case isPassthrough(x), isWideningConvert(x):
		return a.deviceIndex(x.Operand(0))
	case x.OpCode() == hlo.OpCodeAdd && a.useGlobalDeviceIDs:
		return a.globalID(x)
	case x.OpCode() == hlo.OpCodeDynamicSlice:
		return a.lookup(x)
	}
	return nil, 0, false
}

// globalID matches add(multiply(replica, constant numPartitions), partition), with the operands of the add and
// of the multiply in any order.
func (a *offsetAnalyzer) globalID(x *hlo.Instruction) (value deviceValue, sources deviceSources, ok bool) {
	numPartitions := int64(a.model.numPartitions)
	for ii := range 2 {
		scaled, partition := x.Operand(ii), x.Operand(1-ii)
		if scaled.OpCode() != hlo.OpCodeMultiply {
			continue
		}
		partitionValue, partitionSources, ok := a.deviceIndex(partition)
		if !ok || partitionSources != readsPartition {
			continue
		}
		for jj := range 2 {
			c, isConstant := integerConstant(scaled.Operand(jj))
			if !isConstant || c != numPartitions {
				continue
			}
			replicaValue, replicaSources, ok := a.deviceIndex(scaled.Operand(1 - jj))
			if !ok || replicaSources != readsReplica {
				continue
			}
			_, maxScaled := hlo.IntRange(scaled.Shape().DType)
			_, maxID := hlo.IntRange(x.Shape().DType)
			value = func(d collectives.Device) (int64, bool) {
				r, okR := replicaValue(d)
				p, okP := partitionValue(d)
				id := r*numPartitions + p
				return id, okR && okP && r*numPartitions <= maxScaled && id <= maxID
			}
			return value, readsReplica | readsPartition, true
		}
	}
	return nil, 0, false
}

// lookup matches a dynamic-slice of size 1 of a rank-1 table (constant or iota), indexed by a device index value.
// Indices out of the table's range make the value undefined for the device.
func (a *offsetAnalyzer) lookup(x *hlo.Instruction) (value deviceValue, sources deviceSources, ok bool) {
	attrs, isSlice := x.DynamicSlice()
	if !isSlice || len(attrs.SliceSizes) != 1 || attrs.SliceSizes[0] != 1 {
		return nil, 0, false
	}
	table, tableSize, ok := tableValues(x.Operand(0))
	if !ok {
		return nil, 0, false
	}
	index, sources, ok := a.deviceIndex(x.Operand(1))
	if !ok {
		return nil, 0, false
	}
	value = func(d collectives.Device) (int64, bool) {
		idx, ok := index(d)
		if !ok || idx < 0 || idx >= int64(tableSize) {
			return 0, false
		}
		return table(int(idx))
	}
	return value, sources, true
}

// tableValues returns the accessor to the elements of a rank-1 integer constant or iota.
func tableValues(table *hlo.Instruction) (values func(idx int) (int64, bool), size int, ok bool) {
	shape := table.Shape()
	if !shape.IsArray() || shape.Rank() != 1 || !shape.DType.IsInt() {
		return nil, 0, false
	}
	switch table.OpCode() {
	case hlo.OpCodeConstant:
		return table.Literal().Int64At, shape.Dim(0), true
	case hlo.OpCodeIota:
		return func(idx int) (int64, bool) { return int64(idx), true }, shape.Dim(0), true
	}
	return nil, 0, false
}

// integerConstant returns the value of an effective scalar integer constant.
func integerConstant(x *hlo.Instruction) (int64, bool) {
	if !x.IsConstant() || !x.Shape().IsEffectiveScalar() || !x.Shape().DType.IsInt() {
		return 0, false
	}
	return x.Literal().ScalarInt64()
}

// isPassthrough returns whether x is a reshape, bitcast or copy of an effective scalar: it doesn't change the value.
func isPassthrough(x *hlo.Instruction) bool {
	switch x.OpCode() {
	case hlo.OpCodeReshape, hlo.OpCodeBitcast, hlo.OpCodeCopy:
		return x.Shape().IsEffectiveScalar() && x.Operand(0).Shape().IsEffectiveScalar()
	}
	return false
}

// isWideningConvert returns whether x converts an integer to an integer type with at least as many bits.
func isWideningConvert(x *hlo.Instruction) bool {
	if x.OpCode() != hlo.OpCodeConvert {
		return false
	}
	from, to := x.Operand(0).Shape().DType, x.Shape().DType
	return from.IsInt() && to.IsInt() && to.Memory() >= from.Memory()
}
