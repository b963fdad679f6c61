// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reducescatter

import (
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/spmdopt/pkg/hlo"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

// Stats of one run of the pass.
type Stats struct {
	// AllReduces is the number of all-reduce instructions considered.
	AllReduces int

	// Rewrites is the number of all-reduce instructions converted to reduce-scatter.
	Rewrites int

	// BytesSaved is the sum, over the rewrites, of the bytes each participant no longer receives.
	BytesSaved uint64
}

// runContext holds the state of one run of the pass over a module.
type runContext struct {
	module *hlo.Module

	// nextChannelID is the next fresh channel id, seeded with Module.NextChannelID at the start of the run.
	nextChannelID int64

	stats Stats
}

func newRunContext(module *hlo.Module) *runContext {
	return &runContext{module: module, nextChannelID: module.NextChannelID()}
}

// newChannelID returns a channel id not used anywhere in the module.
func (ctx *runContext) newChannelID() int64 {
	id := ctx.nextChannelID
	ctx.nextChannelID++
	return id
}

// rewrite replaces the matched all-reduce, reshape and dynamic-slice by a reduce-scatter (followed by a reshape,
// if there was one) and returns the instruction now holding the slice's value.
//
// Every invariant is checked before the computation is changed. A broken invariant means the matcher accepted
// an invalid pattern: it panics with exceptions.Panicf.
func (ctx *runContext) rewrite(spec *matchSpec) *hlo.Instruction {
	ar, ds := spec.allReduce, spec.dynamicSlice
	computation := ar.Computation()
	attrs, ok := ar.AllReduce()
	if !ok {
		exceptions.Panicf("reduce-scatter: matched instruction %%%s is not an all-reduce", ar.Name())
	}

	if root := computation.Root(); ar == root || (spec.reshape != nil && spec.reshape == root) {
		exceptions.Panicf("reduce-scatter: %%%s is the root of its computation and cannot be removed", root.Name())
	}
	arShape := ar.Shape()
	if spec.splitDim < 0 || spec.splitDim >= arShape.Rank() || spec.groupSize <= 0 {
		exceptions.Panicf("reduce-scatter: invalid split dimension %d or group size %d for %%%s of shape %s",
			spec.splitDim, spec.groupSize, ar.Name(), arShape)
	}
	if arShape.Dimensions[spec.splitDim]%spec.groupSize != 0 {
		exceptions.Panicf("reduce-scatter: dimension %d of %%%s (shape %s) is not divisible by the group size %d",
			spec.splitDim, ar.Name(), arShape, spec.groupSize)
	}
	scatterShape := arShape.WithDim(spec.splitDim, arShape.Dimensions[spec.splitDim]/spec.groupSize)
	if spec.reshape == nil && !scatterShape.Equal(ds.Shape()) {
		exceptions.Panicf("reduce-scatter: shard shape %s of %%%s doesn't match the dynamic-slice %%%s shape %s",
			scatterShape, ar.Name(), ds.Name(), ds.Shape())
	}
	if spec.reshape != nil && scatterShape.Size() != ds.Shape().Size() {
		exceptions.Panicf("reduce-scatter: shard shape %s of %%%s cannot be reshaped to the dynamic-slice %%%s shape %s",
			scatterShape, ar.Name(), ds.Name(), ds.Shape())
	}

	rsAttrs := attrs.CollectiveAttrs
	rsAttrs.ReplicaGroups = make([][]int, len(attrs.ReplicaGroups))
	for ii, group := range attrs.ReplicaGroups {
		rsAttrs.ReplicaGroups[ii] = slices.Clone(group)
	}
	rsAttrs.ChannelID = 0
	if attrs.HasChannelID() {
		// The all-reduce's channel id may still be referenced, so a new one is used.
		rsAttrs.ChannelID = ctx.newChannelID()
	}
	rs := computation.ReduceScatter(scatterShape, slices.Clone(ar.Operands()), rsAttrs, spec.splitDim)
	result := rs
	if spec.reshape != nil {
		result = computation.Reshape(ds.Shape(), rs)
	}

	// The graph operations below can only fail if the match was invalid, so errors panic.
	// Detach and remove the dynamic-slice (and its no longer used offsets) and the reshape before the all-reduce,
	// since they reference it.
	must.M(computation.ReplaceAllUsesWith(ds, result))
	offsets := slices.Clone(ds.Operands()[1:])
	must.M(computation.RemoveInstruction(ds))
	for _, offset := range offsets {
		if !offset.IsRemoved() && offset.UserCount() == 0 && offset != computation.Root() &&
			offset.OpCode() != hlo.OpCodeParameter {
			must.M(computation.RemoveInstructionAndUnusedOperands(offset))
		}
	}
	if spec.reshape != nil {
		must.M(computation.RemoveInstruction(spec.reshape))
	}
	must.M(computation.RemoveInstructionAndUnusedOperands(ar))

	saved := uint64(arShape.Memory() - scatterShape.Memory())
	ctx.stats.Rewrites++
	ctx.stats.BytesSaved += saved
	klog.V(1).Infof("reduce-scatter: %%%s (%s, replica_groups=%s) converted to %%%s, scatter dimension %d, "+
		"saving %s per participant", ar.Name(), arShape, hlo.FormatReplicaGroups(attrs.ReplicaGroups), rs.Name(),
		spec.splitDim, humanize.Bytes(saved))
	return result
}
