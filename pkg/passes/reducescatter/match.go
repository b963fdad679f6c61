// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reducescatter

import (
	"github.com/gomlx/spmdopt/pkg/hlo"
	"github.com/pkg/errors"
)

// matchSpec is an all-reduce, optionally followed by a reshape, whose only use is a dynamic-slice taking each
// participant's shard.
type matchSpec struct {
	allReduce *hlo.Instruction

	// reshape between the all-reduce and the dynamic-slice, or nil if there is none.
	reshape      *hlo.Instruction
	dynamicSlice *hlo.Instruction

	// splitDim is the dimension of the all-reduce (not of the reshape) being scattered.
	splitDim  int
	groupSize int
}

// matchOptions configure which patterns are matched.
type matchOptions struct {
	// minRank is the minimum rank of the all-reduce, not counting dimensions of size 1.
	minRank int

	// allowInterveningReshape accepts one reshape between the all-reduce and the dynamic-slice.
	allowInterveningReshape bool
}

// matchAllReduceScatter checks whether the all-reduce ar is followed by a dynamic-slice of each participant's
// shard. A nil spec is returned, with an error describing the reason, when it doesn't match; not matching
// is a normal outcome.
func matchAllReduceScatter(ar *hlo.Instruction, config hlo.Config, opts matchOptions) (*matchSpec, error) {
	attrs, ok := ar.AllReduce()
	if !ok {
		return nil, errors.Errorf("%%%s is not an all-reduce", ar.Name())
	}
	shape := ar.Shape()
	if !shape.IsArray() {
		return nil, errors.Errorf("%%%s has non-array shape %s", ar.Name(), shape)
	}
	if rank := nonTrivialRank(shape); rank < opts.minRank {
		return nil, errors.Errorf("%%%s has only %d dimensions larger than 1, minimum is %d", ar.Name(), rank, opts.minRank)
	}
	if attrs.HasChannelID() && !config.UseSPMDPartitioning {
		return nil, errors.Errorf("%%%s crosses partitions (channel_id=%d) but the module is not SPMD partitioned",
			ar.Name(), attrs.ChannelID)
	}
	if ar.UserCount() != 1 {
		return nil, errors.Errorf("%%%s has %d users, it must have exactly one", ar.Name(), ar.UserCount())
	}
	if ar == ar.Computation().Root() {
		return nil, errors.Errorf("%%%s is the root of its computation", ar.Name())
	}
	model, err := newGroupModel(&attrs.CollectiveAttrs, config)
	if err != nil {
		return nil, errors.WithMessagef(err, "%%%s", ar.Name())
	}

	spec := &matchSpec{allReduce: ar}
	user := ar.Users()[0]
	if user.OpCode() == hlo.OpCodeReshape {
		if !opts.allowInterveningReshape {
			return nil, errors.Errorf("%%%s is followed by reshape %%%s, and reshapes are not allowed",
				ar.Name(), user.Name())
		}
		if user.UserCount() != 1 {
			return nil, errors.Errorf("reshape %%%s has %d users, it must have exactly one", user.Name(), user.UserCount())
		}
		if user == user.Computation().Root() {
			return nil, errors.Errorf("reshape %%%s of %%%s is the root of its computation", user.Name(), ar.Name())
		}
		spec.reshape = user
		user = user.Users()[0]
	}
	ds := user
	if _, isSlice := ds.DynamicSlice(); !isSlice {
		return nil, errors.Errorf("%%%s is used by %s %%%s, not by a dynamic-slice", ar.Name(), ds.OpCode(), ds.Name())
	}
	sliced := ds.Operand(0)
	if sliced != ar && sliced != spec.reshape {
		return nil, errors.Errorf("%%%s is used as a start index of %%%s", ar.Name(), ds.Name())
	}
	spec.dynamicSlice = ds

	// The split dimension, in the coordinates of the sliced operand.
	sliceDim := -1
	for axis, size := range ds.Shape().Dimensions {
		if size == sliced.Shape().Dimensions[axis] {
			continue
		}
		if sliceDim != -1 {
			return nil, errors.Errorf("%%%s slices more than one dimension (%d and %d)", ds.Name(), sliceDim, axis)
		}
		sliceDim = axis
	}
	if sliceDim == -1 {
		return nil, errors.Errorf("%%%s doesn't slice any dimension", ds.Name())
	}

	spec.splitDim = sliceDim
	if spec.reshape != nil {
		spec.splitDim = -1
		for _, pair := range hlo.DimensionsUnmodifiedByReshape(shape, spec.reshape.Shape()) {
			if pair[1] == sliceDim {
				spec.splitDim = pair[0]
				break
			}
		}
		if spec.splitDim == -1 {
			return nil, errors.Errorf("reshape %%%s from %s to %s modifies the split dimension %d", spec.reshape.Name(),
				shape, spec.reshape.Shape(), sliceDim)
		}
	}

	splitDim, groupSize, ok := analyzeShardOffset(offsetQuery{
		model:              model,
		useGlobalDeviceIDs: attrs.UseGlobalDeviceIDs,
		offset:             ds.Operand(1 + sliceDim),
		splitDim:           spec.splitDim,
		operandDim:         sliced.Shape().Dimensions[sliceDim],
		sliceDim:           ds.Shape().Dimensions[sliceDim],
	})
	if !ok {
		return nil, errors.Errorf("offset of %%%s along dimension %d is not rank*%d for every device", ds.Name(),
			sliceDim, ds.Shape().Dimensions[sliceDim])
	}
	spec.splitDim, spec.groupSize = splitDim, groupSize
	return spec, nil
}

// nonTrivialRank returns the number of dimensions larger than 1.
func nonTrivialRank(shape hlo.Shape) (rank int) {
	for _, dim := range shape.Dimensions {
		if dim > 1 {
			rank++
		}
	}
	return
}
