// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"fmt"
	"slices"
	"strings"
)

// Attrs holds the static (non-operand) attributes of an Instruction.
//
// It's a closed set of variants: ParameterAttrs, ConstantAttrs, IotaAttrs, DynamicSliceAttrs, AllReduceAttrs,
// ReduceScatterAttrs and FusionAttrs. Instructions whose op code needs no attributes (e.g.: add, reshape) have
// nil Attrs.
type Attrs interface {
	// String prints the attributes in the HLO style, e.g.: `dynamic_slice_sizes={4,8,128}`.
	String() string

	// clone returns a copy of the attributes, with called computations mapped through remap.
	clone(remap func(*Computation) *Computation) Attrs
}

// ParameterAttrs are the attributes of OpCodeParameter.
type ParameterAttrs struct {
	Number int
}

func (a *ParameterAttrs) String() string { return fmt.Sprintf("parameter_number=%d", a.Number) }

func (a *ParameterAttrs) clone(func(*Computation) *Computation) Attrs {
	return &ParameterAttrs{Number: a.Number}
}

// ConstantAttrs are the attributes of OpCodeConstant.
type ConstantAttrs struct {
	Value *Literal
}

func (a *ConstantAttrs) String() string { return "value=" + a.Value.String() }

func (a *ConstantAttrs) clone(func(*Computation) *Computation) Attrs {
	return &ConstantAttrs{Value: a.Value.Clone()}
}

// IotaAttrs are the attributes of OpCodeIota: the generated sequence increments along Dimension.
type IotaAttrs struct {
	Dimension int
}

func (a *IotaAttrs) String() string { return fmt.Sprintf("iota_dimension=%d", a.Dimension) }

func (a *IotaAttrs) clone(func(*Computation) *Computation) Attrs {
	return &IotaAttrs{Dimension: a.Dimension}
}

// DynamicSliceAttrs are the attributes of OpCodeDynamicSlice: the fixed per-dimension sizes of the slice.
type DynamicSliceAttrs struct {
	SliceSizes []int
}

func (a *DynamicSliceAttrs) String() string {
	return fmt.Sprintf("dynamic_slice_sizes={%s}", joinInts(a.SliceSizes))
}

func (a *DynamicSliceAttrs) clone(func(*Computation) *Computation) Attrs {
	return &DynamicSliceAttrs{SliceSizes: slices.Clone(a.SliceSizes)}
}

// CollectiveAttrs are the attributes shared by the cross-device reductions (all-reduce and reduce-scatter).
type CollectiveAttrs struct {
	// ToApply is the commutative and associative reduction computation, taking two scalars.
	ToApply *Computation

	// ReplicaGroups is the list of participant groups. The position of a participant within its group is its rank.
	// An empty list means one group with every participant.
	ReplicaGroups [][]int

	// ChannelID identifies collectives that cross partition boundaries. Channel ids are positive,
	// 0 means the collective has no channel id.
	ChannelID int64

	// UseGlobalDeviceIDs indicates the ReplicaGroups list global device ids (replica*numPartitions+partition).
	UseGlobalDeviceIDs bool

	// ConstrainLayout indicates the operands' layouts must be kept as they are.
	ConstrainLayout bool
}

// HasChannelID returns whether the collective carries a channel id.
func (a *CollectiveAttrs) HasChannelID() bool { return a.ChannelID > 0 }

func (a *CollectiveAttrs) clonedCollective(remap func(*Computation) *Computation) CollectiveAttrs {
	c := *a
	c.ToApply = remap(a.ToApply)
	c.ReplicaGroups = make([][]int, len(a.ReplicaGroups))
	for ii, group := range a.ReplicaGroups {
		c.ReplicaGroups[ii] = slices.Clone(group)
	}
	return c
}

func (a *CollectiveAttrs) String() string {
	var parts []string
	parts = append(parts, "replica_groups="+FormatReplicaGroups(a.ReplicaGroups))
	if a.ConstrainLayout {
		parts = append(parts, "constrain_layout=true")
	}
	if a.HasChannelID() {
		parts = append(parts, fmt.Sprintf("channel_id=%d", a.ChannelID))
	}
	if a.UseGlobalDeviceIDs {
		parts = append(parts, "use_global_device_ids=true")
	}
	if a.ToApply != nil {
		parts = append(parts, "to_apply=%"+a.ToApply.Name())
	}
	return strings.Join(parts, ", ")
}

// AllReduceAttrs are the attributes of OpCodeAllReduce.
type AllReduceAttrs struct {
	CollectiveAttrs
}

func (a *AllReduceAttrs) clone(remap func(*Computation) *Computation) Attrs {
	return &AllReduceAttrs{CollectiveAttrs: a.clonedCollective(remap)}
}

// ReduceScatterAttrs are the attributes of OpCodeReduceScatter: the collective attributes plus the dimension
// along which the reduced result is scattered.
type ReduceScatterAttrs struct {
	CollectiveAttrs
	ScatterDimension int
}

func (a *ReduceScatterAttrs) String() string {
	return fmt.Sprintf("%s, dimensions={%d}", a.CollectiveAttrs.String(), a.ScatterDimension)
}

func (a *ReduceScatterAttrs) clone(remap func(*Computation) *Computation) Attrs {
	return &ReduceScatterAttrs{CollectiveAttrs: a.clonedCollective(remap), ScatterDimension: a.ScatterDimension}
}

// FusionAttrs are the attributes of OpCodeFusion.
type FusionAttrs struct {
	Called *Computation
}

func (a *FusionAttrs) String() string { return "calls=%" + a.Called.Name() }

func (a *FusionAttrs) clone(remap func(*Computation) *Computation) Attrs {
	return &FusionAttrs{Called: remap(a.Called)}
}

// FormatReplicaGroups prints the replica groups in the HLO style, e.g.: `{{0,1},{2,3}}` or `{}`.
func FormatReplicaGroups(groups [][]int) string {
	parts := make([]string, len(groups))
	for ii, group := range groups {
		parts[ii] = "{" + joinInts(group) + "}"
	}
	return "{" + strings.Join(parts, ",") + "}"
}
