// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package reducescatter implements the pass that converts an all-reduce, whose result is only used to take
// each participant's shard with a dynamic-slice, into a reduce-scatter: it computes and transmits only the shard
// of each participant, dividing the communication by the number of participants of the group.
//
// The pattern matched is:
//
//	%all-reduce = f32[32,8,128] all-reduce(%param), replica_groups={}, to_apply=%sum
//	[%reshape = f32[32,16,64] reshape(%all-reduce)]
//	%dynamic-slice = f32[4,8,128] dynamic-slice(%all-reduce, %offset, %zero, %zero), dynamic_slice_sizes={4,8,128}
//
// where %offset must be proven to be rank*4 for every device, rank being the position of the device in its
// replica group. The offset can be computed from the replica id, the partition id or the global device id,
// with conversions, multiplications by constants and table lookups.
//
// Usage:
//
//	changed, err := reducescatter.New().Run(module)
package reducescatter

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/spmdopt/pkg/hlo"
	"github.com/gomlx/spmdopt/pkg/passes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PassName is the name of the pass, as returned by Pass.Name.
const PassName = "reduce-scatter-creator"

// Pass converts all-reduce followed by a dynamic-slice of each participant's shard into reduce-scatter.
// Create it with New, and configure it with the With* methods.
type Pass struct {
	opts  matchOptions
	stats Stats
}

// Assert Pass implements passes.Pass.
var _ passes.Pass = (*Pass)(nil)

// New returns a new reduce-scatter creation pass, with default options.
func New() *Pass {
	return &Pass{opts: matchOptions{minRank: 1, allowInterveningReshape: true}}
}

// WithMinRank sets the minimum rank (not counting dimensions of size 1) of the all-reduce to be converted.
// Default is 1.
func (p *Pass) WithMinRank(minRank int) *Pass {
	p.opts.minRank = minRank
	return p
}

// WithInterveningReshape sets whether one reshape between the all-reduce and the dynamic-slice is accepted.
// Default is true.
func (p *Pass) WithInterveningReshape(allow bool) *Pass {
	p.opts.allowInterveningReshape = allow
	return p
}

// Name implements passes.Pass.
func (p *Pass) Name() string { return PassName }

// Stats returns the statistics of the last call to Run.
func (p *Pass) Stats() Stats { return p.stats }

// Run implements passes.Pass. It returns whether any all-reduce was converted.
//
// An error is returned only if an internal invariant is broken after a match was accepted, in which case
// the module may be left partially transformed.
func (p *Pass) Run(module *hlo.Module) (changed bool, err error) {
	ctx := newRunContext(module)
	err = exceptions.TryCatch[error](func() {
		changed = p.run(ctx)
	})
	p.stats = ctx.stats
	if err != nil {
		return changed, errors.WithMessagef(err, "%s failed on module %q", PassName, module.Name())
	}
	if changed {
		klog.V(1).Infof("%s: module %q: %d of %d all-reduce converted, saving %s per participant", PassName,
			module.Name(), ctx.stats.Rewrites, ctx.stats.AllReduces, humanize.Bytes(ctx.stats.BytesSaved))
	}
	return changed, nil
}

func (p *Pass) run(ctx *runContext) (changed bool) {
	config := ctx.module.Config()
	for _, computation := range ctx.module.NonFusionComputations() {
		// Rewrites only remove the instructions of the matched chain, and the reduce-scatter created is never
		// revisited, so the post-order taken before changing the computation can be used.
		for _, inst := range computation.MakeInstructionPostOrder() {
			if inst.IsRemoved() || inst.OpCode() != hlo.OpCodeAllReduce {
				continue
			}
			ctx.stats.AllReduces++
			spec, err := matchAllReduceScatter(inst, config, p.opts)
			if err != nil {
				klog.V(2).Infof("%s: cannot convert %s: %v", PassName, inst, err)
				continue
			}
			ctx.rewrite(spec)
			changed = true
		}
	}
	return
}
