// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package passes defines the interface of module transformations (optimization passes) and a helper to run
// a sequence of them.
//
// The passes themselves live in the sub-packages, e.g. reducescatter.
package passes

import (
	"github.com/gomlx/spmdopt/pkg/hlo"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Pass transforms a module in place.
type Pass interface {
	// Name of the pass, used for logging.
	Name() string

	// Run the pass over the module, and return whether the module was changed.
	//
	// An error means an internal invariant was broken, and the module may have been left in an
	// inconsistent state.
	Run(module *hlo.Module) (changed bool, err error)
}

// RunAll runs the passes in order over the module, and returns whether any of them changed it.
// It stops at the first error.
func RunAll(module *hlo.Module, passes ...Pass) (changed bool, err error) {
	for _, pass := range passes {
		passChanged, err := pass.Run(module)
		if err != nil {
			return changed, errors.WithMessagef(err, "running pass %q on module %q", pass.Name(), module.Name())
		}
		klog.V(1).Infof("pass %q on module %q: changed=%v", pass.Name(), module.Name(), passChanged)
		changed = changed || passChanged
	}
	return changed, nil
}
