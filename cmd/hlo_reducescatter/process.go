// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"

	"github.com/gomlx/spmdopt/internal/workerspool"
	"github.com/gomlx/spmdopt/pkg/hlo"
	"github.com/gomlx/spmdopt/pkg/hlo/hlofile"
	"github.com/gomlx/spmdopt/pkg/hlo/hlosim"
	"github.com/gomlx/spmdopt/pkg/passes"
	"github.com/gomlx/spmdopt/pkg/passes/reducescatter"
	"github.com/gomlx/spmdopt/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// options of the processing of each file.
type options struct {
	outputDir    string
	verify       bool
	minRank      int
	allowReshape bool

	// progress is where to display the progress bar. If nil no progress bar is displayed.
	progress io.Writer
}

// result of processing one module file.
type result struct {
	path, outputPath string
	module           string
	changed          bool
	verified         bool
	stats            reducescatter.Stats
	err              error
}

// processAll processes the files in parallel, and returns the results in the same order as the files.
// If parallelism is negative, one file per CPU is processed at a time, and if it is 0 files are processed
// sequentially.
func processAll(files []string, opts options, parallelism int) []result {
	var bar *progressbar.ProgressBar
	if opts.progress != nil {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("Converting"),
			progressbar.OptionSetWriter(opts.progress),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("modules"),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		)
	}
	results := make([]result, len(files))
	pool := workerspool.NewDefault()
	if parallelism >= 0 {
		pool = workerspool.New(parallelism)
	}
	klog.V(1).Infof("processing %d module files, %d at a time", len(files), pool.MaxParallelism())
	for ii, path := range files {
		pool.Go(func() {
			results[ii] = processFile(path, opts, pool)
			if bar != nil {
				_ = bar.Add(1)
			}
		})
	}
	pool.Wait()
	if bar != nil {
		_ = bar.Finish()
		_, _ = io.WriteString(opts.progress, "\n")
	}
	return results
}

// processFile reads the module in path, converts it, and optionally verifies and writes the result.
// Verification uses a free worker of pool, if there is one.
func processFile(path string, opts options, pool *workerspool.Pool) (r result) {
	r.path = path
	exists, err := fsutil.FileExists(path)
	if err == nil && !exists {
		err = errors.Errorf("module file %q not found", path)
	}
	if err != nil {
		r.err = err
		return
	}
	module, err := hlofile.ReadFile(path)
	if err != nil {
		r.err = err
		return
	}
	r.module = module.Name()
	var original *hlo.Module
	if opts.verify {
		original = module.Clone()
	}

	pass := reducescatter.New().WithMinRank(opts.minRank).WithInterveningReshape(opts.allowReshape)
	r.changed, err = passes.RunAll(module, pass)
	r.stats = pass.Stats()
	if err != nil {
		r.err = err
		return
	}
	if opts.verify && r.changed {
		if err = verify(original, module, pool); err != nil {
			r.err = err
			return
		}
		r.verified = true
	}
	if opts.outputDir != "" {
		r.outputPath, err = fsutil.OutputPath(opts.outputDir, path, ".yaml")
		if err == nil {
			err = hlofile.WriteFile(r.outputPath, module)
		}
		if err != nil {
			r.err = err
			return
		}
	}
	klog.V(1).Infof("%s: module %q, %d of %d all-reduce converted", path, r.module, r.stats.Rewrites,
		r.stats.AllReduces)
	return
}

// verify simulates both modules on every device, with distinct inputs per device, and compares the results.
// The original module is simulated in a worker of pool if one is free, concurrently with the converted one.
func verify(original, converted *hlo.Module, pool *workerspool.Pool) error {
	entry := original.Entry()
	if entry == nil {
		return errors.Errorf("module %q has no entry computation to verify", original.Name())
	}
	params := make([][]*hlosim.Value, original.Config().NumDevices())
	for globalID := range params {
		for paramIdx, param := range entry.Parameters() {
			if !param.Shape().IsArray() {
				return errors.Errorf("cannot verify module %q: parameter %%%s has tuple shape %s", original.Name(),
					param.Name(), param.Shape())
			}
			start := float64(1000*globalID + 100*paramIdx)
			params[globalID] = append(params[globalID], hlosim.Iota(param.Shape(), start))
		}
	}
	var want []*hlosim.Value
	var wantErr error
	done := make(chan struct{})
	simulateOriginal := func() {
		defer close(done)
		want, wantErr = hlosim.Run(original, params)
	}
	if !pool.TryGo(simulateOriginal) {
		simulateOriginal()
	}
	got, err := hlosim.Run(converted, params)
	<-done
	if wantErr != nil {
		return errors.WithMessage(wantErr, "verifying original module")
	}
	if err != nil {
		return errors.WithMessage(err, "verifying converted module")
	}
	for globalID := range want {
		if !want[globalID].Equal(got[globalID]) {
			return errors.Errorf("converted module %q gives different results on device #%d", original.Name(),
				globalID)
		}
	}
	return nil
}

func countFailed(results []result) (count int) {
	for _, r := range results {
		if r.err != nil {
			count++
		}
	}
	return
}
