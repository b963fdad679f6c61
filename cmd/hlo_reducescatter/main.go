// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// hlo_reducescatter converts all-reduce followed by a dynamic-slice of each participant's shard into
// reduce-scatter, in modules read from YAML or JSON files (see package hlofile), and prints a report.
//
// Usage:
//
//	hlo_reducescatter [-out <dir>] [-verify] [-parallelism <n>] [-nocolor] <module files...>
//
// With -out the converted modules are written, as YAML, to the given directory. With -verify each converted
// module is simulated on every device and its results compared with the original module's.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"k8s.io/klog/v2"
)

var (
	flagOutputDir = flag.String("out", "", "Directory where to write the converted modules. "+
		"If empty, the converted modules are not saved.")
	flagVerify = flag.Bool("verify", false, "Simulate every converted module on all its devices, and check "+
		"that the results are the same as the original module's.")
	flagParallelism = flag.Int("parallelism", -1, "Number of module files processed in parallel. "+
		"If negative, one per CPU. If 0, files are processed sequentially.")
	flagMinRank = flag.Int("min_rank", 1, "Minimum number of dimensions larger than 1 of the all-reduce "+
		"for it to be converted.")
	flagNoReshape = flag.Bool("no_reshape", false, "Don't accept a reshape between the all-reduce and the "+
		"dynamic-slice.")
	flagNoColor  = flag.Bool("nocolor", false, "Disable colors in the report.")
	flagProgress = flag.Bool("progress", true, "Display a progress bar while processing the files.")
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(),
			"Usage: %s [flags] <module files...>\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		klog.Errorf("Missing module files to process. See 'hlo_reducescatter -help'.")
		os.Exit(1)
	}
	if *flagNoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	opts := options{
		outputDir:    *flagOutputDir,
		verify:       *flagVerify,
		minRank:      *flagMinRank,
		allowReshape: !*flagNoReshape,
	}
	if *flagProgress {
		opts.progress = os.Stderr
	}
	results := processAll(files, opts, *flagParallelism)
	fmt.Println(titleStyle.Render("Reduce-scatter conversion"))
	fmt.Println(reportTable(results).Render())
	for _, r := range results {
		if r.err != nil {
			klog.Errorf("%s: %+v", r.path, r.err)
		}
	}
	if numFailed := countFailed(results); numFailed > 0 {
		klog.Errorf("%d of %d module files failed", numFailed, len(results))
		os.Exit(1)
	}
}
