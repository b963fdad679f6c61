// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/gomlx/spmdopt/internal/workerspool"
	"github.com/gomlx/spmdopt/pkg/hlo"
	"github.com/gomlx/spmdopt/pkg/hlo/hlofile"
	"github.com/gomlx/spmdopt/pkg/passes/reducescatter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessAll(t *testing.T) {
	outputDir := t.TempDir()
	files := []string{
		filepath.Join("testdata", "all_replicas.yaml"),
		filepath.Join("testdata", "wrong_offsets.json"),
		filepath.Join("testdata", "missing.yaml"),
	}
	var progress bytes.Buffer
	opts := options{outputDir: outputDir, verify: true, minRank: 1, allowReshape: true, progress: &progress}
	results := processAll(files, opts, 2)
	require.Len(t, results, 3)

	converted := results[0]
	require.NoError(t, converted.err)
	assert.Equal(t, "all_replicas", converted.module)
	assert.True(t, converted.changed)
	assert.True(t, converted.verified)
	assert.Equal(t, 1, converted.stats.Rewrites)
	assert.Equal(t, uint64(28*8*128*4), converted.stats.BytesSaved)
	assert.Equal(t, filepath.Join(outputDir, "all_replicas.yaml"), converted.outputPath)
	module, err := hlofile.ReadFile(converted.outputPath)
	require.NoError(t, err)
	assert.Equal(t, hlo.OpCodeReduceScatter, module.Entry().Root().OpCode())

	unchanged := results[1]
	require.NoError(t, unchanged.err)
	assert.False(t, unchanged.changed)
	assert.False(t, unchanged.verified)
	assert.Equal(t, 1, unchanged.stats.AllReduces)
	assert.Equal(t, 0, unchanged.stats.Rewrites)
	assert.Equal(t, "unchanged", status(unchanged))

	require.ErrorContains(t, results[2].err, "not found")
	assert.Equal(t, "failed", status(results[2]))
	assert.Equal(t, 1, countFailed(results))
	assert.NotEmpty(t, progress.String())

	report := reportTable(results).Render()
	for _, want := range []string{"all_replicas", "wrong_offsets", "Rewrites", "115 kB", "3 files", "1 failed"} {
		assert.Contains(t, report, want)
	}
}

func TestProcessFileSequential(t *testing.T) {
	path := filepath.Join("testdata", "all_replicas.yaml")
	results := processAll([]string{path}, options{minRank: 4}, 0)
	require.Len(t, results, 1)
	require.NoError(t, results[0].err)
	assert.False(t, results[0].changed, "rank 3 all-reduce is below the minimum rank")
	assert.Empty(t, results[0].outputPath)

	results = processAll([]string{path}, options{minRank: 1, verify: true}, -1)
	require.NoError(t, results[0].err)
	assert.True(t, results[0].changed)
	assert.True(t, results[0].verified)
	assert.Equal(t, "verified", status(results[0]))
}

func TestVerify(t *testing.T) {
	original, err := hlofile.ReadFile(filepath.Join("testdata", "all_replicas.yaml"))
	require.NoError(t, err)
	converted := original.Clone()
	changed, err := reducescatter.New().Run(converted)
	require.NoError(t, err)
	require.True(t, changed)

	broken := original.Clone()
	broken.Entry().SetRoot(broken.Entry().Parameters()[0])

	for _, parallelism := range []int{0, 1, 2} {
		t.Run(fmt.Sprintf("parallelism=%d", parallelism), func(t *testing.T) {
			pool := workerspool.New(parallelism)
			require.NoError(t, verify(original, converted, pool))
			require.ErrorContains(t, verify(original, broken, pool), "different results")
			pool.Wait()
		})
	}
}
