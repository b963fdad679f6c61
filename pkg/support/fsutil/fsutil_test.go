// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os/user"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputPath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	exists, err := FileExists(dir)
	require.NoError(t, err)
	require.False(t, exists)

	path, err := OutputPath(dir, "/some/where/module.json", ".yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "module.yaml"), path)
	exists, err = FileExists(dir)
	require.NoError(t, err)
	require.True(t, exists, "output directory should have been created")
}

func TestExpandHome(t *testing.T) {
	path, err := ExpandHome("/tmp/x")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x", path)

	usr, err := user.Current()
	if err != nil {
		t.Skipf("current user unknown: %v", err)
	}
	path, err = ExpandHome("~/modules")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(usr.HomeDir, "modules"), path)
	path, err = ExpandHome("~")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(usr.HomeDir), path)
}
