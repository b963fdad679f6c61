// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Saturate(t *testing.T) {
	const maxParallelism = 3
	const numTasks = 20
	pool := New(maxParallelism)
	var running, maxRunning, done atomic.Int32
	for range numTasks {
		pool.Go(func() {
			current := running.Add(1)
			for {
				seen := maxRunning.Load()
				if current <= seen || maxRunning.CompareAndSwap(seen, current) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
			done.Add(1)
		})
	}
	pool.Wait()
	assert.Equal(t, int32(numTasks), done.Load())
	assert.LessOrEqual(t, maxRunning.Load(), int32(maxParallelism))
	assert.Equal(t, int32(0), running.Load())
}

func TestPool_TryGo(t *testing.T) {
	pool := New(1)
	release := make(chan struct{})
	require.True(t, pool.TryGo(func() { <-release }))
	assert.False(t, pool.TryGo(func() {}), "the only worker is busy")
	close(release)
	pool.Wait()
	var ran atomic.Bool
	require.True(t, pool.TryGo(func() { ran.Store(true) }))
	pool.Wait()
	assert.True(t, ran.Load())
}

func TestPool_NoParallelism(t *testing.T) {
	pool := New(0)
	count := 0
	for range 5 {
		pool.Go(func() { count++ })
	}
	// Tasks run inline, so no synchronization is needed.
	assert.Equal(t, 5, count)
	assert.False(t, pool.TryGo(func() {}))
	pool.Wait()
}

func TestPool_Unlimited(t *testing.T) {
	pool := New(-1)
	const numTasks = 10
	var started atomic.Int32
	release := make(chan struct{})
	for range numTasks {
		pool.Go(func() {
			started.Add(1)
			<-release
		})
	}
	// All tasks are started, even though none of them finished.
	require.Eventually(t, func() bool { return started.Load() == numTasks }, time.Second, time.Millisecond)
	close(release)
	pool.Wait()
	assert.Positive(t, NewDefault().MaxParallelism())
}
