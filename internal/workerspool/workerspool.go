// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs tasks in goroutines, limiting how many run at the same time.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool of workers. Create it with New, start tasks with Go or TryGo, and wait for them with Wait.
type Pool struct {
	// maxParallelism is the limit of tasks running at the same time. If 0 tasks are run inline,
	// and if negative there is no limit.
	maxParallelism int

	mu         sync.Mutex
	cond       sync.Cond // Broadcast whenever numRunning is decreased.
	numRunning int
}

// New returns a new Pool that runs at most maxParallelism tasks at the same time.
// If maxParallelism is 0, tasks are run inline by Go; if it is negative, parallelism is unlimited.
func New(maxParallelism int) *Pool {
	w := &Pool{maxParallelism: maxParallelism}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// NewDefault returns a Pool with one worker per CPU.
func NewDefault() *Pool {
	return New(runtime.NumCPU())
}

// MaxParallelism returns the limit of tasks running at the same time. See New.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// lockedIsFull returns whether no more tasks can be started.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// lockedStart runs the task in a goroutine, keeping tabs on Pool.numRunning.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedStart(task func()) {
	w.numRunning++
	go func() {
		defer w.taskDone()
		task()
	}()
}

func (w *Pool) taskDone() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.numRunning--
	w.cond.Broadcast()
}

// Go waits until a worker is available and runs the task in it.
//
// If parallelism is disabled (maxParallelism is 0), it runs the task inline and returns when it is finished.
func (w *Pool) Go(task func()) {
	if w.maxParallelism == 0 {
		task()
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.lockedStart(task)
}

// TryGo runs the task in a separate goroutine, if there is a worker available.
// It returns whether the task was started.
func (w *Pool) TryGo(task func()) bool {
	if w.maxParallelism == 0 {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lockedIsFull() {
		return false
	}
	w.lockedStart(task)
	return true
}

// Wait blocks until all tasks started have finished. Tasks can still be started while waiting.
func (w *Pool) Wait() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.numRunning > 0 {
		w.cond.Wait()
	}
}
