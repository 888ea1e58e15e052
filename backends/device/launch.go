// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package device

import (
	"sync"
	"time"

	"github.com/gomlx/gpukernels/types/xsync"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// LaunchConfig defines the grid of a kernel launch: GlobalSize threads in total, organized in
// blocks of LocalSize threads each.
type LaunchConfig struct {
	GlobalSize, LocalSize int
}

// NumGroups returns the number of thread blocks of the launch.
func (c LaunchConfig) NumGroups() int { return c.GlobalSize / c.LocalSize }

// Kernel is the code run by each thread of a launch.
type Kernel struct {
	// Name of the kernel, used for logging and metrics.
	Name string

	// Shared allocates the shared memory of one block. It is called once per block, before any of
	// its threads start. It can be nil if the kernel uses no shared memory.
	Shared func() any

	// Body is run by every thread of every block.
	Body func(t *Thread)
}

// Thread identifies one thread of a kernel launch, and gives access to its block's shared memory
// and barrier.
type Thread struct {
	// Local is the index of the thread within its block, in [0, LocalSize).
	Local int

	// Group is the index of the block within the grid, in [0, NumGroups).
	Group int

	// LocalSize is the number of threads per block, and NumGroups the number of blocks.
	LocalSize, NumGroups int

	block *threadBlock
}

// Global returns the index of the thread within the whole grid.
func (t *Thread) Global() int { return t.Group*t.LocalSize + t.Local }

// Shared returns the shared memory of the thread's block.
func (t *Thread) Shared() any { return t.block.shared }

// Sync is the block-wide barrier: it returns only after every thread of the block called it.
// Writes to shared memory before Sync are visible to all threads of the block after it.
//
// If another thread of the block failed, Sync never returns: the thread is terminated.
func (t *Thread) Sync() {
	if !t.block.barrier.Wait() {
		panic(errBlockAborted)
	}
}

var errBlockAborted = errors.New("thread block aborted")

type threadBlock struct {
	shared  any
	barrier *xsync.Barrier

	mu    sync.Mutex
	cause error
}

// abort records the first failure of a thread and releases all threads waiting on the barrier.
func (b *threadBlock) abort(err error) {
	b.mu.Lock()
	if b.cause == nil {
		b.cause = err
	}
	b.mu.Unlock()
	b.barrier.Abort()
}

// Launch validates the launch configuration and enqueues the kernel on the stream.
//
// Configuration errors are returned immediately and nothing is enqueued. Errors while running the kernel
// (e.g. a thread panicking) are device failures, reported by Stream.Synchronize.
func (s *Stream) Launch(kernel Kernel, config LaunchConfig) error {
	if kernel.Body == nil {
		return errors.Errorf("device.Launch(%q): kernel has no body", kernel.Name)
	}
	if config.LocalSize <= 0 || config.LocalSize > s.device.config.MaxBlockSize {
		return errors.Errorf("device.Launch(%q): invalid block size %d, it must be in [1, %d]",
			kernel.Name, config.LocalSize, s.device.config.MaxBlockSize)
	}
	if config.GlobalSize <= 0 || config.GlobalSize%config.LocalSize != 0 {
		return errors.Errorf("device.Launch(%q): global size %d must be a positive multiple of block size %d",
			kernel.Name, config.GlobalSize, config.LocalSize)
	}
	klog.V(2).Infof("device.Launch(%q): %d blocks of %d threads", kernel.Name, config.NumGroups(), config.LocalSize)
	s.device.metrics.kernelLaunches.WithLabelValues(kernel.Name).Inc()
	s.device.metrics.kernelThreads.WithLabelValues(kernel.Name).Add(float64(config.GlobalSize))
	s.Enqueue(kernel.Name, func() error {
		start := time.Now()
		err := s.device.runGrid(kernel, config)
		s.device.metrics.kernelDuration.WithLabelValues(kernel.Name).Observe(time.Since(start).Seconds())
		return err
	})
	return nil
}

// runGrid runs all blocks of a launch, at most Config.Parallelism blocks at a time.
func (d *Device) runGrid(kernel Kernel, config LaunchConfig) error {
	var g errgroup.Group
	g.SetLimit(d.config.Parallelism)
	numGroups := config.NumGroups()
	for group := range numGroups {
		g.Go(func() error {
			return runBlock(kernel, config, group, numGroups)
		})
	}
	return g.Wait()
}

// runBlock runs the threads of one block, each in its own goroutine.
func runBlock(kernel Kernel, config LaunchConfig, group, numGroups int) error {
	block := &threadBlock{barrier: xsync.NewBarrier(config.LocalSize)}
	if kernel.Shared != nil {
		block.shared = kernel.Shared()
	}
	var wg sync.WaitGroup
	for local := range config.LocalSize {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if err, ok := r.(error); ok && errors.Is(err, errBlockAborted) {
					// Released by another thread's failure.
					return
				}
				block.abort(errors.Errorf("kernel %q block %d thread %d: panic: %v", kernel.Name, group, local, r))
			}()
			kernel.Body(&Thread{
				Local:     local,
				Group:     group,
				LocalSize: config.LocalSize,
				NumGroups: numGroups,
				block:     block,
			})
		}()
	}
	wg.Wait()
	return block.cause
}
