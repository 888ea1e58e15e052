// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package device implements the software device the kernels run on.
//
// It models what the kernels need from a GPU runtime:
//
//   - Device memory as raw, 8-byte aligned, byte buffers (Buffer), allocated and freed by the executor.
//     Kernels only see borrowed references to them (Argument), for the duration of one call.
//   - In-order streams (Stream) of asynchronous operations: memory copies, memsets, kernel launches and
//     library calls. Errors are sticky and only observable at Stream.Synchronize.
//   - Kernel launches as a grid of independent thread blocks. Each thread of a block is a goroutine,
//     threads of a block share memory (Thread.Shared) and synchronize with a block barrier (Thread.Sync).
//     Blocks never communicate.
package device

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gpukernels/types/shapes"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/klog/v2"
)

// Device holds the configuration, metrics and streams of one device.
type Device struct {
	config  Config
	metrics *metrics

	mu        sync.Mutex
	streams   []*Stream
	finalized bool

	allocatedBytes atomic.Int64
}

// New returns a new Device configured with the environment variable GPUKERNELS_DEVICE if set,
// or DefaultConfig otherwise.
func New() (*Device, error) {
	return NewWithConfig(configFromEnv())
}

// NewWithConfig returns a new Device with the given configuration string. See ParseConfig for the format.
func NewWithConfig(config string) (*Device, error) {
	c, err := ParseConfig(config)
	if err != nil {
		return nil, err
	}
	d := &Device{
		config:  c,
		metrics: newMetrics(),
	}
	klog.V(1).Infof("device created: parallelism=%d, max_block_size=%d, blas_parallelism=%d, queue_depth=%d",
		c.Parallelism, c.MaxBlockSize, c.BLASParallelism, c.QueueDepth)
	return d, nil
}

// Config returns the device configuration.
func (d *Device) Config() Config { return d.config }

// MaxBlockSize returns the maximum number of threads per block of the device.
func (d *Device) MaxBlockSize() int { return d.config.MaxBlockSize }

// Metrics returns the registry with the device metrics.
func (d *Device) Metrics() *prometheus.Registry { return d.metrics.registry }

// AllocatedBytes returns the number of bytes currently allocated in the device.
func (d *Device) AllocatedBytes() int64 { return d.allocatedBytes.Load() }

// NewStream creates a new in-order stream of operations on the device.
func (d *Device) NewStream() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.finalized {
		exceptions.Panicf("device.NewStream(): device already finalized")
	}
	s := newStream(d)
	d.streams = append(d.streams, s)
	return s
}

// Finalize synchronizes and closes all streams. The device should not be used afterwards.
func (d *Device) Finalize() {
	d.mu.Lock()
	streams := d.streams
	d.streams = nil
	d.finalized = true
	d.mu.Unlock()
	for _, s := range streams {
		if err := s.close(); err != nil {
			klog.Warningf("device stream closed with a pending failure: %v", err)
		}
	}
}

// Buffer is a region of device memory.
type Buffer struct {
	device *Device
	// words is the backing storage, it guarantees 8-byte alignment for any element type.
	words []uint64
	bytes []byte
}

// Alloc allocates a zero-initialized buffer large enough for the given shape.
func (d *Device) Alloc(shape shapes.Shape) *Buffer {
	return d.AllocBytes(int(shape.Memory()))
}

// AllocBytes allocates a zero-initialized buffer with the given number of bytes.
func (d *Device) AllocBytes(numBytes int) *Buffer {
	if numBytes < 0 {
		exceptions.Panicf("device.AllocBytes(%d): negative size", numBytes)
	}
	words := make([]uint64, (numBytes+7)/8)
	b := &Buffer{device: d, words: words}
	if numBytes > 0 {
		b.bytes = unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), numBytes)
	}
	d.allocatedBytes.Add(int64(numBytes))
	d.metrics.allocatedBytes.Set(float64(d.allocatedBytes.Load()))
	return b
}

// Free releases the buffer memory. The buffer must not be used afterward, and it must not be
// referenced by any operation still pending in a stream.
func (d *Device) Free(b *Buffer) {
	if b == nil || b.words == nil {
		return
	}
	d.allocatedBytes.Add(-int64(len(b.bytes)))
	d.metrics.allocatedBytes.Set(float64(d.allocatedBytes.Load()))
	b.words = nil
	b.bytes = nil
}

// Len returns the size of the buffer in bytes.
func (b *Buffer) Len() int { return len(b.bytes) }

// Bytes returns the device memory of the buffer.
func (b *Buffer) Bytes() []byte { return b.bytes }

// IsFreed returns whether the buffer has been freed.
func (b *Buffer) IsFreed() bool { return b.words == nil }

// View returns the buffer memory viewed as a slice of T, without copying.
// The length of the slice is the number of whole T elements that fit the buffer.
func View[T any](b *Buffer) []T {
	var t T
	size := int(unsafe.Sizeof(t))
	n := len(b.bytes) / size
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b.words[0])), n)
}

// Argument is a borrowed, non-owning reference to a device buffer and the shape describing its content.
//
// Kernels read and write through arguments for the duration of one call and never keep references to
// them afterward. Buffers are allocated and freed by whoever created the Argument.
type Argument struct {
	buffer *Buffer
	shape  shapes.Shape
}

// NewArgument returns an Argument for the given buffer and shape.
//
// It panics if the shape doesn't fit in the buffer.
func NewArgument(buffer *Buffer, shape shapes.Shape) Argument {
	if buffer == nil || buffer.IsFreed() {
		exceptions.Panicf("device.NewArgument(%s): nil or freed buffer", shape)
	}
	if int(shape.Memory()) > buffer.Len() {
		exceptions.Panicf("device.NewArgument(%s): shape needs %d bytes, buffer only has %d", shape, shape.Memory(), buffer.Len())
	}
	return Argument{buffer: buffer, shape: shape}
}

// Buffer returns the device buffer referenced by the argument.
func (a Argument) Buffer() *Buffer { return a.buffer }

// Shape returns the shape of the argument. It implements shapes.HasShape.
func (a Argument) Shape() shapes.Shape { return a.shape }

// Ok returns whether the argument references a buffer.
func (a Argument) Ok() bool { return a.buffer != nil && !a.buffer.IsFreed() }

// Failure is a device-side error. It happens asynchronously in a stream and it is only observed
// at the next Stream.Synchronize.
type Failure struct {
	// Op is the name of the stream operation that failed.
	Op string

	// Err is the cause of the failure.
	Err error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return "device failure in " + f.Op + ": " + f.Err.Error()
}

// Unwrap returns the cause of the failure.
func (f *Failure) Unwrap() error { return f.Err }

// IsFailure returns whether err is, or wraps, a device Failure.
func IsFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}
