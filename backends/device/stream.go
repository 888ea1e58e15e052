// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package device

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gpukernels/types/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Stream is an in-order queue of asynchronous device operations.
//
// Operations are executed one at a time, in the order they were enqueued, by a goroutine owned
// by the stream. So an operation always sees the results of all operations enqueued before it.
//
// The first failure is sticky: all later operations are skipped (not executed) until the
// failure is collected by Synchronize.
type Stream struct {
	device  *Device
	ops     chan streamOp
	pending *xsync.DynamicWaitGroup
	done    *xsync.Latch

	// sendMu protects closed and sending to ops.
	sendMu sync.RWMutex
	closed bool

	mu      sync.Mutex
	failure *Failure
}

type streamOp struct {
	name string
	fn   func() error
}

func newStream(d *Device) *Stream {
	s := &Stream{
		device:  d,
		ops:     make(chan streamOp, d.config.QueueDepth),
		pending: xsync.NewDynamicWaitGroup(),
		done:    xsync.NewLatch(),
	}
	go s.run()
	return s
}

// Device returns the device that owns the stream.
func (s *Stream) Device() *Device { return s.device }

// run executes the operations of the stream in order.
func (s *Stream) run() {
	defer s.done.Trigger()
	for op := range s.ops {
		s.execute(op)
		s.pending.Done()
	}
}

func (s *Stream) execute(op streamOp) {
	s.mu.Lock()
	failed := s.failure != nil
	s.mu.Unlock()
	if failed {
		klog.V(2).Infof("stream: skipping %q after a previous failure", op.name)
		return
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				if e, ok := r.(error); ok {
					err = errors.WithMessage(e, "panic")
				} else {
					err = errors.Errorf("panic: %v", r)
				}
			}
		}()
		err = op.fn()
	}()
	if err == nil {
		return
	}
	s.device.metrics.streamFailures.Inc()
	klog.V(1).Infof("stream: operation %q failed: %v", op.name, err)
	s.mu.Lock()
	if s.failure == nil {
		s.failure = &Failure{Op: op.name, Err: err}
	}
	s.mu.Unlock()
}

// Enqueue adds an operation to the stream. It returns immediately, unless the stream queue is full.
//
// The operation runs asynchronously, any error it returns (or panic it raises) becomes a device Failure
// reported by the next Synchronize.
func (s *Stream) Enqueue(name string, fn func() error) {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		exceptions.Panicf("device.Stream.Enqueue(%q): stream is closed", name)
	}
	s.pending.Add(1)
	s.ops <- streamOp{name: name, fn: fn}
}

// Synchronize waits for all operations enqueued so far to finish.
//
// It returns the first device Failure that happened since the last call to Synchronize, and
// clears it, so the stream can be used again.
func (s *Stream) Synchronize() error {
	s.pending.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure == nil {
		return nil
	}
	failure := s.failure
	s.failure = nil
	return failure
}

// close synchronizes and stops the stream goroutine.
func (s *Stream) close() error {
	err := s.Synchronize()
	s.sendMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ops)
	}
	s.sendMu.Unlock()
	s.done.Wait()
	return err
}

// MemcpyDtoD enqueues a device-to-device copy of numBytes from src to dst.
func (s *Stream) MemcpyDtoD(dst, src *Buffer, numBytes int) {
	s.Enqueue("memcpy", func() error {
		if dst.IsFreed() || src.IsFreed() {
			return errors.New("memcpy on a freed buffer")
		}
		if numBytes > dst.Len() || numBytes > src.Len() {
			return errors.Errorf("memcpy of %d bytes out of bounds (dst has %d bytes, src has %d bytes)",
				numBytes, dst.Len(), src.Len())
		}
		copy(dst.bytes[:numBytes], src.bytes[:numBytes])
		s.device.metrics.bytesCopied.Add(float64(numBytes))
		return nil
	})
}

// Memset enqueues setting the first numBytes of dst to value.
func (s *Stream) Memset(dst *Buffer, value byte, numBytes int) {
	s.Enqueue("memset", func() error {
		if dst.IsFreed() {
			return errors.New("memset on a freed buffer")
		}
		if numBytes > dst.Len() {
			return errors.Errorf("memset of %d bytes out of bounds (dst has %d bytes)", numBytes, dst.Len())
		}
		region := dst.bytes[:numBytes]
		if value == 0 {
			clear(region)
		} else {
			for ii := range region {
				region[ii] = value
			}
		}
		s.device.metrics.bytesSet.Add(float64(numBytes))
		return nil
	})
}

// Upload copies host data into the device buffer, starting at the beginning of the buffer.
//
// Like a synchronous host-to-device copy, it first waits for all pending operations on the stream,
// and it returns their failure if any.
func Upload[T any](s *Stream, dst *Buffer, src []T) error {
	if err := s.Synchronize(); err != nil {
		return err
	}
	view := View[T](dst)
	if len(src) > len(view) {
		return errors.Errorf("device.Upload: %d elements don't fit buffer of %d bytes", len(src), dst.Len())
	}
	copy(view, src)
	return nil
}

// Download copies the device buffer into the host slice dst, from the beginning of the buffer.
//
// It first waits for all pending operations on the stream, and it returns their failure if any.
func Download[T any](s *Stream, dst []T, src *Buffer) error {
	if err := s.Synchronize(); err != nil {
		return err
	}
	view := View[T](src)
	if len(dst) > len(view) {
		return errors.Errorf("device.Download: %d elements requested from buffer of %d bytes", len(dst), src.Len())
	}
	copy(dst, view)
	return nil
}
