// Package xsync implements some extra synchronization tools.
package xsync

import (
	"sync"

	"github.com/pkg/errors"
)

// Latch implements a "latch" synchronization mechanism.
//
// A Latch is a signal that can be waited for until it is triggered.
// Once triggered it never changes state, it's forever triggered.
type Latch struct {
	muTrigger sync.Mutex
	wait      chan struct{}
}

// NewLatch returns an un-triggered latch.
func NewLatch() *Latch {
	return &Latch{
		wait: make(chan struct{}),
	}
}

// Trigger latch.
func (l *Latch) Trigger() {
	l.muTrigger.Lock()
	defer l.muTrigger.Unlock()

	if l.Test() {
		// Already triggered, discard value.
		return
	}
	close(l.wait)
}

// Wait waits for the latch to be triggered.
func (l *Latch) Wait() {
	<-l.wait
}

// Test checks whether the latch has been triggered.
func (l *Latch) Test() bool {
	select {
	case <-l.wait:
		return true
	default:
		return false
	}
}

// WaitChan returns the channel that one can use on a `select` to check when
// the latch triggers.
// The returned channel is closed when the latch is triggered.
func (l *Latch) WaitChan() <-chan struct{} {
	return l.wait
}

// Barrier is a reusable (cyclic) barrier for a fixed number of parties.
//
// Each call to Wait blocks until all parties have called Wait, at which point they are all
// released and the barrier is reset for the next phase.
//
// Once aborted, every pending and future Wait returns false immediately.
type Barrier struct {
	cond    sync.Cond
	parties int
	waiting int
	phase   uint64
	aborted bool
}

// NewBarrier returns a Barrier for the given number of parties. It panics if parties <= 0.
func NewBarrier(parties int) *Barrier {
	if parties <= 0 {
		panic(errors.Errorf("NewBarrier(%d): number of parties must be positive", parties))
	}
	return &Barrier{
		cond:    sync.Cond{L: &sync.Mutex{}},
		parties: parties,
	}
}

// Parties returns the number of parties the barrier synchronizes.
func (b *Barrier) Parties() int { return b.parties }

// Wait blocks until all parties reached the barrier. It returns false if the barrier was aborted.
func (b *Barrier) Wait() bool {
	b.cond.L.Lock()
	defer b.cond.L.Unlock()
	if b.aborted {
		return false
	}
	b.waiting++
	if b.waiting == b.parties {
		// Last one to arrive opens the barrier for everyone and starts a new phase.
		b.waiting = 0
		b.phase++
		b.cond.Broadcast()
		return true
	}
	phase := b.phase
	for phase == b.phase && !b.aborted {
		b.cond.Wait()
	}
	return !b.aborted || phase != b.phase
}

// Abort releases all parties currently waiting, and makes all future calls to Wait return false.
func (b *Barrier) Abort() {
	b.cond.L.Lock()
	defer b.cond.L.Unlock()
	b.aborted = true
	b.cond.Broadcast()
}

// IsAborted returns whether Abort was called.
func (b *Barrier) IsAborted() bool {
	b.cond.L.Lock()
	defer b.cond.L.Unlock()
	return b.aborted
}
