package xsync

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatch(t *testing.T) {
	latch := NewLatch()
	require.False(t, latch.Test())
	go latch.Trigger()
	select {
	case <-latch.WaitChan():
	case <-time.After(time.Second):
		t.Fatal("latch never triggered")
	}
	latch.Wait()
	require.True(t, latch.Test())
	latch.Trigger() // No-op.
}

func TestBarrier(t *testing.T) {
	const parties, phases = 8, 50
	barrier := NewBarrier(parties)
	require.Equal(t, parties, barrier.Parties())

	// Each phase every party increments the counter, waits, and checks that all
	// increments of the phase are visible.
	var counter atomic.Int32
	var wg sync.WaitGroup
	var failures atomic.Int32
	for range parties {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for phase := range phases {
				counter.Add(1)
				if !barrier.Wait() {
					failures.Add(1)
					return
				}
				if got := counter.Load(); int(got) < (phase+1)*parties {
					failures.Add(1)
				}
				if !barrier.Wait() {
					failures.Add(1)
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(0), failures.Load())
	assert.Equal(t, int32(parties*phases), counter.Load())
}

func TestBarrier_Abort(t *testing.T) {
	barrier := NewBarrier(3)
	results := make(chan bool, 2)
	for range 2 {
		go func() { results <- barrier.Wait() }()
	}
	time.Sleep(10 * time.Millisecond)
	barrier.Abort()
	for range 2 {
		select {
		case ok := <-results:
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("aborted barrier didn't release waiters")
		}
	}
	assert.True(t, barrier.IsAborted())
	assert.False(t, barrier.Wait())
	require.Panics(t, func() { NewBarrier(0) })
}

func TestDynamicWaitGroup(t *testing.T) {
	wg := NewDynamicWaitGroup()
	wg.Wait() // Zero count returns immediately.
	wg.Add(2)
	require.Equal(t, 2, wg.Count())
	done := NewLatch()
	go func() {
		wg.Wait()
		done.Trigger()
	}()
	wg.Done()
	wg.Add(1) // Added while someone is waiting.
	wg.Done()
	require.False(t, done.Test())
	wg.Done()
	select {
	case <-done.WaitChan():
	case <-time.After(time.Second):
		t.Fatal("Wait() never returned")
	}
	require.Panics(t, func() { wg.Done() })
}
