package storage

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncerCoalescesRapidSaves(t *testing.T) {
	var writes atomic.Int32
	var mu sync.Mutex
	state := "initial"
	var written string

	d := NewDebouncer(50*time.Millisecond, func() error {
		writes.Add(1)
		mu.Lock()
		written = state
		mu.Unlock()
		return nil
	})

	first := d.Save()
	mu.Lock()
	state = "final"
	mu.Unlock()
	second := d.Save()

	<-first
	<-second

	if n := writes.Load(); n != 1 {
		t.Fatalf("expected exactly one write, got %d", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if written != "final" {
		t.Fatalf("write did not reflect latest state: %q", written)
	}
}

func TestDebouncerSupersededCallerStillResolves(t *testing.T) {
	d := NewDebouncer(30*time.Millisecond, func() error { return nil })
	ch1 := d.Save()
	time.Sleep(10 * time.Millisecond)
	ch2 := d.Save() // resets the timer, supersedes ch1's schedule

	select {
	case <-ch1:
	case <-time.After(time.Second):
		t.Fatalf("superseded waiter never resolved")
	}
	select {
	case <-ch2:
	case <-time.After(time.Second):
		t.Fatalf("waiter never resolved")
	}
}

func TestDebouncerFlushImmediate(t *testing.T) {
	var writes atomic.Int32
	d := NewDebouncer(time.Hour, func() error { writes.Add(1); return nil })
	ch := d.Save()
	if err := d.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	select {
	case <-ch:
	default:
		t.Fatalf("waiter not resolved by Flush")
	}
	if writes.Load() != 1 {
		t.Fatalf("expected one write, got %d", writes.Load())
	}
}

func TestDebouncerCloseFlushesPending(t *testing.T) {
	var writes atomic.Int32
	d := NewDebouncer(time.Hour, func() error { writes.Add(1); return nil })
	_ = d.Save()
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if writes.Load() != 1 {
		t.Fatalf("pending save not flushed on close")
	}
	// Saves after close resolve immediately and do not write.
	<-d.Save()
	if writes.Load() != 1 {
		t.Fatalf("save after close wrote")
	}
}
