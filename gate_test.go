package main

import (
	"sync"
	"testing"
	"time"
)

func TestUploadGateSerializesPerUser(t *testing.T) {
	gate := NewUploadGate(0)

	release1, ok := gate.Acquire("greta")
	if !ok {
		t.Fatal("Expected first acquire to succeed")
	}

	// A second upload by the same user must wait for the first
	acquired := make(chan struct{})
	go func() {
		release2, ok := gate.Acquire("greta")
		if !ok {
			t.Error("Expected queued acquire to succeed")
		}
		close(acquired)
		release2()
	}()

	select {
	case <-acquired:
		t.Fatal("Second acquire should block while the first holds the slot")
	case <-time.After(50 * time.Millisecond):
	}

	release1()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Second acquire should proceed after release")
	}

	if !gate.waitIdle(time.Second) {
		t.Error("Expected gate to drain")
	}
}

func TestUploadGateDifferentUsersDoNotBlock(t *testing.T) {
	gate := NewUploadGate(0)

	releaseA, ok := gate.Acquire("alice")
	if !ok {
		t.Fatal("Expected acquire for alice to succeed")
	}
	defer releaseA()

	done := make(chan struct{})
	go func() {
		releaseB, ok := gate.Acquire("bob")
		if !ok {
			t.Error("Expected acquire for bob to succeed")
		}
		releaseB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Different users should not block each other")
	}
}

func TestUploadGateInflightCap(t *testing.T) {
	gate := NewUploadGate(2)

	release1, ok := gate.Acquire("user1")
	if !ok {
		t.Fatal("Expected first acquire to succeed")
	}
	release2, ok := gate.Acquire("user2")
	if !ok {
		t.Fatal("Expected second acquire to succeed")
	}

	// Third concurrent upload exceeds the cap
	if _, ok := gate.Acquire("user3"); ok {
		t.Error("Expected acquire beyond the cap to be rejected")
	}

	release1()
	release2()

	// Capacity is returned after release
	release3, ok := gate.Acquire("user3")
	if !ok {
		t.Fatal("Expected acquire to succeed after capacity freed")
	}
	release3()

	stats := gate.Stats()
	if stats.Rejected != 1 {
		t.Errorf("Expected 1 rejected upload, got %d", stats.Rejected)
	}
	if stats.Completed != 3 {
		t.Errorf("Expected 3 completed uploads, got %d", stats.Completed)
	}
}

func TestUploadGateReleaseIsIdempotent(t *testing.T) {
	gate := NewUploadGate(0)

	release, ok := gate.Acquire("greta")
	if !ok {
		t.Fatal("Expected acquire to succeed")
	}

	release()
	release() // Second call must be a no-op

	if gate.Inflight() != 0 {
		t.Errorf("Expected no uploads in flight, got %d", gate.Inflight())
	}
	if gate.Stats().Completed != 1 {
		t.Errorf("Expected 1 completed upload, got %d", gate.Stats().Completed)
	}
}

func TestUploadGateConcurrentSameUser(t *testing.T) {
	gate := NewUploadGate(0)

	// The slot hands out mutual exclusion, so this counter never races
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, ok := gate.Acquire("greta")
			if !ok {
				t.Error("Expected acquire to succeed")
				return
			}
			counter++
			release()
		}()
	}
	wg.Wait()

	if counter != 20 {
		t.Errorf("Expected 20 serialized increments, got %d", counter)
	}
}
