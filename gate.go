// gate.go
package main

import (
	"sync"
	"sync/atomic"
	"time"
)

// UploadGate serializes upload processing per username and caps the number
// of uploads in flight across all users. The points balance is a
// read-modify-write and the fingerprint guard is a check-then-act; holding
// the per-user slot for the whole pipeline means two concurrent uploads by
// the same user can never race each other.
type UploadGate struct {
	maxInflight int64
	inflight    int64

	mutex sync.Mutex
	slots map[string]*userSlot

	stats UploadStats
}

// userSlot is the serialization point for one username. refs counts waiters
// so idle slots can be dropped from the map.
type userSlot struct {
	mutex sync.Mutex
	refs  int
}

// UploadStats tracks upload pipeline statistics
type UploadStats struct {
	Total        int64 `json:"total"`
	Completed    int64 `json:"completed"`
	Rejected     int64 `json:"rejected"`
	InflightPeak int64 `json:"inflight_peak"`
}

// NewUploadGate creates a gate allowing at most maxInflight concurrent
// uploads. A non-positive limit disables the global cap.
func NewUploadGate(maxInflight int) *UploadGate {
	return &UploadGate{
		maxInflight: int64(maxInflight),
		slots:       make(map[string]*userSlot),
	}
}

// Acquire claims the upload slot for a username, blocking behind any upload
// the same user already has in flight. It returns false when the server-wide
// inflight cap is reached; otherwise it returns a release function that must
// be called when the pipeline finishes.
func (g *UploadGate) Acquire(username string) (func(), bool) {
	atomic.AddInt64(&g.stats.Total, 1)

	current := atomic.AddInt64(&g.inflight, 1)
	if g.maxInflight > 0 && current > g.maxInflight {
		atomic.AddInt64(&g.inflight, -1)
		atomic.AddInt64(&g.stats.Rejected, 1)
		return nil, false
	}

	// Track the high-water mark
	for {
		peak := atomic.LoadInt64(&g.stats.InflightPeak)
		if current <= peak || atomic.CompareAndSwapInt64(&g.stats.InflightPeak, peak, current) {
			break
		}
	}

	g.mutex.Lock()
	slot, exists := g.slots[username]
	if !exists {
		slot = &userSlot{}
		g.slots[username] = slot
	}
	slot.refs++
	g.mutex.Unlock()

	slot.mutex.Lock()

	released := false
	release := func() {
		if released {
			return
		}
		released = true

		slot.mutex.Unlock()

		g.mutex.Lock()
		slot.refs--
		if slot.refs == 0 {
			delete(g.slots, username)
		}
		g.mutex.Unlock()

		atomic.AddInt64(&g.inflight, -1)
		atomic.AddInt64(&g.stats.Completed, 1)
	}
	return release, true
}

// Stats returns a snapshot of the gate's counters.
func (g *UploadGate) Stats() UploadStats {
	return UploadStats{
		Total:        atomic.LoadInt64(&g.stats.Total),
		Completed:    atomic.LoadInt64(&g.stats.Completed),
		Rejected:     atomic.LoadInt64(&g.stats.Rejected),
		InflightPeak: atomic.LoadInt64(&g.stats.InflightPeak),
	}
}

// Inflight returns the number of uploads currently being processed.
func (g *UploadGate) Inflight() int64 {
	return atomic.LoadInt64(&g.inflight)
}

// waitIdle blocks until no uploads are in flight or the timeout elapses.
// Used by tests.
func (g *UploadGate) waitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if g.Inflight() == 0 {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return g.Inflight() == 0
}
