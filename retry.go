// retry.go
package main

import (
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"gorm.io/gorm"
)

// Retry settings for failed persistence writes
const (
	MaxWriteRetries    = 5                      // Attempts before a write is dropped
	WriteRetryBaseWait = 100 * time.Millisecond // Base delay, doubled per attempt with jitter
)

// pendingWrite is one history insert (plus its points credit) that failed
// after the analysis already succeeded and was shown to the user.
type pendingWrite struct {
	entry    HistoryEntry
	userID   uint
	points   int
	attempts int
}

// RetryService re-attempts failed history writes in the background. The user
// already received the analysis result, so the only thing at stake is the
// durability of the record and the points credit; writes that keep failing
// after MaxWriteRetries are logged and dropped.
type RetryService struct {
	store   *HistoryStore
	pending chan pendingWrite
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewRetryService creates a retry service backed by the given history store.
func NewRetryService(store *HistoryStore, queueSize int) *RetryService {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &RetryService{
		store:   store,
		pending: make(chan pendingWrite, queueSize),
		done:    make(chan struct{}),
	}
}

// Start launches the background worker.
func (rs *RetryService) Start() {
	rs.wg.Add(1)
	go rs.worker()
	log.Println("Persistence retry service started")
}

// Stop drains nothing; it signals the worker and waits for it to exit.
// Writes still queued are lost, which matches the tolerated failure mode.
func (rs *RetryService) Stop() {
	close(rs.done)
	rs.wg.Wait()
}

// Enqueue schedules a failed write for retry. When the queue is full the
// write is dropped immediately with a log line rather than blocking the
// request path.
//
// A rolled-back insert may have left a primary key and timestamps on the
// entry; those are cleared so the retried insert allocates a fresh key
// instead of colliding with a row created in the meantime. CreatedAt is
// kept, it records the submission time and drives the daily quota.
func (rs *RetryService) Enqueue(entry HistoryEntry, userID uint, points int) {
	entry.ID = 0
	entry.UpdatedAt = time.Time{}
	entry.DeletedAt = gorm.DeletedAt{}
	select {
	case rs.pending <- pendingWrite{entry: entry, userID: userID, points: points, attempts: 1}:
	default:
		log.Printf("Retry queue full, dropping history record for %s (hash %.12s)", entry.Username, entry.ImageHash)
	}
}

func (rs *RetryService) worker() {
	defer rs.wg.Done()
	for {
		select {
		case pw := <-rs.pending:
			rs.process(pw)
		case <-rs.done:
			return
		}
	}
}

// process retries one write with exponential backoff and jitter between
// attempts, giving a locked or briefly unreachable store time to recover.
func (rs *RetryService) process(pw pendingWrite) {
	for ; pw.attempts <= MaxWriteRetries; pw.attempts++ {
		err := rs.store.RecordUpload(&pw.entry, pw.userID, pw.points)
		if err == nil {
			log.Printf("Recovered history record for %s after %d attempt(s)", pw.entry.Username, pw.attempts)
			return
		}

		// A duplicate means the original write actually landed; nothing to do.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return
		}

		if pw.attempts == MaxWriteRetries {
			log.Printf("Dropping history record for %s after %d attempts: %v", pw.entry.Username, MaxWriteRetries, err)
			return
		}

		delay := WriteRetryBaseWait * time.Duration(1<<uint(pw.attempts-1))
		delay += time.Duration(rand.Int63n(int64(delay / 2)))
		log.Printf("History write for %s failed (attempt %d/%d): %v - retrying in %v",
			pw.entry.Username, pw.attempts, MaxWriteRetries, err, delay)

		select {
		case <-time.After(delay):
		case <-rs.done:
			return
		}
	}
}

// flush synchronously processes everything currently queued. Used by tests.
func (rs *RetryService) flush() {
	for {
		select {
		case pw := <-rs.pending:
			rs.process(pw)
		default:
			return
		}
	}
}
