// Package commitlock implements the storage-wide reader/writer lock that
// coordinates ordinary mutations against the checkpointer (spec.md §4.2).
// It is optimized for "many shared acquisitions per rare exclusive
// acquisition": shared acquire/release only ever touch striped
// increment-only counters, never a full latch, unless an exclusive
// request is already pending.
package commitlock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/intellect4all/tuplgo/internal/latch"
)

// stripes amortizes cache-line contention on the shared counters across
// concurrent goroutines, the same striping hashindex.shardedIndex uses to
// spread its map across numShards buckets.
const stripes = 64

type stripe struct {
	acquired atomic.Uint64
	released atomic.Uint64
	_        [48]byte // pad to its own cache line
}

// Token is the explicit substitute for the Java implementation's
// ThreadLocal reentrancy counter: Go has no non-cooperative thread-local
// storage, so each logical caller (typically one per transaction
// context, or one per goroutine for untransacted readers) owns a single
// Token for the lifetime of its commit-lock use. Reusing one Token
// avoids unbounded allocation in the contended shared path, matching
// spec.md §9's note on the Clutch tryAcquireShared FIXME.
type Token struct {
	stripe int
	depth  int
}

var tokenSeq atomic.Uint64

// NewToken allocates a reentrancy token bound to one stripe.
func NewToken() *Token {
	id := tokenSeq.Add(1)
	return &Token{stripe: int(id % stripes)}
}

// CommitLock is the many-shared/rare-exclusive lock of spec.md §4.2.
type CommitLock struct {
	acq [stripes]stripe

	full    *latch.Latch // taken only while an exclusive request is pending
	pending atomic.Bool

	mu        sync.Mutex // guards exclusive only
	exclusive *Token
}

// New returns an unheld CommitLock.
func New() *CommitLock {
	return &CommitLock{full: latch.New()}
}

// AcquireShared increments the shared counter and, if an exclusive
// request is pending and the caller does not already hold the lock
// reentrantly, waits behind the `full` latch (shared mode) until the
// exclusive side releases it.
func (c *CommitLock) AcquireShared(tok *Token) {
	if tok.depth > 0 {
		tok.depth++
		c.acq[tok.stripe].acquired.Add(1)
		return
	}

	c.acq[tok.stripe].acquired.Add(1)
	if !c.pending.Load() {
		tok.depth = 1
		return
	}

	// Undo the optimistic bump: an exclusive request may be sampling
	// acquired == released right now.
	c.acq[tok.stripe].released.Add(1)

	c.full.AcquireShared()
	c.acq[tok.stripe].acquired.Add(1)
	c.full.ReleaseShared()
	tok.depth = 1
}

// ReleaseShared releases one shared hold acquired via AcquireShared.
func (c *CommitLock) ReleaseShared(tok *Token) {
	c.acq[tok.stripe].released.Add(1)
	if tok.depth > 1 {
		tok.depth--
		return
	}
	tok.depth = 0
}

func (c *CommitLock) acquiredEqualsReleased() bool {
	var acq, rel uint64
	for i := range c.acq {
		acq += c.acq[i].acquired.Load()
		rel += c.acq[i].released.Load()
	}
	return acq == rel
}

// AcquireExclusive blocks until every outstanding shared holder has
// released. To avoid indefinite blockage by a long-running shared
// holder, it polls with exponentially doubled backoff instead of a
// single indefinite wait, de-prioritizing — but never starving — the
// exclusive request.
func (c *CommitLock) AcquireExclusive(tok *Token) {
	c.full.AcquireExclusive()
	c.mu.Lock()
	c.exclusive = tok
	c.mu.Unlock()
	c.pending.Store(true)

	wait := time.Millisecond
	for !c.acquiredEqualsReleased() {
		time.Sleep(wait)
		if wait < 256*time.Millisecond {
			wait *= 2
		}
	}
}

// ReleaseExclusive releases the exclusive hold.
func (c *CommitLock) ReleaseExclusive() {
	c.pending.Store(false)
	c.mu.Lock()
	c.exclusive = nil
	c.mu.Unlock()
	c.full.ReleaseExclusive()
}
