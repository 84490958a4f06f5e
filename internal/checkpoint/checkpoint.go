// Package checkpoint implements the Checkpointer state machine of
// spec.md §4.10: periodically, or when forced, it composes a new
// header, flips the alternating dirty tag, flushes the pages matching
// the old tag, and durably commits the header through the PageStore.
//
// Grounded on the teacher's btree/wal.go LogCheckpoint (marking a
// consistent recovery point in an append-only log) generalized to the
// double-header/dirty-tag-flip protocol spec.md §3 actually describes,
// and on btree/pager.go's Flush-all-dirty-pages loop for step 8.
package checkpoint

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/intellect4all/tuplgo/internal/cache"
	"github.com/intellect4all/tuplgo/internal/commitlock"
	"github.com/intellect4all/tuplgo/internal/node"
	"github.com/intellect4all/tuplgo/internal/page"
	"github.com/intellect4all/tuplgo/internal/redo"
	"github.com/intellect4all/tuplgo/internal/store"
	"github.com/intellect4all/tuplgo/internal/undo"
)

// PendingUndo is one in-flight transaction's undo log, ready to be
// folded into the master log at checkpoint time.
type PendingUndo struct {
	Log     *undo.Log
	TxnID   uint64
	IndexID uint64
}

// Registry is what the checkpointer needs from the live database
// without importing a transaction manager, which spec.md's Non-goals
// place out of scope beyond undo/redo's requirements.
type Registry interface {
	// RootPageID returns the registry tree's current root.
	RootPageID() page.ID
	// RegistryDirty reports whether anything has changed since the last
	// checkpoint; a clean registry lets step 2's pre-flight skip the
	// rest of the state machine.
	RegistryDirty() bool
	// WithRootLatched runs fn with the registry root's latch held
	// shared, per step 3; the implementation is responsible for the
	// "spin by releasing CommitLock on failure" deadlock avoidance,
	// since only the database layer knows the tree's latch handle.
	WithRootLatched(fn func() error) error
	// PendingUndoLogs returns every non-empty transaction undo log
	// live right now, for step 5's master-log serialization.
	PendingUndoLogs() []PendingUndo
	// HighestTxnID returns the highest transaction id observed so far.
	HighestTxnID() uint64
}

// Checkpointer runs the spec.md §4.10 state machine against one
// Store/Cache pair.
type Checkpointer struct {
	store store.Store
	cache *cache.Cache
	dirty *page.DirtyState
	redo  *redo.Writer
	base  string // for purging obsolete redo files in step 10
	reg   Registry
	logger *zap.Logger

	replicationEnc uint32
	sizeThreshold  int64 // bytes of redo written since last checkpoint
	delay          time.Duration

	mu          sync.Mutex // step 1's fair exclusive checkpoint mutex
	lastRun     time.Time
	lastRedoPos int64

	// stashed holds the header and master log from a checkpoint whose
	// step 9 commit failed, so a later attempt can resume rather than
	// redo steps 4-8 (spec.md §4.10's Resumption note).
	stashed       *store.Header
	stashedMaster *undo.Log
}

// New constructs a Checkpointer. dirty is the shared DirtyState also
// bound to every Tree via Tree.SetDirtyState, so tags agree.
func New(st store.Store, ca *cache.Cache, dirty *page.DirtyState, rw *redo.Writer, base string, reg Registry, sizeThreshold int64, delay time.Duration, logger *zap.Logger) *Checkpointer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checkpointer{
		store:         st,
		cache:         ca,
		dirty:         dirty,
		redo:          rw,
		base:          base,
		reg:           reg,
		sizeThreshold: sizeThreshold,
		delay:         delay,
		logger:        logger,
	}
}

// thresholdMet reports whether enough time or redo growth has
// accumulated to justify an unforced checkpoint.
func (c *Checkpointer) thresholdMet() bool {
	if c.delay > 0 && time.Since(c.lastRun) >= c.delay {
		return true
	}
	if c.sizeThreshold > 0 {
		pos := c.redo.Position()
		if pos-c.lastRedoPos >= c.sizeThreshold {
			return true
		}
	}
	return false
}

// Run executes one pass of the state machine. force corresponds to an
// explicit caller-requested checkpoint (spec.md §4.10 step 2).
func (c *Checkpointer) Run(force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Step 2: pre-flight.
	if !force && !c.thresholdMet() {
		return c.redo.Sync()
	}
	if !force && !c.reg.RegistryDirty() && c.stashed == nil {
		return c.redo.Sync()
	}

	header, master, resume, oldTag, err := c.composeHeader()
	if err != nil {
		return err
	}

	// On resume, steps 6-8 already ran during the attempt whose step 9
	// commit failed; only the commit itself needs retrying.
	if !resume {
		if err := c.flush(oldTag); err != nil {
			return err
		}
	}

	if err := c.store.Commit(resume, header, func() error { return nil }); err != nil {
		// Step 9 failed: stash for resumption, per spec.md §4.10.
		c.stashed = &header
		c.stashedMaster = master
		c.logger.Error("checkpoint: commit failed, stashing for resumption", zap.Error(err))
		return err
	}

	// Step 10: purge obsolete redo files and reset stashed state.
	if header.RedoNumber > 0 {
		if err := redo.PurgeThrough(c.base, header.RedoNumber); err != nil {
			c.logger.Warn("checkpoint: failed to purge obsolete redo files", zap.Error(err))
		}
	}
	c.stashed = nil
	c.stashedMaster = nil
	c.lastRun = time.Now()
	c.lastRedoPos = c.redo.Position()
	return nil
}

// composeHeader implements steps 3-6: it either reuses a stashed
// header from a failed prior attempt (resumption, which skips the flip
// too — it already happened on the attempt that failed) or composes a
// fresh header and flips the alternating dirty tag, all under one
// CommitLock exclusive hold. Releasing the lock between capturing
// header.RootPageID and flipping the tag would let a writer acquire
// CommitLock shared in the gap, mutate the tree, and tag its dirty
// pages with the pre-flip state — so they'd be swept into *this*
// checkpoint's flush even though the root they may have changed was
// already captured and will never be recorded in header.RootPageID,
// i.e. the write would be flushed but not committed, and could be lost
// on a crash before the next checkpoint (spec.md §4.10, §8's
// commit_state/checkpoint_flush_state invariant). Keeping the flip
// inside this same exclusive hold closes that window: oldTag is
// returned so flush (run after the lock is released, per step 7) knows
// which tag to drain.
func (c *Checkpointer) composeHeader() (header store.Header, master *undo.Log, resume bool, oldTag page.CachedState, err error) {
	if c.stashed != nil {
		return *c.stashed, c.stashedMaster, true, 0, nil
	}

	cl := c.store.CommitLock()
	tok := commitlock.NewToken()
	cl.AcquireExclusive(tok)
	defer cl.ReleaseExclusive()

	err = c.reg.WithRootLatched(func() error {
		header.RootPageID = c.reg.RootPageID()
		return nil
	})
	if err != nil {
		return store.Header{}, nil, false, 0, err
	}

	header.RedoNumber = c.redo.Number()
	header.RedoPosition = uint64(c.redo.Position())
	header.ReplicationEnc = c.replicationEnc
	header.LastTxnID = c.reg.HighestTxnID()

	master = undo.New(c.store)
	for _, p := range c.reg.PendingUndoLogs() {
		if err := p.Log.WriteMaster(master, p.TxnID, p.IndexID); err != nil {
			return store.Header{}, nil, false, 0, err
		}
	}
	if err := master.ForceSpill(); err != nil {
		return store.Header{}, nil, false, 0, err
	}
	header.MasterUndoTop = master.TopPointer()

	old, _ := c.dirty.Flip()

	return header, master, false, old, nil
}

// flush implements step 8: drain every cached node still tagged with
// old, the pre-flip dirty state (step 6 already ran inside
// composeHeader, and step 7's lock release has already happened by the
// time Run calls this).
func (c *Checkpointer) flush(old page.CachedState) error {
	for _, id := range c.cache.DirtyIDs() {
		e, ok := c.cache.Get(id)
		if !ok {
			continue
		}
		n, ok := e.(*node.Node)
		if !ok || n.State() != old {
			continue
		}
		if err := c.store.WritePage(n.PageID(), n.Raw.Buf); err != nil {
			return err
		}
		n.SetState(page.StateClean)
		c.cache.ClearDirty(n.PageID())
	}
	return nil
}
