package page

import "sync/atomic"

// DirtyState tracks which of the two alternating dirty tags (spec.md
// §4.10 step 6's "commit_state") new mutations should use. The
// checkpointer flips it once CommitLock is held exclusively so that
// writers racing the checkpoint tag their pages with the post-flip
// state while the flush pass drains the pre-flip one.
type DirtyState struct {
	current atomic.Uint32
}

// NewDirtyState starts at StateDirtyA, matching a freshly opened
// database with no prior checkpoint.
func NewDirtyState() *DirtyState {
	d := &DirtyState{}
	d.current.Store(uint32(StateDirtyA))
	return d
}

// Current returns the tag new dirty nodes should use.
func (d *DirtyState) Current() CachedState { return CachedState(d.current.Load()) }

// Flip swaps the current tag to its opposite and returns both the old
// (now the flush target) and new tag.
func (d *DirtyState) Flip() (old, updated CachedState) {
	old = d.Current()
	updated = old.Opposite()
	d.current.Store(uint32(updated))
	return old, updated
}
