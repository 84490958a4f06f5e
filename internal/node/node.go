// Package node implements the in-memory, latchable wrapper of one page
// (spec.md §3 Node, §4.5) together with its CursorFrame intrusive list
// (spec.md §4.6). The two types are cyclically coupled — a Node's
// last_cursor_frame points into the frame list, and every Frame holds
// its owning Node — so, per spec.md's own Design Notes on representing
// cyclic references, they are kept in one package instead of being
// split across an artificial node/frame package boundary that would
// otherwise need an import cycle or an indirection layer neither
// example in the pack actually uses.
//
// Grounded on the teacher's btree/page.go Page wrapper and btree/latch.go
// for the embedded latch, generalized with the cache.Entry interface
// (internal/cache) so the cache never needs to import this package.
package node

import (
	"sync/atomic"

	"github.com/intellect4all/tuplgo/internal/latch"
	"github.com/intellect4all/tuplgo/internal/page"
)

// Node is the in-memory representation of one B-tree page.
type Node struct {
	id    page.ID // negative-equivalent "deleted" state tracked via deleted below
	dirty atomic.Uint32 // page.CachedState

	Latch *latch.Latch
	Raw   *page.Page // guarded by Latch

	deleted atomic.Bool // logically deleted, awaiting page reuse
	pinned  atomic.Bool // root / unused-but-retained / on the dirty list

	lastFrame atomic.Pointer[Frame] // head of the intrusive CursorFrame list

	generation atomic.Uint64 // bumped on eviction/reuse to invalidate stale handles
}

// New wraps raw under a fresh latch.
func New(id page.ID, raw *page.Page) *Node {
	n := &Node{id: id, Raw: raw, Latch: latch.New()}
	n.dirty.Store(uint32(raw.State()))
	return n
}

func (n *Node) PageID() page.ID { return n.id }
func (n *Node) Pinned() bool    { return n.pinned.Load() || n.deleted.Load() }

// SetPinned marks the node unevictable (it is a tree root, is on the
// dirty list, or is otherwise retained), per spec.md §4.5's eviction
// rule.
func (n *Node) SetPinned(v bool) { n.pinned.Store(v) }

func (n *Node) State() page.CachedState { return page.CachedState(n.dirty.Load()) }
func (n *Node) SetState(s page.CachedState) {
	n.dirty.Store(uint32(s))
	n.Raw.SetState(s)
}

// MarkDeleted flags the node as logically gone; its page id is awaiting
// reuse and no new frame may bind to it.
func (n *Node) MarkDeleted() { n.deleted.Store(true) }
func (n *Node) Deleted() bool { return n.deleted.Load() }

// Generation returns the current reuse counter. Frame.Bind records the
// generation observed at bind time; nothing in this module compares it
// afterwards, so a frame is not invalidated when its node is recycled.
func (n *Node) Generation() uint64 { return n.generation.Load() }

// Recycle bumps the generation counter and clears transient state so
// the Node struct can be handed back to the cache's allocator for an
// unrelated page id.
func (n *Node) Recycle(id page.ID, raw *page.Page) {
	n.generation.Add(1)
	n.id = id
	n.Raw = raw
	n.dirty.Store(uint32(raw.State()))
	n.deleted.Store(false)
	n.pinned.Store(false)
	n.lastFrame.Store(nil)
}
