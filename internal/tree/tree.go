// Package tree implements the Tree/Cursor machinery of spec.md §4.7:
// latch-coupled descent, split-propagating insert, delete that merges an
// underfull leaf with one sibling (the merge does not propagate: internal
// nodes are never merged), and ordered iteration. Grounded on the teacher's btree.go
// (recursive insertAndSplit/root-split handling) and iterator.go
// (forward/backward cursor walk), generalized from the teacher's
// single global mutex to per-node latches (internal/latch) coupled
// hand-over-hand during descent, per spec.md §5's lock ordering.
package tree

import (
	"bytes"
	"sync/atomic"

	"github.com/intellect4all/tuplgo/internal/cache"
	"github.com/intellect4all/tuplgo/internal/commitlock"
	"github.com/intellect4all/tuplgo/internal/errs"
	"github.com/intellect4all/tuplgo/internal/node"
	"github.com/intellect4all/tuplgo/internal/page"
	"github.com/intellect4all/tuplgo/internal/store"
)

// CompareFunc orders keys; callers normally pass bytes.Compare.
type CompareFunc func(a, b []byte) int

// Tree is a single B-tree identified by its root page id. Several Trees
// share one Store and Cache (the registry tree, the name-map tree, and
// every user-created index all multiplex the same underlying pages).
type Tree struct {
	ID     uint64
	store  store.Store
	cache  *cache.Cache
	cmp    CompareFunc
	rootID atomic.Uint64 // page.ID of the current root

	root  *node.Node // pinned, unevictable
	dirty *page.DirtyState
}

// SetDirtyState binds the tree to the checkpointer's shared dirty-tag
// tracker, so new mutations are tagged with whichever of the two
// alternating states is currently "post-flip" (spec.md §4.10 step 6).
// A tree with no dirty state bound (the default, used by tests that
// never checkpoint) always tags with StateDirtyA.
func (t *Tree) SetDirtyState(d *page.DirtyState) { t.dirty = d }

// Open wraps an existing root page as a Tree. If rootID is page.NoID a
// fresh empty leaf root is allocated (used for brand-new trees).
func Open(id uint64, st store.Store, ca *cache.Cache, rootID page.ID, cmp CompareFunc) (*Tree, error) {
	if cmp == nil {
		cmp = bytes.Compare
	}
	t := &Tree{ID: id, store: st, cache: ca, cmp: cmp}

	if !rootID.Valid() {
		newRoot, err := t.allocNode(page.TypeLeaf)
		if err != nil {
			return nil, err
		}
		rootID = newRoot.PageID()
		t.root = newRoot
	} else {
		n, err := t.fetch(rootID)
		if err != nil {
			return nil, err
		}
		t.root = n
	}
	t.root.SetPinned(true)
	t.rootID.Store(uint64(rootID))
	return t, nil
}

// RootID returns the tree's current root page id, for the caller
// (the registry tree) to persist.
func (t *Tree) RootID() page.ID { return page.ID(t.rootID.Load()) }

func (t *Tree) allocNode(typ page.Type) (*node.Node, error) {
	id, err := t.store.AllocPage()
	if err != nil {
		return nil, err
	}
	p := page.New(t.store.PageSize(), typ)
	n := node.New(id, p)
	t.cache.Put(id, n)
	return n, nil
}

func (t *Tree) fetch(id page.ID) (*node.Node, error) {
	if t.root != nil && id == t.root.PageID() {
		return t.root, nil
	}
	if e, ok := t.cache.Get(id); ok {
		return e.(*node.Node), nil
	}
	buf := make([]byte, t.store.PageSize())
	if err := t.store.ReadPage(id, buf); err != nil {
		return nil, err
	}
	n := node.New(id, page.Load(buf))
	t.cache.Put(id, n)
	return n, nil
}

func (t *Tree) markDirty(n *node.Node) {
	tag := page.StateDirtyA
	if t.dirty != nil {
		tag = t.dirty.Current()
	}
	n.SetState(tag)
	t.cache.MarkDirty(n.PageID())
}

func (t *Tree) flush(n *node.Node) error {
	if err := t.store.WritePage(n.PageID(), n.Raw.Buf); err != nil {
		return err
	}
	n.SetState(page.StateClean)
	t.cache.ClearDirty(n.PageID())
	return nil
}

// Get performs the classical B-tree search of spec.md §4.7, descending
// under shared latches.
func (t *Tree) Get(tok *commitlock.Token, key []byte) ([]byte, bool, error) {
	cl := t.store.CommitLock()
	cl.AcquireShared(tok)
	defer cl.ReleaseShared(tok)

	n := t.root
	n.Latch.AcquireShared()
	for n.Raw.Type() == page.TypeInternal {
		child, _, err := t.childFor(n, key)
		if err != nil {
			n.Latch.ReleaseShared()
			return nil, false, err
		}
		child.Latch.AcquireShared()
		n.Latch.ReleaseShared()
		n = child
	}
	defer n.Latch.ReleaseShared()

	idx, found := n.Raw.Search(key, t.cmp)
	if !found {
		return nil, false, nil
	}
	e, err := n.Raw.At(idx)
	if err != nil {
		return nil, false, err
	}
	return append([]byte(nil), e.Value...), true, nil
}

// childFor resolves the child of internal node n that may contain key,
// per spec.md §4.5's internal layout "{header, left-pointer, (key,
// right-pointer)+, ...}": n.Raw.Sibling() is the left-pointer for keys
// below the smallest separator; entries[i] is (separator_i, child_i)
// where child_i holds keys in [separator_i, separator_{i+1}).
//
// It returns the resolved child along with slot, the entry index whose
// child was taken, or -1 if the left-pointer was used — split/merge use
// slot to know where in the parent's directory to operate.
func (t *Tree) childFor(n *node.Node, key []byte) (child *node.Node, slot int, err error) {
	idx, found := n.Raw.Search(key, t.cmp)
	if found {
		e, err := n.Raw.At(idx)
		if err != nil {
			return nil, 0, err
		}
		c, err := t.fetch(e.Child)
		return c, int(idx), err
	}
	if idx == 0 {
		c, err := t.fetch(n.Raw.Sibling())
		return c, -1, err
	}
	e, err := n.Raw.At(idx - 1)
	if err != nil {
		return nil, 0, err
	}
	c, err := t.fetch(e.Child)
	return c, int(idx - 1), err
}

// Put inserts or overwrites key with value, splitting leaves and
// propagating separators into ancestors as needed (spec.md §4.7
// Insert).
func (t *Tree) Put(tok *commitlock.Token, key, value []byte) error {
	if len(key) == 0 {
		return errs.ErrLargeKey
	}
	cl := t.store.CommitLock()
	cl.AcquireShared(tok)
	defer cl.ReleaseShared(tok)

	path, err := t.descendExclusive(key)
	if err != nil {
		return err
	}
	defer path.unlockAll()

	leaf := path.frames[len(path.frames)-1].n
	idx, found := leaf.Raw.Search(key, t.cmp)
	entry := &page.Entry{Key: key, Value: value}

	if found {
		if err := leaf.Raw.RemoveAt(idx); err != nil {
			return err
		}
	}
	if leaf.Raw.Fits(entry) {
		if err := leaf.Raw.InsertAt(idx, entry); err != nil {
			return err
		}
		if !found {
			// Entries at or after idx moved up one slot; keep every frame
			// bound to this leaf on the entry it was positioned at.
			for _, f := range leaf.Frames() {
				if f.Pos() >= int32(idx) {
					f.SetPos(f.Pos() + 1)
				}
			}
		}
		t.markDirty(leaf)
		return nil
	}

	return t.splitAndInsert(path, entry)
}

// Delete removes key, merging underfull leaves with a sibling when
// possible (spec.md §4.7 Delete).
func (t *Tree) Delete(tok *commitlock.Token, key []byte) (bool, error) {
	cl := t.store.CommitLock()
	cl.AcquireShared(tok)
	defer cl.ReleaseShared(tok)

	path, err := t.descendExclusive(key)
	if err != nil {
		return false, err
	}
	defer path.unlockAll()

	leaf := path.frames[len(path.frames)-1].n
	idx, found := leaf.Raw.Search(key, t.cmp)
	if !found {
		return false, nil
	}
	if err := leaf.Raw.RemoveAt(idx); err != nil {
		return false, err
	}
	t.markDirty(leaf)

	if t.underfull(leaf) && len(path.frames) > 1 {
		if err := t.mergeIfPossible(path); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (t *Tree) underfull(n *node.Node) bool {
	return n.Raw.FreeSpace() > int(t.store.PageSize())*3/4
}

// pathFrame is one exclusively-latched node on a mutation's descent
// path, kept so split/merge can walk back up to the parent.
type pathFrame struct {
	n   *node.Node
	idx int // the slot through which descent passed; -1 = left-pointer
}

type descentPath struct {
	frames []pathFrame
}

func (p *descentPath) unlockAll() {
	for i := len(p.frames) - 1; i >= 0; i-- {
		p.frames[i].n.Latch.ReleaseExclusive()
	}
}

// descendExclusive latches every node on the path to key's leaf
// exclusively and keeps all of them latched until unlockAll, so it is
// safe for the leaf to be mutated and, if necessary, split or merged with
// propagation into any ancestor on the path.
func (t *Tree) descendExclusive(key []byte) (*descentPath, error) {
	path := &descentPath{}
	n := t.root
	n.Latch.AcquireExclusive()
	path.frames = append(path.frames, pathFrame{n: n})

	for n.Raw.Type() == page.TypeInternal {
		child, slot, err := t.childFor(n, key)
		if err != nil {
			path.unlockAll()
			return nil, err
		}
		child.Latch.AcquireExclusive()
		path.frames[len(path.frames)-1].idx = slot
		path.frames = append(path.frames, pathFrame{n: child})
		n = child
	}
	return path, nil
}

// descendSharedPath is descendExclusive's read-only counterpart: every
// node from root to key's leaf, shared-latched and held until
// releasePath, with idx recording the slot chosen at each level. Used
// by predecessorLeaf to backtrack without re-descending from the root
// more than once.
func (t *Tree) descendSharedPath(key []byte) ([]pathFrame, error) {
	var path []pathFrame
	n := t.root
	n.Latch.AcquireShared()
	path = append(path, pathFrame{n: n, idx: -2})

	for n.Raw.Type() == page.TypeInternal {
		child, slot, err := t.childFor(n, key)
		if err != nil {
			releasePath(path)
			return nil, err
		}
		child.Latch.AcquireShared()
		path[len(path)-1].idx = slot
		path = append(path, pathFrame{n: child})
		n = child
	}
	return path, nil
}

func releasePath(path []pathFrame) {
	for _, f := range path {
		f.n.Latch.ReleaseShared()
	}
}

// childAtSlot resolves slot (as returned by childFor: -1 for the
// left-pointer, else an entry index) back into the child it names.
func (t *Tree) childAtSlot(n *node.Node, slot int) (*node.Node, error) {
	if slot < 0 {
		return t.fetch(n.Raw.Sibling())
	}
	e, err := n.Raw.At(uint16(slot))
	if err != nil {
		return nil, err
	}
	return t.fetch(e.Child)
}

// rightmostLeaf descends from n, already shared-latched by the caller,
// always taking the last child, releasing each node's latch as it
// moves past it. The returned leaf's latch is left held for the caller
// to release.
func (t *Tree) rightmostLeaf(n *node.Node) (*node.Node, error) {
	for n.Raw.Type() == page.TypeInternal {
		count := n.Raw.Count()
		slot := -1
		if count > 0 {
			slot = int(count) - 1
		}
		child, err := t.childAtSlot(n, slot)
		if err != nil {
			n.Latch.ReleaseShared()
			return nil, err
		}
		child.Latch.AcquireShared()
		n.Latch.ReleaseShared()
		n = child
	}
	return n, nil
}

// predecessorLeaf returns the non-empty leaf preceding the one that
// contains or would contain boundary, or nil if that leaf is already
// the tree's first. The leaf layout keeps only a right Sibling
// pointer (spec.md §4.5), so there is no O(1) link to follow backward:
// this walks the boundary's descent path back up to the nearest level
// with an unvisited left branch, then back down that branch's
// rightmost edge, skipping any wholly empty leaf a merge left behind
// along the way (see underfull: a leaf can end up with zero entries
// when neither neighbor has room to absorb it).
func (t *Tree) predecessorLeaf(boundary []byte) (*node.Node, error) {
	path, err := t.descendSharedPath(boundary)
	if err != nil {
		return nil, err
	}
	defer releasePath(path)

	for i := len(path) - 2; i >= 0; i-- {
		slot := path[i].idx
		if slot < 0 {
			continue
		}
		left, err := t.childAtSlot(path[i].n, slot-1)
		if err != nil {
			return nil, err
		}
		left.Latch.AcquireShared()
		leaf, err := t.rightmostLeaf(left)
		if err != nil {
			return nil, err
		}
		if leaf.Raw.Count() > 0 {
			leaf.Latch.ReleaseShared()
			return leaf, nil
		}
		leaf.Latch.ReleaseShared()
	}
	return nil, nil
}
