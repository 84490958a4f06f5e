package tree

import (
	"github.com/intellect4all/tuplgo/internal/node"
	"github.com/intellect4all/tuplgo/internal/page"
)

// splitAndInsert implements spec.md §4.5's leaf Split: redistribute the
// leaf's entries plus the one that didn't fit across two pages, promote
// the smallest key of the right half into the parent, and recurse if
// the parent itself doesn't have room (propagating up to, and possibly
// growing, the root).
func (t *Tree) splitAndInsert(path *descentPath, newEntry *page.Entry) error {
	leafFrameIdx := len(path.frames) - 1
	leaf := path.frames[leafFrameIdx].n

	frames := leaf.Frames()

	entries := collectEntries(leaf.Raw)
	entries = insertSorted(entries, newEntry, t.cmp)
	insertedAt := indexOfEntry(entries, newEntry)

	mid := len(entries) / 2
	leftBuf := page.New(t.store.PageSize(), leaf.Raw.Type())
	rightNode, err := t.allocNode(leaf.Raw.Type())
	if err != nil {
		return err
	}

	for i := 0; i < mid; i++ {
		if err := leftBuf.InsertAt(uint16(i), entries[i]); err != nil {
			return err
		}
	}
	for i := mid; i < len(entries); i++ {
		if err := rightNode.Raw.InsertAt(uint16(i-mid), entries[i]); err != nil {
			return err
		}
	}

	if leaf.Raw.Type() == page.TypeLeaf {
		rightNode.Raw.SetSibling(leaf.Raw.Sibling())
		leftBuf.SetSibling(rightNode.PageID())
	}

	leaf.Raw = leftBuf
	t.markDirty(leaf)
	t.markDirty(rightNode)

	migrateSplitFrames(frames, insertedAt, mid, rightNode)

	sepKey := entries[mid].Key
	return t.insertIntoParent(path, leafFrameIdx, rightNode.PageID(), sepKey)
}

// insertIntoParent installs (sepKey, newChildID) into the parent of the
// node that just split at path.frames[childFrameIdx]. If that node was
// the root, the tree grows a new root instead.
func (t *Tree) insertIntoParent(path *descentPath, childFrameIdx int, newChildID page.ID, sepKey []byte) error {
	if childFrameIdx == 0 {
		return t.growRoot(path.frames[0].n.PageID(), sepKey, newChildID)
	}

	parentFrame := path.frames[childFrameIdx-1]
	parent := parentFrame.n
	insertIdx := parentFrame.idx + 1 // always >= 0

	newEntry := &page.Entry{Key: sepKey, Child: newChildID}
	if parent.Raw.Fits(newEntry) {
		if err := parent.Raw.InsertAt(uint16(insertIdx), newEntry); err != nil {
			return err
		}
		t.markDirty(parent)
		return nil
	}
	return t.splitInternalAndInsert(path, childFrameIdx-1, newEntry, insertIdx)
}

// splitInternalAndInsert splits a full internal node, promoting its
// median separator into the grandparent rather than keeping a copy in
// either half (the promoted key's child becomes the right half's
// left-pointer).
func (t *Tree) splitInternalAndInsert(path *descentPath, frameIdx int, newEntry *page.Entry, insertIdx int) error {
	n := path.frames[frameIdx].n

	keys, children := collectInternal(n.Raw)
	keys, children = insertInternal(keys, children, newEntry, insertIdx)

	mid := len(keys) / 2
	promotedKey := keys[mid]

	leftBuf := page.New(t.store.PageSize(), page.TypeInternal)
	leftBuf.SetSibling(children[0])
	for i := 0; i < mid; i++ {
		if err := leftBuf.InsertAt(uint16(i), &page.Entry{Key: keys[i], Child: children[i+1]}); err != nil {
			return err
		}
	}

	rightNode, err := t.allocNode(page.TypeInternal)
	if err != nil {
		return err
	}
	rightNode.Raw.SetSibling(children[mid+1])
	for i := mid + 1; i < len(keys); i++ {
		if err := rightNode.Raw.InsertAt(uint16(i-mid-1), &page.Entry{Key: keys[i], Child: children[i+1]}); err != nil {
			return err
		}
	}

	n.Raw = leftBuf
	t.markDirty(n)
	t.markDirty(rightNode)

	return t.insertIntoParent(path, frameIdx, rightNode.PageID(), promotedKey)
}

// growRoot builds a new internal root over the two halves of a split
// former root, increasing the tree's height by one.
func (t *Tree) growRoot(oldRootID page.ID, sepKey []byte, newChildID page.ID) error {
	newRoot, err := t.allocNode(page.TypeInternal)
	if err != nil {
		return err
	}
	newRoot.Raw.SetSibling(oldRootID)
	if err := newRoot.Raw.InsertAt(0, &page.Entry{Key: sepKey, Child: newChildID}); err != nil {
		return err
	}

	t.root.SetPinned(false)
	newRoot.SetPinned(true)
	t.root = newRoot
	t.rootID.Store(uint64(newRoot.PageID()))
	t.markDirty(newRoot)
	return nil
}

// indexOfEntry finds target's position in entries by pointer identity;
// insertSorted always appends the caller's own *page.Entry unchanged,
// so this recovers exactly where it landed after the merge-sort.
func indexOfEntry(entries []*page.Entry, target *page.Entry) int {
	for i, e := range entries {
		if e == target {
			return i
		}
	}
	return len(entries)
}

// migrateSplitFrames relocates every frame that was bound to the leaf
// before it split (spec.md §4.6): a frame positioned at or after the
// new entry's insertion index shifts by one to account for the
// insertion, then lands either on the left half (same Node, just a
// new position) or the right half (Rebind onto rightNode), depending
// on which side of the split's midpoint it fell on.
func migrateSplitFrames(frames []*node.Frame, insertedAt, mid int, rightNode *node.Node) {
	for _, f := range frames {
		old := int(f.Pos())
		if old >= insertedAt {
			old++
		}
		if old < mid {
			f.SetPos(int32(old))
		} else {
			f.Rebind(rightNode, int32(old-mid))
		}
	}
}

func collectEntries(p *page.Page) []*page.Entry {
	n := p.Count()
	out := make([]*page.Entry, 0, n+1)
	for i := uint16(0); i < n; i++ {
		e, _ := p.At(i)
		out = append(out, &page.Entry{Key: append([]byte(nil), e.Key...), Value: append([]byte(nil), e.Value...)})
	}
	return out
}

func insertSorted(entries []*page.Entry, e *page.Entry, cmp CompareFunc) []*page.Entry {
	i := 0
	for i < len(entries) && cmp(entries[i].Key, e.Key) < 0 {
		i++
	}
	out := make([]*page.Entry, 0, len(entries)+1)
	out = append(out, entries[:i]...)
	out = append(out, e)
	out = append(out, entries[i:]...)
	return out
}

// collectInternal returns an internal node's separator keys and its
// children (len(children) == len(keys)+1, children[0] is the
// left-pointer).
func collectInternal(p *page.Page) (keys [][]byte, children []page.ID) {
	n := p.Count()
	keys = make([][]byte, 0, n)
	children = make([]page.ID, 0, n+1)
	children = append(children, p.Sibling())
	for i := uint16(0); i < n; i++ {
		e, _ := p.At(i)
		keys = append(keys, append([]byte(nil), e.Key...))
		children = append(children, e.Child)
	}
	return keys, children
}

func insertInternal(keys [][]byte, children []page.ID, e *page.Entry, idx int) ([][]byte, []page.ID) {
	newKeys := make([][]byte, 0, len(keys)+1)
	newKeys = append(newKeys, keys[:idx]...)
	newKeys = append(newKeys, e.Key)
	newKeys = append(newKeys, keys[idx:]...)

	newChildren := make([]page.ID, 0, len(children)+1)
	newChildren = append(newChildren, children[:idx+1]...)
	newChildren = append(newChildren, e.Child)
	newChildren = append(newChildren, children[idx+1:]...)
	return newKeys, newChildren
}
