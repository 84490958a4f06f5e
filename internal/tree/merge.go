package tree

import (
	"github.com/intellect4all/tuplgo/internal/node"
	"github.com/intellect4all/tuplgo/internal/page"
)

// mergeIfPossible implements spec.md §4.7's underfull-leaf Merge: try
// the right sibling first (its removal from the parent is a single
// RemoveAt at a fixed offset), falling back to the left sibling. Only
// the leaf level is considered; an internal node becoming underfull as a
// result is left as it is, since nothing in the package merges internal
// nodes.
func (t *Tree) mergeIfPossible(path *descentPath) error {
	leafFrameIdx := len(path.frames) - 1
	leaf := path.frames[leafFrameIdx].n
	parentFrame := path.frames[leafFrameIdx-1]
	parent := parentFrame.n
	slot := parentFrame.idx

	nextIdx := slot + 1
	if nextIdx < int(parent.Raw.Count()) {
		e, err := parent.Raw.At(uint16(nextIdx))
		if err != nil {
			return err
		}
		right, err := t.fetch(e.Child)
		if err != nil {
			return err
		}
		right.Latch.AcquireExclusive()
		merged, err := t.tryMergeRight(parent, uint16(nextIdx), leaf, right)
		right.Latch.ReleaseExclusive()
		if err != nil || merged {
			return err
		}
	}

	if slot >= 0 {
		var leftID page.ID
		if slot == 0 {
			leftID = parent.Raw.Sibling()
		} else {
			e, err := parent.Raw.At(uint16(slot - 1))
			if err != nil {
				return err
			}
			leftID = e.Child
		}
		left, err := t.fetch(leftID)
		if err != nil {
			return err
		}
		left.Latch.AcquireExclusive()
		_, err = t.tryMergeLeft(parent, uint16(slot), left, leaf)
		left.Latch.ReleaseExclusive()
		return err
	}
	return nil
}

// tryMergeRight absorbs right (the node stored at parent entry sepIdx)
// into leaf. It returns merged=false, nil if the combined contents
// would not fit one page, leaving both nodes untouched.
func (t *Tree) tryMergeRight(parent *node.Node, sepIdx uint16, leaf, right *node.Node) (bool, error) {
	if !fitsCombined(t.store.PageSize(), leaf.Raw, right.Raw) {
		return false, nil
	}

	leftCount := int(leaf.Raw.Count())
	rightFrames := right.Frames()

	combined := append(collectEntries(leaf.Raw), collectEntries(right.Raw)...)
	newBuf := page.New(t.store.PageSize(), leaf.Raw.Type())
	for i, e := range combined {
		if err := newBuf.InsertAt(uint16(i), e); err != nil {
			return false, err
		}
	}
	if leaf.Raw.Type() == page.TypeLeaf {
		newBuf.SetSibling(right.Raw.Sibling())
	}
	leaf.Raw = newBuf
	t.markDirty(leaf)

	// right is being deleted outright: every frame bound to it follows
	// its entries into leaf, offset by how many entries leaf already
	// had (spec.md §4.6 — a cursor parked on right must not go stale).
	for _, f := range rightFrames {
		f.Rebind(leaf, f.Pos()+int32(leftCount))
	}

	right.MarkDeleted()
	t.cache.Remove(right.PageID())
	if err := t.store.DeletePage(right.PageID()); err != nil {
		return false, err
	}

	if err := parent.Raw.RemoveAt(sepIdx); err != nil {
		return false, err
	}
	t.markDirty(parent)
	return true, nil
}

// tryMergeLeft absorbs leaf into left, the opposite direction of
// tryMergeRight (used when leaf has no right sibling under parent, or
// the merge with it did not fit).
func (t *Tree) tryMergeLeft(parent *node.Node, sepIdx uint16, left, leaf *node.Node) (bool, error) {
	if !fitsCombined(t.store.PageSize(), left.Raw, leaf.Raw) {
		return false, nil
	}

	leftCount := int(left.Raw.Count())
	leafFrames := leaf.Frames()

	combined := append(collectEntries(left.Raw), collectEntries(leaf.Raw)...)
	newBuf := page.New(t.store.PageSize(), left.Raw.Type())
	for i, e := range combined {
		if err := newBuf.InsertAt(uint16(i), e); err != nil {
			return false, err
		}
	}
	if left.Raw.Type() == page.TypeLeaf {
		newBuf.SetSibling(leaf.Raw.Sibling())
	}
	left.Raw = newBuf
	t.markDirty(left)

	// leaf is being deleted outright: every frame bound to it follows
	// its entries into left, offset by left's pre-merge entry count.
	for _, f := range leafFrames {
		f.Rebind(left, f.Pos()+int32(leftCount))
	}

	leaf.MarkDeleted()
	t.cache.Remove(leaf.PageID())
	if err := t.store.DeletePage(leaf.PageID()); err != nil {
		return false, err
	}

	if err := parent.Raw.RemoveAt(sepIdx); err != nil {
		return false, err
	}
	t.markDirty(parent)
	return true, nil
}

// fitsCombined estimates whether two pages' entries would fit in one
// freshly built page of the given size: used bytes are (pageSize -
// FreeSpace - header), and a merge is attempted only when the sum
// leaves the standard leaf/internal header budget free.
func fitsCombined(pageSize uint32, a, b *page.Page) bool {
	usedA := int(pageSize) - page.HeaderSize - a.FreeSpace()
	usedB := int(pageSize) - page.HeaderSize - b.FreeSpace()
	return usedA+usedB <= int(pageSize)-page.HeaderSize
}
