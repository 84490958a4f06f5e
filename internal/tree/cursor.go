package tree

import (
	"math/rand"

	"github.com/intellect4all/tuplgo/internal/commitlock"
	"github.com/intellect4all/tuplgo/internal/node"
	"github.com/intellect4all/tuplgo/internal/page"
)

// Cursor iterates a Tree's leaves in key order (spec.md §4.7's next,
// previous, findNearby). Its position is a bound node.Frame (spec.md
// §4.6): split and merge snapshot a node's frame list before rewriting
// its entries and reposition or Rebind every frame still pointing into
// it, so a cursor's Next/Previous never reads a slot that quietly
// moved out from under it during a concurrent structural change.
//
// Next follows the leaf's right Sibling pointer directly (O(1),
// findNearby's "avoid re-descent" goal for the common forward-scan
// case). The page layout has no symmetric left link, so Previous
// re-descends from the root to locate the preceding leaf only when it
// steps off the front of the current one.
type Cursor struct {
	t         *Tree
	tok       *commitlock.Token
	frame     *node.Frame
	exhausted bool
}

// NewCursor returns a cursor positioned before the first entry; call
// First, Last, or Seek before Next/Previous.
func (t *Tree) NewCursor(tok *commitlock.Token) *Cursor {
	return &Cursor{t: t, tok: tok, frame: &node.Frame{}, exhausted: true}
}

// Close unbinds the cursor's frame. Callers holding a Cursor across
// multiple tree operations should Close it once done so split/merge
// don't keep repositioning a frame nobody reads anymore.
func (c *Cursor) Close() { c.frame.Unbind() }

func (c *Cursor) leaf() *node.Node { return c.frame.Node }
func (c *Cursor) pos() int         { return int(c.frame.Pos()) }

// settle binds the cursor's frame to n at pos, reusing the existing
// Frame object (Rebind handles both the "already bound elsewhere" and
// "never bound" cases; n's split/merge hooks only ever see frames this
// way, never a second Frame aliasing the same cursor).
func (c *Cursor) settle(n *node.Node, pos int) {
	c.frame.Rebind(n, int32(pos))
	c.exhausted = n.Raw.Count() == 0
}

// First positions the cursor on the smallest key.
func (c *Cursor) First() (bool, error) {
	cl := c.t.store.CommitLock()
	cl.AcquireShared(c.tok)
	defer cl.ReleaseShared(c.tok)

	n := c.t.root
	n.Latch.AcquireShared()
	for n.Raw.Type() == page.TypeInternal {
		child, err := c.t.fetch(n.Raw.Sibling())
		if err != nil {
			n.Latch.ReleaseShared()
			return false, err
		}
		child.Latch.AcquireShared()
		n.Latch.ReleaseShared()
		n = child
	}
	c.settle(n, 0)
	n.Latch.ReleaseShared()
	return !c.exhausted, nil
}

// Last positions the cursor on the largest key.
func (c *Cursor) Last() (bool, error) {
	cl := c.t.store.CommitLock()
	cl.AcquireShared(c.tok)
	defer cl.ReleaseShared(c.tok)

	n := c.t.root
	n.Latch.AcquireShared()
	for n.Raw.Type() == page.TypeInternal {
		count := n.Raw.Count()
		slot := -1
		if count > 0 {
			slot = int(count) - 1
		}
		child, err := c.t.childAtSlot(n, slot)
		if err != nil {
			n.Latch.ReleaseShared()
			return false, err
		}
		child.Latch.AcquireShared()
		n.Latch.ReleaseShared()
		n = child
	}
	count := n.Raw.Count()
	pos := 0
	if count > 0 {
		pos = int(count) - 1
	}
	c.settle(n, pos)
	n.Latch.ReleaseShared()
	return !c.exhausted, nil
}

// Seek positions the cursor at key, or the next key greater than it if
// key is absent.
func (c *Cursor) Seek(key []byte) (bool, error) {
	cl := c.t.store.CommitLock()
	cl.AcquireShared(c.tok)
	defer cl.ReleaseShared(c.tok)

	n := c.t.root
	n.Latch.AcquireShared()
	for n.Raw.Type() == page.TypeInternal {
		child, _, err := c.t.childFor(n, key)
		if err != nil {
			n.Latch.ReleaseShared()
			return false, err
		}
		child.Latch.AcquireShared()
		n.Latch.ReleaseShared()
		n = child
	}
	idx, _ := n.Raw.Search(key, c.t.cmp)
	c.settle(n, int(idx))
	exhausted := uint16(idx) >= n.Raw.Count()
	n.Latch.ReleaseShared()
	if exhausted {
		return c.Next()
	}
	return true, nil
}

// Key and Value return the entry at the cursor's current position.
func (c *Cursor) Key() ([]byte, error) {
	e, err := c.leaf().Raw.At(uint16(c.pos()))
	if err != nil {
		return nil, err
	}
	return e.Key, nil
}

func (c *Cursor) Value() ([]byte, error) {
	e, err := c.leaf().Raw.At(uint16(c.pos()))
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

// Next advances to the following key, crossing into the right sibling
// leaf when the current one is exhausted (findNearby's fast path: the
// sibling chain means this never re-descends from the root).
func (c *Cursor) Next() (bool, error) {
	if c.exhausted || !c.frame.Bound() {
		return false, nil
	}
	pos := c.pos() + 1
	if uint16(pos) < c.leaf().Raw.Count() {
		c.frame.SetPos(int32(pos))
		return true, nil
	}

	cl := c.t.store.CommitLock()
	cl.AcquireShared(c.tok)
	defer cl.ReleaseShared(c.tok)

	for {
		nextID := c.leaf().Raw.Sibling()
		if !nextID.Valid() {
			c.exhausted = true
			return false, nil
		}
		next, err := c.t.fetch(nextID)
		if err != nil {
			return false, err
		}
		next.Latch.AcquireShared()
		count := next.Raw.Count()
		c.settle(next, 0)
		next.Latch.ReleaseShared()
		if count > 0 {
			return true, nil
		}
		// Empty leaf a merge couldn't absorb into either neighbor;
		// keep walking right rather than surfacing it to the caller.
	}
}

// Previous retreats to the preceding key. The leaf layout keeps only a
// right Sibling pointer, so crossing a leaf boundary backward
// re-descends from the root to find the preceding leaf (predecessorLeaf)
// instead of following a link.
func (c *Cursor) Previous() (bool, error) {
	if c.exhausted || !c.frame.Bound() {
		return false, nil
	}
	pos := c.pos() - 1
	if pos >= 0 {
		c.frame.SetPos(int32(pos))
		return true, nil
	}

	cl := c.t.store.CommitLock()
	cl.AcquireShared(c.tok)
	defer cl.ReleaseShared(c.tok)

	e, err := c.leaf().Raw.At(0)
	if err != nil {
		return false, err
	}
	boundary := append([]byte(nil), e.Key...)

	prev, err := c.t.predecessorLeaf(boundary)
	if err != nil {
		return false, err
	}
	if prev == nil {
		c.exhausted = true
		return false, nil
	}

	prev.Latch.AcquireShared()
	count := prev.Raw.Count()
	if count == 0 {
		// A merge raced predecessorLeaf's scan and left this leaf
		// empty too; treat it as "no previous" rather than looping
		// indefinitely for an edge case the underlying merge already
		// tries hard to avoid.
		prev.Latch.ReleaseShared()
		c.exhausted = true
		return false, nil
	}
	c.settle(prev, int(count)-1)
	prev.Latch.ReleaseShared()
	return true, nil
}

// Random walks top-down choosing a pseudo-randomly weighted child at
// each level, per spec.md §4.7's Random(low, high): used only for
// approximate range partitioning by splittable scanners, not for any
// uniformity guarantee. low and high are not consulted: the returned key
// may lie anywhere in the tree.
func (t *Tree) Random(tok *commitlock.Token, low, high []byte) ([]byte, error) {
	cl := t.store.CommitLock()
	cl.AcquireShared(tok)
	defer cl.ReleaseShared(tok)

	n := t.root
	n.Latch.AcquireShared()
	for n.Raw.Type() == page.TypeInternal {
		count := n.Raw.Count()
		var child *node.Node
		var err error
		if count == 0 {
			child, err = t.fetch(n.Raw.Sibling())
		} else {
			pick := rand.Intn(int(count) + 1)
			if pick == 0 {
				child, err = t.fetch(n.Raw.Sibling())
			} else {
				e, aerr := n.Raw.At(uint16(pick - 1))
				if aerr != nil {
					err = aerr
				} else {
					child, err = t.fetch(e.Child)
				}
			}
		}
		if err != nil {
			n.Latch.ReleaseShared()
			return nil, err
		}
		child.Latch.AcquireShared()
		n.Latch.ReleaseShared()
		n = child
	}
	defer n.Latch.ReleaseShared()

	if n.Raw.Count() == 0 {
		return nil, nil
	}
	idx := rand.Intn(int(n.Raw.Count()))
	e, err := n.Raw.At(uint16(idx))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), e.Key...), nil
}
