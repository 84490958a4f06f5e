package node

import (
	"runtime"
	"sync/atomic"
)

// rebindMarker is the REBIND_FRAME sentinel of spec.md §4.6: while a
// frame is mid-rebind its next pointer is parked here so a concurrent
// structural fix-up (split/merge relocating this same frame) observes
// "busy" instead of "already unbound" and spins instead of corrupting
// the list.
var rebindMarker = &Frame{}

// Frame is one level of a cursor's descent, bound into the owning
// Node's intrusive frame list (spec.md §4.6).
type Frame struct {
	Node        *Node
	nodePos     atomic.Int32
	Parent      *Frame
	NotFoundKey []byte
	generation  uint64

	prevCousin atomic.Pointer[Frame]
	next       atomic.Pointer[Frame] // self = "I am the tail"; nil = unbound
}

func (f *Frame) Pos() int32     { return f.nodePos.Load() }
func (f *Frame) SetPos(p int32) { f.nodePos.Store(p) }

// Bound reports whether f is currently bound to a node.
func (f *Frame) Bound() bool { return f.next.Load() != nil }

// Bind attaches f to n at position pos, appending it to n's intrusive
// frame list. Lost CAS races spin-then-yield, per spec.md §4.6.
func (f *Frame) Bind(n *Node, pos int32) {
	f.Node = n
	f.nodePos.Store(pos)
	f.generation = n.Generation()
	f.prevCousin.Store(nil)
	f.next.Store(f) // tentatively the tail

	for {
		last := n.lastFrame.Load()
		if last == nil {
			if n.lastFrame.CompareAndSwap(nil, f) {
				return
			}
			runtime.Gosched()
			continue
		}
		if !last.next.CompareAndSwap(last, f) {
			runtime.Gosched()
			continue
		}
		f.prevCousin.Store(last)
		n.lastFrame.CompareAndSwap(last, f) // always succeeds: we own the splice
		return
	}
}

// Unbind detaches f from its node's frame list.
func (f *Frame) Unbind() {
	n := f.Node
	if n == nil {
		return
	}
	for {
		nxt := f.next.Load()
		if nxt == nil {
			return // already unbound
		}
		if nxt == rebindMarker {
			runtime.Gosched()
			continue
		}
		prev := f.prevCousin.Load()

		if nxt == f {
			// f is the tail.
			if !f.next.CompareAndSwap(f, nil) {
				continue
			}
			if prev != nil {
				prev.next.Store(prev)
				n.lastFrame.CompareAndSwap(f, prev)
			} else {
				n.lastFrame.CompareAndSwap(f, nil)
			}
			return
		}

		// f is interior: splice prev <-> nxt around it.
		if !f.next.CompareAndSwap(nxt, nil) {
			continue
		}
		if prev != nil {
			prev.next.Store(nxt)
		}
		nxt.prevCousin.Store(prev)
		return
	}
}

// Rebind atomically detaches f from whatever list currently holds it
// and reattaches it to n at pos. The REBIND_FRAME marker parked in
// f.next while this runs makes a concurrent Unbind of the same frame
// see "busy" and spin instead of racing the splice (it cannot call
// f.Unbind() directly: Unbind's own busy-check would spin forever
// waiting for a marker only this call can clear).
func (f *Frame) Rebind(n *Node, pos int32) {
	var nxt *Frame
	for {
		cur := f.next.Load()
		if cur == rebindMarker {
			runtime.Gosched()
			continue
		}
		if !f.next.CompareAndSwap(cur, rebindMarker) {
			continue
		}
		nxt = cur
		break
	}

	if old := f.Node; old != nil && nxt != nil {
		prev := f.prevCousin.Load()
		if nxt == f {
			// f was the tail.
			if prev != nil {
				prev.next.Store(prev)
				old.lastFrame.CompareAndSwap(f, prev)
			} else {
				old.lastFrame.CompareAndSwap(f, nil)
			}
		} else {
			// f was interior: splice prev <-> nxt around it.
			if prev != nil {
				prev.next.Store(nxt)
			}
			nxt.prevCousin.Store(prev)
		}
	}

	f.Bind(n, pos)
}

// Frames returns a snapshot of every Frame currently bound to n. A
// structural change (split, merge) about to move n's entries
// elsewhere snapshots before mutating n.Raw, then calls SetPos or
// Rebind on each one — safe against a cursor concurrently unbinding
// the same frame, since that race is exactly what Rebind's marker
// protects against.
func (n *Node) Frames() []*Frame {
	var out []*Frame
	for f := n.lastFrame.Load(); f != nil; f = f.prevCousin.Load() {
		out = append(out, f)
	}
	return out
}

// TryLockNext temporarily swaps f's next pointer for sentinel, to
// prevent structural neighbors from changing while a fix-up inspects
// f's position. It returns the previous value (false if f is unbound,
// mid-rebind, or its next pointer changed during the swap) so the caller
// can restore it via UnlockNext. A next pointer already swapped for
// another caller's sentinel is not detected.
func (f *Frame) TryLockNext(sentinel *Frame) (prev *Frame, ok bool) {
	cur := f.next.Load()
	if cur == rebindMarker || cur == nil {
		return nil, false
	}
	if !f.next.CompareAndSwap(cur, sentinel) {
		return nil, false
	}
	return cur, true
}

// UnlockNext restores f's next pointer after a successful TryLockNext.
func (f *Frame) UnlockNext(prev *Frame) {
	f.next.Store(prev)
}
