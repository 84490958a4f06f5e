package undo

import (
	"bytes"

	"github.com/intellect4all/tuplgo/internal/errs"
	"github.com/intellect4all/tuplgo/internal/page"
)

// Rollback pops and replays entries through h until the stack length
// drops below the most recent scope mark, or until a matching
// SCOPE_ENTER is found with no mark recorded (full rollback).
func (l *Log) Rollback(h Handler) error {
	var floor scopeMark
	hasFloor := false
	if len(l.scopes) > 0 {
		floor = l.scopes[len(l.scopes)-1]
		l.scopes = l.scopes[:len(l.scopes)-1]
		hasFloor = true
	}

	for {
		if hasFloor && len(l.buf) <= floor.bufLen && sameChain(l.chain, floor.chain) {
			return nil
		}
		e, ok, err := l.pop()
		if err != nil {
			return err
		}
		if !ok {
			return nil // stack fully drained
		}
		if e.op == OpScopeEnter {
			return nil
		}
		if err := l.apply(h, e); err != nil {
			return err
		}
	}
}

func sameChain(a, b []page.ID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// apply invokes the inverse operation for one popped entry.
func (l *Log) apply(h Handler, e entry) error {
	switch e.op {
	case OpScopeCommit:
		return nil // marks the scope committed; nothing to undo
	case OpUnInsert, OpUnInsertLK:
		key, _, ok := readLenPrefixed(e.payload)
		if !ok {
			return errs.Corrupt("undo: malformed UN_INSERT entry")
		}
		return h.UnInsert(key)
	case OpUnUpdate:
		key, rest, ok := readLenPrefixed(e.payload)
		if !ok {
			return errs.Corrupt("undo: malformed UN_UPDATE entry")
		}
		return h.UnUpdate(key, rest)
	case OpUnDelete, OpUnDeleteLK:
		key, rest, ok := readLenPrefixed(e.payload)
		if !ok {
			return errs.Corrupt("undo: malformed UN_DELETE entry")
		}
		return h.UnDelete(key, rest)
	case OpUnDeleteFragmented:
		key, rest, ok := readLenPrefixed(e.payload)
		if !ok || len(rest) < 6 {
			return errs.Corrupt("undo: malformed UN_DELETE_FRAGMENTED entry")
		}
		return h.UnDeleteFragmented(key, page.GetID(rest[:6]))
	case OpCustom:
		return h.Custom(e.payload)
	case OpCommitTruncate:
		return nil
	default:
		return errs.Corrupt("undo: unknown opcode %d", e.op)
	}
}

// readLenPrefixed splits payload into a varint-length-prefixed key and
// the remaining bytes.
func readLenPrefixed(payload []byte) (key, rest []byte, ok bool) {
	klen, n := page.Uvarint(payload)
	if n <= 0 || int(n)+int(klen) > len(payload) {
		return nil, nil, false
	}
	return payload[n : n+int(klen)], payload[n+int(klen):], true
}

// pop removes and returns the most recently pushed entry, pulling from
// the in-memory buffer first, then unwinding the spilled chain.
func (l *Log) pop() (entry, bool, error) {
	if len(l.buf) > 0 {
		e, consumed, ok := lastEntry(l.buf)
		if !ok {
			return entry{}, false, errs.Corrupt("undo: corrupt in-memory buffer")
		}
		l.buf = l.buf[:len(l.buf)-consumed]
		return e, true, nil
	}
	if len(l.chain) == 0 {
		return entry{}, false, nil
	}
	top := l.chain[len(l.chain)-1]
	buf := make([]byte, l.store.PageSize())
	if err := l.store.ReadPage(top, buf); err != nil {
		return entry{}, false, err
	}
	p := page.Load(buf)
	body := bytes.TrimRight(p.Buf[page.HeaderSize:], "\x00")
	e, consumed, ok := lastEntry(body)
	if !ok {
		return entry{}, false, errs.Corrupt("undo: corrupt spilled page %d", top)
	}
	l.chain = l.chain[:len(l.chain)-1]
	if remaining := body[:len(body)-consumed]; len(remaining) > 0 {
		l.buf = append(l.buf, remaining...)
	}
	return e, true, nil
}

// lastEntry decodes entries from the front of buf until the last one
// is identified, since entries are self-framing but only forward
// decodable; it returns the final entry and how many trailing bytes it
// occupied.
func lastEntry(buf []byte) (entry, int, bool) {
	var last entry
	lastStart := -1
	off := 0
	for off < len(buf) {
		e, n, ok := decodeEntry(buf[off:])
		if !ok {
			break
		}
		last = e
		lastStart = off
		off += n
	}
	if lastStart < 0 {
		return entry{}, 0, false
	}
	return last, len(buf) - lastStart, true
}
