// Package undo implements the per-transaction undo log of spec.md
// §4.8: entries accumulate in a small in-memory buffer and, once that
// buffer would exceed half a page, spill to a chain of fragment-typed
// pages linked through their Sibling pointer (reused here exactly as
// spec.md's internal-node left-pointer is reused, as the chain's
// lower_node_id).
//
// Grounded on the teacher's btree/wal.go record framing (opcode byte +
// length-prefixed payload + CRC-checked record boundaries) adapted from
// a flat append-only file to a paged, chained structure since undo logs
// must live inside the same page store as the tree they protect.
package undo

import (
	"errors"

	"github.com/intellect4all/tuplgo/internal/page"
	"github.com/intellect4all/tuplgo/internal/store"
)

// ErrEntryTooLarge means a single undo entry exceeds one page's body,
// which cannot currently be fragmented across pages.
var ErrEntryTooLarge = errors.New("undo: entry too large to spill")

// Opcode tags one undo entry, per spec.md §4.8.
type Opcode byte

const (
	OpScopeEnter Opcode = iota
	OpScopeCommit
	OpLogicalCommit
	OpCommitTruncate
	OpIndexActivate

	// opcodeLenThreshold: opcodes at or above this value carry an
	// explicit varint length prefix before their payload, per spec.md
	// §4.8's entry format; opcodes below it carry no payload.
	opcodeLenThreshold Opcode = 16

	OpLogCopy Opcode = 16 // master-log-only: full inline copy of a log
	OpLogRef  Opcode = 17 // master-log-only: {txn id, index id, length, top node, top pos}

	// The inverse-operation opcodes carry a key (and a value or trash id),
	// so they sit above opcodeLenThreshold.
	OpUnInsert           Opcode = 18
	OpUnUpdate           Opcode = 19
	OpUnDelete           Opcode = 20
	OpUnDeleteFragmented Opcode = 21
	OpCustom             Opcode = 22
	OpUnInsertLK         Opcode = 23 // "LK" variant: explicit key length for a fragmented key
	OpUnDeleteLK         Opcode = 24
)

// entry is one decoded undo record.
type entry struct {
	op      Opcode
	payload []byte
}

func encodeEntry(op Opcode, payload []byte) []byte {
	if op < opcodeLenThreshold {
		out := make([]byte, 1+len(payload))
		out[0] = byte(op)
		copy(out[1:], payload)
		return out
	}
	lenBuf := make([]byte, page.VarintLen(uint64(len(payload))))
	n := page.PutVarint(lenBuf, uint64(len(payload)))
	out := make([]byte, 1+n+len(payload))
	out[0] = byte(op)
	copy(out[1:], lenBuf[:n])
	copy(out[1+n:], payload)
	return out
}

// decodeEntry parses one entry from the front of buf, returning it and
// the number of bytes consumed.
func decodeEntry(buf []byte) (entry, int, bool) {
	if len(buf) == 0 {
		return entry{}, 0, false
	}
	op := Opcode(buf[0])
	if op < opcodeLenThreshold {
		return entry{op: op, payload: nil}, 1, true
	}
	length, n := page.Uvarint(buf[1:])
	if n <= 0 {
		return entry{}, 0, false
	}
	start := 1 + n
	end := start + int(length)
	if end > len(buf) {
		return entry{}, 0, false
	}
	return entry{op: op, payload: buf[start:end]}, end, true
}

// scopeMark records the buffer length and persisted chain depth at a
// SCOPE_ENTER, so Rollback can unwind to exactly this point.
type scopeMark struct {
	bufLen int
	chain  []page.ID // persisted chain heads at the time of this scope
}

// Log is one transaction's undo stack.
type Log struct {
	store store.Store
	buf    []byte
	chain  []page.ID // spilled pages, oldest first; chain[len-1] is the current top
	scopes []scopeMark
}

// New returns an empty undo log bound to st.
func New(st store.Store) *Log {
	return &Log{store: st}
}

// spillThreshold is spec.md §4.8's "≤ pageSize/2" in-memory buffer cap.
func (l *Log) spillThreshold() int { return int(l.store.PageSize()) / 2 }

// Push appends one entry to the top of the stack.
func (l *Log) Push(op Opcode, payload []byte) error {
	enc := encodeEntry(op, payload)
	if len(l.buf) > 0 && len(l.buf)+len(enc) > int(l.store.PageSize())-page.HeaderSize {
		// The new entry would not fit beside the buffered ones in one
		// spilled page, so spill those first.
		if err := l.spill(); err != nil {
			return err
		}
	}
	l.buf = append(l.buf, enc...)
	if len(l.buf) > l.spillThreshold() {
		return l.spill()
	}
	return nil
}

// spill writes the current buffer out as a new undo-log page, chained
// to the previous top via Sibling (this log's lower_node_id), and
// clears the in-memory buffer.
func (l *Log) spill() error {
	id, err := l.store.AllocPage()
	if err != nil {
		return err
	}
	p := page.New(l.store.PageSize(), page.TypeUndoLog)
	if len(l.chain) > 0 {
		p.SetSibling(l.chain[len(l.chain)-1])
	}
	body := p.Buf[page.HeaderSize:]
	if len(l.buf) > len(body) {
		// Push spills the buffered entries before appending one that
		// would not fit beside them, so only a single entry larger than
		// the page body reaches this.
		return ErrEntryTooLarge
	}
	copy(body, l.buf)
	if err := l.store.WritePage(id, p.Buf); err != nil {
		return err
	}
	l.chain = append(l.chain, id)
	l.buf = l.buf[:0]
	return nil
}

// ForceSpill pushes any buffered entries out to a page even if they
// have not reached spillThreshold, so the log's TopPointer is valid
// before the checkpointer records it in the header (spec.md §4.10
// step 5).
func (l *Log) ForceSpill() error {
	if len(l.buf) == 0 {
		return nil
	}
	return l.spill()
}

// EnterScope pushes SCOPE_ENTER and records a rollback mark.
func (l *Log) EnterScope() error {
	l.scopes = append(l.scopes, scopeMark{bufLen: len(l.buf), chain: append([]page.ID(nil), l.chain...)})
	return l.Push(OpScopeEnter, nil)
}

// CommitScope pushes SCOPE_COMMIT, marking the innermost scope as
// committed (a no-op at rollback time) and popping its mark.
func (l *Log) CommitScope() error {
	if len(l.scopes) > 0 {
		l.scopes = l.scopes[:len(l.scopes)-1]
	}
	return l.Push(OpScopeCommit, nil)
}

// Handler applies the inverse of one undo entry during rollback.
type Handler interface {
	UnInsert(key []byte) error
	UnUpdate(key, value []byte) error
	UnDelete(key, value []byte) error
	UnDeleteFragmented(key []byte, trashID page.ID) error
	Custom(payload []byte) error
}

// Empty reports whether the log has no entries at all, buffered or
// spilled.
func (l *Log) Empty() bool { return len(l.buf) == 0 && len(l.chain) == 0 }

// TopPointer returns the page id of the most recently spilled undo
// page, or page.NoID if the log has not spilled yet.
func (l *Log) TopPointer() page.ID {
	if len(l.chain) == 0 {
		return page.NoID
	}
	return l.chain[len(l.chain)-1]
}
