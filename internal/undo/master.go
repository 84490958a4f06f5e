package undo

import (
	"encoding/binary"

	"github.com/intellect4all/tuplgo/internal/page"
)

// LogRef is the decoded payload of an OP_LOG_REF master-log entry: a
// pointer to a transaction's undo log rather than an inline copy.
type LogRef struct {
	TxnID    uint64
	IndexID  uint64
	Length   uint64
	TopNode  page.ID
	TopPos   uint32
}

// copyInlineThreshold caps how large a transaction's log may be before
// the checkpointer switches from an inline OP_LOG_COPY to an OP_LOG_REF,
// per spec.md §4.8.
const copyInlineThreshold = 1024

// WriteMaster serializes l into the master undo log master, either as
// a full inline copy (small logs) or a reference record (logs that have
// already spilled to their own page chain).
func (l *Log) WriteMaster(master *Log, txnID, indexID uint64) error {
	if l.Empty() {
		return nil
	}
	if len(l.chain) == 0 && len(l.buf) <= copyInlineThreshold {
		return master.Push(OpLogCopy, append([]byte(nil), l.buf...))
	}
	// A reference names the top spilled page, so spill any buffered
	// entries first.
	if err := l.ForceSpill(); err != nil {
		return err
	}

	ref := LogRef{
		TxnID:   txnID,
		IndexID: indexID,
		Length:  uint64(len(l.buf)) + uint64(len(l.chain))*uint64(master.store.PageSize()),
		TopNode: l.TopPointer(),
	}
	return master.Push(OpLogRef, encodeLogRef(ref))
}

func encodeLogRef(r LogRef) []byte {
	buf := make([]byte, 8+8+8+6+4)
	binary.BigEndian.PutUint64(buf[0:], r.TxnID)
	binary.BigEndian.PutUint64(buf[8:], r.IndexID)
	binary.BigEndian.PutUint64(buf[16:], r.Length)
	page.PutID(buf[24:30], r.TopNode)
	binary.BigEndian.PutUint32(buf[30:], r.TopPos)
	return buf
}

// DecodeLogRef parses a payload previously produced by encodeLogRef.
func DecodeLogRef(payload []byte) (LogRef, bool) {
	if len(payload) < 34 {
		return LogRef{}, false
	}
	return LogRef{
		TxnID:   binary.BigEndian.Uint64(payload[0:]),
		IndexID: binary.BigEndian.Uint64(payload[8:]),
		Length:  binary.BigEndian.Uint64(payload[16:]),
		TopNode: page.GetID(payload[24:30]),
		TopPos:  binary.BigEndian.Uint32(payload[30:]),
	}, true
}
