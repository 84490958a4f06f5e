// Package redo implements the append-only RedoLog of spec.md §4.9: a
// sequence of logical-operation records, each tagged with a
// transaction id, rotated into numbered files and replayed during
// recovery to bring the tree state forward from the last checkpoint.
//
// Grounded on the teacher's btree/wal.go (CRC32-framed records, an
// in-memory offset plus an explicit flushed watermark, a Sync that
// advances it) adapted from a single flat WAL file to the spec's
// numbered-file rotation scheme, and on hashindex/segment.go for the
// rotate-to-next-numbered-file idiom.
package redo

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Opcode tags one redo record, per spec.md §6's record list.
type Opcode byte

const (
	OpStore Opcode = iota
	OpStoreNoLock
	OpTxnEnter
	OpTxnRollback
	OpTxnRollbackFinal
	OpTxnCommit
	OpTxnCommitFinal
	OpTxnStore
	OpTxnStoreCommitFinal
	OpTxnLockShared
	OpTxnLockUpgradable
	OpTxnLockExclusive
	OpRenameIndex
	OpDeleteIndex
	OpCustom
	OpCustomLock

	// Advisory opcodes: recorded for diagnostics, ignored by replay.
	OpTimestamp
	OpShutdown
	OpClose
	OpEndOfFile
)

// Record is one decoded redo-log entry.
type Record struct {
	Op      Opcode
	TxnID   uint64
	Payload []byte
}

// recordHeaderSize is opcode(1) + txnID(8) + payload length(4).
const recordHeaderSize = 1 + 8 + 4

// encodeRecord serializes r as [opcode][txnID][length][payload][crc32].
func encodeRecord(r Record) []byte {
	buf := make([]byte, recordHeaderSize+len(r.Payload)+4)
	buf[0] = byte(r.Op)
	binary.BigEndian.PutUint64(buf[1:9], r.TxnID)
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(r.Payload)))
	copy(buf[13:], r.Payload)
	crc := crc32.ChecksumIEEE(buf[:recordHeaderSize+len(r.Payload)])
	binary.BigEndian.PutUint32(buf[len(buf)-4:], crc)
	return buf
}

// decodeRecord parses one record from the front of buf, returning the
// record and the number of bytes consumed. ok is false on a short or
// checksum-mismatched buffer, which callers treat as end-of-valid-log
// rather than a hard error, since a crash can leave a torn trailing
// record.
func decodeRecord(buf []byte) (r Record, consumed int, ok bool) {
	if len(buf) < recordHeaderSize+4 {
		return Record{}, 0, false
	}
	length := binary.BigEndian.Uint32(buf[9:13])
	total := recordHeaderSize + int(length) + 4
	if total > len(buf) {
		return Record{}, 0, false
	}
	crc := binary.BigEndian.Uint32(buf[total-4:])
	if crc32.ChecksumIEEE(buf[:total-4]) != crc {
		return Record{}, 0, false
	}
	r = Record{
		Op:      Opcode(buf[0]),
		TxnID:   binary.BigEndian.Uint64(buf[1:9]),
		Payload: append([]byte(nil), buf[recordHeaderSize:total-4]...),
	}
	return r, total, true
}

// fileName returns "<base>.redo.<N>".
func fileName(base string, number uint32) string {
	return fmt.Sprintf("%s.redo.%d", base, number)
}

// Writer appends records to the current redo file, buffering in
// memory until an explicit Sync or FlushSync, or until a Push finds the
// file at or past sizeThreshold, which writes the buffer out without
// fsync. The writer does not rotate on its own; a new numbered file is
// started only by an explicit Rotate call.
type Writer struct {
	mu            sync.Mutex
	base          string
	number        uint32
	file          *os.File
	buf           []byte
	position      int64 // bytes written to the current file; Rotate resets it to 0
	sizeThreshold int64
	logger        *zap.Logger
}

// Open creates or appends to "<base>.redo.<number>".
func Open(base string, number uint32, sizeThreshold int64, logger *zap.Logger) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := os.OpenFile(fileName(base, number), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Writer{
		base:          base,
		number:        number,
		file:          f,
		position:      stat.Size(),
		sizeThreshold: sizeThreshold,
		logger:        logger,
	}, nil
}

// Number reports the currently open redo file's number.
func (w *Writer) Number() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.number
}

// Position reports the writer's logical position: bytes committed to
// the current file plus anything still buffered.
func (w *Writer) Position() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.position + int64(len(w.buf))
}

// Push buffers one record. It does not itself guarantee durability:
// only FlushSync fsyncs; Sync and the size-threshold write below do not.
func (w *Writer) Push(op Opcode, txnID uint64, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, encodeRecord(Record{Op: op, TxnID: txnID, Payload: payload})...)
	if w.sizeThreshold > 0 && w.position+int64(len(w.buf)) >= w.sizeThreshold {
		return w.flushLocked(false)
	}
	return nil
}

// Sync writes the buffered records to the file without forcing an
// fsync.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(false)
}

// FlushSync writes the buffered records and fsyncs the file, per
// spec.md §4.9's "durable" write mode.
func (w *Writer) FlushSync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(true)
}

func (w *Writer) flushLocked(fsync bool) error {
	if len(w.buf) > 0 {
		n, err := w.file.Write(w.buf)
		w.position += int64(n)
		w.buf = w.buf[:0]
		if err != nil {
			w.logger.Error("redo: write failed", zap.Error(err))
			return err
		}
	}
	if fsync {
		return w.file.Sync()
	}
	return nil
}

// Rotate flushes the current file, opens file number+1, and switches
// the writer to it, per spec.md §4.9's rotation-on-size-threshold rule.
// The caller is responsible for recording the cut position at the next
// checkpoint.
func (w *Writer) Rotate() (oldNumber uint32, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(true); err != nil {
		return w.number, err
	}
	if err := w.file.Close(); err != nil {
		return w.number, err
	}
	oldNumber = w.number
	w.number++
	f, err := os.OpenFile(fileName(w.base, w.number), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return oldNumber, err
	}
	w.file = f
	w.position = 0
	return oldNumber, nil
}

// Close flushes and closes the current file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(true); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// PurgeThrough removes redo files strictly older than keepFrom, per
// spec.md §4.10 step 10's "truncate/delete obsolete redo files".
func PurgeThrough(base string, keepFrom uint32) error {
	for n := uint32(0); n < keepFrom; n++ {
		path := fileName(base, n)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
