package redo

import (
	"os"

	"github.com/intellect4all/tuplgo/internal/errs"
)

// Visitor applies one replayed redo record to the live trees, per
// spec.md §4.9's recovery rule: "reusing the normal mutation path but
// bypassing redo emission". Advisory opcodes (timestamp, shutdown,
// close, end-of-file) have no corresponding method and are skipped by
// Replay.
type Visitor interface {
	Store(indexID uint64, key, value []byte) error
	StoreNoLock(indexID uint64, key, value []byte) error
	TxnEnter(txnID uint64) error
	TxnRollback(txnID uint64) error
	TxnRollbackFinal(txnID uint64) error
	TxnCommit(txnID uint64) error
	TxnCommitFinal(txnID uint64) error
	TxnStore(txnID, indexID uint64, key, value []byte) error
	TxnStoreCommitFinal(txnID, indexID uint64, key, value []byte) error
	TxnLockShared(txnID, indexID uint64, key []byte) error
	TxnLockUpgradable(txnID, indexID uint64, key []byte) error
	TxnLockExclusive(txnID, indexID uint64, key []byte) error
	RenameIndex(indexID uint64, newName []byte) error
	DeleteIndex(indexID uint64) error
	Custom(txnID uint64, payload []byte) error
	CustomLock(txnID, indexID uint64, key, payload []byte) error
}

// Replay reads redo files starting at fromNumber from position
// fromPosition forward through however many subsequent numbered files
// exist, applying every record to v in file then offset order. It
// stops at the first missing file, matching spec.md §4.10's "the last
// redo number, last position" recovery contract: files before
// fromNumber are assumed already checkpointed past and are not read.
func Replay(base string, fromNumber uint32, fromPosition int64, v Visitor) error {
	number := fromNumber
	pos := fromPosition
	for {
		data, err := os.ReadFile(fileName(base, number))
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if pos > int64(len(data)) {
			return errs.Corrupt("redo: file %d shorter than recorded position %d", number, pos)
		}
		if err := replayBuf(data[pos:], v); err != nil {
			return err
		}
		number++
		pos = 0
	}
}

func replayBuf(buf []byte, v Visitor) error {
	for len(buf) > 0 {
		r, n, ok := decodeRecord(buf)
		if !ok {
			// A torn trailing record is expected after a crash; stop
			// rather than treat it as corruption.
			return nil
		}
		if err := apply(v, r); err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func apply(v Visitor, r Record) error {
	switch r.Op {
	case OpStore:
		idx, key, val, ok := decodeIndexKeyValue(r.Payload)
		if !ok {
			return errs.Corrupt("redo: malformed STORE record")
		}
		return v.Store(idx, key, val)
	case OpStoreNoLock:
		idx, key, val, ok := decodeIndexKeyValue(r.Payload)
		if !ok {
			return errs.Corrupt("redo: malformed STORE_NO_LOCK record")
		}
		return v.StoreNoLock(idx, key, val)
	case OpTxnEnter:
		return v.TxnEnter(r.TxnID)
	case OpTxnRollback:
		return v.TxnRollback(r.TxnID)
	case OpTxnRollbackFinal:
		return v.TxnRollbackFinal(r.TxnID)
	case OpTxnCommit:
		return v.TxnCommit(r.TxnID)
	case OpTxnCommitFinal:
		return v.TxnCommitFinal(r.TxnID)
	case OpTxnStore:
		idx, key, val, ok := decodeIndexKeyValue(r.Payload)
		if !ok {
			return errs.Corrupt("redo: malformed TXN_STORE record")
		}
		return v.TxnStore(r.TxnID, idx, key, val)
	case OpTxnStoreCommitFinal:
		idx, key, val, ok := decodeIndexKeyValue(r.Payload)
		if !ok {
			return errs.Corrupt("redo: malformed TXN_STORE_COMMIT_FINAL record")
		}
		return v.TxnStoreCommitFinal(r.TxnID, idx, key, val)
	case OpTxnLockShared:
		idx, key, ok := decodeIndexKey(r.Payload)
		if !ok {
			return errs.Corrupt("redo: malformed TXN_LOCK_SHARED record")
		}
		return v.TxnLockShared(r.TxnID, idx, key)
	case OpTxnLockUpgradable:
		idx, key, ok := decodeIndexKey(r.Payload)
		if !ok {
			return errs.Corrupt("redo: malformed TXN_LOCK_UPGRADABLE record")
		}
		return v.TxnLockUpgradable(r.TxnID, idx, key)
	case OpTxnLockExclusive:
		idx, key, ok := decodeIndexKey(r.Payload)
		if !ok {
			return errs.Corrupt("redo: malformed TXN_LOCK_EXCLUSIVE record")
		}
		return v.TxnLockExclusive(r.TxnID, idx, key)
	case OpRenameIndex:
		idx, name, ok := decodeIndexKey(r.Payload)
		if !ok {
			return errs.Corrupt("redo: malformed RENAME_INDEX record")
		}
		return v.RenameIndex(idx, name)
	case OpDeleteIndex:
		idx, _, ok := decodeIndexKey(r.Payload)
		if !ok {
			return errs.Corrupt("redo: malformed DELETE_INDEX record")
		}
		return v.DeleteIndex(idx)
	case OpCustom:
		return v.Custom(r.TxnID, r.Payload)
	case OpCustomLock:
		idx, key, payload, ok := decodeIndexKeyValue(r.Payload)
		if !ok {
			return errs.Corrupt("redo: malformed CUSTOM_LOCK record")
		}
		return v.CustomLock(r.TxnID, idx, key, payload)
	case OpTimestamp, OpShutdown, OpClose, OpEndOfFile:
		return nil // advisory, per spec.md §6
	default:
		return errs.Corrupt("redo: unknown opcode %d", r.Op)
	}
}
