// Package errs declares the error taxonomy shared by every storage-kernel
// component (spec.md §7). Each kind is a sentinel so callers can
// errors.Is against it regardless of which component raised it.
package errs

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrCorruptDatabase means a structural invariant was violated on disk.
	// Fatal to the open database.
	ErrCorruptDatabase = errors.New("tuplgo: corrupt database")

	// ErrDatabaseFull means no more 48-bit page ids are available, or a
	// configured size limit was reached.
	ErrDatabaseFull = errors.New("tuplgo: database full")

	// ErrDatabaseClosed means the operation targeted a closed Database.
	ErrDatabaseClosed = errors.New("tuplgo: database closed")

	// ErrCacheExhausted means the page cache could not evict enough nodes
	// to satisfy an allocation.
	ErrCacheExhausted = errors.New("tuplgo: cache exhausted")

	// ErrClosedIndex means a formerly open tree has since been dropped or
	// closed.
	ErrClosedIndex = errors.New("tuplgo: index closed")

	// ErrLockTimeout means a lock-manager wait exceeded its deadline.
	ErrLockTimeout = errors.New("tuplgo: lock timeout")

	// ErrDeadlockDetected means the lock manager broke a wait-for cycle.
	ErrDeadlockDetected = errors.New("tuplgo: deadlock detected")

	// ErrLargeValue means a value exceeds the reconstructable fragment limit.
	ErrLargeValue = errors.New("tuplgo: value too large")

	// ErrLargeKey means a key exceeds the reconstructable fragment limit.
	ErrLargeKey = errors.New("tuplgo: key too large")

	// ErrUnmodifiableReplica means a write was attempted on a replication
	// replica.
	ErrUnmodifiableReplica = errors.New("tuplgo: replica is unmodifiable")

	// ErrInterrupted means a parked acquire was interrupted before it could
	// succeed.
	ErrInterrupted = errors.New("tuplgo: interrupted")

	// ErrKeyNotFound means load/find found no entry for the key. Kept
	// distinct from the corruption/resource taxonomy above since it is an
	// ordinary, expected outcome.
	ErrKeyNotFound = errors.New("tuplgo: key not found")
)

// Close wraps cause, if any, into ErrDatabaseClosed so that callers can
// still errors.Is(err, ErrDatabaseClosed) while retaining the original
// panic-triggering cause for logs. A nil cause yields the bare sentinel.
func Close(cause error) error {
	if cause == nil {
		return ErrDatabaseClosed
	}
	return pkgerrors.Wrap(cause, ErrDatabaseClosed.Error())
}

// Corrupt wraps a formatted detail under ErrCorruptDatabase.
func Corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptDatabase, fmt.Sprintf(format, args...))
}
