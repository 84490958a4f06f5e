package tuplgo

import (
	"go.uber.org/zap"
)

// DurabilityMode controls how aggressively a committed transaction is
// pushed to stable storage (spec.md §6).
type DurabilityMode int

const (
	// DurabilitySync fsyncs the redo log on every commit.
	DurabilitySync DurabilityMode = iota
	// DurabilityNoSync writes the redo log but does not fsync it.
	DurabilityNoSync
	// DurabilityNoFlush buffers redo entries in memory; they are written
	// out by the next checkpoint or explicit Sync, or by a Push once the
	// redo file has reached the checkpoint size threshold.
	DurabilityNoFlush
	// DurabilityNoRedo disables the redo log entirely. Crashes lose every
	// transaction since the last checkpoint.
	DurabilityNoRedo
)

// ReplicationManager is the stub interface spec.md §6 names but leaves
// unimplemented beyond the decoder worker pool sketch (internal/redo).
type ReplicationManager interface {
	Encoding() uint32
}

// TransactionHandler lets an embedder observe or veto transaction
// boundaries. Unimplemented stub, per spec.md §6.
type TransactionHandler interface {
	PrepareCommit(txnID uint64) error
}

// FileFactory abstracts file creation so an embedder can substitute
// alternate storage backends. Unimplemented stub: DefaultConfig leaves
// it nil and Database never calls it.
type FileFactory interface {
	Open(path string) (File, error)
}

// File is the minimal handle FileFactory.Open must return.
type File interface {
	ReadAt(b []byte, off int64) (int, error)
	WriteAt(b []byte, off int64) (int, error)
	Sync() error
	Close() error
}

// CryptoProvider would wrap page payloads for at-rest encryption.
// Unimplemented stub, per spec.md §1's "encryption" non-goal: the
// interface is named so a caller can wire one in later without an API
// break, but Database never calls it.
type CryptoProvider interface {
	Encrypt(plain []byte) ([]byte, error)
	Decrypt(cipher []byte) ([]byte, error)
}

// Config holds the options for Database.Open, matching the teacher's
// plain Config/DefaultConfig shape (btree.Config) rather than a
// flag/env config library — see DESIGN.md.
type Config struct {
	// BaseDir is the directory holding every file Database manages:
	// <base>.db, <base>.redo.<N>, <base>.lock, <base>.info, <base>.primer.
	BaseDir string
	// BaseName is the shared filename stem inside BaseDir. Defaults to
	// "tuplgo".
	BaseName string

	// PageSize must be a power of two in [page.MinSize, page.MaxSize].
	PageSize uint32

	// MaxCacheBytes sizes the page cache at MaxCacheBytes/PageSize pages
	// (at least 16); 0 or less gives a 50000-page cache. MinCacheBytes is
	// recorded but not consulted by Database.
	MinCacheBytes int64
	MaxCacheBytes int64

	// MaxDiskBytes bounds on-disk growth. 0 means unlimited.
	MaxDiskBytes int64

	DurabilityMode DurabilityMode

	// DefaultLockTimeout is recorded but not consulted: no operation in
	// this module times out waiting for a lock.
	DefaultLockTimeout int64 // nanoseconds, matching time.Duration's zero value semantics

	ReplicationManager ReplicationManager
	TransactionHandler TransactionHandler
	FileFactory        FileFactory
	CryptoProvider     CryptoProvider

	// CachePriming re-warms the cache from <base>.primer on Open and
	// writes a fresh one on Close.
	CachePriming bool

	// ReadOnly rejects Put/Delete and skips lock-file acquisition in
	// exclusive mode.
	ReadOnly bool

	// CheckpointSizeThreshold and CheckpointInterval gate automatic
	// checkpointing (spec.md §4.10): a checkpoint runs on the next Sync
	// once either is exceeded and some page is dirty. A threshold of 0
	// disables the size trigger; an interval of 0 or less means one
	// minute.
	CheckpointSizeThreshold int64
	CheckpointInterval      int64 // nanoseconds

	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults for baseDir, matching the
// teacher's DefaultConfig(dataDir string) Config shape.
func DefaultConfig(baseDir string) Config {
	return Config{
		BaseDir:                 baseDir,
		BaseName:                "tuplgo",
		PageSize:                4096,
		MinCacheBytes:           0,
		MaxCacheBytes:           100 * 1024 * 1024, // 100MB, a modest embedded default
		MaxDiskBytes:            0,
		DurabilityMode:          DurabilitySync,
		DefaultLockTimeout:      0,
		CachePriming:            false,
		ReadOnly:                false,
		CheckpointSizeThreshold: 16 * 1024 * 1024,
		CheckpointInterval:      0,
		Logger:                  zap.NewNop(),
	}
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c Config) baseName() string {
	if c.BaseName == "" {
		return "tuplgo"
	}
	return c.BaseName
}

func (c Config) pageSize() uint32 {
	if c.PageSize == 0 {
		return 4096
	}
	return c.PageSize
}

func (c Config) cacheCapacity() int {
	if c.MaxCacheBytes <= 0 {
		return 50000
	}
	entries := c.MaxCacheBytes / int64(c.pageSize())
	if entries < 16 {
		entries = 16
	}
	return int(entries)
}
