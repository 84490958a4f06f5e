// Package tuplgo is the root orchestration layer of spec.md §2's
// Database: the registry of named trees, lock-file/instance-identity
// bookkeeping, recovery, and checkpoint scheduling. Grounded on the
// teacher's btree.New/recoverFromWAL (btree/btree.go), generalized from
// a single anonymous tree to a name-mapped registry of trees sharing
// one Store and Cache.
package tuplgo

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/intellect4all/tuplgo/internal/cache"
	"github.com/intellect4all/tuplgo/internal/checkpoint"
	"github.com/intellect4all/tuplgo/internal/commitlock"
	"github.com/intellect4all/tuplgo/internal/errs"
	"github.com/intellect4all/tuplgo/internal/limiter"
	"github.com/intellect4all/tuplgo/internal/node"
	"github.com/intellect4all/tuplgo/internal/page"
	"github.com/intellect4all/tuplgo/internal/redo"
	"github.com/intellect4all/tuplgo/internal/stats"
	"github.com/intellect4all/tuplgo/internal/store"
	"github.com/intellect4all/tuplgo/internal/tree"
)

// Reserved tree ids, per spec.md §3's "some ids reserved for internal
// trees: registry, name-map, fragmented-trash".
const (
	nameMapTreeID    uint64 = 1
	fragTrashTreeID  uint64 = 2
	firstUserTreeID  uint64 = 3
	defaultTreeName         = "default"
)

// Database is the opened, recoverable storage kernel of spec.md §2/§4.10.
type Database struct {
	cfg Config

	instanceID uuid.UUID
	baseName   string
	basePath   string // BaseDir/BaseName
	lockFile   *os.File

	store store.Store
	cache *cache.Cache
	dirty *page.DirtyState
	limit *limiter.ResourceLimiter

	redoW *redo.Writer
	cp    *checkpoint.Checkpointer

	mu         sync.RWMutex
	registry   *tree.Tree          // tree-id -> root-page-id, rooted at header.RootPageID
	nameMap    *tree.Tree          // name -> tree-id
	trees      map[uint64]*tree.Tree
	nextTreeID uint64

	tok *commitlock.Token

	openCount int
	closed    bool

	logger *zap.Logger
}

// Open creates or recovers a Database at cfg.BaseDir, per spec.md §6.
func Open(cfg Config) (*Database, error) {
	logger := cfg.logger()

	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("tuplgo: Config.BaseDir is required")
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, err
	}
	base := filepath.Join(cfg.BaseDir, cfg.baseName())

	db := &Database{
		cfg:        cfg,
		instanceID: uuid.New(),
		baseName:   cfg.baseName(),
		basePath:   base,
		cache:      cache.New(cfg.cacheCapacity()),
		dirty:      page.NewDirtyState(),
		limit:      limiter.New(cfg.MaxDiskBytes, cfg.MaxCacheBytes),
		trees:      make(map[uint64]*tree.Tree),
		nextTreeID: firstUserTreeID,
		tok:        commitlock.NewToken(),
		logger:     logger,
	}

	if !cfg.ReadOnly {
		lf, err := acquireLockFile(base + ".lock")
		if err != nil {
			return nil, err
		}
		db.lockFile = lf
	}

	st, err := store.Open(base+".db", cfg.pageSize(), logger)
	if err != nil {
		db.closeLockFile()
		return nil, err
	}
	db.store = st

	header, recovered := st.Recovered()

	rw, err := redo.Open(base, header.RedoNumber, cfg.CheckpointSizeThreshold, logger)
	if err != nil {
		st.Close()
		db.closeLockFile()
		return nil, err
	}
	db.redoW = rw

	if recovered {
		registry, err := tree.Open(0, st, db.cache, header.RootPageID, nil)
		if err != nil {
			return nil, err
		}
		db.registry = registry
		registry.SetDirtyState(db.dirty)

		if err := db.loadNameMap(); err != nil {
			return nil, err
		}
		if err := redo.Replay(base, header.RedoNumber, int64(header.RedoPosition), &recoveryVisitor{db: db}); err != nil {
			logger.Error("tuplgo: redo replay failed", zap.Error(err))
			return nil, err
		}
	} else {
		registry, err := tree.Open(0, st, db.cache, page.NoID, nil)
		if err != nil {
			return nil, err
		}
		db.registry = registry
		registry.SetDirtyState(db.dirty)

		nm, err := tree.Open(nameMapTreeID, st, db.cache, page.NoID, nil)
		if err != nil {
			return nil, err
		}
		db.nameMap = nm
		nm.SetDirtyState(db.dirty)
		if err := db.putRegistryRoot(nameMapTreeID, nm.RootID()); err != nil {
			return nil, err
		}
	}

	db.cp = checkpoint.New(st, db.cache, db.dirty, rw, base, db, cfg.CheckpointSizeThreshold, checkpointDelay(cfg), logger)

	if cfg.CachePriming {
		db.primeCache(base + ".primer")
	}

	if _, err := db.OpenTree(defaultTreeName); err != nil {
		return nil, err
	}

	db.openCount++
	if err := db.writeInfoFile(); err != nil {
		logger.Warn("tuplgo: failed to write info file", zap.Error(err))
	}

	logger.Info("tuplgo: opened database",
		zap.String("instance", db.instanceID.String()),
		zap.Bool("recovered", recovered),
		zap.String("base", base))

	return db, nil
}

func checkpointDelay(cfg Config) time.Duration {
	if cfg.CheckpointInterval <= 0 {
		return time.Minute
	}
	return time.Duration(cfg.CheckpointInterval)
}

func acquireLockFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("tuplgo: database already open (lock %s): %w", path, err)
	}
	return f, nil
}

func (db *Database) closeLockFile() {
	if db.lockFile == nil {
		return
	}
	unix.Flock(int(db.lockFile.Fd()), unix.LOCK_UN)
	db.lockFile.Close()
}

// --- Registry / RootPageID bookkeeping (implements checkpoint.Registry) ---

func (db *Database) treeIDKey(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

func (db *Database) putRegistryRoot(id uint64, root page.ID) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(root))
	return db.registry.Put(db.tok, db.treeIDKey(id), buf)
}

func (db *Database) getRegistryRoot(id uint64) (page.ID, bool, error) {
	v, ok, err := db.registry.Get(db.tok, db.treeIDKey(id))
	if err != nil || !ok {
		return 0, ok, err
	}
	if len(v) != 8 {
		return 0, false, errs.Corrupt("registry entry for tree %d has bad length %d", id, len(v))
	}
	return page.ID(binary.BigEndian.Uint64(v)), true, nil
}

func (db *Database) loadNameMap() error {
	root, ok, err := db.getRegistryRoot(nameMapTreeID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.Corrupt("recovered database missing name-map registry entry")
	}
	nm, err := tree.Open(nameMapTreeID, db.store, db.cache, root, nil)
	if err != nil {
		return err
	}
	db.nameMap = nm
	nm.SetDirtyState(db.dirty)
	return nil
}

// RootPageID implements checkpoint.Registry.
func (db *Database) RootPageID() page.ID { return db.registry.RootID() }

// RegistryDirty implements checkpoint.Registry. The registry and every
// open tree share one DirtyState, so a checkpoint is only skippable
// when nothing anywhere is dirty; Database conservatively reports dirty
// whenever any tree has been mutated since the last successful run.
func (db *Database) RegistryDirty() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.cache.Len() > 0 && len(db.cache.DirtyIDs()) > 0
}

// WithRootLatched implements checkpoint.Registry: the registry tree's
// root is already latch-protected by Tree internally on every Put/Get,
// so composing the header only needs registry-level exclusivity, taken
// here via db.mu.
func (db *Database) WithRootLatched(fn func() error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn()
}

// PendingUndoLogs implements checkpoint.Registry. Without a transaction
// manager (out of scope per spec.md §1), Database tracks no
// in-flight per-transaction undo logs of its own; an embedder wiring in
// transactions would populate this from its lock/transaction manager.
func (db *Database) PendingUndoLogs() []checkpoint.PendingUndo { return nil }

// HighestTxnID implements checkpoint.Registry.
func (db *Database) HighestTxnID() uint64 { return 0 }

// --- Named tree lifecycle ---

// OpenTree opens (creating if necessary) the named tree, returning a
// handle other Put/Get/Delete calls can use directly via *tree.Tree, or
// through Database's own default-tree convenience methods.
func (db *Database) OpenTree(name string) (*tree.Tree, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	nameKey := []byte(name)
	idBuf, ok, err := db.nameMap.Get(db.tok, nameKey)
	if err != nil {
		return nil, err
	}
	if ok {
		if len(idBuf) != 8 {
			return nil, errs.Corrupt("name map entry for %q has bad length %d", name, len(idBuf))
		}
		id := binary.BigEndian.Uint64(idBuf)
		if t, open := db.trees[id]; open {
			return t, nil
		}
		root, ok, err := db.getRegistryRoot(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errs.Corrupt("tree %d named %q missing registry entry", id, name)
		}
		t, err := tree.Open(id, db.store, db.cache, root, bytes.Compare)
		if err != nil {
			return nil, err
		}
		t.SetDirtyState(db.dirty)
		db.trees[id] = t
		return t, nil
	}

	id := db.nextTreeID
	db.nextTreeID++
	t, err := tree.Open(id, db.store, db.cache, page.NoID, bytes.Compare)
	if err != nil {
		return nil, err
	}
	t.SetDirtyState(db.dirty)

	if err := db.putRegistryRoot(id, t.RootID()); err != nil {
		return nil, err
	}
	idBuf = make([]byte, 8)
	binary.BigEndian.PutUint64(idBuf, id)
	if err := db.nameMap.Put(db.tok, nameKey, idBuf); err != nil {
		return nil, err
	}
	db.trees[id] = t
	return t, nil
}

// --- spec.md §6's single-engine convenience surface (also satisfies
// internal/benchmark.Engine) operating against the "default" tree. ---

// Put writes key/value into the default tree, first reserving its
// approximate disk footprint against Config.MaxDiskBytes (internal/limiter).
// The reservation is never precisely released on overwrite/delete — it
// is an early-warning budget, not exact accounting, matching the
// teacher's approach of failing fast on allocation rather than tracking
// freed bytes exactly.
func (db *Database) Put(key, value []byte) error {
	if db.cfg.ReadOnly {
		return errs.ErrUnmodifiableReplica
	}
	if err := db.limit.AllocDisk(int64(len(key) + len(value))); err != nil {
		return err
	}
	t, err := db.defaultTree()
	if err != nil {
		db.limit.FreeDisk(int64(len(key) + len(value)))
		return err
	}
	if err := t.Put(db.tok, key, value); err != nil {
		db.limit.FreeDisk(int64(len(key) + len(value)))
		return err
	}
	if db.cfg.DurabilityMode == DurabilityNoRedo {
		return nil
	}
	payload := redo.EncodeIndexKeyValue(firstUserTreeID, key, value)
	if err := db.redoW.Push(redo.OpStoreNoLock, 0, payload); err != nil {
		return err
	}
	switch db.cfg.DurabilityMode {
	case DurabilitySync:
		return db.redoW.FlushSync()
	case DurabilityNoSync:
		return db.redoW.Sync()
	}
	return nil
}

// Get reads key from the default tree.
func (db *Database) Get(key []byte) ([]byte, error) {
	t, err := db.defaultTree()
	if err != nil {
		return nil, err
	}
	v, ok, err := t.Get(db.tok, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrKeyNotFound
	}
	return v, nil
}

// Delete removes key from the default tree. Deletion has no dedicated
// redo opcode in spec.md §6's record list (only whole-index
// delete-index does); it is logged as a STORE_NO_LOCK record with a
// nil value, which recoveryVisitor.StoreNoLock treats as a tombstone.
func (db *Database) Delete(key []byte) error {
	if db.cfg.ReadOnly {
		return errs.ErrUnmodifiableReplica
	}
	t, err := db.defaultTree()
	if err != nil {
		return err
	}
	if _, err := t.Delete(db.tok, key); err != nil {
		return err
	}
	if db.cfg.DurabilityMode == DurabilityNoRedo {
		return nil
	}
	payload := redo.EncodeIndexKeyValue(firstUserTreeID, key, nil)
	if err := db.redoW.Push(redo.OpStoreNoLock, 0, payload); err != nil {
		return err
	}
	switch db.cfg.DurabilityMode {
	case DurabilitySync:
		return db.redoW.FlushSync()
	case DurabilityNoSync:
		return db.redoW.Sync()
	}
	return nil
}

func (db *Database) defaultTree() (*tree.Tree, error) {
	db.mu.RLock()
	t, ok := db.trees[firstUserTreeID]
	db.mu.RUnlock()
	if ok {
		return t, nil
	}
	return db.OpenTree(defaultTreeName)
}

// Sync flushes the redo log per cfg.DurabilityMode and checkpoints if a
// threshold has been crossed.
func (db *Database) Sync() error {
	if db.cfg.ReadOnly {
		return nil
	}
	switch db.cfg.DurabilityMode {
	case DurabilitySync:
		if err := db.redoW.FlushSync(); err != nil {
			return err
		}
	case DurabilityNoSync:
		if err := db.redoW.Sync(); err != nil {
			return err
		}
	case DurabilityNoFlush, DurabilityNoRedo:
		// nothing to push out; a checkpoint is the only durability event.
	}
	return db.cp.Run(false)
}

// Checkpoint forces an immediate checkpoint regardless of threshold. A
// no-op on a ReadOnly Database, which never dirties a page.
func (db *Database) Checkpoint() error {
	if db.cfg.ReadOnly {
		return nil
	}
	return db.cp.Run(true)
}

// Stats returns a point-in-time snapshot of kernel counters, the
// Engine interface internal/benchmark drives against.
func (db *Database) Stats() stats.Stats {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return stats.Stats{
		CacheEntries:   db.cache.Len(),
		DirtyPageCount: len(db.cache.DirtyIDs()),
		TotalDiskSize:  int64(db.store.PageSize()) * int64(db.nextTreeID),
	}
}

// Close runs a final forced checkpoint, writes the cache primer if
// configured, releases the lock file, and closes the backing store.
func (db *Database) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	var firstErr error
	if !db.cfg.ReadOnly {
		if err := db.cp.Run(true); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if db.cfg.CachePriming {
		if err := db.writePrimerFile(db.basePath + ".primer"); err != nil {
			db.logger.Warn("tuplgo: failed to write primer file", zap.Error(err))
		}
	}
	if err := db.redoW.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := db.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	db.closeLockFile()

	if firstErr != nil {
		return errs.Close(firstErr)
	}
	return nil
}

// --- <base>.primer ---

// primeCache re-warms the cache by reading back whatever page ids were
// resident at the last Close and inserting them directly, so the
// tree(s) built on top see warm hits on first access (spec.md §6).
func (db *Database) primeCache(path string) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, id := range cache.DecodePrimer(buf) {
		if _, ok := db.cache.Get(id); ok {
			continue
		}
		scratch := make([]byte, db.store.PageSize())
		if err := db.store.ReadPage(id, scratch); err != nil {
			continue
		}
		db.cache.Put(id, node.New(id, page.Load(scratch)))
	}
}

func (db *Database) writePrimerFile(path string) error {
	ids := db.cache.HotIDs()
	return os.WriteFile(path, cache.EncodePrimer(ids), 0o644)
}

// --- <base>.info ---

func (db *Database) writeInfoFile() error {
	lines := fmt.Sprintf(
		"page_size=%d\nencoding_version=%d\nopen_count=%d\ninstance_id=%s\n",
		db.store.PageSize(), store.EncodingVersion, db.openCount, db.instanceID.String())
	return os.WriteFile(db.basePath+".info", []byte(lines), 0o644)
}

// --- recovery replay ---

// recoveryVisitor applies replayed redo records directly against live
// trees, bypassing commit-lock and redo emission, per spec.md §4.9's
// "reusing the normal mutation path but bypassing redo emission". Txn
// opcodes are accepted but not specially buffered: with no transaction
// manager in scope (spec.md §1 non-goal), every STORE-family record is
// applied unconditionally in file order, matching the simplification
// spec.md §9 permits for a checkpoint-per-commit deployment.
type recoveryVisitor struct{ db *Database }

func (v *recoveryVisitor) treeByID(id uint64) (*tree.Tree, error) {
	v.db.mu.RLock()
	t, ok := v.db.trees[id]
	v.db.mu.RUnlock()
	if ok {
		return t, nil
	}
	root, ok, err := v.db.getRegistryRoot(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.Corrupt("redo record references unknown tree %d", id)
	}
	t, err = tree.Open(id, v.db.store, v.db.cache, root, bytes.Compare)
	if err != nil {
		return nil, err
	}
	t.SetDirtyState(v.db.dirty)
	v.db.mu.Lock()
	v.db.trees[id] = t
	v.db.mu.Unlock()
	return t, nil
}

func (v *recoveryVisitor) Store(indexID uint64, key, value []byte) error {
	return v.StoreNoLock(indexID, key, value)
}

// StoreNoLock applies a replayed STORE_NO_LOCK record. A zero-length
// value (Database.Delete's tombstone convention, since spec.md §6's
// redo opcode list has no dedicated key-delete record) removes the key
// instead of storing an empty value; this engine never stores a
// genuinely empty value through Database.Put.
func (v *recoveryVisitor) StoreNoLock(indexID uint64, key, value []byte) error {
	t, err := v.treeByID(indexID)
	if err != nil {
		return err
	}
	if len(value) == 0 {
		_, err := t.Delete(v.db.tok, key)
		return err
	}
	return t.Put(v.db.tok, key, value)
}
func (v *recoveryVisitor) TxnEnter(uint64) error         { return nil }
func (v *recoveryVisitor) TxnRollback(uint64) error      { return nil }
func (v *recoveryVisitor) TxnRollbackFinal(uint64) error { return nil }
func (v *recoveryVisitor) TxnCommit(uint64) error        { return nil }
func (v *recoveryVisitor) TxnCommitFinal(uint64) error   { return nil }
func (v *recoveryVisitor) TxnStore(_, indexID uint64, key, value []byte) error {
	return v.StoreNoLock(indexID, key, value)
}
func (v *recoveryVisitor) TxnStoreCommitFinal(_, indexID uint64, key, value []byte) error {
	return v.StoreNoLock(indexID, key, value)
}
func (v *recoveryVisitor) TxnLockShared(uint64, uint64, []byte) error     { return nil }
func (v *recoveryVisitor) TxnLockUpgradable(uint64, uint64, []byte) error { return nil }
func (v *recoveryVisitor) TxnLockExclusive(uint64, uint64, []byte) error  { return nil }
// RenameIndex and DeleteIndex are accepted but not applied: Database
// does not yet expose tree rename/drop operations (only OpenTree),
// so no redo record ever carries these opcodes in this build.
func (v *recoveryVisitor) RenameIndex(uint64, []byte) error { return nil }
func (v *recoveryVisitor) DeleteIndex(uint64) error         { return nil }
func (v *recoveryVisitor) Custom(uint64, []byte) error                    { return nil }
func (v *recoveryVisitor) CustomLock(uint64, uint64, []byte, []byte) error { return nil }
