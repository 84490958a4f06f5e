// Package store implements the paged file manager (spec.md §4.3): fixed
// size page allocation, a persistent free list, durable reads/writes,
// and the atomic double-header commit protocol. It is grounded on the
// teacher's btree/pager.go (metadata page, NewPage/GetPage, Flush/Sync)
// generalized to 48-bit page ids and a second, alternating header slot,
// plus hashindex/segment.go's reference-counted rotating file idiom for
// the lazy-write buffering below.
package store

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/intellect4all/tuplgo/internal/commitlock"
	"github.com/intellect4all/tuplgo/internal/errs"
	"github.com/intellect4all/tuplgo/internal/page"
)

var (
	ErrCorruptFreeList = errors.New("store: corrupt free list chain")
	ErrInvalidPageSize = errors.New("store: invalid page size")
	ErrOutOfRange      = errors.New("store: page id out of range")
)

// Store is the interface the storage kernel consumes from a PageStore
// (spec.md §4.3's "Interface (what the core consumes)"), satisfied by
// both *Durable and *NonDurable.
type Store interface {
	AllocPage() (page.ID, error)
	ReadPage(id page.ID, buf []byte) error
	WritePage(id page.ID, buf []byte) error
	DeletePage(id page.ID) error
	RecyclePage(id page.ID) error
	Commit(resume bool, next Header, prepare func() error) error
	CommitLock() *commitlock.CommitLock
	PageSize() uint32
	Close() error
}

// Durable is the on-disk PageStore variant: one backing file
// with the alternating double-header commit protocol of spec.md §3/§6.
type Durable struct {
	path     string
	file     *os.File
	pageSize uint32
	logger   *zap.Logger

	commitLock *commitlock.CommitLock

	mu           sync.Mutex
	numPages     uint64 // next page id to hand out by growing the file
	activeSlot   int    // 0 or 1: which header offset is currently live
	cycleParity  int
	free         *freeList
	lazy         map[page.ID][]byte
	lastHeader   Header
	closed       atomic.Bool
}

// Open creates or opens a durable store at path. If the file is new,
// numPages starts at page.FirstData and no header validates; callers
// (Database.Open) detect that by Recovered()==false and initialize a
// fresh tree themselves.
func Open(path string, pageSize uint32, logger *zap.Logger) (*Durable, error) {
	if pageSize < page.MinSize || pageSize > page.MaxSize || pageSize&(pageSize-1) != 0 {
		return nil, ErrInvalidPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	d := &Durable{
		path:       path,
		file:       f,
		pageSize:   pageSize,
		logger:     logger,
		commitLock: commitlock.New(),
		free:       newFreeList(),
		lazy:       make(map[page.ID][]byte),
		numPages:   uint64(page.FirstData),
	}

	if err := d.recoverHeaders(); err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

// Recovered reports whether Open found a previously committed header.
func (d *Durable) Recovered() (Header, bool) {
	return d.lastHeader, d.lastHeader.Magic != 0
}

func (d *Durable) recoverHeaders() error {
	slotA := make([]byte, d.pageSize)
	slotB := make([]byte, d.pageSize)

	na, errA := d.file.ReadAt(slotA, 0)
	nb, errB := d.file.ReadAt(slotB, int64(d.pageSize))

	hA, okA := headerIfValid(slotA[:max(na, 0)])
	hB, okB := headerIfValid(slotB[:max(nb, 0)])
	_ = errA
	_ = errB

	switch {
	case okA && okB:
		if hB.CheckpointNumber > hA.CheckpointNumber {
			d.lastHeader, d.activeSlot = hB, 1
		} else {
			d.lastHeader, d.activeSlot = hA, 0
		}
	case okA:
		d.lastHeader, d.activeSlot = hA, 0
	case okB:
		d.lastHeader, d.activeSlot = hB, 1
	default:
		d.activeSlot = 0
		return nil
	}

	// Grow the allocator past the highest page the recovered tree could
	// reference: Commit records numPages (the next page id to hand out,
	// one past the highest allocated) in Extra.
	if len(d.lastHeader.Extra) >= 8 {
		d.numPages = binary.BigEndian.Uint64(d.lastHeader.Extra[:8])
	}
	if err := d.loadFreeList(d.lastHeader.FreeListHead); err != nil {
		return err
	}
	return nil
}

func headerIfValid(buf []byte) (Header, bool) {
	if len(buf) < fixedHeaderSize+4 {
		return Header{}, false
	}
	want := binary.BigEndian.Uint32(buf[len(buf)-4:])
	got := crc32.ChecksumIEEE(buf[:len(buf)-4])
	if want != got {
		return Header{}, false
	}
	return DecodeHeader(buf)
}

func (d *Durable) loadFreeList(head page.ID) error {
	for id := head; id.Valid(); {
		buf := make([]byte, d.pageSize)
		if _, err := d.file.ReadAt(buf, int64(id)*int64(d.pageSize)); err != nil {
			return err
		}
		p := page.Load(buf)
		ids, err := decodeChainPage(p)
		if err != nil {
			return err
		}
		d.free.persisted = append(d.free.persisted, ids...)
		id = p.Sibling()
	}
	return nil
}

// AllocPage returns a fresh, never-0-or-1 page id, preferring reuse of a
// freed page over growing the file.
func (d *Durable) AllocPage() (page.ID, error) {
	if d.closed.Load() {
		return 0, errs.ErrDatabaseClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.free.take(); ok {
		return id, nil
	}
	id := page.ID(d.numPages)
	if !id.Valid() {
		return 0, errs.ErrDatabaseFull
	}
	d.numPages++
	return id, nil
}

// ReadPage reads id into buf, preferring an uncommitted lazy write.
func (d *Durable) ReadPage(id page.ID, buf []byte) error {
	if d.closed.Load() {
		return errs.ErrDatabaseClosed
	}
	d.mu.Lock()
	if cached, ok := d.lazy[id]; ok {
		copy(buf, cached)
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	n, err := d.file.ReadAt(buf, int64(id)*int64(d.pageSize))
	if err != nil {
		return err
	}
	if n != len(buf) {
		return errs.Corrupt("short read of page %d: got %d bytes", id, n)
	}
	return nil
}

// WritePage stages buf for id; the actual file write is deferred until
// Commit, per spec.md §4.3's "write_page(id, buf) (lazy)".
func (d *Durable) WritePage(id page.ID, buf []byte) error {
	if d.closed.Load() {
		return errs.ErrDatabaseClosed
	}
	cp := append([]byte(nil), buf...)
	d.mu.Lock()
	d.lazy[id] = cp
	d.mu.Unlock()
	return nil
}

// DeletePage schedules id for reuse only after the checkpoint that
// retires the current cycle completes (copy-on-write deferred deletion,
// spec.md §9).
func (d *Durable) DeletePage(id page.ID) error {
	d.mu.Lock()
	d.free.deferFree(d.cycleParity, id)
	d.mu.Unlock()
	return nil
}

// RecyclePage marks id reusable immediately.
func (d *Durable) RecyclePage(id page.ID) error {
	d.mu.Lock()
	d.free.recycle(id)
	d.mu.Unlock()
	return nil
}

func (d *Durable) CommitLock() *commitlock.CommitLock { return d.commitLock }
func (d *Durable) PageSize() uint32                    { return d.pageSize }

// Commit implements spec.md §4.3's commit(resume_flag, header_payload,
// prepare_callback): prepare is invoked first so the caller (the
// checkpointer) can flush every dirty node via WritePage/DeletePage;
// Commit then persists the free list, writes the inactive header slot,
// fsyncs, and only then flips the active slot.
func (d *Durable) Commit(resume bool, next Header, prepare func() error) error {
	if d.closed.Load() {
		return errs.ErrDatabaseClosed
	}
	if err := prepare(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for id, buf := range d.lazy {
		if _, err := d.file.WriteAt(buf, int64(id)*int64(d.pageSize)); err != nil {
			d.logger.Error("store: flush failed", zap.Uint64("page", uint64(id)), zap.Error(err))
			return err
		}
	}
	d.lazy = make(map[page.ID][]byte)

	otherParity := d.cycleParity ^ 1
	d.free.promote(otherParity)
	d.cycleParity = otherParity

	freeHead, err := d.flushFreeList()
	if err != nil {
		return err
	}
	next.FreeListHead = freeHead
	next.Version = EncodingVersion
	if !resume {
		next.CheckpointNumber = d.lastHeader.CheckpointNumber + 1
	} else {
		next.CheckpointNumber = d.lastHeader.CheckpointNumber
	}
	extra := make([]byte, 8)
	binary.BigEndian.PutUint64(extra, d.numPages)
	next.Extra = extra

	slot := 1 - d.activeSlot
	buf := make([]byte, d.pageSize)
	next.Encode(buf)
	crc := crc32.ChecksumIEEE(buf[:len(buf)-4])
	binary.BigEndian.PutUint32(buf[len(buf)-4:], crc)

	if _, err := d.file.WriteAt(buf, int64(slot)*int64(d.pageSize)); err != nil {
		return err
	}
	if err := d.file.Sync(); err != nil {
		return err
	}

	d.activeSlot = slot
	d.lastHeader = next
	return nil
}

// flushFreeList persists every currently-reusable page id, including
// those already on the previous chain, as a new chain of free-list pages
// and returns the new chain head, or page.NoID if there is nothing to
// persist. The ids stay reusable in memory.
func (d *Durable) flushFreeList() (page.ID, error) {
	ids := append(append([]page.ID(nil), d.free.persisted...), d.free.immediate...)
	d.free.persisted = ids
	d.free.immediate = nil
	if len(ids) == 0 {
		return page.NoID, nil
	}

	chain := encodeChain(ids, d.pageSize, page.TypeFragment)
	allocated := make([]page.ID, len(chain))
	for i := range chain {
		allocated[i] = page.ID(d.numPages)
		d.numPages++
	}
	for i, p := range chain {
		if i+1 < len(chain) {
			p.SetSibling(allocated[i+1])
		} else {
			p.SetSibling(page.NoID)
		}
		if _, err := d.file.WriteAt(p.Buf, int64(allocated[i])*int64(d.pageSize)); err != nil {
			return 0, err
		}
	}
	return allocated[0], nil
}

// Close flushes nothing further (Commit already persists state) and
// releases the backing file handle.
func (d *Durable) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	return d.file.Close()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
