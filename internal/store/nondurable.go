package store

import (
	"sync"
	"sync/atomic"

	"github.com/intellect4all/tuplgo/internal/commitlock"
	"github.com/intellect4all/tuplgo/internal/errs"
	"github.com/intellect4all/tuplgo/internal/page"
)

// NonDurable is an in-memory PageStore: every page lives in a Go map,
// Commit is a no-op beyond bookkeeping the header, and nothing survives
// process exit. Grounded on spec.md §6's "non-durable database" mode,
// used for scratch indexes and tests that do not need crash recovery.
type NonDurable struct {
	pageSize   uint32
	commitLock *commitlock.CommitLock

	mu       sync.Mutex
	pages    map[page.ID][]byte
	numPages uint64
	free     []page.ID
	closed   atomic.Bool
	header   Header
}

// NewNonDurable returns an empty in-memory store.
func NewNonDurable(pageSize uint32) *NonDurable {
	return &NonDurable{
		pageSize:   pageSize,
		commitLock: commitlock.New(),
		pages:      make(map[page.ID][]byte),
		numPages:   uint64(page.FirstData),
	}
}

func (s *NonDurable) AllocPage() (page.ID, error) {
	if s.closed.Load() {
		return 0, errs.ErrDatabaseClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.free); n > 0 {
		id := s.free[n-1]
		s.free = s.free[:n-1]
		return id, nil
	}
	id := page.ID(s.numPages)
	if !id.Valid() {
		return 0, errs.ErrDatabaseFull
	}
	s.numPages++
	return id, nil
}

func (s *NonDurable) ReadPage(id page.ID, buf []byte) error {
	if s.closed.Load() {
		return errs.ErrDatabaseClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.pages[id]
	if !ok {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	copy(buf, stored)
	return nil
}

func (s *NonDurable) WritePage(id page.ID, buf []byte) error {
	if s.closed.Load() {
		return errs.ErrDatabaseClosed
	}
	cp := append([]byte(nil), buf...)
	s.mu.Lock()
	s.pages[id] = cp
	s.mu.Unlock()
	return nil
}

func (s *NonDurable) DeletePage(id page.ID) error {
	return s.RecyclePage(id)
}

func (s *NonDurable) RecyclePage(id page.ID) error {
	s.mu.Lock()
	delete(s.pages, id)
	s.free = append(s.free, id)
	s.mu.Unlock()
	return nil
}

// Commit runs prepare and records the header in memory; there is no
// file to fsync, so resume is accepted but has no effect.
func (s *NonDurable) Commit(_ bool, next Header, prepare func() error) error {
	if s.closed.Load() {
		return errs.ErrDatabaseClosed
	}
	if err := prepare(); err != nil {
		return err
	}
	s.mu.Lock()
	next.CheckpointNumber = s.header.CheckpointNumber + 1
	s.header = next
	s.mu.Unlock()
	return nil
}

func (s *NonDurable) CommitLock() *commitlock.CommitLock { return s.commitLock }
func (s *NonDurable) PageSize() uint32                    { return s.pageSize }

func (s *NonDurable) Close() error {
	s.closed.Store(true)
	return nil
}
