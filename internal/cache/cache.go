// Package cache implements the page cache (spec.md §4.4): a fixed
// number of FNV-sharded LRU partitions sized to roughly
// ceil(4 * GOMAXPROCS) shards, holding cached nodes under a per-shard
// mutex, plus a dirty set the checkpointer scans when flushing.
//
// It is grounded on the teacher's btree/pager.go (container/list-based
// single LRU with a lookup map) generalized to the sharded-map idiom of
// hashindex/shard.go, since a single global LRU mutex would serialize
// every cache hit across all reader goroutines.
package cache

import (
	"container/list"
	"hash/fnv"
	"runtime"
	"sync"

	"github.com/intellect4all/tuplgo/internal/page"
)

// Entry is anything the cache can hold: internal/node.Node implements
// this so the cache package never needs to import internal/node.
type Entry interface {
	PageID() page.ID
	// Pinned reports whether this entry must not be evicted right now
	// (e.g. a cursor frame is bound to it, or it is mid-flush).
	Pinned() bool
}

type shardEntry struct {
	id   page.ID
	elem *list.Element
	val  Entry
}

type shard struct {
	mu       sync.Mutex
	lru      *list.List // front = most recently used
	index    map[page.ID]*list.Element
	capacity int
}

// Cache is the sharded page cache.
type Cache struct {
	shards    []*shard
	shardMask uint32

	dirtyMu sync.Mutex
	dirty   map[page.ID]struct{}
}

// New builds a cache sized to hold roughly capacity entries total,
// spread evenly across ceil(4*GOMAXPROCS) power-of-two shards.
func New(capacity int) *Cache {
	n := nextPow2(4 * runtime.GOMAXPROCS(0))
	if n < 1 {
		n = 1
	}
	perShard := capacity / n
	if perShard < 1 {
		perShard = 1
	}

	c := &Cache{
		shards:    make([]*shard, n),
		shardMask: uint32(n - 1),
		dirty:     make(map[page.ID]struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &shard{
			lru:      list.New(),
			index:    make(map[page.ID]*list.Element),
			capacity: perShard,
		}
	}
	return c
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (c *Cache) shardFor(id page.ID) *shard {
	h := fnv.New32a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(id >> (8 * i))
	}
	h.Write(buf[:])
	return c.shards[h.Sum32()&c.shardMask]
}

// Get returns the cached entry for id, promoting it to most-recently-used.
func (c *Cache) Get(id page.ID) (Entry, bool) {
	s := c.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	elem, ok := s.index[id]
	if !ok {
		return nil, false
	}
	s.lru.MoveToFront(elem)
	return elem.Value.(*shardEntry).val, true
}

// Put inserts or replaces the cached entry for id, evicting the least
// recently used unpinned entry in the same shard if it is full.
func (c *Cache) Put(id page.ID, val Entry) {
	s := c.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.index[id]; ok {
		elem.Value.(*shardEntry).val = val
		s.lru.MoveToFront(elem)
		return
	}

	for s.lru.Len() >= s.capacity {
		if !s.evictOneLocked() {
			break // every entry in the shard is pinned; let it overflow
		}
	}

	elem := s.lru.PushFront(&shardEntry{id: id, val: val})
	s.index[id] = elem
}

// evictOneLocked removes the least recently used unpinned entry. It
// scans from the back since recently-pinned entries tend to cluster at
// the front (they were just touched).
func (s *shard) evictOneLocked() bool {
	for e := s.lru.Back(); e != nil; e = e.Prev() {
		se := e.Value.(*shardEntry)
		if se.val.Pinned() {
			continue
		}
		s.lru.Remove(e)
		delete(s.index, se.id)
		return true
	}
	return false
}

// Remove evicts id unconditionally (used once a page is deleted).
func (c *Cache) Remove(id page.ID) {
	s := c.shardFor(id)
	s.mu.Lock()
	if elem, ok := s.index[id]; ok {
		s.lru.Remove(elem)
		delete(s.index, id)
	}
	s.mu.Unlock()

	c.dirtyMu.Lock()
	delete(c.dirty, id)
	c.dirtyMu.Unlock()
}

// MarkDirty records id in the checkpoint-visible dirty set.
func (c *Cache) MarkDirty(id page.ID) {
	c.dirtyMu.Lock()
	c.dirty[id] = struct{}{}
	c.dirtyMu.Unlock()
}

// ClearDirty removes id from the dirty set once it has been flushed.
func (c *Cache) ClearDirty(id page.ID) {
	c.dirtyMu.Lock()
	delete(c.dirty, id)
	c.dirtyMu.Unlock()
}

// DirtyIDs returns a snapshot of every currently dirty page id, for the
// checkpointer to flush in spec.md §4.10's drain step.
func (c *Cache) DirtyIDs() []page.ID {
	c.dirtyMu.Lock()
	defer c.dirtyMu.Unlock()
	ids := make([]page.ID, 0, len(c.dirty))
	for id := range c.dirty {
		ids = append(ids, id)
	}
	return ids
}

// Len reports the total number of cached entries across all shards.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += s.lru.Len()
		s.mu.Unlock()
	}
	return n
}
