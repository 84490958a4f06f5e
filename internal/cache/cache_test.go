package cache

import (
	"testing"

	"github.com/intellect4all/tuplgo/internal/page"
)

type fakeEntry struct {
	id     page.ID
	pinned bool
}

func (f *fakeEntry) PageID() page.ID { return f.id }
func (f *fakeEntry) Pinned() bool    { return f.pinned }

func TestPutGetRoundTrip(t *testing.T) {
	c := New(64)
	e := &fakeEntry{id: 10}
	c.Put(e.id, e)

	got, ok := c.Get(10)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.(*fakeEntry).id != 10 {
		t.Fatalf("got wrong entry: %+v", got)
	}
}

func TestEvictsUnpinnedBeforePinned(t *testing.T) {
	c := New(1) // tiny: one entry per shard
	pinned := &fakeEntry{id: 1, pinned: true}
	c.Put(pinned.id, pinned)

	// Force an unpinned id into the same shard as "pinned" by putting
	// enough candidate ids that at least one collides with it across the
	// nextPow2(4*GOMAXPROCS(0)) shards.
	for id := page.ID(2); id < 4096; id++ {
		victim := &fakeEntry{id: id}
		c.Put(victim.id, victim)
	}

	if _, ok := c.Get(1); !ok {
		t.Fatal("pinned entry should never be evicted")
	}
}

func TestDirtyTracking(t *testing.T) {
	c := New(16)
	c.MarkDirty(5)
	c.MarkDirty(6)
	ids := c.DirtyIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 dirty ids, got %d", len(ids))
	}
	c.ClearDirty(5)
	ids = c.DirtyIDs()
	if len(ids) != 1 || ids[0] != 6 {
		t.Fatalf("expected only id 6 dirty, got %v", ids)
	}
}

func TestRemoveClearsDirty(t *testing.T) {
	c := New(16)
	e := &fakeEntry{id: 3}
	c.Put(e.id, e)
	c.MarkDirty(3)

	c.Remove(3)
	if _, ok := c.Get(3); ok {
		t.Fatal("expected entry removed")
	}
	if len(c.DirtyIDs()) != 0 {
		t.Fatal("expected dirty set cleared on remove")
	}
}
