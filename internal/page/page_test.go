package page

import (
	"bytes"
	"testing"
)

func cmp(a, b []byte) int { return bytes.Compare(a, b) }

func TestLeafInsertAndSearch(t *testing.T) {
	p := New(DefaultSize, TypeLeaf)

	entries := []Entry{
		{Key: []byte("banana"), Value: []byte("yellow")},
		{Key: []byte("apple"), Value: []byte("red")},
		{Key: []byte("cherry"), Value: []byte("dark red")},
	}
	for _, e := range entries {
		idx, found := p.Search(e.Key, cmp)
		if found {
			t.Fatalf("unexpected duplicate for %q", e.Key)
		}
		if err := p.InsertAt(idx, &Entry{Key: e.Key, Value: e.Value}); err != nil {
			t.Fatalf("insert %q: %v", e.Key, err)
		}
	}

	if p.Count() != 3 {
		t.Fatalf("expected 3 entries, got %d", p.Count())
	}

	want := []string{"apple", "banana", "cherry"}
	for i, w := range want {
		e, err := p.At(uint16(i))
		if err != nil {
			t.Fatalf("At(%d): %v", i, err)
		}
		if string(e.Key) != w {
			t.Fatalf("At(%d) = %q, want %q", i, e.Key, w)
		}
	}

	idx, found := p.Search([]byte("banana"), cmp)
	if !found || idx != 1 {
		t.Fatalf("search banana = (%d,%v), want (1,true)", idx, found)
	}
}

func TestLeafRemove(t *testing.T) {
	p := New(DefaultSize, TypeLeaf)
	p.InsertAt(0, &Entry{Key: []byte("a"), Value: []byte("1")})
	p.InsertAt(1, &Entry{Key: []byte("b"), Value: []byte("2")})
	p.InsertAt(2, &Entry{Key: []byte("c"), Value: []byte("3")})

	if err := p.RemoveAt(1); err != nil {
		t.Fatal(err)
	}
	if p.Count() != 2 {
		t.Fatalf("expected 2 entries after remove, got %d", p.Count())
	}
	e, _ := p.At(1)
	if string(e.Key) != "c" {
		t.Fatalf("expected 'c' to shift into slot 1, got %q", e.Key)
	}
}

func TestInternalEntryRoundTrip(t *testing.T) {
	p := New(DefaultSize, TypeInternal)
	if err := p.InsertAt(0, &Entry{Key: []byte("m"), Child: ID(42)}); err != nil {
		t.Fatal(err)
	}
	e, err := p.At(0)
	if err != nil {
		t.Fatal(err)
	}
	if string(e.Key) != "m" || e.Child != 42 {
		t.Fatalf("got key=%q child=%d", e.Key, e.Child)
	}
}

func TestPageFullRejectsInsert(t *testing.T) {
	p := New(MinSize, TypeLeaf)
	big := bytes.Repeat([]byte("x"), MinSize)
	if err := p.InsertAt(0, &Entry{Key: []byte("k"), Value: big}); err != ErrPageFull {
		t.Fatalf("expected ErrPageFull, got %v", err)
	}
}

func TestIDRoundTrip(t *testing.T) {
	buf := make([]byte, 6)
	ids := []ID{0, 1, 2, 0xffffffffffff, 1234567890}
	for _, id := range ids {
		PutID(buf, id)
		got := GetID(buf)
		if got != id {
			t.Fatalf("id round trip: put %d got %d", id, got)
		}
	}
}

func TestMaxInlineLimits(t *testing.T) {
	if got := MaxInlineKeyLen(4096); got != 2026 {
		t.Fatalf("MaxInlineKeyLen(4096) = %d, want 2026", got)
	}
	if got := MaxInlineKeyLen(65536); got != 16383 {
		t.Fatalf("MaxInlineKeyLen(65536) = %d, want capped 16383", got)
	}
	if got := MaxInlineValueLen(4096); got != (4096-HeaderSize)*3/4 {
		t.Fatalf("MaxInlineValueLen mismatch: %d", got)
	}
}
