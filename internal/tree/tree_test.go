package tree

import (
	"fmt"
	"testing"

	"github.com/intellect4all/tuplgo/internal/cache"
	"github.com/intellect4all/tuplgo/internal/commitlock"
	"github.com/intellect4all/tuplgo/internal/page"
	"github.com/intellect4all/tuplgo/internal/store"
)

func newTestTree(t *testing.T) (*Tree, *commitlock.Token) {
	t.Helper()
	st := store.NewNonDurable(page.MinSize)
	ca := cache.New(64)
	tr, err := Open(1, st, ca, page.NoID, nil)
	if err != nil {
		t.Fatal(err)
	}
	return tr, commitlock.NewToken()
}

func TestPutGetRoundTrip(t *testing.T) {
	tr, tok := newTestTree(t)
	if err := tr.Put(tok, []byte("hello"), []byte("world")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := tr.Get(tok, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(v) != "world" {
		t.Fatalf("got (%q,%v), want (world,true)", v, ok)
	}
}

func TestGetMissingKey(t *testing.T) {
	tr, tok := newTestTree(t)
	_, ok, err := tr.Get(tok, []byte("nope"))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected miss")
	}
}

func TestOverwriteExistingKey(t *testing.T) {
	tr, tok := newTestTree(t)
	tr.Put(tok, []byte("k"), []byte("v1"))
	tr.Put(tok, []byte("k"), []byte("v2"))
	v, ok, _ := tr.Get(tok, []byte("k"))
	if !ok || string(v) != "v2" {
		t.Fatalf("expected overwritten value v2, got %q", v)
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	tr, tok := newTestTree(t)
	tr.Put(tok, []byte("k"), []byte("v"))
	found, err := tr.Delete(tok, []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected delete to report found")
	}
	_, ok, _ := tr.Get(tok, []byte("k"))
	if ok {
		t.Fatal("expected key gone after delete")
	}
}

func TestManyInsertsForceSplits(t *testing.T) {
	tr, tok := newTestTree(t)
	const n = 500
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		val := []byte(fmt.Sprintf("value-%05d", i))
		if err := tr.Put(tok, key, val); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		want := fmt.Sprintf("value-%05d", i)
		got, ok, err := tr.Get(tok, key)
		if err != nil || !ok {
			t.Fatalf("get %d: ok=%v err=%v", i, ok, err)
		}
		if string(got) != want {
			t.Fatalf("get %d: got %q want %q", i, got, want)
		}
	}
}

func TestCursorForwardIteration(t *testing.T) {
	tr, tok := newTestTree(t)
	const n = 200
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		tr.Put(tok, key, key)
	}

	cur := tr.NewCursor(tok)
	ok, err := cur.First()
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	var prev []byte
	for ok {
		k, err := cur.Key()
		if err != nil {
			t.Fatal(err)
		}
		if prev != nil && tr.cmp(prev, k) >= 0 {
			t.Fatalf("keys out of order: %q then %q", prev, k)
		}
		prev = append([]byte(nil), k...)
		count++
		ok, err = cur.Next()
		if err != nil {
			t.Fatal(err)
		}
	}
	if count != n {
		t.Fatalf("expected %d keys, visited %d", n, count)
	}
}

func TestDeleteAllThenReinsert(t *testing.T) {
	tr, tok := newTestTree(t)
	const n = 100
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		tr.Put(tok, key, key)
	}
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		if _, err := tr.Delete(tok, key); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		if _, ok, _ := tr.Get(tok, key); ok {
			t.Fatalf("key %d should be gone", i)
		}
	}
	if err := tr.Put(tok, []byte("fresh"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := tr.Get(tok, []byte("fresh")); !ok || string(v) != "v" {
		t.Fatal("expected tree usable after emptying it")
	}
}

func TestCursorBackwardIteration(t *testing.T) {
	tr, tok := newTestTree(t)
	const n = 200
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		tr.Put(tok, key, key)
	}

	cur := tr.NewCursor(tok)
	ok, err := cur.Last()
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	var prev []byte
	for ok {
		k, err := cur.Key()
		if err != nil {
			t.Fatal(err)
		}
		if prev != nil && tr.cmp(prev, k) <= 0 {
			t.Fatalf("keys out of order walking backward: %q then %q", prev, k)
		}
		prev = append([]byte(nil), k...)
		count++
		ok, err = cur.Previous()
		if err != nil {
			t.Fatal(err)
		}
	}
	if count != n {
		t.Fatalf("expected %d keys, visited %d", n, count)
	}
}

func TestCursorSeekThenPrevious(t *testing.T) {
	tr, tok := newTestTree(t)
	const n = 200
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		tr.Put(tok, key, key)
	}

	cur := tr.NewCursor(tok)
	ok, err := cur.Seek([]byte(fmt.Sprintf("key-%05d", 100)))
	if err != nil || !ok {
		t.Fatalf("seek failed: ok=%v err=%v", ok, err)
	}
	k, _ := cur.Key()
	if string(k) != fmt.Sprintf("key-%05d", 100) {
		t.Fatalf("expected to land exactly on key-00100, got %q", k)
	}

	ok, err = cur.Previous()
	if err != nil || !ok {
		t.Fatalf("previous failed: ok=%v err=%v", ok, err)
	}
	k, _ = cur.Key()
	if string(k) != fmt.Sprintf("key-%05d", 99) {
		t.Fatalf("expected key-00099 before key-00100, got %q", k)
	}
}

func TestCursorSurvivesConcurrentSplit(t *testing.T) {
	tr, tok := newTestTree(t)
	tr.Put(tok, []byte("key-00"), []byte("a"))
	tr.Put(tok, []byte("key-02"), []byte("c"))

	cur := tr.NewCursor(tok)
	ok, err := cur.Seek([]byte("key-02"))
	if err != nil || !ok {
		t.Fatalf("seek failed: ok=%v err=%v", ok, err)
	}

	// Grow the leaf past its split threshold while the cursor's frame
	// is parked on the entry it just sought to; migrateSplitFrames must
	// reposition (or Rebind) that frame onto whichever half the entry
	// ends up in.
	big := make([]byte, page.MinSize/4)
	for i := 0; i < 64; i++ {
		key := []byte(fmt.Sprintf("key-01-%03d", i))
		if err := tr.Put(tok, key, big); err != nil {
			t.Fatal(err)
		}
	}

	k, err := cur.Key()
	if err != nil {
		t.Fatal(err)
	}
	if string(k) != "key-02" {
		t.Fatalf("cursor frame should still resolve to key-02 after the split, got %q", k)
	}
}
