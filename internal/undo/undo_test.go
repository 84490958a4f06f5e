package undo

import (
	"testing"

	"github.com/intellect4all/tuplgo/internal/page"
	"github.com/intellect4all/tuplgo/internal/store"
)

type recordingHandler struct {
	unInserted []string
	unUpdated  [][2]string
}

func (h *recordingHandler) UnInsert(key []byte) error {
	h.unInserted = append(h.unInserted, string(key))
	return nil
}
func (h *recordingHandler) UnUpdate(key, value []byte) error {
	h.unUpdated = append(h.unUpdated, [2]string{string(key), string(value)})
	return nil
}
func (h *recordingHandler) UnDelete(key, value []byte) error { return nil }
func (h *recordingHandler) UnDeleteFragmented(key []byte, trashID page.ID) error { return nil }
func (h *recordingHandler) Custom(payload []byte) error { return nil }

func encodeKeyPayload(key []byte, extra ...byte) []byte {
	lenBuf := make([]byte, page.VarintLen(uint64(len(key))))
	n := page.PutVarint(lenBuf, uint64(len(key)))
	out := append(append([]byte(nil), lenBuf[:n]...), key...)
	return append(out, extra...)
}

func TestPushAndRollbackUndoesInReverseOrder(t *testing.T) {
	st := store.NewNonDurable(page.MinSize)
	l := New(st)

	l.Push(OpUnInsert, encodeKeyPayload([]byte("a")))
	l.Push(OpUnInsert, encodeKeyPayload([]byte("b")))

	h := &recordingHandler{}
	if err := l.Rollback(h); err != nil {
		t.Fatal(err)
	}
	if len(h.unInserted) != 2 || h.unInserted[0] != "b" || h.unInserted[1] != "a" {
		t.Fatalf("expected reverse order [b,a], got %v", h.unInserted)
	}
}

func TestRollbackStopsAtScopeEnter(t *testing.T) {
	st := store.NewNonDurable(page.MinSize)
	l := New(st)

	l.Push(OpUnInsert, encodeKeyPayload([]byte("outer")))
	l.EnterScope()
	l.Push(OpUnInsert, encodeKeyPayload([]byte("inner")))

	h := &recordingHandler{}
	if err := l.Rollback(h); err != nil {
		t.Fatal(err)
	}
	if len(h.unInserted) != 1 || h.unInserted[0] != "inner" {
		t.Fatalf("expected only inner scope undone, got %v", h.unInserted)
	}
}

func TestSpillsToChainPastThreshold(t *testing.T) {
	st := store.NewNonDurable(page.MinSize)
	l := New(st)

	big := make([]byte, l.spillThreshold())
	if err := l.Push(OpCustom, big); err != nil {
		t.Fatal(err)
	}
	if len(l.chain) == 0 {
		t.Fatal("expected the oversized push to spill to a page chain")
	}
}

func TestMasterLogInlineCopySmallLog(t *testing.T) {
	st := store.NewNonDurable(page.MinSize)
	l := New(st)
	l.Push(OpUnInsert, encodeKeyPayload([]byte("k")))

	master := New(st)
	if err := l.WriteMaster(master, 1, 0); err != nil {
		t.Fatal(err)
	}
	if master.Empty() {
		t.Fatal("expected master log to gain an entry")
	}
}
