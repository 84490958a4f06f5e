package tuplgo

import (
	"bytes"
	"testing"

	"github.com/intellect4all/tuplgo/internal/errs"
	"github.com/intellect4all/tuplgo/internal/testutil"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := testutil.TempDir(t)
	cfg := DefaultConfig(dir)
	cfg.MaxCacheBytes = 1 << 20
	return cfg
}

func TestOpenPutGetRoundTrip(t *testing.T) {
	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := db.Put([]byte("k1"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	v, err := db.Get([]byte("k1"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v, []byte("v1")) {
		t.Fatalf("got %q, want v1", v)
	}
}

func TestGetMissingKeyReturnsErrKeyNotFound(t *testing.T) {
	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := db.Get([]byte("absent")); err != errs.ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Get([]byte("k")); err != errs.ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestOpenTreeIsIdempotentByName(t *testing.T) {
	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	t1, err := db.OpenTree("widgets")
	if err != nil {
		t.Fatal(err)
	}
	t2, err := db.OpenTree("widgets")
	if err != nil {
		t.Fatal(err)
	}
	if t1 != t2 {
		t.Fatal("OpenTree returned distinct handles for the same name")
	}
}

func TestOpenTreeIsolatesKeysAcrossTrees(t *testing.T) {
	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	tok := db.tok
	widgets, err := db.OpenTree("widgets")
	if err != nil {
		t.Fatal(err)
	}
	if err := widgets.Put(tok, []byte("k"), []byte("widget-value")); err != nil {
		t.Fatal(err)
	}
	if err := db.Put([]byte("k"), []byte("default-value")); err != nil {
		t.Fatal(err)
	}

	v, ok, err := widgets.Get(tok, []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !bytes.Equal(v, []byte("widget-value")) {
		t.Fatalf("got %q, ok=%v, want widget-value", v, ok)
	}
}

func TestCheckpointThenReopenRecoversData(t *testing.T) {
	cfg := testConfig(t)

	db, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Put([]byte("persisted"), []byte("yes")); err != nil {
		t.Fatal(err)
	}
	if err := db.Checkpoint(); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	v, err := reopened.Get([]byte("persisted"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v, []byte("yes")) {
		t.Fatalf("got %q, want yes", v)
	}
}

func TestSecondOpenWithoutCloseFailsOnLockFile(t *testing.T) {
	cfg := testConfig(t)

	db, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := Open(cfg); err == nil {
		t.Fatal("expected second Open to fail while the lock file is held")
	}
}

func TestReadOnlyOpenSkipsLockFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReadOnly = true

	db, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	db2, err := Open(cfg)
	if err != nil {
		t.Fatalf("expected a second read-only Open to succeed, got %v", err)
	}
	defer db2.Close()
}
