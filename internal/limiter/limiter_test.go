package limiter

import (
	"errors"
	"testing"

	"github.com/intellect4all/tuplgo/internal/errs"
)

func TestAllocDiskRejectsOverCeiling(t *testing.T) {
	l := New(100, 0)
	if err := l.AllocDisk(60); err != nil {
		t.Fatal(err)
	}
	if err := l.AllocDisk(60); !errors.Is(err, errs.ErrDatabaseFull) {
		t.Fatalf("expected ErrDatabaseFull, got %v", err)
	}
	if l.DiskUsed() != 60 {
		t.Fatalf("expected failed alloc to roll back, got %d", l.DiskUsed())
	}
}

func TestAllocCacheUnlimitedWhenCeilingZero(t *testing.T) {
	l := New(0, 0)
	if err := l.AllocCache(1 << 40); err != nil {
		t.Fatal(err)
	}
}

func TestFreeReducesUsage(t *testing.T) {
	l := New(0, 100)
	l.AllocCache(50)
	l.FreeCache(20)
	if l.CacheUsed() != 30 {
		t.Fatalf("expected 30, got %d", l.CacheUsed())
	}
}
