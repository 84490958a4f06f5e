// Package limiter enforces the cache/disk byte budgets named in
// spec.md §6's Config ("min/max cache bytes"). Grounded on the
// teacher's common/testutil.ResourceLimiter, promoted from a
// test-only helper to a production guard. Database.Put reserves each
// key/value's byte count against the disk ceiling; nothing in the
// module reserves against the cache ceiling.
package limiter

import (
	"sync/atomic"

	"github.com/intellect4all/tuplgo/internal/errs"
)

// ResourceLimiter tracks cache and disk byte usage against configured
// ceilings.
type ResourceLimiter struct {
	maxDiskBytes  int64
	maxCacheBytes int64
	diskUsed      atomic.Int64
	cacheUsed     atomic.Int64
}

// New returns a limiter with the given ceilings. A ceiling of 0 means
// unlimited.
func New(maxDiskBytes, maxCacheBytes int64) *ResourceLimiter {
	return &ResourceLimiter{maxDiskBytes: maxDiskBytes, maxCacheBytes: maxCacheBytes}
}

// AllocDisk reserves n additional disk bytes, failing with
// errs.ErrDatabaseFull if that would exceed the configured ceiling.
func (r *ResourceLimiter) AllocDisk(n int64) error {
	if r.maxDiskBytes == 0 {
		r.diskUsed.Add(n)
		return nil
	}
	if newUsed := r.diskUsed.Add(n); newUsed > r.maxDiskBytes {
		r.diskUsed.Add(-n)
		return errs.ErrDatabaseFull
	}
	return nil
}

// FreeDisk releases n previously reserved disk bytes.
func (r *ResourceLimiter) FreeDisk(n int64) { r.diskUsed.Add(-n) }

// DiskUsed reports currently reserved disk bytes.
func (r *ResourceLimiter) DiskUsed() int64 { return r.diskUsed.Load() }

// AllocCache reserves n additional cache bytes, failing with
// errs.ErrCacheExhausted if that would exceed the configured ceiling.
func (r *ResourceLimiter) AllocCache(n int64) error {
	if r.maxCacheBytes == 0 {
		r.cacheUsed.Add(n)
		return nil
	}
	if newUsed := r.cacheUsed.Add(n); newUsed > r.maxCacheBytes {
		r.cacheUsed.Add(-n)
		return errs.ErrCacheExhausted
	}
	return nil
}

// FreeCache releases n previously reserved cache bytes.
func (r *ResourceLimiter) FreeCache(n int64) { r.cacheUsed.Add(-n) }

// CacheUsed reports currently reserved cache bytes.
func (r *ResourceLimiter) CacheUsed() int64 { return r.cacheUsed.Load() }
