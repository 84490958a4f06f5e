package store

import (
	"sort"

	"github.com/intellect4all/tuplgo/internal/page"
)

// freeList is the persistent queue of freed page ids (spec.md §3, §6):
// "a singly-linked chain of pages (queue of ids) encoded with
// delta-varints". Each chain page's Sibling pointer is the next chain
// page (or page.NoID for the tail); its body is a varint count followed
// by ascending delta-varint-encoded ids.
//
// Two in-memory staging sets back the chain, mirroring the "deferred
// deletion under copy-on-write" design note (spec.md §9): a page freed
// by a mutation is not reusable until the checkpoint that retires the
// commit state it was deleted under has completed, but a page freed via
// recycle_page is reusable immediately.
type freeList struct {
	pendingByState [2]map[page.ID]struct{} // index: 0=DirtyA-epoch, 1=DirtyB-epoch
	immediate      []page.ID                // recycle_page: usable right away
	persisted      []page.ID                // on the on-disk chain: loaded at open/recovery, rewritten by each commit
}

func newFreeList() *freeList {
	return &freeList{
		pendingByState: [2]map[page.ID]struct{}{{}, {}},
	}
}

// deferFree schedules id for reuse only after the checkpoint that
// retires epoch completes.
func (f *freeList) deferFree(epoch int, id page.ID) {
	f.pendingByState[epoch&1][id] = struct{}{}
}

// recycle makes id immediately reusable.
func (f *freeList) recycle(id page.ID) {
	f.immediate = append(f.immediate, id)
}

// promote moves every page deferred under epoch into the immediately
// reusable set; called once the checkpoint retiring that epoch commits.
func (f *freeList) promote(epoch int) {
	set := f.pendingByState[epoch&1]
	for id := range set {
		f.immediate = append(f.immediate, id)
	}
	f.pendingByState[epoch&1] = map[page.ID]struct{}{}
}

// take pops one reusable page id, preferring pages already known free
// from a prior checkpoint's persisted chain, then immediately-recyclable
// pages. It returns (0, false) when nothing is available and the caller
// must grow the file instead.
func (f *freeList) take() (page.ID, bool) {
	if n := len(f.persisted); n > 0 {
		id := f.persisted[n-1]
		f.persisted = f.persisted[:n-1]
		return id, true
	}
	if n := len(f.immediate); n > 0 {
		id := f.immediate[n-1]
		f.immediate = f.immediate[:n-1]
		return id, true
	}
	return 0, false
}

// encodeChain serializes ids as a sequence of pages linked through their
// Sibling pointer, body = varint(count) + ascending delta-varints. It
// returns the encoded page bodies in chain order (first element is the
// head); the caller is responsible for allocating page ids for each and
// wiring Sibling pointers before writing them out.
func encodeChain(ids []page.ID, pageSize uint32, typ page.Type) []*page.Page {
	sorted := append([]page.ID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var pages []*page.Page
	capacity := int(pageSize) - page.HeaderSize - 10
	i := 0
	for i < len(sorted) {
		p := page.New(pageSize, typ)
		buf := make([]byte, capacity)
		n := 0
		start := i
		var prev page.ID
		// Reserve room for the count varint written last, once known.
		countPlaceholder := 10
		for i < len(sorted) && n+countPlaceholder < capacity {
			var delta uint64
			if i == start {
				delta = uint64(sorted[i])
			} else {
				delta = uint64(sorted[i] - prev)
			}
			need := page.VarintLen(delta)
			if n+need+countPlaceholder >= capacity {
				break
			}
			n += page.PutVarint(buf[n:], delta)
			prev = sorted[i]
			i++
		}
		count := i - start
		header := make([]byte, page.VarintLen(uint64(count)))
		hn := page.PutVarint(header, uint64(count))
		body := append(header[:hn:hn], buf[:n]...)
		copy(p.Buf[page.HeaderSize:], body)
		pages = append(pages, p)
	}
	return pages
}

// decodeChainPage parses one freelist chain page's body into ids.
func decodeChainPage(p *page.Page) ([]page.ID, error) {
	buf := p.Buf[page.HeaderSize:]
	count, n := page.Uvarint(buf)
	if n <= 0 {
		return nil, ErrCorruptFreeList
	}
	buf = buf[n:]
	ids := make([]page.ID, 0, count)
	var prev uint64
	for i := uint64(0); i < count; i++ {
		delta, dn := page.Uvarint(buf)
		if dn <= 0 {
			return nil, ErrCorruptFreeList
		}
		buf = buf[dn:]
		var id uint64
		if i == 0 {
			id = delta
		} else {
			id = prev + delta
		}
		ids = append(ids, page.ID(id))
		prev = id
	}
	return ids, nil
}
