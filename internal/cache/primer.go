package cache

import "github.com/intellect4all/tuplgo/internal/page"

// HotIDs returns a snapshot of every page id currently resident in the
// cache, most-recently-used first within each shard. Database.Close
// serializes this list into the <base>.primer file so a subsequent
// Open with Config.CachePriming can re-warm the cache before accepting
// traffic (spec.md §6).
func (c *Cache) HotIDs() []page.ID {
	var ids []page.ID
	for _, s := range c.shards {
		s.mu.Lock()
		for e := s.lru.Front(); e != nil; e = e.Next() {
			ids = append(ids, e.Value.(*shardEntry).id)
		}
		s.mu.Unlock()
	}
	return ids
}

// EncodePrimer serializes ids as a flat sequence of varint-delta-encoded
// page ids, the same delta idiom internal/store uses for its free-list
// chain pages.
func EncodePrimer(ids []page.ID) []byte {
	out := make([]byte, 0, len(ids)*2)
	var prev uint64
	for _, id := range ids {
		cur := uint64(id)
		delta := cur - prev
		buf := make([]byte, page.VarintLen(delta))
		n := page.PutVarint(buf, delta)
		out = append(out, buf[:n]...)
		prev = cur
	}
	return out
}

// DecodePrimer parses the output of EncodePrimer back into page ids.
func DecodePrimer(buf []byte) []page.ID {
	var ids []page.ID
	var prev uint64
	for len(buf) > 0 {
		delta, n := page.Uvarint(buf)
		if n <= 0 {
			break
		}
		prev += delta
		ids = append(ids, page.ID(prev))
		buf = buf[n:]
	}
	return ids
}
