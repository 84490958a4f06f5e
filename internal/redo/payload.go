package redo

import (
	"encoding/binary"

	"github.com/intellect4all/tuplgo/internal/page"
)

// EncodeIndexKeyValue builds the payload for STORE-family records:
// {index-id, key-bytes, value-bytes}, per spec.md §6.
func EncodeIndexKeyValue(indexID uint64, key, value []byte) []byte {
	klen := make([]byte, page.VarintLen(uint64(len(key))))
	kn := page.PutVarint(klen, uint64(len(key)))
	out := make([]byte, 8+kn+len(key)+len(value))
	binary.BigEndian.PutUint64(out[0:8], indexID)
	copy(out[8:8+kn], klen[:kn])
	copy(out[8+kn:], key)
	copy(out[8+kn+len(key):], value)
	return out
}

func decodeIndexKeyValue(payload []byte) (indexID uint64, key, value []byte, ok bool) {
	if len(payload) < 8 {
		return 0, nil, nil, false
	}
	indexID = binary.BigEndian.Uint64(payload[0:8])
	klen, n := page.Uvarint(payload[8:])
	if n <= 0 {
		return 0, nil, nil, false
	}
	start := 8 + n
	end := start + int(klen)
	if end > len(payload) {
		return 0, nil, nil, false
	}
	return indexID, payload[start:end], payload[end:], true
}

// EncodeIndexKey builds the payload for RENAME_INDEX / DELETE_INDEX /
// lock-escalation records: {index-id, key-or-name-bytes}.
func EncodeIndexKey(indexID uint64, key []byte) []byte {
	out := make([]byte, 8+len(key))
	binary.BigEndian.PutUint64(out[0:8], indexID)
	copy(out[8:], key)
	return out
}

func decodeIndexKey(payload []byte) (indexID uint64, key []byte, ok bool) {
	if len(payload) < 8 {
		return 0, nil, false
	}
	return binary.BigEndian.Uint64(payload[0:8]), payload[8:], true
}
