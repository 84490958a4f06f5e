// Package page implements the on-disk layout of one B-tree page
// (spec.md §3 "Page"/"Node", §4.5): fixed-size buffer, 48-bit page ids,
// a small fixed header, and a growing cell directory. It is the direct
// descendant of the teacher's btree/page.go, generalized from 4-byte
// page ids and a 2-byte size encoding to 48-bit ids and the varint cell
// sizes spec.md calls for.
package page

import (
	"encoding/binary"
	"errors"
)

// Size bounds from spec.md §3: power-of-two between 512 and 65536,
// default 4096.
const (
	MinSize     = 512
	MaxSize     = 65536
	DefaultSize = 4096
)

// Type is the node kind stored in the page header (spec.md §3 Node.type).
type Type uint8

const (
	TypeInternal Type = iota
	TypeLeaf
	TypeFragment
	TypeUndoLog
	TypeEmpty
)

// CachedState mirrors Node.cached_state: CLEAN or one of two alternating
// dirty tags.
type CachedState uint8

const (
	StateClean CachedState = iota
	StateDirtyA
	StateDirtyB
)

// Opposite returns the dirty tag that is NOT s when s is a dirty state;
// it is used by the checkpointer to pick the flush tag.
func (s CachedState) Opposite() CachedState {
	switch s {
	case StateDirtyA:
		return StateDirtyB
	case StateDirtyB:
		return StateDirtyA
	default:
		return s
	}
}

// ID is a 48-bit page id. Ids 0 and 1 are reserved for the alternating
// header pages (spec.md §3).
type ID uint64

const (
	// NoID marks the absence of a page reference (a nil right pointer,
	// an empty free list, etc).
	NoID      ID = 0
	HeaderA   ID = 0
	HeaderB   ID = 1
	FirstData ID = 2

	idMask = 1<<48 - 1
)

// Valid reports whether id is usable as a data page reference.
func (id ID) Valid() bool { return id != NoID && id&idMask == id }

const (
	// HeaderSize is the fixed-length page header: type(1) + state(1) +
	// count(2) + sibling/fragment pointer(6) + free pointer(2).
	HeaderSize = 12

	offType    = 0
	offState   = 1
	offCount   = 2
	offSibling = 4
	offFreePtr = 10

	// DirEntrySize is the width of one cell-directory slot (an offset
	// into the page).
	DirEntrySize = 2
)

var (
	ErrPageFull      = errors.New("page: full")
	ErrCellNotFound  = errors.New("page: cell not found")
	ErrInvalidLength = errors.New("page: invalid length")
)

// Page is one fixed-size buffer and its size; the cell count and every
// other header field are read from Buf on each access.
type Page struct {
	Size uint32
	Buf  []byte
}

// New allocates a zeroed page of the given type.
func New(size uint32, typ Type) *Page {
	p := &Page{Size: size, Buf: make([]byte, size)}
	p.Buf[offType] = byte(typ)
	p.Buf[offState] = byte(StateClean)
	p.setCount(0)
	PutID(p.Buf[offSibling:offSibling+6], NoID)
	p.setFreePtr(uint16(size))
	return p
}

// Load wraps an existing buffer (read from the store) as a Page.
func Load(buf []byte) *Page {
	return &Page{Size: uint32(len(buf)), Buf: buf}
}

func (p *Page) Type() Type            { return Type(p.Buf[offType]) }
func (p *Page) SetType(t Type)        { p.Buf[offType] = byte(t) }
func (p *Page) State() CachedState    { return CachedState(p.Buf[offState]) }
func (p *Page) SetState(s CachedState) { p.Buf[offState] = byte(s) }

func (p *Page) Count() uint16 { return binary.BigEndian.Uint16(p.Buf[offCount:]) }
func (p *Page) setCount(n uint16) {
	binary.BigEndian.PutUint16(p.Buf[offCount:], n)
}

// Sibling is the right-sibling pointer for leaves (range-scan chaining)
// or, for a fragment-chain page, the lower_node_id link described in
// spec.md §3's UndoLog entry and §3's FragmentedValue chain.
func (p *Page) Sibling() ID { return GetID(p.Buf[offSibling : offSibling+6]) }
func (p *Page) SetSibling(id ID) {
	PutID(p.Buf[offSibling:offSibling+6], id)
}

func (p *Page) freePtr() uint16 { return binary.BigEndian.Uint16(p.Buf[offFreePtr:]) }
func (p *Page) setFreePtr(v uint16) {
	binary.BigEndian.PutUint16(p.Buf[offFreePtr:], v)
}

// FreeSpace returns the number of unused bytes between the cell
// directory and the first cell.
func (p *Page) FreeSpace() int {
	dirEnd := HeaderSize + int(p.Count())*DirEntrySize
	return int(p.freePtr()) - dirEnd
}

func (p *Page) dirOffset(i uint16) int { return HeaderSize + int(i)*DirEntrySize }

func (p *Page) cellOffset(i uint16) uint16 {
	return binary.BigEndian.Uint16(p.Buf[p.dirOffset(i):])
}

func (p *Page) setCellOffset(i uint16, off uint16) {
	binary.BigEndian.PutUint16(p.Buf[p.dirOffset(i):], off)
}

// Entry is a parsed cell: a (key,value) pair for a leaf, or a
// (key,child) separator for an internal node.
type Entry struct {
	Key   []byte
	Value []byte
	Child ID
}

// encodedLen reports how many bytes an Entry needs once serialized,
// without actually writing it.
func (p *Page) encodedLen(e *Entry) int {
	if p.Type() == TypeLeaf {
		return VarintLen(uint64(len(e.Key))) + VarintLen(uint64(len(e.Value))) + len(e.Key) + len(e.Value)
	}
	return VarintLen(uint64(len(e.Key))) + 6 + len(e.Key)
}

// Fits reports whether e can be inserted without a split.
func (p *Page) Fits(e *Entry) bool {
	return p.encodedLen(e)+DirEntrySize <= p.FreeSpace()
}

// InsertAt inserts e so that, after insertion, index i holds it; all
// entries at or after i shift up by one directory slot. Cells
// themselves are appended growing backward from the end of the page, as
// in the teacher's page layout comment.
func (p *Page) InsertAt(i uint16, e *Entry) error {
	need := p.encodedLen(e)
	if need+DirEntrySize > p.FreeSpace() {
		return ErrPageFull
	}

	newFree := p.freePtr() - uint16(need)
	p.writeCell(newFree, e)
	p.setFreePtr(newFree)

	count := p.Count()
	for j := count; j > i; j-- {
		p.setCellOffset(j, p.cellOffset(j-1))
	}
	p.setCellOffset(i, newFree)
	p.setCount(count + 1)
	return nil
}

func (p *Page) writeCell(off uint16, e *Entry) {
	buf := p.Buf[off:]
	n := PutVarint(buf, uint64(len(e.Key)))
	if p.Type() == TypeLeaf {
		n += PutVarint(buf[n:], uint64(len(e.Value)))
	} else {
		PutID(buf[n:n+6], e.Child)
		n += 6
	}
	n += copy(buf[n:], e.Key)
	if p.Type() == TypeLeaf {
		copy(buf[n:], e.Value)
	}
}

// At returns the entry stored at directory slot i.
func (p *Page) At(i uint16) (*Entry, error) {
	if i >= p.Count() {
		return nil, ErrCellNotFound
	}
	off := p.cellOffset(i)
	buf := p.Buf[off:]

	keyLen, n := Uvarint(buf)
	e := &Entry{}
	if p.Type() == TypeLeaf {
		valLen, n2 := Uvarint(buf[n:])
		n += n2
		e.Key = buf[n : n+int(keyLen)]
		n += int(keyLen)
		e.Value = buf[n : n+int(valLen)]
		return e, nil
	}

	e.Child = GetID(buf[n : n+6])
	n += 6
	e.Key = buf[n : n+int(keyLen)]
	return e, nil
}

// RemoveAt deletes the entry at slot i from the directory. The backing
// bytes of the cell itself are abandoned (reclaimed on next compaction,
// mirroring the teacher's page design — free space is only reclaimed by
// a full rewrite, never by a slot-by-slot compactor).
func (p *Page) RemoveAt(i uint16) error {
	count := p.Count()
	if i >= count {
		return ErrCellNotFound
	}
	for j := i; j < count-1; j++ {
		p.setCellOffset(j, p.cellOffset(j+1))
	}
	p.setCount(count - 1)
	return nil
}

// Search performs a binary search for key among the page's entries,
// returning (index, true) on an exact match or (insertion point, false)
// otherwise — the classical B-tree leaf search of spec.md §4.7.
func (p *Page) Search(key []byte, cmp func(a, b []byte) int) (uint16, bool) {
	lo, hi := uint16(0), p.Count()
	for lo < hi {
		mid := lo + (hi-lo)/2
		e, err := p.At(mid)
		if err != nil {
			break
		}
		c := cmp(key, e.Key)
		switch {
		case c == 0:
			return mid, true
		case c < 0:
			hi = mid
		default:
			lo = mid + 1
		}
	}
	return lo, false
}

// PutID writes a 48-bit page id big-endian into a 6-byte buffer.
func PutID(buf []byte, id ID) {
	_ = buf[5]
	buf[0] = byte(id >> 40)
	buf[1] = byte(id >> 32)
	buf[2] = byte(id >> 24)
	buf[3] = byte(id >> 16)
	buf[4] = byte(id >> 8)
	buf[5] = byte(id)
}

// GetID reads a 48-bit page id from a 6-byte buffer.
func GetID(buf []byte) ID {
	_ = buf[5]
	return ID(buf[0])<<40 | ID(buf[1])<<32 | ID(buf[2])<<24 |
		ID(buf[3])<<16 | ID(buf[4])<<8 | ID(buf[5])
}

// MaxInlineKeyLen is the largest key that may be stored inline rather
// than fragmented, per spec.md §4.5: min(16383, pageSize/2 - 22).
func MaxInlineKeyLen(pageSize uint32) int {
	limit := int(pageSize)/2 - 22
	if limit > 16383 {
		limit = 16383
	}
	return limit
}

// MaxInlineValueLen is the largest value kept inline in a leaf before it
// is fragmented, per spec.md §4.5: 3/4 * (pageSize - header).
func MaxInlineValueLen(pageSize uint32) int {
	return (int(pageSize) - HeaderSize) * 3 / 4
}
