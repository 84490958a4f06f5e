package store

import (
	"encoding/binary"

	"github.com/intellect4all/tuplgo/internal/page"
)

// EncodingVersion is the on-disk format tag from spec.md §6.
const EncodingVersion uint32 = 0x01332712

// headerMagic distinguishes a tuplgo file from an unrelated one before
// the encoding version is even consulted.
const headerMagic uint32 = 0x54504c31 // "TPL1"

// HeaderSize is how much of each header page (offsets 0 and pageSize) is
// meaningful; the remainder of the page is unused padding up to the next
// page boundary.
const (
	fixedHeaderSize = 4 + 4 + 6 + 6 + 6 + 8 + 8 + 4 + 8 + 4 + 4 // see field list below
	maxExtraPayload = 256
	HeaderSize      = fixedHeaderSize + maxExtraPayload
)

// Header is the double-header commit record of spec.md §3/§6: encoding
// version, registry root page, master undo-log top page, last committed
// transaction id, checkpoint number, last redo file number and position,
// replication encoding, and an opaque extra payload capped at 256 bytes.
type Header struct {
	Magic            uint32
	Version          uint32
	RootPageID       page.ID
	MasterUndoTop    page.ID
	FreeListHead     page.ID
	LastTxnID        uint64
	CheckpointNumber uint64
	RedoNumber       uint32
	RedoPosition     uint64
	ReplicationEnc   uint32
	Extra            []byte
	Checksum         uint32
}

// Encode serializes h into a fixed-size buffer the size of one header
// page slot (without the trailing checksum field, which is computed by
// the caller over the serialized bytes that precede it).
func (h *Header) Encode(buf []byte) {
	if len(h.Extra) > maxExtraPayload {
		h.Extra = h.Extra[:maxExtraPayload]
	}
	binary.BigEndian.PutUint32(buf[0:], headerMagic)
	binary.BigEndian.PutUint32(buf[4:], h.Version)
	page.PutID(buf[8:14], h.RootPageID)
	page.PutID(buf[14:20], h.MasterUndoTop)
	page.PutID(buf[20:26], h.FreeListHead)
	binary.BigEndian.PutUint64(buf[26:34], h.LastTxnID)
	binary.BigEndian.PutUint64(buf[34:42], h.CheckpointNumber)
	binary.BigEndian.PutUint32(buf[42:46], h.RedoNumber)
	binary.BigEndian.PutUint64(buf[46:54], h.RedoPosition)
	binary.BigEndian.PutUint32(buf[54:58], h.ReplicationEnc)
	extraLen := len(h.Extra)
	binary.BigEndian.PutUint32(buf[58:62], uint32(extraLen))
	copy(buf[62:62+extraLen], h.Extra)
}

// DecodeHeader parses a header page slot previously written by Encode.
// It returns ok=false (never an error) on magic mismatch so the caller
// can simply prefer whichever of the two header slots is valid and
// newest, per spec.md §3's recovery rule.
func DecodeHeader(buf []byte) (h Header, ok bool) {
	if len(buf) < fixedHeaderSize {
		return Header{}, false
	}
	magic := binary.BigEndian.Uint32(buf[0:])
	if magic != headerMagic {
		return Header{}, false
	}
	h.Magic = magic
	h.Version = binary.BigEndian.Uint32(buf[4:])
	h.RootPageID = page.GetID(buf[8:14])
	h.MasterUndoTop = page.GetID(buf[14:20])
	h.FreeListHead = page.GetID(buf[20:26])
	h.LastTxnID = binary.BigEndian.Uint64(buf[26:34])
	h.CheckpointNumber = binary.BigEndian.Uint64(buf[34:42])
	h.RedoNumber = binary.BigEndian.Uint32(buf[42:46])
	h.RedoPosition = binary.BigEndian.Uint64(buf[46:54])
	h.ReplicationEnc = binary.BigEndian.Uint32(buf[54:58])
	extraLen := binary.BigEndian.Uint32(buf[58:62])
	if extraLen > maxExtraPayload || int(62+extraLen) > len(buf) {
		return Header{}, false
	}
	h.Extra = append([]byte(nil), buf[62:62+extraLen]...)
	return h, true
}
