package page

import "errors"

// FragmentDirectory is the directory record a leaf stores in place of an
// oversized value (spec.md §3 "FragmentedValue"):
//
//	header byte  0000_ffip
//	  ff = width of the full-length field: 00->2 bytes, 01->4, 10->6, 11->8
//	  i  = 1 if an inline prefix follows the length
//	  p  = 1 for direct 6-byte page-id pointers, 0 for a single indirect
//	       pointer to an inode tree of pointer nodes
//	full length (ff width)
//	[varint prefix length, then inline prefix, if i]
//	either: direct pointers (6 bytes each)
//	    or: one 6-byte indirect pointer
type FragmentDirectory struct {
	FullLength   uint64
	InlinePrefix []byte
	Direct       []ID // used when Indirect == NoID
	Indirect     ID   // used when non-zero; mutually exclusive with Direct
}

var ErrFragmentTruncated = errors.New("page: truncated fragment directory")

const (
	widthFlag2 = 0
	widthFlag4 = 1
	widthFlag6 = 2
	widthFlag8 = 3
)

func lengthWidth(n uint64) (bytes int, flag byte) {
	switch {
	case n < 1<<16:
		return 2, widthFlag2
	case n < 1<<32:
		return 4, widthFlag4
	case n < 1<<48:
		return 6, widthFlag6
	default:
		return 8, widthFlag8
	}
}

func widthFromFlag(flag byte) int {
	switch flag {
	case widthFlag2:
		return 2
	case widthFlag4:
		return 4
	case widthFlag6:
		return 6
	default:
		return 8
	}
}

// Encode serializes the directory record.
func (d *FragmentDirectory) Encode() []byte {
	widthBytes, widthFlag := lengthWidth(d.FullLength)
	hasPrefix := len(d.InlinePrefix) > 0
	direct := d.Indirect == NoID

	header := byte(widthFlag) << 2
	if hasPrefix {
		header |= 0x02
	}
	if direct {
		header |= 0x01
	}

	size := 1 + widthBytes
	if hasPrefix {
		size += VarintLen(uint64(len(d.InlinePrefix))) + len(d.InlinePrefix)
	}
	if direct {
		size += len(d.Direct) * 6
	} else {
		size += 6
	}

	buf := make([]byte, size)
	buf[0] = header
	putUintWidth(buf[1:1+widthBytes], d.FullLength)
	off := 1 + widthBytes
	if hasPrefix {
		off += PutVarint(buf[off:], uint64(len(d.InlinePrefix)))
		off += copy(buf[off:], d.InlinePrefix)
	}
	if direct {
		for _, id := range d.Direct {
			PutID(buf[off:off+6], id)
			off += 6
		}
	} else {
		PutID(buf[off:off+6], d.Indirect)
	}
	return buf
}

// Decode parses a directory record previously produced by Encode.
func Decode(buf []byte) (*FragmentDirectory, int, error) {
	if len(buf) < 1 {
		return nil, 0, ErrFragmentTruncated
	}
	header := buf[0]
	widthFlag := (header >> 2) & 0x3
	hasPrefix := header&0x02 != 0
	direct := header&0x01 != 0

	widthBytes := widthFromFlag(widthFlag)
	if len(buf) < 1+widthBytes {
		return nil, 0, ErrFragmentTruncated
	}
	fullLen := getUintWidth(buf[1 : 1+widthBytes])
	off := 1 + widthBytes

	d := &FragmentDirectory{FullLength: fullLen}

	if hasPrefix {
		prefixLen, n := Uvarint(buf[off:])
		if n <= 0 {
			return nil, 0, ErrFragmentTruncated
		}
		off += n
		if len(buf) < off+int(prefixLen) {
			return nil, 0, ErrFragmentTruncated
		}
		d.InlinePrefix = append([]byte(nil), buf[off:off+int(prefixLen)]...)
		off += int(prefixLen)
	}

	if direct {
		if (len(buf)-off)%6 != 0 {
			return nil, 0, ErrFragmentTruncated
		}
		n := (len(buf) - off) / 6
		d.Direct = make([]ID, n)
		for i := 0; i < n; i++ {
			d.Direct[i] = GetID(buf[off : off+6])
			off += 6
		}
	} else {
		if len(buf) < off+6 {
			return nil, 0, ErrFragmentTruncated
		}
		d.Indirect = GetID(buf[off : off+6])
		off += 6
	}

	return d, off, nil
}

func putUintWidth(buf []byte, v uint64) {
	for i := len(buf) - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
}

func getUintWidth(buf []byte) uint64 {
	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return v
}
