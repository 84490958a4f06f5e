package page

import "testing"

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 16383, 16384, 1 << 20, 1 << 40, ^uint64(0)}
	buf := make([]byte, 10)
	for _, v := range values {
		n := PutVarint(buf, v)
		if n != VarintLen(v) {
			t.Fatalf("VarintLen(%d) = %d, PutVarint wrote %d", v, VarintLen(v), n)
		}
		got, m := Uvarint(buf[:n])
		if m != n {
			t.Fatalf("Uvarint consumed %d bytes, want %d", m, n)
		}
		if got != v {
			t.Fatalf("round trip %d -> %d", v, got)
		}
	}
}

func TestUvarintTruncated(t *testing.T) {
	buf := []byte{0x80, 0x80}
	_, n := Uvarint(buf)
	if n > 0 {
		t.Fatalf("expected truncation indicator, got n=%d", n)
	}
}
