package page

import (
	"bytes"
	"testing"
)

func TestFragmentDirectDirectRoundTrip(t *testing.T) {
	d := &FragmentDirectory{
		FullLength:   1 << 20,
		InlinePrefix: []byte("prefix-bytes"),
		Direct:       []ID{10, 11, 12},
	}
	buf := d.Encode()
	got, n, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d, want %d", n, len(buf))
	}
	if got.FullLength != d.FullLength {
		t.Fatalf("full length mismatch: %d vs %d", got.FullLength, d.FullLength)
	}
	if !bytes.Equal(got.InlinePrefix, d.InlinePrefix) {
		t.Fatalf("prefix mismatch: %q vs %q", got.InlinePrefix, d.InlinePrefix)
	}
	if len(got.Direct) != len(d.Direct) {
		t.Fatalf("direct pointer count mismatch: %d vs %d", len(got.Direct), len(d.Direct))
	}
	for i := range d.Direct {
		if got.Direct[i] != d.Direct[i] {
			t.Fatalf("pointer %d mismatch: %d vs %d", i, got.Direct[i], d.Direct[i])
		}
	}
}

func TestFragmentIndirectNoPrefixRoundTrip(t *testing.T) {
	d := &FragmentDirectory{
		FullLength: 1 << 40,
		Indirect:   ID(0xABCDEF),
	}
	buf := d.Encode()
	got, _, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Indirect != d.Indirect {
		t.Fatalf("indirect mismatch: %d vs %d", got.Indirect, d.Indirect)
	}
	if len(got.Direct) != 0 {
		t.Fatalf("expected no direct pointers, got %d", len(got.Direct))
	}
}

func TestFragmentWidthSelection(t *testing.T) {
	cases := []struct {
		length   uint64
		wantBits byte
	}{
		{100, widthFlag2},
		{1 << 20, widthFlag4},
		{1 << 40, widthFlag6},
		{1 << 50, widthFlag8},
	}
	for _, c := range cases {
		d := &FragmentDirectory{FullLength: c.length, Direct: []ID{1}}
		buf := d.Encode()
		gotFlag := (buf[0] >> 2) & 0x3
		if gotFlag != c.wantBits {
			t.Fatalf("length %d: width flag = %d, want %d", c.length, gotFlag, c.wantBits)
		}
	}
}

func TestFragmentTruncatedInput(t *testing.T) {
	if _, _, err := Decode(nil); err != ErrFragmentTruncated {
		t.Fatalf("expected truncation error for empty input, got %v", err)
	}
}
