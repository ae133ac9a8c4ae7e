package wire

import (
	"bytes"
	"testing"
)

type point struct {
	x, y uint32
	tag  string
}

func (p point) MarshalCanonical(e *Encoder) {
	e.U32(p.x)
	e.U32(p.y)
	e.String(p.tag)
}

func decodePoint(d *Decoder) point {
	return point{x: d.U32(), y: d.U32(), tag: d.String()}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := point{x: 7, y: 9, tag: "chain-1"}
	b := Encode(p)

	d := NewDecoder(b)
	got := decodePoint(d)
	if d.Err() != nil {
		t.Fatalf("decode: %v", d.Err())
	}
	if got != p {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
	}
}

func TestOptionalPresentAndAbsent(t *testing.T) {
	e := NewEncoder()
	e.Optional(true, func(e *Encoder) { e.U64(42) })
	e.Optional(false, func(e *Encoder) { e.U64(999) })

	d := NewDecoder(e.Buf())
	var got uint64
	present := d.Optional(func(d *Decoder) { got = d.U64() })
	if !present || got != 42 {
		t.Fatalf("expected present=true got=42, got present=%v got=%d", present, got)
	}
	present = d.Optional(func(d *Decoder) { t.Fatal("inner decode should not run") })
	if present {
		t.Fatal("expected absent optional")
	}
}

func TestSliceRoundTrip(t *testing.T) {
	items := []point{{1, 2, "a"}, {3, 4, "b"}, {5, 6, "c"}}
	e := NewEncoder()
	Slice(e, items, func(e *Encoder, p point) { p.MarshalCanonical(e) })

	d := NewDecoder(e.Buf())
	got := DecodeSlice(d, decodePoint)
	if d.Err() != nil {
		t.Fatalf("decode: %v", d.Err())
	}
	if len(got) != len(items) {
		t.Fatalf("expected %d items, got %d", len(items), len(got))
	}
	for i := range items {
		if got[i] != items[i] {
			t.Errorf("item %d mismatch: got %+v, want %+v", i, got[i], items[i])
		}
	}
}

func TestDecoderTruncatedInput(t *testing.T) {
	d := NewDecoder([]byte{1, 2})
	_ = d.U64()
	if d.Err() != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", d.Err())
	}
	// Further reads after an error stay inert rather than panicking.
	_ = d.U32()
	_ = d.Bytes()
	if d.Err() != ErrTruncated {
		t.Fatalf("error should stick, got %v", d.Err())
	}
}

func TestHashIsDeterministicAndContentSensitive(t *testing.T) {
	a := point{x: 1, y: 2, tag: "x"}
	b := point{x: 1, y: 2, tag: "x"}
	c := point{x: 1, y: 2, tag: "y"}

	if Hash(a) != Hash(b) {
		t.Fatal("identical values must hash identically")
	}
	if Hash(a) == Hash(c) {
		t.Fatal("differing values must not collide")
	}
}

func TestWriteTo(t *testing.T) {
	p := point{x: 1, y: 2, tag: "z"}
	var buf bytes.Buffer
	n, err := WriteTo(&buf, p)
	if err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if n != buf.Len() || !bytes.Equal(buf.Bytes(), Encode(p)) {
		t.Fatalf("WriteTo output does not match Encode")
	}
}
