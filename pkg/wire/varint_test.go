package wire

import "testing"

func leConcat(p []byte) uint64 {
	var v uint64
	for i, c := range p {
		v |= uint64(c) << uint(8*i)
	}
	return v
}

func TestPackedIntEncoding(t *testing.T) {
	b := NewBuffer(16)
	if err := b.WritePackedInt32(68000, false); err != nil {
		t.Fatal(err)
	}
	if got := leConcat(b.Bytes()); len(b.Bytes()) != 3 || got != 299936 {
		t.Fatalf("68000 -> % X (%d bytes, le=%d), want 3 bytes le=299936", b.Bytes(), len(b.Bytes()), got)
	}

	b2 := NewBuffer(16)
	if err := b2.WritePackedInt32(-68000, true); err != nil {
		t.Fatal(err)
	}
	if got := leConcat(b2.Bytes()); len(b2.Bytes()) != 5 || got != 68719209696 {
		t.Fatalf("-68000 -> % X (%d bytes, le=%d), want 5 bytes le=68719209696", b2.Bytes(), len(b2.Bytes()), got)
	}
}

func TestPackedIntRoundTripSigned(t *testing.T) {
	vals := []int32{0, 1, -1, 127, 128, -128, 68000, -68000, 1<<31 - 1, -(1 << 31)}
	for _, v := range vals {
		b := NewBuffer(16)
		if err := b.WritePackedInt32(v, true); err != nil {
			t.Fatalf("write %d: %v", v, err)
		}
		if l := len(b.Bytes()); l > 5 {
			t.Fatalf("encoded %d in %d bytes, want <=5", v, l)
		}
		rb := NewBufferFromBytes(b.Bytes())
		got, err := rb.ReadPackedInt32(true)
		if err != nil {
			t.Fatalf("read %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip %d -> %d", v, got)
		}
	}
}

func TestPackedIntRoundTripUnsigned(t *testing.T) {
	vals := []uint32{0, 1, 127, 128, 68000, 1 << 31, ^uint32(0)}
	for _, v := range vals {
		b := NewBuffer(16)
		if err := b.WritePackedUint32(v); err != nil {
			t.Fatalf("write %d: %v", v, err)
		}
		rb := NewBufferFromBytes(b.Bytes())
		got, err := rb.ReadPackedUint32()
		if err != nil {
			t.Fatalf("read %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip %d -> %d", v, got)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	b := NewBuffer(16)
	if err := b.WriteString("hello, world"); err != nil {
		t.Fatal(err)
	}
	if got := b.Length(); got != 1+len("hello, world") {
		t.Fatalf("length = %d", got)
	}
	rb := NewBufferFromBytes(b.Bytes())
	s, err := rb.ReadString()
	if err != nil || s != "hello, world" {
		t.Fatalf("got %q, %v", s, err)
	}
}
