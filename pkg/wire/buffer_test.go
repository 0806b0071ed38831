package wire

import (
	"bytes"
	"testing"
)

func TestNestedMessageRoundTrip(t *testing.T) {
	b := NewBuffer(16)
	if err := b.StartMessage(1); err != nil {
		t.Fatal(err)
	}
	if err := b.WriteInt32(65534, false); err != nil {
		t.Fatal(err)
	}
	if err := b.EndMessage(); err != nil {
		t.Fatal(err)
	}

	want := []byte{0x04, 0x00, 0x01, 0xFE, 0xFF, 0x00, 0x00}
	if got := b.Bytes(); !bytes.Equal(got, want) {
		t.Fatalf("got % X, want % X", got, want)
	}
	if got := b.Length(); got != 7 {
		t.Fatalf("length = %d, want 7", got)
	}

	rb := NewBufferFromBytes(b.Bytes())
	view, err := rb.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if tag, _ := view.MessageTag(); tag != 1 {
		t.Fatalf("tag = %d, want 1", tag)
	}
	v, err := view.ReadInt32(false)
	if err != nil || v != 65534 {
		t.Fatalf("payload = %d, %v, want 65534, nil", v, err)
	}
}

func TestCancelMessageRestoresLength(t *testing.T) {
	b := NewBuffer(16)
	b.StartMessage(1)
	b.WriteInt32(32, false)
	b.StartMessage(2)
	b.WriteInt32(2, false)
	if err := b.CancelMessage(); err != nil {
		t.Fatal(err)
	}
	if got := b.Length(); got != 7 {
		t.Fatalf("length after first cancel = %d, want 7", got)
	}
	if err := b.CancelMessage(); err != nil {
		t.Fatal(err)
	}
	if got := b.Length(); got != 0 {
		t.Fatalf("length after second cancel = %d, want 0", got)
	}
}

func TestViewRejectsWrites(t *testing.T) {
	b := NewBuffer(16)
	b.StartMessage(5)
	b.WriteByte(0xAB)
	b.EndMessage()

	rb := NewBufferFromBytes(b.Bytes())
	view, err := rb.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if !view.IsView() {
		t.Fatal("expected view")
	}
	if err := view.WriteByte(1); err != ErrView {
		t.Fatalf("WriteByte on view = %v, want ErrView", err)
	}
}

func TestSendOptionPreamble(t *testing.T) {
	b := NewBufferWithSendOption(Reliable, 8)
	if b.Length() != 0 {
		t.Fatalf("fresh reliable buffer length = %d, want 0", b.Length())
	}
	b.WriteByte(0x42)
	if b.Length() != 1 {
		t.Fatalf("length after one byte = %d, want 1", b.Length())
	}
	if got := b.Bytes(); len(got) != 4 || got[0] != byte(Reliable) || got[1] != 0 || got[2] != 0 || got[3] != 0x42 {
		t.Fatalf("unexpected bytes % X", got)
	}

	u := NewBufferWithSendOption(Unreliable, 4)
	if got := u.Bytes(); len(got) != 1 || got[0] != 0x00 {
		t.Fatalf("unreliable preamble = % X", got)
	}
}

func TestResizePolicyGrowsMonotonically(t *testing.T) {
	b := NewBuffer(0)
	for i := 0; i < 1000; i++ {
		if err := b.WriteByte(byte(i)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if b.Length() != 1000 {
		t.Fatalf("length = %d, want 1000", b.Length())
	}
	for i := 0; i < 1000; i++ {
		if b.buf[i] != byte(i) {
			t.Fatalf("byte %d corrupted after grow", i)
		}
	}
}
