package discovery

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	data := Encode("my-lan-server")
	if data[0] != 0x04 || data[1] != 0x02 {
		t.Fatalf("prefix = % X, want 04 02", data[:2])
	}
	name, ok := Decode(data)
	if !ok || name != "my-lan-server" {
		t.Fatalf("Decode = %q, %v", name, ok)
	}
}

func TestDecodeRejectsWrongPrefix(t *testing.T) {
	if _, ok := Decode([]byte{0x01, 0x02, 'x'}); ok {
		t.Fatal("expected mismatched prefix to be rejected")
	}
	if _, ok := Decode([]byte{0x04}); ok {
		t.Fatal("expected short packet to be rejected")
	}
}
