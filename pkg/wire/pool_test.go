package wire

import "testing"

func TestPoolRentReusesReleasedBuffer(t *testing.T) {
	p := NewPool(16)
	b1 := p.Rent(Reliable)
	b1.WriteByte(0xAA)

	if err := p.Release(b1); err != nil {
		t.Fatal(err)
	}

	b2 := p.Rent(Reliable)
	if b1 != b2 {
		t.Fatal("expected the released buffer to be reused")
	}
	if b2.Length() != 0 {
		t.Fatalf("reused buffer length = %d, want 0 (reset)", b2.Length())
	}
	if got := b2.Bytes(); len(got) != 3 || got[0] != byte(Reliable) {
		t.Fatalf("reused buffer preamble = % X", got)
	}

	gen, rented, err := p.checkedOutGeneration(b2)
	if err != nil {
		t.Fatal(err)
	}
	if !rented || gen == 0 {
		t.Fatalf("rented=%v gen=%d, want rented with bumped generation", rented, gen)
	}
}

func TestPoolDoubleReleaseIsNoop(t *testing.T) {
	p := NewPool(16)
	b := p.Rent(Unreliable)
	if err := p.Release(b); err != nil {
		t.Fatal(err)
	}
	if err := p.Release(b); err != nil {
		t.Fatalf("second release should be a no-op, got error: %v", err)
	}
	// still only one entry in the free list
	b2 := p.Rent(Unreliable)
	if b2 != b {
		t.Fatal("expected the same buffer back")
	}
}

func TestPoolReleaseOfUnknownBufferIsNoop(t *testing.T) {
	p := NewPool(16)
	stray := NewBuffer(4)
	if err := p.Release(stray); err != nil {
		t.Fatalf("release of foreign buffer should be a no-op, got: %v", err)
	}
}

func TestPoolDistinctOptionsDoNotShare(t *testing.T) {
	p := NewPool(16)
	r := p.Rent(Reliable)
	u := p.Rent(Unreliable)
	if r == u {
		t.Fatal("buffers for different send options must not alias")
	}
	p.Release(r)
	p.Release(u)
	if p.Rent(Reliable) != r {
		t.Fatal("expected Reliable rent to come back from the Reliable free-list")
	}
	if p.Rent(Unreliable) != u {
		t.Fatal("expected Unreliable rent to come back from the Unreliable free-list")
	}
}
