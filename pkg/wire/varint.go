package wire

// WritePackedInt32 writes v as a sequence of little-endian 7-bit groups
// (high bit set when another byte follows), at most 5 bytes. Negative
// values are cast to their unsigned 32-bit two's complement form first, so
// -68000 and its unsigned counterpart share the same encoder; the matching
// reader is told whether to reinterpret the result as signed.
func (b *Buffer) WritePackedInt32(v int32, signed bool) error {
	u := uint32(v)
	for i := 0; i < 5; i++ {
		c := byte(u & 0x7F)
		u >>= 7
		if u != 0 && i < 4 {
			if err := b.WriteByte(c | 0x80); err != nil {
				return err
			}
		} else {
			return b.WriteByte(c)
		}
	}
	return nil
}

// ReadPackedInt32 reads at most 5 packed 7-bit groups into a 32-bit result.
// When signed is true, the accumulated bit pattern is reinterpreted as a
// two's complement int32, which is exact because WritePackedInt32 always
// emits every nonzero group of the 32-bit pattern (including sign-extension
// groups for negative inputs), so the decoder never needs to invent bits
// beyond what it read.
func (b *Buffer) ReadPackedInt32(signed bool) (int32, error) {
	var result uint32
	for i := 0; i < 5; i++ {
		c, err := b.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(c&0x7F) << uint(7*i)
		if c&0x80 == 0 {
			break
		}
	}
	if signed {
		return int32(result), nil
	}
	return int32(uint32(result)), nil
}

// WritePackedUint32 is WritePackedInt32 with signed=false semantics made
// explicit for callers that only ever deal in unsigned quantities.
func (b *Buffer) WritePackedUint32(v uint32) error {
	return b.WritePackedInt32(int32(v), false)
}

// ReadPackedUint32 reads an unsigned packed integer.
func (b *Buffer) ReadPackedUint32() (uint32, error) {
	v, err := b.ReadPackedInt32(false)
	return uint32(v), err
}
