// Package wire implements the length-prefixed, nested message framing used
// on the wire: a growable byte buffer with independent reader/writer
// cursors, typed primitive accessors, and start/end/cancel bracketing for
// nested sub-messages.
package wire

import (
	"encoding/binary"
	"errors"
	"math"
)

// SendOption is the one-byte packet type at the start of every datagram.
type SendOption byte

const (
	Unreliable SendOption = 0
	Reliable   SendOption = 1
	Hello      SendOption = 8
	Disconnect SendOption = 9
	Ack        SendOption = 10
	Fragment   SendOption = 11
	Ping       SendOption = 12
)

// IsIDTracked reports whether packets of this send option carry a 2-byte
// big-endian reliable ID immediately after the header byte.
func (o SendOption) IsIDTracked() bool {
	switch o {
	case Reliable, Hello, Ping:
		return true
	default:
		return false
	}
}

var (
	// ErrView is returned when a write or clear is attempted on a buffer
	// that is a read-only view into a parent buffer.
	ErrView = errors.New("wire: buffer is a read-only view")
	// ErrShortBuffer is returned when a read runs past the writer cursor.
	ErrShortBuffer = errors.New("wire: short buffer")
)

// Buffer is a growable byte buffer with independent reader and writer
// cursors and an optional reserved send-option header. Buffers produced by
// ReadMessage are "views": they share the parent's backing array, reject
// writes, and never resize.
type Buffer struct {
	buf    []byte // backing array; buf[:writer] is populated
	writer int
	reader int

	headerSize int
	hasOption  bool
	option     SendOption

	// view-only fields
	isView  bool
	tag     byte
	hasTag  bool

	starts []int // byte offsets of open nested-message length fields
}

// NewBuffer allocates an empty buffer with no reserved header, with room for
// at least capacity bytes before the first grow.
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{buf: make([]byte, capacity)}
}

// NewBufferWithSendOption allocates a buffer and prewrites the send-option
// header: one byte for options that don't carry a reliable ID, or one byte
// plus two reserved (zero) ID bytes for Reliable/Hello/Ping. Length() hides
// this preamble from the caller.
func NewBufferWithSendOption(opt SendOption, capacity int) *Buffer {
	hs := 1
	if opt.IsIDTracked() {
		hs = 3
	}
	if capacity < hs {
		capacity = hs
	}
	b := &Buffer{buf: make([]byte, capacity), hasOption: true, option: opt}
	b.applyPreamble(hs)
	return b
}

func (b *Buffer) applyPreamble(headerSize int) {
	b.headerSize = headerSize
	b.writer = headerSize
	b.reader = headerSize
	if len(b.buf) < headerSize {
		b.buf = make([]byte, headerSize)
	}
	b.buf[0] = byte(b.option)
	for i := 1; i < headerSize; i++ {
		b.buf[i] = 0
	}
}

// NewBufferFromBytes wraps data (not copied) as a fully-written buffer ready
// for reading from offset 0, with no reserved header.
func NewBufferFromBytes(data []byte) *Buffer {
	return &Buffer{buf: data, writer: len(data)}
}

// SendOption returns the buffer's header option and whether one was set.
func (b *Buffer) SendOption() (SendOption, bool) { return b.option, b.hasOption }

// MessageTag returns the tag of a view buffer produced by ReadMessage.
func (b *Buffer) MessageTag() (byte, bool) { return b.tag, b.hasTag }

// IsView reports whether this buffer is a read-only view into a parent.
func (b *Buffer) IsView() bool { return b.isView }

// Length is the writer cursor minus the reserved header size (i.e. the
// number of application bytes written so far, excluding the send-option
// preamble).
func (b *Buffer) Length() int { return b.writer - b.headerSize }

// Remaining is the number of unread bytes ahead of the reader cursor.
func (b *Buffer) Remaining() int { return b.writer - b.reader }

// Bytes returns the full written slice (including any header preamble).
func (b *Buffer) Bytes() []byte { return b.buf[:b.writer] }

// Payload returns the written slice after the header preamble.
func (b *Buffer) Payload() []byte { return b.buf[b.headerSize:b.writer] }

// ReaderOffset returns the current read cursor position (absolute, from the
// start of the backing array).
func (b *Buffer) ReaderOffset() int { return b.reader }

// Reset rewinds both cursors to just past the header and clears the nested
// message stack; it re-applies the header preamble if one was set. It is an
// error on a view buffer.
func (b *Buffer) Reset() error {
	if b.isView {
		return ErrView
	}
	b.starts = b.starts[:0]
	if b.hasOption {
		b.applyPreamble(b.headerSize)
	} else {
		b.writer = 0
		b.reader = 0
	}
	return nil
}

func (b *Buffer) grow(minLen int) {
	size := len(b.buf)
	if size == 0 {
		size = 1
	}
	for size < minLen {
		size = size + size/2 + 1
	}
	nb := make([]byte, size)
	copy(nb, b.buf[:b.writer])
	b.buf = nb
}

func (b *Buffer) ensure(n int) error {
	if b.isView {
		return ErrView
	}
	if b.writer+n > len(b.buf) {
		b.grow(b.writer + n)
	}
	return nil
}

// --- primitive writers ---

func (b *Buffer) WriteByte(v byte) error {
	if err := b.ensure(1); err != nil {
		return err
	}
	b.buf[b.writer] = v
	b.writer++
	return nil
}

func (b *Buffer) WriteBool(v bool) error {
	if v {
		return b.WriteByte(0x01)
	}
	return b.WriteByte(0x00)
}

func (b *Buffer) WriteBytes(p []byte) error {
	if err := b.ensure(len(p)); err != nil {
		return err
	}
	copy(b.buf[b.writer:], p)
	b.writer += len(p)
	return nil
}

func (b *Buffer) WriteUint16(v uint16, bigEndian ...bool) error {
	if err := b.ensure(2); err != nil {
		return err
	}
	if be(bigEndian) {
		binary.BigEndian.PutUint16(b.buf[b.writer:], v)
	} else {
		binary.LittleEndian.PutUint16(b.buf[b.writer:], v)
	}
	b.writer += 2
	return nil
}

func (b *Buffer) WriteInt16(v int16, bigEndian ...bool) error {
	return b.WriteUint16(uint16(v), bigEndian...)
}

func (b *Buffer) WriteUint32(v uint32, bigEndian ...bool) error {
	if err := b.ensure(4); err != nil {
		return err
	}
	if be(bigEndian) {
		binary.BigEndian.PutUint32(b.buf[b.writer:], v)
	} else {
		binary.LittleEndian.PutUint32(b.buf[b.writer:], v)
	}
	b.writer += 4
	return nil
}

func (b *Buffer) WriteInt32(v int32, bigEndian ...bool) error {
	return b.WriteUint32(uint32(v), bigEndian...)
}

func (b *Buffer) WriteUint64(v uint64, bigEndian ...bool) error {
	if err := b.ensure(8); err != nil {
		return err
	}
	if be(bigEndian) {
		binary.BigEndian.PutUint64(b.buf[b.writer:], v)
	} else {
		binary.LittleEndian.PutUint64(b.buf[b.writer:], v)
	}
	b.writer += 8
	return nil
}

func (b *Buffer) WriteInt64(v int64, bigEndian ...bool) error {
	return b.WriteUint64(uint64(v), bigEndian...)
}

func (b *Buffer) WriteFloat32(v float32, bigEndian ...bool) error {
	return b.WriteUint32(math.Float32bits(v), bigEndian...)
}

func (b *Buffer) WriteString(s string) error {
	if err := b.WritePackedInt32(int32(len(s)), false); err != nil {
		return err
	}
	return b.WriteBytes([]byte(s))
}

func be(flags []bool) bool { return len(flags) > 0 && flags[0] }

// --- primitive readers ---

func (b *Buffer) ReadByte() (byte, error) {
	if b.reader+1 > b.writer {
		return 0, ErrShortBuffer
	}
	v := b.buf[b.reader]
	b.reader++
	return v, nil
}

func (b *Buffer) ReadBool() (bool, error) {
	v, err := b.ReadByte()
	return v != 0x00, err
}

func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	if b.reader+n > b.writer {
		return nil, ErrShortBuffer
	}
	v := b.buf[b.reader : b.reader+n]
	b.reader += n
	return v, nil
}

func (b *Buffer) ReadUint16(bigEndian ...bool) (uint16, error) {
	p, err := b.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	if be(bigEndian) {
		return binary.BigEndian.Uint16(p), nil
	}
	return binary.LittleEndian.Uint16(p), nil
}

func (b *Buffer) ReadInt16(bigEndian ...bool) (int16, error) {
	v, err := b.ReadUint16(bigEndian...)
	return int16(v), err
}

func (b *Buffer) ReadUint32(bigEndian ...bool) (uint32, error) {
	p, err := b.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	if be(bigEndian) {
		return binary.BigEndian.Uint32(p), nil
	}
	return binary.LittleEndian.Uint32(p), nil
}

func (b *Buffer) ReadInt32(bigEndian ...bool) (int32, error) {
	v, err := b.ReadUint32(bigEndian...)
	return int32(v), err
}

func (b *Buffer) ReadUint64(bigEndian ...bool) (uint64, error) {
	p, err := b.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	if be(bigEndian) {
		return binary.BigEndian.Uint64(p), nil
	}
	return binary.LittleEndian.Uint64(p), nil
}

func (b *Buffer) ReadInt64(bigEndian ...bool) (int64, error) {
	v, err := b.ReadUint64(bigEndian...)
	return int64(v), err
}

func (b *Buffer) ReadFloat32(bigEndian ...bool) (float32, error) {
	v, err := b.ReadUint32(bigEndian...)
	return math.Float32frombits(v), err
}

func (b *Buffer) ReadString() (string, error) {
	n, err := b.ReadPackedInt32(false)
	if err != nil {
		return "", err
	}
	p, err := b.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// --- nested messages ---

// StartMessage reserves a 2-byte length field, writes the tag byte, and
// pushes the reserved offset for the matching EndMessage/CancelMessage.
func (b *Buffer) StartMessage(tag byte) error {
	if b.isView {
		return ErrView
	}
	offset := b.writer
	if err := b.ensure(3); err != nil {
		return err
	}
	b.writer += 2 // reserved length, backfilled by EndMessage
	if err := b.WriteByte(tag); err != nil {
		return err
	}
	b.starts = append(b.starts, offset)
	return nil
}

// EndMessage backfills the reserved length field for the innermost open
// message with (writer - offset - 3), little-endian.
func (b *Buffer) EndMessage() error {
	if b.isView {
		return ErrView
	}
	if len(b.starts) == 0 {
		return errors.New("wire: end message without matching start")
	}
	offset := b.starts[len(b.starts)-1]
	b.starts = b.starts[:len(b.starts)-1]
	length := uint16(b.writer - offset - 3)
	binary.LittleEndian.PutUint16(b.buf[offset:], length)
	return nil
}

// CancelMessage pops the innermost open message and truncates the writer
// cursor back to its start offset, restoring Length() to its pre-Start
// value.
func (b *Buffer) CancelMessage() error {
	if b.isView {
		return ErrView
	}
	if len(b.starts) == 0 {
		return errors.New("wire: cancel message without matching start")
	}
	offset := b.starts[len(b.starts)-1]
	b.starts = b.starts[:len(b.starts)-1]
	b.writer = offset
	return nil
}

// ReadMessage reads a 2-byte length, a tag byte, and returns a read-only
// view over the following length bytes; the parent's reader cursor advances
// past the payload.
func (b *Buffer) ReadMessage() (*Buffer, error) {
	length, err := b.ReadUint16()
	if err != nil {
		return nil, err
	}
	tag, err := b.ReadByte()
	if err != nil {
		return nil, err
	}
	payload, err := b.ReadBytes(int(length))
	if err != nil {
		return nil, err
	}
	return &Buffer{
		buf:    payload,
		writer: len(payload),
		isView: true,
		tag:    tag,
		hasTag: true,
	}, nil
}
