package wire

import "fmt"

// slot is one pool-managed buffer plus its checkout state. rented is what
// makes a second Release a no-op; generation is bumped each time a released
// buffer is rented out again and is not consulted by Release.
type slot struct {
	buf        *Buffer
	generation uint64
	rented     bool
}

// Pool is a free-list of Buffers grouped by send option, as described in
// spec.md's pooling design note: rented buffers are reused rather than
// reallocated, and released buffers have their cursors reset and preamble
// re-applied before being handed out again.
//
// A Pool is not safe for concurrent use; like the reliability and
// keep-alive engines, it is owned by a single connection's reactor.
type Pool struct {
	capacity int
	free     map[SendOption][]*slot
	all      map[*Buffer]*slot
	nextGen  uint64
}

// NewPool creates an empty pool whose buffers are allocated with the given
// initial capacity.
func NewPool(capacity int) *Pool {
	return &Pool{
		capacity: capacity,
		free:     make(map[SendOption][]*slot),
		all:      make(map[*Buffer]*slot),
	}
}

// Rent returns a buffer with opt's send-option preamble applied, reusing a
// previously-released buffer of the same option if one is available.
func (p *Pool) Rent(opt SendOption) *Buffer {
	if stack := p.free[opt]; len(stack) > 0 {
		s := stack[len(stack)-1]
		p.free[opt] = stack[:len(stack)-1]
		s.rented = true
		s.generation++
		s.buf.Reset()
		return s.buf
	}
	b := NewBufferWithSendOption(opt, p.capacity)
	s := &slot{buf: b, rented: true, generation: p.nextGen}
	p.nextGen++
	p.all[b] = s
	return b
}

// Release returns buf to its option's free-list. Releasing a buffer that is
// not currently checked out (including one not obtained from this pool) is
// a no-op, matching the "release is a no-op if the buffer is not checked
// out" rule. Release always returns nil.
func (p *Pool) Release(buf *Buffer) error {
	s, ok := p.all[buf]
	if !ok {
		return nil
	}
	if !s.rented {
		return nil
	}
	s.rented = false
	opt, _ := buf.SendOption()
	p.free[opt] = append(p.free[opt], s)
	return nil
}

// checkedOutGeneration exists purely for tests to assert that renting after
// a release reuses the same underlying Buffer under a bumped generation,
// rather than allocating a new one.
func (p *Pool) checkedOutGeneration(buf *Buffer) (uint64, bool, error) {
	s, ok := p.all[buf]
	if !ok {
		return 0, false, fmt.Errorf("wire: buffer not owned by this pool")
	}
	return s.generation, s.rented, nil
}
