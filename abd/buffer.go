// Package abd implements the scatter/gather buffer abstraction spec.md §1
// names as an out-of-scope collaborator ("the logical-byte-buffer
// abstraction") and §6 specifies the call surface for
// (borrow_buf_copy/return_buf/alloc/free/copy_off/zero_off). The core's
// codec and write/read paths work on plain []byte; within the core, a
// Buffer backs only the burst payload that dedupcore/burst allocates and
// exposes through Bytes.
package abd

// Buffer is an opaque, logically contiguous byte buffer. The zero value is
// not usable; construct one via Pool.Alloc.
type Buffer struct {
	data []byte
	pool *Pool
}

// Size returns the logical size of the buffer.
func (b *Buffer) Size() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// BorrowBufCopy returns a read-only copy of the first size bytes. Pairs
// with ReturnBuf. Named after abd_borrow_buf_copy in spec.md §6.
func (b *Buffer) BorrowBufCopy(size int) []byte {
	out := make([]byte, size)
	copy(out, b.data[:size])
	return out
}

// ReturnBuf is the pair to BorrowBufCopy. The copy-based borrow above makes
// this a no-op in Go (there is no aliasing to undo), but it is kept as an
// explicit call so call sites read the same way the spec's external
// interface does, and so a future zero-copy Buffer implementation has a
// place to release anything it borrowed.
func (b *Buffer) ReturnBuf(buf []byte, size int) {}

// CopyOff copies length bytes from src[srcOff:] into dst[dstOff:],
// analogous to abd_copy_off in spec.md §6.
func CopyOff(dst, src *Buffer, dstOff, srcOff, length int) {
	copy(dst.data[dstOff:dstOff+length], src.data[srcOff:srcOff+length])
}

// ZeroOff zero-fills length bytes of b starting at off, analogous to
// abd_zero_off in spec.md §6.
func ZeroOff(b *Buffer, off, length int) {
	clear(b.data[off : off+length])
}

// Bytes exposes the buffer's backing slice directly. Internal-only escape
// hatch for packages (burst, pipeline) that need to read/write a whole
// buffer at once rather than through CopyOff; not part of the external
// interface the core consumes.
func (b *Buffer) Bytes() []byte { return b.data }

// Free releases b back to the pool it was allocated from, analogous to
// abd_free in spec.md §6.
func (b *Buffer) Free() {
	if b == nil || b.pool == nil {
		return
	}
	b.pool.release(b.data)
	b.data = nil
	b.pool = nil
}
