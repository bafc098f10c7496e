package dedupcore

import (
	"rubin.dev/dedup/abd"
	"rubin.dev/dedup/checksum"
	"rubin.dev/dedup/ddt"
	"rubin.dev/dedup/ordmap"
	"rubin.dev/dedup/slab"
)

// ChecksumAlgorithm is spec.md §6's zio_checksum_t entry: a pluggable
// checksum function. checksum.Function already has this exact method set,
// so every checksum.Function (checksum.Lookup's return value) is one of
// these with no adapter needed.
type ChecksumAlgorithm interface {
	Algorithm() checksum.Algorithm
	Sum(data []byte) checksum.Value
}

var _ ChecksumAlgorithm = checksum.Function(nil)

// Buffer is spec.md §6's abd_t external interface (borrow_buf_copy/
// return_buf/copy_off/zero_off/free). *abd.Buffer's method set matches this
// exactly, so it satisfies Buffer with no adapter.
type Buffer interface {
	Size() int
	BorrowBufCopy(size int) []byte
	ReturnBuf(buf []byte, size int)
	Bytes() []byte
	Free()
}

var _ Buffer = (*abd.Buffer)(nil)

// BufferPool is spec.md §6's abd_alloc/abd_free external interface. Go has
// no covariant return types, so *abd.Pool (whose Alloc returns *abd.Buffer,
// a concrete type) cannot satisfy this interface directly; abdBufferPool
// below is the thin adapter that makes the "implements" claim concrete
// rather than aspirational.
type BufferPool interface {
	Alloc(size int, metadata bool) Buffer
}

type abdBufferPool struct{ *abd.Pool }

func (p abdBufferPool) Alloc(size int, metadata bool) Buffer {
	return p.Pool.Alloc(size, metadata)
}

// NewBufferPool adapts pool to BufferPool.
func NewBufferPool(pool *abd.Pool) BufferPool { return abdBufferPool{pool} }

var _ BufferPool = NewBufferPool(nil)

// OrderedMap is spec.md §6's external ordered-map container (create/find/
// insert/remove/first/next/destroy-with-cookie). ordmap.Tree[K, V] already
// has this exact method set.
type OrderedMap[K, V any] interface {
	Find(key K) (V, bool)
	Insert(key K, value V) (replaced bool)
	Remove(key K) (V, bool)
	Len() int
	First() (K, V, bool)
	Each(fn func(key K, value V) bool)
	DestroyWithCookie(fn func(key K, value V))
}

var _ OrderedMap[checksum.Value, int] = (*ordmap.Tree[checksum.Value, int])(nil)

// SlabCache is spec.md §6's slab allocator external interface
// (alloc(cache, flag)/free(cache, ptr)). *slab.Cache already has this exact
// method set.
type SlabCache interface {
	Name() string
	ObjSize() int
	Alloc(flag slab.Flag) []byte
	Free(obj []byte)
	Destroy()
}

var _ SlabCache = (*slab.Cache)(nil)

// DDT is spec.md §6's base dedup table external interface. *ddt.Table
// already has this exact method set.
type DDT interface {
	Enter()
	Exit()
	Lookup(key checksum.Value, add bool) (*ddt.Entry, bool, error)
	Put(entry *ddt.Entry) error
	PhysAddRef(entry *ddt.Entry, p int) error
	PhysFree(key checksum.Value, p int) error
	Remove(key checksum.Value) error
	Each(fn func(*ddt.Entry) error) error
	ComputeHistogram() (ddt.Histogram, error)
}

var _ DDT = (*ddt.Table)(nil)
