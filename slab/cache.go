// Package slab implements the named, size-classed allocator spec.md §6
// calls the "Slab allocator" ("create/destroy named caches, alloc(cache,
// flag) / free(cache, ptr) with SLEEP"). A real kernel slab allocator hands
// back fixed-size objects from a pre-carved arena; this package's practical
// Go analogue is a bounded, named pool of reusable byte slices per size
// class, backed by an LRU free-list so a cache that outgrows its bound
// sheds its coldest idle buffers instead of growing without limit.
package slab

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Flag mirrors the allocator flags spec.md §6 names. SLEEP is the only one
// the core ever uses (it "may block on memory pressure" per spec.md §5's
// suspension points); NOSLEEP is provided for completeness and simply
// never blocks or waits.
type Flag uint8

const (
	// Sleep is accepted for interface symmetry with spec.md §6; Go's
	// allocator never blocks the way KM_SLEEP can (see spec.md §7,
	// OutOfMemory), so it behaves identically to NoSleep here.
	Sleep Flag = iota
	NoSleep
)

// Cache is a named, size-classed pool of reusable []byte objects. The zero
// value is not usable; construct one via NewCache.
type Cache struct {
	name     string
	objSize  int
	free     *lru.Cache[uint64, []byte]
	nextFree uint64
}

// NewCache creates a named cache of objects of exactly objSize bytes, able
// to hold up to capacity idle objects before the LRU policy starts
// evicting (letting the GC reclaim) the coldest ones. This is the Go
// analogue of kmem_cache_create(name, size, ...) from spec.md §6.
func NewCache(name string, objSize, capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	free, err := lru.New[uint64, []byte](capacity)
	if err != nil {
		// Only possible if capacity < 1, already guarded above.
		panic(err)
	}
	return &Cache{name: name, objSize: objSize, free: free}
}

// Name returns the cache's name, as given to kmem_cache_create in the C
// original (htddt_cache, htddt_entry_cache, bstt_cache, bstt_entry_cache).
func (c *Cache) Name() string { return c.name }

// ObjSize returns the fixed object size this cache hands out.
func (c *Cache) ObjSize() int { return c.objSize }

// Alloc returns an object of exactly ObjSize() bytes, reused from the pool
// when one is idle, freshly allocated and zeroed otherwise. flag is
// accepted for interface symmetry with spec.md §6 but does not change
// behavior.
func (c *Cache) Alloc(flag Flag) []byte {
	if _, buf, ok := c.free.RemoveOldest(); ok {
		clear(buf)
		return buf
	}
	return make([]byte, c.objSize)
}

// Free returns obj to the cache for reuse, analogous to
// kmem_cache_free(cache, ptr) in spec.md §6. An object of the wrong size is
// dropped rather than pooled.
func (c *Cache) Free(obj []byte) {
	if len(obj) != c.objSize {
		return
	}
	c.nextFree++
	c.free.Add(c.nextFree, obj)
}

// Destroy drops every idle object, analogous to kmem_cache_destroy.
func (c *Cache) Destroy() {
	c.free.Purge()
}
