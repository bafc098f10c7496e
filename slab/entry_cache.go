package slab

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// EntryCache is the generic counterpart to Cache for table entries that are
// parsed Go structs rather than wire bytes: spec.md §9 names htddt_entry_cache
// and bstt_entry_cache as caches distinct from htddt_cache/bstt_cache (the
// table-object caches). HTDDT and BSTT values are *Value structs with
// embedded slices (bstt.Value.Burst.Data), so they pool *T pointers directly
// through the same bounded-LRU-free-list shape Cache uses for []byte,
// instead of round-tripping through a byte-slice cache.
type EntryCache[T any] struct {
	name     string
	free     *lru.Cache[uint64, *T]
	nextFree uint64
}

// NewEntryCache creates a named cache of *T entries, able to hold up to
// capacity idle entries before the LRU policy evicts the coldest ones.
func NewEntryCache[T any](name string, capacity int) *EntryCache[T] {
	if capacity < 1 {
		capacity = 1
	}
	free, err := lru.New[uint64, *T](capacity)
	if err != nil {
		// Only possible if capacity < 1, already guarded above.
		panic(err)
	}
	return &EntryCache[T]{name: name, free: free}
}

// Name returns the cache's name.
func (c *EntryCache[T]) Name() string { return c.name }

// Alloc returns a zero-valued *T, reused from the idle pool when one is
// available.
func (c *EntryCache[T]) Alloc() *T {
	if _, v, ok := c.free.RemoveOldest(); ok {
		*v = *new(T)
		return v
	}
	return new(T)
}

// Free returns v to the cache for reuse.
func (c *EntryCache[T]) Free(v *T) {
	if v == nil {
		return
	}
	c.nextFree++
	c.free.Add(c.nextFree, v)
}

// Destroy drops every idle entry.
func (c *EntryCache[T]) Destroy() {
	c.free.Purge()
}
