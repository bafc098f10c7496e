package slab

import "sync"

// Registry holds the process-wide named caches spec.md §9 calls out as
// "true process-wide state": htddt_cache, htddt_entry_cache, bstt_cache,
// bstt_entry_cache, each with an init/fini lifecycle that must run exactly
// once per process. A package-level Registry (see Default) plays that role
// here; tests construct their own Registry so cache state never leaks
// across table tests.
type Registry struct {
	mu     sync.Mutex
	caches map[string]*Cache
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{caches: make(map[string]*Cache)}
}

// Create registers a new named cache, analogous to the *_init functions in
// spec.md §9 calling kmem_cache_create. Calling Create twice with the same
// name replaces the previous cache (its idle objects are dropped).
func (r *Registry) Create(name string, objSize, capacity int) *Cache {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := NewCache(name, objSize, capacity)
	r.caches[name] = c
	return c
}

// Get returns the named cache, or nil if it was never created.
func (r *Registry) Get(name string) *Cache {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.caches[name]
}

// Destroy tears down every registered cache, analogous to the *_fini
// functions in spec.md §9.
func (r *Registry) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, c := range r.caches {
		c.Destroy()
		delete(r.caches, name)
	}
}

var defaultOnce sync.Once
var defaultRegistry *Registry

// Default returns the process-wide Registry, created exactly once, mirroring
// htddt_init/bstt_init being called once per process in the C original.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}
