// Package ordmap implements the generic ordered-map container spec.md §6
// calls out as an external collaborator ("Ordered map: create/find/insert/
// remove/first/next/destroy-with-cookie, node embedded by offset"). It
// backs both the head/tail dedup table and the burst dedup table,
// replacing the C original's embedded-AVL-node trees with a
// github.com/google/btree-backed generic tree — the ordered-map dependency
// the rest of the retrieval pack (erigon's go.mod) already carries.
package ordmap

import "github.com/google/btree"

const defaultDegree = 32

// Less reports whether a sorts strictly before b. HTDDT and BSTT key types
// implement this with the lexicographic 16-bit-lane compare spec.md §3/§4.2
// specifies, so iteration order here matches the C original's AVL order.
type Less[K any] func(a, b K) bool

// Tree is an ordered map from K to V, equivalent to one htddt_t/bstt_t AVL
// tree in the C original. The zero value is not usable; construct one with
// New.
type Tree[K any, V any] struct {
	less Less[K]
	bt   *btree.BTreeG[entry[K, V]]
}

type entry[K any, V any] struct {
	key   K
	value V
}

// New creates an empty Tree ordered by less.
func New[K any, V any](less Less[K]) *Tree[K, V] {
	t := &Tree[K, V]{less: less}
	t.bt = btree.NewG(defaultDegree, func(a, b entry[K, V]) bool {
		return less(a.key, b.key)
	})
	return t
}

// Find returns the value stored at key, analogous to avl_find.
func (t *Tree[K, V]) Find(key K) (V, bool) {
	e, ok := t.bt.Get(entry[K, V]{key: key})
	return e.value, ok
}

// Insert stores value at key, overwriting any previous value, and reports
// whether key was already present. Analogous to avl_insert following an
// avl_find miss.
func (t *Tree[K, V]) Insert(key K, value V) (replaced bool) {
	_, replaced = t.bt.ReplaceOrInsert(entry[K, V]{key: key, value: value})
	return replaced
}

// Remove deletes key, analogous to avl_remove.
func (t *Tree[K, V]) Remove(key K) (V, bool) {
	e, ok := t.bt.Delete(entry[K, V]{key: key})
	return e.value, ok
}

// Len returns the number of entries.
func (t *Tree[K, V]) Len() int { return t.bt.Len() }

// First returns the lowest-ordered entry, analogous to avl_first.
func (t *Tree[K, V]) First() (K, V, bool) {
	e, ok := t.bt.Min()
	return e.key, e.value, ok
}

// Each calls fn for every entry in ascending key order. This plays the role
// of avl_first/avl_walk in the sync passes (spec.md §4.4), which must visit
// every HTDDT/BSTT entry once. fn may be called with the tree temporarily
// unlocked by the caller's discipline (spec.md §5: callers serialize, the
// tree itself does not lock); fn must not mutate t from within the
// callback, mirroring AVL_NEXT's "do not mutate mid-walk" discipline —
// callers collect removals and apply them via Remove after the walk
// completes (see dedupcore/syncer).
func (t *Tree[K, V]) Each(fn func(key K, value V) bool) {
	t.bt.Ascend(func(e entry[K, V]) bool {
		return fn(e.key, e.value)
	})
}

// DestroyWithCookie drains every entry, calling fn once per entry, and
// leaves the tree empty. Analogous to avl_destroy_nodes's cookie-based
// iterate-and-free idiom used by htddt_remove_all/bstt_remove_all.
func (t *Tree[K, V]) DestroyWithCookie(fn func(key K, value V)) {
	for {
		e, ok := t.bt.Min()
		if !ok {
			return
		}
		t.bt.Delete(e)
		fn(e.key, e.value)
	}
}
