// Package htddt implements the head/tail dedup table from spec.md §4.2: a
// per-(checksum algorithm, side) index mapping a partial checksum to a
// similarity anchor — a non-owning reference to a base dedup entry plus the
// bookkeeping Value.FillBSTP copies out to materialise a burst-table value
// from a hit.
//
// Grounded on ddt.Table (rubin.dev/dedup/ddt): the same "one ordered
// container per checksum algorithm, guarded by the owning mutex" shape,
// generalized here to also key by htddt_type (head vs. tail) and backed by
// ordmap.Tree instead of bbolt, since spec.md §6's persistence note says
// only the DDT carries durable state.
package htddt

import (
	"encoding/binary"
	"errors"
	"fmt"

	"rubin.dev/dedup/checksum"
	"rubin.dev/dedup/ddt"
	"rubin.dev/dedup/dedupcore"
	"rubin.dev/dedup/dedupcore/internal/assert"
	"rubin.dev/dedup/ordmap"
	"rubin.dev/dedup/slab"
)

// entryCacheCapacity bounds how many idle HTDDT entries each (algorithm,
// side) table's entry cache keeps around for reuse before the LRU policy
// starts shedding them, per htddt_entry_cache's bounded-pool shape
// (spec.md §9).
const entryCacheCapacity = 256

// ErrAnchorExhausted is returned by AddRef once an HTDDP has already been
// claimed dedupcore.MaxHTDDPRefcnt times. spec.md §9 notes MAX_HTDDP_REFCNT
// is "declared but never enforced" in the C original; this module takes the
// other sanctioned choice and enforces it, so callers on the write path
// must treat this as "mint a new base instead of reusing this anchor."
var ErrAnchorExhausted = errors.New("htddt: anchor refcount exhausted")

// Key is the HTDDT key from spec.md §3: a partial checksum plus which end
// of the block it was computed from.
type Key struct {
	Partial checksum.Value
	Side    dedupcore.Side
}

// Less implements the lexicographic 16-bit-lane compare spec.md §3/§4.2
// specifies for HTDDT keys, so ordmap.Tree iterates in the same order the
// C original's AVL tree would.
func Less(a, b Key) bool {
	if c := compareLanes(a.Partial, b.Partial); c != 0 {
		return c < 0
	}
	return a.Side < b.Side
}

func compareLanes(a, b checksum.Value) int {
	for i := 0; i+1 < len(a); i += 2 {
		la := binary.BigEndian.Uint16(a[i : i+2])
		lb := binary.BigEndian.Uint16(b[i : i+2])
		if la != lb {
			if la < lb {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Value is the HTDDP from spec.md §3: a non-owning reference to the base
// dedup entry, which phys copy it names, a live-writer refcount, the
// payload size the anchor was computed over, and a validity flag.
type Value struct {
	BaseDDE     ddt.Ref
	PhysIndex   int
	Refcnt      uint64
	PayloadSize uint64
	Valid       bool
}

// Table is one HTDDT: a single (algorithm, side) ordered map, guarded by
// the owning ddt.Table's per-DDT mutex (spec.md §5 — HTDDT is one of the
// four tables that mutex guards, alongside DDT and BSTT).
type Table struct {
	algo    checksum.Algorithm
	side    dedupcore.Side
	tree    *ordmap.Tree[Key, *Value]
	entries *slab.EntryCache[Value]
}

// New creates an empty HTDDT for the given algorithm and side, backed by
// its own htddt_entry_cache-equivalent (spec.md §9) so anchors freed by the
// sync coordinator are recycled instead of left for the GC.
func New(algo checksum.Algorithm, side dedupcore.Side) *Table {
	return &Table{
		algo:    algo,
		side:    side,
		tree:    ordmap.New[Key, *Value](Less),
		entries: slab.NewEntryCache[Value](fmt.Sprintf("htddt_entry_cache/%s/%s", algo, side), entryCacheCapacity),
	}
}

// Algorithm reports the checksum algorithm this table indexes.
func (t *Table) Algorithm() checksum.Algorithm { return t.algo }

// Side reports whether this is the HEAD or TAIL table.
func (t *Table) Side() dedupcore.Side { return t.side }

// Select picks the table for algo and side from a per-algorithm table set,
// per spec.md §4.2's select(pool, BP, side).
func Select(tables map[checksum.Algorithm][2]*Table, algo checksum.Algorithm, side dedupcore.Side) *Table {
	pair, ok := tables[algo]
	if !ok {
		return nil
	}
	return pair[side]
}

// Lookup is the ordered-map find from spec.md §4.2: if key is absent and
// add is true, a zero-initialised entry is inserted. found reports whether
// the key was already present before this call.
func (t *Table) Lookup(key Key, add bool) (value *Value, found bool) {
	assert.That(key.Side == t.side, "htddt: key side %s does not match table side %s", key.Side, t.side)
	if v, ok := t.tree.Find(key); ok {
		return v, true
	}
	if !add {
		return nil, false
	}
	v := t.entries.Alloc()
	t.tree.Insert(key, v)
	return v, false
}

// Remove unlinks the entry at key and returns it to the entry cache, per
// spec.md §4.2's remove(table, entry).
func (t *Table) Remove(key Key) {
	if v, ok := t.tree.Remove(key); ok {
		t.entries.Free(v)
	}
}

// Exists reports whether key is present, without inserting.
func (t *Table) Exists(key Key) bool {
	_, ok := t.tree.Find(key)
	return ok
}

// Len reports the number of live anchors.
func (t *Table) Len() int { return t.tree.Len() }

// FillBSTP materialises the immutable portion of a BSTT value from an
// HTDDT hit, per spec.md §4.2's fill_bstp: base_dde, phys_index and
// payload_size are copied; refcnt is left to the caller (BSTT addref sets
// its own), and valid starts false (the caller has not yet attached burst
// data).
func (v *Value) FillBSTP(baseDDE *ddt.Ref, physIndex *int, payloadSize *uint64) {
	*baseDDE = v.BaseDDE
	*physIndex = v.PhysIndex
	*payloadSize = v.PayloadSize
}

// AddRef increments the anchor's live-writer refcount, enforcing
// dedupcore.MaxHTDDPRefcnt (spec.md §9's resolved open question). Callers
// serialise externally under the owning ddt.Table's Enter/Exit, matching
// spec.md §4.2's "no locking; callers serialise."
func (v *Value) AddRef() error {
	if v.Refcnt >= dedupcore.MaxHTDDPRefcnt {
		return ErrAnchorExhausted
	}
	v.Refcnt++
	return nil
}

// HTSize returns the canonical head/tail prefix length for a block of the
// given size (spec.md §4.2's htsize). Identical to dedupcore.HTSize;
// re-exported here so callers working only with this package do not need
// to import dedupcore just for the one helper.
func HTSize(blockSize uint64) uint64 { return dedupcore.HTSize(blockSize) }

// Each visits every entry in ascending key order, for use by the sync
// coordinator (spec.md §4.4's HTDDT sync pass). fn must not mutate the
// table; callers collect keys to remove and call Remove after the walk,
// per ordmap.Tree.Each's documented discipline.
func (t *Table) Each(fn func(key Key, value *Value) bool) {
	t.tree.Each(fn)
}

// Destroy drains every remaining anchor at pool unload, mirroring
// htddt_fini's teardown of the per-algorithm tree. Asserts the tree is
// empty afterward — DestroyWithCookie always leaves it so, but the check
// documents the "empty table at unload" invariant spec.md §7 calls for.
func (t *Table) Destroy() {
	t.tree.DestroyWithCookie(func(_ Key, v *Value) { t.entries.Free(v) })
	assert.That(t.tree.Len() == 0, "htddt: table not empty after destroy")
	t.entries.Destroy()
}
