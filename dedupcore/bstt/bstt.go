// Package bstt implements the burst dedup table from spec.md §4.3: a
// per-checksum-algorithm index mapping the full checksum of a derivative
// block to its base reference, stored burst, block metadata, and refcount.
//
// Grounded the same way htddt is: shaped like ddt.Table's per-algorithm
// ordered container and Enter/Exit discipline, backed by ordmap.Tree
// rather than bbolt since spec.md §6 says only the DDT persists.
package bstt

import (
	"fmt"

	"rubin.dev/dedup/checksum"
	"rubin.dev/dedup/ddt"
	"rubin.dev/dedup/dedupcore"
	"rubin.dev/dedup/dedupcore/burst"
	"rubin.dev/dedup/dedupcore/htddt"
	"rubin.dev/dedup/dedupcore/internal/assert"
	"rubin.dev/dedup/ordmap"
	"rubin.dev/dedup/pipeline"
	"rubin.dev/dedup/slab"
)

// entryCacheCapacity bounds how many idle BSTT entries each table's entry
// cache keeps around for reuse, the bstt_entry_cache analogue (spec.md §9).
const entryCacheCapacity = 256

// State is the BSTT entry lifecycle from spec.md §4.3: EMPTY (pre-
// insertion) -> PENDING (inserted, refcnt>=1, burst being computed) ->
// LIVE (refcnt>=1, burst present) -> DEAD (refcnt=0, base DDE missing) ->
// freed by sync.
type State uint8

const (
	StateEmpty State = iota
	StatePending
	StateLive
	StateDead
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "EMPTY"
	case StatePending:
		return "PENDING"
	case StateLive:
		return "LIVE"
	case StateDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// allowed holds the legal (from, to) transitions spec.md §4.3 names. A
// LIVE entry never returns to PENDING, and DEAD has no outgoing
// transition: an entry is not reused once it is dead.
var allowed = map[[2]State]bool{
	{StateEmpty, StatePending}: true,
	{StatePending, StateLive}:  true,
	{StatePending, StateDead}:  true,
	{StateLive, StateDead}:     true,
}

// transition moves the entry to next, panicking (an invariant violation
// per spec.md §7: "Implementations must assert in debug and document
// release behaviour") if the move is not in the allowed set. The panic is
// unconditional rather than gated by the dedupcore_noassert build tag
// because it guards a state machine, not a hot-path precondition; a
// production build that wants it stripped can still do so by never
// calling transition directly and instead trusting the table's own
// sequencing.
func (v *Value) transition(next State) {
	if !allowed[[2]State{v.State, next}] {
		panic(fmt.Sprintf("bstt: illegal state transition %s -> %s", v.State, next))
	}
	v.State = next
}

// Key is the BSTT key from spec.md §3: the full checksum of the
// derivative block.
type Key = checksum.Value

// lessKey implements the same lexicographic 16-bit-lane compare as
// htddt.Less, over the full checksum rather than a partial one.
func lessKey(a, b Key) bool {
	return htddt.Less(htddt.Key{Partial: a}, htddt.Key{Partial: b})
}

// Bit ranges of bstp.prop (spec.md §6), ported from BF64_GET_SB/
// BF64_SET_SB in original_source/include/sys/burst_dedup.h.
const (
	propLSizeShift    = 0
	propLSizeBits     = 16
	propPSizeShift    = 16
	propPSizeBits     = 16
	propCompressShift = 32
	propCompressBits  = 7
	propCryptShift    = 39
)

func bitsMask(bits uint) uint64 { return (uint64(1) << bits) - 1 }

func getSB(prop uint64, shift, bits uint) uint64 {
	return (prop >> shift) & bitsMask(bits)
}

func setSB(prop uint64, shift, bits uint, value uint64) uint64 {
	mask := bitsMask(bits) << shift
	return (prop &^ mask) | ((value & bitsMask(bits)) << shift)
}

// Value is the BSTP from spec.md §3.
type Value struct {
	BaseDDE     ddt.Ref
	PhysIndex   int
	Refcnt      uint64
	PayloadSize uint64
	Burst       burst.Burst
	BurstDVAs   [ddt.NDVA]ddt.DVA
	PhysBirth   uint64
	Prop        uint64
	Valid       bool
	State       State
}

// LSize returns the derivative's logical size, decoded from Prop bits 0-15
// (stored as value-1, per spec.md §6).
func (v *Value) LSize() uint64 { return getSB(v.Prop, propLSizeShift, propLSizeBits) + 1 }

// PSize returns the derivative's physical size, decoded from Prop bits
// 16-31 (stored as value-1).
func (v *Value) PSize() uint64 { return getSB(v.Prop, propPSizeShift, propPSizeBits) + 1 }

// Compress returns the compression algorithm code from Prop bits 32-38.
func (v *Value) Compress() pipeline.CompressionCode {
	return pipeline.CompressionCode(getSB(v.Prop, propCompressShift, propCompressBits))
}

// Encrypted reports the encryption flag from Prop bit 39.
func (v *Value) Encrypted() bool { return getSB(v.Prop, propCryptShift, 1) != 0 }

// SetProp packs lsize, psize, compress and crypt into Prop, per spec.md
// §6's bit layout table.
func (v *Value) SetProp(lsize, psize uint64, compress pipeline.CompressionCode, crypt bool) {
	prop := uint64(0)
	prop = setSB(prop, propLSizeShift, propLSizeBits, lsize-1)
	prop = setSB(prop, propPSizeShift, propPSizeBits, psize-1)
	prop = setSB(prop, propCompressShift, propCompressBits, uint64(compress))
	cryptBit := uint64(0)
	if crypt {
		cryptBit = 1
	}
	prop = setSB(prop, propCryptShift, 1, cryptBit)
	v.Prop = prop
}

// Table is one per-algorithm BSTT.
type Table struct {
	algo    checksum.Algorithm
	tree    *ordmap.Tree[Key, *Value]
	entries *slab.EntryCache[Value]
}

// New creates an empty BSTT for algo, backed by its own bstt_entry_cache
// analogue (spec.md §9) so entries the sync coordinator reaps are recycled.
func New(algo checksum.Algorithm) *Table {
	return &Table{
		algo:    algo,
		tree:    ordmap.New[Key, *Value](lessKey),
		entries: slab.NewEntryCache[Value](fmt.Sprintf("bstt_entry_cache/%s", algo), entryCacheCapacity),
	}
}

// Algorithm reports the checksum algorithm this table indexes.
func (t *Table) Algorithm() checksum.Algorithm { return t.algo }

// Select picks the table for algo from a per-algorithm table set, per
// spec.md §4.3's select (same contract as htddt.Select).
func Select(tables map[checksum.Algorithm]*Table, algo checksum.Algorithm) *Table {
	return tables[algo]
}

// Lookup is the ordered-map find from spec.md §4.3: if key is absent and
// add is true, a zero-initialised (EMPTY-state) entry is inserted.
func (t *Table) Lookup(key Key, add bool) (value *Value, found bool) {
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

// Remove unlinks the entry at key and returns it to the entry cache.
func (t *Table) Remove(key Key) {
	if v, ok := t.tree.Remove(key); ok {
		t.entries.Free(v)
	}
}

// Len reports the number of live entries.
func (t *Table) Len() int { return t.tree.Len() }

// Each visits every entry in ascending key order, for the sync
// coordinator's BSTT sync pass (spec.md §4.4).
func (t *Table) Each(fn func(key Key, value *Value) bool) {
	t.tree.Each(fn)
}

// Destroy drains every remaining entry at pool unload, mirroring
// bstt_fini's teardown. Asserts the tree is empty afterward, the "empty
// table at unload" invariant spec.md §7 calls for.
func (t *Table) Destroy() {
	t.tree.DestroyWithCookie(func(_ Key, v *Value) { t.entries.Free(v) })
	assert.That(t.tree.Len() == 0, "bstt: table not empty after destroy")
	t.entries.Destroy()
}

// FillBP populates a block pointer for the derivative from v, per spec.md
// §4.3's fill_bp: copy DVAs from burst_dvas, set birth txg, restore
// (lsize, psize, compress, crypt) from bstp.prop.
func (v *Value) FillBP(out *dedupcore.BlockPointer, txg uint64) {
	assert.That(txg != 0, "bstt: fill_bp called with txg=0")
	out.DVA = v.BurstDVAs
	out.PhysicalBirth = txg
	out.LSize = v.LSize()
	out.PSize = v.PSize()
	out.Compress = v.Compress()
	out.Encrypted = v.Encrypted()
}

// CreateBP zeroes out, fills it from v via FillBP, stamps the checksum
// value from key, and sets the dedup-block flags spec.md §4.3's
// create_bp names: fill=1, checksum=algo, type=DEDUP, level=0, dedup=1,
// byteorder=host.
func CreateBP(algo checksum.Algorithm, key Key, v *Value, txg uint64) dedupcore.BlockPointer {
	var out dedupcore.BlockPointer
	v.FillBP(&out, txg)
	out.Checksum = key
	out.Algo = algo
	out.Fill = 1
	out.Type = dedupcore.TypeDedup
	out.Level = 0
	out.Dedup = true
	out.Byteorder = dedupcore.ByteorderHost
	return out
}

// AddRef increments v.refcnt and delegates to the underlying DDE's phys
// refcount via ddt.Table.PhysAddRef, per spec.md §4.3's addref and §5's
// refcount discipline ("Incrementing bstp.refcnt always pairs with a
// matching increment on the underlying ddp.refcnt"). v must already be in
// PENDING or LIVE state (transitioning EMPTY->PENDING is the caller's job
// at insertion time, via Value.Begin).
func (v *Value) AddRef() error {
	entry, ok := v.BaseDDE.Load()
	if !ok {
		return fmt.Errorf("bstt: addref: base dde no longer exists")
	}
	if err := v.BaseDDE.Table.PhysAddRef(entry, v.PhysIndex); err != nil {
		return err
	}
	v.Refcnt++
	return nil
}

// Begin transitions a freshly-inserted (EMPTY) entry to PENDING, the state
// spec.md §4.3 says a BSTT entry enters immediately on insertion ("PENDING
// (inserted, refcnt>=1, burst data being computed)").
func (v *Value) Begin() { v.transition(StatePending) }

// Commit transitions a PENDING entry to LIVE once its burst data has been
// computed and its refcnt is non-zero.
func (v *Value) Commit() { v.transition(StateLive) }

// FreePhys constructs a BP from (key, v), clears the dedup bit, and hands
// it to freer for asynchronous release — spec.md §4.3's free_phys: "clear
// the dedup bit... and hand it to the external zio_free(pool, txg, bp)."
// The entry transitions to DEAD; the caller (sync coordinator) removes it
// from the table afterward.
func (v *Value) FreePhys(table *Table, key Key, txg uint64, freer *pipeline.Freer) {
	bp := CreateBP(table.algo, key, v, txg)
	bp.Dedup = false
	v.transition(StateDead)
	v.Burst.Free()
	freer.Free(pipeline.FreeRequest{
		Checksum: bp.Checksum,
		Txg:      txg,
		DVA:      bp.DVA,
		Size:     bp.PSize,
	})
}
