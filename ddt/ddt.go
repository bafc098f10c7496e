// Package ddt implements the Base Dedup Table spec.md treats as an
// external collaborator: the durable, whole-block dedup table the burst
// core's HTDDT/BSTT entries hold non-owning references into (spec.md §3:
// "Base dedup entry (DDE)... owned by the external DDT. The core holds
// non-owning references to DDEs and asks the DDT 'does this still exist?'
// at sync time.").
//
// It is the one table in this module that is actually durable — grounded
// on rubin.dev/node/node/store.DB, which persists chain state the same
// way: one bbolt bucket per logical table, manual binary encoding for
// records, atomic Update/View transactions.
package ddt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/bits"
	"sync"

	bolt "go.etcd.io/bbolt"

	"rubin.dev/dedup/checksum"
)

// PhysTypes is the number of physical copies a DDE can carry (ddp[p] in
// spec.md §3), mirroring ZFS's DDT_PHYS_TYPES (single/double/triple/ditto).
const PhysTypes = 3

// NDVA is the number of device virtual addresses a physical copy carries.
const NDVA = 3

// DVA is a device virtual address: a (vdev, offset, size) triple locating
// one physical copy of a block.
type DVA struct {
	VDev   uint64
	Offset uint64
	Size   uint64
}

// Phys is one physical copy of a base block: its refcount, birth
// transaction group, and device addresses.
type Phys struct {
	Refcnt   uint64
	BirthTxg uint64
	DVA      [NDVA]DVA
}

// Entry is a base dedup entry (DDE): spec.md §3's "carries up to
// PHYS_TYPES physical copies (ddp[p]), each with refcount, birth txg, and
// DVAs."
type Entry struct {
	Checksum checksum.Value
	Algo     checksum.Algorithm
	LSize    uint64
	PSize    uint64
	Phys     [PhysTypes]Phys
}

// TotalRefcnt sums every physical copy's refcount — the
// ddt_phys_total_refcnt-style aggregate SPEC_FULL.md §10 adds from
// original_source/module/zfs/ddt.c, used by the sync coordinator's
// DUPLICATE/UNIQUE reclassification (spec.md §4.4 step 1).
func (e *Entry) TotalRefcnt() uint64 {
	var total uint64
	for _, p := range e.Phys {
		total += p.Refcnt
	}
	return total
}

// Ref is a non-owning, weak handle to a DDE: a table pointer plus its key.
// This is the "arena + stable index" pattern spec.md §9 recommends for a
// memory-safe language in place of a raw back-pointer — resolving a Ref
// always goes through Exists/Load, so a reaped DDE is never dereferenced.
type Ref struct {
	Table    *Table
	Checksum checksum.Value
}

// Exists reports whether the referenced DDE is still present, i.e.
// ddt_exist(ddt, dde) from spec.md §6.
func (r Ref) Exists() bool {
	if r.Table == nil {
		return false
	}
	ok, err := r.Table.exists(r.Checksum)
	return ok && err == nil
}

// Load resolves the referenced DDE, or (nil, false) if it no longer
// exists.
func (r Ref) Load() (*Entry, bool) {
	if r.Table == nil {
		return nil, false
	}
	e, ok, err := r.Table.lookup(r.Checksum, false)
	if err != nil || !ok {
		return nil, false
	}
	return e, true
}

// Table is one per-checksum-algorithm base dedup table, backed by a bbolt
// bucket. Table exposes Enter/Exit as the per-DDT mutex spec.md §5 says
// guards "all four related tables (DDT + BSTT + HTDDT-head + HTDDT-tail)
// for a given checksum algorithm" — callers (dedupcore/syncer, the write
// path) take this lock once and hold it across DDT, BSTT, and HTDDT
// operations for that algorithm.
type Table struct {
	mu     sync.Mutex
	db     *bolt.DB
	bucket []byte
	algo   checksum.Algorithm
}

// Open opens (creating if absent) the bbolt bucket backing the DDT for
// algo within db.
func Open(db *bolt.DB, algo checksum.Algorithm) (*Table, error) {
	bucket := []byte(fmt.Sprintf("ddt/%s", algo))
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ddt: open %s: %w", algo, err)
	}
	return &Table{db: db, bucket: bucket, algo: algo}, nil
}

// Enter acquires the per-DDT mutex. All mutating operations (Lookup with
// add=true, Remove, PhysAddRef, PhysFree, and the sync passes) must be
// called while held, per spec.md §5.
func (t *Table) Enter() { t.mu.Lock() }

// Exit releases the per-DDT mutex.
func (t *Table) Exit() { t.mu.Unlock() }

// Select returns the table for bp's algorithm, equivalent to ddt_select in
// spec.md §6. Kept here as a function taking the algorithm directly since
// this module's BlockPointer accessor lives in dedupcore.
func Select(tables map[checksum.Algorithm]*Table, algo checksum.Algorithm) *Table {
	return tables[algo]
}

// Lookup finds the DDE for key, inserting a zero-initialized entry if add
// is true and none exists — ddt_lookup(ddt, bp, add, &found) from
// spec.md §6.
func (t *Table) Lookup(key checksum.Value, add bool) (*Entry, bool, error) {
	return t.lookup(key, add)
}

func (t *Table) lookup(key checksum.Value, add bool) (*Entry, bool, error) {
	var entry *Entry
	found := false
	err := t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(t.bucket)
		raw := b.Get(key[:])
		if raw != nil {
			found = true
			e, err := decodeEntry(raw)
			if err != nil {
				return err
			}
			e.Checksum = key
			entry = e
			return nil
		}
		if !add {
			return nil
		}
		entry = &Entry{Checksum: key, Algo: t.algo}
		return b.Put(key[:], encodeEntry(entry))
	})
	if err != nil {
		return nil, false, err
	}
	return entry, found, nil
}

func (t *Table) exists(key checksum.Value) (bool, error) {
	found := false
	err := t.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(t.bucket).Get(key[:]) != nil
		return nil
	})
	return found, err
}

// Put persists entry, used after PhysAddRef/PhysFree mutate it in memory.
func (t *Table) Put(entry *Entry) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(t.bucket).Put(entry.Checksum[:], encodeEntry(entry))
	})
}

// PhysAddRef increments the refcount of entry's physical copy p, the
// ddt_phys_addref collaborator spec.md §4.3's BSTT/HTDDT addref delegates
// to.
func (t *Table) PhysAddRef(entry *Entry, p int) error {
	entry.Phys[p].Refcnt++
	return t.Put(entry)
}

// PhysFree clears physical copy p (refcount, birth txg and DVAs), the
// ddt_phys_free collaborator spec.md §4.4 step 1 calls for ("free phys
// copies with refcnt=0"). It does not check the refcount itself; the sync
// pass calls it only for copies whose refcount is zero. If every physical
// copy is now empty, the entry itself is removed.
func (t *Table) PhysFree(key checksum.Value, p int) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(t.bucket)
		raw := b.Get(key[:])
		if raw == nil {
			return nil
		}
		entry, err := decodeEntry(raw)
		if err != nil {
			return err
		}
		entry.Phys[p] = Phys{}
		if entry.TotalRefcnt() == 0 {
			return b.Delete(key[:])
		}
		return b.Put(key[:], encodeEntry(entry))
	})
}

// Remove deletes the entry for key outright, used to simulate an external
// ddt_remove (e.g. in tests exercising spec.md §8 scenario 6, "Sync reap").
func (t *Table) Remove(key checksum.Value) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(t.bucket).Delete(key[:])
	})
}

// Each visits every entry in the table in key order, used by the sync
// coordinator's DDT pass (spec.md §4.4 step 1).
func (t *Table) Each(fn func(*Entry) error) error {
	return t.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(t.bucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			e, err := decodeEntry(v)
			if err != nil {
				return err
			}
			var key checksum.Value
			copy(key[:], k)
			e.Checksum = key
			if err := fn(e); err != nil {
				return err
			}
		}
		return nil
	})
}

// HistogramBucket tallies the entries/blocks/referenced-bytes whose total
// refcount falls in one log2 bucket.
type HistogramBucket struct {
	Entries   uint64
	Blocks    uint64
	RefBlocks uint64
	Bytes     uint64
}

// Histogram is the DDT histogram spec.md §4.4 step 1 says to recompute at
// sync time, shaped per SPEC_FULL.md §3/§10 after OpenZFS's own
// ddt_histogram_t: one bucket per bits.Len64(refcount).
type Histogram [64]HistogramBucket

// ComputeHistogram recomputes the histogram by scanning every entry, as
// the DDT sync pass does (spec.md §4.4 step 1).
func (t *Table) ComputeHistogram() (Histogram, error) {
	var h Histogram
	err := t.Each(func(e *Entry) error {
		for _, p := range e.Phys {
			if p.Refcnt == 0 {
				continue
			}
			bucket := bits.Len64(p.Refcnt)
			h[bucket].Entries++
			h[bucket].Blocks++
			h[bucket].RefBlocks += p.Refcnt
			h[bucket].Bytes += e.LSize
		}
		return nil
	})
	return h, err
}

func encodeEntry(e *Entry) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(e.Algo))
	var u8 [8]byte
	binary.LittleEndian.PutUint64(u8[:], e.LSize)
	buf.Write(u8[:])
	binary.LittleEndian.PutUint64(u8[:], e.PSize)
	buf.Write(u8[:])
	for _, p := range e.Phys {
		binary.LittleEndian.PutUint64(u8[:], p.Refcnt)
		buf.Write(u8[:])
		binary.LittleEndian.PutUint64(u8[:], p.BirthTxg)
		buf.Write(u8[:])
		for _, d := range p.DVA {
			binary.LittleEndian.PutUint64(u8[:], d.VDev)
			buf.Write(u8[:])
			binary.LittleEndian.PutUint64(u8[:], d.Offset)
			buf.Write(u8[:])
			binary.LittleEndian.PutUint64(u8[:], d.Size)
			buf.Write(u8[:])
		}
	}
	return buf.Bytes()
}

func decodeEntry(raw []byte) (*Entry, error) {
	const dvaSize = 24
	const physSize = 8 + 8 + NDVA*dvaSize
	const want = 1 + 8 + 8 + PhysTypes*physSize
	if len(raw) != want {
		return nil, fmt.Errorf("ddt: corrupt entry: got %d bytes, want %d", len(raw), want)
	}
	e := &Entry{}
	off := 0
	e.Algo = checksum.Algorithm(raw[off])
	off++
	e.LSize = binary.LittleEndian.Uint64(raw[off:])
	off += 8
	e.PSize = binary.LittleEndian.Uint64(raw[off:])
	off += 8
	for i := range e.Phys {
		e.Phys[i].Refcnt = binary.LittleEndian.Uint64(raw[off:])
		off += 8
		e.Phys[i].BirthTxg = binary.LittleEndian.Uint64(raw[off:])
		off += 8
		for j := range e.Phys[i].DVA {
			e.Phys[i].DVA[j].VDev = binary.LittleEndian.Uint64(raw[off:])
			off += 8
			e.Phys[i].DVA[j].Offset = binary.LittleEndian.Uint64(raw[off:])
			off += 8
			e.Phys[i].DVA[j].Size = binary.LittleEndian.Uint64(raw[off:])
			off += 8
		}
	}
	return e, nil
}
