// Package ingest implements the write/read data flow spec.md §2 describes:
// "write path: HTDDT probe → codec → BSTT records derivative; read path
// consults BSTT → fetches base → codec reconstructs." It is the glue
// between dedupcore/htddt, dedupcore/bstt, dedupcore/burst and ddt that
// spec.md's component list implies but does not itself name as a package
// — every operation here is a direct composition of operations spec.md §4
// already specifies.
package ingest

import (
	"errors"
	"fmt"

	"rubin.dev/dedup/checksum"
	"rubin.dev/dedup/ddt"
	"rubin.dev/dedup/dedupcore"
	"rubin.dev/dedup/dedupcore/bstt"
	"rubin.dev/dedup/dedupcore/burst"
	"rubin.dev/dedup/dedupcore/htddt"
	"rubin.dev/dedup/dedupcore/syncer"
	"rubin.dev/dedup/pipeline"
)

// ErrEmptyBlock is returned by Put for a zero-length block; the core has
// nothing to checksum or diff.
var ErrEmptyBlock = errors.New("ingest: empty block")

// ErrBlockNotFound is returned by Get when neither the BSTT nor the
// pool's content store has the requested checksum.
var ErrBlockNotFound = errors.New("ingest: block not found")

func partialKey(fn checksum.Function, data []byte, side dedupcore.Side) htddt.Key {
	htsize := dedupcore.HTSize(uint64(len(data)))
	if htsize > uint64(len(data)) {
		htsize = uint64(len(data))
	}
	var slice []byte
	if side == dedupcore.SideHead {
		slice = data[:htsize]
	} else {
		slice = data[uint64(len(data))-htsize:]
	}
	return htddt.Key{Partial: fn.Sum(slice), Side: side}
}

// Put ingests a new block, per spec.md §2's write path: a full-dedup hit
// against the DDT wins outright; otherwise HEAD then TAIL HTDDT anchors
// are probed for a similarity candidate, and the first one that yields a
// non-disjoint burst and an available anchor (MaxHTDDPRefcnt not yet hit)
// is recorded in the BSTT; failing both, the block becomes a brand-new
// base entry with fresh HEAD/TAIL anchors installed for future writes.
func Put(pool *syncer.Pool, algo checksum.Algorithm, data []byte, txg uint64) (dedupcore.BlockPointer, error) {
	if len(data) == 0 {
		return dedupcore.BlockPointer{}, ErrEmptyBlock
	}
	fn, ok := checksum.Lookup(algo)
	if !ok {
		return dedupcore.BlockPointer{}, fmt.Errorf("ingest: unknown algorithm %s", algo)
	}
	dt := pool.DDT(algo)
	if dt == nil {
		return dedupcore.BlockPointer{}, fmt.Errorf("ingest: pool does not track algorithm %s", algo)
	}
	key := fn.Sum(data)

	dt.Enter()
	defer dt.Exit()

	if entry, found, err := dt.Lookup(key, false); err != nil {
		return dedupcore.BlockPointer{}, err
	} else if found && entry.TotalRefcnt() > 0 {
		if err := dt.PhysAddRef(entry, 0); err != nil {
			return dedupcore.BlockPointer{}, err
		}
		return wholeBlockBP(pool.Compressor(), algo, key, data, txg), nil
	}

	if bp, ok, err := tryBurst(pool, fn, algo, key, data, txg); err != nil {
		return dedupcore.BlockPointer{}, err
	} else if ok {
		return bp, nil
	}

	return insertUniqueBase(pool, dt, fn, algo, key, data, txg)
}

func tryBurst(pool *syncer.Pool, fn checksum.Function, algo checksum.Algorithm, key checksum.Value, data []byte, txg uint64) (dedupcore.BlockPointer, bool, error) {
	for _, side := range [2]dedupcore.Side{dedupcore.SideHead, dedupcore.SideTail} {
		htTable := pool.HTDDT(algo, side)
		if htTable == nil {
			continue
		}
		hk := partialKey(fn, data, side)
		anchor, found := htTable.Lookup(hk, false)
		if !found {
			continue
		}
		baseData, ok := pool.LoadBlock(anchor.BaseDDE.Checksum)
		if !ok {
			continue
		}
		b := burst.MakeBurst(baseData, data)
		if b.Disjoint {
			continue
		}
		if err := anchor.AddRef(); err != nil {
			// Anchor exhausted (spec.md §9's resolved MAX_HTDDP_REFCNT):
			// fall through and try the other side, or mint a new base.
			continue
		}

		baseEntry, ok := anchor.BaseDDE.Load()
		if !ok {
			continue
		}

		comp := pool.Compressor()
		compressed := comp.Compress(data)

		bsttTable := pool.BSTT(algo)
		bv, _ := bsttTable.Lookup(key, true)
		bv.Begin()
		bv.BaseDDE = anchor.BaseDDE
		bv.PhysIndex = anchor.PhysIndex
		bv.PayloadSize = anchor.PayloadSize
		bv.Burst = b
		bv.BurstDVAs = baseEntry.Phys[anchor.PhysIndex].DVA
		bv.SetProp(uint64(len(data)), uint64(len(compressed)), comp.Code(), false)
		if err := bv.AddRef(); err != nil {
			return dedupcore.BlockPointer{}, false, err
		}
		bv.Commit()
		pool.StoreBlock(key, data)

		bp := bstt.CreateBP(algo, key, bv, txg)
		return bp, true, nil
	}
	return dedupcore.BlockPointer{}, false, nil
}

func insertUniqueBase(pool *syncer.Pool, dt *ddt.Table, fn checksum.Function, algo checksum.Algorithm, key checksum.Value, data []byte, txg uint64) (dedupcore.BlockPointer, error) {
	entry, _, err := dt.Lookup(key, true)
	if err != nil {
		return dedupcore.BlockPointer{}, err
	}
	entry.Phys[0] = ddt.Phys{Refcnt: 1, BirthTxg: txg}
	if err := dt.Put(entry); err != nil {
		return dedupcore.BlockPointer{}, err
	}

	for _, side := range [2]dedupcore.Side{dedupcore.SideHead, dedupcore.SideTail} {
		htTable := pool.HTDDT(algo, side)
		if htTable == nil {
			continue
		}
		hk := partialKey(fn, data, side)
		anchor, found := htTable.Lookup(hk, true)
		if !found {
			anchor.BaseDDE = ddt.Ref{Table: dt, Checksum: key}
			anchor.PhysIndex = 0
			anchor.PayloadSize = uint64(len(data))
			anchor.Valid = true
		}
	}

	pool.StoreBlock(key, data)
	return wholeBlockBP(pool.Compressor(), algo, key, data, txg), nil
}

// wholeBlockBP stamps a fresh whole-block dedup BlockPointer. PSize/Compress
// record what comp actually compresses data down to: the demo content
// store (pool.StoreBlock/LoadBlock) always keeps logical bytes around so
// the burst codec can diff against them on a later write, but the stats
// stamped on the BlockPointer are real, run through comp on every call
// rather than hardcoded to CompressOff, matching spec.md §1's compression
// stage being a working component.
func wholeBlockBP(comp pipeline.Compressor, algo checksum.Algorithm, key checksum.Value, data []byte, txg uint64) dedupcore.BlockPointer {
	return dedupcore.BlockPointer{
		Checksum:      key,
		Algo:          algo,
		LSize:         uint64(len(data)),
		PSize:         uint64(len(comp.Compress(data))),
		Compress:      comp.Code(),
		PhysicalBirth: txg,
		Fill:          1,
		Type:          dedupcore.TypeDedup,
		Dedup:         true,
		Byteorder:     dedupcore.ByteorderHost,
	}
}

// Get resolves key back into its original bytes, per spec.md §2's read
// path: consult the BSTT first (a burst-backed derivative), falling back
// to the content store directly (a whole block, the base case).
func Get(pool *syncer.Pool, algo checksum.Algorithm, key checksum.Value) ([]byte, error) {
	if bsttTable := pool.BSTT(algo); bsttTable != nil {
		if bv, found := bsttTable.Lookup(key, false); found {
			baseData, ok := pool.LoadBlock(bv.BaseDDE.Checksum)
			if !ok {
				return nil, fmt.Errorf("ingest: base block for %x missing from content store", bv.BaseDDE.Checksum)
			}
			return burst.ApplyBurst(baseData, bv.Burst), nil
		}
	}
	if data, ok := pool.LoadBlock(key); ok {
		return data, nil
	}
	return nil, ErrBlockNotFound
}
