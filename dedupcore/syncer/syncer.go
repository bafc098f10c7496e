package syncer

import (
	"encoding/hex"

	"rubin.dev/dedup/checksum"
	"rubin.dev/dedup/ddt"
	"rubin.dev/dedup/dedupcore"
	"rubin.dev/dedup/dedupcore/bstt"
	"rubin.dev/dedup/dedupcore/htddt"
)

// Coordinator runs the per-transaction-group sync pass from spec.md §4.4.
// It carries no state of its own; Sync is re-entrant across txg boundaries
// as spec.md §4.4 requires ("Sync must be re-entrant across txg boundaries
// but not concurrently within a txg for a single pool" — the "not
// concurrently" half is the caller's responsibility, enforced by taking
// each algorithm's ddt.Table.Enter/Exit for the duration of its pass).
type Coordinator struct{}

// Sync runs the three mandated passes, in order, for every checksum
// algorithm the pool tracks: DDT sync, then BSTT sync, then HTDDT sync
// (head, then tail). Reversing this order would leak burst storage whose
// anchor's base DDE disappeared first (spec.md §4.4).
func (Coordinator) Sync(pool *Pool, txg uint64) error {
	for _, algo := range pool.Algorithms() {
		dt := pool.DDT(algo)
		dt.Enter()
		err := func() error {
			defer dt.Exit()
			if err := syncDDT(pool, algo, dt); err != nil {
				return err
			}
			if err := syncBSTT(pool, algo, txg); err != nil {
				return err
			}
			if err := syncHTDDT(pool, algo, dedupcore.SideHead); err != nil {
				return err
			}
			return syncHTDDT(pool, algo, dedupcore.SideTail)
		}()
		if err != nil {
			return err
		}
	}
	return nil
}

// syncDDT is spec.md §4.4 step 1: for each base entry, free phys copies
// with refcnt=0, and recompute histograms. Reclassification between
// DUPLICATE/UNIQUE is derived purely from TotalRefcnt at read time in this
// module (see ddt.Entry.TotalRefcnt), so there is no separate class field
// to update here.
func syncDDT(pool *Pool, algo checksum.Algorithm, dt *ddt.Table) error {
	var toFree []struct {
		key checksum.Value
		p   int
	}
	err := dt.Each(func(e *ddt.Entry) error {
		for p, phys := range e.Phys {
			if phys.Refcnt == 0 && (phys.DVA[0] != ddt.DVA{} || phys.BirthTxg != 0) {
				toFree = append(toFree, struct {
					key checksum.Value
					p   int
				}{e.Checksum, p})
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, item := range toFree {
		if err := dt.PhysFree(item.key, item.p); err != nil {
			return err
		}
		pool.Log.Info("ddt phys freed", "algorithm", algo, "checksum", hex.EncodeToString(item.key[:]), "phys", item.p)
	}
	_, err = dt.ComputeHistogram()
	return err
}

// syncBSTT is spec.md §4.4 step 2: skip entries with refcnt>0; for the
// rest, if the referenced DDE no longer exists, free_phys then remove.
func syncBSTT(pool *Pool, algo checksum.Algorithm, txg uint64) error {
	table := pool.BSTT(algo)
	if table == nil {
		return nil
	}
	var reap []checksum.Value
	table.Each(func(key bstt.Key, v *bstt.Value) bool {
		if v.Refcnt > 0 {
			return true
		}
		if v.BaseDDE.Exists() {
			return true
		}
		v.FreePhys(table, key, txg, pool.Freer())
		pool.Log.Info("bstt entry reaped", "algorithm", algo, "checksum", hex.EncodeToString(key[:]), "txg", txg, "burst_freed", true)
		reap = append(reap, key)
		return true
	})
	for _, key := range reap {
		table.Remove(key)
	}
	return nil
}

// syncHTDDT is spec.md §4.4 step 3: for each entry whose referenced DDE is
// absent from the DDT, remove it. Run once for HEAD, once for TAIL, always
// after syncBSTT has already reaped any burst entries pointing at the same
// vanished base (spec.md §4.4's critical ordering note).
func syncHTDDT(pool *Pool, algo checksum.Algorithm, side dedupcore.Side) error {
	table := pool.HTDDT(algo, side)
	if table == nil {
		return nil
	}
	var reap []htddt.Key
	table.Each(func(key htddt.Key, v *htddt.Value) bool {
		if !v.BaseDDE.Exists() {
			reap = append(reap, key)
		}
		return true
	})
	for _, key := range reap {
		table.Remove(key)
		pool.Log.Info("htddt entry reaped", "algorithm", algo, "side", side, "partial", hex.EncodeToString(key.Partial[:]))
	}
	return nil
}
