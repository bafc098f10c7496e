package ddt

import (
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"

	"rubin.dev/dedup/checksum"
)

func openTestDB(t *testing.T) *bolt.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ddt.bolt")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		t.Fatalf("bolt.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLookupAddInsertsZeroEntry(t *testing.T) {
	db := openTestDB(t)
	table, err := Open(db, checksum.AlgorithmSHA256)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var key checksum.Value
	key[0] = 0xAB

	entry, found, err := table.Lookup(key, true)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if found {
		t.Fatalf("expected found=false on first insert")
	}
	if entry.Checksum != key {
		t.Fatalf("entry checksum mismatch")
	}
	if entry.TotalRefcnt() != 0 {
		t.Fatalf("fresh entry should have refcnt 0")
	}

	entry2, found2, err := table.Lookup(key, false)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !found2 {
		t.Fatalf("expected found=true on second lookup")
	}
	if entry2.Checksum != key {
		t.Fatalf("entry checksum mismatch on reload")
	}
}

func TestPhysAddRefAndFree(t *testing.T) {
	db := openTestDB(t)
	table, err := Open(db, checksum.AlgorithmSHA256)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var key checksum.Value
	key[0] = 1

	entry, _, err := table.Lookup(key, true)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	entry.LSize = 4096
	if err := table.Put(entry); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := table.PhysAddRef(entry, 0); err != nil {
		t.Fatalf("PhysAddRef: %v", err)
	}
	reloaded, found, err := table.Lookup(key, false)
	if err != nil || !found {
		t.Fatalf("Lookup after addref: found=%v err=%v", found, err)
	}
	if reloaded.Phys[0].Refcnt != 1 {
		t.Fatalf("expected refcnt 1, got %d", reloaded.Phys[0].Refcnt)
	}

	if err := table.PhysFree(key, 0); err != nil {
		t.Fatalf("PhysFree: %v", err)
	}
	ok, err := table.exists(key)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Fatalf("entry should have been removed once every phys copy hit refcnt 0")
	}
}

func TestRemove(t *testing.T) {
	db := openTestDB(t)
	table, err := Open(db, checksum.AlgorithmSHA256)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var key checksum.Value
	key[0] = 7
	if _, _, err := table.Lookup(key, true); err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if err := table.Remove(key); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	ok, err := table.exists(key)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Fatalf("expected entry to be gone after Remove")
	}
}

func TestEachVisitsEveryEntry(t *testing.T) {
	db := openTestDB(t)
	table, err := Open(db, checksum.AlgorithmSHA256)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for i := byte(0); i < 5; i++ {
		var key checksum.Value
		key[0] = i
		if _, _, err := table.Lookup(key, true); err != nil {
			t.Fatalf("Lookup: %v", err)
		}
	}

	seen := 0
	err = table.Each(func(e *Entry) error {
		seen++
		return nil
	})
	if err != nil {
		t.Fatalf("Each: %v", err)
	}
	if seen != 5 {
		t.Fatalf("got %d entries, want 5", seen)
	}
}

func TestComputeHistogramBucketsByLog2Refcount(t *testing.T) {
	db := openTestDB(t)
	table, err := Open(db, checksum.AlgorithmSHA256)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var key checksum.Value
	key[0] = 9
	entry, _, err := table.Lookup(key, true)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	entry.LSize = 1024
	if err := table.Put(entry); err != nil {
		t.Fatalf("Put: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := table.PhysAddRef(entry, 0); err != nil {
			t.Fatalf("PhysAddRef: %v", err)
		}
	}

	h, err := table.ComputeHistogram()
	if err != nil {
		t.Fatalf("ComputeHistogram: %v", err)
	}
	// refcnt=3 -> bits.Len64(3) == 2
	if h[2].Entries != 1 || h[2].RefBlocks != 3 {
		t.Fatalf("unexpected histogram bucket 2: %+v", h[2])
	}
}

func TestRefRoundTrip(t *testing.T) {
	db := openTestDB(t)
	table, err := Open(db, checksum.AlgorithmSHA256)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var key checksum.Value
	key[0] = 3
	if _, _, err := table.Lookup(key, true); err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	ref := Ref{Table: table, Checksum: key}
	if !ref.Exists() {
		t.Fatalf("expected ref to exist")
	}
	entry, ok := ref.Load()
	if !ok {
		t.Fatalf("expected ref to load")
	}
	if entry.Checksum != key {
		t.Fatalf("loaded entry checksum mismatch")
	}

	if err := table.Remove(key); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if ref.Exists() {
		t.Fatalf("expected ref to no longer exist after Remove")
	}
}
