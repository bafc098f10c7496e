package htddt

import (
	"testing"

	"rubin.dev/dedup/checksum"
	"rubin.dev/dedup/dedupcore"
)

func TestLookupAddInsertsZeroValue(t *testing.T) {
	table := New(checksum.AlgorithmSHA256, dedupcore.SideHead)
	key := Key{Partial: checksum.Value{1, 2, 3}, Side: dedupcore.SideHead}

	v, found := table.Lookup(key, true)
	if found {
		t.Fatalf("expected found=false on first insert")
	}
	if v.Refcnt != 0 || v.Valid {
		t.Fatalf("fresh value should be zero-valued, got %+v", v)
	}

	v2, found2 := table.Lookup(key, false)
	if !found2 {
		t.Fatalf("expected found=true on second lookup")
	}
	if v2 != v {
		t.Fatalf("second lookup should return the same entry")
	}
}

func TestLookupWithoutAddMisses(t *testing.T) {
	table := New(checksum.AlgorithmSHA256, dedupcore.SideTail)
	key := Key{Partial: checksum.Value{9}, Side: dedupcore.SideTail}
	if _, found := table.Lookup(key, false); found {
		t.Fatalf("expected miss on empty table")
	}
	if table.Len() != 0 {
		t.Fatalf("Lookup with add=false should not insert")
	}
}

func TestRemove(t *testing.T) {
	table := New(checksum.AlgorithmSHA256, dedupcore.SideHead)
	key := Key{Partial: checksum.Value{5}, Side: dedupcore.SideHead}
	table.Lookup(key, true)
	table.Remove(key)
	if table.Exists(key) {
		t.Fatalf("expected entry gone after Remove")
	}
}

func TestAddRefEnforcesMaxHTDDPRefcnt(t *testing.T) {
	v := &Value{}
	for i := uint64(0); i < dedupcore.MaxHTDDPRefcnt; i++ {
		if err := v.AddRef(); err != nil {
			t.Fatalf("AddRef #%d: unexpected error %v", i, err)
		}
	}
	if err := v.AddRef(); err != ErrAnchorExhausted {
		t.Fatalf("AddRef beyond MaxHTDDPRefcnt = %v, want ErrAnchorExhausted", err)
	}
}

func TestLessOrdersByPartialThenSide(t *testing.T) {
	a := Key{Partial: checksum.Value{0, 1}, Side: dedupcore.SideHead}
	b := Key{Partial: checksum.Value{0, 2}, Side: dedupcore.SideHead}
	if !Less(a, b) {
		t.Fatalf("expected a < b by partial checksum")
	}
	if Less(b, a) {
		t.Fatalf("expected b not < a")
	}

	c := Key{Partial: checksum.Value{0, 1}, Side: dedupcore.SideHead}
	d := Key{Partial: checksum.Value{0, 1}, Side: dedupcore.SideTail}
	if !Less(c, d) {
		t.Fatalf("expected HEAD < TAIL for equal partial checksums")
	}
}

func TestHTSizeRounding(t *testing.T) {
	if got := HTSize(64); got != 8 {
		t.Fatalf("HTSize(64) = %d, want 8", got)
	}
	if got := HTSize(1); got != 1 {
		t.Fatalf("HTSize(1) = %d, want 1 (rounded up to MinBlockSize)", got)
	}
}

func TestEachVisitsEveryEntryInOrder(t *testing.T) {
	table := New(checksum.AlgorithmSHA256, dedupcore.SideHead)
	for i := byte(0); i < 4; i++ {
		table.Lookup(Key{Partial: checksum.Value{i}, Side: dedupcore.SideHead}, true)
	}
	count := 0
	table.Each(func(key Key, value *Value) bool {
		count++
		return true
	})
	if count != 4 {
		t.Fatalf("Each visited %d entries, want 4", count)
	}
}

func TestDestroyEmptiesTable(t *testing.T) {
	table := New(checksum.AlgorithmSHA256, dedupcore.SideHead)
	table.Lookup(Key{Partial: checksum.Value{1}, Side: dedupcore.SideHead}, true)
	table.Destroy()
	if table.Len() != 0 {
		t.Fatalf("expected table empty after Destroy")
	}
}
