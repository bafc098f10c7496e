package bstt

import (
	"testing"

	"rubin.dev/dedup/checksum"
	"rubin.dev/dedup/pipeline"
)

func TestLookupAddInsertsEmptyState(t *testing.T) {
	table := New(checksum.AlgorithmSHA256)
	key := checksum.Value{1, 2, 3}

	v, found := table.Lookup(key, true)
	if found {
		t.Fatalf("expected found=false on first insert")
	}
	if v.State != StateEmpty {
		t.Fatalf("fresh value should start EMPTY, got %s", v.State)
	}
}

func TestStateMachineLegalTransitions(t *testing.T) {
	v := &Value{}
	v.Begin()
	if v.State != StatePending {
		t.Fatalf("Begin() should move to PENDING, got %s", v.State)
	}
	v.Commit()
	if v.State != StateLive {
		t.Fatalf("Commit() should move to LIVE, got %s", v.State)
	}
	v.transition(StateDead)
	if v.State != StateDead {
		t.Fatalf("expected DEAD, got %s", v.State)
	}
}

func TestStateMachineRejectsIllegalTransition(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on illegal LIVE -> PENDING transition")
		}
	}()
	v := &Value{State: StateLive}
	v.transition(StatePending)
}

func TestPropBitPacking(t *testing.T) {
	v := &Value{}
	v.SetProp(4096, 2048, pipeline.CompressFSST, true)

	if got := v.LSize(); got != 4096 {
		t.Fatalf("LSize() = %d, want 4096", got)
	}
	if got := v.PSize(); got != 2048 {
		t.Fatalf("PSize() = %d, want 2048", got)
	}
	if got := v.Compress(); got != pipeline.CompressFSST {
		t.Fatalf("Compress() = %v, want CompressFSST", got)
	}
	if !v.Encrypted() {
		t.Fatalf("Encrypted() = false, want true")
	}
}

func TestPropBitPackingNoEncryption(t *testing.T) {
	v := &Value{}
	v.SetProp(1, 1, pipeline.CompressOff, false)
	if v.Encrypted() {
		t.Fatalf("Encrypted() = true, want false")
	}
	if v.Compress() != pipeline.CompressOff {
		t.Fatalf("Compress() = %v, want CompressOff", v.Compress())
	}
}

func TestEachVisitsEveryEntry(t *testing.T) {
	table := New(checksum.AlgorithmSHA256)
	for i := byte(0); i < 3; i++ {
		table.Lookup(checksum.Value{i}, true)
	}
	count := 0
	table.Each(func(key checksum.Value, v *Value) bool {
		count++
		return true
	})
	if count != 3 {
		t.Fatalf("Each visited %d entries, want 3", count)
	}
}

func TestDestroyEmptiesTable(t *testing.T) {
	table := New(checksum.AlgorithmSHA256)
	table.Lookup(checksum.Value{1}, true)
	table.Destroy()
	if table.Len() != 0 {
		t.Fatalf("expected table empty after Destroy")
	}
}
