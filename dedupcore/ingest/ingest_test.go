package ingest

import (
	"bytes"
	"log/slog"
	"testing"

	"rubin.dev/dedup/checksum"
	"rubin.dev/dedup/dedupcore"
	"rubin.dev/dedup/dedupcore/syncer"
	"rubin.dev/dedup/pipeline"
)

func openTestPool(t *testing.T) *syncer.Pool {
	t.Helper()
	return openTestPoolWithCompressor(t, nil)
}

func openTestPoolWithCompressor(t *testing.T, comp pipeline.Compressor) *syncer.Pool {
	t.Helper()
	cfg := dedupcore.DefaultPoolConfig()
	cfg.Name = "test"
	cfg.DataDir = t.TempDir()
	cfg.Algorithms = []checksum.Algorithm{checksum.AlgorithmSHA256}
	cfg.Compressor = comp
	pool, err := syncer.Open(cfg, slog.Default())
	if err != nil {
		t.Fatalf("syncer.Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func repeat(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func TestPutUniqueBlockIsItsOwnBase(t *testing.T) {
	pool := openTestPool(t)
	data := append([]byte("AAAA"), repeat('B', 28)...)

	bp, err := Put(pool, checksum.AlgorithmSHA256, data, 1)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !bp.Dedup {
		t.Fatalf("expected Dedup bit set")
	}
	got, err := Get(pool, checksum.AlgorithmSHA256, bp.Checksum)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Get returned %q, want %q", got, data)
	}
}

func TestPutIdenticalBlockHitsFullDedup(t *testing.T) {
	pool := openTestPool(t)
	data := append([]byte("AAAA"), repeat('B', 28)...)

	bp1, err := Put(pool, checksum.AlgorithmSHA256, data, 1)
	if err != nil {
		t.Fatalf("Put #1: %v", err)
	}
	bp2, err := Put(pool, checksum.AlgorithmSHA256, data, 1)
	if err != nil {
		t.Fatalf("Put #2: %v", err)
	}
	if bp1.Checksum != bp2.Checksum {
		t.Fatalf("identical blocks should share a checksum")
	}

	dt := pool.DDT(checksum.AlgorithmSHA256)
	entry, found, err := dt.Lookup(bp1.Checksum, false)
	if err != nil || !found {
		t.Fatalf("Lookup: found=%v err=%v", found, err)
	}
	if entry.TotalRefcnt() != 2 {
		t.Fatalf("TotalRefcnt() = %d, want 2 after two identical writes", entry.TotalRefcnt())
	}
}

func TestPutRunsConfiguredCompressor(t *testing.T) {
	pool := openTestPoolWithCompressor(t, pipeline.NewFSSTCompressor())
	data := append([]byte("AAAA"), repeat('B', 28)...)

	bp, err := Put(pool, checksum.AlgorithmSHA256, data, 1)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if bp.Compress != pipeline.CompressFSST {
		t.Fatalf("Compress = %v, want CompressFSST", bp.Compress)
	}
	got, err := Get(pool, checksum.AlgorithmSHA256, bp.Checksum)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Get returned %q, want %q", got, data)
	}
}

func TestPutDefaultsToOffCompressor(t *testing.T) {
	pool := openTestPool(t)
	data := append([]byte("AAAA"), repeat('B', 28)...)

	bp, err := Put(pool, checksum.AlgorithmSHA256, data, 1)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if bp.Compress != pipeline.CompressOff {
		t.Fatalf("Compress = %v, want CompressOff", bp.Compress)
	}
}

func TestPutSimilarBlockProducesBurstAndRoundTrips(t *testing.T) {
	pool := openTestPool(t)
	base := append([]byte("AAAA"), repeat('B', 28)...)
	similar := append([]byte("AAAA"), repeat('C', 28)...)

	if _, err := Put(pool, checksum.AlgorithmSHA256, base, 1); err != nil {
		t.Fatalf("Put base: %v", err)
	}
	bp, err := Put(pool, checksum.AlgorithmSHA256, similar, 1)
	if err != nil {
		t.Fatalf("Put similar: %v", err)
	}
	if !bp.Dedup {
		t.Fatalf("expected Dedup bit set on burst-backed block")
	}

	bsttTable := pool.BSTT(checksum.AlgorithmSHA256)
	if bsttTable.Len() != 1 {
		t.Fatalf("expected exactly one BSTT entry, got %d", bsttTable.Len())
	}

	got, err := Get(pool, checksum.AlgorithmSHA256, bp.Checksum)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, similar) {
		t.Fatalf("Get returned %q, want %q", got, similar)
	}
}

func TestAnchorExhaustionFallsBackToNewBase(t *testing.T) {
	pool := openTestPool(t)
	base := append([]byte("AAAA"), repeat('B', 28)...)
	similar1 := append([]byte("AAAA"), repeat('C', 28)...)
	similar2 := append([]byte("AAAA"), repeat('D', 28)...)

	if _, err := Put(pool, checksum.AlgorithmSHA256, base, 1); err != nil {
		t.Fatalf("Put base: %v", err)
	}
	if _, err := Put(pool, checksum.AlgorithmSHA256, similar1, 1); err != nil {
		t.Fatalf("Put similar1: %v", err)
	}

	// MaxHTDDPRefcnt == 1: the base's HEAD anchor was already claimed by
	// similar1. similar2 shares no usable TAIL anchor with base (their
	// tails differ), so it must become its own new base rather than
	// reuse the exhausted HEAD anchor.
	bp, err := Put(pool, checksum.AlgorithmSHA256, similar2, 1)
	if err != nil {
		t.Fatalf("Put similar2: %v", err)
	}

	bsttTable := pool.BSTT(checksum.AlgorithmSHA256)
	if bsttTable.Len() != 1 {
		t.Fatalf("expected similar2 to NOT land in the BSTT (anchor exhausted), bstt has %d entries", bsttTable.Len())
	}
	got, err := Get(pool, checksum.AlgorithmSHA256, bp.Checksum)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, similar2) {
		t.Fatalf("Get returned %q, want %q", got, similar2)
	}
}

func TestPutEmptyBlockFails(t *testing.T) {
	pool := openTestPool(t)
	if _, err := Put(pool, checksum.AlgorithmSHA256, nil, 1); err != ErrEmptyBlock {
		t.Fatalf("Put(nil) = %v, want ErrEmptyBlock", err)
	}
}

func TestGetUnknownBlockFails(t *testing.T) {
	pool := openTestPool(t)
	if _, err := Get(pool, checksum.AlgorithmSHA256, checksum.Value{0xFF}); err != ErrBlockNotFound {
		t.Fatalf("Get(unknown) = %v, want ErrBlockNotFound", err)
	}
}
