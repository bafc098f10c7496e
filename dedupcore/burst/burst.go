// Package burst implements the pure, allocation-minimal burst diff/patch
// codec from spec.md §4.1: given a base and a new (derivative) buffer,
// compute the common prefix length, common suffix length, and the middle
// "burst" payload; given a base and a burst, reconstruct the derivative.
//
// Ported directly from bstt_create_burst/bstt_create_data in
// original_source/module/zfs/burst_dedup.c, generalized from abd_t buffers
// to plain []byte (this module's equivalent of a borrowed, already-copied
// buffer — see package abd).
package burst

import (
	"rubin.dev/dedup/abd"
	"rubin.dev/dedup/dedupcore"
	"rubin.dev/dedup/slab"
)

// dataClasses are the abd.Pool size classes burst payloads are rounded up
// into before allocation, so that repeated bursts of a similar size reuse
// the same backing arrays instead of round-tripping through the Go
// allocator on every MakeBurst call (spec.md §1's "Slab allocator"
// external collaborator, applied to burst-buffer allocation as spec.md §6
// calls for).
var dataClasses = []int{64, 256, 1024, 4096, 16384, 65536}

var dataPool = abd.NewPool(slab.Default(), "burst/data", dataClasses, 64)

func dataClassFor(size uint64) int {
	for _, c := range dataClasses {
		if uint64(c) >= size {
			return c
		}
	}
	return int(size)
}

// Burst is the middle byte slice of a derivative block that differs from
// its base, plus the prefix/suffix boundary indices (spec.md §3).
type Burst struct {
	// Start is the index in the derivative (and, identically, the base)
	// immediately after the common prefix.
	Start int
	// End is the last index of the common suffix *in the base buffer*.
	// A suffix that would consume End down to -1 (i.e. cover the whole
	// base) is rejected rather than represented — see Disjoint.
	End int
	// Length is derivative_size - prefix - suffix, or 0 if the burst
	// would be non-positive.
	Length int
	// Data is the burst payload, zero-padded to DataCapacity. Backed by
	// an abd.Buffer borrowed from dataPool; call Free when the entry
	// holding this Burst is reaped.
	Data []byte
	// DataCapacity is Length rounded up to dedupcore.MinBlockSize, with
	// the tail zero-filled (spec.md §3/§4.1).
	DataCapacity uint64
	// Disjoint is set when the computed suffix would fully overlap the
	// computed prefix (spec.md §9's "Pure prepend" open question): rather
	// than emit an End of -1, this module's canonical choice is to reject
	// the burst outright and let the caller fall back to storing new as
	// its own base block.
	Disjoint bool

	buf *abd.Buffer
}

// Free releases the Burst's backing buffer back to the abd.Pool it was
// allocated from. A Disjoint (or zero-value) Burst has no buffer and Free
// is a no-op, matching abd.Buffer.Free's own nil-safety.
func (b *Burst) Free() {
	b.buf.Free()
	b.buf = nil
	b.Data = nil
}

// MakeBurst computes the Burst that reconstructs new from base, per
// spec.md §4.1 and §8's round-trip/minimality/padding properties.
//
// Algorithm: scan forward while base[i] == new[i] to find the common
// prefix length p (bounded by min(len(base), len(new))); then scan
// backward from the respective ends, stopping before re-entering the
// matched prefix, to find the common suffix length s. start = p,
// end = len(base) - s - 1, length = len(new) - p - s.
func MakeBurst(base, new []byte) Burst {
	limit := min(len(base), len(new))

	p := 0
	for p < limit && base[p] == new[p] {
		p++
	}

	s := 0
	for s < limit-p && base[len(base)-1-s] == new[len(new)-1-s] {
		s++
	}

	if s >= len(base) {
		// The suffix scan would consume the entire base: this is the
		// "Pure prepend" edge case from spec.md §8 scenario 2. The
		// canonical choice documented in spec.md §9 is to reject the
		// burst rather than clamp End to -1.
		return Burst{Disjoint: true}
	}

	start := p
	end := len(base) - s - 1
	length := len(new) - p - s
	if length < 0 {
		length = 0
	}

	b := Burst{Start: start, End: end, Length: length}
	b.DataCapacity = roundUpCapacity(uint64(length))
	b.buf = dataPool.Alloc(dataClassFor(b.DataCapacity), false)
	b.Data = b.buf.Bytes()[:b.DataCapacity]
	copy(b.Data, new[start:start+length])
	return b
}

func roundUpCapacity(length uint64) uint64 {
	cap := length
	if cap < dedupcore.MinBlockSize {
		cap = dedupcore.MinBlockSize
	}
	rem := cap % dedupcore.MinBlockSize
	if rem != 0 {
		cap += dedupcore.MinBlockSize - rem
	}
	return cap
}

// ApplyBurst reconstructs the derivative from base and b, per spec.md
// §4.1: base[0:b.Start] ++ b.Data[0:b.Length] ++ base[b.End+1:].
func ApplyBurst(base []byte, b Burst) []byte {
	tailLen := len(base) - b.End - 1
	out := make([]byte, b.Start+b.Length+tailLen)
	n := copy(out, base[:b.Start])
	n += copy(out[n:], b.Data[:b.Length])
	copy(out[n:], base[b.End+1:])
	return out
}
