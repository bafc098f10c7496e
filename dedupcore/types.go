// Package dedupcore implements the burst deduplication core described by
// spec.md: a head/tail similarity index (package htddt), a burst index
// (package bstt), the burst diff/patch codec (package burst), and the
// sync coordinator (package syncer) that reconciles them against a base
// dedup table (package ddt).
//
// This file carries the data model of spec.md §3 that is common to every
// sub-package: the block pointer (BP) and the tunables spec.md §6 names.
package dedupcore

import (
	"math/bits"

	"rubin.dev/dedup/checksum"
	"rubin.dev/dedup/ddt"
	"rubin.dev/dedup/pipeline"
)

// Tunables from spec.md §6.
const (
	// MinBlockSize is the storage layer's minimum allocation unit, in the
	// units burst lengths and data_capacity are rounded to.
	MinBlockSize = 1

	// MaxHTDDPRefcnt caps how many derivative writes may be coalesced
	// against a single similarity anchor before a new one must be
	// minted. Declared but never enforced in the C original (spec.md
	// §9); this module enforces it (see htddt.AddRef).
	MaxHTDDPRefcnt = 1

	// HTDDTRightShift determines the head/tail prefix length: one-eighth
	// of the block, minimum one unit (spec.md §4.2, htsize).
	HTDDTRightShift = 3

	// NDVA is the number of device virtual addresses a block pointer
	// carries.
	NDVA = ddt.NDVA
)

// Side distinguishes a HEAD similarity anchor from a TAIL one (spec.md
// §3's htddk_type / enum htddt_type).
type Side uint8

const (
	SideHead Side = iota
	SideTail
)

func (s Side) String() string {
	if s == SideTail {
		return "tail"
	}
	return "head"
}

// BlockPointer (BP) is the opaque, external record spec.md §3 describes:
// checksum, algorithm, sizes, compression/encryption flags, DVAs, and
// physical birth txg. The storage layout beyond these fields is not part
// of this module (spec.md §1); BlockPointer only carries what the core
// reads and writes via the BP_GET_*/BP_SET_* accessor contracts in
// spec.md §6.
type BlockPointer struct {
	Checksum      checksum.Value
	Algo          checksum.Algorithm
	LSize         uint64
	PSize         uint64
	Compress      pipeline.CompressionCode
	Encrypted     bool
	DVA           [NDVA]ddt.DVA
	PhysicalBirth uint64

	// Fill/Type/Level/Dedup/Byteorder mirror the flags bstt.CreateBP
	// (spec.md §4.3) stamps on a freshly created dedup block pointer.
	Fill      uint64
	Type      BlockPointerType
	Level     uint8
	Dedup     bool
	Byteorder Byteorder
}

// BlockPointerType distinguishes a dedup-backed block pointer from other
// kinds the wider storage pipeline may produce; this module only ever
// stamps TypeDedup.
type BlockPointerType uint8

const TypeDedup BlockPointerType = 1

// Byteorder mirrors BP_SET_BYTEORDER's host/little/big distinction.
type Byteorder uint8

const ByteorderHost Byteorder = 0

// HTSize computes the canonical head/tail prefix length for a block of the
// given size: round_up(size >> RIGHT_SHIFT, MIN_BLOCK_SIZE), never less
// than MinBlockSize, per spec.md §4.2.
func HTSize(size uint64) uint64 {
	ht := roundUp(size>>HTDDTRightShift, MinBlockSize)
	if ht < MinBlockSize {
		ht = MinBlockSize
	}
	return ht
}

func roundUp(x, align uint64) uint64 {
	if align == 0 {
		return x
	}
	return ((x + align - 1) / align) * align
}

// Log2Bucket is bits.Len64, exposed here so callers outside package ddt
// (e.g. demo/reporting code) can bucket a refcount the same way
// ddt.Table.ComputeHistogram does, without importing math/bits
// themselves for such a small thing.
func Log2Bucket(refcount uint64) int { return bits.Len64(refcount) }
