// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package recordio defines the on-disk/on-wire shape of a capture: the
// record tags, the fixed-size payloads, and the data-model types shared by
// the writer and the reader. This package is the single place that encodes
// the layout so writer and reader can never drift apart.
package recordio

import "fmt"

// RecordType tags the single byte that starts every record in the stream.
type RecordType uint8

const (
	RecordAllocation       RecordType = 1
	RecordFrameIndex       RecordType = 2
	RecordFramePush        RecordType = 3
	RecordFramePop         RecordType = 4
	RecordNativeFrameIndex RecordType = 5
	RecordSegmentHeader    RecordType = 6
	RecordSegment          RecordType = 7
	RecordMemorySnapshot   RecordType = 8
	RecordHeader           RecordType = 254
	RecordEnd              RecordType = 255
)

func (t RecordType) String() string {
	switch t {
	case RecordAllocation:
		return "ALLOCATION"
	case RecordFrameIndex:
		return "FRAME_INDEX"
	case RecordFramePush:
		return "FRAME_PUSH"
	case RecordFramePop:
		return "FRAME_POP"
	case RecordNativeFrameIndex:
		return "NATIVE_FRAME_INDEX"
	case RecordSegmentHeader:
		return "SEGMENT_HEADER"
	case RecordSegment:
		return "SEGMENT"
	case RecordMemorySnapshot:
		return "MEMORY_SNAPSHOT"
	case RecordHeader:
		return "HEADER"
	case RecordEnd:
		return "END"
	default:
		return fmt.Sprintf("RecordType(%d)", uint8(t))
	}
}

// Magic is the 4-byte file signature, "memr".
var Magic = [4]byte{'m', 'e', 'm', 'r'}

// FormatVersion is bumped whenever the wire layout changes incompatibly.
const FormatVersion uint16 = 1

// AllocatorKind identifies which instrumented allocator produced an event.
type AllocatorKind uint8

const (
	KindMalloc AllocatorKind = iota
	KindFree
	KindCalloc
	KindRealloc
	KindPosixMemalign
	KindMemalign
	KindValloc
	KindPvalloc
	KindMmap
	KindMunmap
)

func (k AllocatorKind) String() string {
	switch k {
	case KindMalloc:
		return "malloc"
	case KindFree:
		return "free"
	case KindCalloc:
		return "calloc"
	case KindRealloc:
		return "realloc"
	case KindPosixMemalign:
		return "posix_memalign"
	case KindMemalign:
		return "memalign"
	case KindValloc:
		return "valloc"
	case KindPvalloc:
		return "pvalloc"
	case KindMmap:
		return "mmap"
	case KindMunmap:
		return "munmap"
	default:
		return fmt.Sprintf("AllocatorKind(%d)", uint8(k))
	}
}

// Shape classifies an AllocatorKind along the two axes used throughout the
// aggregator: whether it allocates or deallocates, and whether it is a
// point allocator (malloc family) or a ranged one (mmap family).
type Shape uint8

const (
	SimpleAlloc Shape = iota
	SimpleDealloc
	RangedAlloc
	RangedDealloc
)

func (k AllocatorKind) Shape() Shape {
	switch k {
	case KindFree:
		return SimpleDealloc
	case KindMunmap:
		return RangedDealloc
	case KindMmap:
		return RangedAlloc
	default:
		return SimpleAlloc
	}
}

// AllocationEvent is the wire-level record emitted by an intercept.
type AllocationEvent struct {
	ThreadID      uint64
	Address       uint64
	Size          uint64
	Kind          AllocatorKind
	Line          int32
	NativeFrameID uint32 // 0 if native traces were disabled
}

// ManagedFrame is a single frame of the managed runtime's call stack.
// Equal frames are shared by the interner, so two call sites with the same
// function/file/line intern to one entry.
type ManagedFrame struct {
	FunctionName string
	FileName     string
	StartingLine int32
}

// NativeFrameKey is the unresolved form of a captured instruction pointer:
// an address plus the segment generation live when it was captured.
// Resolving a key against the wrong generation's mappings silently produces
// a wrong symbol, which is why the generation travels with the address
// instead of being inferred at resolve time.
type NativeFrameKey struct {
	InstructionPointer uint64
	Generation         uint32
}

// ResolvedFrame is what a NativeFrameKey expands to after symbolification;
// one key can expand to several frames when inlining is involved.
type ResolvedFrame struct {
	Symbol   string
	File     string
	Line     int
	IsInline bool
}
