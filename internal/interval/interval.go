// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package interval implements an interval tree used to track ranged
// allocator regions (mmap/munmap) where a later munmap may only partially
// cover an earlier mmap. Live ranges are kept as a sorted, pairwise-disjoint
// list; Range.Intersects defines overlap as "two ranges intersect iff
// max(starts) < min(ends)".
//
// No third-party interval-tree library fits this address-range bookkeeping
// cleanly, so this is built directly on the standard sort package, the way
// a small sorted-slice index is usually built when the alternative is
// pulling in a general-purpose tree structure for a handful of operations.
package interval

import "sort"

// Range is a half-open address range.
type Range struct {
	Start, End uint64
}

func (r Range) Len() uint64 { return r.End - r.Start }

// Intersects reports whether r and o overlap.
func (r Range) Intersects(o Range) bool {
	return maxU64(r.Start, o.Start) < minU64(r.End, o.End)
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// Entry pairs a live Range with the caller-supplied value it was added
// with (the aggregator stores its originating allocation here).
type Entry struct {
	Range
	Value interface{}
}

// Tree holds a sorted, pairwise-disjoint set of live ranges.
type Tree struct {
	entries []Entry // sorted by Start, non-overlapping
}

func New() *Tree { return &Tree{} }

// sameValue reports whether two values should be treated as coalescable.
// Values are compared with ==, which is sufficient for the pointer/struct
// values the aggregator stores (it never stores non-comparable values
// here).
func sameValue(a, b interface{}) bool { return a == b }

// Add registers [start, start+length) as live, carrying value. Adjacent
// ranges with the same value are coalesced into one entry.
// Add assumes the new range does not overlap any existing live range,
// which always holds for a well-behaved mmap (the kernel never hands out
// an address range already mapped).
func (t *Tree) Add(start, length uint64, value interface{}) {
	if length == 0 {
		return
	}
	r := Range{Start: start, End: start + length}
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Start >= r.Start })

	merged := Entry{Range: r, Value: value}
	// Coalesce with the left neighbor if contiguous and same value.
	lo := i
	if i > 0 && t.entries[i-1].End == r.Start && sameValue(t.entries[i-1].Value, value) {
		merged.Start = t.entries[i-1].Start
		lo = i - 1
	}
	hi := i
	if i < len(t.entries) && t.entries[i].Start == r.End && sameValue(t.entries[i].Value, value) {
		merged.End = t.entries[i].End
		hi = i + 1
	}
	out := make([]Entry, 0, len(t.entries)-(hi-lo)+1)
	out = append(out, t.entries[:lo]...)
	out = append(out, merged)
	out = append(out, t.entries[hi:]...)
	t.entries = out
}

// Remove unmaps [start, start+length) and returns the list of
// (sub_range, value) pairs that were actually live and got removed,
// splitting any entry that only partially overlaps the removed range.
// A removal with no overlap returns nil, which the aggregator treats as
// a silently-ignored unknown dealloc.
func (t *Tree) Remove(start, length uint64) []Entry {
	if length == 0 {
		return nil
	}
	target := Range{Start: start, End: start + length}
	var removed []Entry
	out := t.entries[:0:0]
	for _, e := range t.entries {
		if !e.Intersects(target) {
			out = append(out, e)
			continue
		}
		lo := maxU64(e.Start, target.Start)
		hi := minU64(e.End, target.End)
		removed = append(removed, Entry{Range: Range{Start: lo, End: hi}, Value: e.Value})
		if e.Start < lo {
			out = append(out, Entry{Range: Range{Start: e.Start, End: lo}, Value: e.Value})
		}
		if hi < e.End {
			out = append(out, Entry{Range: Range{Start: hi, End: e.End}, Value: e.Value})
		}
	}
	t.entries = out
	return removed
}

// Entries yields all live (range, value) pairs in address order.
func (t *Tree) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// TotalLength returns the sum of all live range lengths.
func (t *Tree) TotalLength() uint64 {
	var total uint64
	for _, e := range t.entries {
		total += e.Len()
	}
	return total
}
