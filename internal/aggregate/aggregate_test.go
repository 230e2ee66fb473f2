// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package aggregate

import (
	"testing"

	"github.com/bloomberg/memray-sub002/internal/frametree"
	"github.com/bloomberg/memray-sub002/internal/reader"
	"github.com/bloomberg/memray-sub002/internal/recordio"
)

func alloc(tid, addr, size uint64, kind recordio.AllocatorKind, stackID int32) reader.Allocation {
	return reader.Allocation{
		Event:   recordio.AllocationEvent{ThreadID: tid, Address: addr, Size: size, Kind: kind},
		StackID: frametree.Index(stackID),
	}
}

func TestHighWaterMarkMonotonic(t *testing.T) {
	events := []reader.Allocation{
		alloc(1, 1, 10, recordio.KindMalloc, 0), // current=10
		alloc(1, 2, 20, recordio.KindMalloc, 0), // current=30, peak
		alloc(1, 1, 0, recordio.KindFree, 0),    // current=20
		alloc(1, 3, 5, recordio.KindMalloc, 0),  // current=25
	}
	a := New(events)
	idx, peak := a.HighWaterMark()
	if peak != 30 {
		t.Fatalf("got peak %d, want 30", peak)
	}
	if idx != 1 {
		t.Fatalf("got peak index %d, want 1", idx)
	}
}

func TestLeakSnapshotOnlyUnfreed(t *testing.T) {
	events := []reader.Allocation{
		alloc(1, 1, 10, recordio.KindMalloc, 0),
		alloc(1, 2, 20, recordio.KindMalloc, 1),
		alloc(1, 1, 0, recordio.KindFree, 0),
	}
	a := New(events)
	snaps := a.LeakSnapshot(false)
	if len(snaps) != 1 {
		t.Fatalf("got %d leaked entries, want 1: %+v", len(snaps), snaps)
	}
	if snaps[0].Size != 20 {
		t.Fatalf("got leaked size %d, want 20", snaps[0].Size)
	}
}

func TestMergeThreadsCollapsesEntries(t *testing.T) {
	events := []reader.Allocation{
		alloc(1, 1, 10, recordio.KindMalloc, 0),
		alloc(2, 2, 10, recordio.KindMalloc, 0),
	}
	a := New(events)
	merged := a.LeakSnapshot(true)
	if len(merged) != 1 || merged[0].ThreadID != AllThreads || merged[0].Size != 20 {
		t.Fatalf("got %+v", merged)
	}
	unmerged := a.LeakSnapshot(false)
	if len(unmerged) != 2 {
		t.Fatalf("got %d unmerged entries, want 2", len(unmerged))
	}
}

func TestTemporaryAllocationsThreshold(t *testing.T) {
	events := []reader.Allocation{
		alloc(1, 1, 10, recordio.KindMalloc, 0), // index 0
		alloc(1, 1, 0, recordio.KindFree, 0),    // index 1, distance 1
		alloc(1, 2, 10, recordio.KindMalloc, 0), // index 2
		alloc(1, 3, 10, recordio.KindMalloc, 0), // index 3
		alloc(1, 2, 0, recordio.KindFree, 0),    // index 4, distance 2
	}
	a := New(events)
	tight := a.TemporaryAllocations(1)
	if len(tight) != 1 || tight[0].Event.Address != 1 {
		t.Fatalf("got %+v, want only address 1 freed within 1 event", tight)
	}
	loose := a.TemporaryAllocations(2)
	if len(loose) != 2 {
		t.Fatalf("got %d, want 2 with threshold 2", len(loose))
	}
}

func TestUnknownDeallocIsIgnored(t *testing.T) {
	events := []reader.Allocation{
		alloc(1, 99, 0, recordio.KindFree, 0), // no matching allocation ever seen
		alloc(1, 1, 10, recordio.KindMalloc, 0),
	}
	a := New(events)
	snaps := a.LeakSnapshot(false)
	if len(snaps) != 1 || snaps[0].Size != 10 {
		t.Fatalf("got %+v", snaps)
	}
}

func TestRangedAllocAndPartialDealloc(t *testing.T) {
	events := []reader.Allocation{
		alloc(1, 0x1000, 0x1000, recordio.KindMmap, 0),
		alloc(1, 0x1000, 0x800, recordio.KindMunmap, 0),
	}
	a := New(events)
	snaps := a.LeakSnapshot(false)
	if len(snaps) != 1 || snaps[0].Size != 0x800 {
		t.Fatalf("got %+v, want remaining 0x800 bytes live", snaps)
	}
}

func TestHighWaterMarkSnapshotMatchesPeakIndex(t *testing.T) {
	events := []reader.Allocation{
		alloc(1, 1, 50, recordio.KindMalloc, 0),
		alloc(1, 1, 0, recordio.KindFree, 0),
		alloc(1, 2, 10, recordio.KindMalloc, 1),
	}
	a := New(events)
	snaps := a.HighWaterMarkSnapshot(false)
	if len(snaps) != 1 || snaps[0].Size != 50 {
		t.Fatalf("got %+v, want the 50-byte allocation live at the peak", snaps)
	}
}
