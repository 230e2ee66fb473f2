// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package aggregate replays an ordered event stream against a
// ptr_to_allocation index and an interval tree to answer the questions a
// capture exists to answer: what was live when memory peaked, what
// leaked, and what was merely temporary. The replay itself never
// resolves a single frame; it works purely in terms of stack_id and
// thread_id, the same separation of concerns the native resolver keeps
// between capture and symbolification.
//
// The ptr-keyed live index here plays the same role as an address-sorted
// object table: a process-wide index from address to the thing currently
// living there, looked up on every event.
package aggregate

import (
	"github.com/bloomberg/memray-sub002/internal/frametree"
	"github.com/bloomberg/memray-sub002/internal/interval"
	"github.com/bloomberg/memray-sub002/internal/reader"
	"github.com/bloomberg/memray-sub002/internal/recordio"
)

// AllThreads is the thread_id used to key a merged-across-threads entry.
const AllThreads = ^uint64(0)

// Entry is one row of a reduced snapshot.
type Entry struct {
	StackID frametree.Index
	ThreadID uint64
	Size     uint64
	Count    uint64
}

// liveAlloc tracks a still-open allocation's origin, so a later
// deallocation can compute how many events separated the two.
type liveAlloc struct {
	alloc      reader.Allocation
	allocIndex int
}

// Aggregator holds the full ordered event list in memory; the capture
// sizes this profiler targets make that the simplest correct design,
// reading the whole event list in rather than stream-processing it.
type Aggregator struct {
	events []reader.Allocation
}

func New(events []reader.Allocation) *Aggregator {
	return &Aggregator{events: events}
}

func (a *Aggregator) Len() int { return len(a.events) }

// state is the mutable replay state shared by every pass below.
type state struct {
	ptrToAlloc map[uint64]liveAlloc
	ranges     *interval.Tree
	current    uint64
}

func newState() *state {
	return &state{ptrToAlloc: make(map[uint64]liveAlloc), ranges: interval.New()}
}

// apply advances state by one event, returning any temporary-allocation
// candidates produced by a deallocation at this step: pairs of
// (original allocation, events-since-allocation).
func (s *state) apply(index int, a reader.Allocation) (temporaries []tempCandidate) {
	ev := a.Event
	switch ev.Kind.Shape() {
	case recordio.SimpleAlloc:
		s.ptrToAlloc[ev.Address] = liveAlloc{alloc: a, allocIndex: index}
		s.current += ev.Size

	case recordio.SimpleDealloc:
		live, ok := s.ptrToAlloc[ev.Address]
		if !ok {
			// Unknown address: silently ignored, can happen at capture
			// start before the matching allocation was ever seen.
			return nil
		}
		s.current -= live.alloc.Event.Size
		delete(s.ptrToAlloc, ev.Address)
		temporaries = append(temporaries, tempCandidate{alloc: live.alloc, distance: index - live.allocIndex})

	case recordio.RangedAlloc:
		s.ranges.Add(ev.Address, ev.Size, liveAlloc{alloc: a, allocIndex: index})
		s.current += ev.Size

	case recordio.RangedDealloc:
		removed := s.ranges.Remove(ev.Address, ev.Size)
		for _, r := range removed {
			s.current -= r.Len()
			if live, ok := r.Value.(liveAlloc); ok {
				temporaries = append(temporaries, tempCandidate{alloc: live.alloc, distance: index - live.allocIndex})
			}
		}
	}
	return temporaries
}

type tempCandidate struct {
	alloc    reader.Allocation
	distance int
}

// HighWaterMark does a single forward pass and returns the event index
// at which current_memory peaked, and the peak value itself. Peak
// updates whenever current_memory >= the running peak, matching ties in
// favor of the later event (the largest live set seen).
func (a *Aggregator) HighWaterMark() (peakIndex int, peak uint64) {
	s := newState()
	peakIndex = -1
	for i, ev := range a.events {
		s.apply(i, ev)
		if s.current >= peak {
			peak = s.current
			peakIndex = i
		}
	}
	return peakIndex, peak
}

// SnapshotAt reduces every event in [0, index] into per-(stack, thread)
// entries. mergeThreads collapses all threads sharing a stack into one
// entry keyed by AllThreads.
func (a *Aggregator) SnapshotAt(index int, mergeThreads bool) []Entry {
	if index < 0 {
		return nil
	}
	if index >= len(a.events) {
		index = len(a.events) - 1
	}
	s := newState()
	for i := 0; i <= index; i++ {
		s.apply(i, a.events[i])
	}
	return reduce(s, mergeThreads)
}

// HighWaterMarkSnapshot returns the snapshot at the event index where
// memory usage peaked: the flame-graph payload.
func (a *Aggregator) HighWaterMarkSnapshot(mergeThreads bool) []Entry {
	idx, _ := a.HighWaterMark()
	return a.SnapshotAt(idx, mergeThreads)
}

// LeakSnapshot is the snapshot at the final event: every allocation
// never matched by a deallocation before the capture ended.
func (a *Aggregator) LeakSnapshot(mergeThreads bool) []Entry {
	return a.SnapshotAt(len(a.events)-1, mergeThreads)
}

// TemporaryAllocations returns every allocation whose matching
// deallocation came at most threshold events after it, the distance
// being the difference of the two event indices. A deallocation is
// always a later event, so an allocation freed by the very next event
// has distance 1 and threshold 0 matches nothing. The replay runs once,
// forward, collecting every deallocation's distance from its allocation.
func (a *Aggregator) TemporaryAllocations(threshold int) []reader.Allocation {
	s := newState()
	var out []reader.Allocation
	for i, ev := range a.events {
		for _, t := range s.apply(i, ev) {
			if t.distance <= threshold {
				out = append(out, t.alloc)
			}
		}
	}
	return out
}

func reduce(s *state, mergeThreads bool) []Entry {
	byKey := make(map[Entry]*Entry)
	add := func(stackID frametree.Index, tid uint64, size uint64) {
		if mergeThreads {
			tid = AllThreads
		}
		key := Entry{StackID: stackID, ThreadID: tid}
		e, ok := byKey[key]
		if !ok {
			e = &Entry{StackID: stackID, ThreadID: tid}
			byKey[key] = e
		}
		e.Size += size
		e.Count++
	}
	for _, live := range s.ptrToAlloc {
		add(live.alloc.StackID, live.alloc.Event.ThreadID, live.alloc.Event.Size)
	}
	for _, r := range s.ranges.Entries() {
		live, ok := r.Value.(liveAlloc)
		if !ok {
			continue
		}
		add(live.alloc.StackID, live.alloc.Event.ThreadID, r.Len())
	}
	out := make([]Entry, 0, len(byKey))
	for _, e := range byKey {
		out = append(out, *e)
	}
	return out
}
