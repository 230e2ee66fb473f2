// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package segment tracks the set of loaded shared-object text ranges over
// time. A new "generation" is appended every time the loader's view of the
// process changes (dlopen/dlclose); an instruction pointer captured during
// generation G is only ever resolved against the segments of G.
//
// Address-range lookup across a huge core-dump memory map usually calls
// for a multi-level radix page table. A running program's set of loaded
// objects is orders of magnitude smaller (tens, not millions, of
// mappings), so a sorted slice with binary search gets the same O(log n)
// lookup without the radix-table machinery, the same technique used for
// PC-range lookup over a function table, applied here to segment ranges
// instead of functions.
package segment

import "sort"

// Segment is one loaded shared object's text range.
type Segment struct {
	FileName   string
	Base       uint64
	Length     uint64
	Generation uint32
}

func (s Segment) End() uint64 { return s.Base + s.Length }

func (s Segment) Contains(addr uint64) bool {
	return addr >= s.Base && addr < s.End()
}

// Map owns the full history of generations. It is append-only: once a
// generation's segment set is sealed (by the start of the next
// generation), it is immutable.
type Map struct {
	generations []generationEntry
}

type generationEntry struct {
	gen      uint32
	segments []Segment // sorted by Base
}

// NewGeneration appends a new, empty generation and returns its number.
// Generation numbers are strictly increasing starting at 1; generation 0
// means "no segments recorded yet".
func (m *Map) NewGeneration() uint32 {
	next := uint32(len(m.generations) + 1)
	m.generations = append(m.generations, generationEntry{gen: next})
	return next
}

// Add registers a segment under the current (latest) generation. Callers
// must have called NewGeneration at least once.
func (m *Map) Add(s Segment) {
	if len(m.generations) == 0 {
		m.NewGeneration()
	}
	g := &m.generations[len(m.generations)-1]
	s.Generation = g.gen
	g.segments = append(g.segments, s)
	sort.Slice(g.segments, func(i, j int) bool { return g.segments[i].Base < g.segments[j].Base })
}

// AddGeneration registers a full generation's segment list explicitly, used
// by the reader when reconstructing the map from SEGMENT_HEADER/SEGMENT
// records.
func (m *Map) AddGeneration(gen uint32, segs []Segment) {
	sorted := append([]Segment(nil), segs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Base < sorted[j].Base })
	m.generations = append(m.generations, generationEntry{gen: gen, segments: sorted})
}

// CurrentGeneration returns the most recent generation number, or 0 if
// none has been created yet.
func (m *Map) CurrentGeneration() uint32 {
	if len(m.generations) == 0 {
		return 0
	}
	return m.generations[len(m.generations)-1].gen
}

// Find looks up the segment containing addr within the given generation.
// It never consults any other generation, preserving generation isolation.
func (m *Map) Find(gen uint32, addr uint64) (Segment, bool) {
	i := sort.Search(len(m.generations), func(i int) bool { return m.generations[i].gen >= gen })
	if i == len(m.generations) || m.generations[i].gen != gen {
		return Segment{}, false
	}
	segs := m.generations[i].segments
	j := sort.Search(len(segs), func(j int) bool { return segs[j].End() > addr })
	if j == len(segs) || addr < segs[j].Base {
		return Segment{}, false
	}
	return segs[j], true
}

// Generations returns the known generation numbers in order.
func (m *Map) Generations() []uint32 {
	out := make([]uint32, len(m.generations))
	for i, g := range m.generations {
		out[i] = g.gen
	}
	return out
}

// Segments returns the segment list for a given generation.
func (m *Map) Segments(gen uint32) []Segment {
	i := sort.Search(len(m.generations), func(i int) bool { return m.generations[i].gen >= gen })
	if i == len(m.generations) || m.generations[i].gen != gen {
		return nil
	}
	return m.generations[i].segments
}
