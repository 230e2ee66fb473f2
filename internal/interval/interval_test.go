// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interval

import "testing"

func TestIntersects(t *testing.T) {
	cases := []struct {
		a, b Range
		want bool
	}{
		{Range{0, 10}, Range{5, 15}, true},
		{Range{0, 10}, Range{10, 20}, false},
		{Range{0, 10}, Range{20, 30}, false},
		{Range{5, 15}, Range{0, 10}, true},
	}
	for _, c := range cases {
		if got := c.a.Intersects(c.b); got != c.want {
			t.Errorf("%+v.Intersects(%+v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestAddCoalescesAdjacentSameValue(t *testing.T) {
	tr := New()
	tr.Add(0, 10, "x")
	tr.Add(10, 10, "x")
	entries := tr.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected one coalesced entry, got %d: %v", len(entries), entries)
	}
	if entries[0].Range != (Range{0, 20}) {
		t.Fatalf("got range %+v, want {0 20}", entries[0].Range)
	}
}

func TestAddDoesNotCoalesceDifferentValue(t *testing.T) {
	tr := New()
	tr.Add(0, 10, "x")
	tr.Add(10, 10, "y")
	if len(tr.Entries()) != 2 {
		t.Fatalf("expected two entries, got %d", len(tr.Entries()))
	}
}

func TestRemoveFullyContained(t *testing.T) {
	tr := New()
	tr.Add(0, 100, "x")
	removed := tr.Remove(10, 20)
	if len(removed) != 1 || removed[0].Range != (Range{10, 30}) {
		t.Fatalf("got %+v", removed)
	}
	entries := tr.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected remaining range split in two, got %d: %v", len(entries), entries)
	}
}

func TestRemoveNoOverlapReturnsNil(t *testing.T) {
	tr := New()
	tr.Add(0, 10, "x")
	if removed := tr.Remove(100, 10); removed != nil {
		t.Fatalf("expected nil for non-overlapping removal, got %v", removed)
	}
}

func TestTotalLengthMatchesAddRemoveArithmetic(t *testing.T) {
	tr := New()
	tr.Add(0, 100, "x")
	if got := tr.TotalLength(); got != 100 {
		t.Fatalf("got %d, want 100", got)
	}
	tr.Remove(20, 30)
	if got := tr.TotalLength(); got != 70 {
		t.Fatalf("got %d, want 70", got)
	}
}

func TestRemovePartialOverlapOnBothSides(t *testing.T) {
	tr := New()
	tr.Add(0, 10, "x")
	tr.Add(20, 10, "x") // two disjoint entries, not adjacent
	removed := tr.Remove(5, 20)
	var total uint64
	for _, r := range removed {
		total += r.Len()
	}
	if total != 10 {
		t.Fatalf("expected 10 bytes removed across both entries, got %d", total)
	}
}
