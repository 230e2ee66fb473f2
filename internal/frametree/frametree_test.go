// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frametree

import (
	"reflect"
	"testing"
)

func TestGetTraceIndexDeterministic(t *testing.T) {
	tr := New()
	stack := []uint32{1, 2, 3}
	a := tr.GetTraceIndex(stack)
	b := tr.GetTraceIndex(stack)
	if a != b {
		t.Fatalf("same stack produced different indices: %d vs %d", a, b)
	}
}

func TestGetTraceIndexSharesPrefixes(t *testing.T) {
	tr := New()
	a := tr.GetTraceIndex([]uint32{1, 2})
	b := tr.GetTraceIndex([]uint32{1, 3})
	if a == b {
		t.Fatal("distinct stacks collided on the same index")
	}
	// Both should share the node for frame 1.
	sa := tr.Stack(a)
	sb := tr.Stack(b)
	if sa[0] != 1 || sb[0] != 1 {
		t.Fatalf("expected shared root frame, got %v and %v", sa, sb)
	}
}

func TestStackRoundTrip(t *testing.T) {
	tr := New()
	want := []uint32{10, 20, 30}
	idx := tr.GetTraceIndex(want)
	got := tr.Stack(idx)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestOnInsertFiresOncePerNewNode(t *testing.T) {
	tr := New()
	var inserted []Index
	tr.OnInsert(func(idx Index, n Node) { inserted = append(inserted, idx) })

	tr.GetTraceIndex([]uint32{1, 2})
	tr.GetTraceIndex([]uint32{1, 2}) // repeat: no new nodes
	tr.GetTraceIndex([]uint32{1, 3}) // one new node

	if len(inserted) != 3 {
		t.Fatalf("expected 3 new-node callbacks, got %d", len(inserted))
	}
}

func TestIndicesAreImmutable(t *testing.T) {
	tr := New()
	idx := tr.GetTraceIndex([]uint32{5})
	tr.GetTraceIndex([]uint32{5, 6})
	tr.GetTraceIndex([]uint32{5, 7})
	if got := tr.Stack(idx); !reflect.DeepEqual(got, []uint32{5}) {
		t.Fatalf("earlier index's stack changed after later inserts: %v", got)
	}
}

func TestInsertRebuildsLookup(t *testing.T) {
	tr := New()
	tr.Insert(1, Node{FrameID: 7, ParentIdx: Root})
	tr.Insert(2, Node{FrameID: 9, ParentIdx: 1})
	if got := tr.GetTraceIndex([]uint32{7, 9}); got != 2 {
		t.Fatalf("got index %d, want 2", got)
	}
}
