// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package frametree implements call-tree compression: a trie over
// sequences of interned frame ids, where each distinct stack gets a dense
// stack_id (the index of its terminal node) and the full stack is
// recovered by walking parent links back to the root.
//
// Each node's children are kept sorted by frame id and found with
// sort.Search, giving O(log k) child lookup instead of a hash map per
// node — appropriate here because most nodes have very few children (most
// call sites fan out to a handful of callees, not thousands).
package frametree

import "sort"

// Index identifies a node in the trie. Index 0 is the reserved root,
// meaning "no parent".
type Index int32

const Root Index = 0

// Node is one trie entry: a frame id plus the index of its parent node.
type Node struct {
	FrameID   uint32
	ParentIdx Index
}

type child struct {
	frameID uint32
	idx     Index
}

// Tree is append-only: once an index is assigned it is immutable for the
// lifetime of the Tree.
type Tree struct {
	nodes    []Node // nodes[0] is the unused root sentinel
	children [][]child
	onInsert func(idx Index, n Node)
}

func New() *Tree {
	t := &Tree{
		nodes:    []Node{{FrameID: 0, ParentIdx: -1}},
		children: [][]child{nil},
	}
	return t
}

// OnInsert installs a callback fired exactly once per newly-created
// node, intermediate or terminal, in insertion order, so a caller can
// emit the record backing each node the first time it's seen.
func (t *Tree) OnInsert(f func(idx Index, n Node)) {
	t.onInsert = f
}

// GetTraceIndex walks stack (innermost frame last, i.e. root-to-leaf order)
// down the trie, creating nodes as needed, and returns the index of the
// terminal node. Calling GetTraceIndex twice with the same stack always
// returns the same index.
func (t *Tree) GetTraceIndex(stack []uint32) Index {
	cur := Root
	for _, frameID := range stack {
		cur = t.child(cur, frameID)
	}
	return cur
}

func (t *Tree) child(parent Index, frameID uint32) Index {
	kids := t.children[parent]
	i := sort.Search(len(kids), func(i int) bool { return kids[i].frameID >= frameID })
	if i < len(kids) && kids[i].frameID == frameID {
		return kids[i].idx
	}
	idx := Index(len(t.nodes))
	n := Node{FrameID: frameID, ParentIdx: parent}
	t.nodes = append(t.nodes, n)
	t.children = append(t.children, nil)
	kids = append(kids, child{})
	copy(kids[i+1:], kids[i:])
	kids[i] = child{frameID: frameID, idx: idx}
	t.children[parent] = kids
	if t.onInsert != nil {
		t.onInsert(idx, n)
	}
	return idx
}

// Insert registers an explicit node under idx. The reader itself never
// needs this: it recomputes stack_id from the per-thread frame stack it
// already maintains. Insert exists for tests and tools that want to
// rebuild a Tree directly from frame-node records.
func (t *Tree) Insert(idx Index, n Node) {
	for Index(len(t.nodes)) <= idx {
		t.nodes = append(t.nodes, Node{ParentIdx: -1})
		t.children = append(t.children, nil)
	}
	t.nodes[idx] = n
	if n.ParentIdx >= 0 {
		kids := t.children[n.ParentIdx]
		i := sort.Search(len(kids), func(i int) bool { return kids[i].frameID >= n.FrameID })
		kids = append(kids, child{})
		copy(kids[i+1:], kids[i:])
		kids[i] = child{frameID: n.FrameID, idx: idx}
		t.children[n.ParentIdx] = kids
	}
}

// Stack reconstructs the full frame-id sequence (root-to-leaf) for idx by
// walking parent links.
func (t *Tree) Stack(idx Index) []uint32 {
	var rev []uint32
	for idx != Root {
		n := t.nodes[idx]
		rev = append(rev, n.FrameID)
		idx = n.ParentIdx
	}
	out := make([]uint32, len(rev))
	for i, v := range rev {
		out[len(rev)-1-i] = v
	}
	return out
}

// Len returns the number of nodes including the root sentinel.
func (t *Tree) Len() int { return len(t.nodes) }
