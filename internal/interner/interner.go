// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package interner implements the frame interner: a process-wide,
// lock-protected map from (function, file, starting line) to a dense,
// monotonically-increasing id. Ids are a bijection onto [0, n): every
// distinct frame value gets exactly one id, and every id maps back to
// exactly one frame value.
package interner

import (
	"sync"

	"github.com/bloomberg/memray-sub002/internal/recordio"
)

// Interner assigns dense ids to ManagedFrame values, returning the existing
// id for a frame already seen. Safe for concurrent use; the critical
// section is a single map lookup-or-insert, so contention stays low even
// under heavy allocation traffic.
type Interner struct {
	mu      sync.Mutex
	byFrame map[recordio.ManagedFrame]uint32
	frames  []recordio.ManagedFrame
}

func New() *Interner {
	return &Interner{byFrame: make(map[recordio.ManagedFrame]uint32)}
}

// GetIndex returns the id for f, allocating a new one if f has not been
// seen before. isNew tells the caller whether a FRAME_INDEX record needs
// to be emitted.
func (in *Interner) GetIndex(f recordio.ManagedFrame) (id uint32, isNew bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if id, ok := in.byFrame[f]; ok {
		return id, false
	}
	id = uint32(len(in.frames))
	in.frames = append(in.frames, f)
	in.byFrame[f] = id
	return id, true
}

// Insert records a frame under an explicit id, used by the reader when
// rebuilding the interner table from FRAME_INDEX records on the wire. It
// does not allocate a new id: the id is dictated by the stream.
func (in *Interner) Insert(id uint32, f recordio.ManagedFrame) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for uint32(len(in.frames)) <= id {
		in.frames = append(in.frames, recordio.ManagedFrame{})
	}
	in.frames[id] = f
	in.byFrame[f] = id
}

// Frame returns the frame registered under id, if any.
func (in *Interner) Frame(id uint32) (recordio.ManagedFrame, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if id >= uint32(len(in.frames)) {
		return recordio.ManagedFrame{}, false
	}
	return in.frames[id], true
}

// Len returns the number of distinct frames interned so far.
func (in *Interner) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.frames)
}
