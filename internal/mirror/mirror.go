// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mirror maintains the per-goroutine mirror of the managed call
// stack. A profile hook installed in the managed runtime (modeled here as
// the Push and Pop calls a host program makes from its own call/return
// instrumentation) pushes a frame on CALL and pops it on RETURN; intercepts
// read the mirror for the current goroutine without touching any
// runtime-global lock, which is the whole point: an allocator can be
// invoked from a goroutine that does not hold the managed runtime's lock,
// and a push/pop only takes the mirror's own short-held mutex.
//
// This is the same "walk a goroutine's live frame list" idea behind
// reading a suspended goroutine's call stack out of a core dump, adapted
// from a point-in-time walk into a live, incrementally maintained mirror.
package mirror

import (
	"sync"

	"github.com/bloomberg/memray-sub002/internal/recordio"
)

// Event is what a runtime profile hook reports.
type Event uint8

const (
	Call Event = iota
	Return
)

type goState struct {
	stack []recordio.ManagedFrame
}

// Mirror owns one stack per goroutine, guarded by a single mutex. The
// critical section is a slice append/truncate, kept as short as every
// other shared structure in this profiler.
type Mirror struct {
	mu    sync.Mutex
	byGID map[int64]*goState
}

func New() *Mirror {
	return &Mirror{byGID: make(map[int64]*goState)}
}

func (m *Mirror) state(gid int64) *goState {
	s, ok := m.byGID[gid]
	if !ok {
		s = &goState{}
		m.byGID[gid] = s
	}
	return s
}

// Push records a CALL into f on behalf of goroutine gid.
func (m *Mirror) Push(gid int64, f recordio.ManagedFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(gid)
	s.stack = append(s.stack, f)
}

// Pop records a RETURN for goroutine gid. Popping an empty stack is a
// no-op: it can happen legitimately when the mirror is installed mid-call,
// before Prepopulate has run for that goroutine.
func (m *Mirror) Pop(gid int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(gid)
	if len(s.stack) == 0 {
		return
	}
	s.stack = s.stack[:len(s.stack)-1]
}

// Snapshot returns the current stack for gid, outermost frame first. The
// returned slice is a copy: callers (the allocator intercept) must be able
// to read it without racing a concurrent Push/Pop on the same goroutine,
// which cannot happen by construction (a goroutine cannot call an
// allocator and also push/pop its own mirror at the same instant), but the
// copy also protects against the caller retaining the slice across a
// later mutation.
func (m *Mirror) Snapshot(gid int64) []recordio.ManagedFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byGID[gid]
	if !ok {
		return nil
	}
	out := make([]recordio.ManagedFrame, len(s.stack))
	copy(out, s.stack)
	return out
}

// Prepopulate installs frames as the existing stack for gid, used at
// install time to seed the mirror with frames that were already active
// above the install point. The existing stack must be built by walking
// the runtime's frame list once while its lock is held; the caller is
// responsible for doing that walk and handing the result here, since
// this package has no access to the managed runtime itself.
func (m *Mirror) Prepopulate(gid int64, frames []recordio.ManagedFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(gid)
	s.stack = append([]recordio.ManagedFrame(nil), frames...)
}

// Forget drops all stack state for gid, used when a goroutine exits.
func (m *Mirror) Forget(gid int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byGID, gid)
}

// Reset clears every goroutine's mirror, used by the fork discipline: a
// freshly forked child has exactly one thread of control and none of the
// parent's other goroutines exist in it.
func (m *Mirror) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byGID = make(map[int64]*goState)
}
