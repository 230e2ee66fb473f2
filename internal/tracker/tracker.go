// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tracker owns the capture lifecycle: start opens the sink,
// writes the placeholder header, patches symbols and records the loaded
// segments; stop restores symbols and rewrites the header with final
// stats. Exactly one Tracker may be ACTIVE per
// process at a time.
package tracker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bloomberg/memray-sub002/internal/guard"
	"github.com/bloomberg/memray-sub002/internal/hook"
	"github.com/bloomberg/memray-sub002/internal/mirror"
	"github.com/bloomberg/memray-sub002/internal/recordio"
	"github.com/bloomberg/memray-sub002/internal/segment"
	"github.com/bloomberg/memray-sub002/internal/sink"
	"github.com/bloomberg/memray-sub002/internal/tracelog"
	"github.com/bloomberg/memray-sub002/internal/writer"
)

// State is the tracker's lifecycle state.
type State int32

const (
	Idle State = iota
	Active
	SuspendedInChild
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Active:
		return "ACTIVE"
	case SuspendedInChild:
		return "SUSPENDED_IN_CHILD"
	default:
		return "UNKNOWN"
	}
}

// active is the process-wide singleton check: constructing a second
// tracker while one is ACTIVE fails. An atomic pointer, never
// reflection, is how the singleton is guarded.
var active atomic.Pointer[Tracker]

// Options configures a capture session.
type Options struct {
	Output       string
	NativeTraces bool
	FollowFork   bool
	SocketPort   int // 0 means use a file sink at Output
	Pid          uint32
	CommandLine  string
}

// Tracker is the orchestrator of one capture session.
type Tracker struct {
	opts Options

	mu    sync.Mutex
	state State

	sink     sink.Sink
	socket   *sink.SocketSink
	Writer   *writer.Writer
	Segments *segment.Map
	Mirror   *mirror.Mirror
	Table    *hook.Table
	Patcher  *hook.Patcher
	Hooks    *hook.Hooks

	startTime time.Time
}

// Start constructs and activates a Tracker, failing if one is already
// active anywhere in the process.
func Start(opts Options) (*Tracker, error) {
	t := &Tracker{opts: opts, state: Idle}
	if !active.CompareAndSwap(nil, t) {
		return nil, fmt.Errorf("tracker: a capture is already active in this process")
	}

	s, err := openSink(opts)
	if err != nil {
		active.CompareAndSwap(t, nil)
		return nil, err
	}
	t.sink = s

	w, err := writer.New(s, opts.NativeTraces, opts.Pid, opts.CommandLine)
	if err != nil {
		s.Close()
		active.CompareAndSwap(t, nil)
		return nil, err
	}
	t.Writer = w
	t.Segments = w.Segments
	t.Segments.NewGeneration()
	t.Mirror = mirror.New()
	t.Table = hook.NewTable()
	t.Patcher = hook.NewPatcher(t.Table)
	t.Hooks = hook.NewHooks(t.Table, t.Patcher, t.Writer, t.Segments, t.Mirror)
	t.Hooks.OnModuleChange = t.onModuleChange
	if err := t.Patcher.PatchAll(); err != nil {
		tracelog.Warnf("tracker: patch symbols: %v", err)
	}
	t.emitSegments()

	t.startTime = time.Now()
	guard.Reset()
	t.mu.Lock()
	t.state = Active
	t.mu.Unlock()
	return t, nil
}

func openSink(opts Options) (sink.Sink, error) {
	if opts.SocketPort != 0 {
		ss, err := sink.ListenSocket(opts.SocketPort)
		if err != nil {
			return nil, err
		}
		if err := ss.Accept(); err != nil {
			ss.Close()
			return nil, err
		}
		return ss, nil
	}
	return sink.OpenFile(opts.Output)
}

// onModuleChange bumps the segment generation and repatches symbols
// after a dlopen/dlclose, invalidating any cached mapping of the old
// generation's addresses.
func (t *Tracker) onModuleChange(path string, base uintptr) {
	t.Segments.NewGeneration()
	if err := t.Patcher.PatchObject(path, base); err != nil {
		tracelog.Warnf("tracker: repatch %s: %v", path, err)
	}
	t.emitSegments()
}

// emitSegments serializes every currently loaded object's address
// ranges under the writer's current generation. Called once at Start
// (to seed generation 1) and again on every module change (a new
// generation has no segments of its own until they are re-emitted into
// it, since generation isolation means a generation never inherits the
// previous one's segment list).
func (t *Tracker) emitSegments() {
	objs, err := hook.ObjectSegments()
	if err != nil {
		tracelog.Warnf("tracker: read loaded object segments: %v", err)
		return
	}
	for path, segs := range objs {
		base := segs[0].Base
		for _, s := range segs[1:] {
			if s.Base < base {
				base = s.Base
			}
		}
		if err := t.Writer.EmitSegments(path, base, segs); err != nil {
			tracelog.Warnf("tracker: emit segments for %s: %v", path, err)
		}
	}
}

// State reports the tracker's current lifecycle state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Fork handles pre/post-fork discipline: the guard is set before the
// fork so allocations made during the fork itself are never traced;
// the parent clears it; the child is left SUSPENDED, with the guard
// still set, until it explicitly opts back in.
func (t *Tracker) PreFork() {
	guard.Set(true)
}

func (t *Tracker) PostForkParent() {
	guard.Set(false)
}

func (t *Tracker) PostForkChild() {
	t.mu.Lock()
	t.state = SuspendedInChild
	t.mu.Unlock()
	t.Mirror.Reset()
	guard.Set(true)
}

// ResumeInChild opts the child process back into tracking after a
// fork, matching "child leaves it set by default ... unless the caller
// explicitly opts in".
func (t *Tracker) ResumeInChild() {
	t.mu.Lock()
	t.state = Active
	t.mu.Unlock()
	guard.Set(false)
}

// Stop flips the tracker inactive, restores patched symbols, flushes
// and finalizes the capture, and releases the process-wide singleton
// slot.
func (t *Tracker) Stop() error {
	t.mu.Lock()
	if t.state == Idle {
		t.mu.Unlock()
		return fmt.Errorf("tracker: stop without start")
	}
	t.state = Idle
	t.mu.Unlock()

	if err := t.Patcher.RestoreAll(); err != nil {
		tracelog.Warnf("tracker: restore symbols: %v", err)
	}

	stats := recordio.Stats{
		StartTimeMs:  uint64(t.startTime.UnixMilli()),
		EndTimeMs:    timeNowMs(),
		NAllocations: t.Writer.NAllocations(),
		NFrames:      uint64(t.Writer.Interner.Len()),
		PeakMemory:   t.Writer.PeakMemory(),
	}
	if err := t.Writer.WriteEndMarker(); err != nil {
		tracelog.Warnf("tracker: write end marker: %v", err)
	}
	h := recordio.Header{
		Version:      recordio.FormatVersion,
		Pid:          t.opts.Pid,
		NativeTraces: t.opts.NativeTraces,
		CommandLine:  t.opts.CommandLine,
		Stats:        stats,
	}
	if err := t.Writer.RewriteHeader(h); err != nil {
		tracelog.Warnf("tracker: rewrite header: %v", err)
	}
	err := t.Writer.Close()
	active.CompareAndSwap(t, nil)
	return err
}

func timeNowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}
