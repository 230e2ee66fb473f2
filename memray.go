// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package memray is the public facade: the API surface consumed by an
// outer CLI or library layer. It wires together the tracker
// orchestrator, the record reader, the aggregator, and the native
// resolver behind the handful of calls a caller actually needs:
// StartTracker, StopTracker, OpenReader, and the Reader query methods.
package memray

import (
	"fmt"

	"github.com/bloomberg/memray-sub002/internal/aggregate"
	"github.com/bloomberg/memray-sub002/internal/frametree"
	"github.com/bloomberg/memray-sub002/internal/hook"
	"github.com/bloomberg/memray-sub002/internal/reader"
	"github.com/bloomberg/memray-sub002/internal/recordio"
	"github.com/bloomberg/memray-sub002/internal/sink"
	"github.com/bloomberg/memray-sub002/internal/tracker"
	"github.com/bloomberg/memray-sub002/internal/unwind"
)

// Tracker is a live capture session.
type Tracker struct{ t *tracker.Tracker }

// StartOptions configures StartTracker.
type StartOptions struct {
	NativeTraces bool
	FollowFork   bool
	SocketPort   int
	Pid          uint32
	CommandLine  string
}

// StartTracker begins a new capture, writing to output (a file path) or,
// if opts.SocketPort is non-zero, streaming to the first TCP client that
// connects on that port. It fails if a capture is already active in
// this process or if output already exists.
func StartTracker(output string, opts StartOptions) (*Tracker, error) {
	t, err := tracker.Start(tracker.Options{
		Output:       output,
		NativeTraces: opts.NativeTraces,
		FollowFork:   opts.FollowFork,
		SocketPort:   opts.SocketPort,
		Pid:          opts.Pid,
		CommandLine:  opts.CommandLine,
	})
	if err != nil {
		return nil, err
	}
	return &Tracker{t: t}, nil
}

// Hooks exposes the allocator intercepts a traced native extension
// shim should call into; see internal/hook.Hooks for the methods.
func (t *Tracker) Hooks() *hook.Hooks { return t.t.Hooks }

// StopTracker ends the capture, restoring patched symbols and
// finalizing the header with aggregate stats.
func StopTracker(t *Tracker) error {
	return t.t.Stop()
}

// Reader replays a finished (or in-progress) capture.
type Reader struct {
	r        *reader.Reader
	events   []reader.Allocation
	resolver *unwind.Resolver
	loaded   bool
}

// OpenReader opens a capture file for reading.
func OpenReader(input string) (*Reader, error) {
	src, err := sink.OpenFileSource(input)
	if err != nil {
		return nil, err
	}
	rd, err := reader.Open(src)
	if err != nil {
		src.Close()
		return nil, err
	}
	return &Reader{r: rd, resolver: unwind.New(rd.Segments)}, nil
}

// OpenReaderSocket connects to a running capture's socket sink.
func OpenReaderSocket(addr string) (*Reader, error) {
	src, err := sink.DialSocketSource(addr)
	if err != nil {
		return nil, err
	}
	rd, err := reader.Open(src)
	if err != nil {
		src.Close()
		return nil, err
	}
	return &Reader{r: rd, resolver: unwind.New(rd.Segments)}, nil
}

// Metadata returns the capture's header.
func (r *Reader) Metadata() recordio.Header {
	return r.r.Header
}

// Events returns every allocation event in the capture, in stream
// order. Subsequent calls reuse the first read's result rather than
// re-parsing.
func (r *Reader) Events() ([]reader.Allocation, error) {
	if r.loaded {
		return r.events, nil
	}
	events, err := reader.ReadAll(r.r)
	if err != nil {
		return nil, fmt.Errorf("memray: read events: %w", err)
	}
	r.events = events
	r.loaded = true
	return events, nil
}

// Snapshot is one row of a reduced view: a stack, its thread (or
// AllThreads when merged), total live size, and live count.
type Snapshot struct {
	StackID  int32
	ThreadID uint64
	Size     uint64
	Count    uint64
}

func fromEntries(es []aggregate.Entry) []Snapshot {
	out := make([]Snapshot, len(es))
	for i, e := range es {
		out[i] = Snapshot{StackID: int32(e.StackID), ThreadID: e.ThreadID, Size: e.Size, Count: e.Count}
	}
	return out
}

// HighWaterMarkSnapshot returns the set of allocations live at the
// event index where heap usage peaked.
func (r *Reader) HighWaterMarkSnapshot(mergeThreads bool) ([]Snapshot, error) {
	events, err := r.Events()
	if err != nil {
		return nil, err
	}
	return fromEntries(aggregate.New(events).HighWaterMarkSnapshot(mergeThreads)), nil
}

// LeakSnapshot returns every allocation never matched by a
// deallocation before the capture ended.
func (r *Reader) LeakSnapshot(mergeThreads bool) ([]Snapshot, error) {
	events, err := r.Events()
	if err != nil {
		return nil, err
	}
	return fromEntries(aggregate.New(events).LeakSnapshot(mergeThreads)), nil
}

// TemporaryAllocations returns allocations freed at most threshold
// events after their own allocation (by event-index difference, so an
// allocation freed by the very next event needs threshold >= 1).
func (r *Reader) TemporaryAllocations(threshold int) ([]reader.Allocation, error) {
	events, err := r.Events()
	if err != nil {
		return nil, err
	}
	return aggregate.New(events).TemporaryAllocations(threshold), nil
}

// Frame is one resolved stack frame, either managed or (after symbol
// resolution) native.
type Frame struct {
	Function string
	File     string
	Line     int
	IsInline bool
}

// ResolveStack expands a managed stack_id into its frames, innermost
// (the function that called the allocator) first, capped at maxDepth
// (0 means unlimited).
func (r *Reader) ResolveStack(stackID int32, maxDepth int) []Frame {
	ids := r.r.Tree.Stack(frametree.Index(stackID))
	frames := make([]Frame, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		f, ok := r.r.Interner.Frame(ids[i])
		if !ok {
			continue
		}
		frames = append(frames, Frame{Function: f.FunctionName, File: f.FileName, Line: int(f.StartingLine)})
		if maxDepth > 0 && len(frames) >= maxDepth {
			break
		}
	}
	return frames
}

// ResolveAllocationStack is ResolveStack for a specific Allocation: the
// innermost frame's line is overridden with the event's own call-site
// line, since one interned frame's starting_line can be shared by many
// call sites within the same function.
func (r *Reader) ResolveAllocationStack(a reader.Allocation, maxDepth int) []Frame {
	frames := r.ResolveStack(int32(a.StackID), maxDepth)
	if len(frames) > 0 && a.Event.Line != 0 {
		frames[0].Line = int(a.Event.Line)
	}
	return frames
}

// ResolveNativeStack resolves a single captured native instruction
// pointer, identified by the id assigned when it was interned.
func (r *Reader) ResolveNativeStack(nativeFrameID uint32, maxDepth int) []Frame {
	key, ok := r.r.NativeFrame(nativeFrameID)
	if !ok {
		return nil
	}
	rs := r.resolver.Resolve(key)
	if maxDepth > 0 && len(rs) > maxDepth {
		rs = rs[:maxDepth]
	}
	frames := make([]Frame, len(rs))
	for i, f := range rs {
		frames[i] = Frame{Function: f.Symbol, File: f.File, Line: f.Line, IsInline: f.IsInline}
	}
	return frames
}

// Close releases the reader's underlying source.
func (r *Reader) Close() error {
	return r.r.Close()
}
