// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package reader implements the record reader: a resumable, forward-only
// parser that interns frames, rebuilds the per-thread frame stack from
// FRAME_PUSH/FRAME_POP deltas, computes each allocation's stack_id via the
// shared frame tree, and yields Allocation values lazily.
package reader

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/bloomberg/memray-sub002/internal/frametree"
	"github.com/bloomberg/memray-sub002/internal/interner"
	"github.com/bloomberg/memray-sub002/internal/recordio"
	"github.com/bloomberg/memray-sub002/internal/segment"
	"github.com/bloomberg/memray-sub002/internal/sink"
)

// Allocation is the post-read, enriched event: the raw wire event plus
// the stack id it resolves to and a running allocation count.
type Allocation struct {
	Event        recordio.AllocationEvent
	StackID      frametree.Index
	NAllocations uint64
}

// Reader parses one capture stream. A Reader owns its own interner table
// and segment map, reconstructed entirely from what it reads, so two
// readers over the same capture never share mutable state.
type Reader struct {
	src      sink.Source
	br       *bufio.Reader
	Header   recordio.Header
	Interner *interner.Interner
	Segments *segment.Map
	Tree     *frametree.Tree

	threadStacks map[uint64][]uint32 // tid -> frame ids, root to leaf
	nativeFrames map[uint32]recordio.NativeFrameKey

	curSegFile string
	curSegBase uint64
	curSegGen  uint32
	curSegLeft uint32

	done bool
}

// Open reads and validates the header, then returns a Reader positioned at
// the first tagged record.
func Open(src sink.Source) (*Reader, error) {
	br := bufio.NewReader(src)
	h, err := recordio.DecodeHeader(br)
	if err != nil {
		return nil, fmt.Errorf("reader: %w", err)
	}
	return &Reader{
		src:          src,
		br:           br,
		Header:       h,
		Interner:     interner.New(),
		Segments:     &segment.Map{},
		Tree:         frametree.New(),
		threadStacks: make(map[uint64][]uint32),
		nativeFrames: make(map[uint32]recordio.NativeFrameKey),
	}, nil
}

// ErrEnd is returned by Next once the END tag (or, for a socket source, the
// closed connection) has been reached.
var ErrEnd = errors.New("reader: end of capture")

// Next parses records until it can produce the next Allocation, or returns
// ErrEnd when the stream is exhausted. Non-allocation records (frame
// index/push/pop, segments, native frame index, memory snapshots) are
// consumed transparently to maintain reader state; callers only ever see
// Allocation values, as a lazy sequence one call at a time.
func (r *Reader) Next() (Allocation, error) {
	if r.done {
		return Allocation{}, ErrEnd
	}
	for {
		tag, err := recordio.ReadTag(r.br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				// A socket source may simply close instead of sending an
				// END marker.
				r.done = true
				return Allocation{}, ErrEnd
			}
			return Allocation{}, fmt.Errorf("reader: read tag: %w", err)
		}
		switch tag {
		case recordio.RecordEnd:
			r.done = true
			return Allocation{}, ErrEnd

		case recordio.RecordFrameIndex:
			id, f, err := recordio.ReadFrameIndex(r.br)
			if err != nil {
				return Allocation{}, fmt.Errorf("reader: frame index: %w", err)
			}
			r.Interner.Insert(id, f)

		case recordio.RecordFramePush:
			frameID, tid, err := recordio.ReadFrameDelta(r.br)
			if err != nil {
				return Allocation{}, fmt.Errorf("reader: frame push: %w", err)
			}
			r.threadStacks[tid] = append(r.threadStacks[tid], frameID)

		case recordio.RecordFramePop:
			_, tid, err := recordio.ReadFrameDelta(r.br)
			if err != nil {
				return Allocation{}, fmt.Errorf("reader: frame pop: %w", err)
			}
			s := r.threadStacks[tid]
			if len(s) > 0 {
				r.threadStacks[tid] = s[:len(s)-1]
			}

		case recordio.RecordNativeFrameIndex:
			id, key, err := recordio.ReadNativeFrameIndex(r.br)
			if err != nil {
				return Allocation{}, fmt.Errorf("reader: native frame index: %w", err)
			}
			r.nativeFrames[id] = key

		case recordio.RecordSegmentHeader:
			sh, err := recordio.ReadSegmentHeader(r.br)
			if err != nil {
				return Allocation{}, fmt.Errorf("reader: segment header: %w", err)
			}
			r.curSegFile, r.curSegBase, r.curSegGen, r.curSegLeft = sh.FileName, sh.BaseAddress, sh.Generation, sh.NumSegments
			if r.Segments.CurrentGeneration() != sh.Generation {
				r.Segments.AddGeneration(sh.Generation, nil)
			}

		case recordio.RecordSegment:
			sr, err := recordio.ReadSegment(r.br)
			if err != nil {
				return Allocation{}, fmt.Errorf("reader: segment: %w", err)
			}
			r.Segments.Add(segment.Segment{FileName: r.curSegFile, Base: sr.Start, Length: sr.End - sr.Start})
			if r.curSegLeft > 0 {
				r.curSegLeft--
			}

		case recordio.RecordMemorySnapshot:
			if _, err := recordio.ReadMemorySnapshot(r.br); err != nil {
				return Allocation{}, fmt.Errorf("reader: memory snapshot: %w", err)
			}

		case recordio.RecordAllocation:
			ev, err := recordio.ReadAllocation(r.br)
			if err != nil {
				return Allocation{}, fmt.Errorf("reader: allocation: %w", err)
			}
			stack := r.threadStacks[ev.ThreadID]
			stackID := r.Tree.GetTraceIndex(stack)
			return Allocation{Event: ev, StackID: stackID, NAllocations: 1}, nil

		default:
			return Allocation{}, fmt.Errorf("reader: unknown record tag %d", tag)
		}
	}
}

// NativeFrame returns the unresolved (ip, generation) pair registered
// under id, for use by the native resolver (internal/unwind).
func (r *Reader) NativeFrame(id uint32) (recordio.NativeFrameKey, bool) {
	k, ok := r.nativeFrames[id]
	return k, ok
}

// ReadAll drains the reader into a slice, for small captures and tests.
func ReadAll(r *Reader) ([]Allocation, error) {
	var out []Allocation
	for {
		a, err := r.Next()
		if errors.Is(err, ErrEnd) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, a)
	}
}

// Close releases the underlying source.
func (r *Reader) Close() error {
	return r.src.Close()
}
