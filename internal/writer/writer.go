// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package writer implements the record writer: a single mutex, a
// fixed-size in-process buffer that flushes to the sink when full, and a
// header that is written twice — once as a placeholder at start, once
// rewritten (via Sink.SeekStart) with final aggregate stats at stop.
package writer

import (
	"bufio"
	"fmt"
	"sync"

	"github.com/bloomberg/memray-sub002/internal/interner"
	"github.com/bloomberg/memray-sub002/internal/recordio"
	"github.com/bloomberg/memray-sub002/internal/segment"
	"github.com/bloomberg/memray-sub002/internal/sink"
)

// defaultBufferSize is a fixed-size in-process buffer; 256KiB keeps a busy
// capture from flushing on every single record without holding an
// unbounded amount of unflushed data.
const defaultBufferSize = 256 * 1024

// Writer serializes a capture session to a Sink. All exported methods are
// safe for concurrent use: the critical section under the mutex is always
// bounded by a single record's size.
type Writer struct {
	mu     sync.Mutex
	sink   sink.Sink
	buf    *bufio.Writer
	closed bool

	Interner *interner.Interner
	Segments *segment.Map

	headerSize   int64
	nAllocations uint64

	liveBytes    map[uint64]uint64
	currentBytes uint64
	peakBytes    uint64
}

// New wraps s in a Writer and writes the header with placeholder stats
// that Stop later rewrites with final values.
func New(s sink.Sink, native bool, pid uint32, commandLine string) (*Writer, error) {
	w := &Writer{
		sink:      s,
		buf:       bufio.NewWriterSize(s, defaultBufferSize),
		Interner:  interner.New(),
		Segments:  &segment.Map{},
		liveBytes: make(map[uint64]uint64),
	}
	h := recordio.Header{
		Version:      recordio.FormatVersion,
		Pid:          pid,
		NativeTraces: native,
		CommandLine:  commandLine,
	}
	w.headerSize = recordio.HeaderSize(h)
	if err := recordio.EncodeHeader(w.buf, h); err != nil {
		return nil, fmt.Errorf("writer: write header: %w", err)
	}
	return w, nil
}

// EnsureFrame interns f if new and emits a FRAME_INDEX record; it returns
// the (possibly pre-existing) frame id to use in subsequent push/pop and
// allocation records.
func (w *Writer) EnsureFrame(f recordio.ManagedFrame) (uint32, error) {
	id, isNew := w.Interner.GetIndex(f)
	if !isNew {
		return id, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := recordio.WriteFrameIndex(w.buf, id, f); err != nil {
		return id, fmt.Errorf("writer: write frame index: %w", err)
	}
	return id, nil
}

func (w *Writer) FramePush(frameID uint32, tid uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return recordio.WriteFramePush(w.buf, frameID, tid)
}

func (w *Writer) FramePop(frameID uint32, tid uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return recordio.WriteFramePop(w.buf, frameID, tid)
}

// Allocation writes one ALLOCATION record and bumps the running count used
// for the final header stats.
func (w *Writer) Allocation(e recordio.AllocationEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := recordio.WriteAllocation(w.buf, e); err != nil {
		return fmt.Errorf("writer: write allocation: %w", err)
	}
	w.nAllocations++
	w.accountBytes(e)
	return nil
}

// accountBytes keeps a running total of live bytes for the header's
// peak_memory field, a fast approximate summary: deallocations are
// matched by address only. A free or munmap at the start address of a
// recorded allocation drops that allocation's whole size, even when the
// munmap covers only part of the mapping; a munmap starting anywhere
// else changes nothing. The aggregator's interval tree splits ranges
// exactly for a final LeakSnapshot/HighWaterMarkSnapshot.
func (w *Writer) accountBytes(e recordio.AllocationEvent) {
	switch e.Kind {
	case recordio.KindFree, recordio.KindMunmap:
		if sz, ok := w.liveBytes[e.Address]; ok {
			delete(w.liveBytes, e.Address)
			if sz > w.currentBytes {
				w.currentBytes = 0
			} else {
				w.currentBytes -= sz
			}
		}
	default:
		w.liveBytes[e.Address] = e.Size
		w.currentBytes += e.Size
		if w.currentBytes > w.peakBytes {
			w.peakBytes = w.currentBytes
		}
	}
}

// PeakMemory returns the largest running total of live bytes observed
// so far, for the final header stats.
func (w *Writer) PeakMemory() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.peakBytes
}

// NativeFrameIndex interns an unresolved (ip, generation) pair.
func (w *Writer) NativeFrameIndex(id uint32, key recordio.NativeFrameKey) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return recordio.WriteNativeFrameIndex(w.buf, id, key)
}

// NewGeneration bumps the segment generation and returns its number,
// called by the tracker on dlopen/dlclose to invalidate the module cache.
func (w *Writer) NewGeneration() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Segments.NewGeneration()
}

// EmitSegments writes a SEGMENT_HEADER followed by one SEGMENT record per
// segment for the given generation's full segment list, and registers
// them in the writer's own segment map.
func (w *Writer) EmitSegments(fileName string, base uint64, segs []segment.Segment) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	gen := w.Segments.CurrentGeneration()
	if gen == 0 {
		gen = w.Segments.NewGeneration()
	}
	for _, s := range segs {
		w.Segments.Add(s)
	}
	if err := recordio.WriteSegmentHeader(w.buf, recordio.SegmentHeader{
		FileName:    fileName,
		NumSegments: uint32(len(segs)),
		BaseAddress: base,
		Generation:  gen,
	}); err != nil {
		return fmt.Errorf("writer: write segment header: %w", err)
	}
	for _, s := range segs {
		if err := recordio.WriteSegment(w.buf, recordio.SegmentRange{Start: s.Base, End: s.End()}); err != nil {
			return fmt.Errorf("writer: write segment: %w", err)
		}
	}
	return nil
}

// MemorySnapshot writes a periodic total-heap sample.
func (w *Writer) MemorySnapshot(s recordio.MemorySnapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return recordio.WriteMemorySnapshot(w.buf, s)
}

// Flush pushes any buffered bytes to the sink.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Flush()
}

// NAllocations returns the running allocation count, used to fill in the
// final header stats at stop.
func (w *Writer) NAllocations() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nAllocations
}

// WriteEndMarker flushes the buffer and appends the END tag, called by the
// orchestrator before it rewrites the header. A reader treats either the
// END tag or the source connection closing as end-of-stream.
func (w *Writer) WriteEndMarker() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := recordio.WriteEnd(w.buf); err != nil {
		return fmt.Errorf("writer: write end marker: %w", err)
	}
	return w.buf.Flush()
}

// RewriteHeader seeks to offset 0 and writes h with final stats. It is
// the caller's responsibility to pass a Header identical to the one
// originally written except for Stats, since the encoded size (and thus
// everything after it) must not move.
func (w *Writer) RewriteHeader(h recordio.Header) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.sink.Seekable() {
		return nil
	}
	if err := w.sink.SeekStart(0); err != nil {
		return fmt.Errorf("writer: seek to header: %w", err)
	}
	if err := recordio.EncodeHeader(w.sink, h); err != nil {
		return fmt.Errorf("writer: rewrite header: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying sink.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.sink.Close()
}
