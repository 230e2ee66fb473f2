// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package writer

import (
	"bytes"
	"io"
	"testing"

	"github.com/bloomberg/memray-sub002/internal/reader"
	"github.com/bloomberg/memray-sub002/internal/recordio"
)

// memSink is a minimal seekable in-memory Sink for round-trip tests.
type memSink struct {
	buf    []byte
	offset int
}

func (s *memSink) Write(p []byte) (int, error) {
	if s.offset == len(s.buf) {
		s.buf = append(s.buf, p...)
		s.offset += len(p)
		return len(p), nil
	}
	n := copy(s.buf[s.offset:], p)
	if n < len(p) {
		s.buf = append(s.buf, p[n:]...)
	}
	s.offset += len(p)
	return len(p), nil
}
func (s *memSink) Close() error     { return nil }
func (s *memSink) Seekable() bool   { return true }
func (s *memSink) SeekStart(off int64) error {
	s.offset = int(off)
	return nil
}

type memSource struct {
	*bytes.Reader
}

func (memSource) Close() error { return nil }

func TestWriterReaderRoundTrip(t *testing.T) {
	sk := &memSink{}
	w, err := New(sk, false, 123, "prog --flag")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	id, err := w.EnsureFrame(recordio.ManagedFrame{FunctionName: "main", FileName: "main.go", StartingLine: 10})
	if err != nil {
		t.Fatalf("EnsureFrame: %v", err)
	}
	if err := w.FramePush(id, 1); err != nil {
		t.Fatalf("FramePush: %v", err)
	}
	if err := w.Allocation(recordio.AllocationEvent{ThreadID: 1, Address: 0x1000, Size: 64, Kind: recordio.KindMalloc, Line: 10}); err != nil {
		t.Fatalf("Allocation: %v", err)
	}
	if err := w.Allocation(recordio.AllocationEvent{ThreadID: 1, Address: 0x1000, Size: 0, Kind: recordio.KindFree, Line: 11}); err != nil {
		t.Fatalf("Allocation free: %v", err)
	}
	if err := w.FramePop(id, 1); err != nil {
		t.Fatalf("FramePop: %v", err)
	}
	if w.NAllocations() != 2 {
		t.Fatalf("got %d allocations, want 2", w.NAllocations())
	}
	if err := w.WriteEndMarker(); err != nil {
		t.Fatalf("WriteEndMarker: %v", err)
	}
	finalHeader := recordio.Header{
		Version:      recordio.FormatVersion,
		Pid:          123,
		NativeTraces: false,
		CommandLine:  "prog --flag",
		Stats:        recordio.Stats{NAllocations: w.NAllocations()},
	}
	if err := w.RewriteHeader(finalHeader); err != nil {
		t.Fatalf("RewriteHeader: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	src := memSource{bytes.NewReader(sk.buf)}
	r, err := reader.Open(src)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.Header.Pid != 123 || r.Header.Stats.NAllocations != 2 {
		t.Fatalf("got header %+v", r.Header)
	}

	var got []reader.Allocation
	for {
		a, err := r.Next()
		if err == reader.ErrEnd {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, a)
	}
	if err != io.EOF && len(got) != 2 {
		t.Fatalf("got %d allocations, want 2: %+v", len(got), got)
	}
	if got[0].Event.Kind != recordio.KindMalloc || got[1].Event.Kind != recordio.KindFree {
		t.Fatalf("got kinds %v, %v", got[0].Event.Kind, got[1].Event.Kind)
	}
	if got[0].StackID != got[1].StackID {
		t.Fatalf("expected both events to resolve to the same stack id, got %d and %d", got[0].StackID, got[1].StackID)
	}
}
