// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recordio

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Version:      FormatVersion,
		Pid:          4242,
		NativeTraces: true,
		CommandLine:  "myprog --flag value",
		Stats: Stats{
			StartTimeMs:  1000,
			EndTimeMs:    2000,
			NAllocations: 7,
			NFrames:      3,
			PeakMemory:   60,
		},
	}
	var buf bytes.Buffer
	if err := EncodeHeader(&buf, h); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if int64(buf.Len()) != HeaderSize(h) {
		t.Fatalf("HeaderSize mismatch: got %d want %d", HeaderSize(h), buf.Len())
	}
	got, err := DecodeHeader(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, h)
	}
}

func TestDecodeHeaderBadMagic(t *testing.T) {
	buf := bytes.NewBufferString("xxxx")
	if _, err := DecodeHeader(buf); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestAllocationRoundTrip(t *testing.T) {
	events := []AllocationEvent{
		{ThreadID: 1, Address: 0x1000, Size: 100, Kind: KindMalloc, Line: 42, NativeFrameID: 0},
		{ThreadID: 2, Address: 0x1000, Size: 0, Kind: KindFree, Line: 43},
		{ThreadID: 1, Address: 0x2000, Size: 4096, Kind: KindMmap, Line: 10, NativeFrameID: 9},
	}
	var buf bytes.Buffer
	for _, e := range events {
		if err := WriteAllocation(&buf, e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	for _, want := range events {
		tag, err := ReadTag(&buf)
		if err != nil {
			t.Fatalf("read tag: %v", err)
		}
		if tag != RecordAllocation {
			t.Fatalf("got tag %v want ALLOCATION", tag)
		}
		got, err := ReadAllocation(&buf)
		if err != nil {
			t.Fatalf("read allocation: %v", err)
		}
		if got != want {
			t.Fatalf("got %+v want %+v", got, want)
		}
	}
}

func TestFrameIndexRoundTrip(t *testing.T) {
	f := ManagedFrame{FunctionName: "main.doWork", FileName: "main.go", StartingLine: 17}
	var buf bytes.Buffer
	if err := WriteFrameIndex(&buf, 5, f); err != nil {
		t.Fatalf("write: %v", err)
	}
	if tag, err := ReadTag(&buf); err != nil || tag != RecordFrameIndex {
		t.Fatalf("tag: %v %v", tag, err)
	}
	id, got, err := ReadFrameIndex(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if id != 5 || got != f {
		t.Fatalf("got id=%d frame=%+v, want id=5 frame=%+v", id, got, f)
	}
}

func TestFramePushPopRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFramePush(&buf, 3, 100); err != nil {
		t.Fatal(err)
	}
	if err := WriteFramePop(&buf, 3, 100); err != nil {
		t.Fatal(err)
	}
	tag, _ := ReadTag(&buf)
	if tag != RecordFramePush {
		t.Fatalf("got %v want FRAME_PUSH", tag)
	}
	frameID, tid, err := ReadFrameDelta(&buf)
	if err != nil || frameID != 3 || tid != 100 {
		t.Fatalf("push: got %d %d %v", frameID, tid, err)
	}
	tag, _ = ReadTag(&buf)
	if tag != RecordFramePop {
		t.Fatalf("got %v want FRAME_POP", tag)
	}
}

func TestSegmentRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	hdr := SegmentHeader{FileName: "/lib/libc.so.6", NumSegments: 2, BaseAddress: 0x7f0000000000, Generation: 1}
	if err := WriteSegmentHeader(&buf, hdr); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadTag(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := ReadSegmentHeader(&buf)
	if err != nil || got != hdr {
		t.Fatalf("got %+v err %v, want %+v", got, err, hdr)
	}
}

func TestAllocatorKindShape(t *testing.T) {
	cases := map[AllocatorKind]Shape{
		KindMalloc:        SimpleAlloc,
		KindFree:          SimpleDealloc,
		KindCalloc:        SimpleAlloc,
		KindRealloc:       SimpleAlloc,
		KindPosixMemalign: SimpleAlloc,
		KindMmap:          RangedAlloc,
		KindMunmap:        RangedDealloc,
	}
	for kind, want := range cases {
		if got := kind.Shape(); got != want {
			t.Errorf("%v.Shape() = %v, want %v", kind, got, want)
		}
	}
}
