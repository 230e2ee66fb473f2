// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memray

import (
	"path/filepath"
	"testing"

	"github.com/bloomberg/memray-sub002/internal/recordio"
)

func TestStartStopAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.bin")

	tr, err := StartTracker(path, StartOptions{Pid: 42, CommandLine: "testprog"})
	if err != nil {
		t.Fatalf("StartTracker: %v", err)
	}

	hooks := tr.Hooks()
	const tid = 1
	hooks.OnCall(tid, recordio.ManagedFrame{FunctionName: "doWork", FileName: "work.go", StartingLine: 5})
	addr := hooks.Malloc(tid, 128, 10, func(uint64) uint64 { return 0xabc000 })
	if addr != 0xabc000 {
		t.Fatalf("got addr 0x%x, want 0xabc000", addr)
	}
	hooks.Free(tid, addr, 11, func(uint64) {})
	hooks.OnReturn(tid)

	if err := StopTracker(tr); err != nil {
		t.Fatalf("StopTracker: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	meta := r.Metadata()
	if meta.Pid != 42 {
		t.Fatalf("got pid %d, want 42", meta.Pid)
	}
	if meta.Stats.NFrames == 0 {
		t.Fatal("expected the final header to report at least one interned frame")
	}
	if meta.Stats.PeakMemory < 128 {
		t.Fatalf("got peak memory %d, want at least 128", meta.Stats.PeakMemory)
	}

	events, err := r.Events()
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	if events[0].Event.Address != 0xabc000 || events[1].Event.Address != 0xabc000 {
		t.Fatalf("got events %+v, want both at 0xabc000", events)
	}

	frames := r.ResolveAllocationStack(events[0], 0)
	if len(frames) != 1 || frames[0].Function != "doWork" {
		t.Fatalf("got resolved stack %+v, want a single doWork frame", frames)
	}

	leaks, err := r.LeakSnapshot(false)
	if err != nil {
		t.Fatalf("LeakSnapshot: %v", err)
	}
	if len(leaks) != 0 {
		t.Fatalf("got %d leaked entries, want 0 since the allocation was freed", len(leaks))
	}

	temps, err := r.TemporaryAllocations(10)
	if err != nil {
		t.Fatalf("TemporaryAllocations: %v", err)
	}
	if len(temps) != 1 {
		t.Fatalf("got %d temporary allocations, want 1", len(temps))
	}
}

func TestStopTrackerRejectsDoubleStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.bin")
	tr, err := StartTracker(path, StartOptions{Pid: 1})
	if err != nil {
		t.Fatalf("StartTracker: %v", err)
	}
	if err := StopTracker(tr); err != nil {
		t.Fatalf("StopTracker: %v", err)
	}
	if err := StopTracker(tr); err == nil {
		t.Fatal("expected a second StopTracker call to fail")
	}
}
