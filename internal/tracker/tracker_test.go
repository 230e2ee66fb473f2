// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracker

import (
	"path/filepath"
	"testing"

	"github.com/bloomberg/memray-sub002/internal/guard"
	"github.com/bloomberg/memray-sub002/internal/recordio"
)

func freshOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		Output:      filepath.Join(t.TempDir(), "capture.bin"),
		Pid:         1234,
		CommandLine: "test-binary --flag",
	}
}

func TestStartStopLifecycle(t *testing.T) {
	tr, err := Start(freshOptions(t))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if tr.State() != Active {
		t.Fatalf("got state %v, want Active", tr.State())
	}
	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if tr.State() != Idle {
		t.Fatalf("got state %v, want Idle", tr.State())
	}
}

func TestDoubleStartFails(t *testing.T) {
	first, err := Start(freshOptions(t))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer first.Stop()

	if _, err := Start(freshOptions(t)); err == nil {
		t.Fatal("expected a second concurrent Start to fail")
	}
}

func TestStopWithoutStartFails(t *testing.T) {
	tr := &Tracker{state: Idle}
	if err := tr.Stop(); err == nil {
		t.Fatal("expected Stop on a never-started tracker to fail")
	}
}

func TestForkDiscipline(t *testing.T) {
	tr, err := Start(freshOptions(t))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	tr.PreFork()
	if !guard.Inside() {
		t.Fatal("expected the guard to already be set after PreFork")
	}

	tr.PostForkChild()
	if tr.State() != SuspendedInChild {
		t.Fatalf("got state %v, want SuspendedInChild", tr.State())
	}
	if !guard.Inside() {
		t.Fatal("expected the guard to remain set in the child until it opts back in")
	}

	tr.ResumeInChild()
	if tr.State() != Active {
		t.Fatalf("got state %v, want Active", tr.State())
	}
	if guard.Inside() {
		t.Fatal("expected the guard to be cleared once the child opts back in")
	}

	tr.PostForkParent()
	if guard.Inside() {
		t.Fatal("expected the guard to be cleared in the parent after fork")
	}
}

func TestStartEmitsInitialSegmentGeneration(t *testing.T) {
	tr, err := Start(freshOptions(t))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	gen := tr.Segments.CurrentGeneration()
	if gen == 0 {
		t.Fatal("expected Start to have created a generation")
	}
	if len(tr.Segments.Segments(gen)) == 0 {
		t.Fatal("expected Start to have populated the current generation with this process's own loaded objects")
	}
}

func TestStopFillsFrameAndMemoryStats(t *testing.T) {
	tr, err := Start(freshOptions(t))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	tr.Hooks.OnCall(1, recordio.ManagedFrame{FunctionName: "f", FileName: "f.go", StartingLine: 1})
	tr.Hooks.Malloc(1, 256, 1, func(uint64) uint64 { return 0x1000 })
	tr.Hooks.OnReturn(1)

	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if tr.Writer.Interner.Len() == 0 {
		t.Fatal("expected at least one interned frame after the call above")
	}
	if tr.Writer.PeakMemory() < 256 {
		t.Fatalf("got peak memory %d, want at least 256", tr.Writer.PeakMemory())
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Idle:             "IDLE",
		Active:           "ACTIVE",
		SuspendedInChild: "SUSPENDED_IN_CHILD",
		State(99):        "UNKNOWN",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
