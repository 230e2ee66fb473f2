// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mirror

import (
	"testing"

	"github.com/bloomberg/memray-sub002/internal/recordio"
)

func frame(name string) recordio.ManagedFrame {
	return recordio.ManagedFrame{FunctionName: name, FileName: "x.go", StartingLine: 1}
}

func TestPushPopSnapshot(t *testing.T) {
	m := New()
	m.Push(1, frame("a"))
	m.Push(1, frame("b"))
	got := m.Snapshot(1)
	if len(got) != 2 || got[0].FunctionName != "a" || got[1].FunctionName != "b" {
		t.Fatalf("got %+v", got)
	}
	m.Pop(1)
	got = m.Snapshot(1)
	if len(got) != 1 || got[0].FunctionName != "a" {
		t.Fatalf("got %+v after pop", got)
	}
}

func TestPopEmptyIsNoOp(t *testing.T) {
	m := New()
	m.Pop(42) // must not panic
	if got := m.Snapshot(42); len(got) != 0 {
		t.Fatalf("expected empty snapshot, got %v", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	m := New()
	m.Push(1, frame("a"))
	snap := m.Snapshot(1)
	snap[0] = frame("mutated")
	if got := m.Snapshot(1); got[0].FunctionName != "a" {
		t.Fatalf("mutating returned snapshot affected mirror state: %+v", got)
	}
}

func TestStacksAreIndependentPerGoroutine(t *testing.T) {
	m := New()
	m.Push(1, frame("a"))
	m.Push(2, frame("b"))
	if got := m.Snapshot(1); len(got) != 1 || got[0].FunctionName != "a" {
		t.Fatalf("goroutine 1 state corrupted: %+v", got)
	}
	if got := m.Snapshot(2); len(got) != 1 || got[0].FunctionName != "b" {
		t.Fatalf("goroutine 2 state corrupted: %+v", got)
	}
}

func TestPrepopulateSeedsStack(t *testing.T) {
	m := New()
	m.Prepopulate(5, []recordio.ManagedFrame{frame("outer"), frame("inner")})
	got := m.Snapshot(5)
	if len(got) != 2 || got[1].FunctionName != "inner" {
		t.Fatalf("got %+v", got)
	}
}

func TestForgetAndReset(t *testing.T) {
	m := New()
	m.Push(1, frame("a"))
	m.Push(2, frame("b"))
	m.Forget(1)
	if got := m.Snapshot(1); len(got) != 0 {
		t.Fatalf("expected empty after forget, got %v", got)
	}
	m.Reset()
	if got := m.Snapshot(2); len(got) != 0 {
		t.Fatalf("expected empty after reset, got %v", got)
	}
}
