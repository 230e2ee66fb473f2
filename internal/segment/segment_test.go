// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package segment

import "testing"

func TestFindWithinGeneration(t *testing.T) {
	m := &Map{}
	m.NewGeneration()
	m.Add(Segment{FileName: "/lib/libc.so", Base: 0x1000, Length: 0x1000})
	m.Add(Segment{FileName: "/bin/app", Base: 0x5000, Length: 0x1000})

	s, ok := m.Find(1, 0x1500)
	if !ok || s.FileName != "/lib/libc.so" {
		t.Fatalf("got %+v ok=%v", s, ok)
	}
	if _, ok := m.Find(1, 0x3000); ok {
		t.Fatal("expected no segment to contain 0x3000")
	}
}

func TestFindNeverCrossesGenerations(t *testing.T) {
	m := &Map{}
	m.NewGeneration()
	m.Add(Segment{FileName: "/lib/old.so", Base: 0x1000, Length: 0x1000})
	m.NewGeneration()
	m.Add(Segment{FileName: "/lib/new.so", Base: 0x1000, Length: 0x1000})

	// Same address, but generation 1 should resolve to old.so, generation 2 to new.so.
	s1, ok1 := m.Find(1, 0x1500)
	s2, ok2 := m.Find(2, 0x1500)
	if !ok1 || !ok2 {
		t.Fatalf("expected both lookups to succeed: ok1=%v ok2=%v", ok1, ok2)
	}
	if s1.FileName != "/lib/old.so" || s2.FileName != "/lib/new.so" {
		t.Fatalf("got s1=%+v s2=%+v, generation isolation violated", s1, s2)
	}
}

func TestFindUnknownGeneration(t *testing.T) {
	m := &Map{}
	m.NewGeneration()
	if _, ok := m.Find(99, 0x1000); ok {
		t.Fatal("expected lookup against unknown generation to fail")
	}
}

func TestAddGeneration(t *testing.T) {
	m := &Map{}
	m.AddGeneration(5, []Segment{{FileName: "/x", Base: 0x2000, Length: 0x100}})
	s, ok := m.Find(5, 0x2050)
	if !ok || s.FileName != "/x" {
		t.Fatalf("got %+v ok=%v", s, ok)
	}
}

func TestCurrentGeneration(t *testing.T) {
	m := &Map{}
	if g := m.CurrentGeneration(); g != 0 {
		t.Fatalf("got %d, want 0 before any generation is created", g)
	}
	g1 := m.NewGeneration()
	if m.CurrentGeneration() != g1 {
		t.Fatalf("got %d, want %d", m.CurrentGeneration(), g1)
	}
}
