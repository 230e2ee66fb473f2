// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package guard implements a re-entrancy guard: a thread-local boolean
// that marks "inside an intercept", checked first by
// every intercept so that allocations made by the tracker itself (e.g. by
// the record writer's own buffer growth) are never re-traced.
//
// A native build of this profiler gets a real thread-local for free (it's
// a C global with __thread storage class). Go has no equivalent: there is
// no per-OS-thread storage exposed to user code, and goroutines migrate
// between OS threads across blocking points. This module's intercepts are
// exposed as explicit Go API calls (internal/hook) rather than actual libc
// symbol interposition, so the unit that must not re-enter is the calling
// goroutine, not the OS thread — a goroutine-keyed guard is therefore the
// correct, not merely approximate, translation of "thread-local" here.
// Keying is done with the standard trick of parsing the goroutine id out
// of a runtime.Stack() trace; every goroutine-local-storage package in the
// ecosystem (goroutine-local-storage, x/net/context predecessors) uses the
// same trick for the same reason: the runtime does not export a stable
// goroutine handle.
package guard

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

var (
	mu    sync.Mutex
	inset = make(map[int64]bool)
)

func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	// "goroutine 123 [running]:" is always the first line.
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseInt(string(b), 10, 64)
	return id
}

// Enter marks the calling goroutine as "inside the tracker" and reports
// whether it already was — callers use this exactly once, at the top of
// an intercept: snapshot the guard, and if it was already set, call the
// original and return without setting it again.
func Enter() (alreadyInside bool) {
	id := goroutineID()
	mu.Lock()
	defer mu.Unlock()
	if inset[id] {
		return true
	}
	inset[id] = true
	return false
}

// Leave clears the guard for the calling goroutine. Intercepts must call
// this on every exit path, including panics recovered higher up the stack.
func Leave() {
	id := goroutineID()
	mu.Lock()
	defer mu.Unlock()
	delete(inset, id)
}

// Inside reports whether the calling goroutine currently holds the guard,
// without acquiring it. Used by code that wants to detect re-entrant calls
// without itself becoming part of the guarded region (e.g. the frame
// mirror's CALL/RETURN handlers, which run on the same goroutine as user
// code and must still operate while the guard is held).
func Inside() bool {
	id := goroutineID()
	mu.Lock()
	defer mu.Unlock()
	return inset[id]
}

// Reset clears the guard for every goroutine. Used by fork discipline: a
// child process starts with a single goroutine and wants a clean slate
// rather than inheriting the parent's guard map, which may reference
// goroutine ids that no longer correspond to anything.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	inset = make(map[int64]bool)
}

// Set forces the calling goroutine's guard bit, used by fork discipline to
// hold off tracking in the child until explicit opt-in; the child leaves
// it set by default.
func Set(v bool) {
	id := goroutineID()
	mu.Lock()
	defer mu.Unlock()
	if v {
		inset[id] = true
	} else {
		delete(inset, id)
	}
}
