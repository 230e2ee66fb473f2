// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package unwind captures and resolves native instruction pointers.
//
// Capture and resolution are split exactly as the design requires:
// capture only ever stores a bounded array of raw program counters plus
// the segment generation in effect when they were taken, and never does
// symbol work on the hot path (see Resolver in resolve.go for the
// deferred half). A real libc-level profiler walks the frame-pointer
// chain with an async-signal-safe unwinder; a pure-Go process has no
// comparable raw-stack access of its own call frames without using the
// runtime's own unwinder, so Capture is built on runtime.Callers, which
// is the same "ask the runtime for PCs, resolve them later" split this
// package implements for the rest of the process's native code.
package unwind

import (
	"runtime"

	"github.com/bloomberg/memray-sub002/internal/recordio"
)

// MaxDepth bounds the number of instruction pointers captured per
// allocation, keeping the hot path allocation-free beyond this array.
const MaxDepth = 64

// Capture records up to MaxDepth return addresses above skip frames,
// paired with generation, the segment generation live at capture time.
// Resolution of any of them must only ever consult the segments of that
// same generation.
func Capture(skip int, generation uint32) []recordio.NativeFrameKey {
	var pcs [MaxDepth]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	out := make([]recordio.NativeFrameKey, n)
	for i := 0; i < n; i++ {
		out[i] = recordio.NativeFrameKey{
			InstructionPointer: uint64(pcs[i]),
			Generation:         generation,
		}
	}
	return out
}
