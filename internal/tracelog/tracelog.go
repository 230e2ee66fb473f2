// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tracelog is the profiler's ambient logger. It is a thin wrapper
// around the standard log package, used only on the slow paths (tracker
// orchestrator, resolver, CLI). Allocator intercepts must never call
// into it: the hot path cannot risk the allocation a formatted log write
// can trigger inside a signal-adjacent context.
package tracelog

import (
	"log"
	"os"
)

var std = log.New(os.Stderr, "memray: ", log.Ltime|log.Lmicroseconds)

// SetOutput redirects subsequent log lines, mainly for tests.
func SetOutput(l *log.Logger) {
	std = l
}

func Warnf(format string, args ...interface{}) {
	std.Printf("WARNING: "+format, args...)
}

func Errorf(format string, args ...interface{}) {
	std.Printf("ERROR: "+format, args...)
}
