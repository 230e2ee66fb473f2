// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hook implements the hook table, symbol patcher, and allocator
// intercepts.
//
// A native build of this profiler intercepts libc by patching the
// dynamic linker's GOT/PLT relocation entries so every call to malloc
// (etc.) transparently lands in the tracker's own function instead.
// Neither cgo nor a true dynamic loader is in scope here, so this
// package keeps the part of that design that translates directly —
// GOT-style patching of a loaded shared object's relocation table,
// using real process memory protection calls — and exposes the
// allocator intercepts themselves as explicit Go functions a traced
// native extension calls into, rather than as symbols silently
// resolved by ld.so. See Patcher in patch.go and the Malloc/Free/...
// functions in intercepts.go.
package hook

import "sync"

// Entry is one row of the hook table: the symbol's original function
// pointer (as resolved by the dynamic linker at load time) and the
// tracker's own intercept, both callable at any time (patch.go writes
// one or the other into the GOT slot with no synchronization, a
// deliberately benign race: either value is always a valid function
// pointer).
type Entry struct {
	Symbol    string
	Original  uintptr
	Intercept uintptr
}

// Table is the process-wide static set of hooked symbols, populated
// once per process. The allocator names match the AllocatorKind set
// plus the two loader entry points. The runtime's GIL-acquire entry
// point has no row here; Hooks.GILAcquire is called directly instead.
type Table struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// HookedSymbols is every symbol name this profiler knows how to
// intercept.
var HookedSymbols = []string{
	"malloc", "free", "calloc", "realloc",
	"posix_memalign", "memalign", "valloc", "pvalloc",
	"mmap", "munmap",
	"dlopen", "dlclose",
}

func NewTable() *Table {
	t := &Table{entries: make(map[string]*Entry, len(HookedSymbols))}
	for _, name := range HookedSymbols {
		t.entries[name] = &Entry{Symbol: name}
	}
	return t
}

// SetOriginal records the original function pointer for name, as found
// by the symbol patcher while scanning a loaded object's symbol table.
// Written once per object, read many times.
func (t *Table) SetOriginal(name string, ptr uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[name]; ok {
		e.Original = ptr
	}
}

// SetIntercept registers the tracker's own function for name.
func (t *Table) SetIntercept(name string, ptr uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[name]; ok {
		e.Intercept = ptr
	}
}

// Lookup returns a copy of the entry for name.
func (t *Table) Lookup(name string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[name]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Names returns every hooked symbol name.
func (t *Table) Names() []string {
	return append([]string(nil), HookedSymbols...)
}
