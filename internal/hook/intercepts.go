// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hook

import (
	"sync"

	"github.com/bloomberg/memray-sub002/internal/guard"
	"github.com/bloomberg/memray-sub002/internal/mirror"
	"github.com/bloomberg/memray-sub002/internal/recordio"
	"github.com/bloomberg/memray-sub002/internal/segment"
	"github.com/bloomberg/memray-sub002/internal/unwind"
	"github.com/bloomberg/memray-sub002/internal/writer"
)

// Hooks wires the hook table to a running capture. Each intercept method
// has the same guard-check/call-original/emit shape, exposed as an
// explicit Go call a native extension shim makes instead of a symbol
// silently resolved by the dynamic linker, applied here to the allocator
// entry points.
type Hooks struct {
	Table    *Table
	Patcher  *Patcher
	Writer   *writer.Writer
	Segments *segment.Map
	Mirror   *mirror.Mirror

	// NativeTraces enables native IP capture on every event.
	NativeTraces bool

	// OnModuleChange is called by DlOpen/DlClose after the original
	// runs, to bump the segment generation and re-run the symbol
	// patcher over the newly (or no longer) loaded object.
	OnModuleChange func(path string, base uintptr)

	mu         sync.Mutex
	nativeIDs  map[recordio.NativeFrameKey]uint32
	nextNative uint32
}

func NewHooks(t *Table, p *Patcher, w *writer.Writer, segs *segment.Map, m *mirror.Mirror) *Hooks {
	return &Hooks{
		Table:     t,
		Patcher:   p,
		Writer:    w,
		Segments:  segs,
		Mirror:    m,
		nativeIDs: make(map[recordio.NativeFrameKey]uint32),
	}
}

// OnCall is what a managed-runtime profile hook (installed via
// GILAcquire) calls on every CALL: it pushes f onto the calling
// thread's mirror, the same per-goroutine shadow stack emit reads to
// attribute the next allocation on this thread.
func (h *Hooks) OnCall(tid uint64, f recordio.ManagedFrame) {
	if h.Mirror == nil {
		return
	}
	h.Mirror.Push(int64(tid), f)
}

// OnReturn is the RETURN counterpart to OnCall.
func (h *Hooks) OnReturn(tid uint64) {
	if h.Mirror == nil {
		return
	}
	h.Mirror.Pop(int64(tid))
}

// internNative assigns a dense id to key, the same first-seen/repeat
// discipline the managed frame interner uses, and emits its
// NATIVE_FRAME_INDEX record the first time it's seen.
func (h *Hooks) internNative(key recordio.NativeFrameKey) uint32 {
	h.mu.Lock()
	id, ok := h.nativeIDs[key]
	if ok {
		h.mu.Unlock()
		return id
	}
	id = h.nextNative
	h.nextNative++
	h.nativeIDs[key] = id
	h.mu.Unlock()
	h.Writer.NativeFrameIndex(id, key)
	return id
}

// pushManagedStack writes a FRAME_PUSH for every frame currently on
// tid's mirror, root first, interning each one via EnsureFrame so the
// reader can rebuild the same stack for the allocation record that
// follows. The returned ids are what popManagedStack needs to undo it.
func (h *Hooks) pushManagedStack(tid uint64) []uint32 {
	if h.Mirror == nil {
		return nil
	}
	frames := h.Mirror.Snapshot(int64(tid))
	if len(frames) == 0 {
		return nil
	}
	ids := make([]uint32, len(frames))
	for i, f := range frames {
		id, err := h.Writer.EnsureFrame(f)
		if err != nil {
			return ids[:i]
		}
		if err := h.Writer.FramePush(id, tid); err != nil {
			return ids[:i]
		}
		ids[i] = id
	}
	return ids
}

// popManagedStack undoes pushManagedStack, innermost frame first.
func (h *Hooks) popManagedStack(tid uint64, ids []uint32) {
	for i := len(ids) - 1; i >= 0; i-- {
		h.Writer.FramePop(ids[i], tid)
	}
}

// emit builds and writes one ALLOCATION record, bracketed by the
// calling thread's current managed stack (from the mirror) so the
// reader attributes it to the right call stack, and capturing a native
// frame (only the innermost IP; see unwind.Capture) when enabled.
func (h *Hooks) emit(tid uint64, addr, size uint64, kind recordio.AllocatorKind, line int32) {
	ids := h.pushManagedStack(tid)
	defer h.popManagedStack(tid, ids)

	var nativeID uint32
	if h.NativeTraces {
		if ips := unwind.Capture(3, h.Segments.CurrentGeneration()); len(ips) > 0 {
			nativeID = h.internNative(ips[0])
		}
	}
	h.Writer.Allocation(recordio.AllocationEvent{
		ThreadID:      tid,
		Address:       addr,
		Size:          size,
		Kind:          kind,
		Line:          line,
		NativeFrameID: nativeID,
	})
}

// Malloc wraps libc malloc(size).
func (h *Hooks) Malloc(tid uint64, size uint64, line int32, original func(uint64) uint64) uint64 {
	if guard.Enter() {
		return original(size)
	}
	defer guard.Leave()
	addr := original(size)
	if addr != 0 {
		h.emit(tid, addr, size, recordio.KindMalloc, line)
	}
	return addr
}

// Free wraps libc free(ptr). The free record is emitted before calling
// the original, so a subsequent allocator call that reuses the address
// can never be misattributed to the stale allocation.
func (h *Hooks) Free(tid uint64, addr uint64, line int32, original func(uint64)) {
	if guard.Enter() {
		original(addr)
		return
	}
	defer guard.Leave()
	if addr != 0 {
		h.emit(tid, addr, 0, recordio.KindFree, line)
	}
	original(addr)
}

// Calloc wraps libc calloc(nmemb, size).
func (h *Hooks) Calloc(tid uint64, nmemb, size uint64, line int32, original func(uint64, uint64) uint64) uint64 {
	if guard.Enter() {
		return original(nmemb, size)
	}
	defer guard.Leave()
	addr := original(nmemb, size)
	if addr != 0 {
		h.emit(tid, addr, nmemb*size, recordio.KindCalloc, line)
	}
	return addr
}

// Realloc wraps libc realloc(ptr, size), emitted as an explicit free of
// the old address followed by an allocation of the new one.
func (h *Hooks) Realloc(tid uint64, oldAddr, size uint64, line int32, original func(uint64, uint64) uint64) uint64 {
	if guard.Enter() {
		return original(oldAddr, size)
	}
	defer guard.Leave()
	if oldAddr != 0 {
		h.emit(tid, oldAddr, 0, recordio.KindFree, line)
	}
	newAddr := original(oldAddr, size)
	if newAddr != 0 {
		h.emit(tid, newAddr, size, recordio.KindRealloc, line)
	}
	return newAddr
}

// PosixMemalign wraps posix_memalign; addr is the resulting pointer,
// already dereferenced by the caller's shim.
func (h *Hooks) PosixMemalign(tid uint64, size uint64, line int32, original func(uint64) uint64) uint64 {
	if guard.Enter() {
		return original(size)
	}
	defer guard.Leave()
	addr := original(size)
	if addr != 0 {
		h.emit(tid, addr, size, recordio.KindPosixMemalign, line)
	}
	return addr
}

func (h *Hooks) Memalign(tid uint64, size uint64, line int32, original func(uint64) uint64) uint64 {
	return h.simpleAlloc(tid, size, line, recordio.KindMemalign, original)
}

func (h *Hooks) Valloc(tid uint64, size uint64, line int32, original func(uint64) uint64) uint64 {
	return h.simpleAlloc(tid, size, line, recordio.KindValloc, original)
}

func (h *Hooks) Pvalloc(tid uint64, size uint64, line int32, original func(uint64) uint64) uint64 {
	return h.simpleAlloc(tid, size, line, recordio.KindPvalloc, original)
}

func (h *Hooks) simpleAlloc(tid uint64, size uint64, line int32, kind recordio.AllocatorKind, original func(uint64) uint64) uint64 {
	if guard.Enter() {
		return original(size)
	}
	defer guard.Leave()
	addr := original(size)
	if addr != 0 {
		h.emit(tid, addr, size, kind, line)
	}
	return addr
}

// Mmap wraps mmap(addr, length, ...); length is the ranged allocation
// size.
func (h *Hooks) Mmap(tid uint64, length uint64, line int32, original func(uint64) uint64) uint64 {
	if guard.Enter() {
		return original(length)
	}
	defer guard.Leave()
	addr := original(length)
	if addr != 0 {
		h.emit(tid, addr, length, recordio.KindMmap, line)
	}
	return addr
}

// Munmap wraps munmap(addr, length); the event always carries the
// requested range even if it only partially overlaps earlier mappings
// (the aggregator's interval tree resolves the overlap).
func (h *Hooks) Munmap(tid uint64, addr, length uint64, line int32, original func(uint64, uint64) int) int {
	if guard.Enter() {
		return original(addr, length)
	}
	defer guard.Leave()
	h.emit(tid, addr, length, recordio.KindMunmap, line)
	return original(addr, length)
}

// DlOpen wraps dlopen(path, flags); after the real call, it invalidates
// the module cache: repatch symbols for the newly mapped object and
// bump the segment generation.
func (h *Hooks) DlOpen(path string, original func(string) uintptr) uintptr {
	base := original(path)
	if base != 0 && h.OnModuleChange != nil {
		h.OnModuleChange(path, base)
	}
	return base
}

// DlClose wraps dlclose(handle); invalidation runs the same way as
// DlOpen, since either operation changes which objects' GOT slots need
// patching.
func (h *Hooks) DlClose(path string, base uintptr, original func() int) int {
	rc := original()
	if h.OnModuleChange != nil {
		h.OnModuleChange(path, base)
	}
	return rc
}

// GILAcquire wraps the runtime's GIL-acquire entry point solely to
// install the profile hook on whatever thread is acquiring the lock,
// so every thread that ever enters managed code gets its frame mirror.
func (h *Hooks) GILAcquire(installProfileHook func(), original func()) {
	installProfileHook()
	original()
}
