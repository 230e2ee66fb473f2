// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hook

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Patcher walks a loaded shared object's relocation tables looking for
// GOT slots bound to a hooked symbol, and overwrites them in place.
// Only ELF64 objects using RELA relocations are supported (the common
// case on amd64 and arm64); REL-only objects are reported as patched
// with zero relocations rather than as an error, since many small
// shared objects hook nothing at all.
type Patcher struct {
	table *Table

	mu      sync.Mutex
	patched map[string]bool // by object path, to avoid double-patching
}

func NewPatcher(t *Table) *Patcher {
	return &Patcher{table: t, patched: make(map[string]bool)}
}

// gotSlot is one relocation this patcher found that names a hooked
// symbol, resolved to the absolute address of its GOT slot.
type gotSlot struct {
	symbol string
	addr   uintptr
}

// scan opens path and returns every relocation entry that targets a
// hooked symbol, with base added to each link-time offset to produce
// the slot's absolute address in this process's address space.
func (p *Patcher) scan(path string, base uintptr) ([]gotSlot, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hook: open %s: %w", path, err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 {
		return nil, nil
	}

	dynSyms, err := f.DynamicSymbols()
	if err != nil {
		return nil, nil
	}
	// Relocation r_sym indices are 1-based against the dynsym table;
	// prepend the implicit null symbol at index 0 so indexing lines up.
	syms := make([]elf.Symbol, len(dynSyms)+1)
	copy(syms[1:], dynSyms)

	var slots []gotSlot
	for _, secName := range []string{".rela.plt", ".rela.dyn"} {
		sec := f.Section(secName)
		if sec == nil {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			continue
		}
		const relaSize = 24 // Offset, Info, Addend, each uint64
		r := bytes.NewReader(data)
		for r.Len() >= relaSize {
			var rel elf.Rela64
			if err := binary.Read(r, f.ByteOrder, &rel); err != nil {
				break
			}
			symIdx := rel.Info >> 32
			if int(symIdx) >= len(syms) {
				continue
			}
			name := syms[symIdx].Name
			if name == "" {
				continue
			}
			if _, ok := p.table.Lookup(name); !ok {
				continue
			}
			slots = append(slots, gotSlot{symbol: name, addr: base + uintptr(rel.Off)})
		}
	}
	return slots, nil
}

// PatchObject redirects every hooked GOT slot found in path (loaded at
// base) to the tracker's intercept, recording each slot's prior value
// as the symbol's Original the first time it is seen. Safe to call
// again for the same path; it is a no-op after the first successful
// call, matching "remember which objects were patched to avoid
// double-patching".
func (p *Patcher) PatchObject(path string, base uintptr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.patched[path] {
		return nil
	}
	slots, err := p.scan(path, base)
	if err != nil {
		return err
	}
	for _, s := range slots {
		entry, _ := p.table.Lookup(s.symbol)
		if entry.Original == 0 {
			p.table.SetOriginal(s.symbol, readPtr(s.addr))
		}
		if entry.Intercept == 0 {
			continue
		}
		if err := writePtr(s.addr, entry.Intercept); err != nil {
			return fmt.Errorf("hook: patch %s in %s: %w", s.symbol, path, err)
		}
	}
	p.patched[path] = true
	return nil
}

// RestoreObject writes back every hooked GOT slot's saved original
// value, undoing PatchObject.
func (p *Patcher) RestoreObject(path string, base uintptr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	slots, err := p.scan(path, base)
	if err != nil {
		return err
	}
	for _, s := range slots {
		entry, ok := p.table.Lookup(s.symbol)
		if !ok || entry.Original == 0 {
			continue
		}
		if err := writePtr(s.addr, entry.Original); err != nil {
			return fmt.Errorf("hook: restore %s in %s: %w", s.symbol, path, err)
		}
	}
	delete(p.patched, path)
	return nil
}

// IsPatched reports whether path has already been patched.
func (p *Patcher) IsPatched(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.patched[path]
}

func memSlice(addr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

func pageAlign(addr uintptr, pageSize int) uintptr {
	mask := uintptr(pageSize - 1)
	return addr &^ mask
}

// writePtr makes the page containing addr writable, stores value, and
// restores the page to read-only — GOT pages are RELRO-protected
// read-only outside of this brief window, the same "make the page
// around the GOT slot writable and overwrite" step the patcher always
// performs.
func writePtr(addr uintptr, value uintptr) error {
	pageSize := unix.Getpagesize()
	page := memSlice(pageAlign(addr, pageSize), pageSize)
	if err := unix.Mprotect(page, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("mprotect rw: %w", err)
	}
	*(*uintptr)(unsafe.Pointer(addr)) = value
	if err := unix.Mprotect(page, unix.PROT_READ); err != nil {
		return fmt.Errorf("mprotect ro: %w", err)
	}
	return nil
}

func readPtr(addr uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr))
}
