// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

import (
	"debug/elf"
	"sort"
)

// symEntry is one function symbol, kept sorted by Value so a PC can be
// resolved to its enclosing symbol with a binary search over the slice.
type symEntry struct {
	name  string
	value uint64
	size  uint64
}

type symTable struct {
	entries []symEntry
}

func newSymTable(f *elf.File) *symTable {
	t := &symTable{}
	add := func(syms []elf.Symbol) {
		for _, s := range syms {
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 {
				continue
			}
			t.entries = append(t.entries, symEntry{name: s.Name, value: s.Value, size: s.Size})
		}
	}
	if syms, err := f.Symbols(); err == nil {
		add(syms)
	}
	if syms, err := f.DynamicSymbols(); err == nil {
		add(syms)
	}
	sort.Slice(t.entries, func(i, j int) bool { return t.entries[i].value < t.entries[j].value })
	return t
}

// find returns the function symbol whose [value, value+size) range
// contains offset, the last resort when no DWARF line information is
// available for the object.
func (t *symTable) find(offset uint64) (name string, ok bool) {
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].value > offset }) - 1
	if i < 0 {
		return "", false
	}
	e := t.entries[i]
	if e.size != 0 && offset >= e.value+e.size {
		return "", false
	}
	return e.name, true
}
