// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

import (
	"debug/dwarf"
	"sort"
)

// dwarfFunc is one DW_TAG_subprogram's PC range, with its compile unit
// kept alongside so a line lookup can use the right line table.
type dwarfFunc struct {
	name       string
	lowPC      uint64
	highPC     uint64
	cu         *dwarf.Entry
	entryOff   dwarf.Offset
}

type dwarfIndex struct {
	data  *dwarf.Data
	funcs []dwarfFunc // sorted by lowPC
}

func buildDwarfIndex(d *dwarf.Data) *dwarfIndex {
	idx := &dwarfIndex{data: d}
	r := d.Reader()
	var cu *dwarf.Entry
	for {
		e, err := r.Next()
		if err != nil || e == nil {
			break
		}
		if e.Tag == dwarf.TagCompileUnit {
			cu = e
		}
		if e.Tag != dwarf.TagSubprogram {
			continue
		}
		low, lowOK := e.Val(dwarf.AttrLowpc).(uint64)
		var high uint64
		highVal := e.Val(dwarf.AttrHighpc)
		switch v := highVal.(type) {
		case uint64:
			high = v
		case int64:
			high = low + uint64(v)
		}
		if !lowOK || high == 0 {
			continue
		}
		name, _ := e.Val(dwarf.AttrName).(string)
		idx.funcs = append(idx.funcs, dwarfFunc{name: name, lowPC: low, highPC: high, cu: cu, entryOff: e.Offset})
	}
	sort.Slice(idx.funcs, func(i, j int) bool { return idx.funcs[i].lowPC < idx.funcs[j].lowPC })
	return idx
}

func (idx *dwarfIndex) findFunc(pc uint64) (dwarfFunc, bool) {
	i := sort.Search(len(idx.funcs), func(i int) bool { return idx.funcs[i].lowPC > pc }) - 1
	if i < 0 {
		return dwarfFunc{}, false
	}
	f := idx.funcs[i]
	if pc < f.lowPC || pc >= f.highPC {
		return dwarfFunc{}, false
	}
	return f, true
}

// resolved is the pre-interning form of a ResolvedFrame.
type resolved struct {
	symbol   string
	file     string
	line     int
	isInline bool
}

// resolve expands pc (already translated to the file's link-time
// address space) to one or more frames, innermost first: any
// DW_TAG_inlined_subroutine whose range covers pc, followed by the
// containing DW_TAG_subprogram itself.
func (idx *dwarfIndex) resolve(pc uint64) ([]resolved, bool) {
	fn, ok := idx.findFunc(pc)
	if !ok {
		return nil, false
	}
	file, line := idx.lineFor(fn, pc)
	inlined := idx.inlinedFrames(fn, pc)
	out := make([]resolved, 0, len(inlined)+1)
	out = append(out, inlined...)
	out = append(out, resolved{symbol: fn.name, file: file, line: line})
	return out, true
}

// inlinedFrames walks the subprogram's children looking for inlined
// subroutines whose range covers pc, innermost first.
func (idx *dwarfIndex) inlinedFrames(fn dwarfFunc, pc uint64) []resolved {
	r := idx.data.Reader()
	r.Seek(fn.entryOff)
	top, err := r.Next()
	if err != nil || top == nil {
		return nil
	}
	var frames []resolved
	depth := 0
	for {
		e, err := r.Next()
		if err != nil || e == nil {
			break
		}
		if e.Tag == 0 || depth < 0 {
			break
		}
		if e.Tag == dwarf.TagSubprogram && depth == 0 && e.Offset != fn.entryOff {
			break
		}
		if e.Tag != dwarf.TagInlinedSubroutine {
			continue
		}
		low, lowOK := e.Val(dwarf.AttrLowpc).(uint64)
		var high uint64
		switch v := e.Val(dwarf.AttrHighpc).(type) {
		case uint64:
			high = v
		case int64:
			high = low + uint64(v)
		}
		if !lowOK || pc < low || pc >= high {
			continue
		}
		name, _ := e.Val(dwarf.AttrName).(string)
		if name == "" {
			name = "<inlined>"
		}
		file, line := idx.lineFor(fn, pc)
		frames = append(frames, resolved{symbol: name, file: file, line: line, isInline: true})
	}
	// The walk reaches an inlined subroutine before the ones nested in it;
	// reverse so the innermost comes first.
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}
	return frames
}

// lineFor maps pc to a (file, line) pair using fn's compile unit's line
// table, walking entries until the row containing pc is found.
func (idx *dwarfIndex) lineFor(fn dwarfFunc, pc uint64) (string, int) {
	if fn.cu == nil {
		return "", 0
	}
	lr, err := idx.data.LineReader(fn.cu)
	if err != nil || lr == nil {
		return "", 0
	}
	var row dwarf.LineEntry
	var best dwarf.LineEntry
	found := false
	for {
		if err := lr.Next(&row); err != nil {
			break
		}
		if row.Address > pc {
			continue
		}
		if !found || row.Address > best.Address {
			best = row
			found = true
		}
	}
	if !found {
		return "", 0
	}
	file := ""
	if best.File != nil {
		file = best.File.Name
	}
	return file, best.Line
}
