// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hook

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/bloomberg/memray-sub002/internal/segment"
)

// LoadedObject is one file-backed mapping found in the process's own
// memory map: a simplified, live-process counterpart to the core
// dump's NT_FILE note that internal/core's process reader parses to
// learn which files back which address ranges. /proc/self/maps is the
// live-process equivalent of that note on Linux.
type LoadedObject struct {
	Path string
	Base uintptr
}

// LoadedObjects returns every distinct file-backed mapping in this
// process, one entry per file at its lowest mapped address, which is
// where a shared object's ELF header (and therefore its GOT) lives.
func LoadedObjects() ([]LoadedObject, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seen := make(map[string]uintptr)
	var order []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		path := fields[5]
		if !strings.HasPrefix(path, "/") {
			continue // skip [heap], [stack], anonymous mappings, etc.
		}
		addrRange := strings.SplitN(fields[0], "-", 2)
		if len(addrRange) != 2 {
			continue
		}
		base, err := strconv.ParseUint(addrRange[0], 16, 64)
		if err != nil {
			continue
		}
		existing, ok := seen[path]
		if !ok {
			order = append(order, path)
			seen[path] = uintptr(base)
		} else if uintptr(base) < existing {
			seen[path] = uintptr(base)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	out := make([]LoadedObject, 0, len(order))
	for _, path := range order {
		out = append(out, LoadedObject{Path: path, Base: seen[path]})
	}
	return out, nil
}

// ObjectSegments groups every file-backed mapping in /proc/self/maps by
// path, one Segment per contiguous VMA line, so a captured instruction
// pointer landing anywhere in any of an object's mapped ranges (text,
// rodata, data — not just its lowest one) resolves back to it.
func ObjectSegments() (map[string][]segment.Segment, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string][]segment.Segment)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 6 {
			continue
		}
		path := fields[5]
		if !strings.HasPrefix(path, "/") {
			continue
		}
		addrRange := strings.SplitN(fields[0], "-", 2)
		if len(addrRange) != 2 {
			continue
		}
		start, err := strconv.ParseUint(addrRange[0], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(addrRange[1], 16, 64)
		if err != nil || end <= start {
			continue
		}
		out[path] = append(out[path], segment.Segment{FileName: path, Base: start, Length: end - start})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// PatchAll patches every hookable symbol in every currently loaded
// object. Intended to run once, at tracker start.
func (p *Patcher) PatchAll() error {
	objs, err := LoadedObjects()
	if err != nil {
		return err
	}
	for _, o := range objs {
		if err := p.PatchObject(o.Path, o.Base); err != nil {
			return err
		}
	}
	return nil
}

// RestoreAll restores every patched object. Intended to run once, at
// tracker stop.
func (p *Patcher) RestoreAll() error {
	objs, err := LoadedObjects()
	if err != nil {
		return err
	}
	for _, o := range objs {
		if !p.IsPatched(o.Path) {
			continue
		}
		if err := p.RestoreObject(o.Path, o.Base); err != nil {
			return err
		}
	}
	return nil
}
