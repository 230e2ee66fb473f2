// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Resolver turns (instruction_pointer, generation) pairs into symbolic
// frames, lazily and with caching, exactly as deferred symbolification
// requires: capture never does this work, only read time does.
package unwind

import (
	"debug/elf"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/bloomberg/memray-sub002/internal/recordio"
	"github.com/bloomberg/memray-sub002/internal/segment"
	"github.com/bloomberg/memray-sub002/internal/tracelog"
)

// object is the lazily-loaded, per-file resolution state: a symbol
// table (always available) and a DWARF index (available only if debug
// info was found locally or fetched via debuginfod).
type object struct {
	syms  *symTable
	dwarf *dwarfIndex
	err   error
}

// Resolver resolves native frames against a segment map, caching both
// per-file state and per-(ip, generation) results.
type Resolver struct {
	mu         sync.Mutex
	segments   *segment.Map
	objects    map[string]*object
	cache      map[recordio.NativeFrameKey][]recordio.ResolvedFrame
	strings    map[string]string // interns symbol/file strings
	debuginfod *debuginfodClient
}

// New builds a Resolver over segments, the generation-indexed map owned
// by the reader whose native frame indexes it will be asked to resolve.
func New(segments *segment.Map) *Resolver {
	return &Resolver{
		segments:   segments,
		objects:    make(map[string]*object),
		cache:      make(map[recordio.NativeFrameKey][]recordio.ResolvedFrame),
		strings:    make(map[string]string),
		debuginfod: newDebuginfodClient(),
	}
}

// intern returns a shared copy of s so repeat resolutions of the same
// symbol or file name do not each retain a separate string header and
// backing array.
func (r *Resolver) intern(s string) string {
	if v, ok := r.strings[s]; ok {
		return v
	}
	r.strings[s] = s
	return s
}

// Resolve maps key to one or more frames, innermost (most-inlined)
// first. A failure to find a containing segment, object file, or any
// symbol information at all still returns a single best-effort frame
// with Symbol == "<unknown>" rather than an error, per the resolver's
// degrade-gracefully policy.
func (r *Resolver) Resolve(key recordio.NativeFrameKey) []recordio.ResolvedFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.cache[key]; ok {
		return cached
	}
	frames := r.resolveLocked(key)
	r.cache[key] = frames
	return frames
}

func (r *Resolver) resolveLocked(key recordio.NativeFrameKey) []recordio.ResolvedFrame {
	seg, ok := r.segments.Find(key.Generation, key.InstructionPointer)
	if !ok {
		return unknownFrame()
	}
	obj := r.loadObject(seg.FileName)
	if obj.err != nil {
		tracelog.Warnf("unwind: %s: %v", seg.FileName, obj.err)
		return unknownFrame()
	}
	offset := key.InstructionPointer - seg.Base

	if obj.dwarf != nil {
		if rs, ok := obj.dwarf.resolve(offset); ok {
			out := make([]recordio.ResolvedFrame, len(rs))
			for i, f := range rs {
				out[i] = recordio.ResolvedFrame{
					Symbol:   r.intern(f.symbol),
					File:     r.intern(f.file),
					Line:     f.line,
					IsInline: f.isInline,
				}
			}
			return out
		}
	}
	if obj.syms != nil {
		if name, ok := obj.syms.find(offset); ok {
			return []recordio.ResolvedFrame{{Symbol: r.intern(name)}}
		}
	}
	return unknownFrame()
}

func unknownFrame() []recordio.ResolvedFrame {
	return []recordio.ResolvedFrame{{Symbol: "<unknown>"}}
}

// loadObject opens and indexes path once, caching the result (including
// failures) for the lifetime of the Resolver.
func (r *Resolver) loadObject(path string) *object {
	if o, ok := r.objects[path]; ok {
		return o
	}
	o := &object{}
	r.objects[path] = o

	f, err := elf.Open(path)
	if err != nil {
		o.err = fmt.Errorf("open: %w", err)
		return o
	}
	defer f.Close()

	o.syms = newSymTable(f)

	if d, err := f.DWARF(); err == nil {
		o.dwarf = buildDwarfIndex(d)
		return o
	}

	buildID := readBuildID(f)
	if buildID == "" {
		return o
	}
	path, err = r.debuginfod.fetch(buildID)
	if err != nil {
		return o
	}
	df, err := elf.Open(path)
	if err != nil {
		return o
	}
	defer df.Close()
	if d, err := df.DWARF(); err == nil {
		o.dwarf = buildDwarfIndex(d)
	}
	return o
}

// readBuildID extracts the hex-encoded build-id from .note.gnu.build-id,
// the identifier debuginfod indexes separate debug info by.
func readBuildID(f *elf.File) string {
	sec := f.Section(".note.gnu.build-id")
	if sec == nil {
		return ""
	}
	data, err := sec.Data()
	if err != nil || len(data) < 16 {
		return ""
	}
	// ELF note: namesz(4) descsz(4) type(4) name(namesz, padded) desc(descsz).
	namesz := leUint32(data[0:4])
	descsz := leUint32(data[4:8])
	nameOff := 12 + align4(namesz)
	if nameOff+descsz > uint32(len(data)) {
		return ""
	}
	return hex.EncodeToString(data[nameOff : nameOff+descsz])
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func align4(n uint32) uint32 {
	return (n + 3) &^ 3
}
