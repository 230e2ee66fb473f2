// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// codec.go implements the byte-exact encode/decode routines for the header
// and every record payload. All multi-byte fields are little-endian and
// fixed width; strings are NUL-terminated. Every Encode/Decode pair here is
// the single source of truth the writer and reader both call into, so the
// two sides cannot drift apart and a value written is always the value
// read back.
package recordio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

var order = binary.LittleEndian

// Stats are the header's mutable aggregate counters: written as
// placeholders at start, and rewritten (by seeking back to offset 0) with
// final values at stop.
type Stats struct {
	StartTimeMs  uint64
	EndTimeMs    uint64
	NAllocations uint64
	NFrames      uint64
	PeakMemory   uint64
}

// Header is the first and last record in a capture file.
type Header struct {
	Version      uint16
	Pid          uint32
	NativeTraces bool
	CommandLine  string
	Stats        Stats
}

// headerFixedPrefix and headerFixedSuffix are the byte lengths of the
// fixed-width fields before and after the NUL-terminated command line.
const headerFixedPrefix = 4 + 2 + 4 + 1 // magic + version + pid + native_traces
const headerFixedSuffix = 8 * 5         // five uint64 stats fields

// EncodeHeader writes magic, version, pid and native_traces, then the
// NUL-terminated command line, then the five stats fields.
func EncodeHeader(w io.Writer, h Header) error {
	if _, err := w.Write(Magic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, order, h.Version); err != nil {
		return err
	}
	if err := binary.Write(w, order, h.Pid); err != nil {
		return err
	}
	var native uint8
	if h.NativeTraces {
		native = 1
	}
	if err := binary.Write(w, order, native); err != nil {
		return err
	}
	if err := writeCString(w, h.CommandLine); err != nil {
		return err
	}
	for _, v := range []uint64{h.Stats.StartTimeMs, h.Stats.EndTimeMs, h.Stats.NAllocations, h.Stats.NFrames, h.Stats.PeakMemory} {
		if err := binary.Write(w, order, v); err != nil {
			return err
		}
	}
	return nil
}

// HeaderSize returns the total encoded size of h, so the writer knows
// where the tagged stream begins and can seek back to offset 0 at stop.
func HeaderSize(h Header) int64 {
	return int64(headerFixedPrefix) + int64(len(h.CommandLine)) + 1 + int64(headerFixedSuffix)
}

// DecodeHeader reads a Header in the layout written by EncodeHeader.
func DecodeHeader(r io.Reader) (Header, error) {
	var h Header
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return h, fmt.Errorf("recordio: read magic: %w", err)
	}
	if magic != Magic {
		return h, fmt.Errorf("recordio: bad magic %q", magic)
	}
	if err := binary.Read(r, order, &h.Version); err != nil {
		return h, fmt.Errorf("recordio: read version: %w", err)
	}
	if h.Version != FormatVersion {
		return h, fmt.Errorf("recordio: unsupported version %d", h.Version)
	}
	if err := binary.Read(r, order, &h.Pid); err != nil {
		return h, fmt.Errorf("recordio: read pid: %w", err)
	}
	var native uint8
	if err := binary.Read(r, order, &native); err != nil {
		return h, fmt.Errorf("recordio: read native_traces: %w", err)
	}
	h.NativeTraces = native != 0
	cmd, err := readCString(r)
	if err != nil {
		return h, fmt.Errorf("recordio: read command_line: %w", err)
	}
	h.CommandLine = cmd
	fields := []*uint64{&h.Stats.StartTimeMs, &h.Stats.EndTimeMs, &h.Stats.NAllocations, &h.Stats.NFrames, &h.Stats.PeakMemory}
	for _, f := range fields {
		if err := binary.Read(r, order, f); err != nil {
			return h, fmt.Errorf("recordio: read stats: %w", err)
		}
	}
	return h, nil
}

func writeCString(w io.Writer, s string) error {
	if _, err := io.WriteString(w, s); err != nil {
		return err
	}
	_, err := w.Write([]byte{0})
	return err
}

// readCString reads bytes up to and including a NUL terminator and
// returns the string without the terminator. r must support byte-at-a-time
// reads (bufio.Reader satisfies this); the reader package always wraps its
// source in one.
func readCString(r io.Reader) (string, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	var buf []byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(buf), nil
		}
		buf = append(buf, b)
	}
}

// --- tagged records ---

// WriteTag writes a single record-type byte.
func WriteTag(w io.Writer, t RecordType) error {
	_, err := w.Write([]byte{byte(t)})
	return err
}

// ReadTag reads a single record-type byte.
func ReadTag(r io.ByteReader) (RecordType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	return RecordType(b), nil
}

// allocationWire is the fixed, on-wire shape of an ALLOCATION record:
// thread id, address, size, allocator kind, source line, and native
// frame id, all fixed width.
type allocationWire struct {
	ThreadID      uint64
	Address       uint64
	Size          uint64
	Kind          uint8
	_             [3]byte // padding to keep Line 4-byte aligned; never read
	Line          int32
	NativeFrameID uint32
}

func WriteAllocation(w io.Writer, e AllocationEvent) error {
	if err := WriteTag(w, RecordAllocation); err != nil {
		return err
	}
	wire := allocationWire{
		ThreadID:      e.ThreadID,
		Address:       e.Address,
		Size:          e.Size,
		Kind:          uint8(e.Kind),
		Line:          e.Line,
		NativeFrameID: e.NativeFrameID,
	}
	return binary.Write(w, order, wire)
}

func ReadAllocation(r io.Reader) (AllocationEvent, error) {
	var wire allocationWire
	if err := binary.Read(r, order, &wire); err != nil {
		return AllocationEvent{}, err
	}
	return AllocationEvent{
		ThreadID:      wire.ThreadID,
		Address:       wire.Address,
		Size:          wire.Size,
		Kind:          AllocatorKind(wire.Kind),
		Line:          wire.Line,
		NativeFrameID: wire.NativeFrameID,
	}, nil
}

// WriteFrameIndex writes a new (id, function, file, parent_line) pair.
func WriteFrameIndex(w io.Writer, id uint32, f ManagedFrame) error {
	if err := WriteTag(w, RecordFrameIndex); err != nil {
		return err
	}
	if err := binary.Write(w, order, id); err != nil {
		return err
	}
	if err := writeCString(w, f.FunctionName); err != nil {
		return err
	}
	if err := writeCString(w, f.FileName); err != nil {
		return err
	}
	return binary.Write(w, order, f.StartingLine)
}

func ReadFrameIndex(r io.Reader) (id uint32, f ManagedFrame, err error) {
	if err = binary.Read(r, order, &id); err != nil {
		return
	}
	if f.FunctionName, err = readCString(r); err != nil {
		return
	}
	if f.FileName, err = readCString(r); err != nil {
		return
	}
	err = binary.Read(r, order, &f.StartingLine)
	return
}

type frameDeltaWire struct {
	FrameID  uint32
	ThreadID uint64
}

// WriteFramePush/WriteFramePop write a managed frame-stack delta.
func WriteFramePush(w io.Writer, frameID uint32, tid uint64) error {
	return writeFrameDelta(w, RecordFramePush, frameID, tid)
}

func WriteFramePop(w io.Writer, frameID uint32, tid uint64) error {
	return writeFrameDelta(w, RecordFramePop, frameID, tid)
}

func writeFrameDelta(w io.Writer, tag RecordType, frameID uint32, tid uint64) error {
	if err := WriteTag(w, tag); err != nil {
		return err
	}
	return binary.Write(w, order, frameDeltaWire{FrameID: frameID, ThreadID: tid})
}

func ReadFrameDelta(r io.Reader) (frameID uint32, tid uint64, err error) {
	var wire frameDeltaWire
	if err = binary.Read(r, order, &wire); err != nil {
		return
	}
	return wire.FrameID, wire.ThreadID, nil
}

// WriteNativeFrameIndex interns an unresolved (ip, generation) pair.
func WriteNativeFrameIndex(w io.Writer, id uint32, key NativeFrameKey) error {
	if err := WriteTag(w, RecordNativeFrameIndex); err != nil {
		return err
	}
	if err := binary.Write(w, order, id); err != nil {
		return err
	}
	return binary.Write(w, order, key)
}

func ReadNativeFrameIndex(r io.Reader) (id uint32, key NativeFrameKey, err error) {
	if err = binary.Read(r, order, &id); err != nil {
		return
	}
	err = binary.Read(r, order, &key)
	return
}

// WriteSegmentHeader/WriteSegment together describe one generation's
// segment list: a filename, how many address ranges it contributes, its
// load base, and the generation it belongs to.
type SegmentHeader struct {
	FileName    string
	NumSegments uint32
	BaseAddress uint64
	Generation  uint32
}

func WriteSegmentHeader(w io.Writer, h SegmentHeader) error {
	if err := WriteTag(w, RecordSegmentHeader); err != nil {
		return err
	}
	if err := writeCString(w, h.FileName); err != nil {
		return err
	}
	if err := binary.Write(w, order, h.NumSegments); err != nil {
		return err
	}
	if err := binary.Write(w, order, h.BaseAddress); err != nil {
		return err
	}
	return binary.Write(w, order, h.Generation)
}

func ReadSegmentHeader(r io.Reader) (h SegmentHeader, err error) {
	if h.FileName, err = readCString(r); err != nil {
		return
	}
	if err = binary.Read(r, order, &h.NumSegments); err != nil {
		return
	}
	if err = binary.Read(r, order, &h.BaseAddress); err != nil {
		return
	}
	err = binary.Read(r, order, &h.Generation)
	return
}

type SegmentRange struct {
	Start, End uint64
}

func WriteSegment(w io.Writer, s SegmentRange) error {
	if err := WriteTag(w, RecordSegment); err != nil {
		return err
	}
	return binary.Write(w, order, s)
}

func ReadSegment(r io.Reader) (SegmentRange, error) {
	var s SegmentRange
	err := binary.Read(r, order, &s)
	return s, err
}

// MemorySnapshot is an optional periodic total-heap sample, letting a
// reader plot memory over time without replaying every allocation event.
type MemorySnapshot struct {
	TimestampMs uint64
	TotalMemory uint64
	EventIndex  uint64
}

func WriteMemorySnapshot(w io.Writer, s MemorySnapshot) error {
	if err := WriteTag(w, RecordMemorySnapshot); err != nil {
		return err
	}
	return binary.Write(w, order, s)
}

func ReadMemorySnapshot(r io.Reader) (MemorySnapshot, error) {
	var s MemorySnapshot
	err := binary.Read(r, order, &s)
	return s, err
}

func WriteEnd(w io.Writer) error {
	return WriteTag(w, RecordEnd)
}
