// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sink implements the two capture endpoints a writer can target: a
// file sink (supports seek, for the trailing header rewrite) and a socket
// sink (listens on a TCP port, accepts exactly one connection, and streams
// to it — no seek, so the trailing header rewrite is skipped and a reader
// recovers aggregate stats with a full scan instead).
//
// The socket sink's accept-one-connection-on-a-port shape mirrors a
// Unix-domain, PID-addressed socket meant for a local debugger to attach to
// a traced process, adapted into a TCP, port-addressed socket meant for a
// capture consumer to attach to a running capture.
package sink

import (
	"fmt"
	"io"
	"net"
	"os"
)

// Sink is the minimal write endpoint a record writer needs.
type Sink interface {
	io.Writer
	io.Closer
	// Seekable reports whether Seek is meaningful for this sink. File
	// sinks are; socket sinks are not.
	Seekable() bool
	// SeekStart repositions to an absolute offset from the start of the
	// stream. Only valid when Seekable() is true.
	SeekStart(offset int64) error
}

// FileSink backs a capture with a regular file, opened exclusively so two
// captures can never silently clobber each other.
type FileSink struct {
	f *os.File
}

// OpenFile creates path for writing. It fails if path already exists,
// which is how a second capture targeting the same destination is turned
// away instead of silently overwriting the first.
func OpenFile(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", path, err)
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) Write(p []byte) (int, error) { return s.f.Write(p) }
func (s *FileSink) Close() error                 { return s.f.Close() }
func (s *FileSink) Seekable() bool               { return true }
func (s *FileSink) SeekStart(offset int64) error {
	_, err := s.f.Seek(offset, io.SeekStart)
	return err
}

// SocketSink listens on a TCP port and streams the capture to the first
// (and only) peer that connects.
type SocketSink struct {
	ln   net.Listener
	conn net.Conn
}

// ListenSocket opens a TCP listener on port (0 lets the OS pick one; call
// Port to find out which). Accept must be called before any Write.
func ListenSocket(port int) (*SocketSink, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("sink: listen on port %d: %w", port, err)
	}
	return &SocketSink{ln: ln}, nil
}

// Port reports the bound port, useful when ListenSocket was given 0.
func (s *SocketSink) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Accept blocks for the single consumer connection. A caller running
// Accept on its own goroutine can unblock it early by calling Close, which
// is safe because net.Listener.Accept returns an error instead of hanging
// forever once the listener is closed.
func (s *SocketSink) Accept() error {
	conn, err := s.ln.Accept()
	if err != nil {
		return fmt.Errorf("sink: accept: %w", err)
	}
	s.conn = conn
	return nil
}

func (s *SocketSink) Write(p []byte) (int, error) {
	if s.conn == nil {
		return 0, fmt.Errorf("sink: write before accept")
	}
	return s.conn.Write(p)
}

func (s *SocketSink) Close() error {
	var err error
	if s.conn != nil {
		err = s.conn.Close()
	}
	if cerr := s.ln.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *SocketSink) Seekable() bool                { return false }
func (s *SocketSink) SeekStart(offset int64) error { return fmt.Errorf("sink: socket sink is not seekable") }

// Source is the read-side counterpart: a file reopened for reading, or a
// dialed socket connection.
type Source interface {
	io.Reader
	io.Closer
}

// OpenFileSource opens path for reading.
func OpenFileSource(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", path, err)
	}
	return f, nil
}

// DialSocketSource connects to a running capture's socket sink.
func DialSocketSource(addr string) (Source, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("sink: dial %s: %w", addr, err)
	}
	return conn, nil
}
