// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	memray "github.com/bloomberg/memray-sub002"
)

type commandOptions struct {
	MergeThreads bool
	Threshold    int
	MaxDepth     int
}

func runOverview(path string) error {
	r, err := memray.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()
	meta := r.Metadata()
	events, err := r.Events()
	if err != nil {
		return err
	}
	fmt.Printf("pid: %d\n", meta.Pid)
	fmt.Printf("command line: %s\n", meta.CommandLine)
	fmt.Printf("native traces: %v\n", meta.NativeTraces)
	fmt.Printf("allocations recorded: %d\n", len(events))
	fmt.Printf("peak memory (header): %d bytes\n", meta.Stats.PeakMemory)
	return nil
}

func runPeak(path string, opts commandOptions) error {
	r, err := memray.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()
	snaps, err := r.HighWaterMarkSnapshot(opts.MergeThreads)
	if err != nil {
		return err
	}
	printSnapshots(r, snaps, opts.MaxDepth)
	return nil
}

func runLeaks(path string, opts commandOptions) error {
	r, err := memray.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()
	snaps, err := r.LeakSnapshot(opts.MergeThreads)
	if err != nil {
		return err
	}
	printSnapshots(r, snaps, opts.MaxDepth)
	return nil
}

func runTemporary(path string, opts commandOptions) error {
	r, err := memray.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()
	allocs, err := r.TemporaryAllocations(opts.Threshold)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "thread\taddress\tsize\tkind")
	for _, a := range allocs {
		fmt.Fprintf(w, "%d\t0x%x\t%d\t%s\n", a.Event.ThreadID, a.Event.Address, a.Event.Size, a.Event.Kind)
	}
	return w.Flush()
}

func printSnapshots(r *memray.Reader, snaps []memray.Snapshot, maxDepth int) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "thread\tsize\tcount\tstack (innermost first)")
	for _, s := range snaps {
		stack := "<unknown>"
		if frames := r.ResolveStack(s.StackID, maxDepth); len(frames) > 0 {
			parts := make([]string, len(frames))
			for i, f := range frames {
				parts[i] = fmt.Sprintf("%s (%s:%d)", f.Function, f.File, f.Line)
			}
			stack = strings.Join(parts, " <- ")
		}
		fmt.Fprintf(w, "%d\t%d\t%d\t%s\n", s.ThreadID, s.Size, s.Count, stack)
	}
	w.Flush()
}
