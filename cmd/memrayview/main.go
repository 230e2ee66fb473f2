// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The memrayview tool inspects a heap capture file written by the
// memray tracker. Run "memrayview help" for a list of commands.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/bloomberg/memray-sub002/internal/tracelog"
)

func usage() {
	fmt.Println(`
Usage:

        memrayview command capturefile

The commands are:

        help: print this message
    overview: print header metadata and summary counts
        peak: print the high-water-mark snapshot
       leaks: print the leak snapshot
   temporary: print allocations freed within a threshold of their own event
     explore: start an interactive session for browsing the capture

Flags applicable to all commands:`)
	flag.PrintDefaults()
}

func main() {
	merge := flag.Bool("merge-threads", false, "merge snapshots across threads")
	threshold := flag.Int("threshold", 0, "event-index threshold for the temporary command")
	maxDepth := flag.Int("max-depth", 0, "maximum frames to print per stack (0 = unlimited)")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "%s: no command specified\n", os.Args[0])
		usage()
		os.Exit(2)
	}
	cmd := args[0]
	if cmd == "help" {
		usage()
		return
	}
	if cmd == "explore" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "%s: explore requires a capture file\n", os.Args[0])
			os.Exit(2)
		}
		if err := runExplore(args[1]); err != nil {
			tracelog.Errorf("explore: %v", err)
			os.Exit(1)
		}
		return
	}
	if len(args) < 2 {
		fmt.Fprintf(os.Stderr, "%s: %s requires a capture file\n", os.Args[0], cmd)
		os.Exit(2)
	}

	opts := commandOptions{MergeThreads: *merge, Threshold: *threshold, MaxDepth: *maxDepth}
	var err error
	switch cmd {
	case "overview":
		err = runOverview(args[1])
	case "peak":
		err = runPeak(args[1], opts)
	case "leaks":
		err = runLeaks(args[1], opts)
	case "temporary":
		err = runTemporary(args[1], opts)
	default:
		fmt.Fprintf(os.Stderr, "%s: unknown command %s\n", os.Args[0], cmd)
		fmt.Fprintf(os.Stderr, "Run 'memrayview help' for usage.\n")
		os.Exit(2)
	}
	if err != nil {
		tracelog.Errorf("%s: %v", cmd, err)
		os.Exit(1)
	}
}
