// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	memray "github.com/bloomberg/memray-sub002"
)

// runExplore opens path and starts an interactive session: each line is
// parsed as a command against a small cobra command tree, the same
// *cobra.Command-handler shape an object-inspector REPL would use for its
// subcommands, driven here by a readline loop instead of a single
// process-exit dispatch.
func runExplore(path string) error {
	r, err := memray.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	rl, err := readline.New("memray> ")
	if err != nil {
		return fmt.Errorf("explore: %w", err)
	}
	defer rl.Close()

	root := newExploreRoot(r)
	for {
		line, err := rl.Readline()
		if err == io.EOF || err == readline.ErrInterrupt {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		root.SetArgs(strings.Fields(line))
		if err := root.Execute(); err != nil {
			if err == errQuit {
				return nil
			}
			fmt.Fprintln(rl.Stderr(), err)
		}
	}
}

func newExploreRoot(r *memray.Reader) *cobra.Command {
	root := &cobra.Command{Use: "memray", SilenceUsage: true, SilenceErrors: true}

	root.AddCommand(&cobra.Command{
		Use:   "overview",
		Short: "print header metadata and summary counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			meta := r.Metadata()
			events, err := r.Events()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pid=%d allocations=%d native=%v\n", meta.Pid, len(events), meta.NativeTraces)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "peak",
		Short: "print the high-water-mark snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			snaps, err := r.HighWaterMarkSnapshot(true)
			if err != nil {
				return err
			}
			for _, s := range snaps {
				fmt.Fprintf(cmd.OutOrStdout(), "stack=%d size=%d count=%d\n", s.StackID, s.Size, s.Count)
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "resolve [stack_id]",
		Short: "resolve a managed stack id to its frames",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("resolve: %w", err)
			}
			for _, f := range r.ResolveStack(int32(id), 0) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s:%d)\n", f.Function, f.File, f.Line)
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "quit",
		Short: "exit the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return errQuit
		},
	})

	return root
}

var errQuit = fmt.Errorf("quit")
