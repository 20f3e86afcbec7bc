// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/stimctl/pkg/trace"
)

var traceErrorsOnly bool

var traceCmd = &cobra.Command{
	Use:   "trace <file>",
	Short: "Print a recorded frame trace",
	Long: `Decode a trace file written with --trace and print one line per frame.

Each line shows the time, direction (TX, RX or CTL), the command name and the
raw frame. Failed reads and writes are followed by their error.`,
	Args:              cobra.ExactArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE:              runTrace,
}

func init() {
	rootCmd.AddCommand(traceCmd)
	traceCmd.Flags().BoolVar(&traceErrorsOnly, "errors", false, "Only show records with an error")
}

func runTrace(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	out := cmd.OutOrStdout()
	r := trace.NewReader(f)
	var total, failed int
	session := ""
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		total++
		if rec.Err != "" {
			failed++
		}
		if rec.Session != session {
			session = rec.Session
			fmt.Fprintf(out, "--- session %s ---\n", session)
		}
		if traceErrorsOnly && rec.Err == "" {
			continue
		}
		fmt.Fprintln(out, trace.Format(*rec))
	}
	fmt.Fprintf(out, "\n%d records, %d with errors\n", total, failed)
	return nil
}
