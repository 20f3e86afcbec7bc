// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/stimctl/pkg/frame"
	"github.com/Thermoquad/stimctl/pkg/link"
)

var (
	pingCount    int
	pingInterval time.Duration
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test the link with remote-control status requests",
	Long: `Send remote-control enable commands and report each round trip.

Remote control is released again before exiting. The engine, heartbeat and
safety gates are bypassed; only the link worker is used.

Exit codes:
  0 - Every request was answered
  1 - At least one request failed
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of requests to send")
	pingCmd.Flags().DurationVar(&pingInterval, "interval", 200*time.Millisecond, "Delay between requests")
}

func runPing(cmd *cobra.Command, args []string) error {
	if pingCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}
	t, _, info, err := OpenTransport(0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	w := link.NewWorker(t, link.Options{Logger: logger})
	w.Start()
	defer w.Close()

	fmt.Printf("stimctl - Link Ping\n")
	fmt.Printf("Connection: %s\n", info)
	fmt.Printf("Count: %d\n\n", pingCount)

	remote := frame.MustEncode(frame.CmdRemoteEnable)
	failCount := 0
	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)
		start := time.Now()
		r, err := roundTrip(w, remote, frame.TagRemoteEnable)
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		} else {
			fmt.Printf("[%s] rtt=%v\n", frame.FormatInstr(r.Instr), time.Since(start).Round(time.Millisecond))
		}
		if i < pingCount {
			time.Sleep(pingInterval)
		}
	}

	if _, err := roundTrip(w, frame.MustEncode(frame.CmdRemoteDisable), frame.TagRemoteDisable); err != nil {
		fmt.Printf("Releasing remote control failed: %v\n", err)
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d requests sent, %d answered, %.0f%% loss\n",
		pingCount, pingCount-failCount, float64(failCount)/float64(pingCount)*100)
	stats := w.Statistics()
	fmt.Print(stats.String())

	if failCount > 0 {
		w.Close()
		os.Exit(1)
	}
	return nil
}

func roundTrip(w *link.Worker, cmd []byte, tag byte) (*frame.Response, error) {
	if err := w.Submit(link.FrameRequest(cmd, 3, true)); err != nil {
		return nil, err
	}
	select {
	case res := <-w.Results():
		if res.Err != nil {
			return nil, res.Err
		}
		return frame.Decode(res.Raw, tag, frame.SchemaInstr)
	case <-w.Done():
		return nil, link.ErrClosed
	}
}
