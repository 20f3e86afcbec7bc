// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/stimctl/pkg/errcode"
	"github.com/Thermoquad/stimctl/pkg/frame"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Take remote control and print the unit's state",
	Long: `Connect to the unit, read its parameters and coil temperature, then
release remote control.

On a Rapid² the software version, error code, extended system status and
charge delay are also shown where the software version supports them.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := OpenSession()
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connection:  %s\n", s.info)
	fmt.Fprintf(out, "Model:       %s\n", s.unit.Model())

	params, err := s.parameters()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Parameters:  %s\n", params)

	if r, err := s.unit.GetTemperature(); err == nil {
		fmt.Fprintf(out, "Temperature: %s\n", frame.FormatResponse(r))
	} else {
		fmt.Fprintf(out, "Temperature: %v\n", err)
	}

	if s.rapid != nil {
		if err := printRapidStatus(cmd, s); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "State:       %s\n", s.unit.State())
	stats := s.unit.Statistics()
	fmt.Fprint(out, stats.String())
	return nil
}

func printRapidStatus(cmd *cobra.Command, s *session) error {
	out := cmd.OutOrStdout()
	x := s.rapid

	if v, ok := x.Version(); ok {
		fmt.Fprintf(out, "Software:    %s\n", v)
	}
	code, err := x.GetErrorCode()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Error code:  %s\n", code)
	fmt.Fprintf(out, "Enhanced:    %t\n", x.IsEnhanced())

	if r, err := x.GetSystemStatus(); err == nil {
		fmt.Fprintf(out, "System:      %s\n", frame.FormatResponse(r))
	} else if !errors.Is(err, errcode.VersionUnsupported) {
		return err
	}
	if ms, err := x.GetChargeDelay(); err == nil {
		fmt.Fprintf(out, "Charge delay: %d ms\n", ms)
	} else if !errors.Is(err, errcode.VersionUnsupported) {
		return err
	}
	return nil
}
