// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	firePower         int
	firePowerB        int
	fireCount         int
	fireInterval      time.Duration
	fireQuick         bool
	firePulseInterval float64
	fireHighRes       bool
)

var fireCmd = &cobra.Command{
	Use:   "fire",
	Short: "Arm the unit and discharge single pulses",
	Long: `Set the power level, arm the unit, wait until it reports ready and fire.

With --quick the pulse is triggered through the control line (RTS) instead
of a fire command. The unit is disarmed and released afterwards.

BiStim² units also accept --power-b and --pulse-interval (milliseconds,
tenths allowed with --high-res).`,
	RunE: runFire,
}

func init() {
	rootCmd.AddCommand(fireCmd)
	fireCmd.Flags().IntVar(&firePower, "power", 30, "Power level (percent)")
	fireCmd.Flags().IntVar(&firePowerB, "power-b", -1, "BiStim² power level B (percent)")
	fireCmd.Flags().IntVarP(&fireCount, "count", "n", 1, "Number of pulses")
	fireCmd.Flags().DurationVar(&fireInterval, "interval", 5*time.Second, "Delay between pulses")
	fireCmd.Flags().BoolVar(&fireQuick, "quick", false, "Trigger through the control line")
	fireCmd.Flags().Float64Var(&firePulseInterval, "pulse-interval", -1, "BiStim² inter-pulse interval (ms)")
	fireCmd.Flags().BoolVar(&fireHighRes, "high-res", false, "BiStim² high-resolution pulse interval")
}

// waitReady polls until the unit reports ready to fire.
func waitReady(s *session, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for !s.unit.IsReadyToFire() {
		if time.Now().After(deadline) {
			return errors.New("unit did not become ready to fire")
		}
		time.Sleep(200 * time.Millisecond)
	}
	return nil
}

func runFire(cmd *cobra.Command, args []string) error {
	s, err := OpenSession()
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Connection: %s\n", s.info)

	if _, err := s.unit.SetPower(firePower, true); err != nil {
		return fmt.Errorf("set power: %w", err)
	}
	if s.bistim != nil {
		if fireHighRes {
			if _, err := s.bistim.HighResolutionMode(true); err != nil {
				return fmt.Errorf("high resolution mode: %w", err)
			}
		}
		if firePowerB >= 0 {
			if _, err := s.bistim.SetPowerB(firePowerB, true); err != nil {
				return fmt.Errorf("set power B: %w", err)
			}
		}
		if firePulseInterval >= 0 {
			if _, err := s.bistim.SetPulseInterval(firePulseInterval); err != nil {
				return fmt.Errorf("set pulse interval: %w", err)
			}
		}
	}
	if s.rapid != nil {
		// Single pulses: make sure the unit is not in rTMS mode.
		if _, err := s.rapid.RTMSMode(false); err != nil {
			return fmt.Errorf("single pulse mode: %w", err)
		}
	}

	params, err := s.parameters()
	if err != nil {
		return err
	}
	fmt.Printf("Parameters: %s\n", params)

	if _, err := s.unit.Arm(true); err != nil {
		return fmt.Errorf("arm: %w", err)
	}
	defer s.unit.Disarm()

	for i := 1; i <= fireCount; i++ {
		if err := waitReady(s, 10*time.Second); err != nil {
			return err
		}
		if fireQuick {
			if err := s.unit.QuickFire(); err != nil {
				return fmt.Errorf("quick fire: %w", err)
			}
			time.Sleep(10 * time.Millisecond)
			if err := s.unit.ResetQuickFire(); err != nil {
				return fmt.Errorf("reset quick fire: %w", err)
			}
		} else if _, err := s.unit.Fire(); err != nil {
			return fmt.Errorf("fire: %w", err)
		}
		fmt.Printf("Pulse %d/%d fired at %s\n", i, fireCount, time.Now().Format("15:04:05.000"))
		if i < fireCount {
			time.Sleep(fireInterval)
		}
	}
	return nil
}
