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
	trainPower       int
	trainFrequency   float64
	trainPulses      int
	trainDuration    float64
	trainCount       int
	trainEnhanced    bool
	trainChargeDelay int
	trainIgnoreCoil  bool
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run rTMS trains on a Rapid²",
	Long: `Configure, validate and fire repetitive TMS trains on a Rapid².

Give either --pulses or --duration; the other is derived from the frequency.
The sequence is checked against the unit's energy limits before arming, and
trains are spaced by the minimum wait time reported for the sequence.`,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)
	f := trainCmd.Flags()
	f.IntVar(&trainPower, "power", 30, "Power level (percent)")
	f.Float64Var(&trainFrequency, "frequency", 10, "Pulse frequency (Hz, one decimal)")
	f.IntVar(&trainPulses, "pulses", 0, "Pulses per train")
	f.Float64Var(&trainDuration, "duration", 0, "Train duration (seconds, one decimal)")
	f.IntVar(&trainCount, "trains", 1, "Number of trains")
	f.BoolVar(&trainEnhanced, "enhanced", false, "Enable enhanced power mode (up to 110%)")
	f.IntVar(&trainChargeDelay, "charge-delay", -1, "Charge delay in ms (software 9+)")
	f.BoolVar(&trainIgnoreCoil, "ignore-coil-safety", false, "Ignore the coil safety switch")
}

func runTrain(cmd *cobra.Command, args []string) error {
	if (trainPulses > 0) == (trainDuration > 0) {
		return errors.New("exactly one of --pulses or --duration is required")
	}

	s, err := OpenSession()
	if err != nil {
		return err
	}
	defer s.Close()
	if s.rapid == nil {
		return fmt.Errorf("trains need a Rapid², connected unit is %s", s.unit.Model())
	}
	x := s.rapid

	fmt.Printf("Connection: %s\n", s.info)

	if trainIgnoreCoil {
		if _, err := x.IgnoreCoilSafetySwitch(); err != nil {
			return fmt.Errorf("ignore coil safety switch: %w", err)
		}
	}
	if trainChargeDelay >= 0 {
		if _, err := x.SetChargeDelay(trainChargeDelay); err != nil {
			return fmt.Errorf("charge delay: %w", err)
		}
	}
	if trainEnhanced {
		if _, err := x.EnhancedPowerMode(true); err != nil {
			return fmt.Errorf("enhanced power mode: %w", err)
		}
	}
	if _, err := x.RTMSMode(true); err != nil {
		return fmt.Errorf("rTMS mode: %w", err)
	}
	if _, err := x.SetPower(trainPower, true); err != nil {
		return fmt.Errorf("set power: %w", err)
	}
	if _, err := x.SetFrequency(trainFrequency); err != nil {
		return fmt.Errorf("set frequency: %w", err)
	}
	if trainPulses > 0 {
		_, err = x.SetNPulses(trainPulses)
	} else {
		_, err = x.SetDuration(trainDuration)
	}
	if err != nil {
		return fmt.Errorf("train length: %w", err)
	}

	if _, err := x.ValidateSequence(); err != nil {
		return fmt.Errorf("validate sequence: %w", err)
	}
	params, err := s.parameters()
	if err != nil {
		return err
	}
	fmt.Printf("Parameters: %s\n", params)

	wait, err := x.MinWaitTime()
	if err != nil {
		return err
	}
	maxOn, err := x.MaxOnTime()
	if err != nil {
		return err
	}
	fmt.Printf("Max on time: %.1fs  Min wait: %.1fs\n", maxOn, wait)

	r, err := x.GetParameters()
	if err != nil {
		return err
	}
	trainLength := time.Duration(r.RapidParams.Duration) * 100 * time.Millisecond

	if _, err := x.Arm(true); err != nil {
		return fmt.Errorf("arm: %w", err)
	}
	defer x.Disarm()

	for i := 1; i <= trainCount; i++ {
		if err := waitReady(s, 10*time.Second); err != nil {
			return err
		}
		if _, err := x.Fire(); err != nil {
			return fmt.Errorf("train %d: %w", i, err)
		}
		fmt.Printf("Train %d/%d started at %s\n", i, trainCount, time.Now().Format("15:04:05.000"))
		if i < trainCount {
			time.Sleep(trainLength + time.Duration(wait*float64(time.Second)))
		}
	}
	time.Sleep(trainLength)
	return nil
}
