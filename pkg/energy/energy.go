// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package energy holds the Rapid per-pulse energy and maximum frequency
// tables and the train safety limits derived from them.
package energy

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/stimctl/pkg/frame"
)

// MaxPower is the highest power level, reachable only in enhanced power mode.
const MaxPower = 110

// Limits used by the train safety formulas.
const (
	MaxJoulesPerSecond = 1050.0  // sustainable coil load
	MaxJoulesPerTrain  = 63000.0 // energy budget of a single train
	MinTrainWait       = 0.5     // seconds
)

// Rapid types.
const (
	Rapid2           = 0
	SuperRapid2      = 1
	SuperRapid2Plus1 = 2
)

//go:embed rapid_system_info.yaml
var defaultTables []byte

type fileStep struct {
	UpTo int     `yaml:"upTo"`
	Hz   float64 `yaml:"hz"`
}

type fileTable struct {
	Voltage   int        `yaml:"voltage"`
	RapidType int        `yaml:"rapidType"`
	Steps     []fileStep `yaml:"steps"`
}

type file struct {
	Joules       []float64   `yaml:"joules"`
	MaxFrequency []fileTable `yaml:"maxFrequency"`
}

type tableKey struct {
	voltage   int
	rapidType int
}

// SystemInfo is immutable once loaded.
type SystemInfo struct {
	joules  []float64
	maxFreq map[tableKey][]frame.Tenths
}

// Default returns the built-in tables.
func Default() *SystemInfo {
	info, err := Load(bytes.NewReader(defaultTables))
	if err != nil {
		panic(fmt.Sprintf("energy: built-in tables: %v", err))
	}
	return info
}

// LoadFile reads tables from a YAML file.
func LoadFile(path string) (*SystemInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("energy: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses and checks tables in the rapid_system_info.yaml format.
func Load(r io.Reader) (*SystemInfo, error) {
	var raw file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("energy: decode tables: %w", err)
	}

	if len(raw.Joules) != MaxPower+1 {
		return nil, fmt.Errorf("energy: want %d joule entries, got %d", MaxPower+1, len(raw.Joules))
	}
	for p, j := range raw.Joules {
		if j <= 0 {
			return nil, fmt.Errorf("energy: joules at power %d must be positive", p)
		}
	}

	info := &SystemInfo{
		joules:  raw.Joules,
		maxFreq: make(map[tableKey][]frame.Tenths),
	}
	for _, t := range raw.MaxFrequency {
		key := tableKey{t.Voltage, t.RapidType}
		if _, dup := info.maxFreq[key]; dup {
			return nil, fmt.Errorf("energy: duplicate table for %dV type %d", t.Voltage, t.RapidType)
		}
		table, err := expandSteps(t.Steps)
		if err != nil {
			return nil, fmt.Errorf("energy: %dV type %d: %w", t.Voltage, t.RapidType, err)
		}
		info.maxFreq[key] = table
	}
	return info, nil
}

func expandSteps(steps []fileStep) ([]frame.Tenths, error) {
	table := make([]frame.Tenths, 0, MaxPower+1)
	for _, s := range steps {
		hz, err := frame.TenthsFromFloat(s.Hz)
		if err != nil || hz <= 0 {
			return nil, fmt.Errorf("bad frequency %v", s.Hz)
		}
		if s.UpTo < len(table) {
			return nil, fmt.Errorf("steps must be increasing (upTo %d)", s.UpTo)
		}
		for len(table) <= s.UpTo && len(table) <= MaxPower {
			table = append(table, hz)
		}
	}
	if len(table) != MaxPower+1 {
		return nil, fmt.Errorf("steps cover powers 0-%d, want 0-%d", len(table)-1, MaxPower)
	}
	return table, nil
}

func checkPower(power int) error {
	if power < 0 || power > MaxPower {
		return fmt.Errorf("energy: power %d outside 0-%d", power, MaxPower)
	}
	return nil
}

// MaxFrequency returns the highest permitted frequency at power.
func (s *SystemInfo) MaxFrequency(voltage, rapidType, power int) (frame.Tenths, error) {
	if err := checkPower(power); err != nil {
		return 0, err
	}
	table, ok := s.maxFreq[tableKey{voltage, rapidType}]
	if !ok {
		return 0, fmt.Errorf("energy: no frequency table for %dV type %d", voltage, rapidType)
	}
	return table[power], nil
}

// Joules returns the energy of one pulse at power.
func (s *SystemInfo) Joules(power int) (float64, error) {
	if err := checkPower(power); err != nil {
		return 0, err
	}
	return s.joules[power], nil
}

// MaxOnTime returns the longest train in seconds at power and frequency.
func (s *SystemInfo) MaxOnTime(power int, frequency float64) (float64, error) {
	j, err := s.Joules(power)
	if err != nil {
		return 0, err
	}
	if frequency <= 0 {
		return math.Inf(1), nil
	}
	return MaxJoulesPerTrain / (frequency * j), nil
}

// MinWaitTime returns the shortest pause in seconds required after a train
// of nPulses at power and frequency.
func (s *SystemInfo) MinWaitTime(power, nPulses int, frequency float64) (float64, error) {
	j, err := s.Joules(power)
	if err != nil {
		return 0, err
	}
	if frequency <= 0 {
		return MinTrainWait, nil
	}
	wait := float64(nPulses) * (frequency*j - MaxJoulesPerSecond) / (MaxJoulesPerSecond * frequency)
	return math.Max(MinTrainWait, wait), nil
}

// MaxContinuousFrequency returns the frequency at power that can be
// sustained indefinitely.
func (s *SystemInfo) MaxContinuousFrequency(power int) (float64, error) {
	j, err := s.Joules(power)
	if err != nil {
		return 0, err
	}
	return MaxJoulesPerSecond / j, nil
}
