// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package energy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/stimctl/pkg/frame"
)

func TestDefault(t *testing.T) {
	info := Default()

	j, err := info.Joules(30)
	require.NoError(t, err)
	assert.Equal(t, 77.0, j)

	f, err := info.MaxFrequency(240, Rapid2, 30)
	require.NoError(t, err)
	assert.Equal(t, frame.Tenths(600), f)

	f, err = info.MaxFrequency(115, SuperRapid2Plus1, MaxPower)
	require.NoError(t, err)
	assert.Equal(t, frame.Tenths(150), f)

	_, err = info.MaxFrequency(230, Rapid2, 30)
	assert.Error(t, err)
	_, err = info.Joules(111)
	assert.Error(t, err)
}

func TestTablesMonotonic(t *testing.T) {
	info := Default()
	for key, table := range info.maxFreq {
		for p := 1; p <= MaxPower; p++ {
			assert.LessOrEqual(t, table[p], table[p-1], "%v power %d", key, p)
		}
	}
	for p := 1; p <= MaxPower; p++ {
		assert.GreaterOrEqual(t, info.joules[p], info.joules[p-1])
	}
}

func TestSafetyFormulas(t *testing.T) {
	info := Default()

	// 63000 / (10 * 77)
	on, err := info.MaxOnTime(30, 10)
	require.NoError(t, err)
	assert.InDelta(t, 81.818, on, 0.001)

	// Below the continuous limit the wait floor applies.
	wait, err := info.MinWaitTime(30, 50, 10)
	require.NoError(t, err)
	assert.Equal(t, MinTrainWait, wait)

	// 100 pulses at 20 Hz, 805 J: 100*(16100-1050)/(1050*20)
	wait, err = info.MinWaitTime(100, 100, 20)
	require.NoError(t, err)
	assert.InDelta(t, 71.667, wait, 0.001)

	cont, err := info.MaxContinuousFrequency(100)
	require.NoError(t, err)
	assert.InDelta(t, 1050.0/805.0, cont, 1e-9)

	wait, err = info.MinWaitTime(30, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, MinTrainWait, wait)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"short joules", "joules: [1, 2]\nmaxFrequency: []\n"},
		{"unknown field", "joules: []\nbogus: 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.yaml))
			assert.Error(t, err)
		})
	}

	joules := "joules: [" + strings.TrimSuffix(strings.Repeat("10, ", MaxPower+1), ", ") + "]\n"

	_, err := Load(strings.NewReader(joules + "maxFrequency:\n  - {voltage: 240, rapidType: 0, steps: [{upTo: 50, hz: 10}]}\n"))
	assert.ErrorContains(t, err, "steps cover")

	_, err = Load(strings.NewReader(joules + "maxFrequency:\n  - {voltage: 240, rapidType: 0, steps: [{upTo: 110, hz: 10.25}]}\n"))
	assert.ErrorContains(t, err, "bad frequency")

	info, err := Load(strings.NewReader(joules + "maxFrequency:\n  - {voltage: 240, rapidType: 0, steps: [{upTo: 110, hz: 2.5}]}\n"))
	require.NoError(t, err)
	f, err := info.MaxFrequency(240, 0, 110)
	require.NoError(t, err)
	assert.Equal(t, frame.Tenths(25), f)
}
