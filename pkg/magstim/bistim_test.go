// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package magstim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/stimctl/pkg/errcode"
	"github.com/Thermoquad/stimctl/pkg/virtual"
)

func TestBiStim_Powers(t *testing.T) {
	r := newRig(t, virtual.BiStim, virtual.Options{})
	b := NewBiStim(r.port, r.options())
	connect(t, b)

	_, err := b.SetPowerA(40, false)
	require.NoError(t, err)
	_, err = b.SetPowerB(45, true)
	require.NoError(t, err)

	p, err := b.GetParameters()
	require.NoError(t, err)
	assert.Equal(t, 40, p.PowerA)
	assert.Equal(t, 45, p.PowerB)
	assert.Equal(t, 10.0, p.PulseInterval)
}

func TestBiStim_PulseInterval(t *testing.T) {
	r := newRig(t, virtual.BiStim, virtual.Options{})
	b := NewBiStim(r.port, r.options())
	connect(t, b)

	_, err := b.SetPulseInterval(2.5)
	assert.ErrorIs(t, err, errcode.ParameterFloat)
	_, err = b.SetPulseInterval(1000)
	assert.ErrorIs(t, err, errcode.ParameterRange)

	_, err = b.HighResolutionMode(true)
	require.NoError(t, err)
	assert.True(t, b.HighResolution())

	_, err = b.SetPulseInterval(2.5)
	require.NoError(t, err)
	p, err := b.GetParameters()
	require.NoError(t, err)
	assert.InDelta(t, 2.5, p.PulseInterval, 1e-9)
	assert.Equal(t, 25, r.dev.Snapshot().PulseInterval)

	_, err = b.SetPulseInterval(2.55)
	assert.ErrorIs(t, err, errcode.ParameterPrecision)
	_, err = b.SetPulseInterval(100)
	assert.ErrorIs(t, err, errcode.ParameterRange)
}

func TestBiStim_SimultaneousDischarge(t *testing.T) {
	r := newRig(t, virtual.BiStim, virtual.Options{})
	b := NewBiStim(r.port, r.options())
	connect(t, b)

	_, err := b.SetPulseInterval(0)
	require.NoError(t, err)

	_, err = b.Arm(false)
	require.NoError(t, err)
	_, err = b.SetPulseInterval(0)
	assert.ErrorIs(t, err, errcode.CommandConflict)
}
