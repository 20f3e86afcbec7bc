// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package magstim

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/stimctl/pkg/errcode"
	"github.com/Thermoquad/stimctl/pkg/frame"
	"github.com/Thermoquad/stimctl/pkg/trace"
	"github.com/Thermoquad/stimctl/pkg/virtual"
)

func TestMagstim_ConnectAndParameters(t *testing.T) {
	r := newRig(t, virtual.Magstim200, virtual.Options{})
	m := New(r.port, r.options())
	connect(t, m)

	s := m.State()
	assert.True(t, s.Connected)
	assert.True(t, s.RemoteControl)
	assert.Equal(t, "magstim", m.Model())

	p, err := m.GetParameters()
	require.NoError(t, err)
	assert.Equal(t, 30, p.Magstim.Power)

	_, err = m.SetPower(55, false)
	require.NoError(t, err)
	p, err = m.GetParameters()
	require.NoError(t, err)
	assert.Equal(t, 55, p.Magstim.Power)

	temp, err := m.GetTemperature()
	require.NoError(t, err)
	assert.Equal(t, frame.Tenths(240), temp.Temperature.Coil1)
}

func TestMagstim_GateBeforeConnect(t *testing.T) {
	r := newRig(t, virtual.Magstim200, virtual.Options{})
	m := New(r.port, r.options())
	t.Cleanup(func() { _ = m.Disconnect() })

	_, err := m.SetPower(50, false)
	assert.ErrorIs(t, err, errcode.NoRemoteControl)
	_, err = m.Arm(false)
	assert.ErrorIs(t, err, errcode.NoRemoteControl)
	assert.ErrorIs(t, m.QuickFire(), errcode.NoRemoteControl)

	_, err = m.GetParameters()
	assert.NoError(t, err, "parameter queries are allowed before connect")
	_, err = m.Disarm()
	assert.NoError(t, err)

	require.NoError(t, m.Connect())
	_, err = m.SetPower(50, false)
	assert.NoError(t, err)
}

func TestMagstim_ConnectFailure(t *testing.T) {
	r := newRig(t, virtual.Rapid, virtual.Options{UnlockCode: "7777"})
	m := New(r.port, r.options())

	err := m.Connect()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnect)
	assert.Equal(t, errcode.SerialRead, errcode.Of(err))

	var ce *ConnectError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "remote control", ce.Step)
	assert.False(t, m.State().Connected)

	assert.ErrorIs(t, m.Connect(), ErrConnect, "a failed unit stays closed")
}

func TestMagstim_SetPowerRange(t *testing.T) {
	r := newRig(t, virtual.Magstim200, virtual.Options{})
	m := New(r.port, r.options())
	connect(t, m)

	_, err := m.SetPower(101, false)
	assert.ErrorIs(t, err, errcode.ParameterRange)
	_, err = m.SetPower(-1, false)
	assert.ErrorIs(t, err, errcode.ParameterRange)
}

func TestMagstim_SetPowerDelay(t *testing.T) {
	r := newRig(t, virtual.Magstim200, virtual.Options{})
	m := New(r.port, r.options())
	connect(t, m)

	start := r.clock.Now()
	_, err := m.SetPower(40, true)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, r.clock.Now().Sub(start))

	start = r.clock.Now()
	_, err = m.SetPower(35, true)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, r.clock.Now().Sub(start))
}

func TestSettleTime(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, SettleTime(30, 50))
	assert.Equal(t, 2*time.Second, SettleTime(50, 30))
	assert.Equal(t, time.Duration(0), SettleTime(30, 30))
}

func TestMagstim_ArmAndFire(t *testing.T) {
	r := newRig(t, virtual.Magstim200, virtual.Options{})
	m := New(r.port, r.options())
	connect(t, m)

	resp, err := m.Arm(false)
	require.NoError(t, err)
	assert.True(t, resp.Instr.Armed)

	_, err = m.Fire()
	assert.ErrorIs(t, err, errcode.CommandConflict, "not ready yet")

	r.charge(t, m.IsUnderControl)
	assert.True(t, m.IsReadyToFire())
	assert.True(t, m.IsArmed())

	resp, err = m.Fire()
	require.NoError(t, err)
	assert.True(t, resp.Instr.Armed)
	assert.EqualValues(t, 1, r.dev.Snapshot().PulsesFired)

	_, err = m.Disarm()
	require.NoError(t, err)
	assert.False(t, m.IsArmed())
}

func TestMagstim_ArmTimeout(t *testing.T) {
	r := newRig(t, virtual.Magstim200, virtual.Options{})
	m := New(r.port, r.options())
	connect(t, m)

	_, err := m.Arm(false)
	require.NoError(t, err)
	for i := 0; i < 122; i++ {
		r.clock.Advance(500 * time.Millisecond)
		require.True(t, m.IsUnderControl())
	}

	p, err := m.GetParameters()
	require.NoError(t, err)
	assert.True(t, p.Instr.Standby)
	assert.False(t, m.State().Ready)
}

func TestMagstim_QuickFire(t *testing.T) {
	r := newRig(t, virtual.Magstim200, virtual.Options{})
	m := New(r.port, r.options())
	connect(t, m)

	_, err := m.Arm(false)
	require.NoError(t, err)
	r.charge(t, m.IsUnderControl)

	require.NoError(t, m.QuickFire())
	require.NoError(t, m.ResetQuickFire())
	// The link is FIFO, so a round trip means the trigger was handled.
	_, err = m.GetParameters()
	require.NoError(t, err)
	assert.EqualValues(t, 1, r.dev.Snapshot().PulsesFired)
}

func TestMagstim_DisconnectOrder(t *testing.T) {
	r := newRig(t, virtual.Magstim200, virtual.Options{})
	var buf bytes.Buffer
	rec := trace.NewRecorder(&buf, "test")

	opts := r.options()
	opts.Link.Trace = rec
	m := New(r.port, opts)
	require.NoError(t, m.Connect())
	_, err := m.Arm(false)
	require.NoError(t, err)
	require.NoError(t, m.Disconnect())

	snap := r.dev.Snapshot()
	assert.True(t, snap.Instr.Standby)
	assert.False(t, snap.Instr.RemoteStatus)

	records, err := trace.ReadAll(&buf)
	require.NoError(t, err)
	var tx []string
	for _, rec := range records {
		if rec.Dir == trace.Tx {
			tx = append(tx, string(rec.Bytes[:len(rec.Bytes)-1]))
		}
	}
	require.GreaterOrEqual(t, len(tx), 3)
	assert.Equal(t, []string{"EA", "R@"}, tx[len(tx)-2:])
	assert.Equal(t, trace.Control, records[len(records)-1].Dir)

	_, err = m.GetParameters()
	assert.Error(t, err, "a disconnected unit has no link")
}

func TestMagstim_TransportLost(t *testing.T) {
	r := newRig(t, virtual.Magstim200, virtual.Options{})
	m := New(r.port, r.options())
	connect(t, m)

	require.NoError(t, r.port.Close())
	_, err := m.GetParameters()
	require.Error(t, err)
	assert.True(t, errcode.Of(err).Retryable())
}

func TestMagstim_SilentPoke(t *testing.T) {
	r := newRig(t, virtual.Magstim200, virtual.Options{})
	m := New(r.port, r.options())
	connect(t, m)

	before := m.Statistics().FramesSent
	require.NoError(t, m.Poke(true))
	assert.Equal(t, before, m.Statistics().FramesSent)

	require.NoError(t, m.Poke(false))
	_, err := m.GetParameters()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, m.Statistics().FramesSent, before+2)
}
