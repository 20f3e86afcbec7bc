// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package virtual

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/stimctl/pkg/clock"
	"github.com/Thermoquad/stimctl/pkg/errcode"
	"github.com/Thermoquad/stimctl/pkg/frame"
	"github.com/Thermoquad/stimctl/pkg/link"
)

func newClock() *clock.Fake {
	return clock.NewFake(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
}

func cmd(tag string, fields ...frame.Field) []byte {
	return frame.MustEncode(tag, fields...)
}

func status(t *testing.T, reply []byte) frame.InstrStatus {
	t.Helper()
	require.GreaterOrEqual(t, len(reply), 3, "reply %q", reply)
	require.NoError(t, frame.VerifyChecksum(reply))
	require.NotContains(t, []byte{frame.ReplyInvalidData, frame.ReplyConflict}, reply[1], "reply %q", reply)
	return frame.ParseInstrStatus(reply[1])
}

func replyCode(t *testing.T, reply []byte, tag byte) errcode.Code {
	t.Helper()
	_, err := frame.Decode(reply, tag, frame.SchemaNone)
	return errcode.Of(err)
}

// advanceWithPokes moves the clock in steps short enough to keep remote
// control, poking after each step like the heartbeat does.
func advanceWithPokes(t *testing.T, c *clock.Fake, d *Device, total time.Duration) frame.InstrStatus {
	t.Helper()
	var s frame.InstrStatus
	for elapsed := time.Duration(0); elapsed < total; elapsed += 500 * time.Millisecond {
		c.Advance(500 * time.Millisecond)
		s = status(t, d.Handle(cmd(frame.CmdRemoteEnable)))
	}
	return s
}

func TestMagstim_Defaults(t *testing.T) {
	d := New(Magstim200, Options{Clock: newClock()})

	r, err := frame.Decode(d.Handle(cmd(frame.CmdParameters)), frame.TagParameters, frame.SchemaMagstimParam)
	require.NoError(t, err)
	assert.Equal(t, 30, r.Magstim.Power)
	assert.True(t, r.Instr.Standby)
	assert.True(t, r.Instr.CoilPresent)
	assert.False(t, r.Instr.RemoteStatus)

	r, err = frame.Decode(d.Handle(cmd(frame.CmdTemperature)), frame.TagTemperature, frame.SchemaMagstimTemp)
	require.NoError(t, err)
	assert.Equal(t, frame.Tenths(240), r.Temperature.Coil1)
}

func TestMagstim_RequiresRemote(t *testing.T) {
	d := New(Magstim200, Options{Clock: newClock()})

	assert.Equal(t, errcode.CommandConflict, replyCode(t, d.Handle(cmd("@", frame.Field{Value: 50, Width: 3})), '@'))
	assert.Equal(t, errcode.CommandConflict, replyCode(t, d.Handle(cmd(frame.CmdArm)), 'E'))

	s := status(t, d.Handle(cmd(frame.CmdDisarm)))
	assert.True(t, s.Standby, "disarm works without remote control")

	s = status(t, d.Handle(cmd(frame.CmdRemoteEnable)))
	assert.True(t, s.RemoteStatus)
	status(t, d.Handle(cmd("@", frame.Field{Value: 50, Width: 3})))
	assert.Equal(t, 50, d.Snapshot().Power)

	assert.Equal(t, errcode.CommandConflict, replyCode(t, d.Handle(cmd("@", frame.Field{Value: 101, Width: 3})), '@'))
}

func TestMagstim_BadFrames(t *testing.T) {
	d := New(Magstim200, Options{Clock: newClock()})

	assert.Equal(t, []byte{'?'}, d.Handle(cmd("~@")))
	assert.Equal(t, errcode.InvalidData, replyCode(t, d.Handle([]byte{'J', '@', 0x00}), 'J'))

	d.Handle(cmd(frame.CmdRemoteEnable))
	assert.Equal(t, errcode.InvalidData, replyCode(t, d.Handle(cmd("@x1y")), '@'))
}

func TestMagstim_ArmReadyFire(t *testing.T) {
	c := newClock()
	d := New(Magstim200, Options{Clock: c})
	status(t, d.Handle(cmd(frame.CmdRemoteEnable)))

	s := status(t, d.Handle(cmd(frame.CmdArm)))
	assert.True(t, s.Armed)
	assert.False(t, s.Standby)

	assert.Equal(t, errcode.CommandConflict, replyCode(t, d.Handle(cmd(frame.CmdFire)), 'E'), "not ready yet")

	s = advanceWithPokes(t, c, d, 1200*time.Millisecond)
	assert.True(t, s.Ready)
	assert.False(t, s.Armed)

	s = status(t, d.Handle(cmd(frame.CmdFire)))
	assert.True(t, s.Armed, "fire reports the refractory armed state")
	assert.False(t, s.Ready)
	assert.EqualValues(t, 1, d.Snapshot().PulsesFired)
}

func TestMagstim_RefireInterval(t *testing.T) {
	c := newClock()
	d := New(Magstim200, Options{Clock: c})
	d.Handle(cmd(frame.CmdRemoteEnable))
	d.Handle(cmd(frame.CmdArm))
	advanceWithPokes(t, c, d, 1500*time.Millisecond)
	status(t, d.Handle(cmd(frame.CmdFire)))

	// Power 30 needs 2 s between pulses.
	s := advanceWithPokes(t, c, d, 1500*time.Millisecond)
	assert.False(t, s.Ready)
	s = advanceWithPokes(t, c, d, time.Second)
	assert.True(t, s.Ready)
}

func TestMagstim_ContactLoss(t *testing.T) {
	c := newClock()
	d := New(Magstim200, Options{Clock: c})
	d.Handle(cmd(frame.CmdRemoteEnable))
	status(t, d.Handle(cmd(frame.CmdArm)))

	c.Advance(1500 * time.Millisecond)
	r, err := frame.Decode(d.Handle(cmd(frame.CmdParameters)), frame.TagParameters, frame.SchemaMagstimParam)
	require.NoError(t, err)
	assert.True(t, r.Instr.Standby)
	assert.False(t, r.Instr.RemoteStatus)
}

func TestMagstim_ArmIdleTimeout(t *testing.T) {
	c := newClock()
	d := New(Magstim200, Options{Clock: c})
	d.Handle(cmd(frame.CmdRemoteEnable))
	status(t, d.Handle(cmd(frame.CmdArm)))

	s := advanceWithPokes(t, c, d, 59*time.Second)
	assert.True(t, s.Ready)

	s = advanceWithPokes(t, c, d, 2*time.Second)
	assert.True(t, s.Standby)
	assert.False(t, s.Ready)
	assert.True(t, s.RemoteStatus, "idle timeout keeps remote control")
}

func TestMagstim_TriggerLine(t *testing.T) {
	c := newClock()
	d := New(Magstim200, Options{Clock: c})
	d.Handle(cmd(frame.CmdRemoteEnable))
	d.Handle(cmd(frame.CmdArm))
	advanceWithPokes(t, c, d, 1500*time.Millisecond)

	d.TriggerLine(true)
	d.TriggerLine(true)
	d.TriggerLine(false)
	snap := d.Snapshot()
	assert.EqualValues(t, 1, snap.PulsesFired, "only a rising edge fires")
	assert.True(t, snap.Instr.Armed)
}

func TestBiStim(t *testing.T) {
	c := newClock()
	d := New(BiStim, Options{Clock: c})
	assert.Equal(t, errcode.CommandConflict, replyCode(t, d.Handle(cmd("A", frame.Field{Value: 45, Width: 3})), 'A'))

	d.Handle(cmd(frame.CmdRemoteEnable))
	status(t, d.Handle(cmd("A", frame.Field{Value: 45, Width: 3})))
	status(t, d.Handle(cmd("C", frame.Field{Value: 0, Width: 3})))
	status(t, d.Handle(cmd(frame.CmdHighResOn)))

	r, err := frame.Decode(d.Handle(cmd(frame.CmdParameters)), frame.TagParameters, frame.SchemaBiStimParam)
	require.NoError(t, err)
	assert.Equal(t, frame.BiStimParams{PowerA: 30, PowerB: 45, PulseInterval: 0}, *r.BiStim)
	assert.True(t, d.Snapshot().HighRes)

	d.Handle(cmd(frame.CmdArm))
	assert.Equal(t, errcode.CommandConflict, replyCode(t, d.Handle(cmd("C", frame.Field{Value: 0, Width: 3})), 'C'),
		"simultaneous discharge only from standby")
	status(t, d.Handle(cmd("C", frame.Field{Value: 125, Width: 3})))
}

func newRapid(c clock.Clock, v int) *Device {
	return New(Rapid, Options{Clock: c, Version: frame.Version{Major: v}})
}

func TestRapid_SilentWithoutRemote(t *testing.T) {
	d := newRapid(newClock(), 9)

	assert.Nil(t, d.Handle(cmd("@", frame.Field{Value: 40, Width: 3})))
	assert.Nil(t, d.Handle(cmd(frame.CmdVersion)))

	raw := d.Handle(cmd(frame.CmdRapidParams))
	require.Len(t, raw, frame.LenRapidParamV9)
	r, err := frame.Decode(raw, frame.TagRapidParameters, frame.SchemaRapidParam)
	require.NoError(t, err)
	assert.Equal(t, frame.RapidParams{Power: 30, Frequency: 0, NPulses: 1, Duration: 0, Wait: 10}, *r.RapidParams)
	assert.True(t, r.Rapid.SinglePulseMode)
}

func TestRapid_ParameterTiers(t *testing.T) {
	for _, tt := range []struct {
		major int
		want  int
	}{{5, frame.LenRapidParamLegacy}, {8, frame.LenRapidParamV7}, {10, frame.LenRapidParamV9}} {
		d := newRapid(newClock(), tt.major)
		assert.Len(t, d.Handle(cmd(frame.CmdRapidParams)), tt.want, "version %d", tt.major)
	}
}

func TestRapid_Version(t *testing.T) {
	d := newRapid(newClock(), 9)
	d.Handle(cmd(frame.CmdRemoteEnable))

	r, err := frame.Decode(d.Handle(cmd(frame.CmdVersion)), frame.TagVersion, frame.SchemaVersion)
	require.NoError(t, err)
	assert.Equal(t, frame.Version{Major: 9}, *r.Version)

	assert.Equal(t, errcode.InvalidData, replyCode(t, d.Handle(cmd("NX")), 'N'))
}

func TestRapid_TrainParameters(t *testing.T) {
	d := newRapid(newClock(), 9)
	d.Handle(cmd(frame.CmdRemoteEnable))

	// 60 Hz is the ceiling at power 30.
	raw := d.Handle(cmd("B", frame.Field{Value: 600, Width: 4}))
	require.Len(t, raw, frame.LenInstrRapid)
	assert.Equal(t, errcode.CommandConflict, replyCode(t, d.Handle(cmd("B", frame.Field{Value: 601, Width: 4})), 'B'))

	status(t, d.Handle(cmd("D", frame.Field{Value: 50, Width: 5})))
	assert.Equal(t, errcode.CommandConflict, replyCode(t, d.Handle(cmd("D", frame.Field{Value: 6001, Width: 5})), 'D'))

	// A non-zero duration in standby switches to repetitive mode.
	raw = d.Handle(cmd("[", frame.Field{Value: 50, Width: 4}))
	r, err := frame.Decode(raw, '[', frame.SchemaInstrRapid)
	require.NoError(t, err)
	assert.False(t, r.Rapid.SinglePulseMode)

	// Zero switches back.
	r, err = frame.Decode(d.Handle(cmd("[", frame.Field{Value: 0, Width: 4})), '[', frame.SchemaInstrRapid)
	require.NoError(t, err)
	assert.True(t, r.Rapid.SinglePulseMode)

	snap := d.Snapshot()
	assert.Equal(t, frame.Tenths(600), snap.Frequency)
	assert.Equal(t, 50, snap.NPulses)
	assert.Equal(t, frame.Tenths(50), snap.Duration)
}

func TestRapid_EnhancedPower(t *testing.T) {
	d := newRapid(newClock(), 9)
	d.Handle(cmd(frame.CmdRemoteEnable))

	assert.Equal(t, errcode.CommandConflict, replyCode(t, d.Handle(cmd("@", frame.Field{Value: 110, Width: 3})), '@'))
	status(t, d.Handle(cmd(frame.CmdEnhancedOn)))
	status(t, d.Handle(cmd("@", frame.Field{Value: 110, Width: 3})))
	assert.Equal(t, 110, d.Snapshot().Power)

	status(t, d.Handle(cmd(frame.CmdEnhancedOff)))
	assert.Equal(t, 100, d.Snapshot().Power)
}

func TestRapid_ChargeDelay(t *testing.T) {
	t.Run("v10", func(t *testing.T) {
		d := newRapid(newClock(), 10)
		d.Handle(cmd(frame.CmdRemoteEnable))

		raw := d.Handle(cmd("n", frame.Field{Value: 500, Width: 5}))
		r, err := frame.Decode(raw, 'n', frame.SchemaSystemRapid)
		require.NoError(t, err)
		assert.Len(t, raw, frame.LenSystemRapid)
		assert.True(t, r.Extended.ChargeDelaySet)

		raw = d.Handle(cmd(frame.CmdChargeDelay))
		assert.Len(t, raw, 8)
		r, err = frame.Decode(raw, 'o', frame.SchemaInstrCharge)
		require.NoError(t, err)
		assert.Equal(t, 500, r.ChargeDelay)
	})

	t.Run("v9", func(t *testing.T) {
		d := newRapid(newClock(), 9)
		d.Handle(cmd(frame.CmdRemoteEnable))

		assert.Len(t, d.Handle(cmd("n", frame.Field{Value: 200, Width: 4})), frame.LenInstrRapid)
		assert.Equal(t, errcode.CommandConflict, replyCode(t, d.Handle(cmd("n", frame.Field{Value: 2001, Width: 4})), 'n'))
		assert.Len(t, d.Handle(cmd(frame.CmdChargeDelay)), 7)
	})

	t.Run("v5", func(t *testing.T) {
		d := newRapid(newClock(), 5)
		d.Handle(cmd(frame.CmdRemoteEnable))
		assert.Equal(t, []byte{'?'}, d.Handle(cmd(frame.CmdChargeDelay)))
		assert.Equal(t, []byte{'?'}, d.Handle(cmd(frame.CmdSystemStatus)))
	})
}

func TestRapid_UnlockCode(t *testing.T) {
	d := New(Rapid, Options{Clock: newClock(), Version: frame.Version{Major: 9}, UnlockCode: "1234"})

	assert.Nil(t, d.Handle(cmd(frame.CmdRemoteEnable)))
	s := status(t, d.Handle(cmd("Q1234")))
	assert.True(t, s.RemoteStatus)

	raw := d.Handle(cmd(frame.CmdSystemStatus))
	require.Len(t, raw, frame.LenSystemRapid)
}

func TestRapid_TrainHeatsCoil(t *testing.T) {
	c := newClock()
	d := newRapid(c, 9)
	d.Handle(cmd(frame.CmdRemoteEnable))
	status(t, d.Handle(cmd("@", frame.Field{Value: 100, Width: 3})))
	status(t, d.Handle(cmd("B", frame.Field{Value: 100, Width: 4})))
	status(t, d.Handle(cmd("[", frame.Field{Value: 100, Width: 4})))
	status(t, d.Handle(cmd("D", frame.Field{Value: 100, Width: 5})))

	d.Handle(cmd(frame.CmdArm))
	advanceWithPokes(t, c, d, 1500*time.Millisecond)
	s := status(t, d.Handle(cmd(frame.CmdFire)))
	assert.True(t, s.Armed)

	snap := d.Snapshot()
	assert.EqualValues(t, 100, snap.PulsesFired)
	assert.InDelta(t, 80500.0, snap.JoulesDelivered, 0.001)
	assert.Greater(t, snap.CoilCelsius, MaxCoilTemperature)
	assert.True(t, snap.Instr.Standby, "over-temperature disarms")

	assert.Equal(t, errcode.CommandConflict, replyCode(t, d.Handle(cmd(frame.CmdArm)), 'E'))

	c.Advance(time.Hour)
	d.Handle(cmd(frame.CmdRemoteEnable))
	s = status(t, d.Handle(cmd(frame.CmdArm)))
	assert.True(t, s.Armed, "cooled coil arms again")
}

func TestPort(t *testing.T) {
	d := newRapid(newClock(), 9)
	p := Open(d, PortOptions{ReadTimeout: 50 * time.Millisecond})
	defer p.Close()

	require.NoError(t, p.Write(cmd("@", frame.Field{Value: 40, Width: 3})))
	_, err := p.Read(1)
	assert.ErrorIs(t, err, link.ErrTimeout, "silent without remote control")

	require.NoError(t, p.FlushInput())
	require.NoError(t, p.Write(cmd(frame.CmdRemoteEnable)))
	b, err := p.Read(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{'Q'}, b)
	b, err = p.Read(2)
	require.NoError(t, err)
	assert.True(t, frame.ParseInstrStatus(b[0]).RemoteStatus)

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Write(cmd(frame.CmdRemoteEnable)), ErrPortClosed)
}

func TestParseModel(t *testing.T) {
	m, err := ParseModel("Rapid")
	require.NoError(t, err)
	assert.Equal(t, Rapid, m)
	_, err = ParseModel("quadstim")
	assert.Error(t, err)
}
