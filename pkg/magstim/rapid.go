// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package magstim

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/stimctl/pkg/energy"
	"github.com/Thermoquad/stimctl/pkg/errcode"
	"github.com/Thermoquad/stimctl/pkg/frame"
	"github.com/Thermoquad/stimctl/pkg/link"
)

const (
	maxNPulses = 6000

	// Trains longer than this are treated as continuous operation when
	// checking the on-time limit.
	maxCheckedOnTime = 60.0
)

var errZeroFrequency = errors.New("frequency is zero")

// Rapid controls a Rapid² unit. The software version is queried on
// Connect and decides the width of several protocol fields.
type Rapid struct {
	*Unit
	info   *energy.SystemInfo
	layout frame.RapidLayout

	// Validated train length and minimum wait, and the earliest time the
	// next train may start.
	train     time.Duration
	wait      time.Duration
	nextTrain time.Time
}

// NewRapid returns a Rapid² driver over t.
func NewRapid(t link.Transport, opts Options) *Rapid {
	x := &Rapid{}
	x.Unit = newUnit(t, opts, x)
	x.info = x.opts.SystemInfo
	return x
}

func (x *Rapid) name() string { return "rapid" }

func (x *Rapid) remoteCommand(enable bool) command {
	switch {
	case !enable:
		return query(frame.CmdRemoteDisable, frame.SchemaInstr, frame.LenInstr)
	case x.opts.UnlockCode != "":
		return query(string(frame.TagRemoteEnable)+x.opts.UnlockCode, frame.SchemaInstr, frame.LenInstr)
	}
	return query(frame.CmdRemoteEnable, frame.SchemaInstr, frame.LenInstr)
}

// keepAlive uses the system status query on units with an unlock code,
// which would otherwise need the code on every poke.
func (x *Rapid) keepAlive() command {
	if x.opts.UnlockCode != "" {
		return query(frame.CmdSystemStatus, frame.SchemaSystemRapid, frame.LenSystemRapid)
	}
	return query(frame.CmdRemoteEnable, frame.SchemaInstr, frame.LenInstr)
}

func (x *Rapid) paramsCommand() (command, error) {
	if x.state.Version == nil {
		return command{}, errcode.VersionUnknown
	}
	return query(frame.CmdRapidParams, frame.SchemaRapidParam, x.layout.FrameLen()), nil
}

func (x *Rapid) powerOf(r *frame.Response, _ byte) int { return r.RapidParams.Power }

// afterConnect learns the version, which fixes the parameter layout, then
// reads the parameters so the mode left by an earlier session is known
// before anything can fire.
func (x *Rapid) afterConnect() error {
	if _, err := x.getVersion(); err != nil {
		return err
	}
	_, err := x.parameters("Connect")
	return err
}

func (x *Rapid) afterDisconnect() {
	x.nextTrain = time.Time{}
}

// GetVersion queries the software version.
func (x *Rapid) GetVersion() (frame.Version, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.getVersion()
}

func (x *Rapid) getVersion() (frame.Version, error) {
	r, err := x.execute("GetVersion", query(frame.CmdVersion, frame.SchemaVersion, 0))
	if err != nil {
		return frame.Version{}, err
	}
	v := *r.Version
	x.state.Version = &v
	x.layout = frame.RapidLayoutFor(v)
	x.log.Debug("software version", zap.Stringer("version", v), zap.Int("param_length", x.layout.FrameLen()))
	return v, nil
}

// GetErrorCode queries the three character error code.
func (x *Rapid) GetErrorCode() (string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	r, err := x.execute("GetErrorCode", query(frame.CmdErrorCode, frame.SchemaErrorCode, frame.LenErrorCode))
	if err != nil {
		return "", err
	}
	return r.ErrorCode, nil
}

// RTMSMode switches between single-pulse and repetitive mode. Entering
// repetitive mode sets a 1 s train, and 1 Hz if no frequency is set.
func (x *Rapid) RTMSMode(enable bool) (*frame.Response, error) {
	const op = "RTMSMode"
	x.mu.Lock()
	defer x.mu.Unlock()
	x.state.SequenceValidated = false

	cur, err := x.parameters(op)
	if err != nil {
		return nil, errcode.Wrap(errcode.ParameterAcquisition, op, err)
	}
	if cur.Rapid.SinglePulseMode != enable {
		return cur, nil
	}

	duration := 0
	if enable {
		duration = 10
	}
	r, err := x.execute(op, set(string(frame.TagDuration), duration, x.layout.Duration, frame.SchemaInstrRapid, frame.LenInstrRapid))
	if err != nil || !enable {
		return r, err
	}

	cur, err = x.parameters(op)
	if err != nil {
		return nil, errcode.Wrap(errcode.ParameterAcquisition, op, err)
	}
	if cur.RapidParams.Frequency == 0 {
		if _, err := x.execute(op, set(string(frame.TagFrequency), 10, 4, frame.SchemaInstrRapid, frame.LenInstrRapid)); err != nil {
			return nil, errcode.Wrap(errcode.ParameterUpdate, op, err)
		}
	}
	return r, nil
}

// IgnoreCoilSafetySwitch lets the unit fire without the coil safety
// switch engaged. It must be repeated after every connect.
func (x *Rapid) IgnoreCoilSafetySwitch() (*frame.Response, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.execute("IgnoreCoilSafetySwitch", query(frame.CmdIgnoreSafety, frame.SchemaInstr, frame.LenInstr))
}

// EnhancedPowerMode raises the power ceiling to 110. Leaving it clamps
// the power to 100 on the unit.
func (x *Rapid) EnhancedPowerMode(enable bool) (*frame.Response, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.state.SequenceValidated = false
	tag := frame.CmdEnhancedOff
	if enable {
		tag = frame.CmdEnhancedOn
	}
	return x.execute("EnhancedPowerMode", query(tag, frame.SchemaInstrRapid, frame.LenInstrRapid))
}

// IsEnhanced reports whether enhanced power mode is on. It is false when
// the state cannot be read.
func (x *Rapid) IsEnhanced() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	r, err := x.parameters("IsEnhanced")
	return err == nil && r.Rapid.EnhancedPowerMode
}

// SetFrequency sets the train frequency in Hz (one decimal place) and
// updates the pulse count to match the current duration.
func (x *Rapid) SetFrequency(hz float64) (*frame.Response, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.setFrequency(hz)
}

func (x *Rapid) setFrequency(hz float64) (*frame.Response, error) {
	const op = "SetFrequency"
	x.state.SequenceValidated = false

	f, err := frame.TenthsFromFloat(hz)
	if err != nil {
		return nil, errcode.Wrap(errcode.ParameterPrecision, op, err)
	}
	cur, err := x.parameters(op)
	if err != nil {
		return nil, errcode.Wrap(errcode.ParameterAcquisition, op, err)
	}
	limit, err := x.info.MaxFrequency(x.opts.Voltage, x.opts.RapidType, cur.RapidParams.Power)
	if err != nil {
		return nil, errcode.Wrap(errcode.ParameterRange, op, err)
	}
	if f < 0 || f > limit {
		return nil, errcode.Wrap(errcode.ParameterRange, op, fmt.Errorf("%s Hz outside 0-%s Hz", f, limit))
	}

	r, err := x.execute(op, set(string(frame.TagFrequency), int(f), 4, frame.SchemaInstrRapid, frame.LenInstrRapid))
	if err != nil {
		return nil, err
	}
	if err := x.pushNPulses(op); err != nil {
		return nil, err
	}
	return r, nil
}

// SetNPulses sets the pulse count and updates the duration to match the
// current frequency.
func (x *Rapid) SetNPulses(n int) (*frame.Response, error) {
	const op = "SetNPulses"
	x.mu.Lock()
	defer x.mu.Unlock()
	x.state.SequenceValidated = false

	if n < 0 || n > maxNPulses {
		return nil, errcode.Wrap(errcode.ParameterRange, op, fmt.Errorf("%d pulses outside 0-%d", n, maxNPulses))
	}
	cur, err := x.parameters(op)
	if err != nil {
		return nil, errcode.Wrap(errcode.ParameterAcquisition, op, err)
	}
	if cur.RapidParams.Frequency == 0 {
		return nil, errcode.Wrap(errcode.ParameterUpdate, op, errZeroFrequency)
	}

	r, err := x.execute(op, set(string(frame.TagNPulses), n, x.layout.NPulses, frame.SchemaInstrRapid, frame.LenInstrRapid))
	if err != nil {
		return nil, err
	}

	cur, err = x.parameters(op)
	if err != nil {
		return nil, errcode.Wrap(errcode.ParameterAcquisition, op, err)
	}
	d := DurationFor(cur.RapidParams.NPulses, cur.RapidParams.Frequency)
	if d == 0 {
		// A zero duration would drop the unit into single-pulse mode.
		return nil, errcode.Wrap(errcode.ParameterUpdate, op, fmt.Errorf("%d pulses round to a zero duration", n))
	}
	if _, err := x.execute(op, set(string(frame.TagDuration), int(d), x.layout.Duration, frame.SchemaInstrRapid, frame.LenInstrRapid)); err != nil {
		return nil, errcode.Wrap(errcode.ParameterUpdate, op, err)
	}
	return r, nil
}

// SetDuration sets the train duration in seconds (one decimal place) and
// updates the pulse count to match the current frequency.
func (x *Rapid) SetDuration(seconds float64) (*frame.Response, error) {
	const op = "SetDuration"
	x.mu.Lock()
	defer x.mu.Unlock()
	x.state.SequenceValidated = false

	d, err := frame.TenthsFromFloat(seconds)
	if err != nil {
		return nil, errcode.Wrap(errcode.ParameterPrecision, op, err)
	}
	if x.state.Version == nil {
		return nil, errcode.Wrap(errcode.VersionUnknown, op, nil)
	}
	if d < 0 || !frame.FitsDigits(int(d), x.layout.Duration) {
		return nil, errcode.Wrap(errcode.ParameterRange, op, fmt.Errorf("%s s", d))
	}

	r, err := x.execute(op, set(string(frame.TagDuration), int(d), x.layout.Duration, frame.SchemaInstrRapid, frame.LenInstrRapid))
	if err != nil {
		return nil, err
	}
	if err := x.pushNPulses(op); err != nil {
		return nil, err
	}
	return r, nil
}

// pushNPulses re-reads the parameters and sets nPulses = f·d.
func (x *Rapid) pushNPulses(op string) error {
	cur, err := x.parameters(op)
	if err != nil {
		return errcode.Wrap(errcode.ParameterAcquisition, op, err)
	}
	p := cur.RapidParams
	n := NPulsesFor(p.Frequency, p.Duration)
	if !frame.FitsDigits(n, x.layout.NPulses) {
		return errcode.Wrap(errcode.ParameterUpdate, op, fmt.Errorf("%d pulses do not fit the parameter field", n))
	}
	if _, err := x.execute(op, set(string(frame.TagNPulses), n, x.layout.NPulses, frame.SchemaInstrRapid, frame.LenInstrRapid)); err != nil {
		return errcode.Wrap(errcode.ParameterUpdate, op, err)
	}
	return nil
}

// NPulsesFor returns round(f·d) for a frequency in tenths of a hertz and a
// duration in tenths of a second. Halves round up.
func NPulsesFor(f, d frame.Tenths) int {
	return (int(f)*int(d) + 50) / 100
}

// DurationFor returns round(n/f) in tenths of a second for a frequency in
// tenths of a hertz. Halves round up. A zero frequency gives zero.
func DurationFor(n int, f frame.Tenths) frame.Tenths {
	if f <= 0 {
		return 0
	}
	return frame.Tenths((200*n + int(f)) / (2 * int(f)))
}

// SetPower sets the power level: 0-100, or 0-110 in enhanced power mode.
// In repetitive mode the frequency is lowered if it exceeds the ceiling
// for the new power.
func (x *Rapid) SetPower(level int, delay bool) (*frame.Response, error) {
	const op = "SetPower"
	x.mu.Lock()
	defer x.mu.Unlock()
	x.state.SequenceValidated = false

	cur, err := x.parameters(op)
	if err != nil {
		return nil, errcode.Wrap(errcode.ParameterAcquisition, op, err)
	}
	limit := 100
	if cur.Rapid.EnhancedPowerMode {
		limit = energy.MaxPower
	}
	r, err := x.setPower(op, frame.TagPower, level, limit, delay)
	if err != nil {
		return nil, err
	}

	cur, err = x.parameters(op)
	if err != nil {
		return nil, errcode.Wrap(errcode.ParameterAcquisition, op, err)
	}
	if cur.Rapid.SinglePulseMode {
		return r, nil
	}
	ceiling, err := x.info.MaxFrequency(x.opts.Voltage, x.opts.RapidType, cur.RapidParams.Power)
	if err != nil {
		return nil, errcode.Wrap(errcode.ParameterUpdate, op, err)
	}
	if cur.RapidParams.Frequency > ceiling {
		x.log.Info("lowering frequency for new power",
			zap.Stringer("from", cur.RapidParams.Frequency), zap.Stringer("to", ceiling))
		if _, err := x.setFrequency(ceiling.Float()); err != nil {
			return nil, errcode.Wrap(errcode.ParameterUpdate, op, err)
		}
	}
	return r, nil
}

func (x *Rapid) requireVersion(op string, major int) error {
	switch {
	case x.state.Version == nil:
		return errcode.Wrap(errcode.VersionUnknown, op, nil)
	case !x.state.Version.AtLeast(major):
		return errcode.Wrap(errcode.VersionUnsupported, op, fmt.Errorf("have %s, need %d", x.state.Version, major))
	}
	return nil
}

// SetChargeDelay sets the charge delay in milliseconds. Software version
// 9 or later.
func (x *Rapid) SetChargeDelay(ms int) (*frame.Response, error) {
	const op = "SetChargeDelay"
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.requireVersion(op, 9); err != nil {
		return nil, err
	}
	x.state.SequenceValidated = false
	if ms < 0 {
		return nil, errcode.Wrap(errcode.ParameterRange, op, fmt.Errorf("%d ms", ms))
	}
	if x.state.Version.AtLeast(10) {
		return x.execute(op, set(string(frame.TagChargeDelaySet), ms, 5, frame.SchemaSystemRapid, frame.LenSystemRapid))
	}
	return x.execute(op, set(string(frame.TagChargeDelaySet), ms, 4, frame.SchemaInstrRapid, frame.LenInstrRapid))
}

// GetChargeDelay queries the charge delay in milliseconds. Software
// version 9 or later.
func (x *Rapid) GetChargeDelay() (int, error) {
	const op = "GetChargeDelay"
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.requireVersion(op, 9); err != nil {
		return 0, err
	}
	length := 7
	if x.state.Version.AtLeast(10) {
		length = 8
	}
	r, err := x.execute(op, query(frame.CmdChargeDelay, frame.SchemaInstrCharge, length))
	if err != nil {
		return 0, err
	}
	return r.ChargeDelay, nil
}

// GetSystemStatus queries the instrument, Rapid and extended status
// bytes. Software version 9 or later.
func (x *Rapid) GetSystemStatus() (*frame.Response, error) {
	const op = "GetSystemStatus"
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.requireVersion(op, 9); err != nil {
		return nil, err
	}
	return x.execute(op, query(frame.CmdSystemStatus, frame.SchemaSystemRapid, frame.LenSystemRapid))
}

// ValidateSequence checks the current train against the on-time limit for
// its power and frequency. A repetitive train can only be fired after it
// has passed.
func (x *Rapid) ValidateSequence() (*frame.Response, error) {
	const op = "ValidateSequence"
	x.mu.Lock()
	defer x.mu.Unlock()
	x.state.SequenceValidated = false

	cur, err := x.parameters(op)
	if err != nil {
		return nil, errcode.Wrap(errcode.ParameterAcquisition, op, err)
	}
	p := cur.RapidParams
	maxOn, err := x.info.MaxOnTime(p.Power, p.Frequency.Float())
	if err != nil {
		return nil, errcode.Wrap(errcode.ParameterRange, op, err)
	}
	if math.Min(p.Duration.Float(), maxCheckedOnTime) > maxOn {
		return nil, errcode.Wrap(errcode.MaxOnTime, op, fmt.Errorf("%s s exceeds %.1f s", p.Duration, maxOn))
	}
	wait, err := x.info.MinWaitTime(p.Power, p.NPulses, p.Frequency.Float())
	if err != nil {
		return nil, errcode.Wrap(errcode.ParameterRange, op, err)
	}

	x.train = seconds(p.Duration.Float())
	x.wait = seconds(wait)
	x.state.SequenceValidated = true
	return cur, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// MinWaitTime returns the minimum wait in seconds after a train with the
// current parameters.
func (x *Rapid) MinWaitTime() (float64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	cur, err := x.parameters("MinWaitTime")
	if err != nil {
		return 0, errcode.Wrap(errcode.ParameterAcquisition, "MinWaitTime", err)
	}
	p := cur.RapidParams
	return x.info.MinWaitTime(p.Power, p.NPulses, p.Frequency.Float())
}

// MaxOnTime returns the longest train in seconds allowed at the current
// power and frequency.
func (x *Rapid) MaxOnTime() (float64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	cur, err := x.parameters("MaxOnTime")
	if err != nil {
		return 0, errcode.Wrap(errcode.ParameterAcquisition, "MaxOnTime", err)
	}
	p := cur.RapidParams
	return x.info.MaxOnTime(p.Power, p.Frequency.Float())
}

// fireGate refuses a repetitive train that has not been validated, or
// that starts inside the minimum wait when that is enforced.
func (x *Rapid) fireGate(op string) error {
	if !x.state.RepetitiveMode {
		return nil
	}
	if x.opts.EnforceEnergySafety && !x.state.SequenceValidated {
		return errcode.Wrap(errcode.SequenceValidation, op, nil)
	}
	if x.opts.EnforceMinWait && !x.nextTrain.IsZero() {
		if now := x.clock.Now(); now.Before(x.nextTrain) {
			return errcode.Wrap(errcode.MinWaitTime, op, fmt.Errorf("next train in %s", x.nextTrain.Sub(now)))
		}
	}
	return nil
}

func (x *Rapid) trainStarted() {
	if x.state.RepetitiveMode && x.state.SequenceValidated {
		x.nextTrain = x.clock.Now().Add(x.train + x.wait)
	}
}

// Fire fires a single pulse, or a train in repetitive mode.
func (x *Rapid) Fire() (*frame.Response, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.fireGate("Fire"); err != nil {
		return nil, err
	}
	r, err := x.fire()
	if err == nil {
		x.trainStarted()
	}
	return r, err
}

// QuickFire raises the trigger line, subject to the same checks as Fire.
func (x *Rapid) QuickFire() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.fireGate("QuickFire"); err != nil {
		return err
	}
	if err := x.trigger("QuickFire", link.KindTriggerAssert); err != nil {
		return err
	}
	x.trainStarted()
	return nil
}

// Version returns the software version, or false before it is known.
func (x *Rapid) Version() (frame.Version, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.state.Version == nil {
		return frame.Version{}, false
	}
	return *x.state.Version, true
}
