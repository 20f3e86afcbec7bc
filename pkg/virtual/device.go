// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package virtual simulates a Magstim 200², BiStim² or Rapid² unit on the
// device side of the serial protocol.
//
// Timers are evaluated lazily against an injected clock whenever a frame
// arrives, so a fake clock makes every timing rule deterministic.
package virtual

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/stimctl/pkg/clock"
	"github.com/Thermoquad/stimctl/pkg/energy"
	"github.com/Thermoquad/stimctl/pkg/frame"
)

// Timing and thermal behaviour of the simulated unit.
const (
	ContactTimeout     = time.Second      // armed unit without a valid command drops remote control
	ArmIdleTimeout     = 60 * time.Second // armed unit without a fire reverts to standby
	ChargeTime         = time.Second      // arm to ready
	AmbientTemperature = 24.0             // °C
	MaxCoilTemperature = 40.0             // °C, arming refused above this

	coolingTimeConstant = 10 * time.Minute
	heatPerJoule        = 0.0005 // °C per delivered joule
	maxNPulses          = 6000
	maxPulseInterval    = 999
)

// DefaultVersion is reported by a virtual Rapid unless configured otherwise.
var DefaultVersion = frame.Version{Major: 5}

// Options configures a virtual unit. Zero values use the defaults.
type Options struct {
	Version    frame.Version
	Voltage    int
	RapidType  int
	UnlockCode string
	SystemInfo *energy.SystemInfo
	Clock      clock.Clock
	Logger     *zap.Logger
}

type outcome int

const (
	replyOK outcome = iota
	replyInvalid
	replyConflict
	replyUnknown
	replySilent
)

// Device is safe for concurrent use.
type Device struct {
	mu    sync.Mutex
	model Model
	opts  Options
	clock clock.Clock
	info  *energy.SystemInfo
	log   *zap.Logger

	instr frame.InstrStatus
	rapid frame.RapidStatus
	ext   frame.ExtendedStatus

	power         int
	powerB        int
	pulseInterval int
	highRes       bool
	frequency     frame.Tenths
	nPulses       int
	duration      frame.Tenths
	wait          frame.Tenths
	chargeDelay   int
	errorCode     string

	timeArmed       time.Time
	lastFired       time.Time
	trainLength     time.Duration
	contactDeadline time.Time
	triggerLine     bool

	coil            float64
	lastThermal     time.Time
	pulsesFired     int64
	joulesDelivered float64
}

// New builds a unit in its power-on state: standby, coil present, power 30.
func New(model Model, opts Options) *Device {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.SystemInfo == nil {
		opts.SystemInfo = energy.Default()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Voltage == 0 {
		opts.Voltage = 240
	}
	if opts.Version == (frame.Version{}) {
		opts.Version = DefaultVersion
	}

	d := &Device{
		model:       model,
		opts:        opts,
		clock:       opts.Clock,
		info:        opts.SystemInfo,
		log:         opts.Logger.Named("virtual").With(zap.Stringer("model", model)),
		instr:       frame.InstrStatus{Standby: true, CoilPresent: true},
		power:       30,
		errorCode:   "000",
		coil:        AmbientTemperature,
		lastThermal: opts.Clock.Now(),
	}
	switch model {
	case BiStim:
		d.powerB = 30
		d.pulseInterval = 10
	case Rapid:
		d.rapid = frame.RapidStatus{
			SinglePulseMode:  true,
			HVPSUConnected:   true,
			CoilReady:        true,
			ThetaPSUDetected: true,
		}
		d.ext.Plus1ModuleDetected = opts.RapidType > energy.SuperRapid2
		d.nPulses = 1
		d.wait = 10
	}
	return d
}

// Model returns the simulated unit type.
func (d *Device) Model() Model { return d.model }

// Handle processes one command frame and returns the reply bytes, or nil
// when the unit stays silent.
func (d *Device) Handle(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	d.tick(now)

	cmd, err := frame.ParseCommand(raw)
	if err != nil {
		d.log.Debug("bad checksum", zap.String("rx", frame.FormatFrame(raw)))
		return frame.EncodeResponse(raw[0], []byte{frame.ReplyInvalidData})
	}

	// A Rapid not under remote control only answers a few commands.
	if d.model == Rapid && !d.instr.RemoteStatus && !answersWithoutControl(cmd.Tag) {
		return nil
	}

	body, out := d.dispatch(cmd, now)

	var reply []byte
	switch out {
	case replySilent:
		return nil
	case replyUnknown:
		reply = []byte{frame.ReplyUnrecognized}
	case replyInvalid:
		reply = frame.EncodeResponse(cmd.Tag, []byte{frame.ReplyInvalidData})
	case replyConflict:
		reply = frame.EncodeResponse(cmd.Tag, []byte{frame.ReplyConflict})
	default:
		reply = frame.EncodeResponse(cmd.Tag, append([]byte{d.instr.Byte()}, body...))
		d.refreshContact(now)
	}
	d.log.Debug("frame",
		zap.String("rx", frame.FormatFrame(raw)),
		zap.String("tx", frame.FormatFrame(reply)))
	return reply
}

func answersWithoutControl(tag byte) bool {
	switch tag {
	case frame.TagRemoteEnable, frame.TagRemoteDisable, frame.TagTemperature, frame.TagRapidParameters:
		return true
	}
	return false
}

// TriggerLine drives the hardware trigger input. A rising edge fires a
// ready unit under remote control.
func (d *Device) TriggerLine(asserted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock.Now()
	d.tick(now)
	rising := asserted && !d.triggerLine
	d.triggerLine = asserted
	if rising && d.instr.RemoteStatus && d.instr.Ready {
		d.fire(now)
		d.refreshContact(now)
	}
}

func (d *Device) dispatch(cmd frame.Command, now time.Time) ([]byte, outcome) {
	switch cmd.Tag {
	case frame.TagRemoteEnable:
		if d.model == Rapid && d.opts.UnlockCode != "" && string(cmd.Data) != d.opts.UnlockCode {
			return nil, replySilent
		}
		d.instr.RemoteStatus = true
		return nil, replyOK

	case frame.TagRemoteDisable:
		d.instr.RemoteStatus = false
		d.disarm()
		return nil, replyOK

	case frame.TagTemperature:
		return d.temperaturePayload(), replyOK

	case frame.TagInstrument:
		if cmd.Sub() == frame.SubDisarm {
			d.disarm()
			return nil, replyOK
		}
	}

	switch d.model {
	case BiStim:
		return d.handleBiStim(cmd, now)
	case Rapid:
		return d.handleRapid(cmd, now)
	default:
		return d.handleMagstim(cmd, now)
	}
}

func (d *Device) handleMagstim(cmd frame.Command, now time.Time) ([]byte, outcome) {
	switch cmd.Tag {
	case frame.TagParameters:
		return payloadOrConflict(frame.MagstimParams{Power: d.power}.Payload())
	case frame.TagPower:
		if !d.instr.RemoteStatus {
			return nil, replyConflict
		}
		return nil, setLevel(cmd, 100, &d.power)
	case frame.TagInstrument:
		return nil, d.instrument(cmd, now)
	}
	return nil, replyUnknown
}

func (d *Device) handleBiStim(cmd frame.Command, now time.Time) ([]byte, outcome) {
	switch cmd.Tag {
	case frame.TagParameters:
		p := frame.BiStimParams{PowerA: d.power, PowerB: d.powerB, PulseInterval: d.pulseInterval}
		return payloadOrConflict(p.Payload())
	case frame.TagPower, frame.TagPowerB, frame.TagHighResOn, frame.TagHighResOff, frame.TagPulseInterval, frame.TagInstrument:
	default:
		return nil, replyUnknown
	}
	if !d.instr.RemoteStatus {
		return nil, replyConflict
	}

	switch cmd.Tag {
	case frame.TagPower:
		return nil, setLevel(cmd, 100, &d.power)
	case frame.TagPowerB:
		return nil, setLevel(cmd, 100, &d.powerB)
	case frame.TagHighResOn:
		d.highRes = true
	case frame.TagHighResOff:
		d.highRes = false
	case frame.TagPulseInterval:
		v, err := cmd.Value()
		if err != nil {
			return nil, replyInvalid
		}
		switch {
		case v == 0 && !d.instr.Standby:
			return nil, replyConflict
		case v < 0 || v > maxPulseInterval:
			return nil, replyConflict
		}
		d.pulseInterval = v
	case frame.TagInstrument:
		return nil, d.instrument(cmd, now)
	}
	return nil, replyOK
}

func (d *Device) handleRapid(cmd frame.Command, now time.Time) ([]byte, outcome) {
	v9 := d.opts.Version.AtLeast(9)
	v10 := d.opts.Version.AtLeast(10)

	switch cmd.Tag {
	case frame.TagRapidParameters:
		return d.rapidParamsPayload()

	case frame.TagPower:
		limit := 100
		if d.rapid.EnhancedPowerMode {
			limit = energy.MaxPower
		}
		return nil, setLevel(cmd, limit, &d.power)

	case frame.TagInstrument:
		return nil, d.instrument(cmd, now)

	case frame.TagErrorCode:
		return []byte(d.errorCode), replyOK

	case frame.TagVersion:
		if cmd.Sub() != 'D' {
			return nil, replyInvalid
		}
		body := append([]byte(d.opts.Version.String()), frame.VersionTerminator)
		return body, replyOK

	case frame.TagIgnoreSafety:
		return nil, replyOK

	case frame.TagEnhancedOn, frame.TagEnhancedOff:
		if !d.instr.Standby {
			return nil, replyConflict
		}
		d.rapid.EnhancedPowerMode = cmd.Tag == frame.TagEnhancedOn
		if !d.rapid.EnhancedPowerMode && d.power > 100 {
			d.power = 100
		}
		return d.rapidBody(), replyOK

	case frame.TagFrequency:
		v, err := cmd.Value()
		if err != nil {
			return nil, replyInvalid
		}
		limit, err := d.info.MaxFrequency(d.opts.Voltage, d.opts.RapidType, d.power)
		if err != nil || v < 0 || frame.Tenths(v) > limit {
			return nil, replyConflict
		}
		d.frequency = frame.Tenths(v)
		return d.rapidBody(), replyOK

	case frame.TagNPulses:
		v, err := cmd.Value()
		if err != nil {
			return nil, replyInvalid
		}
		if v < 0 || v > maxNPulses {
			return nil, replyConflict
		}
		d.nPulses = v
		return d.rapidBody(), replyOK

	case frame.TagDuration:
		v, err := cmd.Value()
		if err != nil {
			return nil, replyInvalid
		}
		limit := 999
		if v9 {
			limit = 9999
		}
		switch {
		case v < 0 || v > limit:
			return nil, replyConflict
		case v == 0:
			if !d.instr.Standby {
				return nil, replyConflict
			}
			d.rapid.SinglePulseMode = true
		default:
			d.duration = frame.Tenths(v)
			if d.rapid.SinglePulseMode && d.instr.Standby {
				d.rapid.SinglePulseMode = false
			}
		}
		return d.rapidBody(), replyOK

	case frame.TagSystemStatus:
		if !v9 {
			return nil, replyUnknown
		}
		return []byte{d.rapid.Byte(), 0x00, d.ext.Byte()}, replyOK

	case frame.TagChargeDelayGet:
		if !v9 {
			return nil, replyUnknown
		}
		width := 3
		if v10 {
			width = 4
		}
		digits, err := frame.AppendDigits(nil, d.chargeDelay, width)
		if err != nil {
			return nil, replyConflict
		}
		return append(d.rapidBody(), digits...), replyOK

	case frame.TagChargeDelaySet:
		if !v9 {
			return nil, replyUnknown
		}
		v, err := cmd.Value()
		if err != nil {
			return nil, replyInvalid
		}
		limit := 2000
		if v10 {
			limit = 10000
		}
		if v < 0 || v > limit {
			return nil, replyConflict
		}
		d.chargeDelay = v
		d.ext.ChargeDelaySet = v > 0
		if v10 {
			return []byte{d.rapid.Byte(), 0x00, d.ext.Byte()}, replyOK
		}
		return d.rapidBody(), replyOK
	}
	return nil, replyUnknown
}

// instrument handles arm and fire. Disarm is handled before dispatch.
func (d *Device) instrument(cmd frame.Command, now time.Time) outcome {
	if !d.instr.RemoteStatus {
		return replyConflict
	}
	switch cmd.Sub() {
	case frame.SubArm:
		if !d.instr.Standby || d.coil > MaxCoilTemperature {
			return replyConflict
		}
		d.instr.Standby = false
		d.instr.Armed = true
		d.timeArmed = now
		return replyOK
	case frame.SubFire:
		if !d.instr.Ready {
			return replyConflict
		}
		d.fire(now)
		return replyOK
	default:
		return replyInvalid
	}
}

func (d *Device) fire(now time.Time) {
	pulses := 1
	var train time.Duration
	if d.model == Rapid && !d.rapid.SinglePulseMode {
		pulses = d.nPulses
		train = time.Duration(d.duration) * 100 * time.Millisecond
	}

	joules, _ := d.info.Joules(d.power)
	if d.model == BiStim {
		b, _ := d.info.Joules(d.powerB)
		joules += b
	}
	delivered := joules * float64(pulses)

	d.instr.Ready = false
	d.instr.Armed = true
	d.lastFired = now
	d.trainLength = train
	d.pulsesFired += int64(pulses)
	d.joulesDelivered += delivered
	d.coil += delivered * heatPerJoule
}

func (d *Device) disarm() {
	d.instr.Ready = false
	d.instr.Armed = false
	d.instr.Standby = true
	d.contactDeadline = time.Time{}
}

// okToFire reports whether the refire interval since the last pulse or
// train has passed.
func (d *Device) okToFire(now time.Time) bool {
	var interval time.Duration
	switch d.model {
	case BiStim:
		interval = 4 * time.Second
	case Rapid:
		interval = d.trainLength + time.Duration(d.wait)*100*time.Millisecond
	default:
		switch {
		case d.power <= 49:
			interval = 2 * time.Second
		case d.power <= 79:
			interval = 3 * time.Second
		default:
			interval = 4 * time.Second
		}
	}
	return now.After(d.lastFired.Add(interval))
}

// tick applies every timer that has expired by now.
func (d *Device) tick(now time.Time) {
	d.cool(now)

	if !d.contactDeadline.IsZero() && now.After(d.contactDeadline) {
		d.log.Debug("contact lost, dropping remote control")
		d.disarm()
		d.instr.RemoteStatus = false
	}

	if d.instr.Armed || d.instr.Ready {
		last := d.timeArmed
		if d.lastFired.After(last) {
			last = d.lastFired
		}
		if now.After(last.Add(ArmIdleTimeout)) {
			d.log.Debug("idle while armed, reverting to standby")
			d.disarm()
		}
	}

	if d.instr.Armed && now.After(d.timeArmed.Add(ChargeTime)) && d.okToFire(now) {
		d.instr.Armed = false
		d.instr.Ready = true
	}

	if (d.instr.Armed || d.instr.Ready) && d.coil > MaxCoilTemperature {
		d.log.Debug("coil over temperature, disarming", zap.Float64("celsius", d.coil))
		d.disarm()
	}

	if d.model == Rapid {
		trainEnd := d.lastFired.Add(d.trainLength)
		d.rapid.Train = now.Before(trainEnd)
		d.rapid.Wait = !d.rapid.Train && !d.lastFired.IsZero() &&
			now.Before(trainEnd.Add(time.Duration(d.wait)*100*time.Millisecond))
	}
}

// refreshContact restarts the contact timer after a valid reply while
// armed or ready.
func (d *Device) refreshContact(now time.Time) {
	if d.instr.Armed || d.instr.Ready {
		d.contactDeadline = now.Add(ContactTimeout)
	} else {
		d.contactDeadline = time.Time{}
	}
}

func (d *Device) cool(now time.Time) {
	dt := now.Sub(d.lastThermal)
	if dt <= 0 {
		return
	}
	decay := math.Exp(-float64(dt) / float64(coolingTimeConstant))
	d.coil = AmbientTemperature + (d.coil-AmbientTemperature)*decay
	d.lastThermal = now
}

func (d *Device) temperaturePayload() []byte {
	t := frame.Tenths(math.Round(d.coil * 10))
	if t > 999 {
		t = 999
	}
	body, _ := frame.CoilTemperature{Coil1: t, Coil2: t}.Payload()
	return body
}

func (d *Device) rapidBody() []byte {
	return []byte{d.rapid.Byte()}
}

func (d *Device) rapidParamsPayload() ([]byte, outcome) {
	p := frame.RapidParams{
		Power:     d.power,
		Frequency: d.frequency,
		NPulses:   d.nPulses,
		Duration:  d.duration,
		Wait:      d.wait,
	}
	payload, err := p.Payload(frame.RapidLayoutFor(d.opts.Version))
	if err != nil {
		return nil, replyConflict
	}
	return append(d.rapidBody(), payload...), replyOK
}

func setLevel(cmd frame.Command, limit int, dst *int) outcome {
	v, err := cmd.Value()
	if err != nil {
		return replyInvalid
	}
	if v < 0 || v > limit {
		return replyConflict
	}
	*dst = v
	return replyOK
}

func payloadOrConflict(body []byte, err error) ([]byte, outcome) {
	if err != nil {
		return nil, replyConflict
	}
	return body, replyOK
}

// Snapshot is a copy of the unit state.
type Snapshot struct {
	Model         Model
	Instr         frame.InstrStatus
	Rapid         frame.RapidStatus
	Extended      frame.ExtendedStatus
	Power         int
	PowerB        int
	HighRes       bool
	PulseInterval int
	Frequency     frame.Tenths
	NPulses       int
	Duration      frame.Tenths
	Wait          frame.Tenths
	ChargeDelay   int
	CoilCelsius   float64

	PulsesFired     int64
	JoulesDelivered float64
}

// Snapshot applies expired timers and returns the current state.
func (d *Device) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tick(d.clock.Now())
	return Snapshot{
		Model:           d.model,
		Instr:           d.instr,
		Rapid:           d.rapid,
		Extended:        d.ext,
		Power:           d.power,
		PowerB:          d.powerB,
		HighRes:         d.highRes,
		PulseInterval:   d.pulseInterval,
		Frequency:       d.frequency,
		NPulses:         d.nPulses,
		Duration:        d.duration,
		Wait:            d.wait,
		ChargeDelay:     d.chargeDelay,
		CoilCelsius:     d.coil,
		PulsesFired:     d.pulsesFired,
		JoulesDelivered: d.joulesDelivered,
	}
}
