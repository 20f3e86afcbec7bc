// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package magstim drives Magstim 200², BiStim² and Rapid² units.
//
// Every unit type shares one core (Unit) that owns the link worker and the
// heartbeat scheduler and funnels all traffic through a single execute
// gate. The types differ only in the commands they send for remote control,
// keep-alive and parameter queries, plus the operations that exist on one
// model alone.
//
// Operations are serialized per unit. Errors carry an errcode.Code that
// can be recovered with errcode.Of or tested with errors.Is.
package magstim

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Thermoquad/stimctl/pkg/clock"
	"github.com/Thermoquad/stimctl/pkg/errcode"
	"github.com/Thermoquad/stimctl/pkg/frame"
	"github.com/Thermoquad/stimctl/pkg/heartbeat"
	"github.com/Thermoquad/stimctl/pkg/link"
)

// ArmDelay is how long Arm waits when asked to let the unit charge.
const ArmDelay = 1100 * time.Millisecond

// command is one frame sent through execute.
type command struct {
	tag    string
	fields []frame.Field
	schema frame.Schema
	length int // reply length including tag and checksum
	reply  bool
}

func query(tag string, schema frame.Schema, length int) command {
	return command{tag: tag, schema: schema, length: length, reply: true}
}

func set(tag string, value, width int, schema frame.Schema, length int) command {
	return command{
		tag:    tag,
		fields: []frame.Field{{Value: value, Width: width}},
		schema: schema,
		length: length,
		reply:  true,
	}
}

// model is the part of a unit type the shared core depends on.
type model interface {
	name() string
	remoteCommand(enable bool) command
	keepAlive() command
	paramsCommand() (command, error)
	powerOf(r *frame.Response, tag byte) int
	afterConnect() error
	afterDisconnect()
}

// Unit is the core shared by every unit type.
type Unit struct {
	mu    sync.Mutex
	t     link.Transport
	opts  Options
	log   *zap.Logger
	clock clock.Clock
	m     model

	worker *link.Worker
	hb     *heartbeat.Scheduler
	closed bool

	state DeviceState
}

func newUnit(t link.Transport, opts Options, m model) *Unit {
	opts.setDefaults()
	session := uuid.NewString()
	return &Unit{
		t:     t,
		opts:  opts,
		log:   opts.Logger.Named("magstim").With(zap.String("model", m.name()), zap.String("session", session)),
		clock: opts.Clock,
		m:     m,
	}
}

// link starts the worker and the paused heartbeat on first use.
func (u *Unit) link() (*link.Worker, error) {
	if u.closed {
		return nil, link.ErrClosed
	}
	if u.worker != nil {
		return u.worker, nil
	}
	lo := u.opts.Link
	if lo.Logger == nil {
		lo.Logger = u.log
	}
	u.worker = link.NewWorker(u.t, lo)
	u.worker.Start()

	ka := u.m.keepAlive()
	u.hb = heartbeat.New(u.worker, frame.MustEncode(ka.tag, ka.fields...), ka.length, heartbeat.Options{
		ArmedInterval:    u.opts.ArmedInterval,
		DisarmedInterval: u.opts.DisarmedInterval,
		Logger:           u.log,
	})
	return u.worker, nil
}

// shutdown stops the heartbeat and the worker. The unit cannot be used
// again afterwards.
func (u *Unit) shutdown() {
	if u.hb != nil {
		u.hb.Stop()
	}
	if u.worker != nil {
		u.worker.Close()
	}
	u.closed = true
	u.state = DeviceState{Version: u.state.Version}
}

// permitted reports whether c may be sent before Connect has completed.
func (u *Unit) permitted(c command) bool {
	if u.state.Connected {
		return true
	}
	switch c.tag[0] {
	case frame.TagRemoteEnable, frame.TagRemoteDisable, frame.TagParameters, frame.TagTemperature:
		return true
	case frame.TagRapidParameters:
		return u.state.Version != nil
	}
	return c.tag == frame.CmdDisarm
}

// execute is the single path to the unit. It sends c, waits for the reply
// when one is wanted, decodes it and keeps the heartbeat informed.
func (u *Unit) execute(op string, c command) (*frame.Response, error) {
	if !u.permitted(c) {
		return nil, errcode.Wrap(errcode.NoRemoteControl, op, nil)
	}
	raw, err := frame.Encode(c.tag, c.fields...)
	if err != nil {
		return nil, errcode.Wrap(errcode.ParameterRange, op, err)
	}
	w, err := u.link()
	if err != nil {
		return nil, errcode.Wrap(errcode.SerialWrite, op, err)
	}
	if err := w.Submit(link.FrameRequest(raw, c.length, c.reply)); err != nil {
		return nil, errcode.Wrap(errcode.SerialRead, op, err)
	}

	var resp *frame.Response
	if c.reply {
		var res link.Result
		select {
		case res = <-w.Results():
		case <-w.Done():
			return nil, errcode.Wrap(errcode.SerialRead, op, link.ErrClosed)
		}
		if res.Err != nil {
			return nil, fmt.Errorf("%s: %w", op, res.Err)
		}
		resp, err = frame.Decode(res.Raw, c.tag[0], c.schema)
		if err != nil {
			u.log.Debug("command rejected", zap.String("op", op), zap.String("rx", frame.FormatFrame(res.Raw)), zap.Error(err))
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		u.state.update(resp)
	}

	if u.state.Connected {
		u.hb.Notify(u.signalFor(c))
	}
	return resp, nil
}

func (u *Unit) signalFor(c command) heartbeat.Signal {
	switch {
	case c.tag == frame.CmdDisarm:
		return heartbeat.Disarmed
	case c.tag == frame.CmdArm:
		return heartbeat.Armed
	case c.tag[0] == frame.TagRemoteDisable:
		return heartbeat.Pause
	case c.tag[0] == frame.TagRemoteEnable:
		return u.resumeSignal()
	}
	return heartbeat.Traffic
}

func (u *Unit) resumeSignal() heartbeat.Signal {
	if u.state.Armed || u.state.Ready {
		return heartbeat.Armed
	}
	return heartbeat.Disarmed
}

// Connect takes remote control of the unit and starts the heartbeat. It
// returns a *ConnectError when no session could be established.
func (u *Unit) Connect() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state.Connected {
		return nil
	}
	if u.closed {
		return &ConnectError{Model: u.m.name(), Step: "link", Err: link.ErrClosed}
	}
	if _, err := u.execute("Connect", u.m.remoteCommand(true)); err != nil {
		u.shutdown()
		return &ConnectError{Model: u.m.name(), Step: "remote control", Err: err}
	}
	u.state.Connected = true
	u.hb.Start()
	u.hb.Notify(u.resumeSignal())

	if err := u.m.afterConnect(); err != nil {
		u.disconnect()
		return &ConnectError{Model: u.m.name(), Step: "unit status", Err: err}
	}
	u.log.Info("connected", zap.Stringer("state", u.state))
	return nil
}

// Disconnect disarms the unit, stops the heartbeat, releases remote
// control and closes the link, in that order.
func (u *Unit) Disconnect() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.disconnect()
}

func (u *Unit) disconnect() error {
	if !u.state.Connected {
		if !u.closed && u.worker != nil {
			u.shutdown()
		}
		return nil
	}
	if _, err := u.execute("Disconnect", query(frame.CmdDisarm, frame.SchemaInstr, frame.LenInstr)); err != nil {
		u.log.Warn("disarm before disconnect failed", zap.Error(err))
	}
	u.hb.Stop()
	u.state.Connected = false

	_, err := u.execute("Disconnect", u.m.remoteCommand(false))
	if err != nil {
		u.log.Warn("releasing remote control failed", zap.Error(err))
	}
	u.m.afterDisconnect()
	u.shutdown()
	u.log.Info("disconnected")
	return err
}

// RemoteControl enables or releases remote control.
func (u *Unit) RemoteControl(enable bool) (*frame.Response, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.remoteControl(enable)
}

func (u *Unit) remoteControl(enable bool) (*frame.Response, error) {
	u.state.SequenceValidated = false
	return u.execute("RemoteControl", u.m.remoteCommand(enable))
}

// GetParameters queries the current parameter block.
func (u *Unit) GetParameters() (*frame.Response, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.parameters("GetParameters")
}

func (u *Unit) parameters(op string) (*frame.Response, error) {
	c, err := u.m.paramsCommand()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u.execute(op, c)
}

// SetPower sets the power level (0-100). With delay it waits for the unit
// to reach the new level before returning.
func (u *Unit) SetPower(level int, delay bool) (*frame.Response, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.setPower("SetPower", frame.TagPower, level, 100, delay)
}

func (u *Unit) setPower(op string, tag byte, level, limit int, delay bool) (*frame.Response, error) {
	u.state.SequenceValidated = false
	if level < 0 || level > limit {
		return nil, errcode.Wrap(errcode.ParameterRange, op, fmt.Errorf("power %d outside 0-%d", level, limit))
	}

	prior := 0
	if delay {
		r, err := u.parameters(op)
		if err != nil {
			return nil, errcode.Wrap(errcode.ParameterAcquisition, op, err)
		}
		prior = u.m.powerOf(r, tag)
	}

	r, err := u.execute(op, set(string(tag), level, 3, frame.SchemaInstr, frame.LenInstr))
	if err != nil {
		return nil, err
	}
	if delay {
		u.clock.Sleep(SettleTime(prior, level))
	}
	return r, nil
}

// SettleTime is how long a unit needs to move between power levels:
// 10 ms per step up and 100 ms per step down.
func SettleTime(from, to int) time.Duration {
	if to > from {
		return time.Duration(to-from) * 10 * time.Millisecond
	}
	return time.Duration(from-to) * 100 * time.Millisecond
}

// GetTemperature queries both coil windings.
func (u *Unit) GetTemperature() (*frame.Response, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.execute("GetTemperature", query(frame.CmdTemperature, frame.SchemaMagstimTemp, frame.LenMagstimTemp))
}

// Poke touches the unit ahead of a time-critical command so the heartbeat
// stays out of its way. A silent poke only restarts the heartbeat interval.
func (u *Unit) Poke(silent bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if silent && u.state.Connected {
		u.hb.Notify(heartbeat.Traffic)
		return nil
	}
	c := u.m.keepAlive()
	c.reply = false
	_, err := u.execute("Poke", c)
	return err
}

// Arm arms the unit. With delay it waits ArmDelay for the unit to charge.
func (u *Unit) Arm(delay bool) (*frame.Response, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	r, err := u.execute("Arm", query(frame.CmdArm, frame.SchemaInstr, frame.LenInstr))
	if err == nil && delay {
		u.clock.Sleep(ArmDelay)
	}
	return r, err
}

// Disarm returns the unit to standby.
func (u *Unit) Disarm() (*frame.Response, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.execute("Disarm", query(frame.CmdDisarm, frame.SchemaInstr, frame.LenInstr))
}

// Fire fires a ready unit.
func (u *Unit) Fire() (*frame.Response, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.fire()
}

func (u *Unit) fire() (*frame.Response, error) {
	return u.execute("Fire", query(frame.CmdFire, frame.SchemaInstr, frame.LenInstr))
}

// QuickFire raises the trigger line. Call ResetQuickFire a few
// milliseconds later.
func (u *Unit) QuickFire() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.trigger("QuickFire", link.KindTriggerAssert)
}

// ResetQuickFire lowers the trigger line.
func (u *Unit) ResetQuickFire() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.trigger("ResetQuickFire", link.KindTriggerRelease)
}

func (u *Unit) trigger(op string, kind link.Kind) error {
	if !u.state.Connected {
		return errcode.Wrap(errcode.NoRemoteControl, op, nil)
	}
	if err := u.worker.Submit(link.Request{Kind: kind}); err != nil {
		return errcode.Wrap(errcode.SerialWrite, op, err)
	}
	return nil
}

// IsArmed reports whether the unit is armed or ready. It is false when
// the state cannot be read.
func (u *Unit) IsArmed() bool {
	s, ok := u.probe()
	return ok && (s.Armed || s.Ready)
}

// IsUnderControl reports whether the unit is under remote control.
func (u *Unit) IsUnderControl() bool {
	s, ok := u.probe()
	return ok && s.RemoteStatus
}

// IsReadyToFire reports whether the unit is ready.
func (u *Unit) IsReadyToFire() bool {
	s, ok := u.probe()
	return ok && s.Ready
}

func (u *Unit) probe() (frame.InstrStatus, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	r, err := u.execute("Probe", u.m.keepAlive())
	if err != nil {
		return frame.InstrStatus{}, false
	}
	return r.Instr, true
}

// State returns the last confirmed device state.
func (u *Unit) State() DeviceState {
	u.mu.Lock()
	defer u.mu.Unlock()
	s := u.state
	if s.Version != nil {
		v := *s.Version
		s.Version = &v
	}
	return s
}

// Statistics returns the link counters, or zero values before the link
// has started.
func (u *Unit) Statistics() link.Statistics {
	u.mu.Lock()
	w := u.worker
	u.mu.Unlock()
	if w == nil {
		return link.NewStatistics()
	}
	return w.Statistics()
}

// Model names the unit type.
func (u *Unit) Model() string { return u.m.name() }
