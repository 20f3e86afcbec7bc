// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package magstim

import (
	"github.com/Thermoquad/stimctl/pkg/frame"
	"github.com/Thermoquad/stimctl/pkg/link"
)

// Magstim controls a Magstim 200² unit.
type Magstim struct {
	*Unit
}

// New returns a 200² driver over t. Nothing is sent until Connect.
func New(t link.Transport, opts Options) *Magstim {
	m := &Magstim{}
	m.Unit = newUnit(t, opts, m)
	return m
}

func (m *Magstim) name() string { return "magstim" }

func (m *Magstim) remoteCommand(enable bool) command {
	if enable {
		return query(frame.CmdRemoteEnable, frame.SchemaInstr, frame.LenInstr)
	}
	return query(frame.CmdRemoteDisable, frame.SchemaInstr, frame.LenInstr)
}

func (m *Magstim) keepAlive() command { return m.remoteCommand(true) }

func (m *Magstim) paramsCommand() (command, error) {
	return query(frame.CmdParameters, frame.SchemaMagstimParam, frame.LenMagstimParam), nil
}

func (m *Magstim) powerOf(r *frame.Response, _ byte) int { return r.Magstim.Power }

func (m *Magstim) afterConnect() error { return nil }
func (m *Magstim) afterDisconnect()    {}
