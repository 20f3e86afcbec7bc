// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package magstim

import (
	"fmt"

	"github.com/Thermoquad/stimctl/pkg/frame"
)

// DeviceState mirrors the unit as last confirmed by a checksum-valid reply.
type DeviceState struct {
	Connected         bool
	RemoteControl     bool
	Armed             bool
	Ready             bool
	SequenceValidated bool
	RepetitiveMode    bool

	// Version is nil until a Rapid has reported it.
	Version *frame.Version
}

func (s DeviceState) String() string {
	v := "unknown"
	if s.Version != nil {
		v = s.Version.String()
	}
	return fmt.Sprintf("connected=%t remote=%t armed=%t ready=%t validated=%t rtms=%t version=%s",
		s.Connected, s.RemoteControl, s.Armed, s.Ready, s.SequenceValidated, s.RepetitiveMode, v)
}

// update applies the status bytes of a reply.
func (s *DeviceState) update(r *frame.Response) {
	s.RemoteControl = r.Instr.RemoteStatus
	s.Armed = r.Instr.Armed
	s.Ready = r.Instr.Ready
	if r.Rapid != nil {
		s.RepetitiveMode = !r.Rapid.SinglePulseMode
	}
}
