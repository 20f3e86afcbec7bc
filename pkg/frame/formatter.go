// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"fmt"
	"strings"
)

// Name returns the human-readable name of a command. sub is the second
// frame byte and only matters for instrument commands.
func Name(tag, sub byte) string {
	switch tag {
	case TagRemoteEnable:
		return "REMOTE_ENABLE"
	case TagRemoteDisable:
		return "REMOTE_DISABLE"
	case TagParameters:
		return "GET_PARAMETERS"
	case TagTemperature:
		return "GET_TEMPERATURE"
	case TagPower:
		return "SET_POWER"
	case TagPowerB:
		return "SET_POWER_B"
	case TagInstrument:
		switch sub {
		case SubDisarm:
			return "DISARM"
		case SubArm:
			return "ARM"
		case SubFire:
			return "FIRE"
		}
		return "INSTRUMENT"
	case TagHighResOn:
		return "HIGH_RES_ON"
	case TagHighResOff:
		return "HIGH_RES_OFF"
	case TagPulseInterval:
		return "SET_PULSE_INTERVAL"
	case TagRapidParameters:
		return "GET_RAPID_PARAMETERS"
	case TagVersion:
		return "GET_VERSION"
	case TagErrorCode:
		return "GET_ERROR_CODE"
	case TagIgnoreSafety:
		return "IGNORE_SAFETY_SWITCH"
	case TagEnhancedOn:
		return "ENHANCED_POWER_ON"
	case TagEnhancedOff:
		return "ENHANCED_POWER_OFF"
	case TagFrequency:
		return "SET_FREQUENCY"
	case TagNPulses:
		return "SET_NPULSES"
	case TagDuration:
		return "SET_DURATION"
	case TagSystemStatus:
		return "GET_SYSTEM_STATUS"
	case TagChargeDelayGet:
		return "GET_CHARGE_DELAY"
	case TagChargeDelaySet:
		return "SET_CHARGE_DELAY"
	default:
		return fmt.Sprintf("UNKNOWN_0x%02X", tag)
	}
}

// FormatFrame renders raw bytes with printable ASCII kept and everything
// else shown as hex, e.g. `EH<0x79>`.
func FormatFrame(raw []byte) string {
	var sb strings.Builder
	for _, b := range raw {
		if b >= 0x20 && b < 0x7F {
			sb.WriteByte(b)
		} else {
			fmt.Fprintf(&sb, "<0x%02X>", b)
		}
	}
	return sb.String()
}

// FormatInstr lists the set bits of an instrument status.
func FormatInstr(s InstrStatus) string {
	var flags []string
	add := func(set bool, name string) {
		if set {
			flags = append(flags, name)
		}
	}
	add(s.Standby, "standby")
	add(s.Armed, "armed")
	add(s.Ready, "ready")
	add(s.CoilPresent, "coil")
	add(s.ReplaceCoil, "replace-coil")
	add(s.ErrorPresent, "error")
	add(s.ErrorType, "error-type")
	add(s.RemoteStatus, "remote")
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

// FormatResponse renders a decoded response on one line.
func FormatResponse(r *Response) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s]", Name(r.Tag, 0), FormatInstr(r.Instr))
	if r.Rapid != nil {
		fmt.Fprintf(&sb, " enhanced=%t singlePulse=%t", r.Rapid.EnhancedPowerMode, r.Rapid.SinglePulseMode)
	}
	if p := r.Magstim; p != nil {
		fmt.Fprintf(&sb, " power=%d", p.Power)
	}
	if p := r.BiStim; p != nil {
		fmt.Fprintf(&sb, " powerA=%d powerB=%d ppOffset=%d", p.PowerA, p.PowerB, p.PulseInterval)
	}
	if p := r.RapidParams; p != nil {
		fmt.Fprintf(&sb, " power=%d freq=%sHz n=%d dur=%ss wait=%ss", p.Power, p.Frequency, p.NPulses, p.Duration, p.Wait)
	}
	if t := r.Temperature; t != nil {
		fmt.Fprintf(&sb, " coil1=%s°C coil2=%s°C", t.Coil1, t.Coil2)
	}
	if r.Extended != nil {
		fmt.Fprintf(&sb, " plus1=%t chargeDelaySet=%t", r.Extended.Plus1ModuleDetected, r.Extended.ChargeDelaySet)
	}
	if r.Version != nil {
		fmt.Fprintf(&sb, " version=%s", r.Version)
	}
	if r.ErrorCode != "" {
		fmt.Fprintf(&sb, " errorCode=%s", r.ErrorCode)
	}
	if r.ChargeDelay != 0 {
		fmt.Fprintf(&sb, " chargeDelay=%dms", r.ChargeDelay)
	}
	return sb.String()
}
