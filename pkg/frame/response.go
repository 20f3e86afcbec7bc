// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"fmt"
	"strconv"
	"strings"
)

// Schema selects how a response payload is interpreted.
type Schema int

const (
	SchemaNone         Schema = iota // status byte only, payload ignored
	SchemaInstr                      // instrument status
	SchemaInstrRapid                 // instrument + Rapid status
	SchemaMagstimParam               // instrument status + power
	SchemaBiStimParam                // instrument status + power A/B + pulse interval
	SchemaRapidParam                 // instrument + Rapid status + rTMS parameters
	SchemaMagstimTemp                // instrument status + coil temperatures
	SchemaSystemRapid                // instrument + Rapid + extended status
	SchemaErrorCode                  // instrument status + three character code
	SchemaInstrCharge                // instrument + Rapid status + charge delay
	SchemaVersion                    // instrument status + version string
)

var schemaNames = [...]string{
	"none", "instr", "instrRapid", "magstimParam", "bistimParam", "rapidParam",
	"magstimTemp", "systemRapid", "error", "instrCharge", "version",
}

func (s Schema) String() string {
	if int(s) < len(schemaNames) {
		return schemaNames[s]
	}
	return fmt.Sprintf("schema(%d)", int(s))
}

// Response is a decoded device reply. Only the part selected by the schema
// is populated.
type Response struct {
	Tag   byte
	Instr InstrStatus

	Rapid       *RapidStatus
	Extended    *ExtendedStatus
	Magstim     *MagstimParams
	BiStim      *BiStimParams
	RapidParams *RapidParams
	Temperature *CoilTemperature
	Version     *Version
	ErrorCode   string
	ChargeDelay int
}

// MagstimParams is the 200² parameter block. The trailing six digits on the
// wire are unused and sent as zeros.
type MagstimParams struct {
	Power int
}

func (p MagstimParams) Payload() ([]byte, error) {
	buf, err := AppendDigits(nil, p.Power, 3)
	if err != nil {
		return nil, err
	}
	return append(buf, "000000"...), nil
}

// BiStimParams is the BiStim² parameter block. PulseInterval is the raw
// wire value; in high-resolution mode it counts tenths of a millisecond.
type BiStimParams struct {
	PowerA        int
	PowerB        int
	PulseInterval int
}

func (p BiStimParams) Payload() ([]byte, error) {
	return appendFields(nil, Field{p.PowerA, 3}, Field{p.PowerB, 3}, Field{p.PulseInterval, 3})
}

// RapidParams is the Rapid² rTMS parameter block.
type RapidParams struct {
	Power     int
	Frequency Tenths
	NPulses   int
	Duration  Tenths
	Wait      Tenths
}

// Payload renders the block using the field widths of layout.
func (p RapidParams) Payload(layout RapidLayout) ([]byte, error) {
	return appendFields(nil,
		Field{p.Power, 3},
		Field{int(p.Frequency), 4},
		Field{p.NPulses, layout.NPulses},
		Field{int(p.Duration), layout.Duration},
		Field{int(p.Wait), layout.Wait},
	)
}

// RapidLayout holds the version-dependent digit widths of the rTMS fields.
type RapidLayout struct {
	NPulses  int
	Duration int
	Wait     int
}

// Size is the payload length in bytes.
func (l RapidLayout) Size() int { return 3 + 4 + l.NPulses + l.Duration + l.Wait }

// FrameLen is the full response length: tag, two status bytes, payload
// and checksum.
func (l RapidLayout) FrameLen() int { return l.Size() + 4 }

var (
	layoutLegacy = RapidLayout{NPulses: 4, Duration: 3, Wait: 3}
	layoutV7     = RapidLayout{NPulses: 4, Duration: 3, Wait: 4}
	layoutV9     = RapidLayout{NPulses: 5, Duration: 4, Wait: 4}
)

// RapidLayoutFor returns the rTMS field widths used by software version v.
func RapidLayoutFor(v Version) RapidLayout {
	switch {
	case v.AtLeast(9):
		return layoutV9
	case v.AtLeast(7):
		return layoutV7
	default:
		return layoutLegacy
	}
}

func rapidLayoutBySize(n int) (RapidLayout, bool) {
	for _, l := range []RapidLayout{layoutV9, layoutV7, layoutLegacy} {
		if l.Size() == n {
			return l, true
		}
	}
	return RapidLayout{}, false
}

// CoilTemperature holds both coil temperatures in tenths of a degree.
type CoilTemperature struct {
	Coil1 Tenths
	Coil2 Tenths
}

func (c CoilTemperature) Payload() ([]byte, error) {
	return appendFields(nil, Field{int(c.Coil1), 3}, Field{int(c.Coil2), 3})
}

// Version is a unit software version.
type Version struct {
	Major int
	Minor int
	Patch int
}

// AtLeast reports whether the major version is major or newer.
func (v Version) AtLeast(major int) bool { return v.Major >= major }

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// ParseVersion reads a dotted version string. Missing components are zero
// and non-numeric components are skipped.
func ParseVersion(s string) (Version, error) {
	var parts []int
	for _, p := range strings.Split(strings.TrimSpace(s), ".") {
		n, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		parts = append(parts, n)
	}
	if len(parts) == 0 {
		return Version{}, fmt.Errorf("frame: no version number in %q", s)
	}
	for len(parts) < 3 {
		parts = append(parts, 0)
	}
	return Version{Major: parts[0], Minor: parts[1], Patch: parts[2]}, nil
}

func appendFields(dst []byte, fields ...Field) ([]byte, error) {
	for _, f := range fields {
		var err error
		if dst, err = AppendDigits(dst, f.Value, f.Width); err != nil {
			return nil, err
		}
	}
	return dst, nil
}
