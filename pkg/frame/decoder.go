// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"bytes"
	"fmt"

	"github.com/Thermoquad/stimctl/pkg/errcode"
)

// Decode validates a raw response to a command with the given tag and
// interprets its payload according to schema.
//
// Checks run in a fixed order: unrecognized command, invalid data,
// conflict, tag mismatch, checksum. The first failing check decides the
// error code.
func Decode(raw []byte, tag byte, schema Schema) (*Response, error) {
	const op = "decode"
	if len(raw) == 0 {
		return nil, errcode.Wrap(errcode.SerialRead, op, fmt.Errorf("empty frame"))
	}
	if raw[0] == ReplyUnrecognized {
		return nil, errcode.InvalidCommand
	}
	if len(raw) < 3 {
		return nil, errcode.Wrap(errcode.InvalidConfirmation, op, fmt.Errorf("short frame % X", raw))
	}
	switch raw[1] {
	case ReplyInvalidData:
		return nil, errcode.InvalidData
	case ReplyConflict:
		return nil, errcode.CommandConflict
	}
	if raw[0] != tag {
		return nil, errcode.Wrap(errcode.InvalidConfirmation, op,
			fmt.Errorf("sent %q, reply tagged %q", tag, raw[0]))
	}
	if err := VerifyChecksum(raw); err != nil {
		return nil, err
	}

	body := raw[1 : len(raw)-1]
	resp := &Response{Tag: raw[0], Instr: ParseInstrStatus(body[0])}
	if err := decodeBody(resp, body[1:], schema); err != nil {
		return nil, errcode.Wrap(errcode.InvalidConfirmation, op, fmt.Errorf("%s payload: %w", schema, err))
	}
	return resp, nil
}

func decodeBody(resp *Response, rest []byte, schema Schema) error {
	switch schema {
	case SchemaNone, SchemaInstr:
		return nil

	case SchemaInstrRapid:
		_, err := takeRapid(resp, rest)
		return err

	case SchemaMagstimParam:
		if len(rest) < 3 {
			return fmt.Errorf("want at least 3 bytes, got %d", len(rest))
		}
		power, err := parseDigits(rest[:3])
		if err != nil {
			return err
		}
		resp.Magstim = &MagstimParams{Power: power}

	case SchemaBiStimParam:
		v, err := parseFixed(rest, 3, 3, 3)
		if err != nil {
			return err
		}
		resp.BiStim = &BiStimParams{PowerA: v[0], PowerB: v[1], PulseInterval: v[2]}

	case SchemaRapidParam:
		rest, err := takeRapid(resp, rest)
		if err != nil {
			return err
		}
		layout, ok := rapidLayoutBySize(len(rest))
		if !ok {
			return fmt.Errorf("unknown parameter block size %d", len(rest))
		}
		v, err := parseFixed(rest, 3, 4, layout.NPulses, layout.Duration, layout.Wait)
		if err != nil {
			return err
		}
		resp.RapidParams = &RapidParams{
			Power:     v[0],
			Frequency: Tenths(v[1]),
			NPulses:   v[2],
			Duration:  Tenths(v[3]),
			Wait:      Tenths(v[4]),
		}

	case SchemaMagstimTemp:
		v, err := parseFixed(rest, 3, 3)
		if err != nil {
			return err
		}
		resp.Temperature = &CoilTemperature{Coil1: Tenths(v[0]), Coil2: Tenths(v[1])}

	case SchemaSystemRapid:
		rest, err := takeRapid(resp, rest)
		if err != nil {
			return err
		}
		if len(rest) != 2 {
			return fmt.Errorf("want 2 extended status bytes, got %d", len(rest))
		}
		ext := ParseExtendedStatus(rest[1])
		resp.Extended = &ext

	case SchemaErrorCode:
		if len(rest) == 0 {
			return fmt.Errorf("missing error code")
		}
		resp.ErrorCode = string(rest)

	case SchemaInstrCharge:
		rest, err := takeRapid(resp, rest)
		if err != nil {
			return err
		}
		delay, err := parseDigits(rest)
		if err != nil {
			return err
		}
		resp.ChargeDelay = delay

	case SchemaVersion:
		s := rest
		if i := bytes.IndexByte(s, VersionTerminator); i >= 0 {
			s = s[:i]
		}
		v, err := ParseVersion(string(s))
		if err != nil {
			return err
		}
		resp.Version = &v

	default:
		return fmt.Errorf("unknown schema %d", int(schema))
	}
	return nil
}

func takeRapid(resp *Response, rest []byte) ([]byte, error) {
	if len(rest) == 0 {
		return nil, fmt.Errorf("missing rapid status byte")
	}
	rs := ParseRapidStatus(rest[0])
	resp.Rapid = &rs
	return rest[1:], nil
}

// parseFixed slices data into consecutive decimal fields of the given
// widths. The total must match exactly.
func parseFixed(data []byte, widths ...int) ([]int, error) {
	total := 0
	for _, w := range widths {
		total += w
	}
	if len(data) != total {
		return nil, fmt.Errorf("want %d bytes, got %d", total, len(data))
	}
	out := make([]int, len(widths))
	off := 0
	for i, w := range widths {
		v, err := parseDigits(data[off : off+w])
		if err != nil {
			return nil, err
		}
		out[i] = v
		off += w
	}
	return out, nil
}

func parseDigits(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("empty decimal field")
	}
	v := 0
	for _, b := range data {
		if b < '0' || b > '9' {
			return 0, fmt.Errorf("non-decimal byte 0x%02X in %q", b, data)
		}
		v = v*10 + int(b-'0')
	}
	return v, nil
}
