// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package trace

import (
	"fmt"

	"github.com/Thermoquad/stimctl/pkg/frame"
)

// Format renders a record on one line.
func Format(rec Record) string {
	ts := rec.Time.Format("15:04:05.000")
	switch rec.Dir {
	case Control:
		return fmt.Sprintf("[%s] %-3s %s", ts, rec.Dir, rec.Note)
	}

	line := fmt.Sprintf("[%s] %-3s %-24s %s", ts, rec.Dir, describe(rec), frame.FormatFrame(rec.Bytes))
	if rec.Err != "" {
		line += "  error: " + rec.Err
	}
	return line
}

func describe(rec Record) string {
	if len(rec.Bytes) == 0 {
		return "-"
	}
	var sub byte
	if len(rec.Bytes) > 1 {
		sub = rec.Bytes[1]
	}
	if rec.Dir == Rx {
		switch {
		case rec.Bytes[0] == frame.ReplyUnrecognized:
			return "UNRECOGNIZED"
		case sub == frame.ReplyInvalidData:
			return "INVALID_DATA"
		case sub == frame.ReplyConflict:
			return "CONFLICT"
		}
		return frame.Name(rec.Bytes[0], 0)
	}
	return frame.Name(rec.Bytes[0], sub)
}
