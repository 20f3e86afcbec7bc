// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import "fmt"

// Command is a received command frame, as seen by the device side.
type Command struct {
	Tag  byte
	Data []byte // bytes between the tag and the checksum
}

// ParseCommand splits a complete command frame and verifies its checksum.
func ParseCommand(raw []byte) (Command, error) {
	if len(raw) < 2 {
		return Command{}, fmt.Errorf("frame: command too short (%d bytes)", len(raw))
	}
	if err := VerifyChecksum(raw); err != nil {
		return Command{}, err
	}
	return Command{Tag: raw[0], Data: raw[1 : len(raw)-1]}, nil
}

// Sub returns the first data byte, or 0 if there is none.
func (c Command) Sub() byte {
	if len(c.Data) == 0 {
		return 0
	}
	return c.Data[0]
}

// Value parses the data as a decimal number.
func (c Command) Value() (int, error) {
	return parseDigits(c.Data)
}

func (c Command) String() string {
	return fmt.Sprintf("%s %q", Name(c.Tag, c.Sub()), c.Data)
}
