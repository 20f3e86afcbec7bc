// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import "github.com/Thermoquad/stimctl/pkg/errcode"

// Checksum returns the one's complement of the 8-bit sum of data.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum
}

// AppendChecksum returns data followed by its checksum byte.
func AppendChecksum(data []byte) []byte {
	out := make([]byte, len(data)+1)
	copy(out, data)
	out[len(data)] = Checksum(data)
	return out
}

// VerifyChecksum checks the trailing checksum byte of a complete frame.
func VerifyChecksum(frame []byte) error {
	if len(frame) < 2 {
		return errcode.CRCMismatch
	}
	last := len(frame) - 1
	if Checksum(frame[:last]) != frame[last] {
		return errcode.CRCMismatch
	}
	return nil
}
