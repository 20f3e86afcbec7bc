// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"fmt"

	"github.com/Thermoquad/stimctl/pkg/errcode"
)

// Field is a decimal value rendered as exactly Width zero-padded digits.
type Field struct {
	Value int
	Width int
}

// EncodingError reports a value that cannot be rendered in its field.
type EncodingError struct {
	Tag   string
	Value int
	Width int
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("frame %q: value %d does not fit in %d digits", e.Tag, e.Value, e.Width)
}

// Unwrap maps encoding failures onto the parameter range code.
func (e *EncodingError) Unwrap() error { return errcode.ParameterRange }

// Encode builds a command frame from a tag and its data fields and appends
// the checksum. Commands without data pass a two-byte tag such as "Q@".
func Encode(tag string, fields ...Field) ([]byte, error) {
	if tag == "" {
		return nil, fmt.Errorf("frame: empty tag")
	}
	buf := make([]byte, 0, len(tag)+8)
	buf = append(buf, tag...)
	for _, f := range fields {
		var err error
		buf, err = AppendDigits(buf, f.Value, f.Width)
		if err != nil {
			return nil, &EncodingError{Tag: tag, Value: f.Value, Width: f.Width}
		}
	}
	return AppendChecksum(buf), nil
}

// MustEncode is Encode for fixed commands. Panics on encoding error.
func MustEncode(tag string, fields ...Field) []byte {
	data, err := Encode(tag, fields...)
	if err != nil {
		panic(fmt.Sprintf("frame: encode error: %v", err))
	}
	return data
}

// EncodeResponse builds a device-side frame: tag, payload, checksum.
func EncodeResponse(tag byte, payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, tag)
	buf = append(buf, payload...)
	return AppendChecksum(buf)
}

// AppendDigits appends value as width zero-padded ASCII digits.
func AppendDigits(dst []byte, value, width int) ([]byte, error) {
	if value < 0 || width <= 0 {
		return dst, fmt.Errorf("cannot encode %d in %d digits", value, width)
	}
	digits := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		digits[i] = byte('0' + value%10)
		value /= 10
	}
	if value != 0 {
		return dst, fmt.Errorf("value overflows %d digits", width)
	}
	return append(dst, digits...), nil
}

// FitsDigits reports whether value can be rendered in width digits.
func FitsDigits(value, width int) bool {
	if value < 0 {
		return false
	}
	limit := 1
	for i := 0; i < width; i++ {
		limit *= 10
	}
	return value < limit
}
