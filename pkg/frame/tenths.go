// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"math"
	"strconv"

	"github.com/Thermoquad/stimctl/pkg/errcode"
)

// Tenths is a decimal quantity carried on the wire in units of 0.1
// (frequency in Hz, duration and wait in seconds, coil temperature in °C).
type Tenths int

// Float returns the quantity as a float.
func (t Tenths) Float() float64 { return float64(t) / 10 }

func (t Tenths) String() string {
	return strconv.FormatFloat(t.Float(), 'f', 1, 64)
}

// TenthsFromFloat converts v to tenths. Values with more than one decimal
// place return errcode.ParameterPrecision.
func TenthsFromFloat(v float64) (Tenths, error) {
	scaled := v * 10
	r := math.Round(scaled)
	if math.Abs(scaled-r) > 1e-6 {
		return 0, errcode.ParameterPrecision
	}
	return Tenths(r), nil
}
