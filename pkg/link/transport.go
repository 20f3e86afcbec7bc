// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link owns the byte transport to a stimulator and serializes every
// command and its reply through a single worker goroutine.
package link

import "time"

// Transport is a byte link to one unit. Read returns exactly n bytes or an
// error; a read that times out is an error.
type Transport interface {
	Write(p []byte) error
	Read(n int) ([]byte, error)
	FlushInput() error
	SetControlLine(asserted bool) error
	Close() error
}

// Fixed line settings of the stimulator serial port.
const (
	BaudRate            = 9600
	DefaultReadTimeout  = 300 * time.Millisecond
	DefaultWriteTimeout = 300 * time.Millisecond
)
