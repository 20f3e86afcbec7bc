// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// ErrTimeout is returned when the unit does not answer within the read
// timeout or a write does not complete within the write timeout.
var ErrTimeout = errors.New("link: timeout")

// SerialOptions tunes the serial transport. Zero values use the defaults.
type SerialOptions struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// SerialTransport drives a local serial port. The RTS line doubles as the
// low-latency trigger input of the unit.
type SerialTransport struct {
	port         serial.Port
	name         string
	writeTimeout time.Duration
}

// OpenSerial opens address at 9600 8N1 with RTS released.
func OpenSerial(address string, opts SerialOptions) (*SerialTransport, error) {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	mode := &serial.Mode{
		BaudRate: BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(address, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", address, err)
	}
	if err := port.SetRTS(false); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to release RTS on %s: %w", address, err)
	}
	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", address, err)
	}

	return &SerialTransport{port: port, name: address, writeTimeout: opts.WriteTimeout}, nil
}

// Write sends p, failing if the driver does not accept it within the write
// timeout.
func (s *SerialTransport) Write(p []byte) error {
	done := make(chan error, 1)
	go func() {
		n, err := s.port.Write(p)
		if err == nil && n != len(p) {
			err = fmt.Errorf("short write: %d of %d bytes", n, len(p))
		}
		done <- err
	}()

	timer := time.NewTimer(s.writeTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return ErrTimeout
	}
}

// Read blocks until n bytes arrive. Each underlying read is bounded by the
// port read timeout; a read that returns nothing ends the attempt.
func (s *SerialTransport) Read(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		k, err := s.port.Read(buf[got:])
		if err != nil {
			return buf[:got], err
		}
		if k == 0 {
			return buf[:got], ErrTimeout
		}
		got += k
	}
	return buf, nil
}

func (s *SerialTransport) FlushInput() error {
	return s.port.ResetInputBuffer()
}

func (s *SerialTransport) SetControlLine(asserted bool) error {
	return s.port.SetRTS(asserted)
}

func (s *SerialTransport) Close() error {
	return s.port.Close()
}

func (s *SerialTransport) String() string {
	return fmt.Sprintf("serial %s @ %d baud", s.name, BaudRate)
}

// ListPorts returns the serial ports present on this machine.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
