// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package errcode defines the flat error-code space shared by the frame codec,
// the link worker and the device engine.
//
// Codes are comparable values that implement error, so callers can test them
// with errors.Is. Code 0 is never returned as an error.
package errcode

import "errors"

// Code is a stable numeric error identifier.
type Code int

// Error codes. The numbering is part of the public contract.
const (
	OK Code = iota

	SerialWrite          // 1: could not send the command
	SerialRead           // 2: could not read the response
	InvalidCommand       // 3: unrecognized command
	InvalidData          // 4: data value rejected by the unit
	CommandConflict      // 5: command conflicts with current configuration
	InvalidConfirmation  // 6: unexpected confirmation byte
	CRCMismatch          // 7: checksum mismatch
	NoRemoteControl      // 8: remote control not established
	ParameterAcquisition // 9: prior parameters unavailable
	ParameterUpdate      // 10: dependent parameter could not be updated
	ParameterFloat       // 11: fractional value for an integer parameter
	ParameterPrecision   // 12: more than one decimal place
	ParameterRange       // 13: value outside the allowed range
	VersionUnknown       // 14: software version not yet established
	VersionUnsupported   // 15: feature needs a newer software version
	SequenceValidation   // 16: rTMS sequence not validated
	MinWaitTime          // 17: minimum inter-train wait violated
	MaxOnTime            // 18: maximum train on-time exceeded
)

var messages = map[Code]string{
	OK:                   "OK",
	SerialWrite:          "SERIAL_WRITE_ERR: Could not send the command.",
	SerialRead:           "SERIAL_READ_ERR: Could not read the magstim response.",
	InvalidCommand:       "INVALID_COMMAND_ERR: Invalid command sent.",
	InvalidData:          "INVALID_DATA_ERR: Invalid data provided.",
	CommandConflict:      "COMMAND_CONFLICT_ERR: Command conflicts with current system configuration.",
	InvalidConfirmation:  "INVALID_CONFIRMATION_ERR: Unexpected command confirmation received.",
	CRCMismatch:          "CRC_MISMATCH_ERR: Message contents and CRC value do not match.",
	NoRemoteControl:      "NO_REMOTE_CONTROL_ERR: You have not established control of the Magstim unit.",
	ParameterAcquisition: "PARAMETER_ACQUISITION_ERR: Could not obtain prior parameter settings.",
	ParameterUpdate:      "PARAMETER_UPDATE_ERR: Could not update secondary parameter to accommodate primary parameter change.",
	ParameterFloat:       "PARAMETER_FLOAT_ERR: A float value is not allowed for this parameter.",
	ParameterPrecision:   "PARAMETER_PRECISION_ERR: Only one decimal placed allowed for this parameter.",
	ParameterRange:       "PARAMETER_RANGE_ERR: Parameter value is outside the allowed range.",
	VersionUnknown:       "GET_SYSTEM_STATUS_ERR: Cannot use this command until software version has been established.",
	VersionUnsupported:   "SYSTEM_STATUS_VERSION_ERR: Command is not compatible with your software version.",
	SequenceValidation:   "SEQUENCE_VALIDATION_ERR: You must call ValidateSequence() before you can run a rTMS train.",
	MinWaitTime:          "MIN_WAIT_TIME_ERR: Minimum wait time between trains violated. Call IsReadyToFire() to check.",
	MaxOnTime:            "MAX_ON_TIME_ERR: Maximum on time exceeded for current train.",
}

// Error implements the error interface.
func (c Code) Error() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return "UNKNOWN_ERR"
}

// Retryable reports whether the failure is local to the link and may succeed
// if the command is simply sent again.
func (c Code) Retryable() bool {
	return c == SerialWrite || c == SerialRead
}

// Desynchronized reports whether the byte stream can no longer be trusted.
func (c Code) Desynchronized() bool {
	return c == InvalidConfirmation || c == CRCMismatch
}

// E wraps a Code with the failing operation and an optional cause.
type E struct {
	C   Code
	Op  string
	Err error
}

func (e *E) Error() string {
	s := e.C.Error()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Err != nil {
		s += " (" + e.Err.Error() + ")"
	}
	return s
}

// Unwrap exposes the cause.
func (e *E) Unwrap() error { return e.Err }

// Is lets errors.Is match the wrapped code directly.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Code returns the wrapped code.
func (e *E) Code() Code { return e.C }

// Wrap builds an *E; a nil cause is allowed.
func Wrap(c Code, op string, err error) error {
	return &E{C: c, Op: op, Err: err}
}

// Of extracts a Code from an error. nil maps to OK and foreign errors map to
// SerialRead, matching how a lost link is reported to a waiting operation.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return SerialRead
}
