// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package frame implements the Magstim serial frame format.
//
// A command frame is one or two ASCII tag bytes, optional zero-padded decimal
// data and a trailing checksum byte. A response frame echoes the first tag
// byte, carries one or more packed status bytes and optional zero-padded
// decimal fields, and ends with a checksum byte. The checksum is the one's
// complement of the 8-bit sum of every preceding byte.
package frame

// Reply bytes that replace the normal response content.
const (
	ReplyUnrecognized = '?' // first byte: command not understood, frame is 1 byte
	ReplyInvalidData  = '?' // second byte: data value rejected
	ReplyConflict     = 'S' // second byte: conflicts with current configuration
)

// Placeholder fills the data position of commands that carry no value. The
// unit does not inspect it.
const Placeholder = '@'

// VersionTerminator ends the ASCII version string in a version reply.
const VersionTerminator = 0x00

// Command tag bytes (first byte of every command).
const (
	TagRemoteEnable    = 'Q'
	TagRemoteDisable   = 'R'
	TagParameters      = 'J'
	TagTemperature     = 'F'
	TagPower           = '@'
	TagPowerB          = 'A'
	TagInstrument      = 'E'
	TagHighResOn       = 'Y'
	TagHighResOff      = 'Z'
	TagPulseInterval   = 'C'
	TagRapidParameters = '\\'
	TagVersion         = 'N'
	TagErrorCode       = 'I'
	TagIgnoreSafety    = 'b'
	TagEnhancedOn      = '^'
	TagEnhancedOff     = '_'
	TagFrequency       = 'B'
	TagNPulses         = 'D'
	TagDuration        = '['
	TagSystemStatus    = 'x'
	TagChargeDelayGet  = 'o'
	TagChargeDelaySet  = 'n'
)

// Two-byte instrument commands.
const (
	CmdRemoteEnable  = "Q@"
	CmdRemoteDisable = "R@"
	CmdParameters    = "J@"
	CmdTemperature   = "F@"
	CmdDisarm        = "EA"
	CmdArm           = "EB"
	CmdFire          = "EH"
	CmdHighResOn     = "Y@"
	CmdHighResOff    = "Z@"
	CmdRapidParams   = "\\@"
	CmdVersion       = "ND"
	CmdErrorCode     = "I@"
	CmdIgnoreSafety  = "b@"
	CmdEnhancedOn    = "^@"
	CmdEnhancedOff   = "_@"
	CmdSystemStatus  = "x@"
	CmdChargeDelay   = "o@"
)

// Instrument sub-commands (second byte after TagInstrument).
const (
	SubDisarm = 'A'
	SubArm    = 'B'
	SubFire   = 'H'
)

// Response lengths in bytes, including tag and checksum.
const (
	LenInstr            = 3
	LenInstrRapid       = 4
	LenMagstimParam     = 12
	LenBiStimParam      = 12
	LenMagstimTemp      = 9
	LenSystemRapid      = 6
	LenErrorCode        = 6
	LenRapidParamLegacy = 21 // software < 7
	LenRapidParamV7     = 22 // software 7 and 8
	LenRapidParamV9     = 24 // software 9 and later
)
