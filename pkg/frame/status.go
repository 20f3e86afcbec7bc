// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

// InstrStatus is the instrument status byte present in every response.
type InstrStatus struct {
	Standby      bool // bit 0
	Armed        bool // bit 1
	Ready        bool // bit 2
	CoilPresent  bool // bit 3
	ReplaceCoil  bool // bit 4
	ErrorPresent bool // bit 5
	ErrorType    bool // bit 6
	RemoteStatus bool // bit 7
}

// ParseInstrStatus unpacks an instrument status byte.
func ParseInstrStatus(b byte) InstrStatus {
	return InstrStatus{
		Standby:      bit(b, 0),
		Armed:        bit(b, 1),
		Ready:        bit(b, 2),
		CoilPresent:  bit(b, 3),
		ReplaceCoil:  bit(b, 4),
		ErrorPresent: bit(b, 5),
		ErrorType:    bit(b, 6),
		RemoteStatus: bit(b, 7),
	}
}

// Byte packs the status back into its wire form.
func (s InstrStatus) Byte() byte {
	return pack(s.Standby, s.Armed, s.Ready, s.CoilPresent,
		s.ReplaceCoil, s.ErrorPresent, s.ErrorType, s.RemoteStatus)
}

// RapidStatus is the second status byte sent by Rapid units.
type RapidStatus struct {
	EnhancedPowerMode     bool
	Train                 bool
	Wait                  bool
	SinglePulseMode       bool
	HVPSUConnected        bool
	CoilReady             bool
	ThetaPSUDetected      bool
	ModifiedCoilAlgorithm bool
}

// ParseRapidStatus unpacks a Rapid status byte.
func ParseRapidStatus(b byte) RapidStatus {
	return RapidStatus{
		EnhancedPowerMode:     bit(b, 0),
		Train:                 bit(b, 1),
		Wait:                  bit(b, 2),
		SinglePulseMode:       bit(b, 3),
		HVPSUConnected:        bit(b, 4),
		CoilReady:             bit(b, 5),
		ThetaPSUDetected:      bit(b, 6),
		ModifiedCoilAlgorithm: bit(b, 7),
	}
}

func (s RapidStatus) Byte() byte {
	return pack(s.EnhancedPowerMode, s.Train, s.Wait, s.SinglePulseMode,
		s.HVPSUConnected, s.CoilReady, s.ThetaPSUDetected, s.ModifiedCoilAlgorithm)
}

// ExtendedStatus is the low byte of the two-byte extended status returned
// by the system status command.
type ExtendedStatus struct {
	Plus1ModuleDetected      bool
	SpecialTriggerModeActive bool
	ChargeDelaySet           bool
}

func ParseExtendedStatus(b byte) ExtendedStatus {
	return ExtendedStatus{
		Plus1ModuleDetected:      bit(b, 0),
		SpecialTriggerModeActive: bit(b, 1),
		ChargeDelaySet:           bit(b, 2),
	}
}

func (s ExtendedStatus) Byte() byte {
	return pack(s.Plus1ModuleDetected, s.SpecialTriggerModeActive, s.ChargeDelaySet)
}

func bit(b byte, n uint) bool { return b>>n&1 == 1 }

func pack(bits ...bool) byte {
	var b byte
	for i, set := range bits {
		if set {
			b |= 1 << uint(i)
		}
	}
	return b
}
