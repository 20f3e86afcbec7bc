// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package magstim

import (
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/stimctl/pkg/clock"
	"github.com/Thermoquad/stimctl/pkg/energy"
	"github.com/Thermoquad/stimctl/pkg/link"
)

// Options configures a unit. Start from DefaultOptions; the zero value
// turns the energy-safety gate off.
type Options struct {
	Logger *zap.Logger
	Clock  clock.Clock

	// Link configures the worker that owns the transport.
	Link link.Options

	// Keep-alive intervals while armed and while disarmed.
	ArmedInterval    time.Duration
	DisarmedInterval time.Duration

	// Rapid only.
	SystemInfo *energy.SystemInfo
	Voltage    int
	RapidType  int
	UnlockCode string

	// EnforceEnergySafety refuses to fire an rTMS train that has not been
	// validated.
	EnforceEnergySafety bool

	// EnforceMinWait refuses to fire an rTMS train inside the minimum wait
	// after the previous one.
	EnforceMinWait bool
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Voltage:             240,
		RapidType:           energy.Rapid2,
		EnforceEnergySafety: true,
	}
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	if o.SystemInfo == nil {
		o.SystemInfo = energy.Default()
	}
	if o.Voltage == 0 {
		o.Voltage = 240
	}
}
