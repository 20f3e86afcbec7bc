// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// stimctl - Magstim stimulator control
//
// A CLI tool for driving Magstim 200², BiStim² and Rapid² units over their
// serial remote-control port, directly or through a WebSocket bridge.

package main

import (
	"os"

	"github.com/Thermoquad/stimctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
