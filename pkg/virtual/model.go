// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package virtual

import (
	"fmt"
	"strings"
)

// Model selects which unit the virtual device imitates.
type Model int

const (
	Magstim200 Model = iota
	BiStim
	Rapid
)

func (m Model) String() string {
	switch m {
	case Magstim200:
		return "magstim"
	case BiStim:
		return "bistim"
	case Rapid:
		return "rapid"
	default:
		return fmt.Sprintf("model(%d)", int(m))
	}
}

// ParseModel accepts the names used on the command line.
func ParseModel(s string) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "magstim", "200", "magstim200":
		return Magstim200, nil
	case "bistim":
		return BiStim, nil
	case "rapid", "rapid2":
		return Rapid, nil
	default:
		return 0, fmt.Errorf("unknown model %q (want magstim, bistim or rapid)", s)
	}
}
