// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package magstim

import (
	"errors"
	"fmt"
)

// ErrConnect matches every failure returned by Connect.
var ErrConnect = errors.New("magstim: connect failed")

// ConnectError reports the step at which Connect gave up. The link is
// already shut down when it is returned.
type ConnectError struct {
	Model string
	Step  string
	Err   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s: could not establish %s: %v", e.Model, e.Step, e.Err)
}

func (e *ConnectError) Unwrap() []error { return []error{ErrConnect, e.Err} }
