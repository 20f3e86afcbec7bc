// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package magstim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/stimctl/pkg/clock"
	"github.com/Thermoquad/stimctl/pkg/virtual"
)

// rig is a virtual unit on a fake clock.
type rig struct {
	clock *clock.Fake
	dev   *virtual.Device
	port  *virtual.Port
}

func newRig(t *testing.T, m virtual.Model, vopts virtual.Options) *rig {
	t.Helper()
	c := clock.NewFake(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	vopts.Clock = c
	d := virtual.New(m, vopts)
	p := virtual.Open(d, virtual.PortOptions{ReadTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = p.Close() })
	return &rig{clock: c, dev: d, port: p}
}

func (r *rig) options() Options {
	o := DefaultOptions()
	o.Clock = r.clock
	return o
}

// charge lets an armed unit become ready while keeping contact.
func (r *rig) charge(t *testing.T, probe func() bool) {
	t.Helper()
	for i := 0; i < 3; i++ {
		r.clock.Advance(500 * time.Millisecond)
		require.True(t, probe(), "lost control while charging")
	}
}

type disconnecter interface{ Disconnect() error }

func connect(t *testing.T, u interface {
	disconnecter
	Connect() error
}) {
	t.Helper()
	require.NoError(t, u.Connect())
	t.Cleanup(func() { _ = u.Disconnect() })
}
