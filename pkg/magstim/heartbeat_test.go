// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package magstim

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/stimctl/pkg/link"
	"github.com/Thermoquad/stimctl/pkg/virtual"
)

// pokeCounter counts keep-alive frames seen by the link worker.
type pokeCounter struct {
	n atomic.Int64
}

func (c *pokeCounter) Observe(ev link.Event) {
	if ev.Source == link.SourceHeartbeat {
		c.n.Add(1)
	}
}

// Runs on the real clock: the unit drops contact after 1 s without a
// valid command, so only the heartbeat can keep an idle session alive.
func TestMagstim_HeartbeatKeepsContact(t *testing.T) {
	if testing.Short() {
		t.Skip("real-time test")
	}
	dev := virtual.New(virtual.Magstim200, virtual.Options{})
	port := virtual.Open(dev, virtual.PortOptions{ReadTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = port.Close() })

	pokes := &pokeCounter{}
	opts := DefaultOptions()
	opts.ArmedInterval = 300 * time.Millisecond
	opts.DisarmedInterval = 400 * time.Millisecond
	opts.Link.Observers = []link.Observer{pokes}

	m := New(port, opts)
	require.NoError(t, m.Connect())
	t.Cleanup(func() { _ = m.Disconnect() })

	_, err := m.Arm(false)
	require.NoError(t, err)

	// Idle well past the contact timeout.
	time.Sleep(2500 * time.Millisecond)
	snap := dev.Snapshot()
	assert.True(t, snap.Instr.RemoteStatus, "remote control dropped while idle")
	assert.True(t, snap.Instr.Armed || snap.Instr.Ready, "unit disarmed while idle")
	assert.Positive(t, pokes.n.Load())
	assert.Positive(t, m.Statistics().Heartbeats)

	// Commands arriving faster than the interval stand in for the poke.
	_, err = m.GetParameters()
	require.NoError(t, err)
	before := pokes.n.Load()
	for i := 0; i < 10; i++ {
		time.Sleep(100 * time.Millisecond)
		_, err = m.GetParameters()
		require.NoError(t, err)
	}
	// One poke may already have been due when the first command went out.
	assert.LessOrEqual(t, pokes.n.Load()-before, int64(1))

	require.NoError(t, m.Disconnect())
	after := pokes.n.Load()
	time.Sleep(1000 * time.Millisecond)
	assert.Equal(t, after, pokes.n.Load(), "poke after disconnect")
	assert.False(t, dev.Snapshot().Instr.RemoteStatus)
}
