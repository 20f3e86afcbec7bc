// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package trace

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/stimctl/pkg/frame"
)

func TestRecorder_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf, "sess-1")
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	rec.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}

	fire := frame.MustEncode(frame.CmdFire)
	rec.Frame(Tx, fire, nil)
	rec.Frame(Rx, nil, errors.New("timeout"))
	rec.Control("trigger-assert")
	require.NoError(t, rec.Err())
	assert.Equal(t, 3, rec.Count())

	got, err := ReadAll(&buf)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, Tx, got[0].Dir)
	assert.Equal(t, fire, got[0].Bytes)
	assert.Equal(t, "sess-1", got[0].Session)
	assert.True(t, got[0].Time.Equal(base.Add(time.Millisecond)))

	assert.Equal(t, Rx, got[1].Dir)
	assert.Equal(t, "timeout", got[1].Err)

	assert.Equal(t, Control, got[2].Dir)
	assert.Equal(t, "trigger-assert", got[2].Note)
}

func TestRecorder_Nil(t *testing.T) {
	var rec *Recorder
	rec.Frame(Tx, []byte("Q@"), nil)
	rec.Control("x")
	assert.Equal(t, 0, rec.Count())
	assert.NoError(t, rec.Err())
	assert.NoError(t, rec.Close())
}

func TestReadAll_Truncated(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf, "")
	rec.Frame(Tx, frame.MustEncode(frame.CmdArm), nil)
	rec.Frame(Tx, frame.MustEncode(frame.CmdFire), nil)

	data := buf.Bytes()
	got, err := ReadAll(bytes.NewReader(data[:len(data)-2]))
	assert.Error(t, err)
	assert.Len(t, got, 1)
}

func TestFormat(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	line := Format(Record{Time: ts, Dir: Tx, Bytes: frame.MustEncode(frame.CmdArm)})
	assert.True(t, strings.HasPrefix(line, "[12:00:00.000] TX "))
	assert.Contains(t, line, "ARM")

	line = Format(Record{Time: ts, Dir: Rx, Bytes: []byte{'@', 'S', 0x00}})
	assert.Contains(t, line, "CONFLICT")

	line = Format(Record{Time: ts, Dir: Control, Note: "flush"})
	assert.Contains(t, line, "CTL flush")
}
