// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	t.Setenv("STIMCTL_CONFIG", "")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestStatusVirtualMagstim(t *testing.T) {
	out := execute(t, "status", "--virtual", "--model", "magstim", "--log-level", "error")
	assert.Contains(t, out, "Model:       magstim")
	assert.Contains(t, out, "power=30")
	assert.Contains(t, out, "Link Statistics")
}

func TestStatusVirtualRapid(t *testing.T) {
	out := execute(t, "status", "--virtual", "--model", "rapid", "--virtual-version", "10.0.0", "--log-level", "error")
	assert.Contains(t, out, "Software:    10.0.0")
	assert.Contains(t, out, "Error code:")
	assert.Contains(t, out, "Charge delay:")
}

func TestTraceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cbor")
	execute(t, "status", "--virtual", "--model", "bistim", "--trace", path, "--log-level", "error")

	out := execute(t, "trace", path)
	assert.Contains(t, out, "--- session ")
	assert.Contains(t, out, "TX")
	assert.Contains(t, out, "RX")
	assert.Contains(t, out, "records")
}

func TestGetPasswordFromEnv(t *testing.T) {
	t.Setenv("STIMCTL_PASSWORD", "s3cret")
	pw, err := GetPassword()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", pw)
}
