// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)
	assert.Equal(t, start, c.Now())

	c.Sleep(1100 * time.Millisecond)
	assert.Equal(t, start.Add(1100*time.Millisecond), c.Now())

	c.Advance(-time.Second)
	assert.Equal(t, start.Add(1100*time.Millisecond), c.Now())
}

func TestRealSatisfiesClock(t *testing.T) {
	var c Clock = Real{}
	before := time.Now()
	c.Sleep(time.Millisecond)
	assert.False(t, c.Now().Before(before))
}
