// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package errcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeNumbering(t *testing.T) {
	assert.Equal(t, 1, int(SerialWrite))
	assert.Equal(t, 7, int(CRCMismatch))
	assert.Equal(t, 9, int(ParameterAcquisition))
	assert.Equal(t, 16, int(SequenceValidation))
	assert.Equal(t, 18, int(MaxOnTime))
}

func TestCodeMessages(t *testing.T) {
	for c := SerialWrite; c <= MaxOnTime; c++ {
		assert.NotEqual(t, "UNKNOWN_ERR", c.Error(), "code %d has no message", c)
	}
	assert.Equal(t, "UNKNOWN_ERR", Code(99).Error())
	assert.Contains(t, ParameterAcquisition.Error(), "PARAMETER_ACQUISITION_ERR")
}

func TestWrapIs(t *testing.T) {
	err := Wrap(ParameterUpdate, "SetFrequency", CommandConflict)
	assert.True(t, errors.Is(err, ParameterUpdate))
	assert.True(t, errors.Is(err, CommandConflict), "cause stays reachable")
	assert.False(t, errors.Is(err, MaxOnTime))
	assert.Contains(t, err.Error(), "SetFrequency")
}

func TestOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, OK},
		{"bare code", InvalidData, InvalidData},
		{"wrapped E", Wrap(ParameterUpdate, "op", CommandConflict), ParameterUpdate},
		{"fmt wrapped", fmt.Errorf("ctx: %w", CRCMismatch), CRCMismatch},
		{"foreign", errors.New("port gone"), SerialRead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Of(tt.err))
		})
	}
}

func TestClassification(t *testing.T) {
	assert.True(t, SerialRead.Retryable())
	assert.False(t, InvalidData.Retryable())
	assert.True(t, CRCMismatch.Desynchronized())
	assert.False(t, CommandConflict.Desynchronized())
}
