// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/stimctl/pkg/errcode"
	"github.com/Thermoquad/stimctl/pkg/frame"
)

// Statistics tracks link traffic and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	FramesSent     uint64
	Replies        uint64
	Heartbeats     uint64
	ControlEvents  uint64
	WriteErrors    uint64
	ReadErrors     uint64
	Unrecognized   uint64
	InvalidData    uint64
	Conflicts      uint64
	ProtocolErrors uint64
	BytesSent      uint64
	BytesReceived  uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() Statistics {
	now := time.Now()
	return Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update folds one processed request into the counters
func (s *Statistics) Update(ev Event) {
	s.LastUpdateTime = time.Now()

	if ev.Kind != KindFrame {
		s.ControlEvents++
		return
	}

	s.FramesSent++
	s.BytesSent += uint64(ev.Sent)
	s.BytesReceived += uint64(len(ev.Reply))
	if ev.Source == SourceHeartbeat {
		s.Heartbeats++
	}

	if ev.Err != nil {
		if errors.Is(ev.Err, errcode.SerialWrite) {
			s.WriteErrors++
		} else {
			s.ReadErrors++
		}
		return
	}

	s.Replies++
	switch {
	case len(ev.Reply) > 0 && ev.Reply[0] == frame.ReplyUnrecognized:
		s.Unrecognized++
		s.ProtocolErrors++
	case len(ev.Reply) > 1 && ev.Reply[1] == frame.ReplyInvalidData:
		s.InvalidData++
		s.ProtocolErrors++
	case len(ev.Reply) > 1 && ev.Reply[1] == frame.ReplyConflict:
		s.Conflicts++
		s.ProtocolErrors++
	}
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates(now time.Time) {
	elapsed := now.Sub(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.FramesSent) / elapsed
		s.ErrorRate = float64(s.WriteErrors+s.ReadErrors+s.ProtocolErrors) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	var replyPercent float64
	if s.FramesSent > 0 {
		replyPercent = float64(s.Replies) * 100.0 / float64(s.FramesSent)
	}

	elapsed := s.LastUpdateTime.Sub(s.StartTime)

	result := fmt.Sprintf("=== Link Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Frames Sent:     %8d\n", s.FramesSent)
	result += fmt.Sprintf("Replies:         %8d (%.1f%%)\n", s.Replies, replyPercent)
	result += fmt.Sprintf("Heartbeats:      %8d\n", s.Heartbeats)

	if s.WriteErrors > 0 {
		result += fmt.Sprintf("Write Errors:    %8d\n", s.WriteErrors)
	}
	if s.ReadErrors > 0 {
		result += fmt.Sprintf("Read Errors:     %8d\n", s.ReadErrors)
	}
	if s.ProtocolErrors > 0 {
		result += fmt.Sprintf("Protocol Errors: %8d\n", s.ProtocolErrors)
		if s.Unrecognized > 0 {
			result += fmt.Sprintf("  Unrecognized:     %5d\n", s.Unrecognized)
		}
		if s.InvalidData > 0 {
			result += fmt.Sprintf("  Invalid Data:     %5d\n", s.InvalidData)
		}
		if s.Conflicts > 0 {
			result += fmt.Sprintf("  Conflicts:        %5d\n", s.Conflicts)
		}
	}

	result += fmt.Sprintf("Bytes Out/In:    %8d / %d\n", s.BytesSent, s.BytesReceived)
	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = NewStatistics()
}
