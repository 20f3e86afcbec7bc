// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"fmt"
	"time"
)

// Kind distinguishes what a Request asks the worker to do.
type Kind int

const (
	KindFrame          Kind = iota // write a frame and read its reply
	KindTriggerAssert              // raise the trigger line
	KindTriggerRelease             // lower the trigger line
	KindClose                      // release the transport and exit
)

func (k Kind) String() string {
	switch k {
	case KindFrame:
		return "frame"
	case KindTriggerAssert:
		return "trigger-assert"
	case KindTriggerRelease:
		return "trigger-release"
	case KindClose:
		return "close"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Source identifies who submitted a request.
type Source int

const (
	SourceForeground Source = iota
	SourceHeartbeat
)

func (s Source) String() string {
	if s == SourceHeartbeat {
		return "heartbeat"
	}
	return "foreground"
}

// Request is one message on the worker's command channel.
type Request struct {
	Kind   Kind
	Source Source

	// Frame fields.
	Frame      []byte
	ReadLength int  // expected reply length including tag and checksum
	WantReply  bool // deliver the reply on the result channel
}

// FrameRequest builds a foreground frame request.
func FrameRequest(frame []byte, readLength int, wantReply bool) Request {
	return Request{Kind: KindFrame, Frame: frame, ReadLength: readLength, WantReply: wantReply}
}

// Result carries a reply, or the transport failure that prevented one.
type Result struct {
	Raw []byte
	Err error
}

// Event describes one processed request, for statistics and metrics.
type Event struct {
	Kind     Kind
	Source   Source
	Sent     int
	Reply    []byte
	Err      error
	Duration time.Duration
}

// Observer receives an Event after every processed request. Observe runs
// on the worker goroutine and must not block.
type Observer interface {
	Observe(ev Event)
}
