// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package heartbeat keeps remote control of a unit alive.
//
// A unit silently drops remote control when it is not addressed for about a
// second. The scheduler submits a keep-alive frame whenever the link has
// been idle for the current interval. Every foreground command resets the
// deadline through the side channel, so keep-alives never land on top of a
// time-critical command.
package heartbeat

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/stimctl/pkg/link"
)

// Signal is a side-channel message from the foreground.
type Signal int

const (
	Traffic  Signal = iota // a command just went out; restart the current interval
	Armed                  // resume with the armed interval
	Disarmed               // resume with the disarmed interval
	Pause                  // remote control was released; stop sending
)

func (s Signal) String() string {
	switch s {
	case Traffic:
		return "traffic"
	case Armed:
		return "armed"
	case Disarmed:
		return "disarmed"
	case Pause:
		return "pause"
	default:
		return "unknown"
	}
}

// Default intervals.
const (
	DefaultArmedInterval    = 500 * time.Millisecond
	DefaultDisarmedInterval = 5 * time.Second
)

// Submitter accepts requests for the link worker.
type Submitter interface {
	Submit(req link.Request) error
}

// Options configures a Scheduler. Zero intervals use the defaults.
type Options struct {
	ArmedInterval    time.Duration
	DisarmedInterval time.Duration
	Logger           *zap.Logger
}

// Scheduler is created paused. Stop is terminal.
type Scheduler struct {
	submit     Submitter
	command    []byte
	readLength int
	armed      time.Duration
	disarmed   time.Duration
	log        *zap.Logger

	signals  chan Signal
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	pokes    atomic.Int64
}

// New builds a scheduler that submits command (whose reply is readLength
// bytes long) through s.
func New(s Submitter, command []byte, readLength int, opts Options) *Scheduler {
	if opts.ArmedInterval <= 0 {
		opts.ArmedInterval = DefaultArmedInterval
	}
	if opts.DisarmedInterval <= 0 {
		opts.DisarmedInterval = DefaultDisarmedInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Scheduler{
		submit:     s,
		command:    command,
		readLength: readLength,
		armed:      opts.ArmedInterval,
		disarmed:   opts.DisarmedInterval,
		log:        opts.Logger.Named("heartbeat"),
		signals:    make(chan Signal, 16),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the scheduler goroutine. It stays paused until it
// receives Armed or Disarmed.
func (s *Scheduler) Start() {
	if s.started.CompareAndSwap(false, true) {
		go s.run()
	}
}

// Notify delivers a signal. It never blocks after Stop.
func (s *Scheduler) Notify(sig Signal) {
	select {
	case <-s.stop:
	case s.signals <- sig:
	}
}

// Stop terminates the scheduler and waits for it to exit if it was
// started. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
}

// Pokes returns how many keep-alive frames have been submitted.
func (s *Scheduler) Pokes() int64 { return s.pokes.Load() }

func (s *Scheduler) run() {
	defer close(s.done)

	paused := true
	interval := s.disarmed
	timer := time.NewTimer(interval)
	stopTimer(timer)

	for {
		var deadline <-chan time.Time
		if !paused {
			deadline = timer.C
		}

		select {
		case <-s.stop:
			stopTimer(timer)
			return

		case sig := <-s.signals:
			switch sig {
			case Pause:
				paused = true
				stopTimer(timer)
			case Armed:
				paused, interval = false, s.armed
				resetTimer(timer, interval)
			case Disarmed:
				paused, interval = false, s.disarmed
				resetTimer(timer, interval)
			case Traffic:
				if !paused {
					resetTimer(timer, interval)
				}
			}

		case <-deadline:
			req := link.FrameRequest(s.command, s.readLength, false)
			req.Source = link.SourceHeartbeat
			if err := s.submit.Submit(req); err != nil {
				s.log.Warn("keep-alive not sent, pausing", zap.Error(err))
				paused = true
				continue
			}
			s.pokes.Add(1)
			resetTimer(timer, interval)
		}
	}
}

// resetTimer safely stops, drains, and resets a timer.
func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	if d < 0 {
		d = 0
	}
	t.Reset(d)
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
