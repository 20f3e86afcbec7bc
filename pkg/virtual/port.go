// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package virtual

import (
	"errors"
	"sync"
	"time"

	"github.com/Thermoquad/stimctl/pkg/link"
)

// ErrPortClosed is returned by I/O on a closed Port.
var ErrPortClosed = errors.New("virtual: port closed")

// PortOptions configures Open.
type PortOptions struct {
	ReadTimeout time.Duration
}

// Port connects a Device to a link worker in-process. It implements
// link.Transport; a goroutine plays the part of the unit.
type Port struct {
	dev         *Device
	readTimeout time.Duration

	in      chan []byte
	out     chan []byte
	pending []byte

	done      chan struct{}
	closeOnce sync.Once
}

var _ link.Transport = (*Port)(nil)

// Open starts serving dev.
func Open(dev *Device, opts PortOptions) *Port {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = link.DefaultReadTimeout
	}
	p := &Port{
		dev:         dev,
		readTimeout: opts.ReadTimeout,
		in:          make(chan []byte, 4),
		out:         make(chan []byte, 4),
		done:        make(chan struct{}),
	}
	go p.serve()
	return p
}

// Device returns the unit behind the port.
func (p *Port) Device() *Device { return p.dev }

func (p *Port) serve() {
	for {
		select {
		case <-p.done:
			return
		case f := <-p.in:
			reply := p.dev.Handle(f)
			if reply == nil {
				continue
			}
			select {
			case p.out <- reply:
			case <-p.done:
				return
			}
		}
	}
}

func (p *Port) Write(b []byte) error {
	select {
	case <-p.done:
		return ErrPortClosed
	default:
	}
	f := append([]byte(nil), b...)
	select {
	case <-p.done:
		return ErrPortClosed
	case p.in <- f:
		return nil
	}
}

// Read waits up to the read timeout for n bytes. A silent unit ends in
// link.ErrTimeout.
func (p *Port) Read(n int) ([]byte, error) {
	timer := time.NewTimer(p.readTimeout)
	defer timer.Stop()
	for len(p.pending) < n {
		select {
		case <-p.done:
			return nil, ErrPortClosed
		case data := <-p.out:
			p.pending = append(p.pending, data...)
		case <-timer.C:
			return nil, link.ErrTimeout
		}
	}
	out := make([]byte, n)
	copy(out, p.pending)
	p.pending = p.pending[n:]
	return out, nil
}

func (p *Port) FlushInput() error {
	p.pending = nil
	for {
		select {
		case <-p.out:
		default:
			return nil
		}
	}
}

func (p *Port) SetControlLine(asserted bool) error {
	select {
	case <-p.done:
		return ErrPortClosed
	default:
	}
	p.dev.TriggerLine(asserted)
	return nil
}

func (p *Port) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

func (p *Port) String() string {
	return "virtual " + p.dev.Model().String()
}
