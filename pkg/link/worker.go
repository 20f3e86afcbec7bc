// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Thermoquad/stimctl/pkg/errcode"
	"github.com/Thermoquad/stimctl/pkg/frame"
	"github.com/Thermoquad/stimctl/pkg/trace"
)

// ErrClosed is returned by Submit after the worker has exited.
var ErrClosed = errors.New("link: worker closed")

// maxVersionLength bounds a terminator-delimited version reply.
const maxVersionLength = 64

// Options configures a Worker.
type Options struct {
	Logger *zap.Logger

	// MaxFramesPerSecond enforces a minimum gap between frames. 0 disables.
	MaxFramesPerSecond float64

	Trace     *trace.Recorder
	Observers []Observer

	QueueSize int
}

// Worker owns a Transport. Requests are processed strictly in submission
// order; a frame and its reply are never interleaved with another frame.
type Worker struct {
	t         Transport
	log       *zap.Logger
	limiter   *rate.Limiter
	trace     *trace.Recorder
	observers []Observer

	commands chan Request
	results  chan Result
	done     chan struct{}

	startOnce sync.Once
	closeOnce sync.Once

	statsMu sync.Mutex
	stats   Statistics
}

// NewWorker wraps t. Call Start before submitting.
func NewWorker(t Transport, opts Options) *Worker {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	w := &Worker{
		t:         t,
		log:       opts.Logger.Named("link"),
		trace:     opts.Trace,
		observers: opts.Observers,
		commands:  make(chan Request, opts.QueueSize),
		results:   make(chan Result, 1),
		done:      make(chan struct{}),
		stats:     NewStatistics(),
	}
	if opts.MaxFramesPerSecond > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(opts.MaxFramesPerSecond), 1)
	}
	return w
}

// Start launches the worker goroutine. Later calls do nothing.
func (w *Worker) Start() {
	w.startOnce.Do(func() { go w.run() })
}

// Submit enqueues a request. It fails only once the worker has exited.
func (w *Worker) Submit(req Request) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	select {
	case w.commands <- req:
		return nil
	case <-w.done:
		return ErrClosed
	}
}

// Results delivers one Result per frame request with WantReply set.
func (w *Worker) Results() <-chan Result { return w.results }

// Done is closed when the worker has released the transport.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Close appends a close directive behind anything already queued and waits
// for the worker to exit. Safe to call more than once.
func (w *Worker) Close() {
	w.Start()
	w.closeOnce.Do(func() {
		_ = w.Submit(Request{Kind: KindClose})
	})
	<-w.done
}

// Statistics returns a snapshot of the link counters.
func (w *Worker) Statistics() Statistics {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	s := w.stats
	s.CalculateRates(time.Now())
	return s
}

func (w *Worker) run() {
	defer close(w.done)
	for req := range w.commands {
		start := time.Now()
		ev := Event{Kind: req.Kind, Source: req.Source}

		switch req.Kind {
		case KindClose:
			if err := w.t.Close(); err != nil {
				w.log.Warn("transport close failed", zap.Error(err))
			}
			w.trace.Control("close")
			w.log.Debug("worker stopped")
			return

		case KindTriggerAssert, KindTriggerRelease:
			asserted := req.Kind == KindTriggerAssert
			ev.Err = w.t.SetControlLine(asserted)
			w.trace.Control(req.Kind.String())
			if ev.Err != nil {
				w.log.Warn("trigger line change failed", zap.Bool("asserted", asserted), zap.Error(ev.Err))
			}

		case KindFrame:
			ev.Sent = len(req.Frame)
			ev.Reply, ev.Err = w.transact(req)
			ev.Duration = time.Since(start)
			w.observe(ev)
			if req.WantReply {
				w.results <- Result{Raw: ev.Reply, Err: ev.Err}
			} else if ev.Err != nil {
				w.log.Debug("unsolicited reply lost", zap.Stringer("source", req.Source), zap.Error(ev.Err))
			}
			continue

		default:
			w.log.Error("unknown request kind", zap.Stringer("kind", req.Kind))
			continue
		}

		ev.Duration = time.Since(start)
		w.observe(ev)
	}
}

// transact writes one frame and reads its reply. The reply is always read,
// even when nobody wants it, so the next frame starts on a clean line.
func (w *Worker) transact(req Request) ([]byte, error) {
	if w.limiter != nil {
		if err := w.limiter.Wait(context.Background()); err != nil {
			return nil, errcode.Wrap(errcode.SerialWrite, "rate limit", err)
		}
	}
	if err := w.t.FlushInput(); err != nil {
		w.log.Debug("input flush failed", zap.Error(err))
	}

	err := w.t.Write(req.Frame)
	w.trace.Frame(trace.Tx, req.Frame, err)
	if err != nil {
		return nil, errcode.Wrap(errcode.SerialWrite, "write", err)
	}

	reply, err := w.readReply(req.ReadLength)
	w.trace.Frame(trace.Rx, reply, err)
	if err != nil {
		return reply, errcode.Wrap(errcode.SerialRead, "read", err)
	}
	w.log.Debug("frame",
		zap.String("tx", frame.FormatFrame(req.Frame)),
		zap.String("rx", frame.FormatFrame(reply)))
	return reply, nil
}

// readReply reads a response frame without relying on the timeout to find
// its end. A '?' first byte is the whole frame. A '?' or 'S' second byte is
// followed only by the checksum. Version replies run to a zero terminator.
func (w *Worker) readReply(readLength int) ([]byte, error) {
	msg, err := w.t.Read(1)
	if err != nil {
		return msg, err
	}
	if msg[0] == frame.ReplyUnrecognized {
		return msg, nil
	}

	b, err := w.t.Read(1)
	msg = append(msg, b...)
	if err != nil {
		return msg, err
	}
	switch {
	case b[0] == frame.ReplyInvalidData || b[0] == frame.ReplyConflict:
		b, err = w.t.Read(1)
		return append(msg, b...), err

	case msg[0] == frame.TagVersion:
		for {
			b, err = w.t.Read(1)
			msg = append(msg, b...)
			if err != nil {
				return msg, err
			}
			if b[0] == frame.VersionTerminator {
				break
			}
			if len(msg) > maxVersionLength {
				return msg, fmt.Errorf("version reply exceeds %d bytes without terminator", maxVersionLength)
			}
		}
		b, err = w.t.Read(1)
		return append(msg, b...), err
	}

	if readLength <= 2 {
		return msg, nil
	}
	b, err = w.t.Read(readLength - 2)
	return append(msg, b...), err
}

func (w *Worker) observe(ev Event) {
	w.statsMu.Lock()
	w.stats.Update(ev)
	w.statsMu.Unlock()
	for _, o := range w.observers {
		o.Observe(ev)
	}
}
