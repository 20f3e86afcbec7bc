// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package heartbeat

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/stimctl/pkg/frame"
	"github.com/Thermoquad/stimctl/pkg/link"
)

type recordingSubmitter struct {
	mu   sync.Mutex
	reqs []link.Request
	err  error
}

func (r *recordingSubmitter) Submit(req link.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.reqs = append(r.reqs, req)
	return nil
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

func newTestScheduler(t *testing.T, sub Submitter, armed, disarmed time.Duration) *Scheduler {
	t.Helper()
	s := New(sub, frame.MustEncode(frame.CmdRemoteEnable), frame.LenInstr, Options{
		ArmedInterval:    armed,
		DisarmedInterval: disarmed,
	})
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func TestScheduler_StartsPaused(t *testing.T) {
	sub := &recordingSubmitter{}
	newTestScheduler(t, sub, 20*time.Millisecond, 20*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, sub.count())
}

func TestScheduler_Debounce(t *testing.T) {
	sub := &recordingSubmitter{}
	s := newTestScheduler(t, sub, time.Second, 200*time.Millisecond)
	s.Notify(Disarmed)

	// Foreground traffic faster than the interval suppresses keep-alives.
	for i := 0; i < 12; i++ {
		time.Sleep(50 * time.Millisecond)
		s.Notify(Traffic)
	}
	assert.Equal(t, 0, sub.count())

	// Idle for 1.5 intervals: exactly one keep-alive.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, sub.count())
	assert.EqualValues(t, 1, s.Pokes())

	sub.mu.Lock()
	req := sub.reqs[0]
	sub.mu.Unlock()
	assert.Equal(t, link.KindFrame, req.Kind)
	assert.Equal(t, link.SourceHeartbeat, req.Source)
	assert.False(t, req.WantReply)
	assert.Equal(t, frame.MustEncode(frame.CmdRemoteEnable), req.Frame)
}

func TestScheduler_TrafficWhilePaused(t *testing.T) {
	sub := &recordingSubmitter{}
	s := newTestScheduler(t, sub, 20*time.Millisecond, 20*time.Millisecond)

	s.Notify(Traffic)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, sub.count(), "traffic does not resume a paused scheduler")
}

func TestScheduler_ArmedIntervalAndPause(t *testing.T) {
	sub := &recordingSubmitter{}
	s := newTestScheduler(t, sub, 40*time.Millisecond, time.Hour)

	s.Notify(Armed)
	time.Sleep(300 * time.Millisecond)
	n := sub.count()
	assert.GreaterOrEqual(t, n, 3)

	s.Notify(Pause)
	time.Sleep(20 * time.Millisecond)
	n = sub.count()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, n, sub.count(), "no keep-alives while paused")

	// Disarmed resumes with the slow interval.
	s.Notify(Disarmed)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, n, sub.count())
}

func TestScheduler_SubmitFailurePauses(t *testing.T) {
	sub := &recordingSubmitter{err: errors.New("closed")}
	s := newTestScheduler(t, sub, 20*time.Millisecond, 20*time.Millisecond)

	s.Notify(Disarmed)
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 0, s.Pokes())
}

func TestScheduler_StopIsTerminal(t *testing.T) {
	sub := &recordingSubmitter{}
	s := New(sub, []byte("Q@n"), 3, Options{})
	s.Stop() // never started
	s.Start()
	s.Stop()
	s.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Notify(Armed)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "Notify blocked after Stop")
	}
}
