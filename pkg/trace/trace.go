// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package trace records link traffic to a CBOR stream and reads it back.
//
// Each record is a CBOR map with integer keys, written back to back with no
// framing. A trace file can be replayed with `stimctl trace <file>`.
package trace

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Direction of a traced event.
type Direction uint8

const (
	Tx      Direction = iota + 1 // host to unit
	Rx                           // unit to host
	Control                      // trigger line or flush
)

func (d Direction) String() string {
	switch d {
	case Tx:
		return "TX"
	case Rx:
		return "RX"
	case Control:
		return "CTL"
	default:
		return fmt.Sprintf("DIR(%d)", uint8(d))
	}
}

// Record is one traced event.
type Record struct {
	Time    time.Time `cbor:"1,keyasint"`
	Session string    `cbor:"2,keyasint,omitempty"`
	Dir     Direction `cbor:"3,keyasint"`
	Bytes   []byte    `cbor:"4,keyasint,omitempty"`
	Err     string    `cbor:"5,keyasint,omitempty"`
	Note    string    `cbor:"6,keyasint,omitempty"`
}

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("trace: cbor options: %v", err))
	}
	return em
}

// Recorder appends records to a writer. A nil *Recorder discards
// everything, so callers do not need to check whether tracing is on.
type Recorder struct {
	mu      sync.Mutex
	enc     *cbor.Encoder
	w       io.Writer
	session string
	now     func() time.Time
	err     error
	count   int
}

// NewRecorder writes records tagged with session to w.
func NewRecorder(w io.Writer, session string) *Recorder {
	return &Recorder{
		enc:     encMode.NewEncoder(w),
		w:       w,
		session: session,
		now:     time.Now,
	}
}

// Frame records bytes moving in dir, with the error that ended the
// operation if any.
func (r *Recorder) Frame(dir Direction, b []byte, opErr error) {
	rec := Record{Dir: dir, Bytes: append([]byte(nil), b...)}
	if opErr != nil {
		rec.Err = opErr.Error()
	}
	r.write(rec)
}

// Control records a non-data event such as a trigger line change.
func (r *Recorder) Control(note string) {
	r.write(Record{Dir: Control, Note: note})
}

func (r *Recorder) write(rec Record) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	rec.Time = r.now()
	rec.Session = r.session
	if err := r.enc.Encode(rec); err != nil {
		r.err = fmt.Errorf("trace: write record: %w", err)
		return
	}
	r.count++
}

// Count returns the number of records written.
func (r *Recorder) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Err returns the first write error. Recording stops after it.
func (r *Recorder) Err() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close closes the underlying writer if it is an io.Closer.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Reader decodes records written by a Recorder.
type Reader struct {
	dec *cbor.Decoder
}

func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the stream.
func (r *Reader) Next() (*Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("trace: decode record: %w", err)
	}
	return &rec, nil
}

// ReadAll decodes every record in r.
func ReadAll(r io.Reader) ([]Record, error) {
	tr := NewReader(r)
	var out []Record
	for {
		rec, err := tr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, *rec)
	}
}
