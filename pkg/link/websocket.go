// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Text directives understood by the serial bridge. Binary messages carry
// raw line bytes in both directions.
const (
	DirectiveFlush   = "flush"
	DirectiveRTSOn   = "rts:1"
	DirectiveRTSOff  = "rts:0"
	incomingCapacity = 64
)

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketOptions configures DialWebSocket.
type WebSocketOptions struct {
	Username      string
	Password      string
	SkipSSLVerify bool
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// WebSocketTransport reaches a unit attached to a remote serial bridge.
type WebSocketTransport struct {
	conn         *websocket.Conn
	url          string
	readTimeout  time.Duration
	writeTimeout time.Duration

	writeMu  sync.Mutex
	incoming chan []byte
	pending  []byte

	errMu   sync.Mutex
	readErr error
}

// DialWebSocket connects to a bridge with optional HTTP Basic auth.
func DialWebSocket(ctx context.Context, wsURL string, opts WebSocketOptions) (*WebSocketTransport, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: opts.SkipSSLVerify}
	}

	headers := http.Header{}
	if opts.Username != "" && opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	t := &WebSocketTransport{
		conn:         conn,
		url:          wsURL,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		incoming:     make(chan []byte, incomingCapacity),
	}
	go t.readLoop()
	return t, nil
}

func (t *WebSocketTransport) readLoop() {
	defer close(t.incoming)
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			t.errMu.Lock()
			t.readErr = err
			t.errMu.Unlock()
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		t.incoming <- data
	}
}

func (t *WebSocketTransport) closedErr() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.readErr != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, t.readErr)
	}
	return ErrConnectionClosed
}

func (t *WebSocketTransport) Write(p []byte) error {
	return t.send(websocket.BinaryMessage, p)
}

func (t *WebSocketTransport) send(messageType int, p []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(messageType, p)
}

// Read waits up to the read timeout for n bytes.
func (t *WebSocketTransport) Read(n int) ([]byte, error) {
	timer := time.NewTimer(t.readTimeout)
	defer timer.Stop()
	for len(t.pending) < n {
		select {
		case data, ok := <-t.incoming:
			if !ok {
				return nil, t.closedErr()
			}
			t.pending = append(t.pending, data...)
		case <-timer.C:
			return nil, ErrTimeout
		}
	}
	out := make([]byte, n)
	copy(out, t.pending)
	t.pending = t.pending[n:]
	return out, nil
}

// FlushInput asks the bridge to flush the real port, then discards
// anything already buffered locally.
func (t *WebSocketTransport) FlushInput() error {
	if err := t.send(websocket.TextMessage, []byte(DirectiveFlush)); err != nil {
		return err
	}
	t.pending = nil
	for {
		select {
		case _, ok := <-t.incoming:
			if !ok {
				return nil
			}
		default:
			return nil
		}
	}
}

func (t *WebSocketTransport) SetControlLine(asserted bool) error {
	d := DirectiveRTSOff
	if asserted {
		d = DirectiveRTSOn
	}
	return t.send(websocket.TextMessage, []byte(d))
}

func (t *WebSocketTransport) Close() error {
	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return t.conn.Close()
}

func (t *WebSocketTransport) String() string {
	return "websocket " + t.url
}
