// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge shares one local stimulator port over a websocket, the
// counterpart of link.DialWebSocket.
//
// Binary messages carry raw line bytes in both directions. Text messages
// from the client are directives: "flush" discards pending input, "rts:1"
// and "rts:0" drive the trigger line. One client is served at a time.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Thermoquad/stimctl/internal/metrics"
	"github.com/Thermoquad/stimctl/pkg/link"
)

// PollInterval is the read timeout the bridged port should be opened with.
// It bounds how long a flush directive waits for the reader.
const PollInterval = 20 * time.Millisecond

const writeWait = time.Second

// Options configures New.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Username and Password enable HTTP Basic auth on /ws when both are set.
	Username string
	Password string

	Logger      *zap.Logger
	Registry    *prometheus.Registry
	MetricsPath string

	// Status, when set, adds a "unit" field to /status.
	Status func() any
}

// Server relays a link.Transport to websocket clients.
type Server struct {
	port     link.Transport
	opts     Options
	log      *zap.Logger
	metrics  *metrics.BridgeMetrics
	srv      *http.Server
	upgrader websocket.Upgrader

	// readMu is held by the pump for each poll and by flush directives.
	readMu sync.Mutex

	busy     atomic.Bool
	sessions atomic.Int64
	toUnit   atomic.Uint64
	fromUnit atomic.Uint64

	connMu sync.Mutex
	conn   *websocket.Conn
}

// New builds the gin router and HTTP server for port.
func New(port link.Transport, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	s := &Server{
		port: port,
		opts: opts,
		log:  opts.Logger.Named("bridge"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  256,
			WriteBufferSize: 256,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/status", s.handleStatus)
	if opts.Registry != nil {
		s.metrics = metrics.NewBridgeMetrics(opts.Registry)
		r.GET(opts.MetricsPath, gin.WrapH(metrics.Handler(opts.Registry)))
	}

	ws := r.Group("/ws")
	if opts.Username != "" && opts.Password != "" {
		ws.Use(gin.BasicAuth(gin.Accounts{opts.Username: opts.Password}))
	}
	ws.GET("", s.handleWebSocket)

	s.srv = &http.Server{
		Addr:         opts.Addr,
		Handler:      r,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.log.Info("bridge listening", zap.String("addr", s.opts.Addr), zap.String("port", fmt.Sprint(s.port)))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and drops the active client.
func (s *Server) Shutdown(ctx context.Context) error {
	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.connMu.Unlock()
	return s.srv.Shutdown(ctx)
}

// Status is the /status payload.
type Status struct {
	Port          string `json:"port"`
	Busy          bool   `json:"busy"`
	Sessions      int64  `json:"sessions"`
	BytesToUnit   uint64 `json:"bytesToUnit"`
	BytesFromUnit uint64 `json:"bytesFromUnit"`
	Unit          any    `json:"unit,omitempty"`
}

func (s *Server) handleStatus(c *gin.Context) {
	st := Status{
		Port:          fmt.Sprint(s.port),
		Busy:          s.busy.Load(),
		Sessions:      s.sessions.Load(),
		BytesToUnit:   s.toUnit.Load(),
		BytesFromUnit: s.fromUnit.Load(),
	}
	if s.opts.Status != nil {
		st.Unit = s.opts.Status()
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		c.String(http.StatusConflict, "bridge busy")
		return
	}
	defer s.busy.Store(false)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.serve(conn, c.ClientIP())
}

func (s *Server) serve(conn *websocket.Conn, client string) {
	log := s.log.With(zap.String("client", client))
	log.Info("client connected")
	s.sessions.Add(1)
	if s.metrics != nil {
		s.metrics.Sessions.Inc()
		s.metrics.Clients.Inc()
		defer s.metrics.Clients.Dec()
	}

	// The HTTP server's deadlines outlive the upgrade.
	_ = conn.NetConn().SetDeadline(time.Time{})

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		_ = conn.Close()
	}()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pump(conn, stop, log)
	}()
	defer func() {
		close(stop)
		wg.Wait()
		_ = s.port.SetControlLine(false)
		log.Info("client disconnected")
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		switch messageType {
		case websocket.BinaryMessage:
			if err := s.port.Write(data); err != nil {
				log.Error("port write failed", zap.Error(err))
				return
			}
			s.toUnit.Add(uint64(len(data)))
			s.count("to_unit", len(data))
		case websocket.TextMessage:
			if err := s.directive(string(data)); err != nil {
				log.Warn("directive failed", zap.String("directive", string(data)), zap.Error(err))
			}
		}
	}
}

func (s *Server) directive(d string) error {
	switch d {
	case link.DirectiveFlush:
		s.readMu.Lock()
		defer s.readMu.Unlock()
		return s.port.FlushInput()
	case link.DirectiveRTSOn:
		return s.port.SetControlLine(true)
	case link.DirectiveRTSOff:
		return s.port.SetControlLine(false)
	default:
		return fmt.Errorf("unknown directive %q", d)
	}
}

// pump forwards unit bytes to the client until stop closes or the port fails.
func (s *Server) pump(conn *websocket.Conn, stop <-chan struct{}, log *zap.Logger) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		s.readMu.Lock()
		b, err := s.port.Read(1)
		s.readMu.Unlock()
		if errors.Is(err, link.ErrTimeout) {
			continue
		}
		if err != nil {
			log.Error("port read failed", zap.Error(err))
			_ = conn.Close()
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
			log.Debug("websocket write failed", zap.Error(err))
			return
		}
		s.fromUnit.Add(uint64(len(b)))
		s.count("from_unit", len(b))
	}
}

func (s *Server) count(direction string, n int) {
	if s.metrics != nil {
		s.metrics.Bytes.WithLabelValues(direction).Add(float64(n))
	}
}
