// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Thermoquad/stimctl/pkg/energy"
	"github.com/Thermoquad/stimctl/pkg/frame"
	"github.com/Thermoquad/stimctl/pkg/link"
	"github.com/Thermoquad/stimctl/pkg/magstim"
	"github.com/Thermoquad/stimctl/pkg/trace"
	"github.com/Thermoquad/stimctl/pkg/virtual"
)

// stimulator is the part of the engine API shared by every model.
type stimulator interface {
	Connect() error
	Disconnect() error
	Arm(delay bool) (*frame.Response, error)
	Disarm() (*frame.Response, error)
	Fire() (*frame.Response, error)
	QuickFire() error
	ResetQuickFire() error
	SetPower(level int, delay bool) (*frame.Response, error)
	GetTemperature() (*frame.Response, error)
	Poke(silent bool) error
	IsArmed() bool
	IsUnderControl() bool
	IsReadyToFire() bool
	State() magstim.DeviceState
	Statistics() link.Statistics
	Model() string
}

// session is an open connection to one unit.
type session struct {
	unit    stimulator
	magstim *magstim.Magstim
	bistim  *magstim.BiStim
	rapid   *magstim.Rapid

	// dev is the simulated unit behind a --virtual session.
	dev  *virtual.Device
	info string

	trace *trace.Recorder
}

// GetPassword returns STIMCTL_PASSWORD, or asks on the terminal. Input that
// is not a terminal is read as one line.
func GetPassword() (string, error) {
	if pw := os.Getenv("STIMCTL_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	defer fmt.Fprintln(os.Stderr)

	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(pw), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func loadSystemInfo() (*energy.SystemInfo, error) {
	if cfg.Rapid.SystemInfoFile == "" {
		return energy.Default(), nil
	}
	return energy.LoadFile(cfg.Rapid.SystemInfoFile)
}

// OpenTransport opens the link selected by flags and config. readTimeout of
// zero uses the configured link timeout.
func OpenTransport(readTimeout time.Duration) (link.Transport, *virtual.Device, string, error) {
	if readTimeout <= 0 {
		readTimeout = cfg.Link.ReadTimeout
	}

	switch {
	case cfg.Device.Virtual:
		model, err := virtual.ParseModel(cfg.Device.Model)
		if err != nil {
			return nil, nil, "", err
		}
		version, err := frame.ParseVersion(cfg.Virtual.Version)
		if err != nil {
			return nil, nil, "", err
		}
		info, err := loadSystemInfo()
		if err != nil {
			return nil, nil, "", err
		}
		dev := virtual.New(model, virtual.Options{
			Version:    version,
			Voltage:    cfg.Rapid.Voltage,
			RapidType:  cfg.Rapid.Type,
			UnlockCode: cfg.Rapid.UnlockCode,
			SystemInfo: info,
			Logger:     logger,
		})
		port := virtual.Open(dev, virtual.PortOptions{ReadTimeout: readTimeout})
		return port, dev, fmt.Sprintf("Virtual: %s (software %s)", model, version), nil

	case cfg.Device.URL != "":
		// WebSocket mode
		password := ""
		if cfg.Device.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, nil, "", err
			}
		}
		t, err := link.DialWebSocket(context.Background(), cfg.Device.URL, link.WebSocketOptions{
			Username:      cfg.Device.Username,
			Password:      password,
			SkipSSLVerify: wsNoSSLVerify,
			ReadTimeout:   readTimeout,
			WriteTimeout:  cfg.Link.WriteTimeout,
		})
		if err != nil {
			return nil, nil, "", err
		}
		return t, nil, fmt.Sprintf("WebSocket: %s", cfg.Device.URL), nil

	case cfg.Device.Port != "":
		// Serial mode
		t, err := link.OpenSerial(cfg.Device.Port, link.SerialOptions{
			ReadTimeout:  readTimeout,
			WriteTimeout: cfg.Link.WriteTimeout,
		})
		if err != nil {
			return nil, nil, "", err
		}
		return t, nil, fmt.Sprintf("Serial: %s @ %d baud", cfg.Device.Port, link.BaudRate), nil
	}

	return nil, nil, "", errors.New("one of --port, --url or --virtual must be specified")
}

// OpenSession builds the engine for the configured model and takes remote
// control of the unit.
func OpenSession(observers ...link.Observer) (*session, error) {
	t, dev, info, err := OpenTransport(0)
	if err != nil {
		return nil, err
	}

	s := &session{dev: dev, info: info}
	opts, err := s.options(observers)
	if err != nil {
		_ = t.Close()
		return nil, err
	}

	switch strings.ToLower(cfg.Device.Model) {
	case "magstim", "200", "magstim200":
		s.magstim = magstim.New(t, opts)
		s.unit = s.magstim
	case "bistim":
		s.bistim = magstim.NewBiStim(t, opts)
		s.unit = s.bistim
	case "rapid", "rapid2":
		s.rapid = magstim.NewRapid(t, opts)
		s.unit = s.rapid
	default:
		_ = t.Close()
		s.closeTrace()
		return nil, fmt.Errorf("unknown model %q", cfg.Device.Model)
	}

	logger.Info("connecting", zap.String("connection", info), zap.String("model", s.unit.Model()))
	if err := s.unit.Connect(); err != nil {
		s.closeTrace()
		return nil, err
	}
	return s, nil
}

func (s *session) options(observers []link.Observer) (magstim.Options, error) {
	info, err := loadSystemInfo()
	if err != nil {
		return magstim.Options{}, err
	}

	opts := magstim.DefaultOptions()
	opts.Logger = logger
	opts.ArmedInterval = cfg.Heartbeat.ArmedInterval
	opts.DisarmedInterval = cfg.Heartbeat.DisarmedInterval
	opts.SystemInfo = info
	opts.Voltage = cfg.Rapid.Voltage
	opts.RapidType = cfg.Rapid.Type
	opts.UnlockCode = cfg.Rapid.UnlockCode
	opts.EnforceEnergySafety = cfg.Rapid.EnforceEnergySafety
	opts.EnforceMinWait = cfg.Rapid.EnforceMinWait
	opts.Link = link.Options{
		Logger:             logger,
		MaxFramesPerSecond: cfg.Link.MaxFramesPerSecond,
		Observers:          observers,
	}

	if cfg.Link.TraceFile != "" {
		f, err := os.Create(cfg.Link.TraceFile)
		if err != nil {
			return magstim.Options{}, fmt.Errorf("create trace file: %w", err)
		}
		s.trace = trace.NewRecorder(f, uuid.NewString())
		opts.Link.Trace = s.trace
	}
	return opts, nil
}

func (s *session) closeTrace() {
	if err := s.trace.Close(); err != nil {
		logger.Warn("trace file close failed", zap.Error(err))
	}
	s.trace = nil
}

// Close disarms and releases the unit.
func (s *session) Close() error {
	defer s.closeTrace()
	return s.unit.Disconnect()
}

// parameters renders the model's parameter block on one line.
func (s *session) parameters() (string, error) {
	switch {
	case s.bistim != nil:
		p, err := s.bistim.GetParameters()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("[%s] powerA=%d powerB=%d interval=%gms",
			frame.FormatInstr(p.Instr), p.PowerA, p.PowerB, p.PulseInterval), nil
	case s.rapid != nil:
		r, err := s.rapid.GetParameters()
		if err != nil {
			return "", err
		}
		return frame.FormatResponse(r), nil
	default:
		r, err := s.magstim.GetParameters()
		if err != nil {
			return "", err
		}
		return frame.FormatResponse(r), nil
	}
}
