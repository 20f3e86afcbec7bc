// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exposes link and device state to Prometheus.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Thermoquad/stimctl/pkg/errcode"
	"github.com/Thermoquad/stimctl/pkg/frame"
	"github.com/Thermoquad/stimctl/pkg/link"
	"github.com/Thermoquad/stimctl/pkg/magstim"
	"github.com/Thermoquad/stimctl/pkg/virtual"
)

const namespace = "stimctl"

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// LinkMetrics counts worker traffic. It is a link.Observer.
type LinkMetrics struct {
	Frames   *prometheus.CounterVec // labels: source, result
	Controls *prometheus.CounterVec // labels: kind
	Bytes    *prometheus.CounterVec // labels: direction
	Latency  *prometheus.HistogramVec
}

var _ link.Observer = (*LinkMetrics)(nil)

// NewLinkMetrics registers the link collectors on reg.
func NewLinkMetrics(reg prometheus.Registerer) *LinkMetrics {
	m := &LinkMetrics{
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "frames_total",
			Help:      "Frames written to the unit by source and outcome.",
		}, []string{"source", "result"}),
		Controls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "control_total",
			Help:      "Trigger-line and close directives processed.",
		}, []string{"kind"}),
		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "bytes_total",
			Help:      "Bytes moved over the link.",
		}, []string{"direction"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "roundtrip_seconds",
			Help:      "Time from write to complete reply.",
			Buckets:   []float64{.005, .01, .02, .05, .1, .2, .3, .5, 1},
		}, []string{"source"}),
	}
	reg.MustRegister(m.Frames, m.Controls, m.Bytes, m.Latency)
	return m
}

// Observe implements link.Observer.
func (m *LinkMetrics) Observe(ev link.Event) {
	if ev.Kind != link.KindFrame {
		m.Controls.WithLabelValues(ev.Kind.String()).Inc()
		return
	}
	m.Frames.WithLabelValues(ev.Source.String(), Outcome(ev)).Inc()
	m.Bytes.WithLabelValues("tx").Add(float64(ev.Sent))
	m.Bytes.WithLabelValues("rx").Add(float64(len(ev.Reply)))
	if ev.Err == nil {
		m.Latency.WithLabelValues(ev.Source.String()).Observe(ev.Duration.Seconds())
	}
}

// Outcome names the result of a frame event.
func Outcome(ev link.Event) string {
	switch {
	case ev.Err != nil && errors.Is(ev.Err, errcode.SerialWrite):
		return "write_error"
	case ev.Err != nil:
		return "read_error"
	case len(ev.Reply) > 0 && ev.Reply[0] == frame.ReplyUnrecognized:
		return "unrecognized"
	case len(ev.Reply) > 1 && ev.Reply[1] == frame.ReplyInvalidData:
		return "invalid_data"
	case len(ev.Reply) > 1 && ev.Reply[1] == frame.ReplyConflict:
		return "conflict"
	default:
		return "ok"
	}
}

// DeviceMetrics mirrors engine and virtual-unit state as gauges.
type DeviceMetrics struct {
	Connected     prometheus.Gauge
	RemoteControl prometheus.Gauge
	Armed         prometheus.Gauge
	Ready         prometheus.Gauge
	Validated     prometheus.Gauge

	Power       *prometheus.GaugeVec // labels: channel
	Frequency   prometheus.Gauge
	Pulses      prometheus.Gauge
	CoilCelsius prometheus.Gauge
	Fired       prometheus.Gauge
	Joules      prometheus.Gauge
}

// NewDeviceMetrics registers the device gauges on reg.
func NewDeviceMetrics(reg prometheus.Registerer) *DeviceMetrics {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      name,
			Help:      help,
		})
	}
	m := &DeviceMetrics{
		Connected:     gauge("connected", "1 while a session is open."),
		RemoteControl: gauge("remote_control", "1 while the unit is under remote control."),
		Armed:         gauge("armed", "1 while the unit is armed."),
		Ready:         gauge("ready", "1 while the unit is ready to fire."),
		Validated:     gauge("sequence_validated", "1 once the rTMS train has been validated."),
		Power: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "power_percent",
			Help:      "Power level setting.",
		}, []string{"channel"}),
		Frequency:   gauge("frequency_hertz", "Rapid train frequency."),
		Pulses:      gauge("train_pulses", "Rapid pulses per train."),
		CoilCelsius: gauge("coil_celsius", "Coil temperature."),
		Fired:       gauge("pulses_fired", "Pulses discharged by the simulated unit."),
		Joules:      gauge("joules_delivered", "Energy discharged by the simulated unit."),
	}
	reg.MustRegister(m.Connected, m.RemoteControl, m.Armed, m.Ready, m.Validated,
		m.Power, m.Frequency, m.Pulses, m.CoilCelsius, m.Fired, m.Joules)
	return m
}

// ObserveState copies the engine's view of the unit.
func (m *DeviceMetrics) ObserveState(s magstim.DeviceState) {
	m.Connected.Set(b2f(s.Connected))
	m.RemoteControl.Set(b2f(s.RemoteControl))
	m.Armed.Set(b2f(s.Armed))
	m.Ready.Set(b2f(s.Ready))
	m.Validated.Set(b2f(s.SequenceValidated))
}

// ObserveSnapshot copies a simulated unit's internal state.
func (m *DeviceMetrics) ObserveSnapshot(s virtual.Snapshot) {
	m.Power.WithLabelValues("a").Set(float64(s.Power))
	if s.Model == virtual.BiStim {
		m.Power.WithLabelValues("b").Set(float64(s.PowerB))
	}
	m.Frequency.Set(s.Frequency.Float())
	m.Pulses.Set(float64(s.NPulses))
	m.CoilCelsius.Set(s.CoilCelsius)
	m.Fired.Set(float64(s.PulsesFired))
	m.Joules.Set(s.JoulesDelivered)
}

// BridgeMetrics counts serial-bridge sessions and traffic.
type BridgeMetrics struct {
	Clients  prometheus.Gauge
	Sessions prometheus.Counter
	Bytes    *prometheus.CounterVec // labels: direction
}

// NewBridgeMetrics registers the bridge collectors on reg.
func NewBridgeMetrics(reg prometheus.Registerer) *BridgeMetrics {
	m := &BridgeMetrics{
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "clients",
			Help:      "Connected websocket clients.",
		}),
		Sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "sessions_total",
			Help:      "Websocket sessions accepted.",
		}),
		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "bytes_total",
			Help:      "Bytes relayed between client and unit.",
		}, []string{"direction"}),
	}
	reg.MustRegister(m.Clients, m.Sessions, m.Bytes)
	return m
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
