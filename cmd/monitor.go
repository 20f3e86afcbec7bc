// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/stimctl/internal/metrics"
	"github.com/Thermoquad/stimctl/pkg/link"
)

var (
	monitorInterval    time.Duration
	monitorMetricsAddr string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for watching and controlling a unit",
	Long: `Hold remote control of a unit and show its state live.

Keys:
  a  arm          d  disarm
  f  fire         t  quick fire (control line)
  p  set power    q  quit

With --metrics-addr the link and device state are also exported for
Prometheus while the monitor runs.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", time.Second, "Status refresh interval")
	monitorCmd.Flags().StringVar(&monitorMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	var (
		observers []link.Observer
		devices   *metrics.DeviceMetrics
		srv       *http.Server
	)
	if monitorMetricsAddr != "" && cfg.Metrics.Enable {
		reg := metrics.NewRegistry()
		observers = append(observers, metrics.NewLinkMetrics(reg))
		devices = metrics.NewDeviceMetrics(reg)

		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metrics.Handler(reg))
		srv = &http.Server{Addr: monitorMetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	s, err := OpenSession(observers...)
	if err != nil {
		return err
	}
	defer s.Close()

	m := initialMonitorModel(s, devices, monitorInterval)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}
