// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/stimctl/internal/bridge"
	"github.com/Thermoquad/stimctl/internal/metrics"
)

var bridgeAddr string

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Share a local unit over WebSocket",
	Long: `Serve the local serial port (or a simulated unit with --virtual) to one
remote stimctl client at a time.

Clients connect with --url ws://host:port/ws. When --username is given the
bridge requires HTTP Basic auth; the password is read from STIMCTL_PASSWORD or
prompted for.

Also served: /healthz, /status and, when metrics are enabled, /metrics.`,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	bridgeCmd.Flags().StringVar(&bridgeAddr, "listen", "", "Listen address (default from http.addr)")
}

func runBridge(cmd *cobra.Command, args []string) error {
	if bridgeAddr != "" {
		cfg.HTTP.Addr = bridgeAddr
	}

	// The bridge serves its own port; --url would point at another bridge.
	cfg.Device.URL = ""
	t, dev, info, err := OpenTransport(bridge.PollInterval)
	if err != nil {
		return err
	}
	defer t.Close()

	password := ""
	if cfg.Device.Username != "" {
		if password, err = GetPassword(); err != nil {
			return err
		}
	}

	opts := bridge.Options{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		Username:     cfg.Device.Username,
		Password:     password,
		Logger:       logger,
		MetricsPath:  cfg.Metrics.Path,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reg *prometheus.Registry
	if cfg.Metrics.Enable {
		reg = metrics.NewRegistry()
		opts.Registry = reg
	}
	if dev != nil {
		opts.Status = func() any { return dev.Snapshot() }
		if reg != nil {
			dm := metrics.NewDeviceMetrics(reg)
			go func() {
				ticker := time.NewTicker(time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						dm.ObserveSnapshot(dev.Snapshot())
					}
				}
			}()
		}
	}

	srv := bridge.New(t, opts)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	fmt.Printf("stimctl bridge\n")
	fmt.Printf("Connection: %s\n", info)
	fmt.Printf("Listening:  %s\n", cfg.HTTP.Addr)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("bridge shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("bridge shutdown", zap.Error(err))
	}
	return nil
}
