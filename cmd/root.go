// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/stimctl/internal/config"
	"github.com/Thermoquad/stimctl/internal/logging"
)

var (
	configFile string

	// Serial connection flags
	portName string

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Unit selection
	modelName      string
	useVirtual     bool
	virtualVersion string

	logLevel  string
	traceFile string

	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "stimctl",
	Short: "Magstim stimulator control",
	Long: `stimctl - drive Magstim 200², BiStim² and Rapid² stimulators over their
serial remote-control port.

Connection modes:
  Serial:    --port /dev/ttyUSB0
  WebSocket: --url ws://host/ws [--username user]
  Virtual:   --virtual [--model rapid] [--virtual-version 9.0.0]

Settings are read from stimctl.yaml (or --config / STIMCTL_CONFIG) and may be
overridden with STIMCTL_ environment variables, e.g. STIMCTL_RAPID_VOLTAGE=115.

For WebSocket authentication, the password is read from the STIMCTL_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "Config file (default ./stimctl.yaml)")

	// Serial connection flags
	pf.StringVarP(&portName, "port", "p", "", "Serial port device")

	// WebSocket connection flags
	pf.StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	pf.StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	pf.BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	pf.StringVarP(&modelName, "model", "m", "", "Unit model: magstim, bistim or rapid")
	pf.BoolVar(&useVirtual, "virtual", false, "Talk to an in-process simulated unit")
	pf.StringVar(&virtualVersion, "virtual-version", "", "Software version reported by the simulated Rapid²")

	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&traceFile, "trace", "", "Record every frame to a CBOR trace file")
}

// setup loads configuration, lets flags override it and builds the logger.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Device.Port = portName
	}
	if flags.Changed("url") {
		cfg.Device.URL = wsURL
	}
	if flags.Changed("username") {
		cfg.Device.Username = wsUsername
	}
	if flags.Changed("model") {
		cfg.Device.Model = modelName
	}
	if flags.Changed("virtual") {
		cfg.Device.Virtual = useVirtual
	}
	if flags.Changed("virtual-version") {
		cfg.Virtual.Version = virtualVersion
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("trace") {
		cfg.Link.TraceFile = traceFile
	}

	logger, err = logging.InitLogger(cfg.Logging)
	return err
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
