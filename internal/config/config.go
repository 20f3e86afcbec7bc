// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads stimctl settings from a YAML file, STIMCTL_
// environment variables and built-in defaults, in decreasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, with dots in the
// key replaced by underscores (STIMCTL_LINK_READTIMEOUT).
const EnvPrefix = "STIMCTL"

// DeviceConfig selects the unit and how to reach it.
type DeviceConfig struct {
	Model    string `mapstructure:"model"`
	Port     string `mapstructure:"port"`
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Virtual  bool   `mapstructure:"virtual"`
}

// RapidConfig holds the Rapid² settings that are not reported by the unit.
type RapidConfig struct {
	Type                int    `mapstructure:"type"`
	Voltage             int    `mapstructure:"voltage"`
	UnlockCode          string `mapstructure:"unlockCode"`
	EnforceEnergySafety bool   `mapstructure:"enforceEnergySafety"`
	EnforceMinWait      bool   `mapstructure:"enforceMinWait"`
	SystemInfoFile      string `mapstructure:"systemInfoFile"`
}

// VirtualConfig configures the simulated unit.
type VirtualConfig struct {
	Version string `mapstructure:"version"`
}

// LinkConfig tunes the serial link.
type LinkConfig struct {
	ReadTimeout        time.Duration `mapstructure:"readTimeout"`
	WriteTimeout       time.Duration `mapstructure:"writeTimeout"`
	MaxFramesPerSecond float64       `mapstructure:"maxFramesPerSecond"`
	TraceFile          string        `mapstructure:"traceFile"`
}

// HeartbeatConfig sets the keep-alive intervals.
type HeartbeatConfig struct {
	ArmedInterval    time.Duration `mapstructure:"armedInterval"`
	DisarmedInterval time.Duration `mapstructure:"disarmedInterval"`
}

// LumberjackConfig configures log file rotation.
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig sets level, format and the optional log file.
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// HTTPConfig configures the bridge server.
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// Config is the top-level configuration.
type Config struct {
	Device    DeviceConfig    `mapstructure:"device"`
	Rapid     RapidConfig     `mapstructure:"rapid"`
	Virtual   VirtualConfig   `mapstructure:"virtual"`
	Link      LinkConfig      `mapstructure:"link"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// Load reads path, or STIMCTL_CONFIG when path is empty. A missing file is
// not an error when neither was given; defaults and the environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("stimctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(home + "/stimctl")
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device.model", "rapid")
	v.SetDefault("device.port", "")
	v.SetDefault("device.url", "")
	v.SetDefault("device.username", "")
	v.SetDefault("device.virtual", false)

	v.SetDefault("rapid.type", 0)
	v.SetDefault("rapid.voltage", 240)
	v.SetDefault("rapid.unlockCode", "")
	v.SetDefault("rapid.enforceEnergySafety", true)
	v.SetDefault("rapid.enforceMinWait", false)
	v.SetDefault("rapid.systemInfoFile", "")

	v.SetDefault("virtual.version", "5.0.0")

	v.SetDefault("link.readTimeout", "300ms")
	v.SetDefault("link.writeTimeout", "300ms")
	v.SetDefault("link.maxFramesPerSecond", 0)
	v.SetDefault("link.traceFile", "")

	v.SetDefault("heartbeat.armedInterval", "500ms")
	v.SetDefault("heartbeat.disarmedInterval", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 50)
	v.SetDefault("logging.file.maxBackups", 5)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("http.addr", ":8090")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate rejects settings no unit accepts.
func (c *Config) Validate() error {
	switch c.Rapid.Voltage {
	case 115, 240:
	default:
		return fmt.Errorf("config: rapid.voltage must be 115 or 240, got %d", c.Rapid.Voltage)
	}
	if c.Rapid.Type < 0 || c.Rapid.Type > 2 {
		return fmt.Errorf("config: rapid.type must be 0-2, got %d", c.Rapid.Type)
	}
	if c.Link.ReadTimeout <= 0 || c.Link.WriteTimeout <= 0 {
		return errors.New("config: link timeouts must be positive")
	}
	if c.Link.MaxFramesPerSecond < 0 {
		return errors.New("config: link.maxFramesPerSecond must not be negative")
	}
	return nil
}
