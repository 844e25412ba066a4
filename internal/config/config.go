// Package config loads the medianode daemon's configuration via viper,
// following the same SetDefault cascade, mapstructure tags, and
// file-then-env-then-flag precedence as the teacher's own config package.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the medianode daemon configuration.
type Config struct {
	// Node runtime
	NodeHandle   string        `mapstructure:"node-handle"`
	PollCapacity int           `mapstructure:"poll-capacity"`
	IdleTimeout  time.Duration `mapstructure:"idle-timeout"`

	// Element listener
	ElementHost      string `mapstructure:"element-host"`
	ElementPort      int    `mapstructure:"element-port"`
	ElementMaxInput  int    `mapstructure:"element-max-input"`
	ElementMaxOutput int    `mapstructure:"element-max-output"`

	// gRPC status/health plane
	GRPCHost string `mapstructure:"grpc-host"`
	GRPCPort int    `mapstructure:"grpc-port"`

	// Prometheus metrics
	MetricsHost string `mapstructure:"metrics-host"`
	MetricsPort int    `mapstructure:"metrics-port"`

	// Logging
	LogLevel string `mapstructure:"log-level"`
}

// Load reads configuration from cfgFile (if given), an optional
// /etc/marchproxy/medianode.yaml or ./medianode.yaml, and MEDIANODE_*
// environment variables, in that precedence order.
func Load(cfgFile string) (*Config, error) {
	viper.SetDefault("node-handle", "medianode-0")
	viper.SetDefault("poll-capacity", 16)
	viper.SetDefault("idle-timeout", 3*time.Second)

	viper.SetDefault("element-host", "0.0.0.0")
	viper.SetDefault("element-port", 9935)
	viper.SetDefault("element-max-input", 8)
	viper.SetDefault("element-max-output", 8)

	viper.SetDefault("grpc-host", "0.0.0.0")
	viper.SetDefault("grpc-port", 50060)

	viper.SetDefault("metrics-host", "0.0.0.0")
	viper.SetDefault("metrics-port", 9095)

	viper.SetDefault("log-level", "info")

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("medianode")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/marchproxy/")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("MEDIANODE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the loaded configuration for obviously invalid values.
func (c *Config) Validate() error {
	if c.NodeHandle == "" {
		return fmt.Errorf("node-handle must not be empty")
	}
	if c.PollCapacity < 1 {
		return fmt.Errorf("poll-capacity must be at least 1, got %d", c.PollCapacity)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle-timeout must be positive, got %s", c.IdleTimeout)
	}
	if c.ElementPort < 1 || c.ElementPort > 65535 {
		return fmt.Errorf("invalid element-port: %d", c.ElementPort)
	}
	if c.ElementMaxInput < 0 || c.ElementMaxOutput < 0 {
		return fmt.Errorf("element-max-input/element-max-output must not be negative")
	}
	if c.ElementMaxInput+c.ElementMaxOutput == 0 {
		return fmt.Errorf("element must have at least one input or output port")
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid grpc-port: %d", c.GRPCPort)
	}
	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics-port: %d", c.MetricsPort)
	}
	if _, err := parseLevelName(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func parseLevelName(level string) (string, error) {
	switch level {
	case "debug", "info", "warn", "error", "fatal", "panic", "trace":
		return level, nil
	default:
		return "", fmt.Errorf("invalid log-level: %s", level)
	}
}
