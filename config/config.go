// Package config holds the relay settings. Values start from DefaultConfig
// and are overridden by TRYCP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Host     string `env:"TRYCP_HOST"`
	Balancer string `env:"TRYCP_BALANCER"` // round_robin or weighted_random
	Logger   LoggerConfig
	Call     CallConfig
	Etcd     EtcdConfig
}

type LoggerConfig struct {
	Level      string `env:"TRYCP_LOG_LEVEL"`
	Format     string `env:"TRYCP_LOG_FORMAT"` // json or console
	Output     string `env:"TRYCP_LOG_OUTPUT"` // stderr, stdout or file
	FilePath   string `env:"TRYCP_LOG_FILE"`
	MaxSize    int    `env:"TRYCP_LOG_MAX_SIZE"` // megabytes
	MaxBackups int    `env:"TRYCP_LOG_MAX_BACKUPS"`
	MaxAge     int    `env:"TRYCP_LOG_MAX_AGE"` // days
	Compress   bool   `env:"TRYCP_LOG_COMPRESS"`
	Stacktrace bool   `env:"TRYCP_LOG_STACKTRACE"`
}

type CallConfig struct {
	Timeout   time.Duration `env:"TRYCP_CALL_TIMEOUT"`
	Heartbeat time.Duration `env:"TRYCP_HEARTBEAT"`  // 0 disables pings
	RateLimit float64       `env:"TRYCP_RATE_LIMIT"` // calls per second, 0 means unlimited
	RateBurst int           `env:"TRYCP_RATE_BURST"`
}

type EtcdConfig struct {
	Endpoints []string `env:"TRYCP_ETCD_ENDPOINTS" envSeparator:","`
}

func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Balancer: "round_robin",
		Logger: LoggerConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
		Call: CallConfig{
			Timeout:   30 * time.Second,
			Heartbeat: 30 * time.Second,
			RateBurst: 1,
		},
	}
}

// Load returns DefaultConfig overridden by the environment.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Balancer {
	case "round_robin", "weighted_random":
	default:
		return fmt.Errorf("unknown TRYCP_BALANCER %q", c.Balancer)
	}
	if c.Call.Timeout < 0 {
		return fmt.Errorf("TRYCP_CALL_TIMEOUT must not be negative, got %s", c.Call.Timeout)
	}
	if c.Call.Heartbeat < 0 {
		return fmt.Errorf("TRYCP_HEARTBEAT must not be negative, got %s", c.Call.Heartbeat)
	}
	if c.Call.RateLimit < 0 {
		return fmt.Errorf("TRYCP_RATE_LIMIT must not be negative, got %v", c.Call.RateLimit)
	}
	if c.Call.RateLimit > 0 && c.Call.RateBurst < 1 {
		return fmt.Errorf("TRYCP_RATE_BURST must be at least 1 when a rate limit is set, got %d", c.Call.RateBurst)
	}
	if c.Logger.Output == "file" && c.Logger.FilePath == "" {
		return errors.New("TRYCP_LOG_FILE is required when TRYCP_LOG_OUTPUT=file")
	}
	return nil
}
