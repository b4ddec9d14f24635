// Package config loads the service configuration from an optional YAML file
// and environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors the YAML layout. Durations are written as Go duration
// strings ("30s", "5m").
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Database struct {
		Path    string        `yaml:"path"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"database"`

	// Redis backs the product cache. An empty Addr keeps the cache in memory.
	Redis struct {
		Addr string        `yaml:"addr"`
		TTL  time.Duration `yaml:"ttl"`
	} `yaml:"redis"`

	// Kafka receives outbox events. No brokers means events are only logged.
	Kafka struct {
		Brokers []string          `yaml:"brokers"`
		Topics  map[string]string `yaml:"topics"`
	} `yaml:"kafka"`

	Raffle struct {
		Interval       time.Duration `yaml:"interval"`
		Workers        int           `yaml:"workers"`
		MaxAttempts    int           `yaml:"max_attempts"`
		RetryBackoff   time.Duration `yaml:"retry_backoff"`
		ReservationTTL time.Duration `yaml:"reservation_ttl"`
	} `yaml:"raffle"`

	Outbox struct {
		Interval    time.Duration `yaml:"interval"`
		BatchSize   int           `yaml:"batch_size"`
		MaxAttempts int           `yaml:"max_attempts"`
	} `yaml:"outbox"`

	Payment struct {
		// DeclineRate is the share of charges the mocked gateway declines.
		DeclineRate float64 `yaml:"decline_rate"`
		// Timeout bounds one charge. It must be shorter than
		// raffle.reservation_ttl so the stale sweep never releases a unit
		// whose charge is still running.
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"payment"`

	Log struct {
		Name       string `yaml:"name"`
		File       string `yaml:"file"`
		Verbose    bool   `yaml:"verbose"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	c := &Config{}
	c.Server.Addr = ":8080"
	c.Database.Path = "raffle.db"
	c.Database.Timeout = time.Second
	c.Redis.TTL = 5 * time.Minute
	c.Kafka.Topics = map[string]string{}
	c.Raffle.Interval = time.Minute
	c.Raffle.Workers = 8
	c.Raffle.MaxAttempts = 3
	c.Raffle.RetryBackoff = 200 * time.Millisecond
	c.Raffle.ReservationTTL = 10 * time.Minute
	c.Outbox.Interval = time.Second
	c.Payment.Timeout = 30 * time.Second
	c.Outbox.BatchSize = 100
	c.Outbox.MaxAttempts = 10
	c.Log.Name = "raffle"
	c.Log.MaxSizeMB = 100
	c.Log.MaxBackups = 7
	c.Log.MaxAgeDays = 14
	return c
}

// Load reads the file named by RAFFLE_CONFIG (if set) and applies the
// RAFFLE_* environment overrides.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv("RAFFLE_CONFIG"), os.LookupEnv)
}

// LoadFrom is Load with an explicit file path and environment lookup.
func LoadFrom(path string, lookup func(string) (string, bool)) (*Config, error) {
	c := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := c.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("RAFFLE_HTTP_ADDR"); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := lookup("RAFFLE_DB_PATH"); ok && v != "" {
		c.Database.Path = v
	}
	if v, ok := lookup("RAFFLE_REDIS_ADDR"); ok {
		c.Redis.Addr = strings.TrimSpace(v)
	}
	if v, ok := lookup("RAFFLE_KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup("RAFFLE_LOG_FILE"); ok {
		c.Log.File = strings.TrimSpace(v)
	}
	if v, ok := lookup("RAFFLE_LOG_VERBOSE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RAFFLE_LOG_VERBOSE: %w", err)
		}
		c.Log.Verbose = b
	}
	if v, ok := lookup("RAFFLE_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RAFFLE_INTERVAL: %w", err)
		}
		c.Raffle.Interval = d
	}
	return nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Server.Addr == "":
		return fmt.Errorf("server.addr must be set")
	case c.Database.Path == "":
		return fmt.Errorf("database.path must be set")
	case c.Raffle.Interval <= 0:
		return fmt.Errorf("raffle.interval must be positive")
	case c.Raffle.Workers <= 0:
		return fmt.Errorf("raffle.workers must be positive")
	case c.Raffle.MaxAttempts <= 0:
		return fmt.Errorf("raffle.max_attempts must be positive")
	case c.Raffle.ReservationTTL <= 0:
		return fmt.Errorf("raffle.reservation_ttl must be positive")
	case c.Outbox.Interval <= 0 || c.Outbox.BatchSize <= 0 || c.Outbox.MaxAttempts <= 0:
		return fmt.Errorf("outbox interval, batch_size and max_attempts must be positive")
	case c.Payment.DeclineRate < 0 || c.Payment.DeclineRate > 1:
		return fmt.Errorf("payment.decline_rate must be between 0 and 1")
	case c.Payment.Timeout <= 0:
		return fmt.Errorf("payment.timeout must be positive")
	case c.Payment.Timeout >= c.Raffle.ReservationTTL:
		return fmt.Errorf("payment.timeout (%s) must be shorter than raffle.reservation_ttl (%s)", c.Payment.Timeout, c.Raffle.ReservationTTL)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
