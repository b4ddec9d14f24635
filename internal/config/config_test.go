package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func env(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	c, err := LoadFrom("", env(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Server.Addr != ":8080" || c.Raffle.Workers != 8 || c.Redis.Addr != "" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raffle.yaml")
	body := `
server:
  addr: ":9090"
raffle:
  interval: 30s
  workers: 2
kafka:
  brokers: ["k1:9092"]
  topics:
    order.created: raffle.orders
payment:
  decline_rate: 0.25
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	c, err := LoadFrom(path, env(map[string]string{
		"RAFFLE_DB_PATH":       "/tmp/x.db",
		"RAFFLE_KAFKA_BROKERS": "a:1, b:2",
		"RAFFLE_LOG_VERBOSE":   "true",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Server.Addr != ":9090" {
		t.Errorf("expected addr from file, got %q", c.Server.Addr)
	}
	if c.Raffle.Interval != 30*time.Second || c.Raffle.Workers != 2 {
		t.Errorf("unexpected raffle section: %+v", c.Raffle)
	}
	if c.Raffle.MaxAttempts != 3 {
		t.Errorf("expected default max attempts to survive, got %d", c.Raffle.MaxAttempts)
	}
	if c.Database.Path != "/tmp/x.db" {
		t.Errorf("expected env db path, got %q", c.Database.Path)
	}
	if len(c.Kafka.Brokers) != 2 || c.Kafka.Brokers[1] != "b:2" {
		t.Errorf("expected env brokers, got %v", c.Kafka.Brokers)
	}
	if c.Kafka.Topics["order.created"] != "raffle.orders" {
		t.Errorf("expected topic mapping, got %v", c.Kafka.Topics)
	}
	if !c.Log.Verbose || c.Payment.DeclineRate != 0.25 {
		t.Errorf("unexpected log/payment: %+v %+v", c.Log, c.Payment)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no workers", func(c *Config) { c.Raffle.Workers = 0 }},
		{"no attempts", func(c *Config) { c.Raffle.MaxAttempts = 0 }},
		{"bad decline rate", func(c *Config) { c.Payment.DeclineRate = 1.5 }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"no payment timeout", func(c *Config) { c.Payment.Timeout = 0 }},
		{"payment timeout outlives reservations", func(c *Config) {
			c.Raffle.ReservationTTL = time.Minute
			c.Payment.Timeout = time.Minute
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	if _, err := LoadFrom("", env(map[string]string{"RAFFLE_INTERVAL": "soon"})); err == nil {
		t.Fatal("expected error for bad interval")
	}
}
