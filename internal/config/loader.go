// Package config loads service configuration from an optional YAML file
// overlaid by environment variables. Environment values win over file values;
// defaults apply when neither is set.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime configuration of the booking service.
type Config struct {
	HTTPPort  int
	SQLiteDSN string

	// AMQPURL is the RabbitMQ endpoint for booking events. Empty disables
	// the publisher; events are then logged only.
	AMQPURL    string
	EventQueue string

	// LockTimeout bounds the wait for a room's admission boundary before
	// the caller receives a busy result.
	LockTimeout time.Duration

	// MaxOccurrences is the hard ceiling on recurrence expansion.
	MaxOccurrences int

	AvailabilityCacheTTL  time.Duration
	AvailabilityCacheSize int
}

// fileConfig is the YAML shape of the optional config file. Durations are
// written as Go duration strings ("30s", "5m").
type fileConfig struct {
	HTTPPort              *int    `yaml:"http_port"`
	SQLiteDSN             *string `yaml:"sqlite_dsn"`
	AMQPURL               *string `yaml:"amqp_url"`
	EventQueue            *string `yaml:"event_queue"`
	LockTimeout           *string `yaml:"lock_timeout"`
	MaxOccurrences        *int    `yaml:"max_occurrences"`
	AvailabilityCacheTTL  *string `yaml:"availability_cache_ttl"`
	AvailabilityCacheSize *int    `yaml:"availability_cache_size"`
}

func (c *Config) applyFile(fc fileConfig) error {
	if fc.HTTPPort != nil {
		c.HTTPPort = *fc.HTTPPort
	}
	if fc.SQLiteDSN != nil {
		c.SQLiteDSN = *fc.SQLiteDSN
	}
	if fc.AMQPURL != nil {
		c.AMQPURL = *fc.AMQPURL
	}
	if fc.EventQueue != nil {
		c.EventQueue = *fc.EventQueue
	}
	if fc.LockTimeout != nil {
		timeout, err := time.ParseDuration(*fc.LockTimeout)
		if err != nil {
			return fmt.Errorf("lock_timeout: %w", err)
		}
		c.LockTimeout = timeout
	}
	if fc.MaxOccurrences != nil {
		c.MaxOccurrences = *fc.MaxOccurrences
	}
	if fc.AvailabilityCacheTTL != nil {
		ttl, err := time.ParseDuration(*fc.AvailabilityCacheTTL)
		if err != nil {
			return fmt.Errorf("availability_cache_ttl: %w", err)
		}
		c.AvailabilityCacheTTL = ttl
	}
	if fc.AvailabilityCacheSize != nil {
		c.AvailabilityCacheSize = *fc.AvailabilityCacheSize
	}
	return nil
}

func defaults() Config {
	return Config{
		HTTPPort:              8080,
		SQLiteDSN:             "file:roombook.db?_pragma=foreign_keys(1)",
		EventQueue:            "booking.events",
		LockTimeout:           5 * time.Second,
		MaxOccurrences:        366,
		AvailabilityCacheTTL:  30 * time.Second,
		AvailabilityCacheSize: 512,
	}
}

// Load parses configuration from ROOMBOOK_CONFIG (when set, a YAML file) and
// the process environment, validating every value and reporting all missing
// or invalid entries at once.
func Load() (Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("ROOMBOOK_CONFIG")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := cfg.applyFile(fc); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	invalid := make([]string, 0, 2)

	if portValue := strings.TrimSpace(os.Getenv("ROOMBOOK_HTTP_PORT")); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 {
			invalid = append(invalid, "ROOMBOOK_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if dsn := strings.TrimSpace(os.Getenv("ROOMBOOK_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	if url := strings.TrimSpace(os.Getenv("ROOMBOOK_AMQP_URL")); url != "" {
		cfg.AMQPURL = url
	}

	if queue := strings.TrimSpace(os.Getenv("ROOMBOOK_EVENT_QUEUE")); queue != "" {
		cfg.EventQueue = queue
	}

	if value := strings.TrimSpace(os.Getenv("ROOMBOOK_LOCK_TIMEOUT")); value != "" {
		timeout, err := time.ParseDuration(value)
		if err != nil || timeout <= 0 {
			invalid = append(invalid, "ROOMBOOK_LOCK_TIMEOUT")
		} else {
			cfg.LockTimeout = timeout
		}
	}

	if value := strings.TrimSpace(os.Getenv("ROOMBOOK_MAX_OCCURRENCES")); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit <= 0 {
			invalid = append(invalid, "ROOMBOOK_MAX_OCCURRENCES")
		} else {
			cfg.MaxOccurrences = limit
		}
	}

	if value := strings.TrimSpace(os.Getenv("ROOMBOOK_AVAILABILITY_CACHE_TTL")); value != "" {
		ttl, err := time.ParseDuration(value)
		if err != nil || ttl <= 0 {
			invalid = append(invalid, "ROOMBOOK_AVAILABILITY_CACHE_TTL")
		} else {
			cfg.AvailabilityCacheTTL = ttl
		}
	}

	if value := strings.TrimSpace(os.Getenv("ROOMBOOK_AVAILABILITY_CACHE_SIZE")); value != "" {
		size, err := strconv.Atoi(value)
		if err != nil || size <= 0 {
			invalid = append(invalid, "ROOMBOOK_AVAILABILITY_CACHE_SIZE")
		} else {
			cfg.AvailabilityCacheSize = size
		}
	}

	if cfg.HTTPPort <= 0 || cfg.MaxOccurrences <= 0 || cfg.LockTimeout <= 0 ||
		cfg.AvailabilityCacheTTL <= 0 || cfg.AvailabilityCacheSize <= 0 {
		invalid = append(invalid, "ROOMBOOK_CONFIG")
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid configuration values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}
