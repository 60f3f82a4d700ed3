// Package config loads the settings of the padlock binary from YAML or JSON.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	pderrors "github.com/mirkobrombin/go-padlock/v1/errors"
)

// Format names a configuration encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Bus drivers.
const (
	BusMemory = "memory"
	BusRedis  = "redis"
	BusNATS   = "nats"
	BusKafka  = "kafka"
)

// Config holds every setting of the binary.
type Config struct {
	LogLevel string  `koanf:"log_level"`
	Lock     Lock    `koanf:"lock"`
	Bus      Bus     `koanf:"bus"`
	Metrics  Metrics `koanf:"metrics"`
	Trace    Trace   `koanf:"trace"`
}

// Lock configures the demo lock.
type Lock struct {
	Name             string `koanf:"name"`
	DefaultTimeoutMS int    `koanf:"default_timeout_ms"`
}

// DefaultTimeout returns DefaultTimeoutMS as a duration.
func (l Lock) DefaultTimeout() time.Duration {
	return time.Duration(l.DefaultTimeoutMS) * time.Millisecond
}

// Bus selects and configures the event bus.
type Bus struct {
	Driver       string   `koanf:"driver"`
	RedisAddr    string   `koanf:"redis_addr"`
	NATSURL      string   `koanf:"nats_url"`
	KafkaBrokers []string `koanf:"kafka_brokers"`

	// BreakerThreshold is the number of consecutive publish failures that
	// open the circuit. Zero disables the breaker.
	BreakerThreshold  int `koanf:"breaker_threshold"`
	BreakerCooldownMS int `koanf:"breaker_cooldown_ms"`
}

// Metrics configures the HTTP listener for /metrics and event streams.
type Metrics struct {
	Addr string `koanf:"addr"`
}

// Trace configures span export.
type Trace struct {
	Stdout bool `koanf:"stdout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Lock: Lock{
			Name: "padlock",
		},
		Bus: Bus{
			Driver:            BusMemory,
			RedisAddr:         "localhost:6379",
			NATSURL:           "nats://127.0.0.1:4222",
			KafkaBrokers:      []string{"localhost:9092"},
			BreakerThreshold:  5,
			BreakerCooldownMS: 5000,
		},
	}
}

// Load reads path over the defaults. The format follows the file extension.
func Load(path string) (Config, error) {
	format, err := detectFormat(path)
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return LoadBytes(data, format)
}

// LoadBytes decodes data over the defaults.
func LoadBytes(data []byte, format Format) (Config, error) {
	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return Config{}, fmt.Errorf("%w: %s", pderrors.ErrUnsupportedFormat, format)
	}

	k := koanf.New(".")
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), parser); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg := Default()
	if k.Exists("bus.kafka_brokers") {
		// slices decode element-wise over the existing value
		cfg.Bus.KafkaBrokers = nil
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	switch c.Bus.Driver {
	case BusMemory, BusRedis, BusNATS, BusKafka:
	default:
		return fmt.Errorf("%w: %q", pderrors.ErrUnknownBus, c.Bus.Driver)
	}
	if c.Lock.DefaultTimeoutMS < 0 {
		return fmt.Errorf("lock.default_timeout_ms must not be negative")
	}
	return nil
}

func detectFormat(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: extension %q", pderrors.ErrUnsupportedFormat, ext)
	}
}
