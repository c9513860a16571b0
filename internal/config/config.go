// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

// Package config loads TaskPulse configuration from defaults, an optional YAML
// file and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Bus drivers.
const (
	DriverPostgres = "postgres"
	DriverMQTT     = "mqtt"
	DriverMemory   = "memory"
)

// Environment variables consulted when the matching key is unset.
const (
	EnvDatabaseURL = "DATABASE_URL"
	EnvJWTSecret   = "TASKPULSE_JWT_SECRET"
	EnvMQTTBroker  = "TASKPULSE_MQTT_BROKER"
)

// Config is the full service configuration.
type Config struct {
	Log       LogConfig      `koanf:"log"`
	HTTP      HTTPConfig     `koanf:"http"`
	Metrics   MetricsConfig  `koanf:"metrics"`
	Database  DatabaseConfig `koanf:"database"`
	Auth      AuthConfig     `koanf:"auth"`
	Bus       BusConfig      `koanf:"bus"`
	Realtime  RealtimeConfig `koanf:"realtime"`
	Reminders ReminderConfig `koanf:"reminders"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// HTTPConfig controls the API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// MetricsConfig controls the observability listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret"`
	CacheTTL  time.Duration `koanf:"cache_ttl"`
	Leeway    time.Duration `koanf:"leeway"`
}

// BusConfig selects and tunes the pub/sub bus.
type BusConfig struct {
	Driver           string        `koanf:"driver"`
	PublishRetries   int           `koanf:"publish_retries"`
	ReconnectInitial time.Duration `koanf:"reconnect_initial"`
	ReconnectMax     time.Duration `koanf:"reconnect_max"`
	BufferSize       int           `koanf:"buffer_size"`
	MQTT             MQTTConfig    `koanf:"mqtt"`
}

// MQTTConfig configures the MQTT bus driver.
type MQTTConfig struct {
	Broker   string        `koanf:"broker"`
	ClientID string        `koanf:"client_id"`
	QoS      int           `koanf:"qos"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	Timeout  time.Duration `koanf:"timeout"`
}

// RealtimeConfig tunes client sessions.
type RealtimeConfig struct {
	SendBuffer     int           `koanf:"send_buffer"`
	MaxMessageSize int64         `koanf:"max_message_size"`
	PingPeriod     time.Duration `koanf:"ping_period"`
	PongWait       time.Duration `koanf:"pong_wait"`
	WriteWait      time.Duration `koanf:"write_wait"`
	RateLimit      float64       `koanf:"rate_limit"`
	RateBurst      int           `koanf:"rate_burst"`
}

// ReminderConfig controls the due-task reminder job.
type ReminderConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Schedule string `koanf:"schedule"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log:     LogConfig{Format: "json", Level: "info"},
		HTTP:    HTTPConfig{Addr: ":8000", ShutdownTimeout: 5 * time.Second},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Auth:    AuthConfig{CacheTTL: time.Minute, Leeway: 30 * time.Second},
		Bus: BusConfig{
			Driver:           DriverPostgres,
			PublishRetries:   3,
			ReconnectInitial: 100 * time.Millisecond,
			ReconnectMax:     30 * time.Second,
			BufferSize:       256,
			MQTT: MQTTConfig{
				ClientID: "taskpulse",
				QoS:      0,
				Timeout:  10 * time.Second,
			},
		},
		Realtime: RealtimeConfig{
			SendBuffer:     256,
			MaxMessageSize: 4096,
			PingPeriod:     54 * time.Second,
			PongWait:       60 * time.Second,
			WriteWait:      10 * time.Second,
			RateLimit:      10,
			RateBurst:      20,
		},
		Reminders: ReminderConfig{Enabled: true, Schedule: "0 7 * * *"},
	}
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"log-format":            "log.format",
	"log-level":             "log.level",
	"http-addr":             "http.addr",
	"http-shutdown-timeout": "http.shutdown_timeout",
	"metrics-addr":          "metrics.addr",
	"auth-token-cache-ttl":  "auth.cache_ttl",
	"auth-leeway":           "auth.leeway",
	"bus-driver":            "bus.driver",
	"bus-publish-retries":   "bus.publish_retries",
	"bus-reconnect-initial": "bus.reconnect_initial",
	"bus-reconnect-max":     "bus.reconnect_max",
	"bus-buffer-size":       "bus.buffer_size",
	"mqtt-broker":           "bus.mqtt.broker",
	"mqtt-client-id":        "bus.mqtt.client_id",
	"mqtt-qos":              "bus.mqtt.qos",
	"realtime-send-buffer":  "realtime.send_buffer",
	"realtime-max-message":  "realtime.max_message_size",
	"realtime-ping-period":  "realtime.ping_period",
	"realtime-pong-wait":    "realtime.pong_wait",
	"realtime-write-wait":   "realtime.write_wait",
	"realtime-rate-limit":   "realtime.rate_limit",
	"realtime-rate-burst":   "realtime.rate_burst",
	"reminders-enabled":     "reminders.enabled",
	"reminders-schedule":    "reminders.schedule",
}

// RegisterFlags adds the serve flags to fs with defaults taken from Default().
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("http-addr", d.HTTP.Addr, "API listen address")
	fs.Duration("http-shutdown-timeout", d.HTTP.ShutdownTimeout, "graceful shutdown timeout")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.Duration("auth-token-cache-ttl", d.Auth.CacheTTL, "how long verified tokens are cached")
	fs.Duration("auth-leeway", d.Auth.Leeway, "clock skew allowed when validating tokens")
	fs.String("bus-driver", d.Bus.Driver, "pub/sub bus driver (postgres, mqtt or memory)")
	fs.Int("bus-publish-retries", d.Bus.PublishRetries, "publish attempts before reporting the broker unavailable")
	fs.Duration("bus-reconnect-initial", d.Bus.ReconnectInitial, "initial broker reconnect delay")
	fs.Duration("bus-reconnect-max", d.Bus.ReconnectMax, "maximum broker reconnect delay")
	fs.Int("bus-buffer-size", d.Bus.BufferSize, "per-topic inbound buffer")
	fs.String("mqtt-broker", d.Bus.MQTT.Broker, "MQTT broker URL, e.g. tcp://localhost:1883")
	fs.String("mqtt-client-id", d.Bus.MQTT.ClientID, "MQTT client ID prefix")
	fs.Int("mqtt-qos", d.Bus.MQTT.QoS, "MQTT QoS level (0, 1 or 2)")
	fs.Int("realtime-send-buffer", d.Realtime.SendBuffer, "per-session outbound queue length")
	fs.Int64("realtime-max-message", d.Realtime.MaxMessageSize, "maximum inbound client message size in bytes")
	fs.Duration("realtime-ping-period", d.Realtime.PingPeriod, "interval between keepalive pings")
	fs.Duration("realtime-pong-wait", d.Realtime.PongWait, "time allowed to read the next pong")
	fs.Duration("realtime-write-wait", d.Realtime.WriteWait, "time allowed to write a frame")
	fs.Float64("realtime-rate-limit", d.Realtime.RateLimit, "inbound client messages per second")
	fs.Int("realtime-rate-burst", d.Realtime.RateBurst, "inbound client message burst")
	fs.Bool("reminders-enabled", d.Reminders.Enabled, "run the due-task reminder job")
	fs.String("reminders-schedule", d.Reminders.Schedule, "cron schedule for the reminder job")
}

// Load builds a Config. Values come from, in increasing priority: flag
// defaults, the YAML file at path (skipped when empty), and flags set on the
// command line. Unset secrets are then filled from the environment.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "unmarshal").Wrap(err)
	}

	applyEnv(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv(EnvDatabaseURL)
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = os.Getenv(EnvJWTSecret)
	}
	if cfg.Bus.MQTT.Broker == "" {
		cfg.Bus.MQTT.Broker = os.Getenv(EnvMQTTBroker)
	}
}

// minSecretLength is the shortest accepted HS256 signing secret.
const minSecretLength = 32

// Validate checks that the configuration is usable by the serve command.
func (c *Config) Validate() error {
	var errs []error

	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if len(c.Auth.JWTSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least %d characters (set %s)", minSecretLength, EnvJWTSecret))
	}
	if c.Database.URL == "" {
		errs = append(errs, fmt.Errorf("database.url is required (set %s)", EnvDatabaseURL))
	}

	switch c.Bus.Driver {
	case DriverPostgres, DriverMemory:
	case DriverMQTT:
		if c.Bus.MQTT.Broker == "" {
			errs = append(errs, fmt.Errorf("bus.mqtt.broker is required for the mqtt driver (set %s)", EnvMQTTBroker))
		}
		if c.Bus.MQTT.QoS < 0 || c.Bus.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("bus.mqtt.qos must be 0, 1 or 2, got %d", c.Bus.MQTT.QoS))
		}
	default:
		errs = append(errs, fmt.Errorf("bus.driver must be one of postgres, mqtt, memory, got %q", c.Bus.Driver))
	}
	if c.Bus.PublishRetries < 0 {
		errs = append(errs, errors.New("bus.publish_retries must not be negative"))
	}
	if c.Bus.BufferSize <= 0 {
		errs = append(errs, errors.New("bus.buffer_size must be positive"))
	}
	if c.Bus.ReconnectInitial <= 0 || c.Bus.ReconnectMax < c.Bus.ReconnectInitial {
		errs = append(errs, errors.New("bus.reconnect_initial must be positive and not exceed bus.reconnect_max"))
	}

	if c.Realtime.SendBuffer <= 0 {
		errs = append(errs, errors.New("realtime.send_buffer must be positive"))
	}
	if c.Realtime.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("realtime.max_message_size must be positive"))
	}
	if c.Realtime.PingPeriod <= 0 || c.Realtime.PingPeriod >= c.Realtime.PongWait {
		errs = append(errs, errors.New("realtime.ping_period must be positive and shorter than realtime.pong_wait"))
	}
	if c.Realtime.RateLimit <= 0 || c.Realtime.RateBurst <= 0 {
		errs = append(errs, errors.New("realtime.rate_limit and realtime.rate_burst must be positive"))
	}

	if c.Reminders.Enabled && c.Reminders.Schedule == "" {
		errs = append(errs, errors.New("reminders.schedule is required when reminders are enabled"))
	}

	if len(errs) > 0 {
		return oops.Code("CONFIG_INVALID").Wrap(errors.Join(errs...))
	}
	return nil
}
