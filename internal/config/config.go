// Package config loads and validates configuration for the logjam importer
// binaries from environment variables, with an optional .env file for local
// development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// SubscriberConfig holds configuration for the logjam-subscriber binary.
//
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type SubscriberConfig struct {
	// NumSubscribers is the number of subscriber actors (shards) to run.
	NumSubscribers int `env:"SUBSCRIBER_COUNT" envDefault:"4"`

	// Devices is a comma-separated list of upstream PUB endpoints to shard
	// across the subscriber actors. Empty means fall back to localhost.
	Devices string `env:"SUBSCRIBER_DEVICES" envDefault:""`

	// SubPort is the default device PUB port when no explicit devices are
	// configured.
	SubPort int `env:"SUBSCRIBER_SUB_PORT" envDefault:"9605"`

	// PullAddr is the external TCP address actor 0's PULL socket binds to.
	PullAddr string `env:"SUBSCRIBER_PULL_ADDR" envDefault:":9606"`

	// RouterAddr is the external TCP address actor 0's ROUTER socket binds to.
	RouterAddr string `env:"SUBSCRIBER_ROUTER_ADDR" envDefault:":9607"`

	// RcvHighWaterMark bounds the number of buffered inbound SUB messages.
	RcvHighWaterMark int `env:"SUBSCRIBER_RCV_HWM" envDefault:"10000"`

	// PushQueueDepth bounds the per-actor PUSH fan-out channel.
	PushQueueDepth int `env:"SUBSCRIBER_PUSH_QUEUE_DEPTH" envDefault:"1000"`

	// PushSendTimeout is the bounded send timeout on the PUSH fan-out that
	// converts head-of-line blocking into an observable drop.
	PushSendTimeout time.Duration `env:"SUBSCRIBER_PUSH_SEND_TIMEOUT" envDefault:"10ms"`

	// HeartbeatTicks is the number of ticks (1 tick = 1s) between stale
	// device reconnection sweeps.
	HeartbeatTicks int `env:"SUBSCRIBER_HEARTBEAT_TICKS" envDefault:"60"`

	// StaleThreshold is how long a device may go unseen before it is
	// considered stale and due for reconnection.
	StaleThreshold time.Duration `env:"SUBSCRIBER_STALE_THRESHOLD" envDefault:"60s"`

	// NatsURL is the backing PUB/SUB transport's connection URL.
	NatsURL string `env:"SUBSCRIBER_NATS_URL" envDefault:"nats://127.0.0.1:4222"`

	// MetricsAddr exposes /metrics (Prometheus) on actor 0.
	MetricsAddr string `env:"SUBSCRIBER_METRICS_ADDR" envDefault:":9608"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Validate checks the subscriber configuration for obvious errors.
func (c *SubscriberConfig) Validate() error {
	if c.NumSubscribers < 1 {
		return fmt.Errorf("SUBSCRIBER_COUNT must be > 0, got %d", c.NumSubscribers)
	}
	if c.RcvHighWaterMark < 1 {
		return fmt.Errorf("SUBSCRIBER_RCV_HWM must be > 0, got %d", c.RcvHighWaterMark)
	}
	if c.PushQueueDepth < 1 {
		return fmt.Errorf("SUBSCRIBER_PUSH_QUEUE_DEPTH must be > 0, got %d", c.PushQueueDepth)
	}
	if c.HeartbeatTicks < 1 {
		return fmt.Errorf("SUBSCRIBER_HEARTBEAT_TICKS must be > 0, got %d", c.HeartbeatTicks)
	}
	if err := validateLogLevel(c.LogLevel); err != nil {
		return err
	}
	if err := validateLogFormat(c.LogFormat); err != nil {
		return err
	}
	return nil
}

// LogConfig logs the loaded configuration using structured logging.
func (c *SubscriberConfig) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Int("num_subscribers", c.NumSubscribers).
		Str("devices", c.Devices).
		Int("sub_port", c.SubPort).
		Str("pull_addr", c.PullAddr).
		Str("router_addr", c.RouterAddr).
		Int("rcv_hwm", c.RcvHighWaterMark).
		Int("push_queue_depth", c.PushQueueDepth).
		Dur("push_send_timeout", c.PushSendTimeout).
		Int("heartbeat_ticks", c.HeartbeatTicks).
		Dur("stale_threshold", c.StaleThreshold).
		Str("nats_url", c.NatsURL).
		Str("metrics_addr", c.MetricsAddr).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("subscriber configuration loaded")
}

// BeaconConfig holds configuration for the logjam-httpd binary. CLI flags
// (see cmd/logjam-httpd) override these env-sourced defaults.
type BeaconConfig struct {
	DeviceNumber uint32 `env:"BEACON_DEVICE_NUMBER" envDefault:"0"`
	HTTPPort     int    `env:"BEACON_HTTP_PORT" envDefault:"9705"`
	PubPort      int    `env:"BEACON_PUB_PORT" envDefault:"9706"`
	Verbose      bool   `env:"BEACON_VERBOSE" envDefault:"false"`

	NatsURL string `env:"BEACON_NATS_URL" envDefault:"nats://127.0.0.1:4222"`

	// MetricsAddr exposes /metrics (Prometheus). PubPort has no listener of
	// its own under the NATS-backed transport (see DESIGN.md); the metrics
	// endpoint therefore gets its own address rather than being derived
	// from it.
	MetricsAddr string `env:"BEACON_METRICS_ADDR" envDefault:":9707"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Validate checks the beacon configuration for obvious errors.
func (c *BeaconConfig) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("BEACON_HTTP_PORT must be a valid port, got %d", c.HTTPPort)
	}
	if c.PubPort <= 0 || c.PubPort > 65535 {
		return fmt.Errorf("BEACON_PUB_PORT must be a valid port, got %d", c.PubPort)
	}
	if err := validateLogLevel(c.LogLevel); err != nil {
		return err
	}
	if err := validateLogFormat(c.LogFormat); err != nil {
		return err
	}
	return nil
}

// LogConfig logs the loaded configuration using structured logging.
func (c *BeaconConfig) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Uint32("device_number", c.DeviceNumber).
		Int("http_port", c.HTTPPort).
		Int("pub_port", c.PubPort).
		Bool("verbose", c.Verbose).
		Str("nats_url", c.NatsURL).
		Str("metrics_addr", c.MetricsAddr).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("beacon configuration loaded")
}

func validateLogLevel(level string) error {
	valid := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !valid[level] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", level)
	}
	return nil
}

func validateLogFormat(format string) error {
	valid := map[string]bool{"json": true, "pretty": true}
	if !valid[format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", format)
	}
	return nil
}

// loadEnvFile loads an optional .env file; missing files are not an error.
func loadEnvFile(logger *zerolog.Logger) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found (using environment variables only)")
		}
		return
	}
	if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}
}

// LoadSubscriberConfig reads SubscriberConfig from .env and environment
// variables. Priority: ENV vars > .env file > defaults.
func LoadSubscriberConfig(logger *zerolog.Logger) (*SubscriberConfig, error) {
	loadEnvFile(logger)

	cfg := &SubscriberConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse subscriber config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("subscriber config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadBeaconConfig reads BeaconConfig from .env and environment variables.
// Priority: ENV vars > .env file > defaults. CLI flags are applied by the
// caller on top of the returned config.
func LoadBeaconConfig(logger *zerolog.Logger) (*BeaconConfig, error) {
	loadEnvFile(logger)

	cfg := &BeaconConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse beacon config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("beacon config validation failed: %w", err)
	}
	return cfg, nil
}
