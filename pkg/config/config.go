package config

import (
	"time"

	"github.com/openagents/eventcore/pkg/metrics"
)

// Config represents the complete configuration for an OpenAgents event network.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
	Logger        LoggerConfig        `mapstructure:"logger"`
	ErrorTracking ErrorTrackingConfig `mapstructure:"error_tracking"`
	Middleware    MiddlewareConfig    `mapstructure:"middleware"`
	Metrics       metrics.Config      `mapstructure:"metrics"`
	Network       NetworkConfig       `mapstructure:"network"`
}

// ServerConfig holds the HTTP long-poll transport adapter's server settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	DrainTimeout    time.Duration `mapstructure:"drain_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
}

// TracingConfig holds OpenTelemetry tracing configuration.
type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	Endpoint       string `mapstructure:"endpoint"`
}

// LoggerConfig holds logger configuration.
type LoggerConfig struct {
	Dev  bool   `mapstructure:"dev"`
	Path string `mapstructure:"path"`
}

// MiddlewareConfig holds HTTP transport middleware configuration.
type MiddlewareConfig struct {
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	MaxRequestSize int64   `mapstructure:"max_request_size"`
}

// ErrorTrackingConfig holds error tracking configuration.
type ErrorTrackingConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	Provider         string  `mapstructure:"provider"` // sentry, noop
	DSN              string  `mapstructure:"dsn"`
	Environment      string  `mapstructure:"environment"`
	Release          string  `mapstructure:"release"`
	Debug            bool    `mapstructure:"debug"`
	SampleRate       float64 `mapstructure:"sample_rate"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate"`
}

// NetworkConfig contains configuration for the event gateway itself: the
// subscription index, agent queues, history ring, and the optional
// cross-instance mirrors used by the bundled transport adapters.
type NetworkConfig struct {
	NetworkID          string             `mapstructure:"network_id"`
	InstanceID         string             `mapstructure:"instance_id"`
	AgentQueueSize     int                `mapstructure:"agent_queue_size"`
	HistorySize        int                `mapstructure:"history_size"`
	DefaultPollTimeout time.Duration      `mapstructure:"default_poll_timeout"`
	ResponseTimeout    time.Duration      `mapstructure:"response_timeout"`
	Redis              NetworkRedisConfig `mapstructure:"redis"`
	NATS               NetworkNATSConfig  `mapstructure:"nats"`
	MQTT               NetworkMQTTConfig  `mapstructure:"mqtt"`
}

// NetworkRedisConfig configures the optional Redis diagnostic history mirror.
type NetworkRedisConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	StreamName string `mapstructure:"stream_name"`
	MaxLen     int64  `mapstructure:"max_len"`
}

// NetworkNATSConfig configures the optional NATS agent-client bridge.
type NetworkNATSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	SubjectPfx string `mapstructure:"subject_prefix"`
}

// NetworkMQTTConfig configures the bundled MQTT transport adapter.
type NetworkMQTTConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	TopicRoot string `mapstructure:"topic_root"`
}
