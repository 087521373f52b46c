// Package config loads the settings a yarpc service is built from: its
// name, logging, event loop, inbounds, outbounds, middleware and journal.
// Configuration comes from a YAML or JSON file, overridden by YARPC_*
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// Transport names accepted by outbounds
const (
	TransportTCP       = "tcp"
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
)

// Config represents the complete configuration of a service
type Config struct {
	// Service identity
	Service ServiceConfig `yaml:"service" json:"service"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log"`

	// Event loop running outgoing calls
	Loop LoopConfig `yaml:"loop" json:"loop"`

	// Inbounds serving this service's procedures
	Inbounds InboundsConfig `yaml:"inbounds" json:"inbounds"`

	// Outbounds keyed by the service they reach
	Outbounds map[string]OutboundConfig `yaml:"outbounds,omitempty" json:"outbounds,omitempty"`

	// Middleware settings
	Middleware MiddlewareConfig `yaml:"middleware" json:"middleware"`

	// Call journal; disabled when Driver is empty
	Journal JournalConfig `yaml:"journal" json:"journal"`

	// Default TTL of calls that set none; zero means none
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// ServiceConfig names the service
type ServiceConfig struct {
	Name        string      `yaml:"name" json:"name"`
	Environment Environment `yaml:"environment" json:"environment"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level"`

	// Log format (json, console)
	Format string `yaml:"format" json:"format"`

	// Output destination (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`
}

// LoopConfig sizes the event loop
type LoopConfig struct {
	Workers   int `yaml:"workers" json:"workers"`
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// InboundsConfig enables inbounds; a nil entry is disabled
type InboundsConfig struct {
	TCP       *TCPInboundConfig       `yaml:"tcp,omitempty" json:"tcp,omitempty"`
	HTTP      *HTTPInboundConfig      `yaml:"http,omitempty" json:"http,omitempty"`
	WebSocket *WebSocketInboundConfig `yaml:"websocket,omitempty" json:"websocket,omitempty"`
}

// TCPInboundConfig configures the framed TCP inbound
type TCPInboundConfig struct {
	Address        string        `yaml:"address" json:"address"`
	MaxConnections int           `yaml:"max_connections" json:"max_connections"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// HTTPInboundConfig configures the HTTP inbound
type HTTPInboundConfig struct {
	Address     string        `yaml:"address" json:"address"`
	MaxBodySize int64         `yaml:"max_body_size" json:"max_body_size"`
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`
}

// WebSocketInboundConfig configures the WebSocket inbound
type WebSocketInboundConfig struct {
	Address string `yaml:"address" json:"address"`
	Path    string `yaml:"path" json:"path"`
}

// OutboundConfig describes how to reach one service
type OutboundConfig struct {
	// Transport is tcp, http or websocket
	Transport string `yaml:"transport" json:"transport"`

	// Peers are host:port addresses or URLs
	Peers []string `yaml:"peers" json:"peers"`

	// Chooser is the peer selection strategy
	Chooser string `yaml:"chooser,omitempty" json:"chooser,omitempty"`

	// Path of the WebSocket endpoint
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// MiddlewareConfig enables middleware
type MiddlewareConfig struct {
	// Log every call
	Logging bool `yaml:"logging" json:"logging"`

	// Ensure every call carries an x-request-id header
	RequestID bool `yaml:"request_id" json:"request_id"`

	// Inbound rate limiting
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Outbound retries
	Retry RetryConfig `yaml:"retry" json:"retry"`
}

// RateLimitConfig limits inbound calls; disabled when Limit is zero
type RateLimitConfig struct {
	Limit float64 `yaml:"limit" json:"limit"`
	Burst int     `yaml:"burst" json:"burst"`
}

// RetryConfig retries outbound calls; disabled when Attempts is below two
type RetryConfig struct {
	Attempts   int           `yaml:"attempts" json:"attempts"`
	Backoff    time.Duration `yaml:"backoff" json:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff" json:"max_backoff"`
}

// JournalConfig selects the call journal database
type JournalConfig struct {
	// Driver is sqlite or pgx
	Driver string `yaml:"driver" json:"driver"`

	// DSN is a file path for sqlite or a connection string for pgx
	DSN string `yaml:"dsn" json:"dsn"`
}

// Enabled reports whether a journal is configured
func (j JournalConfig) Enabled() bool {
	return j.Driver != ""
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "yarpc",
			Environment: EnvDevelopment,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "json",
			Output: "stderr",
		},
		Loop: LoopConfig{
			Workers:   8,
			QueueSize: 1024,
		},
		Middleware: MiddlewareConfig{
			Logging:   true,
			RequestID: true,
			Retry: RetryConfig{
				Attempts:   1,
				Backoff:    10 * time.Millisecond,
				MaxBackoff: time.Second,
			},
		},
		TTL: 0,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return ErrInvalidServiceName
	}
	if !c.Service.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Log.Format)
	}

	if c.Loop.Workers < 0 || c.Loop.QueueSize < 0 {
		return ErrInvalidLoop
	}

	if in := c.Inbounds.TCP; in != nil {
		if in.Address == "" || in.MaxConnections < 0 {
			return fmt.Errorf("%w: tcp", ErrInvalidInbound)
		}
	}
	if in := c.Inbounds.HTTP; in != nil && in.Address == "" {
		return fmt.Errorf("%w: http", ErrInvalidInbound)
	}
	if in := c.Inbounds.WebSocket; in != nil && in.Address == "" {
		return fmt.Errorf("%w: websocket", ErrInvalidInbound)
	}

	for service, out := range c.Outbounds {
		if service == "" {
			return fmt.Errorf("%w: empty service name", ErrInvalidOutbound)
		}
		switch strings.ToLower(out.Transport) {
		case TransportTCP, TransportHTTP, TransportWebSocket:
		default:
			return fmt.Errorf("%w: service %q has unknown transport %q", ErrInvalidOutbound, service, out.Transport)
		}
		if len(out.Peers) == 0 {
			return fmt.Errorf("%w: service %q has no peers", ErrInvalidOutbound, service)
		}
		switch strings.ToLower(out.Chooser) {
		case "", "round-robin", "roundrobin", "random", "least-pending", "leastpending":
		default:
			return fmt.Errorf("%w: service %q has unknown chooser %q", ErrInvalidOutbound, service, out.Chooser)
		}
	}

	rl := c.Middleware.RateLimit
	if rl.Limit < 0 || rl.Burst < 0 || (rl.Limit > 0 && rl.Burst == 0) {
		return fmt.Errorf("%w: rate limit", ErrInvalidMiddleware)
	}
	rt := c.Middleware.Retry
	if rt.Attempts < 0 || rt.Backoff < 0 || rt.MaxBackoff < 0 {
		return fmt.Errorf("%w: retry", ErrInvalidMiddleware)
	}

	switch strings.ToLower(c.Journal.Driver) {
	case "":
	case "sqlite", "sqlite3", "pgx", "postgres", "postgresql":
		if c.Journal.DSN == "" {
			return fmt.Errorf("%w: dsn is required", ErrInvalidJournal)
		}
	default:
		return fmt.Errorf("%w: unknown driver %q", ErrInvalidJournal, c.Journal.Driver)
	}

	if c.TTL < 0 {
		return ErrInvalidTTL
	}
	return nil
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Service.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Service.Environment == EnvProduction
}
