package network

import "time"

// Config represents network configuration for framed connections.
type Config struct {
	// Address is the listening address (host:port)
	Address string

	// ReadTimeout bounds how long a connection may stay idle; zero disables it
	ReadTimeout time.Duration

	// WriteTimeout bounds a single frame write; zero disables it
	WriteTimeout time.Duration

	// DialTimeout bounds connection establishment
	DialTimeout time.Duration

	// KeepAlive enables TCP keep-alive
	KeepAlive bool

	// KeepAliveInterval is the keep-alive interval
	KeepAliveInterval time.Duration

	// MaxConnections is the maximum number of concurrent inbound connections; zero is unlimited
	MaxConnections int

	// MaxPayload bounds frame payload size
	MaxPayload int
}

// DefaultConfig returns a default network configuration.
func DefaultConfig() Config {
	return Config{
		Address:           "127.0.0.1:0",
		ReadTimeout:       0,
		WriteTimeout:      10 * time.Second,
		DialTimeout:       5 * time.Second,
		KeepAlive:         true,
		KeepAliveInterval: 30 * time.Second,
		MaxConnections:    1000,
		MaxPayload:        DefaultMaxPayload,
	}
}
