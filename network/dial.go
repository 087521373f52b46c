package network

import (
	"context"
	"fmt"
	"net"
)

// Dial connects to a framed TCP endpoint.
func Dial(ctx context.Context, address string, cfg Config) (*Conn, error) {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	if cfg.KeepAlive {
		dialer.KeepAlive = cfg.KeepAliveInterval
	} else {
		dialer.KeepAlive = -1
	}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	// Outbound connections wait for responses indefinitely; calls carry their own deadlines
	cfg.ReadTimeout = 0
	return NewConn(conn, cfg), nil
}
