package rpc

import "errors"

// RPC errors
var (
	ErrServiceRequired = errors.New("service name is required")
	ErrAlreadyStarted  = errors.New("rpc is already started")
	ErrNoOutbound      = errors.New("no outbound for service")
)
