package config

import "errors"

// Configuration validation errors
var (
	ErrInvalidServiceName = errors.New("invalid service name")
	ErrInvalidEnvironment = errors.New("invalid environment")
	ErrInvalidLogLevel    = errors.New("invalid log level")
	ErrInvalidLogFormat   = errors.New("invalid log format")
	ErrInvalidLoop        = errors.New("invalid event loop settings")
	ErrInvalidInbound     = errors.New("invalid inbound")
	ErrInvalidOutbound    = errors.New("invalid outbound")
	ErrInvalidMiddleware  = errors.New("invalid middleware settings")
	ErrInvalidJournal     = errors.New("invalid journal settings")
	ErrInvalidTTL         = errors.New("invalid ttl")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound  = errors.New("configuration file not found")
	ErrConfigParseError    = errors.New("configuration parse error")
	ErrEnvironmentVarError = errors.New("environment variable error")
	ErrConfigWatchError    = errors.New("configuration watch error")
)
