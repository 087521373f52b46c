package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
)

// EnvPrefix is the default prefix of environment overrides
const EnvPrefix = "YARPC"

// configFileNames are searched for in each search path, in order
var configFileNames = []string{"yarpc.yaml", "yarpc.yml", "yarpc.json"}

// Loader handles configuration loading from various sources
type Loader struct {
	// Configuration search paths
	searchPaths []string

	// Environment variable prefix
	envPrefix string

	// Source of environment values
	getenv func(string) string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	paths := []string{".", "./config", "/etc/yarpc"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".yarpc"))
	}
	return &Loader{
		searchPaths: paths,
		envPrefix:   EnvPrefix,
		getenv:      os.Getenv,
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetEnv replaces the environment lookup, mostly for tests
func (l *Loader) SetEnv(getenv func(string) string) *Loader {
	if getenv != nil {
		l.getenv = getenv
	}
	return l
}

// Load loads configuration from filename, applies environment overrides
// and validates the result. An empty filename searches the search paths
// and falls back to defaults when no file is found.
func (l *Loader) Load(filename string) (*Config, error) {
	if filename == "" {
		found, err := l.FindConfigFile()
		switch {
		case err == nil:
			filename = found
		case err == ErrConfigFileNotFound:
			return l.finish(DefaultConfig())
		default:
			return nil, err
		}
	}

	format, err := formatOf(filename)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	return l.finish(config)
}

// LoadFromReader loads configuration from an io.Reader
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration data: %w", err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}
	return l.finish(config)
}

// FindConfigFile searches the search paths for a configuration file
func (l *Loader) FindConfigFile() (string, error) {
	for _, searchPath := range l.searchPaths {
		for _, name := range configFileNames {
			fullPath := filepath.Join(searchPath, name)
			if info, err := os.Stat(fullPath); err == nil && !info.IsDir() {
				return fullPath, nil
			}
		}
	}
	return "", ErrConfigFileNotFound
}

// finish applies environment overrides and validates config
func (l *Loader) finish(config *Config) (*Config, error) {
	if err := l.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// formatOf determines the format from the file extension
func formatOf(filename string) (ConfigFormat, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported config file format: %s", filepath.Ext(filename))
	}
}

// parseConfig decodes data over the default configuration, so fields the
// document leaves out keep their defaults. JSON goes through the YAML
// decoder too, so durations are written the same way ("5s") in both.
func (l *Loader) parseConfig(data []byte, format ConfigFormat) (*Config, error) {
	config := DefaultConfig()

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigParseError, err)
		}
	case FormatJSON:
		if !json.Valid(data) {
			return nil, fmt.Errorf("%w: invalid JSON", ErrConfigParseError)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(config); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigParseError, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}

	return config, nil
}

// loadFromEnv loads configuration overrides from environment variables
func (l *Loader) loadFromEnv(config *Config) error {
	env := func(name string) string {
		return l.getenv(l.envPrefix + "_" + name)
	}

	// Service configuration
	if val := env("SERVICE_NAME"); val != "" {
		config.Service.Name = val
	}
	if val := env("ENVIRONMENT"); val != "" {
		config.Service.Environment = Environment(val)
	}

	// Log configuration
	if val := env("LOG_LEVEL"); val != "" {
		config.Log.Level = LogLevel(strings.ToLower(val))
	}
	if val := env("LOG_FORMAT"); val != "" {
		config.Log.Format = val
	}
	if val := env("LOG_OUTPUT"); val != "" {
		config.Log.Output = val
	}

	// Event loop
	if val := env("LOOP_WORKERS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: %s_LOOP_WORKERS=%q", ErrEnvironmentVarError, l.envPrefix, val)
		}
		config.Loop.Workers = n
	}

	// Inbounds
	if val := env("TCP_ADDRESS"); val != "" {
		if config.Inbounds.TCP == nil {
			config.Inbounds.TCP = &TCPInboundConfig{}
		}
		config.Inbounds.TCP.Address = val
	}
	if val := env("HTTP_ADDRESS"); val != "" {
		if config.Inbounds.HTTP == nil {
			config.Inbounds.HTTP = &HTTPInboundConfig{}
		}
		config.Inbounds.HTTP.Address = val
	}
	if val := env("WEBSOCKET_ADDRESS"); val != "" {
		if config.Inbounds.WebSocket == nil {
			config.Inbounds.WebSocket = &WebSocketInboundConfig{}
		}
		config.Inbounds.WebSocket.Address = val
	}

	// Journal
	if val := env("JOURNAL_DRIVER"); val != "" {
		config.Journal.Driver = val
	}
	if val := env("JOURNAL_DSN"); val != "" {
		config.Journal.DSN = val
	}

	if val := env("TTL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%w: %s_TTL=%q", ErrEnvironmentVarError, l.envPrefix, val)
		}
		config.TTL = d
	}

	return nil
}
