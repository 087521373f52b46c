package logging

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/najoast/yarpc/config"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, level, err := New(config.LogConfig{Level: config.LogLevelWarn, Format: "json", Output: path})
	if err != nil {
		t.Fatalf("Failed to build logger: %v", err)
	}

	logger.Info("hidden")
	logger.Warn("shown")

	if err := SetLevel(level, config.LogLevelDebug); err != nil {
		t.Fatalf("Failed to set level: %v", err)
	}
	logger.Debug("now visible")
	logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") {
		t.Error("Info entry should have been filtered")
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "now visible") {
		t.Errorf("Expected entries missing from log: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[config.LogLevel]zapcore.Level{
		config.LogLevelDebug: zapcore.DebugLevel,
		config.LogLevelInfo:  zapcore.InfoLevel,
		"":                   zapcore.InfoLevel,
		config.LogLevelWarn:  zapcore.WarnLevel,
		config.LogLevelError: zapcore.ErrorLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}

	if _, err := ParseLevel("loud"); !errors.Is(err, config.ErrInvalidLogLevel) {
		t.Errorf("Expected ErrInvalidLogLevel, got %v", err)
	}
}
