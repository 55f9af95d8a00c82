package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevels(t *testing.T) {
	cases := []struct {
		level       string
		debugOn     bool
		description string
	}{
		{"debug", true, "debug level enables debug output"},
		{"warn", false, "warn level suppresses debug output"},
		{"not-a-level", false, "unknown level falls back to info"},
	}

	for _, tc := range cases {
		logger, err := NewLogger(tc.level, "")
		if err != nil {
			t.Fatalf("NewLogger(%q): %v", tc.level, err)
		}
		if got := logger.Core().Enabled(zapcore.DebugLevel); got != tc.debugOn {
			t.Errorf("%s: debug enabled = %v", tc.description, got)
		}
	}
}

func TestNewLoggerFileSink(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "scraper.log")

	logger, err := NewLogger("info", logFile)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("roster walk finished")
	_ = logger.Sync()

	raw, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), "roster walk finished") {
		t.Errorf("file sink missing the logged message: %q", raw)
	}
}
