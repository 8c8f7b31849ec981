package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		enable  slog.Level
		disable slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug, slog.LevelDebug - 4},
		{"warn level", "WARN", slog.LevelWarn, slog.LevelInfo},
		{"warning alias", "warning", slog.LevelWarn, slog.LevelInfo},
		{"default info", "", slog.LevelInfo, slog.LevelDebug},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level)
			if !logger.Enabled(ctx, tt.enable) {
				t.Fatalf("expected level %s to be enabled", tt.enable)
			}
			if logger.Enabled(ctx, tt.disable) {
				t.Fatalf("expected level %s to be disabled", tt.disable)
			}
		})
	}
}

func TestDefaultLoggerIsFreshInstance(t *testing.T) {
	a := Default()
	b := Default()
	if a == b {
		t.Fatal("Default() returned the same instance twice")
	}
	if a.Logger == nil {
		t.Fatal("Default() returned Logger with nil slog.Logger")
	}
}

func TestWithComponentAddsField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info").WithComponent("booking")
	logger.Info("slot reserved", "tenant_id", "t-1")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record["component"] != "booking" {
		t.Fatalf("component = %v, want booking", record["component"])
	}
	if record["tenant_id"] != "t-1" {
		t.Fatalf("tenant_id = %v, want t-1", record["tenant_id"])
	}
}

func TestWithComponentNilSafe(t *testing.T) {
	var l *Logger
	if got := l.WithComponent("x"); got == nil || got.Logger == nil {
		t.Fatal("expected usable logger from nil receiver")
	}
}
