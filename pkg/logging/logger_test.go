package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		enable slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug},
		{"warn level", "warn", slog.LevelWarn},
		{"upper case error", "ERROR", slog.LevelError},
		{"default info", "", slog.LevelInfo},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level)
			if !logger.Enabled(ctx, tt.enable) {
				t.Fatalf("expected level %s to be enabled", tt.enable)
			}
		})
	}
}

func TestDefaultLogger(t *testing.T) {
	logger := Default()
	logger.Info("test message", "key", "value")

	ctx := context.Background()
	if !logger.Enabled(ctx, slog.LevelInfo) {
		t.Error("Default() should enable info level")
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		t.Error("Default() should not enable debug level")
	}
	if logger.Logger == nil {
		t.Fatal("Default() returned Logger with nil slog.Logger")
	}
	if logger == Default() {
		t.Error("Default() returned the same instance twice")
	}
}

func TestFormats(t *testing.T) {
	var jsonBuf bytes.Buffer
	newLogger(&jsonBuf, "info", "json").Info("hello", "provider", "maya")
	var decoded map[string]any
	if err := json.Unmarshal(jsonBuf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected json output, got %q: %v", jsonBuf.String(), err)
	}
	if decoded["provider"] != "maya" {
		t.Fatalf("expected provider attribute, got %#v", decoded)
	}

	var textBuf bytes.Buffer
	newLogger(&textBuf, "info", "text").Info("hello", "provider", "paypal")
	if !strings.Contains(textBuf.String(), "provider=paypal") {
		t.Fatalf("expected text output, got %q", textBuf.String())
	}
}

func TestWithCarriesAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", "json").With("event_id", "evt-1")
	logger.Info("processed")
	if !strings.Contains(buf.String(), `"event_id":"evt-1"`) {
		t.Fatalf("expected child attribute in output, got %q", buf.String())
	}
}
