package logutil

import (
	"log/slog"
	"testing"
)

func TestParseSlogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := parseSlogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseSlogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("parseSlogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerFromConfig_RejectsUnknownFormat(t *testing.T) {
	if _, err := newLoggerFromConfig(loggerConfig{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if _, err := newLoggerFromConfig(loggerConfig{Format: "json", Level: "debug"}); err != nil {
		t.Fatalf("json format should be accepted: %v", err)
	}
}
