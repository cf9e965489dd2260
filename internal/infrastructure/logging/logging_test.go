package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitStampsServiceOnRecords(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "api.log")
	writer, err := Init(Config{
		Service: "rampbridge-api",
		Level:   "info",
		File:    logFile,
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer writer.Close()

	slog.Info("listening", "addr", ":8080")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "service=rampbridge-api") {
		t.Errorf("record missing service attribute: %s", data)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"  WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := parseLevel(tc.raw); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}
