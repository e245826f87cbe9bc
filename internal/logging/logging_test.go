package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerWithWriter_Formats(t *testing.T) {
	tests := []struct {
		format string
		want   []string
	}{
		{"text", []string{"role started", "role=gui_testing"}},
		{"json", []string{`"msg":"role started"`, `"role":"gui_testing"`}},
		{"JSON", []string{`"msg":"role started"`}},
		{"", []string{"role=gui_testing"}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			NewLoggerWithWriter(slog.LevelInfo, tt.format, &buf).Info("role started", "role", "gui_testing")
			for _, w := range tt.want {
				if !strings.Contains(buf.String(), w) {
					t.Errorf("output %q missing %q", buf.String(), w)
				}
			}
		})
	}
}

func TestNewLoggerWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(slog.LevelWarn, "text", &buf)

	logger.Info("should not appear")
	logger.Warn("should appear")

	output := buf.String()
	if strings.Contains(output, "should not appear") {
		t.Errorf("INFO message should be filtered at WARN level, got: %s", output)
	}
	if !strings.Contains(output, "should appear") {
		t.Errorf("WARN message should appear at WARN level, got: %s", output)
	}
}

func TestNew_TeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "rolesched.log")

	logger, closer, err := New(Options{Level: slog.LevelInfo, Format: "text", File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.With("component", "scheduler").Info("tick", "action", "scale_up")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "component=scheduler") || !strings.Contains(string(data), "action=scale_up") {
		t.Errorf("log file content = %q", data)
	}
}

func TestNew_NoFile(t *testing.T) {
	logger, closer, err := New(Options{Level: slog.LevelInfo})
	if err != nil || logger == nil {
		t.Fatalf("New: %v", err)
	}
	if err := closer.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
