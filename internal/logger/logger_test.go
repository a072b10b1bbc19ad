package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{" INFO ", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"none", LevelNone},
		{"off", LevelNone},
		{"invalid", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	if LevelWarn.String() != "WARN" {
		t.Errorf("LevelWarn.String() = %q", LevelWarn.String())
	}
	if Level(42).String() != "UNKNOWN" {
		t.Errorf("Level(42).String() = %q", Level(42).String())
	}
}

func TestNewLoggerFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "repl.log")

	l, err := New(LevelInfo, logPath, "listener")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	l.Info("accepted %s", "127.0.0.1:1234")
	l.Debug("should not appear")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	text := string(content)

	if !strings.Contains(text, "[INFO] [listener] accepted 127.0.0.1:1234") {
		t.Errorf("log file missing info line: %q", text)
	}
	if strings.Contains(text, "should not appear") {
		t.Errorf("debug line written at INFO level")
	}
}

func TestWithPrefixSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWithWriter(LevelInfo, &buf, "repl")
	child := parent.WithPrefix("session:abc")

	child.Debug("hidden")
	parent.SetLevel(LevelDebug)
	child.Debug("visible")

	text := buf.String()
	if strings.Contains(text, "hidden") {
		t.Errorf("debug line written before level change")
	}
	if !strings.Contains(text, "[repl:session:abc] visible") {
		t.Errorf("missing combined prefix line, got %q", text)
	}
}

func TestLoggerDisabled(t *testing.T) {
	l, err := New(LevelNone, "", "test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer l.Close()

	if l.Enabled(LevelError) {
		t.Errorf("LevelNone logger reports error level enabled")
	}
	l.Error("nothing")
}

func TestCloseDisablesFileLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "repl.log")
	l, err := New(LevelInfo, logPath, "")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Writing after close must not panic or error.
	l.Info("after close")
	if err := l.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
}

func TestGlobalLogger(t *testing.T) {
	if Global() == nil {
		t.Fatal("Global() returned nil")
	}

	var buf bytes.Buffer
	prev := Global()
	SetGlobal(NewWithWriter(LevelWarn, &buf, ""))
	defer SetGlobal(prev)

	Info("quiet")
	Warn("loud %d", 1)

	if strings.Contains(buf.String(), "quiet") {
		t.Errorf("info written at WARN level")
	}
	if !strings.Contains(buf.String(), "loud 1") {
		t.Errorf("warn line missing: %q", buf.String())
	}
}

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(LevelInfo, &buf, "admin")
	sl := slog.New(NewSlogHandler(l)).With("port", 5051).WithGroup("req")

	sl.Debug("dropped")
	sl.Warn("slow request", "path", "/status")

	text := buf.String()
	if strings.Contains(text, "dropped") {
		t.Errorf("debug record written at INFO level")
	}
	if !strings.Contains(text, "[WARN] [admin] slow request port=5051 req.path=/status") {
		t.Errorf("unexpected slog output: %q", text)
	}
}

func TestNewStdLogger(t *testing.T) {
	var buf bytes.Buffer
	std := NewStdLogger(NewWithWriter(LevelDebug, &buf, "http"), LevelError)
	std.Printf("tls handshake error")

	if !strings.Contains(buf.String(), "[ERROR] [http] tls handshake error") {
		t.Errorf("unexpected std logger output: %q", buf.String())
	}
}
