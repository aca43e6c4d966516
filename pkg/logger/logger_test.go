package logger

import (
	"bytes"
	"encoding/json"
	"log"
	"strings"
	"testing"
	"time"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{TraceLevel, "TRACE"},
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{Level(999), "UNKNOWN"},
	}

	for _, test := range tests {
		if result := test.level.String(); result != test.expected {
			t.Errorf("Level.String() = %v, expected %v", result, test.expected)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in       string
		expected Level
	}{
		{"trace", TraceLevel},
		{"DEBUG", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"bogus", InfoLevel},
		{"", InfoLevel},
	}

	for _, test := range tests {
		if got := ParseLevel(test.in); got != test.expected {
			t.Errorf("ParseLevel(%q) = %v, expected %v", test.in, got, test.expected)
		}
	}
}

func TestLoggerInitialization(t *testing.T) {
	config := Config{
		Level:     InfoLevel,
		Component: "test",
	}

	err := Initialize(config)
	if err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	if defaultLogger == nil {
		t.Fatal("Initialize() did not set defaultLogger")
	}

	if defaultLogger.config.Component != "test" {
		t.Errorf("Initialize() did not set config correctly, got component: %s", defaultLogger.config.Component)
	}
}

func TestLoggerPrettyFormatting(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{
		config: Config{
			Level:     InfoLevel,
			Component: "reconcile",
		},
		logger: log.New(&buf, "", 0),
	}

	entry := Entry{
		Time:      time.Date(2025, 11, 22, 12, 0, 0, 0, time.UTC),
		Level:     "INFO",
		Message:   "deployed candidate",
		Component: "reconcile",
		Fields:    map[string]interface{}{"digest": "abc123"},
	}

	result := l.formatPretty(entry)

	expectedParts := []string{
		"2025-11-22 12:00:00",
		"[INFO]",
		"reconcile:",
		"deployed candidate",
		"{digest=abc123}",
	}

	for _, part := range expectedParts {
		if !strings.Contains(result, part) {
			t.Errorf("formatPretty() result missing expected part: %s\nResult: %s", part, result)
		}
	}
}

func TestLoggerDryRunMarker(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{
		config: Config{
			Level:  InfoLevel,
			DryRun: true,
		},
		logger: log.New(&buf, "", 0),
	}

	l.Log(InfoLevel, "would delete candidate")
	if !strings.Contains(buf.String(), "[DRY-RUN]") {
		t.Errorf("expected [DRY-RUN] marker in output, got: %s", buf.String())
	}
}

func TestLoggerJSONFormatting(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{
		config: Config{
			Level: InfoLevel,
			JSON:  true,
		},
		logger: log.New(&buf, "", 0),
	}

	l.Log(InfoLevel, "scan complete", Int("files", 42))

	output := strings.TrimSpace(buf.String())
	if !strings.HasPrefix(output, "{") {
		t.Fatalf("Log() with JSON config did not produce JSON output: %s", output)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(output), &entry); err != nil {
		t.Fatalf("failed to parse JSON log output: %v", err)
	}
	if entry.Message != "scan complete" {
		t.Errorf("unexpected message: %s", entry.Message)
	}
	if v, ok := entry.Fields["files"]; !ok || v != float64(42) {
		t.Errorf("expected files field 42, got %v", entry.Fields)
	}
}

func TestSetOutputCapturesPackageHelpers(t *testing.T) {
	if err := Initialize(Config{Level: InfoLevel, Component: "texvault"}); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	var buf bytes.Buffer
	SetOutput(&buf)

	Info("store scanned", Int("files", 3))

	if !strings.Contains(buf.String(), "store scanned") {
		t.Errorf("expected captured output, got: %s", buf.String())
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{
		config: Config{Level: WarnLevel},
		logger: log.New(&buf, "", 0),
	}

	l.Log(InfoLevel, "suppressed")
	if buf.Len() != 0 {
		t.Errorf("expected info message below warn threshold to be dropped, got: %s", buf.String())
	}

	l.Log(ErrorLevel, "emitted")
	if !strings.Contains(buf.String(), "emitted") {
		t.Errorf("expected error message to pass threshold, got: %s", buf.String())
	}
}
