package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"humanloop/pkg/config"
)

func TestLoggerJSONEntryShape(t *testing.T) {
	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "info"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.With("component", "cmd.serve").Info("Reply received", "request_id", "42")

	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("unmarshal log entry %q: %v", line, err)
	}

	if entry["level"] != "info" {
		t.Fatalf("level = %v, want info", entry["level"])
	}
	if entry["msg"] != "Reply received" {
		t.Fatalf("msg = %v, want %q", entry["msg"], "Reply received")
	}
	if entry["component"] != "cmd.serve" {
		t.Fatalf("component = %v, want %q", entry["component"], "cmd.serve")
	}
	if entry["request_id"] != "42" {
		t.Fatalf("request_id = %v, want %q", entry["request_id"], "42")
	}
	if _, ok := entry["time"]; !ok {
		t.Fatal("expected timestamp")
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("Ignored")
	log.Warn("Ignored too")
	if got := strings.TrimSpace(out.String()); got != "" {
		t.Fatalf("expected no output below error, got %q", got)
	}

	log.Error("Kept")
	if got := strings.TrimSpace(out.String()); got == "" {
		t.Fatal("expected output for error")
	}
}

func TestLoggerDefaultsToTextFormat(t *testing.T) {
	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("Default format")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format by default, got %q", line)
	}
	if !strings.Contains(line, "Default format") {
		t.Fatalf("expected message in %q", line)
	}
}

func TestLoggerLogfmtFormat(t *testing.T) {
	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "logfmt", Level: "debug"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Debug("Dropping message", "chat_id", 7)
	line := strings.TrimSpace(out.String())
	if !strings.Contains(line, "chat_id=7") {
		t.Fatalf("expected logfmt key pair in %q", line)
	}
}

func TestLoggerRejectsUnknownSettings(t *testing.T) {
	if _, err := newWithWriter(config.LoggingConfig{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if _, err := newWithWriter(config.LoggingConfig{Level: "verbose"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
