package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func captureConsole(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	prev := GetLevel()
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(prev)
	})
	return &buf
}

func TestLevelFilter(t *testing.T) {
	buf := captureConsole(t)
	SetLevel(WARN)

	InfoC("test", "hidden")
	WarnCF("test", "shown", map[string]interface{}{"b": 2, "a": 1})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered at WARN: %q", out)
	}
	if !strings.Contains(out, "[WARN] test: shown {a=1, b=2}") {
		t.Fatalf("unexpected console line: %q", out)
	}
}

func TestFileSinkWritesJSONLines(t *testing.T) {
	captureConsole(t)
	SetLevel(DEBUG)

	path := filepath.Join(t.TempDir(), "logs", "shopbot.log")
	if err := EnableFileLogging(path); err != nil {
		t.Fatalf("enable file logging: %v", err)
	}
	defer DisableFileLogging()

	InfoCF("router", "message received", map[string]interface{}{FieldPhone: "33600000000"})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var entry LogEntry
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("decode entry: %v (%q)", err, data)
	}
	if entry.Level != "INFO" || entry.Component != "router" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Fields[FieldPhone] != "33600000000" {
		t.Fatalf("missing phone field: %+v", entry.Fields)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DEBUG,
		" WARN ":  WARN,
		"warning": WARN,
		"error":   ERROR,
		"bogus":   INFO,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
