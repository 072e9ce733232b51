package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, Options{Level: "warn", Format: FormatJSON})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("hidden")
	logger.Warn("shown", "table", "Links_dev")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "shown" || entry["table"] != "Links_dev" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNew_PrettyWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, Options{Format: FormatPretty})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("created", "link", "abc123")

	out := buf.String()
	if !strings.Contains(out, "created") || !strings.Contains(out, "link=abc123") {
		t.Errorf("unexpected output %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("expected no color codes when not writing to a terminal: %q", out)
	}
}

func TestNew_UnknownFormat(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, Options{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := New(&bytes.Buffer{}, Options{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}
