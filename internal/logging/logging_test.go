package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestNew_JSONWithRFC3339Time(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, FormatJSON, slog.LevelInfo).Info("hello", "pmcid", "123")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "hello" || entry["pmcid"] != "123" {
		t.Errorf("unexpected entry %v", entry)
	}
	ts, _ := entry["time"].(string)
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		t.Errorf("expected RFC3339 time, got %q", ts)
	}
}

func TestNew_TextAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, FormatText, slog.LevelWarn)
	log.Info("quiet")
	log.Warn("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Error("expected info message filtered at warn level")
	}
	if !strings.Contains(out, "msg=loud") {
		t.Errorf("expected text output with loud message, got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q): expected %v, got %v (%v)", in, want, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestFromStrings_BadFormatFallsBack(t *testing.T) {
	var buf bytes.Buffer
	log, err := FromStrings(&buf, "xml", "info")
	if err == nil {
		t.Error("expected error for unknown format")
	}
	log.Info("still works")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected JSON fallback, got %q", buf.String())
	}
}
