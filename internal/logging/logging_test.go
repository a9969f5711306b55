package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupJSONAndDisable(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	Setup("info", "json", &buf)

	Component("channel").Info("connected", "url", "wss://example")
	if !strings.Contains(buf.String(), `"component":"channel"`) {
		t.Fatalf("expected component attribute, got %s", buf.String())
	}

	buf.Reset()
	Disable()
	Infof("hidden %d", 1)
	Enable()
	if buf.Len() != 0 {
		t.Errorf("expected no output while disabled, got %s", buf.String())
	}

	Debugf("below level")
	if buf.Len() != 0 {
		t.Errorf("debug should be filtered at info level")
	}

	SetLevel("debug")
	Debugf("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Errorf("expected debug output after SetLevel")
	}
}
