package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Level: "info", Format: "json"}, "dispatcher", &buf)
	log.Debug().Msg("hidden")
	log.Info().Str("job_id", "aB3dE9").Msg("claimed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["service"] != "dispatcher" || entry["job_id"] != "aB3dE9" || entry["message"] != "claimed" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{}, "api", &buf)
	log.Warn().Msg("slow store")
	if !strings.Contains(buf.String(), "slow store") {
		t.Fatalf("expected console line, got %q", buf.String())
	}
}
