package logutil

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"0":     slog.LevelInfo,
		"false": slog.LevelInfo,
		"1":     slog.LevelDebug,
		"true":  slog.LevelDebug,
		"2":     LevelTrace,
		"5":     LevelTrace,
		"trace": LevelTrace,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"what":  slog.LevelDebug,
	}

	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestTrace(t *testing.T) {
	var buf bytes.Buffer

	defer slog.SetDefault(slog.Default())
	slog.SetDefault(NewLogger(&buf, LevelTrace))

	Trace("encoded", "ids", []int32{1, 2})

	line := buf.String()
	if !strings.Contains(line, "level=TRACE") || !strings.Contains(line, "ids=\"[1 2]\"") {
		t.Errorf("unexpected log line %q", line)
	}

	if !strings.Contains(line, "logutil_test.go") {
		t.Errorf("source should point at the caller, got %q", line)
	}
}

func TestTraceDisabled(t *testing.T) {
	var buf bytes.Buffer

	defer slog.SetDefault(slog.Default())
	slog.SetDefault(NewLogger(&buf, slog.LevelDebug))

	Trace("encoded")
	if buf.Len() > 0 {
		t.Errorf("trace logged at debug level: %q", buf.String())
	}
}
