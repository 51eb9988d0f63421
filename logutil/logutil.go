// Package logutil configures slog for the tokenizers command and server.
package logutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// LevelTrace is below debug and logs every encode and decode.
const LevelTrace slog.Level = -8

// NewLogger returns a text logger at level with short source locations.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				if attr.Value.Any().(slog.Level) == LevelTrace {
					attr.Value = slog.StringValue("TRACE")
				}
			case slog.SourceKey:
				source := attr.Value.Any().(*slog.Source)
				source.File = filepath.Base(source.File)
			}
			return attr
		},
	}))
}

// ParseLevel maps a debug setting to a level: empty or false is info, true
// or 1 is debug and 2 or more is trace. Level names are also accepted.
func ParseLevel(s string) slog.Level {
	s = strings.TrimSpace(s)
	if s == "" {
		return slog.LevelInfo
	}

	if n, err := strconv.Atoi(s); err == nil {
		switch {
		case n <= 0:
			return slog.LevelInfo
		case n == 1:
			return slog.LevelDebug
		default:
			return LevelTrace
		}
	}

	if b, err := strconv.ParseBool(s); err == nil {
		if b {
			return slog.LevelDebug
		}
		return slog.LevelInfo
	}

	if strings.EqualFold(s, "trace") {
		return LevelTrace
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelDebug
	}

	return level
}

type key string

func Trace(msg string, args ...any) {
	TraceContext(context.WithValue(context.TODO(), key("skip"), 1), msg, args...)
}

func TraceContext(ctx context.Context, msg string, args ...any) {
	if logger := slog.Default(); logger.Enabled(ctx, LevelTrace) {
		skip, _ := ctx.Value(key("skip")).(int)
		pc, _, _, _ := runtime.Caller(1 + skip)
		record := slog.NewRecord(time.Now(), LevelTrace, msg, pc)
		record.Add(args...)
		logger.Handler().Handle(ctx, record)
	}
}
