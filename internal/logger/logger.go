package logger

import (
	"context"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
)

var base = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// Init switches the process logger to JSON lines on stdout at the given level.
// It must be called before any goroutine logs.
func Init(level string) {
	base = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
	slog.SetDefault(base)

	base.Info("logger initialized", "level", ParseLevel(level).String())
}

// ParseLevel maps a config string to a slog level. Unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Debug(msg string, fields map[string]any) {
	emit(slog.LevelDebug, msg, fields)
}

func Info(msg string, fields map[string]any) {
	emit(slog.LevelInfo, msg, fields)
}

func Warn(msg string, fields map[string]any) {
	emit(slog.LevelWarn, msg, fields)
}

func Error(msg string, fields map[string]any) {
	emit(slog.LevelError, msg, fields)
}

func Fatal(msg string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["fatal"] = true
	emit(slog.LevelError, msg, fields)
	os.Exit(1)
}

func emit(level slog.Level, msg string, fields map[string]any) {
	ctx := context.Background()
	if !base.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, len(fields))
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}
	base.LogAttrs(ctx, level, msg, attrs...)
}
