package log

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	charmlog "charm.land/log/v2"
)

// Handler is a [slog.Handler].
type Handler = slog.Handler

// Level is a log severity name.
type Level string

const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
)

// Format represents the log output format.
type Format string

const (
	// FormatJSON outputs logs as JSON objects.
	FormatJSON Format = "json"
	// FormatLogfmt outputs logs in logfmt format.
	FormatLogfmt Format = "logfmt"
	// FormatText outputs human-readable, colorized logs when w is a
	// terminal.
	FormatText Format = "text"
)

var (
	// ErrInvalidArgument indicates an invalid argument was provided.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnknownLogLevel indicates an unrecognized log level string.
	ErrUnknownLogLevel = errors.New("unknown log level")
	// ErrUnknownLogFormat indicates an unrecognized log format string.
	ErrUnknownLogFormat = errors.New("unknown log format")
)

var (
	allLevels  = []Level{LevelError, LevelWarn, LevelInfo, LevelDebug}
	allFormats = []Format{FormatJSON, FormatLogfmt, FormatText}
)

// GetAllLevelStrings returns every accepted level name.
func GetAllLevelStrings() []string {
	out := make([]string, 0, len(allLevels))
	for _, l := range allLevels {
		out = append(out, string(l))
	}

	return out
}

// GetAllFormatStrings returns every accepted format name.
func GetAllFormatStrings() []string {
	out := make([]string, 0, len(allFormats))
	for _, f := range allFormats {
		out = append(out, string(f))
	}

	return out
}

// NewHandlerFromStrings creates a [Handler] from level and format names.
func NewHandlerFromStrings(w io.Writer, level, format string) (Handler, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	f, err := ParseFormat(format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	return NewHandler(w, lvl, f), nil
}

// NewHandler creates a [Handler] writing to w at the given level and format.
// Unknown formats fall back to [FormatJSON].
func NewHandler(w io.Writer, level Level, format Format) Handler {
	lvl := level.slogLevel()

	switch format {
	case FormatText:
		return charmlog.NewWithOptions(w, charmlog.Options{
			Level:           charmlog.Level(lvl),
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
		})

	case FormatLogfmt:
		return slog.NewTextHandler(w, &slog.HandlerOptions{
			AddSource: true,
			Level:     lvl,
		})

	case FormatJSON:
	}

	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: true,
		Level:     lvl,
	})
}

// ParseLevel parses a log level name, case-insensitively. "warning" is
// accepted as [LevelWarn].
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownLogLevel, level)
}

// ParseFormat parses a log format name, case-insensitively.
func ParseFormat(format string) (Format, error) {
	f := Format(strings.ToLower(format))
	for _, known := range allFormats {
		if f == known {
			return f, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownLogFormat, format)
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelError:
		return slog.LevelError
	case LevelWarn:
		return slog.LevelWarn
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
	}

	return slog.LevelInfo
}
