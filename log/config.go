package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Flags holds CLI flag names for log configuration, allowing callers to
// customize flag names while keeping sensible defaults via [NewConfig].
type Flags struct {
	Level  string
	Format string
	File   string
}

// NewConfig creates a new [Config] embedding these flag names.
func (f Flags) NewConfig() *Config {
	return &Config{
		Flags: f,
	}
}

// Config holds CLI flag values for log configuration.
//
// Create instances with [NewConfig] and register CLI flags with
// [Config.RegisterFlags]. Use [Config.NewLogger] to get a logger for a run.
type Config struct {
	Level  string
	Format string
	// File, when set, receives a copy of every entry. It is appended to so
	// that repeated runs in one directory keep their history.
	File  string
	Flags Flags
}

// NewConfig returns a new [Config] with the default flag names.
func NewConfig() *Config {
	f := Flags{
		Level:  "log-level",
		Format: "log-format",
		File:   "log-file",
	}

	return f.NewConfig()
}

// RegisterFlags adds logging flags to the given [*pflag.FlagSet].
func (c *Config) RegisterFlags(flags *pflag.FlagSet) {
	flags.StringVar(&c.Level, c.Flags.Level, "info",
		fmt.Sprintf("log level, one of: %s", GetAllLevelStrings()))
	flags.StringVar(&c.Format, c.Flags.Format, "text",
		fmt.Sprintf("log format, one of: %s", GetAllFormatStrings()))
	flags.StringVar(&c.File, c.Flags.File, "",
		"also append log entries to this file")
}

// RegisterCompletions registers shell completions for log flags on cmd.
func (c *Config) RegisterCompletions(cmd *cobra.Command) error {
	completions := []struct {
		fn   cobra.CompletionFunc
		flag string
	}{
		{
			flag: c.Flags.Level,
			fn:   cobra.FixedCompletions(GetAllLevelStrings(), cobra.ShellCompDirectiveNoFileComp),
		},
		{
			flag: c.Flags.Format,
			fn:   cobra.FixedCompletions(GetAllFormatStrings(), cobra.ShellCompDirectiveNoFileComp),
		},
		{
			flag: c.Flags.File,
			fn:   cobra.FixedCompletions([]string{"log"}, cobra.ShellCompDirectiveFilterFileExt),
		},
	}

	for _, comp := range completions {
		err := cmd.RegisterFlagCompletionFunc(comp.flag, comp.fn)
		if err != nil {
			return fmt.Errorf("registering %s completion: %w", comp.flag, err)
		}
	}

	return nil
}

// NewHandler creates a [Handler] writing to w with the configured level and
// format.
func (c *Config) NewHandler(w io.Writer) (Handler, error) {
	return NewHandlerFromStrings(w, c.Level, c.Format)
}

// NewLogger creates a [*slog.Logger] writing to w. Entries are also
// published to pub when it is non-nil, and appended to [Config.File] when
// one is configured. The returned function closes the log file; call it once
// the run is over.
func (c *Config) NewLogger(w io.Writer, pub *Publisher) (*slog.Logger, func() error, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	format, err := ParseFormat(c.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	closeFile := func() error { return nil }

	writers := []io.Writer{w}
	if pub != nil {
		writers = append(writers, pub)
	}

	if c.File != "" {
		//nolint:gosec // Log path from CLI flag is expected.
		f, err := os.OpenFile(c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}

		writers = append(writers, f)
		closeFile = f.Close
	}

	return slog.New(NewHandler(io.MultiWriter(writers...), level, format)), closeFile, nil
}
