// Package log provides structured logging handler construction for use with
// [log/slog].
//
// It supports multiple output formats ([FormatJSON], [FormatLogfmt], and
// [FormatText]) and severity levels ([LevelError], [LevelWarn], [LevelInfo],
// and [LevelDebug]). [FormatText] is rendered by [charm.land/log/v2] and is
// meant for people watching a terminal; the other formats are meant for
// machines. Use [NewHandler] to create a handler directly, or use [Config]
// with CLI flag integration via [github.com/spf13/pflag] and shell
// completion support via [github.com/spf13/cobra].
//
// Typical usage creates a [Config], registers flags, then builds a logger
// at startup:
//
//	cfg := log.NewConfig()
//	cfg.RegisterFlags(rootCmd.PersistentFlags())
//	cfg.RegisterCompletions(rootCmd)
//
//	logger, closeLog, err := cfg.NewLogger(os.Stderr, nil)
//	defer closeLog()
//
// With --log-file set, every entry is also appended to that file, which keeps
// a record of each run next to the graphs it produced.
//
// A [Publisher] fans out written output to multiple subscribers one line at
// a time. The harness uses it to feed both log entries and subprocess output
// into the progress view:
//
//	pub := log.NewPublisher()
//	logger, closeLog, err := cfg.NewLogger(io.Discard, pub)
//	runner := proc.NewExecRunner(proc.WithStream(pub))
//
//	sub := pub.Subscribe()
//	go func() {
//	    for line := range sub.C() {
//	        // Deliver line to the TUI.
//	    }
//	}()
package log
