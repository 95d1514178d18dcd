// Package toolchain selects the compiler toolchain channel used by the build
// stage.
//
// Selection does not change any global default. [Selector.Select] checks that
// the channel is installed and returns an environment carrying
// RUSTUP_TOOLCHAIN, which every later build invocation must use.
package toolchain

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.jacobcolvin.com/profharness/proc"
)

// EnvVar is the variable rustup proxies read to pick a toolchain.
const EnvVar = "RUSTUP_TOOLCHAIN"

// DefaultChannel is the channel the cpu-profile feature needs.
const DefaultChannel = "nightly"

var (
	// ErrToolchain indicates the requested channel is missing or could not be
	// activated.
	ErrToolchain = errors.New("select toolchain")
	// ErrNotInstalled indicates the channel is not installed.
	ErrNotInstalled = errors.New("toolchain not installed")
)

// Selector activates toolchain channels through rustup.
//
// Create instances with [NewSelector].
type Selector struct {
	runner  proc.Runner
	logger  *slog.Logger
	rustup  string
	rustc   string
	install bool
}

// Option configures a [Selector].
type Option func(*Selector)

// WithInstall makes Select install a missing channel instead of failing.
func WithInstall(install bool) Option {
	return func(s *Selector) {
		s.install = install
	}
}

// WithRustup overrides the rustup executable.
func WithRustup(path string) Option {
	return func(s *Selector) {
		s.rustup = path
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Selector) {
		s.logger = l
	}
}

// NewSelector creates a [Selector].
func NewSelector(runner proc.Runner, opts ...Option) *Selector {
	s := &Selector{
		runner: runner,
		logger: slog.Default(),
		rustup: "rustup",
		rustc:  "rustc",
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Select verifies channel is installed (installing it when enabled) and
// returns env with the channel activated. The activation is confirmed by
// running rustc under the returned environment.
func (s *Selector) Select(ctx context.Context, channel string, env proc.Env) (proc.Env, error) {
	if channel == "" {
		return nil, fmt.Errorf("%w: empty channel", ErrToolchain)
	}

	installed, err := s.installed(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrToolchain, err)
	}

	if !hasChannel(installed, channel) {
		if !s.install {
			return nil, fmt.Errorf("%w: %w: %s (installed: %s)",
				ErrToolchain, ErrNotInstalled, channel, strings.Join(installed, ", "))
		}

		s.logger.Info("installing toolchain", slog.String("channel", channel))

		_, err = s.runner.Run(ctx, proc.Cmd{
			Name: s.rustup,
			Args: []string{"toolchain", "install", channel, "--profile", "minimal"},
			Env:  env,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: install %s: %w", ErrToolchain, channel, err)
		}
	}

	active := env.Set(EnvVar, channel)

	res, err := s.runner.Run(ctx, proc.Cmd{Name: s.rustc, Args: []string{"--version"}, Env: active})
	if err != nil {
		return nil, fmt.Errorf("%w: activate %s: %w", ErrToolchain, channel, err)
	}

	s.logger.Info("toolchain selected",
		slog.String("channel", channel),
		slog.String("rustc", strings.TrimSpace(string(res.Stdout))),
	)

	return active, nil
}

// installed lists toolchain names, without the "(default)" style markers.
func (s *Selector) installed(ctx context.Context, env proc.Env) ([]string, error) {
	res, err := s.runner.Run(ctx, proc.Cmd{Name: s.rustup, Args: []string{"toolchain", "list"}, Env: env})
	if err != nil {
		return nil, fmt.Errorf("list toolchains: %w", err)
	}

	var names []string

	sc := bufio.NewScanner(bytes.NewReader(res.Stdout))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || fields[0] == "no" {
			// "no installed toolchains"
			continue
		}

		names = append(names, fields[0])
	}

	return names, nil
}

// hasChannel reports whether channel matches an installed toolchain, either
// exactly or as the channel part of a host-qualified name such as
// "nightly-x86_64-unknown-linux-gnu".
func hasChannel(installed []string, channel string) bool {
	for _, name := range installed {
		if name == channel || strings.HasPrefix(name, channel+"-") {
			return true
		}
	}

	return false
}
