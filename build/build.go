package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.jacobcolvin.com/profharness/proc"
)

// DefaultFeature is the cargo feature enabling CPU profiling in the target.
const DefaultFeature = "cpu-profile"

var (
	// ErrBuild indicates the target could not be compiled.
	ErrBuild = errors.New("build target")
	// ErrNoArtifact indicates the build succeeded but the expected binary is
	// missing.
	ErrNoArtifact = errors.New("build artifact missing")
)

// Artifact is a compiled target binary.
type Artifact struct {
	Path     string
	Features []string
}

// Builder compiles the target with cargo.
//
// Create instances with [NewBuilder].
type Builder struct {
	runner   proc.Runner
	logger   *slog.Logger
	cargo    string
	dir      string
	binary   string
	features []string
}

// Option configures a [Builder].
type Option func(*Builder)

// WithSourceDir sets the source tree. Defaults to the working directory.
func WithSourceDir(dir string) Option {
	return func(b *Builder) {
		b.dir = dir
	}
}

// WithFeatures sets the cargo features to enable.
func WithFeatures(features ...string) Option {
	return func(b *Builder) {
		b.features = features
	}
}

// WithBinary sets the binary name. When empty it is read from Cargo.toml.
func WithBinary(name string) Option {
	return func(b *Builder) {
		b.binary = name
	}
}

// WithCargo overrides the cargo executable.
func WithCargo(path string) Option {
	return func(b *Builder) {
		b.cargo = path
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = l
	}
}

// NewBuilder creates a [Builder] with the cpu-profile feature enabled.
func NewBuilder(runner proc.Runner, opts ...Option) *Builder {
	b := &Builder{
		runner:   runner,
		logger:   slog.Default(),
		cargo:    "cargo",
		dir:      ".",
		features: []string{DefaultFeature},
	}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Args returns the cargo arguments for a release build with the configured
// features.
func (b *Builder) Args() []string {
	args := []string{"build", "--release"}

	features := slices.DeleteFunc(slices.Clone(b.features), func(f string) bool { return f == "" })
	if len(features) > 0 {
		args = append(args, "--features", strings.Join(features, ","))
	}

	return args
}

// Build compiles the target under env. Compiler diagnostics are preserved in
// the returned error. There is no fallback build mode.
func (b *Builder) Build(ctx context.Context, env proc.Env) (*Artifact, error) {
	binary := b.binary
	if binary == "" {
		name, err := BinaryName(filepath.Join(b.dir, "Cargo.toml"))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBuild, err)
		}

		binary = name
	}

	b.logger.Info("building",
		slog.String("binary", binary),
		slog.Any("features", b.features),
	)

	_, err := b.runner.Run(ctx, proc.Cmd{
		Name: b.cargo,
		Args: b.Args(),
		Dir:  b.dir,
		Env:  env,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}

	path := filepath.Join(targetDir(b.dir, env), "release", binary)

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %w: %s", ErrBuild, ErrNoArtifact, path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}

	return &Artifact{Path: abs, Features: slices.Clone(b.features)}, nil
}

// targetDir resolves cargo's output directory for a source tree.
func targetDir(dir string, env proc.Env) string {
	td := env.Get("CARGO_TARGET_DIR")
	if td == "" {
		return filepath.Join(dir, "target")
	}

	if filepath.IsAbs(td) {
		return td
	}

	return filepath.Join(dir, td)
}
