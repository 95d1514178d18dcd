// Package render converts a raw CPU profile into a revision-labeled call graph
// using pprof.
package render

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.jacobcolvin.com/profharness/proc"
	"go.jacobcolvin.com/profharness/profile"
)

var (
	// ErrRender indicates the call graph could not be produced.
	ErrRender = errors.New("render call graph")
	// ErrInvalidGraph indicates the renderer produced output that is not a
	// DOT digraph.
	ErrInvalidGraph = errors.New("invalid graph output")
)

// OutputName returns the graph file name for a revision label.
func OutputName(label string) string {
	return "profile-" + label + ".dot"
}

// Renderer runs pprof to produce DOT call graphs.
//
// Create instances with [NewRenderer].
type Renderer struct {
	runner    proc.Runner
	logger    *slog.Logger
	pprof     string
	outputDir string
}

// Option configures a [Renderer].
type Option func(*Renderer)

// WithPprof sets the renderer executable. Defaults to "pprof".
func WithPprof(name string) Option {
	return func(r *Renderer) {
		r.pprof = name
	}
}

// WithOutputDir sets the directory graphs are written to.
func WithOutputDir(dir string) Option {
	return func(r *Renderer) {
		r.outputDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Renderer) {
		r.logger = l
	}
}

// NewRenderer creates a [Renderer].
func NewRenderer(runner proc.Runner, opts ...Option) *Renderer {
	r := &Renderer{
		runner:    runner,
		logger:    slog.Default(),
		pprof:     "pprof",
		outputDir: ".",
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Args returns the pprof arguments for binary and prof.
func Args(binary string, prof profile.Artifact) []string {
	return []string{"--lines", "--dot", binary, prof.Path}
}

// Render writes the call graph of prof to "profile-<label>.dot" in the output
// directory and returns its path. Output is staged in a temporary file so a
// failed run never leaves a truncated graph behind.
func (r *Renderer) Render(
	ctx context.Context, env proc.Env, binary string, prof profile.Artifact, label string,
) (string, error) {
	if label == "" {
		return "", fmt.Errorf("%w: empty revision label", ErrRender)
	}

	err := prof.Validate()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}

	info, err := os.Stat(binary)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: binary %s not found", ErrRender, binary)
	}

	out := filepath.Join(r.outputDir, OutputName(label))
	tmp := out + ".tmp"

	err = r.renderTo(ctx, env, binary, prof, tmp)
	if err != nil {
		if rmErr := os.Remove(tmp); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			r.logger.Warn("remove partial graph", slog.Any("error", rmErr))
		}

		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}

	err = os.Rename(tmp, out)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}

	r.logger.Info("rendered call graph", slog.String("path", out))

	return out, nil
}

func (r *Renderer) renderTo(ctx context.Context, env proc.Env, binary string, prof profile.Artifact, path string) error {
	//nolint:gosec // Path is derived from the configured output directory.
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create graph file: %w", err)
	}

	w := bufio.NewWriter(f)

	_, err = r.runner.Run(ctx, proc.Cmd{
		Name:   r.pprof,
		Args:   Args(binary, prof),
		Env:    env,
		Stdout: w,
	})
	if err != nil {
		return errors.Join(err, f.Close())
	}

	err = w.Flush()
	if err != nil {
		return errors.Join(fmt.Errorf("write graph: %w", err), f.Close())
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("write graph: %w", err)
	}

	return validateGraph(path)
}

// validateGraph checks that path holds a non-empty DOT digraph.
func validateGraph(path string) error {
	//nolint:gosec // Path is derived from the configured output directory.
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read graph: %w", err)
	}
	defer f.Close()

	head := make([]byte, 512)

	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read graph: %w", err)
	}

	head = bytes.TrimSpace(head[:n])
	if len(head) == 0 {
		return fmt.Errorf("%w: renderer wrote nothing", ErrInvalidGraph)
	}

	if !strings.HasPrefix(string(head), "digraph") {
		line, _, _ := bytes.Cut(head, []byte("\n"))

		return fmt.Errorf("%w: unexpected output %q", ErrInvalidGraph, line)
	}

	return nil
}
