// Package execute runs an instrumented target binary against a fixed
// workload so it writes a profile as a side effect.
//
// The profiler library is linked dynamically, so the library search path of
// the run must include the directory it was installed into. [Executor.Execute]
// checks this before starting the process and fails with [ErrLink] instead of
// letting the loader abort the target; loader failures that still happen at
// process start are classified as [ErrLink] too. Every other unsuccessful run
// is an [ErrExecution]. Runs are never retried.
package execute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mattn/go-shellwords"

	"go.jacobcolvin.com/profharness/proc"
	"go.jacobcolvin.com/profharness/profile"
	"go.jacobcolvin.com/profharness/provision"
)

var (
	// ErrLink indicates the profiler library could not be resolved by the
	// dynamic linker.
	ErrLink = errors.New("link profiler library")
	// ErrExecution indicates the target exited unsuccessfully or wrote no
	// profile.
	ErrExecution = errors.New("execute target")
	// ErrWorkload indicates the workload arguments could not be parsed.
	ErrWorkload = errors.New("invalid workload")
)

// loaderExitCode is the status the dynamic loader exits with when a shared
// library cannot be loaded.
const loaderExitCode = 127

// loaderDiagnostics are substrings emitted by dynamic loaders when a library
// is missing at process start.
var loaderDiagnostics = []string{
	"error while loading shared libraries",
	"cannot open shared object file",
	"Library not loaded",
	"dyld: Symbol not found",
}

// Workload is the fixed argument list passed to the target. It is opaque to
// the harness.
type Workload struct {
	Args []string
}

// ParseWorkload splits a shell-quoted argument string such as "-k 14 greedy".
func ParseWorkload(s string) (Workload, error) {
	args, err := shellwords.Parse(s)
	if err != nil {
		return Workload{}, fmt.Errorf("%w: %q: %w", ErrWorkload, s, err)
	}

	return Workload{Args: args}, nil
}

// String returns the arguments joined with spaces.
func (w Workload) String() string {
	return strings.Join(w.Args, " ")
}

// Executor runs the target.
//
// Create instances with [NewExecutor].
type Executor struct {
	runner        proc.Runner
	logger        *slog.Logger
	profile       profile.Artifact
	searchPathVar string
	libDir        string
	library       provision.Tool
	workload      Workload
}

// Option configures an [Executor].
type Option func(*Executor)

// WithWorkload sets the workload arguments.
func WithWorkload(w Workload) Option {
	return func(e *Executor) {
		e.workload = w
	}
}

// WithProfile sets the profile the target is expected to write.
func WithProfile(a profile.Artifact) Option {
	return func(e *Executor) {
		e.profile = a
	}
}

// WithLibrary sets the profiler library that must be resolvable from libDir.
func WithLibrary(tool provision.Tool, libDir string) Option {
	return func(e *Executor) {
		e.library = tool
		e.libDir = libDir
	}
}

// WithSearchPathVar overrides the library search path variable.
func WithSearchPathVar(name string) Option {
	return func(e *Executor) {
		e.searchPathVar = name
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// NewExecutor creates an [Executor] requiring the gperftools profiler from
// the default install prefix.
func NewExecutor(runner proc.Runner, opts ...Option) *Executor {
	e := &Executor{
		runner:        runner,
		logger:        slog.Default(),
		profile:       profile.Artifact{Path: "greedy.profile"},
		searchPathVar: proc.HostLibrarySearchPathVar(),
		library:       provision.Gperftools,
		libDir:        filepath.Join(provision.DefaultPrefix, "lib"),
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Profile returns the artifact the run writes.
func (e *Executor) Profile() profile.Artifact {
	return e.profile
}

// Execute runs binary under env and returns the profile it wrote. The
// target's working directory is the profile's directory.
func (e *Executor) Execute(ctx context.Context, binary string, env proc.Env) (profile.Artifact, error) {
	err := e.profile.Remove()
	if err != nil {
		return profile.Artifact{}, fmt.Errorf("%w: %w", ErrExecution, err)
	}

	err = e.checkLinkable(env)
	if err != nil {
		return profile.Artifact{}, err
	}

	e.logger.Info("running workload",
		slog.String("binary", binary),
		slog.String("workload", e.workload.String()),
	)

	res, err := e.runner.Run(ctx, proc.Cmd{
		Name: binary,
		Args: e.workload.Args,
		Dir:  filepath.Dir(e.profile.Path),
		Env:  env,
	})
	if err != nil {
		if isLinkFailure(res, err) {
			return profile.Artifact{}, fmt.Errorf("%w: %w", ErrLink, err)
		}

		return profile.Artifact{}, fmt.Errorf("%w: %w", ErrExecution, err)
	}

	err = e.profile.Validate()
	if err != nil {
		return profile.Artifact{}, fmt.Errorf("%w: target exited 0 but %w", ErrExecution, err)
	}

	return e.profile, nil
}

// checkLinkable verifies the search path contains the library directory and
// that the profiler library is present there.
func (e *Executor) checkLinkable(env proc.Env) error {
	if e.libDir == "" {
		return nil
	}

	dirs := env.List(e.searchPathVar)
	if !slices.ContainsFunc(dirs, func(d string) bool { return filepath.Clean(d) == filepath.Clean(e.libDir) }) {
		return fmt.Errorf("%w: %s does not include %s (%s=%q)",
			ErrLink, e.searchPathVar, e.libDir, e.searchPathVar, strings.Join(dirs, ":"))
	}

	if !e.library.LibraryInstalled(e.libDir) {
		return fmt.Errorf("%w: %s not found in %s", ErrLink, e.library.Library, e.libDir)
	}

	return nil
}

func isLinkFailure(res *proc.Result, err error) bool {
	var exitErr *proc.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}

	out := string(exitErr.Output)
	if res != nil && len(res.Stderr) > 0 {
		out = string(res.Stderr)
	}

	for _, d := range loaderDiagnostics {
		if strings.Contains(out, d) {
			return true
		}
	}

	return exitErr.ExitCode == loaderExitCode && strings.Contains(out, ".so")
}
