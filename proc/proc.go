package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// waitDelay bounds how long Run waits for output pipes held open by orphaned
// grandchildren after the process itself has been killed.
const waitDelay = 2 * time.Second

var (
	// ErrNotFound indicates the executable could not be located.
	ErrNotFound = errors.New("executable not found")
	// ErrExit indicates the process ran but exited unsuccessfully.
	ErrExit = errors.New("process exited unsuccessfully")
)

// Cmd describes a single subprocess invocation.
type Cmd struct {
	// Stdout, when set, receives the process's standard output instead of
	// the captured [Result.Stdout] buffer.
	Stdout io.Writer
	Name   string
	Dir    string
	Args   []string
	// Env is the complete environment of the process. A nil Env runs the
	// process with an empty environment.
	Env Env
}

// String returns the command line as it would be typed in a shell.
func (c Cmd) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result holds the outcome of a finished subprocess.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	Output   []byte // Interleaved stdout and stderr.
	ExitCode int
	Duration time.Duration
}

// ExitError is returned when a process exits non-zero or is killed by a
// signal. Output holds the process's interleaved stdout and stderr exactly as
// written so tool diagnostics can be surfaced verbatim.
type ExitError struct {
	Cmd      string
	Output   []byte
	ExitCode int
}

// Error includes the captured output verbatim.
func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", e.Cmd, e.ExitCode)
	if e.ExitCode < 0 {
		msg = e.Cmd + ": terminated by signal"
	}

	out := strings.TrimRight(string(e.Output), "\n")
	if out == "" {
		return msg
	}

	return msg + "\n" + out
}

// Unwrap returns [ErrExit].
func (e *ExitError) Unwrap() error { return ErrExit }

// Runner executes subprocesses. Implementations must block until the process
// exits or ctx is done.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) (*Result, error)
}

// ExecRunner runs commands with [os/exec].
//
// Create instances with [NewExecRunner].
type ExecRunner struct {
	logger *slog.Logger
	stream io.Writer
}

// ExecRunnerOption configures an [ExecRunner].
type ExecRunnerOption func(*ExecRunner)

// WithLogger sets the logger used for command tracing.
func WithLogger(l *slog.Logger) ExecRunnerOption {
	return func(r *ExecRunner) {
		r.logger = l
	}
}

// WithStream copies all subprocess output to w as it is produced.
func WithStream(w io.Writer) ExecRunnerOption {
	return func(r *ExecRunner) {
		r.stream = w
	}
}

// NewExecRunner creates an [ExecRunner].
func NewExecRunner(opts ...ExecRunnerOption) *ExecRunner {
	r := &ExecRunner{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run starts cmd and waits for it. A non-zero exit yields an [*ExitError];
// when ctx ends first the returned error wraps ctx.Err() together with the
// [*ExitError] so both the cause and the output survive.
func (r *ExecRunner) Run(ctx context.Context, cmd Cmd) (*Result, error) {
	path := cmd.Name

	// Names containing a separator resolve against cmd.Dir at start.
	if !strings.ContainsRune(cmd.Name, '/') {
		var err error

		path, err = lookPath(cmd.Name, cmd.Env)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrNotFound, cmd.Name, err)
		}
	}

	//nolint:gosec // Commands are assembled from operator configuration.
	c := exec.CommandContext(ctx, path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = []string(cmd.Env)
	c.WaitDelay = waitDelay

	if c.Env == nil {
		c.Env = []string{}
	}

	var (
		stdout, stderr bytes.Buffer
		combined       lockedBuffer
	)

	outSinks := []io.Writer{&combined}
	errSinks := []io.Writer{&stderr, &combined}

	if cmd.Stdout != nil {
		outSinks = append(outSinks, cmd.Stdout)
	} else {
		outSinks = append(outSinks, &stdout)
	}

	if r.stream != nil {
		stream := &lockedWriter{w: r.stream}
		outSinks = append(outSinks, stream)
		errSinks = append(errSinks, stream)
	}

	c.Stdout = io.MultiWriter(outSinks...)
	c.Stderr = io.MultiWriter(errSinks...)

	r.logger.Debug("exec", slog.String("cmd", cmd.String()), slog.String("dir", cmd.Dir))

	start := time.Now()
	err := c.Run()

	res := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Output:   combined.Bytes(),
		ExitCode: c.ProcessState.ExitCode(),
		Duration: time.Since(start),
	}

	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("%s: %w", cmd.Name, ctxErr)
		}

		return res, fmt.Errorf("running %s: %w", cmd.Name, err)
	}

	procErr := &ExitError{
		Cmd:      cmd.String(),
		ExitCode: exitErr.ExitCode(),
		Output:   res.Output,
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%w: %w", ctxErr, procErr)
	}

	return res, procErr
}

// lockedBuffer is a [bytes.Buffer] safe for the concurrent stdout and stderr
// copy goroutines of [os/exec].
type lockedBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	return bytes.Clone(b.buf.Bytes())
}

type lockedWriter struct {
	w  io.Writer
	mu sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.w.Write(p)
}

// lookPath resolves name against the PATH of env, falling back to the
// process PATH when env does not set one.
func lookPath(name string, env Env) (string, error) {
	dirs := env.List("PATH")
	if len(dirs) == 0 {
		return exec.LookPath(name)
	}

	for _, dir := range dirs {
		path := filepath.Join(dir, name)

		info, err := os.Stat(path)
		if err != nil || info.IsDir() || info.Mode()&0o111 == 0 {
			continue
		}

		return path, nil
	}

	return "", exec.ErrNotFound
}
