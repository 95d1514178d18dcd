// Package proctest provides a scripted [proc.Runner] for tests.
package proctest

import (
	"context"
	"fmt"
	"sync"

	"go.jacobcolvin.com/profharness/proc"
)

// Handler simulates one command. It may write to cmd.Stdout or the file
// system before returning.
type Handler func(ctx context.Context, cmd proc.Cmd) (*proc.Result, error)

// Runner dispatches commands to handlers keyed by command name and records
// every call. Commands without a handler succeed with empty output.
type Runner struct {
	handlers map[string]Handler
	calls    []proc.Cmd
	mu       sync.Mutex
}

// New creates an empty [Runner].
func New() *Runner {
	return &Runner{handlers: map[string]Handler{}}
}

// Handle registers h for commands named name.
func (r *Runner) Handle(name string, h Handler) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[name] = h

	return r
}

// Run implements [proc.Runner].
func (r *Runner) Run(ctx context.Context, cmd proc.Cmd) (*proc.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	h := r.handlers[cmd.Name]
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", cmd.Name, err)
	}

	if h == nil {
		return &proc.Result{}, nil
	}

	return h(ctx, cmd)
}

// Calls returns a copy of all recorded commands in order.
func (r *Runner) Calls() []proc.Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]proc.Cmd(nil), r.calls...)
}

// Names returns the recorded command lines.
func (r *Runner) Names() []string {
	var out []string
	for _, c := range r.Calls() {
		out = append(out, c.String())
	}

	return out
}

// Output returns a handler that succeeds with the given stdout.
func Output(stdout string) Handler {
	return func(_ context.Context, cmd proc.Cmd) (*proc.Result, error) {
		if cmd.Stdout != nil {
			_, err := fmt.Fprint(cmd.Stdout, stdout)

			return &proc.Result{}, err
		}

		return &proc.Result{Stdout: []byte(stdout), Output: []byte(stdout)}, nil
	}
}

// Fail returns a handler that exits with code and the given diagnostics.
func Fail(code int, output string) Handler {
	return func(_ context.Context, cmd proc.Cmd) (*proc.Result, error) {
		res := &proc.Result{ExitCode: code, Stderr: []byte(output), Output: []byte(output)}

		return res, &proc.ExitError{Cmd: cmd.String(), ExitCode: code, Output: []byte(output)}
	}
}
