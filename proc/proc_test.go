package proc_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.jacobcolvin.com/profharness/proc"
)

func TestExecRunnerRun(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		script     string
		wantStdout string
		wantOutput string
		wantCode   int
		wantErr    bool
	}{
		"success": {
			script:     "echo hello",
			wantStdout: "hello\n",
			wantOutput: "hello\n",
		},
		"stderr captured verbatim": {
			script:     "echo 'error[E0425]: cannot find value' >&2; exit 101",
			wantOutput: "error[E0425]: cannot find value\n",
			wantCode:   101,
			wantErr:    true,
		},
		"env is explicit": {
			script:     `echo "$HARNESS_PROBE"`,
			wantStdout: "set\n",
			wantOutput: "set\n",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			env := proc.Environ().Set("HARNESS_PROBE", "set")
			r := proc.NewExecRunner()

			res, err := r.Run(context.Background(), proc.Cmd{
				Name: "sh",
				Args: []string{"-c", tc.script},
				Env:  env,
			})
			require.NotNil(t, res)

			if tc.wantErr {
				var exitErr *proc.ExitError

				require.ErrorAs(t, err, &exitErr)
				require.ErrorIs(t, err, proc.ErrExit)
				assert.Equal(t, tc.wantCode, exitErr.ExitCode)
				assert.Contains(t, err.Error(), strings.TrimSpace(tc.wantOutput))
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, tc.wantStdout, string(res.Stdout))
			assert.Equal(t, tc.wantOutput, string(res.Output))
			assert.Equal(t, tc.wantCode, res.ExitCode)
		})
	}
}

func TestExecRunnerStdoutRedirect(t *testing.T) {
	t.Parallel()

	var out, stream bytes.Buffer

	r := proc.NewExecRunner(proc.WithStream(&stream))

	res, err := r.Run(context.Background(), proc.Cmd{
		Name:   "sh",
		Args:   []string{"-c", "echo digraph; echo warn >&2"},
		Env:    proc.Environ(),
		Stdout: &out,
	})
	require.NoError(t, err)

	assert.Equal(t, "digraph\n", out.String())
	assert.Empty(t, res.Stdout, "redirected stdout should not be buffered")
	assert.Equal(t, "warn\n", string(res.Stderr))
	assert.Contains(t, stream.String(), "digraph")
	assert.Contains(t, stream.String(), "warn")
}

func TestExecRunnerNotFound(t *testing.T) {
	t.Parallel()

	r := proc.NewExecRunner()

	_, err := r.Run(context.Background(), proc.Cmd{
		Name: "definitely-not-a-real-binary-xyz",
		Env:  proc.Environ(),
	})
	require.ErrorIs(t, err, proc.ErrNotFound)
}

func TestExecRunnerRelativePath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := filepath.Join(dir, "configure")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho configured\n"), 0o755))

	r := proc.NewExecRunner()

	res, err := r.Run(context.Background(), proc.Cmd{
		Name: "./configure",
		Dir:  dir,
		Env:  proc.Environ(),
	})
	require.NoError(t, err)
	assert.Equal(t, "configured\n", string(res.Stdout))
}

func TestExecRunnerDeadline(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	r := proc.NewExecRunner()

	_, err := r.Run(ctx, proc.Cmd{
		Name: "sh",
		Args: []string{"-c", "exec sleep 5"},
		Env:  proc.Environ(),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestExitErrorMessage(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		err  *proc.ExitError
		want string
	}{
		"with output": {
			err:  &proc.ExitError{Cmd: "cargo build", ExitCode: 101, Output: []byte("boom\n")},
			want: "cargo build: exit status 101\nboom",
		},
		"without output": {
			err:  &proc.ExitError{Cmd: "make", ExitCode: 2},
			want: "make: exit status 2",
		},
		"signal": {
			err:  &proc.ExitError{Cmd: "target", ExitCode: -1},
			want: "target: terminated by signal",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, tc.err.Error())
		})
	}
}
