package toolchain_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.jacobcolvin.com/profharness/proc"
	"go.jacobcolvin.com/profharness/proc/proctest"
	"go.jacobcolvin.com/profharness/stringtest"
	"go.jacobcolvin.com/profharness/toolchain"
)

var toolchainList = stringtest.Lines(
	"stable-x86_64-unknown-linux-gnu (default)",
	"nightly-x86_64-unknown-linux-gnu",
)

func TestSelect(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		list     string
		channel  string
		install  bool
		wantCmds []string
		wantErr  error
	}{
		"installed": {
			list:    toolchainList,
			channel: "nightly",
			wantCmds: []string{
				"rustup toolchain list",
				"rustc --version",
			},
		},
		"dated channel": {
			list:    "nightly-2019-07-01-x86_64-unknown-linux-gnu\n",
			channel: "nightly-2019-07-01",
			wantCmds: []string{
				"rustup toolchain list",
				"rustc --version",
			},
		},
		"missing": {
			list:    "stable-x86_64-unknown-linux-gnu (default)\n",
			channel: "nightly",
			wantErr: toolchain.ErrNotInstalled,
			wantCmds: []string{
				"rustup toolchain list",
			},
		},
		"no toolchains": {
			list:    "no installed toolchains\n",
			channel: "nightly",
			wantErr: toolchain.ErrNotInstalled,
			wantCmds: []string{
				"rustup toolchain list",
			},
		},
		"missing with install": {
			list:    "stable-x86_64-unknown-linux-gnu (default)\n",
			channel: "nightly",
			install: true,
			wantCmds: []string{
				"rustup toolchain list",
				"rustup toolchain install nightly --profile minimal",
				"rustc --version",
			},
		},
		"prefix is not a match": {
			list:    "nightlyish\n",
			channel: "nightly",
			wantErr: toolchain.ErrNotInstalled,
			wantCmds: []string{
				"rustup toolchain list",
			},
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			runner := proctest.New().
				Handle("rustup", func(ctx context.Context, cmd proc.Cmd) (*proc.Result, error) {
					if cmd.Args[0] == "toolchain" && cmd.Args[1] == "list" {
						return proctest.Output(tc.list)(ctx, cmd)
					}

					return &proc.Result{}, nil
				}).
				Handle("rustc", proctest.Output("rustc 1.40.0-nightly\n"))

			s := toolchain.NewSelector(runner, toolchain.WithInstall(tc.install))

			env, err := s.Select(context.Background(), tc.channel, proc.Env{"PATH=/usr/bin"})
			assert.Equal(t, tc.wantCmds, runner.Names())

			if tc.wantErr != nil {
				require.ErrorIs(t, err, toolchain.ErrToolchain)
				require.ErrorIs(t, err, tc.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.channel, env.Get(toolchain.EnvVar))
			assert.Equal(t, "/usr/bin", env.Get("PATH"))

			calls := runner.Calls()
			assert.Equal(t, tc.channel, calls[len(calls)-1].Env.Get(toolchain.EnvVar),
				"rustc must run under the selected toolchain")
		})
	}
}

func TestSelectActivationFails(t *testing.T) {
	t.Parallel()

	runner := proctest.New().
		Handle("rustup", proctest.Output(toolchainList)).
		Handle("rustc", proctest.Fail(1, "error: toolchain 'nightly' is not installed\n"))

	s := toolchain.NewSelector(runner)

	_, err := s.Select(context.Background(), "nightly", proc.Env{})
	require.ErrorIs(t, err, toolchain.ErrToolchain)
	require.ErrorIs(t, err, proc.ErrExit)
	assert.Contains(t, err.Error(), "error: toolchain 'nightly' is not installed")
}

func TestSelectEmptyChannel(t *testing.T) {
	t.Parallel()

	_, err := toolchain.NewSelector(proctest.New()).Select(context.Background(), "", proc.Env{})
	require.ErrorIs(t, err, toolchain.ErrToolchain)
}
