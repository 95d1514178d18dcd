package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.jacobcolvin.com/profharness/build"
	"go.jacobcolvin.com/profharness/pipeline"
	"go.jacobcolvin.com/profharness/proc"
	"go.jacobcolvin.com/profharness/proc/proctest"
	"go.jacobcolvin.com/profharness/provision"
	"go.jacobcolvin.com/profharness/stringtest"
)

var dotGraph = stringtest.Lines(`digraph "drg-attacks" {`, `N1 [label="greedy"]`, "}")

func parseConfig(t *testing.T, args ...string) *pipeline.Config {
	t.Helper()

	cfg := pipeline.NewConfig()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.RegisterFlags(flags)
	require.NoError(t, flags.Parse(args))

	return cfg
}

func TestParseFile(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		input   string
		want    *pipeline.File
		wantErr bool
	}{
		"full": {
			input: stringtest.Input(`
				toolchain: nightly-2024-05-01
				features: [cpu-profile, jemalloc]
				workload: "-k 16 greedy"
				timeouts:
				  build: 30m
				  execute: 10m
				tools:
				  - name: libunwind
				    version: 1.6.2
				  - name: gperftools
				    version: "2.10"
				    configureArgs: [--enable-frame-pointers]
			`),
			want: &pipeline.File{
				Toolchain: "nightly-2024-05-01",
				Features:  []string{"cpu-profile", "jemalloc"},
				Workload:  "-k 16 greedy",
				Timeouts:  map[string]string{"build": "30m", "execute": "10m"},
				Tools: []provision.Tool{
					{Name: "libunwind", Version: "1.6.2"},
					{Name: "gperftools", Version: "2.10", ConfigureArgs: []string{"--enable-frame-pointers"}},
				},
			},
		},
		"empty document": {
			input: "",
			want:  &pipeline.File{},
		},
		"unknown key": {
			input:   "toolchian: nightly\n",
			wantErr: true,
		},
		"unknown tool key": {
			input: stringtest.Input(`
				tools:
				  - name: libunwind
				    version: 1.6.2
				    sha: abc
			`),
			wantErr: true,
		},
		"tool without version": {
			input:   "tools:\n  - name: libunwind\n",
			wantErr: true,
		},
		"wrong type": {
			input:   "jobs: many\n",
			wantErr: true,
		},
		"invalid yaml": {
			input:   "features: [cpu-profile\n",
			wantErr: true,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := pipeline.ParseFile([]byte(tc.input))
			if tc.wantErr {
				require.ErrorIs(t, err, pipeline.ErrConfig)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestConfigLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "profharness.yaml")
	require.NoError(t, os.WriteFile(path, []byte(stringtest.Input(`
		toolchain: nightly-2024-05-01
		workload: "-k 16 greedy"
		outputDir: /tmp/graphs
		profileName: baseline
		sampleFrequency: 250
		markDirty: true
	`)), 0o644))

	cfg := parseConfig(t, "--config", path, "--workload", "-k 14 greedy")
	require.NoError(t, cfg.Load())

	assert.Equal(t, "nightly-2024-05-01", cfg.Toolchain)
	assert.Equal(t, "-k 14 greedy", cfg.Workload, "explicit flag must win over the file")
	assert.Equal(t, "/tmp/graphs", cfg.OutputDir)
	assert.Equal(t, "baseline", cfg.Profile.Name)
	assert.Equal(t, 250, cfg.Profile.Frequency)
	assert.True(t, cfg.MarkDirty)
	assert.Equal(t, []string{build.DefaultFeature}, cfg.Features)
}

func TestConfigLoadErrors(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		file string
		args []string
	}{
		"missing file": {
			args: []string{"--config", "/nonexistent/profharness.yaml"},
		},
		"unknown stage timeout": {
			file: "timeouts:\n  deploy: 5m\n",
		},
		"bad duration": {
			file: "timeouts:\n  build: soon\n",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			args := tc.args
			if tc.file != "" {
				path := filepath.Join(t.TempDir(), "profharness.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tc.file), 0o644))

				args = []string{"--config", path}
			}

			cfg := parseConfig(t, args...)
			require.ErrorIs(t, cfg.Load(), pipeline.ErrConfig)
		})
	}
}

func TestParseTimeouts(t *testing.T) {
	t.Parallel()

	cfg := parseConfig(t, "--timeout", "build=30m,Execute=90s")

	got, err := cfg.ParseTimeouts()
	require.NoError(t, err)
	assert.Equal(t, map[pipeline.Stage]time.Duration{
		pipeline.StageBuild:   30 * time.Minute,
		pipeline.StageExecute: 90 * time.Second,
	}, got)
}

func TestSchema(t *testing.T) {
	t.Parallel()

	schema, err := pipeline.Schema()
	require.NoError(t, err)

	assert.Equal(t, "profharness configuration", schema.Title)
	assert.Contains(t, schema.Properties, "timeouts")
	assert.Contains(t, schema.Properties, "tools")
	require.NotNil(t, schema.AdditionalProperties)
}

func TestRegisterCompletions(t *testing.T) {
	t.Parallel()

	cfg := pipeline.NewConfig()
	cmd := &cobra.Command{Use: "run"}
	cfg.RegisterFlags(cmd.Flags())
	require.NoError(t, cfg.RegisterCompletions(cmd))

	fn, ok := cmd.GetFlagCompletionFunc("timeout")
	require.True(t, ok)

	values, directive := fn(cmd, nil, "")
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
	assert.Contains(t, values, "build=")

	_, ok = cmd.GetFlagCompletionFunc("profile-dir")
	assert.True(t, ok)
}

// project lays out a source tree, an install prefix with the profiler
// installed, and a scripted toolchain.
type project struct {
	src    string
	prefix string
	work   string
	out    string
}

func newProject(t *testing.T) project {
	t.Helper()

	p := project{src: t.TempDir(), prefix: t.TempDir(), work: t.TempDir(), out: t.TempDir()}

	require.NoError(t, os.WriteFile(filepath.Join(p.src, "Cargo.toml"),
		[]byte(stringtest.Lines("[package]", `name = "drg-attacks"`, `version = "0.1.0"`)), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(p.prefix, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(p.prefix, "lib", "libprofiler.so.0"), []byte("elf"), 0o644))

	return p
}

func (p project) binary() string {
	return filepath.Join(p.src, "target", "release", "drg-attacks")
}

func (p project) runner(t *testing.T) *proctest.Runner {
	t.Helper()

	return proctest.New().
		Handle("rustup", proctest.Output(stringtest.Lines(
			"stable-x86_64-unknown-linux-gnu",
			"nightly-x86_64-unknown-linux-gnu (default)",
		))).
		Handle("rustc", proctest.Output("rustc 1.80.0-nightly\n")).
		Handle("cargo", func(_ context.Context, cmd proc.Cmd) (*proc.Result, error) {
			bin := filepath.Join(cmd.Dir, "target", "release", "drg-attacks")
			if err := os.MkdirAll(filepath.Dir(bin), 0o755); err != nil {
				return nil, err
			}

			return &proc.Result{}, os.WriteFile(bin, []byte("elf"), 0o755)
		}).
		Handle(p.binary(), func(_ context.Context, cmd proc.Cmd) (*proc.Result, error) {
			return &proc.Result{}, os.WriteFile(filepath.Join(cmd.Dir, "greedy.profile"), []byte("samples"), 0o644)
		}).
		Handle("git", proctest.Output("abc1234\n")).
		Handle("pprof", proctest.Output(dotGraph))
}

func (p project) args() []string {
	return []string{
		"--skip-provision",
		"--prefix", p.prefix,
		"--source-dir", p.src,
		"--output-dir", p.out,
		"--profile-dir", p.work,
	}
}

func TestNewPipelineEndToEnd(t *testing.T) {
	t.Parallel()

	p := newProject(t)
	runner := p.runner(t)
	cfg := parseConfig(t, p.args()...)

	pl, err := cfg.NewPipeline(runner, discardLogger(), pipeline.WithEnv(proc.Env{"PATH=/usr/bin"}))
	require.NoError(t, err)

	res, err := pl.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(p.out, "profile-abc1234.dot"), res.Graph)
	assert.Equal(t, "abc1234", res.Revision)

	data, err := os.ReadFile(res.Graph)
	require.NoError(t, err)
	assert.Equal(t, dotGraph, string(data))

	assert.Equal(t, []string{
		"rustup toolchain list",
		"rustc --version",
		"cargo build --release --features cpu-profile",
		p.binary() + " -k 14 greedy",
		"git rev-parse --short HEAD",
		"pprof --lines --dot " + p.binary() + " " + filepath.Join(p.work, "greedy.profile"),
	}, runner.Names())

	for _, c := range runner.Calls() {
		if c.Name == p.binary() {
			assert.Contains(t, c.Env.List(proc.HostLibrarySearchPathVar()), filepath.Join(p.prefix, "lib"))
			assert.Equal(t, "nightly", c.Env.Get("RUSTUP_TOOLCHAIN"))
		}
	}
}

func TestNewPipelineBuildFailure(t *testing.T) {
	t.Parallel()

	p := newProject(t)
	runner := p.runner(t).Handle("cargo",
		proctest.Fail(101, "error[E0433]: failed to resolve: use of undeclared crate `gperftools`\n"))
	cfg := parseConfig(t, p.args()...)

	pl, err := cfg.NewPipeline(runner, discardLogger(), pipeline.WithEnv(proc.Env{"PATH=/usr/bin"}))
	require.NoError(t, err)

	_, err = pl.Run(context.Background())
	require.ErrorIs(t, err, build.ErrBuild)
	assert.Contains(t, err.Error(), "use of undeclared crate `gperftools`")

	for _, c := range runner.Calls() {
		assert.NotEqual(t, p.binary(), c.Name, "target must not run after a failed build")
		assert.NotEqual(t, "pprof", c.Name)
	}

	assert.NoFileExists(t, filepath.Join(p.work, "greedy.profile"))

	entries, err := os.ReadDir(p.out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewPipelineInvalidWorkload(t *testing.T) {
	t.Parallel()

	cfg := parseConfig(t, "--workload", `greedy "unterminated`)

	_, err := cfg.NewPipeline(proctest.New(), discardLogger())
	require.ErrorIs(t, err, pipeline.ErrConfig)
}
