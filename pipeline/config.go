package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"go.jacobcolvin.com/profharness/build"
	"go.jacobcolvin.com/profharness/execute"
	"go.jacobcolvin.com/profharness/proc"
	"go.jacobcolvin.com/profharness/profile"
	"go.jacobcolvin.com/profharness/provision"
	"go.jacobcolvin.com/profharness/render"
	"go.jacobcolvin.com/profharness/revision"
	"go.jacobcolvin.com/profharness/toolchain"
)

// Flags holds CLI flag names for pipeline configuration, allowing callers to
// customize flag names while keeping sensible defaults via [NewConfig].
type Flags struct {
	ConfigFile       string
	DownloadsDir     string
	Prefix           string
	Jobs             string
	SkipProvision    string
	Toolchain        string
	InstallToolchain string
	SourceDir        string
	Features         string
	Binary           string
	Workload         string
	OutputDir        string
	RevisionLength   string
	MarkDirty        string
	Pprof            string
	Timeouts         string
}

// NewConfig creates a new [Config] embedding these flag names.
func (f Flags) NewConfig(profileCfg *profile.Config) *Config {
	return &Config{
		Flags:   f,
		Profile: profileCfg,
	}
}

// Config holds pipeline configuration from CLI flags and an optional YAML
// file.
//
// Create instances with [NewConfig] and register CLI flags with
// [Config.RegisterFlags]. Call [Config.Load] after flag parsing to merge the
// configuration file, then [Config.NewPipeline].
type Config struct {
	Profile *profile.Config
	set     func(name string) bool

	Timeouts map[string]string
	Flags    Flags

	ConfigFile   string
	DownloadsDir string
	Prefix       string
	Toolchain    string
	SourceDir    string
	Binary       string
	Workload     string
	OutputDir    string
	Pprof        string

	Features []string
	Tools    []provision.Tool

	Jobs           int
	RevisionLength int

	SkipProvision    bool
	InstallToolchain bool
	MarkDirty        bool
}

// NewConfig creates a new [Config] with default flag names.
func NewConfig() *Config {
	f := Flags{
		ConfigFile:       "config",
		DownloadsDir:     "downloads-dir",
		Prefix:           "prefix",
		Jobs:             "jobs",
		SkipProvision:    "skip-provision",
		Toolchain:        "toolchain",
		InstallToolchain: "install-toolchain",
		SourceDir:        "source-dir",
		Features:         "features",
		Binary:           "binary",
		Workload:         "workload",
		OutputDir:        "output-dir",
		RevisionLength:   "revision-length",
		MarkDirty:        "mark-dirty",
		Pprof:            "pprof",
		Timeouts:         "timeout",
	}

	return f.NewConfig(profile.NewConfig())
}

// RegisterFlags adds pipeline flags, including the profile flags, to the
// given [*pflag.FlagSet].
func (c *Config) RegisterFlags(flags *pflag.FlagSet) {
	c.RegisterProvisionFlags(flags)

	flags.BoolVar(&c.SkipProvision, c.Flags.SkipProvision, false,
		"skip provisioning when the libraries are already installed")
	flags.StringVar(&c.Toolchain, c.Flags.Toolchain, toolchain.DefaultChannel,
		"compiler toolchain channel")
	flags.BoolVar(&c.InstallToolchain, c.Flags.InstallToolchain, false,
		"install the toolchain channel when it is missing")
	flags.StringVar(&c.SourceDir, c.Flags.SourceDir, ".",
		"target source tree")
	flags.StringSliceVar(&c.Features, c.Flags.Features, []string{build.DefaultFeature},
		"cargo features enabling profiling instrumentation")
	flags.StringVar(&c.Binary, c.Flags.Binary, "",
		"target binary name (default: read from Cargo.toml)")
	flags.StringVar(&c.Workload, c.Flags.Workload, "-k 14 greedy",
		"arguments passed to the target, shell-quoted")
	flags.StringVar(&c.OutputDir, c.Flags.OutputDir, ".",
		"directory the call graph is written to")
	flags.IntVar(&c.RevisionLength, c.Flags.RevisionLength, 0,
		"abbreviated revision length (0 = git default)")
	flags.BoolVar(&c.MarkDirty, c.Flags.MarkDirty, false,
		"append "+revision.DirtySuffix+" to the revision when the work tree is modified")
	flags.StringVar(&c.Pprof, c.Flags.Pprof, "pprof",
		"call graph renderer executable")
	flags.StringToStringVar(&c.Timeouts, c.Flags.Timeouts, nil,
		fmt.Sprintf("per-stage timeouts, e.g. build=30m,execute=10m; stages: %s", stageList()))

	c.Profile.RegisterFlags(flags)

	c.set = flags.Changed
}

// RegisterProvisionFlags adds only the configuration file flag and the flags
// used by the provisioning stage.
func (c *Config) RegisterProvisionFlags(flags *pflag.FlagSet) {
	flags.StringVar(&c.ConfigFile, c.Flags.ConfigFile, "",
		"YAML configuration file; flags given on the command line take precedence")
	flags.StringVar(&c.DownloadsDir, c.Flags.DownloadsDir, defaultDownloadsDir(),
		"directory archives are downloaded to and built in")
	flags.StringVar(&c.Prefix, c.Flags.Prefix, provision.DefaultPrefix,
		"install prefix for provisioned libraries")
	flags.IntVar(&c.Jobs, c.Flags.Jobs, runtime.NumCPU(),
		"parallel make jobs")

	c.set = flags.Changed
}

// RegisterCompletions registers shell completions for pipeline flags on cmd.
func (c *Config) RegisterCompletions(cmd *cobra.Command) error {
	dirs := func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return nil, cobra.ShellCompDirectiveFilterDirs
	}

	completions := map[string]cobra.CompletionFunc{
		c.Flags.ConfigFile:   cobra.FixedCompletions([]string{"yaml", "yml"}, cobra.ShellCompDirectiveFilterFileExt),
		c.Flags.DownloadsDir: dirs,
		c.Flags.Prefix:       dirs,
		c.Flags.SourceDir:    dirs,
		c.Flags.OutputDir:    dirs,
		c.Flags.Toolchain: cobra.FixedCompletions([]string{"nightly", "beta", "stable"},
			cobra.ShellCompDirectiveNoFileComp),
		c.Flags.Timeouts: cobra.FixedCompletions(timeoutCompletions(), cobra.ShellCompDirectiveNoFileComp),
	}

	for flag, fn := range completions {
		if cmd.Flags().Lookup(flag) == nil {
			continue
		}

		err := cmd.RegisterFlagCompletionFunc(flag, fn)
		if err != nil {
			return fmt.Errorf("registering %s completion: %w", flag, err)
		}
	}

	if cmd.Flags().Lookup(c.Profile.Flags.Name) == nil {
		return nil
	}

	return c.Profile.RegisterCompletions(cmd)
}

// ParseTimeouts converts the configured timeouts to durations per [Stage].
func (c *Config) ParseTimeouts() (map[Stage]time.Duration, error) {
	out := make(map[Stage]time.Duration, len(c.Timeouts))

	for name, value := range c.Timeouts {
		stage, err := ParseStage(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}

		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("%w: timeout for %s: %w", ErrConfig, stage, err)
		}

		out[stage] = d
	}

	return out, nil
}

// ProvisionTools returns the configured tools, or the reference pair.
func (c *Config) ProvisionTools() []provision.Tool {
	if len(c.Tools) > 0 {
		tools := make([]provision.Tool, 0, len(c.Tools))
		for _, t := range c.Tools {
			tools = append(tools, t.WithDefaults())
		}

		return tools
	}

	return []provision.Tool{provision.Libunwind, provision.Gperftools}
}

// NewProvisioner creates the [provision.Provisioner] described by c.
func (c *Config) NewProvisioner(runner proc.Runner, logger *slog.Logger) *provision.Provisioner {
	return provision.New(runner,
		provision.WithRoot(c.DownloadsDir),
		provision.WithPrefix(c.Prefix),
		provision.WithJobs(c.Jobs),
		provision.WithLogger(logger.With(slog.String("stage", StageProvision.String()))),
	)
}

// NewPipeline creates a [Pipeline] wired to real stage implementations that
// run commands through runner.
func (c *Config) NewPipeline(runner proc.Runner, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	workload, err := execute.ParseWorkload(c.Workload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	timeouts, err := c.ParseTimeouts()
	if err != nil {
		return nil, err
	}

	stageLogger := func(s Stage) *slog.Logger {
		return logger.With(slog.String("stage", s.String()))
	}

	provisioner := c.NewProvisioner(runner, logger)
	tools := c.ProvisionTools()
	searchPathVar := proc.HostLibrarySearchPathVar()

	// The profiler is the last tool provisioned; the executor checks its
	// library before starting the target.
	profiler := tools[len(tools)-1]

	components := Components{
		Provisioner: provisioner,
		Toolchain: toolchain.NewSelector(runner,
			toolchain.WithInstall(c.InstallToolchain),
			toolchain.WithLogger(stageLogger(StageToolchain)),
		),
		Builder: build.NewBuilder(runner,
			build.WithSourceDir(c.SourceDir),
			build.WithFeatures(c.Features...),
			build.WithBinary(c.Binary),
			build.WithLogger(stageLogger(StageBuild)),
		),
		Executor: execute.NewExecutor(runner,
			execute.WithWorkload(workload),
			execute.WithProfile(c.Profile.NewArtifact()),
			execute.WithLibrary(profiler, provisioner.LibDir()),
			execute.WithSearchPathVar(searchPathVar),
			execute.WithLogger(stageLogger(StageExecute)),
		),
		Tagger: revision.NewTagger(runner,
			revision.WithDir(c.SourceDir),
			revision.WithLength(c.RevisionLength),
			revision.WithMarkDirty(c.MarkDirty),
			revision.WithLogger(stageLogger(StageTag)),
		),
		Renderer: render.NewRenderer(runner,
			render.WithPprof(c.Pprof),
			render.WithOutputDir(c.OutputDir),
			render.WithLogger(stageLogger(StageRender)),
		),
	}

	base := []Option{
		WithEnv(c.Profile.Env(proc.Environ())),
		WithTools(tools...),
		WithChannel(c.Toolchain),
		WithSearchPathVar(searchPathVar),
		WithSkipProvision(c.SkipProvision),
		WithLogger(logger),
	}
	for stage, d := range timeouts {
		base = append(base, WithTimeout(stage, d))
	}

	return New(components, append(base, opts...)...), nil
}

func defaultDownloadsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, "downloads")
}

func stageList() string {
	names := make([]string, 0, len(Stages()))
	for _, s := range Stages() {
		names = append(names, s.String())
	}

	return strings.Join(names, ", ")
}

func timeoutCompletions() []string {
	out := make([]string, 0, len(Stages()))
	for _, s := range Stages() {
		out = append(out, s.String()+"=")
	}

	return out
}
