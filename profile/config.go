package profile

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"go.jacobcolvin.com/profharness/proc"
)

// FrequencyEnvVar is read by the profiler when sampling starts.
const FrequencyEnvVar = "CPUPROFILE_FREQUENCY"

// Flags holds CLI flag names for profile configuration, allowing callers to
// customize flag names while keeping sensible defaults via [NewConfig].
type Flags struct {
	Name      string
	Dir       string
	Frequency string
}

// NewConfig creates a new [Config] embedding these flag names.
func (f Flags) NewConfig() *Config {
	return &Config{
		Flags: f,
	}
}

// Config holds profile artifact configuration.
//
// Create instances with [NewConfig] and register CLI flags with
// [Config.RegisterFlags]. Use [Config.NewArtifact] to get the [Artifact] the
// target run will produce.
type Config struct {
	Flags Flags

	// Name is the profiled stage; the file is "<Name>.profile".
	Name string
	// Dir is the directory the target writes into (its working directory).
	Dir string

	// Frequency is the sampling rate in interrupts per second. Zero keeps
	// the profiler default.
	Frequency int
}

// NewConfig creates a new [Config] with default flag names.
func NewConfig() *Config {
	f := Flags{
		Name:      "profile-name",
		Dir:       "profile-dir",
		Frequency: "sample-frequency",
	}

	return f.NewConfig()
}

// RegisterFlags adds profile flags to the given [*pflag.FlagSet].
func (c *Config) RegisterFlags(flags *pflag.FlagSet) {
	flags.StringVar(&c.Name, c.Flags.Name, "greedy",
		"profiled stage name; the target writes <name>.profile")
	flags.StringVar(&c.Dir, c.Flags.Dir, ".",
		"directory the target runs in and writes its profile to")
	flags.IntVar(&c.Frequency, c.Flags.Frequency, 0,
		"profiler sampling frequency in Hz (0 = profiler default)")
}

// RegisterCompletions registers shell completions for profile flags on cmd.
func (c *Config) RegisterCompletions(cmd *cobra.Command) error {
	err := cmd.RegisterFlagCompletionFunc(c.Flags.Dir,
		func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
			return nil, cobra.ShellCompDirectiveFilterDirs
		})
	if err != nil {
		return fmt.Errorf("registering %s completion: %w", c.Flags.Dir, err)
	}

	for _, flag := range []string{c.Flags.Name, c.Flags.Frequency} {
		err = cmd.RegisterFlagCompletionFunc(flag, cobra.NoFileCompletions)
		if err != nil {
			return fmt.Errorf("registering %s completion: %w", flag, err)
		}
	}

	return nil
}

// NewArtifact returns the [Artifact] described by this [Config].
func (c *Config) NewArtifact() Artifact {
	dir := c.Dir
	if dir == "" {
		dir = "."
	}

	return Artifact{Path: filepath.Join(dir, c.Name+".profile")}
}

// Env returns env with the sampling frequency applied.
func (c *Config) Env(env proc.Env) proc.Env {
	if c.Frequency <= 0 {
		return env
	}

	return env.Set(FrequencyEnvVar, strconv.Itoa(c.Frequency))
}
