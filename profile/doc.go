// Package profile describes the raw sampling-profiler output of a target run.
//
// The target writes its profile to a fixed name derived from the profiled
// stage ("greedy" writes greedy.profile) in its working directory. The name is
// not parameterized by revision, so a new run overwrites the previous file;
// [Artifact.Remove] is called before each run so a file left by an earlier or
// interrupted run is never mistaken for fresh output.
//
// Use [Config.RegisterFlags] to add CLI flags and [Config.RegisterCompletions]
// to wire up shell completions:
//
//	cfg := profile.NewConfig()
//	cfg.RegisterFlags(cmd.Flags())
//
//	art := cfg.NewArtifact()
//	env = cfg.Env(env) // adds CPUPROFILE_FREQUENCY when set
package profile
