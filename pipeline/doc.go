// Package pipeline orchestrates a reproducible profiling run.
//
// A [Pipeline] runs its stages in a fixed order, each guarded by the success
// of its predecessor:
//
//	provision -> toolchain -> build -> execute -> tag -> render
//
// The first fatal failure stops the run and is returned as a [*StageError]
// wrapping the stage's own sentinel (for example [build.ErrBuild] or
// [execute.ErrLink]). A stage that exceeds its timeout additionally wraps
// [ErrTimeout]. The tag stage is the exception: when the revision cannot be
// resolved the run continues under a generated label and reports the stage
// as [StatusDegraded].
//
// State is threaded explicitly between stages. The environment each stage
// sees is built from the previous stage's output, so the provisioned library
// directory and the selected toolchain reach the target process without
// touching the harness's own environment.
//
// [Config] binds every setting to CLI flags and an optional YAML file
// described by [Schema]:
//
//	cfg := pipeline.NewConfig()
//	cfg.RegisterFlags(cmd.Flags())
//
//	// After flag parsing:
//	err := cfg.Load()
//	p, err := cfg.NewPipeline(proc.NewExecRunner(), logger)
//	res, err := p.Run(ctx)
package pipeline
