// Package proc runs the external tools a profiling pipeline drives: download
// build systems, compilers, the target binary and the call-graph renderer.
//
// Every invocation receives an explicit [Env] rather than inheriting or
// mutating the harness's own environment, which keeps toolchain selection and
// library search path changes scoped to the pipeline that made them.
//
// [ExecRunner] is the [os/exec] backed [Runner]. Failed processes return an
// [*ExitError] whose Output is the tool's diagnostic output, unmodified:
//
//	r := proc.NewExecRunner(proc.WithLogger(logger))
//	res, err := r.Run(ctx, proc.Cmd{
//	    Name: "cargo",
//	    Args: []string{"build", "--release"},
//	    Env:  proc.Environ().Set("RUSTUP_TOOLCHAIN", "nightly"),
//	})
package proc
