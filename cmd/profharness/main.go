// Command profharness runs a reproducible CPU profiling pipeline against a
// Rust target.
//
// It provisions gperftools and libunwind from source, selects a nightly
// toolchain, builds the target with its profiling feature, runs a fixed
// workload, and renders the captured profile to a call graph named after the
// source revision:
//
//	profharness run --workload "-k 14 greedy"
//	# writes profile-<revision>.dot
//
// # Exit Codes
//
//	0    the call graph was written
//	1    a stage failed
//	124  a stage exceeded its timeout
//	130  the run was interrupted
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"go.jacobcolvin.com/profharness/log"
	"go.jacobcolvin.com/profharness/pipeline"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitTimeout     = 124
	exitInterrupted = 130
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd(stdout, stderr)
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}

	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, pipeline.ErrTimeout):
		return exitTimeout
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	}

	return exitFailure
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	logCfg := log.NewConfig()

	rootCmd := &cobra.Command{
		Use:   "profharness",
		Short: "Reproducible CPU profiling pipeline",
		Long: `profharness provisions a sampling profiler, builds the target with profiling
instrumentation, runs a fixed workload, and renders the captured profile to a
call graph named after the exact source revision.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	logCfg.RegisterFlags(rootCmd.PersistentFlags())

	completionErr := logCfg.RegisterCompletions(rootCmd)
	if completionErr != nil {
		fmt.Fprintf(stderr, "register completions: %v\n", completionErr)
	}

	rootCmd.AddCommand(
		newRunCmd(logCfg),
		newProvisionCmd(logCfg),
		newSchemaCmd(),
		newVersionCmd(),
	)

	return rootCmd
}
