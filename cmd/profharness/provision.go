package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.jacobcolvin.com/profharness/log"
	"go.jacobcolvin.com/profharness/pipeline"
	"go.jacobcolvin.com/profharness/proc"
)

func newProvisionCmd(logCfg *log.Config) *cobra.Command {
	cfg := pipeline.NewConfig()

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Install the profiler and unwinder libraries",
		Long: `Provision downloads, builds, and installs the configured libraries. Libraries
installed by an earlier run are skipped, so it is safe to run repeatedly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := cfg.Load()
			if err != nil {
				return err
			}

			logger, closeLog, err := logCfg.NewLogger(cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}

			defer closeLog() //nolint:errcheck // Best effort once provisioning is done.

			runner := proc.NewExecRunner(proc.WithLogger(logger), proc.WithStream(cmd.ErrOrStderr()))

			res, err := cfg.NewProvisioner(runner, logger).
				Provision(cmd.Context(), proc.Environ(), cfg.ProvisionTools()...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, t := range res.Tools {
				status := "installed"
				if t.Skipped {
					status = "already installed"
				}

				fmt.Fprintf(out, "%s: %s\n", t.Tool, status)
			}

			v := proc.HostLibrarySearchPathVar()
			fmt.Fprintf(out, "export %s=\"${%s:+$%s:}%s\"\n", v, v, v, res.LibDir)

			return nil
		},
	}

	cfg.RegisterProvisionFlags(cmd.Flags())

	completionErr := cfg.RegisterCompletions(cmd)
	if completionErr != nil {
		fmt.Fprintf(os.Stderr, "register completions: %v\n", completionErr)
	}

	return cmd
}
