package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"go.jacobcolvin.com/profharness/version"
)

func newVersionCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Get()

			if !asJSON {
				_, err := fmt.Fprint(cmd.OutOrStdout(), info.String())

				return err //nolint:wrapcheck // Writing to stdout.
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			err := enc.Encode(info)
			if err != nil {
				return fmt.Errorf("encode version: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	return cmd
}
