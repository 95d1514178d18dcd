package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"go.jacobcolvin.com/profharness/pipeline"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := pipeline.Schema()
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(schema, "", "  ")
			if err != nil {
				return fmt.Errorf("encode schema: %w", err)
			}

			out = append(out, '\n')

			_, err = cmd.OutOrStdout().Write(out)
			if err != nil {
				return fmt.Errorf("write schema: %w", err)
			}

			return nil
		},
	}
}
