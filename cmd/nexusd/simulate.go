package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newSimulateCmd stubs out the synthetic-traffic generator: an external
// collaborator, not part of this core per the Non-goals.
func newSimulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Stub: synthetic traffic generation is an external collaborator, not part of this service",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "simulate: use the external traffic generator; this binary only consumes real broker traffic")
			return nil
		},
	}
}
