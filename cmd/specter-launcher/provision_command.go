package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newProvisionCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Fetch and verify the daemon without starting it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.load(cmd.Context()); err != nil {
				return err
			}
			mgr, err := ctx.newManager(consoleSink(cmd.OutOrStdout(), nil))
			if err != nil {
				return err
			}

			path, err := mgr.Provision(cmd.Context())
			if err != nil {
				return fmt.Errorf("provision specterd %s: %w", ctx.manifest.Version(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "specterd %s installed at %s\n", ctx.manifest.Version(), path)
			return nil
		},
	}
}
