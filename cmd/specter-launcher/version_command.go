package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cryptoadvance/specter-launcher/internal/manifest"
)

func newVersionCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the launcher and pinned daemon versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := versionManifest(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "specter-launcher %s\n", version)
			fmt.Fprintf(out, "specterd %s (sha256 %s)\n", m.Version(), m.SHA256())
			if m.Placeholder() {
				fmt.Fprintln(out, "specterd pin is a development placeholder")
			}
			return nil
		},
	}
}

// versionManifest avoids the full load so version works without a home
// directory or config.
func versionManifest(ctx *commandContext) (*manifest.Manifest, error) {
	if ctx.manifestFlag != "" {
		return manifest.Load(ctx.manifestFlag)
	}
	return manifest.Default()
}
