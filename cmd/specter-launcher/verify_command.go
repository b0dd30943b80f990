package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cryptoadvance/specter-launcher/internal/binary"
	"github.com/cryptoadvance/specter-launcher/internal/failure"
)

// errNotInstalled is returned by verify when no daemon is installed.
var errNotInstalled = errors.New("specterd is not installed")

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the installed daemon against the pinned digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.load(cmd.Context()); err != nil {
				return err
			}
			mgr, err := ctx.newManager(nil)
			if err != nil {
				return err
			}

			installed, err := mgr.IsInstalled()
			if err != nil {
				return err
			}
			if !installed {
				return fmt.Errorf("%w at %s", errNotInstalled, mgr.InstallPath())
			}

			verdict, err := mgr.VerifyInstalled()
			if err != nil {
				return err
			}
			if verdict != binary.VerdictTrusted {
				return failure.Newf(failure.KindDigestMismatch, "verify",
					"%s does not match specterd %s", mgr.InstallPath(), ctx.manifest.Version())
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (sha256 %s)\n", mgr.InstallPath(), verdict, ctx.manifest.SHA256())
			return nil
		},
	}
}
