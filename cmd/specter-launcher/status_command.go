package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cryptoadvance/specter-launcher/internal/binary"
	"github.com/cryptoadvance/specter-launcher/internal/journal"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the installed daemon and the last provisioning run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.load(cmd.Context()); err != nil {
				return err
			}
			mgr, err := ctx.newManager(nil)
			if err != nil {
				return err
			}

			rows, err := installRows(ctx, mgr)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderKeyValues("specterd", rows))

			run, err := mgr.LastRun()
			switch {
			case errors.Is(err, fs.ErrNotExist):
				fmt.Fprintln(out, "No provisioning runs recorded.")
				return nil
			case err != nil:
				return fmt.Errorf("load last run: %w", err)
			}
			fmt.Fprintln(out, renderKeyValues("Last run", runRows(run, time.Now())))
			return nil
		},
	}
}

func installRows(ctx *commandContext, mgr *binary.Manager) ([][2]string, error) {
	m := mgr.Manifest()
	signing := "not configured"
	if m.HasSignature() {
		signing = "required"
	}

	rows := [][2]string{
		{"Launcher", version},
		{"Version", m.Version()},
		{"Platform", string(ctx.target)},
		{"Install path", mgr.InstallPath()},
	}

	installed, err := mgr.IsInstalled()
	if err != nil {
		return nil, err
	}
	digest := "-"
	if installed {
		verdict, err := mgr.VerifyInstalled()
		if err != nil {
			return nil, err
		}
		digest = verdict.String()
	}

	rows = append(rows,
		[2]string{"Installed", yesNo(installed)},
		[2]string{"Digest", digest},
		[2]string{"Signature", signing},
	)
	return rows, nil
}

func runRows(run *journal.Run, now time.Time) [][2]string {
	finished := "-"
	if run.Finished != nil {
		finished = humanize.RelTime(*run.Finished, now, "ago", "from now")
	}
	lastError := run.LastError
	if lastError == "" {
		lastError = "-"
	}

	return [][2]string{
		{"ID", run.ID},
		{"Result", string(run.Result)},
		{"Version", run.ManifestVersion},
		{"Started", humanize.RelTime(run.Started, now, "ago", "from now")},
		{"Finished", finished},
		{"States", strings.Join(run.StateNames(), " > ")},
		{"Last error", lastError},
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
