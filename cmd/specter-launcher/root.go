package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	return newRootCommandWith(newCommandContext())
}

func newRootCommandWith(ctx *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "specter-launcher",
		Short:         "Fetch, verify and run the Specter daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&ctx.homeFlag, "home", "", "Home directory holding .specter (default: the user's home)")
	flags.StringVarP(&ctx.configFlag, "config", "c", "", "Launcher configuration file (default: <home>/.specter/launcher.toml)")
	flags.StringVar(&ctx.manifestFlag, "manifest", "", "Release manifest file (default: the embedded manifest)")
	flags.StringVar(&ctx.platformFlag, "platform", "", "Daemon target to provision instead of the host's")
	flags.StringVar(&ctx.logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&ctx.logFormatFlag, "log-format", "", "Log format: auto, console, json")
	_ = flags.MarkHidden("platform")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newProvisionCommand(ctx))
	rootCmd.AddCommand(newVerifyCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newVersionCommand(ctx))

	return rootCmd
}
