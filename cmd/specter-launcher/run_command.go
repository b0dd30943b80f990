package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cryptoadvance/specter-launcher/internal/failure"
)

// stopSlack is added to the configured stop timeout when shutting down.
const stopSlack = 5 * time.Second

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Provision the daemon, start it and keep it running until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.load(cmd.Context()); err != nil {
				return err
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			ready := make(chan string, 1)
			sink := consoleSink(out, cmd.ErrOrStderr())
			sink.OnReady = func(address string) {
				select {
				case ready <- address:
				default:
				}
			}

			a, err := ctx.newApp(sink)
			if err != nil {
				return err
			}
			if err := a.Start(sigCtx); err != nil {
				return err
			}

			shutdown := func() error {
				stopCtx, cancel := context.WithTimeout(context.Background(), ctx.config.Timeouts.Stop()+stopSlack)
				defer cancel()
				return a.Stop(stopCtx)
			}

			select {
			case <-a.Done():
				if err := a.Err(); err != nil {
					_ = shutdown()
					return err
				}
			case <-sigCtx.Done():
				return shutdown()
			}

			h := a.Supervisor().Current()
			if h == nil {
				_ = shutdown()
				return failure.Newf(failure.KindProcessCrash, "run", "specterd exited during startup")
			}

			for {
				select {
				case address := <-ready:
					fmt.Fprintf(out, "Specter is ready at %s (pid %d)\n", address, h.PID())
				case <-h.Done():
					_ = shutdown()
					return exitError(h)
				case <-sigCtx.Done():
					fmt.Fprintln(out, "Stopping specterd...")
					return shutdown()
				}
			}
		},
	}
}

// daemonExit is the part of a supervisor handle that explains an exit.
type daemonExit interface {
	Stopped() bool
	StopCause() error
	ExitErr() error
}

// exitError classifies a daemon exit seen while run is waiting. An exit
// the supervisor caused carries its cause; an exit nobody asked for is a
// crash.
func exitError(h daemonExit) error {
	if cause := h.StopCause(); cause != nil {
		return cause
	}
	if h.Stopped() {
		return nil
	}
	return failure.New(failure.KindProcessCrash, "run", h.ExitErr())
}
