package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/controlplane/internal/client"
)

func init() {
	rootCmd.AddCommand(stopCmd, pauseCmd, resumeCmd, cancelCmd)
}

type controlFunc func(c *client.Client, ctx context.Context, runID string) (bool, error)

func controlCommand(use, short, done string, fn controlFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := fn(newClient(), cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", use, err)
			}
			if !ok {
				return fmt.Errorf("%s: not acknowledged", use)
			}
			fmt.Fprintf(os.Stdout, "Run %q %s.\n", args[0], done)
			return nil
		},
	}
}

var (
	stopCmd   = controlCommand("stop", "Ask a run's agent to stop", "stop requested", (*client.Client).StopRun)
	pauseCmd  = controlCommand("pause", "Pause a running run", "paused", (*client.Client).PauseRun)
	resumeCmd = controlCommand("resume", "Resume a paused run", "resumed", (*client.Client).ResumeRun)
	cancelCmd = controlCommand("cancel", "Cancel a run", "cancelled", (*client.Client).CancelRun)
)
