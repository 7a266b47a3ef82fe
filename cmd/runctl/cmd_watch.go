package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/controlplane/internal/client"
	"github.com/xiaot623/gogo/controlplane/internal/domain"
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().Duration("timeout", 5*time.Minute, "give up after this long without an event (0 waits forever)")
	watchCmd.Flags().Bool("json", false, "print each event as JSON")
}

var watchCmd = &cobra.Command{
	Use:   "watch <id>",
	Short: "Stream a run's events until it completes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		asJSON, _ := cmd.Flags().GetBool("json")
		c := newClient()

		run, err := c.Run(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get run: %w", err)
		}
		if run == nil {
			return fmt.Errorf("run %q not found", args[0])
		}
		if run.Status.IsTerminal() {
			fmt.Fprintf(os.Stdout, "Run %q already finished: %s\n", run.ID, formatStatus(run.Status))
			return nil
		}
		fmt.Fprintf(os.Stderr, "Watching %s (%s)...\n", run.ID, formatStatus(run.Status))

		err = c.WatchRun(cmd.Context(), run.ID, timeout, func(e domain.Event) bool {
			if asJSON {
				printJSON(os.Stdout, e)
			} else {
				fmt.Println(formatEvent(e))
			}
			return e.EventType == domain.EventTypeRunCompleted
		})
		if errors.Is(err, client.ErrIdle) {
			return fmt.Errorf("no events for %s", timeout)
		}
		return err
	},
}
